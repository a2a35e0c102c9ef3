package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/illmade-knight/go-pubsub-harness/internal/app"
	"github.com/illmade-knight/go-pubsub-harness/pkg/consume"
	"github.com/illmade-knight/go-pubsub-harness/pkg/ledger"
	"github.com/illmade-knight/go-pubsub-harness/pkg/microservice"
)

func main() {
	app.Run(app.NewCommand("subscribe", "Listen on the configured subscription until interrupted", run))
}

func run(ctx context.Context, env *app.Env) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var l ledger.Ledger = ledger.NewInMemoryLedger()
	if env.Config.Redis != nil {
		rl, err := ledger.NewRedisLedger(ctx, env.Config.Redis, env.Logger)
		if err != nil {
			return err
		}
		l = rl
	}
	defer func() { _ = l.Close() }()

	c, err := consume.NewConsumer(env.Config.Consumer, env.Client, env.Logger)
	if err != nil {
		return err
	}

	session, err := c.Start(ctx, env.Config.SubscriptionID, consume.LogHandler(env.Logger, l))
	if err != nil {
		return err
	}

	if env.Config.HealthAddr != "" {
		health := microservice.NewHealthServer(env.Logger, env.Config.HealthAddr, func() (bool, string) {
			state := session.State()
			return state == consume.StateListening, state.String()
		})
		if err := health.Start(); err != nil {
			_ = session.Stop()
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = health.Shutdown(shutdownCtx)
		}()
	}

	env.Logger.Info().Str("subscription_id", env.Config.SubscriptionID).Msg("Press CTRL+C to exit.")
	err = session.Wait()
	switch {
	case errors.Is(err, consume.ErrIdleTimeout):
		env.Logger.Info().Msg("Session went idle, stop listening.")
		return nil
	case err != nil:
		return err
	}
	env.Logger.Info().Msg("Stop listening.")
	return nil
}
