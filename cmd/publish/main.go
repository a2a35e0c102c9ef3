package main

import (
	"context"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/illmade-knight/go-pubsub-harness/internal/app"
	"github.com/illmade-knight/go-pubsub-harness/pkg/harness"
	"github.com/illmade-knight/go-pubsub-harness/pkg/publish"
)

func main() {
	app.Run(app.NewCommand("publish", "Send the built-in payload list with fixed pacing", run))
}

func run(ctx context.Context, env *app.Env) error {
	p, err := publish.NewPublisher(env.Config.Publisher, env.Client, env.Logger)
	if err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := p.Stop(stopCtx); err != nil {
			env.Logger.Warn().Err(err).Msg("Publisher did not stop cleanly.")
		}
	}()

	report := p.PublishBatch(ctx, harness.DefaultBatches())
	if report.Failed() > 0 {
		env.Logger.Warn().Int("failed", report.Failed()).Msg("Some messages were not published.")
	}
	return nil
}
