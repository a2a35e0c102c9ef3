package app

import (
	"context"
	"fmt"
	"os"

	"cloud.google.com/go/pubsub/v2"
	"github.com/illmade-knight/go-pubsub-harness/pkg/broker"
	"github.com/illmade-knight/go-pubsub-harness/pkg/harness"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
)

// Env is what every command receives once configuration and the broker
// connection are established.
type Env struct {
	Config *harness.Config
	Client *pubsub.Client
	Logger zerolog.Logger
}

// Action is the body of a command.
type Action func(ctx context.Context, env *Env) error

// NewCommand builds a command that takes no arguments or flags, loads configuration
// (LOG_LEVEL included) from the environment and connects to the broker before running action.
func NewCommand(name, usage string, action Action) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		UsageText: name,
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() > 0 {
				return fmt.Errorf("%s takes no arguments", name)
			}

			cfg, err := harness.LoadConfigFromEnv()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := SetupLogger(cfg.LogLevel); err != nil {
				return err
			}
			logger := log.With().Str("command", name).Logger()

			client, err := broker.NewClient(ctx, &cfg.Broker, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := client.Close(); err != nil {
					logger.Warn().Err(err).Msg("Error closing Pub/Sub client.")
				}
			}()

			return action(ctx, &Env{Config: cfg, Client: client, Logger: logger})
		},
	}
}

// Run executes cmd and exits the process with a non-zero code on failure.
func Run(cmd *cli.Command) {
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Error().Err(err).Msg("Command failed.")
		os.Exit(1)
	}
}

// SetupLogger configures the global logger for console output at level.
func SetupLogger(level string) error {
	parsedLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %w", err)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(parsedLevel)
	return nil
}
