package main

import (
	"context"

	_ "github.com/joho/godotenv/autoload"

	"github.com/illmade-knight/go-pubsub-harness/internal/app"
	"github.com/illmade-knight/go-pubsub-harness/pkg/provision"
)

func main() {
	app.Run(app.NewCommand("provision", "Create the declared topics and subscriptions if they are missing", run))
}

func run(ctx context.Context, env *app.Env) error {
	topo, err := env.Config.Topology()
	if err != nil {
		return err
	}

	r, err := provision.NewReconciler(env.Config.Reconciler, env.Client, env.Logger)
	if err != nil {
		return err
	}

	report := r.Reconcile(ctx, topo)
	if !report.OK() {
		env.Logger.Warn().Int("failed", report.Failed()).Msg("Topology partially applied.")
	}
	return nil
}
