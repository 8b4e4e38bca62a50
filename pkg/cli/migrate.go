package cli

import (
	"context"
	"flag"

	"github.com/platinummonkey/clinicauth/pkg/audit"
	"github.com/platinummonkey/clinicauth/pkg/database"
	"github.com/platinummonkey/clinicauth/pkg/rbac"
)

// Migrations returns every schema migration of the module in one list
func Migrations() []database.Migration {
	return append(rbac.Migrations(), audit.Migrations()...)
}

func newMigrateCommand(app *App) *Command {
	cmd := &Command{
		Name:        "migrate",
		Description: "Apply database migrations",
		Flags:       flag.NewFlagSet("migrate", flag.ContinueOnError),
	}
	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		return runMigrate(context.Background(), app)
	}
	return cmd
}

func runMigrate(ctx context.Context, app *App) error {
	_, db, err := app.connect(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	ran, err := database.Migrate(ctx, db, Migrations(), nil)
	if err != nil {
		return err
	}
	if len(ran) == 0 {
		app.Log.Info("Schema is up to date")
		return nil
	}
	app.Log.WithField("versions", ran).Info("Applied migrations")
	return nil
}
