package cli

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/clinicauth/pkg/audit"
	"github.com/platinummonkey/clinicauth/pkg/observability"
	"github.com/platinummonkey/clinicauth/pkg/rbac"
)

func newSeedCommand(app *App) *Command {
	cmd := &Command{
		Name:        "seed",
		Description: "Create or update roles from the built-in set and a role file",
		Flags:       flag.NewFlagSet("seed", flag.ContinueOnError),
	}
	file := cmd.Flags.String("file", "", "YAML role definition file")
	builtins := cmd.Flags.Bool("builtin", true, "Include the built-in roles")
	watch := cmd.Flags.Bool("watch", false, "Re-apply --file whenever it changes")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *watch && *file == "" {
			return fmt.Errorf("--watch requires --file")
		}

		ctx := context.Background()
		_, db, err := app.connect(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		var base []rbac.RoleDefinition
		if *builtins {
			base = rbac.BuiltInRoles()
		}

		var fromFile []rbac.RoleDefinition
		if *file != "" {
			if fromFile, err = rbac.LoadRoleFile(*file); err != nil {
				return err
			}
		}
		if err := applySeed(ctx, app, db, rbac.MergeDefinitions(base, fromFile)); err != nil {
			return err
		}
		if !*watch {
			return nil
		}

		ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		apply := func(ctx context.Context, defs []rbac.RoleDefinition) error {
			return applySeed(ctx, app, db, rbac.MergeDefinitions(base, defs))
		}
		return rbac.WatchRoleFile(ctx, *file, apply, observability.NewLogger(observability.InfoLevel, app.Log.Out))
	}
	return cmd
}

// applySeed upserts defs and leaves an activity entry for every role it
// created or changed
func applySeed(ctx context.Context, app *App, db *sql.DB, defs []rbac.RoleDefinition) error {
	activity, err := audit.NewDBStore(db)
	if err != nil {
		return err
	}
	res, err := rbac.Seed(ctx, rbac.NewStore(db), defs,
		rbac.WithSeedActivity(audit.NewActivityLogger(activity)))
	if err != nil {
		return err
	}
	app.Log.WithFields(logrus.Fields{
		"created":   res.Created,
		"updated":   res.Updated,
		"unchanged": len(res.Unchanged),
	}).Info("Seeded roles")
	return nil
}
