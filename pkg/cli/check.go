package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"github.com/platinummonkey/clinicauth/pkg/rbac"
)

// ErrDenied is returned by check when the permission is not granted, so the
// process exits non-zero
var ErrDenied = errors.New("permission denied")

func newCheckCommand(app *App) *Command {
	cmd := &Command{
		Name:        "check",
		Description: "Evaluate one permission for a user",
		Flags:       flag.NewFlagSet("check", flag.ContinueOnError),
	}
	user := cmd.Flags.String("user", "", "Principal id")
	resource := cmd.Flags.String("resource", "", "Resource, e.g. patients")
	action := cmd.Flags.String("action", "", "Action, e.g. read")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *user == "" {
			return fmt.Errorf("--user is required")
		}
		perm, err := rbac.NewPermission(rbac.Resource(*resource), rbac.Action(*action))
		if err != nil {
			return err
		}

		ctx := context.Background()
		cfg, db, err := app.connect(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		p := rbac.NewProvider(rbac.NewStore(db), rbac.WithLoadTimeout(cfg.Session.LoadTimeout))
		ac, err := p.Establish(ctx, rbac.Principal{ID: *user})
		if err != nil {
			return err
		}

		d := rbac.Evaluate(ac, perm)
		fmt.Fprintf(app.Out, "%s %s: %s (%s, role %s)\n", *user, perm, verdict(d.Allowed), d.Reason, ac.RoleKind())
		if !d.Allowed {
			return ErrDenied
		}
		return nil
	}
	return cmd
}

func verdict(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "denied"
}
