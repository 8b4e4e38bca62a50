package cli

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/platinummonkey/clinicauth/pkg/rbac"
)

func newRolesCommand(app *App) *Command {
	cmd := &Command{
		Name:        "roles",
		Description: "List roles and their permissions",
		Flags:       flag.NewFlagSet("roles", flag.ContinueOnError),
	}
	activeOnly := cmd.Flags.Bool("active", false, "Only list active roles")
	catalog := cmd.Flags.Bool("catalog", false, "List the permission catalog instead")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *catalog {
			for _, p := range rbac.Catalog() {
				fmt.Fprintln(app.Out, p.String())
			}
			return nil
		}

		ctx := context.Background()
		_, db, err := app.connect(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		store := rbac.NewStore(db)
		var roles []rbac.Role
		if *activeOnly {
			roles, err = store.ListActiveRoles(ctx)
		} else {
			roles, err = store.ListRoles(ctx)
		}
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(app.Out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tKIND\tACTIVE\tPERMISSIONS")
		for _, r := range roles {
			fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", r.Name, r.Kind(), r.IsActive, strings.Join(r.Permissions.Strings(), ","))
		}
		return tw.Flush()
	}
	return cmd
}
