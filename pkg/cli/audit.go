package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/clinicauth/pkg/audit"
)

// filterFlags registers the activity search flags on fs
type filterFlags struct {
	user, action, resourceType, resourceID string
	since, until                           string
	limit, offset                          int
}

func addFilterFlags(fs *flag.FlagSet) *filterFlags {
	f := &filterFlags{}
	fs.StringVar(&f.user, "user", "", "Actor principal id")
	fs.StringVar(&f.action, "action", "", "Action, e.g. assign_role")
	fs.StringVar(&f.resourceType, "resource-type", "", "Resource type, e.g. users")
	fs.StringVar(&f.resourceID, "resource-id", "", "Resource id")
	fs.StringVar(&f.since, "since", "", "Earliest entry (RFC3339)")
	fs.StringVar(&f.until, "until", "", "Latest entry (RFC3339)")
	fs.IntVar(&f.limit, "limit", audit.DefaultSearchLimit, "Maximum entries")
	fs.IntVar(&f.offset, "offset", 0, "Entries to skip")
	return f
}

func (f *filterFlags) filter() (audit.Filter, error) {
	out := audit.Filter{
		UserID:       f.user,
		Action:       f.action,
		ResourceType: f.resourceType,
		ResourceID:   f.resourceID,
		Limit:        f.limit,
		Offset:       f.offset,
	}
	for _, p := range []struct {
		name, value string
		dst         **time.Time
	}{{"since", f.since, &out.Since}, {"until", f.until, &out.Until}} {
		if p.value == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, p.value)
		if err != nil {
			return out, fmt.Errorf("invalid --%s: %w", p.name, err)
		}
		*p.dst = &t
	}
	return out, nil
}

func newAuditCommand(app *App) *Command {
	cmd := &Command{
		Name:        "audit",
		Description: "Search, export and archive the activity log",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("audit", flag.ContinueOnError),
	}
	cmd.Subcommands["search"] = newAuditSearchCommand(app)
	cmd.Subcommands["export"] = newAuditExportCommand(app)
	cmd.Subcommands["archive"] = newAuditArchiveCommand(app)
	return cmd
}

func newAuditSearchCommand(app *App) *Command {
	cmd := &Command{
		Name:        "search",
		Description: "Print matching activity entries, newest first",
		Flags:       flag.NewFlagSet("audit search", flag.ContinueOnError),
	}
	ff := addFilterFlags(cmd.Flags)

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		filter, err := ff.filter()
		if err != nil {
			return err
		}

		entries, err := searchActivity(context.Background(), app, filter)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(app.Out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TIME\tACTOR\tACTION\tRESOURCE")
		for _, e := range entries {
			actor := "-"
			if e.UserID != nil {
				actor = *e.UserID
			}
			resource := e.ResourceType
			if e.ResourceID != nil {
				resource += "/" + *e.ResourceID
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.CreatedAt.UTC().Format(time.RFC3339), actor, e.Action, resource)
		}
		return tw.Flush()
	}
	return cmd
}

func newAuditExportCommand(app *App) *Command {
	cmd := &Command{
		Name:        "export",
		Description: "Export matching activity entries as json, ndjson or csv",
		Flags:       flag.NewFlagSet("audit export", flag.ContinueOnError),
	}
	ff := addFilterFlags(cmd.Flags)
	format := cmd.Flags.String("format", "json", "Export format: json, ndjson, csv")
	out := cmd.Flags.String("out", "", "Output file (default stdout)")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		filter, err := ff.filter()
		if err != nil {
			return err
		}
		f, err := audit.ParseExportFormat(*format)
		if err != nil {
			return err
		}

		entries, err := searchActivity(context.Background(), app, filter)
		if err != nil {
			return err
		}
		data, err := audit.Export(entries, f)
		if err != nil {
			return err
		}

		if *out == "" {
			_, err = app.Out.Write(data)
			return err
		}
		if err := os.WriteFile(*out, data, 0o600); err != nil {
			return fmt.Errorf("failed to write export: %w", err)
		}
		app.Log.WithFields(logrus.Fields{"entries": len(entries), "path": *out}).Info("Exported activity")
		return nil
	}
	return cmd
}

func newAuditArchiveCommand(app *App) *Command {
	cmd := &Command{
		Name:        "archive",
		Description: "Upload matching activity entries to S3 as NDJSON",
		Flags:       flag.NewFlagSet("audit archive", flag.ContinueOnError),
	}
	ff := addFilterFlags(cmd.Flags)
	bucket := cmd.Flags.String("bucket", "", "Bucket (default CLINICAUTH_AUDIT_S3_BUCKET)")
	prefix := cmd.Flags.String("prefix", "", "Key prefix (default CLINICAUTH_AUDIT_S3_PREFIX)")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		filter, err := ff.filter()
		if err != nil {
			return err
		}

		ctx := context.Background()
		cfg, db, err := app.connect(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		store, err := audit.NewDBStore(db)
		if err != nil {
			return err
		}

		a := cfg.Audit
		if *bucket != "" {
			a.S3Bucket = *bucket
		}
		if *prefix != "" {
			a.S3Prefix = strings.Trim(*prefix, "/")
		}

		client, err := audit.NewS3Client(ctx, audit.S3Config{
			Region:       a.S3Region,
			Endpoint:     a.S3Endpoint,
			AccessKey:    a.S3AccessKey,
			SecretKey:    a.S3SecretKey,
			UsePathStyle: a.S3UsePathStyle,
		})
		if err != nil {
			return err
		}
		archiver, err := audit.NewArchiver(store, client, a.S3Bucket, a.S3Prefix)
		if err != nil {
			return err
		}

		res, err := archiver.Archive(ctx, filter)
		if err != nil {
			return err
		}
		app.Log.WithFields(logrus.Fields{
			"bucket":  res.Bucket,
			"key":     res.Key,
			"entries": res.Entries,
			"sha256":  res.Checksum,
		}).Info("Archived activity")
		return nil
	}
	return cmd
}

func searchActivity(ctx context.Context, app *App, filter audit.Filter) ([]audit.Entry, error) {
	_, db, err := app.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	store, err := audit.NewDBStore(db)
	if err != nil {
		return nil, err
	}
	return store.Search(ctx, filter)
}
