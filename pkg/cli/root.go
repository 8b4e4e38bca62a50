package cli

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/clinicauth/pkg/config"
	"github.com/platinummonkey/clinicauth/pkg/database"
)

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
}

// App carries what every command needs: operator output, configuration and
// a database opener. Tests replace OpenDB with an in-memory database.
type App struct {
	Out        io.Writer
	Log        *logrus.Logger
	LoadConfig func() (*config.Config, error)
	OpenDB     func(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error)
}

// DefaultApp wires the real environment
func DefaultApp() *App {
	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)
	logger.SetOutput(os.Stderr)

	return &App{
		Out:        os.Stdout,
		Log:        logger,
		LoadConfig: config.LoadConfig,
		OpenDB:     openPostgres,
	}
}

func openPostgres(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("CLINICAUTH_DATABASE_URL is required")
	}
	return database.Open(ctx, database.Config{
		URL:      cfg.URL,
		MaxConns: cfg.MaxConns,
		MinConns: cfg.MinConns,
		Timeout:  cfg.Timeout,
	})
}

// connect loads configuration and opens the database
func (a *App) connect(ctx context.Context) (*config.Config, *sql.DB, error) {
	cfg, err := a.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	db, err := a.OpenDB(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return cfg, db, nil
}

// NewRootCommand creates the root command
func NewRootCommand(app *App) *Command {
	root := &Command{
		Name:        "clinicauth",
		Description: "clinicauth - role-based authorization for the clinic",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("clinicauth", flag.ContinueOnError),
	}

	root.Subcommands["migrate"] = newMigrateCommand(app)
	root.Subcommands["seed"] = newSeedCommand(app)
	root.Subcommands["roles"] = newRolesCommand(app)
	root.Subcommands["check"] = newCheckCommand(app)
	root.Subcommands["audit"] = newAuditCommand(app)
	root.Subcommands["serve"] = newServeCommand(app)

	return root
}

// Execute runs the command with the process arguments
func (c *Command) Execute() error {
	return c.ExecuteArgs(os.Args[1:])
}

// ExecuteArgs dispatches args to a subcommand
func (c *Command) ExecuteArgs(args []string) error {
	if len(args) == 0 {
		if c.Run != nil && len(c.Subcommands) == 0 {
			return c.Run(args)
		}
		return c.usage(os.Stdout)
	}

	if args[0] == "-h" || args[0] == "--help" {
		return c.usage(os.Stdout)
	}

	if subcmd, ok := c.Subcommands[args[0]]; ok {
		if len(subcmd.Subcommands) > 0 {
			return subcmd.ExecuteArgs(args[1:])
		}
		return subcmd.Run(args[1:])
	}

	if c.Run != nil && len(c.Subcommands) == 0 {
		return c.Run(args)
	}
	return fmt.Errorf("unknown command: %s", args[0])
}

// usage prints the command usage
func (c *Command) usage(w io.Writer) error {
	fmt.Fprintf(w, "Usage: %s <command> [args]\n\n", c.Name)
	fmt.Fprintf(w, "Commands:\n")

	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-15s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}
