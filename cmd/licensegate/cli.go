package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/MacJediWizard/licensegate/internal/config"
	"github.com/MacJediWizard/licensegate/internal/db"
	"github.com/MacJediWizard/licensegate/internal/license"
	"github.com/MacJediWizard/licensegate/internal/models"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// cliLogger writes warnings and errors to stderr.
func cliLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(zerolog.WarnLevel).
		With().
		Timestamp().
		Logger()
}

func withBackend(cmd *cobra.Command, fn func(ctx context.Context, store backend) error) error {
	cfg := config.LoadServerConfig()
	if err := cfg.Validate(); err != nil {
		return err
	}
	ctx := cmd.Context()
	store, closeStore, err := openBackend(ctx, cfg, cliLogger())
	if err != nil {
		return err
	}
	defer closeStore()
	return fn(ctx, store)
}

func newLicensesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "licenses",
		Short: "Inspect and change license records",
	}
	cmd.AddCommand(newLicensesListCmd(), newLicensesSetStatusCmd(), newLicensesAddCmd(), newLicensesImportCmd())
	return cmd
}

func newLicensesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all licenses",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, func(ctx context.Context, store backend) error {
				return printLicenses(ctx, store, cmd.OutOrStdout())
			})
		},
	}
}

func printLicenses(ctx context.Context, store backend, out io.Writer) error {
	licenses, err := store.ListLicenses(ctx)
	if err != nil {
		return err
	}
	if len(licenses) == 0 {
		fmt.Fprintln(out, "No licenses found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "LICENSE KEY\tCLIENT\tSTATUS\tEXPIRES")
	for _, l := range licenses {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", l.LicenseKey, l.ClientID, strings.ToUpper(string(l.Status)), l.ExpiresAt)
	}
	return w.Flush()
}

func newLicensesSetStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-status LICENSE_KEY active|suspended",
		Short: "Activate or suspend a license",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := models.ParseLicenseStatus(args[1])
			if err != nil {
				return err
			}
			return withBackend(cmd, func(ctx context.Context, store backend) error {
				return setStatus(ctx, store, cmd.OutOrStdout(), args[0], status)
			})
		},
	}
}

func setStatus(ctx context.Context, store backend, out io.Writer, key string, status models.LicenseStatus) error {
	if err := store.SetLicenseStatus(ctx, key, status); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s is now %s\n", key, strings.ToUpper(string(status)))
	return nil
}

func newLicensesAddCmd() *cobra.Command {
	var clientID, expiresAt string

	cmd := &cobra.Command{
		Use:   "add LICENSE_KEY",
		Short: "Provision an active license if the key is unused",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, func(ctx context.Context, store backend) error {
				return addLicense(ctx, store, cmd.OutOrStdout(), models.NewLicense(args[0], clientID, expiresAt))
			})
		},
	}

	cmd.Flags().StringVar(&clientID, "client", "", "Client identifier (required)")
	cmd.Flags().StringVar(&expiresAt, "expires", "", "Expiry date, e.g. 2027-01-01 (required)")
	_ = cmd.MarkFlagRequired("client")
	_ = cmd.MarkFlagRequired("expires")

	return cmd
}

func addLicense(ctx context.Context, store backend, out io.Writer, l *models.License) error {
	created, err := store.EnsureLicense(ctx, l)
	if err != nil {
		return err
	}
	if !created {
		fmt.Fprintf(out, "%s already exists; left unchanged\n", l.LicenseKey)
		return nil
	}
	fmt.Fprintf(out, "%s provisioned for %s\n", l.LicenseKey, l.ClientID)
	return nil
}

func newLicensesImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Provision licenses from a YAML seed file",
		Long: `Provision licenses from a YAML seed file.

Keys that already exist are skipped, so an operator's suspension is never
undone by a re-import. The whole file is validated before anything is written.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, err := license.LoadSeedFile(args[0])
			if err != nil {
				return err
			}
			return withBackend(cmd, func(ctx context.Context, store backend) error {
				return importLicenses(ctx, store, cmd.OutOrStdout(), seed)
			})
		},
	}
}

func importLicenses(ctx context.Context, store backend, out io.Writer, seed []*models.License) error {
	res, err := license.ImportSeed(ctx, store, seed, zerolog.Nop())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%d created, %d already present\n", res.Created, res.Skipped)
	return nil
}

func newEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Read the verification event log",
	}
	cmd.AddCommand(newEventsTailCmd())
	return cmd
}

func newEventsTailCmd() *cobra.Command {
	var (
		limit      int
		licenseKey string
	)

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the most recent verification events",
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}
			filter := models.EventFilter{LicenseKey: licenseKey, Limit: limit}
			return withBackend(cmd, func(ctx context.Context, store backend) error {
				return printEvents(ctx, store, cmd.OutOrStdout(), filter)
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of events to show")
	cmd.Flags().StringVar(&licenseKey, "license-key", "", "Only show events for this key")

	return cmd
}

func printEvents(ctx context.Context, store backend, out io.Writer, filter models.EventFilter) error {
	events, err := store.ListRecentVerificationEvents(ctx, filter)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(out, "No verification events")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIMESTAMP\tLICENSE KEY\tCLIENT\tWORKFLOW\tALLOWED\tREASON")
	for _, e := range events {
		allowed := "no"
		if e.Allowed {
			allowed = "yes"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ID,
			e.Timestamp.UTC().Format(time.RFC3339),
			dash(e.LicenseKey),
			dash(e.ClientID),
			dash(e.WorkflowID),
			allowed,
			dash(e.Reason),
		)
	}
	return w.Flush()
}

func dash(p *string) string {
	if p == nil || *p == "" {
		return "-"
	}
	return *p
}

func newMigrateCmd() *cobra.Command {
	var (
		list    bool
		showVer bool
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations for the configured store",
		Long: `Apply schema migrations for the configured store.

PostgreSQL uses versioned migrations. SQLite and MongoDB prepare their
schema and indexes whenever the store is opened.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if list {
				return printMigrations(out)
			}

			cfg := config.LoadServerConfig()
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx := cmd.Context()

			if cfg.StoreDriver != config.StorePostgres {
				return withBackend(cmd, func(ctx context.Context, store backend) error {
					fmt.Fprintf(out, "%s schema is ready\n", store.Driver())
					return nil
				})
			}

			database, err := openPostgres(ctx, cfg, cliLogger())
			if err != nil {
				return err
			}
			defer database.Close()

			if showVer {
				version, err := database.CurrentVersion(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Current schema version: %d\n", version)
				return nil
			}
			return runMigrations(ctx, database, out)
		},
	}

	cmd.Flags().BoolVar(&list, "list", false, "List all migrations")
	cmd.Flags().BoolVar(&showVer, "version", false, "Show current schema version")

	return cmd
}

// migrator is the part of *db.DB the migrate command drives.
type migrator interface {
	Migrate(ctx context.Context) ([]db.Migration, error)
	CurrentVersion(ctx context.Context) (int, error)
}

func runMigrations(ctx context.Context, m migrator, out io.Writer) error {
	applied, err := m.Migrate(ctx)
	if err != nil {
		return err
	}
	for _, mig := range applied {
		fmt.Fprintf(out, "Applied %03d: %s\n", mig.Version, mig.Name)
	}
	version, err := m.CurrentVersion(ctx)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		fmt.Fprintf(out, "Schema is up to date at version %d\n", version)
		return nil
	}
	fmt.Fprintf(out, "Migrations complete, schema version %d\n", version)
	return nil
}

func printMigrations(out io.Writer) error {
	migrations, err := db.GetMigrations()
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	if len(migrations) == 0 {
		fmt.Fprintln(out, "No migrations found")
		return nil
	}

	fmt.Fprintln(out, "Available migrations:")
	for _, m := range migrations {
		fmt.Fprintf(out, "  %03d: %s\n", m.Version, m.Name)
	}
	return nil
}
