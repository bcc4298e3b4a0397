package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/migrate"
	"gatehouse.org/internal/obs"
)

type options struct {
	dsn     string
	timeout time.Duration
	db      *sql.DB
}

func main() {
	_ = godotenv.Load()
	obs.InitLogger(obs.LogOptions{Level: os.Getenv("LOG_LEVEL"), Format: "console", Service: "gatehouse-migrate"})
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the gatehouse database schema",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if opts.dsn == "" {
				return errors.New("missing DSN: provide via --dsn or DATABASE_URL")
			}
			db, err := sql.Open("pgx", opts.dsn)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			opts.db = db
			return nil
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if opts.db != nil {
				return opts.db.Close()
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&opts.dsn, "dsn", os.Getenv("DATABASE_URL"), "PostgreSQL DSN")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "Timeout for the whole command")

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: opts.withManager("up", func(ctx context.Context, cmd *cobra.Command, mgr *migrate.Manager) error {
				return mgr.Up(ctx)
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			Args:  cobra.NoArgs,
			RunE: opts.withManager("down", func(ctx context.Context, cmd *cobra.Command, mgr *migrate.Manager) error {
				return mgr.Down(ctx)
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "List migrations and whether they are applied",
			Args:  cobra.NoArgs,
			RunE: opts.withManager("status", func(ctx context.Context, cmd *cobra.Command, mgr *migrate.Manager) error {
				history, err := mgr.Status(ctx)
				if err != nil {
					return err
				}
				for _, item := range history {
					fmt.Fprintln(cmd.OutOrStdout(), item)
				}
				return nil
			}),
		},
		newSeedCmd(opts),
	)
	return root
}

func newSeedCmd(opts *options) *cobra.Command {
	services := []string{}
	cmd := &cobra.Command{
		Use:   "seed [service...]",
		Short: "Create services that do not exist yet",
		Long:  "Create the named services. With no arguments the administration service is seeded.",
		RunE: opts.withManager("seed", func(ctx context.Context, _ *cobra.Command, mgr *migrate.Manager) error {
			return mgr.Seed(ctx, services...)
		}),
	}
	cmd.PreRunE = func(_ *cobra.Command, args []string) error {
		services = seedNames(args, os.Getenv("ADMINISTRATION_SERVICE"))
		return nil
	}
	return cmd
}

// seedNames falls back to the administration service when no names are given.
func seedNames(args []string, administration string) []string {
	if len(args) > 0 {
		return args
	}
	if administration == "" {
		administration = auth.AdministrationService
	}
	return []string{administration}
}

func (o *options) withManager(name string, fn func(context.Context, *cobra.Command, *migrate.Manager) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
		defer cancel()
		if err := fn(ctx, cmd, migrate.NewManager(o.db)); err != nil {
			obs.Logger().Error().Err(err).Str("command", name).Msg("migrate failed")
			return fmt.Errorf("migrate %s: %w", name, err)
		}
		obs.Logger().Info().Str("command", name).Msg("migrate finished")
		return nil
	}
}
