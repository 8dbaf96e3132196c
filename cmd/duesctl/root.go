package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/FACorreiaa/benefactor-dues/cmd/api"
	"github.com/FACorreiaa/benefactor-dues/internal/domain/debits/handler"
	"github.com/FACorreiaa/benefactor-dues/pkg/config"
	cronpkg "github.com/FACorreiaa/benefactor-dues/pkg/cron"
	"github.com/FACorreiaa/benefactor-dues/pkg/db"
)

// app is what the commands run against. Tests replace connect.
type app struct {
	verbose bool
	out     io.Writer
	connect func(ctx context.Context, logger *slog.Logger) (*session, error)
}

// session is an open connection to the dues database.
type session struct {
	svc     handler.Service
	sweeper sweeper
	actor   string
	close   func()
}

type sweeper interface {
	Sweep(ctx context.Context) (cronpkg.SweepResult, error)
}

func defaultApp() *app {
	return &app{out: os.Stdout, connect: connectDatabase}
}

func connectDatabase(ctx context.Context, logger *slog.Logger) (*session, error) {
	cfg, err := config.LoadForTools()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	deps, err := api.InitDependencies(cfg, logger)
	if err != nil {
		return nil, err
	}

	s := &session{svc: deps.ImportService, close: deps.Cleanup}
	if deps.Scheduler != nil {
		s.sweeper = deps.Scheduler
		s.actor = cfg.Inbox.ActorID.String()
	}
	return s, nil
}

func (a *app) logger() *slog.Logger {
	level := slog.LevelWarn
	if a.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func (a *app) open(ctx context.Context) (*session, error) {
	return a.connect(ctx, a.logger())
}

func newRootCommand(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "duesctl",
		Short: "Import and inspect monthly dues debit batches",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log debug output to stderr")
	rootCmd.SetOut(a.out)

	rootCmd.AddCommand(
		newImportCommand(a),
		newPreviewCommand(a),
		newBatchesCommand(a),
		newSweepCommand(a),
		newMigrateCommand(a),
	)
	return rootCmd
}

func newMigrateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadForTools()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			database, err := db.New(db.Config{DSN: cfg.Database.DSN()}, a.logger())
			if err != nil {
				return err
			}
			defer database.Close()

			if err := database.RunMigrations(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func newSweepCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Import every workbook waiting in the inbox once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			if s.sweeper == nil {
				return fmt.Errorf("inbox is disabled, set INBOX_ENABLED and INBOX_ACTOR_ID")
			}
			result, err := s.sweeper.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d, duplicates %d, failed %d (actor %s)\n",
				result.Imported, result.Duplicates, result.Failed, s.actor)
			return nil
		},
	}
}
