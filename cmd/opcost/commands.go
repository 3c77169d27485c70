package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/sjperalta/opcost-api/internal/config"
	"github.com/sjperalta/opcost-api/internal/database"
	"github.com/sjperalta/opcost-api/internal/jobs"
	"github.com/sjperalta/opcost-api/internal/metrics"
	"github.com/sjperalta/opcost-api/internal/repository"
	"github.com/sjperalta/opcost-api/internal/services"
	"github.com/sjperalta/opcost-api/internal/storage"
	"github.com/sjperalta/opcost-api/pkg/logger"
)

// app is the service graph shared by the commands that need one
type app struct {
	cfg    *config.Config
	db     *gorm.DB
	worker *jobs.Worker
	svcs   *services.Services
}

func (a *app) Close() {
	a.worker.Shutdown()
	if sqlDB, err := a.db.DB(); err == nil {
		sqlDB.Close()
	}
}

func connect() (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger.Setup(cfg.Environment, cfg.LogLevel)

	db, err := database.Connect(cfg.DatabaseURL, database.Options{LogLevel: cfg.LogLevel, SlowThreshold: cfg.SlowQueryTime})
	if err != nil {
		return nil, nil, err
	}
	return cfg, db, nil
}

func bootstrap() (*app, error) {
	cfg, db, err := connect()
	if err != nil {
		return nil, err
	}
	store, err := storage.NewLocalStorage(cfg.StoragePath)
	if err != nil {
		return nil, err
	}
	metrics.Init()
	worker := jobs.NewWorker(cfg.WorkerCount)
	svcs := services.NewServices(repository.NewRepositories(db), worker, store, cfg, db)
	return &app{cfg: cfg, db: db, worker: worker, svcs: svcs}, nil
}

func parseStatementID(arg string) (uint, error) {
	id, err := strconv.ParseUint(arg, 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid statement id %q", arg)
	}
	return uint(id), nil
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "opcost",
		Short:         "Operating cost statement tooling",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		migrateCmd(),
		computeCmd(),
		exportCmd(),
		prerenderCmd(),
		sendTestCmd(),
	)
	return rootCmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, db, err := connect()
			if err != nil {
				return err
			}
			if err := database.Migrate(db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Schema migrated.")
			return nil
		},
	}
}

func computeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compute <statement-id>",
		Short: "Compute and store the results of a statement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseStatementID(args[0])
			if err != nil {
				return err
			}
			a, err := bootstrap()
			if err != nil {
				return err
			}
			defer a.Close()

			outcome, err := a.svcs.Statement.ComputeResults(cmd.Context(), services.Actor{}, id)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(outcome)
		},
	}
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <statement-id>",
		Short: "Write the results of a statement as xlsx or csv",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			out, _ := cmd.Flags().GetString("out")

			id, err := parseStatementID(args[0])
			if err != nil {
				return err
			}
			a, err := bootstrap()
			if err != nil {
				return err
			}
			defer a.Close()

			file, err := a.svcs.Document.Export(cmd.Context(), id, format)
			if err != nil {
				return err
			}
			path := filepath.Join(out, file.Filename)
			if err := os.WriteFile(path, file.Data, 0o644); err != nil {
				return fmt.Errorf("failed to write export: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d bytes)\n", path, len(file.Data))
			return nil
		},
	}
	cmd.Flags().StringP("format", "f", services.FormatXLSX, "export format: xlsx or csv")
	cmd.Flags().StringP("out", "o", ".", "output directory")
	return cmd
}

func prerenderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prerender",
		Short: "Render missing documents of all ready statements",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap()
			if err != nil {
				return err
			}
			defer a.Close()

			rendered, err := a.svcs.Document.PrerenderReady(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Rendered %d documents.\n", rendered)
			return nil
		},
	}
}

func sendTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send-test <email>",
		Short: "Send a test email through the configured provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger.Setup(cfg.Environment, cfg.LogLevel)

			if err := services.NewEmailService(cfg).SendTestEmail(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Test email sent to %s\n", args[0])
			return nil
		},
	}
}
