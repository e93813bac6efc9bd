package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/hitlflow/hitlflow/internal/config"
	"github.com/hitlflow/hitlflow/internal/logging"
	"github.com/hitlflow/hitlflow/internal/store"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "hitlflow",
		Short:         "Durable human-in-the-loop AI workflows",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"path to hitlflow.yaml (default: ./hitlflow.yaml or /etc/hitlflow/hitlflow.yaml)")

	cmd.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newSeedCmd(opts),
		newCreditsCmd(opts),
		newMembersCmd(opts),
		newModelsCmd(opts),
		newUsageCmd(opts),
		newBatchCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// env is what every command needs: the validated config, the process logger
// and the SQLite ledger.
type env struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *sql.DB
}

func (o *rootOptions) open() (*env, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	slog.SetDefault(logger)

	db, err := store.NewDB(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.Database.Path, err)
	}
	return &env{cfg: cfg, logger: logger, db: db}, nil
}

func (e *env) Close() error {
	return e.db.Close()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "hitlflow %s (commit=%s, built=%s)\n", version, commit, date)
		},
	}
}
