package main

import (
	"fmt"
	"os"

	"mixerline/internal/config"
	"mixerline/internal/database"

	"github.com/jinzhu/gorm"
	"github.com/spf13/cobra"
	"go.elastic.co/ecszap"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type rootOptions struct {
	ConfigPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "mixerline",
		Short:         "Batch execution tracking for industrial mixers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "configs/config.yaml", "path to the YAML configuration file")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newTokenCommand(opts))
	return cmd
}

// setup loads the configuration and installs the global ECS logger.
func setup(opts *rootOptions) (*config.Config, func(), error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, nil, err
	}

	level, err := zapcore.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("logging level: %w", err)
	}
	core := ecszap.NewCore(ecszap.NewDefaultEncoderConfig(), os.Stdout, level)
	logger := zap.New(core, zap.AddCaller())
	restore := zap.ReplaceGlobals(logger)

	return cfg, func() {
		logger.Sync()
		restore()
	}, nil
}

// openDatabase opens, migrates and seeds the configured database.
func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	db, err := database.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := database.Seed(db, cfg.Fleet.Mixers); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the schema and seed the mixer fleet, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, done, err := setup(opts)
			if err != nil {
				return err
			}
			defer done()

			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			zap.S().Infow("Database ready", "driver", cfg.Database.Driver, "mixers", cfg.Fleet.Mixers)
			return nil
		},
	}
}
