package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/songbird/internal/shared"
)

// Setup writes config.toml from the embedded template when missing, creates the data directory, and runs
// database migrations.
func (r *Runner) Setup(ctx context.Context, cmd *cli.Command) error {
	configPath := r.configPath
	if configPath == "" {
		configPath = "config.toml"
	}

	if shared.FileExists(configPath) {
		r.logger.Info("using existing config", "path", configPath)
	} else {
		r.logger.Info("config file not found, creating from template", "path", configPath)
		if err := shared.CreateConfigFile(configPath); err != nil {
			r.logger.Warn("failed to create config file, using defaults", "error", err)
		} else if config, err := shared.LoadConfig(configPath); err != nil {
			r.logger.Warn("failed to load created config, using defaults", "error", err)
		} else {
			r.config = config
		}
	}

	if err := os.MkdirAll(r.config.Storage.DataDir, 0755); err != nil {
		return fmt.Errorf("%w: failed to create data directory: %v", shared.ErrStorage, err)
	}

	r.logger.Info("initializing database", "path", r.config.Storage.Database)

	db, err := shared.NewDatabase(r.config.Storage.Database)
	if err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	defer db.Close()

	shared.ConfigureDatabase(db, r.config.Storage.MaxOpenConns, r.config.Storage.MaxIdleConns)

	r.logger.Info("running database migrations")
	if err := shared.RunMigrations(db); err != nil {
		return fmt.Errorf("%w: failed to run migrations: %v", shared.ErrStorage, err)
	}
	r.logger.Infof("setup complete for database: %v", r.config.Storage.Database)

	r.writePlain("✓ Setup complete\n")
	r.writePlain("Config:   %s\n", configPath)
	r.writePlain("Data dir: %s\n", r.config.Storage.DataDir)
	r.writePlainln("Next steps:")
	r.writePlain("1. songbird accounts add --name \"My Account\" --client-id ... --client-secret ...\n")
	r.writePlain("2. songbird accounts login \"My Account\"\n")
	r.writePlain("3. songbird download\n")
	return nil
}
