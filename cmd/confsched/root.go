package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"confsched/internal/config"
	appLog "confsched/internal/log"
	"confsched/internal/store"
)

const version = "0.1.0"

// app carries the persistent flags shared by every subcommand.
type app struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "confsched",
		Short: "Conference timetables, ICS import and registration payments",
		Long: `confsched keeps conference events and their timetables in SQLite,
imports events from ICS subscriptions, lays timetables out on a slot grid
and records registration payments.

Quick Start:
  confsched serve                       Start the HTTP API and the refresh scheduler
  confsched import                      Re-import all ICS sources once
  confsched timetable <event-id>        Print the compiled timetable
  confsched pay <registration> complete Record a payment`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			appLog.SetLevel(appLog.ParseLevel(a.logLevel))
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "/etc/confsched/config.yaml", "Path to config file")
	root.PersistentFlags().StringVarP(&a.logLevel, "log-level", "l", "info", "log level (debug, info, error)")

	root.AddCommand(
		newServeCmd(a),
		newImportCmd(a),
		newTimetableCmd(a),
		newPayCmd(a),
	)
	return root
}

// loadConfig loads and validates the configuration file.
func (a *app) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", a.configPath)
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", a.configPath, err)
	}
	return cfg, nil
}

// open loads the configuration and opens the database it names.
func (a *app) open(ctx context.Context) (*config.Config, *store.Store, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	st, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return cfg, st, nil
}
