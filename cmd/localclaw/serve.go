package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nhle/localclaw/internal/app"
	"github.com/nhle/localclaw/internal/logging"
	"github.com/nhle/localclaw/internal/model"
)

var dryRunFlag bool

// serveCmd runs the gateway in the foreground.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway",
	Long: `Start polling every enabled channel, the scheduled jobs and the
control API. The process stops on SIGINT or SIGTERM after each channel
finishes the item it is working on.`,
	RunE: runServe,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	RunE:  runInit,
}

var forceInit bool

func init() {
	serveCmd.Flags().BoolVar(&dryRunFlag, "dry-run", false, "Force dry-run mode regardless of configuration")
	initCmd.Flags().BoolVar(&forceInit, "force", false, "Overwrite an existing configuration file")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if dryRunFlag {
		cfg.Gateway.DryRun = true
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration in %s:\n%w", configPath, err)
	}

	logger, err := logging.New(cfg.Gateway.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := gw.Close(); err != nil {
			logger.Warn("closing store", zap.Error(err))
		}
	}()

	return gw.Run(ctx)
}

func runInit(cmd *cobra.Command, _ []string) error {
	if _, err := os.Stat(configPath); err == nil && !forceInit {
		return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	cfg := model.DefaultAppConfig()
	cfg.Channels = []model.ChannelConfig{{
		ID:              "temp",
		Name:            "Disposable inbox",
		Type:            string(model.ChannelTypeGuerrilla),
		Enabled:         true,
		PollIntervalSec: 60,
	}}
	if err := model.SaveConfig(configPath, cfg); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", configPath)
	return nil
}
