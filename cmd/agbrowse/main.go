package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cgast/agbrowse/internal/config"
	"github.com/cgast/agbrowse/internal/logging"
)

// app holds what every command shares once flags and config are loaded.
type app struct {
	configPath    string
	platformsPath string
	logLevel      string
	inspectorPort int

	cfg       config.Config
	platforms config.PlatformConfig
	log       *zap.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(&app{}).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "agbrowse",
		Short: "Verification-first browser agent runtime",
		Long: `agbrowse drives a browser step by step and verifies every step against
structured snapshots of the page: query the element graph, assert on it,
and retry until the page settles.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", filepath.Join(".agbrowse", "config.yaml"), "runtime config file")
	root.PersistentFlags().StringVar(&a.platformsPath, "platforms", filepath.Join(".agbrowse", "platforms.yaml"), "platform credentials file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error); overrides config")
	root.PersistentFlags().IntVar(&a.inspectorPort, "inspector-port", 0, "serve the inspector on this port (0 uses config)")

	root.AddCommand(
		newRunCmd(a),
		newValidateCmd(a),
		newAgentCmd(a),
		newReplayCmd(a),
		newQueryCmd(a),
		newDiffCmd(a),
		newInitCmd(a),
	)
	return root
}

// load reads config files and builds the logger.
func (a *app) load() error {
	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	platforms, err := config.LoadPlatformConfig(a.platformsPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	a.cfg, a.platforms, a.log = cfg, platforms, log
	return nil
}

// inspector returns the port to serve the inspector on, or 0.
func (a *app) inspector() int {
	if a.inspectorPort > 0 {
		return a.inspectorPort
	}
	if a.cfg.Inspector.Enabled {
		return a.cfg.Inspector.Port
	}
	return 0
}
