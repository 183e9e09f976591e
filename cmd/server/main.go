package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/roomchat-server/internal/config"
	applog "github.com/vovakirdan/roomchat-server/internal/log"
)

type rootFlags struct {
	configPath string
	addr       string
	httpAddr   string
	logLevel   string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	serve := newServeCmd(flags)
	root := &cobra.Command{
		Use:           "roomchat-server",
		Short:         "Multi-room chat server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "path to config file (default ./config.yaml)")
	pf.StringVar(&flags.addr, "addr", "", "TCP listen address, overrides config")
	pf.StringVar(&flags.httpAddr, "http-addr", "", "HTTP status/websocket address, overrides config")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(
		serve,
		newInitCmd(flags),
		newControlCmd(flags, "stop", "Ask a running server to stop", stopRequest),
		newControlCmd(flags, "restart", "Ask a running server to restart", restartRequest),
		newBanCmd(flags),
		newUnbanCmd(flags),
	)
	return root
}

// loadConfig resolves configuration and applies command line overrides.
func loadConfig(flags *rootFlags) (config.Config, string, *zerolog.Logger, error) {
	bootLogger, err := applog.New(flags.logLevel, "")
	if err != nil {
		return config.Config{}, "", nil, err
	}

	cfg, path, err := config.Load(bootLogger, flags.configPath)
	if err != nil {
		return cfg, path, nil, err
	}
	cfg.UpdateFrom(config.Config{
		Addr:     flags.addr,
		HTTPAddr: flags.httpAddr,
		LogLevel: flags.logLevel,
	})

	logger, err := applog.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return cfg, path, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, path, logger, nil
}
