package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/roomchat-server/internal/app"
	"github.com/vovakirdan/roomchat-server/internal/config"
	"github.com/vovakirdan/roomchat-server/internal/store"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the chat server (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			for {
				// configuration is reloaded on every restart
				cfg, path, logger, err := loadConfig(flags)
				if err != nil {
					return err
				}

				a, err := app.New(cfg, path, logger)
				if err != nil {
					return err
				}

				logger.Info().Str("addr", cfg.Addr).Str("config", path).Msg("starting roomchat server")
				err = a.Run(ctx)
				if errors.Is(err, app.ErrRestart) && ctx.Err() == nil {
					logger.Info().Msg("restarting")
					continue
				}
				return err
			}
		},
	}
}

func newInitCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config and provision storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, logger, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := config.Save(path, cfg); err != nil {
				return err
			}

			st, err := app.OpenStore(cfg.Storage)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := store.Provision(cmd.Context(), st); err != nil {
				return err
			}
			logger.Info().Str("config", path).Str("driver", cfg.Storage.Driver).Msg("initialized")
			return nil
		},
	}
}
