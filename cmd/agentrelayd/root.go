package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentrelay/config"
	"github.com/hupe1980/agentrelay/internal/app"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "agentrelayd",
		Short:         "Routes conversations and on-chain or news events through a team of agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "agentrelay.yaml", "Path to the YAML configuration")

	root.AddCommand(newServeCmd(), newChatCmd(), newValidateCmd())
	return root
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the configured clients and event sources",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				cfg.Server.HTTP.Enabled = true
				cfg.Server.HTTP.Addr = addr
			}
			return run(cmd, cfg)
		},
	}
	cmd.Flags().String("addr", "", "Enable the HTTP client on this address")
	return cmd
}

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Talk to the relay from the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cfg.Server.HTTP.Enabled = false
			return run(cmd, cfg, func(o *app.Options) {
				o.Terminal = true
				o.In = cmd.InOrStdin()
				o.Out = cmd.OutOrStdout()
			})
		},
	}
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration without connecting to anything",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration ok: %d agents, %d mcp servers, store %s\n",
				len(cfg.Agents), len(cfg.Capabilities.MCP), cfg.Store.Driver)
			return nil
		},
	}
}

func run(cmd *cobra.Command, cfg *config.Config, optFns ...func(o *app.Options)) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, optFns...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			a.Logger.Warn("shutdown incomplete", "error", cerr)
		}
	}()

	if err := a.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

