package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/AgentOS/termmux/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/termmux/internal/server"
)

var version = "0.1.0"

type flags struct {
	configPath string
	port       string
	host       string
	shell      string
	dev        bool
}

func newRootCmd() *cobra.Command {
	var f flags

	rootCmd := &cobra.Command{
		Use:           "termmux",
		Short:         "termmux - Serve interactive shell sessions to web front ends over a websocket.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, f)
			if err != nil {
				return err
			}

			srv, err := server.New(cfg, server.WithVersion(version))
			if err != nil {
				return fmt.Errorf("failed to create server: %w", err)
			}
			defer srv.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.Run(ctx)
		},
	}

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as TOML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, f)
			if err != nil {
				return err
			}
			return printConfig(cmd.OutOrStdout(), cfg)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version number of termmux",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "termmux version %s\n", version)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&f.configPath, "config", "c", "",
		"Config file (.toml, .yaml); defaults to $"+config.EnvConfigFile)
	rootCmd.PersistentFlags().StringVarP(&f.port, "port", "p", "", "HTTP port (overrides config and $PORT)")
	rootCmd.PersistentFlags().StringVar(&f.host, "host", "", "HTTP listen host (overrides config and $HOST)")
	rootCmd.PersistentFlags().StringVar(&f.shell, "shell", "", "Default shell for new terminals")
	rootCmd.PersistentFlags().BoolVar(&f.dev, "dev", false, "Development mode (colored debug logs)")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
	return rootCmd
}

// resolveConfig loads defaults, file and env, then applies explicitly set flags.
func resolveConfig(cmd *cobra.Command, f flags) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}

	changed := cmd.Flags().Changed
	if changed("port") {
		cfg.Server.Port = f.port
	}
	if changed("host") {
		cfg.Server.Host = f.host
	}
	if changed("shell") {
		cfg.Terminal.Shell = f.shell
	}
	if changed("dev") && f.dev {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}
	return cfg, cfg.Validate()
}

func printConfig(w io.Writer, cfg *config.Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	_, err = w.Write(data)
	return err
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
