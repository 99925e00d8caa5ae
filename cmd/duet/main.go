// Duet: CLI entry point.
//
// Two peers share one document over a direct TCP or WebSocket stream. The
// host shares a file; the partner receives a copy and applies any edit
// events the host's session sends.
//
// It can be launched interactively (no subcommand) or non-interactively
// via the host and join subcommands.
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/duet/internal/config"
	"github.com/1ureka/duet/internal/util"
)

var version = "dev"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	debug      bool
	metrics    string
	transport  string
}

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var g globalFlags

	rootCmd := &cobra.Command{
		Use:   "duet",
		Short: "Share a document with one partner over a direct connection",
		Long: `Duet shares a document between two peers.

The host listens on a port and sends its file once the partner joins.
The partner receives a copy of the file and saves it. This binary shares
the file once; it does not watch it or send edits of its own.

Examples:
  duet host --file notes.md --port 7000
  duet join --host 192.168.1.20 --port 7000 --out notes.md`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if g.debug {
				util.EnableDebug()
			}
			pterm.Info.Println("Duet v" + version)
			pterm.Println()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, &g)
			if err != nil {
				return err
			}
			return runInteractive(ctx, cfg)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&g.configPath, "config", "c", "", "YAML config file")
	flags.BoolVar(&g.debug, "debug", false, "Enable debug logging")
	flags.StringVar(&g.metrics, "metrics", "", "Serve Prometheus metrics on this address (e.g. 127.0.0.1:9090)")
	flags.StringVar(&g.transport, "transport", config.TransportTCP, "Stream transport: tcp or ws")

	rootCmd.AddCommand(
		hostCmd(ctx, &g),
		joinCmd(ctx, &g),
	)

	if err := rootCmd.Execute(); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	util.LogInfo("session closed")
}

// loadConfig reads the config file, if any, and applies the flags the user
// set explicitly on top of it.
func loadConfig(cmd *cobra.Command, g *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	if cfg.Debug {
		util.EnableDebug()
	}

	flags := cmd.Flags()
	if flags.Changed("metrics") {
		cfg.MetricsAddr = g.metrics
	}
	if flags.Changed("transport") {
		cfg.Transport = g.transport
	}
	return cfg, nil
}
