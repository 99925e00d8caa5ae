package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/1ureka/duet/internal/app"
	"github.com/1ureka/duet/internal/config"
)

func hostCmd(ctx context.Context, g *globalFlags) *cobra.Command {
	var (
		file   string
		port   int
		listen string
		out    string
	)

	cmd := &cobra.Command{
		Use:   "host",
		Short: "Share a file and wait for a partner",
		Long: `Listen for one partner and share a file with it.

The bound port is printed once listening; use --port 0 for any free port.
Edits made by the partner are applied to an in-memory copy that is
written to --out when the session ends.

Examples:
  duet host --file main.go
  duet host --file main.go --port 7000 --listen 0.0.0.0 --transport ws`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, g)
			if err != nil {
				return err
			}
			cfg.Role = config.RoleHost
			if cmd.Flags().Changed("file") || cfg.File == "" {
				cfg.File = file
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if cmd.Flags().Changed("listen") {
				cfg.Host = listen
			}
			if cmd.Flags().Changed("out") {
				cfg.Out = out
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return app.RunHost(ctx, cfg)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "File to share")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port to listen on (0 for any)")
	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1", "Interface to listen on")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Where to write the document on exit")
	cmd.MarkFlagFilename("file")

	return cmd
}

func joinCmd(ctx context.Context, g *globalFlags) *cobra.Command {
	var (
		host string
		port int
		out  string
	)

	cmd := &cobra.Command{
		Use:   "join",
		Short: "Connect to a host and mirror its document",
		Long: `Connect to a host and receive the document it shares. Edit events from
the host, if any, are applied to the local copy.

The mirror is written to --out whenever the host stops sharing and when
the session ends.

Examples:
  duet join --host 192.168.1.20 --port 7000 --out notes.md`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, g)
			if err != nil {
				return err
			}
			cfg.Role = config.RolePartner
			if cmd.Flags().Changed("host") {
				cfg.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if cmd.Flags().Changed("out") {
				cfg.Out = out
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return app.RunPartner(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Host port")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Where to write the mirrored document")

	return cmd
}
