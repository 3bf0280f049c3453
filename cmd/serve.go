package cmd

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/slurmgate/slurmgate/internal/config"
	"github.com/slurmgate/slurmgate/internal/server"
	"github.com/slurmgate/slurmgate/internal/utils"
)

var (
	listenAddr    string
	sweepInterval time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Serve the HTTP API under /api/v1.

Connections and interactive sessions stay open between requests. Sessions
idle longer than their cluster's session_idle_timeout are cancelled by a
periodic sweep. On SIGINT or SIGTERM the server drains requests, ends every
session and closes its connections.`,
	Example: `  slurmgate serve
  slurmgate serve --listen 0.0.0.0:8642 --sweep-interval 1m`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()

		a, err := newApp()
		if err != nil {
			return err
		}
		defer func() { _ = a.log.Sync() }()

		cfg := server.Config{
			ListenAddr:    config.Global.Server.ListenAddr,
			SweepInterval: config.Global.Server.SweepInterval,
		}
		if cmd.Flags().Changed("listen") {
			cfg.ListenAddr = listenAddr
		}
		if cmd.Flags().Changed("sweep-interval") {
			cfg.SweepInterval = sweepInterval
		}
		if !config.Global.Debug {
			gin.SetMode(gin.ReleaseMode)
		}

		utils.PrintMessage("Serving %d cluster(s) on %s", len(a.mgr.Clusters()), utils.StyleName(cfg.ListenAddr))
		return server.New(a.mgr, cfg, a.log).Run(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address (default: server.listen_addr, 127.0.0.1:8642)")
	serveCmd.Flags().DurationVar(&sweepInterval, "sweep-interval", 0, "Stale-session sweep interval, 0 disables (default: server.sweep_interval)")

	rootCmd.AddCommand(serveCmd)
}
