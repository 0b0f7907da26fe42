package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/charmbracelet/log"
	"github.com/lkarlslund/openrouter-proxy/pkg/config"
	"github.com/lkarlslund/openrouter-proxy/pkg/proxy"
	"github.com/lkarlslund/openrouter-proxy/pkg/version"
	"github.com/spf13/cobra"
)

var servePort int

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = servePort
				if err := cfg.Validate(); err != nil {
					return fmt.Errorf("invalid --port: %w", err)
				}
			}
			log.Info("starting openrouter-proxy", "version", version.String(), "upstream", cfg.UpstreamBaseURL, "filter", cfg.ModelFilterFile)
			log.Debug("effective config", "config", fmt.Sprintf("%+v", cfg.Redacted()))
			if !cfg.HasAPIKey() {
				log.Warn(config.EnvAPIKey + " is not set; chat completions will be rejected")
			}
			if cfg.DisableTLSVerify {
				log.Warn("upstream TLS certificate verification is disabled")
			}

			srv, err := proxy.NewServer(cfg)
			if err != nil {
				return fmt.Errorf("create server: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return srv.Run(ctx)
		},
	}
	serveCmd.Flags().IntVar(&servePort, "port", config.DefaultPort, "Listen port (overrides PORT)")
	rootCmd.AddCommand(serveCmd)
}
