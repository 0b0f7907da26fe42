package cmd

import (
	"fmt"
	"os"

	log "github.com/charmbracelet/log"
	"github.com/lkarlslund/openrouter-proxy/pkg/config"
	"github.com/lkarlslund/openrouter-proxy/pkg/logutil"
	"github.com/lkarlslund/openrouter-proxy/pkg/version"
	"github.com/spf13/cobra"
)

var (
	configPath       string
	logLevelOverride string
)

var rootCmd = &cobra.Command{
	Use:   "openrouter-proxy",
	Short: "OpenAI-compatible gateway for OpenRouter",
	Long:  "OpenAI-compatible gateway that forwards chat completions and model listings to OpenRouter.",
}

func Execute() error {
	defer logutil.Close()
	return rootCmd.Execute()
}

func init() {
	rootCmd.SetOut(os.Stdout)
	rootCmd.SetErr(os.Stderr)
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultConfigPath(), "Config TOML path (optional; environment overrides it)")
	rootCmd.PersistentFlags().StringVar(&logLevelOverride, "loglevel", "", "Log level (trace, debug, info, warn, error, fatal)")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if os.Geteuid() == 0 {
			log.Warn("running as root")
		}
		return nil
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Detailed())
		},
	})
}

// loadConfig reads defaults, the config file and the environment, then
// applies the logging setup.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath, cmd.Flags().Changed("config"))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cmd.Flags().Changed("loglevel") {
		cfg.Log.Level = logLevelOverride
	}
	if err := logutil.Configure(cfg.Log); err != nil {
		return nil, err
	}
	return cfg, nil
}
