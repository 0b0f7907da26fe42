package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lkarlslund/openrouter-proxy/pkg/catalog"
	"github.com/lkarlslund/openrouter-proxy/pkg/config"
	"github.com/lkarlslund/openrouter-proxy/pkg/upstream"
	openai "github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"
)

const checkTimeout = 30 * time.Second

func init() {
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Verify the OpenRouter credential and connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runCheck(cmd, cfg)
		},
	}
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, cfg *config.Config) error {
	if !cfg.HasAPIKey() {
		return fmt.Errorf("%s: set %s", upstream.ErrMissingCredential, config.EnvAPIKey)
	}
	client, err := upstream.NewClient(cfg, nil)
	if err != nil {
		return err
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = client.BaseURL() + "/api/v1"
	oc.HTTPClient = client.HTTPClient()

	ctx, cancel := context.WithTimeout(cmd.Context(), checkTimeout)
	defer cancel()
	list, err := openai.NewClientWithConfig(oc).ListModels(ctx)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return fmt.Errorf("connection test failed: upstream returned %d: %s", apiErr.HTTPStatusCode, apiErr.Message)
		}
		return fmt.Errorf("connection test failed: %w", err)
	}

	models := make([]catalog.UpstreamModel, 0, len(list.Models))
	for _, m := range list.Models {
		models = append(models, catalog.UpstreamModel{ID: m.ID})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "connected to %s: %d models\n", client.BaseURL(), len(models))
	if cfg.ModelFilterFile != "" {
		filter, err := catalog.LoadFilter(cfg.ModelFilterFile)
		if err != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "model filter %s not applied: %v\n", cfg.ModelFilterFile, err)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "model filter %s keeps %d models\n", cfg.ModelFilterFile, len(filter.Apply(models)))
	}
	return nil
}
