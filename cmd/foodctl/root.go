package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/foodsearch/foodsearch/internal/bootstrap"
	"github.com/foodsearch/foodsearch/pkg/config"
	"github.com/foodsearch/foodsearch/pkg/logger"
	"github.com/spf13/cobra"
)

var (
	configPath string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:          "foodctl",
	Short:        "Build, query and inspect food indexes",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/development.yaml", "path to config file")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	return cfg, nil
}

// openIndexing wires the configured source into a coordinator. The returned
// func releases both.
func openIndexing(ctx context.Context, cfg *config.Config) (*bootstrap.Indexing, func(), error) {
	src, closeSource, err := bootstrap.Source(cfg, nil)
	if err != nil {
		return nil, nil, err
	}
	ix, err := bootstrap.NewIndexing(ctx, cfg, src, nil, nil)
	if err != nil {
		closeSource()
		return nil, nil, err
	}
	return ix, func() {
		_ = ix.Close(cfg.Server.ShutdownTimeout)
		_ = closeSource()
	}, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
