// Command cachectl inspects and invalidates a keycache store.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/keycache/config"
)

var (
	configPath string
	output     string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "cachectl",
		Short:         "Inspect and invalidate a keycache store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("KEYCACHE_CONFIG"),
		"Config file (.yaml, .yml or .toml); defaults to $KEYCACHE_CONFIG")
	root.PersistentFlags().StringVarP(&output, "output", "o", "text", "Output format: text or json")

	root.AddCommand(
		getCmd(),
		childrenCmd(),
		kindCmd(),
		bustCmd(),
		healthCmd(),
	)
	return root
}

// loadRuntime builds a runtime from --config, or an in-memory default.
func loadRuntime(ctx context.Context) (*config.Runtime, config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(ctx, configPath)
		if err != nil {
			return nil, cfg, err
		}
		cfg = loaded
	}
	rt, err := config.Build(ctx, cfg)
	if err != nil {
		return nil, cfg, err
	}
	return rt, cfg, nil
}
