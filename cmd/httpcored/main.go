// Command httpcored loads a YAML tunables file, starts an httpcore.Server,
// and blocks until SIGINT/SIGTERM triggers a quiesce-and-close shutdown. It
// carries no protocol logic of its own.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/appnexus/httpcore"
	"github.com/appnexus/httpcore/internal/config"
	"github.com/appnexus/httpcore/internal/logging"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "httpcored",
	Short: "Epoll-driven HTTP request-serving core",
	RunE: func(_ *cobra.Command, _ []string) error {
		return run(configPath)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the tunables YAML file (required)")
	rootCmd.MarkFlagRequired("config")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "httpcored: %v\n", err)
		os.Exit(1)
	}
}

func run(path string) error {
	tunables, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.Default()

	server, err := httpcore.NewServer(tunables.Params(), &httpcore.Options{Logger: logger})
	if err != nil {
		return fmt.Errorf("new server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Printf("httpcored: caught signal %v, quiescing", sig)

	server.Quiesce()
	return server.Close()
}
