package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"workwatch/internal/config"
	"workwatch/internal/logging"
)

// Version is the application version.
const Version = "0.3.0"

var configPath string

var rootCmd = &cobra.Command{
	Use:           "workwatch",
	Short:         "Debounce workstation detections into alerts and notify operators",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "workwatch.yaml", "path to the YAML or JSON config file")
}

// loadManager reads the config file. A missing file means built-in defaults
// that are never reloaded.
func loadManager() (*config.Manager, error) {
	path := config.ResolvePath(configPath)
	m, err := config.NewManager(path)
	if errors.Is(err, fs.ErrNotExist) {
		return config.NewStaticManager(config.DefaultConfig()), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return m, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	return logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
}
