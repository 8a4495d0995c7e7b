package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/teslashibe/go-avatarcam/internal/config"
	"github.com/teslashibe/go-avatarcam/internal/log"
	"github.com/teslashibe/go-avatarcam/pkg/app"
	"github.com/teslashibe/go-avatarcam/pkg/debug"
)

// Version is the application version.
const Version = "0.1.0"

var (
	// cfg is loaded before any subcommand runs
	cfg *config.Config

	configPath  string
	logLevel    string
	debugMode   bool
	debugFrames bool
)

var rootCmd = &cobra.Command{
	Use:   "avatarcam",
	Short: "Drive a virtual webcam with an animated avatar that follows your pose",
	Long: `avatarcam captures a camera, estimates body pose and face landmarks,
renders an avatar that follows them and publishes the result as a
virtual camera other applications can open.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded

		if cmd.Flags().Changed("log-level") {
			cfg.LogLevel = logLevel
		} else if debugMode {
			cfg.LogLevel = "debug"
		}
		log.Init(cfg.LogLevel)

		debug.Enabled = debugMode
		debug.Frames = debugFrames
		return nil
	},
}

// Execute runs the root command until it finishes or the process is signalled.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "avatarcam:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&debugFrames, "debug-frames", false, "Log every render tick, relay send and emitted frame")
}

// runApp drives one app through its lifecycle.
func runApp(ctx context.Context, mode app.Mode) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	a, err := app.New(cfg, mode)
	if err != nil {
		return err
	}
	defer a.Shutdown()

	if err := a.Init(ctx); err != nil {
		return err
	}
	return a.Run(ctx)
}
