// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/portal/lib/config"
	"github.com/bureau-foundation/portal/lib/gateway"
	"github.com/bureau-foundation/portal/lib/logging"
	"github.com/bureau-foundation/portal/lib/netutil"
	"github.com/bureau-foundation/portal/lib/peer"
	"github.com/bureau-foundation/portal/lib/process"
	"github.com/bureau-foundation/portal/lib/session"
	"github.com/bureau-foundation/portal/lib/supervisor"
	"github.com/bureau-foundation/portal/lib/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		process.Fatal(err)
	}
}

type options struct {
	configPath  string
	logLevel    string
	logFormat   string
	listen      string
	showVersion bool
}

func parseFlags(args []string) (options, error) {
	var opts options
	flags := pflag.NewFlagSet("portal", pflag.ContinueOnError)
	flags.StringVar(&opts.configPath, "config", "", "path to config file (default: $PORTAL_CONFIG)")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	flags.StringVar(&opts.logFormat, "log-format", "auto", "log format: auto, text or json")
	flags.StringVar(&opts.listen, "listen", "", "override gateway.listen from the config file")
	flags.BoolVar(&opts.showVersion, "version", false, "print version information and exit")
	if err := flags.Parse(args); err != nil {
		return options{}, err
	}
	if flags.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %v", flags.Args())
	}
	return opts, nil
}

func loadConfig(opts options) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.configPath != "" {
		cfg, err = config.LoadFile(opts.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if opts.listen != "" {
		cfg.Gateway.Listen = opts.listen
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, args []string, logOutput io.Writer) error {
	opts, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if opts.showVersion {
		fmt.Fprintf(os.Stdout, "portal %s\n", version.Full())
		return nil
	}

	level, err := logging.ParseLevel(opts.logLevel)
	if err != nil {
		return err
	}
	format, err := logging.ParseFormat(opts.logFormat)
	if err != nil {
		return err
	}
	logger := logging.New(logging.Options{Level: level, Format: format, Writer: logOutput})

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	address, err := cfg.ListenAddress()
	if err != nil {
		return err
	}
	wireOptions, err := cfg.WireOptions()
	if err != nil {
		return err
	}

	processes := supervisor.New(supervisor.Config{
		Starter:            supervisor.ExecStarter{},
		CaptureWindow:      cfg.Core.CaptureWindow,
		SearchPathVariable: cfg.Core.SearchPathVariable,
		SearchPath:         cfg.Core.SearchPath,
		StateFile:          cfg.Gateway.StateFile,
		Logger:             logger.With("component", "supervisor"),
	})
	sessions := session.NewRegistry(nil, logger.With("component", "sessions"))
	gw := gateway.New(gateway.Config{
		Supervisor: processes,
		Sessions:   sessions,
		Peer: peer.Config{
			Options:          wireOptions,
			CallTimeout:      cfg.Wire.CallTimeout,
			MaxCorruptFrames: cfg.Wire.MaxCorruptFrames,
		},
		Logger: logger.With("component", "gateway"),
	})
	sessions.SetForwarder(gw.SendToCore)

	listener, err := netutil.Listen(address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", address, err)
	}

	logger.Info("starting portal",
		"version", version.Info(),
		"environment", cfg.Environment,
		"listen", address.String(),
		"compression", wireOptions.Compression.String(),
	)

	serveContext, cancel := context.WithCancel(ctx)
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- gw.Serve(serveContext, listener) }()

	if err := startCore(serveContext, cfg, processes, logger); err != nil {
		logger.Error("autostart failed", "error", err)
	}

	select {
	case err := <-served:
		return err
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	}

	cancel()
	return waitForDrain(served, cfg.Gateway.ShutdownGrace, logger)
}

// startCore launches the configured core when autostart is on, and
// otherwise only records the command for a later operator start.
func startCore(ctx context.Context, cfg *config.Config, processes *supervisor.Supervisor, logger *slog.Logger) error {
	if len(cfg.Core.Command) == 0 {
		return nil
	}
	if !cfg.Core.Autostart {
		processes.RecordCommand(cfg.Core.Command)
		return nil
	}
	pid, err := processes.Spawn(ctx, cfg.Core.Command)
	if err != nil {
		return err
	}
	logger.Info("core autostarted", "pid", pid)
	return nil
}

func waitForDrain(served <-chan error, grace time.Duration, logger *slog.Logger) error {
	if grace <= 0 {
		return <-served
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case err := <-served:
		logger.Info("shutdown complete")
		return err
	case <-timer.C:
		return fmt.Errorf("connections still open after %s", grace)
	}
}
