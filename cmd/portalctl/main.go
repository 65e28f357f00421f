// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/portal/lib/client"
	"github.com/bureau-foundation/portal/lib/config"
	"github.com/bureau-foundation/portal/lib/ipc"
	"github.com/bureau-foundation/portal/lib/netutil"
	"github.com/bureau-foundation/portal/lib/peer"
	"github.com/bureau-foundation/portal/lib/process"
	"github.com/bureau-foundation/portal/lib/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		process.Fatal(err)
	}
}

// subcommands maps each verb to the operator operation it sends.
// status is handled separately.
var subcommands = map[string]ipc.Operation{
	"start":    ipc.OperationStart,
	"reload":   ipc.OperationReload,
	"reset":    ipc.OperationReset,
	"stop":     ipc.OperationShutdownCore,
	"shutdown": ipc.OperationShutdownAll,
}

// acceptsLaunchCommand lists the verbs that may carry "-- command...".
var acceptsLaunchCommand = map[string]bool{
	"start":  true,
	"reload": true,
	"reset":  true,
}

// CommandFailedError reports an operator command the gateway answered
// with success=false.
type CommandFailedError struct {
	Verb    string
	Message string
}

func (e *CommandFailedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Verb, e.Message)
}

// ExitCode distinguishes a refused command from a transport failure.
func (e *CommandFailedError) ExitCode() int { return 2 }

type options struct {
	address     string
	configPath  string
	timeout     time.Duration
	jsonOutput  bool
	showVersion bool

	verb   string
	launch []string
}

func parseFlags(args []string) (options, error) {
	var opts options
	flags := pflag.NewFlagSet("portalctl", pflag.ContinueOnError)
	flags.StringVar(&opts.address, "address", "", "gateway address (unix:/path or tcp:host:port)")
	flags.StringVar(&opts.configPath, "config", "", "read the gateway address from this config file (default: $PORTAL_CONFIG)")
	flags.DurationVar(&opts.timeout, "timeout", 30*time.Second, "time limit for the whole exchange")
	flags.BoolVar(&opts.jsonOutput, "json", false, "output as JSON")
	flags.BoolVar(&opts.showVersion, "version", false, "print version information and exit")
	flags.SetInterspersed(false)
	if err := flags.Parse(args); err != nil {
		return options{}, err
	}
	if opts.showVersion {
		return opts, nil
	}

	positional := flags.Args()
	if len(positional) == 0 {
		return options{}, fmt.Errorf("missing command: want status, start, reload, reset, stop or shutdown")
	}
	opts.verb = positional[0]
	rest := positional[1:]

	if _, known := subcommands[opts.verb]; !known && opts.verb != "status" {
		return options{}, fmt.Errorf("unknown command %q: want status, start, reload, reset, stop or shutdown", opts.verb)
	}
	if len(rest) > 0 && rest[0] == "--" {
		rest = rest[1:]
		if len(rest) == 0 {
			return options{}, fmt.Errorf("%s: no launch command after --", opts.verb)
		}
		if !acceptsLaunchCommand[opts.verb] {
			return options{}, fmt.Errorf("%s does not take a launch command", opts.verb)
		}
		opts.launch = rest
	} else if len(rest) > 0 {
		return options{}, fmt.Errorf("%s: unexpected arguments %v (put a launch command after --)", opts.verb, rest)
	}
	return opts, nil
}

// resolveAddress prefers --address, then the listen address of the
// configured gateway.
func resolveAddress(opts options) (netutil.Address, error) {
	if opts.address != "" {
		return netutil.ParseAddress(opts.address)
	}

	var (
		cfg *config.Config
		err error
	)
	switch {
	case opts.configPath != "":
		cfg, err = config.LoadFile(opts.configPath)
	case os.Getenv(config.EnvironmentVariable) != "":
		cfg, err = config.Load()
	default:
		return netutil.Address{}, fmt.Errorf("no gateway address: pass --address or --config, or set %s", config.EnvironmentVariable)
	}
	if err != nil {
		return netutil.Address{}, fmt.Errorf("loading config: %w", err)
	}
	return cfg.ListenAddress()
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	opts, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if opts.showVersion {
		version.Print("portalctl")
		return nil
	}

	address, err := resolveAddress(opts)
	if err != nil {
		return err
	}

	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	operator, err := client.DialOperator(ctx, address, peer.Config{})
	if err != nil {
		return fmt.Errorf("connecting to gateway at %s: %w", address, err)
	}
	defer operator.Close()

	printer := newPrinter(stdout, opts.jsonOutput)

	if opts.verb == "status" {
		status, err := operator.Status(ctx)
		if err != nil {
			return fmt.Errorf("status: %w", err)
		}
		return printer.status(address, status)
	}

	result, err := operator.Command(ctx, subcommands[opts.verb], opts.launch)
	if err != nil {
		return fmt.Errorf("%s: %w", opts.verb, err)
	}
	if err := printer.result(opts.verb, result); err != nil {
		return err
	}
	if !result.Success {
		return &CommandFailedError{Verb: opts.verb, Message: result.Message}
	}
	return nil
}
