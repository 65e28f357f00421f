// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package logging builds the structured loggers used by the portal
// binaries.
//
// When the destination is a terminal the logger uses slog.TextHandler
// for human-readable output; when it is piped or redirected (systemd,
// CI, log shippers) it uses slog.JSONHandler. Components never build
// their own loggers: they receive a *slog.Logger and scope it with
// With().
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"
)

// Format selects the handler.
type Format string

const (
	FormatAuto Format = "auto"
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Options configures New. The zero value logs at info level to stderr
// with the format chosen by whether stderr is a terminal.
type Options struct {
	Level  slog.Level
	Format Format
	Writer io.Writer
}

// New creates a logger from options.
func New(options Options) *slog.Logger {
	writer := options.Writer
	if writer == nil {
		writer = os.Stderr
	}

	handlerOptions := &slog.HandlerOptions{Level: options.Level}
	var handler slog.Handler
	if useText(options.Format, writer) {
		handler = slog.NewTextHandler(writer, handlerOptions)
	} else {
		handler = slog.NewJSONHandler(writer, handlerOptions)
	}
	return slog.New(handler)
}

func useText(format Format, writer io.Writer) bool {
	switch format {
	case FormatText:
		return true
	case FormatJSON:
		return false
	}
	return IsTerminal(writer)
}

// IsTerminal reports whether writer is a file attached to a terminal.
func IsTerminal(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(file.Fd()))
}

// ParseLevel accepts debug, info, warn and error, case-insensitively.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q (want debug, info, warn or error)", name)
	}
}

// ParseFormat accepts auto, text and json.
func ParseFormat(name string) (Format, error) {
	switch Format(strings.ToLower(name)) {
	case FormatAuto, "":
		return FormatAuto, nil
	case FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown log format %q (want auto, text or json)", name)
	}
}
