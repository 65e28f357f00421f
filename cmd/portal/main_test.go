// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/portal/lib/client"
	"github.com/bureau-foundation/portal/lib/ipc"
	"github.com/bureau-foundation/portal/lib/netutil"
	"github.com/bureau-foundation/portal/lib/peer"
	"github.com/bureau-foundation/portal/lib/testutil"
)

const testTimeout = 5 * time.Second

func TestParseFlags(t *testing.T) {
	opts, err := parseFlags([]string{"--config", "/etc/portal.yaml", "--log-level", "debug", "--listen", "unix:/tmp/p.sock"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if opts.configPath != "/etc/portal.yaml" || opts.logLevel != "debug" || opts.listen != "unix:/tmp/p.sock" {
		t.Errorf("unexpected options %+v", opts)
	}

	if _, err := parseFlags([]string{"stray"}); err == nil {
		t.Error("expected error for positional arguments")
	}
	if _, err := parseFlags([]string{"--no-such-flag"}); err == nil {
		t.Error("expected error for unknown flag")
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "portal.yaml")
	if err := os.WriteFile(configPath, []byte("wire:\n  compression: gzip\n"), 0644); err != nil {
		t.Fatal(err)
	}
	err := run(context.Background(), []string{"--config", configPath}, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "wire.compression") {
		t.Fatalf("run() = %v, want wire.compression error", err)
	}
}

func TestRunServesUntilShutdown(t *testing.T) {
	socket := filepath.Join(testutil.SocketDir(t), "portal.sock")
	configPath := filepath.Join(t.TempDir(), "portal.yaml")
	content := "gateway:\n  listen: unix:" + socket + "\ncore:\n  command: [run-core]\n"
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	var logs bytes.Buffer
	result := make(chan error, 1)
	go func() {
		result <- run(context.Background(), []string{"--config", configPath, "--log-format", "json"}, &logs)
	}()

	address := netutil.Address{Network: "unix", Address: socket}
	operator := dialWhenReady(t, address)
	defer operator.Close()

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	status, err := operator.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.PortalUp || status.CoreUp || status.CorePID != nil {
		t.Errorf("unexpected status %+v", status)
	}

	reply, err := operator.Command(ctx, ipc.OperationShutdownAll, nil)
	if err != nil {
		t.Fatalf("Command: %v", err)
	}
	if !reply.Success || reply.Message != "Shutting down gateway." {
		t.Errorf("unexpected reply %+v", reply)
	}

	if err := testutil.RequireReceive(t, result, testTimeout, "run returned"); err != nil {
		t.Fatalf("run() = %v", err)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	socket := filepath.Join(testutil.SocketDir(t), "portal.sock")
	configPath := filepath.Join(t.TempDir(), "portal.yaml")
	content := "gateway:\n  listen: unix:" + socket + "\n  shutdown_grace: 2s\n"
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() {
		result <- run(ctx, []string{"--config", configPath}, &bytes.Buffer{})
	}()

	operator := dialWhenReady(t, netutil.Address{Network: "unix", Address: socket})
	cancel()

	testutil.RequireClosed(t, operator.Done(), testTimeout, "operator connection closed")
	if err := testutil.RequireReceive(t, result, testTimeout, "run returned"); err != nil {
		t.Fatalf("run() = %v", err)
	}
}

// dialWhenReady retries until run has bound the socket.
func dialWhenReady(t *testing.T, address netutil.Address) *client.Operator {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		operator, err := client.DialOperator(ctx, address, peer.Config{})
		cancel()
		if err == nil {
			return operator
		}
		if time.Now().After(deadline) {
			t.Fatalf("gateway never came up: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
