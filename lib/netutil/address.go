// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"time"
)

// Address is a parsed listen or dial address of the form
// "unix:/path/to.sock" or "tcp:host:port". A bare path starting with
// "/" is treated as a Unix socket.
type Address struct {
	Network string
	Address string
}

func (a Address) String() string {
	return a.Network + ":" + a.Address
}

// ParseAddress parses a portal address string.
func ParseAddress(raw string) (Address, error) {
	if raw == "" {
		return Address{}, fmt.Errorf("empty address")
	}
	if strings.HasPrefix(raw, "/") {
		return Address{Network: "unix", Address: raw}, nil
	}
	network, rest, found := strings.Cut(raw, ":")
	if !found || rest == "" {
		return Address{}, fmt.Errorf("address %q: expected unix:<path> or tcp:<host>:<port>", raw)
	}
	switch network {
	case "unix":
		return Address{Network: "unix", Address: rest}, nil
	case "tcp", "tcp4", "tcp6":
		if _, _, err := net.SplitHostPort(rest); err != nil {
			return Address{}, fmt.Errorf("address %q: %w", raw, err)
		}
		return Address{Network: network, Address: rest}, nil
	default:
		return Address{}, fmt.Errorf("address %q: unsupported network %q", raw, network)
	}
}

// Listen listens on a. For Unix sockets any stale socket file is
// removed first.
func Listen(a Address) (net.Listener, error) {
	if a.Network == "unix" {
		if err := os.Remove(a.Address); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("removing stale socket %s: %w", a.Address, err)
		}
	}
	listener, err := net.Listen(a.Network, a.Address)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", a, err)
	}
	return listener, nil
}

// dialTimeout bounds the connect phase only.
const dialTimeout = 5 * time.Second

// Dial connects to a.
func Dial(ctx context.Context, a Address) (net.Conn, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, a.Network, a.Address)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", a, err)
	}
	return conn, nil
}
