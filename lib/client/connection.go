// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"io"

	"github.com/bureau-foundation/portal/lib/peer"
)

// connection runs a peer's read loop for the lifetime of a client.
type connection struct {
	peer   *peer.Peer
	cancel context.CancelFunc
}

func startConnection(conn io.ReadWriteCloser, table *peer.Table, config peer.Config) connection {
	ctx, cancel := context.WithCancel(context.Background())
	p := peer.New(conn, table, config)
	go func() {
		if err := p.Serve(ctx); err != nil {
			p.Logger().Warn("gateway connection ended with error", "error", err)
		}
	}()
	return connection{peer: p, cancel: cancel}
}

// Done is closed when the connection to the gateway is gone.
func (c connection) Done() <-chan struct{} { return c.peer.Done() }

// Close disconnects from the gateway.
func (c connection) Close() error {
	c.cancel()
	return c.peer.Close()
}
