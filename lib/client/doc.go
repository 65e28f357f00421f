// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package client holds the two clients of the gateway's control
// channel: Operator, used by the portalctl tool, and Core, the core
// process's half of the protocol.
//
//	operator, err := client.DialOperator(ctx, address, peer.Config{})
//	if err != nil {
//	    return err
//	}
//	defer operator.Close()
//	status, err := operator.Status(ctx)
package client
