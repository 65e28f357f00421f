// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"os"
)

// ExitCoder is implemented by errors that carry a specific process
// exit status (portalctl uses it to report a failed operator command
// with status 2).
type ExitCoder interface {
	ExitCode() int
}

// Fatal writes "error: err" to stderr and exits. The exit status is
// taken from err when it implements ExitCoder, and is 1 otherwise.
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	var coder ExitCoder
	if errors.As(err, &coder) {
		os.Exit(coder.ExitCode())
	}
	os.Exit(1)
}
