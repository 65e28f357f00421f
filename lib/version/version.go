// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"os"
	"runtime"
)

// These variables are set via -ldflags at build time, for example:
//
//	go build -ldflags "-X github.com/bureau-foundation/portal/lib/version.GitCommit=$(git rev-parse --short HEAD)"
var (
	GitCommit = "unknown"
	GitDirty  = "false"
	BuildTime = "unknown"
	Version   = "0.1.0-dev"
)

// Info returns a one-line version string for --version output.
func Info() string {
	dirty := ""
	if GitDirty == "true" {
		dirty = "-dirty"
	}
	return fmt.Sprintf("%s (%s%s, %s)", Version, GitCommit, dirty, BuildTime)
}

// Full returns Info plus the Go toolchain and platform.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Print writes "<binary> <Info>" to stdout.
func Print(binary string) {
	fmt.Fprintf(os.Stdout, "%s %s\n", binary, Info())
}
