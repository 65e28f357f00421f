// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the portal gateway
// and portalctl.
//
// Configuration is loaded from a single file specified by either the
// PORTAL_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks and no automatic file
// search. YAML is the native format; files ending in .json or .jsonc
// are accepted as JSON with comments and trailing commas.
//
// The file may contain environment-specific sections (development,
// staging, production) that override base values when
// [Config].Environment matches. Production disables core autostart
// unless its section says otherwise.
//
// Variable expansion is performed on the listen address, the state
// file, the core command and the search path after loading:
// ${HOME} and ${VAR:-default} patterns are expanded.
//
// Key exports:
//
//   - [Config] -- master struct with Gateway, Core and Wire sections
//   - [Default] -- returns a Config with development defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
//   - [Config.WireOptions] and [Config.ListenAddress] -- typed views
package config
