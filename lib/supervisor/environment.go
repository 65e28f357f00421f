// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"os"
	"path/filepath"
	"strings"
)

// DefaultSearchPathVariable names the variable through which the core
// finds its modules.
const DefaultSearchPathVariable = "PORTAL_SEARCH_PATH"

// BuildSearchPath assembles the core's search path: the configured
// entries, then the gateway executable's directory, then the working
// directory, then whatever the variable held before. Empty and
// repeated entries are dropped; the first occurrence wins.
func BuildSearchPath(configured []string, executableDirectory, workingDirectory, previous string) string {
	candidates := make([]string, 0, len(configured)+3)
	candidates = append(candidates, configured...)
	candidates = append(candidates, executableDirectory, workingDirectory)
	if previous != "" {
		candidates = append(candidates, filepath.SplitList(previous)...)
	}

	seen := make(map[string]bool, len(candidates))
	entries := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		if candidate == "" || seen[candidate] {
			continue
		}
		seen[candidate] = true
		entries = append(entries, candidate)
	}
	return strings.Join(entries, string(os.PathListSeparator))
}

// setVariable returns a copy of environment with name set to value,
// replacing any existing assignment.
func setVariable(environment []string, name, value string) []string {
	prefix := name + "="
	result := make([]string, 0, len(environment)+1)
	for _, entry := range environment {
		if strings.HasPrefix(entry, prefix) {
			continue
		}
		result = append(result, entry)
	}
	return append(result, prefix+value)
}

func lookupVariable(environment []string, name string) string {
	prefix := name + "="
	value := ""
	for _, entry := range environment {
		if strings.HasPrefix(entry, prefix) {
			value = entry[len(prefix):]
		}
	}
	return value
}

// Environment returns the environment a newly spawned core receives:
// a copy of the gateway's environment with the search-path variable
// rebuilt.
func (s *Supervisor) Environment() []string {
	base := s.config.Environ()

	executableDirectory := ""
	if executable, err := s.config.Executable(); err == nil {
		executableDirectory = filepath.Dir(executable)
	} else {
		s.logger.Debug("cannot resolve gateway executable", "error", err)
	}
	workingDirectory, err := s.config.WorkingDirectory()
	if err != nil {
		s.logger.Debug("cannot resolve working directory", "error", err)
		workingDirectory = ""
	}

	variable := s.config.SearchPathVariable
	searchPath := BuildSearchPath(s.config.SearchPath, executableDirectory, workingDirectory,
		lookupVariable(base, variable))
	return setVariable(base, variable, searchPath)
}
