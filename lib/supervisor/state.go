// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/bureau-foundation/portal/lib/codec"
)

// Record is the process record. It persists across core restarts.
type Record struct {
	// PID is the running core's process ID, or 0 when no core was
	// started or the last spawn failed.
	PID int `cbor:"pid"`

	// Command is the exact argv of the last successful start. Nil
	// until the first one.
	Command []string `cbor:"command"`

	// StartedAt is when the recorded PID was spawned.
	StartedAt time.Time `cbor:"started_at"`
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	r.Command = slices.Clone(r.Command)
	return r
}

// SaveRecord atomically writes record to path: the data goes to a
// temporary file in the same directory, is fsynced, and is renamed
// into place. Readers never see a partial write.
func SaveRecord(path string, record Record) error {
	data, err := codec.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding process record: %w", err)
	}

	temporaryPath := path + ".tmp"
	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating temporary state file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary state file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary state file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary state file: %w", err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming state file into place: %w", err)
	}

	if directory, err := os.Open(filepath.Dir(path)); err == nil {
		directory.Sync()
		directory.Close()
	}
	return nil
}

// LoadRecord reads a record written by SaveRecord. A missing file
// returns an error wrapping os.ErrNotExist.
func LoadRecord(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, err
	}
	var record Record
	if err := codec.Unmarshal(data, &record); err != nil {
		return Record{}, fmt.Errorf("parsing state file %s: %w", path, err)
	}
	return record, nil
}
