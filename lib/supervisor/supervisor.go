// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/portal/lib/clock"
)

// DefaultCaptureWindow is how long core output is forwarded to the
// log after a spawn.
const DefaultCaptureWindow = 5 * time.Second

// maxOutputLine bounds one forwarded line. Longer lines end the
// capture early; the rest of the stream is still drained.
const maxOutputLine = 1 << 20

// ErrEmptyCommand is returned when a spawn is requested with no argv.
var ErrEmptyCommand = errors.New("empty launch command")

// SpawnError reports a failed core launch.
type SpawnError struct {
	Command []string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawning core %q: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Config configures a Supervisor. Only Starter is required.
type Config struct {
	Starter Starter

	// CaptureWindow bounds how long startup output is forwarded.
	// Zero means DefaultCaptureWindow.
	CaptureWindow time.Duration

	// SearchPathVariable is the environment variable rebuilt for the
	// core. Empty means DefaultSearchPathVariable.
	SearchPathVariable string
	// SearchPath entries come first in the rebuilt variable.
	SearchPath []string

	// StateFile, when set, receives the record after every change.
	StateFile string

	Clock  clock.Clock
	Logger *slog.Logger

	// Environ, Executable, WorkingDirectory and Probe default to
	// os.Environ, os.Executable, os.Getwd and a signal-0 probe.
	Environ          func() []string
	Executable       func() (string, error)
	WorkingDirectory func() (string, error)
	Probe            func(pid int) bool
}

// Supervisor owns the process record and spawns cores.
type Supervisor struct {
	config Config
	logger *slog.Logger

	// spawnMu serializes launches so two concurrent requests cannot
	// interleave their record updates.
	spawnMu sync.Mutex

	mu     sync.Mutex
	record Record

	saveMu sync.Mutex
}

// New creates a Supervisor. If a state file is configured and
// readable, the record starts from its contents.
func New(config Config) *Supervisor {
	if config.CaptureWindow <= 0 {
		config.CaptureWindow = DefaultCaptureWindow
	}
	if config.SearchPathVariable == "" {
		config.SearchPathVariable = DefaultSearchPathVariable
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.Environ == nil {
		config.Environ = os.Environ
	}
	if config.Executable == nil {
		config.Executable = os.Executable
	}
	if config.WorkingDirectory == nil {
		config.WorkingDirectory = os.Getwd
	}
	if config.Probe == nil {
		config.Probe = signalProbe
	}

	s := &Supervisor{config: config, logger: config.Logger}
	if config.StateFile != "" {
		record, err := LoadRecord(config.StateFile)
		switch {
		case err == nil:
			s.record = record
			s.logger.Info("loaded process record",
				"path", config.StateFile,
				"pid", record.PID,
				"command", record.Command,
			)
		case errors.Is(err, os.ErrNotExist):
		default:
			s.logger.Warn("ignoring unreadable process record", "path", config.StateFile, "error", err)
		}
	}
	return s
}

// signalProbe reports whether pid exists. EPERM means it exists but
// belongs to someone else, which still counts.
func signalProbe(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// Spawn launches command as the core. On success the PID and command
// are recorded and the PID is returned; Spawn returns once the
// launched process closes its output, the capture window elapses, or
// ctx is cancelled, whichever is first. On failure only the PID is
// cleared and a *SpawnError is returned.
func (s *Supervisor) Spawn(ctx context.Context, command []string) (int, error) {
	s.spawnMu.Lock()
	defer s.spawnMu.Unlock()

	command = slices.Clone(command)
	if len(command) == 0 {
		return 0, s.spawnFailed(command, ErrEmptyCommand)
	}

	process, err := s.config.Starter.Start(command, s.Environment())
	if err != nil {
		return 0, s.spawnFailed(command, err)
	}

	pid := process.PID()
	s.update(func(record *Record) {
		record.PID = pid
		record.Command = command
		record.StartedAt = s.config.Clock.Now()
	})
	s.logger.Info("core started", "pid", pid, "command", command)

	go s.reap(process, pid)
	s.captureOutput(ctx, process.Output(), pid)
	return pid, nil
}

func (s *Supervisor) spawnFailed(command []string, err error) error {
	s.update(func(record *Record) { record.PID = 0 })
	s.logger.Error("starting core failed", "command", command, "error", err)
	return &SpawnError{Command: command, Err: err}
}

func (s *Supervisor) reap(process Process, pid int) {
	exitCode, err := process.Wait()
	s.logger.Info("core process exited",
		"pid", pid,
		"exit_code", exitCode,
		"error", err,
	)
}

// captureOutput forwards output lines to the log until EOF, the
// capture window, or ctx. A background reader keeps draining after
// forwarding stops so the child never blocks on a full pipe.
func (s *Supervisor) captureOutput(ctx context.Context, output io.ReadCloser, pid int) {
	lines := make(chan string)
	stop := make(chan struct{})

	go func() {
		defer output.Close()
		defer close(lines)

		scanner := bufio.NewScanner(output)
		scanner.Buffer(make([]byte, 0, 64*1024), maxOutputLine)
		forwarding := true
		for scanner.Scan() {
			if !forwarding {
				continue
			}
			select {
			case lines <- scanner.Text():
			case <-stop:
				forwarding = false
			}
		}
		if err := scanner.Err(); err != nil {
			s.logger.Debug("core output scan ended", "pid", pid, "error", err)
		}
		io.Copy(io.Discard, output)
	}()

	timeout := s.config.Clock.After(s.config.CaptureWindow)
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return
			}
			s.logger.Info("core output", "stream", "core", "pid", pid, "line", line)
		case <-timeout:
			close(stop)
			s.logger.Debug("core output capture window elapsed", "pid", pid)
			return
		case <-ctx.Done():
			close(stop)
			return
		}
	}
}

// RecordCommand stores command as the one to use for future respawns
// without starting anything.
func (s *Supervisor) RecordCommand(command []string) {
	command = slices.Clone(command)
	s.update(func(record *Record) { record.Command = command })
}

// CurrentProcessID returns the recorded core PID.
func (s *Supervisor) CurrentProcessID() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record.PID, s.record.PID != 0
}

// Command returns a copy of the recorded launch command.
func (s *Supervisor) Command() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.record.Command)
}

// Record returns a copy of the process record.
func (s *Supervisor) Record() Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record.Clone()
}

// Alive reports whether the recorded PID still names a process.
func (s *Supervisor) Alive() bool {
	pid, ok := s.CurrentProcessID()
	return ok && s.config.Probe(pid)
}

func (s *Supervisor) update(change func(*Record)) {
	s.mu.Lock()
	change(&s.record)
	s.mu.Unlock()

	if s.config.StateFile == "" {
		return
	}
	// Snapshot under saveMu so the last write to disk always carries
	// the latest record.
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	snapshot := s.Record()
	if err := SaveRecord(s.config.StateFile, snapshot); err != nil {
		s.logger.Warn("saving process record failed", "path", s.config.StateFile, "error", err)
	}
}
