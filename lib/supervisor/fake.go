// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"io"
	"slices"
	"sync"
)

// FakeStarter is a Starter for tests. It hands out sequential PIDs,
// records every start, and can be told to fail.
type FakeStarter struct {
	// HoldOutput keeps each process's output open until the test
	// closes it. By default output is closed at start, so Spawn
	// returns without waiting for the capture window.
	HoldOutput bool

	mu       sync.Mutex
	nextPID  int
	failures []error
	starts   []FakeStart
	started  chan *FakeProcess
}

// FakeStart is one recorded Start call.
type FakeStart struct {
	Command     []string
	Environment []string
}

// NewFakeStarter returns a FakeStarter whose first process gets
// firstPID.
func NewFakeStarter(firstPID int) *FakeStarter {
	return &FakeStarter{
		nextPID: firstPID,
		started: make(chan *FakeProcess, 64),
	}
}

// FailNext makes the next Start return err.
func (f *FakeStarter) FailNext(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, err)
}

// Starts returns a copy of the recorded Start calls, failed ones
// included.
func (f *FakeStarter) Starts() []FakeStart {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.starts)
}

// Started delivers each successfully started process.
func (f *FakeStarter) Started() <-chan *FakeProcess {
	return f.started
}

// Start implements Starter.
func (f *FakeStarter) Start(command []string, environment []string) (Process, error) {
	f.mu.Lock()
	f.starts = append(f.starts, FakeStart{
		Command:     slices.Clone(command),
		Environment: slices.Clone(environment),
	})
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		f.mu.Unlock()
		return nil, err
	}
	pid := f.nextPID
	f.nextPID++
	hold := f.HoldOutput
	f.mu.Unlock()

	reader, writer := io.Pipe()
	process := &FakeProcess{
		pid:     pid,
		command: slices.Clone(command),
		reader:  reader,
		writer:  writer,
		exit:    make(chan int, 1),
	}
	if !hold {
		writer.Close()
	}
	f.started <- process
	return process, nil
}

// FakeProcess is a process started by FakeStarter.
type FakeProcess struct {
	pid     int
	command []string
	reader  *io.PipeReader
	writer  *io.PipeWriter
	exit    chan int
}

func (p *FakeProcess) PID() int { return p.pid }

// Command returns the argv the process was started with.
func (p *FakeProcess) Command() []string { return slices.Clone(p.command) }

func (p *FakeProcess) Output() io.ReadCloser { return p.reader }

// WriteOutput writes to the process's output stream. It blocks until
// the supervisor reads the data.
func (p *FakeProcess) WriteOutput(text string) error {
	_, err := io.WriteString(p.writer, text)
	return err
}

// CloseOutput ends the output stream.
func (p *FakeProcess) CloseOutput() { p.writer.Close() }

// Exit makes Wait return code.
func (p *FakeProcess) Exit(code int) {
	select {
	case p.exit <- code:
	default:
	}
}

func (p *FakeProcess) Wait() (int, error) {
	return <-p.exit, nil
}
