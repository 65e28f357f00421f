// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
)

// Starter launches a process. ExecStarter is the production
// implementation; tests substitute their own.
type Starter interface {
	Start(command []string, environment []string) (Process, error)
}

// Process is a started child.
type Process interface {
	PID() int
	// Output is the merged stdout and stderr stream. The supervisor
	// reads it to EOF and closes it.
	Output() io.ReadCloser
	// Wait blocks until the process exits and returns its exit code
	// (-1 when it did not exit normally).
	Wait() (int, error)
}

// ExecStarter starts processes with os/exec.
type ExecStarter struct {
	// Directory is the child's working directory. Empty means the
	// gateway's own.
	Directory string
}

// Start launches command in its own process group, so a terminal
// interrupt aimed at the gateway does not also hit the core.
func (s ExecStarter) Start(command []string, environment []string) (Process, error) {
	if len(command) == 0 {
		return nil, ErrEmptyCommand
	}

	// One pipe for both streams keeps the interleaving the child
	// produced.
	reader, writer, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating output pipe: %w", err)
	}

	cmd := exec.Command(command[0], command[1:]...)
	cmd.Env = environment
	cmd.Dir = s.Directory
	cmd.Stdout = writer
	cmd.Stderr = writer
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		reader.Close()
		writer.Close()
		return nil, err
	}
	// The child holds its own copy of the write end; closing ours makes
	// the reader see EOF once the child closes its streams.
	writer.Close()

	return &execProcess{cmd: cmd, output: reader}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	output *os.File
}

func (p *execProcess) PID() int { return p.cmd.Process.Pid }

func (p *execProcess) Output() io.ReadCloser { return p.output }

func (p *execProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitError *exec.ExitError
	if errors.As(err, &exitError) {
		return exitError.ExitCode(), err
	}
	return -1, err
}
