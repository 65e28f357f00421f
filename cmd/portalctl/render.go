// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/bureau-foundation/portal/lib/ipc"
	"github.com/bureau-foundation/portal/lib/logging"
	"github.com/bureau-foundation/portal/lib/netutil"
)

// printer renders replies either as indented JSON or as a small
// styled table. Styling follows the writer's color profile, so piped
// output carries no escape codes.
type printer struct {
	writer     io.Writer
	jsonOutput bool

	label   lipgloss.Style
	up      lipgloss.Style
	down    lipgloss.Style
	muted   lipgloss.Style
	failure lipgloss.Style
}

func newPrinter(writer io.Writer, jsonOutput bool) *printer {
	renderer := lipgloss.NewRenderer(writer)
	if !logging.IsTerminal(writer) {
		renderer.SetColorProfile(termenv.Ascii)
	}
	return &printer{
		writer:     writer,
		jsonOutput: jsonOutput,
		label:      renderer.NewStyle().Bold(true).Width(18),
		up:         renderer.NewStyle().Foreground(lipgloss.Color("2")),
		down:       renderer.NewStyle().Foreground(lipgloss.Color("1")),
		muted:      renderer.NewStyle().Faint(true),
		failure:    renderer.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
	}
}

type statusView struct {
	Address         string `json:"address"`
	PortalUp        bool   `json:"portal_up"`
	CoreUp          bool   `json:"core_up"`
	GatewayPID      int    `json:"gateway_pid"`
	CorePID         *int   `json:"core_pid"`
	CoreAlive       bool   `json:"core_alive"`
	RestartExpected bool   `json:"restart_expected"`
	Sessions        int    `json:"sessions"`
}

type resultView struct {
	Command string `json:"command"`
	Success bool   `json:"success"`
	Message string `json:"message"`
	PID     *int   `json:"pid,omitempty"`
}

func (p *printer) emitJSON(value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	_, err = fmt.Fprintf(p.writer, "%s\n", data)
	return err
}

func (p *printer) status(address netutil.Address, status ipc.StatusReply) error {
	if p.jsonOutput {
		return p.emitJSON(statusView{
			Address:         address.String(),
			PortalUp:        status.PortalUp,
			CoreUp:          status.CoreUp,
			GatewayPID:      status.GatewayPID,
			CorePID:         status.CorePID,
			CoreAlive:       status.CoreAlive,
			RestartExpected: status.RestartExpected,
			Sessions:        status.Sessions,
		})
	}

	corePID := p.muted.Render("none")
	if status.CorePID != nil {
		corePID = strconv.Itoa(*status.CorePID)
	}
	rows := [][2]string{
		{"gateway", address.String()},
		{"gateway pid", strconv.Itoa(status.GatewayPID)},
		{"portal", p.state(status.PortalUp, "up", "down")},
		{"core", p.state(status.CoreUp, "connected", "disconnected")},
		{"core pid", corePID},
		{"core process", p.state(status.CoreAlive, "running", "not running")},
		{"sessions", strconv.Itoa(status.Sessions)},
	}
	if status.RestartExpected {
		rows = append(rows, [2]string{"restart", "expected"})
	}
	for _, row := range rows {
		if _, err := fmt.Fprintln(p.writer, p.label.Render(row[0])+row[1]); err != nil {
			return err
		}
	}
	return nil
}

func (p *printer) state(ok bool, yes, no string) string {
	if ok {
		return p.up.Render(yes)
	}
	return p.down.Render(no)
}

func (p *printer) result(verb string, result ipc.OperatorResult) error {
	if p.jsonOutput {
		return p.emitJSON(resultView{
			Command: verb,
			Success: result.Success,
			Message: result.Message,
			PID:     result.PID,
		})
	}
	if result.Success {
		_, err := fmt.Fprintln(p.writer, result.Message)
		return err
	}
	_, err := fmt.Fprintln(p.writer, p.failure.Render(result.Message))
	return err
}
