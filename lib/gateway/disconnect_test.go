// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"errors"
	"log/slog"
	"slices"
	"testing"

	"github.com/google/uuid"
)

func TestDisconnectSequencerLastRegistrationWins(t *testing.T) {
	var fired []DisconnectAction
	sequencer := NewDisconnectSequencer(func(action DisconnectAction) error {
		fired = append(fired, action)
		return nil
	}, slog.New(slog.DiscardHandler))

	connection := uuid.New()
	sequencer.OnDisconnect(connection, RespawnCore([]string{"first"}))
	sequencer.OnDisconnect(connection, ShutdownGateway())
	sequencer.OnDisconnect(connection, RespawnCore([]string{"run-core"}))

	if pending, ok := sequencer.Pending(connection); !ok || pending.Kind != ActionRespawnCore {
		t.Fatalf("Pending = %+v, %v", pending, ok)
	}

	sequencer.Fire(connection)
	sequencer.Fire(connection)

	if len(fired) != 1 {
		t.Fatalf("fired %d actions, want exactly 1", len(fired))
	}
	if fired[0].Kind != ActionRespawnCore || !slices.Equal(fired[0].Command, []string{"run-core"}) {
		t.Errorf("fired %+v, want the last registration", fired[0])
	}
	if _, ok := sequencer.Pending(connection); ok {
		t.Error("action still pending after fire")
	}
}

func TestDisconnectSequencerKeysByConnection(t *testing.T) {
	var fired []ActionKind
	sequencer := NewDisconnectSequencer(func(action DisconnectAction) error {
		fired = append(fired, action.Kind)
		return nil
	}, slog.New(slog.DiscardHandler))

	first, second := uuid.New(), uuid.New()
	sequencer.OnDisconnect(first, ShutdownGateway())
	sequencer.OnDisconnect(second, RespawnCore([]string{"run-core"}))

	sequencer.Fire(second)
	if !slices.Equal(fired, []ActionKind{ActionRespawnCore}) {
		t.Fatalf("fired = %v", fired)
	}
	sequencer.Fire(uuid.New())
	sequencer.Fire(first)
	if !slices.Equal(fired, []ActionKind{ActionRespawnCore, ActionShutdownGateway}) {
		t.Fatalf("fired = %v", fired)
	}
}

func TestDisconnectSequencerContainsFailures(t *testing.T) {
	calls := 0
	sequencer := NewDisconnectSequencer(func(action DisconnectAction) error {
		calls++
		if action.Kind == ActionShutdownGateway {
			panic("shutdown hook exploded")
		}
		return errors.New("spawn failed")
	}, slog.New(slog.DiscardHandler))

	failing, panicking := uuid.New(), uuid.New()
	sequencer.OnDisconnect(failing, RespawnCore([]string{"run-core"}))
	sequencer.OnDisconnect(panicking, ShutdownGateway())

	sequencer.Fire(failing)
	sequencer.Fire(panicking)
	if calls != 2 {
		t.Errorf("runner called %d times, want 2", calls)
	}
}

func TestRespawnCoreCopiesCommand(t *testing.T) {
	command := []string{"run-core"}
	action := RespawnCore(command)
	command[0] = "mutated"
	if action.Command[0] != "run-core" {
		t.Error("RespawnCore aliases the caller's slice")
	}
}
