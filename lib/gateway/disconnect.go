// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// ActionKind distinguishes disconnect actions.
type ActionKind int

const (
	// ActionRespawnCore starts a new core with the action's command.
	ActionRespawnCore ActionKind = iota + 1
	// ActionShutdownGateway stops the gateway.
	ActionShutdownGateway
)

func (k ActionKind) String() string {
	switch k {
	case ActionRespawnCore:
		return "respawn-core"
	case ActionShutdownGateway:
		return "shutdown-gateway"
	default:
		return fmt.Sprintf("action(%d)", int(k))
	}
}

// DisconnectAction is what to do once a connection has closed.
type DisconnectAction struct {
	Kind ActionKind
	// Command is the launch command for ActionRespawnCore.
	Command []string
}

// RespawnCore returns an action that starts a core with command.
func RespawnCore(command []string) DisconnectAction {
	return DisconnectAction{Kind: ActionRespawnCore, Command: slices.Clone(command)}
}

// ShutdownGateway returns an action that stops the gateway.
func ShutdownGateway() DisconnectAction {
	return DisconnectAction{Kind: ActionShutdownGateway}
}

// ActionRunner executes a fired action.
type ActionRunner func(action DisconnectAction) error

// DisconnectSequencer holds at most one pending action per connection
// and runs it when the connection closes.
type DisconnectSequencer struct {
	run    ActionRunner
	logger *slog.Logger

	mu      sync.Mutex
	actions map[uuid.UUID]DisconnectAction
}

// NewDisconnectSequencer returns a sequencer that executes fired
// actions with run.
func NewDisconnectSequencer(run ActionRunner, logger *slog.Logger) *DisconnectSequencer {
	return &DisconnectSequencer{
		run:     run,
		logger:  logger,
		actions: make(map[uuid.UUID]DisconnectAction),
	}
}

// OnDisconnect registers action for connectionID. A later
// registration replaces an earlier one.
func (s *DisconnectSequencer) OnDisconnect(connectionID uuid.UUID, action DisconnectAction) {
	s.mu.Lock()
	previous, replaced := s.actions[connectionID]
	s.actions[connectionID] = action
	s.mu.Unlock()

	if replaced {
		s.logger.Info("replacing pending disconnect action",
			"connection", connectionID.String(),
			"previous", previous.Kind,
			"action", action.Kind,
		)
	}
}

// Pending returns the action registered for connectionID, if any.
func (s *DisconnectSequencer) Pending(connectionID uuid.UUID) (DisconnectAction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	action, ok := s.actions[connectionID]
	return action, ok
}

// Fire removes and runs the action for connectionID. Errors and
// panics from the action are logged, never returned. Call it only
// after the connection's transport has closed.
func (s *DisconnectSequencer) Fire(connectionID uuid.UUID) {
	s.mu.Lock()
	action, ok := s.actions[connectionID]
	delete(s.actions, connectionID)
	s.mu.Unlock()
	if !ok {
		return
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			s.logger.Error("disconnect action panicked",
				"connection", connectionID.String(),
				"action", action.Kind,
				"panic", recovered,
				"stack", string(debug.Stack()),
			)
		}
	}()

	s.logger.Info("running disconnect action",
		"connection", connectionID.String(),
		"action", action.Kind,
	)
	if err := s.run(action); err != nil {
		s.logger.Error("disconnect action failed",
			"connection", connectionID.String(),
			"action", action.Kind,
			"error", err,
		)
	}
}
