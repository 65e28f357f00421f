// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/portal/lib/clock"
	"github.com/bureau-foundation/portal/lib/ipc"
)

// Sink delivers output to one client connection.
type Sink interface {
	Send(fields map[string]any) error
	Close(reason string) error
}

// Connector opens an outbound connection for a force-connect request
// and returns its sink.
type Connector func(ctx context.Context, config map[string]any) (Sink, error)

// Forwarder relays client input to the core.
type Forwarder func(ctx context.Context, sessionID string, fields map[string]any) error

// ErrNoConnector is returned by ServerConnect for an unregistered
// protocol path.
var ErrNoConnector = errors.New("no connector for protocol")

// Session is a snapshot of one registry entry.
type Session struct {
	ID          string
	Protocol    string
	LoggedIn    bool
	Blob        []byte
	ConnectedAt time.Time
}

type entry struct {
	session Session
	digest  [32]byte
	sink    Sink
}

// Registry tracks connected sessions. It is safe for concurrent use.
type Registry struct {
	clock  clock.Clock
	logger *slog.Logger

	mu             sync.Mutex
	sessions       map[string]*entry
	connectors     map[string]Connector
	forwarder      Forwarder
	connectedHooks []func()
}

// NewRegistry returns an empty registry.
func NewRegistry(clk clock.Clock, logger *slog.Logger) *Registry {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{
		clock:      clk,
		logger:     logger,
		sessions:   make(map[string]*entry),
		connectors: make(map[string]Connector),
	}
}

func digest(blob []byte) [32]byte {
	return blake3.Sum256(blob)
}

// Add registers a new client connection and returns its session ID.
func (r *Registry) Add(protocol string, sink Sink) string {
	id := uuid.NewString()
	r.mu.Lock()
	r.sessions[id] = &entry{
		session: Session{ID: id, Protocol: protocol, ConnectedAt: r.clock.Now()},
		digest:  digest(nil),
		sink:    sink,
	}
	r.mu.Unlock()
	r.logger.Debug("session added", "session", id, "protocol", protocol)
	return id
}

// Remove forgets a session after its client went away. The sink is
// not closed; the caller owns the dead connection.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	delete(r.sessions, sessionID)
	r.mu.Unlock()
}

// Get returns a snapshot of one session.
func (r *Registry) Get(sessionID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	return cloneSession(current.session), true
}

// All returns snapshots of every session, ordered by ID.
func (r *Registry) All() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]Session, 0, len(r.sessions))
	for _, id := range slices.Sorted(maps.Keys(r.sessions)) {
		result = append(result, cloneSession(r.sessions[id].session))
	}
	return result
}

// Count returns the number of sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func cloneSession(s Session) Session {
	s.Blob = bytes.Clone(s.Blob)
	return s
}

// RegisterConnector makes protocolPath available to force-connect.
func (r *Registry) RegisterConnector(protocolPath string, connector Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors[protocolPath] = connector
}

// SetForwarder installs the function DataIn relays client input
// through.
func (r *Registry) SetForwarder(forwarder Forwarder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forwarder = forwarder
}

// AddCoreConnectedHook registers fn to run each time a core completes
// its portal sync.
func (r *Registry) AddCoreConnectedHook(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectedHooks = append(r.connectedHooks, fn)
}

// ServerLoggedIn marks a session as authenticated with the state the
// core gave it.
func (r *Registry) ServerLoggedIn(sessionID string, blob []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.sessions[sessionID]
	if !ok {
		r.logger.Debug("login for unknown session", "session", sessionID)
		return
	}
	current.session.LoggedIn = true
	current.session.Blob = bytes.Clone(blob)
	current.digest = digest(blob)
}

// ServerDisconnect closes one session's client connection.
func (r *Registry) ServerDisconnect(sessionID, reason string) {
	r.mu.Lock()
	current, ok := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.mu.Unlock()
	if !ok {
		r.logger.Debug("disconnect for unknown session", "session", sessionID)
		return
	}
	r.closeSink(current, reason)
}

// ServerDisconnectAll closes every client connection.
func (r *Registry) ServerDisconnectAll(reason string) {
	r.mu.Lock()
	closing := slices.Collect(maps.Values(r.sessions))
	r.sessions = make(map[string]*entry)
	r.mu.Unlock()
	for _, current := range closing {
		r.closeSink(current, reason)
	}
}

func (r *Registry) closeSink(current *entry, reason string) {
	if current.sink == nil {
		return
	}
	if err := current.sink.Close(reason); err != nil {
		r.logger.Debug("closing session sink", "session", current.session.ID, "error", err)
	}
}

// ServerSessionSync applies the core's view of every session. Blobs
// for known sessions are replaced when they changed; unknown IDs are
// ignored. With clean set, sessions absent from data are disconnected.
// It returns the number of sessions whose blob changed.
func (r *Registry) ServerSessionSync(data map[string][]byte, clean bool) int {
	r.mu.Lock()
	changed := 0
	for id, blob := range data {
		current, ok := r.sessions[id]
		if !ok {
			continue
		}
		sum := digest(blob)
		if sum == current.digest {
			continue
		}
		current.session.Blob = bytes.Clone(blob)
		current.digest = sum
		changed++
	}

	var dropped []*entry
	if clean {
		for id, current := range r.sessions {
			if _, kept := data[id]; !kept {
				dropped = append(dropped, current)
				delete(r.sessions, id)
			}
		}
	}
	r.mu.Unlock()

	for _, current := range dropped {
		r.closeSink(current, "session removed by core")
	}
	r.logger.Info("session sync applied",
		"reported", len(data),
		"changed", changed,
		"dropped", len(dropped),
	)
	return changed
}

// ServerConnect opens an outbound connection through the connector
// registered for the request's protocol path and registers it as a
// session.
func (r *Registry) ServerConnect(ctx context.Context, request ipc.ConnectRequest) error {
	r.mu.Lock()
	connector, ok := r.connectors[request.ProtocolPath]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w %q", ErrNoConnector, request.ProtocolPath)
	}
	sink, err := connector(ctx, request.Config)
	if err != nil {
		return fmt.Errorf("connecting %s: %w", request.ProtocolPath, err)
	}
	id := r.Add(request.ProtocolPath, sink)
	r.logger.Info("outbound session connected", "session", id, "protocol", request.ProtocolPath)
	return nil
}

// GetAllSyncData returns every session's blob, keyed by session ID.
func (r *Registry) GetAllSyncData() map[string][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	data := make(map[string][]byte, len(r.sessions))
	for id, current := range r.sessions {
		data[id] = bytes.Clone(current.session.Blob)
	}
	return data
}

// OnCoreConnected runs the core-connected hooks in registration order.
func (r *Registry) OnCoreConnected() {
	r.mu.Lock()
	hooks := slices.Clone(r.connectedHooks)
	count := len(r.sessions)
	r.mu.Unlock()
	r.logger.Info("core connected", "sessions", count)
	for _, hook := range hooks {
		hook()
	}
}

// DataOut delivers core output to a session's client.
func (r *Registry) DataOut(sessionID string, fields map[string]any) error {
	r.mu.Lock()
	current, ok := r.sessions[sessionID]
	r.mu.Unlock()
	if !ok || current.sink == nil {
		return nil
	}
	if err := current.sink.Send(fields); err != nil {
		return fmt.Errorf("sending to session %s: %w", sessionID, err)
	}
	return nil
}

// DataIn relays client input for a session to the core.
func (r *Registry) DataIn(ctx context.Context, sessionID string, fields map[string]any) error {
	r.mu.Lock()
	_, known := r.sessions[sessionID]
	forwarder := r.forwarder
	r.mu.Unlock()
	if !known {
		return nil
	}
	if forwarder == nil {
		return fmt.Errorf("no core forwarder installed")
	}
	return forwarder(ctx, sessionID, fields)
}
