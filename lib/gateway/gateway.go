// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/bureau-foundation/portal/lib/ipc"
	"github.com/bureau-foundation/portal/lib/peer"
	"github.com/bureau-foundation/portal/lib/session"
	"github.com/bureau-foundation/portal/lib/wire"
)

// ErrCoreNotConnected is returned when an operation needs the core
// connection and there is none.
var ErrCoreNotConnected = errors.New("core not connected")

// Supervisor is the process-launch collaborator. *supervisor.Supervisor
// implements it.
type Supervisor interface {
	Spawn(ctx context.Context, command []string) (int, error)
	CurrentProcessID() (int, bool)
	Command() []string
	Alive() bool
}

// SessionRegistry is the session-state collaborator.
// *session.Registry implements it.
type SessionRegistry interface {
	Get(sessionID string) (session.Session, bool)
	All() []session.Session
	ServerLoggedIn(sessionID string, blob []byte)
	ServerDisconnect(sessionID, reason string)
	ServerDisconnectAll(reason string)
	ServerSessionSync(data map[string][]byte, clean bool) int
	ServerConnect(ctx context.Context, request ipc.ConnectRequest) error
	GetAllSyncData() map[string][]byte
	OnCoreConnected()
	DataOut(sessionID string, fields map[string]any) error
}

// Config configures a Gateway. Supervisor and Sessions are required.
type Config struct {
	Supervisor Supervisor
	Sessions   SessionRegistry

	// Peer configures every accepted connection.
	Peer peer.Config

	// GatewayPID is reported in status replies. Zero means os.Getpid().
	GatewayPID int

	Logger *slog.Logger
}

// Gateway serves the control channel.
type Gateway struct {
	supervisor Supervisor
	sessions   SessionRegistry
	peerConfig peer.Config
	gatewayPID int
	logger     *slog.Logger

	table     *peer.Table
	sequencer *DisconnectSequencer

	mu              sync.Mutex
	core            *peer.Peer
	restartExpected bool
	baseContext     context.Context

	shutdownOnce sync.Once
	shutdown     chan struct{}
	connections  sync.WaitGroup
}

// New returns a Gateway with its dispatch table built.
func New(config Config) *Gateway {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if config.GatewayPID == 0 {
		config.GatewayPID = os.Getpid()
	}
	peerConfig := config.Peer
	if peerConfig.Logger == nil {
		peerConfig.Logger = logger
	}

	g := &Gateway{
		supervisor:  config.Supervisor,
		sessions:    config.Sessions,
		peerConfig:  peerConfig,
		gatewayPID:  config.GatewayPID,
		logger:      logger,
		baseContext: context.Background(),
		shutdown:    make(chan struct{}),
	}
	g.sequencer = NewDisconnectSequencer(g.runAction, logger)

	g.table = peer.NewTable()
	g.table.Handle(wire.KindStatus, g.handleStatus)
	g.table.Handle(wire.KindOperatorCommand, g.handleOperatorCommand)
	g.table.Handle(wire.KindCoreToGateway, g.handleCoreToGateway)
	g.table.Handle(wire.KindAdminCoreToGateway, g.handleAdminCoreToGateway)
	return g
}

// Serve accepts connections on listener until ctx is cancelled or a
// shutdown is requested, then closes every connection and waits for
// them to finish.
func (g *Gateway) Serve(ctx context.Context, listener net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g.mu.Lock()
	g.baseContext = ctx
	g.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-g.shutdown:
		}
		cancel()
		listener.Close()
	}()

	g.logger.Info("gateway listening", "address", listener.Addr().String())
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			g.logger.Error("accept failed", "error", err)
			continue
		}
		g.Attach(ctx, conn)
	}

	g.connections.Wait()
	g.logger.Info("gateway stopped")
	return nil
}

// Attach serves one connection until it closes or ctx is cancelled.
// Serve calls it for every accepted connection; tests call it with
// in-memory pipes.
func (g *Gateway) Attach(ctx context.Context, conn io.ReadWriteCloser) *peer.Peer {
	connection := peer.New(conn, g.table, g.peerConfig)
	connection.OnClose(func() {
		g.releaseCore(connection)
		g.sequencer.Fire(connection.ID())
	})

	g.connections.Add(1)
	go func() {
		defer g.connections.Done()
		if err := connection.Serve(ctx); err != nil {
			connection.Logger().Warn("connection ended with error", "error", err)
		}
	}()
	connection.Logger().Debug("connection accepted")
	return connection
}

// ShutdownRequested is closed once the gateway has been asked to stop.
func (g *Gateway) ShutdownRequested() <-chan struct{} {
	return g.shutdown
}

// RequestShutdown asks Serve to stop.
func (g *Gateway) RequestShutdown() {
	g.shutdownOnce.Do(func() {
		g.logger.Info("gateway shutdown requested")
		close(g.shutdown)
	})
}

func (g *Gateway) shuttingDown() bool {
	select {
	case <-g.shutdown:
		return true
	default:
		return false
	}
}

func (g *Gateway) serveContext() context.Context {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.baseContext
}

// claimCore makes connection the authoritative core connection.
func (g *Gateway) claimCore(connection *peer.Peer) {
	g.mu.Lock()
	previous := g.core
	if previous == connection {
		g.mu.Unlock()
		return
	}
	g.core = connection
	g.mu.Unlock()

	connection.SetRole(peer.RoleCore)
	if previous != nil && !previous.Closed() {
		g.logger.Warn("replacing open core connection",
			"previous", previous.ID().String(),
			"connection", connection.ID().String(),
		)
	}
	g.logger.Info("core connection established", "connection", connection.ID().String())
}

// releaseCore clears the core slot if connection holds it.
func (g *Gateway) releaseCore(connection *peer.Peer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.core == connection {
		g.core = nil
		g.logger.Info("core connection closed", "connection", connection.ID().String())
	}
}

// currentCore returns the open core connection, or nil.
func (g *Gateway) currentCore() *peer.Peer {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.core == nil || g.core.Closed() {
		return nil
	}
	return g.core
}

// CoreConnected reports whether a core connection is open.
func (g *Gateway) CoreConnected() bool {
	return g.currentCore() != nil
}

func (g *Gateway) setRestartExpected(expected bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.restartExpected = expected
}

// Status reports the gateway's view of both processes.
func (g *Gateway) Status() ipc.StatusReply {
	g.mu.Lock()
	restartExpected := g.restartExpected
	g.mu.Unlock()

	reply := ipc.StatusReply{
		PortalUp:        true,
		CoreUp:          g.CoreConnected(),
		GatewayPID:      g.gatewayPID,
		CoreAlive:       g.supervisor.Alive(),
		RestartExpected: restartExpected,
		Sessions:        len(g.sessions.All()),
	}
	if pid, ok := g.supervisor.CurrentProcessID(); ok {
		reply.CorePID = &pid
	}
	return reply
}

// SendToCore relays client input for one session to the core.
func (g *Gateway) SendToCore(ctx context.Context, sessionID string, fields map[string]any) error {
	core := g.currentCore()
	if core == nil {
		return ErrCoreNotConnected
	}
	message := ipc.SessionMessage{SessionID: sessionID, Fields: fields}
	if err := core.Call(ctx, wire.KindGatewayToCore, message, nil); err != nil {
		return fmt.Errorf("relaying input for session %s: %w", sessionID, err)
	}
	return nil
}

// StopCore sends the core a reload, reset, shutdown-core or
// shutdown-all notice. The core is expected to exit after
// acknowledging; a connection that closes before the acknowledgement
// is not an error.
func (g *Gateway) StopCore(ctx context.Context, mode ipc.Operation) error {
	switch mode {
	case ipc.OperationReload, ipc.OperationReset, ipc.OperationShutdownCore, ipc.OperationShutdownAll:
	default:
		return ipc.UnrecognizedOperation("stop", mode)
	}
	core := g.currentCore()
	if core == nil {
		return ErrCoreNotConnected
	}
	err := core.Call(ctx, wire.KindAdminGatewayToCore, ipc.AdminMessage{Operation: mode}, nil)
	if err != nil && !errors.Is(err, peer.ErrClosed) {
		return fmt.Errorf("sending %s notice: %w", mode, err)
	}
	return nil
}

// notifyCore sends a stop notice without blocking the caller.
func (g *Gateway) notifyCore(mode ipc.Operation) {
	ctx := g.serveContext()
	go func() {
		if err := g.StopCore(ctx, mode); err != nil {
			g.logger.Warn("core notice failed", "operation", mode, "error", err)
		}
	}()
}

// scheduleRestart arranges for a respawn once core disconnects, then
// tells it to exit. It returns false when no launch command is known.
func (g *Gateway) scheduleRestart(core *peer.Peer, mode ipc.Operation, fallback []string) bool {
	command := g.supervisor.Command()
	if len(command) == 0 {
		command = fallback
	}
	if len(command) == 0 {
		return false
	}
	g.onCoreDisconnect(core, RespawnCore(command))
	g.setRestartExpected(true)
	g.notifyCore(mode)
	return true
}

// scheduleShutdown arranges for the gateway to stop once core
// disconnects, then tells it to exit.
func (g *Gateway) scheduleShutdown(core *peer.Peer) {
	g.onCoreDisconnect(core, ShutdownGateway())
	g.notifyCore(ipc.OperationShutdownAll)
}

// onCoreDisconnect registers action for core's disconnect. The
// connection may already have closed, with its close hooks run or
// running, while the registering handler was still working; then
// the action is fired here. Fire pops the action, so it runs once
// whichever side gets to it first.
func (g *Gateway) onCoreDisconnect(core *peer.Peer, action DisconnectAction) {
	g.sequencer.OnDisconnect(core.ID(), action)
	if core.Closed() {
		g.sequencer.Fire(core.ID())
	}
}

func (g *Gateway) runAction(action DisconnectAction) error {
	switch action.Kind {
	case ActionRespawnCore:
		if g.shuttingDown() {
			g.logger.Info("skipping core respawn during gateway shutdown")
			return nil
		}
		pid, err := g.supervisor.Spawn(g.serveContext(), action.Command)
		if err != nil {
			return err
		}
		g.logger.Info("core respawned", "pid", pid)
		return nil
	case ActionShutdownGateway:
		g.RequestShutdown()
		return nil
	default:
		return fmt.Errorf("unknown disconnect action %s", action.Kind)
	}
}
