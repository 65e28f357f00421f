// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package peer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/portal/lib/clock"
	"github.com/bureau-foundation/portal/lib/ipc"
	"github.com/bureau-foundation/portal/lib/netutil"
	"github.com/bureau-foundation/portal/lib/wire"
)

// Role is what a connection has identified itself as, by the kind of
// traffic it sent.
type Role int32

const (
	RoleUnknown Role = iota
	RoleCore
	RoleOperator
)

func (r Role) String() string {
	switch r {
	case RoleCore:
		return "core"
	case RoleOperator:
		return "operator"
	default:
		return "unknown"
	}
}

// DefaultMaxCorruptFrames is how many consecutive bad frames a peer
// tolerates before closing the connection.
const DefaultMaxCorruptFrames = 3

// writeTimeout bounds a single frame write on transports that support
// deadlines.
const writeTimeout = 10 * time.Second

// Config carries the per-connection settings. The zero value is
// usable: default wire options, no call timeout, the real clock and
// a discarding logger.
type Config struct {
	Options wire.Options

	// CallTimeout bounds each outbound Call in addition to the
	// caller's context. Zero disables it.
	CallTimeout time.Duration

	// MaxCorruptFrames is the number of consecutive frame errors that
	// closes the connection. Zero means DefaultMaxCorruptFrames.
	MaxCorruptFrames int

	Clock  clock.Clock
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Options == (wire.Options{}) {
		c.Options = wire.DefaultOptions()
	}
	if c.Options.Limits.MaxPayload == 0 {
		c.Options.Limits = wire.DefaultLimits()
	}
	if c.MaxCorruptFrames <= 0 {
		c.MaxCorruptFrames = DefaultMaxCorruptFrames
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// Peer is one end of a persistent connection.
type Peer struct {
	id     uuid.UUID
	conn   io.ReadWriteCloser
	table  *Table
	config Config
	logger *slog.Logger

	role          atomic.Int32
	nextCallID    atomic.Uint64
	writeMu       sync.Mutex
	activeHandler sync.WaitGroup

	mu         sync.Mutex
	closed     bool
	pending    map[uint64]chan callResult
	closeHooks []func()
	done       chan struct{}
}

// New wraps conn. Inbound requests are dispatched through table,
// which may be nil for a peer that only makes calls. Call Serve to
// start reading.
func New(conn io.ReadWriteCloser, table *Table, config Config) *Peer {
	config = config.withDefaults()
	id := uuid.New()
	return &Peer{
		id:      id,
		conn:    conn,
		table:   table,
		config:  config,
		logger:  config.Logger.With("connection", id.String()),
		pending: make(map[uint64]chan callResult),
		done:    make(chan struct{}),
	}
}

// ID returns the connection's stable identifier.
func (p *Peer) ID() uuid.UUID { return p.id }

// Role returns the role the connection has been assigned.
func (p *Peer) Role() Role { return Role(p.role.Load()) }

// SetRole records what the connection has identified itself as.
func (p *Peer) SetRole(role Role) { p.role.Store(int32(role)) }

// Logger returns the peer's logger, tagged with the connection ID.
func (p *Peer) Logger() *slog.Logger { return p.logger }

// Done is closed once the peer has closed.
func (p *Peer) Done() <-chan struct{} { return p.done }

// Closed reports whether the peer has closed.
func (p *Peer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// OnClose registers fn to run after the transport has closed and all
// pending calls have been rejected. Hooks run in registration order.
// If the peer is already closed, fn runs immediately.
func (p *Peer) OnClose(fn func()) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.runHook(fn)
		return
	}
	p.closeHooks = append(p.closeHooks, fn)
	p.mu.Unlock()
}

// Close closes the connection. It is safe to call more than once.
func (p *Peer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	err := p.conn.Close()
	for id, waiter := range p.pending {
		close(waiter)
		delete(p.pending, id)
	}
	hooks := p.closeHooks
	p.closeHooks = nil
	close(p.done)
	p.mu.Unlock()

	for _, hook := range hooks {
		p.runHook(hook)
	}
	if err != nil && !netutil.IsExpectedCloseError(err) {
		return fmt.Errorf("closing connection: %w", err)
	}
	return nil
}

func (p *Peer) runHook(hook func()) {
	defer func() {
		if recovered := recover(); recovered != nil {
			p.logger.Error("close hook panicked",
				"panic", recovered,
				"stack", string(debug.Stack()),
			)
		}
	}()
	hook()
}

// Serve reads frames until the connection closes or ctx is
// cancelled, dispatching requests and resolving replies. It closes
// the peer before returning and waits for in-flight handlers. A
// clean close by either side returns nil.
func (p *Peer) Serve(ctx context.Context) error {
	go func() {
		select {
		case <-ctx.Done():
			p.Close()
		case <-p.done:
		}
	}()

	err := p.readLoop(ctx)
	p.Close()
	p.activeHandler.Wait()
	return err
}

func (p *Peer) readLoop(ctx context.Context) error {
	consecutiveErrors := 0
	for {
		frame, err := wire.ReadFrame(p.conn, p.config.Options.Limits)
		if err != nil {
			if p.Closed() || netutil.IsExpectedCloseError(err) {
				p.logger.Debug("connection closed", "error", err)
				return nil
			}

			var frameError *wire.FrameError
			if !errors.As(err, &frameError) || !frameError.Recoverable {
				p.logger.Warn("closing connection after unrecoverable frame error", "error", err)
				return fmt.Errorf("reading frame: %w", err)
			}

			consecutiveErrors++
			p.logger.Warn("dropping bad frame",
				"error", err,
				"consecutive", consecutiveErrors,
			)
			if frameError.HeaderIntact && errors.Is(frameError, wire.ErrUnknownKind) {
				message := fmt.Sprintf("unknown message kind %s", frameError.Kind)
				if frameError.Flags&wire.FlagResponse != 0 {
					p.resolve(frameError.CorrelationID, callResult{
						err: &RemoteError{Code: CodeUnknownKind, Message: message},
					})
				} else {
					p.replyError(frameError.Kind, frameError.CorrelationID, CodeUnknownKind, message)
				}
			}
			if consecutiveErrors >= p.config.MaxCorruptFrames {
				p.logger.Warn("closing connection after repeated frame errors",
					"count", consecutiveErrors,
				)
				return fmt.Errorf("reading frame: %d consecutive frame errors: %w", consecutiveErrors, err)
			}
			continue
		}
		consecutiveErrors = 0

		if frame.IsResponse() {
			p.resolve(frame.CorrelationID, callResult{frame: frame})
			continue
		}

		handler, ok := p.table.Lookup(frame.Kind)
		if !ok {
			p.logger.Warn("no handler for message kind", "kind", frame.Kind)
			p.replyError(frame.Kind, frame.CorrelationID, CodeUnknownKind,
				fmt.Sprintf("no handler for %s", frame.Kind))
			continue
		}

		p.activeHandler.Add(1)
		go func() {
			defer p.activeHandler.Done()
			p.handle(ctx, frame, handler)
		}()
	}
}

// callResult resolves one pending call: a reply frame, or an error
// when the reply could not be read.
type callResult struct {
	frame wire.Frame
	err   error
}

// resolve delivers a result to its waiting call. The waiter is removed
// from the pending map before delivery so it resolves at most once.
func (p *Peer) resolve(correlationID uint64, result callResult) {
	p.mu.Lock()
	waiter, ok := p.pending[correlationID]
	if ok {
		delete(p.pending, correlationID)
	}
	p.mu.Unlock()

	if !ok {
		p.logger.Warn("dropping reply with no waiting call",
			"kind", result.frame.Kind,
			"correlation_id", correlationID,
		)
		return
	}
	waiter <- result
}

func (p *Peer) handle(ctx context.Context, frame wire.Frame, handler HandlerFunc) {
	request := &Request{peer: p, frame: frame}
	result, err := p.invoke(ctx, request, handler)

	if err != nil {
		code := CodeHandlerError
		message := err.Error()
		var frameError *wire.FrameError
		switch {
		case errors.Is(err, errHandlerPanic):
			code = CodeInternal
			message = "internal error"
		case errors.Is(err, ipc.ErrUnrecognizedOperation):
			code = CodeUnrecognized
		case errors.As(err, &frameError):
			code = CodeBadPayload
		}
		p.logger.Warn("request failed",
			"kind", frame.Kind,
			"correlation_id", frame.CorrelationID,
			"code", code,
			"error", err,
		)
		p.replyError(frame.Kind, frame.CorrelationID, code, message)
	} else {
		p.reply(frame.Kind, frame.CorrelationID, result)
	}

	for _, fn := range request.after {
		fn()
	}
}

var errHandlerPanic = errors.New("handler panicked")

func (p *Peer) invoke(ctx context.Context, request *Request, handler HandlerFunc) (result any, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			p.logger.Error("handler panicked",
				"kind", request.Kind(),
				"correlation_id", request.CorrelationID(),
				"panic", recovered,
				"stack", string(debug.Stack()),
			)
			result = nil
			err = fmt.Errorf("%w: %v", errHandlerPanic, recovered)
		}
	}()
	return handler(ctx, request)
}

func (p *Peer) reply(kind wire.Kind, correlationID uint64, value any) {
	data, err := wire.EncodeMessage(kind, correlationID, wire.FlagResponse, value, p.config.Options)
	if err != nil {
		p.logger.Error("encoding reply failed", "kind", kind, "error", err)
		p.replyError(kind, correlationID, CodeInternal, "reply could not be encoded")
		return
	}
	if err := p.write(data); err != nil {
		p.logger.Debug("writing reply failed", "kind", kind, "error", err)
	}
}

func (p *Peer) replyError(kind wire.Kind, correlationID uint64, code, message string) {
	data, err := wire.EncodeMessage(kind, correlationID, wire.FlagResponse|wire.FlagError,
		ErrorReply{Code: code, Message: message}, p.config.Options)
	if err != nil {
		p.logger.Error("encoding error reply failed", "kind", kind, "error", err)
		return
	}
	if err := p.write(data); err != nil {
		p.logger.Debug("writing error reply failed", "kind", kind, "error", err)
	}
}

type deadlineWriter interface {
	SetWriteDeadline(time.Time) error
}

func (p *Peer) write(data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if p.Closed() {
		return ErrClosed
	}
	if conn, ok := p.conn.(deadlineWriter); ok {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	}
	_, err := p.conn.Write(data)
	return err
}

// Call sends request as a kind message and waits for the reply, which
// is decoded into reply (if non-nil). An error reply is returned as a
// *RemoteError. If the connection closes first, Call returns ErrClosed.
func (p *Peer) Call(ctx context.Context, kind wire.Kind, request, reply any) error {
	correlationID := p.nextCallID.Add(1)
	waiter := make(chan callResult, 1)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.pending[correlationID] = waiter
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.pending, correlationID)
		p.mu.Unlock()
	}()

	data, err := wire.EncodeMessage(kind, correlationID, 0, request, p.config.Options)
	if err != nil {
		return fmt.Errorf("encoding %s call: %w", kind, err)
	}
	if err := p.write(data); err != nil {
		if errors.Is(err, ErrClosed) || netutil.IsExpectedCloseError(err) {
			return ErrClosed
		}
		return fmt.Errorf("sending %s call: %w", kind, err)
	}

	var timeout <-chan time.Time
	if p.config.CallTimeout > 0 {
		timeout = p.config.Clock.After(p.config.CallTimeout)
	}

	select {
	case result, ok := <-waiter:
		if !ok {
			return ErrClosed
		}
		if result.err != nil {
			return result.err
		}
		return p.decodeReply(result.frame, reply)
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout:
		return fmt.Errorf("%s call after %v: %w", kind, p.config.CallTimeout, ErrTimeout)
	}
}

func (p *Peer) decodeReply(frame wire.Frame, reply any) error {
	if frame.IsError() {
		var errorReply ErrorReply
		if err := wire.DecodeMessage(frame, p.config.Options.Limits, &errorReply); err != nil {
			return fmt.Errorf("decoding %s error reply: %w", frame.Kind, err)
		}
		return &RemoteError{Code: errorReply.Code, Message: errorReply.Message}
	}
	if reply == nil {
		return nil
	}
	if err := wire.DecodeMessage(frame, p.config.Options.Limits, reply); err != nil {
		return fmt.Errorf("decoding %s reply: %w", frame.Kind, err)
	}
	return nil
}
