// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package peer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/portal/lib/clock"
	"github.com/bureau-foundation/portal/lib/ipc"
	"github.com/bureau-foundation/portal/lib/testutil"
	"github.com/bureau-foundation/portal/lib/wire"
)

const testTimeout = 5 * time.Second

type echoRequest struct {
	Value string `cbor:"value"`
}

type echoReply struct {
	Value string `cbor:"value"`
}

func echoHandler(_ context.Context, request *Request) (any, error) {
	var decoded echoRequest
	if err := request.Decode(&decoded); err != nil {
		return nil, err
	}
	return echoReply{Value: decoded.Value}, nil
}

// startPeer runs Serve for p and returns a channel carrying its result.
func startPeer(t *testing.T, p *Peer) <-chan error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- p.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		p.Close()
	})
	return result
}

// newPair connects a serving peer using table to a calling peer.
func newPair(t *testing.T, table *Table, clientConfig Config) (client, server *Peer) {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	server = New(serverConn, table, Config{})
	client = New(clientConn, nil, clientConfig)
	startPeer(t, server)
	startPeer(t, client)
	return client, server
}

// newRawPair connects a serving peer to a bare connection the test
// drives frame by frame.
func newRawPair(t *testing.T, table *Table) (*Peer, net.Conn) {
	t.Helper()
	serverConn, raw := net.Pipe()
	server := New(serverConn, table, Config{})
	startPeer(t, server)
	t.Cleanup(func() { raw.Close() })
	return server, raw
}

func writeRaw(t *testing.T, conn net.Conn, data []byte) {
	t.Helper()
	conn.SetWriteDeadline(time.Now().Add(testTimeout))
	if _, err := conn.Write(data); err != nil {
		t.Fatalf("raw write: %v", err)
	}
}

func readRaw(t *testing.T, conn net.Conn) wire.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(testTimeout))
	frame, err := wire.ReadFrame(conn, wire.DefaultLimits())
	if err != nil {
		t.Fatalf("raw read: %v", err)
	}
	return frame
}

func encodeRequest(t *testing.T, kind wire.Kind, correlationID uint64, value any) []byte {
	t.Helper()
	data, err := wire.EncodeMessage(kind, correlationID, 0, value, wire.DefaultOptions())
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}
	return data
}

func requireRemoteCode(t *testing.T, err error, code string) {
	t.Helper()
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("error = %v, want *RemoteError", err)
	}
	if remote.Code != code {
		t.Fatalf("remote code = %q, want %q (message %q)", remote.Code, code, remote.Message)
	}
}

func TestCallReply(t *testing.T) {
	table := NewTable()
	table.Handle(wire.KindStatus, echoHandler)
	client, _ := newPair(t, table, Config{})

	var reply echoReply
	if err := client.Call(context.Background(), wire.KindStatus, echoRequest{Value: "ping"}, &reply); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if reply.Value != "ping" {
		t.Errorf("reply = %q, want ping", reply.Value)
	}
}

func TestOutOfOrderReplies(t *testing.T) {
	release := make(chan struct{})
	slowStarted := make(chan struct{})

	table := NewTable()
	table.Handle(wire.KindOperatorCommand, func(ctx context.Context, request *Request) (any, error) {
		var decoded echoRequest
		if err := request.Decode(&decoded); err != nil {
			return nil, err
		}
		if decoded.Value == "slow" {
			close(slowStarted)
			<-release
		}
		return echoReply{Value: decoded.Value}, nil
	})
	client, _ := newPair(t, table, Config{})

	slowResult := make(chan string, 1)
	go func() {
		var reply echoReply
		if err := client.Call(context.Background(), wire.KindOperatorCommand, echoRequest{Value: "slow"}, &reply); err != nil {
			slowResult <- "error: " + err.Error()
			return
		}
		slowResult <- reply.Value
	}()
	testutil.RequireClosed(t, slowStarted, testTimeout, "slow handler started")

	// The slow handler is blocked; a second call still completes.
	var reply echoReply
	if err := client.Call(context.Background(), wire.KindOperatorCommand, echoRequest{Value: "fast"}, &reply); err != nil {
		t.Fatalf("fast Call: %v", err)
	}
	if reply.Value != "fast" {
		t.Errorf("fast reply = %q", reply.Value)
	}
	testutil.RequireNoReceive(t, slowResult, 50*time.Millisecond, "slow call resolved before release")

	close(release)
	if got := testutil.RequireReceive(t, slowResult, testTimeout, "slow reply"); got != "slow" {
		t.Errorf("slow reply = %q, want slow", got)
	}
}

func TestCloseRejectsPendingCallsBeforeHooks(t *testing.T) {
	started := make(chan struct{})
	table := NewTable()
	table.Handle(wire.KindStatus, func(ctx context.Context, request *Request) (any, error) {
		close(started)
		<-request.Peer().Done()
		return nil, nil
	})
	client, _ := newPair(t, table, Config{})

	callResult := make(chan error, 1)
	go func() {
		callResult <- client.Call(context.Background(), wire.KindStatus, nil, nil)
	}()
	testutil.RequireClosed(t, started, testTimeout, "handler started")

	var mu sync.Mutex
	var order []string
	client.OnClose(func() {
		mu.Lock()
		defer mu.Unlock()
		if !client.Closed() {
			order = append(order, "hook saw open peer")
		}
		select {
		case err := <-callResult:
			if !errors.Is(err, ErrClosed) {
				order = append(order, fmt.Sprintf("call error %v", err))
			}
			order = append(order, "first")
		case <-time.After(testTimeout): //nolint:realclock test hang prevention
			order = append(order, "pending call not rejected before hook")
		}
	})
	client.OnClose(func() {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, "second")
	})

	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("hook order = %v, want [first second]", order)
	}

	if err := client.Call(context.Background(), wire.KindStatus, nil, nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Call on closed peer = %v, want ErrClosed", err)
	}
}

func TestOnCloseAfterCloseRunsImmediately(t *testing.T) {
	client, _ := newPair(t, NewTable(), Config{})
	client.Close()

	ran := false
	client.OnClose(func() { ran = true })
	if !ran {
		t.Error("hook registered after close did not run")
	}
}

func TestRemoteCloseClosesPeer(t *testing.T) {
	client, server := newPair(t, NewTable(), Config{})
	server.Close()
	testutil.RequireClosed(t, client.Done(), testTimeout, "client closes when server hangs up")
}

func TestNoHandlerForKind(t *testing.T) {
	table := NewTable()
	table.Handle(wire.KindStatus, echoHandler)
	client, _ := newPair(t, table, Config{})

	err := client.Call(context.Background(), wire.KindCoreToGateway, ipc.SessionMessage{SessionID: "s1"}, nil)
	requireRemoteCode(t, err, CodeUnknownKind)

	// The connection is still usable.
	var reply echoReply
	if err := client.Call(context.Background(), wire.KindStatus, echoRequest{Value: "after"}, &reply); err != nil {
		t.Fatalf("Call after unknown kind: %v", err)
	}
}

func TestUnknownKindOnWire(t *testing.T) {
	table := NewTable()
	table.Handle(wire.KindStatus, echoHandler)
	server, raw := newRawPair(t, table)

	data := encodeRequest(t, wire.KindStatus, 77, echoRequest{Value: "x"})
	data[6], data[7] = 0x40, 0x00
	writeRaw(t, raw, data)

	// The reply echoes the unknown kind, so this side cannot decode it
	// either; the header still says what it is.
	raw.SetReadDeadline(time.Now().Add(testTimeout))
	_, err := wire.ReadFrame(raw, wire.DefaultLimits())
	var frameError *wire.FrameError
	if !errors.As(err, &frameError) || !errors.Is(err, wire.ErrUnknownKind) {
		t.Fatalf("ReadFrame = %v, want unknown-kind frame error", err)
	}
	if frameError.Flags != wire.FlagResponse|wire.FlagError {
		t.Errorf("reply flags = %08b, want response|error", frameError.Flags)
	}
	if frameError.CorrelationID != 77 {
		t.Errorf("reply correlation = %d, want 77", frameError.CorrelationID)
	}
	if server.Closed() {
		t.Error("server closed after a single unknown-kind frame")
	}
}

func TestHandlerPanicRepliesAndStaysOpen(t *testing.T) {
	table := NewTable()
	table.Handle(wire.KindOperatorCommand, func(ctx context.Context, request *Request) (any, error) {
		panic("boom")
	})
	table.Handle(wire.KindStatus, echoHandler)
	client, server := newPair(t, table, Config{})

	err := client.Call(context.Background(), wire.KindOperatorCommand, nil, nil)
	requireRemoteCode(t, err, CodeInternal)

	if server.Closed() {
		t.Fatal("server closed after handler panic")
	}
	var reply echoReply
	if err := client.Call(context.Background(), wire.KindStatus, echoRequest{Value: "alive"}, &reply); err != nil {
		t.Fatalf("Call after panic: %v", err)
	}
}

func TestHandlerErrors(t *testing.T) {
	table := NewTable()
	table.Handle(wire.KindOperatorCommand, func(ctx context.Context, request *Request) (any, error) {
		return nil, ipc.UnrecognizedOperation("operator", ipc.Operation(99))
	})
	table.Handle(wire.KindAdminCoreToGateway, func(ctx context.Context, request *Request) (any, error) {
		return nil, errors.New("session store unavailable")
	})
	client, _ := newPair(t, table, Config{})

	err := client.Call(context.Background(), wire.KindOperatorCommand, nil, nil)
	requireRemoteCode(t, err, CodeUnrecognized)
	if !errors.Is(err, ipc.ErrUnrecognizedOperation) {
		t.Errorf("errors.Is(%v, ErrUnrecognizedOperation) = false", err)
	}

	err = client.Call(context.Background(), wire.KindAdminCoreToGateway, nil, nil)
	requireRemoteCode(t, err, CodeHandlerError)
	if errors.Is(err, ipc.ErrUnrecognizedOperation) {
		t.Error("handler error matched ErrUnrecognizedOperation")
	}
}

func TestBadPayload(t *testing.T) {
	table := NewTable()
	table.Handle(wire.KindStatus, echoHandler)
	client, _ := newPair(t, table, Config{})

	// A string where a map is expected fails to decode.
	err := client.Call(context.Background(), wire.KindStatus, "not a map", nil)
	requireRemoteCode(t, err, CodeBadPayload)

	// The connection stays usable.
	var reply echoReply
	if err := client.Call(context.Background(), wire.KindStatus, echoRequest{Value: "after"}, &reply); err != nil {
		t.Fatalf("Call after bad payload: %v", err)
	}
	if reply.Value != "after" {
		t.Errorf("reply = %q, want after", reply.Value)
	}
}

func TestCorruptFrames(t *testing.T) {
	corruptFrame := func(t *testing.T, correlationID uint64) []byte {
		data := encodeRequest(t, wire.KindStatus, correlationID, echoRequest{Value: "x"})
		data[20] ^= 0xFF
		return data
	}

	t.Run("isolated errors are tolerated", func(t *testing.T) {
		table := NewTable()
		table.Handle(wire.KindStatus, echoHandler)
		server, raw := newRawPair(t, table)

		for round := range 3 {
			for index := range DefaultMaxCorruptFrames - 1 {
				writeRaw(t, raw, corruptFrame(t, uint64(round*10+index)))
			}
			writeRaw(t, raw, encodeRequest(t, wire.KindStatus, 1000, echoRequest{Value: "good"}))
			reply := readRaw(t, raw)
			if reply.IsError() || reply.CorrelationID != 1000 {
				t.Fatalf("round %d: reply = %+v", round, reply)
			}
		}
		if server.Closed() {
			t.Fatal("server closed although errors never reached the limit in a row")
		}
	})

	t.Run("repeated errors close", func(t *testing.T) {
		server, raw := newRawPair(t, NewTable())
		for index := range DefaultMaxCorruptFrames {
			writeRaw(t, raw, corruptFrame(t, uint64(index)))
		}
		testutil.RequireClosed(t, server.Done(), testTimeout, "server closes after repeated corrupt frames")
	})

	t.Run("misalignment closes", func(t *testing.T) {
		server, raw := newRawPair(t, NewTable())
		writeRaw(t, raw, bytes.Repeat([]byte{'x'}, wire.HeaderLen))
		testutil.RequireClosed(t, server.Done(), testTimeout, "server closes on bad magic")
	})
}

func TestReplyWithoutCallerIsDropped(t *testing.T) {
	table := NewTable()
	table.Handle(wire.KindStatus, echoHandler)
	server, raw := newRawPair(t, table)

	stray, err := wire.EncodeMessage(wire.KindStatus, 4242, wire.FlagResponse, echoReply{Value: "stray"}, wire.DefaultOptions())
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}
	writeRaw(t, raw, stray)

	writeRaw(t, raw, encodeRequest(t, wire.KindStatus, 1, echoRequest{Value: "next"}))
	reply := readRaw(t, raw)
	if reply.CorrelationID != 1 || reply.IsError() {
		t.Fatalf("reply = %+v", reply)
	}
	if server.Closed() {
		t.Error("server closed after stray reply")
	}
}

func TestAfterReplyRunsAfterWrite(t *testing.T) {
	ran := make(chan struct{})
	table := NewTable()
	table.Handle(wire.KindStatus, func(ctx context.Context, request *Request) (any, error) {
		request.AfterReply(func() { close(ran) })
		return echoReply{Value: "done"}, nil
	})
	_, raw := newRawPair(t, table)

	writeRaw(t, raw, encodeRequest(t, wire.KindStatus, 9, nil))

	// net.Pipe writes complete only when read, so the hook cannot
	// have run before the reply is consumed here.
	select {
	case <-ran:
		t.Fatal("AfterReply ran before the reply was read")
	case <-time.After(50 * time.Millisecond): //nolint:realclock bounded negative check
	}
	reply := readRaw(t, raw)
	if reply.CorrelationID != 9 {
		t.Fatalf("reply correlation = %d", reply.CorrelationID)
	}
	testutil.RequireClosed(t, ran, testTimeout, "AfterReply hook")
}

func TestCallTimeout(t *testing.T) {
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	table := NewTable()
	table.Handle(wire.KindStatus, func(ctx context.Context, request *Request) (any, error) {
		<-request.Peer().Done()
		return nil, nil
	})
	client, _ := newPair(t, table, Config{CallTimeout: time.Second, Clock: fake})

	result := make(chan error, 1)
	go func() { result <- client.Call(context.Background(), wire.KindStatus, nil, nil) }()

	fake.WaitForTimers(1)
	fake.Advance(time.Second)
	if err := testutil.RequireReceive(t, result, testTimeout, "call result"); !errors.Is(err, ErrTimeout) {
		t.Fatalf("Call = %v, want ErrTimeout", err)
	}
}

func TestCallContextCancelled(t *testing.T) {
	table := NewTable()
	table.Handle(wire.KindStatus, func(ctx context.Context, request *Request) (any, error) {
		<-request.Peer().Done()
		return nil, nil
	})
	client, _ := newPair(t, table, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- client.Call(ctx, wire.KindStatus, nil, nil) }()
	cancel()
	if err := testutil.RequireReceive(t, result, testTimeout, "call result"); !errors.Is(err, context.Canceled) {
		t.Fatalf("Call = %v, want context.Canceled", err)
	}
}

func TestRoleAndID(t *testing.T) {
	client, server := newPair(t, NewTable(), Config{})
	if client.ID() == server.ID() {
		t.Error("two peers share a connection ID")
	}
	if server.Role() != RoleUnknown {
		t.Errorf("initial role = %s", server.Role())
	}
	server.SetRole(RoleCore)
	if server.Role() != RoleCore || server.Role().String() != "core" {
		t.Errorf("role = %s, want core", server.Role())
	}
}

func TestTableRejectsDuplicates(t *testing.T) {
	table := NewTable()
	table.Handle(wire.KindStatus, echoHandler)
	defer func() {
		if recover() == nil {
			t.Error("duplicate Handle did not panic")
		}
	}()
	table.Handle(wire.KindStatus, echoHandler)
}

func TestUnknownKindReplyFailsCall(t *testing.T) {
	clientConn, raw := net.Pipe()
	client := New(clientConn, nil, Config{})
	startPeer(t, client)
	t.Cleanup(func() { raw.Close() })

	result := make(chan error, 1)
	go func() { result <- client.Call(context.Background(), wire.KindStatus, nil, nil) }()

	request := readRaw(t, raw)
	response, err := wire.Encode(wire.Frame{
		Kind:          wire.Kind(0x4000),
		Flags:         wire.FlagResponse,
		CorrelationID: request.CorrelationID,
	}, wire.DefaultLimits())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	writeRaw(t, raw, response)

	err = testutil.RequireReceive(t, result, testTimeout, "call result")
	requireRemoteCode(t, err, CodeUnknownKind)
}
