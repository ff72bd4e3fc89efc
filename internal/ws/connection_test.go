package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"vaani/internal/models"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type mockWS struct {
	readCh      chan any
	writeCh     chan any
	closeCh     chan struct{}
	mu          sync.Mutex
	closed      bool
	errToReturn error
}

func newMockWS() *mockWS {
	return &mockWS{
		readCh:  make(chan any, 10),
		writeCh: make(chan any, 10),
		closeCh: make(chan struct{}),
	}
}

func (m *mockWS) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.closeCh)
	return nil
}

func (m *mockWS) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockWS) WriteJSON(v any) error {
	if m.errToReturn != nil {
		return m.errToReturn
	}
	m.writeCh <- v
	return nil
}

// ReadJSON hands out frames, or returns an error value pushed into readCh.
func (m *mockWS) ReadJSON(v any) error {
	if m.errToReturn != nil {
		return m.errToReturn
	}
	select {
	case item, ok := <-m.readCh:
		if !ok {
			return errors.New("closed")
		}
		if err, isErr := item.(error); isErr {
			return err
		}
		if ptr, ok := v.(*models.Frame); ok {
			*ptr = item.(models.Frame)
		}
		return nil
	case <-m.closeCh:
		return errors.New("connection closed")
	}
}

type dispatched struct {
	connID string
	event  models.Event
	data   string
}

type mockDispatcher struct {
	connectCh    chan string
	dispatchCh   chan dispatched
	disconnectCh chan string
	onDispatch   func(s Session, event models.Event)
	onConnect    func()
}

func newMockDispatcher() *mockDispatcher {
	return &mockDispatcher{
		connectCh:    make(chan string, 10),
		dispatchCh:   make(chan dispatched, 10),
		disconnectCh: make(chan string, 10),
	}
}

func (m *mockDispatcher) Connect(_ context.Context, s Session) {
	m.connectCh <- s.ID()
	if m.onConnect != nil {
		m.onConnect()
	}
}

func (m *mockDispatcher) Dispatch(_ context.Context, s Session, event models.Event, data json.RawMessage) {
	m.dispatchCh <- dispatched{connID: s.ID(), event: event, data: string(data)}
	if m.onDispatch != nil {
		m.onDispatch(s, event)
	}
}

func (m *mockDispatcher) Disconnect(_ context.Context, s Session) {
	m.disconnectCh <- s.ID()
}

type mockRegistry struct {
	registerCh   chan *Connection
	unregisterCh chan *Connection
}

func newMockRegistry() *mockRegistry {
	return &mockRegistry{
		registerCh:   make(chan *Connection, 10),
		unregisterCh: make(chan *Connection, 10),
	}
}

func (m *mockRegistry) Register(c *Connection)   { m.registerCh <- c }
func (m *mockRegistry) Unregister(c *Connection) { m.unregisterCh <- c }

func TestConnection_Lifecycle(t *testing.T) {
	reg := newMockRegistry()
	disp := newMockDispatcher()
	ws := newMockWS()

	conn := NewConnection(reg, disp, ws, "user1", ConnectionConfig{}, zap.NewNop())
	if conn == nil {
		t.Fatal("NewConnection returned nil")
	}
	if conn.State() != StateAuthenticated {
		t.Errorf("Expected state authenticated, got %s", conn.State())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error)
	go func() {
		done <- conn.Handle(ctx)
	}()

	select {
	case c := <-reg.registerCh:
		if c != conn {
			t.Error("Registered a different connection")
		}
	case <-time.After(1 * time.Second):
		t.Fatal("Register not called")
	}

	select {
	case id := <-disp.connectCh:
		if id != conn.ID() {
			t.Errorf("Expected Connect for %s, got %s", conn.ID(), id)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("Connect not called")
	}

	// 1. Client -> dispatcher
	ws.readCh <- models.Frame{Event: models.EventTyping, Data: json.RawMessage(`"chat1"`)}

	select {
	case d := <-disp.dispatchCh:
		if d.event != models.EventTyping || d.data != `"chat1"` {
			t.Errorf("Dispatcher received wrong frame: %+v", d)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("Dispatcher did not receive frame")
	}

	if conn.State() != StateActive {
		t.Errorf("Expected state active, got %s", conn.State())
	}

	// 2. Server -> client
	if !conn.Deliver(models.Frame{Event: models.EventUserOnline, Data: json.RawMessage(`"u2"`)}) {
		t.Fatal("Deliver refused frame")
	}

	select {
	case received := <-ws.writeCh:
		frame, ok := received.(models.Frame)
		if !ok {
			t.Fatalf("WS received wrong type: %T", received)
		}
		if frame.Event != models.EventUserOnline || string(frame.Data) != `"u2"` {
			t.Errorf("WS received wrong frame: %+v", frame)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("WS did not receive server frame")
	}

	// 3. Stop
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Handle returned error: %v", err)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("Handle did not return after cancel")
	}

	select {
	case c := <-reg.unregisterCh:
		if c != conn {
			t.Error("Unregistered a different connection")
		}
	default:
		t.Error("Unregister not called")
	}

	select {
	case id := <-disp.disconnectCh:
		if id != conn.ID() {
			t.Errorf("Expected Disconnect for %s, got %s", conn.ID(), id)
		}
	default:
		t.Error("Disconnect not called")
	}

	if !ws.isClosed() {
		t.Error("WS Close not called")
	}
	if conn.State() != StateDisconnected {
		t.Errorf("Expected state disconnected, got %s", conn.State())
	}
	if conn.Deliver(models.Frame{Event: models.EventUserOnline}) {
		t.Error("Deliver accepted a frame after disconnect")
	}
}

func TestConnection_WritesDuringSlowConnect(t *testing.T) {
	disp := newMockDispatcher()
	release := make(chan struct{})
	disp.onConnect = func() { <-release }
	ws := newMockWS()

	conn := NewConnection(newMockRegistry(), disp, ws, "user6", ConnectionConfig{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = conn.Handle(ctx) }()

	select {
	case <-disp.connectCh:
	case <-time.After(1 * time.Second):
		t.Fatal("Connect not called")
	}

	conn.Deliver(models.Frame{Event: models.EventUserOnline, Data: json.RawMessage(`"u2"`)})
	select {
	case <-ws.writeCh:
	case <-time.After(1 * time.Second):
		t.Fatal("Frame held back while Connect was running")
	}

	close(release)
	ws.readCh <- models.Frame{Event: models.EventJoinChat, Data: json.RawMessage(`"c1"`)}
	select {
	case d := <-disp.dispatchCh:
		if d.event != models.EventJoinChat {
			t.Errorf("Unexpected dispatch %s", d.event)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("Reading did not start after Connect returned")
	}
}

func TestConnection_WSError(t *testing.T) {
	reg := newMockRegistry()
	disp := newMockDispatcher()
	ws := newMockWS()

	conn := NewConnection(reg, disp, ws, "user2", ConnectionConfig{}, zap.NewNop())

	ws.readCh <- errors.New("read error")

	done := make(chan error)
	go func() {
		done <- conn.Handle(context.Background())
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Error("Expected error from Handle, got nil")
		}
	case <-time.After(1 * time.Second):
		t.Fatal("Handle did not return on error")
	}

	if !ws.isClosed() {
		t.Error("WS Close not called")
	}

	select {
	case <-disp.disconnectCh:
	default:
		t.Error("Disconnect not called after transport error")
	}
}

func TestConnection_ServerClose(t *testing.T) {
	reg := newMockRegistry()
	disp := newMockDispatcher()
	ws := newMockWS()

	conn := NewConnection(reg, disp, ws, "user3", ConnectionConfig{}, zap.NewNop())
	disp.onDispatch = func(s Session, event models.Event) {
		if event == models.EventManualLogout {
			s.Close()
		}
	}

	done := make(chan error)
	go func() {
		done <- conn.Handle(context.Background())
	}()

	ws.readCh <- models.Frame{Event: models.EventManualLogout}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Server-side close should not be reported as error, got %v", err)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("Handle did not return after server close")
	}
}

func TestConnection_MalformedFrame(t *testing.T) {
	reg := newMockRegistry()
	disp := newMockDispatcher()
	ws := newMockWS()

	conn := NewConnection(reg, disp, ws, "user4", ConnectionConfig{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = conn.Handle(ctx) }()

	ws.readCh <- &json.SyntaxError{}
	ws.readCh <- &json.UnmarshalTypeError{Value: "number"}
	ws.readCh <- io.ErrUnexpectedEOF
	ws.readCh <- models.Frame{}
	ws.readCh <- models.Frame{Event: models.EventStopTyping, Data: json.RawMessage(`"c1"`)}

	select {
	case d := <-disp.dispatchCh:
		if d.event != models.EventStopTyping {
			t.Errorf("Expected stopTyping after skipped frames, got %s", d.event)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("Connection stopped reading after a malformed frame")
	}

	select {
	case <-disp.disconnectCh:
		t.Fatal("Malformed frames must not end the connection")
	default:
	}
}

func TestIsMalformed(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"syntax", &json.SyntaxError{}, true},
		{"type", &json.UnmarshalTypeError{}, true},
		{"truncated", io.ErrUnexpectedEOF, true},
		{"wrapped truncated", fmt.Errorf("read frame: %w", io.ErrUnexpectedEOF), true},
		{"abnormal close", &websocket.CloseError{Code: websocket.CloseAbnormalClosure, Text: io.ErrUnexpectedEOF.Error()}, false},
		{"eof", io.EOF, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isMalformed(tt.err); got != tt.want {
				t.Errorf("isMalformed(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestConnection_DeliverFullQueue(t *testing.T) {
	conn := NewConnection(newMockRegistry(), newMockDispatcher(), newMockWS(), "user5", ConnectionConfig{SendBuffer: 1}, zap.NewNop())

	if !conn.Deliver(models.Frame{Event: models.EventTyping}) {
		t.Fatal("First frame should fit the queue")
	}
	if conn.Deliver(models.Frame{Event: models.EventTyping}) {
		t.Error("Second frame should be dropped when the queue is full")
	}
}

func TestConnectionConfig_Defaults(t *testing.T) {
	cfg := ConnectionConfig{PongWait: 60 * time.Second}.withDefaults()
	if cfg.PingInterval != 54*time.Second {
		t.Errorf("Expected 54s ping interval, got %s", cfg.PingInterval)
	}
	if cfg.SendBuffer != 256 {
		t.Errorf("Expected send buffer 256, got %d", cfg.SendBuffer)
	}
}
