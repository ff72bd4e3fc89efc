package ws

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"vaani/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type wsConnection interface {
	Close() error
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
}

// keepalive is implemented by *websocket.Conn. Connections without it get no pings or deadlines.
type keepalive interface {
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	WriteControl(messageType int, data []byte, deadline time.Time) error
}

type registry interface {
	Register(c *Connection)
	Unregister(c *Connection)
}

// Session is the view of a connection handed to the dispatcher.
type Session interface {
	ID() string
	UserID() string
	Close()
}

// Dispatcher reacts to the lifecycle and events of an authenticated connection.
// Events of one connection are dispatched sequentially in receipt order.
type Dispatcher interface {
	Connect(ctx context.Context, s Session)
	Dispatch(ctx context.Context, s Session, event models.Event, data json.RawMessage)
	Disconnect(ctx context.Context, s Session)
}

type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateActive
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

type ConnectionConfig struct {
	SendBuffer   int
	PongWait     time.Duration
	PingInterval time.Duration
	WriteWait    time.Duration
}

func (c ConnectionConfig) withDefaults() ConnectionConfig {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongWait {
		c.PingInterval = c.PongWait * 9 / 10
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	return c
}

type Connection struct {
	ws              wsConnection
	hub             registry
	dispatcher      Dispatcher
	id              string
	userID          string
	authenticatedAt time.Time
	cfg             ConnectionConfig
	log             *zap.Logger

	state        atomic.Int32
	send         chan models.Frame
	done         chan struct{}
	closeOnce    sync.Once
	serverClosed atomic.Bool
}

// NewConnection wraps an upgraded socket whose token has already been verified for userID.
func NewConnection(
	hub registry,
	dispatcher Dispatcher,
	ws wsConnection,
	userID string,
	cfg ConnectionConfig,
	log *zap.Logger,
) *Connection {
	cfg = cfg.withDefaults()
	c := &Connection{
		ws:              ws,
		hub:             hub,
		dispatcher:      dispatcher,
		id:              uuid.NewString(),
		userID:          userID,
		authenticatedAt: time.Now(),
		cfg:             cfg,
		send:            make(chan models.Frame, cfg.SendBuffer),
		done:            make(chan struct{}),
	}
	c.log = log.With(zap.String("conn_id", c.id), zap.String("user_id", userID))
	c.state.Store(int32(StateAuthenticated))
	return c
}

func (c *Connection) ID() string                 { return c.id }
func (c *Connection) UserID() string             { return c.userID }
func (c *Connection) AuthenticatedAt() time.Time { return c.authenticatedAt }
func (c *Connection) State() State               { return State(c.state.Load()) }

// Deliver queues frame for writing without blocking.
// It reports false when the connection is closed or its queue is full.
func (c *Connection) Deliver(frame models.Frame) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Close terminates the connection from the server side. Safe to call more than once.
func (c *Connection) Close() {
	c.serverClosed.Store(true)
	c.shutdown()
}

func (c *Connection) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// Handle runs the connection until the client leaves, the server closes it or ctx ends.
func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.hub.Register(c)
	defer func() {
		c.state.Store(int32(StateDisconnected))
		c.hub.Unregister(c)
		c.dispatcher.Disconnect(context.WithoutCancel(ctx), c)
	}()

	// The writer runs while Connect does its presence work, so frames
	// queued for this connection are not held back by it.
	errorCh := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Go(func() {
		errorCh <- c.writeLoop(ctx)
		cancel()
	})

	c.dispatcher.Connect(ctx, c)
	c.state.Store(int32(StateActive))

	wg.Go(func() {
		errorCh <- c.pumpMessages(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-errorCh:
	case <-ctx.Done():
	}
	c.shutdown()
	wg.Wait()

	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return nil
	case c.serverClosed.Load():
		// The read error is the consequence of our own close.
		return nil
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		return nil
	}
	return err
}

func (c *Connection) pumpMessages(ctx context.Context) error {
	ka, hasKeepalive := c.ws.(keepalive)
	if hasKeepalive {
		_ = ka.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		ka.SetPongHandler(func(string) error {
			return ka.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		})
	}

	for {
		var frame models.Frame
		if err := c.ws.ReadJSON(&frame); err != nil {
			if isMalformed(err) {
				c.log.Warn("dropping malformed frame", zap.Error(err))
				continue
			}
			return err
		}
		if hasKeepalive {
			_ = ka.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if frame.Event == "" {
			c.log.Warn("dropping frame without event")
			continue
		}
		c.dispatcher.Dispatch(ctx, c, frame.Event, frame.Data)
	}
}

func (c *Connection) writeLoop(ctx context.Context) error {
	ka, hasKeepalive := c.ws.(keepalive)
	var ping <-chan time.Time
	if hasKeepalive {
		ticker := time.NewTicker(c.cfg.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case frame := <-c.send:
			if hasKeepalive {
				_ = ka.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			}
			if err := c.ws.WriteJSON(frame); err != nil {
				return err
			}
		case <-ping:
			if err := ka.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteWait)); err != nil {
				return err
			}
		case <-c.done:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// isMalformed reports decode failures of a single frame. ReadJSON returns
// io.ErrUnexpectedEOF for empty and truncated payloads; a dropped transport
// surfaces as *websocket.CloseError instead.
func isMalformed(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.Is(err, io.ErrUnexpectedEOF)
}
