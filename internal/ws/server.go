package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"vaani/internal/auth"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Authenticator interface {
	Authenticate(token string) (string, error)
}

type ServerConfig struct {
	AllowedOrigins  []string
	PingTimeout     time.Duration
	SendBuffer      int
	MaxMessageBytes int64
}

type Server struct {
	auth           Authenticator
	hub            *Hub
	dispatcher     Dispatcher
	upgrader       *websocket.Upgrader
	connCfg        ConnectionConfig
	maxMessage     int64
	allowedOrigins map[string]struct{}
	allowAll       bool
	log            *zap.Logger

	// live hijacked connections; http.Server.Shutdown does not wait for them
	handlers sync.WaitGroup
}

func NewServer(authenticator Authenticator, hub *Hub, dispatcher Dispatcher, cfg ServerConfig, log *zap.Logger) *Server {
	s := &Server{
		auth:       authenticator,
		hub:        hub,
		dispatcher: dispatcher,
		connCfg: ConnectionConfig{
			SendBuffer: cfg.SendBuffer,
			PongWait:   cfg.PingTimeout,
		},
		maxMessage:     cfg.MaxMessageBytes,
		allowedOrigins: make(map[string]struct{}),
		log:            log.Named("ws"),
	}

	for _, origin := range cfg.AllowedOrigins {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			s.allowAll = true
			continue
		}
		normalized, ok := normalizeOrigin(origin)
		if !ok {
			s.log.Warn("ignoring invalid origin", zap.String("origin", origin))
			continue
		}
		s.allowedOrigins[normalized] = struct{}{}
	}

	s.upgrader = &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// HandleConnections authenticates the handshake and, once admitted,
// serves the socket until it closes.
func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	userID, err := s.auth.Authenticate(tokenFromRequest(r))
	if err != nil {
		s.log.Info("handshake refused", zap.String("remote", r.RemoteAddr), zap.Error(err))
		writeAuthError(w, err)
		return
	}

	s.handlers.Add(1)
	defer s.handlers.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("error upgrading to websocket", zap.String("user_id", userID), zap.Error(err))
		return
	}
	if s.maxMessage > 0 {
		conn.SetReadLimit(s.maxMessage)
	}

	c := NewConnection(s.hub, s.dispatcher, conn, userID, s.connCfg, s.log)
	s.log.Debug("connection admitted", zap.String("user_id", userID), zap.String("conn_id", c.ID()))

	if err := c.Handle(r.Context()); err != nil {
		s.log.Debug("connection ended", zap.String("conn_id", c.ID()), zap.Error(err))
	}
}

// Wait blocks until every admitted connection has finished its disconnect
// handling, or ctx ends. Call it after the listener stopped accepting.
func (s *Server) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tokenFromRequest looks in the Authorization header, the token header
// and the token query parameter, in that order.
func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if token := r.Header.Get("token"); token != "" {
		return token
	}
	return r.URL.Query().Get("token")
}

func writeAuthError(w http.ResponseWriter, err error) {
	message := "Authentication error: Invalid token"
	if errors.Is(err, auth.ErrMissingToken) {
		message = "Authentication error: No token provided"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": message})
}

// checkOrigin admits requests without an Origin header; those do not come from a browser.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || s.allowAll {
		return true
	}

	normalized, ok := normalizeOrigin(origin)
	if ok {
		if _, allowed := s.allowedOrigins[normalized]; allowed {
			return true
		}
	}

	s.log.Warn("blocked websocket connection from disallowed origin", zap.String("origin", origin))
	return false
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}
