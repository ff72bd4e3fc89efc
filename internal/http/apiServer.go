package http

import (
	"context"
	"net/http"
	"sync"

	"vaani/internal/api"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type APIServer struct {
	server *http.Server
	log    *zap.Logger
	wg     sync.WaitGroup
}

// NewAPIServer serves health probes and the socket endpoint.
func NewAPIServer(socket http.HandlerFunc, health *api.HealthHandler, addr string, log *zap.Logger) *APIServer {
	log = log.Named("api")
	engine := newEngine(log)

	engine.GET("/", health.Root)
	engine.GET("/health", health.Health)
	engine.GET("/ready", health.Ready)
	engine.GET("/socket", gin.WrapF(socket))

	if addr == "" {
		addr = ":5000"
	}

	return &APIServer{
		server: &http.Server{
			Addr:    addr,
			Handler: engine,
		},
		log: log,
	}
}

func (s *APIServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *APIServer) Start() error {
	s.log.Info("server started", zap.String("addr", s.server.Addr))
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
