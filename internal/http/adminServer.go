package http

import (
	"context"
	"net/http"
	"sync"

	"vaani/internal/api"

	"go.uber.org/zap"
)

type AdminServer struct {
	server *http.Server
	log    *zap.Logger
	wg     sync.WaitGroup
}

// NewAdminServer exposes operator endpoints. Bind it to a loopback address.
func NewAdminServer(admin *api.AdminHandler, addr string, log *zap.Logger) *AdminServer {
	log = log.Named("admin")
	engine := newEngine(log)

	g := engine.Group("/admin")
	g.GET("/presence", admin.OnlineUsersHandler)
	g.GET("/presence/:userId", admin.UserPresenceHandler)
	g.GET("/stats", admin.StatsHandler)
	g.POST("/broadcast/profile", admin.ProfileUpdatedHandler)
	g.POST("/tokens", admin.IssueTokenHandler)

	if addr == "" {
		addr = "localhost:5001"
	}

	return &AdminServer{
		server: &http.Server{
			Addr:    addr,
			Handler: engine,
		},
		log: log,
	}
}

func (s *AdminServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *AdminServer) Start() error {
	s.log.Info("admin API started", zap.String("addr", s.server.Addr))
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *AdminServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
