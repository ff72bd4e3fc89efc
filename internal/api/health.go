package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const checkTimeout = 2 * time.Second

// Check reports whether a dependency is usable.
type Check func(ctx context.Context) error

type ConnectionCounter interface {
	Count() int
}

type HealthHandler struct {
	checks map[string]Check
	conns  ConnectionCounter
}

func NewHealthHandler(conns ConnectionCounter) *HealthHandler {
	return &HealthHandler{checks: make(map[string]Check), conns: conns}
}

// AddCheck registers a readiness dependency under name.
func (h *HealthHandler) AddCheck(name string, check Check) {
	h.checks[name] = check
}

type ReadyResponse struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies"`
	Connections  int               `json:"connections"`
}

func (h *HealthHandler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "OK", "message": "Vaani relay is running"})
}

// Health is the liveness probe; it does not look at dependencies.
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "OK", "message": "Server is healthy"})
}

func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), checkTimeout)
	defer cancel()

	resp := ReadyResponse{Status: "OK", Dependencies: make(map[string]string, len(h.checks))}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			resp.Dependencies[name] = err.Error()
			resp.Status = "DEGRADED"
			continue
		}
		resp.Dependencies[name] = "ok"
	}
	if h.conns != nil {
		resp.Connections = h.conns.Count()
	}

	code := http.StatusOK
	if resp.Status != "OK" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}
