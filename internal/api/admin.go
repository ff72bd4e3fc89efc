package api

import (
	"context"
	"net/http"

	"vaani/internal/content"
	"vaani/internal/models"
	"vaani/internal/relay"
	"vaani/internal/ws"

	"github.com/gin-gonic/gin"
)

type PresenceReader interface {
	ListOnlineUserIDs(ctx context.Context) []string
	Status(ctx context.Context, userID string) models.OnlineStatus
}

// Broadcaster is the part of the hub used for server-originated events.
type Broadcaster interface {
	BroadcastAll(event models.Event, payload any, excludeConnID string)
	Stats() ws.Stats
}

type TokenIssuer interface {
	Issue(userID string) (string, error)
}

// AdminHandler serves operator endpoints. It is mounted on the admin listener only.
type AdminHandler struct {
	presence PresenceReader
	hub      Broadcaster
	calls    *relay.CallLedger
	issuer   TokenIssuer
}

func NewAdminHandler(presence PresenceReader, hub Broadcaster, calls *relay.CallLedger, issuer TokenIssuer) *AdminHandler {
	return &AdminHandler{presence: presence, hub: hub, calls: calls, issuer: issuer}
}

type StatsResponse struct {
	ws.Stats
	ActiveCalls int          `json:"activeCalls"`
	Calls       []relay.Call `json:"calls"`
}

type IssueTokenRequest struct {
	UserID string `json:"userId" binding:"required"`
}

type IssueTokenResponse struct {
	Token string `json:"token"`
}

func (h *AdminHandler) OnlineUsersHandler(c *gin.Context) {
	c.JSON(http.StatusOK, h.presence.ListOnlineUserIDs(c.Request.Context()))
}

func (h *AdminHandler) UserPresenceHandler(c *gin.Context) {
	c.JSON(http.StatusOK, h.presence.Status(c.Request.Context(), c.Param("userId")))
}

func (h *AdminHandler) StatsHandler(c *gin.Context) {
	calls := h.calls.Active()
	if calls == nil {
		calls = []relay.Call{}
	}
	c.JSON(http.StatusOK, StatsResponse{
		Stats:       h.hub.Stats(),
		ActiveCalls: len(calls),
		Calls:       calls,
	})
}

// ProfileUpdatedHandler lets the REST layer announce a profile change to every connection.
func (h *AdminHandler) ProfileUpdatedHandler(c *gin.Context) {
	var profile models.Profile
	if err := c.ShouldBindJSON(&profile); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request body"})
		return
	}
	if profile.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "_id is required"})
		return
	}

	h.hub.BroadcastAll(models.EventProfileUpdated, content.SanitizeProfile(profile), "")
	c.Status(http.StatusAccepted)
}

func (h *AdminHandler) IssueTokenHandler(c *gin.Context) {
	var req IssueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "userId is required"})
		return
	}
	if err := content.ValidateUserID(req.UserID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	token, err := h.issuer.Issue(req.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to issue token"})
		return
	}
	c.JSON(http.StatusOK, IssueTokenResponse{Token: token})
}
