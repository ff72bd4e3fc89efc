// Package relay routes client events to rooms and users.
// It persists nothing; envelopes are forwarded as received.
package relay

import (
	"context"
	"encoding/json"
	"sync"

	"vaani/internal/models"
	"vaani/internal/ws"

	"go.uber.org/zap"
)

// Router is the room fan-out the relay emits through.
type Router interface {
	Join(connID, room string)
	Leave(connID, room string)
	BroadcastToRoom(room string, event models.Event, payload any, excludeConnID string)
	BroadcastToUser(userID string, event models.Event, payload any)
	BroadcastAll(event models.Event, payload any, excludeConnID string)
	SendTo(connID string, event models.Event, payload any)
}

// Presence is the best-effort online tracker.
type Presence interface {
	MarkOnline(ctx context.Context, userID, connID string)
	MarkOffline(ctx context.Context, userID, connID string) bool
	ForceOffline(ctx context.Context, userID string)
	ListOnlineUserIDs(ctx context.Context) []string
}

// Directory resolves the persisted participants of a chat.
type Directory interface {
	Participants(ctx context.Context, chatID string) ([]string, error)
}

type Options struct {
	// Directory enables checking sendMessage recipients against the stored chat.
	Directory Directory
	Calls     *CallLedger
}

type handlerFunc func(ctx context.Context, s ws.Session, data json.RawMessage) error

type Relay struct {
	router    Router
	presence  Presence
	directory Directory
	calls     *CallLedger
	log       *zap.Logger
	handlers  map[models.Event]handlerFunc

	// connection ids that left through manualLogout
	loggedOut sync.Map
}

func New(router Router, presence Presence, opts Options, log *zap.Logger) *Relay {
	r := &Relay{
		router:    router,
		presence:  presence,
		directory: opts.Directory,
		calls:     opts.Calls,
		log:       log.Named("relay"),
	}

	r.handlers = map[models.Event]handlerFunc{
		models.EventJoinChat:      r.joinChat,
		models.EventLeaveChat:     r.leaveChat,
		models.EventSendMessage:   r.sendMessage,
		models.EventTyping:        r.typing(models.EventTyping),
		models.EventStopTyping:    r.typing(models.EventStopTyping),
		models.EventReadMessages:  r.readMessages,
		models.EventDeleteMessage: r.deleteMessage,
		models.EventClearChat:     r.clearChat,
		models.EventGroupUpdate:   r.groupUpdate,
		models.EventManualLogout:  r.manualLogout,
		models.EventCallUser:      r.callUser,
		models.EventAnswerCall:    r.answerCall,
		models.EventRejectCall:    r.rejectCall,
		models.EventEndCall:       r.endCall,
	}

	return r
}

// Connect records presence, sends the online snapshot to the new connection
// and announces the user to everyone else.
func (r *Relay) Connect(ctx context.Context, s ws.Session) {
	r.presence.MarkOnline(ctx, s.UserID(), s.ID())
	r.router.SendTo(s.ID(), models.EventGetOnlineUsers, r.presence.ListOnlineUserIDs(ctx))
	r.router.BroadcastAll(models.EventUserOnline, s.UserID(), s.ID())
	r.log.Info("user connected", zap.String("user_id", s.UserID()), zap.String("conn_id", s.ID()))
}

// Dispatch handles one client event. Failures are logged and the event is dropped.
func (r *Relay) Dispatch(ctx context.Context, s ws.Session, event models.Event, data json.RawMessage) {
	handler, ok := r.handlers[event]
	if !ok {
		r.log.Warn("unknown event", zap.String("event", string(event)), zap.String("conn_id", s.ID()))
		return
	}

	if err := handler(ctx, s, data); err != nil {
		r.log.Warn("dropping event",
			zap.String("event", string(event)),
			zap.String("user_id", s.UserID()),
			zap.String("conn_id", s.ID()),
			zap.Error(err),
		)
	}
}

// Disconnect announces the user offline when their last session ends.
// Sessions closed by manualLogout were already handled.
func (r *Relay) Disconnect(ctx context.Context, s ws.Session) {
	if _, ok := r.loggedOut.LoadAndDelete(s.ID()); ok {
		return
	}

	if r.presence.MarkOffline(ctx, s.UserID(), s.ID()) {
		r.router.BroadcastAll(models.EventUserOffline, s.UserID(), "")
		r.log.Info("user offline", zap.String("user_id", s.UserID()))
		return
	}
	r.log.Debug("session closed", zap.String("user_id", s.UserID()), zap.String("conn_id", s.ID()))
}

func (r *Relay) manualLogout(ctx context.Context, s ws.Session, _ json.RawMessage) error {
	r.loggedOut.Store(s.ID(), struct{}{})
	r.presence.ForceOffline(ctx, s.UserID())
	r.router.BroadcastAll(models.EventUserOffline, s.UserID(), s.ID())
	r.log.Info("user logged out", zap.String("user_id", s.UserID()))
	s.Close()
	return nil
}
