package relay

import (
	"context"
	"encoding/json"
	"slices"

	"vaani/internal/models"
	"vaani/internal/ws"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	ErrMalformed       = errors.New("malformed payload")
	ErrNoParticipants  = errors.New("chat participants not defined")
	ErrNotParticipant  = errors.New("sender is not a chat participant")
	ErrMissingChatID   = errors.New("chat id is required")
	ErrMissingTargetID = errors.New("target user id is required")
)

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return errors.Wrap(ErrMalformed, "empty payload")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrap(ErrMalformed, err.Error())
	}
	return nil
}

func decodeChatID(data json.RawMessage) (string, error) {
	var chatID string
	if err := decode(data, &chatID); err != nil {
		return "", err
	}
	if chatID == "" {
		return "", ErrMissingChatID
	}
	return chatID, nil
}

func (r *Relay) joinChat(_ context.Context, s ws.Session, data json.RawMessage) error {
	chatID, err := decodeChatID(data)
	if err != nil {
		return err
	}
	r.router.Join(s.ID(), chatID)
	return nil
}

func (r *Relay) leaveChat(_ context.Context, s ws.Session, data json.RawMessage) error {
	chatID, err := decodeChatID(data)
	if err != nil {
		return err
	}
	r.router.Leave(s.ID(), chatID)
	return nil
}

// sendMessage forwards the envelope to the personal room of every participant but the sender.
func (r *Relay) sendMessage(ctx context.Context, s ws.Session, data json.RawMessage) error {
	var msg models.MessageEnvelope
	if err := decode(data, &msg); err != nil {
		return err
	}

	sender := msg.SenderRef()
	if sender == "" {
		sender = s.UserID()
	}

	recipients := msg.Recipients()
	if r.directory != nil && msg.Chat.ID != "" {
		persisted, err := r.directory.Participants(ctx, msg.Chat.ID)
		switch {
		case err != nil:
			r.log.Warn("participant lookup failed, using envelope",
				zap.String("chat_id", msg.Chat.ID), zap.Error(err))
		case !slices.Contains(persisted, sender):
			return errors.Wrapf(ErrNotParticipant, "chat %s", msg.Chat.ID)
		default:
			recipients = persisted
		}
	}

	if len(recipients) == 0 {
		return ErrNoParticipants
	}

	for _, userID := range dedupe(recipients) {
		if userID == sender {
			continue
		}
		r.router.BroadcastToUser(userID, models.EventMessageReceived, data)
	}
	return nil
}

func (r *Relay) typing(event models.Event) handlerFunc {
	return func(_ context.Context, s ws.Session, data json.RawMessage) error {
		chatID, err := decodeChatID(data)
		if err != nil {
			return err
		}
		r.router.BroadcastToRoom(chatID, event, models.ChatUser{ChatID: chatID, UserID: s.UserID()}, s.ID())
		return nil
	}
}

func (r *Relay) readMessages(_ context.Context, s ws.Session, data json.RawMessage) error {
	var read models.ChatUser
	if err := decode(data, &read); err != nil {
		return err
	}
	if read.ChatID == "" {
		return ErrMissingChatID
	}
	if read.UserID == "" {
		read.UserID = s.UserID()
	}
	r.router.BroadcastToRoom(read.ChatID, models.EventMessagesRead, read, s.ID())
	return nil
}

func (r *Relay) deleteMessage(_ context.Context, s ws.Session, data json.RawMessage) error {
	var del models.DeleteMessage
	if err := decode(data, &del); err != nil {
		return err
	}
	if del.ChatID == "" {
		return ErrMissingChatID
	}
	if del.MessageID == "" {
		return errors.Wrap(ErrMalformed, "message id is required")
	}
	r.router.BroadcastToRoom(del.ChatID, models.EventMessageDeleted, del.MessageID, s.ID())
	return nil
}

func (r *Relay) clearChat(_ context.Context, s ws.Session, data json.RawMessage) error {
	chatID, err := decodeChatID(data)
	if err != nil {
		return err
	}
	r.router.BroadcastToRoom(chatID, models.EventChatCleared, chatID, s.ID())
	return nil
}

// groupUpdate reaches every participant, the sender's devices included,
// whether or not they have the chat open.
func (r *Relay) groupUpdate(_ context.Context, _ ws.Session, data json.RawMessage) error {
	var chat models.ChatEnvelope
	if err := decode(data, &chat); err != nil {
		return err
	}

	recipients := chat.Recipients()
	if len(recipients) == 0 {
		return ErrNoParticipants
	}
	for _, userID := range dedupe(recipients) {
		r.router.BroadcastToUser(userID, models.EventGroupUpdated, data)
	}
	return nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
