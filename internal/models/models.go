package models

import (
	"bytes"
	"encoding/json"
	"errors"
)

var (
	ErrNotFound = errors.New("not found")
)

// Event is the name of a frame exchanged over the socket.
type Event string

// Events sent by the client.
const (
	EventJoinChat      Event = "joinChat"
	EventLeaveChat     Event = "leaveChat"
	EventSendMessage   Event = "sendMessage"
	EventTyping        Event = "typing"
	EventStopTyping    Event = "stopTyping"
	EventReadMessages  Event = "readMessages"
	EventDeleteMessage Event = "deleteMessage"
	EventClearChat     Event = "clearChat"
	EventGroupUpdate   Event = "groupUpdate"
	EventManualLogout  Event = "manualLogout"
	EventCallUser      Event = "callUser"
	EventAnswerCall    Event = "answerCall"
	EventRejectCall    Event = "rejectCall"
	EventEndCall       Event = "endCall"
)

// Events sent by the server. typing, stopTyping and callUser keep
// the same name in both directions.
const (
	EventGetOnlineUsers  Event = "getOnlineUsers"
	EventUserOnline      Event = "userOnline"
	EventUserOffline     Event = "userOffline"
	EventMessageReceived Event = "messageReceived"
	EventMessagesRead    Event = "messagesRead"
	EventMessageDeleted  Event = "messageDeleted"
	EventChatCleared     Event = "chatCleared"
	EventGroupUpdated    Event = "groupUpdated"
	EventCallAccepted    Event = "callAccepted"
	EventCallRejected    Event = "callRejected"
	EventCallEnded       Event = "callEnded"
	EventProfileUpdated  Event = "profileUpdated"
)

// Frame is a single websocket text frame in either direction.
type Frame struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewFrame marshals payload into a frame. A nil payload yields a frame without data.
func NewFrame(event Event, payload any) (Frame, error) {
	if payload == nil {
		return Frame{Event: event}, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		return Frame{Event: event, Data: raw}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Event: event, Data: data}, nil
}

// Ref is a reference to a document that arrives either as a bare id string
// or as a populated object carrying an `_id` field.
type Ref string

func (r *Ref) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*r = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = Ref(s)
		return nil
	}
	var doc struct {
		ID string `json:"_id"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	*r = Ref(doc.ID)
	return nil
}

// ChatRef is the chatId field of a message envelope: an id string
// or a populated chat with its participants.
type ChatRef struct {
	ID           string `json:"_id"`
	Participants []Ref  `json:"participants"`
}

func (c *ChatRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		*c = ChatRef{}
		return json.Unmarshal(data, &c.ID)
	}
	type alias ChatRef
	return json.Unmarshal(data, (*alias)(c))
}

// MessageEnvelope is the routing view of a sendMessage payload.
// The relay forwards the original bytes, never this struct.
type MessageEnvelope struct {
	ID           Ref     `json:"_id"`
	Sender       Ref     `json:"sender"`
	SenderID     string  `json:"senderId"`
	Chat         ChatRef `json:"chatId"`
	Participants []Ref   `json:"participants"`
}

// SenderRef returns the sender id from whichever field carries it.
func (m MessageEnvelope) SenderRef() string {
	if m.Sender != "" {
		return string(m.Sender)
	}
	return m.SenderID
}

// Recipients returns the participant ids carried by the envelope.
func (m MessageEnvelope) Recipients() []string {
	refs := m.Chat.Participants
	if len(refs) == 0 {
		refs = m.Participants
	}
	return refIDs(refs)
}

// ChatEnvelope is the routing view of a groupUpdate payload.
type ChatEnvelope struct {
	ID           Ref   `json:"_id"`
	Participants []Ref `json:"participants"`
}

func (c ChatEnvelope) Recipients() []string {
	return refIDs(c.Participants)
}

func refIDs(refs []Ref) []string {
	ids := make([]string, 0, len(refs))
	for _, r := range refs {
		if r != "" {
			ids = append(ids, string(r))
		}
	}
	return ids
}

// ChatUser is the payload of typing, stopTyping and messagesRead.
type ChatUser struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

type DeleteMessage struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
}

// CallRequest is the callUser payload sent by the caller.
type CallRequest struct {
	UserToCall string          `json:"userToCall"`
	SignalData json.RawMessage `json:"signalData"`
	From       string          `json:"from"`
	Name       string          `json:"name"`
	CallType   CallType        `json:"callType"`
}

// IncomingCall is the callUser payload delivered to the callee.
type IncomingCall struct {
	Signal   json.RawMessage `json:"signal"`
	From     string          `json:"from"`
	Name     string          `json:"name"`
	CallType CallType        `json:"callType"`
}

type CallAnswer struct {
	Signal json.RawMessage `json:"signal"`
	To     string          `json:"to"`
}

// CallTarget is the payload of rejectCall and endCall.
type CallTarget struct {
	To string `json:"to"`
}

type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

// Profile is broadcast to every connection after a profile change.
type Profile struct {
	ID     string `json:"_id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
	Bio    string `json:"bio,omitempty"`
}

// OnlineStatus is the admin view of a user's presence.
type OnlineStatus struct {
	UserID   string   `json:"userId"`
	Online   bool     `json:"online"`
	Sessions []string `json:"sessions"`
}
