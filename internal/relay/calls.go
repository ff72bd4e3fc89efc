package relay

import (
	"context"
	"encoding/json"
	"time"

	"vaani/internal/models"
	"vaani/internal/ws"

	"github.com/c-pro/geche"
)

// Call signaling is point to point between personal rooms. Signal payloads
// (SDP offers, answers, ICE candidates) are never inspected.

func (r *Relay) callUser(_ context.Context, s ws.Session, data json.RawMessage) error {
	var req models.CallRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	if req.UserToCall == "" {
		return ErrMissingTargetID
	}
	if req.From == "" {
		req.From = s.UserID()
	}

	r.router.BroadcastToUser(req.UserToCall, models.EventCallUser, models.IncomingCall{
		Signal:   req.SignalData,
		From:     req.From,
		Name:     req.Name,
		CallType: req.CallType,
	})
	r.calls.Ring(req.From, req.UserToCall, req.CallType)
	return nil
}

func (r *Relay) answerCall(_ context.Context, s ws.Session, data json.RawMessage) error {
	var answer models.CallAnswer
	if err := decode(data, &answer); err != nil {
		return err
	}
	if answer.To == "" {
		return ErrMissingTargetID
	}

	r.router.BroadcastToUser(answer.To, models.EventCallAccepted, answer.Signal)
	r.calls.Accept(answer.To, s.UserID())
	return nil
}

func (r *Relay) rejectCall(_ context.Context, s ws.Session, data json.RawMessage) error {
	to, err := decodeCallTarget(data)
	if err != nil {
		return err
	}
	r.router.BroadcastToUser(to, models.EventCallRejected, nil)
	r.calls.Finish(to, s.UserID())
	return nil
}

func (r *Relay) endCall(_ context.Context, s ws.Session, data json.RawMessage) error {
	to, err := decodeCallTarget(data)
	if err != nil {
		return err
	}
	r.router.BroadcastToUser(to, models.EventCallEnded, nil)
	r.calls.Finish(to, s.UserID())
	return nil
}

func decodeCallTarget(data json.RawMessage) (string, error) {
	var target models.CallTarget
	if err := decode(data, &target); err != nil {
		return "", err
	}
	if target.To == "" {
		return "", ErrMissingTargetID
	}
	return target.To, nil
}

type CallState string

const (
	CallRinging   CallState = "ringing"
	CallConnected CallState = "connected"
)

type Call struct {
	Caller string          `json:"caller"`
	Callee string          `json:"callee"`
	Type   models.CallType `json:"callType"`
	State  CallState       `json:"state"`
	Since  time.Time       `json:"since"`
}

// CallLedger remembers call attempts for observability only; routing never
// consults it. Entries are keyed by the unordered user pair and expire on
// their own, so a call whose end was never signaled does not linger.
// A nil ledger ignores every call.
type CallLedger struct {
	ringing   geche.Geche[string, Call]
	connected geche.Geche[string, Call]
	now       func() time.Time
}

// NewCallLedger keeps unanswered calls for ringTimeout and answered ones for maxCall.
// Expired entries are swept until ctx ends.
func NewCallLedger(ctx context.Context, ringTimeout, maxCall time.Duration) *CallLedger {
	return &CallLedger{
		ringing:   geche.NewMapTTLCache[string, Call](ctx, ringTimeout, time.Second),
		connected: geche.NewMapTTLCache[string, Call](ctx, maxCall, time.Minute),
		now:       time.Now,
	}
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

func (l *CallLedger) Ring(caller, callee string, callType models.CallType) {
	if l == nil {
		return
	}
	l.ringing.Set(pairKey(caller, callee), Call{
		Caller: caller,
		Callee: callee,
		Type:   callType,
		State:  CallRinging,
		Since:  l.now(),
	})
}

func (l *CallLedger) Accept(caller, callee string) {
	if l == nil {
		return
	}
	key := pairKey(caller, callee)
	call, err := l.ringing.Get(key)
	if err != nil {
		call = Call{Caller: caller, Callee: callee}
	}
	_ = l.ringing.Del(key)

	call.State = CallConnected
	call.Since = l.now()
	l.connected.Set(key, call)
}

func (l *CallLedger) Finish(a, b string) {
	if l == nil {
		return
	}
	key := pairKey(a, b)
	_ = l.ringing.Del(key)
	_ = l.connected.Del(key)
}

// Active lists calls that are ringing or connected.
func (l *CallLedger) Active() []Call {
	if l == nil {
		return nil
	}
	var calls []Call
	for _, c := range l.ringing.Snapshot() {
		calls = append(calls, c)
	}
	for _, c := range l.connected.Snapshot() {
		calls = append(calls, c)
	}
	return calls
}

func (l *CallLedger) Len() int {
	if l == nil {
		return 0
	}
	return l.ringing.Len() + l.connected.Len()
}
