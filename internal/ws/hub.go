package ws

import (
	"sync"

	"vaani/internal/cluster"
	"vaani/internal/models"

	"go.uber.org/zap"
)

// Bus carries broadcasts to the other relay processes.
type Bus interface {
	Publish(d cluster.Delivery) error
	Subscribe(handler func(cluster.Delivery)) error
}

type Stats struct {
	Connections int `json:"connections"`
	Users       int `json:"users"`
	Rooms       int `json:"rooms"`
}

// Hub is the per-process registry of live connections and the rooms they are in.
// Every connection is a member of its personal room, keyed by its user id.
// Personal rooms are kept apart from chat rooms so Join can never enter one.
type Hub struct {
	// connID -> connection
	connections map[string]*Connection

	// userID -> connID -> connection
	users map[string]map[string]*Connection

	// chat roomID -> connID -> connection
	rooms map[string]map[string]*Connection

	// connID -> set of rooms, for cleanup on unregister
	memberships map[string]map[string]struct{}

	bus Bus
	log *zap.Logger

	mu sync.RWMutex
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		users:       make(map[string]map[string]*Connection),
		rooms:       make(map[string]map[string]*Connection),
		memberships: make(map[string]map[string]struct{}),
		log:         log.Named("hub"),
	}
}

// UseBus switches broadcasts to go through bus. Local connections then
// receive them back from the bus subscription like every other process.
func (h *Hub) UseBus(bus Bus) error {
	if err := bus.Subscribe(h.deliverLocal); err != nil {
		return err
	}
	h.mu.Lock()
	h.bus = bus
	h.mu.Unlock()
	return nil
}

// Register adds c and joins it to its personal room.
func (h *Hub) Register(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.connections[c.ID()] = c
	h.memberships[c.ID()] = make(map[string]struct{})

	devices, ok := h.users[c.UserID()]
	if !ok {
		devices = make(map[string]*Connection)
		h.users[c.UserID()] = devices
	}
	devices[c.ID()] = c
}

// Unregister removes c from every room it is in.
func (h *Hub) Unregister(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for room := range h.memberships[c.ID()] {
		h.leaveLocked(c.ID(), room)
	}
	delete(h.memberships, c.ID())
	delete(h.connections, c.ID())

	if devices, ok := h.users[c.UserID()]; ok {
		delete(devices, c.ID())
		if len(devices) == 0 {
			delete(h.users, c.UserID())
		}
	}
}

func (h *Hub) Join(connID, room string) {
	if room == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.connections[connID]
	if !ok {
		return
	}
	h.joinLocked(c, room)
}

func (h *Hub) Leave(connID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.connections[connID]; !ok {
		return
	}
	h.leaveLocked(connID, room)
}

func (h *Hub) joinLocked(c *Connection, room string) {
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*Connection)
		h.rooms[room] = members
	}
	members[c.ID()] = c
	h.memberships[c.ID()][room] = struct{}{}
}

func (h *Hub) leaveLocked(connID, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(h.memberships[connID], room)
}

// BroadcastToRoom delivers to every member of room except excludeConnID.
func (h *Hub) BroadcastToRoom(room string, event models.Event, payload any, excludeConnID string) {
	h.broadcast(cluster.Delivery{Room: room, Exclude: excludeConnID}, event, payload)
}

// BroadcastToUser delivers to every device of userID.
func (h *Hub) BroadcastToUser(userID string, event models.Event, payload any) {
	h.broadcast(cluster.Delivery{User: userID}, event, payload)
}

// BroadcastAll delivers to every connection except excludeConnID.
func (h *Hub) BroadcastAll(event models.Event, payload any, excludeConnID string) {
	h.broadcast(cluster.Delivery{All: true, Exclude: excludeConnID}, event, payload)
}

// SendTo delivers to a single local connection.
func (h *Hub) SendTo(connID string, event models.Event, payload any) {
	frame, err := models.NewFrame(event, payload)
	if err != nil {
		h.log.Error("encode frame", zap.String("event", string(event)), zap.Error(err))
		return
	}

	h.mu.RLock()
	c, ok := h.connections[connID]
	h.mu.RUnlock()
	if ok {
		h.deliver(c, frame)
	}
}

func (h *Hub) broadcast(d cluster.Delivery, event models.Event, payload any) {
	frame, err := models.NewFrame(event, payload)
	if err != nil {
		h.log.Error("encode frame", zap.String("event", string(event)), zap.Error(err))
		return
	}
	d.Event = string(frame.Event)
	d.Data = frame.Data

	h.mu.RLock()
	bus := h.bus
	h.mu.RUnlock()

	if bus != nil {
		err := bus.Publish(d)
		if err == nil {
			return
		}
		h.log.Warn("bus publish failed, delivering locally", zap.String("event", d.Event), zap.Error(err))
	}
	h.deliverLocal(d)
}

func (h *Hub) deliverLocal(d cluster.Delivery) {
	frame := models.Frame{Event: models.Event(d.Event), Data: d.Data}

	h.mu.RLock()
	var members map[string]*Connection
	switch {
	case d.All:
		members = h.connections
	case d.User != "":
		members = h.users[d.User]
	default:
		members = h.rooms[d.Room]
	}
	targets := make([]*Connection, 0, len(members))
	for id, c := range members {
		if id != d.Exclude {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.deliver(c, frame)
	}
}

func (h *Hub) deliver(c *Connection, frame models.Frame) {
	if !c.Deliver(frame) {
		h.log.Debug("frame dropped",
			zap.String("conn_id", c.ID()),
			zap.String("user_id", c.UserID()),
			zap.String("event", string(frame.Event)),
		)
	}
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Stats{Connections: len(h.connections), Users: len(h.users), Rooms: len(h.rooms)}
}

// CloseAll terminates every live connection. Used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.connections))
	for _, c := range h.connections {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.Close()
	}
}
