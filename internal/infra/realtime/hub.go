package realtime

import (
	"sync"

	"chatbot-ai-pipeline/internal/domain/model"
	"chatbot-ai-pipeline/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// RoomName is the room a conversation's members share.
func RoomName(conversationID string) string { return "conversation:" + conversationID }

// Client is one live connection. Outbound frames go through send in order;
// a client whose buffer is full is disconnected instead of skipping frames.
type Client struct {
	ID string

	send      chan Frame
	done      chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	grants map[string]model.JoinGrant // conversation id -> grant
}

func NewClient(id string, buffer int) *Client {
	if buffer <= 0 {
		buffer = 64
	}
	return &Client{ID: id, send: make(chan Frame, buffer), done: make(chan struct{}), grants: map[string]model.JoinGrant{}}
}

// Send is the ordered outbound queue.
func (c *Client) Send() <-chan Frame { return c.send }

// Done is closed when the client is kicked or unregistered.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) shut() { c.closeOnce.Do(func() { close(c.done) }) }

// Grant returns the join grant for a conversation the client joined.
func (c *Client) Grant(conversationID string) (model.JoinGrant, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.grants[conversationID]
	return g, ok
}

func (c *Client) setGrant(g model.JoinGrant) {
	c.mu.Lock()
	c.grants[g.ConversationID] = g
	c.mu.Unlock()
}

func (c *Client) dropGrant(conversationID string) {
	c.mu.Lock()
	delete(c.grants, conversationID)
	c.mu.Unlock()
}

// Hub tracks room membership for one gateway instance.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[*Client]struct{}
	clients map[*Client]struct{}
	log     *zerolog.Logger
}

func NewHub(logger *zerolog.Logger) *Hub {
	l := logger.With().Str("component", "hub").Logger()
	return &Hub{rooms: map[string]map[*Client]struct{}{}, clients: map[*Client]struct{}{}, log: &l}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	metrics.AddConnections(1)
}

// Unregister removes c from every room.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	for name, members := range h.rooms {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, name)
		}
	}
	n := len(h.rooms)
	h.mu.Unlock()
	c.shut()
	metrics.AddConnections(-1)
	metrics.SetRooms(n)
}

// Join adds c to the conversation room under grant.
func (h *Hub) Join(c *Client, g model.JoinGrant) {
	room := RoomName(g.ConversationID)
	h.mu.Lock()
	members, ok := h.rooms[room]
	if !ok {
		members = map[*Client]struct{}{}
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	n := len(h.rooms)
	h.mu.Unlock()
	c.setGrant(g)
	metrics.SetRooms(n)
}

func (h *Hub) Leave(c *Client, conversationID string) {
	room := RoomName(conversationID)
	h.mu.Lock()
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	n := len(h.rooms)
	h.mu.Unlock()
	c.dropGrant(conversationID)
	metrics.SetRooms(n)
}

func (h *Hub) IsMember(c *Client, conversationID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[RoomName(conversationID)][c]
	return ok
}

// Members is the number of clients in a conversation room.
func (h *Hub) Members(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[RoomName(conversationID)])
}

// Broadcast queues frame for every member of the conversation room except
// skip. Members that cannot keep up are disconnected. It returns the number
// of clients the frame was queued for.
func (h *Hub) Broadcast(conversationID string, frame Frame, skip *Client) int {
	room := RoomName(conversationID)
	var slow []*Client
	delivered := 0

	h.mu.RLock()
	for c := range h.rooms[room] {
		if c == skip {
			continue
		}
		select {
		case <-c.done:
		case c.send <- frame:
			delivered++
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		metrics.IncSlowConsumer()
		h.log.Warn().Str("client_id", c.ID).Str("room", room).Msg("disconnecting slow consumer")
		h.Unregister(c)
	}
	return delivered
}

// SendTo queues frame for a single client, disconnecting it when full.
func (h *Hub) SendTo(c *Client, frame Frame) bool {
	select {
	case <-c.done:
		return false
	case c.send <- frame:
		return true
	default:
		metrics.IncSlowConsumer()
		h.Unregister(c)
		return false
	}
}
