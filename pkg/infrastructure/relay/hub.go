package relay

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	maxFrame   = 4 << 20
	sendBuffer = 256
)

// peer is one websocket connection. Only its write pump writes to conn.
type peer struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (p *peer) close() {
	p.once.Do(func() { close(p.send) })
}

// Hub tracks which peers joined which project rooms.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[*peer]struct{}
	logger *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{rooms: make(map[string]map[*peer]struct{}), logger: logger}
}

func (h *Hub) join(project string, p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[project]
	if !ok {
		room = make(map[*peer]struct{})
		h.rooms[project] = room
	}
	room[p] = struct{}{}
}

func (h *Hub) leave(project string, p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(project, p)
}

func (h *Hub) leaveLocked(project string, p *peer) {
	room := h.rooms[project]
	delete(room, p)
	if len(room) == 0 {
		delete(h.rooms, project)
	}
}

// drop removes a peer from every room.
func (h *Hub) drop(p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for project := range h.rooms {
		h.leaveLocked(project, p)
	}
}

// Members returns the number of peers in a project room.
func (h *Hub) Members(project string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[project])
}

// Broadcast queues a frame for every peer in the project room, the sender
// included. A peer whose buffer is full is disconnected; it reloads on
// reconnect rather than silently missing a patch.
func (h *Hub) Broadcast(project string, f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		h.logger.Error("marshal frame", "error", err)
		return
	}
	h.mu.RLock()
	var slow []*peer
	for p := range h.rooms[project] {
		select {
		case p.send <- data:
		default:
			slow = append(slow, p)
		}
	}
	h.mu.RUnlock()
	for _, p := range slow {
		h.logger.Warn("dropping slow peer", "project", project)
		h.drop(p)
		p.close()
	}
}

func (p *peer) reply(f Frame) bool {
	data, err := json.Marshal(f)
	if err != nil {
		return false
	}
	defer func() { _ = recover() }() // send on a closed peer
	select {
	case p.send <- data:
		return true
	default:
		return false
	}
}

// writePump moves queued frames to the connection and keeps it alive with pings.
func (p *peer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = p.conn.Close()
	}()
	for {
		select {
		case data, ok := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = p.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump decodes frames until the connection fails and hands each to handle.
func (p *peer) readPump(handle func(Frame)) {
	p.conn.SetReadLimit(maxFrame)
	_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var f Frame
		if err := p.conn.ReadJSON(&f); err != nil {
			return
		}
		handle(f)
	}
}
