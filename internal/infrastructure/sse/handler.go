// Package sse streams relayed patches to HTTP clients as Server-Sent Events.
package sse

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/felixgeelhaar/plangrid/pkg/domain/patch"
	"github.com/felixgeelhaar/plangrid/pkg/storage"
)

type client struct {
	project string
	ch      chan patch.Patch
}

// SSEHandler streams patches via Server-Sent Events.
type SSEHandler struct {
	publisher *storage.InMemoryPatchPublisher
	mu        sync.RWMutex
	clients   map[*client]struct{}
}

// NewSSEHandler creates a new SSE handler subscribed to the publisher.
func NewSSEHandler(publisher *storage.InMemoryPatchPublisher) *SSEHandler {
	h := &SSEHandler{
		publisher: publisher,
		clients:   make(map[*client]struct{}),
	}

	publisher.Subscribe(func(p patch.Patch) error {
		h.mu.RLock()
		defer h.mu.RUnlock()
		for c := range h.clients {
			if c.project != "" && c.project != p.Project {
				continue
			}
			select {
			case c.ch <- p:
			default:
				// Drop if client is slow
			}
		}
		return nil
	})

	return h
}

// Clients returns the number of connected streams.
func (h *SSEHandler) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP streams patches of every project.
func (h *SSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.Stream(w, r, r.URL.Query().Get("project"))
}

// Stream streams the patches of one project, or of all projects when project
// is empty. The ops query parameter filters by comma-separated op names.
func (h *SSEHandler) Stream(w http.ResponseWriter, r *http.Request, project string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	opFilter := make(map[patch.Op]bool)
	if ops := r.URL.Query().Get("ops"); ops != "" {
		for _, op := range strings.Split(ops, ",") {
			opFilter[patch.Op(strings.TrimSpace(op))] = true
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	c := &client{project: project, ch: make(chan patch.Patch, 64)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
	}()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-c.ch:
			if len(opFilter) > 0 && !opFilter[p.Op()] {
				continue
			}
			data, err := patch.Encode(p)
			if err != nil {
				continue
			}
			_, _ = fmt.Fprintf(w, "event: %s\n", p.Op())
			_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}
