package storage

import (
	"sync"

	"github.com/felixgeelhaar/plangrid/pkg/domain/patch"
)

// PatchHandler receives published patches.
type PatchHandler func(p patch.Patch) error

// InMemoryPatchPublisher is a simple in-process patch publisher.
type InMemoryPatchPublisher struct {
	mu       sync.RWMutex
	handlers []PatchHandler
}

// NewInMemoryPatchPublisher creates a new in-memory publisher.
func NewInMemoryPatchPublisher() *InMemoryPatchPublisher {
	return &InMemoryPatchPublisher{
		handlers: make([]PatchHandler, 0),
	}
}

// Publish sends a patch to all subscribers.
func (p *InMemoryPatchPublisher) Publish(pt patch.Patch) error {
	p.mu.RLock()
	handlers := make([]PatchHandler, len(p.handlers))
	copy(handlers, p.handlers)
	p.mu.RUnlock()

	for _, h := range handlers {
		// Handlers must not block publishing.
		_ = h(pt)
	}
	return nil
}

// Subscribe registers a handler for patches.
func (p *InMemoryPatchPublisher) Subscribe(handler PatchHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, handler)
}
