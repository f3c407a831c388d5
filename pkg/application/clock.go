package application

import (
	"sync"

	"github.com/felixgeelhaar/plangrid/pkg/domain/patch"
)

// VersionClock keeps a version per patch target. Local edits advance it and
// stamp the outgoing patch; remote stamps are folded in. A remote stamp whose
// base is behind the local version reveals a concurrent write: both sides
// wrote without seeing each other. The write is still applied, last write
// wins, but the overlap is reported.
type VersionClock struct {
	mu   sync.Mutex
	seqs map[string]uint64
}

// NewVersionClock returns an empty clock.
func NewVersionClock() *VersionClock {
	return &VersionClock{seqs: make(map[string]uint64)}
}

// Stamp advances the version of target for a local edit.
func (c *VersionClock) Stamp(target string) *patch.Stamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	base := c.seqs[target]
	c.seqs[target] = base + 1
	return &patch.Stamp{Seq: base + 1, Base: base}
}

// Observe folds a remote stamp into the clock and reports whether it
// conflicts with a version this side produced or saw first.
func (c *VersionClock) Observe(target string, s *patch.Stamp) bool {
	if s == nil || target == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	local := c.seqs[target]
	if s.Seq > local {
		c.seqs[target] = s.Seq
	}
	return s.Base < local
}

// Version returns the current version of target.
func (c *VersionClock) Version(target string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seqs[target]
}

// Reset forgets every version, after a full reload.
func (c *VersionClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.seqs)
}
