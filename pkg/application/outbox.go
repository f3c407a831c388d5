package application

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/felixgeelhaar/plangrid/pkg/domain/patch"
)

// DefaultCoalesceWindow is the idle time after which a coalesced edit is sent.
const DefaultCoalesceWindow = 600 * time.Millisecond

// SendFunc transmits one patch.
type SendFunc func(ctx context.Context, p patch.Patch) error

type pendingEdit struct {
	patch patch.Patch
	timer *time.Timer
	gen   uint64
}

// Outbox orders outgoing patches. Coalesced edits wait for an idle window
// keyed by patch target, so each keystroke resets only its own timer and the
// last value wins. Everything else goes out at once, after any pending edits
// have been released, and a single goroutine sends in submission order.
type Outbox struct {
	window  time.Duration
	send    SendFunc
	onError func(patch.Patch, error)
	logger  *slog.Logger

	mu      sync.Mutex
	idle    *sync.Cond
	pending map[string]*pendingEdit
	gen     uint64
	queue   []patch.Patch
	sending bool
	closed  bool
	wake    chan struct{}
	done    chan struct{}
	cancel  context.CancelFunc
}

// NewOutbox starts an outbox. onError is called from the sending goroutine
// for every failed send; the patch is not retried.
func NewOutbox(window time.Duration, send SendFunc, onError func(patch.Patch, error), logger *slog.Logger) *Outbox {
	if window <= 0 {
		window = DefaultCoalesceWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &Outbox{
		window:  window,
		send:    send,
		onError: onError,
		logger:  logger,
		pending: make(map[string]*pendingEdit),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		cancel:  cancel,
	}
	o.idle = sync.NewCond(&o.mu)
	go o.run(ctx)
	return o
}

// Submit queues a patch. With coalesce set the patch replaces any pending
// edit for the same target and restarts its idle timer.
func (o *Outbox) Submit(p patch.Patch, coalesce bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	target := p.Target()
	if coalesce {
		if prev, ok := o.pending[target]; ok {
			prev.timer.Stop()
		}
		o.gen++
		e := &pendingEdit{patch: p, gen: o.gen}
		e.timer = time.AfterFunc(o.window, func() { o.release(target, e.gen) })
		o.pending[target] = e
		return
	}
	o.releaseAllLocked()
	o.enqueueLocked(p)
}

func (o *Outbox) release(target string, gen uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.pending[target]
	if !ok || e.gen != gen {
		return
	}
	delete(o.pending, target)
	o.enqueueLocked(e.patch)
}

// releaseAllLocked moves every pending edit to the queue in the order the
// edits were last touched.
func (o *Outbox) releaseAllLocked() {
	if len(o.pending) == 0 {
		return
	}
	edits := make([]*pendingEdit, 0, len(o.pending))
	for _, e := range o.pending {
		e.timer.Stop()
		edits = append(edits, e)
	}
	clear(o.pending)
	slices.SortFunc(edits, func(a, b *pendingEdit) int { return cmp.Compare(a.gen, b.gen) })
	for _, e := range edits {
		o.queue = append(o.queue, e.patch)
	}
	o.signal()
}

func (o *Outbox) enqueueLocked(p patch.Patch) {
	o.queue = append(o.queue, p)
	o.signal()
}

func (o *Outbox) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// Discard drops every held or queued patch that match selects and returns
// them in submission order. Patches the sending goroutine has already taken
// are not affected.
func (o *Outbox) Discard(match func(patch.Patch) bool) []patch.Patch {
	o.mu.Lock()
	defer o.mu.Unlock()
	var dropped []patch.Patch
	kept := o.queue[:0]
	for _, p := range o.queue {
		if match(p) {
			dropped = append(dropped, p)
			continue
		}
		kept = append(kept, p)
	}
	o.queue = kept

	var held []*pendingEdit
	for target, e := range o.pending {
		if !match(e.patch) {
			continue
		}
		e.timer.Stop()
		delete(o.pending, target)
		held = append(held, e)
	}
	slices.SortFunc(held, func(a, b *pendingEdit) int { return cmp.Compare(a.gen, b.gen) })
	for _, e := range held {
		dropped = append(dropped, e.patch)
	}
	if len(o.queue) == 0 && !o.sending {
		o.idle.Broadcast()
	}
	return dropped
}

// Pending returns the number of edits held back by their idle window.
func (o *Outbox) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

// Flush releases every held edit and waits until the queue has been sent.
func (o *Outbox) Flush() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.releaseAllLocked()
	for (len(o.queue) > 0 || o.sending) && !o.stopped() {
		o.idle.Wait()
	}
}

func (o *Outbox) stopped() bool {
	select {
	case <-o.done:
		return true
	default:
		return false
	}
}

// Close flushes and stops the sending goroutine.
func (o *Outbox) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		<-o.done
		return
	}
	o.releaseAllLocked()
	o.closed = true
	o.signal()
	o.mu.Unlock()
	<-o.done
	o.cancel()
}

func (o *Outbox) run(ctx context.Context) {
	defer func() {
		o.mu.Lock()
		close(o.done)
		o.idle.Broadcast()
		o.mu.Unlock()
	}()
	for {
		o.mu.Lock()
		batch := o.queue
		o.queue = nil
		closed := o.closed
		o.sending = len(batch) > 0
		o.mu.Unlock()

		for _, p := range batch {
			if err := o.send(ctx, p); err != nil {
				o.logger.Warn("patch send failed", "op", p.Op(), "target", p.Target(), "error", err)
				if o.onError != nil {
					o.onError(p, err)
				}
			}
		}

		o.mu.Lock()
		o.sending = false
		empty := len(o.queue) == 0
		if empty {
			o.idle.Broadcast()
		}
		o.mu.Unlock()

		if !empty {
			continue
		}
		if closed && len(batch) == 0 {
			return
		}
		if closed {
			continue
		}
		select {
		case <-o.wake:
		case <-ctx.Done():
			return
		}
	}
}
