package application_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"

	"github.com/felixgeelhaar/plangrid/pkg/application"
	"github.com/felixgeelhaar/plangrid/pkg/domain"
	"github.com/felixgeelhaar/plangrid/pkg/domain/grid"
	"github.com/felixgeelhaar/plangrid/pkg/domain/patch"
	"github.com/felixgeelhaar/plangrid/pkg/domain/tree"
)

// MemStore keeps documents as JSON so every load returns a fresh copy.
type MemStore struct {
	mu        sync.Mutex
	docs      map[string][]byte
	grids     map[string][]byte
	SaveError error
	Saves     int
}

func NewMemStore() *MemStore {
	return &MemStore{docs: map[string][]byte{}, grids: map[string][]byte{}}
}

func (m *MemStore) Load(_ context.Context, project string) (*tree.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.docs[project]
	if !ok {
		return nil, domain.ErrProjectNotFound
	}
	var doc tree.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (m *MemStore) Save(_ context.Context, project string, doc *tree.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveError != nil {
		return m.SaveError
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	m.docs[project] = data
	m.Saves++
	return nil
}

func (m *MemStore) LoadGrid(_ context.Context, project string) (*grid.Grid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.grids[project]
	if !ok {
		return nil, domain.ErrProjectNotFound
	}
	var g grid.Grid
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func (m *MemStore) SaveGrid(_ context.Context, project string, g *grid.Grid) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, err := json.Marshal(g)
	if err != nil {
		return err
	}
	m.grids[project] = data
	return nil
}

// Bus is an in-memory relay: every sent patch is materialized into the
// store, then delivered to every joined session, the sender included.
type Bus struct {
	mu       sync.Mutex
	store    *MemStore
	project  string
	state    *application.State
	sessions []*application.Session
	Sent     []patch.Patch
}

func NewBus(t *testing.T, store *MemStore, project string) *Bus {
	t.Helper()
	doc, err := store.Load(context.Background(), project)
	if err != nil {
		t.Fatal(err)
	}
	return &Bus{store: store, project: project, state: application.NewState(doc, nil)}
}

func (b *Bus) Join(s *application.Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions = append(b.sessions, s)
}

func (b *Bus) Send(ctx context.Context, p patch.Patch) error {
	// Round-trip through the wire form like a real relay.
	data, err := patch.Encode(p)
	if err != nil {
		return err
	}
	decoded, err := patch.Decode(data)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.Sent = append(b.Sent, decoded)
	if _, err := b.state.Apply(decoded); err == nil {
		_ = b.store.Save(ctx, b.project, b.state.Doc)
	}
	sessions := append([]*application.Session{}, b.sessions...)
	b.mu.Unlock()

	for _, s := range sessions {
		_ = s.Receive(ctx, decoded)
	}
	return nil
}

func (b *Bus) SentOps() []patch.Op {
	b.mu.Lock()
	defer b.mu.Unlock()
	ops := make([]patch.Op, len(b.Sent))
	for i, p := range b.Sent {
		ops[i] = p.Op()
	}
	return ops
}

// Recorder is a transport that only records.
type Recorder struct {
	mu   sync.Mutex
	Sent []patch.Patch
	Err  error
}

func (r *Recorder) Send(_ context.Context, p patch.Patch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Sent = append(r.Sent, p)
	return r.Err
}

func (r *Recorder) Patches() []patch.Patch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]patch.Patch{}, r.Sent...)
}

// FakeView records renders and can pretend a target has focus.
type FakeView struct {
	mu       sync.Mutex
	Focus    string
	Rendered []string
	Flashed  []string
	All      int
}

func (v *FakeView) HasFocus(target string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return target == v.Focus
}

func (v *FakeView) Render(target string, flash bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.Rendered = append(v.Rendered, target)
	if flash {
		v.Flashed = append(v.Flashed, target)
	}
}

func (v *FakeView) RenderAll() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.All++
}

// Notices records notifications.
type Notices struct {
	mu       sync.Mutex
	Messages []string
}

func (n *Notices) Notify(_ application.NoticeLevel, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Messages = append(n.Messages, message)
}

func (n *Notices) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.Messages)
}

// MemFiles is an in-memory file store.
type MemFiles struct {
	mu      sync.Mutex
	Files   map[string][]byte
	Deleted []string
}

func (f *MemFiles) Upload(_ context.Context, name string, r io.Reader) (string, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Files == nil {
		f.Files = map[string][]byte{}
	}
	stored := "stored-" + name
	f.Files[stored] = buf.Bytes()
	return stored, nil
}

func (f *MemFiles) Delete(_ context.Context, stored string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.Files, stored)
	f.Deleted = append(f.Deleted, stored)
	return nil
}
