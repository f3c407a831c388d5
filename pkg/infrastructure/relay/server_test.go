package relay_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/felixgeelhaar/plangrid/pkg/domain/patch"
	"github.com/felixgeelhaar/plangrid/pkg/domain/tree"
	"github.com/felixgeelhaar/plangrid/pkg/infrastructure/relay"
	"github.com/felixgeelhaar/plangrid/pkg/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type env struct {
	repo   *storage.FilesystemRepository
	log    *storage.FilePatchLog
	server *relay.Server
	http   *httptest.Server
}

func newEnv(t *testing.T) *env {
	t.Helper()
	root := t.TempDir()
	repo := storage.NewFilesystemRepository(root)
	if err := repo.Initialize(); err != nil {
		t.Fatal(err)
	}
	build := tree.NewTask(1, "Build")
	design := tree.NewTask(2, "Design")
	design.Cost = 10
	build.Subtasks = []*tree.Task{design}
	build.Cost = 10
	doc := tree.NewDocument()
	if err := doc.AddTask(build); err != nil {
		t.Fatal(err)
	}
	if err := repo.Save(context.Background(), "alpha", doc); err != nil {
		t.Fatal(err)
	}
	files := storage.NewLocalFileStore(filepath.Join(repo.Dir(), storage.FilesDir))
	log := storage.NewFilePatchLog(filepath.Join(repo.Dir(), storage.ProjectsDir))
	server, err := relay.NewServer(relay.ServerConfig{
		Store: repo,
		Grids: repo,
		Log:   log,
		Files: files,
	})
	if err != nil {
		t.Fatal(err)
	}
	hs := httptest.NewServer(server.Handler())
	t.Cleanup(hs.Close)
	return &env{repo: repo, log: log, server: server, http: hs}
}

func encode(t *testing.T, p patch.Patch) []byte {
	t.Helper()
	data, err := patch.Encode(p)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func rename(id int64, name string) patch.Patch {
	return patch.New(patch.Meta{Project: "alpha", ClientID: "c1"}, patch.Update{TaskID: id, Field: tree.FieldName, Value: name})
}

func TestServer_Health(t *testing.T) {
	e := newEnv(t)
	resp, err := http.Get(e.http.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestServer_PostPatchMaterializes(t *testing.T) {
	e := newEnv(t)
	p := patch.New(patch.Meta{Project: "alpha", ClientID: "c1"}, patch.Update{TaskID: 2, Field: tree.FieldCost, Value: 25.0})

	resp, err := http.Post(e.http.URL+"/api/projects/alpha/patches", "application/json", bytes.NewReader(encode(t, p)))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var ack patch.Ack
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK || !ack.OK {
		t.Fatalf("expected ok ack, got %d %+v", resp.StatusCode, ack)
	}

	doc, err := e.repo.Load(context.Background(), "alpha")
	if err != nil {
		t.Fatal(err)
	}
	if got := doc.Tasks[0].Cost; got != 25 {
		t.Errorf("expected parent cost rolled up to 25, got %v", got)
	}
	g, err := e.repo.LoadGrid(context.Background(), "alpha")
	if err != nil {
		t.Fatalf("expected grid saved next to the document: %v", err)
	}
	if g.TotalRows != 2 {
		t.Errorf("expected 2 grid rows, got %d", g.TotalRows)
	}

	logged, err := e.log.Since(context.Background(), "alpha", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(logged) != 1 || logged[0].Op() != patch.OpUpdate {
		t.Errorf("expected one logged update, got %v", logged)
	}
}

func TestServer_PostPatchRejects(t *testing.T) {
	e := newEnv(t)
	tests := []struct {
		name string
		path string
		body string
		code int
	}{
		{"malformed", "/api/projects/alpha/patches", `{"op":"nope"}`, http.StatusBadRequest},
		{"other project", "/api/projects/beta/patches", string(encode(t, rename(1, "x"))), http.StatusBadRequest},
		{"unknown task", "/api/projects/alpha/patches", string(encode(t, rename(77, "x"))), http.StatusConflict},
		{"missing project", "/api/projects/gamma/patches",
			string(encode(t, patch.New(patch.Meta{Project: "gamma", ClientID: "c1"}, patch.DeleteTask{TaskID: 1}))), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(e.http.URL+tt.path, "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			var ack patch.Ack
			_ = json.NewDecoder(resp.Body).Decode(&ack)
			if resp.StatusCode != tt.code {
				t.Errorf("expected %d, got %d (%s)", tt.code, resp.StatusCode, ack.Error)
			}
			if ack.OK || ack.Error == "" {
				t.Errorf("expected refusal, got %+v", ack)
			}
		})
	}
}

func TestServer_DocumentRoundTrip(t *testing.T) {
	e := newEnv(t)
	doc := tree.NewDocument()
	_ = doc.AddTask(tree.NewTask(5, "Plan"))
	body, _ := json.Marshal(doc)

	req, _ := http.NewRequest(http.MethodPut, e.http.URL+"/api/projects/beta/document", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	resp, err = http.Get(e.http.URL + "/api/projects/beta/document")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var got tree.Document
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got.Tasks) != 1 || got.Tasks[0].Name != "Plan" {
		t.Errorf("unexpected document: %+v", got)
	}

	resp, err = http.Get(e.http.URL + "/api/projects")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var list struct {
		Projects []string `json:"projects"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&list)
	if diff := cmp.Diff([]string{"alpha", "beta"}, list.Projects); diff != "" {
		t.Errorf("projects mismatch (-want +got):\n%s", diff)
	}

	resp, err = http.Get(e.http.URL + "/api/projects/nope/document")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func dialWS(t *testing.T, e *env) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) relay.Frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var f relay.Frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatal(err)
	}
	return f
}

func TestServer_WebsocketRelaysToRoom(t *testing.T) {
	e := newEnv(t)
	a, b := dialWS(t, e), dialWS(t, e)

	for i, conn := range []*websocket.Conn{a, b} {
		id := []string{"ja", "jb"}[i]
		if err := conn.WriteJSON(relay.Frame{Type: relay.FrameJoin, ID: id, Project: "alpha"}); err != nil {
			t.Fatal(err)
		}
		if ack := readFrame(t, conn); ack.Type != relay.FrameAck || ack.ID != id || !ack.OK {
			t.Fatalf("expected join ack, got %+v", ack)
		}
	}
	if n := e.server.Hub().Members("alpha"); n != 2 {
		t.Fatalf("expected 2 members, got %d", n)
	}

	if err := a.WriteJSON(relay.Frame{Type: relay.FrameSend, ID: "s1", Project: "alpha", Patch: encode(t, rename(2, "Sketch"))}); err != nil {
		t.Fatal(err)
	}

	// The sender gets the broadcast and its ack; order between them is not fixed.
	var sawAck, sawEcho bool
	for range 2 {
		f := readFrame(t, a)
		switch f.Type {
		case relay.FrameAck:
			sawAck = f.ID == "s1" && f.OK
		case relay.FramePatch:
			sawEcho = true
		}
	}
	if !sawAck || !sawEcho {
		t.Errorf("sender: ack=%v echo=%v", sawAck, sawEcho)
	}

	f := readFrame(t, b)
	if f.Type != relay.FramePatch {
		t.Fatalf("expected patch frame, got %+v", f)
	}
	p, err := patch.Decode(f.Patch)
	if err != nil {
		t.Fatal(err)
	}
	if u, ok := p.Payload.(patch.Update); !ok || u.Value != "Sketch" {
		t.Errorf("unexpected relayed patch: %v", p)
	}
}

func TestServer_WebsocketRefusalIsAcked(t *testing.T) {
	e := newEnv(t)
	conn := dialWS(t, e)
	if err := conn.WriteJSON(relay.Frame{Type: relay.FrameSend, ID: "bad", Project: "alpha", Patch: encode(t, rename(404, "x"))}); err != nil {
		t.Fatal(err)
	}
	ack := readFrame(t, conn)
	if ack.Type != relay.FrameAck || ack.OK || ack.Error == "" {
		t.Errorf("expected refusal ack, got %+v", ack)
	}
	if err := conn.WriteJSON(relay.Frame{Type: "shout", ID: "x"}); err != nil {
		t.Fatal(err)
	}
	if ack := readFrame(t, conn); ack.OK {
		t.Errorf("expected unknown frame refused, got %+v", ack)
	}
}

func TestServer_Files(t *testing.T) {
	e := newEnv(t)
	client, err := relay.NewClient(relay.ClientConfig{URL: e.http.URL})
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	files := relay.NewHTTPFiles(client)
	ctx := context.Background()

	stored, err := files.Upload(ctx, "Plan.PDF", strings.NewReader("%PDF"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(stored, ".pdf") {
		t.Errorf("expected lowercased extension, got %q", stored)
	}
	rc, err := files.Open(ctx, stored)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(rc)
	_ = rc.Close()
	if buf.String() != "%PDF" {
		t.Errorf("unexpected content %q", buf.String())
	}
	if err := files.Delete(ctx, stored); err != nil {
		t.Fatal(err)
	}
	if _, err := files.Open(ctx, stored); !errors.Is(err, storage.ErrFileNotFound) {
		t.Errorf("expected not found after delete, got %v", err)
	}
}

func TestServer_RelayBroadcastsInStoredOrder(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	var (
		mu        sync.Mutex
		published []string
	)
	e.server.Publisher().Subscribe(func(p patch.Patch) error {
		mu.Lock()
		defer mu.Unlock()
		published = append(published, p.Payload.(patch.Update).Value.(string))
		return nil
	})

	var wg sync.WaitGroup
	for i := range 12 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := e.server.Relay(ctx, rename(2, fmt.Sprintf("Design %d", i))); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	doc, err := e.repo.Load(ctx, "alpha")
	if err != nil {
		t.Fatal(err)
	}
	design, err := doc.Find(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(published) != 12 {
		t.Fatalf("expected 12 published patches, got %d", len(published))
	}
	if last := published[len(published)-1]; design.Name != last {
		t.Errorf("stored name %q, but peers saw %q last", design.Name, last)
	}

	logged, err := e.log.Since(ctx, "alpha", 0)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, p := range logged {
		names = append(names, p.Payload.(patch.Update).Value.(string))
	}
	if diff := cmp.Diff(published, names); diff != "" {
		t.Errorf("log order differs from broadcast order (-published +logged):\n%s", diff)
	}
}
