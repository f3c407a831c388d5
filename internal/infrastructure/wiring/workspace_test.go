package wiring

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/felixgeelhaar/plangrid/internal/infrastructure/config"
	"github.com/felixgeelhaar/plangrid/internal/infrastructure/webhook"
	"github.com/felixgeelhaar/plangrid/pkg/application"
	"github.com/felixgeelhaar/plangrid/pkg/domain"
	"github.com/felixgeelhaar/plangrid/pkg/domain/patch"
	"github.com/felixgeelhaar/plangrid/pkg/domain/tree"
	"github.com/felixgeelhaar/plangrid/pkg/infrastructure/relay"
	"github.com/felixgeelhaar/plangrid/pkg/storage"
	"github.com/gin-gonic/gin"
)

func open(t *testing.T, root string, cfg *config.Config, opts Options) *Workspace {
	t.Helper()
	ws, err := OpenWorkspace(context.Background(), root, cfg, nil, opts)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func TestOpenWorkspace_Drivers(t *testing.T) {
	sqliteCfg := config.Default()
	sqliteCfg.Storage = config.Storage{Driver: config.DriverSQLite, DSN: "plan.db"}

	tests := []struct {
		name string
		cfg  *config.Config
	}{
		{"file", config.Default()},
		{"sqlite", sqliteCfg},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			ws := open(t, t.TempDir(), tt.cfg, Options{})
			if ws.Remote() {
				t.Fatal("expected local workspace")
			}

			created, err := ws.CreateProject(ctx, "alpha")
			if err != nil || !created {
				t.Fatalf("expected project created, got %v %v", created, err)
			}
			created, err = ws.CreateProject(ctx, "alpha")
			if err != nil || created {
				t.Fatalf("expected existing project kept, got %v %v", created, err)
			}
			names, err := ws.Store.ListProjects(ctx)
			if err != nil || len(names) != 1 {
				t.Errorf("unexpected projects %v (%v)", names, err)
			}

			s, closeFn, err := ws.OpenSession(ctx, SessionOptions{Project: "alpha"})
			if err != nil {
				t.Fatal(err)
			}
			if _, err := s.AddTask("Plan"); err != nil {
				t.Fatal(err)
			}
			if err := closeFn(ctx); err != nil {
				t.Fatal(err)
			}
			doc, err := ws.Store.Load(ctx, "alpha")
			if err != nil {
				t.Fatal(err)
			}
			if len(doc.Tasks) != 1 || doc.Tasks[0].Name != "Plan" {
				t.Errorf("expected saved task, got %+v", doc.Tasks)
			}
		})
	}
}

func TestOpenSession_MissingProject(t *testing.T) {
	ws := open(t, t.TempDir(), nil, Options{})
	_, _, err := ws.OpenSession(context.Background(), SessionOptions{Project: "ghost"})
	if !errors.Is(err, domain.ErrProjectNotFound) {
		t.Errorf("expected ErrProjectNotFound, got %v", err)
	}
}

func TestCreateProject_RejectsBadName(t *testing.T) {
	ws := open(t, t.TempDir(), nil, Options{})
	if _, err := ws.CreateProject(context.Background(), "../etc"); err == nil {
		t.Error("expected invalid project name")
	}
}

func TestOpenWorkspace_Remote(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	serverWS := open(t, t.TempDir(), nil, Options{Local: true})
	if _, err := serverWS.CreateProject(ctx, "alpha"); err != nil {
		t.Fatal(err)
	}
	srv, err := relay.NewServer(serverWS.ServerConfig())
	if err != nil {
		t.Fatal(err)
	}
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)

	cfg := config.Default()
	cfg.Server.URL = hs.URL
	cfg.Client.CoalesceWindow = 10 * time.Millisecond
	client := open(t, t.TempDir(), cfg, Options{})
	if !client.Remote() {
		t.Fatal("expected remote workspace")
	}

	s, closeFn, err := client.OpenSession(ctx, SessionOptions{Project: "alpha", Mode: application.ModeTree})
	if err != nil {
		t.Fatal(err)
	}
	id, err := s.AddTask("Remote")
	if err != nil {
		t.Fatal(err)
	}
	s.Flush()

	deadline := time.Now().Add(5 * time.Second)
	for {
		doc, err := serverWS.Store.Load(ctx, "alpha")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := doc.Find(id); err == nil {
			break
		} else if !errors.Is(err, tree.ErrTaskNotFound) || time.Now().After(deadline) {
			t.Fatalf("task never reached the relay store: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err := closeFn(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok := serverWS.Files.(*storage.LocalFileStore); !ok {
		t.Errorf("expected relay to keep files locally, got %T", serverWS.Files)
	}
}

func TestNotifier_RelayedPatchesReachWebhook(t *testing.T) {
	got := make(chan string, 1)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body webhook.Payload
		_ = json.NewDecoder(r.Body).Decode(&body)
		got <- string(body.Op)
	}))
	defer hook.Close()

	cfg := config.Default()
	if ws := open(t, t.TempDir(), cfg, Options{}); ws.Notifier() != nil {
		t.Fatal("no webhooks configured, notifier should be nil")
	}

	cfg.Webhooks = []config.Webhook{{Name: "ci", URL: hook.URL, Ops: []string{"addTask"}}}
	ws := open(t, t.TempDir(), cfg, Options{Local: true})
	ctx := context.Background()
	if _, err := ws.CreateProject(ctx, "alpha"); err != nil {
		t.Fatal(err)
	}
	srv, err := relay.NewServer(ws.ServerConfig())
	if err != nil {
		t.Fatal(err)
	}
	n := ws.Notifier()
	srv.Publisher().Subscribe(func(p patch.Patch) error {
		n.Notify(ctx, p)
		return nil
	})

	p := patch.New(patch.Meta{Project: "alpha", ClientID: "c1"}, patch.AddTask{Task: tree.NewTask(1, "Build")})
	if err := srv.Relay(ctx, p); err != nil {
		t.Fatal(err)
	}
	n.Wait()
	select {
	case op := <-got:
		if op != "addTask" {
			t.Fatalf("op = %q", op)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("webhook not called")
	}
}
