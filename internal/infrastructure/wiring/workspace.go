package wiring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/felixgeelhaar/plangrid/internal/infrastructure/config"
	"github.com/felixgeelhaar/plangrid/internal/infrastructure/webhook"
	"github.com/felixgeelhaar/plangrid/pkg/domain"
	"github.com/felixgeelhaar/plangrid/pkg/domain/tree"
	"github.com/felixgeelhaar/plangrid/pkg/infrastructure/relay"
	"github.com/felixgeelhaar/plangrid/pkg/storage"
)

// Store is what sessions and the relay need from document storage.
type Store interface {
	domain.DocumentStore
	domain.GridStore
	domain.ProjectLister
}

// Workspace bundles the storage and transport of one working directory.
// With server.url set and Local unset, documents and files live on the
// relay and patches travel over its live channel.
type Workspace struct {
	Root     string
	Config   *config.Config
	Logger   *slog.Logger
	Repo     *storage.FilesystemRepository
	Store    Store
	Files    relay.FileServer
	Log      domain.PatchLog
	Contacts *storage.ContactDirectory
	Client   *relay.Client

	closers []func() error
}

// Options tune OpenWorkspace.
type Options struct {
	// Local ignores server.url. The relay server itself always runs local.
	Local bool
}

// OpenWorkspace builds stores for root according to cfg.
func OpenWorkspace(ctx context.Context, root string, cfg *config.Config, logger *slog.Logger, opts Options) (*Workspace, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	dataRoot := root
	if cfg.Storage.Dir != "" {
		dataRoot = cfg.Storage.Dir
		if !filepath.IsAbs(dataRoot) {
			dataRoot = filepath.Join(root, dataRoot)
		}
	}
	repo := storage.NewFilesystemRepository(dataRoot)
	w := &Workspace{
		Root:   root,
		Config: cfg,
		Logger: logger,
		Repo:   repo,
		Log:    storage.NewFilePatchLog(filepath.Join(repo.Dir(), storage.ProjectsDir)),
	}

	contacts, err := storage.LoadContacts(root)
	if err != nil {
		return nil, err
	}
	w.Contacts = contacts

	if cfg.Server.URL != "" && !opts.Local {
		client, err := relay.NewClient(relay.ClientConfig{
			URL:        cfg.Server.URL,
			AckTimeout: cfg.Client.AckTimeout,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		w.Client = client
		w.Store = relay.NewHTTPStore(client)
		w.Files = relay.NewHTTPFiles(client)
		w.closers = append(w.closers, client.Close)
		return w, nil
	}

	switch cfg.Storage.Driver {
	case config.DriverSQLite:
		path := cfg.Storage.DSN
		if !filepath.IsAbs(path) {
			path = filepath.Join(repo.Dir(), path)
		}
		if err := repo.Initialize(); err != nil {
			return nil, err
		}
		db, err := storage.OpenSQLite(ctx, path)
		if err != nil {
			return nil, err
		}
		w.Store = db
		w.closers = append(w.closers, db.Close)
	case config.DriverPostgres:
		pg, err := storage.OpenPostgres(ctx, cfg.Storage.DSN)
		if err != nil {
			return nil, err
		}
		w.Store = pg
		w.closers = append(w.closers, func() error { pg.Close(); return nil })
	default:
		w.Store = repo
	}
	w.Files = storage.NewLocalFileStore(filepath.Join(repo.Dir(), storage.FilesDir))
	logger.Debug("workspace opened", "root", root, "driver", cfg.Storage.Driver)
	return w, nil
}

// Remote reports whether documents live on a relay.
func (w *Workspace) Remote() bool {
	return w.Client != nil
}

// CreateProject stores an empty document unless the project exists.
func (w *Workspace) CreateProject(ctx context.Context, project string) (bool, error) {
	if _, err := domain.NewProjectID(project); err != nil {
		return false, err
	}
	if !w.Remote() && !w.Repo.IsInitialized() {
		w.Logger.Info("initializing workspace", "dir", w.Repo.Dir())
		if err := w.Repo.Initialize(); err != nil {
			return false, err
		}
	}
	_, err := w.Store.Load(ctx, project)
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, domain.ErrProjectNotFound):
		return false, err
	}
	if err := w.Store.Save(ctx, project, tree.NewDocument()); err != nil {
		return false, fmt.Errorf("create project %s: %w", project, err)
	}
	return true, nil
}

// ServerConfig wires the relay server to this workspace's stores.
func (w *Workspace) ServerConfig() relay.ServerConfig {
	return relay.ServerConfig{
		Store:  w.Store,
		Grids:  w.Store,
		Log:    w.Log,
		Files:  w.Files,
		Logger: w.Logger,
	}
}

// DeadLetterPath is where undeliverable webhook notifications are kept.
func (w *Workspace) DeadLetterPath() string {
	return filepath.Join(w.Repo.Dir(), "webhooks.deadletter.jsonl")
}

// Notifier returns the webhook notifier for the configured endpoints, or nil
// when there are none.
func (w *Workspace) Notifier() *webhook.Notifier {
	if len(w.Config.Webhooks) == 0 {
		return nil
	}
	endpoints := make([]webhook.Endpoint, len(w.Config.Webhooks))
	for i, h := range w.Config.Webhooks {
		endpoints[i] = webhook.Endpoint{
			Name:       h.Name,
			URL:        h.URL,
			Secret:     h.Secret,
			Ops:        h.Ops,
			MaxRetries: h.MaxRetries,
			RetryDelay: h.RetryDelay,
		}
	}
	return webhook.NewNotifier(endpoints, webhook.NewDeadLetterStore(w.DeadLetterPath()), w.Logger)
}

// Close releases connections in reverse order of opening.
func (w *Workspace) Close() error {
	var errs []error
	for i := len(w.closers) - 1; i >= 0; i-- {
		if err := w.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	w.closers = nil
	return errors.Join(errs...)
}
