package wiring

import (
	"context"

	"github.com/felixgeelhaar/plangrid/pkg/application"
	"github.com/felixgeelhaar/plangrid/pkg/infrastructure/relay"
)

// SessionOptions pick the project and presentation of a session.
type SessionOptions struct {
	Project  string
	Mode     application.Mode
	View     application.View
	Notifier application.Notifier
}

// OpenSession opens a session on the workspace. Remote sessions join the
// project room and reload after reconnecting, since patches relayed while
// the channel was down are not replayed. The returned close function sends
// pending patches, saves local edits and leaves the room.
func (w *Workspace) OpenSession(ctx context.Context, opts SessionOptions) (*application.Session, func(context.Context) error, error) {
	cfg := application.SessionConfig{
		Project:        opts.Project,
		User:           w.Config.Client.User,
		Mode:           opts.Mode,
		Store:          w.Store,
		Grids:          w.Store,
		Files:          w.Files,
		View:           opts.View,
		Notifier:       opts.Notifier,
		Logger:         w.Logger,
		CoalesceWindow: w.Config.Client.CoalesceWindow,
	}
	if w.Remote() {
		cfg.Transport = w.Client
		cfg.RelayPersists = true
	}
	s, err := application.NewSession(cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := s.Open(ctx); err != nil {
		return nil, nil, err
	}
	if !w.Remote() {
		return s, s.Close, nil
	}

	w.Client.OnReconnect(func(ctx context.Context) {
		if err := s.Reload(ctx); err != nil {
			w.Logger.Warn("reload after reconnect failed", "project", opts.Project, "error", err)
		}
	})
	if err := w.Client.Join(ctx, opts.Project, s.Receive); err != nil {
		w.Logger.Warn("join failed, continuing over http", "project", opts.Project, "error", err)
	}
	if w.Client.State() != relay.StateConnected {
		if err := w.Client.Connect(ctx); err != nil {
			w.Logger.Warn("relay unreachable, continuing over http", "url", w.Config.Server.URL, "error", err)
		}
	}
	closeFn := func(ctx context.Context) error {
		err := s.Close(ctx)
		_ = w.Client.Leave(ctx, opts.Project)
		return err
	}
	return s, closeFn, nil
}
