package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/felixgeelhaar/plangrid/internal/infrastructure/sse"
	"github.com/felixgeelhaar/plangrid/pkg/application"
	"github.com/felixgeelhaar/plangrid/pkg/domain"
	"github.com/felixgeelhaar/plangrid/pkg/domain/grid"
	"github.com/felixgeelhaar/plangrid/pkg/domain/patch"
	"github.com/felixgeelhaar/plangrid/pkg/domain/tree"
	"github.com/felixgeelhaar/plangrid/pkg/storage"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// maxUpload bounds attachment uploads.
const maxUpload = 32 << 20

// FileServer is a file store that can also hand contents back.
type FileServer interface {
	domain.FileStore
	Open(ctx context.Context, storedName string) (io.ReadCloser, error)
}

// ServerConfig wires the relay to storage. Store is required.
type ServerConfig struct {
	Store  domain.DocumentStore
	Grids  domain.GridStore
	Log    domain.PatchLog
	Files  FileServer
	Logger *slog.Logger
}

// Server relays patches between the sessions of each project. Every patch
// is applied to the stored document before it is broadcast, so a session
// that reloads sees everything that was relayed.
type Server struct {
	cfg       ServerConfig
	logger    *slog.Logger
	hub       *Hub
	publisher *storage.InMemoryPatchPublisher
	events    *sse.SSEHandler
	router    *gin.Engine
	upgrader  websocket.Upgrader

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewServer builds the relay and its routes.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("relay needs a document store")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	publisher := storage.NewInMemoryPatchPublisher()
	s := &Server{
		cfg:       cfg,
		logger:    logger,
		hub:       NewHub(logger),
		publisher: publisher,
		events:    sse.NewSSEHandler(publisher),
		locks:     make(map[string]*sync.Mutex),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 32 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/health", s.handleHealth)
	router.GET("/ws", s.handleWS)

	api := router.Group("/api")
	{
		api.GET("/projects", s.handleListProjects)
		api.GET("/projects/:project/document", s.handleGetDocument)
		api.PUT("/projects/:project/document", s.handlePutDocument)
		api.GET("/projects/:project/grid", s.handleGetGrid)
		api.PUT("/projects/:project/grid", s.handlePutGrid)
		api.POST("/projects/:project/patches", s.handlePostPatch)
		api.GET("/projects/:project/patches", s.handleListPatches)
		api.GET("/projects/:project/events", s.handleEvents)
		api.POST("/files", s.handleUpload)
		api.GET("/files/:name", s.handleDownload)
		api.DELETE("/files/:name", s.handleDeleteFile)
	}
	s.router = router
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the websocket rooms.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Publisher returns the in-process feed of relayed patches.
func (s *Server) Publisher() *storage.InMemoryPatchPublisher {
	return s.publisher
}

// Run serves on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Info("relay listening", "addr", addr)
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	}
}

func (s *Server) projectLock(project string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[project]
	if !ok {
		l = &sync.Mutex{}
		s.locks[project] = l
	}
	return l
}

// Relay materializes p into the stored project, logs it and broadcasts it.
// A patch that does not apply to the stored document is refused and not
// broadcast.
func (s *Server) Relay(ctx context.Context, p patch.Patch) error {
	if _, err := domain.NewProjectID(p.Project); err != nil {
		return fmt.Errorf("%w: %v", patch.ErrInvalidPatch, err)
	}
	// Peers must see patches in the order they were stored, so the rest
	// runs under the project lock. Broadcast and publish never block.
	lock := s.projectLock(p.Project)
	lock.Lock()
	defer lock.Unlock()

	if err := s.materialize(ctx, p); err != nil {
		return err
	}
	if s.cfg.Log != nil {
		if err := s.cfg.Log.Append(ctx, p); err != nil {
			s.logger.Warn("patch log append failed", "project", p.Project, "error", err)
		}
	}
	data, err := patch.Encode(p)
	if err != nil {
		return err
	}
	s.hub.Broadcast(p.Project, Frame{Type: FramePatch, Project: p.Project, Patch: data})
	_ = s.publisher.Publish(p)
	return nil
}

// materialize applies p to the stored document. The caller holds the
// project lock.
func (s *Server) materialize(ctx context.Context, p patch.Patch) error {
	doc, err := s.cfg.Store.Load(ctx, p.Project)
	if err != nil {
		return err
	}
	var g *grid.Grid
	if s.cfg.Grids != nil {
		g, err = s.cfg.Grids.LoadGrid(ctx, p.Project)
		if err != nil && !errors.Is(err, domain.ErrProjectNotFound) {
			return err
		}
	}
	st := application.NewState(doc, g)
	out, err := st.Apply(p)
	if err != nil {
		return err
	}
	if !out.Changed && len(out.Rollup) == 0 {
		return nil
	}
	if err := s.cfg.Store.Save(ctx, p.Project, st.Doc); err != nil {
		return err
	}
	if s.cfg.Grids != nil {
		if err := s.cfg.Grids.SaveGrid(ctx, p.Project, st.Grid); err != nil {
			return err
		}
	}
	s.logger.Debug("patch applied", "project", p.Project, "op", p.Op(), "target", p.Target(), "client", p.ClientID)
	return nil
}

// status maps domain errors to HTTP status codes.
func status(err error) int {
	switch {
	case errors.Is(err, domain.ErrProjectNotFound), errors.Is(err, storage.ErrFileNotFound):
		return http.StatusNotFound
	case errors.Is(err, patch.ErrInvalidPatch), errors.Is(err, patch.ErrUnknownOp),
		errors.Is(err, domain.ErrInvalidProjectName):
		return http.StatusBadRequest
	case errors.Is(err, tree.ErrTaskNotFound), errors.Is(err, tree.ErrWrongParent),
		errors.Is(err, tree.ErrNoSibling), errors.Is(err, tree.ErrDuplicateID),
		errors.Is(err, tree.ErrMaxDepth):
		return http.StatusConflict
	}
	var fe *tree.FieldError
	var de *grid.DecodeError
	if errors.As(err, &fe) || errors.As(err, &de) || errors.Is(err, tree.ErrSelfReference) || errors.Is(err, tree.ErrUnknownField) {
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(c *gin.Context, err error) {
	code := status(err)
	if code == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleListProjects(c *gin.Context) {
	lister, ok := s.cfg.Store.(domain.ProjectLister)
	if !ok {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "store cannot list projects"})
		return
	}
	names, err := lister.ListProjects(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": names})
}

func (s *Server) handleGetDocument(c *gin.Context) {
	doc, err := s.cfg.Store.Load(c.Request.Context(), c.Param("project"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (s *Server) handlePutDocument(c *gin.Context) {
	project := c.Param("project")
	var doc tree.Document
	if err := c.ShouldBindJSON(&doc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	lock := s.projectLock(project)
	lock.Lock()
	err := s.cfg.Store.Save(c.Request.Context(), project, &doc)
	lock.Unlock()
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleGetGrid(c *gin.Context) {
	if s.cfg.Grids == nil {
		s.fail(c, domain.ErrProjectNotFound)
		return
	}
	g, err := s.cfg.Grids.LoadGrid(c.Request.Context(), c.Param("project"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

func (s *Server) handlePutGrid(c *gin.Context) {
	if s.cfg.Grids == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "no grid store"})
		return
	}
	project := c.Param("project")
	var g grid.Grid
	if err := c.ShouldBindJSON(&g); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	lock := s.projectLock(project)
	lock.Lock()
	err := s.cfg.Grids.SaveGrid(c.Request.Context(), project, &g)
	lock.Unlock()
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handlePostPatch is the fallback for clients without a live channel.
func (s *Server) handlePostPatch(c *gin.Context) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxFrame))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, err := patch.Decode(data)
	if err != nil {
		c.JSON(http.StatusBadRequest, patch.Ack{Error: err.Error()})
		return
	}
	project := c.Param("project")
	if p.Project == "" {
		p.Project = project
	}
	if p.Project != project {
		c.JSON(http.StatusBadRequest, patch.Ack{Error: "patch is for project " + p.Project})
		return
	}
	if err := s.Relay(c.Request.Context(), p); err != nil {
		c.JSON(status(err), patch.Ack{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, patch.Ack{OK: true})
}

func (s *Server) handleListPatches(c *gin.Context) {
	if s.cfg.Log == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "no patch log"})
		return
	}
	after, err := strconv.Atoi(c.DefaultQuery("after", "0"))
	if err != nil || after < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "after must be a non-negative integer"})
		return
	}
	ps, err := s.cfg.Log.Since(c.Request.Context(), c.Param("project"), after)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"patches": ps})
}

func (s *Server) handleEvents(c *gin.Context) {
	s.events.Stream(c.Writer, c.Request, c.Param("project"))
}

func (s *Server) handleUpload(c *gin.Context) {
	if s.cfg.Files == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "no file storage"})
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUpload)
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer f.Close() //nolint:errcheck
	stored, err := s.cfg.Files.Upload(c.Request.Context(), fh.Filename, f)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"storedName": stored})
}

func (s *Server) handleDownload(c *gin.Context) {
	if s.cfg.Files == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "no file storage"})
		return
	}
	rc, err := s.cfg.Files.Open(c.Request.Context(), c.Param("name"))
	if err != nil {
		s.fail(c, err)
		return
	}
	defer rc.Close() //nolint:errcheck
	c.DataFromReader(http.StatusOK, -1, "application/octet-stream", rc, nil)
}

func (s *Server) handleDeleteFile(c *gin.Context) {
	if s.cfg.Files == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "no file storage"})
		return
	}
	if err := s.cfg.Files.Delete(c.Request.Context(), c.Param("name")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	p := &peer{conn: conn, send: make(chan []byte, sendBuffer)}
	go p.writePump()

	ctx := c.Request.Context()
	p.readPump(func(f Frame) { s.handleFrame(ctx, p, f) })

	s.hub.drop(p)
	p.close()
}

func (s *Server) handleFrame(ctx context.Context, p *peer, f Frame) {
	ack := Frame{Type: FrameAck, ID: f.ID, Project: f.Project}
	switch f.Type {
	case FrameJoin:
		if _, err := domain.NewProjectID(f.Project); err != nil {
			ack.Error = err.Error()
			break
		}
		s.hub.join(f.Project, p)
		ack.OK = true
	case FrameLeave:
		s.hub.leave(f.Project, p)
		ack.OK = true
	case FrameSend:
		pt, err := patch.Decode(f.Patch)
		if err == nil {
			err = s.Relay(ctx, pt)
		}
		if err != nil {
			s.logger.Info("patch refused", "error", err)
			ack.Error = err.Error()
			break
		}
		ack.OK = true
	default:
		ack.Error = fmt.Sprintf("unknown frame type %q", strings.TrimSpace(string(f.Type)))
	}
	p.reply(ack)
}
