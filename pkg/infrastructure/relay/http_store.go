package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/felixgeelhaar/fortify/retry"
	"github.com/felixgeelhaar/plangrid/pkg/domain"
	"github.com/felixgeelhaar/plangrid/pkg/domain/grid"
	"github.com/felixgeelhaar/plangrid/pkg/domain/tree"
	"github.com/felixgeelhaar/plangrid/pkg/storage"
)

// HTTPStore reads and writes documents through a relay's REST API. Sessions
// of a remote workspace use it as their DocumentStore and GridStore.
type HTTPStore struct {
	client *Client
}

// NewHTTPStore shares the client's address, HTTP client and retry policy.
func NewHTTPStore(client *Client) *HTTPStore {
	return &HTTPStore{client: client}
}

// statusError carries a non-2xx response.
type statusError struct {
	code int
	msg  string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("relay returned %d: %s", e.code, e.msg)
}

// do performs a request with retry. Only transport errors and 5xx responses
// are retried; a 4xx ends the attempt loop with its error. decode may be nil.
func (c *Client) do(ctx context.Context, method, endpoint, contentType string, body []byte, decode func(io.Reader) error) error {
	r := retry.New[attempt](c.retryConfig)
	final, err := r.Do(ctx, func(ctx context.Context) (attempt, error) {
		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, rd)
		if err != nil {
			return attempt{err}, nil
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		resp, err := c.httpc.Do(req)
		if err != nil {
			return attempt{}, err
		}
		defer resp.Body.Close() //nolint:errcheck
		switch {
		case resp.StatusCode >= 500:
			return attempt{}, readStatus(resp)
		case resp.StatusCode >= 300:
			return attempt{readStatus(resp)}, nil
		case decode != nil:
			return attempt{decode(resp.Body)}, nil
		}
		return attempt{}, nil
	})
	if err != nil {
		return err
	}
	return final.err
}

// attempt carries an error that must not be retried.
type attempt struct {
	err error
}

func readStatus(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(data, &body) != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(data))
	}
	return &statusError{code: resp.StatusCode, msg: body.Error}
}

// mapStatus turns relay 404s back into the domain errors stores return.
func mapStatus(err error, notFound error) error {
	var se *statusError
	if errors.As(err, &se) && se.code == http.StatusNotFound {
		return fmt.Errorf("%s: %w", se.msg, notFound)
	}
	return err
}

func getJSON[T any](ctx context.Context, c *Client, endpoint string) (*T, error) {
	var v T
	err := c.do(ctx, http.MethodGet, endpoint, "", nil, func(r io.Reader) error {
		return json.NewDecoder(r).Decode(&v)
	})
	if err != nil {
		return nil, mapStatus(err, domain.ErrProjectNotFound)
	}
	return &v, nil
}

func putJSON(ctx context.Context, c *Client, endpoint string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPut, endpoint, "application/json", data, nil)
}

func (s *HTTPStore) Load(ctx context.Context, project string) (*tree.Document, error) {
	doc, err := getJSON[tree.Document](ctx, s.client, s.client.endpoint("api", "projects", project, "document"))
	if err != nil {
		return nil, err
	}
	doc.Normalize()
	return doc, nil
}

func (s *HTTPStore) Save(ctx context.Context, project string, doc *tree.Document) error {
	return putJSON(ctx, s.client, s.client.endpoint("api", "projects", project, "document"), doc)
}

func (s *HTTPStore) LoadGrid(ctx context.Context, project string) (*grid.Grid, error) {
	return getJSON[grid.Grid](ctx, s.client, s.client.endpoint("api", "projects", project, "grid"))
}

func (s *HTTPStore) SaveGrid(ctx context.Context, project string, g *grid.Grid) error {
	return putJSON(ctx, s.client, s.client.endpoint("api", "projects", project, "grid"), g)
}

func (s *HTTPStore) ListProjects(ctx context.Context) ([]string, error) {
	body, err := getJSON[struct {
		Projects []string `json:"projects"`
	}](ctx, s.client, s.client.endpoint("api", "projects"))
	if err != nil {
		return nil, err
	}
	return body.Projects, nil
}

// HTTPFiles stores attachments on the relay.
type HTTPFiles struct {
	client *Client
}

func NewHTTPFiles(client *Client) *HTTPFiles {
	return &HTTPFiles{client: client}
}

// Upload buffers the content so a retried request can resend it.
func (f *HTTPFiles) Upload(ctx context.Context, name string, r io.Reader) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, io.LimitReader(r, maxUpload+1)); err != nil {
		return "", fmt.Errorf("read attachment: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", err
	}
	var out struct {
		StoredName string `json:"storedName"`
	}
	err = f.client.do(ctx, http.MethodPost, f.client.endpoint("api", "files"), mw.FormDataContentType(), buf.Bytes(),
		func(r io.Reader) error { return json.NewDecoder(r).Decode(&out) })
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	return out.StoredName, nil
}

func (f *HTTPFiles) Delete(ctx context.Context, storedName string) error {
	err := f.client.do(ctx, http.MethodDelete, f.client.endpoint("api", "files", storedName), "", nil, nil)
	return mapStatus(err, storage.ErrFileNotFound)
}

// Open downloads an attachment. The caller closes the reader.
func (f *HTTPFiles) Open(ctx context.Context, storedName string) (io.ReadCloser, error) {
	var buf bytes.Buffer
	err := f.client.do(ctx, http.MethodGet, f.client.endpoint("api", "files", storedName), "", nil, func(r io.Reader) error {
		buf.Reset()
		_, err := io.Copy(&buf, r)
		return err
	})
	if err != nil {
		return nil, mapStatus(err, storage.ErrFileNotFound)
	}
	return io.NopCloser(&buf), nil
}
