// Package fetch loads circuit, key and module artifacts by namespace and name.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/natefinch/atomic"
	"go.uber.org/zap"

	"github.com/spacemeshos/zksym/shared"
)

// ErrNotFound is returned when an artifact doesn't exist.
var ErrNotFound = errors.New("artifact not found")

// Fetcher returns the contents of an artifact.
type Fetcher interface {
	Fetch(ctx context.Context, namespace, filename string) ([]byte, error)
}

// Func adapts a function to the Fetcher interface.
type Func func(ctx context.Context, namespace, filename string) ([]byte, error)

func (f Func) Fetch(ctx context.Context, namespace, filename string) ([]byte, error) {
	return f(ctx, namespace, filename)
}

// Local reads artifacts from <Dir>/<namespace>/<filename>.
type Local struct {
	Dir string
}

func (l Local) Fetch(ctx context.Context, namespace, filename string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(l.Dir, namespace, filename))
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, namespace, filename)
	case err != nil:
		return nil, fmt.Errorf("read artifact %s/%s: %w", namespace, filename, err)
	}
	return data, nil
}

// Memory serves artifacts from a map keyed by "<namespace>/<filename>".
type Memory struct {
	mu    sync.RWMutex
	files map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{files: make(map[string][]byte)}
}

// Put stores an artifact.
func (m *Memory) Put(namespace, filename string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[namespace+"/"+filename] = data
}

func (m *Memory) Fetch(ctx context.Context, namespace, filename string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.files[namespace+"/"+filename]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, namespace, filename)
	}
	return data, nil
}

type option struct {
	client   *http.Client
	cacheDir string
	logger   *zap.Logger
}

// OptionFunc is a function that sets an option for an HTTP fetcher.
type OptionFunc func(*option) error

// WithClient sets the HTTP client used to download artifacts.
func WithClient(client *http.Client) OptionFunc {
	return func(opts *option) error {
		if client == nil {
			return errors.New("`client` is nil")
		}
		opts.client = client
		return nil
	}
}

// WithCacheDir sets the directory downloaded artifacts are kept in.
func WithCacheDir(dir string) OptionFunc {
	return func(opts *option) error {
		opts.cacheDir = dir
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) OptionFunc {
	return func(opts *option) error {
		opts.logger = logger
		return nil
	}
}

// HTTP downloads artifacts from <base>/<namespace>/<filename>. With a cache
// directory, downloads are written there atomically and served from disk
// afterwards.
type HTTP struct {
	base     *url.URL
	client   *http.Client
	cacheDir string
	logger   *zap.Logger
}

func NewHTTP(baseURL string, opts ...OptionFunc) (*HTTP, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", baseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid base url %q: unsupported scheme", baseURL)
	}

	options := &option{
		client: http.DefaultClient,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		if err := opt(options); err != nil {
			return nil, err
		}
	}

	return &HTTP{
		base:     base,
		client:   options.client,
		cacheDir: options.cacheDir,
		logger:   options.logger,
	}, nil
}

func (h *HTTP) Fetch(ctx context.Context, namespace, filename string) ([]byte, error) {
	if h.cacheDir != "" {
		data, err := Local{Dir: h.cacheDir}.Fetch(ctx, namespace, filename)
		if err == nil {
			h.logger.Debug("artifact served from cache",
				zap.String("namespace", namespace),
				zap.String("filename", filename),
				shared.Size("size", len(data)),
			)
			return data, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	u := h.base.JoinPath(namespace, filename)
	h.logger.Debug("downloading artifact", zap.Stringer("url", u))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	res, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", u, err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, namespace, filename)
	case res.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("download %s: unexpected status %s", u, res.Status)
	}

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", u, err)
	}
	h.logger.Debug("artifact downloaded", zap.Stringer("url", u), shared.Size("size", len(data)))

	if h.cacheDir != "" {
		if err := h.store(namespace, filename, data); err != nil {
			return nil, err
		}
	}
	return data, nil
}

func (h *HTTP) store(namespace, filename string, data []byte) error {
	dir := filepath.Join(h.cacheDir, namespace)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	if err := atomic.WriteFile(filepath.Join(dir, filename), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("atomic write: %w", err)
	}
	return nil
}
