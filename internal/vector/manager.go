package vector

import (
	"os"
	"sort"
	"sync"

	"go.uber.org/zap"

	kisserrors "github.com/devrev/kissvdb/internal/errors"
	"github.com/devrev/kissvdb/internal/model"
)

// Manager owns every vector collection in the server, keyed by name.
type Manager struct {
	mu      sync.RWMutex
	baseDir string
	cfg     Options
	logger  *zap.Logger

	collections map[string]*Collection
}

// NewManager constructs an empty Manager. defaults supplies the
// segment/compaction/filter settings applied to every collection created
// through it (Dim and Metric are overridden per CreateCollection call).
func NewManager(baseDir string, defaults Options, logger *zap.Logger) *Manager {
	return &Manager{baseDir: baseDir, cfg: defaults, logger: logger, collections: make(map[string]*Collection)}
}

// Open loads every existing collection directory under baseDir/collections.
// Missing or empty baseDir (in-memory mode) is a no-op.
func (m *Manager) Open() error {
	if m.baseDir == "" {
		return nil
	}
	root := m.baseDir + "/collections"
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		coll, err := Load(m.baseDir, name, m.cfg, m.logger)
		if err != nil {
			return err
		}
		m.collections[name] = coll
		if m.logger != nil {
			m.logger.Info("loaded vector collection", zap.String("collection", name), zap.Uint64("applied_offset", coll.AppliedOffset()))
		}
	}
	return nil
}

// CreateCollection creates a new, empty collection. Calling it again with
// the same name is idempotent as long as dim and metric match what's
// already there; a name collision with a different dim or metric is a
// conflict.
func (m *Manager) CreateCollection(name string, dim int, metric model.Metric) (*Collection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, exists := m.collections[name]; exists {
		desc := existing.Descriptor()
		if desc.Dim == dim && desc.Metric == metric {
			return existing, nil
		}
		return nil, kisserrors.Conflict("collection %q already exists with dim %d metric %q", name, desc.Dim, desc.Metric)
	}

	opts := m.cfg
	opts.Dim = dim
	opts.Metric = metric
	coll, err := Create(m.baseDir, name, opts, m.logger)
	if err != nil {
		return nil, err
	}
	m.collections[name] = coll
	return coll, nil
}

// Get returns the named collection, or errors.NotFound.
func (m *Manager) Get(name string) (*Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	coll, ok := m.collections[name]
	if !ok {
		return nil, kisserrors.NotFound("collection %q not found", name)
	}
	return coll, nil
}

// List returns every collection's descriptor, sorted by name.
func (m *Manager) List() []model.CollectionDescriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.CollectionDescriptor, 0, len(m.collections))
	for _, coll := range m.collections {
		out = append(out, coll.Descriptor())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Close closes every collection's open file handle.
func (m *Manager) Close() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var firstErr error
	for _, coll := range m.collections {
		if err := coll.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
