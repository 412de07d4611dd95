package docstore

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devrev/kissvdb/internal/config"
	"github.com/devrev/kissvdb/internal/eventbus"
	logpkg "github.com/devrev/kissvdb/internal/log"
	"github.com/devrev/kissvdb/internal/state"
	"github.com/devrev/kissvdb/internal/validation"
	"github.com/devrev/kissvdb/internal/vector"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	wal, err := logpkg.New("", logpkg.Config{SegmentMaxBytes: 1 << 20, RetentionSegments: 4}, nil)
	require.NoError(t, err)
	engine := state.New(nil)
	vectors := vector.NewManager("", vector.Options{}, nil)
	bus := eventbus.New(wal, engine, vectors, 256, nil)
	cfg := config.Default()
	return New(bus, engine, validation.New(cfg))
}

func TestPutThenGetDocument(t *testing.T) {
	s := newTestStore(t)
	doc, err := s.Put("users", "u1", json.RawMessage(`{"name":"a"}`), 0, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, doc.Revision)

	got, ok := s.Get("users", "u1")
	require.True(t, ok)
	assert.Equal(t, `{"name":"a"}`, string(got.Meta))
}

func TestDocumentsAreKeyedPerCollection(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Put("users", "1", json.RawMessage(`"a"`), 0, nil)
	require.NoError(t, err)
	_, err = s.Put("orders", "1", json.RawMessage(`"b"`), 0, nil)
	require.NoError(t, err)

	u, ok := s.Get("users", "1")
	require.True(t, ok)
	o, ok := s.Get("orders", "1")
	require.True(t, ok)
	assert.Equal(t, `"a"`, string(u.Meta))
	assert.Equal(t, `"b"`, string(o.Meta))
}

func TestListScopesToOneCollection(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Put("users", "1", json.RawMessage(`1`), 0, nil)
	require.NoError(t, err)
	_, err = s.Put("users", "2", json.RawMessage(`2`), 0, nil)
	require.NoError(t, err)
	_, err = s.Put("orders", "1", json.RawMessage(`3`), 0, nil)
	require.NoError(t, err)

	docs, err := s.List("users", 0)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	for _, d := range docs {
		assert.Equal(t, "users", d.Collection)
	}
}

func TestDeleteDocument(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Put("users", "1", json.RawMessage(`1`), 0, nil)
	require.NoError(t, err)

	deleted, err := s.Delete("users", "1", nil)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, ok := s.Get("users", "1")
	assert.False(t, ok)
}
