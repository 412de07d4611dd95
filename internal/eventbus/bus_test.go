package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	kisserrors "github.com/devrev/kissvdb/internal/errors"
	"github.com/devrev/kissvdb/internal/log"
	"github.com/devrev/kissvdb/internal/model"
	"github.com/devrev/kissvdb/internal/state"
	"github.com/devrev/kissvdb/internal/vector"
)

func newTestBus(t *testing.T) *Bus {
	wal, err := log.New("", log.Config{SegmentMaxBytes: 1 << 20, RetentionSegments: 4}, nil)
	require.NoError(t, err)
	se := state.New(nil)
	vm := vector.NewManager("", vector.Options{SegmentCapacity: 8, CompactionTombstoneRatio: 0.5, ExactFilterThreshold: 100}, nil)
	return New(wal, se, vm, 16, nil)
}

func TestPutStateAssignsOffsetsAndPublishes(t *testing.T) {
	b := newTestBus(t)

	ent, err := b.PutState("a", []byte("1"), 0, nil)
	require.NoError(t, err)
	require.EqualValues(t, 1, ent.Revision)

	ev, ok := b.LiveEventAt(0)
	require.True(t, ok)
	require.Equal(t, model.EventStateUpdated, ev.Kind)
	require.Equal(t, "a", ev.Key)

	ent2, err := b.PutState("b", []byte("2"), 0, nil)
	require.NoError(t, err)
	require.EqualValues(t, 1, ent2.Revision)

	_, ok = b.LiveEventAt(1)
	require.True(t, ok)
	require.EqualValues(t, 2, b.LiveLatest())
}

func TestDeleteStateIsNoOpOnAbsentKey(t *testing.T) {
	b := newTestBus(t)
	deleted, err := b.DeleteState("missing", nil)
	require.NoError(t, err)
	require.False(t, deleted)
	require.EqualValues(t, 0, b.LiveLatest(), "a no-op delete must not consume a log offset")
}

func TestDeleteStateRejectsCasMismatch(t *testing.T) {
	b := newTestBus(t)
	_, err := b.PutState("a", []byte("1"), 0, nil)
	require.NoError(t, err)

	wrong := uint64(99)
	_, err = b.DeleteState("a", &wrong)
	require.Error(t, err)
}

func TestSweepTTLPublishesDeleteWithTTLOrigin(t *testing.T) {
	b := newTestBus(t)
	_, err := b.PutState("a", []byte("1"), 1, nil)
	require.NoError(t, err)

	removed := b.SweepTTL(time.Now().Add(2*time.Second), 0)
	require.Equal(t, 1, removed)

	ev, ok := b.LiveEventAt(1)
	require.True(t, ok)
	require.Equal(t, model.EventStateDeleted, ev.Kind)
	require.Equal(t, model.DeleteOriginTTL, ev.DeleteOrigin)
}

func TestReplayStateFromRebuildsEngineAfterRestart(t *testing.T) {
	b := newTestBus(t)
	_, err := b.PutState("a", []byte("1"), 0, nil)
	require.NoError(t, err)
	_, err = b.PutState("b", []byte("2"), 0, nil)
	require.NoError(t, err)
	_, err = b.PutState("a", []byte("3"), 0, nil)
	require.NoError(t, err)
	deleted, err := b.DeleteState("b", nil)
	require.NoError(t, err)
	require.True(t, deleted)

	fresh := state.New(nil)
	freshBus := New(b.wal, fresh, b.vectors, 16, nil)

	require.NoError(t, freshBus.ReplayStateFrom(0))

	ent, ok := fresh.Get("a")
	require.True(t, ok)
	require.Equal(t, []byte("3"), ent.Value)
	require.EqualValues(t, 2, ent.Revision)

	_, ok = fresh.Get("b")
	require.False(t, ok, "a deleted key must not reappear after replay")
}

func TestUpsertAndDeleteVectorThroughBus(t *testing.T) {
	b := newTestBus(t)
	_, err := b.vectors.CreateCollection("widgets", 4, model.MetricCosine)
	require.NoError(t, err)

	// UpsertVector always emits vector_upserted, even for a brand-new id.
	ev, err := b.UpsertVector("widgets", "x", []float32{1, 0, 0, 0}, map[string]any{"k": "v"})
	require.NoError(t, err)
	require.Equal(t, model.EventVectorUpserted, ev.Kind)

	ev2, err := b.UpsertVector("widgets", "x", []float32{0, 1, 0, 0}, map[string]any{"k": "v2"})
	require.NoError(t, err)
	require.Equal(t, model.EventVectorUpserted, ev2.Kind)

	delEv, err := b.DeleteVector("widgets", "x")
	require.NoError(t, err)
	require.Equal(t, model.EventVectorDeleted, delEv.Kind)
}

func TestDeleteVectorOnMissingIDDoesNotConsumeOffset(t *testing.T) {
	b := newTestBus(t)
	_, err := b.vectors.CreateCollection("widgets", 4, model.MetricCosine)
	require.NoError(t, err)

	_, err = b.DeleteVector("widgets", "missing")
	require.Error(t, err)
	require.True(t, kisserrors.IsCode(err, kisserrors.CodeNotFound))
	require.EqualValues(t, 0, b.LiveLatest(), "a failed delete must not consume a log offset")
}

func TestAddVectorFailsOnExistingID(t *testing.T) {
	b := newTestBus(t)
	_, err := b.vectors.CreateCollection("widgets", 4, model.MetricCosine)
	require.NoError(t, err)

	ev, err := b.AddVector("widgets", "x", []float32{1, 0, 0, 0}, nil)
	require.NoError(t, err)
	require.Equal(t, model.EventVectorAdded, ev.Kind)

	_, err = b.AddVector("widgets", "x", []float32{0, 1, 0, 0}, nil)
	require.Error(t, err)
	require.True(t, kisserrors.IsCode(err, kisserrors.CodeConflict))
}

func TestUpdateVectorFailsOnMissingID(t *testing.T) {
	b := newTestBus(t)
	_, err := b.vectors.CreateCollection("widgets", 4, model.MetricCosine)
	require.NoError(t, err)

	_, err = b.UpdateVector("widgets", "x", []float32{1, 0, 0, 0}, true, nil, false)
	require.Error(t, err)
	require.True(t, kisserrors.IsCode(err, kisserrors.CodeNotFound))
}

func TestUpdateVectorPartialFieldsDefaultToCurrent(t *testing.T) {
	b := newTestBus(t)
	_, err := b.vectors.CreateCollection("widgets", 4, model.MetricCosine)
	require.NoError(t, err)

	_, err = b.AddVector("widgets", "x", []float32{1, 0, 0, 0}, map[string]any{"k": "v"})
	require.NoError(t, err)

	ev, err := b.UpdateVector("widgets", "x", nil, false, map[string]any{"k": "v2"}, true)
	require.NoError(t, err)
	require.Equal(t, model.EventVectorUpdated, ev.Kind)

	coll, err := b.vectors.Get("widgets")
	require.NoError(t, err)
	vec, meta, ok := coll.Get("x")
	require.True(t, ok)
	require.Equal(t, []float32{1, 0, 0, 0}, vec, "vector must be left unchanged when not set on update")
	require.Equal(t, map[string]any{"k": "v2"}, meta)
}
