package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/devrev/kissvdb/internal/model"
)

func testConfig(maxEntries int) Config {
	return Config{MaxEntries: maxEntries, FrequencyWeight: 0.5, RecencyWeight: 0.5, AdaptiveWindow: time.Minute}
}

func TestPutThenGetRoundTrips(t *testing.T) {
	c := New(testConfig(10), nil)
	c.Put("a", model.KVEntry{Key: "a", Value: []byte("1"), Revision: 1})

	got, ok := c.Get("a")
	require.True(t, ok)
	require.Equal(t, []byte("1"), got.Value)
}

func TestGetMissIsFalse(t *testing.T) {
	c := New(testConfig(10), nil)
	_, ok := c.Get("missing")
	require.False(t, ok)
}

func TestInvalidateRemovesEntry(t *testing.T) {
	c := New(testConfig(10), nil)
	c.Put("a", model.KVEntry{Key: "a"})
	c.Invalidate("a")
	_, ok := c.Get("a")
	require.False(t, ok)
}

func TestPutEvictsLowestScoreWhenFull(t *testing.T) {
	c := New(testConfig(2), nil)
	c.Put("a", model.KVEntry{Key: "a"})
	c.Put("b", model.KVEntry{Key: "b"})

	// Access "b" repeatedly so its score climbs well above "a"'s.
	for i := 0; i < 5; i++ {
		c.Get("b")
	}

	c.Put("c", model.KVEntry{Key: "c"})

	require.Equal(t, 2, c.Stats().EntryCount)
	_, bOK := c.Get("b")
	require.True(t, bOK, "the more frequently accessed entry should survive eviction")
}

func TestAdjustWeightsIsNoOpOnEmptyCache(t *testing.T) {
	c := New(testConfig(10), nil)
	c.AdjustWeights() // must not panic on an empty cache
	require.Zero(t, c.Stats().EntryCount)
}
