// Package vector implements the per-collection vector index: a manifest plus
// an append-only vectors.bin holding capped segments, each with its own
// bloom filter, tombstone bitmap, exact-match metadata index, and a small
// navigable-graph approximate index, grounded conceptually on weaviate's
// hnsw package (visited sets, best-first search, heuristic neighbor
// selection) without carrying over its much larger, SIMD-tuned
// implementation.
package vector

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	kisserrors "github.com/devrev/kissvdb/internal/errors"
	"github.com/devrev/kissvdb/internal/model"
)

type location struct {
	segIdx int
	idx    int
}

// Collection is one named vector collection: a dimension, a metric, and the
// segment set backing it.
type Collection struct {
	mu sync.RWMutex

	name   string
	dir    string // collection directory; empty means in-memory only
	dim    int
	metric model.Metric

	segmentCapacity          int
	compactionTombstoneRatio float64
	exactFilterThreshold     int

	segments   []*segment
	idLocation map[string]location

	appliedOffset uint64
	totalRecords  int64
	upsertCount   int64
	createdAtMs   int64
	updatedAtMs   int64

	file   *os.File
	logger *zap.Logger
}

// Options configures a new or reopened Collection.
type Options struct {
	Dim                      int
	Metric                   model.Metric
	SegmentCapacity          int
	CompactionTombstoneRatio float64
	ExactFilterThreshold     int
}

// Create makes a brand-new, empty collection. baseDir == "" selects
// in-memory mode (no manifest or vectors.bin is written).
func Create(baseDir, name string, opts Options, logger *zap.Logger) (*Collection, error) {
	if opts.Metric != model.MetricCosine && opts.Metric != model.MetricDot {
		return nil, kisserrors.InvalidArgument("unknown metric %q", opts.Metric)
	}
	now := time.Now().UnixMilli()
	c := &Collection{
		name: name, dim: opts.Dim, metric: opts.Metric,
		segmentCapacity:          opts.SegmentCapacity,
		compactionTombstoneRatio: opts.CompactionTombstoneRatio,
		exactFilterThreshold:     opts.ExactFilterThreshold,
		idLocation:               make(map[string]location),
		createdAtMs:              now,
		updatedAtMs:              now,
		logger:                   logger,
	}

	if baseDir != "" {
		c.dir = collectionDir(baseDir, name)
		if err := os.MkdirAll(c.dir, 0o755); err != nil {
			return nil, fmt.Errorf("create collection dir: %w", err)
		}
		f, err := os.OpenFile(vectorsPath(c.dir), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open vectors file: %w", err)
		}
		c.file = f
		if err := writeManifest(c.dir, c.descriptorLocked()); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func collectionDir(baseDir, name string) string {
	return baseDir + "/collections/" + name
}

// Load reopens a previously created collection, replaying vectors.bin to
// rebuild its segments and discarding a crash-torn tail record exactly like
// the WAL discards a truncated final segment.
func Load(baseDir, name string, opts Options, logger *zap.Logger) (*Collection, error) {
	dir := collectionDir(baseDir, name)
	desc, err := readManifest(dir)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	c := &Collection{
		name: name, dir: dir, dim: desc.Dim, metric: desc.Metric,
		segmentCapacity:          opts.SegmentCapacity,
		compactionTombstoneRatio: opts.CompactionTombstoneRatio,
		exactFilterThreshold:     opts.ExactFilterThreshold,
		idLocation:               make(map[string]location),
		appliedOffset:            desc.AppliedOffset,
		createdAtMs:              desc.CreatedAtMs,
		updatedAtMs:              desc.UpdatedAtMs,
		upsertCount:              desc.UpsertCount,
		logger:                   logger,
	}

	validLen, err := c.replay(dir)
	if err != nil {
		return nil, err
	}
	if err := os.Truncate(vectorsPath(dir), validLen); err != nil {
		return nil, fmt.Errorf("truncate vectors file to last valid record: %w", err)
	}

	f, err := os.OpenFile(vectorsPath(dir), os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("reopen vectors file: %w", err)
	}
	c.file = f
	return c, nil
}

func (c *Collection) replay(dir string) (int64, error) {
	f, err := os.Open(vectorsPath(dir))
	if err != nil {
		return 0, fmt.Errorf("open vectors file: %w", err)
	}
	defer f.Close()

	cr := &countingReader{r: f}
	var validLen int64
	for {
		rec, err := readRecord(cr)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if c.logger != nil {
				c.logger.Warn("discarding truncated tail of vectors file", zap.String("collection", c.name), zap.Error(err))
			}
			break
		}
		validLen = cr.n
		c.applyRecordLocked(rec)
	}
	return validLen, nil
}

func (c *Collection) applyRecordLocked(rec *model.VectorRecord) {
	switch rec.Op {
	case model.VectorRecordUpsert:
		c.applyUpsertLocked(rec.ID, rec.Vector, rec.Meta)
		c.totalRecords++
	case model.VectorRecordDelete:
		if loc, ok := c.idLocation[rec.ID]; ok {
			c.segments[loc.segIdx].markDeleted(rec.ID)
			delete(c.idLocation, rec.ID)
		}
		c.totalRecords++
	}
}

// applyUpsertLocked inserts or replaces id in memory without touching
// durable storage. Callers hold c.mu.
func (c *Collection) applyUpsertLocked(id string, vector []float32, meta map[string]any) {
	if old, ok := c.idLocation[id]; ok {
		c.segments[old.segIdx].markDeleted(id)
		delete(c.idLocation, id)
	}

	tail := c.tailSegmentLocked()
	idx := tail.insert(id, vector, meta)
	c.idLocation[id] = location{segIdx: len(c.segments) - 1, idx: idx}
}

func (c *Collection) tailSegmentLocked() *segment {
	if len(c.segments) == 0 || c.segments[len(c.segments)-1].full() {
		c.segments = append(c.segments, newSegment(c.dim, c.segmentCapacity, c.metric))
	}
	return c.segments[len(c.segments)-1]
}

// Upsert creates or replaces the vector and metadata for id.
func (c *Collection) Upsert(id string, vector []float32, meta map[string]any) error {
	if len(vector) != c.dim {
		return kisserrors.InvalidArgument("vector has dimension %d, collection %q expects %d", len(vector), c.name, c.dim)
	}

	stored := make([]float32, len(vector))
	copy(stored, vector)
	if c.metric == model.MetricDot {
		normalizeInPlace(stored)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.file != nil {
		if err := writeRecord(c.file, model.VectorRecord{Op: model.VectorRecordUpsert, ID: id, Vector: stored, Meta: meta}); err != nil {
			return kisserrors.IOError("append vector record", err)
		}
	}

	c.applyUpsertLocked(id, stored, meta)
	c.totalRecords++
	c.upsertCount++
	c.updatedAtMs = time.Now().UnixMilli()

	if c.dir != "" {
		if err := writeManifest(c.dir, c.descriptorLocked()); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes id. Deleting an absent id is reported as errors.NotFound.
func (c *Collection) Delete(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	loc, ok := c.idLocation[id]
	if !ok {
		return kisserrors.NotFound("vector %q not found in collection %q", id, c.name)
	}

	if c.file != nil {
		if err := writeRecord(c.file, model.VectorRecord{Op: model.VectorRecordDelete, ID: id}); err != nil {
			return kisserrors.IOError("append delete record", err)
		}
	}

	c.segments[loc.segIdx].markDeleted(id)
	delete(c.idLocation, id)
	c.totalRecords++
	c.updatedAtMs = time.Now().UnixMilli()

	if c.dir != "" {
		if err := writeManifest(c.dir, c.descriptorLocked()); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the current vector and metadata for id.
func (c *Collection) Get(id string) ([]float32, map[string]any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	loc, ok := c.idLocation[id]
	if !ok {
		return nil, nil, false
	}
	return c.segments[loc.segIdx].get(id)
}

type scoredHit struct {
	id    string
	score float32
	meta  map[string]any
}

// Search returns the k best matches for query. When exact is false, search
// uses each segment's graph index; the caller (or the exact_filter_threshold
// default) may still force exact scoring when the candidate set is small
// enough that a full scan is cheaper and guarantees exact recall.
func (c *Collection) Search(query []float32, k int, filters model.SearchFilters, exact bool) ([]model.SearchHit, error) {
	if len(query) != c.dim {
		return nil, kisserrors.InvalidArgument("query has dimension %d, collection %q expects %d", len(query), c.name, c.dim)
	}
	if k <= 0 {
		return nil, kisserrors.InvalidArgument("k must be positive")
	}

	q := make([]float32, len(query))
	copy(q, query)
	if c.metric == model.MetricDot {
		normalizeInPlace(q)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	useExact := exact
	if !useExact {
		size := 0
		if len(filters) > 0 {
			size = c.candidateSetSizeLocked(filters)
		} else {
			for _, seg := range c.segments {
				size += seg.liveCount()
			}
		}
		useExact = size <= c.exactFilterThreshold
	}

	ef := k * 4
	if ef < 32 {
		ef = 32
	}

	var hits []scoredHit
	for _, seg := range c.segments {
		var cands []candidate
		if useExact {
			cands = seg.searchExact(q, filters)
		} else {
			cands = seg.searchANN(q, ef, filters)
		}
		for _, cd := range cands {
			hits = append(hits, scoredHit{id: seg.ids[cd.idx], score: cd.score, meta: seg.metas[cd.idx]})
		}
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > k {
		hits = hits[:k]
	}

	out := make([]model.SearchHit, len(hits))
	for i, h := range hits {
		out[i] = model.SearchHit{ID: h.id, Score: h.score, Meta: h.meta}
	}
	return out, nil
}

// candidateSetSizeLocked computes the true filtered candidate-set size
// across every segment: the intersection of per-field posting lists, live
// tombstones excluded, not just the collection's overall live count. The
// caller holds c.mu.
func (c *Collection) candidateSetSizeLocked(filters map[string]any) int {
	size := 0
	for _, seg := range c.segments {
		cands, _ := seg.meta.candidates(filters)
		for _, idx := range cands {
			if !seg.tombstones.Contains(uint64(idx)) {
				size++
			}
		}
	}
	return size
}

// Vacuum unconditionally rewrites the collection, dropping tombstoned
// records. Whether a vacuum is worth running at all — the tombstone-ratio
// and quiet-period judgment — is the scheduler's auto-vacuum poll's call,
// not this operation's; a manual trigger always rewrites. It reports
// whether there were any records to rewrite.
func (c *Collection) Vacuum() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var total int
	for _, seg := range c.segments {
		total += len(seg.ids)
	}
	if total == 0 {
		return false, nil
	}

	var live []model.VectorRecord
	for _, seg := range c.segments {
		live = append(live, seg.liveRecords()...)
	}

	newSegments := make([]*segment, 0)
	newLocation := make(map[string]location, len(live))
	for _, rec := range live {
		if len(newSegments) == 0 || newSegments[len(newSegments)-1].full() {
			newSegments = append(newSegments, newSegment(c.dim, c.segmentCapacity, c.metric))
		}
		tail := newSegments[len(newSegments)-1]
		idx := tail.insert(rec.ID, rec.Vector, rec.Meta)
		newLocation[rec.ID] = location{segIdx: len(newSegments) - 1, idx: idx}
	}

	if c.dir != "" {
		tmpPath := vectorsPath(c.dir) + ".vacuum.tmp"
		tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return false, fmt.Errorf("open vacuum temp file: %w", err)
		}
		for _, rec := range live {
			if err := writeRecord(tmp, rec); err != nil {
				tmp.Close()
				return false, fmt.Errorf("write vacuumed record: %w", err)
			}
		}
		if err := tmp.Sync(); err != nil {
			tmp.Close()
			return false, fmt.Errorf("fsync vacuum temp file: %w", err)
		}
		tmp.Close()

		if c.file != nil {
			c.file.Close()
		}
		if err := os.Rename(tmpPath, vectorsPath(c.dir)); err != nil {
			return false, fmt.Errorf("rename vacuumed vectors file into place: %w", err)
		}
		f, err := os.OpenFile(vectorsPath(c.dir), os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return false, fmt.Errorf("reopen vectors file after vacuum: %w", err)
		}
		c.file = f
	}

	c.segments = newSegments
	c.idLocation = newLocation
	c.totalRecords = int64(len(live))
	c.upsertCount = int64(len(live))
	c.updatedAtMs = time.Now().UnixMilli()

	if c.dir != "" {
		if err := writeManifest(c.dir, c.descriptorLocked()); err != nil {
			return true, err
		}
	}

	if c.logger != nil {
		c.logger.Info("vacuumed vector collection",
			zap.String("collection", c.name), zap.Int("live_records", len(live)), zap.Int("dropped_tombstones", total-len(live)))
	}
	return true, nil
}

// Descriptor returns the collection's current manifest snapshot.
func (c *Collection) Descriptor() model.CollectionDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return *c.descriptorLocked()
}

func (c *Collection) descriptorLocked() *model.CollectionDescriptor {
	var live int64
	var fileLen int64
	for _, seg := range c.segments {
		live += int64(seg.liveCount())
	}
	if c.file != nil {
		if info, err := c.file.Stat(); err == nil {
			fileLen = info.Size()
		}
	}
	return &model.CollectionDescriptor{
		Name: c.name, Dim: c.dim, Metric: c.metric, AppliedOffset: c.appliedOffset,
		LiveCount: live, TotalRecords: c.totalRecords, UpsertCount: c.upsertCount,
		FileLen: fileLen, CreatedAtMs: c.createdAtMs, UpdatedAtMs: c.updatedAtMs,
	}
}

// SetAppliedOffset records the log offset through which this collection has
// applied mutations, persisting it so recovery can resume the right
// subscription cursor.
func (c *Collection) SetAppliedOffset(offset uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.appliedOffset = offset
	if c.dir == "" {
		return nil
	}
	return writeManifest(c.dir, c.descriptorLocked())
}

func (c *Collection) AppliedOffset() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.appliedOffset
}

// Close releases the collection's open file handle, if any.
func (c *Collection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.file != nil {
		return c.file.Close()
	}
	return nil
}

// countingReader wraps an io.Reader, tracking total bytes successfully
// consumed so the caller can truncate away a partially-read trailing record.
type countingReader struct {
	r io.Reader
	n int64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.n += int64(n)
	return n, err
}
