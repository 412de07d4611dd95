// Package log implements the segmented, append-only write-ahead log that is
// the offset authority for kissvdb: every mutation the EventBus assigns an
// offset to is durably appended here before it is applied or published.
//
// Segments are named events-NNNNNN.log with a zero-padded monotonic sequence
// number so that lexicographic directory order equals append order, exactly
// like storage-node's commitlog-<unix>.log segments but renumbered instead of
// timestamped so recovery can reason about ordering without trusting the
// clock.
//
// The WAL's retention_segments and segment_max_bytes together bound the
// longest replay window a subscriber can ask for: roughly
// retention_segments * segment_max_bytes of WAL, or snapshot_interval_seconds
// of mutation history once the most recent snapshot has pruned older
// segments, whichever is smaller.
package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/devrev/kissvdb/internal/model"
)

const segmentFilePrefix = "events-"
const segmentFileSuffix = ".log"
const segmentSeqDigits = 6

// Config holds the WAL's segmenting and sync policy.
type Config struct {
	SegmentMaxBytes   int64
	RetentionSegments int
	SyncWrites        bool
}

// WAL is the durable, ordered, append-only store of encoded mutation
// records. When Dir is empty it runs purely in-memory: Append/ReadFrom still
// work so the rest of the engine doesn't need a separate code path, but
// nothing survives a restart.
type WAL struct {
	mu     sync.Mutex
	dir    string
	cfg    Config
	logger *zap.Logger

	nextOffset uint64

	// Durable mode.
	currentFile *os.File
	currentSeq  int64
	currentSize int64
	closedSegs  []segmentMeta // ascending by seq, immutable once closed

	// In-memory mode (dir == "").
	memEvents []model.Event
}

type segmentMeta struct {
	seq      int64
	path     string
	minOff   uint64
	maxOff   uint64
	hasEvent bool
}

// New opens (or creates) the WAL rooted at dir. An empty dir selects
// in-memory mode.
func New(dir string, cfg Config, logger *zap.Logger) (*WAL, error) {
	if cfg.SegmentMaxBytes <= 0 {
		cfg.SegmentMaxBytes = 64 << 20
	}
	if cfg.RetentionSegments <= 0 {
		cfg.RetentionSegments = 16
	}

	w := &WAL{dir: dir, cfg: cfg, logger: logger}

	if dir == "" {
		return w, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create wal dir: %w", err)
	}

	if err := w.recover(); err != nil {
		return nil, err
	}

	if err := w.openNewSegment(); err != nil {
		return nil, err
	}

	return w, nil
}

// NextOffset reports the offset that will be assigned to the next appended
// record. The WAL is the only offset counter: Append assigns offsets, and
// the EventBus reads this value (e.g. for a snapshot) under the same lock
// it calls Append with.
func (w *WAL) NextOffset() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.nextOffset
}

// Stats is a point-in-time snapshot of the WAL's segment footprint, polled
// by the background scheduler to refresh the wal_segments_total and
// wal_current_segment_bytes gauges.
type Stats struct {
	SegmentCount        int
	CurrentSegmentBytes int64
}

func (w *WAL) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	count := len(w.closedSegs)
	if w.currentFile != nil {
		count++
	}
	return Stats{SegmentCount: count, CurrentSegmentBytes: w.currentSize}
}

// Append writes one event, fsyncing (when SyncWrites is set) before
// returning, and assigns it the next offset. A failed append does not
// advance the offset counter.
func (w *WAL) Append(ev *model.Event) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	offset := w.nextOffset
	ev.Offset = offset

	if w.dir == "" {
		w.memEvents = append(w.memEvents, *ev)
		w.nextOffset++
		return offset, nil
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return 0, fmt.Errorf("marshal event: %w", err)
	}
	data = append(data, '\n')

	if err := w.rotateIfNeededLocked(); err != nil {
		return 0, err
	}

	n, err := w.currentFile.Write(data)
	if err != nil {
		return 0, fmt.Errorf("append wal record: %w", err)
	}
	if w.cfg.SyncWrites {
		if err := w.currentFile.Sync(); err != nil {
			return 0, fmt.Errorf("fsync wal record: %w", err)
		}
	}

	w.currentSize += int64(n)
	w.nextOffset++
	return offset, nil
}

// rotateIfNeededLocked closes and reopens the active segment if it has
// crossed the configured size threshold. Callers hold w.mu.
func (w *WAL) rotateIfNeededLocked() error {
	if w.currentSize < w.cfg.SegmentMaxBytes {
		return nil
	}
	return w.openNewSegment()
}

// RotateIfNeeded is the public entry point used by callers outside the
// append path (e.g. a periodic maintenance task).
func (w *WAL) RotateIfNeeded() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dir == "" {
		return nil
	}
	return w.rotateIfNeededLocked()
}

func (w *WAL) openNewSegment() error {
	if w.currentFile != nil {
		info, statErr := w.currentFile.Stat()
		w.currentFile.Close()
		if statErr == nil && info.Size() > 0 {
			w.closedSegs = append(w.closedSegs, segmentMeta{
				seq: w.currentSeq, path: segmentPath(w.dir, w.currentSeq),
			})
		}
	}

	w.currentSeq++
	path := segmentPath(w.dir, w.currentSeq)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open wal segment: %w", err)
	}
	w.currentFile = f
	w.currentSize = 0

	if w.logger != nil {
		w.logger.Info("opened new wal segment", zap.String("path", path))
	}
	return nil
}

func segmentPath(dir string, seq int64) string {
	return filepath.Join(dir, fmt.Sprintf("%s%0*d%s", segmentFilePrefix, segmentSeqDigits, seq, segmentFileSuffix))
}

func parseSegmentSeq(name string) (int64, bool) {
	if !strings.HasPrefix(name, segmentFilePrefix) || !strings.HasSuffix(name, segmentFileSuffix) {
		return 0, false
	}
	body := strings.TrimSuffix(strings.TrimPrefix(name, segmentFilePrefix), segmentFileSuffix)
	seq, err := strconv.ParseInt(body, 10, 64)
	if err != nil {
		return 0, false
	}
	return seq, true
}

// listSegments returns the WAL's segment files, sorted by sequence number.
func (w *WAL) listSegments() ([]int64, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, err
	}
	var seqs []int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if seq, ok := parseSegmentSeq(e.Name()); ok {
			seqs = append(seqs, seq)
		}
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs, nil
}

// recover scans existing segments in order, discarding a truncated tail in
// the final segment and treating any decode failure in an earlier segment as
// fatal, then sets nextOffset to max(offset)+1.
func (w *WAL) recover() error {
	seqs, err := w.listSegments()
	if err != nil {
		return fmt.Errorf("list wal segments: %w", err)
	}

	var maxOffset uint64
	sawAny := false

	for i, seq := range seqs {
		path := segmentPath(w.dir, seq)
		isFinal := i == len(seqs)-1

		last, n, err := scanSegment(path)
		if err != nil {
			if isFinal {
				if w.logger != nil {
					w.logger.Warn("discarding truncated tail of final wal segment", zap.String("path", path), zap.Error(err))
				}
			} else {
				return fmt.Errorf("corrupt wal segment %s (not the final segment): %w", path, err)
			}
		}
		if n > 0 {
			sawAny = true
			if last > maxOffset || !sawAny {
				maxOffset = last
			}
		}
		// Every existing segment, the final one included, is closed: New
		// opens a fresh active segment after recovery.
		w.closedSegs = append(w.closedSegs, segmentMeta{seq: seq, path: path})
		w.currentSeq = seq
	}

	if sawAny {
		w.nextOffset = maxOffset + 1
	} else {
		w.nextOffset = 0
	}
	return nil
}

// scanSegment reads every well-formed line of a segment file, returning the
// highest offset seen and the count of valid records. A decode failure on a
// line stops the scan there (the rest of the file, if any, is a crash-torn
// tail) and is returned as an error so the caller can decide whether that is
// fatal.
func scanSegment(path string) (uint64, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)

	var maxOffset uint64
	count := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev model.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return maxOffset, count, fmt.Errorf("decode record at line %d: %w", count+1, err)
		}
		if ev.Offset > maxOffset || count == 0 {
			maxOffset = ev.Offset
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		return maxOffset, count, err
	}
	return maxOffset, count, nil
}

// Iterator walks events in offset order across segment boundaries. It reads
// only the log; Subscription switches to the live buffer on its own after
// catch-up.
type Iterator struct {
	w       *WAL
	since   uint64
	segIdx  int
	segs    []segmentMeta // includes current-as-closed snapshot at construction time
	scanner *bufio.Scanner
	file    *os.File
	cur     model.Event
	err     error
	memIdx  int
}

// ReadFrom returns a lazy iterator over every record with Offset >= since,
// oldest segment first, crossing segment boundaries transparently.
func (w *WAL) ReadFrom(since uint64) *Iterator {
	w.mu.Lock()
	defer w.mu.Unlock()

	it := &Iterator{w: w, since: since}

	if w.dir == "" {
		it.memIdx = 0
		return it
	}

	segs := make([]segmentMeta, len(w.closedSegs))
	copy(segs, w.closedSegs)
	if w.currentFile != nil {
		segs = append(segs, segmentMeta{seq: w.currentSeq, path: segmentPath(w.dir, w.currentSeq)})
	}
	it.segs = segs
	return it
}

// Next advances the iterator, returning false at end of stream or on error
// (check Err).
func (it *Iterator) Next() bool {
	if it.err != nil {
		return false
	}

	if it.w.dir == "" {
		it.w.mu.Lock()
		defer it.w.mu.Unlock()
		for it.memIdx < len(it.w.memEvents) {
			ev := it.w.memEvents[it.memIdx]
			it.memIdx++
			if ev.Offset >= it.since {
				it.cur = ev
				return true
			}
		}
		return false
	}

	for {
		if it.scanner == nil {
			if it.segIdx >= len(it.segs) {
				return false
			}
			f, err := os.Open(it.segs[it.segIdx].path)
			if err != nil {
				it.err = err
				return false
			}
			it.file = f
			sc := bufio.NewScanner(f)
			sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
			it.scanner = sc
		}

		if it.scanner.Scan() {
			line := it.scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var ev model.Event
			if err := json.Unmarshal(line, &ev); err != nil {
				// A truncated tail (on the live segment, or on a segment
				// torn by a crash before recovery); skip the rest of this
				// segment rather than fail the reader.
				it.closeCurrent()
				it.segIdx++
				continue
			}
			if ev.Offset < it.since {
				continue
			}
			it.cur = ev
			return true
		}
		if err := it.scanner.Err(); err != nil {
			it.err = err
			return false
		}
		it.closeCurrent()
		it.segIdx++
	}
}

func (it *Iterator) closeCurrent() {
	if it.file != nil {
		it.file.Close()
		it.file = nil
	}
	it.scanner = nil
}

// Event returns the record the most recent Next call advanced to.
func (it *Iterator) Event() model.Event { return it.cur }

// Err returns the first error encountered, if any.
func (it *Iterator) Err() error { return it.err }

// Close releases any open file handle held by the iterator.
func (it *Iterator) Close() error {
	it.closeCurrent()
	return nil
}

// TruncateThrough deletes closed segments whose entire offset range is <=
// offset. Called by the snapshot writer after a successful snapshot.
func (w *WAL) TruncateThrough(offset uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.dir == "" {
		kept := w.memEvents[:0]
		for _, ev := range w.memEvents {
			if ev.Offset > offset {
				kept = append(kept, ev)
			}
		}
		w.memEvents = kept
		return nil
	}

	kept := w.closedSegs[:0]
	for _, seg := range w.closedSegs {
		maxOff, _, err := scanSegment(seg.path)
		if err == nil && maxOff <= offset {
			if rmErr := os.Remove(seg.path); rmErr != nil && w.logger != nil {
				w.logger.Warn("failed to remove truncated wal segment", zap.String("path", seg.path), zap.Error(rmErr))
			}
			continue
		}
		kept = append(kept, seg)
	}
	w.closedSegs = kept
	return nil
}

// RetentionPrune retains at most maxSegments closed segments, discarding the
// oldest first.
func (w *WAL) RetentionPrune(maxSegments int) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.dir == "" || len(w.closedSegs) <= maxSegments {
		return nil
	}

	excess := len(w.closedSegs) - maxSegments
	for i := 0; i < excess; i++ {
		seg := w.closedSegs[i]
		if err := os.Remove(seg.path); err != nil && w.logger != nil {
			w.logger.Warn("failed to remove pruned wal segment", zap.String("path", seg.path), zap.Error(err))
		}
	}
	w.closedSegs = w.closedSegs[excess:]
	return nil
}

// Close closes the active segment file, if any.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.currentFile != nil {
		return w.currentFile.Close()
	}
	return nil
}
