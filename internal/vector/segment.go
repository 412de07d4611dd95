package vector

import (
	"sort"

	"github.com/weaviate/sroar"

	"github.com/devrev/kissvdb/internal/model"
)

// maxNeighbors bounds how many graph edges a node keeps on each side before
// the weakest one is pruned, the segment-local equivalent of HNSW's M.
const maxNeighbors = 16

// segment holds up to segmentCapacity records. Only the collection's tail
// segment accepts inserts; once full (see full) it takes no more and a new
// tail segment is opened. Deletes still apply to full segments: they only
// flip a tombstone bit, never rewrite the segment in place. A segment's
// internal index is dense and stable for its lifetime, which is exactly the
// domain sroar's roaring bitmap wants for the tombstone set.
type segment struct {
	dim      int
	capacity int
	metric   model.Metric
	frozen   bool

	ids       []string
	idToIndex map[string]int
	vectors   [][]float32
	metas     []map[string]any

	tombstones *sroar.Bitmap
	bloom      *bloomFilter
	meta       *metaIndex

	graph      [][]int
	entryPoint int
}

func newSegment(dim, capacity int, metric model.Metric) *segment {
	return &segment{
		dim:        dim,
		capacity:   capacity,
		metric:     metric,
		idToIndex:  make(map[string]int, capacity),
		tombstones: sroar.NewBitmap(),
		bloom:      newBloomFilter(capacity, 0.01),
		meta:       newMetaIndex(),
		entryPoint: -1,
	}
}

func (s *segment) full() bool { return len(s.ids) >= s.capacity }

// score rates a against b under the segment's metric. Dot collections
// normalize at ingest (see Collection.Upsert) so a plain dot product already
// equals cosine similarity there; cosine collections keep vectors bit-exact
// on disk, so scoring divides out the norms itself instead.
func (s *segment) score(a, b []float32) float32 {
	d := dotProduct(a, b)
	if s.metric != model.MetricCosine {
		return d
	}
	denom := l2Norm(a) * l2Norm(b)
	if denom == 0 {
		return 0
	}
	return d / denom
}

func (s *segment) liveCount() int {
	return len(s.ids) - int(s.tombstones.GetCardinality())
}

// insert appends a new record and wires it into the segment's graph. The
// caller guarantees id isn't already present anywhere in the collection.
func (s *segment) insert(id string, vector []float32, meta map[string]any) int {
	idx := len(s.ids)
	s.ids = append(s.ids, id)
	s.idToIndex[id] = idx
	s.vectors = append(s.vectors, vector)
	s.metas = append(s.metas, meta)
	s.graph = append(s.graph, nil)
	s.bloom.add(id)
	s.meta.add(idx, meta)

	s.insertIntoGraph(idx)
	return idx
}

func (s *segment) insertIntoGraph(idx int) {
	if s.entryPoint < 0 {
		s.entryPoint = idx
		return
	}

	found := s.searchLayer([]int{s.entryPoint}, s.vectors[idx], maxNeighbors*2, nil)
	limit := maxNeighbors
	if len(found) < limit {
		limit = len(found)
	}
	for i := 0; i < limit; i++ {
		nb := found[i].idx
		s.graph[idx] = append(s.graph[idx], nb)
		s.graph[nb] = append(s.graph[nb], idx)
		if len(s.graph[nb]) > maxNeighbors*2 {
			s.pruneWorstEdge(nb)
		}
	}
	s.entryPoint = idx
}

// pruneWorstEdge drops node's least-similar neighbor, keeping its degree
// bounded.
func (s *segment) pruneWorstEdge(node int) {
	neighbors := s.graph[node]
	worst := 0
	worstScore := s.score(s.vectors[node], s.vectors[neighbors[0]])
	for i := 1; i < len(neighbors); i++ {
		sc := s.score(s.vectors[node], s.vectors[neighbors[i]])
		if sc < worstScore {
			worstScore = sc
			worst = i
		}
	}
	dropped := neighbors[worst]
	s.graph[node] = append(neighbors[:worst], neighbors[worst+1:]...)
	s.removeEdge(dropped, node)
}

func (s *segment) removeEdge(from, to int) {
	neighbors := s.graph[from]
	for i, n := range neighbors {
		if n == to {
			s.graph[from] = append(neighbors[:i], neighbors[i+1:]...)
			return
		}
	}
}

// markDeleted flips the tombstone bit for id, returning whether it was
// found and not already tombstoned.
func (s *segment) markDeleted(id string) (int, bool) {
	if !s.bloom.mayContain(id) {
		return 0, false
	}
	idx, ok := s.idToIndex[id]
	if !ok || s.tombstones.Contains(uint64(idx)) {
		return 0, false
	}
	s.tombstones.Set(uint64(idx))
	return idx, true
}

func (s *segment) get(id string) ([]float32, map[string]any, bool) {
	if !s.bloom.mayContain(id) {
		return nil, nil, false
	}
	idx, ok := s.idToIndex[id]
	if !ok || s.tombstones.Contains(uint64(idx)) {
		return nil, nil, false
	}
	return s.vectors[idx], s.metas[idx], true
}

// searchExact scores every live, filter-matching record in the segment.
func (s *segment) searchExact(query []float32, filters map[string]any) []candidate {
	var out []candidate
	if cands, ok := s.meta.candidates(filters); ok {
		for _, idx := range cands {
			if s.tombstones.Contains(uint64(idx)) {
				continue
			}
			if !metaMatches(s.metas[idx], filters) {
				continue
			}
			out = append(out, candidate{idx: idx, score: s.score(query, s.vectors[idx])})
		}
		return out
	}
	for idx := range s.ids {
		if s.tombstones.Contains(uint64(idx)) {
			continue
		}
		if len(filters) > 0 && !metaMatches(s.metas[idx], filters) {
			continue
		}
		out = append(out, candidate{idx: idx, score: s.score(query, s.vectors[idx])})
	}
	return out
}

// searchANN runs a best-first graph search from the segment's entry point,
// returning up to ef candidates ordered by descending score. filters, when
// non-nil, restrict which nodes count toward the result (but traversal still
// passes through non-matching nodes, since they may be the only path to a
// matching one).
func (s *segment) searchANN(query []float32, ef int, filters map[string]any) []candidate {
	if s.entryPoint < 0 {
		return nil
	}
	return s.searchLayer([]int{s.entryPoint}, query, ef, filters)
}

func (s *segment) searchLayer(entryPoints []int, query []float32, ef int, filters map[string]any) []candidate {
	visited := make(map[int]bool, ef*4)
	frontier := &maxCandidateHeap{}
	results := &minCandidateHeap{}

	consider := func(idx int) {
		if visited[idx] || s.tombstones.Contains(uint64(idx)) {
			return
		}
		visited[idx] = true
		sc := s.score(query, s.vectors[idx])
		frontier.push(candidate{idx: idx, score: sc})
		if filters != nil && !metaMatches(s.metas[idx], filters) {
			return
		}
		if results.Len() < ef {
			results.push(candidate{idx: idx, score: sc})
			return
		}
		if sc > results.peekMin().score {
			results.pop()
			results.push(candidate{idx: idx, score: sc})
		}
	}

	for _, ep := range entryPoints {
		consider(ep)
	}

	for frontier.Len() > 0 {
		top := frontier.pop()
		if results.Len() >= ef && top.score < results.peekMin().score {
			break
		}
		for _, nb := range s.graph[top.idx] {
			consider(nb)
		}
	}

	out := make([]candidate, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = results.pop()
	}
	return out
}

func (h *maxCandidateHeap) push(c candidate) { heapPush(h, c) }
func (h *maxCandidateHeap) pop() candidate   { return heapPop(h) }
func (h *minCandidateHeap) push(c candidate) { heapPush(h, c) }
func (h *minCandidateHeap) pop() candidate   { return heapPop(h) }

// liveRecords returns every non-tombstoned record in ascending internal
// index order, used by vacuum to rebuild a fresh segment set.
func (s *segment) liveRecords() []model.VectorRecord {
	out := make([]model.VectorRecord, 0, s.liveCount())
	for idx, id := range s.ids {
		if s.tombstones.Contains(uint64(idx)) {
			continue
		}
		out = append(out, model.VectorRecord{Op: model.VectorRecordUpsert, ID: id, Vector: s.vectors[idx], Meta: s.metas[idx]})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
