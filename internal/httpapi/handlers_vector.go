package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/devrev/kissvdb/internal/model"
)

type createCollectionRequest struct {
	Name   string       `json:"name"`
	Dim    int          `json:"dim"`
	Metric model.Metric `json:"metric"`
}

func (d *Deps) handleCreateCollection(w http.ResponseWriter, r *http.Request) {
	var req createCollectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", "invalid request body: "+err.Error())
		return
	}
	if err := d.Validator.CollectionName(req.Name); err != nil {
		writeKissError(w, err)
		return
	}
	if err := d.Validator.Dim(req.Dim); err != nil {
		writeKissError(w, err)
		return
	}

	coll, err := d.Vectors.CreateCollection(req.Name, req.Dim, req.Metric)
	if err != nil {
		writeKissError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, coll.Descriptor())
}

func (d *Deps) handleListCollections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": d.Vectors.List()})
}

type upsertVectorRequest struct {
	ID     string         `json:"id"`
	Vector []float32      `json:"vector"`
	Meta   map[string]any `json:"meta,omitempty"`
}

// checkVectorWrite validates id/collection/dim and the disk-pressure gate
// shared by add, upsert, and update.
func (d *Deps) checkVectorWrite(collection, id string, vec []float32) error {
	if err := d.Validator.VectorID(id); err != nil {
		return err
	}
	coll, err := d.Vectors.Get(collection)
	if err != nil {
		return err
	}
	if err := d.Validator.VectorLength(len(vec), coll.Descriptor().Dim); err != nil {
		return err
	}
	return d.Disk.CheckBeforeWrite(uint64(len(vec)) * 4)
}

func (d *Deps) addOne(collection string, req upsertVectorRequest) (model.Event, error) {
	if err := d.checkVectorWrite(collection, req.ID, req.Vector); err != nil {
		return model.Event{}, err
	}
	return d.Bus.AddVector(collection, req.ID, req.Vector, req.Meta)
}

func (d *Deps) upsertOne(collection string, req upsertVectorRequest) (model.Event, error) {
	if err := d.checkVectorWrite(collection, req.ID, req.Vector); err != nil {
		return model.Event{}, err
	}
	return d.Bus.UpsertVector(collection, req.ID, req.Vector, req.Meta)
}

// handleAddVector backs POST .../items: a strict add that fails with
// conflict if the id already exists, unlike PUT .../items/{id} which
// always creates or replaces.
func (d *Deps) handleAddVector(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	if err := d.Validator.CollectionName(collection); err != nil {
		writeKissError(w, err)
		return
	}

	var req upsertVectorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", "invalid request body: "+err.Error())
		return
	}

	ev, err := d.addOne(collection, req)
	if err != nil {
		writeKissError(w, err)
		return
	}
	if d.Metrics != nil {
		d.Metrics.VectorUpsertTotal.WithLabelValues(collection).Inc()
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": req.ID, "offset": ev.Offset})
}

// handleUpsertVectorByID backs PUT .../items/{id}: unconditional
// create-or-replace, taking the id from the path rather than the body.
func (d *Deps) handleUpsertVectorByID(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	id := chi.URLParam(r, "id")
	if err := d.Validator.CollectionName(collection); err != nil {
		writeKissError(w, err)
		return
	}

	var req upsertVectorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", "invalid request body: "+err.Error())
		return
	}
	req.ID = id

	ev, err := d.upsertOne(collection, req)
	if err != nil {
		writeKissError(w, err)
		return
	}
	if d.Metrics != nil {
		d.Metrics.VectorUpsertTotal.WithLabelValues(collection).Inc()
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "offset": ev.Offset})
}

type updateVectorRequest struct {
	Vector *[]float32      `json:"vector,omitempty"`
	Meta   *map[string]any `json:"meta,omitempty"`
}

// handleUpdateVectorByID backs PATCH .../items/{id}: a partial update that
// fails with not_found if id is absent. vector and meta are each optional
// and default to the record's current value when omitted.
func (d *Deps) handleUpdateVectorByID(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	id := chi.URLParam(r, "id")
	if err := d.Validator.CollectionName(collection); err != nil {
		writeKissError(w, err)
		return
	}
	if err := d.Validator.VectorID(id); err != nil {
		writeKissError(w, err)
		return
	}

	var req updateVectorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", "invalid request body: "+err.Error())
		return
	}

	var vec []float32
	if req.Vector != nil {
		vec = *req.Vector
		coll, err := d.Vectors.Get(collection)
		if err != nil {
			writeKissError(w, err)
			return
		}
		if err := d.Validator.VectorLength(len(vec), coll.Descriptor().Dim); err != nil {
			writeKissError(w, err)
			return
		}
	}
	var meta map[string]any
	if req.Meta != nil {
		meta = *req.Meta
	}
	if err := d.Disk.CheckBeforeWrite(uint64(len(vec)) * 4); err != nil {
		writeKissError(w, err)
		return
	}

	ev, err := d.Bus.UpdateVector(collection, id, vec, req.Vector != nil, meta, req.Meta != nil)
	if err != nil {
		writeKissError(w, err)
		return
	}
	if d.Metrics != nil {
		d.Metrics.VectorUpsertTotal.WithLabelValues(collection).Inc()
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "offset": ev.Offset})
}

func (d *Deps) handleGetVector(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	id := chi.URLParam(r, "id")
	if err := d.Validator.CollectionName(collection); err != nil {
		writeKissError(w, err)
		return
	}

	coll, err := d.Vectors.Get(collection)
	if err != nil {
		writeKissError(w, err)
		return
	}
	vec, meta, ok := coll.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "vector id not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "vector": vec, "meta": meta})
}

func (d *Deps) handleDeleteVector(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	id := chi.URLParam(r, "id")
	if err := d.Validator.CollectionName(collection); err != nil {
		writeKissError(w, err)
		return
	}
	if err := d.Validator.VectorID(id); err != nil {
		writeKissError(w, err)
		return
	}

	if _, err := d.Bus.DeleteVector(collection, id); err != nil {
		writeKissError(w, err)
		return
	}
	if d.Metrics != nil {
		d.Metrics.VectorDeleteTotal.WithLabelValues(collection).Inc()
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (d *Deps) handleUpsertVectorBatch(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	if err := d.Validator.CollectionName(collection); err != nil {
		writeKissError(w, err)
		return
	}

	var req struct {
		Items []upsertVectorRequest `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", "invalid request body: "+err.Error())
		return
	}
	if err := d.Validator.VectorBatchSize(len(req.Items)); err != nil {
		writeKissError(w, err)
		return
	}

	type itemResult struct {
		ID    string `json:"id"`
		Error string `json:"error,omitempty"`
	}
	results := make([]itemResult, len(req.Items))
	for i, item := range req.Items {
		if _, err := d.upsertOne(collection, item); err != nil {
			results[i] = itemResult{ID: item.ID, Error: err.Error()}
			continue
		}
		if d.Metrics != nil {
			d.Metrics.VectorUpsertTotal.WithLabelValues(collection).Inc()
		}
		results[i] = itemResult{ID: item.ID}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (d *Deps) handleDeleteVectorBatch(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	if err := d.Validator.CollectionName(collection); err != nil {
		writeKissError(w, err)
		return
	}

	var req struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", "invalid request body: "+err.Error())
		return
	}
	if err := d.Validator.VectorBatchSize(len(req.IDs)); err != nil {
		writeKissError(w, err)
		return
	}

	type itemResult struct {
		ID    string `json:"id"`
		Error string `json:"error,omitempty"`
	}
	results := make([]itemResult, len(req.IDs))
	for i, id := range req.IDs {
		if _, err := d.Bus.DeleteVector(collection, id); err != nil {
			results[i] = itemResult{ID: id, Error: err.Error()}
			continue
		}
		if d.Metrics != nil {
			d.Metrics.VectorDeleteTotal.WithLabelValues(collection).Inc()
		}
		results[i] = itemResult{ID: id}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

type searchRequest struct {
	Vector      []float32           `json:"vector"`
	K           int                 `json:"k"`
	Filters     model.SearchFilters `json:"filters,omitempty"`
	IncludeMeta bool                `json:"include_meta,omitempty"`
	Exact       bool                `json:"exact,omitempty"`
}

// handleVacuumCollection triggers an immediate, unconditional vacuum of one
// collection, for operators who don't want to wait for the scheduler's next
// tombstone-ratio poll. Unlike the scheduler's own trigger, this never
// checks the ratio: rewrote is false only when the collection held no
// records at all, live or tombstoned.
func (d *Deps) handleVacuumCollection(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	if err := d.Validator.CollectionName(collection); err != nil {
		writeKissError(w, err)
		return
	}

	coll, err := d.Vectors.Get(collection)
	if err != nil {
		writeKissError(w, err)
		return
	}
	rewrote, err := coll.Vacuum()
	if err != nil {
		writeKissError(w, err)
		return
	}
	if rewrote && d.Metrics != nil {
		d.Metrics.VacuumRunsTotal.Inc()
	}
	writeJSON(w, http.StatusOK, map[string]bool{"rewrote": rewrote})
}

func (d *Deps) handleSearch(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	if err := d.Validator.CollectionName(collection); err != nil {
		writeKissError(w, err)
		return
	}

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", "invalid request body: "+err.Error())
		return
	}
	if err := d.Validator.K(req.K); err != nil {
		writeKissError(w, err)
		return
	}

	coll, err := d.Vectors.Get(collection)
	if err != nil {
		writeKissError(w, err)
		return
	}
	if err := d.Validator.VectorLength(len(req.Vector), coll.Descriptor().Dim); err != nil {
		writeKissError(w, err)
		return
	}

	start := time.Now()
	hits, err := coll.Search(req.Vector, req.K, req.Filters, req.Exact)
	if err != nil {
		writeKissError(w, err)
		return
	}
	if !req.IncludeMeta {
		for i := range hits {
			hits[i].Meta = nil
		}
	}

	mode := "ann"
	if req.Exact {
		mode = "exact"
	}
	if d.Metrics != nil {
		d.Metrics.VectorSearchTotal.WithLabelValues(collection, mode).Inc()
		d.Metrics.VectorSearchLatency.WithLabelValues(collection, mode).Observe(time.Since(start).Seconds())
	}

	writeJSON(w, http.StatusOK, map[string]any{"hits": hits})
}
