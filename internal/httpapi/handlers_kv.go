package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/devrev/kissvdb/internal/model"
)

type putKVRequest struct {
	Value      json.RawMessage `json:"value"`
	TTLMs      int64           `json:"ttl_ms,omitempty"`
	IfRevision *uint64         `json:"if_revision,omitempty"`
}

type kvResponse struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value,omitempty"`
	Revision  uint64          `json:"revision"`
	ExpiresAt int64           `json:"expires_at,omitempty"`
}

func entryResponse(ent model.KVEntry) kvResponse {
	return kvResponse{Key: ent.Key, Value: json.RawMessage(ent.Value), Revision: ent.Revision, ExpiresAt: ent.ExpiresAt}
}

func (d *Deps) handlePutKV(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := d.Validator.Key(key); err != nil {
		writeKissError(w, err)
		return
	}

	var req putKVRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", "invalid request body: "+err.Error())
		return
	}
	if err := d.Validator.Value(req.Value); err != nil {
		writeKissError(w, err)
		return
	}
	if err := d.Validator.TTLMs(req.TTLMs); err != nil {
		writeKissError(w, err)
		return
	}
	if err := d.Disk.CheckBeforeWrite(uint64(len(req.Value))); err != nil {
		writeKissError(w, err)
		return
	}

	ent, err := d.Bus.PutState(key, req.Value, req.TTLMs, req.IfRevision)
	if err != nil {
		if d.Metrics != nil {
			d.Metrics.KVCasConflicts.Inc()
		}
		writeKissError(w, err)
		return
	}
	d.Cache.Put(key, ent)
	if d.Metrics != nil {
		d.Metrics.KVPutTotal.Inc()
	}
	writeJSON(w, http.StatusOK, entryResponse(ent))
}

func (d *Deps) handleGetKV(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := d.Validator.Key(key); err != nil {
		writeKissError(w, err)
		return
	}

	if d.Metrics != nil {
		d.Metrics.KVGetTotal.Inc()
	}

	if ent, ok := d.Cache.Get(key); ok {
		if d.Metrics != nil {
			d.Metrics.CacheHitsTotal.Inc()
		}
		writeJSON(w, http.StatusOK, entryResponse(ent))
		return
	}
	if d.Metrics != nil {
		d.Metrics.CacheMissesTotal.Inc()
	}

	ent, ok := d.State.Get(key)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "key not found")
		return
	}
	d.Cache.Put(key, ent)
	writeJSON(w, http.StatusOK, entryResponse(ent))
}

func (d *Deps) handleDeleteKV(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := d.Validator.Key(key); err != nil {
		writeKissError(w, err)
		return
	}

	var ifRevision *uint64
	if raw := r.URL.Query().Get("if_revision"); raw != "" {
		rev, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_argument", "if_revision must be an unsigned integer")
			return
		}
		ifRevision = &rev
	}

	deleted, err := d.Bus.DeleteState(key, ifRevision)
	if err != nil {
		writeKissError(w, err)
		return
	}
	d.Cache.Invalidate(key)
	if d.Metrics != nil {
		d.Metrics.KVDeleteTotal.Inc()
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": deleted})
}

func (d *Deps) handleListKV(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("key_prefix")
	if err := d.Validator.KeyPrefix(prefix); err != nil {
		writeKissError(w, err)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_argument", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries := d.State.List(prefix, limit)
	out := make([]kvResponse, len(entries))
	for i, ent := range entries {
		out[i] = entryResponse(ent)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

type batchPutItem struct {
	Key        string          `json:"key"`
	Value      json.RawMessage `json:"value"`
	TTLMs      int64           `json:"ttl_ms,omitempty"`
	IfRevision *uint64         `json:"if_revision,omitempty"`
}

type batchPutResult struct {
	Key      string `json:"key"`
	Revision uint64 `json:"revision,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (d *Deps) handleBatchPutKV(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Items []batchPutItem `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", "invalid request body: "+err.Error())
		return
	}
	if err := d.Validator.BatchSize(len(req.Items)); err != nil {
		writeKissError(w, err)
		return
	}

	results := make([]batchPutResult, len(req.Items))
	for i, item := range req.Items {
		if err := d.Validator.Key(item.Key); err != nil {
			results[i] = batchPutResult{Key: item.Key, Error: err.Error()}
			continue
		}
		if err := d.Validator.Value(item.Value); err != nil {
			results[i] = batchPutResult{Key: item.Key, Error: err.Error()}
			continue
		}
		if err := d.Disk.CheckBeforeWrite(uint64(len(item.Value))); err != nil {
			results[i] = batchPutResult{Key: item.Key, Error: err.Error()}
			continue
		}

		ent, err := d.Bus.PutState(item.Key, item.Value, item.TTLMs, item.IfRevision)
		if err != nil {
			results[i] = batchPutResult{Key: item.Key, Error: err.Error()}
			continue
		}
		d.Cache.Put(item.Key, ent)
		results[i] = batchPutResult{Key: item.Key, Revision: ent.Revision}
	}
	if d.Metrics != nil {
		d.Metrics.KVPutTotal.Add(float64(len(req.Items)))
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}
