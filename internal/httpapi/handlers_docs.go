package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/devrev/kissvdb/internal/docstore"
)

type putDocRequest struct {
	Meta       json.RawMessage `json:"meta"`
	TTLMs      int64           `json:"ttl_ms,omitempty"`
	IfRevision *uint64         `json:"if_revision,omitempty"`
}

type docResponse struct {
	Collection string          `json:"collection"`
	ID         string          `json:"id"`
	Meta       json.RawMessage `json:"meta,omitempty"`
	Revision   uint64          `json:"revision"`
	ExpiresAt  int64           `json:"expires_at,omitempty"`
}

func docResponseOf(doc docstore.Document) docResponse {
	return docResponse{Collection: doc.Collection, ID: doc.ID, Meta: doc.Meta, Revision: doc.Revision, ExpiresAt: doc.ExpiresAt}
}

func (d *Deps) handlePutDoc(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	id := chi.URLParam(r, "id")

	var req putDocRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", "invalid request body: "+err.Error())
		return
	}
	if err := d.Disk.CheckBeforeWrite(uint64(len(req.Meta))); err != nil {
		writeKissError(w, err)
		return
	}

	doc, err := d.Docs.Put(collection, id, req.Meta, req.TTLMs, req.IfRevision)
	if err != nil {
		writeKissError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, docResponseOf(doc))
}

func (d *Deps) handleGetDoc(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	id := chi.URLParam(r, "id")

	doc, ok := d.Docs.Get(collection, id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "document not found")
		return
	}
	writeJSON(w, http.StatusOK, docResponseOf(doc))
}

func (d *Deps) handleDeleteDoc(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	id := chi.URLParam(r, "id")

	var ifRevision *uint64
	if raw := r.URL.Query().Get("if_revision"); raw != "" {
		rev, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_argument", "if_revision must be an unsigned integer")
			return
		}
		ifRevision = &rev
	}

	deleted, err := d.Docs.Delete(collection, id, ifRevision)
	if err != nil {
		writeKissError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": deleted})
}

func (d *Deps) handleListDocs(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_argument", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	docs, err := d.Docs.List(collection, limit)
	if err != nil {
		writeKissError(w, err)
		return
	}
	out := make([]docResponse, len(docs))
	for i, doc := range docs {
		out[i] = docResponseOf(doc)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}
