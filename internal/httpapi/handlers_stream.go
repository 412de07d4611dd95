package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/devrev/kissvdb/internal/model"
	"github.com/devrev/kissvdb/internal/subscription"
)

// streamEventData is the JSON object carried on an SSE event's data: line,
// per spec.md section 6's bit-stable framing.
type streamEventData struct {
	TimestampMs int64           `json:"ts_ms"`
	Type        model.EventKind `json:"type"`
	Key         string          `json:"key,omitempty"`
	Collection  string          `json:"collection,omitempty"`
	ID          string          `json:"id,omitempty"`
	Revision    uint64          `json:"revision,omitempty"`
	Patch       json.RawMessage `json:"patch,omitempty"`

	// Gap-only fields.
	FromOffset uint64 `json:"from_offset,omitempty"`
	ToOffset   uint64 `json:"to_offset,omitempty"`
	Dropped    uint64 `json:"dropped,omitempty"`
}

func toStreamData(ev model.Event) streamEventData {
	d := streamEventData{TimestampMs: ev.TimestampMs, Type: ev.Kind, Key: ev.Key, Collection: ev.Collection, ID: ev.ID, Revision: ev.Revision}
	if ev.Kind == model.EventGap {
		d.FromOffset, d.ToOffset, d.Dropped = ev.FromOffset, ev.ToOffset, ev.Dropped
	}
	// The patch carries a msgpack-framed vector record for vector events;
	// only the KV patch (already JSON) is safe to forward as-is.
	if ev.Kind == model.EventStateUpdated {
		d.Patch = json.RawMessage(ev.Patch)
	}
	return d
}

func (d *Deps) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}

	q := r.URL.Query()
	since := uint64(0)
	if raw := q.Get("since"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_argument", "since must be an unsigned integer")
			return
		}
		since = n
	}
	// Last-Event-ID on reconnect overrides since, per spec.md section 6.
	if lastID := r.Header.Get("Last-Event-ID"); lastID != "" {
		n, err := strconv.ParseUint(lastID, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_argument", "Last-Event-ID must be an unsigned integer")
			return
		}
		since = n + 1
	}

	filter := subscription.Filter{KeyPrefix: q.Get("key_prefix"), Collection: q.Get("collection")}
	if err := d.Validator.KeyPrefix(filter.KeyPrefix); err != nil {
		writeKissError(w, err)
		return
	}
	if filter.Collection != "" {
		if err := d.Validator.CollectionName(filter.Collection); err != nil {
			writeKissError(w, err)
			return
		}
	}
	if types := q.Get("types"); types != "" {
		filter.Kinds = make(map[model.EventKind]bool)
		for _, kind := range strings.Split(types, ",") {
			filter.Kinds[model.EventKind(strings.TrimSpace(kind))] = true
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if d.Metrics != nil {
		d.Metrics.SubscribersActive.Inc()
		defer d.Metrics.SubscribersActive.Dec()
	}

	ch := d.Subscriber.Stream(r.Context(), since, filter)
	for ev := range ch {
		if ev.Kind == model.EventGap && d.Metrics != nil {
			d.Metrics.SubscriberGapsTotal.Inc()
		}
		if err := writeSSE(w, ev); err != nil {
			return
		}
		flusher.Flush()
	}
}

func writeSSE(w http.ResponseWriter, ev model.Event) error {
	data, err := json.Marshal(toStreamData(ev))
	if err != nil {
		return err
	}
	id := ev.Offset
	if ev.IsSynthetic() {
		id = ev.ToOffset
	}
	_, err = fmt.Fprintf(w, "event: %s\nid: %d\ndata: %s\n\n", ev.Kind, id, data)
	return err
}
