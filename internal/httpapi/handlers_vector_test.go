package httpapi

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devrev/kissvdb/internal/model"
)

func TestCreateCollectionThenUpsertAndSearch(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	w := doJSON(t, h, http.MethodPost, "/v1/vectors/", createCollectionRequest{Name: "docs", Dim: 3, Metric: model.MetricCosine})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, h, http.MethodPost, "/v1/vectors/docs/items/", upsertVectorRequest{
		ID: "v1", Vector: []float32{1, 0, 0}, Meta: map[string]any{"tag": "a"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, h, http.MethodPost, "/v1/vectors/docs/items/", upsertVectorRequest{
		ID: "v2", Vector: []float32{0, 1, 0}, Meta: map[string]any{"tag": "b"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, h, http.MethodPost, "/v1/vectors/docs/search", searchRequest{
		Vector: []float32{1, 0, 0}, K: 1, IncludeMeta: true,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var out struct {
		Hits []model.SearchHit `json:"hits"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out.Hits, 1)
	assert.Equal(t, "v1", out.Hits[0].ID)
	assert.NotNil(t, out.Hits[0].Meta)
}

func TestSearchWithoutIncludeMetaStripsMeta(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	doJSON(t, h, http.MethodPost, "/v1/vectors/", createCollectionRequest{Name: "docs", Dim: 2, Metric: model.MetricDot})
	doJSON(t, h, http.MethodPost, "/v1/vectors/docs/items/", upsertVectorRequest{ID: "v1", Vector: []float32{1, 1}, Meta: map[string]any{"tag": "a"}})

	w := doJSON(t, h, http.MethodPost, "/v1/vectors/docs/search", searchRequest{Vector: []float32{1, 1}, K: 1})
	require.Equal(t, http.StatusOK, w.Code)

	var out struct {
		Hits []model.SearchHit `json:"hits"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out.Hits, 1)
	assert.Nil(t, out.Hits[0].Meta)
}

func TestUpsertVectorWrongDimRejected(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	doJSON(t, h, http.MethodPost, "/v1/vectors/", createCollectionRequest{Name: "docs", Dim: 3, Metric: model.MetricCosine})

	w := doJSON(t, h, http.MethodPost, "/v1/vectors/docs/items/", upsertVectorRequest{ID: "v1", Vector: []float32{1, 0}})
	assert.NotEqual(t, http.StatusOK, w.Code)
}

func TestDeleteVectorThenGetNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	doJSON(t, h, http.MethodPost, "/v1/vectors/", createCollectionRequest{Name: "docs", Dim: 2, Metric: model.MetricCosine})
	doJSON(t, h, http.MethodPost, "/v1/vectors/docs/items/", upsertVectorRequest{ID: "v1", Vector: []float32{1, 0}})

	w := doJSON(t, h, http.MethodDelete, "/v1/vectors/docs/items/v1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, h, http.MethodGet, "/v1/vectors/docs/items/v1", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestAddVectorConflictsOnExistingID(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	doJSON(t, h, http.MethodPost, "/v1/vectors/", createCollectionRequest{Name: "docs", Dim: 2, Metric: model.MetricCosine})

	w := doJSON(t, h, http.MethodPost, "/v1/vectors/docs/items/", upsertVectorRequest{ID: "v1", Vector: []float32{1, 0}})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, h, http.MethodPost, "/v1/vectors/docs/items/", upsertVectorRequest{ID: "v1", Vector: []float32{0, 1}})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestUpsertVectorByIDReplacesExistingID(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	doJSON(t, h, http.MethodPost, "/v1/vectors/", createCollectionRequest{Name: "docs", Dim: 2, Metric: model.MetricCosine})
	doJSON(t, h, http.MethodPost, "/v1/vectors/docs/items/", upsertVectorRequest{ID: "v1", Vector: []float32{1, 0}, Meta: map[string]any{"tag": "a"}})

	w := doJSON(t, h, http.MethodPut, "/v1/vectors/docs/items/v1", upsertVectorRequest{Vector: []float32{0, 1}, Meta: map[string]any{"tag": "b"}})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, h, http.MethodGet, "/v1/vectors/docs/items/v1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got struct {
		Meta map[string]any `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "b", got.Meta["tag"])
}

func TestUpdateVectorByIDFailsOnMissingID(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	doJSON(t, h, http.MethodPost, "/v1/vectors/", createCollectionRequest{Name: "docs", Dim: 2, Metric: model.MetricCosine})

	w := doJSON(t, h, http.MethodPatch, "/v1/vectors/docs/items/missing", updateVectorRequest{Meta: &map[string]any{"tag": "a"}})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateVectorByIDKeepsOmittedFields(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	doJSON(t, h, http.MethodPost, "/v1/vectors/", createCollectionRequest{Name: "docs", Dim: 2, Metric: model.MetricCosine})
	doJSON(t, h, http.MethodPost, "/v1/vectors/docs/items/", upsertVectorRequest{ID: "v1", Vector: []float32{1, 0}, Meta: map[string]any{"tag": "a"}})

	w := doJSON(t, h, http.MethodPatch, "/v1/vectors/docs/items/v1", updateVectorRequest{Meta: &map[string]any{"tag": "b"}})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, h, http.MethodGet, "/v1/vectors/docs/items/v1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got struct {
		Vector []float32      `json:"vector"`
		Meta   map[string]any `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, []float32{1, 0}, got.Vector, "vector must be unchanged when omitted from the update body")
	assert.Equal(t, "b", got.Meta["tag"])
}

func TestUpsertVectorBatchIsPerItemIndependent(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	doJSON(t, h, http.MethodPost, "/v1/vectors/", createCollectionRequest{Name: "docs", Dim: 2, Metric: model.MetricCosine})

	body := map[string]any{
		"items": []upsertVectorRequest{
			{ID: "ok1", Vector: []float32{1, 0}},
			{ID: "bad", Vector: []float32{1, 0, 0}}, // wrong dim, must not abort the batch
			{ID: "ok2", Vector: []float32{0, 1}},
		},
	}
	w := doJSON(t, h, http.MethodPost, "/v1/vectors/docs/items/batch", body)
	require.Equal(t, http.StatusOK, w.Code)

	var out struct {
		Results []struct {
			ID    string `json:"id"`
			Error string `json:"error,omitempty"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out.Results, 3)
	assert.Empty(t, out.Results[0].Error)
	assert.NotEmpty(t, out.Results[1].Error)
	assert.Empty(t, out.Results[2].Error)
}
