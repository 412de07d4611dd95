package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		r = httptest.NewRequest(method, path, bytes.NewReader(buf))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestPutThenGetKV(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	w := doJSON(t, h, http.MethodPut, "/v1/kv/hello", putKVRequest{Value: json.RawMessage(`"world"`)})
	require.Equal(t, http.StatusOK, w.Code)

	var put kvResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &put))
	assert.EqualValues(t, 1, put.Revision)

	w = doJSON(t, h, http.MethodGet, "/v1/kv/hello", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got kvResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, `"world"`, string(got.Value))
	assert.EqualValues(t, 1, got.Revision)
}

func TestGetKVMissingReturnsNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doJSON(t, srv.Handler(), http.MethodGet, "/v1/kv/missing", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "not_found", body.Error)
}

func TestPutKVWithStaleIfRevisionConflicts(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	w := doJSON(t, h, http.MethodPut, "/v1/kv/k", putKVRequest{Value: json.RawMessage(`1`)})
	require.Equal(t, http.StatusOK, w.Code)

	stale := uint64(1)
	w = doJSON(t, h, http.MethodPut, "/v1/kv/k", putKVRequest{Value: json.RawMessage(`2`), IfRevision: &stale})
	require.Equal(t, http.StatusOK, w.Code, "revision 1 is still current on the second write")

	// Now the current revision is 2; asking for if_revision=1 again must conflict.
	w = doJSON(t, h, http.MethodPut, "/v1/kv/k", putKVRequest{Value: json.RawMessage(`3`), IfRevision: &stale})
	require.NotEqual(t, http.StatusOK, w.Code)
}

func TestDeleteKVInvalidatesCache(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	doJSON(t, h, http.MethodPut, "/v1/kv/gone", putKVRequest{Value: json.RawMessage(`1`)})
	w := doJSON(t, h, http.MethodDelete, "/v1/kv/gone", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, h, http.MethodGet, "/v1/kv/gone", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestListKVByPrefix(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	doJSON(t, h, http.MethodPut, "/v1/kv/a:1", putKVRequest{Value: json.RawMessage(`1`)})
	doJSON(t, h, http.MethodPut, "/v1/kv/a:2", putKVRequest{Value: json.RawMessage(`2`)})
	doJSON(t, h, http.MethodPut, "/v1/kv/b:1", putKVRequest{Value: json.RawMessage(`3`)})

	w := doJSON(t, h, http.MethodGet, "/v1/kv/?key_prefix=a:", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var out struct {
		Items []kvResponse `json:"items"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Len(t, out.Items, 2)
}

func TestBatchPutKVIsPerItemIndependent(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	body := map[string]any{
		"items": []batchPutItem{
			{Key: "ok1", Value: json.RawMessage(`1`)},
			{Key: "", Value: json.RawMessage(`1`)}, // invalid key, must not abort the batch
			{Key: "ok2", Value: json.RawMessage(`2`)},
		},
	}
	w := doJSON(t, h, http.MethodPost, "/v1/kv/batch", body)
	require.Equal(t, http.StatusOK, w.Code)

	var out struct {
		Results []batchPutResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out.Results, 3)
	assert.Empty(t, out.Results[0].Error)
	assert.NotEmpty(t, out.Results[1].Error)
	assert.Empty(t, out.Results[2].Error)

	w = doJSON(t, h, http.MethodGet, "/v1/kv/ok2", nil)
	require.Equal(t, http.StatusOK, w.Code, "a later valid item must still apply despite an earlier item's failure")
}
