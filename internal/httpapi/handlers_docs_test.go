package httpapi

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutThenGetDoc(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	w := doJSON(t, h, http.MethodPut, "/v1/docs/users/u1", putDocRequest{Meta: json.RawMessage(`{"name":"ada"}`)})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, h, http.MethodGet, "/v1/docs/users/u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got docResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "users", got.Collection)
	assert.Equal(t, "u1", got.ID)
	assert.JSONEq(t, `{"name":"ada"}`, string(got.Meta))
}

func TestListDocsScopesToOneCollection(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	doJSON(t, h, http.MethodPut, "/v1/docs/users/u1", putDocRequest{Meta: json.RawMessage(`{}`)})
	doJSON(t, h, http.MethodPut, "/v1/docs/users/u2", putDocRequest{Meta: json.RawMessage(`{}`)})
	doJSON(t, h, http.MethodPut, "/v1/docs/orders/o1", putDocRequest{Meta: json.RawMessage(`{}`)})

	w := doJSON(t, h, http.MethodGet, "/v1/docs/users/", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var out struct {
		Items []docResponse `json:"items"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Len(t, out.Items, 2)
}

func TestDeleteDocThenGetNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	doJSON(t, h, http.MethodPut, "/v1/docs/users/u1", putDocRequest{Meta: json.RawMessage(`{}`)})
	w := doJSON(t, h, http.MethodDelete, "/v1/docs/users/u1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, h, http.MethodGet, "/v1/docs/users/u1", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}
