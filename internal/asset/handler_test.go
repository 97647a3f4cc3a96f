package asset

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upgate/service/internal/response"
)

func newTestRouter(svc *Service) http.Handler {
	h := NewHandler(svc)
	r := chi.NewRouter()
	r.Post("/assets/grants", h.IssueGrant)
	r.Post("/assets/verify", h.Verify)
	r.Post("/assets/access", h.ResolveAccess)
	r.Post("/assets/delete", h.Delete)
	r.Post("/admin/prune", h.Prune)
	return r
}

func doJSON(t *testing.T, router http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) response.Envelope {
	t.Helper()
	var env response.Envelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	return env
}

func TestHandlerIssueGrant(t *testing.T) {
	svc, _, _ := newTestService(NewMemoryStore(), Config{})
	router := newTestRouter(svc)

	rec := doJSON(t, router, "/assets/grants", GrantArgs{FileType: "image/png"})
	require.Equal(t, http.StatusCreated, rec.Code)

	env := decodeEnvelope(t, rec)
	assert.True(t, env.Success)

	data, ok := env.Data.(map[string]any)
	require.True(t, ok)
	assert.NotEmpty(t, data["id"])
	assert.NotEmpty(t, data["url"])
	assert.NotEmpty(t, data["data"])
}

func TestHandlerIssueGrantValidation(t *testing.T) {
	svc, _, _ := newTestService(NewMemoryStore(), Config{})
	router := newTestRouter(svc)

	rec := doJSON(t, router, "/assets/grants", GrantArgs{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, decodeEnvelope(t, rec).Success)

	req := httptest.NewRequest(http.MethodPost, "/assets/grants", strings.NewReader("{not json"))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerIssueGrantConflict(t *testing.T) {
	svc, _, _ := newTestService(NewMemoryStore(), Config{})
	router := newTestRouter(svc)

	rec := doJSON(t, router, "/assets/grants", GrantArgs{ID: "abc123", FileType: "image/png"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, "/assets/grants", GrantArgs{ID: "abc123", FileType: "image/png"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandlerVerifyNotFound(t *testing.T) {
	svc, _, _ := newTestService(NewMemoryStore(), Config{})
	router := newTestRouter(svc)

	rec := doJSON(t, router, "/assets/verify", refsRequest{Refs: []Ref{{ID: "ghost"}}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerVerifyEmptyRefs(t *testing.T) {
	svc, _, _ := newTestService(NewMemoryStore(), Config{})
	router := newTestRouter(svc)

	rec := doJSON(t, router, "/assets/verify", refsRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerVerifyExpiredIsGone(t *testing.T) {
	store := NewMemoryStore()
	svc, _, clock := newTestService(store, Config{
		VerifyAssets:                  true,
		VerifyAssetsExpirationSeconds: 60,
	})
	router := newTestRouter(svc)

	rec := doJSON(t, router, "/assets/grants", GrantArgs{ID: "abc123", FileType: "image/png"})
	require.Equal(t, http.StatusCreated, rec.Code)

	clock.Advance(61 * time.Second)

	rec = doJSON(t, router, "/assets/verify", refsRequest{Refs: []Ref{{ID: "abc123"}}})
	assert.Equal(t, http.StatusGone, rec.Code)
}

func TestHandlerResolveAccess(t *testing.T) {
	store := NewMemoryStore()
	svc, objects, _ := newTestService(store, Config{})
	router := newTestRouter(svc)

	rec := doJSON(t, router, "/assets/grants", GrantArgs{ID: "abc123", Name: "a.png", FileType: "image/png"})
	require.Equal(t, http.StatusCreated, rec.Code)

	// Nothing uploaded yet.
	rec = doJSON(t, router, "/assets/access", refsRequest{Refs: []Ref{{ID: "abc123"}}})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	objects.put("default/abc123/a.png")

	rec = doJSON(t, router, "/assets/access", refsRequest{Refs: []Ref{{ID: "abc123"}}})
	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	items, ok := env.Data.([]any)
	require.True(t, ok)
	require.Len(t, items, 1)
	assert.NotEmpty(t, items[0].(map[string]any)["url"])
}

func TestHandlerDelete(t *testing.T) {
	store := NewMemoryStore()
	svc, objects, _ := newTestService(store, Config{})
	router := newTestRouter(svc)

	rec := doJSON(t, router, "/assets/grants", GrantArgs{ID: "abc123", Name: "a.png", FileType: "image/png"})
	require.Equal(t, http.StatusCreated, rec.Code)
	objects.put("default/abc123/a.png")

	rec = doJSON(t, router, "/assets/delete", refsRequest{Refs: []Ref{{ID: "abc123"}}})
	assert.Equal(t, http.StatusOK, rec.Code)

	_, err := store.Find(context.Background(), "abc123")
	assert.ErrorIs(t, err, ErrAssetNotFound)
}

func TestHandlerPruneStoreless(t *testing.T) {
	svc, _, _ := newTestService(nil, Config{})
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/admin/prune", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerPrune(t *testing.T) {
	store := NewMemoryStore()
	svc, objects, _ := newTestService(store, Config{})
	router := newTestRouter(svc)
	objects.put("stray/object.bin")

	req := httptest.NewRequest(http.MethodPost, "/admin/prune", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, objects.has("stray/object.bin"))
}
