package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "github.com/tidestore/tidestore/internal/api/errors"
	"github.com/tidestore/tidestore/internal/api/middleware"
	"github.com/tidestore/tidestore/internal/auth"
	"github.com/tidestore/tidestore/internal/gateway"
	"github.com/tidestore/tidestore/internal/models"
	"github.com/tidestore/tidestore/internal/store"
	"github.com/tidestore/tidestore/internal/usage"
)

type fakeContentStore struct {
	records map[string]*models.Content
}

func (s *fakeContentStore) Create(_ context.Context, c *models.Content) error {
	s.records[c.Address] = c
	return nil
}

func (s *fakeContentStore) GetByAddress(_ context.Context, address string) (*models.Content, error) {
	if c, ok := s.records[address]; ok {
		return c, nil
	}
	return nil, store.ErrNotFound
}

func (s *fakeContentStore) GetByAddressAndOwner(_ context.Context, address, ownerID string) (*models.Content, error) {
	if c, ok := s.records[address]; ok && c.OwnerID == ownerID {
		return c, nil
	}
	return nil, store.ErrNotFound
}

type countingUsageStore struct {
	mu   sync.Mutex
	adds []struct {
		secretID string
		bytes    int64
		success  bool
	}
}

func (s *countingUsageStore) Add(_ context.Context, secretID string, _ time.Time, bytes int64, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adds = append(s.adds, struct {
		secretID string
		bytes    int64
		success  bool
	}{secretID, bytes, success})
	return nil
}

func (s *countingUsageStore) ListBySecret(_ context.Context, _ string, _ int) ([]*models.DailyUsage, error) {
	return nil, nil
}

type backendFixture struct {
	srv  *httptest.Server
	hits int
}

func newBackend(t *testing.T, status int, body string) *backendFixture {
	t.Helper()
	f := &backendFixture{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.hits++
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write([]byte(body))
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func newContentRouter(h *ContentHandler) chi.Router {
	r := chi.NewRouter()
	r.Get("/content/{address}", h.Get)
	r.Head("/content/{address}", h.Head)
	return r
}

func seedRecord() *fakeContentStore {
	return &fakeContentStore{records: map[string]*models.Content{
		"bafyabc": {
			ID:          "c-1",
			OwnerID:     "owner-1",
			Address:     "bafyabc",
			Name:        "report.pdf",
			Size:        11,
			ContentType: "application/pdf",
		},
	}}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) apierrors.APIError {
	t.Helper()
	var e apierrors.APIError
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&e))
	return e
}

func TestGetStreamsRecordedContentAnonymously(t *testing.T) {
	backend := newBackend(t, http.StatusOK, "hello world")
	client := gateway.NewClient(backend.srv.URL, time.Second, nil)
	h := NewContentHandler(seedRecord(), client, nil, nil, nil)

	rec := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/content/bafyabc", nil)
	newContentRouter(h).ServeHTTP(rec, r)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello world", rec.Body.String())
	// The record's type wins over the backend's octet-stream header.
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, "11", rec.Header().Get("Content-Length"))
	assert.Equal(t, `inline; filename="report.pdf"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "public, max-age=3600", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, 1, backend.hits)
}

func TestGetBackendHeadersFillMissingRecordFields(t *testing.T) {
	backend := newBackend(t, http.StatusOK, "hello world")
	client := gateway.NewClient(backend.srv.URL, time.Second, nil)

	contentStore := &fakeContentStore{records: map[string]*models.Content{
		"bafybare": {
			ID:      "c-2",
			OwnerID: "owner-1",
			Address: "bafybare",
		},
	}}
	h := NewContentHandler(contentStore, client, nil, nil, nil)

	rec := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/content/bafybare", nil)
	newContentRouter(h).ServeHTTP(rec, r)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "11", rec.Header().Get("Content-Length"))
}

func TestGetUnknownAddressSkipsBackend(t *testing.T) {
	backend := newBackend(t, http.StatusOK, "hello")
	client := gateway.NewClient(backend.srv.URL, time.Second, nil)
	h := NewContentHandler(seedRecord(), client, nil, nil, nil)

	rec := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/content/unknown", nil)
	newContentRouter(h).ServeHTTP(rec, r)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apierrors.CodeContentNotFound, decodeError(t, rec).Code)
	assert.Equal(t, 0, backend.hits, "metadata miss must not reach the backend")
}

func TestGetForeignAddressIsNotFoundForAuthenticatedCaller(t *testing.T) {
	backend := newBackend(t, http.StatusOK, "hello")
	client := gateway.NewClient(backend.srv.URL, time.Second, nil)
	h := NewContentHandler(seedRecord(), client, nil, nil, nil)

	rec := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/content/bafyabc", nil)
	r = r.WithContext(middleware.WithIdentity(r.Context(), auth.JWTIdentity{SubjectID: "other-owner"}))
	newContentRouter(h).ServeHTTP(rec, r)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apierrors.CodeContentNotFound, decodeError(t, rec).Code)
	assert.Equal(t, 0, backend.hits)
}

func TestGetSecretWithoutDownloadScopeIsForbidden(t *testing.T) {
	backend := newBackend(t, http.StatusOK, "hello")
	client := gateway.NewClient(backend.srv.URL, time.Second, nil)
	h := NewContentHandler(seedRecord(), client, nil, nil, nil)

	identity := auth.SecretIdentity{
		SubjectID: "owner-1",
		SecretID:  "sec-1",
		Scopes:    []string{models.ScopeUpload},
	}

	rec := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/content/bafyabc", nil)
	r = r.WithContext(middleware.WithIdentity(r.Context(), identity))
	newContentRouter(h).ServeHTTP(rec, r)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, apierrors.CodeForbidden, decodeError(t, rec).Code)
	assert.Equal(t, 0, backend.hits)
}

func TestGetRecordsUsageForSecretCaller(t *testing.T) {
	backend := newBackend(t, http.StatusOK, "hello world")
	client := gateway.NewClient(backend.srv.URL, time.Second, nil)

	usageStore := &countingUsageStore{}
	recorder := usage.NewRecorder(usageStore, nil, nil)
	h := NewContentHandler(seedRecord(), client, recorder, nil, nil)

	identity := auth.SecretIdentity{
		SubjectID: "owner-1",
		SecretID:  "sec-1",
		Scopes:    []string{models.ScopeDownload},
	}

	rec := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/content/bafyabc", nil)
	r = r.WithContext(middleware.WithIdentity(r.Context(), identity))
	newContentRouter(h).ServeHTTP(rec, r)

	assert.Equal(t, http.StatusOK, rec.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, recorder.Shutdown(ctx))

	require.Len(t, usageStore.adds, 1)
	assert.Equal(t, "sec-1", usageStore.adds[0].secretID)
	assert.Equal(t, int64(len("hello world")), usageStore.adds[0].bytes)
	assert.True(t, usageStore.adds[0].success)
}

func TestGetBackendFailureMapping(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		wantStatus int
		wantCode   string
	}{
		{"backend lost the object", http.StatusNotFound, http.StatusNotFound, apierrors.CodeContentNotFound},
		{"backend rejected gateway credentials", http.StatusUnauthorized, http.StatusInternalServerError, apierrors.CodeConfigurationError},
		{"backend error", http.StatusInternalServerError, http.StatusBadGateway, apierrors.CodeUpstreamUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newBackend(t, tt.status, "")
			client := gateway.NewClient(backend.srv.URL, time.Second, nil)
			h := NewContentHandler(seedRecord(), client, nil, nil, nil)

			rec := httptest.NewRecorder()
			r := httptest.NewRequest("GET", "/content/bafyabc", nil)
			newContentRouter(h).ServeHTTP(rec, r)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCode, decodeError(t, rec).Code)
		})
	}
}

func TestHeadServesMetadataWithoutBackend(t *testing.T) {
	backend := newBackend(t, http.StatusOK, "hello")
	client := gateway.NewClient(backend.srv.URL, time.Second, nil)
	h := NewContentHandler(seedRecord(), client, nil, nil, nil)

	rec := httptest.NewRecorder()
	r := httptest.NewRequest("HEAD", "/content/bafyabc", nil)
	newContentRouter(h).ServeHTTP(rec, r)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, "11", rec.Header().Get("Content-Length"))
	assert.Empty(t, rec.Body.String())
	assert.Equal(t, 0, backend.hits)
}
