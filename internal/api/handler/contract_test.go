package handler_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jarhound/internal/api"
	"github.com/kiranshivaraju/jarhound/internal/api/handler"
	mw "github.com/kiranshivaraju/jarhound/internal/api/middleware"
	"github.com/kiranshivaraju/jarhound/internal/cache"
	"github.com/kiranshivaraju/jarhound/internal/config"
	"github.com/kiranshivaraju/jarhound/internal/ingest"
	"github.com/kiranshivaraju/jarhound/internal/store"
	"github.com/kiranshivaraju/jarhound/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// ─── test fixtures ───────────────────────────────────────────────────────────

var (
	adminRawKey = "jh_admin_contract_key_1234567890"
	adminPrefix = adminRawKey[:8]
	basicRawKey = "jh_basic_contract_key_0987654321"
	basicPrefix = basicRawKey[:8]
)

func keyHash(t *testing.T, raw string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

// ─── mock store ──────────────────────────────────────────────────────────────

type mockStore struct {
	keys   []*models.APIKey
	scans  []*models.Scan
	active *models.Scan
}

func (s *mockStore) Ping(_ context.Context) error { return nil }

func (s *mockStore) CreateScan(_ context.Context, scan *models.Scan) (bool, error) {
	for _, existing := range s.scans {
		if existing.ID == scan.ID {
			return false, nil
		}
	}
	stored := *scan
	s.scans = append(s.scans, &stored)
	return true, nil
}

func (s *mockStore) GetScan(_ context.Context, id string) (*models.Scan, error) {
	for _, scan := range s.scans {
		if scan.ID == id {
			return scan, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *mockStore) ListScans(_ context.Context, limit int) ([]*models.Scan, error) {
	if len(s.scans) > limit {
		return s.scans[:limit], nil
	}
	return s.scans, nil
}

func (s *mockStore) TryClaimPending(_ context.Context) (*models.Scan, error) { return nil, nil }
func (s *mockStore) TryReclaimStale(_ context.Context, _ time.Duration) (*models.Scan, error) {
	return nil, nil
}
func (s *mockStore) PickActiveForWork(_ context.Context) (*models.Scan, error) {
	return s.active, nil
}
func (s *mockStore) CompleteScan(_ context.Context, _ string, _ int64, _ json.RawMessage, _ int) error {
	return nil
}
func (s *mockStore) FailScan(_ context.Context, _ string, _ int64, _ string) error { return nil }

func (s *mockStore) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	var out []*models.APIKey
	for _, k := range s.keys {
		if k.KeyPrefix == prefix && k.DeletedAt == nil {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *mockStore) UpdateAPIKeyLastUsed(_ context.Context, _ uuid.UUID) error { return nil }

func (s *mockStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	s.keys = append(s.keys, key)
	return nil
}

func (s *mockStore) ListAPIKeys(_ context.Context) ([]*models.APIKey, error) {
	var out []*models.APIKey
	for _, k := range s.keys {
		if k.DeletedAt == nil {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *mockStore) RevokeAPIKey(_ context.Context, id uuid.UUID) error {
	for _, k := range s.keys {
		if k.ID == id && k.DeletedAt == nil {
			now := time.Now()
			k.DeletedAt = &now
			return nil
		}
	}
	return store.ErrNotFound
}

var _ store.Store = (*mockStore)(nil)

// ─── mock cache ──────────────────────────────────────────────────────────────

type mockCache struct {
	counters map[string]int64
	statuses map[string]string
	values   map[string][]byte
}

func newMockCache() *mockCache {
	return &mockCache{
		counters: make(map[string]int64),
		statuses: make(map[string]string),
		values:   make(map[string][]byte),
	}
}

func (c *mockCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.values[key] = value
	return nil
}

func (c *mockCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	value, ok := c.values[key]
	return value, ok, nil
}

func (c *mockCache) Delete(_ context.Context, key string) error {
	delete(c.values, key)
	return nil
}
func (c *mockCache) Ping(_ context.Context) error                                     { return nil }
func (c *mockCache) SetScanStatus(_ context.Context, scanID, status string, _ time.Duration) error {
	c.statuses[scanID] = status
	return nil
}
func (c *mockCache) GetScanStatus(_ context.Context, scanID string) (string, bool, error) {
	status, ok := c.statuses[scanID]
	return status, ok, nil
}
func (c *mockCache) IncrWithExpiry(_ context.Context, key string, _ time.Duration) (int64, error) {
	c.counters[key]++
	return c.counters[key], nil
}

var _ cache.Cache = (*mockCache)(nil)

// ─── mock blob store ─────────────────────────────────────────────────────────

type mockBlobs struct {
	objects map[string][]byte
}

func (b *mockBlobs) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	b.objects[key] = data
	return key, nil
}

func (b *mockBlobs) Get(_ context.Context, key string) ([]byte, error) {
	data, ok := b.objects[key]
	if !ok {
		return nil, errors.New("object not found")
	}
	return data, nil
}

func (b *mockBlobs) Ping(_ context.Context) error { return nil }

// ─── test harness ────────────────────────────────────────────────────────────

type testServer struct {
	server *httptest.Server
	store  *mockStore
	cache  *mockCache
	blobs  *mockBlobs
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	ms := &mockStore{
		keys: []*models.APIKey{
			{
				ID:        uuid.New(),
				Name:      "admin-key",
				KeyHash:   keyHash(t, adminRawKey),
				KeyPrefix: adminPrefix,
				Scopes:    []string{"scan", "admin"},
			},
			{
				ID:        uuid.New(),
				Name:      "basic-key",
				KeyHash:   keyHash(t, basicRawKey),
				KeyPrefix: basicPrefix,
				Scopes:    []string{"scan"},
			},
		},
	}
	mc := newMockCache()
	mb := &mockBlobs{objects: make(map[string][]byte)}

	ingestSvc := ingest.NewService(ms, mb, config.IngestConfig{
		MaxFileSize:       1024,
		AllowedExtensions: []string{".jar"},
	})

	deps := api.Dependencies{
		Auth:      mw.NewAuth(ms),
		RateLimit: mw.NewRateLimit(mc, 10), // low limit for rate-limit tests

		HealthHandler:     handler.NewHealthHandler(ms, mc, mb),
		UploadScanHandler: handler.NewUploadScanHandler(ingestSvc),
		ScanFromURL:       handler.NewScanFromURLHandler(ingestSvc),
		GetScanHandler:    handler.NewGetScanHandler(ms, mc),
		ListScansHandler:  handler.NewListScansHandler(ms),
		ActiveScanHandler: handler.NewActiveScanHandler(ms),
		CreateKeyHandler:  handler.NewCreateKeyHandler(ms),
		ListKeysHandler:   handler.NewListKeysHandler(ms),
		RevokeKeyHandler:  handler.NewRevokeKeyHandler(ms),
	}

	srv := httptest.NewServer(api.NewRouter(deps))
	t.Cleanup(srv.Close)

	return &testServer{server: srv, store: ms, cache: mc, blobs: mb}
}

func (ts *testServer) jsonRequest(t *testing.T, method, path, rawKey string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+rawKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (ts *testServer) uploadRequest(t *testing.T, rawKey, fileName string, content []byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, form.Close())

	req, err := http.NewRequest("POST", ts.server.URL+"/api/v1/scans", &buf)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+rawKey)
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func parseBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ─── upload ──────────────────────────────────────────────────────────────────

func TestUploadScan(t *testing.T) {
	ts := newTestServer(t)
	content := []byte("jar content for upload")

	resp := ts.uploadRequest(t, basicRawKey, "app.jar", content)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	data := parseBody(t, resp)["data"].(map[string]any)
	assert.Equal(t, contentHash(content), data["scan_id"])
	assert.Equal(t, "app.jar", data["file_name"])
	assert.Equal(t, models.ScanStatusPending, data["status"])

	require.Len(t, ts.store.scans, 1)
	assert.Len(t, ts.blobs.objects, 1)
}

func TestUploadScan_DuplicateContent(t *testing.T) {
	ts := newTestServer(t)
	content := []byte("same bytes both times")

	first := ts.uploadRequest(t, basicRawKey, "one.jar", content)
	require.Equal(t, http.StatusAccepted, first.StatusCode)

	second := ts.uploadRequest(t, basicRawKey, "two.jar", content)
	require.Equal(t, http.StatusAccepted, second.StatusCode)

	data := parseBody(t, second)["data"].(map[string]any)
	assert.Equal(t, contentHash(content), data["scan_id"])
	assert.Equal(t, "one.jar", data["file_name"], "dedup must return the original record")
	assert.Len(t, ts.store.scans, 1)
}

func TestUploadScan_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		fileName   string
		content    []byte
		wantStatus int
		wantCode   string
	}{
		{"wrong extension", "tool.exe", []byte("x"), http.StatusUnsupportedMediaType, "UNSUPPORTED_TYPE"},
		{"oversized", "big.jar", make([]byte, 2048), http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE"},
		{"empty file", "empty.jar", nil, http.StatusBadRequest, "INVALID_REQUEST"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			resp := ts.uploadRequest(t, basicRawKey, tt.fileName, tt.content)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			errObj := parseBody(t, resp)["error"].(map[string]any)
			assert.Equal(t, tt.wantCode, errObj["code"])
		})
	}
}

func TestUploadScan_MissingFileField(t *testing.T) {
	ts := newTestServer(t)

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	require.NoError(t, form.WriteField("note", "no file here"))
	require.NoError(t, form.Close())

	req, err := http.NewRequest("POST", ts.server.URL+"/api/v1/scans", &buf)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+basicRawKey)
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// ─── fetch by URL ────────────────────────────────────────────────────────────

func TestScanFromURL(t *testing.T) {
	content := []byte("remote artifact bytes")
	artifact := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write(content)
	}))
	defer artifact.Close()

	ts := newTestServer(t)
	resp := ts.jsonRequest(t, "POST", "/api/v1/scans/url", basicRawKey,
		map[string]string{"url": artifact.URL + "/lib/remote.jar"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	data := parseBody(t, resp)["data"].(map[string]any)
	assert.Equal(t, contentHash(content), data["scan_id"])
	assert.Equal(t, "remote.jar", data["file_name"])
}

func TestScanFromURL_MissingURL(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.jsonRequest(t, "POST", "/api/v1/scans/url", basicRawKey, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestScanFromURL_BadScheme(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.jsonRequest(t, "POST", "/api/v1/scans/url", basicRawKey,
		map[string]string{"url": "ftp://example.com/app.jar"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// ─── get / list ──────────────────────────────────────────────────────────────

func TestGetScan(t *testing.T) {
	ts := newTestServer(t)
	content := []byte("look me up")
	ts.uploadRequest(t, basicRawKey, "app.jar", content)

	resp := ts.jsonRequest(t, "GET", "/api/v1/scans/"+contentHash(content), basicRawKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data := parseBody(t, resp)["data"].(map[string]any)
	assert.Equal(t, contentHash(content), data["scan_id"])
}

func TestGetScan_CachedStatusFastPath(t *testing.T) {
	ts := newTestServer(t)
	scanID := contentHash([]byte("still running"))
	ts.cache.statuses[scanID] = models.ScanStatusProcessing

	// No store record needed: the cache answers for in-flight scans.
	resp := ts.jsonRequest(t, "GET", "/api/v1/scans/"+scanID, basicRawKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data := parseBody(t, resp)["data"].(map[string]any)
	assert.Equal(t, models.ScanStatusProcessing, data["status"])
	assert.Equal(t, scanID, data["scan_id"])
}

func TestGetScan_TerminalResultCached(t *testing.T) {
	ts := newTestServer(t)
	scanID := contentHash([]byte("finished artifact"))
	score := 42
	ts.store.scans = append(ts.store.scans, &models.Scan{
		ID:       scanID,
		FileName: "done.jar",
		Status:   models.ScanStatusDone,
		Score:    &score,
	})

	first := ts.jsonRequest(t, "GET", "/api/v1/scans/"+scanID, basicRawKey, nil)
	require.Equal(t, http.StatusOK, first.StatusCode)
	_, cached := ts.cache.values[cache.ScanResultKey(scanID)]
	require.True(t, cached, "terminal scan payload not cached")

	// Subsequent lookups are served from the cache without the store.
	ts.store.scans = nil
	second := ts.jsonRequest(t, "GET", "/api/v1/scans/"+scanID, basicRawKey, nil)
	require.Equal(t, http.StatusOK, second.StatusCode)

	data := parseBody(t, second)["data"].(map[string]any)
	assert.Equal(t, "done.jar", data["file_name"])
	assert.Equal(t, float64(42), data["score"])
}

func TestGetScan_NotFound(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.jsonRequest(t, "GET", "/api/v1/scans/"+contentHash([]byte("missing")), basicRawKey, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetScan_InvalidID(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.jsonRequest(t, "GET", "/api/v1/scans/not-a-digest", basicRawKey, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListScans(t *testing.T) {
	ts := newTestServer(t)
	ts.uploadRequest(t, basicRawKey, "a.jar", []byte("artifact a"))
	ts.uploadRequest(t, basicRawKey, "b.jar", []byte("artifact b"))

	resp := ts.jsonRequest(t, "GET", "/api/v1/scans", basicRawKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := parseBody(t, resp)
	assert.Len(t, body["data"], 2)
	meta := body["meta"].(map[string]any)
	assert.Equal(t, float64(2), meta["count"])
}

func TestListScans_InvalidLimit(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.jsonRequest(t, "GET", "/api/v1/scans?limit=zero", basicRawKey, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// ─── admin ───────────────────────────────────────────────────────────────────

func TestActiveScan_AdminOnly(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.jsonRequest(t, "GET", "/api/v1/admin/active-scan", basicRawKey, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestActiveScan(t *testing.T) {
	ts := newTestServer(t)
	ts.store.active = &models.Scan{
		ID:       contentHash([]byte("being scanned")),
		FileName: "busy.jar",
		Status:   models.ScanStatusProcessing,
	}

	resp := ts.jsonRequest(t, "GET", "/api/v1/admin/active-scan", adminRawKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data := parseBody(t, resp)["data"].(map[string]any)
	assert.Equal(t, "busy.jar", data["file_name"])
}

func TestActiveScan_Idle(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.jsonRequest(t, "GET", "/api/v1/admin/active-scan", adminRawKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, parseBody(t, resp)["data"])
}

func TestCreateKey(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.jsonRequest(t, "POST", "/api/v1/admin/keys", adminRawKey,
		map[string]any{"name": "ci-pipeline", "scopes": []string{"scan"}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	data := parseBody(t, resp)["data"].(map[string]any)
	rawKey := data["key"].(string)
	assert.True(t, len(rawKey) > 8)
	assert.Equal(t, "jh_", rawKey[:3])
	assert.Equal(t, rawKey[:8], data["key_prefix"])
	assert.Equal(t, "ci-pipeline", data["name"])

	// The insert writes timestamps verbatim, so the handler must stamp them.
	stored := ts.store.keys[len(ts.store.keys)-1]
	assert.False(t, stored.CreatedAt.IsZero(), "CreatedAt not set on key creation")
	assert.False(t, stored.UpdatedAt.IsZero(), "UpdatedAt not set on key creation")

	// The new key authenticates.
	check := ts.jsonRequest(t, "GET", "/api/v1/scans", rawKey, nil)
	assert.Equal(t, http.StatusOK, check.StatusCode)
}

func TestCreateKey_MissingName(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.jsonRequest(t, "POST", "/api/v1/admin/keys", adminRawKey, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListKeys(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.jsonRequest(t, "GET", "/api/v1/admin/keys", adminRawKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, parseBody(t, resp)["data"], 2)
}

func TestRevokeKey(t *testing.T) {
	ts := newTestServer(t)
	keyID := ts.store.keys[1].ID

	resp := ts.jsonRequest(t, "DELETE", "/api/v1/admin/keys/"+keyID.String(), adminRawKey, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// The revoked key no longer authenticates.
	check := ts.jsonRequest(t, "GET", "/api/v1/scans", basicRawKey, nil)
	assert.Equal(t, http.StatusUnauthorized, check.StatusCode)
}

func TestRevokeKey_NotFound(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.jsonRequest(t, "DELETE", "/api/v1/admin/keys/"+uuid.NewString(), adminRawKey, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRevokeKey_InvalidID(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.jsonRequest(t, "DELETE", "/api/v1/admin/keys/not-a-uuid", adminRawKey, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// ─── health and rate limiting ────────────────────────────────────────────────

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.server.URL + "/api/v1/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := parseBody(t, resp)["data"].(map[string]any)
	assert.Equal(t, "ok", data["status"])
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t)

	var last *http.Response
	for i := 0; i < 11; i++ {
		last = ts.jsonRequest(t, "GET", "/api/v1/scans", basicRawKey, nil)
	}
	assert.Equal(t, http.StatusTooManyRequests, last.StatusCode)
	assert.Equal(t, "60", last.Header.Get("Retry-After"))

	// The admin key has its own budget.
	other := ts.jsonRequest(t, "GET", "/api/v1/scans", adminRawKey, nil)
	assert.Equal(t, http.StatusOK, other.StatusCode)
}
