package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/jarhound/internal/config"
	"github.com/kiranshivaraju/jarhound/internal/store"
	"github.com/kiranshivaraju/jarhound/pkg/models"
)

// --- Mock Store ---

type mockStore struct {
	scans     map[string]*models.Scan
	createErr error
}

func newMockStore() *mockStore {
	return &mockStore{scans: map[string]*models.Scan{}}
}

func (m *mockStore) Ping(_ context.Context) error { return nil }

func (m *mockStore) CreateScan(_ context.Context, scan *models.Scan) (bool, error) {
	if m.createErr != nil {
		return false, m.createErr
	}
	if _, ok := m.scans[scan.ID]; ok {
		return false, nil
	}
	stored := *scan
	m.scans[scan.ID] = &stored
	return true, nil
}

func (m *mockStore) GetScan(_ context.Context, id string) (*models.Scan, error) {
	scan, ok := m.scans[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return scan, nil
}

func (m *mockStore) ListScans(_ context.Context, _ int) ([]*models.Scan, error) { return nil, nil }
func (m *mockStore) TryClaimPending(_ context.Context) (*models.Scan, error)    { return nil, nil }
func (m *mockStore) TryReclaimStale(_ context.Context, _ time.Duration) (*models.Scan, error) {
	return nil, nil
}
func (m *mockStore) PickActiveForWork(_ context.Context) (*models.Scan, error) { return nil, nil }
func (m *mockStore) CompleteScan(_ context.Context, _ string, _ int64, _ json.RawMessage, _ int) error {
	return nil
}
func (m *mockStore) FailScan(_ context.Context, _ string, _ int64, _ string) error { return nil }
func (m *mockStore) GetAPIKeyByPrefix(_ context.Context, _ string) ([]*models.APIKey, error) {
	return nil, nil
}
func (m *mockStore) UpdateAPIKeyLastUsed(_ context.Context, _ uuid.UUID) error { return nil }
func (m *mockStore) CreateAPIKey(_ context.Context, _ *models.APIKey) error    { return nil }
func (m *mockStore) ListAPIKeys(_ context.Context) ([]*models.APIKey, error)   { return nil, nil }
func (m *mockStore) RevokeAPIKey(_ context.Context, _ uuid.UUID) error         { return nil }

// --- Mock Blob Store ---

type mockBlobs struct {
	objects map[string][]byte
	putErr  error
}

func newMockBlobs() *mockBlobs {
	return &mockBlobs{objects: map[string][]byte{}}
}

func (m *mockBlobs) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	if m.putErr != nil {
		return "", m.putErr
	}
	m.objects[key] = data
	return key, nil
}

func (m *mockBlobs) Get(_ context.Context, key string) ([]byte, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, errors.New("object not found")
	}
	return data, nil
}

func (m *mockBlobs) Ping(_ context.Context) error { return nil }

// --- helpers ---

func testConfig() config.IngestConfig {
	return config.IngestConfig{
		MaxFileSize:       1024,
		AllowedExtensions: []string{".jar"},
	}
}

func newTestService(st *mockStore, blobs *mockBlobs) *Service {
	return NewService(st, blobs, testConfig())
}

func hashOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ========================================
// FromBytes
// ========================================

func TestFromBytes_CreatesScan(t *testing.T) {
	st := newMockStore()
	blobs := newMockBlobs()
	svc := newTestService(st, blobs)

	data := []byte("jar bytes")
	scan, err := svc.FromBytes(context.Background(), "app.jar", data, Owner{})
	require.NoError(t, err)

	assert.Equal(t, hashOf(data), scan.ID)
	assert.Equal(t, "app.jar", scan.FileName)
	assert.Equal(t, models.ScanStatusPending, scan.Status)
	assert.Equal(t, int64(len(data)), scan.Size)
	assert.Equal(t, "uploads/"+scan.ID+"/app.jar", scan.ObjectKey)

	// The insert writes timestamps verbatim, so admission must stamp them.
	assert.False(t, scan.CreatedAt.IsZero(), "CreatedAt not set on admission")
	assert.False(t, scan.UpdatedAt.IsZero(), "UpdatedAt not set on admission")

	stored, ok := blobs.objects[scan.ObjectKey]
	require.True(t, ok, "artifact bytes not uploaded")
	assert.Equal(t, data, stored)
}

func TestFromBytes_DedupReturnsExisting(t *testing.T) {
	st := newMockStore()
	svc := newTestService(st, newMockBlobs())
	ctx := context.Background()
	data := []byte("identical content")

	first, err := svc.FromBytes(ctx, "first.jar", data, Owner{})
	require.NoError(t, err)

	// Same bytes under a different name map to the same scan.
	second, err := svc.FromBytes(ctx, "second.jar", data, Owner{})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "first.jar", second.FileName, "existing record must be returned unchanged")
	assert.Len(t, st.scans, 1)
}

func TestFromBytes_RecordsOwner(t *testing.T) {
	svc := newTestService(newMockStore(), newMockBlobs())
	userID := "user-1"
	email := "dev@example.com"

	scan, err := svc.FromBytes(context.Background(), "app.jar", []byte("x"), Owner{
		UserID:    &userID,
		UserEmail: &email,
	})
	require.NoError(t, err)

	require.NotNil(t, scan.UserID)
	assert.Equal(t, "user-1", *scan.UserID)
	require.NotNil(t, scan.UserEmail)
	assert.Equal(t, "dev@example.com", *scan.UserEmail)
}

func TestFromBytes_Validation(t *testing.T) {
	tests := []struct {
		name     string
		fileName string
		data     []byte
		wantErr  error
	}{
		{"empty file", "app.jar", nil, ErrEmptyFile},
		{"missing name", "", []byte("x"), ErrMissingFileName},
		{"oversized", "app.jar", make([]byte, 2048), ErrFileTooLarge},
		{"wrong extension", "app.exe", []byte("x"), ErrDisallowedType},
		{"no extension", "Makefile", []byte("x"), ErrDisallowedType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(newMockStore(), newMockBlobs())
			_, err := svc.FromBytes(context.Background(), tt.fileName, tt.data, Owner{})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestFromBytes_ExtensionCaseInsensitive(t *testing.T) {
	svc := newTestService(newMockStore(), newMockBlobs())

	_, err := svc.FromBytes(context.Background(), "APP.JAR", []byte("x"), Owner{})
	assert.NoError(t, err)
}

func TestFromBytes_BlobErrorAbortsAdmission(t *testing.T) {
	st := newMockStore()
	blobs := newMockBlobs()
	blobs.putErr = errors.New("bucket unavailable")
	svc := newTestService(st, blobs)

	_, err := svc.FromBytes(context.Background(), "app.jar", []byte("x"), Owner{})
	require.Error(t, err)
	assert.Empty(t, st.scans, "scan must not be recorded when upload fails")
}

func TestFromBytes_StoreError(t *testing.T) {
	st := newMockStore()
	st.createErr = errors.New("db down")
	svc := newTestService(st, newMockBlobs())

	_, err := svc.FromBytes(context.Background(), "app.jar", []byte("x"), Owner{})
	assert.Error(t, err)
}

// ========================================
// FromURL
// ========================================

func artifactServer(t *testing.T, status int, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFromURL_FetchesAndAdmits(t *testing.T) {
	data := []byte("remote jar bytes")
	srv := artifactServer(t, http.StatusOK, data)

	st := newMockStore()
	svc := newTestService(st, newMockBlobs())

	scan, err := svc.FromURL(context.Background(), srv.URL+"/libs/app.jar", Owner{})
	require.NoError(t, err)

	assert.Equal(t, hashOf(data), scan.ID)
	assert.Equal(t, "app.jar", scan.FileName)
	assert.Len(t, st.scans, 1)
}

func TestFromURL_RejectsBadScheme(t *testing.T) {
	svc := newTestService(newMockStore(), newMockBlobs())

	_, err := svc.FromURL(context.Background(), "ftp://example.com/app.jar", Owner{})
	assert.ErrorIs(t, err, ErrInvalidURL)
}

func TestFromURL_RejectsDisallowedExtensionBeforeFetch(t *testing.T) {
	svc := newTestService(newMockStore(), newMockBlobs())

	// No server behind this URL: validation must fail before any fetch.
	_, err := svc.FromURL(context.Background(), "http://127.0.0.1:1/payload.exe", Owner{})
	assert.ErrorIs(t, err, ErrDisallowedType)
}

func TestFromURL_UpstreamError(t *testing.T) {
	srv := artifactServer(t, http.StatusNotFound, nil)
	svc := newTestService(newMockStore(), newMockBlobs())

	_, err := svc.FromURL(context.Background(), srv.URL+"/app.jar", Owner{})
	assert.ErrorIs(t, err, ErrFetchFailed)
}

func TestFromURL_OversizedBody(t *testing.T) {
	srv := artifactServer(t, http.StatusOK, make([]byte, 2048))
	svc := newTestService(newMockStore(), newMockBlobs())

	_, err := svc.FromURL(context.Background(), srv.URL+"/big.jar", Owner{})
	assert.ErrorIs(t, err, ErrFileTooLarge)
}

func TestFromURL_NoFileNameInPath(t *testing.T) {
	svc := newTestService(newMockStore(), newMockBlobs())

	_, err := svc.FromURL(context.Background(), "http://example.com/", Owner{})
	assert.ErrorIs(t, err, ErrInvalidURL)
}
