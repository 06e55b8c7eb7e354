// Package handler contains the HTTP handlers for the JarHound API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kiranshivaraju/jarhound/internal/api/response"
	"github.com/kiranshivaraju/jarhound/internal/cache"
	"github.com/kiranshivaraju/jarhound/internal/ingest"
	"github.com/kiranshivaraju/jarhound/internal/store"
	"github.com/kiranshivaraju/jarhound/pkg/models"
)

const (
	maxMultipartMemory = 32 << 20
	defaultListLimit   = 50
	maxListLimit       = 200
	scanIDLen          = 64
	resultCacheTTL     = 10 * time.Minute
)

// Ingestor admits artifacts into the scan pipeline.
type Ingestor interface {
	FromBytes(ctx context.Context, fileName string, data []byte, owner ingest.Owner) (*models.Scan, error)
	FromURL(ctx context.Context, rawURL string, owner ingest.Owner) (*models.Scan, error)
}

// ScanStore is the read side the scan handlers depend on.
type ScanStore interface {
	GetScan(ctx context.Context, id string) (*models.Scan, error)
	ListScans(ctx context.Context, limit int) ([]*models.Scan, error)
	PickActiveForWork(ctx context.Context) (*models.Scan, error)
}

// StatusCache serves scan lookups without hitting the database: short-lived
// status entries for in-flight scans and cached payloads for terminal ones.
type StatusCache interface {
	GetScanStatus(ctx context.Context, scanID string) (string, bool, error)
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// NewUploadScanHandler returns an http.HandlerFunc for POST /api/v1/scans.
// The artifact arrives as a multipart form under the "file" field.
func NewUploadScanHandler(svc Ingestor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
			response.Error(w, http.StatusBadRequest,
				"INVALID_REQUEST", "Expected a multipart form upload", nil)
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			response.Error(w, http.StatusBadRequest,
				"INVALID_REQUEST", "file field is required", nil)
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			response.Error(w, http.StatusBadRequest,
				"INVALID_REQUEST", "Could not read uploaded file", nil)
			return
		}

		scan, err := svc.FromBytes(r.Context(), header.Filename, data, ownerFromForm(r))
		if err != nil {
			admissionError(w, err)
			return
		}

		response.Accepted(w, scan)
	}
}

// NewScanFromURLHandler returns an http.HandlerFunc for POST /api/v1/scans/url.
func NewScanFromURLHandler(svc Ingestor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			URL       string  `json:"url"`
			UserID    *string `json:"user_id"`
			UserEmail *string `json:"user_email"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest,
				"INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.URL == "" {
			response.Error(w, http.StatusBadRequest,
				"INVALID_REQUEST", "url is required", nil)
			return
		}

		scan, err := svc.FromURL(r.Context(), req.URL, ingest.Owner{
			UserID:    req.UserID,
			UserEmail: req.UserEmail,
		})
		if err != nil {
			admissionError(w, err)
			return
		}

		response.Accepted(w, scan)
	}
}

// NewGetScanHandler returns an http.HandlerFunc for GET /api/v1/scans/{scanID}.
// In-flight scans are answered from the status cache when possible; terminal
// scans are served from the result cache once populated, falling back to the
// store.
func NewGetScanHandler(st ScanStore, ca StatusCache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scanID := chi.URLParam(r, "scanID")
		if !validScanID(scanID) {
			response.Error(w, http.StatusBadRequest,
				"INVALID_REQUEST", "scanID must be a 64-character hex digest", nil)
			return
		}

		if ca != nil {
			status, found, err := ca.GetScanStatus(r.Context(), scanID)
			if err == nil && found &&
				(status == models.ScanStatusPending || status == models.ScanStatusProcessing) {
				response.JSON(w, map[string]string{
					"scan_id": scanID,
					"status":  status,
				})
				return
			}

			// Terminal scans never change, so a cached payload is as good
			// as the row.
			if data, found, err := ca.Get(r.Context(), cache.ScanResultKey(scanID)); err == nil && found {
				response.JSON(w, json.RawMessage(data))
				return
			}
		}

		scan, err := st.GetScan(r.Context(), scanID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound,
					"NOT_FOUND", "Scan not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to load scan", nil)
			return
		}

		if ca != nil &&
			(scan.Status == models.ScanStatusDone || scan.Status == models.ScanStatusError) {
			if data, err := json.Marshal(scan); err == nil {
				_ = ca.Set(r.Context(), cache.ScanResultKey(scan.ID), data, resultCacheTTL)
			}
		}

		response.JSON(w, scan)
	}
}

// NewListScansHandler returns an http.HandlerFunc for GET /api/v1/scans.
func NewListScansHandler(st ScanStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultListLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				response.Error(w, http.StatusBadRequest,
					"INVALID_REQUEST", "limit must be a positive integer", nil)
				return
			}
			limit = n
		}
		if limit > maxListLimit {
			limit = maxListLimit
		}

		scans, err := st.ListScans(r.Context(), limit)
		if err != nil {
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to list scans", nil)
			return
		}
		if scans == nil {
			scans = []*models.Scan{}
		}

		response.Collection(w, scans, response.CollectionMeta{
			Count: len(scans),
			Limit: limit,
		})
	}
}

// NewActiveScanHandler returns an http.HandlerFunc for
// GET /api/v1/admin/active-scan: the processing scan holding the most recent
// lease, or null when the workers are idle.
func NewActiveScanHandler(st ScanStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scan, err := st.PickActiveForWork(r.Context())
		if err != nil {
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to query active scan", nil)
			return
		}
		response.JSON(w, scan)
	}
}

func ownerFromForm(r *http.Request) ingest.Owner {
	var owner ingest.Owner
	if v := r.FormValue("user_id"); v != "" {
		owner.UserID = &v
	}
	if v := r.FormValue("user_email"); v != "" {
		owner.UserEmail = &v
	}
	return owner
}

func validScanID(id string) bool {
	if len(id) != scanIDLen {
		return false
	}
	for _, c := range id {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// admissionError maps ingest failures onto HTTP statuses.
func admissionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ingest.ErrFileTooLarge):
		response.Error(w, http.StatusRequestEntityTooLarge,
			"FILE_TOO_LARGE", err.Error(), nil)
	case errors.Is(err, ingest.ErrDisallowedType):
		response.Error(w, http.StatusUnsupportedMediaType,
			"UNSUPPORTED_TYPE", err.Error(), nil)
	case errors.Is(err, ingest.ErrEmptyFile),
		errors.Is(err, ingest.ErrMissingFileName),
		errors.Is(err, ingest.ErrInvalidURL):
		response.Error(w, http.StatusBadRequest,
			"INVALID_REQUEST", err.Error(), nil)
	case errors.Is(err, ingest.ErrFetchFailed):
		response.Error(w, http.StatusBadGateway,
			"FETCH_FAILED", err.Error(), nil)
	default:
		response.Error(w, http.StatusInternalServerError,
			"INTERNAL_ERROR", "Failed to admit artifact", nil)
	}
}
