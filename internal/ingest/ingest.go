// Package ingest admits artifacts into the scan pipeline. Admission owns the
// content-hash dedup guarantee: two artifacts with identical bytes always map
// to the same scan id and a single scans row.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/kiranshivaraju/jarhound/internal/blob"
	"github.com/kiranshivaraju/jarhound/internal/config"
	"github.com/kiranshivaraju/jarhound/internal/store"
	"github.com/kiranshivaraju/jarhound/pkg/models"
)

var (
	ErrEmptyFile       = errors.New("file is empty")
	ErrFileTooLarge    = errors.New("file exceeds the maximum allowed size")
	ErrDisallowedType  = errors.New("file type is not allowed")
	ErrFetchFailed     = errors.New("could not fetch artifact from URL")
	ErrInvalidURL      = errors.New("invalid artifact URL")
	ErrMissingFileName = errors.New("file name is required")
)

// Owner identifies who submitted an artifact. Both fields are optional.
type Owner struct {
	UserID    *string
	UserEmail *string
}

// Service validates, stores, and records submitted artifacts.
type Service struct {
	store  store.Store
	blobs  blob.Store
	cfg    config.IngestConfig
	client *http.Client
}

func NewService(st store.Store, blobs blob.Store, cfg config.IngestConfig) *Service {
	return &Service{
		store: st,
		blobs: blobs,
		cfg:   cfg,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// FromBytes admits a raw artifact. The scan id is the SHA-256 hex digest of
// the content, so resubmitting identical bytes returns the existing scan
// without touching it.
func (s *Service) FromBytes(ctx context.Context, fileName string, data []byte, owner Owner) (*models.Scan, error) {
	if fileName == "" {
		return nil, ErrMissingFileName
	}
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	if int64(len(data)) > s.cfg.MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrFileTooLarge, len(data), s.cfg.MaxFileSize)
	}
	if !s.extensionAllowed(fileName) {
		return nil, fmt.Errorf("%w: %s (allowed: %s)",
			ErrDisallowedType, filepath.Ext(fileName), strings.Join(s.cfg.AllowedExtensions, ", "))
	}

	sum := sha256.Sum256(data)
	scanID := hex.EncodeToString(sum[:])
	objectKey := blob.ObjectKey(scanID, fileName)

	// Upload before inserting so a claimed scan always has its bytes in
	// place. A concurrent duplicate admission writes the same content to the
	// same key, which is harmless.
	if _, err := s.blobs.Put(ctx, objectKey, data, "application/java-archive"); err != nil {
		return nil, fmt.Errorf("uploading artifact: %w", err)
	}

	scan := &models.Scan{
		ID:        scanID,
		FileName:  fileName,
		ObjectKey: objectKey,
		Status:    models.ScanStatusPending,
		Size:      int64(len(data)),
		UserID:    owner.UserID,
		UserEmail: owner.UserEmail,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	created, err := s.store.CreateScan(ctx, scan)
	if err != nil {
		return nil, fmt.Errorf("recording scan: %w", err)
	}
	if created {
		return scan, nil
	}

	existing, err := s.store.GetScan(ctx, scanID)
	if err != nil {
		return nil, fmt.Errorf("loading existing scan %s: %w", scanID, err)
	}
	return existing, nil
}

// FromURL fetches an artifact over HTTP and admits it as FromBytes does. The
// download is capped at the configured maximum size.
func (s *Service) FromURL(ctx context.Context, rawURL string, owner Owner) (*models.Scan, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("%w: %s", ErrInvalidURL, rawURL)
	}

	fileName := path.Base(u.Path)
	if fileName == "." || fileName == "/" || fileName == "" {
		return nil, fmt.Errorf("%w: no file name in path", ErrInvalidURL)
	}
	if !s.extensionAllowed(fileName) {
		return nil, fmt.Errorf("%w: %s (allowed: %s)",
			ErrDisallowedType, filepath.Ext(fileName), strings.Join(s.cfg.AllowedExtensions, ", "))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrFetchFailed, resp.StatusCode)
	}
	if resp.ContentLength > s.cfg.MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrFileTooLarge, resp.ContentLength, s.cfg.MaxFileSize)
	}

	// Read one byte past the cap so oversized bodies without a
	// Content-Length header are still rejected.
	data, err := io.ReadAll(io.LimitReader(resp.Body, s.cfg.MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	if int64(len(data)) > s.cfg.MaxFileSize {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", ErrFileTooLarge, s.cfg.MaxFileSize)
	}

	return s.FromBytes(ctx, fileName, data, owner)
}

func (s *Service) extensionAllowed(fileName string) bool {
	ext := strings.ToLower(filepath.Ext(fileName))
	for _, allowed := range s.cfg.AllowedExtensions {
		if ext == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}
