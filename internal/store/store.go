package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jarhound/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrStaleLease is returned when a result write presents a lease epoch that no
// longer matches the stored one, meaning the job was reclaimed by another
// worker after this caller's lease expired.
var ErrStaleLease = errors.New("lease epoch mismatch")

// Store is the data access interface. All database operations go through here.
//
// TryClaimPending, TryReclaimStale, CompleteScan and FailScan must be atomic
// under concurrent callers: multiple worker ticks, or multiple worker
// processes, may race on the same rows.
type Store interface {
	Ping(ctx context.Context) error

	// CreateScan inserts a scan keyed by its content hash. Inserting an id
	// that already exists is a no-op; created reports whether a row was
	// actually written.
	CreateScan(ctx context.Context, scan *models.Scan) (created bool, err error)
	GetScan(ctx context.Context, id string) (*models.Scan, error)
	ListScans(ctx context.Context, limit int) ([]*models.Scan, error)

	// TryClaimPending atomically moves one pending scan to processing under a
	// fresh lease and returns it, or returns (nil, nil) when nothing is pending.
	TryClaimPending(ctx context.Context) (*models.Scan, error)
	// TryReclaimStale renews the lease on one processing scan whose lease is
	// older than timeout. Status stays processing; the lease epoch increments
	// so the original worker's eventual write-back is rejected.
	TryReclaimStale(ctx context.Context, timeout time.Duration) (*models.Scan, error)
	// PickActiveForWork returns the processing scan with the most recent
	// lease (tie-break: most recently updated), or (nil, nil) when idle.
	PickActiveForWork(ctx context.Context) (*models.Scan, error)
	// CompleteScan marks a processing scan done with its normalized result and
	// score, provided the caller still holds the lease epoch it was claimed
	// under. Returns ErrStaleLease otherwise.
	CompleteScan(ctx context.Context, id string, epoch int64, result json.RawMessage, score int) error
	// FailScan marks a processing scan as errored, under the same epoch guard.
	FailScan(ctx context.Context, id string, epoch int64, detail string) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error
}
