package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/jarhound/pkg/models"
)

const scanColumns = `id, file_name, object_key, status, size, user_id, user_email,
	 result, score, lease_at, lease_epoch, created_at, updated_at`

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Scans ---

func (s *PostgresStore) CreateScan(ctx context.Context, scan *models.Scan) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO scans (id, file_name, object_key, status, size, user_id, user_email, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO NOTHING`,
		scan.ID, scan.FileName, scan.ObjectKey, scan.Status, scan.Size,
		scan.UserID, scan.UserEmail, scan.CreatedAt, scan.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("create scan: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) GetScan(ctx context.Context, id string) (*models.Scan, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+scanColumns+` FROM scans WHERE id = $1`, id)
	scan, err := scanScanRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get scan: %w", err)
	}
	return scan, nil
}

func (s *PostgresStore) ListScans(ctx context.Context, limit int) ([]*models.Scan, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+scanColumns+` FROM scans ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list scans: %w", err)
	}
	defer rows.Close()

	var scans []*models.Scan
	for rows.Next() {
		scan, err := scanScanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		scans = append(scans, scan)
	}
	return scans, rows.Err()
}

// TryClaimPending is a single atomic read-modify-write: the inner SELECT takes
// a row lock (SKIP LOCKED), so two concurrent callers can never claim the same
// pending scan.
func (s *PostgresStore) TryClaimPending(ctx context.Context) (*models.Scan, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE scans SET status = $1, lease_at = NOW(), lease_epoch = lease_epoch + 1, updated_at = NOW()
		 WHERE id = (
		   SELECT id FROM scans WHERE status = $2
		   ORDER BY created_at LIMIT 1
		   FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+scanColumns,
		models.ScanStatusProcessing, models.ScanStatusPending)
	scan, err := scanScanRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim pending scan: %w", err)
	}
	return scan, nil
}

// TryReclaimStale renews the lease on a processing scan whose worker has gone
// quiet. This is lease renewal, not failure: the scan is handed out again
// under a fresh lease and epoch rather than being marked errored.
func (s *PostgresStore) TryReclaimStale(ctx context.Context, timeout time.Duration) (*models.Scan, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE scans SET lease_at = NOW(), lease_epoch = lease_epoch + 1, updated_at = NOW()
		 WHERE id = (
		   SELECT id FROM scans
		   WHERE status = $1 AND lease_at < NOW() - $2::interval
		   ORDER BY lease_at LIMIT 1
		   FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+scanColumns,
		models.ScanStatusProcessing, timeout.String())
	scan, err := scanScanRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reclaim stale scan: %w", err)
	}
	return scan, nil
}

func (s *PostgresStore) PickActiveForWork(ctx context.Context) (*models.Scan, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+scanColumns+` FROM scans WHERE status = $1
		 ORDER BY lease_at DESC, updated_at DESC LIMIT 1`,
		models.ScanStatusProcessing)
	scan, err := scanScanRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pick active scan: %w", err)
	}
	return scan, nil
}

func (s *PostgresStore) CompleteScan(ctx context.Context, id string, epoch int64, result json.RawMessage, score int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scans SET status = $1, result = $2, score = $3, lease_at = NULL, updated_at = NOW()
		 WHERE id = $4 AND status = $5 AND lease_epoch = $6`,
		models.ScanStatusDone, result, score, id, models.ScanStatusProcessing, epoch)
	if err != nil {
		return fmt.Errorf("complete scan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.classifyLeaseConflict(ctx, id)
	}
	return nil
}

func (s *PostgresStore) FailScan(ctx context.Context, id string, epoch int64, detail string) error {
	result, err := json.Marshal(map[string]string{"error": detail})
	if err != nil {
		return fmt.Errorf("marshal error detail: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE scans SET status = $1, result = $2, score = NULL, lease_at = NULL, updated_at = NOW()
		 WHERE id = $3 AND status = $4 AND lease_epoch = $5`,
		models.ScanStatusError, result, id, models.ScanStatusProcessing, epoch)
	if err != nil {
		return fmt.Errorf("fail scan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.classifyLeaseConflict(ctx, id)
	}
	return nil
}

// classifyLeaseConflict explains why a guarded terminal write matched no rows:
// the scan is gone, or another worker holds a newer lease or already finished it.
func (s *PostgresStore) classifyLeaseConflict(ctx context.Context, id string) error {
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM scans WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check scan exists: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrStaleLease
}

// scanScanRow scans one scans row from either a pgx.Row or pgx.Rows.
func scanScanRow(row pgx.Row) (*models.Scan, error) {
	var sc models.Scan
	err := row.Scan(&sc.ID, &sc.FileName, &sc.ObjectKey, &sc.Status, &sc.Size,
		&sc.UserID, &sc.UserEmail, &sc.Result, &sc.Score, &sc.LeaseAt,
		&sc.LeaseEpoch, &sc.CreatedAt, &sc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &sc, nil
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE deleted_at IS NULL ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
