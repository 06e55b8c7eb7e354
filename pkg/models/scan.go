// Package models contains shared data models used across the JarHound codebase.
package models

import (
	"encoding/json"
	"time"
)

const (
	ScanStatusPending    = "pending"
	ScanStatusProcessing = "processing"
	ScanStatusDone       = "done"
	ScanStatusError      = "error"
)

// Scan is one submitted artifact. The ID is the SHA-256 hex of the artifact
// bytes, so identical content always maps to the same record and duplicate
// submissions are no-ops.
type Scan struct {
	ID        string          `db:"id"          json:"scan_id"`
	FileName  string          `db:"file_name"   json:"file_name"`
	ObjectKey string          `db:"object_key"  json:"-"`
	Status    string          `db:"status"      json:"status"`
	Size      int64           `db:"size"        json:"size"`
	UserID    *string         `db:"user_id"     json:"user_id,omitempty"`
	UserEmail *string         `db:"user_email"  json:"user_email,omitempty"`
	Result    json.RawMessage `db:"result"      json:"result,omitempty"`
	Score     *int            `db:"score"       json:"score,omitempty"`
	// LeaseAt is set while status is processing and cleared on completion.
	LeaseAt *time.Time `db:"lease_at" json:"lease_at,omitempty"`
	// LeaseEpoch increments on every claim or reclaim. Result writes must
	// present the epoch they were leased under; stale writers are rejected.
	LeaseEpoch int64     `db:"lease_epoch" json:"-"`
	CreatedAt  time.Time `db:"created_at"  json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"  json:"updated_at"`
}
