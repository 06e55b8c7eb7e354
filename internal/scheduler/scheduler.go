// Package scheduler runs the worker poll loop: claim a scan under a lease,
// fetch its artifact, dispatch it to the analyzer, and write back the scored
// result.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kiranshivaraju/jarhound/internal/blob"
	"github.com/kiranshivaraju/jarhound/internal/cache"
	"github.com/kiranshivaraju/jarhound/internal/config"
	"github.com/kiranshivaraju/jarhound/internal/report"
	"github.com/kiranshivaraju/jarhound/internal/scanner"
	"github.com/kiranshivaraju/jarhound/internal/store"
	"github.com/kiranshivaraju/jarhound/pkg/models"
)

// scanResult is the shape persisted into the scans.result column.
type scanResult struct {
	Summary         models.Summary   `json:"summary"`
	Findings        []models.Finding `json:"findings"`
	Recommendations any              `json:"recommendations,omitempty"`
	Breakdown       models.Breakdown `json:"breakdown"`
}

// Scheduler polls the store on a fixed interval and processes at most
// MaxConcurrent scans at a time. Claim and reclaim are atomic in the store,
// so multiple Scheduler processes can run side by side.
type Scheduler struct {
	store   store.Store
	blobs   blob.Store
	analyze scanner.Client
	cache   cache.Cache
	cfg     config.WorkerConfig

	slots  chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(st store.Store, blobs blob.Store, client scanner.Client, ca cache.Cache, cfg config.WorkerConfig) *Scheduler {
	return &Scheduler{
		store:   st,
		blobs:   blobs,
		analyze: client,
		cache:   ca,
		cfg:     cfg,
		slots:   make(chan struct{}, cfg.MaxConcurrent),
	}
}

// Start launches the poll loop in the background. It returns immediately;
// call Stop to shut down and wait for in-flight work.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run(ctx)
	slog.Info("scheduler started",
		"tick_interval", s.cfg.TickInterval,
		"max_concurrent", s.cfg.MaxConcurrent,
		"lease_timeout", s.cfg.LeaseTimeout)
}

// Stop cancels the poll loop and blocks until in-flight ticks finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	slog.Info("scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick reserves a worker slot without blocking and hands the slot to a
// goroutine. When all slots are busy the tick is skipped entirely.
func (s *Scheduler) tick(ctx context.Context) {
	select {
	case s.slots <- struct{}{}:
	default:
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-s.slots }()
		s.work(ctx)
	}()
}

// work claims one scan (fresh pending first, then stale processing) and runs
// it to completion. Store errors abort this tick only.
func (s *Scheduler) work(ctx context.Context) {
	scan, err := s.store.TryClaimPending(ctx)
	if err != nil {
		slog.Error("claiming pending scan", "error", err)
		return
	}
	if scan == nil {
		scan, err = s.store.TryReclaimStale(ctx, s.cfg.LeaseTimeout)
		if err != nil {
			slog.Error("reclaiming stale scan", "error", err)
			return
		}
		if scan != nil {
			slog.Warn("reclaimed stale scan",
				"scan_id", scan.ID, "lease_epoch", scan.LeaseEpoch)
		}
	}
	if scan == nil {
		return
	}
	s.process(ctx, scan)
}

func (s *Scheduler) process(ctx context.Context, scan *models.Scan) {
	log := slog.With("scan_id", scan.ID, "file_name", scan.FileName, "lease_epoch", scan.LeaseEpoch)

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while processing scan", "error", r)
			s.fail(ctx, scan, fmt.Sprintf("panic: %v", r))
		}
	}()

	s.setStatus(ctx, scan.ID, models.ScanStatusProcessing)

	data, err := s.blobs.Get(ctx, scan.ObjectKey)
	if err != nil {
		log.Error("fetching artifact", "object_key", scan.ObjectKey, "error", err)
		s.fail(ctx, scan, fmt.Sprintf("fetching artifact: %v", err))
		return
	}

	raw, err := s.analyze.Analyze(ctx, scan.ID, data)
	if err != nil {
		var scanErr *scanner.Error
		if errors.As(err, &scanErr) && scanErr.ScanID != "" {
			log.Error("analyzer failed", "error", err)
			s.fail(ctx, scan, scanErr.Err.Error())
			return
		}
		// Without attribution the scan stays processing; a later tick
		// reclaims it once the lease goes stale.
		log.Warn("analyzer failed without scan attribution", "error", err)
		return
	}

	rep := report.Normalize(raw)
	breakdown := report.ScoreFindings(rep.Findings)

	result, err := json.Marshal(scanResult{
		Summary:         rep.Summary,
		Findings:        rep.Findings,
		Recommendations: rep.Recommendations,
		Breakdown:       breakdown,
	})
	if err != nil {
		log.Error("encoding scan result", "error", err)
		s.fail(ctx, scan, fmt.Sprintf("encoding result: %v", err))
		return
	}

	if err := s.store.CompleteScan(ctx, scan.ID, scan.LeaseEpoch, result, breakdown.MappedScore); err != nil {
		if errors.Is(err, store.ErrStaleLease) {
			log.Warn("dropping result, lease was reclaimed")
			return
		}
		log.Error("completing scan", "error", err)
		return
	}

	s.setStatus(ctx, scan.ID, models.ScanStatusDone)
	log.Info("scan completed",
		"score", breakdown.MappedScore,
		"verdict", breakdown.Verdict,
		"findings", len(rep.Findings))
}

// fail marks the scan as errored unless its lease was already reclaimed.
func (s *Scheduler) fail(ctx context.Context, scan *models.Scan, detail string) {
	if err := s.store.FailScan(ctx, scan.ID, scan.LeaseEpoch, detail); err != nil {
		if errors.Is(err, store.ErrStaleLease) {
			slog.Warn("dropping failure, lease was reclaimed", "scan_id", scan.ID)
			return
		}
		slog.Error("marking scan failed", "scan_id", scan.ID, "error", err)
		return
	}
	s.setStatus(ctx, scan.ID, models.ScanStatusError)
}

// setStatus mirrors a status transition into the cache, best effort.
func (s *Scheduler) setStatus(ctx context.Context, scanID, status string) {
	if s.cache == nil {
		return
	}
	_ = s.cache.SetScanStatus(ctx, scanID, status, s.cfg.StatusCacheTTL)
}
