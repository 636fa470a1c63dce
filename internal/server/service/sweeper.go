package service

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sweeper periodically purges expired files and reclaims blobs that no
// record references.
type Sweeper struct {
	engine      *Engine
	interval    time.Duration
	orphanGrace time.Duration
	mu          sync.Mutex
	startOnce   sync.Once
	done        chan struct{}
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Expired          int
	Purged           int
	Failed           int
	OrphansReclaimed int
}

// NewSweeper creates a sweeper running every interval. Blobs younger than
// orphanGrace are never treated as orphans so in-flight uploads survive.
// A non-positive orphanGrace disables orphan reclamation.
func NewSweeper(engine *Engine, interval, orphanGrace time.Duration) *Sweeper {
	return &Sweeper{
		engine:      engine,
		interval:    interval,
		orphanGrace: orphanGrace,
		done:        make(chan struct{}),
	}
}

// Start begins the sweep loop in a background goroutine. Calls after the
// first are no-ops.
func (s *Sweeper) Start(ctx context.Context) {
	s.startOnce.Do(func() { s.start(ctx) })
}

func (s *Sweeper) start(ctx context.Context) {
	slog.Info("sweeper started", "interval", s.interval, "orphan_grace", s.orphanGrace)

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		// Run once immediately on start
		s.RunOnce(ctx)

		for {
			select {
			case <-ticker.C:
				s.RunOnce(ctx)
			case <-ctx.Done():
				slog.Info("sweeper stopping")
				close(s.done)
				return
			}
		}
	}()
}

// Wait blocks until the sweeper has fully stopped. It must follow Start.
func (s *Sweeper) Wait() {
	<-s.done
}

// RunOnce performs a single sweep. Concurrent calls are serialized.
func (s *Sweeper) RunOnce(ctx context.Context) SweepResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	defer func() { sweepDuration.Observe(time.Since(start).Seconds()) }()

	var res SweepResult
	s.purgeExpired(ctx, &res)
	s.reclaimOrphans(ctx, &res)

	slog.Info("sweep complete",
		"purged", res.Purged,
		"failed", res.Failed,
		"total_expired", res.Expired,
		"orphans_reclaimed", res.OrphansReclaimed,
	)
	return res
}

func (s *Sweeper) purgeExpired(ctx context.Context, res *SweepResult) {
	expired, err := s.engine.registry.ListExpired(ctx, s.engine.now())
	if err != nil {
		slog.Error("failed to list expired files", "error", err)
		return
	}
	res.Expired = len(expired)

	for _, rec := range expired {
		if err := ctx.Err(); err != nil {
			return
		}
		if err := s.engine.Purge(ctx, rec); err != nil {
			slog.Error("failed to purge expired file",
				"id", rec.ID,
				"error", err,
			)
			res.Failed++
			continue
		}
		res.Purged++
	}
}

// reclaimOrphans deletes blobs left behind by failed compensations or
// partially failed deletes.
func (s *Sweeper) reclaimOrphans(ctx context.Context, res *SweepResult) {
	if s.orphanGrace <= 0 {
		return
	}
	cutoff := time.Now().Add(-s.orphanGrace)

	var candidates []string
	err := s.engine.store.Walk(ctx, func(key string, modTime time.Time) error {
		if modTime.Before(cutoff) {
			candidates = append(candidates, key)
		}
		return nil
	})
	if err != nil {
		slog.Error("failed to walk blob store", "error", err)
		return
	}

	for _, key := range candidates {
		exists, err := s.engine.registry.StorageKeyExists(ctx, key)
		if err != nil {
			slog.Error("failed to check storage key", "storage_key", key, "error", err)
			continue
		}
		if exists {
			continue
		}
		if err := s.engine.store.Delete(ctx, key); err != nil {
			slog.Error("failed to delete orphan blob", "storage_key", key, "error", err)
			continue
		}
		res.OrphansReclaimed++
		orphansReclaimedTotal.Inc()
		slog.Info("orphan blob reclaimed", "storage_key", key)
	}
}
