package monitor

import (
	"context"
	"math/rand"
	"time"

	"pb-watcher/internal/detector"
	"pb-watcher/internal/fetch"
	"pb-watcher/internal/models"
	"pb-watcher/internal/notifier"

	"go.uber.org/zap"
)

// TaskSource exposes the current set of watched items. It is read fresh
// every sweep so subscriptions added or removed between sweeps take effect
// on the next one.
type TaskSource interface {
	ListOwners() ([]string, error)
	ListItems(ownerID string) ([]models.WatchedItem, error)
	ResolveChannel(ownerID string) (string, bool, error)
}

// StateWriter persists item state, one atomic write per item.
type StateWriter interface {
	CommitTransition(item models.WatchedItem, snap models.ProductSnapshot) error
	TouchChecked(item models.WatchedItem) error
}

// Fetcher retrieves a product page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*fetch.Result, error)
}

// Notifier delivers one message to a channel handle.
type Notifier interface {
	Notify(channelHandle, text string) error
}

// Enricher produces an optional comment for a transition. Errors mean the
// enrichment was declined; they never affect detection or delivery.
type Enricher interface {
	Analyze(ctx context.Context, snap models.ProductSnapshot) (string, error)
}

// ExtractFunc turns raw page bytes into a snapshot.
type ExtractFunc func(body []byte, sourceURL string) models.ProductSnapshot

// Config holds the pacing bounds. Items are paced with a randomized delay
// inside a sweep; sweeps are separated by a randomized backoff. Both exist
// to stay under the target host's rate limiting, so the sweep is strictly
// sequential.
type Config struct {
	ItemDelayMin  time.Duration
	ItemDelayMax  time.Duration
	CycleDelayMin time.Duration
	CycleDelayMax time.Duration
}

// Stats counts per-sweep outcomes. Sweeps are not persisted; the counts
// exist for logging and tests.
type Stats struct {
	Owners       int
	Skipped      int
	Checked      int
	Transitioned int
	Unchanged    int
	Failed       int
}

// Monitor drives the repeated sweep over all watched items.
type Monitor struct {
	tasks    TaskSource
	writer   StateWriter
	fetcher  Fetcher
	extract  ExtractFunc
	notifier Notifier
	enricher Enricher // nil when enrichment is not configured
	cfg      Config
	logger   *zap.Logger
	rng      *rand.Rand

	// sleep is context-aware and replaceable in tests; it returns false
	// when the context was cancelled.
	sleep func(ctx context.Context, d time.Duration) bool
}

// New wires a Monitor. enricher may be nil.
func New(tasks TaskSource, writer StateWriter, fetcher Fetcher, extract ExtractFunc, n Notifier, enricher Enricher, cfg Config, logger *zap.Logger) *Monitor {
	return &Monitor{
		tasks:    tasks,
		writer:   writer,
		fetcher:  fetcher,
		extract:  extract,
		notifier: n,
		enricher: enricher,
		cfg:      cfg,
		logger:   logger,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:    sleepCtx,
	}
}

// Run sweeps until the context is cancelled, backing off a randomized
// duration between sweeps. The in-flight item of a sweep always finishes
// before Run returns.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("monitor started",
		zap.Duration("cycle_delay_min", m.cfg.CycleDelayMin),
		zap.Duration("cycle_delay_max", m.cfg.CycleDelayMax),
	)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.Sweep(ctx)

		wait := m.randDuration(m.cfg.CycleDelayMin, m.cfg.CycleDelayMax)
		m.logger.Info("sweep finished, backing off", zap.Duration("wait", wait))
		if !m.sleep(ctx, wait) {
			return ctx.Err()
		}
	}
}

// Sweep runs one full pass over all owners and items. Failures are isolated
// at the item boundary: one bad URL never aborts the rest of the sweep.
func (m *Monitor) Sweep(ctx context.Context) Stats {
	var stats Stats

	owners, err := m.tasks.ListOwners()
	if err != nil {
		m.logger.Error("listing owners failed", zap.Error(err))
		return stats
	}
	stats.Owners = len(owners)

	for _, owner := range owners {
		handle, ok, err := m.tasks.ResolveChannel(owner)
		if err != nil {
			m.logger.Error("resolving channel failed", zap.String("owner", owner), zap.Error(err))
			continue
		}
		if !ok {
			// Not an error: the owner simply has no delivery target yet.
			m.logger.Debug("owner has no channel, skipping", zap.String("owner", owner))
			stats.Skipped++
			continue
		}

		items, err := m.tasks.ListItems(owner)
		if err != nil {
			m.logger.Error("listing items failed", zap.String("owner", owner), zap.Error(err))
			continue
		}

		for _, item := range items {
			if ctx.Err() != nil {
				return stats
			}

			outcome := m.checkItem(ctx, item, handle)
			stats.Checked++
			switch outcome {
			case detector.Transitioned:
				stats.Transitioned++
			case detector.Unchanged:
				stats.Unchanged++
			case detector.FetchFailed:
				stats.Failed++
			}

			if !m.sleep(ctx, m.randDuration(m.cfg.ItemDelayMin, m.cfg.ItemDelayMax)) {
				return stats
			}
		}
	}

	m.logger.Info("sweep complete",
		zap.Int("owners", stats.Owners),
		zap.Int("skipped_owners", stats.Skipped),
		zap.Int("checked", stats.Checked),
		zap.Int("transitioned", stats.Transitioned),
		zap.Int("unchanged", stats.Unchanged),
		zap.Int("failed", stats.Failed),
	)
	return stats
}

func (m *Monitor) checkItem(ctx context.Context, item models.WatchedItem, handle string) detector.Outcome {
	res, err := m.fetcher.Fetch(ctx, item.TargetURL)
	if err != nil {
		// Last known state stays untouched on a failed fetch.
		m.logger.Warn("fetch failed",
			zap.String("owner", item.OwnerID),
			zap.String("item", item.ItemID),
			zap.String("url", item.TargetURL),
			zap.Error(err),
		)
		return detector.FetchFailed
	}

	snap := m.extract(res.Body, item.TargetURL)
	outcome := detector.Classify(item.LastKnownAvailable, snap.Available, true)

	switch outcome {
	case detector.Unchanged:
		if err := m.writer.TouchChecked(item); err != nil {
			m.logger.Error("timestamp refresh failed",
				zap.String("owner", item.OwnerID),
				zap.String("item", item.ItemID),
				zap.Error(err),
			)
		}

	case detector.Transitioned:
		m.logger.Info("availability changed",
			zap.String("owner", item.OwnerID),
			zap.String("item", item.ItemID),
			zap.String("title", snap.Title),
			zap.Bool("available", snap.Available),
		)

		comment := ""
		if m.enricher != nil {
			if c, err := m.enricher.Analyze(ctx, snap); err != nil {
				m.logger.Debug("enrichment declined", zap.String("item", item.ItemID), zap.Error(err))
			} else {
				comment = c
			}
		}

		// Notify first, then commit. A lost notification is recovered by
		// the next genuine transition; a lost commit would re-notify every
		// sweep, so the commit is attempted regardless of delivery outcome.
		if err := m.notifier.Notify(handle, notifier.FormatTransition(item, snap, comment)); err != nil {
			m.logger.Warn("notification delivery failed",
				zap.String("owner", item.OwnerID),
				zap.String("item", item.ItemID),
				zap.Error(err),
			)
		}
		if err := m.writer.CommitTransition(item, snap); err != nil {
			m.logger.Error("state commit failed",
				zap.String("owner", item.OwnerID),
				zap.String("item", item.ItemID),
				zap.Error(err),
			)
		}
	}

	return outcome
}

func (m *Monitor) randDuration(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(m.rng.Int63n(int64(max-min)))
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
