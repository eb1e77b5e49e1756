package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/veds-platform/constraints/constraint"
)

// SyncWorker keeps the hot-path cache eventually consistent with the
// authoritative active-constraint set. One cycle: read active constraints,
// flatten them into category records, clear and rewrite each category
// namespace, stamp the generation, publish a sync notification.
//
// The clear-then-write is not atomic across the whole key space: a reader
// mid-cycle can see a category gap, bounded by the interval. Each
// category's clear+write is the unit of interruption — a cycle abandons
// between categories on shutdown, never mid-category — and any partial
// state self-heals because the next successful cycle rewrites every
// category in full.
type SyncWorker struct {
	store    constraint.Store
	cache    constraint.CacheClient
	interval time.Duration
	metrics  *Metrics
	log      *slog.Logger

	// cycleMu holds off a new cycle while a previous one is writing.
	cycleMu sync.Mutex
}

const DefaultSyncInterval = 30 * time.Second

func NewSyncWorker(store constraint.Store, cache constraint.CacheClient, interval time.Duration, metrics *Metrics, log *slog.Logger) *SyncWorker {
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	if log == nil {
		log = slog.Default()
	}
	return &SyncWorker{
		store:    store,
		cache:    cache,
		interval: interval,
		metrics:  metrics,
		log:      log,
	}
}

// SyncHandle owns a running worker. Stop halts the interval loop and
// waits for any in-flight cycle to finish its current category writes.
type SyncHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (h *SyncHandle) Stop() {
	h.cancel()
	<-h.done
}

// Start launches the worker: one eager cycle immediately, then one per
// interval. A failed cycle is logged and retried on the next tick; it
// never stops the loop.
func (w *SyncWorker) Start() *SyncHandle {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go w.run(ctx, done)
	return &SyncHandle{cancel: cancel, done: done}
}

func (w *SyncWorker) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	if err := w.SyncOnce(ctx); err != nil {
		w.logCycleFailure(err)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.SyncOnce(ctx); err != nil {
				w.logCycleFailure(err)
			}
		}
	}
}

func (w *SyncWorker) logCycleFailure(err error) {
	w.metrics.syncFailures.Inc()
	w.log.Error("constraint sync cycle failed, will retry next interval",
		slog.String("error", err.Error()))
}

// SyncOnce runs a single sync cycle. Only one cycle may write at a time;
// callers racing the interval loop serialize here.
func (w *SyncWorker) SyncOnce(ctx context.Context) error {
	w.cycleMu.Lock()
	defer w.cycleMu.Unlock()

	active, err := w.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("read active constraints: %w", err)
	}
	recs, err := buildRecords(active)
	if err != nil {
		return fmt.Errorf("flatten constraints: %w", err)
	}

	generation := time.Now().UTC()

	steps := []func(context.Context) error{
		func(ctx context.Context) error { return w.writeMinWage(ctx, recs) },
		func(ctx context.Context) error { return w.writeMaxHours(ctx, recs) },
		func(ctx context.Context) error { return w.writeSanctioned(ctx, recs) },
		func(ctx context.Context) error { return w.writeCarbonBudget(ctx, recs) },
		func(ctx context.Context) error { return w.writeCustom(ctx, recs) },
	}
	for _, step := range steps {
		// Cancellation is honored between categories, never mid-write
		// of one category's records.
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := step(ctx); err != nil {
			return err
		}
	}

	stamp := generation.Format(time.RFC3339Nano)
	if err := w.cache.Set(ctx, keyGeneration, stamp); err != nil {
		return fmt.Errorf("stamp generation: %w", err)
	}
	if err := w.cache.Publish(ctx, ChannelSynced, stamp); err != nil {
		return fmt.Errorf("publish sync notification: %w", err)
	}

	w.metrics.syncCycles.Inc()
	w.metrics.syncRecords.Set(float64(recs.count()))
	w.metrics.lastSyncUnix.Set(float64(generation.Unix()))
	w.log.Info("constraint sync cycle completed",
		slog.Int("constraints", len(active)),
		slog.Int("records", recs.count()),
		slog.Time("generation", generation))
	return nil
}

func (w *SyncWorker) writeMinWage(ctx context.Context, recs *records) error {
	if err := w.cache.DeleteByPrefix(ctx, keyPrefixMinWage); err != nil {
		return fmt.Errorf("clear min wage namespace: %w", err)
	}
	for country, cents := range recs.minWage {
		if err := w.cache.Set(ctx, keyPrefixMinWage+country, strconv.FormatInt(cents, 10)); err != nil {
			return fmt.Errorf("write min wage for %s: %w", country, err)
		}
	}
	return nil
}

func (w *SyncWorker) writeMaxHours(ctx context.Context, recs *records) error {
	if err := w.cache.DeleteByPrefix(ctx, keyPrefixMaxHours); err != nil {
		return fmt.Errorf("clear max hours namespace: %w", err)
	}
	for region, hours := range recs.maxHours {
		if err := w.cache.Set(ctx, keyPrefixMaxHours+region, strconv.FormatInt(hours, 10)); err != nil {
			return fmt.Errorf("write max hours for %s: %w", region, err)
		}
	}
	return nil
}

func (w *SyncWorker) writeSanctioned(ctx context.Context, recs *records) error {
	// Drop the ready marker before touching the set, restore it only after
	// the full set is rewritten. Readers mid-rewrite see the marker gone
	// and treat the set as unavailable rather than empty.
	if err := w.cache.DeleteByPrefix(ctx, keySanctionedReady); err != nil {
		return fmt.Errorf("drop sanctioned marker: %w", err)
	}
	if err := w.cache.DeleteByPrefix(ctx, keySanctioned); err != nil {
		return fmt.Errorf("clear sanctioned carriers: %w", err)
	}
	if len(recs.sanctioned) > 0 {
		if err := w.cache.AddToSet(ctx, keySanctioned, recs.sanctioned...); err != nil {
			return fmt.Errorf("write sanctioned carriers: %w", err)
		}
	}
	if err := w.cache.Set(ctx, keySanctionedReady, "1"); err != nil {
		return fmt.Errorf("restore sanctioned marker: %w", err)
	}
	return nil
}

func (w *SyncWorker) writeCarbonBudget(ctx context.Context, recs *records) error {
	if err := w.cache.DeleteByPrefix(ctx, keyCarbonBudget); err != nil {
		return fmt.Errorf("clear carbon budget: %w", err)
	}
	if recs.carbonBudget == nil {
		return nil
	}
	if err := w.cache.Set(ctx, keyCarbonBudget, strconv.FormatFloat(*recs.carbonBudget, 'f', -1, 64)); err != nil {
		return fmt.Errorf("write carbon budget: %w", err)
	}
	return nil
}

func (w *SyncWorker) writeCustom(ctx context.Context, recs *records) error {
	if err := w.cache.DeleteByPrefix(ctx, keyPrefixCustom); err != nil {
		return fmt.Errorf("clear custom namespace: %w", err)
	}
	for id, payload := range recs.custom {
		if err := w.cache.Set(ctx, keyPrefixCustom+id, payload); err != nil {
			return fmt.Errorf("write custom constraint %s: %w", id, err)
		}
	}
	return nil
}
