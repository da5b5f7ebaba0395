// Package reindex rebuilds the search index from stored resources. Jobs
// run inside the serving process and write-lock it while they scan, so
// reads keep working and no write can slip between scan and index. A
// guard keeps runs mutually exclusive, across processes when it is backed
// by the database.
package reindex

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/caretide/fhir-server/internal/platform/fhir"
	"github.com/caretide/fhir-server/internal/platform/index"
	"github.com/caretide/fhir-server/internal/platform/store"
)

const (
	// DefaultBatchSize is the scan batch when none is configured.
	DefaultBatchSize = 100
	workers          = 4
)

// Guard admits one job at a time. Implementations may span processes,
// such as an advisory lock held on the shared database.
type Guard interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context)
}

// ProcessGuard excludes concurrent jobs within a single process.
type ProcessGuard struct {
	busy atomic.Bool
}

func (g *ProcessGuard) TryAcquire(ctx context.Context) (bool, error) {
	return g.busy.CompareAndSwap(false, true), nil
}

func (g *ProcessGuard) Release(ctx context.Context) {
	g.busy.Store(false)
}

// Job rebuilds the index in batches of current resource versions.
type Job struct {
	resources store.Store
	indexes   index.Store
	engine    *index.Engine
	lock      *store.MaintenanceLock
	guard     Guard
	batchSize int
	log       zerolog.Logger
}

func NewJob(resources store.Store, indexes index.Store, engine *index.Engine,
	lock *store.MaintenanceLock, batchSize int, log zerolog.Logger) *Job {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Job{
		resources: resources,
		indexes:   indexes,
		engine:    engine,
		lock:      lock,
		batchSize: batchSize,
		log:       log,
	}
}

// SetGuard installs the mutual-exclusion guard consulted before each run.
func (j *Job) SetGuard(g Guard) { j.guard = g }

// Run scans all current versions and rewrites their index documents,
// returning how many resources were reindexed. With clearFirst the index
// is dropped under a full lock before the scan. A second run while one is
// in flight fails with a conflict.
func (j *Job) Run(ctx context.Context, clearFirst bool) (int, error) {
	if j.guard != nil {
		ok, err := j.guard.TryAcquire(ctx)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, fhir.BusyError("reindex")
		}
		defer j.guard.Release(ctx)
	}

	j.lock.Set(store.WriteLocked)
	defer j.lock.Set(store.Unlocked)

	if clearFirst {
		j.lock.Set(store.FullyLocked)
		if err := j.indexes.Clean(ctx); err != nil {
			return 0, err
		}
		j.lock.Set(store.WriteLocked)
	}

	var count int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for offset := 0; ; offset += j.batchSize {
		keys, err := j.resources.CurrentKeys(ctx, offset, j.batchSize)
		if err != nil {
			return int(atomic.LoadInt64(&count)), err
		}
		if len(keys) == 0 {
			break
		}
		batch := keys
		g.Go(func() error {
			n, err := j.reindexBatch(ctx, batch)
			atomic.AddInt64(&count, int64(n))
			return err
		})
		if len(keys) < j.batchSize {
			break
		}
	}

	if err := g.Wait(); err != nil {
		return int(atomic.LoadInt64(&count)), err
	}

	total := int(atomic.LoadInt64(&count))
	j.log.Info().Int("resources", total).Msg("reindex complete")
	return total, nil
}

func (j *Job) reindexBatch(ctx context.Context, keys []fhir.Key) (int, error) {
	entries, err := j.resources.GetMany(ctx, keys)
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range entries {
		entry := entries[i]
		if entry.IsDeleted() {
			continue
		}
		docs := j.engine.Extract(entry)
		if err := j.indexes.Replace(ctx, entry.Key.Identity(), docs); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
