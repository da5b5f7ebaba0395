package service

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caretide/fhir-server/internal/platform/db"
	"github.com/caretide/fhir-server/internal/platform/index"
	"github.com/caretide/fhir-server/internal/platform/store"
)

// TxRunner runs a function atomically against the backing stores: either
// every write inside lands, or none do.
type TxRunner interface {
	RunInTransaction(ctx context.Context, fn func(context.Context) error) error
}

// PgTx backs transactions with a database transaction carried in the
// context; repositories pick it up automatically.
type PgTx struct {
	Pool *pgxpool.Pool
}

func (t PgTx) RunInTransaction(ctx context.Context, fn func(context.Context) error) error {
	return db.InTransaction(ctx, t.Pool, fn)
}

// WriteGate serializes in-memory transactions against independent writes.
// A transaction holds the gate exclusively from checkpoint through commit
// or restore, so no write acknowledged in between can be undone by the
// restore. Postgres deployments isolate through database transactions and
// carry no gate.
type WriteGate struct {
	mu sync.RWMutex
}

func NewWriteGate() *WriteGate { return &WriteGate{} }

type txMarkerKey struct{}

// inTransaction reports whether ctx runs inside RunInTransaction. Writes
// made there skip the gate the transaction already holds.
func inTransaction(ctx context.Context) bool {
	return ctx.Value(txMarkerKey{}) != nil
}

// MemoryTx backs transactions with checkpoint and restore over the
// in-process stores.
type MemoryTx struct {
	Resources *store.MemoryStore
	Generator *store.MemoryGenerator
	Indexes   *index.MemoryStore
	Gate      *WriteGate
}

func (t MemoryTx) RunInTransaction(ctx context.Context, fn func(context.Context) error) error {
	if t.Gate != nil {
		t.Gate.mu.Lock()
		defer t.Gate.mu.Unlock()
		ctx = context.WithValue(ctx, txMarkerKey{}, struct{}{})
	}
	restores := []func(){t.Resources.Checkpoint(), t.Generator.Checkpoint(), t.Indexes.Checkpoint()}
	if err := fn(ctx); err != nil {
		for _, restore := range restores {
			restore()
		}
		return err
	}
	return nil
}
