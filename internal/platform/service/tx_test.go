package service

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/caretide/fhir-server/internal/platform/fhir"
	"github.com/caretide/fhir-server/internal/platform/index"
	"github.com/caretide/fhir-server/internal/platform/model"
	"github.com/caretide/fhir-server/internal/platform/search"
	"github.com/caretide/fhir-server/internal/platform/store"
)

func newGatedService() (*Service, MemoryTx) {
	resources := store.NewMemoryStore()
	generator := store.NewMemoryGenerator()
	indexes := index.NewMemoryStore()
	catalog := search.DefaultCatalog()
	visitor := model.NewVisitor(model.DefaultPropertyIndex())
	engine := index.NewEngine(visitor, catalog, testBase, zerolog.Nop())
	executor := search.NewExecutor(indexes, catalog, zerolog.Nop())
	svc := New(resources, generator, indexes, engine, executor,
		store.NewMemorySnapshots(), store.NewMaintenanceLock(), testBase, zerolog.Nop())
	gate := NewWriteGate()
	svc.SetWriteGate(gate)
	tx := MemoryTx{Resources: resources, Generator: generator, Indexes: indexes, Gate: gate}
	return svc, tx
}

func TestRollbackRevertsWritesMadeInside(t *testing.T) {
	svc, tx := newGatedService()
	rollback := errors.New("rollback")

	err := tx.RunInTransaction(context.Background(), func(txCtx context.Context) error {
		if _, err := svc.Create(txCtx, "Patient", patientBody("Doomed")); err != nil {
			t.Fatalf("Create inside transaction: %v", err)
		}
		return rollback
	})
	if err != rollback {
		t.Fatalf("RunInTransaction = %v, want rollback error", err)
	}

	if _, err := svc.Read(context.Background(), fhir.NewKey("Patient", "1")); fhir.KindOf(err) != fhir.KindNotFound {
		t.Errorf("Read after rollback: err = %v, want not found", err)
	}
}

func TestRollbackKeepsIndependentWrite(t *testing.T) {
	svc, tx := newGatedService()
	rollback := errors.New("rollback")

	bystander := make(chan error, 1)
	err := tx.RunInTransaction(context.Background(), func(txCtx context.Context) error {
		if _, err := svc.Create(txCtx, "Patient", patientBody("Doomed")); err != nil {
			t.Fatalf("Create inside transaction: %v", err)
		}
		// An independent write from outside the transaction blocks on the
		// gate until the restore is finished.
		go func() {
			_, err := svc.Create(context.Background(), "Patient", patientBody("Survivor"))
			bystander <- err
		}()
		return rollback
	})
	if err != rollback {
		t.Fatalf("RunInTransaction = %v, want rollback error", err)
	}
	if err := <-bystander; err != nil {
		t.Fatalf("independent Create: %v", err)
	}

	entry, err := svc.Read(context.Background(), fhir.NewKey("Patient", "1"))
	if err != nil {
		t.Fatalf("Read after rollback: %v", err)
	}
	name := entry.Resource["name"].([]interface{})[0].(map[string]interface{})
	if name["family"] != "Survivor" {
		t.Errorf("family = %v, want Survivor", name["family"])
	}
}
