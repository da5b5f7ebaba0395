package rest

import (
	"context"
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/caretide/fhir-server/internal/platform/index"
	"github.com/caretide/fhir-server/internal/platform/model"
	"github.com/caretide/fhir-server/internal/platform/reindex"
	"github.com/caretide/fhir-server/internal/platform/search"
	"github.com/caretide/fhir-server/internal/platform/service"
	"github.com/caretide/fhir-server/internal/platform/store"
)

func newAdminServer() (*echo.Echo, *service.Service, *index.MemoryStore) {
	resources := store.NewMemoryStore()
	generator := store.NewMemoryGenerator()
	indexes := index.NewMemoryStore()
	catalog := search.DefaultCatalog()
	visitor := model.NewVisitor(model.DefaultPropertyIndex())
	engine := index.NewEngine(visitor, catalog, testBase, zerolog.Nop())
	executor := search.NewExecutor(indexes, catalog, zerolog.Nop())
	lock := store.NewMaintenanceLock()
	svc := service.New(resources, generator, indexes, engine, executor,
		store.NewMemorySnapshots(), lock, testBase, zerolog.Nop())

	job := reindex.NewJob(resources, indexes, engine, lock, reindex.DefaultBatchSize, zerolog.Nop())
	job.SetGuard(&reindex.ProcessGuard{})

	e := echo.New()
	NewAdminHandler(job, false, zerolog.Nop()).Register(e.Group("/admin"))
	return e, svc, indexes
}

func TestAdminReindexRebuildsDriftedIndex(t *testing.T) {
	e, svc, indexes := newAdminServer()

	if _, err := svc.Create(context.Background(), "Patient", map[string]interface{}{
		"resourceType": "Patient",
		"gender":       "female",
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	// Drop every index document so only the resource store knows the patient.
	if err := indexes.Clean(context.Background()); err != nil {
		t.Fatalf("Clean: %v", err)
	}

	rec := doJSON(e, http.MethodPost, "/admin/reindex", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["reindexed"] != float64(1) {
		t.Errorf("reindexed = %v, want 1", body["reindexed"])
	}
}

func TestAdminReindexRejectsBadClearValue(t *testing.T) {
	e, _, _ := newAdminServer()

	rec := doJSON(e, http.MethodPost, "/admin/reindex?clear=maybe", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
