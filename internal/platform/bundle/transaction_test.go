package bundle

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/caretide/fhir-server/internal/platform/fhir"
	"github.com/caretide/fhir-server/internal/platform/index"
	"github.com/caretide/fhir-server/internal/platform/model"
	"github.com/caretide/fhir-server/internal/platform/search"
	"github.com/caretide/fhir-server/internal/platform/service"
	"github.com/caretide/fhir-server/internal/platform/store"
)

const testBase = "http://localhost:8000/fhir"

func newTestProcessor() (*Processor, *service.Service) {
	resources := store.NewMemoryStore()
	generator := store.NewMemoryGenerator()
	indexes := index.NewMemoryStore()
	catalog := search.DefaultCatalog()
	visitor := model.NewVisitor(model.DefaultPropertyIndex())
	engine := index.NewEngine(visitor, catalog, testBase, zerolog.Nop())
	executor := search.NewExecutor(indexes, catalog, zerolog.Nop())
	svc := service.New(resources, generator, indexes, engine, executor,
		store.NewMemorySnapshots(), store.NewMaintenanceLock(), testBase, zerolog.Nop())
	gate := service.NewWriteGate()
	svc.SetWriteGate(gate)
	tx := service.MemoryTx{Resources: resources, Generator: generator, Indexes: indexes, Gate: gate}
	return NewProcessor(svc, tx, zerolog.Nop()), svc
}

func rawBundle(bundleType string, entries ...map[string]interface{}) map[string]interface{} {
	raw := make([]interface{}, 0, len(entries))
	for _, e := range entries {
		raw = append(raw, e)
	}
	return map[string]interface{}{
		"resourceType": "Bundle",
		"type":         bundleType,
		"entry":        raw,
	}
}

func postEntry(fullURL, resourceType string, resource map[string]interface{}) map[string]interface{} {
	e := map[string]interface{}{
		"resource": resource,
		"request":  map[string]interface{}{"method": "POST", "url": resourceType},
	}
	if fullURL != "" {
		e["fullUrl"] = fullURL
	}
	return e
}

func TestProcessRejectsNonBundles(t *testing.T) {
	p, _ := newTestProcessor()
	ctx := context.Background()

	_, err := p.Process(ctx, map[string]interface{}{"resourceType": "Patient"})
	if fhir.KindOf(err) != fhir.KindBadRequest {
		t.Errorf("non-bundle: err = %v, want bad-request", err)
	}

	_, err = p.Process(ctx, map[string]interface{}{"resourceType": "Bundle", "type": "searchset"})
	if fhir.KindOf(err) != fhir.KindBadRequest {
		t.Errorf("wrong type: err = %v, want bad-request", err)
	}

	_, err = p.Process(ctx, rawBundle("transaction", map[string]interface{}{
		"resource": map[string]interface{}{"resourceType": "Patient"},
	}))
	if fhir.KindOf(err) != fhir.KindTransaction {
		t.Errorf("entry without request: err = %v, want transaction error", err)
	}
}

func TestTransactionResolvesPlaceholders(t *testing.T) {
	p, svc := newTestProcessor()
	ctx := context.Background()

	out, err := p.Process(ctx, rawBundle("transaction",
		postEntry("urn:uuid:patient-1", "Patient", map[string]interface{}{
			"resourceType": "Patient",
			"name":         []interface{}{map[string]interface{}{"family": "Chalmers"}},
		}),
		postEntry("", "Observation", map[string]interface{}{
			"resourceType": "Observation",
			"status":       "final",
			"subject":      map[string]interface{}{"reference": "urn:uuid:patient-1"},
		}),
	))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Type != "transaction-response" || len(out.Entry) != 2 {
		t.Fatalf("response type = %s, entries = %d", out.Type, len(out.Entry))
	}
	for i, e := range out.Entry {
		if e.Response == nil || e.Response.Status != "201 Created" {
			t.Errorf("entry[%d] response = %+v", i, e.Response)
		}
	}
	if out.Entry[0].Response.Location != "Patient/1/_history/1" {
		t.Errorf("patient location = %s", out.Entry[0].Response.Location)
	}

	stored, err := svc.Read(ctx, fhir.NewKey("Observation", "1"))
	if err != nil {
		t.Fatalf("Read observation: %v", err)
	}
	subject := stored.Resource["subject"].(map[string]interface{})
	if subject["reference"] != "Patient/1" {
		t.Errorf("subject reference = %v, want Patient/1", subject["reference"])
	}
}

func TestTransactionRejectsUnresolvablePlaceholder(t *testing.T) {
	p, svc := newTestProcessor()
	ctx := context.Background()

	_, err := p.Process(ctx, rawBundle("transaction",
		postEntry("", "Observation", map[string]interface{}{
			"resourceType": "Observation",
			"status":       "final",
			"subject":      map[string]interface{}{"reference": "urn:uuid:ghost"},
		}),
	))
	if fhir.KindOf(err) != fhir.KindTransaction {
		t.Fatalf("err = %v, want transaction error", err)
	}
	if !strings.Contains(err.Error(), "urn:uuid:ghost") {
		t.Errorf("err = %v, want the dangling placeholder named", err)
	}

	// Nothing from the bundle was persisted.
	if _, readErr := svc.Read(ctx, fhir.NewKey("Observation", "1")); fhir.KindOf(readErr) != fhir.KindNotFound {
		t.Errorf("observation: err = %v, want not-found", readErr)
	}
}

func TestTransactionResolvesConditionalCreatePlaceholder(t *testing.T) {
	p, svc := newTestProcessor()
	ctx := context.Background()

	if _, _, err := svc.Update(ctx, fhir.NewKey("Patient", "known"), map[string]interface{}{
		"resourceType": "Patient",
		"identifier": []interface{}{
			map[string]interface{}{"system": "urn:mrn", "value": "777"},
		},
	}, nil); err != nil {
		t.Fatalf("seed: %v", err)
	}

	out, err := p.Process(ctx, rawBundle("transaction",
		map[string]interface{}{
			"fullUrl": "urn:uuid:cond",
			"resource": map[string]interface{}{
				"resourceType": "Patient",
				"identifier": []interface{}{
					map[string]interface{}{"system": "urn:mrn", "value": "777"},
				},
			},
			"request": map[string]interface{}{
				"method":      "POST",
				"url":         "Patient",
				"ifNoneExist": "identifier=urn:mrn|777",
			},
		},
		postEntry("", "Observation", map[string]interface{}{
			"resourceType": "Observation",
			"status":       "final",
			"subject":      map[string]interface{}{"reference": "urn:uuid:cond"},
		}),
	))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Entry[0].Response.Status != "200 OK" {
		t.Errorf("conditional entry = %+v, want the existing resource", out.Entry[0].Response)
	}

	stored, err := svc.Read(ctx, fhir.NewKey("Observation", "1"))
	if err != nil {
		t.Fatalf("Read observation: %v", err)
	}
	subject := stored.Resource["subject"].(map[string]interface{})
	if subject["reference"] != "Patient/known" {
		t.Errorf("subject reference = %v, want Patient/known", subject["reference"])
	}
}

func TestTransactionOrdersMethodsNotEntries(t *testing.T) {
	p, _ := newTestProcessor()
	ctx := context.Background()

	// The read comes first in the bundle but runs last, so it sees the
	// resource the update creates.
	out, err := p.Process(ctx, rawBundle("transaction",
		map[string]interface{}{
			"request": map[string]interface{}{"method": "GET", "url": "Patient/p1"},
		},
		map[string]interface{}{
			"resource": map[string]interface{}{"resourceType": "Patient", "id": "p1"},
			"request":  map[string]interface{}{"method": "PUT", "url": "Patient/p1"},
		},
	))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Entry[0].Response.Status != "200 OK" {
		t.Errorf("read response = %+v", out.Entry[0].Response)
	}
	if out.Entry[1].Response.Status != "201 Created" {
		t.Errorf("update response = %+v", out.Entry[1].Response)
	}
}

func TestTransactionRollsBackOnFailure(t *testing.T) {
	p, svc := newTestProcessor()
	ctx := context.Background()

	if _, _, err := svc.Update(ctx, fhir.NewKey("Patient", "existing"),
		map[string]interface{}{"resourceType": "Patient"}, nil); err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, err := p.Process(ctx, rawBundle("transaction",
		postEntry("", "Patient", map[string]interface{}{"resourceType": "Patient"}),
		map[string]interface{}{
			"resource": map[string]interface{}{"resourceType": "Patient", "id": "existing"},
			"request": map[string]interface{}{
				"method":  "PUT",
				"url":     "Patient/existing",
				"ifMatch": `W/"9"`,
			},
		},
	))
	if fhir.KindOf(err) != fhir.KindTransaction {
		t.Fatalf("err = %v, want transaction error", err)
	}
	outcome := fhir.OutcomeFor(err)
	if len(outcome.Issue) == 0 || len(outcome.Issue[0].Expression) == 0 ||
		outcome.Issue[0].Expression[0] != "Bundle.entry[1]" {
		t.Errorf("outcome = %+v, want Bundle.entry[1] expression", outcome)
	}

	// The create inside the failed transaction left nothing behind.
	if _, readErr := svc.Read(ctx, fhir.NewKey("Patient", "1")); fhir.KindOf(readErr) != fhir.KindNotFound {
		t.Errorf("rolled-back create: err = %v, want not-found", readErr)
	}
	if v, _ := svc.Resources().CurrentVersion(ctx, fhir.NewKey("Patient", "existing")); v != 1 {
		t.Errorf("existing version = %d, want untouched 1", v)
	}
}

func TestTransactionRejectsReferenceCycles(t *testing.T) {
	p, _ := newTestProcessor()

	_, err := p.Process(context.Background(), rawBundle("transaction",
		postEntry("urn:uuid:a", "Patient", map[string]interface{}{
			"resourceType":        "Patient",
			"generalPractitioner": []interface{}{map[string]interface{}{"reference": "urn:uuid:b"}},
		}),
		postEntry("urn:uuid:b", "Practitioner", map[string]interface{}{
			"resourceType": "Practitioner",
			"extension": []interface{}{
				map[string]interface{}{"valueReference": map[string]interface{}{"reference": "urn:uuid:a"}},
			},
		}),
	))
	if fhir.KindOf(err) != fhir.KindTransaction {
		t.Fatalf("err = %v, want transaction error", err)
	}
	if !strings.Contains(err.Error(), "circular") {
		t.Errorf("err = %v, want circular reference message", err)
	}
}

func TestBatchRecordsPerEntryOutcomes(t *testing.T) {
	p, _ := newTestProcessor()

	out, err := p.Process(context.Background(), rawBundle("batch",
		postEntry("", "Patient", map[string]interface{}{"resourceType": "Patient"}),
		map[string]interface{}{
			"request": map[string]interface{}{"method": "GET", "url": "Patient/ghost"},
		},
	))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Type != "batch-response" || len(out.Entry) != 2 {
		t.Fatalf("response type = %s, entries = %d", out.Type, len(out.Entry))
	}
	if out.Entry[0].Response.Status != "201 Created" {
		t.Errorf("entry[0] = %+v", out.Entry[0].Response)
	}
	failed := out.Entry[1].Response
	if failed.Status != "404" || failed.Outcome == nil {
		t.Errorf("entry[1] = %+v, want 404 with outcome", failed)
	}
}

func TestBundleDeleteOfNonexistentIsNoOp(t *testing.T) {
	p, _ := newTestProcessor()

	out, err := p.Process(context.Background(), rawBundle("transaction",
		map[string]interface{}{
			"request": map[string]interface{}{"method": "DELETE", "url": "Patient/ghost"},
		},
	))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Entry[0].Response.Status != "204 No Content" {
		t.Errorf("response = %+v", out.Entry[0].Response)
	}
}

func TestConditionalCreate(t *testing.T) {
	p, svc := newTestProcessor()
	ctx := context.Background()

	conditional := func() map[string]interface{} {
		return rawBundle("transaction", map[string]interface{}{
			"resource": map[string]interface{}{
				"resourceType": "Patient",
				"identifier": []interface{}{
					map[string]interface{}{"system": "urn:mrn", "value": "12345"},
				},
			},
			"request": map[string]interface{}{
				"method":      "POST",
				"url":         "Patient",
				"ifNoneExist": "identifier=urn:mrn|12345",
			},
		})
	}

	first, err := p.Process(ctx, conditional())
	if err != nil {
		t.Fatalf("first conditional create: %v", err)
	}
	if first.Entry[0].Response.Status != "201 Created" {
		t.Errorf("no match: response = %+v", first.Entry[0].Response)
	}

	second, err := p.Process(ctx, conditional())
	if err != nil {
		t.Fatalf("second conditional create: %v", err)
	}
	if second.Entry[0].Response.Status != "200 OK" {
		t.Errorf("one match: response = %+v", second.Entry[0].Response)
	}

	// A second resource carrying the same identifier makes the condition
	// ambiguous.
	if _, _, err := svc.Update(ctx, fhir.NewKey("Patient", "dup"), map[string]interface{}{
		"resourceType": "Patient",
		"identifier": []interface{}{
			map[string]interface{}{"system": "urn:mrn", "value": "12345"},
		},
	}, nil); err != nil {
		t.Fatalf("seed duplicate: %v", err)
	}
	_, err = p.Process(ctx, conditional())
	if fhir.KindOf(err) != fhir.KindTransaction {
		t.Errorf("many matches: err = %v, want transaction error", err)
	}
}
