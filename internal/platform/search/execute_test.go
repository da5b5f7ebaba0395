package search

import (
	"context"
	"net/url"
	"testing"

	"github.com/rs/zerolog"

	"github.com/caretide/fhir-server/internal/platform/fhir"
)

// fakeIndex records queries and serves canned keys.
type fakeIndex struct {
	matches   []fhir.Key
	refsFrom  []fhir.Key
	refsTo    []fhir.Key
	lastType  string
	lastSort  []SortKey
	lastParam string
}

func (f *fakeIndex) Query(ctx context.Context, resourceType string, filter Filter, sort []SortKey) ([]fhir.Key, error) {
	f.lastType = resourceType
	f.lastSort = sort
	return f.matches, nil
}

func (f *fakeIndex) ReferencesFrom(ctx context.Context, keys []fhir.Key, param string) ([]fhir.Key, error) {
	f.lastParam = param
	return f.refsFrom, nil
}

func (f *fakeIndex) ReferencesTo(ctx context.Context, resourceType, param string, targets []fhir.Key) ([]fhir.Key, error) {
	f.lastParam = param
	return f.refsTo, nil
}

func newTestExecutor(idx *fakeIndex) *Executor {
	return NewExecutor(idx, DefaultCatalog(), zerolog.Nop())
}

func TestExecutorSearch(t *testing.T) {
	idx := &fakeIndex{matches: []fhir.Key{
		fhir.NewKey("Patient", "1"),
		fhir.NewKey("Patient", "2"),
	}}

	result, err := newTestExecutor(idx).Search(context.Background(), "Patient",
		url.Values{"family": []string{"chal"}, "_sort": []string{"-birthdate"}})
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if len(result.Matches) != 2 {
		t.Errorf("matches = %d", len(result.Matches))
	}
	if idx.lastType != "Patient" {
		t.Errorf("queried type = %q", idx.lastType)
	}
	if len(idx.lastSort) != 1 || !idx.lastSort[0].Descending {
		t.Errorf("sort = %+v", idx.lastSort)
	}
	if len(result.Used) != 1 || result.Used[0] != "family=chal" {
		t.Errorf("used = %v", result.Used)
	}
}

func TestExecutorUnknownResourceType(t *testing.T) {
	_, err := newTestExecutor(&fakeIndex{}).Search(context.Background(), "Vehicle", url.Values{})
	if fhir.KindOf(err) != fhir.KindNotFound {
		t.Errorf("error = %v, want not-found", err)
	}
}

func TestExecutorUnknownParameterRejectsSearch(t *testing.T) {
	_, err := newTestExecutor(&fakeIndex{}).Search(context.Background(), "Patient",
		url.Values{"favorite-color": []string{"blue"}})
	if fhir.KindOf(err) != fhir.KindUnknownParameter {
		t.Errorf("error = %v, want unknown-parameter", err)
	}
}

func TestExecutorSortValidation(t *testing.T) {
	exec := newTestExecutor(&fakeIndex{})

	for _, ok := range []string{"_id", "_lastUpdated", "birthdate", "-family"} {
		if _, err := exec.Search(context.Background(), "Patient",
			url.Values{"_sort": []string{ok}}); err != nil {
			t.Errorf("_sort=%s should be accepted: %v", ok, err)
		}
	}

	_, err := exec.Search(context.Background(), "Patient", url.Values{"_sort": []string{"favorite-color"}})
	if fhir.KindOf(err) != fhir.KindBadRequest {
		t.Errorf("sorting by unknown parameter: error = %v, want bad-request", err)
	}
}

func TestExecutorInclude(t *testing.T) {
	idx := &fakeIndex{
		matches:  []fhir.Key{fhir.NewKey("Observation", "o1")},
		refsFrom: []fhir.Key{fhir.NewKey("Patient", "8")},
	}
	result, err := newTestExecutor(idx).Search(context.Background(), "Observation",
		url.Values{"_include": []string{"Observation:subject"}})
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if len(result.Includes) != 1 || result.Includes[0].Identity() != "Patient/8" {
		t.Errorf("includes = %v", result.Includes)
	}
	if idx.lastParam != "subject" {
		t.Errorf("resolved param = %q", idx.lastParam)
	}
}

func TestExecutorIncludeForOtherSourceTypeIsIgnored(t *testing.T) {
	idx := &fakeIndex{
		matches:  []fhir.Key{fhir.NewKey("Patient", "8")},
		refsFrom: []fhir.Key{fhir.NewKey("Organization", "org1")},
	}
	result, err := newTestExecutor(idx).Search(context.Background(), "Patient",
		url.Values{"_include": []string{"Observation:subject"}})
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if len(result.Includes) != 0 {
		t.Errorf("an _include scoped to another source type must not apply, got %v", result.Includes)
	}
}

func TestExecutorRevInclude(t *testing.T) {
	idx := &fakeIndex{
		matches: []fhir.Key{fhir.NewKey("Patient", "8")},
		refsTo:  []fhir.Key{fhir.NewKey("Observation", "o1"), fhir.NewKey("Observation", "o2")},
	}
	result, err := newTestExecutor(idx).Search(context.Background(), "Patient",
		url.Values{"_revinclude": []string{"Observation:subject"}})
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if len(result.Includes) != 2 {
		t.Errorf("includes = %v", result.Includes)
	}
}

func TestExecutorIncludeDeduplicatesAgainstMatches(t *testing.T) {
	idx := &fakeIndex{
		matches: []fhir.Key{fhir.NewKey("Patient", "8")},
		refsTo:  []fhir.Key{fhir.NewKey("Patient", "8"), fhir.NewKey("Observation", "o1")},
	}
	result, err := newTestExecutor(idx).Search(context.Background(), "Patient",
		url.Values{"_revinclude": []string{"Observation:subject"}})
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if len(result.Includes) != 1 || result.Includes[0].Identity() != "Observation/o1" {
		t.Errorf("includes = %v, want only Observation/o1", result.Includes)
	}
}

func TestExecutorIncludeValidation(t *testing.T) {
	exec := newTestExecutor(&fakeIndex{matches: []fhir.Key{fhir.NewKey("Patient", "8")}})

	tests := []string{
		"justoneword",
		"Patient:gender", // not a reference parameter
	}
	for _, inc := range tests {
		_, err := exec.Search(context.Background(), "Patient", url.Values{"_include": []string{inc}})
		if fhir.KindOf(err) != fhir.KindBadRequest {
			t.Errorf("_include=%s: error = %v, want bad-request", inc, err)
		}
	}
}
