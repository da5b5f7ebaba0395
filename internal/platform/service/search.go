package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/caretide/fhir-server/internal/platform/fhir"
	"github.com/caretide/fhir-server/internal/platform/store"
)

// Search runs a query, freezes the result in a snapshot and returns the
// first page. Later pages address the snapshot by id, so a concurrent
// write never shifts entries between pages.
func (s *Service) Search(ctx context.Context, resourceType string, values url.Values) (*fhir.Bundle, error) {
	if err := s.lock.Check(false); err != nil {
		return nil, err
	}

	result, err := s.executor.Search(ctx, resourceType, values)
	if err != nil {
		return nil, err
	}

	pageSize := s.pageSize
	if result.Options.Count > 0 {
		pageSize = result.Options.Count
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	snapshot := store.NewSnapshot(resourceType, result.Used, result.Matches, result.Includes, pageSize)
	if err := s.snapshots.Save(ctx, snapshot); err != nil {
		return nil, err
	}
	return s.page(ctx, snapshot, 0)
}

// FindKeys runs a query and returns only the matched keys, without
// snapshotting. Conditional interactions use it to count matches.
func (s *Service) FindKeys(ctx context.Context, resourceType string, values url.Values) ([]fhir.Key, error) {
	result, err := s.executor.Search(ctx, resourceType, values)
	if err != nil {
		return nil, err
	}
	return result.Matches, nil
}

// Page returns one page of a previously snapshotted search.
func (s *Service) Page(ctx context.Context, snapshotID string, offset int) (*fhir.Bundle, error) {
	if err := s.lock.Check(false); err != nil {
		return nil, err
	}
	snapshot, err := s.snapshots.Load(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	if offset < 0 {
		offset = 0
	}
	return s.page(ctx, snapshot, offset)
}

func (s *Service) page(ctx context.Context, snapshot *store.Snapshot, offset int) (*fhir.Bundle, error) {
	bundle := fhir.NewBundle("searchset")
	bundle.SetTotal(len(snapshot.Keys))

	matches, err := s.resources.GetMany(ctx, snapshot.Page(offset))
	if err != nil {
		return nil, err
	}
	for i := range matches {
		bundle.MatchEntry(s.base, &matches[i])
	}

	if len(snapshot.Includes) > 0 {
		includes, err := s.resources.GetMany(ctx, snapshot.Includes)
		if err != nil {
			return nil, err
		}
		for i := range includes {
			if includes[i].IsDeleted() {
				continue
			}
			bundle.IncludeEntry(s.base, &includes[i])
		}
	}

	s.addPageLinks(bundle, snapshot, offset)
	return bundle, nil
}

// addPageLinks writes self, first, previous, next and last links against
// the snapshot.
func (s *Service) addPageLinks(bundle *fhir.Bundle, snapshot *store.Snapshot, offset int) {
	self := s.base + "/" + snapshot.ResourceType
	if len(snapshot.Criteria) > 0 {
		self += "?" + strings.Join(snapshot.Criteria, "&")
	}
	bundle.AddLink("self", self)

	total, size := len(snapshot.Keys), snapshot.PageSize
	if size <= 0 || total <= size {
		return
	}
	pageURL := func(off int) string {
		return fmt.Sprintf("%s/%s?_snapshot=%s&_offset=%d", s.base, snapshot.ResourceType, snapshot.ID, off)
	}
	bundle.AddLink("first", pageURL(0))
	if offset > 0 {
		prev := offset - size
		if prev < 0 {
			prev = 0
		}
		bundle.AddLink("previous", pageURL(prev))
	}
	if offset+size < total {
		bundle.AddLink("next", pageURL(offset+size))
	}
	last := ((total - 1) / size) * size
	bundle.AddLink("last", pageURL(last))
}
