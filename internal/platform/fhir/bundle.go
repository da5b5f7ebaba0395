package fhir

import (
	"time"
)

// Bundle represents a FHIR Bundle resource assembled by the server for
// search results, history feeds and transaction responses.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id,omitempty"`
	Type         string        `json:"type"`
	Total        *int          `json:"total,omitempty"`
	Link         []BundleLink  `json:"link,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
	Timestamp    *time.Time    `json:"timestamp,omitempty"`
}

type BundleLink struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}

type BundleEntry struct {
	FullURL  string                 `json:"fullUrl,omitempty"`
	Resource map[string]interface{} `json:"resource,omitempty"`
	Search   *BundleSearch          `json:"search,omitempty"`
	Request  *BundleRequest         `json:"request,omitempty"`
	Response *BundleResponse        `json:"response,omitempty"`
}

type BundleSearch struct {
	Mode string `json:"mode,omitempty"`
}

type BundleRequest struct {
	Method      string `json:"method"`
	URL         string `json:"url"`
	IfMatch     string `json:"ifMatch,omitempty"`
	IfNoneExist string `json:"ifNoneExist,omitempty"`
}

type BundleResponse struct {
	Status       string            `json:"status"`
	Location     string            `json:"location,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	LastModified *time.Time        `json:"lastModified,omitempty"`
	Outcome      *OperationOutcome `json:"outcome,omitempty"`
}

// NewBundle creates an empty bundle of the given type stamped with the
// current time.
func NewBundle(bundleType string) *Bundle {
	now := time.Now().UTC()
	return &Bundle{
		ResourceType: "Bundle",
		Type:         bundleType,
		Timestamp:    &now,
	}
}

// AddLink appends a link with the given relation.
func (b *Bundle) AddLink(relation, url string) {
	b.Link = append(b.Link, BundleLink{Relation: relation, URL: url})
}

// SetTotal sets the bundle total.
func (b *Bundle) SetTotal(n int) {
	b.Total = &n
}

// MatchEntry appends a search-mode "match" entry for a stored resource.
func (b *Bundle) MatchEntry(base string, entry *Entry) {
	b.addSearchEntry(base, entry, "match")
}

// IncludeEntry appends a search-mode "include" entry for a resource pulled
// in via _include or _revinclude.
func (b *Bundle) IncludeEntry(base string, entry *Entry) {
	b.addSearchEntry(base, entry, "include")
}

func (b *Bundle) addSearchEntry(base string, entry *Entry, mode string) {
	full := entry.Key.Identity()
	if base != "" {
		full = base + "/" + full
	}
	b.Entry = append(b.Entry, BundleEntry{
		FullURL:  full,
		Resource: entry.Resource,
		Search:   &BundleSearch{Mode: mode},
	})
}

// HistoryEntry appends a history-mode entry including the request that
// produced the version and the response metadata.
func (b *Bundle) HistoryEntry(base string, entry *Entry) {
	method := "PUT"
	status := "200 OK"
	switch entry.Method {
	case MethodCreate:
		method = "POST"
		status = "201 Created"
	case MethodDelete:
		method = "DELETE"
		status = "204 No Content"
	}
	full := entry.Key.Identity()
	if base != "" {
		full = base + "/" + full
	}
	when := entry.When
	b.Entry = append(b.Entry, BundleEntry{
		FullURL:  full,
		Resource: entry.Resource,
		Request: &BundleRequest{
			Method: method,
			URL:    entry.Key.Identity(),
		},
		Response: &BundleResponse{
			Status:       status,
			ETag:         FormatETag(entry.Key.VersionID),
			LastModified: &when,
		},
	})
}
