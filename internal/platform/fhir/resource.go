package fhir

import (
	"encoding/json"
	"fmt"
	"time"
)

// Meta mirrors the FHIR Resource.meta element maintained by the server.
type Meta struct {
	VersionID   string    `json:"versionId,omitempty"`
	LastUpdated time.Time `json:"lastUpdated,omitempty"`
}

type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

// ResourceType returns the resourceType field of a raw resource body,
// or "" when absent.
func ResourceType(resource map[string]interface{}) string {
	rt, _ := resource["resourceType"].(string)
	return rt
}

// ResourceID returns the id field of a raw resource body, or "" when absent.
func ResourceID(resource map[string]interface{}) string {
	id, _ := resource["id"].(string)
	return id
}

// StampResource writes the server-assigned identity and version metadata
// into a raw resource body before it is persisted.
func StampResource(resource map[string]interface{}, key Key, when time.Time) {
	resource["id"] = key.ResourceID
	meta, _ := resource["meta"].(map[string]interface{})
	if meta == nil {
		meta = map[string]interface{}{}
	}
	meta["versionId"] = fmt.Sprintf("%d", key.VersionID)
	meta["lastUpdated"] = when.UTC().Format(time.RFC3339)
	resource["meta"] = meta
}

// ContainedResources returns the contained resources of a body, skipping
// anything that is not an object.
func ContainedResources(resource map[string]interface{}) []map[string]interface{} {
	raw, _ := resource["contained"].([]interface{})
	if len(raw) == 0 {
		return nil
	}
	out := make([]map[string]interface{}, 0, len(raw))
	for _, c := range raw {
		if m, ok := c.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out
}

// CloneResource deep-copies a raw resource body via JSON round-trip.
// Used where a caller must not observe later mutations.
func CloneResource(resource map[string]interface{}) map[string]interface{} {
	if resource == nil {
		return nil
	}
	raw, err := json.Marshal(resource)
	if err != nil {
		return nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
