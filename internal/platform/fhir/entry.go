package fhir

import (
	"fmt"
	"time"
)

// State describes whether an interaction left the resource present or deleted.
type State int

const (
	StatePresent State = iota
	StateDeleted
)

func (s State) String() string {
	switch s {
	case StatePresent:
		return "present"
	case StateDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Interaction methods recorded on history entries.
const (
	MethodCreate = "create"
	MethodUpdate = "update"
	MethodDelete = "delete"
)

// Entry is one versioned interaction for a resource identity: a create,
// update or delete. Entries are append-only; a delete is recorded as a
// tombstone entry with no body.
type Entry struct {
	Key      Key
	State    State
	Method   string
	When     time.Time
	Resource map[string]interface{}
}

// NewPresentEntry creates an entry for a create or update carrying a body.
func NewPresentEntry(key Key, method string, resource map[string]interface{}) *Entry {
	return &Entry{
		Key:      key,
		State:    StatePresent,
		Method:   method,
		When:     time.Now().UTC(),
		Resource: resource,
	}
}

// NewDeletedEntry creates a tombstone entry for a logical delete.
func NewDeletedEntry(key Key) *Entry {
	return &Entry{
		Key:    key,
		State:  StateDeleted,
		Method: MethodDelete,
		When:   time.Now().UTC(),
	}
}

// IsDeleted reports whether the entry is a tombstone.
func (e *Entry) IsDeleted() bool { return e.State == StateDeleted }

// SelfLink returns the versioned relative path of the entry.
func (e *Entry) SelfLink() string { return e.Key.String() }
