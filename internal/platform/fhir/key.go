package fhir

import (
	"fmt"
	"strconv"
	"strings"
)

// Key identifies a stored resource. VersionID 0 means "no specific version",
// i.e. the current version. Base is the server base a key was parsed against
// and is empty for local keys.
type Key struct {
	Base       string
	TypeName   string
	ResourceID string
	VersionID  int
}

// NewKey creates an unversioned key for a resource identity.
func NewKey(typeName, resourceID string) Key {
	return Key{TypeName: typeName, ResourceID: resourceID}
}

// NewVersionedKey creates a key pinned to a specific version.
func NewVersionedKey(typeName, resourceID string, versionID int) Key {
	return Key{TypeName: typeName, ResourceID: resourceID, VersionID: versionID}
}

// ParseKey parses a relative FHIR path into a Key.
// Accepted forms: "Patient/8" and "Patient/8/_history/3".
func ParseKey(path string) (Key, error) {
	path = strings.Trim(path, "/")
	parts := strings.Split(path, "/")
	switch len(parts) {
	case 2:
		if parts[0] == "" || parts[1] == "" {
			return Key{}, fmt.Errorf("invalid resource path %q", path)
		}
		return Key{TypeName: parts[0], ResourceID: parts[1]}, nil
	case 4:
		if parts[2] != "_history" {
			return Key{}, fmt.Errorf("invalid resource path %q", path)
		}
		v, err := strconv.Atoi(parts[3])
		if err != nil || v <= 0 {
			return Key{}, fmt.Errorf("invalid version id %q in path %q", parts[3], path)
		}
		return Key{TypeName: parts[0], ResourceID: parts[1], VersionID: v}, nil
	default:
		return Key{}, fmt.Errorf("invalid resource path %q", path)
	}
}

// HasVersion reports whether the key pins a specific version.
func (k Key) HasVersion() bool { return k.VersionID > 0 }

// WithoutVersion returns the key reduced to its resource identity.
func (k Key) WithoutVersion() Key {
	k.VersionID = 0
	k.Base = ""
	return k
}

// WithVersion returns a copy of the key pinned to the given version.
func (k Key) WithVersion(v int) Key {
	k.VersionID = v
	return k
}

// SameIdentity reports whether two keys name the same (typeName, resourceId).
func (k Key) SameIdentity(other Key) bool {
	return k.TypeName == other.TypeName && k.ResourceID == other.ResourceID
}

// Identity returns the "Type/id" form regardless of version.
func (k Key) Identity() string {
	return k.TypeName + "/" + k.ResourceID
}

// String returns the relative path form of the key, including the
// _history segment when a version is pinned.
func (k Key) String() string {
	if k.HasVersion() {
		return fmt.Sprintf("%s/%s/_history/%d", k.TypeName, k.ResourceID, k.VersionID)
	}
	return k.Identity()
}

// IsEmpty reports whether the key carries no identity at all.
func (k Key) IsEmpty() bool {
	return k.TypeName == "" && k.ResourceID == ""
}
