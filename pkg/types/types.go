// Package types defines the core domain types for the overlay shim.
package types

// Location identifies which layer, if any, answers an access to a
// relative path.
type Location int

const (
	// LocAbsent means no layer has an entry and no whiteout exists.
	LocAbsent Location = iota
	// LocLower means the read-only lower tree answers the access.
	LocLower
	// LocUpper means the writable upper tree answers the access.
	LocUpper
	// LocDeleted means a whiteout masks an otherwise-existing lower
	// entry; the path is treated as not found.
	LocDeleted
)

// String returns a human-readable name for the location.
func (l Location) String() string {
	switch l {
	case LocAbsent:
		return "absent"
	case LocLower:
		return "lower"
	case LocUpper:
		return "upper"
	case LocDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Visible reports whether a path at this location is part of the
// merged view.
func (l Location) Visible() bool {
	return l == LocLower || l == LocUpper
}

// EntryKind classifies a directory entry in the merged view.
type EntryKind string

const (
	KindFile      EntryKind = "file"
	KindDirectory EntryKind = "directory"
	KindOther     EntryKind = "other" // symlinks, devices, sockets, ...
)

// DirEntry is a single name in a merged directory listing.
type DirEntry struct {
	Name string    `json:"name"`
	Kind EntryKind `json:"kind"`
}

// Change describes a divergence of the upper tree from the lower tree.
type Change struct {
	// Path is the relative path of the changed entry.
	Path string `json:"path"`
	// Deleted is true for whiteouts, false for additions/modifications.
	Deleted bool `json:"deleted"`
}
