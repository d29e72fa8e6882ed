// Package sharing implements the content sharing and permission resolution
// engine. It decides, for any (actor, item, action) triple, whether the actor
// may read, edit, or delete an item they do not own, and keeps grant records
// consistent as items are renamed, moved, deleted, or re-owned.
package sharing

import "errors"

// PublicReceiver is the sentinel receiver key whose grants are visible to
// every authenticated user.
const PublicReceiver = "public"

type Action string

const (
	ActionRead   Action = "read"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
)

type Permissions struct {
	CanRead   bool `json:"canRead"`
	CanEdit   bool `json:"canEdit"`
	CanDelete bool `json:"canDelete"`
}

// DefaultPermissions is what a plain share grants: read-only.
func DefaultPermissions() Permissions {
	return Permissions{CanRead: true}
}

// Grant is one sharer→receiver permission record for one item. UUID is the
// durable identity; ID and Category are a cache of the last known location,
// consulted only when a UUID match misses.
type Grant struct {
	UUID        string      `json:"uuid"`
	ID          string      `json:"id"`
	Category    string      `json:"category"`
	Sharer      string      `json:"sharer"`
	Permissions Permissions `json:"permissions"`
}

// GrantSet maps receiver username (or PublicReceiver) to that receiver's
// grants. Every present key holds a non-empty slice; removals that empty a
// slice delete the key.
type GrantSet map[string][]Grant

// Actor is the authenticated identity permission checks run against. The
// engine never authenticates; the session layer supplies this.
type Actor struct {
	Username string
	Admin    bool
}

// Ref identifies an item for consistency passes. A Ref with an empty ID (and
// UUID) addresses every grant created by Sharer, for bulk sharer renames.
type Ref struct {
	UUID     string
	ID       string
	Category string
	Sharer   string
}

var (
	// ErrNotPersisted means sharing was attempted before the item's first
	// save, so no UUID exists yet. User-actionable.
	ErrNotPersisted = errors.New("item needs to be saved first")

	// ErrNotShared means a permission update targeted a receiver that holds
	// no grant for the item.
	ErrNotShared = errors.New("item not shared with this user")
)

func permissionFor(perms Permissions, action Action) bool {
	switch action {
	case ActionRead:
		return perms.CanRead
	case ActionEdit:
		return perms.CanEdit
	case ActionDelete:
		return perms.CanDelete
	default:
		return false
	}
}
