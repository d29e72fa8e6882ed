package sharing

import (
	"errors"
	"sync"

	"inkwell/api/internal/audit"
	"inkwell/api/internal/item"
)

// ItemDirectory is the slice of the item store the engine consumes. The
// engine only ever reads items; it never writes them.
type ItemDirectory interface {
	ReadMetadata(owner, category, id string) (item.Metadata, error)
	FindByUUID(uuid, ownerHint string) (item.Location, error)
	FindByLocation(id, category string) (item.Location, error)
	Exists(owner, category, id string) bool
}

// Engine combines the grant store, the item directory, and the audit sink.
// Mutating operations on one item type's store are serialized by a per-type
// mutex so concurrent read-modify-write cycles cannot lose updates.
type Engine struct {
	items ItemDirectory
	store Store
	audit audit.Sink

	noteMu      sync.Mutex
	checklistMu sync.Mutex
}

func New(items ItemDirectory, store Store, sink audit.Sink) *Engine {
	if sink == nil {
		sink = audit.LogSink{}
	}
	return &Engine{items: items, store: store, audit: sink}
}

func (e *Engine) lockFor(itemType item.Type) *sync.Mutex {
	if itemType == item.TypeChecklist {
		return &e.checklistMu
	}
	return &e.noteMu
}

// resolveUUID reads the item's stored metadata from the item store. It never
// consults the grant store. ErrNotPersisted means the item has no saved
// metadata yet, which callers surface as "save the item first".
func (e *Engine) resolveUUID(itemType item.Type, id, category, owner string) (string, error) {
	meta, err := e.items.ReadMetadata(owner, category, id)
	if err != nil {
		if errors.Is(err, item.ErrNotFound) {
			return "", ErrNotPersisted
		}
		return "", err
	}
	if meta.UUID == "" || meta.Type != itemType {
		return "", ErrNotPersisted
	}
	return meta.UUID, nil
}

// findGrant scans a receiver's list with the documented priority: an exact
// UUID match always wins; the cached (id, category) location is only a
// fallback for when no UUID match exists.
func findGrant(list []Grant, uuid, id, category string) int {
	if uuid != "" {
		for i := range list {
			if list[i].UUID == uuid {
				return i
			}
		}
	}
	if id != "" {
		for i := range list {
			if list[i].ID == id && list[i].Category == category {
				return i
			}
		}
	}
	return -1
}

// grantForReceiver looks in the receiver's own bucket first, then the public
// bucket: a public grant is visible to every authenticated user.
func grantForReceiver(grants GrantSet, receiver, uuid, id, category string) *Grant {
	if receiver != "" {
		if i := findGrant(grants[receiver], uuid, id, category); i >= 0 {
			return &grants[receiver][i]
		}
	}
	if i := findGrant(grants[PublicReceiver], uuid, id, category); i >= 0 {
		return &grants[PublicReceiver][i]
	}
	return nil
}
