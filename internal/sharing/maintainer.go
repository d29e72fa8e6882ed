package sharing

import (
	"inkwell/api/internal/item"
)

// UpdateSharingData propagates a change to an item's identity, location, or
// owning sharer into every grant that references it. Call it whenever an item
// is renamed, moved, transferred, or deleted (newRef nil).
//
// Two matching modes:
//   - single item: oldRef names an item (UUID preferred, cached id+category
//     when the caller has no UUID);
//   - bulk sharer rename: oldRef has no ID, and every record whose sharer equals
//     oldRef.Sharer is rewritten, regardless of item.
//
// The grant file is only rewritten when at least one record actually changed.
func (e *Engine) UpdateSharingData(itemType item.Type, oldRef Ref, newRef *Ref) error {
	oldRef.Category = normalizeRefCategory(oldRef.ID, oldRef.Category)

	mu := e.lockFor(itemType)
	mu.Lock()
	defer mu.Unlock()

	grants, err := e.store.Load(itemType)
	if err != nil {
		return err
	}

	dirty := false
	for receiver, list := range grants {
		kept := list[:0]
		for _, grant := range list {
			if !matchesRef(grant, oldRef) {
				kept = append(kept, grant)
				continue
			}
			if newRef == nil {
				dirty = true
				continue
			}
			if rewriteGrant(&grant, oldRef, *newRef) {
				dirty = true
			}
			kept = append(kept, grant)
		}
		if len(kept) == 0 {
			delete(grants, receiver)
			continue
		}
		grants[receiver] = kept
	}

	if !dirty {
		return nil
	}
	return e.store.Save(itemType, grants)
}

func normalizeRefCategory(id, category string) string {
	if id == "" {
		return category
	}
	return item.NormalizeCategory(category)
}

func matchesRef(grant Grant, oldRef Ref) bool {
	if oldRef.ID == "" && oldRef.UUID == "" {
		return oldRef.Sharer != "" && grant.Sharer == oldRef.Sharer
	}
	if oldRef.UUID != "" {
		return grant.UUID == oldRef.UUID
	}
	return grant.ID == oldRef.ID && grant.Category == oldRef.Category
}

// rewriteGrant applies the fields that differ between oldRef and newRef,
// leaving the UUID and permissions untouched. Reports whether the record
// actually changed.
func rewriteGrant(grant *Grant, oldRef, newRef Ref) bool {
	changed := false
	if newRef.ID != oldRef.ID && newRef.ID != "" && grant.ID != newRef.ID {
		grant.ID = newRef.ID
		changed = true
	}
	if newRef.Category != oldRef.Category && newRef.Category != "" && grant.Category != newRef.Category {
		grant.Category = newRef.Category
		changed = true
	}
	if newRef.Sharer != oldRef.Sharer && newRef.Sharer != "" && grant.Sharer != newRef.Sharer {
		grant.Sharer = newRef.Sharer
		changed = true
	}
	return changed
}

// UpdateReceiverUsername moves a receiver's whole grant list to a new key,
// preserving every record verbatim. A receiver with no entries is a no-op and
// must not leave an empty key behind.
func (e *Engine) UpdateReceiverUsername(oldUsername, newUsername string, itemType item.Type) error {
	mu := e.lockFor(itemType)
	mu.Lock()
	defer mu.Unlock()

	grants, err := e.store.Load(itemType)
	if err != nil {
		return err
	}

	moved, ok := grants[oldUsername]
	if !ok || len(moved) == 0 {
		delete(grants, oldUsername)
		return nil
	}
	// Grants may already exist under the new name, e.g. left over from a
	// deleted account. The moved records are the live ones, so colliding
	// (sharer, uuid) entries under the new key are dropped to keep at most
	// one grant per sharer and item.
	existing := grants[newUsername]
	if len(existing) > 0 {
		incoming := make(map[string]struct{}, len(moved))
		for _, g := range moved {
			incoming[g.Sharer+"\x00"+g.UUID] = struct{}{}
		}
		kept := existing[:0]
		for _, g := range existing {
			if _, dup := incoming[g.Sharer+"\x00"+g.UUID]; !dup {
				kept = append(kept, g)
			}
		}
		existing = kept
	}
	grants[newUsername] = append(existing, moved...)
	delete(grants, oldUsername)

	return e.store.Save(itemType, grants)
}
