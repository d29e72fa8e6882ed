package sharing

import (
	"log"

	"inkwell/api/internal/item"
)

// CheckUserPermission answers "may actor perform action on this item". The
// decision order is load-bearing and must not be reordered:
//
//  1. global admin
//  2. the item exists under the actor's own storage area
//  3. resolve the item's current owner, UUID-indexed lookup first, then the
//     (id, category) index; unresolvable owner denies
//  4. actor is the resolved owner
//  5. actor's grant record, UUID match before cached-location match
//
// The check never panics or propagates errors: any internal failure resolves
// to a denial.
func (e *Engine) CheckUserPermission(id, category string, itemType item.Type, actor Actor, action Action) (allowed bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf(`{"level":"ERROR","msg":"permission check panic","item":%q,"detail":"%v"}`, id, r)
			allowed = false
		}
	}()

	if actor.Admin {
		return true
	}
	if actor.Username == "" {
		return false
	}
	category = item.NormalizeCategory(category)

	if e.items.Exists(actor.Username, category, id) {
		return true
	}

	grants, err := e.store.Load(itemType)
	if err != nil {
		return false
	}

	owner, uuid := e.resolveOwner(grants, actor.Username, id, category)
	if owner == "" {
		return false
	}
	if owner == actor.Username {
		return true
	}

	grant := grantForReceiver(grants, actor.Username, uuid, id, category)
	if grant == nil {
		return false
	}
	return permissionFor(grant.Permissions, action)
}

// resolveOwner determines the item's current owner and, when possible, its
// UUID. The UUID-indexed path goes through the actor's grant record (the only
// place a non-owner learns the UUID from); the (id, category) index over the
// item tree is the fallback for items the actor holds no usable grant for.
func (e *Engine) resolveOwner(grants GrantSet, username, id, category string) (owner, uuid string) {
	if cached := grantForReceiver(grants, username, "", id, category); cached != nil && cached.UUID != "" {
		if loc, err := e.items.FindByUUID(cached.UUID, ""); err == nil {
			return loc.Owner, cached.UUID
		}
	}

	loc, err := e.items.FindByLocation(id, category)
	if err != nil {
		return "", ""
	}
	if meta, err := e.items.ReadMetadata(loc.Owner, loc.Category, loc.ID); err == nil {
		uuid = meta.UUID
	}
	return loc.Owner, uuid
}

// SharedLocation resolves the current location of an item actor reaches
// through sharing. The grant's UUID is consulted first so access keeps
// working when the cached (id, category) went stale after a move. Nothing is
// returned unless the read check passes.
func (e *Engine) SharedLocation(id, category string, itemType item.Type, actor Actor) (item.Location, bool) {
	if !e.CanUserReadItem(id, category, itemType, actor) {
		return item.Location{}, false
	}
	category = item.NormalizeCategory(category)
	if grants, err := e.store.Load(itemType); err == nil {
		if cached := grantForReceiver(grants, actor.Username, "", id, category); cached != nil && cached.UUID != "" {
			if loc, err := e.items.FindByUUID(cached.UUID, ""); err == nil {
				return loc, true
			}
		}
	}
	if loc, err := e.items.FindByLocation(id, category); err == nil {
		return loc, true
	}
	return item.Location{}, false
}

// CanUserReadItem reports whether actor may read the item. It agrees with
// CheckUserPermission(..., ActionRead) bit for bit.
func (e *Engine) CanUserReadItem(id, category string, itemType item.Type, actor Actor) bool {
	return e.CheckUserPermission(id, category, itemType, actor, ActionRead)
}

func (e *Engine) CanUserWriteItem(id, category string, itemType item.Type, actor Actor) bool {
	return e.CheckUserPermission(id, category, itemType, actor, ActionEdit)
}

func (e *Engine) CanUserDeleteItem(id, category string, itemType item.Type, actor Actor) bool {
	return e.CheckUserPermission(id, category, itemType, actor, ActionDelete)
}

// GetItemPermissions returns the raw permission triple granted to actor, or
// nil when the item is not shared with them. It is not adjusted for ownership
// or admin status; the UI uses it to render affordances, not to gate access.
func (e *Engine) GetItemPermissions(id, category string, itemType item.Type, actor Actor) *Permissions {
	grant := e.lookup(id, category, itemType, actor)
	if grant == nil {
		return nil
	}
	perms := grant.Permissions
	return &perms
}

// IsItemSharedWith reports whether any grant exists for actor on this item,
// ignoring the flag values. Drives "visible in shared views", not access.
func (e *Engine) IsItemSharedWith(id, category string, itemType item.Type, actor Actor) bool {
	return e.lookup(id, category, itemType, actor) != nil
}

func (e *Engine) lookup(id, category string, itemType item.Type, actor Actor) (grant *Grant) {
	defer func() {
		if recover() != nil {
			grant = nil
		}
	}()

	category = item.NormalizeCategory(category)
	grants, err := e.store.Load(itemType)
	if err != nil {
		return nil
	}

	uuid := ""
	if loc, err := e.items.FindByLocation(id, category); err == nil {
		if meta, err := e.items.ReadMetadata(loc.Owner, loc.Category, loc.ID); err == nil {
			uuid = meta.UUID
		}
	}
	return grantForReceiver(grants, actor.Username, uuid, id, category)
}
