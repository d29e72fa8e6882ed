package sharing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"inkwell/api/internal/audit"
	"inkwell/api/internal/item"
)

// ShareWith grants receiver access to the sharer's item. Re-sharing the same
// item to the same receiver replaces the existing record's permissions
// instead of appending a duplicate, so the call is idempotent.
func (e *Engine) ShareWith(ctx context.Context, id, category, sharer, receiver string, itemType item.Type, perms Permissions) error {
	err := e.shareWith(id, category, sharer, receiver, itemType, perms)
	e.record(ctx, "share", sharer, itemType, id, receiver, err)
	return err
}

func (e *Engine) shareWith(id, category, sharer, receiver string, itemType item.Type, perms Permissions) error {
	receiver = strings.TrimSpace(receiver)
	if receiver == "" {
		return fmt.Errorf("receiver is required")
	}
	category = item.NormalizeCategory(category)

	uuid, err := e.resolveUUID(itemType, id, category, sharer)
	if err != nil {
		return err
	}

	mu := e.lockFor(itemType)
	mu.Lock()
	defer mu.Unlock()

	grants, err := e.store.Load(itemType)
	if err != nil {
		return err
	}

	list := grants[receiver]
	if i := findGrant(list, uuid, "", ""); i >= 0 {
		list[i].Permissions = perms
		// Refresh the cached location while we are here.
		list[i].ID = id
		list[i].Category = category
		list[i].Sharer = sharer
	} else {
		list = append(list, Grant{
			UUID:        uuid,
			ID:          id,
			Category:    category,
			Sharer:      sharer,
			Permissions: perms,
		})
	}
	grants[receiver] = list

	return e.store.Save(itemType, grants)
}

// UnshareWith removes receiver's grant for the item. Removing a grant that
// does not exist is a successful no-op.
func (e *Engine) UnshareWith(ctx context.Context, id, category, sharer, receiver string, itemType item.Type) error {
	err := e.unshareWith(id, category, sharer, receiver, itemType)
	e.record(ctx, "unshare", sharer, itemType, id, receiver, err)
	return err
}

func (e *Engine) unshareWith(id, category, sharer, receiver string, itemType item.Type) error {
	category = item.NormalizeCategory(category)

	// Best effort: the item may already be gone, in which case the cached
	// (id, category) fallback below still finds the record.
	uuid, err := e.resolveUUID(itemType, id, category, sharer)
	if err != nil && !errors.Is(err, ErrNotPersisted) {
		return err
	}

	mu := e.lockFor(itemType)
	mu.Lock()
	defer mu.Unlock()

	grants, err := e.store.Load(itemType)
	if err != nil {
		return err
	}

	list, ok := grants[receiver]
	if !ok {
		return nil
	}
	i := findGrant(list, uuid, id, category)
	if i < 0 {
		return nil
	}

	list = append(list[:i], list[i+1:]...)
	if len(list) == 0 {
		delete(grants, receiver)
	} else {
		grants[receiver] = list
	}
	return e.store.Save(itemType, grants)
}

// UpdateItemPermissions overwrites the permission triple on an existing
// grant. Unlike UnshareWith, a missing grant is a hard failure. The actor is
// only used for the audit trail.
func (e *Engine) UpdateItemPermissions(ctx context.Context, id, category string, itemType item.Type, receiver string, perms Permissions, actor string) error {
	err := e.updateItemPermissions(id, category, itemType, receiver, perms)
	e.record(ctx, "update-permissions", actor, itemType, id, receiver, err)
	return err
}

func (e *Engine) updateItemPermissions(id, category string, itemType item.Type, receiver string, perms Permissions) error {
	category = item.NormalizeCategory(category)

	uuid := ""
	if loc, err := e.items.FindByLocation(id, category); err == nil {
		if meta, err := e.items.ReadMetadata(loc.Owner, loc.Category, loc.ID); err == nil {
			uuid = meta.UUID
		}
	}

	mu := e.lockFor(itemType)
	mu.Lock()
	defer mu.Unlock()

	grants, err := e.store.Load(itemType)
	if err != nil {
		return err
	}

	list := grants[receiver]
	i := findGrant(list, uuid, id, category)
	if i < 0 {
		return ErrNotShared
	}
	list[i].Permissions = perms
	grants[receiver] = list

	return e.store.Save(itemType, grants)
}

func (e *Engine) record(ctx context.Context, action, actor string, itemType item.Type, itemID, receiver string, err error) {
	event := audit.Event{
		Action:   action,
		Actor:    actor,
		ItemType: string(itemType),
		ItemID:   itemID,
		Receiver: receiver,
		Success:  err == nil,
	}
	if err != nil {
		event.Error = err.Error()
	}
	e.audit.Record(ctx, event)
}
