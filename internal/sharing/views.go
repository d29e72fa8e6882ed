package sharing

import "sort"

// SharedItems is the per-user dashboard view: everything shared directly with
// one receiver, split by item type.
type SharedItems struct {
	Notes      []Grant `json:"notes"`
	Checklists []Grant `json:"checklists"`
}

// AllSharedItemsForUser returns the receiver-keyed grant lists for user from
// both stores. Absent receivers come back as empty lists, never nil.
func (e *Engine) AllSharedItemsForUser(user string) (SharedItems, error) {
	notes, checklists, err := e.store.LoadAll()
	if err != nil {
		return SharedItems{}, err
	}
	view := SharedItems{
		Notes:      append([]Grant{}, notes[user]...),
		Checklists: append([]Grant{}, checklists[user]...),
	}
	return view, nil
}

// ItemRef is a deduplicated (id, category) reference for global views.
type ItemRef struct {
	ID       string `json:"id"`
	Category string `json:"category"`
}

type PublicSharedItems struct {
	Notes      []ItemRef `json:"notes"`
	Checklists []ItemRef `json:"checklists"`
}

// GlobalSharedItems is the admin dashboard view: every shared item across all
// receivers, with the public bucket reported separately.
type GlobalSharedItems struct {
	Notes      []ItemRef         `json:"notes"`
	Checklists []ItemRef         `json:"checklists"`
	Public     PublicSharedItems `json:"public"`
}

// AllSharedItems flattens every receiver's records into one
// deduplicated-by-(id, category) list per item type. Records missing both id
// and category carry no renderable reference and are skipped.
func (e *Engine) AllSharedItems() (GlobalSharedItems, error) {
	notes, checklists, err := e.store.LoadAll()
	if err != nil {
		return GlobalSharedItems{}, err
	}
	return GlobalSharedItems{
		Notes:      flattenGrants(notes, false),
		Checklists: flattenGrants(checklists, false),
		Public: PublicSharedItems{
			Notes:      flattenGrants(notes, true),
			Checklists: flattenGrants(checklists, true),
		},
	}, nil
}

func flattenGrants(grants GrantSet, publicBucket bool) []ItemRef {
	receivers := make([]string, 0, len(grants))
	for receiver := range grants {
		if (receiver == PublicReceiver) == publicBucket {
			receivers = append(receivers, receiver)
		}
	}
	sort.Strings(receivers)

	refs := make([]ItemRef, 0)
	seen := map[ItemRef]struct{}{}
	for _, receiver := range receivers {
		for _, grant := range grants[receiver] {
			if grant.ID == "" && grant.Category == "" {
				continue
			}
			ref := ItemRef{ID: grant.ID, Category: grant.Category}
			if _, dup := seen[ref]; dup {
				continue
			}
			seen[ref] = struct{}{}
			refs = append(refs, ref)
		}
	}
	return refs
}
