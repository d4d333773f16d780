// Package mapping implements the control relationship mapping engine: side
// membership, candidate grouping, and the association diff used to persist
// incremental changes.
package mapping

import "github.com/Ramsey-B/clover/pkg/models"

// Relation keys of an association map. Each key is diffed independently.
const (
	KeyFromControlIDs    = "fromControlIDs"
	KeyToControlIDs      = "toControlIDs"
	KeyFromSubcontrolIDs = "fromSubcontrolIDs"
	KeyToSubcontrolIDs   = "toSubcontrolIDs"
)

// AssociationMap is the scalar-ID snapshot of a mapping's membership, keyed
// by relation key. It is the shape the diff engine operates over, both for
// the persisted "initial" snapshot and the in-memory "current" one.
type AssociationMap map[string][]string

// Clone returns a deep copy of the map
func (m AssociationMap) Clone() AssociationMap {
	out := make(AssociationMap, len(m))
	for key, ids := range m {
		cp := make([]string, len(ids))
		copy(cp, ids)
		out[key] = cp
	}
	return out
}

// Diff computes, per relation key present in either snapshot, the members
// added and removed going from initial to current. Added members keep
// current's order; removed members keep initial's order. Keys whose result
// would be empty are omitted entirely.
func Diff(initial, current AssociationMap) (added, removed AssociationMap) {
	added = AssociationMap{}
	removed = AssociationMap{}

	keys := make(map[string]struct{}, len(initial)+len(current))
	for key := range initial {
		keys[key] = struct{}{}
	}
	for key := range current {
		keys[key] = struct{}{}
	}

	for key := range keys {
		initialSet := toSet(initial[key])
		currentSet := toSet(current[key])

		var addedIDs []string
		for _, id := range current[key] {
			if _, ok := initialSet[id]; !ok {
				addedIDs = append(addedIDs, id)
			}
		}

		var removedIDs []string
		for _, id := range initial[key] {
			if _, ok := currentSet[id]; !ok {
				removedIDs = append(removedIDs, id)
			}
		}

		if len(addedIDs) > 0 {
			added[key] = addedIDs
		}
		if len(removedIDs) > 0 {
			removed[key] = removedIDs
		}
	}

	return added, removed
}

// Apply produces the snapshot that results from applying an add/remove delta
// to initial. Used to verify diff idempotence and by the in-memory session
// refresh after a successful update.
func Apply(initial, added, removed AssociationMap) AssociationMap {
	next := initial.Clone()

	for key, ids := range removed {
		drop := toSet(ids)
		kept := next[key][:0:0]
		for _, id := range next[key] {
			if _, ok := drop[id]; !ok {
				kept = append(kept, id)
			}
		}
		next[key] = kept
	}

	for key, ids := range added {
		existing := toSet(next[key])
		for _, id := range ids {
			if _, ok := existing[id]; !ok {
				next[key] = append(next[key], id)
				existing[id] = struct{}{}
			}
		}
	}

	for key, ids := range next {
		if len(ids) == 0 {
			delete(next, key)
		}
	}

	return next
}

// SnapshotFromRecord builds the association map of a persisted mapped control
func SnapshotFromRecord(record *models.MappedControl) AssociationMap {
	snapshot := AssociationMap{}
	if len(record.FromControlIDs) > 0 {
		snapshot[KeyFromControlIDs] = append([]string(nil), record.FromControlIDs...)
	}
	if len(record.FromSubcontrolIDs) > 0 {
		snapshot[KeyFromSubcontrolIDs] = append([]string(nil), record.FromSubcontrolIDs...)
	}
	if len(record.ToControlIDs) > 0 {
		snapshot[KeyToControlIDs] = append([]string(nil), record.ToControlIDs...)
	}
	if len(record.ToSubcontrolIDs) > 0 {
		snapshot[KeyToSubcontrolIDs] = append([]string(nil), record.ToSubcontrolIDs...)
	}
	return snapshot
}

// BuildUpdatePayload renames each relation key by prefixing add/remove to
// match the persistence request shape. Keys absent from the diff stay absent
// from the payload so an empty list is never sent.
func BuildUpdatePayload(added, removed AssociationMap) models.UpdateMappedControlRequest {
	return models.UpdateMappedControlRequest{
		AddFromControlIDs:       added[KeyFromControlIDs],
		RemoveFromControlIDs:    removed[KeyFromControlIDs],
		AddToControlIDs:         added[KeyToControlIDs],
		RemoveToControlIDs:      removed[KeyToControlIDs],
		AddFromSubcontrolIDs:    added[KeyFromSubcontrolIDs],
		RemoveFromSubcontrolIDs: removed[KeyFromSubcontrolIDs],
		AddToSubcontrolIDs:      added[KeyToSubcontrolIDs],
		RemoveToSubcontrolIDs:   removed[KeyToSubcontrolIDs],
	}
}

// DeltaFromUpdatePayload is the inverse of BuildUpdatePayload. Empty lists
// are omitted from the resulting maps.
func DeltaFromUpdatePayload(req models.UpdateMappedControlRequest) (added, removed AssociationMap) {
	added = AssociationMap{}
	removed = AssociationMap{}

	put := func(m AssociationMap, key string, ids []string) {
		if len(ids) > 0 {
			m[key] = append([]string(nil), ids...)
		}
	}

	put(added, KeyFromControlIDs, req.AddFromControlIDs)
	put(added, KeyToControlIDs, req.AddToControlIDs)
	put(added, KeyFromSubcontrolIDs, req.AddFromSubcontrolIDs)
	put(added, KeyToSubcontrolIDs, req.AddToSubcontrolIDs)
	put(removed, KeyFromControlIDs, req.RemoveFromControlIDs)
	put(removed, KeyToControlIDs, req.RemoveToControlIDs)
	put(removed, KeyFromSubcontrolIDs, req.RemoveFromSubcontrolIDs)
	put(removed, KeyToSubcontrolIDs, req.RemoveToSubcontrolIDs)

	return added, removed
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
