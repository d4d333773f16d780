package mapping

import (
	"encoding/json"
	"fmt"

	"github.com/Ramsey-B/clover/pkg/models"
)

// Direction names the side of a mapping a set of items belongs to
type Direction string

const (
	DirectionFrom Direction = "from"
	DirectionTo   Direction = "to"
)

// IsValid reports whether the direction is from or to
func (d Direction) IsValid() bool {
	return d == DirectionFrom || d == DirectionTo
}

// MalformedPayloadError indicates a drop payload failed to parse or
// shape-check. The side set is left untouched when it is returned.
type MalformedPayloadError struct {
	Reason string
}

func (e *MalformedPayloadError) Error() string {
	return fmt.Sprintf("malformed drop payload: %s", e.Reason)
}

// IsMalformedPayload reports whether err is a MalformedPayloadError
func IsMalformedPayload(err error) bool {
	_, ok := err.(*MalformedPayloadError)
	return ok
}

// SideSet owns the authoritative ordered, duplicate-free list of items
// assigned to one side of a mapping. The scalar ID slices are always exactly
// the projection of the item list by kind.
type SideSet struct {
	items []models.RelationshipItem
	index map[models.ItemKey]struct{}

	controlIDs    []string
	subcontrolIDs []string
}

// NewSideSet returns an empty side set
func NewSideSet() *SideSet {
	return &SideSet{
		index: make(map[models.ItemKey]struct{}),
	}
}

// Seed replaces the whole membership with the preset items. Used at initial
// load from a persisted mapping or a preset current-control context; it
// overwrites rather than merges. Duplicate keys in the preset are collapsed.
func (s *SideSet) Seed(items []models.RelationshipItem) {
	s.items = nil
	s.controlIDs = nil
	s.subcontrolIDs = nil
	s.index = make(map[models.ItemKey]struct{}, len(items))
	s.Drop(items)
}

// Drop appends any items not already present, in payload order. Items whose
// key is already in the set are skipped, so dropping the same item twice in
// one payload inserts it once. It returns the items actually added.
func (s *SideSet) Drop(items []models.RelationshipItem) []models.RelationshipItem {
	var added []models.RelationshipItem
	for _, item := range items {
		key := item.Key()
		if _, ok := s.index[key]; ok {
			continue
		}
		s.index[key] = struct{}{}
		s.items = append(s.items, item)
		switch item.Kind {
		case models.ItemKindControl:
			s.controlIDs = append(s.controlIDs, item.ID)
		case models.ItemKindSubcontrol:
			s.subcontrolIDs = append(s.subcontrolIDs, item.ID)
		}
		added = append(added, item)
	}
	return added
}

// Remove deletes the item with the given key from the item list and from the
// scalar ID slice selected by its kind. It reports whether anything was
// removed.
func (s *SideSet) Remove(key models.ItemKey) bool {
	if _, ok := s.index[key]; !ok {
		return false
	}
	delete(s.index, key)

	for i, item := range s.items {
		if item.Key() == key {
			s.items = append(s.items[:i], s.items[i+1:]...)
			break
		}
	}

	switch key.Kind {
	case models.ItemKindControl:
		s.controlIDs = removeID(s.controlIDs, key.ID)
	case models.ItemKindSubcontrol:
		s.subcontrolIDs = removeID(s.subcontrolIDs, key.ID)
	}
	return true
}

// Contains reports whether the item key is a member of this side
func (s *SideSet) Contains(key models.ItemKey) bool {
	_, ok := s.index[key]
	return ok
}

// Items returns a copy of the ordered membership
func (s *SideSet) Items() []models.RelationshipItem {
	out := make([]models.RelationshipItem, len(s.items))
	copy(out, s.items)
	return out
}

// ControlIDs returns a copy of the control ID projection
func (s *SideSet) ControlIDs() []string {
	return append([]string(nil), s.controlIDs...)
}

// SubcontrolIDs returns a copy of the subcontrol ID projection
func (s *SideSet) SubcontrolIDs() []string {
	return append([]string(nil), s.subcontrolIDs...)
}

// Len returns the membership size
func (s *SideSet) Len() int {
	return len(s.items)
}

// Keys returns the identity keys of every member
func (s *SideSet) Keys() []models.ItemKey {
	keys := make([]models.ItemKey, 0, len(s.items))
	for _, item := range s.items {
		keys = append(keys, item.Key())
	}
	return keys
}

// Associations projects the side into its association map slice for the
// given direction. Empty projections produce no keys.
func (s *SideSet) Associations(direction Direction) AssociationMap {
	snapshot := AssociationMap{}
	controlKey, subcontrolKey := KeyFromControlIDs, KeyFromSubcontrolIDs
	if direction == DirectionTo {
		controlKey, subcontrolKey = KeyToControlIDs, KeyToSubcontrolIDs
	}
	if len(s.controlIDs) > 0 {
		snapshot[controlKey] = s.ControlIDs()
	}
	if len(s.subcontrolIDs) > 0 {
		snapshot[subcontrolKey] = s.SubcontrolIDs()
	}
	return snapshot
}

// DecodeDropPayload parses and shape-checks a serialized drop payload. The
// payload must be a non-empty JSON array of items with a non-empty id and a
// known kind. Any failure yields a MalformedPayloadError and no items.
func DecodeDropPayload(raw []byte) ([]models.RelationshipItem, error) {
	if len(raw) == 0 {
		return nil, &MalformedPayloadError{Reason: "empty payload"}
	}

	var items []models.RelationshipItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, &MalformedPayloadError{Reason: err.Error()}
	}

	if len(items) == 0 {
		return nil, &MalformedPayloadError{Reason: "payload contains no items"}
	}

	for i, item := range items {
		if item.ID == "" {
			return nil, &MalformedPayloadError{Reason: fmt.Sprintf("item %d is missing an id", i)}
		}
		if !item.Kind.IsValid() {
			return nil, &MalformedPayloadError{Reason: fmt.Sprintf("item %d has unknown kind %q", i, item.Kind)}
		}
	}

	return items, nil
}

func removeID(ids []string, id string) []string {
	for i, existing := range ids {
		if existing == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
