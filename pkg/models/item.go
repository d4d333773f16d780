package models

// ItemKind discriminates the identity namespace of a relationship item.
// IDs are only unique within a kind.
type ItemKind string

const (
	ItemKindControl    ItemKind = "control"
	ItemKindSubcontrol ItemKind = "subcontrol"
)

// IsValid reports whether the kind is one of the known item kinds
func (k ItemKind) IsValid() bool {
	return k == ItemKindControl || k == ItemKindSubcontrol
}

// RelationshipItem is the normalized reference to a control or subcontrol,
// usable interchangeably on either side of a mapping.
type RelationshipItem struct {
	ID                 string   `json:"id" db:"id"`
	Kind               ItemKind `json:"kind" db:"kind"`
	RefCode            string   `json:"ref_code" db:"ref_code"`
	ReferenceFramework *string  `json:"reference_framework,omitempty" db:"reference_framework"`
	Category           *string  `json:"category,omitempty" db:"category"`
	Subcategory        *string  `json:"subcategory,omitempty" db:"subcategory"`
}

// ItemKey is the (kind, id) pair that uniquely identifies an item across the
// whole candidate pool.
type ItemKey struct {
	Kind ItemKind
	ID   string
}

// Key returns the identity key for the item
func (i RelationshipItem) Key() ItemKey {
	return ItemKey{Kind: i.Kind, ID: i.ID}
}
