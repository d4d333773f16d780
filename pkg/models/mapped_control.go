package models

import "time"

// MappingType classifies how the From set relates to the To set. The
// classification is asserted by the user, not derived from set cardinality.
type MappingType string

const (
	// MappingTypeEqual means the sets are behaviorally interchangeable for evidence purposes
	MappingTypeEqual MappingType = "EQUAL"
	// MappingTypeSuperset means the From side's controls cover the To side's, plus more
	MappingTypeSuperset MappingType = "SUPERSET"
	// MappingTypeSubset means the From side's controls are fully covered by the To side
	MappingTypeSubset MappingType = "SUBSET"
	// MappingTypeIntersect means explicit overlap with unique members on both sides
	MappingTypeIntersect MappingType = "INTERSECT"
	// MappingTypePartial means overlap exists but its extent is unverified
	MappingTypePartial MappingType = "PARTIAL"
)

// IsValid reports whether the mapping type is one of the known values
func (t MappingType) IsValid() bool {
	switch t {
	case MappingTypeEqual, MappingTypeSuperset, MappingTypeSubset, MappingTypeIntersect, MappingTypePartial:
		return true
	}
	return false
}

// MappingSource records whether a mapping was authored by a user or proposed
// by a suggestion pipeline.
type MappingSource string

const (
	MappingSourceManual    MappingSource = "MANUAL"
	MappingSourceSuggested MappingSource = "SUGGESTED"
)

// IsValid reports whether the source is one of the known values
func (s MappingSource) IsValid() bool {
	return s == MappingSourceManual || s == MappingSourceSuggested
}

// ClampConfidence bounds a confidence score to [0, 100]
func ClampConfidence(confidence int) int {
	if confidence < 0 {
		return 0
	}
	if confidence > 100 {
		return 100
	}
	return confidence
}

// MappedControl is a directional relationship record linking a From-set to a
// To-set of controls/subcontrols with a classification and confidence. After
// creation it is only ever updated via add/remove deltas, never replaced
// wholesale.
type MappedControl struct {
	ID          string        `json:"id" db:"id"`
	TenantID    string        `json:"tenant_id" db:"tenant_id"`
	MappingType MappingType   `json:"mapping_type" db:"mapping_type"`
	Confidence  int           `json:"confidence" db:"confidence"`
	Relation    string        `json:"relation" db:"relation"`
	Source      MappingSource `json:"source" db:"source"`

	FromControlIDs    []string `json:"from_control_ids" db:"-"`
	FromSubcontrolIDs []string `json:"from_subcontrol_ids" db:"-"`
	ToControlIDs      []string `json:"to_control_ids" db:"-"`
	ToSubcontrolIDs   []string `json:"to_subcontrol_ids" db:"-"`

	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

// CreateMappedControlRequest carries the full initial state of a new mapping.
// Everything is "added" on the create path, so there is no delta shape here.
type CreateMappedControlRequest struct {
	FromControlIDs    []string      `json:"from_control_ids"`
	FromSubcontrolIDs []string      `json:"from_subcontrol_ids"`
	ToControlIDs      []string      `json:"to_control_ids"`
	ToSubcontrolIDs   []string      `json:"to_subcontrol_ids"`
	MappingType       MappingType   `json:"mapping_type" validate:"required"`
	Confidence        int           `json:"confidence" validate:"min=0,max=100"`
	Relation          string        `json:"relation"`
	Source            MappingSource `json:"source"`
}

// UpdateMappedControlRequest carries the incremental change against a stored
// mapping. Keys with empty member lists are omitted entirely; the relation
// fields are patched only when non-nil.
type UpdateMappedControlRequest struct {
	AddFromControlIDs       []string `json:"add_from_control_ids,omitempty"`
	RemoveFromControlIDs    []string `json:"remove_from_control_ids,omitempty"`
	AddToControlIDs         []string `json:"add_to_control_ids,omitempty"`
	RemoveToControlIDs      []string `json:"remove_to_control_ids,omitempty"`
	AddFromSubcontrolIDs    []string `json:"add_from_subcontrol_ids,omitempty"`
	RemoveFromSubcontrolIDs []string `json:"remove_from_subcontrol_ids,omitempty"`
	AddToSubcontrolIDs      []string `json:"add_to_subcontrol_ids,omitempty"`
	RemoveToSubcontrolIDs   []string `json:"remove_to_subcontrol_ids,omitempty"`

	MappingType *MappingType `json:"mapping_type,omitempty"`
	Confidence  *int         `json:"confidence,omitempty" validate:"omitempty,min=0,max=100"`
	Relation    *string      `json:"relation,omitempty"`
}

// IsEmpty reports whether the update carries no membership delta and no
// relation change
func (r UpdateMappedControlRequest) IsEmpty() bool {
	return len(r.AddFromControlIDs) == 0 &&
		len(r.RemoveFromControlIDs) == 0 &&
		len(r.AddToControlIDs) == 0 &&
		len(r.RemoveToControlIDs) == 0 &&
		len(r.AddFromSubcontrolIDs) == 0 &&
		len(r.RemoveFromSubcontrolIDs) == 0 &&
		len(r.AddToSubcontrolIDs) == 0 &&
		len(r.RemoveToSubcontrolIDs) == 0 &&
		r.MappingType == nil && r.Confidence == nil && r.Relation == nil
}
