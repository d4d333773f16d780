package models

import "time"

// Control is an atomic compliance requirement item sourced from a framework,
// or authored by the organization when ReferenceFramework is null.
type Control struct {
	ID                 string     `json:"id" db:"id"`
	TenantID           string     `json:"tenant_id" db:"tenant_id"`
	RefCode            string     `json:"ref_code" db:"ref_code"`
	Name               string     `json:"name" db:"name"`
	Description        *string    `json:"description,omitempty" db:"description"`
	ReferenceFramework *string    `json:"reference_framework,omitempty" db:"reference_framework"`
	Category           *string    `json:"category,omitempty" db:"category"`
	Subcategory        *string    `json:"subcategory,omitempty" db:"subcategory"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt          *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

// Item projects the control into its relationship item form
func (c Control) Item() RelationshipItem {
	return RelationshipItem{
		ID:                 c.ID,
		Kind:               ItemKindControl,
		RefCode:            c.RefCode,
		ReferenceFramework: c.ReferenceFramework,
		Category:           c.Category,
		Subcategory:        c.Subcategory,
	}
}

// Subcontrol belongs to exactly one parent control.
type Subcontrol struct {
	ID                 string     `json:"id" db:"id"`
	TenantID           string     `json:"tenant_id" db:"tenant_id"`
	ControlID          string     `json:"control_id" db:"control_id"`
	RefCode            string     `json:"ref_code" db:"ref_code"`
	Name               string     `json:"name" db:"name"`
	Description        *string    `json:"description,omitempty" db:"description"`
	ReferenceFramework *string    `json:"reference_framework,omitempty" db:"reference_framework"`
	Category           *string    `json:"category,omitempty" db:"category"`
	Subcategory        *string    `json:"subcategory,omitempty" db:"subcategory"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt          *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

// Item projects the subcontrol into its relationship item form
func (s Subcontrol) Item() RelationshipItem {
	return RelationshipItem{
		ID:                 s.ID,
		Kind:               ItemKindSubcontrol,
		RefCode:            s.RefCode,
		ReferenceFramework: s.ReferenceFramework,
		Category:           s.Category,
		Subcategory:        s.Subcategory,
	}
}

// CandidatePool is the set of items eligible for mapping, as fetched for the
// active search and filter.
type CandidatePool struct {
	Controls    []RelationshipItem `json:"controls"`
	Subcontrols []RelationshipItem `json:"subcontrols"`
}

// All returns controls and subcontrols as a single ordered slice, controls
// first.
func (p CandidatePool) All() []RelationshipItem {
	all := make([]RelationshipItem, 0, len(p.Controls)+len(p.Subcontrols))
	all = append(all, p.Controls...)
	all = append(all, p.Subcontrols...)
	return all
}

// CandidateFilter narrows the candidate pool. Keyword matches ref codes and
// names; Framework and Category select grouping behavior as well as filtering.
type CandidateFilter struct {
	Keyword   string `json:"keyword,omitempty" query:"keyword"`
	Framework string `json:"framework,omitempty" query:"framework"`
	Category  string `json:"category,omitempty" query:"category"`
}
