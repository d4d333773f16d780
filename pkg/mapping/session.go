package mapping

import (
	"fmt"
	"time"

	"github.com/Ramsey-B/clover/pkg/models"
)

// SessionState tracks where a mapping edit session is in its lifecycle
type SessionState string

const (
	SessionStateIdle       SessionState = "idle"
	SessionStateLoading    SessionState = "loading"
	SessionStateEditing    SessionState = "editing"
	SessionStateSubmitting SessionState = "submitting"
	SessionStateSuccess    SessionState = "success"
	SessionStateCancelled  SessionState = "cancelled"
)

// Relation is the classification metadata of the mapping being edited.
// Confidence is always clamped to [0, 100]. The classification is an
// assertion by the user; it is never computed from set cardinality.
type Relation struct {
	MappingType models.MappingType   `json:"mapping_type"`
	Confidence  int                  `json:"confidence"`
	Relation    string               `json:"relation"`
	Source      models.MappingSource `json:"source"`
}

// Session is one mapping edit session: the two side sets, the relation
// record, and the snapshot loaded at edit time that the diff runs against.
// All mutation happens through the owning store, one logical writer at a
// time, so the session itself carries no lock.
type Session struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	// RecordID is empty until the mapping has been persisted once
	RecordID string       `json:"record_id,omitempty"`
	State    SessionState `json:"state"`

	From     *SideSet `json:"-"`
	To       *SideSet `json:"-"`
	Relation Relation `json:"relation"`

	// initial is the association snapshot of the last-loaded persisted
	// record. Diffs are only ever evaluated against this snapshot.
	initial AssociationMap
	// loadedItems lets Cancel restore the last-loaded membership
	loadedFrom []models.RelationshipItem
	loadedTo   []models.RelationshipItem
	// loadedRelation restores classification metadata on Cancel
	loadedRelation Relation

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSession creates an idle session for a new, not yet persisted mapping
func NewSession(id, tenantID string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:       id,
		TenantID: tenantID,
		State:    SessionStateIdle,
		From:     NewSideSet(),
		To:       NewSideSet(),
		Relation: Relation{
			MappingType: models.MappingTypePartial,
			Source:      models.MappingSourceManual,
		},
		initial:   AssociationMap{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// BeginLoad marks the session as waiting on the persisted record fetch.
// Submission is blocked until the load finishes.
func (s *Session) BeginLoad(recordID string) {
	s.RecordID = recordID
	s.State = SessionStateLoading
	s.touch()
}

// FinishLoad seeds both sides and the relation from the freshly fetched
// record and moves the session into editing. The loaded state becomes the
// snapshot that Cancel reverts to and that the diff runs against.
func (s *Session) FinishLoad(record *models.MappedControl, fromItems, toItems []models.RelationshipItem) {
	s.From.Seed(fromItems)
	s.To.Seed(toItems)
	s.Relation = Relation{
		MappingType: record.MappingType,
		Confidence:  models.ClampConfidence(record.Confidence),
		Relation:    record.Relation,
		Source:      record.Source,
	}

	s.initial = SnapshotFromRecord(record)
	s.loadedFrom = s.From.Items()
	s.loadedTo = s.To.Items()
	s.loadedRelation = s.Relation

	s.State = SessionStateEditing
	s.touch()
}

// StartEditing moves a fresh create-path session into editing
func (s *Session) StartEditing() {
	if s.State == SessionStateIdle {
		s.State = SessionStateEditing
		s.touch()
	}
}

// Drop adds items to one side. Items already present on either side are
// ignored entirely: a control cannot map to itself, nor be added twice to
// the same side. Returns the items actually added.
func (s *Session) Drop(direction Direction, items []models.RelationshipItem) ([]models.RelationshipItem, error) {
	if err := s.ensureEditable(); err != nil {
		return nil, err
	}

	target, opposite := s.From, s.To
	if direction == DirectionTo {
		target, opposite = s.To, s.From
	}

	accepted := make([]models.RelationshipItem, 0, len(items))
	for _, item := range items {
		if opposite.Contains(item.Key()) {
			continue
		}
		accepted = append(accepted, item)
	}

	added := target.Drop(accepted)
	if len(added) > 0 {
		s.touch()
	}
	return added, nil
}

// Remove deletes an item from one side by key
func (s *Session) Remove(direction Direction, key models.ItemKey) (bool, error) {
	if err := s.ensureEditable(); err != nil {
		return false, err
	}

	target := s.From
	if direction == DirectionTo {
		target = s.To
	}

	removed := target.Remove(key)
	if removed {
		s.touch()
	}
	return removed, nil
}

// SetRelation updates the classification metadata, clamping confidence
func (s *Session) SetRelation(relation Relation) error {
	if err := s.ensureEditable(); err != nil {
		return err
	}
	relation.Confidence = models.ClampConfidence(relation.Confidence)
	if relation.Source == "" {
		relation.Source = models.MappingSourceManual
	}
	s.Relation = relation
	s.touch()
	return nil
}

// Current returns the session's current association snapshot
func (s *Session) Current() AssociationMap {
	current := AssociationMap{}
	for key, ids := range s.From.Associations(DirectionFrom) {
		current[key] = ids
	}
	for key, ids := range s.To.Associations(DirectionTo) {
		current[key] = ids
	}
	return current
}

// Initial returns the snapshot loaded at edit time
func (s *Session) Initial() AssociationMap {
	return s.initial.Clone()
}

// BeginSubmit gates the persist call: the session must be in editing (not
// mid-load, not already submitting) so the diff never runs against a stale
// or missing snapshot.
func (s *Session) BeginSubmit() error {
	switch s.State {
	case SessionStateEditing:
		s.State = SessionStateSubmitting
		s.touch()
		return nil
	case SessionStateLoading:
		return fmt.Errorf("session %s is still loading", s.ID)
	case SessionStateSubmitting:
		return fmt.Errorf("session %s already has a submission in flight", s.ID)
	default:
		return fmt.Errorf("session %s is not editable in state %s", s.ID, s.State)
	}
}

// FinishSubmit records a successful persist. The persisted record becomes
// the new initial snapshot, so re-diffing immediately yields empty deltas.
func (s *Session) FinishSubmit(record *models.MappedControl) {
	s.RecordID = record.ID
	s.initial = SnapshotFromRecord(record)
	s.loadedFrom = s.From.Items()
	s.loadedTo = s.To.Items()
	s.loadedRelation = s.Relation
	s.State = SessionStateSuccess
	s.touch()
}

// FailSubmit returns the session to editing with local state untouched so
// the user can retry without re-entering anything
func (s *Session) FailSubmit() {
	s.State = SessionStateEditing
	s.touch()
}

// Cancel discards all local changes and restores the last-loaded snapshot
func (s *Session) Cancel() {
	s.From.Seed(s.loadedFrom)
	s.To.Seed(s.loadedTo)
	s.Relation = s.loadedRelation
	s.State = SessionStateCancelled
	s.touch()
}

// Reopen returns a successful or cancelled session to editing
func (s *Session) Reopen() {
	if s.State == SessionStateSuccess || s.State == SessionStateCancelled {
		s.State = SessionStateEditing
		s.touch()
	}
}

func (s *Session) ensureEditable() error {
	switch s.State {
	case SessionStateIdle:
		s.State = SessionStateEditing
		return nil
	case SessionStateEditing, SessionStateSuccess:
		// success keeps the editor open; further edits start a new delta
		s.State = SessionStateEditing
		return nil
	case SessionStateLoading:
		return fmt.Errorf("session %s is still loading", s.ID)
	case SessionStateSubmitting:
		return fmt.Errorf("session %s has a submission in flight", s.ID)
	default:
		return fmt.Errorf("session %s is %s", s.ID, s.State)
	}
}

func (s *Session) touch() {
	s.UpdatedAt = time.Now().UTC()
}
