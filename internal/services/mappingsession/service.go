// Package mappingsession holds the in-memory editing sessions behind the
// mapping panel: side membership, relation metadata, and the submit flow
// that diffs the session against its loaded snapshot.
package mappingsession

import (
	"context"
	"net/http"
	"sync"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/pkg/mapping"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// MappedControlService is the persistence surface sessions submit through
type MappedControlService interface {
	Get(ctx context.Context, tenantID string, id string) (*models.MappedControl, error)
	Create(ctx context.Context, tenantID string, req models.CreateMappedControlRequest) (*models.MappedControl, error)
	Update(ctx context.Context, tenantID string, id string, req models.UpdateMappedControlRequest) (*models.MappedControl, error)
}

// ItemResolver turns stored ID lists back into relationship items
type ItemResolver interface {
	ItemsByIDs(ctx context.Context, tenantID string, controlIDs, subcontrolIDs []string) ([]models.RelationshipItem, error)
}

// Service manages the live mapping sessions for this instance. Sessions are
// ephemeral server state; losing them loses unsubmitted edits only, never
// persisted mappings.
type Service struct {
	logger   ectologger.Logger
	mapped   MappedControlService
	controls ItemResolver

	mu       sync.RWMutex
	sessions map[string]*mapping.Session
}

// NewService creates a new session service
func NewService(logger ectologger.Logger, mapped MappedControlService, controls ItemResolver) *Service {
	return &Service{
		logger:   logger,
		mapped:   mapped,
		controls: controls,
		sessions: make(map[string]*mapping.Session),
	}
}

// Open starts a session. With a recordID the persisted mapping is fetched
// and seeded; without one the session starts empty on the create path.
func (s *Service) Open(ctx context.Context, tenantID string, recordID string) (*mapping.Session, error) {
	ctx, span := tracing.StartSpan(ctx, "mappingsession.Service.Open")
	defer span.End()

	if tenantID == "" {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "tenant_id is required")
	}

	session := mapping.NewSession(uuid.New().String(), tenantID)

	if recordID != "" {
		session.BeginLoad(recordID)

		record, err := s.mapped.Get(ctx, tenantID, recordID)
		if err != nil {
			return nil, err
		}

		fromItems, err := s.controls.ItemsByIDs(ctx, tenantID, record.FromControlIDs, record.FromSubcontrolIDs)
		if err != nil {
			return nil, err
		}
		toItems, err := s.controls.ItemsByIDs(ctx, tenantID, record.ToControlIDs, record.ToSubcontrolIDs)
		if err != nil {
			return nil, err
		}

		session.FinishLoad(record, fromItems, toItems)
	} else {
		session.StartEditing()
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()
	metrics.SessionsActive.Inc()

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"session_id": session.ID,
		"record_id":  recordID,
	}).Info("Opened mapping session")

	return session, nil
}

// Get returns a session by ID
func (s *Service) Get(ctx context.Context, tenantID string, sessionID string) (*mapping.Session, error) {
	_, span := tracing.StartSpan(ctx, "mappingsession.Service.Get")
	defer span.End()

	return s.lookup(tenantID, sessionID)
}

// Drop decodes and adds dropped items to one side of the session. A payload
// that fails schema validation is rejected without touching membership.
func (s *Service) Drop(ctx context.Context, tenantID string, sessionID string, direction mapping.Direction, payload []byte) ([]models.RelationshipItem, error) {
	_, span := tracing.StartSpan(ctx, "mappingsession.Service.Drop")
	defer span.End()

	session, err := s.lookup(tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	if !direction.IsValid() {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "direction must be from or to")
	}

	items, err := mapping.DecodeDropPayload(payload)
	if err != nil {
		if mapping.IsMalformedPayload(err) {
			return nil, httperror.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return nil, err
	}

	added, err := session.Drop(direction, items)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusConflict, err.Error())
	}

	return added, nil
}

// Remove takes one item off a side
func (s *Service) Remove(ctx context.Context, tenantID string, sessionID string, direction mapping.Direction, key models.ItemKey) (bool, error) {
	_, span := tracing.StartSpan(ctx, "mappingsession.Service.Remove")
	defer span.End()

	session, err := s.lookup(tenantID, sessionID)
	if err != nil {
		return false, err
	}
	if !direction.IsValid() {
		return false, httperror.NewHTTPError(http.StatusBadRequest, "direction must be from or to")
	}
	if !key.Kind.IsValid() || key.ID == "" {
		return false, httperror.NewHTTPError(http.StatusBadRequest, "item kind and id are required")
	}

	removed, err := session.Remove(direction, key)
	if err != nil {
		return false, httperror.NewHTTPError(http.StatusConflict, err.Error())
	}

	return removed, nil
}

// SetRelation updates the session's classification metadata
func (s *Service) SetRelation(ctx context.Context, tenantID string, sessionID string, relation mapping.Relation) error {
	_, span := tracing.StartSpan(ctx, "mappingsession.Service.SetRelation")
	defer span.End()

	session, err := s.lookup(tenantID, sessionID)
	if err != nil {
		return err
	}
	if !relation.MappingType.IsValid() {
		return httperror.NewHTTPError(http.StatusBadRequest, "mapping_type is invalid")
	}

	if err := session.SetRelation(relation); err != nil {
		return httperror.NewHTTPError(http.StatusConflict, err.Error())
	}

	return nil
}

// Submit validates the session and persists it: a create when the session
// has no backing record, otherwise an update carrying only the diff against
// the loaded snapshot. On failure the session stays editable with its local
// state intact.
func (s *Service) Submit(ctx context.Context, tenantID string, sessionID string) (*models.MappedControl, error) {
	ctx, span := tracing.StartSpan(ctx, "mappingsession.Service.Submit")
	defer span.End()

	session, err := s.lookup(tenantID, sessionID)
	if err != nil {
		return nil, err
	}

	// The both-sides check runs before any persistence call
	if len(session.From.ControlIDs()) == 0 && len(session.From.SubcontrolIDs()) == 0 {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "From control is required")
	}
	if len(session.To.ControlIDs()) == 0 && len(session.To.SubcontrolIDs()) == 0 {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "To control is required")
	}

	if err := session.BeginSubmit(); err != nil {
		return nil, httperror.NewHTTPError(http.StatusConflict, err.Error())
	}

	var record *models.MappedControl
	if session.RecordID == "" {
		record, err = s.mapped.Create(ctx, tenantID, models.CreateMappedControlRequest{
			FromControlIDs:    session.From.ControlIDs(),
			FromSubcontrolIDs: session.From.SubcontrolIDs(),
			ToControlIDs:      session.To.ControlIDs(),
			ToSubcontrolIDs:   session.To.SubcontrolIDs(),
			MappingType:       session.Relation.MappingType,
			Confidence:        session.Relation.Confidence,
			Relation:          session.Relation.Relation,
			Source:            session.Relation.Source,
		})
	} else {
		added, removed := mapping.Diff(session.Initial(), session.Current())
		payload := mapping.BuildUpdatePayload(added, removed)
		payload.MappingType = &session.Relation.MappingType
		payload.Confidence = &session.Relation.Confidence
		payload.Relation = &session.Relation.Relation

		record, err = s.mapped.Update(ctx, tenantID, session.RecordID, payload)
	}

	if err != nil {
		session.FailSubmit()
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"session_id": session.ID,
		}).Error("Mapping submission failed")
		return nil, err
	}

	session.FinishSubmit(record)

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"session_id":        session.ID,
		"mapped_control_id": record.ID,
	}).Info("Mapping submission succeeded")

	return record, nil
}

// Cancel reverts the session to its loaded snapshot and closes it
func (s *Service) Cancel(ctx context.Context, tenantID string, sessionID string) error {
	_, span := tracing.StartSpan(ctx, "mappingsession.Service.Cancel")
	defer span.End()

	session, err := s.lookup(tenantID, sessionID)
	if err != nil {
		return err
	}

	session.Cancel()
	s.close(sessionID)

	return nil
}

// Close drops a session without reverting anything
func (s *Service) Close(ctx context.Context, tenantID string, sessionID string) error {
	_, span := tracing.StartSpan(ctx, "mappingsession.Service.Close")
	defer span.End()

	if _, err := s.lookup(tenantID, sessionID); err != nil {
		return err
	}

	s.close(sessionID)
	return nil
}

func (s *Service) lookup(tenantID string, sessionID string) (*mapping.Session, error) {
	s.mu.RLock()
	session, ok := s.sessions[sessionID]
	s.mu.RUnlock()

	if !ok || session.TenantID != tenantID {
		return nil, httperror.NewHTTPError(http.StatusNotFound, "session not found")
	}

	return session, nil
}

func (s *Service) close(sessionID string) {
	s.mu.Lock()
	if _, ok := s.sessions[sessionID]; ok {
		delete(s.sessions, sessionID)
		metrics.SessionsActive.Dec()
	}
	s.mu.Unlock()
}
