// Package mappedcontrol orchestrates mapping submissions: validation, delta
// computation, persistence, and the downstream event/projection fanout.
package mappedcontrol

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	mappedcontrolrepo "github.com/Ramsey-B/clover/internal/repositories/mappedcontrol"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/graph"
	"github.com/Ramsey-B/clover/pkg/mapping"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Repository is the persistence surface the service writes through
type Repository interface {
	Create(ctx context.Context, record *models.MappedControl) (*models.MappedControl, error)
	Get(ctx context.Context, tenantID string, id string) (*models.MappedControl, error)
	List(ctx context.Context, tenantID string, limit, offset int) ([]models.MappedControl, error)
	ApplyDelta(ctx context.Context, tenantID string, id string, added, removed mapping.AssociationMap, patch mappedcontrolrepo.RelationPatch) (*models.MappedControl, error)
	Delete(ctx context.Context, tenantID string, id string) error
	ListRevisions(ctx context.Context, tenantID string, id string) ([]mappedcontrolrepo.Revision, error)
}

// Service coordinates mapping writes. The emitter and projection are
// optional; when nil the corresponding fanout is skipped.
type Service struct {
	logger     ectologger.Logger
	repo       Repository
	emitter    *events.Emitter
	projection *graph.MappingProjection
}

// NewService creates a new mapped control service
func NewService(logger ectologger.Logger, repo Repository, emitter *events.Emitter, projection *graph.MappingProjection) *Service {
	return &Service{
		logger:     logger,
		repo:       repo,
		emitter:    emitter,
		projection: projection,
	}
}

// Create validates and persists a new mapping. The both-sides-required check
// runs before anything touches the database.
func (s *Service) Create(ctx context.Context, tenantID string, req models.CreateMappedControlRequest) (*models.MappedControl, error) {
	ctx, span := tracing.StartSpan(ctx, "mappedcontrol.Service.Create")
	defer span.End()

	start := time.Now()

	if tenantID == "" {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "tenant_id is required")
	}
	if len(req.FromControlIDs) == 0 && len(req.FromSubcontrolIDs) == 0 {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "From control is required")
	}
	if len(req.ToControlIDs) == 0 && len(req.ToSubcontrolIDs) == 0 {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "To control is required")
	}
	if !req.MappingType.IsValid() {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "mapping_type is invalid")
	}
	if req.Source != "" && !req.Source.IsValid() {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "source is invalid")
	}

	record := &models.MappedControl{
		TenantID:          tenantID,
		MappingType:       req.MappingType,
		Confidence:        models.ClampConfidence(req.Confidence),
		Relation:          req.Relation,
		Source:            req.Source,
		FromControlIDs:    dedupe(req.FromControlIDs),
		FromSubcontrolIDs: dedupe(req.FromSubcontrolIDs),
		ToControlIDs:      dedupe(req.ToControlIDs),
		ToSubcontrolIDs:   dedupe(req.ToSubcontrolIDs),
	}

	created, err := s.repo.Create(ctx, record)
	if err != nil {
		metrics.RecordSubmission(tenantID, "create", "error", time.Since(start).Seconds())
		return nil, err
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"mapped_control_id": created.ID,
		"mapping_type":      created.MappingType,
	}).Info("Created mapped control")

	if s.emitter != nil {
		s.emitter.EmitMappingCreated(ctx, created)
	}
	s.syncProjection(ctx, created)

	snapshot := mapping.SnapshotFromRecord(created)
	metrics.RecordDelta(countIDs(snapshot), 0)
	metrics.RecordSubmission(tenantID, "create", "success", time.Since(start).Seconds())

	return created, nil
}

// Get returns a mapping with its association sets
func (s *Service) Get(ctx context.Context, tenantID string, id string) (*models.MappedControl, error) {
	ctx, span := tracing.StartSpan(ctx, "mappedcontrol.Service.Get")
	defer span.End()

	if id == "" {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "id is required")
	}

	return s.repo.Get(ctx, tenantID, id)
}

// List returns mappings for a tenant
func (s *Service) List(ctx context.Context, tenantID string, limit, offset int) ([]models.MappedControl, error) {
	ctx, span := tracing.StartSpan(ctx, "mappedcontrol.Service.List")
	defer span.End()

	return s.repo.List(ctx, tenantID, limit, offset)
}

// Update applies an add/remove delta to a stored mapping. Surviving members
// are never rewritten. An update that would empty either side is rejected
// before persistence.
func (s *Service) Update(ctx context.Context, tenantID string, id string, req models.UpdateMappedControlRequest) (*models.MappedControl, error) {
	ctx, span := tracing.StartSpan(ctx, "mappedcontrol.Service.Update")
	defer span.End()

	start := time.Now()

	if id == "" {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "id is required")
	}
	if req.MappingType != nil && !req.MappingType.IsValid() {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "mapping_type is invalid")
	}

	existing, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	if req.IsEmpty() {
		return existing, nil
	}

	added, removed := mapping.DeltaFromUpdatePayload(req)

	// Project the post-state to enforce the both-sides-required invariant
	next := mapping.Apply(mapping.SnapshotFromRecord(existing), added, removed)
	if len(next[mapping.KeyFromControlIDs]) == 0 && len(next[mapping.KeyFromSubcontrolIDs]) == 0 {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "From control is required")
	}
	if len(next[mapping.KeyToControlIDs]) == 0 && len(next[mapping.KeyToSubcontrolIDs]) == 0 {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "To control is required")
	}

	updated, err := s.repo.ApplyDelta(ctx, tenantID, id, added, removed, mappedcontrolrepo.RelationPatch{
		MappingType: req.MappingType,
		Confidence:  req.Confidence,
		Relation:    req.Relation,
	})
	if err != nil {
		metrics.RecordSubmission(tenantID, "update", "error", time.Since(start).Seconds())
		return nil, err
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"mapped_control_id": updated.ID,
		"added":             countIDs(added),
		"removed":           countIDs(removed),
	}).Info("Updated mapped control")

	if s.emitter != nil {
		s.emitter.EmitMappingUpdated(ctx, updated, added, removed)
	}
	s.syncProjection(ctx, updated)

	metrics.RecordDelta(countIDs(added), countIDs(removed))
	metrics.RecordSubmission(tenantID, "update", "success", time.Since(start).Seconds())

	return updated, nil
}

// Delete soft deletes a mapping and tears down its projection
func (s *Service) Delete(ctx context.Context, tenantID string, id string) error {
	ctx, span := tracing.StartSpan(ctx, "mappedcontrol.Service.Delete")
	defer span.End()

	if id == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "id is required")
	}

	if err := s.repo.Delete(ctx, tenantID, id); err != nil {
		return err
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"mapped_control_id": id,
	}).Info("Deleted mapped control")

	if s.emitter != nil {
		s.emitter.EmitMappingDeleted(ctx, tenantID, id)
	}
	if s.projection != nil {
		if err := s.projection.Remove(ctx, tenantID, id); err != nil {
			metrics.GraphSyncTotal.WithLabelValues("error").Inc()
			s.logger.WithContext(ctx).WithError(err).Warn("Failed to remove mapping projection")
		} else {
			metrics.GraphSyncTotal.WithLabelValues("success").Inc()
		}
	}

	return nil
}

// ListRevisions returns the applied delta history for a mapping
func (s *Service) ListRevisions(ctx context.Context, tenantID string, id string) ([]mappedcontrolrepo.Revision, error) {
	ctx, span := tracing.StartSpan(ctx, "mappedcontrol.Service.ListRevisions")
	defer span.End()

	if id == "" {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "id is required")
	}

	return s.repo.ListRevisions(ctx, tenantID, id)
}

// syncProjection mirrors the record into the graph. Projection failures are
// logged, never surfaced; Postgres already committed.
func (s *Service) syncProjection(ctx context.Context, record *models.MappedControl) {
	if s.projection == nil {
		return
	}
	if err := s.projection.Sync(ctx, record); err != nil {
		metrics.GraphSyncTotal.WithLabelValues("error").Inc()
		s.logger.WithContext(ctx).WithError(err).Warn("Failed to sync mapping projection")
		return
	}
	metrics.GraphSyncTotal.WithLabelValues("success").Inc()
}

func dedupe(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func countIDs(m mapping.AssociationMap) int {
	total := 0
	for _, ids := range m {
		total += len(ids)
	}
	return total
}
