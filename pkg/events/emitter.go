// Package events handles event emission for mapping lifecycle changes
package events

import (
	"context"

	"github.com/Gobusters/ectologger"

	utils "github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/mapping"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// SchemaVersion is the current event schema version
const SchemaVersion = "1.0"

// Emitter publishes mapping lifecycle events. Emission failures are logged
// and swallowed so a Kafka outage never fails a submission that already
// committed to Postgres.
type Emitter struct {
	producer *kafka.Producer
	logger   ectologger.Logger
}

// NewEmitter creates a new event emitter
func NewEmitter(producer *kafka.Producer, logger ectologger.Logger) *Emitter {
	return &Emitter{
		producer: producer,
		logger:   logger,
	}
}

// EmitMappingCreated emits a mapping.created event carrying the full initial association set
func (e *Emitter) EmitMappingCreated(ctx context.Context, record *models.MappedControl) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitMappingCreated")
	defer span.End()

	if e.producer == nil {
		return
	}

	event := &kafka.MappingEvent{
		EventType:       kafka.EventMappingCreated,
		TenantID:        record.TenantID,
		MappedControlID: record.ID,
		MappingType:     string(record.MappingType),
		Confidence:      record.Confidence,
		Added:           mapping.SnapshotFromRecord(record),
		UserID:          utils.GetUserID(ctx),
	}

	if err := e.producer.PublishMappingEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit mapping.created event")
	}
}

// EmitMappingUpdated emits a mapping.updated event carrying the applied delta
func (e *Emitter) EmitMappingUpdated(ctx context.Context, record *models.MappedControl, added, removed mapping.AssociationMap) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitMappingUpdated")
	defer span.End()

	if e.producer == nil {
		return
	}

	event := &kafka.MappingEvent{
		EventType:       kafka.EventMappingUpdated,
		TenantID:        record.TenantID,
		MappedControlID: record.ID,
		MappingType:     string(record.MappingType),
		Confidence:      record.Confidence,
		Added:           added,
		Removed:         removed,
		UserID:          utils.GetUserID(ctx),
	}

	if err := e.producer.PublishMappingEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit mapping.updated event")
	}
}

// EmitMappingDeleted emits a mapping.deleted event
func (e *Emitter) EmitMappingDeleted(ctx context.Context, tenantID string, mappedControlID string) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitMappingDeleted")
	defer span.End()

	if e.producer == nil {
		return
	}

	event := &kafka.MappingEvent{
		EventType:       kafka.EventMappingDeleted,
		TenantID:        tenantID,
		MappedControlID: mappedControlID,
		UserID:          utils.GetUserID(ctx),
	}

	if err := e.producer.PublishMappingEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit mapping.deleted event")
	}
}
