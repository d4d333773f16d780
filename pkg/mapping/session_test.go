package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/models"
)

func editingSession(t *testing.T) *Session {
	t.Helper()
	session := NewSession("sess-1", "tenant-1")
	session.StartEditing()
	return session
}

func TestSessionDropExclusivity(t *testing.T) {
	session := editingSession(t)

	_, err := session.Drop(DirectionFrom, []models.RelationshipItem{control("c1", "CC1.1")})
	require.NoError(t, err)

	// dropping c1 onto To while it lives on From is ignored entirely
	added, err := session.Drop(DirectionTo, []models.RelationshipItem{control("c1", "CC1.1")})
	require.NoError(t, err)
	assert.Empty(t, added)
	assert.Equal(t, 0, session.To.Len())

	// the sides never intersect after any drop
	for _, key := range session.From.Keys() {
		assert.False(t, session.To.Contains(key))
	}
}

func TestSessionDropMixedPayload(t *testing.T) {
	session := editingSession(t)
	_, err := session.Drop(DirectionFrom, []models.RelationshipItem{control("c1", "CC1.1")})
	require.NoError(t, err)

	added, err := session.Drop(DirectionTo, []models.RelationshipItem{
		control("c1", "CC1.1"), // on the opposite side, skipped
		control("c2", "CC1.2"),
	})
	require.NoError(t, err)

	require.Len(t, added, 1)
	assert.Equal(t, "c2", added[0].ID)
	assert.Equal(t, []string{"c2"}, session.To.ControlIDs())
}

func TestSessionCurrentSnapshot(t *testing.T) {
	session := editingSession(t)
	_, err := session.Drop(DirectionFrom, []models.RelationshipItem{
		control("c1", "CC1.1"),
		subcontrol("s1", "CC1.1-a"),
	})
	require.NoError(t, err)
	_, err = session.Drop(DirectionTo, []models.RelationshipItem{control("c2", "A.5.1")})
	require.NoError(t, err)

	assert.Equal(t, AssociationMap{
		KeyFromControlIDs:    {"c1"},
		KeyFromSubcontrolIDs: {"s1"},
		KeyToControlIDs:      {"c2"},
	}, session.Current())
}

func TestSessionSubmitBlockedWhileLoading(t *testing.T) {
	session := NewSession("sess-1", "tenant-1")
	session.BeginLoad("rec-1")

	err := session.BeginSubmit()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "still loading")

	_, err = session.Drop(DirectionFrom, []models.RelationshipItem{control("c1", "CC1.1")})
	require.Error(t, err)
}

func TestSessionSubmitBlockedWhileSubmitting(t *testing.T) {
	session := editingSession(t)
	_, err := session.Drop(DirectionFrom, []models.RelationshipItem{control("c1", "CC1.1")})
	require.NoError(t, err)

	require.NoError(t, session.BeginSubmit())
	err = session.BeginSubmit()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "in flight")
}

func TestSessionFinishLoadSeedsSnapshot(t *testing.T) {
	session := NewSession("sess-1", "tenant-1")
	session.BeginLoad("rec-1")

	record := &models.MappedControl{
		ID:             "rec-1",
		TenantID:       "tenant-1",
		MappingType:    models.MappingTypeEqual,
		Confidence:     130, // clamped on load
		Relation:       "same intent",
		Source:         models.MappingSourceManual,
		FromControlIDs: []string{"c1"},
		ToControlIDs:   []string{"c2"},
	}
	session.FinishLoad(record,
		[]models.RelationshipItem{control("c1", "CC1.1")},
		[]models.RelationshipItem{control("c2", "A.5.1")},
	)

	assert.Equal(t, SessionStateEditing, session.State)
	assert.Equal(t, 100, session.Relation.Confidence)
	assert.Equal(t, AssociationMap{
		KeyFromControlIDs: {"c1"},
		KeyToControlIDs:   {"c2"},
	}, session.Initial())
}

func TestSessionFailSubmitKeepsLocalState(t *testing.T) {
	session := editingSession(t)
	_, err := session.Drop(DirectionFrom, []models.RelationshipItem{control("c1", "CC1.1")})
	require.NoError(t, err)

	require.NoError(t, session.BeginSubmit())
	session.FailSubmit()

	assert.Equal(t, SessionStateEditing, session.State)
	assert.Equal(t, []string{"c1"}, session.From.ControlIDs())
}

func TestSessionFinishSubmitRefreshesInitial(t *testing.T) {
	session := editingSession(t)
	_, err := session.Drop(DirectionFrom, []models.RelationshipItem{control("c1", "CC1.1")})
	require.NoError(t, err)
	_, err = session.Drop(DirectionTo, []models.RelationshipItem{control("c2", "A.5.1")})
	require.NoError(t, err)

	require.NoError(t, session.BeginSubmit())
	session.FinishSubmit(&models.MappedControl{
		ID:             "rec-1",
		MappingType:    models.MappingTypePartial,
		FromControlIDs: []string{"c1"},
		ToControlIDs:   []string{"c2"},
	})

	assert.Equal(t, SessionStateSuccess, session.State)
	assert.Equal(t, "rec-1", session.RecordID)

	added, removed := Diff(session.Initial(), session.Current())
	assert.Empty(t, added)
	assert.Empty(t, removed)
}

func TestSessionCancelRestoresLoadedSnapshot(t *testing.T) {
	session := NewSession("sess-1", "tenant-1")
	session.BeginLoad("rec-1")
	session.FinishLoad(&models.MappedControl{
		ID:             "rec-1",
		MappingType:    models.MappingTypeSubset,
		Confidence:     80,
		Relation:       "covered by",
		Source:         models.MappingSourceManual,
		FromControlIDs: []string{"c1"},
		ToControlIDs:   []string{"c2"},
	},
		[]models.RelationshipItem{control("c1", "CC1.1")},
		[]models.RelationshipItem{control("c2", "A.5.1")},
	)

	_, err := session.Drop(DirectionFrom, []models.RelationshipItem{control("c3", "CC1.3")})
	require.NoError(t, err)
	require.NoError(t, session.SetRelation(Relation{
		MappingType: models.MappingTypeEqual,
		Confidence:  10,
		Source:      models.MappingSourceManual,
	}))

	session.Cancel()

	assert.Equal(t, SessionStateCancelled, session.State)
	assert.Equal(t, []string{"c1"}, session.From.ControlIDs())
	assert.Equal(t, models.MappingTypeSubset, session.Relation.MappingType)
	assert.Equal(t, 80, session.Relation.Confidence)
}

func TestSessionSetRelationClampsConfidence(t *testing.T) {
	session := editingSession(t)

	require.NoError(t, session.SetRelation(Relation{MappingType: models.MappingTypeIntersect, Confidence: -3}))
	assert.Equal(t, 0, session.Relation.Confidence)

	require.NoError(t, session.SetRelation(Relation{MappingType: models.MappingTypeIntersect, Confidence: 250}))
	assert.Equal(t, 100, session.Relation.Confidence)
	assert.Equal(t, models.MappingSourceManual, session.Relation.Source)
}
