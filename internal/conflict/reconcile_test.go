package conflict_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synccity/internal/conflict"
	"synccity/internal/domain"
)

var now = time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)

// stored turns planned inserts into records as a store would.
func stored(plan conflict.Plan) []domain.Conflict {
	var out []domain.Conflict
	for i, ins := range plan.Insert {
		out = append(out, domain.Conflict{
			ID:              "rec-" + string(rune('a'+i)),
			ConflictID:      ins.Input.ConflictID,
			Project1ID:      ins.Input.Project1ID,
			Project2ID:      ins.Input.Project2ID,
			ConflictType:    ins.Input.ConflictType,
			ConflictDetails: ins.Input.ConflictDetails,
			Status:          ins.Input.Status,
			CreatedAt:       ins.Input.CreatedAt,
		})
	}
	return out
}

func TestCanonicalPairID(t *testing.T) {
	assert.Equal(t, "a_b", conflict.CanonicalPairID("a", "b"))
	assert.Equal(t, "a_b", conflict.CanonicalPairID("b", "a"))
}

func TestReconcileInsertsNewConflicts(t *testing.T) {
	r := conflict.Reconciler{Evaluator: newEvaluator()}
	subject := project("p2", "y", 0, 0.005, 1000, 5, 15)
	candidates := []domain.Project{
		project("p1", "x", 0, 0, 1000, 1, 10),
		project("p3", "z", 5, 5, 1000, 1, 10),
	}
	plan := r.Reconcile(subject, candidates, nil, now)
	require.Len(t, plan.Insert, 1)
	assert.Empty(t, plan.Delete)
	in := plan.Insert[0].Input
	assert.Equal(t, "p1_p2", in.ConflictID)
	assert.Equal(t, "p2", in.Project1ID, "subject is project1")
	assert.Equal(t, "p1", in.Project2ID)
	assert.Equal(t, domain.ConflictDetected, in.Status)
	assert.Equal(t, domain.ConflictTypeTemporalSpatial, in.ConflictType)
	assert.Equal(t, now.Format(time.RFC3339), in.CreatedAt)
	assert.Equal(t, "p1", plan.Insert[0].Candidate.ID)
}

func TestReconcileIsIdempotent(t *testing.T) {
	r := conflict.Reconciler{Evaluator: newEvaluator()}
	subject := project("p1", "x", 0, 0, 1000, 1, 10)
	candidates := []domain.Project{
		project("p2", "y", 0, 0.005, 1000, 5, 15),
		project("p3", "z", 0, 0.001, 500, 2, 3),
	}
	first := r.Reconcile(subject, candidates, nil, now)
	require.Len(t, first.Insert, 2)

	second := r.Reconcile(subject, candidates, stored(first), now.Add(time.Hour))
	assert.True(t, second.Empty())
	assert.Equal(t, 2, second.Unchanged)
}

func TestReconcileRecognisesReverseOrderedRecord(t *testing.T) {
	r := conflict.Reconciler{Evaluator: newEvaluator()}
	p1 := project("p1", "x", 0, 0, 1000, 1, 10)
	p2 := project("p2", "y", 0, 0.005, 1000, 5, 15)

	fromP1 := r.Reconcile(p1, []domain.Project{p2}, nil, now)
	require.Len(t, fromP1.Insert, 1)

	fromP2 := r.Reconcile(p2, []domain.Project{p1}, stored(fromP1), now)
	assert.True(t, fromP2.Empty(), "existing p1->p2 record covers the p2->p1 pairing")
}

func TestReconcileDeletesStaleConflicts(t *testing.T) {
	r := conflict.Reconciler{Evaluator: newEvaluator()}
	p1 := project("p1", "x", 0, 0, 1000, 1, 10)
	p2 := project("p2", "y", 0, 0.005, 1000, 5, 15)
	existing := stored(r.Reconcile(p1, []domain.Project{p2}, nil, now))
	require.Len(t, existing, 1)

	moved := p1
	moved.StartDate, moved.EndDate = day(20), day(30)
	plan := r.Reconcile(moved, []domain.Project{p2}, existing, now)
	assert.Empty(t, plan.Insert)
	require.Len(t, plan.Delete, 1)
	assert.Equal(t, "p1_p2", plan.Delete[0].ConflictID)

	// candidate gone entirely
	plan = r.Reconcile(p1, nil, existing, now)
	require.Len(t, plan.Delete, 1)
}

func TestReconcileInactiveSubjectClearsEverything(t *testing.T) {
	r := conflict.Reconciler{Evaluator: newEvaluator()}
	p1 := project("p1", "x", 0, 0, 1000, 1, 10)
	p2 := project("p2", "y", 0, 0.005, 1000, 5, 15)
	existing := stored(r.Reconcile(p1, []domain.Project{p2}, nil, now))

	p1.Status = domain.ProjectCancelled
	plan := r.Reconcile(p1, []domain.Project{p2}, existing, now)
	assert.Empty(t, plan.Insert)
	assert.Len(t, plan.Delete, 1)
}

func TestReconcileDropsDuplicateRecordsForSamePair(t *testing.T) {
	r := conflict.Reconciler{Evaluator: newEvaluator()}
	p1 := project("p1", "x", 0, 0, 1000, 1, 10)
	p2 := project("p2", "y", 0, 0.005, 1000, 5, 15)
	existing := stored(r.Reconcile(p1, []domain.Project{p2}, nil, now))
	inverse := existing[0]
	inverse.ID = "legacy"
	inverse.ConflictID = "p2_p1"
	inverse.Project1ID, inverse.Project2ID = "p2", "p1"
	existing = append(existing, inverse)

	plan := r.Reconcile(p1, []domain.Project{p2}, existing, now)
	assert.Empty(t, plan.Insert)
	require.Len(t, plan.Delete, 1)
	assert.Equal(t, "legacy", plan.Delete[0].ID)
	assert.Equal(t, 1, plan.Unchanged)
}

func TestReconcileRefreshesOpenConflictDetails(t *testing.T) {
	r := conflict.Reconciler{Evaluator: newEvaluator()}
	p1 := project("p1", "x", 0, 0, 1000, 1, 10)
	p2 := project("p2", "y", 0, 0.005, 1000, 5, 15)
	existing := stored(r.Reconcile(p1, []domain.Project{p2}, nil, now))
	require.Len(t, existing, 1)

	closer := project("p2", "y", 0, 0.002, 1000, 5, 15)
	plan := r.Reconcile(p1, []domain.Project{closer}, existing, now)
	assert.Empty(t, plan.Insert)
	assert.Empty(t, plan.Delete)
	assert.Empty(t, plan.Reopen)
	assert.Zero(t, plan.Unchanged)
	require.Len(t, plan.Refresh, 1)
	assert.Equal(t, existing[0].ID, plan.Refresh[0].Conflict.ID)
	assert.Greater(t, plan.Refresh[0].Details.SpatialOverlap, 72)
	assert.False(t, plan.Empty())
}

func TestReconcileSettledConflicts(t *testing.T) {
	r := conflict.Reconciler{Evaluator: newEvaluator()}
	p1 := project("p1", "x", 0, 0, 1000, 1, 10)
	p2 := project("p2", "y", 0, 0.005, 1000, 5, 15)
	existing := stored(r.Reconcile(p1, []domain.Project{p2}, nil, now))
	existing[0].Status = domain.ConflictResolved

	t.Run("unchanged overlap is left alone", func(t *testing.T) {
		plan := r.Reconcile(p1, []domain.Project{p2}, existing, now)
		assert.True(t, plan.Empty())
		assert.Equal(t, 1, plan.Unchanged)
	})

	t.Run("changed overlap reopens", func(t *testing.T) {
		shifted := p2
		shifted.StartDate = day(7)
		plan := r.Reconcile(p1, []domain.Project{shifted}, existing, now)
		assert.Empty(t, plan.Insert)
		assert.Empty(t, plan.Delete)
		require.Len(t, plan.Reopen, 1)
		assert.True(t, plan.Reopen[0].Details.TemporalOverlap.StartDate.Equal(day(7)))
	})

	t.Run("vanished overlap deletes", func(t *testing.T) {
		gone := p2
		gone.StartDate, gone.EndDate = day(20), day(25)
		plan := r.Reconcile(p1, []domain.Project{gone}, existing, now)
		assert.Len(t, plan.Delete, 1)
	})
}
