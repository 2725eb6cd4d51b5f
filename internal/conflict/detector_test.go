package conflict_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synccity/internal/conflict"
	"synccity/internal/domain"
)

func newDetector(store conflict.Store) *conflict.Detector {
	d := conflict.NewDetector(store, newEvaluator(), conflict.Bootstrapper{}, discard)
	d.Now = func() time.Time { return now }
	return d
}

func TestScanCreatesConflictAndConversation(t *testing.T) {
	ctx := context.Background()
	p1 := project("p1", "x", 0, 0, 1000, 1, 10)
	p2 := project("p2", "y", 0, 0.005, 1000, 5, 15)
	store := newMemStore(p1, p2)
	d := newDetector(store)

	report, err := d.OnProjectCreated(ctx, p2)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1_p2"}, report.Inserted)
	assert.Zero(t, report.Failed)

	state := store.snapshot()
	require.Len(t, state.conflicts, 1)
	c := state.conflicts[0]
	assert.Equal(t, "p2", c.Project1ID)
	assert.Equal(t, "p1", c.Project2ID)
	assert.Equal(t, domain.ConflictTypeTemporalSpatial, c.ConflictType)

	require.Len(t, state.conversations, 1)
	cv := state.conversations[0]
	assert.Equal(t, c.ID, cv.ConflictRecordID)
	assert.Equal(t, "y", cv.Project1DepartmentID)
	assert.Equal(t, "x", cv.Project2DepartmentID)
	assert.Equal(t, domain.ConversationActive, cv.Status)

	require.Len(t, state.messages, 1)
	msg := state.messages[0]
	assert.Equal(t, domain.SystemSenderID, msg.SenderID)
	assert.Equal(t, "y", msg.SenderDepartmentID)
	assert.Contains(t, msg.Content, "Spatial overlap: 72%")
	assert.Contains(t, msg.Content, "2024-01-05 to 2024-01-10")
}

func TestScanTwiceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	p1 := project("p1", "x", 0, 0, 1000, 1, 10)
	p2 := project("p2", "y", 0, 0.005, 1000, 5, 15)
	store := newMemStore(p1, p2)
	d := newDetector(store)

	_, err := d.Scan(ctx, p1)
	require.NoError(t, err)
	report, err := d.Scan(ctx, p1)
	require.NoError(t, err)
	assert.Empty(t, report.Inserted)
	assert.Empty(t, report.Deleted)
	assert.Equal(t, 1, report.Unchanged)

	// the other side sees the same record
	report, err = d.Scan(ctx, p2)
	require.NoError(t, err)
	assert.Empty(t, report.Inserted)
	state := store.snapshot()
	assert.Len(t, state.conflicts, 1)
	assert.Len(t, state.conversations, 1)
	assert.Len(t, state.messages, 1)
}

func TestConcurrentScansOfBothSidesCreateOneConflict(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 25; i++ {
		p1 := project("p1", "x", 0, 0, 1000, 1, 10)
		p2 := project("p2", "y", 0, 0.005, 1000, 5, 15)
		store := newMemStore(p1, p2)
		d := newDetector(store)

		var wg sync.WaitGroup
		for _, p := range []domain.Project{p1, p2, p1, p2} {
			wg.Add(1)
			go func(p domain.Project) {
				defer wg.Done()
				_, err := d.Scan(ctx, p)
				assert.NoError(t, err)
			}(p)
		}
		wg.Wait()

		state := store.snapshot()
		require.Len(t, state.conflicts, 1)
		require.Len(t, state.conversations, 1)
		require.Len(t, state.messages, 1)
	}
}

func TestScanDeletesConflictWhenDatesMove(t *testing.T) {
	ctx := context.Background()
	p1 := project("p1", "x", 0, 0, 1000, 1, 10)
	p2 := project("p2", "y", 0, 0.005, 1000, 5, 15)
	store := newMemStore(p1, p2)
	d := newDetector(store)

	_, err := d.OnProjectCreated(ctx, p2)
	require.NoError(t, err)

	p2.StartDate, p2.EndDate = day(20), day(30)
	store.put(p2)
	report, err := d.OnProjectUpdated(ctx, p2)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1_p2"}, report.Deleted)

	state := store.snapshot()
	assert.Empty(t, state.conflicts)
	assert.Empty(t, state.conversations)
	assert.Empty(t, state.messages)
}

func TestScanFailureOnOnePairDoesNotBlockOthers(t *testing.T) {
	ctx := context.Background()
	p1 := project("p1", "x", 0, 0, 1000, 1, 10)
	p2 := project("p2", "y", 0, 0.005, 1000, 5, 15)
	p3 := project("p3", "z", 0, 0.002, 1000, 2, 8)
	store := newMemStore(p1, p2, p3)
	store.d().failInsert["p1_p2"] = errors.New("disk full")
	d := newDetector(store)

	report, err := d.Scan(ctx, p1)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.NotEmpty(t, report.Warning)
	assert.Equal(t, []string{"p1_p3"}, report.Inserted)
	require.Len(t, report.Errors, 1)
	var pe *conflict.PairError
	require.True(t, errors.As(report.Errors[0], &pe))
	assert.Equal(t, "insert", pe.Op)

	state := store.snapshot()
	assert.Len(t, state.conflicts, 1)
	assert.Len(t, state.conversations, 1)
}

func TestPurgeRemovesEveryConflictOfProject(t *testing.T) {
	ctx := context.Background()
	p1 := project("p1", "x", 0, 0, 1000, 1, 10)
	p2 := project("p2", "y", 0, 0.005, 1000, 5, 15)
	p3 := project("p3", "z", 0, 0.002, 1000, 2, 8)
	store := newMemStore(p1, p2, p3)
	d := newDetector(store)
	for _, p := range []domain.Project{p1, p2, p3} {
		_, err := d.Scan(ctx, p)
		require.NoError(t, err)
	}
	require.Len(t, store.snapshot().conflicts, 3)

	ids, err := d.OnProjectDeleted(ctx, "p1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"p1_p2", "p1_p3"}, ids)
	store.remove("p1")

	state := store.snapshot()
	require.Len(t, state.conflicts, 1)
	assert.Equal(t, "p2_p3", state.conflicts[0].ConflictID)
	assert.Len(t, state.conversations, 1)
}

func TestResolvedConflictIsNotRecreated(t *testing.T) {
	ctx := context.Background()
	p1 := project("p1", "x", 0, 0, 1000, 1, 10)
	p2 := project("p2", "y", 0, 0.005, 1000, 5, 15)
	store := newMemStore(p1, p2)
	d := newDetector(store)

	_, err := d.Scan(ctx, p1)
	require.NoError(t, err)
	store.settle("p1_p2", domain.ConflictResolved)

	// unrelated edit: rename
	p2.Name = "renamed"
	store.put(p2)
	report, err := d.Scan(ctx, p2)
	require.NoError(t, err)
	assert.True(t, len(report.Inserted) == 0 && len(report.Reopened) == 0)
	state := store.snapshot()
	require.Len(t, state.conflicts, 1)
	assert.Equal(t, domain.ConflictResolved, state.conflicts[0].Status)

	// geometry change that still overlaps reopens the same record
	r := 600.0
	p2.Location.Radius = &r
	store.put(p2)
	report, err = d.Scan(ctx, p2)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1_p2"}, report.Reopened)
	state = store.snapshot()
	require.Len(t, state.conflicts, 1)
	assert.Equal(t, domain.ConflictDetected, state.conflicts[0].Status)
	require.Len(t, state.conversations, 1)
	assert.Equal(t, domain.ConversationActive, state.conversations[0].Status)
	require.Len(t, state.messages, 2)
	assert.Contains(t, state.messages[1].Content, "re-detected")
}

func TestResolvedConflictStaysResolvedAfterEarlierMove(t *testing.T) {
	ctx := context.Background()
	p1 := project("p1", "x", 0, 0, 1000, 1, 10)
	p2 := project("p2", "y", 0, 0.005, 1000, 5, 15)
	store := newMemStore(p1, p2)
	d := newDetector(store)

	_, err := d.Scan(ctx, p2)
	require.NoError(t, err)

	// move closer while still open: details follow, status does not change
	p2.Location = project("p2", "y", 0, 0.002, 1000, 5, 15).Location
	store.put(p2)
	report, err := d.Scan(ctx, p2)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1_p2"}, report.Refreshed)
	assert.Empty(t, report.Reopened)
	state := store.snapshot()
	require.Len(t, state.conflicts, 1)
	assert.Equal(t, domain.ConflictDetected, state.conflicts[0].Status)
	assert.Greater(t, state.conflicts[0].ConflictDetails.SpatialOverlap, 72)
	assert.Len(t, state.messages, 1)

	store.settle("p1_p2", domain.ConflictResolved)
	p1.Name = "renamed"
	store.put(p1)
	report, err = d.Scan(ctx, p1)
	require.NoError(t, err)
	assert.Empty(t, report.Reopened)
	assert.Empty(t, report.Refreshed)
	assert.Equal(t, 1, report.Unchanged)
	state = store.snapshot()
	assert.Equal(t, domain.ConflictResolved, state.conflicts[0].Status)
	assert.Len(t, state.messages, 1)
}

type brokenSource struct{ *memStore }

func (b brokenSource) Atomic(ctx context.Context, fn func(conflict.Store) error) error {
	return fn(b)
}

func (b brokenSource) ListConflictsForProject(ctx context.Context, projectID string) ([]domain.Conflict, error) {
	return nil, errors.New("connection reset")
}

func TestScanReturnsErrorWhenSnapshotFails(t *testing.T) {
	p1 := project("p1", "x", 0, 0, 1000, 1, 10)
	store := brokenSource{newMemStore(p1)}
	d := newDetector(store)
	_, err := d.Scan(context.Background(), p1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}
