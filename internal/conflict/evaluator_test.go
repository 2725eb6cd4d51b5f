package conflict_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synccity/internal/conflict"
	"synccity/internal/domain"
)

func TestEvaluateRequiresTimeAndSpace(t *testing.T) {
	ev := newEvaluator()
	subject := project("p1", "x", 0, 0, 1000, 1, 10)

	both := project("p2", "y", 0, 0.005, 1000, 5, 15)
	f := ev.Evaluate(subject, both)
	require.NotNil(t, f)
	assert.Equal(t, domain.ConflictTypeTemporalSpatial, f.ConflictType)
	assert.Equal(t, 72, f.SpatialOverlap)
	assert.True(t, f.TemporalOverlap.Start.Equal(day(5)))
	assert.True(t, f.TemporalOverlap.End.Equal(day(10)))
	assert.Equal(t, conflict.TypeTemporalSpatial, ev.Classify(subject, both))

	timeOnly := project("p3", "y", 0, 0.05, 10, 5, 15)
	assert.Nil(t, ev.Evaluate(subject, timeOnly))
	assert.Equal(t, conflict.TypeTemporal, ev.Classify(subject, timeOnly))

	spaceOnly := project("p4", "y", 0, 0.005, 1000, 10, 20)
	assert.Nil(t, ev.Evaluate(subject, spaceOnly))
	assert.Equal(t, conflict.TypeSpatial, ev.Classify(subject, spaceOnly))

	neither := project("p5", "y", 1, 1, 10, 20, 30)
	assert.Nil(t, ev.Evaluate(subject, neither))
	assert.Equal(t, conflict.TypeNone, ev.Classify(subject, neither))
}

func TestEvaluateSkipsMalformedGeometry(t *testing.T) {
	ev := newEvaluator()
	subject := project("p1", "x", 0, 0, 1000, 1, 10)
	broken := project("p2", "y", 0, 0, 1000, 1, 10)
	broken.Location = domain.Location{Type: "Point", Coordinates: json.RawMessage(`"nowhere"`)}
	assert.Nil(t, ev.Evaluate(subject, broken))
	assert.Nil(t, ev.Evaluate(broken, subject))
}

func TestEvaluatePolygonUsesFirstVertex(t *testing.T) {
	ev := newEvaluator()
	subject := project("p1", "x", 0, 0, 1000, 1, 10)
	poly := project("p2", "y", 0, 0, 1000, 1, 10)
	poly.Location = domain.Location{
		Type:        "Polygon",
		Coordinates: json.RawMessage(`[[[0,0.001],[1,1],[2,0],[0,0.001]]]`),
	}
	f := ev.Evaluate(subject, poly)
	require.NotNil(t, f)
	assert.Greater(t, f.SpatialOverlap, 90)
}

func TestEligible(t *testing.T) {
	subject := project("p1", "x", 0, 0, 1000, 1, 10)
	assert.True(t, conflict.Eligible(subject, project("p2", "y", 0, 0, 1000, 1, 10)))
	assert.False(t, conflict.Eligible(subject, project("p2", "x", 0, 0, 1000, 1, 10)), "same department")
	assert.False(t, conflict.Eligible(subject, subject), "same project")
	done := project("p3", "y", 0, 0, 1000, 1, 10)
	done.Status = domain.ProjectCompleted
	assert.False(t, conflict.Eligible(subject, done), "inactive")
}
