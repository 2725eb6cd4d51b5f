package conflict

import (
	"log/slog"

	"synccity/internal/domain"
	"synccity/internal/geo"
)

// Classification of a project pair. Only TypeTemporalSpatial is actionable.
const (
	TypeNone            = "none"
	TypeTemporal        = "temporal"
	TypeSpatial         = "spatial"
	TypeTemporalSpatial = domain.ConflictTypeTemporalSpatial
)

// Finding is an actionable overlap between a subject and a candidate project.
type Finding struct {
	ConflictType    string
	TemporalOverlap Interval
	SpatialOverlap  int
	Spatial         geo.Overlap
}

// Details converts a finding to its persisted form.
func (f Finding) Details() domain.ConflictDetails {
	return domain.ConflictDetails{
		SpatialOverlap: f.SpatialOverlap,
		TemporalOverlap: domain.TemporalOverlap{
			StartDate: f.TemporalOverlap.Start,
			EndDate:   f.TemporalOverlap.End,
		},
	}
}

type Evaluator struct {
	Geometry geo.Calculator
	Logger   *slog.Logger
}

func NewEvaluator(calc geo.Calculator, logger *slog.Logger) Evaluator {
	return Evaluator{Geometry: calc, Logger: logger}
}

func (e Evaluator) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Eligible checks the candidate filter applied before evaluation.
func Eligible(subject, candidate domain.Project) bool {
	return candidate.ID != subject.ID &&
		candidate.DepartmentID != subject.DepartmentID &&
		candidate.Active()
}

// Evaluate returns a finding only when the projects overlap in time and space.
func (e Evaluator) Evaluate(subject, candidate domain.Project) *Finding {
	temporal, spatial := e.overlaps(subject, candidate)
	if temporal == nil || spatial == nil || spatial.OverlapPercentage <= 0 {
		return nil
	}
	return &Finding{
		ConflictType:    TypeTemporalSpatial,
		TemporalOverlap: *temporal,
		SpatialOverlap:  spatial.OverlapPercentage,
		Spatial:         *spatial,
	}
}

// Classify names the kind of overlap between two projects, for diagnostics.
func (e Evaluator) Classify(subject, candidate domain.Project) string {
	temporal, spatial := e.overlaps(subject, candidate)
	hasSpatial := spatial != nil && spatial.OverlapPercentage > 0
	switch {
	case temporal != nil && hasSpatial:
		return TypeTemporalSpatial
	case temporal != nil:
		return TypeTemporal
	case hasSpatial:
		return TypeSpatial
	default:
		return TypeNone
	}
}

func (e Evaluator) overlaps(subject, candidate domain.Project) (*Interval, *geo.Overlap) {
	temporal := TemporalOverlap(
		Interval{Start: subject.StartDate, End: subject.EndDate},
		Interval{Start: candidate.StartDate, End: candidate.EndDate},
	)
	return temporal, e.spatial(subject, candidate)
}

func (e Evaluator) spatial(subject, candidate domain.Project) *geo.Overlap {
	a, err := e.Geometry.CircleFromLocation(subject.Location)
	if err != nil {
		e.logger().Warn("skipping pair with malformed geometry",
			slog.String("project_id", subject.ID), slog.String("other_project_id", candidate.ID), slog.Any("error", err))
		return nil
	}
	b, err := e.Geometry.CircleFromLocation(candidate.Location)
	if err != nil {
		e.logger().Warn("skipping pair with malformed geometry",
			slog.String("project_id", candidate.ID), slog.String("other_project_id", subject.ID), slog.Any("error", err))
		return nil
	}
	return e.Geometry.Overlap(a, b)
}
