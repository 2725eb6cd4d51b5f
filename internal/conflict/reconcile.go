package conflict

import (
	"time"

	"synccity/internal/domain"
)

// CanonicalPairID is the order-independent key of a project pair.
func CanonicalPairID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "_" + b
}

// Insert is a newly discovered conflict together with the project it was found against.
type Insert struct {
	Input     domain.ConflictInput
	Candidate domain.Project
	Finding   Finding
}

// Reopen is a settled conflict whose overlap changed since it was settled.
type Reopen struct {
	Conflict  domain.Conflict
	Details   domain.ConflictDetails
	Candidate domain.Project
	Finding   Finding
}

// Refresh is an open conflict whose stored overlap no longer matches the
// current one. Only the details change; the status stays as it is.
type Refresh struct {
	Conflict domain.Conflict
	Details  domain.ConflictDetails
}

type Plan struct {
	Insert    []Insert
	Delete    []domain.Conflict
	Reopen    []Reopen
	Refresh   []Refresh
	Unchanged int
}

// Empty reports whether applying the plan would change nothing.
func (p Plan) Empty() bool {
	return len(p.Insert) == 0 && len(p.Delete) == 0 && len(p.Reopen) == 0 && len(p.Refresh) == 0
}

type Reconciler struct {
	Evaluator Evaluator
}

// Reconcile diffs the subject's current findings against its stored conflicts.
func (r Reconciler) Reconcile(subject domain.Project, candidates []domain.Project, existing []domain.Conflict, now time.Time) Plan {
	type hit struct {
		candidate domain.Project
		finding   Finding
	}
	found := make(map[string]hit)
	var order []string
	if subject.Active() {
		for _, c := range candidates {
			if !Eligible(subject, c) {
				continue
			}
			f := r.Evaluator.Evaluate(subject, c)
			if f == nil {
				continue
			}
			key := CanonicalPairID(subject.ID, c.ID)
			if _, dup := found[key]; dup {
				continue
			}
			found[key] = hit{candidate: c, finding: *f}
			order = append(order, key)
		}
	}

	var plan Plan
	stored := make(map[string]bool, len(existing))
	for _, ec := range existing {
		key := CanonicalPairID(ec.Project1ID, ec.Project2ID)
		h, ok := found[key]
		if !ok || stored[key] {
			plan.Delete = append(plan.Delete, ec)
			continue
		}
		stored[key] = true
		details := h.finding.Details()
		switch {
		case ec.ConflictDetails.Equal(details):
			plan.Unchanged++
		case ec.Settled():
			plan.Reopen = append(plan.Reopen, Reopen{Conflict: ec, Details: details, Candidate: h.candidate, Finding: h.finding})
		default:
			plan.Refresh = append(plan.Refresh, Refresh{Conflict: ec, Details: details})
		}
	}

	createdAt := now.UTC().Format(time.RFC3339)
	for _, key := range order {
		if stored[key] {
			continue
		}
		h := found[key]
		plan.Insert = append(plan.Insert, Insert{
			Input: domain.ConflictInput{
				ConflictID:      key,
				Project1ID:      subject.ID,
				Project2ID:      h.candidate.ID,
				ConflictType:    h.finding.ConflictType,
				ConflictDetails: h.finding.Details(),
				Status:          domain.ConflictDetected,
				CreatedAt:       createdAt,
			},
			Candidate: h.candidate,
			Finding:   h.finding,
		})
	}
	return plan
}
