// Package conflict detects projects of different departments that overlap in
// both time and space and keeps the stored conflict set in step with them.
package conflict

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"synccity/internal/domain"
	"synccity/internal/logging"
)

// PairError records a failed write for one project pair.
type PairError struct {
	Op         string
	ConflictID string
	Err        error
}

func (e *PairError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.ConflictID, e.Err)
}

func (e *PairError) Unwrap() error { return e.Err }

// Report summarises one scan.
type Report struct {
	ProjectID string   `json:"project_id"`
	Inserted  []string `json:"inserted"`
	Deleted   []string `json:"deleted"`
	Reopened  []string `json:"reopened"`
	Refreshed []string `json:"refreshed"`
	Unchanged int      `json:"unchanged"`
	Failed    int      `json:"failed"`
	Queued    bool     `json:"queued,omitempty"`
	Warning   string   `json:"warning,omitempty"`
	Errors    []error  `json:"-"`
}

type Detector struct {
	Store        Store
	Reconciler   Reconciler
	Bootstrapper Bootstrapper
	Logger       *slog.Logger
	Now          func() time.Time
}

func NewDetector(store Store, evaluator Evaluator, bootstrapper Bootstrapper, logger *slog.Logger) *Detector {
	return &Detector{
		Store:        store,
		Reconciler:   Reconciler{Evaluator: evaluator},
		Bootstrapper: bootstrapper,
		Logger:       logging.WithComponent(logger, "conflict.detector"),
		Now:          time.Now,
	}
}

func (d *Detector) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *Detector) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// OnProjectCreated scans a freshly created project.
func (d *Detector) OnProjectCreated(ctx context.Context, p domain.Project) (Report, error) {
	return d.Scan(ctx, p)
}

// OnProjectUpdated rescans a project after any change.
func (d *Detector) OnProjectUpdated(ctx context.Context, p domain.Project) (Report, error) {
	return d.Scan(ctx, p)
}

// OnProjectDeleted removes every conflict that references the project.
func (d *Detector) OnProjectDeleted(ctx context.Context, projectID string) ([]string, error) {
	return d.Purge(ctx, projectID)
}

// Scan reconciles the stored conflicts of subject with its current overlaps.
// The returned error is non-nil only when the inputs could not be read, in
// which case nothing was written. Failed pair writes are reported, not returned.
func (d *Detector) Scan(ctx context.Context, subject domain.Project) (Report, error) {
	report := Report{ProjectID: subject.ID}
	var (
		candidates []domain.Project
		existing   []domain.Conflict
	)
	err := d.Store.Atomic(ctx, func(s Store) error {
		var err error
		if candidates, err = s.ListActiveProjectsExcluding(ctx, subject.DepartmentID, subject.ID); err != nil {
			return errors.Wrap(err, "list candidate projects")
		}
		if existing, err = s.ListConflictsForProject(ctx, subject.ID); err != nil {
			return errors.Wrap(err, "list existing conflicts")
		}
		return nil
	})
	if err != nil {
		return report, errors.Wrapf(err, "scan project %s", subject.ID)
	}

	plan := d.Reconciler.Reconcile(subject, candidates, existing, d.now())
	report.Unchanged = plan.Unchanged

	for _, c := range plan.Delete {
		if err := d.Store.DeleteConflict(ctx, c.ID); err != nil {
			d.fail(&report, "delete", c.ConflictID, err)
			continue
		}
		report.Deleted = append(report.Deleted, c.ConflictID)
	}
	for _, ins := range plan.Insert {
		created, err := d.insert(ctx, subject, ins)
		if err != nil {
			d.fail(&report, "insert", ins.Input.ConflictID, err)
			continue
		}
		if !created {
			d.logger().Debug("conflict already recorded", slog.String("conflict_id", ins.Input.ConflictID))
			report.Unchanged++
			continue
		}
		report.Inserted = append(report.Inserted, ins.Input.ConflictID)
	}
	for _, ro := range plan.Reopen {
		if err := d.reopen(ctx, subject, ro); err != nil {
			d.fail(&report, "reopen", ro.Conflict.ConflictID, err)
			continue
		}
		report.Reopened = append(report.Reopened, ro.Conflict.ConflictID)
	}
	for _, rf := range plan.Refresh {
		if err := d.Store.UpdateConflictDetails(ctx, rf.Conflict.ID, rf.Details); err != nil {
			d.fail(&report, "refresh", rf.Conflict.ConflictID, err)
			continue
		}
		report.Refreshed = append(report.Refreshed, rf.Conflict.ConflictID)
	}

	if report.Failed > 0 {
		report.Warning = fmt.Sprintf("%d conflict pair(s) could not be updated", report.Failed)
	}
	d.logger().Info("scan completed",
		slog.String("project_id", subject.ID),
		slog.Int("candidates", len(candidates)),
		slog.Int("inserted", len(report.Inserted)),
		slog.Int("deleted", len(report.Deleted)),
		slog.Int("reopened", len(report.Reopened)),
		slog.Int("refreshed", len(report.Refreshed)),
		slog.Int("failed", report.Failed))
	return report, nil
}

func (d *Detector) insert(ctx context.Context, subject domain.Project, ins Insert) (bool, error) {
	var created bool
	err := d.Store.Atomic(ctx, func(s Store) error {
		c, ok, err := s.InsertConflict(ctx, ins.Input)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		created = true
		_, err = d.Bootstrapper.Bootstrap(ctx, s, c, subject, ins.Candidate)
		return err
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

func (d *Detector) reopen(ctx context.Context, subject domain.Project, ro Reopen) error {
	return d.Store.Atomic(ctx, func(s Store) error {
		if err := s.ReopenConflict(ctx, ro.Conflict.ID, ro.Details); err != nil {
			return err
		}
		_, err := d.Bootstrapper.Rebootstrap(ctx, s, ro.Conflict, ro.Details, subject, ro.Candidate)
		return err
	})
}

func (d *Detector) fail(r *Report, op, conflictID string, err error) {
	r.Failed++
	r.Errors = append(r.Errors, &PairError{Op: op, ConflictID: conflictID, Err: err})
	d.logger().Error("conflict pair update failed",
		slog.String("op", op), slog.String("conflict_id", conflictID), slog.Any("error", err))
}

// Purge deletes all conflicts of a project. Conversations and messages go
// with them.
func (d *Detector) Purge(ctx context.Context, projectID string) ([]string, error) {
	var ids []string
	err := d.Store.Atomic(ctx, func(s Store) error {
		var err error
		ids, err = s.DeleteConflictsForProject(ctx, projectID)
		return err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "purge conflicts of project %s", projectID)
	}
	return ids, nil
}
