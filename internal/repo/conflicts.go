package repo

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"synccity/internal/domain"
)

const conflictColumns = `id,conflict_id,project1_id,project2_id,conflict_type,spatial_overlap,temporal_start,temporal_end,status,COALESCE(resolution,''),created_at,resolved_at`

func scanConflict(s scanner) (domain.Conflict, error) {
	var (
		c          domain.Conflict
		start, end int64
		resolvedAt sql.NullString
	)
	err := s.Scan(&c.ID, &c.ConflictID, &c.Project1ID, &c.Project2ID, &c.ConflictType, &c.ConflictDetails.SpatialOverlap,
		&start, &end, &c.Status, &c.Resolution, &c.CreatedAt, &resolvedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.ConflictDetails.TemporalOverlap.StartDate = time.UnixMilli(start).UTC()
	c.ConflictDetails.TemporalOverlap.EndDate = time.UnixMilli(end).UTC()
	c.ResolvedAt = stringPtr(resolvedAt)
	return c, nil
}

func listConflicts(ctx context.Context, q querier, query string, args ...any) ([]domain.Conflict, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Conflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func listConflictsForProject(ctx context.Context, q querier, projectID string) ([]domain.Conflict, error) {
	return listConflicts(ctx, q, `SELECT `+conflictColumns+` FROM conflicts WHERE project1_id=? OR project2_id=? ORDER BY created_at, id`, projectID, projectID)
}

func getConflict(ctx context.Context, q querier, id string) (domain.Conflict, error) {
	return scanConflict(q.QueryRowContext(ctx, `SELECT `+conflictColumns+` FROM conflicts WHERE id=?`, id))
}

func getConflictByKey(ctx context.Context, q querier, conflictID string) (domain.Conflict, error) {
	return scanConflict(q.QueryRowContext(ctx, `SELECT `+conflictColumns+` FROM conflicts WHERE conflict_id=?`, conflictID))
}

// insertConflict relies on the unique conflict_id so that two scans racing on
// the same pair end up with a single row.
func insertConflict(ctx context.Context, q querier, in domain.ConflictInput) (domain.Conflict, bool, error) {
	c := domain.Conflict{
		ID:              uuid.NewString(),
		ConflictID:      in.ConflictID,
		Project1ID:      in.Project1ID,
		Project2ID:      in.Project2ID,
		ConflictType:    in.ConflictType,
		ConflictDetails: in.ConflictDetails,
		Status:          in.Status,
		CreatedAt:       in.CreatedAt,
	}
	res, err := q.ExecContext(ctx, `INSERT INTO conflicts(id,conflict_id,project1_id,project2_id,conflict_type,spatial_overlap,temporal_start,temporal_end,status,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?) ON CONFLICT(conflict_id) DO NOTHING`,
		c.ID, c.ConflictID, c.Project1ID, c.Project2ID, c.ConflictType, c.ConflictDetails.SpatialOverlap,
		c.ConflictDetails.TemporalOverlap.StartDate.UnixMilli(), c.ConflictDetails.TemporalOverlap.EndDate.UnixMilli(),
		c.Status, c.CreatedAt)
	if err != nil {
		return domain.Conflict{}, false, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		existing, err := getConflictByKey(ctx, q, in.ConflictID)
		return existing, false, err
	}
	return c, true, nil
}

func deleteConflict(ctx context.Context, q querier, id string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM conflicts WHERE id=?`, id)
	return err
}

func deleteConflictsForProject(ctx context.Context, q querier, projectID string) ([]string, error) {
	existing, err := listConflictsForProject(ctx, q, projectID)
	if err != nil {
		return nil, err
	}
	if len(existing) == 0 {
		return nil, nil
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM conflicts WHERE project1_id=? OR project2_id=?`, projectID, projectID); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(existing))
	for _, c := range existing {
		keys = append(keys, c.ConflictID)
	}
	return keys, nil
}

func reopenConflict(ctx context.Context, q querier, id string, d domain.ConflictDetails) error {
	res, err := q.ExecContext(ctx, `UPDATE conflicts SET status=?, spatial_overlap=?, temporal_start=?, temporal_end=?, resolution=NULL, resolved_at=NULL WHERE id=?`,
		domain.ConflictDetected, d.SpatialOverlap, d.TemporalOverlap.StartDate.UnixMilli(), d.TemporalOverlap.EndDate.UnixMilli(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func updateConflictDetails(ctx context.Context, q querier, id string, d domain.ConflictDetails) error {
	res, err := q.ExecContext(ctx, `UPDATE conflicts SET spatial_overlap=?, temporal_start=?, temporal_end=? WHERE id=?`,
		d.SpatialOverlap, d.TemporalOverlap.StartDate.UnixMilli(), d.TemporalOverlap.EndDate.UnixMilli(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetConflict(ctx context.Context, id string) (domain.Conflict, error) {
	return getConflict(ctx, r.DB, id)
}

func (r Repo) GetConflictTx(ctx context.Context, tx *sql.Tx, id string) (domain.Conflict, error) {
	return getConflict(ctx, tx, id)
}

func (r Repo) ListConflictsForProject(ctx context.Context, projectID string) ([]domain.Conflict, error) {
	return listConflictsForProject(ctx, r.DB, projectID)
}

type ConflictFilter struct {
	Status    string
	ProjectID string
}

func (r Repo) ListConflicts(ctx context.Context, f ConflictFilter) ([]domain.Conflict, error) {
	var (
		clauses []string
		args    []any
	)
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.ProjectID != "" {
		clauses = append(clauses, "(project1_id=? OR project2_id=?)")
		args = append(args, f.ProjectID, f.ProjectID)
	}
	query := `SELECT ` + conflictColumns + ` FROM conflicts`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at, id"
	return listConflicts(ctx, r.DB, query, args...)
}

// SetConflictStatusTx records an external decision on a conflict. resolvedAt
// is cleared when the conflict goes back to detected.
func (r Repo) SetConflictStatusTx(ctx context.Context, tx *sql.Tx, id, status, resolution string, resolvedAt *string) error {
	res, err := tx.ExecContext(ctx, `UPDATE conflicts SET status=?, resolution=?, resolved_at=? WHERE id=?`,
		status, nullable(resolution), nullableStringPtr(resolvedAt), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
