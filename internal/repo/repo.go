package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"

	"synccity/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func (r Repo) InsertDepartmentTx(ctx context.Context, tx *sql.Tx, d domain.Department) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO departments(id,name,email,point_of_contact,created_at) VALUES (?,?,?,?,?)`,
		d.ID, d.Name, nullable(d.Email), nullable(d.PointOfContact), d.CreatedAt)
	return err
}

func (r Repo) GetDepartment(ctx context.Context, id string) (domain.Department, error) {
	var d domain.Department
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,COALESCE(email,''),COALESCE(point_of_contact,''),created_at FROM departments WHERE id=?`, id).
		Scan(&d.ID, &d.Name, &d.Email, &d.PointOfContact, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	return d, err
}

func (r Repo) ListDepartments(ctx context.Context) ([]domain.Department, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,COALESCE(email,''),COALESCE(point_of_contact,''),created_at FROM departments ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Department
	for rows.Next() {
		var d domain.Department
		if err := rows.Scan(&d.ID, &d.Name, &d.Email, &d.PointOfContact, &d.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

const projectColumns = `id,department_id,name,COALESCE(description,''),start_date,end_date,status,location_json,priority,budget,COALESCE(resources_required_json,''),created_at,updated_at`

func scanProject(s scanner) (domain.Project, error) {
	var (
		p          domain.Project
		start, end int64
		location   string
		budget     sql.NullFloat64
		resources  string
	)
	err := s.Scan(&p.ID, &p.DepartmentID, &p.Name, &p.Description, &start, &end, &p.Status, &location,
		&p.Priority, &budget, &resources, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.StartDate = time.UnixMilli(start).UTC()
	p.EndDate = time.UnixMilli(end).UTC()
	if err := json.Unmarshal([]byte(location), &p.Location); err != nil {
		return p, errors.Wrapf(err, "decode location of project %s", p.ID)
	}
	if budget.Valid {
		b := budget.Float64
		p.Budget = &b
	}
	if resources != "" {
		if err := json.Unmarshal([]byte(resources), &p.ResourcesRequired); err != nil {
			return p, errors.Wrapf(err, "decode resources of project %s", p.ID)
		}
	}
	return p, nil
}

func projectArgs(p domain.Project) ([]any, error) {
	location, err := json.Marshal(p.Location)
	if err != nil {
		return nil, errors.Wrap(err, "encode location")
	}
	var resources any
	if len(p.ResourcesRequired) > 0 {
		data, err := json.Marshal(p.ResourcesRequired)
		if err != nil {
			return nil, errors.Wrap(err, "encode resources")
		}
		resources = string(data)
	}
	var budget any
	if p.Budget != nil {
		budget = *p.Budget
	}
	return []any{p.DepartmentID, p.Name, nullable(p.Description), p.StartDate.UnixMilli(), p.EndDate.UnixMilli(),
		p.Status, string(location), p.Priority, budget, resources}, nil
}

func (r Repo) InsertProjectTx(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	args, err := projectArgs(p)
	if err != nil {
		return err
	}
	args = append([]any{p.ID}, args...)
	args = append(args, p.CreatedAt, p.UpdatedAt)
	_, err = tx.ExecContext(ctx, `INSERT INTO projects(id,department_id,name,description,start_date,end_date,status,location_json,priority,budget,resources_required_json,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`, args...)
	return err
}

// UpdateProjectTx rewrites every mutable column of the project.
func (r Repo) UpdateProjectTx(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	args, err := projectArgs(p)
	if err != nil {
		return err
	}
	args = append(args, p.UpdatedAt, p.ID)
	res, err := tx.ExecContext(ctx, `UPDATE projects SET department_id=?, name=?, description=?, start_date=?, end_date=?, status=?, location_json=?, priority=?, budget=?, resources_required_json=?, updated_at=? WHERE id=?`, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteProjectTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return getProject(ctx, r.DB, id)
}

func getProject(ctx context.Context, q querier, id string) (domain.Project, error) {
	return scanProject(q.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
}

type ProjectFilter struct {
	DepartmentID string
	Status       string
}

func (r Repo) ListProjects(ctx context.Context, f ProjectFilter) ([]domain.Project, error) {
	var (
		clauses []string
		args    []any
	)
	if f.DepartmentID != "" {
		clauses = append(clauses, "department_id=?")
		args = append(args, f.DepartmentID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	query := `SELECT ` + projectColumns + ` FROM projects`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at, id"
	return listProjects(ctx, r.DB, query, args...)
}

func listProjects(ctx context.Context, q querier, query string, args ...any) ([]domain.Project, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func listActiveProjectsExcluding(ctx context.Context, q querier, departmentID, excludeProjectID string) ([]domain.Project, error) {
	return listProjects(ctx, q, `SELECT `+projectColumns+` FROM projects WHERE status=? AND department_id<>? AND id<>? ORDER BY id`,
		domain.ProjectActive, departmentID, excludeProjectID)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
