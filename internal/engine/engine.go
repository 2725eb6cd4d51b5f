package engine

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"synccity/internal/config"
	"synccity/internal/conflict"
	"synccity/internal/domain"
	"synccity/internal/events"
	"synccity/internal/geo"
	"synccity/internal/logging"
	"synccity/internal/repo"
)

// ErrValidation marks input rejected before anything was written.
var ErrValidation = errors.New("validation failed")

func invalid(format string, args ...any) error {
	return errors.Wrapf(ErrValidation, format, args...)
}

// Engine owns every write to departments, projects and conflict decisions,
// and triggers conflict detection after project changes are committed.
type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Detector *conflict.Detector
	Logger   *slog.Logger
	Now      func() time.Time

	queue *scanQueue
}

func New(db *sql.DB, cfg *config.Config, logger *slog.Logger) *Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Config: cfg,
		Logger: logging.WithComponent(logger, "engine"),
		Now:    time.Now,
	}
	e.Events = events.Writer{Now: e.now}

	store := repo.NewStore(db)
	store.Now = e.now
	calc := geo.NewCalculator(geo.Haversine{})
	calc.DefaultRadius = cfg.Scan.DefaultRadiusMeters
	boot := conflict.Bootstrapper{DateLayout: cfg.Scan.DateLayout}
	e.Detector = conflict.NewDetector(store, conflict.NewEvaluator(calc, logger), boot, logger)
	e.Detector.Now = e.now

	if cfg.Scan.Mode == config.ScanAsync {
		e.queue = newScanQueue(e, cfg.Scan.Workers, cfg.Scan.QueueSize)
	}
	return e
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// Close stops the scan workers after the queued scans have run.
func (e *Engine) Close(ctx context.Context) error {
	if e.queue == nil {
		return nil
	}
	return e.queue.Close(ctx)
}

type DepartmentCreateOptions struct {
	ID             string
	Name           string
	Email          string
	PointOfContact string
	ActorID        string
}

func (e *Engine) CreateDepartment(ctx context.Context, opts DepartmentCreateOptions) (domain.Department, error) {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		return domain.Department{}, invalid("name is required")
	}
	d := domain.Department{
		ID:             opts.ID,
		Name:           name,
		Email:          opts.Email,
		PointOfContact: opts.PointOfContact,
		CreatedAt:      e.stamp(),
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Department{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertDepartmentTx(ctx, tx, d); err != nil {
		return domain.Department{}, errors.Wrap(err, "insert department")
	}
	if err := e.Events.Append(ctx, tx, events.DepartmentCreated, "department", d.ID, opts.ActorID, events.EventPayload{"name": d.Name}); err != nil {
		return domain.Department{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Department{}, err
	}
	return d, nil
}

func (e *Engine) ListDepartments(ctx context.Context) ([]domain.Department, error) {
	return e.Repo.ListDepartments(ctx)
}

// ProjectCreateOptions are parameters for creating a project. Status defaults
// to active and priority to medium.
type ProjectCreateOptions struct {
	ID                string
	DepartmentID      string
	Name              string
	Description       string
	StartDate         time.Time
	EndDate           time.Time
	Status            string
	Location          domain.Location
	Priority          string
	Budget            *float64
	ResourcesRequired []string
	ActorID           string
}

// CreateProject stores the project and then scans it for conflicts. A failed
// scan never undoes the write; it surfaces in the returned report instead.
func (e *Engine) CreateProject(ctx context.Context, opts ProjectCreateOptions) (domain.Project, conflict.Report, error) {
	now := e.stamp()
	p := domain.Project{
		ID:                opts.ID,
		DepartmentID:      opts.DepartmentID,
		Name:              strings.TrimSpace(opts.Name),
		Description:       opts.Description,
		StartDate:         storedInstant(opts.StartDate),
		EndDate:           storedInstant(opts.EndDate),
		Status:            opts.Status,
		Location:          opts.Location,
		Priority:          opts.Priority,
		Budget:            opts.Budget,
		ResourcesRequired: opts.ResourcesRequired,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = domain.ProjectActive
	}
	if p.Priority == "" {
		p.Priority = "medium"
	}
	if err := e.validateProject(ctx, p); err != nil {
		return domain.Project{}, conflict.Report{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, conflict.Report{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertProjectTx(ctx, tx, p); err != nil {
		return domain.Project{}, conflict.Report{}, errors.Wrap(err, "insert project")
	}
	if err := e.Events.Append(ctx, tx, events.ProjectCreated, "project", p.ID, opts.ActorID, events.EventPayload{
		"department_id": p.DepartmentID,
		"status":        p.Status,
	}); err != nil {
		return domain.Project{}, conflict.Report{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, conflict.Report{}, err
	}
	return p, e.afterWrite(ctx, p, opts.ActorID, e.Detector.OnProjectCreated), nil
}

// storedInstant drops what the database cannot keep: instants are stored as
// unix milliseconds, and the scan after a write must see the persisted value.
func storedInstant(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// ProjectUpdateOptions patches a project; nil fields are left as they are.
type ProjectUpdateOptions struct {
	ID                string
	DepartmentID      *string
	Name              *string
	Description       *string
	StartDate         *time.Time
	EndDate           *time.Time
	Status            *string
	Location          *domain.Location
	Priority          *string
	Budget            *float64
	ResourcesRequired *[]string
	ActorID           string
}

func (e *Engine) UpdateProject(ctx context.Context, opts ProjectUpdateOptions) (domain.Project, conflict.Report, error) {
	p, err := e.Repo.GetProject(ctx, opts.ID)
	if err != nil {
		return domain.Project{}, conflict.Report{}, err
	}
	var changed []string
	if opts.DepartmentID != nil {
		p.DepartmentID = *opts.DepartmentID
		changed = append(changed, "department_id")
	}
	if opts.Name != nil {
		p.Name = strings.TrimSpace(*opts.Name)
		changed = append(changed, "name")
	}
	if opts.Description != nil {
		p.Description = *opts.Description
		changed = append(changed, "description")
	}
	if opts.StartDate != nil {
		p.StartDate = storedInstant(*opts.StartDate)
		changed = append(changed, "start_date")
	}
	if opts.EndDate != nil {
		p.EndDate = storedInstant(*opts.EndDate)
		changed = append(changed, "end_date")
	}
	if opts.Status != nil {
		p.Status = *opts.Status
		changed = append(changed, "status")
	}
	if opts.Location != nil {
		p.Location = *opts.Location
		changed = append(changed, "location")
	}
	if opts.Priority != nil {
		p.Priority = *opts.Priority
		changed = append(changed, "priority")
	}
	if opts.Budget != nil {
		b := *opts.Budget
		p.Budget = &b
		changed = append(changed, "budget")
	}
	if opts.ResourcesRequired != nil {
		p.ResourcesRequired = *opts.ResourcesRequired
		changed = append(changed, "resources_required")
	}
	if len(changed) == 0 {
		return domain.Project{}, conflict.Report{}, invalid("no fields to update")
	}
	if err := e.validateProject(ctx, p); err != nil {
		return domain.Project{}, conflict.Report{}, err
	}
	p.UpdatedAt = e.stamp()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, conflict.Report{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateProjectTx(ctx, tx, p); err != nil {
		return domain.Project{}, conflict.Report{}, err
	}
	if err := e.Events.Append(ctx, tx, events.ProjectUpdated, "project", p.ID, opts.ActorID, events.EventPayload{"fields": changed}); err != nil {
		return domain.Project{}, conflict.Report{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, conflict.Report{}, err
	}
	return p, e.afterWrite(ctx, p, opts.ActorID, e.Detector.OnProjectUpdated), nil
}

// DeleteProject purges the project's conflicts and removes it. It returns the
// conflict ids that were cleared.
func (e *Engine) DeleteProject(ctx context.Context, id, actorID string) ([]string, error) {
	if _, err := e.Repo.GetProject(ctx, id); err != nil {
		return nil, err
	}
	cleared, err := e.Detector.OnProjectDeleted(ctx, id)
	if err != nil {
		// the row delete below cascades anyway
		e.Logger.Warn("conflict purge failed", slog.String("project_id", id), slog.Any("error", err))
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteProjectTx(ctx, tx, id); err != nil {
		return nil, err
	}
	if err := e.Events.Append(ctx, tx, events.ProjectDeleted, "project", id, actorID, events.EventPayload{"cleared_conflicts": cleared}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	for _, cid := range cleared {
		e.appendEvent(ctx, events.ConflictCleared, "conflict", cid, actorID, events.EventPayload{"project_id": id})
	}
	return cleared, nil
}

// Rescan runs detection for one project inline, whatever the scan mode.
func (e *Engine) Rescan(ctx context.Context, id, actorID string) (conflict.Report, error) {
	p, err := e.Repo.GetProject(ctx, id)
	if err != nil {
		return conflict.Report{}, err
	}
	report, err := e.Detector.Scan(ctx, p)
	if err != nil {
		return report, err
	}
	e.recordScan(ctx, report, actorID)
	return report, nil
}

// RescanAll scans every stored project. Inactive projects are included so
// that their leftover conflicts get cleared.
func (e *Engine) RescanAll(ctx context.Context, actorID string) ([]conflict.Report, error) {
	projects, err := e.Repo.ListProjects(ctx, repo.ProjectFilter{})
	if err != nil {
		return nil, err
	}
	log := logging.WithOperation(e.Logger, "rescan_all")
	reports := make([]conflict.Report, 0, len(projects))
	for _, p := range projects {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		report, err := e.Detector.Scan(ctx, p)
		if err != nil {
			log.Error("rescan failed", slog.String("project_id", p.ID), slog.Any("error", err))
			report.Failed++
			report.Warning = err.Error()
		} else {
			e.recordScan(ctx, report, actorID)
		}
		reports = append(reports, report)
	}
	log.Info("rescan finished", slog.Int("projects", len(reports)))
	return reports, nil
}

// afterWrite schedules detection for a committed project write.
func (e *Engine) afterWrite(ctx context.Context, p domain.Project, actorID string, scan func(context.Context, domain.Project) (conflict.Report, error)) conflict.Report {
	if e.queue != nil {
		err := e.queue.Enqueue(p.ID)
		if err == nil {
			return conflict.Report{ProjectID: p.ID, Queued: true}
		}
		e.Logger.Warn("scan queue unavailable, scanning inline", slog.String("project_id", p.ID), slog.Any("error", err))
	}
	report, err := scan(ctx, p)
	if err != nil {
		e.Logger.Error("conflict scan failed", slog.String("project_id", p.ID), slog.Any("error", err))
		report.ProjectID = p.ID
		report.Warning = "conflict scan failed: " + err.Error()
		return report
	}
	e.recordScan(ctx, report, actorID)
	return report
}

// scanByID is the queue worker entry point. Projects deleted since they were
// queued are skipped.
func (e *Engine) scanByID(ctx context.Context, id string) {
	p, err := e.Repo.GetProject(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		e.Logger.Debug("queued project gone", slog.String("project_id", id))
		return
	}
	if err != nil {
		e.Logger.Error("load queued project", slog.String("project_id", id), slog.Any("error", err))
		return
	}
	report, err := e.Detector.Scan(ctx, p)
	if err != nil {
		e.Logger.Error("conflict scan failed", slog.String("project_id", id), slog.Any("error", err))
		return
	}
	e.recordScan(ctx, report, "")
}

func (e *Engine) recordScan(ctx context.Context, r conflict.Report, actorID string) {
	for _, cid := range r.Inserted {
		e.appendEvent(ctx, events.ConflictDetected, "conflict", cid, actorID, events.EventPayload{"project_id": r.ProjectID})
	}
	for _, cid := range r.Deleted {
		e.appendEvent(ctx, events.ConflictCleared, "conflict", cid, actorID, events.EventPayload{"project_id": r.ProjectID})
	}
	for _, cid := range r.Reopened {
		e.appendEvent(ctx, events.ConflictReopened, "conflict", cid, actorID, events.EventPayload{"project_id": r.ProjectID})
	}
	e.appendEvent(ctx, events.ScanCompleted, "project", r.ProjectID, actorID, events.EventPayload{
		"inserted":  len(r.Inserted),
		"deleted":   len(r.Deleted),
		"reopened":  len(r.Reopened),
		"refreshed": len(r.Refreshed),
		"unchanged": r.Unchanged,
		"failed":    r.Failed,
	})
}

// appendEvent writes an event outside any transaction; failures are only logged.
func (e *Engine) appendEvent(ctx context.Context, evtType, kind, id, actorID string, payload events.EventPayload) {
	if err := e.Events.Append(ctx, e.DB, evtType, kind, id, actorID, payload); err != nil {
		e.Logger.Warn("append event", slog.String("type", evtType), slog.Any("error", err))
	}
}

var (
	projectStatuses = map[string]bool{domain.ProjectActive: true, domain.ProjectCompleted: true, domain.ProjectCancelled: true}
	priorities      = map[string]bool{"low": true, "medium": true, "high": true}
	locationTypes   = map[string]bool{"Point": true, "Polygon": true, "LineString": true}
	resolutionTypes = map[string]bool{
		domain.ResolutionRescheduled:  true,
		domain.ResolutionRelocated:    true,
		domain.ResolutionReallocation: true,
		domain.ResolutionOther:        true,
	}
)

func (e *Engine) validateProject(ctx context.Context, p domain.Project) error {
	if p.Name == "" {
		return invalid("name is required")
	}
	if p.DepartmentID == "" {
		return invalid("department_id is required")
	}
	if p.StartDate.IsZero() || p.EndDate.IsZero() {
		return invalid("start_date and end_date are required")
	}
	if p.StartDate.After(p.EndDate) {
		return invalid("start_date must not be after end_date")
	}
	if !projectStatuses[p.Status] {
		return invalid("unknown status %q", p.Status)
	}
	if !priorities[p.Priority] {
		return invalid("unknown priority %q", p.Priority)
	}
	if !locationTypes[p.Location.Type] {
		return invalid("unsupported location type %q", p.Location.Type)
	}
	if _, err := geo.Anchor(p.Location); err != nil {
		return invalid("location: %v", err)
	}
	if p.Location.Radius != nil && *p.Location.Radius < 0 {
		return invalid("location radius must not be negative")
	}
	if p.Budget != nil && *p.Budget < 0 {
		return invalid("budget must not be negative")
	}
	if _, err := e.Repo.GetDepartment(ctx, p.DepartmentID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return invalid("unknown department %s", p.DepartmentID)
		}
		return err
	}
	return nil
}

// ConflictStatusOptions record an external decision on a conflict.
type ConflictStatusOptions struct {
	ID             string
	Status         string
	Resolution     string
	ResolutionType string
	ActorID        string
}

// SetConflictStatus resolves, ignores or reopens a conflict and moves its
// conversation along: resolved to resolved, ignored to closed, detected to active.
func (e *Engine) SetConflictStatus(ctx context.Context, opts ConflictStatusOptions) (domain.Conflict, error) {
	var convStatus string
	switch opts.Status {
	case domain.ConflictResolved:
		convStatus = domain.ConversationResolved
	case domain.ConflictIgnored:
		convStatus = domain.ConversationClosed
	case domain.ConflictDetected:
		convStatus = domain.ConversationActive
	default:
		return domain.Conflict{}, invalid("unknown conflict status %q", opts.Status)
	}
	if opts.ResolutionType != "" && !resolutionTypes[opts.ResolutionType] {
		return domain.Conflict{}, invalid("unknown resolution type %q", opts.ResolutionType)
	}
	var resolvedAt *string
	if opts.Status != domain.ConflictDetected {
		now := e.stamp()
		resolvedAt = &now
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Conflict{}, err
	}
	defer tx.Rollback()
	c, err := e.Repo.GetConflictTx(ctx, tx, opts.ID)
	if err != nil {
		return domain.Conflict{}, err
	}
	resolution, resolutionType := opts.Resolution, opts.ResolutionType
	if opts.Status == domain.ConflictDetected {
		resolution, resolutionType = "", ""
	}
	if err := e.Repo.SetConflictStatusTx(ctx, tx, c.ID, opts.Status, resolution, resolvedAt); err != nil {
		return domain.Conflict{}, err
	}
	if err := e.Repo.SetConversationStatusTx(ctx, tx, c.ID, convStatus, resolutionType, resolvedAt); err != nil {
		return domain.Conflict{}, err
	}
	if err := e.Events.Append(ctx, tx, events.ConflictStatusChanged, "conflict", c.ConflictID, opts.ActorID, events.EventPayload{
		"from":       c.Status,
		"to":         opts.Status,
		"resolution": resolution,
	}); err != nil {
		return domain.Conflict{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Conflict{}, err
	}
	return e.Repo.GetConflict(ctx, c.ID)
}

func (e *Engine) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return e.Repo.GetProject(ctx, id)
}

func (e *Engine) ListProjects(ctx context.Context, f repo.ProjectFilter) ([]domain.Project, error) {
	return e.Repo.ListProjects(ctx, f)
}

// ListConflicts filters by project and status. An unknown project is an error
// rather than an empty list.
func (e *Engine) ListConflicts(ctx context.Context, f repo.ConflictFilter) ([]domain.Conflict, error) {
	if f.ProjectID != "" {
		if _, err := e.Repo.GetProject(ctx, f.ProjectID); err != nil {
			return nil, err
		}
	}
	return e.Repo.ListConflicts(ctx, f)
}

func (e *Engine) GetConflict(ctx context.Context, id string) (domain.Conflict, error) {
	return e.Repo.GetConflict(ctx, id)
}

func (e *Engine) GetConversationForConflict(ctx context.Context, conflictRecordID string) (domain.ConflictConversation, error) {
	return e.Repo.GetConversationForConflict(ctx, conflictRecordID)
}

func (e *Engine) ListMessages(ctx context.Context, conversationID string) ([]domain.ConflictMessage, error) {
	if _, err := e.Repo.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	return e.Repo.ListMessages(ctx, conversationID)
}

func (e *Engine) LatestEvents(ctx context.Context, f repo.EventFilter) ([]domain.Event, error) {
	return e.Repo.LatestEvents(ctx, f)
}
