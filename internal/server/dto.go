package server

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"synccity/internal/conflict"
	"synccity/internal/domain"
)

// Request payloads

type CreateDepartmentRequest struct {
	ID             string `json:"id,omitempty"`
	Name           string `json:"name"`
	Email          string `json:"email,omitempty"`
	PointOfContact string `json:"point_of_contact,omitempty"`
}

// LocationPayload carries GeoJSON coordinates of any depth.
type LocationPayload struct {
	Type        string   `json:"type" enum:"Point,Polygon,LineString"`
	Coordinates any      `json:"coordinates"`
	Radius      *float64 `json:"radius,omitempty" minimum:"0"`
}

type CreateProjectRequest struct {
	ID                string          `json:"id,omitempty"`
	DepartmentID      string          `json:"department_id"`
	Name              string          `json:"name"`
	Description       string          `json:"description,omitempty"`
	StartDate         string          `json:"start_date" example:"2024-01-05"`
	EndDate           string          `json:"end_date" example:"2024-01-10"`
	Status            string          `json:"status,omitempty" enum:"active,completed,cancelled"`
	Location          LocationPayload `json:"location"`
	Priority          string          `json:"priority,omitempty" enum:"low,medium,high"`
	Budget            *float64        `json:"budget,omitempty"`
	ResourcesRequired []string        `json:"resources_required,omitempty"`
}

type UpdateProjectRequest struct {
	DepartmentID      *string          `json:"department_id,omitempty"`
	Name              *string          `json:"name,omitempty"`
	Description       *string          `json:"description,omitempty"`
	StartDate         *string          `json:"start_date,omitempty"`
	EndDate           *string          `json:"end_date,omitempty"`
	Status            *string          `json:"status,omitempty" enum:"active,completed,cancelled"`
	Location          *LocationPayload `json:"location,omitempty"`
	Priority          *string          `json:"priority,omitempty" enum:"low,medium,high"`
	Budget            *float64         `json:"budget,omitempty"`
	ResourcesRequired []string         `json:"resources_required,omitempty"`
}

type UpdateConflictRequest struct {
	Status         string `json:"status" enum:"detected,resolved,ignored"`
	Resolution     string `json:"resolution,omitempty"`
	ResolutionType string `json:"resolution_type,omitempty" enum:"rescheduled,relocated,resourceReallocation,other"`
}

// Responses

type ProjectResponse struct {
	ID                string          `json:"id"`
	DepartmentID      string          `json:"department_id"`
	Name              string          `json:"name"`
	Description       string          `json:"description,omitempty"`
	StartDate         time.Time       `json:"start_date"`
	EndDate           time.Time       `json:"end_date"`
	Status            string          `json:"status"`
	Location          LocationPayload `json:"location"`
	Priority          string          `json:"priority"`
	Budget            *float64        `json:"budget,omitempty"`
	ResourcesRequired []string        `json:"resources_required"`
	CreatedAt         string          `json:"created_at"`
	UpdatedAt         string          `json:"updated_at"`
}

type ScanResponse struct {
	Inserted    int      `json:"inserted"`
	Deleted     int      `json:"deleted"`
	Reopened    int      `json:"reopened"`
	Refreshed   int      `json:"refreshed"`
	Unchanged   int      `json:"unchanged"`
	Failed      int      `json:"failed"`
	Queued      bool     `json:"queued"`
	Warning     string   `json:"warning,omitempty"`
	ConflictIDs []string `json:"conflict_ids"`
}

type ProjectWriteResponse struct {
	Project ProjectResponse `json:"project"`
	Scan    ScanResponse    `json:"scan"`
}

type DeleteProjectResponse struct {
	ID               string   `json:"id"`
	ClearedConflicts []string `json:"cleared_conflicts"`
}

func parseDate(field, in string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, in); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.Errorf("%s must be RFC 3339 or YYYY-MM-DD, got %q", field, in)
}

func (l LocationPayload) toDomain() (domain.Location, error) {
	coords, err := json.Marshal(l.Coordinates)
	if err != nil {
		return domain.Location{}, errors.Wrap(err, "location.coordinates")
	}
	return domain.Location{Type: l.Type, Coordinates: coords, Radius: l.Radius}, nil
}

func locationPayload(l domain.Location) LocationPayload {
	var coords any
	if len(l.Coordinates) > 0 {
		_ = json.Unmarshal(l.Coordinates, &coords)
	}
	return LocationPayload{Type: l.Type, Coordinates: coords, Radius: l.Radius}
}

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{
		ID:                p.ID,
		DepartmentID:      p.DepartmentID,
		Name:              p.Name,
		Description:       p.Description,
		StartDate:         p.StartDate,
		EndDate:           p.EndDate,
		Status:            p.Status,
		Location:          locationPayload(p.Location),
		Priority:          p.Priority,
		Budget:            p.Budget,
		ResourcesRequired: nonNilSlice(p.ResourcesRequired),
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
	}
}

func mapProjects(items []domain.Project) []ProjectResponse {
	out := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		out = append(out, projectResponse(p))
	}
	return out
}

func scanResponse(r conflict.Report) ScanResponse {
	ids := make([]string, 0, len(r.Inserted)+len(r.Reopened))
	ids = append(ids, r.Inserted...)
	ids = append(ids, r.Reopened...)
	return ScanResponse{
		Inserted:    len(r.Inserted),
		Deleted:     len(r.Deleted),
		Reopened:    len(r.Reopened),
		Refreshed:   len(r.Refreshed),
		Unchanged:   r.Unchanged,
		Failed:      r.Failed,
		Queued:      r.Queued,
		Warning:     r.Warning,
		ConflictIDs: ids,
	}
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
