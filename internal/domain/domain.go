package domain

import (
	"encoding/json"
	"time"
)

const (
	ProjectActive    = "active"
	ProjectCompleted = "completed"
	ProjectCancelled = "cancelled"
)

const (
	ConflictDetected = "detected"
	ConflictResolved = "resolved"
	ConflictIgnored  = "ignored"
)

const (
	ConversationActive   = "active"
	ConversationResolved = "resolved"
	ConversationClosed   = "closed"
)

// Resolution types recorded on a settled conversation.
const (
	ResolutionRescheduled  = "rescheduled"
	ResolutionRelocated    = "relocated"
	ResolutionReallocation = "resourceReallocation"
	ResolutionOther        = "other"
)

// ConflictTypeTemporalSpatial is the only actionable conflict type.
const ConflictTypeTemporalSpatial = "temporal-spatial"

// SystemSenderID marks messages authored by the engine.
const SystemSenderID = "system"

type Department struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Email          string `json:"email,omitempty"`
	PointOfContact string `json:"point_of_contact,omitempty"`
	CreatedAt      string `json:"created_at" format:"date-time"`
}

// Location is a GeoJSON-shaped footprint with an optional radius in meters.
type Location struct {
	Type        string          `json:"type" enum:"Point,Polygon,LineString"`
	Coordinates json.RawMessage `json:"coordinates"`
	Radius      *float64        `json:"radius,omitempty"`
}

type Project struct {
	ID                string    `json:"id"`
	DepartmentID      string    `json:"department_id"`
	Name              string    `json:"name"`
	Description       string    `json:"description,omitempty"`
	StartDate         time.Time `json:"start_date"`
	EndDate           time.Time `json:"end_date"`
	Status            string    `json:"status" enum:"active,completed,cancelled"`
	Location          Location  `json:"location"`
	Priority          string    `json:"priority" enum:"low,medium,high"`
	Budget            *float64  `json:"budget,omitempty"`
	ResourcesRequired []string  `json:"resources_required,omitempty"`
	CreatedAt         string    `json:"created_at" format:"date-time"`
	UpdatedAt         string    `json:"updated_at" format:"date-time"`
}

// Active reports whether the project takes part in conflict detection.
func (p Project) Active() bool {
	return p.Status == ProjectActive
}

type TemporalOverlap struct {
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

type ConflictDetails struct {
	SpatialOverlap  int             `json:"spatial_overlap"`
	TemporalOverlap TemporalOverlap `json:"temporal_overlap"`
}

// Equal compares details at millisecond precision, which is what the store keeps.
func (d ConflictDetails) Equal(o ConflictDetails) bool {
	return d.SpatialOverlap == o.SpatialOverlap &&
		d.TemporalOverlap.StartDate.UnixMilli() == o.TemporalOverlap.StartDate.UnixMilli() &&
		d.TemporalOverlap.EndDate.UnixMilli() == o.TemporalOverlap.EndDate.UnixMilli()
}

// ConflictInput is the payload for a newly discovered conflict.
type ConflictInput struct {
	ConflictID      string          `json:"conflict_id"`
	Project1ID      string          `json:"project1_id"`
	Project2ID      string          `json:"project2_id"`
	ConflictType    string          `json:"conflict_type"`
	ConflictDetails ConflictDetails `json:"conflict_details"`
	Status          string          `json:"status"`
	CreatedAt       string          `json:"created_at"`
}

type Conflict struct {
	ID              string          `json:"id"`
	ConflictID      string          `json:"conflict_id"`
	Project1ID      string          `json:"project1_id"`
	Project2ID      string          `json:"project2_id"`
	ConflictType    string          `json:"conflict_type"`
	ConflictDetails ConflictDetails `json:"conflict_details"`
	Status          string          `json:"status" enum:"detected,resolved,ignored"`
	Resolution      string          `json:"resolution,omitempty"`
	CreatedAt       string          `json:"created_at" format:"date-time"`
	ResolvedAt      *string         `json:"resolved_at,omitempty" format:"date-time"`
}

// Settled reports whether an external actor already closed the conflict.
func (c Conflict) Settled() bool {
	return c.Status == ConflictResolved || c.Status == ConflictIgnored
}

// ConversationInput seeds a conversation for a freshly inserted conflict.
type ConversationInput struct {
	Project1DepartmentID string
	Project2DepartmentID string
	ConflictRecordID     string
}

type ConflictConversation struct {
	ID                   string  `json:"id"`
	Project1DepartmentID string  `json:"project1_department_id"`
	Project2DepartmentID string  `json:"project2_department_id"`
	ConflictRecordID     string  `json:"conflict_record_id"`
	Status               string  `json:"status" enum:"active,resolved,closed"`
	ResolutionType       string  `json:"resolution_type,omitempty"`
	LastMessageAt        string  `json:"last_message_at" format:"date-time"`
	CreatedAt            string  `json:"created_at" format:"date-time"`
	ResolvedAt           *string `json:"resolved_at,omitempty" format:"date-time"`
}

type ConflictMessage struct {
	ID                 string   `json:"id"`
	ConversationID     string   `json:"conversation_id"`
	SenderID           string   `json:"sender_id"`
	SenderDepartmentID string   `json:"sender_department_id"`
	Content            string   `json:"content"`
	Timestamp          string   `json:"timestamp" format:"date-time"`
	ReadBy             []string `json:"read_by"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
