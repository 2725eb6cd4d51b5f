package synccitysdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Sync City HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	ActorID     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  10 * time.Second,
	}
}

type Department struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Email          string `json:"email,omitempty"`
	PointOfContact string `json:"point_of_contact,omitempty"`
	CreatedAt      string `json:"created_at,omitempty"`
}

// Location is a GeoJSON-style geometry with an optional radius in meters.
type Location struct {
	Type        string   `json:"type"`
	Coordinates any      `json:"coordinates"`
	Radius      *float64 `json:"radius,omitempty"`
}

// Point returns a Point location at lng/lat.
func Point(lng, lat, radius float64) Location {
	return Location{Type: "Point", Coordinates: []float64{lng, lat}, Radius: &radius}
}

// ProjectInput is the create payload. Dates are YYYY-MM-DD or RFC 3339.
type ProjectInput struct {
	ID                string   `json:"id,omitempty"`
	DepartmentID      string   `json:"department_id"`
	Name              string   `json:"name"`
	Description       string   `json:"description,omitempty"`
	StartDate         string   `json:"start_date"`
	EndDate           string   `json:"end_date"`
	Status            string   `json:"status,omitempty"`
	Location          Location `json:"location"`
	Priority          string   `json:"priority,omitempty"`
	Budget            *float64 `json:"budget,omitempty"`
	ResourcesRequired []string `json:"resources_required,omitempty"`
}

// ProjectPatch holds the fields to change; nil fields are left alone.
type ProjectPatch struct {
	DepartmentID *string   `json:"department_id,omitempty"`
	Name         *string   `json:"name,omitempty"`
	Description  *string   `json:"description,omitempty"`
	StartDate    *string   `json:"start_date,omitempty"`
	EndDate      *string   `json:"end_date,omitempty"`
	Status       *string   `json:"status,omitempty"`
	Location     *Location `json:"location,omitempty"`
	Priority     *string   `json:"priority,omitempty"`
	Budget       *float64  `json:"budget,omitempty"`
}

type Project struct {
	ID                string    `json:"id"`
	DepartmentID      string    `json:"department_id"`
	Name              string    `json:"name"`
	Description       string    `json:"description,omitempty"`
	StartDate         time.Time `json:"start_date"`
	EndDate           time.Time `json:"end_date"`
	Status            string    `json:"status"`
	Location          Location  `json:"location"`
	Priority          string    `json:"priority"`
	Budget            *float64  `json:"budget,omitempty"`
	ResourcesRequired []string  `json:"resources_required"`
	CreatedAt         string    `json:"created_at"`
	UpdatedAt         string    `json:"updated_at"`
}

// Scan summarises the conflict detection run triggered by a write.
type Scan struct {
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

type ProjectWrite struct {
	Project Project `json:"project"`
	Scan    Scan    `json:"scan"`
}

type Conflict struct {
	ID              string `json:"id"`
	ConflictID      string `json:"conflict_id"`
	Project1ID      string `json:"project1_id"`
	Project2ID      string `json:"project2_id"`
	ConflictType    string `json:"conflict_type"`
	ConflictDetails struct {
		SpatialOverlap  int `json:"spatial_overlap"`
		TemporalOverlap struct {
			StartDate time.Time `json:"start_date"`
			EndDate   time.Time `json:"end_date"`
		} `json:"temporal_overlap"`
	} `json:"conflict_details"`
	Status     string  `json:"status"`
	Resolution string  `json:"resolution,omitempty"`
	CreatedAt  string  `json:"created_at"`
	ResolvedAt *string `json:"resolved_at,omitempty"`
}

type Conversation struct {
	ID                   string `json:"id"`
	Project1DepartmentID string `json:"project1_department_id"`
	Project2DepartmentID string `json:"project2_department_id"`
	ConflictRecordID     string `json:"conflict_record_id"`
	Status               string `json:"status"`
	LastMessageAt        string `json:"last_message_at"`
}

type Message struct {
	ID                 string   `json:"id"`
	ConversationID     string   `json:"conversation_id"`
	SenderID           string   `json:"sender_id"`
	SenderDepartmentID string   `json:"sender_department_id"`
	Content            string   `json:"content"`
	Timestamp          string   `json:"timestamp"`
	ReadBy             []string `json:"read_by"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

func (c *Client) CreateDepartment(ctx context.Context, d Department) (Department, error) {
	var resp Department
	err := c.do(ctx, http.MethodPost, "departments", d, &resp)
	return resp, err
}

// CreateProject stores a project and returns the scan it triggered.
func (c *Client) CreateProject(ctx context.Context, in ProjectInput) (ProjectWrite, error) {
	var resp ProjectWrite
	err := c.do(ctx, http.MethodPost, "projects", in, &resp)
	return resp, err
}

func (c *Client) UpdateProject(ctx context.Context, id string, patch ProjectPatch) (ProjectWrite, error) {
	var resp ProjectWrite
	err := c.do(ctx, http.MethodPatch, "projects/"+url.PathEscape(id), patch, &resp)
	return resp, err
}

func (c *Client) GetProject(ctx context.Context, id string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, "projects/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// DeleteProject removes a project and returns the conflict keys it cleared.
func (c *Client) DeleteProject(ctx context.Context, id string) ([]string, error) {
	var resp struct {
		ClearedConflicts []string `json:"cleared_conflicts"`
	}
	err := c.do(ctx, http.MethodDelete, "projects/"+url.PathEscape(id), nil, &resp)
	return resp.ClearedConflicts, err
}

func (c *Client) RescanProject(ctx context.Context, id string) (Scan, error) {
	var resp Scan
	err := c.do(ctx, http.MethodPost, "projects/"+url.PathEscape(id)+"/rescan", nil, &resp)
	return resp, err
}

// ListConflicts lists conflicts, optionally narrowed to one project and status.
func (c *Client) ListConflicts(ctx context.Context, projectID, status string) ([]Conflict, error) {
	endpoint := "conflicts"
	if projectID != "" {
		endpoint = "projects/" + url.PathEscape(projectID) + "/conflicts"
	}
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp []Conflict
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// SetConflictStatus moves a conflict to detected, resolved or ignored.
func (c *Client) SetConflictStatus(ctx context.Context, id, status, resolution string) (Conflict, error) {
	body := map[string]any{"status": status}
	if resolution != "" {
		body["resolution"] = resolution
	}
	var resp Conflict
	err := c.do(ctx, http.MethodPatch, "conflicts/"+url.PathEscape(id), body, &resp)
	return resp, err
}

func (c *Client) GetConversation(ctx context.Context, conflictID string) (Conversation, error) {
	var resp Conversation
	err := c.do(ctx, http.MethodGet, "conflicts/"+url.PathEscape(conflictID)+"/conversation", nil, &resp)
	return resp, err
}

func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	var resp []Message
	err := c.do(ctx, http.MethodGet, "conversations/"+url.PathEscape(conversationID)+"/messages", nil, &resp)
	return resp, err
}

// ListEvents returns up to limit events, newest first.
func (c *Client) ListEvents(ctx context.Context, entityKind, entityID string, limit int) ([]Event, error) {
	q := url.Values{}
	if entityKind != "" {
		q.Set("entity_kind", entityKind)
	}
	if entityID != "" {
		q.Set("entity_id", entityID)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(c.BasePath, "/")
}
