package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synccity/internal/config"
	"synccity/internal/db"
	"synccity/internal/domain"
	"synccity/internal/engine"
	"synccity/internal/logging"
	"synccity/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
}

func newTestServer(t *testing.T, auth AuthConfig) *testServer {
	t.Helper()
	conn, err := db.Open(db.Config{Path: filepath.Join(t.TempDir(), "synccity.db")})
	require.NoError(t, err)
	require.NoError(t, migrate.Migrate(context.Background(), conn))
	e := engine.New(conn, config.Default(), logging.Discard())
	handler, err := New(Config{Engine: e, Auth: auth, Logger: logging.Discard()})
	require.NoError(t, err)
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		ln.Close()
		e.Close(context.Background())
		conn.Close()
	})
	return &testServer{URL: "http://" + ln.Addr().String() + "/v1", client: &http.Client{}}
}

func (s *testServer) do(t *testing.T, method, route string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	return doJSON(t, s.client, method, s.URL+route, body, headers)
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	reader := bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(data, &out), string(data))
	return out
}

func projectBody(id, dept string, lat float64, start, end string) map[string]any {
	return map[string]any{
		"id":            id,
		"department_id": dept,
		"name":          "Project " + id,
		"start_date":    start,
		"end_date":      end,
		"location": map[string]any{
			"type":        "Point",
			"coordinates": []float64{0, lat},
			"radius":      1000,
		},
	}
}

func seedDepartments(t *testing.T, s *testServer, headers map[string]string) {
	t.Helper()
	for _, id := range []string{"roads", "water"} {
		res, body := s.do(t, http.MethodPost, "/departments", map[string]any{"id": id, "name": id}, headers)
		require.Equal(t, http.StatusCreated, res.StatusCode, string(body))
	}
}

func TestConflictLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t, AuthConfig{})
	actor := map[string]string{"X-Actor-Id": "planner"}
	seedDepartments(t, s, actor)

	res, body := s.do(t, http.MethodPost, "/projects", projectBody("p1", "roads", 0, "2024-01-01", "2024-01-10"), actor)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(body))
	first := decode[ProjectWriteResponse](t, body)
	assert.Equal(t, domain.ProjectActive, first.Project.Status)
	assert.Equal(t, "medium", first.Project.Priority)
	assert.Zero(t, first.Scan.Inserted)

	res, body = s.do(t, http.MethodPost, "/projects", projectBody("p2", "water", 0.005, "2024-01-05", "2024-01-15"), actor)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(body))
	second := decode[ProjectWriteResponse](t, body)
	assert.Equal(t, 1, second.Scan.Inserted)
	assert.Equal(t, []string{"p1_p2"}, second.Scan.ConflictIDs)

	res, body = s.do(t, http.MethodGet, "/projects/p1/conflicts", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	conflicts := decode[[]domain.Conflict](t, body)
	require.Len(t, conflicts, 1)
	c := conflicts[0]
	assert.Equal(t, "p1_p2", c.ConflictID)
	assert.Equal(t, 72, c.ConflictDetails.SpatialOverlap)

	res, body = s.do(t, http.MethodGet, "/conflicts/"+c.ID+"/conversation", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	conv := decode[domain.ConflictConversation](t, body)
	assert.Equal(t, domain.ConversationActive, conv.Status)

	res, body = s.do(t, http.MethodGet, "/conversations/"+conv.ID+"/messages", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	msgs := decode[[]domain.ConflictMessage](t, body)
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.SystemSenderID, msgs[0].SenderID)
	assert.Contains(t, msgs[0].Content, "Spatial overlap: 72%")

	res, body = s.do(t, http.MethodPatch, "/conflicts/"+c.ID, map[string]any{"status": "resolved", "resolution": "water works first"}, actor)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	resolved := decode[domain.Conflict](t, body)
	assert.Equal(t, domain.ConflictResolved, resolved.Status)
	assert.Equal(t, "water works first", resolved.Resolution)
	assert.NotNil(t, resolved.ResolvedAt)

	res, body = s.do(t, http.MethodGet, "/events?entity_kind=conflict", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	evts := decode[[]domain.Event](t, body)
	require.NotEmpty(t, evts)
	assert.Equal(t, "planner", evts[0].ActorID)

	res, body = s.do(t, http.MethodDelete, "/projects/p2", nil, actor)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	deleted := decode[DeleteProjectResponse](t, body)
	assert.Equal(t, []string{"p1_p2"}, deleted.ClearedConflicts)

	res, body = s.do(t, http.MethodGet, "/conflicts", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	assert.Empty(t, decode[[]domain.Conflict](t, body))
}

func TestUpdateProjectMovesConflict(t *testing.T) {
	s := newTestServer(t, AuthConfig{})
	seedDepartments(t, s, nil)
	s.do(t, http.MethodPost, "/projects", projectBody("p1", "roads", 0, "2024-01-01", "2024-01-10"), nil)
	s.do(t, http.MethodPost, "/projects", projectBody("p2", "water", 0.005, "2024-01-05", "2024-01-15"), nil)

	res, body := s.do(t, http.MethodPatch, "/projects/p2", map[string]any{"start_date": "2024-01-20", "end_date": "2024-01-30"}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	updated := decode[ProjectWriteResponse](t, body)
	assert.Equal(t, 1, updated.Scan.Deleted)

	res, body = s.do(t, http.MethodPost, "/projects/p2/rescan", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	assert.Zero(t, decode[ScanResponse](t, body).Inserted)

	res, body = s.do(t, http.MethodGet, "/projects?department_id=water", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	projects := decode[[]ProjectResponse](t, body)
	require.Len(t, projects, 1)
	assert.Equal(t, "p2", projects[0].ID)
}

func TestErrorEnvelope(t *testing.T) {
	s := newTestServer(t, AuthConfig{})
	seedDepartments(t, s, nil)

	type envelope struct {
		Error apiErrorBody `json:"error"`
	}

	res, body := s.do(t, http.MethodGet, "/projects/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, "not_found", decode[envelope](t, body).Error.Code)

	res, body = s.do(t, http.MethodPost, "/projects", projectBody("bad", "roads", 0, "2024-01-10", "2024-01-01"), nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "validation_failed", decode[envelope](t, body).Error.Code)

	res, body = s.do(t, http.MethodPost, "/projects", projectBody("bad", "roads", 0, "January 1st", "2024-01-10"), nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Contains(t, decode[envelope](t, body).Error.Message, "start_date")

	res, body = s.do(t, http.MethodPost, "/projects", projectBody("bad", "parks", 0, "2024-01-01", "2024-01-10"), nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode, string(body))

	res, body = s.do(t, http.MethodPost, "/projects", map[string]any{"name": "no dates"}, nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode, string(body))
	assert.NotEmpty(t, decode[envelope](t, body).Error.Code)

	res, body = s.do(t, http.MethodPatch, "/conflicts/nope", map[string]any{"status": "resolved"}, nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode, string(body))

	res, body = s.do(t, http.MethodPatch, "/conflicts/nope", map[string]any{"status": "resolved", "resolution_type": "bribery"}, nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode, string(body))
}

func TestJWTAuth(t *testing.T) {
	const secret = "test-secret"
	s := newTestServer(t, AuthConfig{JWTSecret: secret})

	res, _ := s.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, body := s.do(t, http.MethodGet, "/projects", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Contains(t, string(body), "unauthorized")

	res, _ = s.do(t, http.MethodGet, "/projects", nil, map[string]string{"Authorization": "Bearer not-a-jwt"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	forged, err := IssueToken("other-secret", "mallory", "")
	require.NoError(t, err)
	res, _ = s.do(t, http.MethodGet, "/projects", nil, map[string]string{"Authorization": "Bearer " + forged})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	token, err := IssueToken(secret, "alice", "roads")
	require.NoError(t, err)
	auth := map[string]string{"Authorization": "Bearer " + token, "X-Actor-Id": "ignored"}
	res, body = s.do(t, http.MethodPost, "/departments", map[string]any{"id": "roads", "name": "Roads"}, auth)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(body))

	res, body = s.do(t, http.MethodGet, "/events?entity_kind=department", nil, auth)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	evts := decode[[]domain.Event](t, body)
	require.Len(t, evts, 1)
	assert.Equal(t, "alice", evts[0].ActorID)
}

func TestOpenAPIDocument(t *testing.T) {
	s := newTestServer(t, AuthConfig{JWTSecret: "s"})
	res, body := s.do(t, http.MethodGet, "/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	doc := decode[map[string]any](t, body)
	paths, ok := doc["paths"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, paths, "/v1/projects")
	assert.Contains(t, paths, "/v1/conflicts/{conflict_id}")
	assert.Contains(t, string(body), "bearerAuth")
}
