package conflict_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"synccity/internal/conflict"
	"synccity/internal/domain"
	"synccity/internal/geo"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func day(n int) time.Time {
	return time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n-1)
}

func project(id, dept string, lng, lat, radius float64, from, to int) domain.Project {
	coords, _ := json.Marshal([]float64{lng, lat})
	r := radius
	return domain.Project{
		ID:           id,
		DepartmentID: dept,
		Name:         id,
		StartDate:    day(from),
		EndDate:      day(to),
		Status:       domain.ProjectActive,
		Location:     domain.Location{Type: "Point", Coordinates: coords, Radius: &r},
		Priority:     "medium",
	}
}

func newEvaluator() conflict.Evaluator {
	return conflict.NewEvaluator(geo.NewCalculator(nil), discard)
}

// memData is the state behind memStore.
type memData struct {
	projects      map[string]domain.Project
	conflicts     []domain.Conflict
	conversations []domain.ConflictConversation
	messages      []domain.ConflictMessage
	seq           int
	failInsert    map[string]error
}

func (d *memData) clone() *memData {
	out := &memData{
		projects:      make(map[string]domain.Project, len(d.projects)),
		conflicts:     append([]domain.Conflict(nil), d.conflicts...),
		conversations: append([]domain.ConflictConversation(nil), d.conversations...),
		messages:      append([]domain.ConflictMessage(nil), d.messages...),
		seq:           d.seq,
		failInsert:    d.failInsert,
	}
	for k, v := range d.projects {
		out.projects[k] = v
	}
	return out
}

// memStore is an in-memory conflict.Store. Atomic serialises callers and
// rolls back on error.
type memStore struct {
	mu     *sync.Mutex
	state  **memData
	inside bool
}

func newMemStore(projects ...domain.Project) *memStore {
	d := &memData{projects: map[string]domain.Project{}, failInsert: map[string]error{}}
	for _, p := range projects {
		d.projects[p.ID] = p
	}
	return &memStore{mu: &sync.Mutex{}, state: &d}
}

func (m *memStore) d() *memData { return *m.state }

func (m *memStore) guard() func() {
	if m.inside {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

func (m *memStore) put(p domain.Project) {
	defer m.guard()()
	m.d().projects[p.ID] = p
}

func (m *memStore) remove(id string) {
	defer m.guard()()
	delete(m.d().projects, id)
}

func (m *memStore) Atomic(ctx context.Context, fn func(conflict.Store) error) error {
	if m.inside {
		return fn(m)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	before := m.d().clone()
	if err := fn(&memStore{mu: m.mu, state: m.state, inside: true}); err != nil {
		*m.state = before
		return err
	}
	return nil
}

func (m *memStore) ListActiveProjectsExcluding(ctx context.Context, departmentID, excludeProjectID string) ([]domain.Project, error) {
	defer m.guard()()
	var out []domain.Project
	for _, p := range m.d().projects {
		if p.Active() && p.DepartmentID != departmentID && p.ID != excludeProjectID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) ListConflictsForProject(ctx context.Context, projectID string) ([]domain.Conflict, error) {
	defer m.guard()()
	var out []domain.Conflict
	for _, c := range m.d().conflicts {
		if c.Project1ID == projectID || c.Project2ID == projectID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memStore) InsertConflict(ctx context.Context, in domain.ConflictInput) (domain.Conflict, bool, error) {
	defer m.guard()()
	d := m.d()
	if err := d.failInsert[in.ConflictID]; err != nil {
		return domain.Conflict{}, false, err
	}
	for _, c := range d.conflicts {
		if c.ConflictID == in.ConflictID {
			return c, false, nil
		}
	}
	d.seq++
	c := domain.Conflict{
		ID:              fmt.Sprintf("c%d", d.seq),
		ConflictID:      in.ConflictID,
		Project1ID:      in.Project1ID,
		Project2ID:      in.Project2ID,
		ConflictType:    in.ConflictType,
		ConflictDetails: in.ConflictDetails,
		Status:          in.Status,
		CreatedAt:       in.CreatedAt,
	}
	d.conflicts = append(d.conflicts, c)
	return c, true, nil
}

func (m *memStore) DeleteConflict(ctx context.Context, id string) error {
	defer m.guard()()
	return m.deleteWhere(func(c domain.Conflict) bool { return c.ID == id })
}

func (m *memStore) DeleteConflictsForProject(ctx context.Context, projectID string) ([]string, error) {
	defer m.guard()()
	var keys []string
	for _, c := range m.d().conflicts {
		if c.Project1ID == projectID || c.Project2ID == projectID {
			keys = append(keys, c.ConflictID)
		}
	}
	err := m.deleteWhere(func(c domain.Conflict) bool { return c.Project1ID == projectID || c.Project2ID == projectID })
	return keys, err
}

// deleteWhere removes matching conflicts along with their conversations and messages.
func (m *memStore) deleteWhere(match func(domain.Conflict) bool) error {
	d := m.d()
	gone := map[string]bool{}
	kept := d.conflicts[:0:0]
	for _, c := range d.conflicts {
		if match(c) {
			gone[c.ID] = true
			continue
		}
		kept = append(kept, c)
	}
	d.conflicts = kept
	convGone := map[string]bool{}
	convs := d.conversations[:0:0]
	for _, cv := range d.conversations {
		if gone[cv.ConflictRecordID] {
			convGone[cv.ID] = true
			continue
		}
		convs = append(convs, cv)
	}
	d.conversations = convs
	msgs := d.messages[:0:0]
	for _, msg := range d.messages {
		if !convGone[msg.ConversationID] {
			msgs = append(msgs, msg)
		}
	}
	d.messages = msgs
	return nil
}

func (m *memStore) ReopenConflict(ctx context.Context, id string, details domain.ConflictDetails) error {
	defer m.guard()()
	for i, c := range m.d().conflicts {
		if c.ID == id {
			c.Status = domain.ConflictDetected
			c.ConflictDetails = details
			c.Resolution = ""
			c.ResolvedAt = nil
			m.d().conflicts[i] = c
			return nil
		}
	}
	return errors.New("conflict not found")
}

func (m *memStore) UpdateConflictDetails(ctx context.Context, id string, details domain.ConflictDetails) error {
	defer m.guard()()
	for i, c := range m.d().conflicts {
		if c.ID == id {
			c.ConflictDetails = details
			m.d().conflicts[i] = c
			return nil
		}
	}
	return errors.New("conflict not found")
}

func (m *memStore) CreateConflictConversation(ctx context.Context, in domain.ConversationInput) (string, error) {
	defer m.guard()()
	d := m.d()
	d.seq++
	cv := domain.ConflictConversation{
		ID:                   fmt.Sprintf("cv%d", d.seq),
		Project1DepartmentID: in.Project1DepartmentID,
		Project2DepartmentID: in.Project2DepartmentID,
		ConflictRecordID:     in.ConflictRecordID,
		Status:               domain.ConversationActive,
	}
	d.conversations = append(d.conversations, cv)
	return cv.ID, nil
}

func (m *memStore) ReactivateConversation(ctx context.Context, conflictRecordID string) (string, error) {
	defer m.guard()()
	for i, cv := range m.d().conversations {
		if cv.ConflictRecordID == conflictRecordID {
			cv.Status = domain.ConversationActive
			cv.ResolvedAt = nil
			m.d().conversations[i] = cv
			return cv.ID, nil
		}
	}
	return "", nil
}

func (m *memStore) PostSystemMessage(ctx context.Context, conversationID, departmentID, text string) error {
	defer m.guard()()
	d := m.d()
	d.seq++
	d.messages = append(d.messages, domain.ConflictMessage{
		ID:                 fmt.Sprintf("m%d", d.seq),
		ConversationID:     conversationID,
		SenderID:           domain.SystemSenderID,
		SenderDepartmentID: departmentID,
		Content:            text,
	})
	return nil
}

func (m *memStore) settle(conflictID, status string) {
	defer m.guard()()
	for i, c := range m.d().conflicts {
		if c.ConflictID == conflictID {
			c.Status = status
			m.d().conflicts[i] = c
		}
	}
	for i, cv := range m.d().conversations {
		for _, c := range m.d().conflicts {
			if c.ConflictID == conflictID && cv.ConflictRecordID == c.ID {
				cv.Status = domain.ConversationResolved
				m.d().conversations[i] = cv
			}
		}
	}
}

func (m *memStore) snapshot() *memData {
	defer m.guard()()
	return m.d().clone()
}
