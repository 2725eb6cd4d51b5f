package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"synccity/internal/conflict"
	"synccity/internal/domain"
)

// Store is the SQLite-backed conflict.Store. The zero tx form runs each call
// on its own; Atomic hands out a copy bound to one transaction.
type Store struct {
	db  *sql.DB
	tx  *sql.Tx
	Now func() time.Time
}

var _ conflict.Store = (*Store)(nil)

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, Now: time.Now}
}

func (s *Store) q() querier {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

func (s *Store) now() string {
	now := s.Now
	if now == nil {
		now = time.Now
	}
	return now().UTC().Format(time.RFC3339)
}

// Atomic runs fn inside a transaction. Nested calls join the outer one.
func (s *Store) Atomic(ctx context.Context, fn func(conflict.Store) error) error {
	if s.tx != nil {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback()
	if err := fn(&Store{db: s.db, tx: tx, Now: s.Now}); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) ListActiveProjectsExcluding(ctx context.Context, departmentID, excludeProjectID string) ([]domain.Project, error) {
	return listActiveProjectsExcluding(ctx, s.q(), departmentID, excludeProjectID)
}

func (s *Store) ListConflictsForProject(ctx context.Context, projectID string) ([]domain.Conflict, error) {
	return listConflictsForProject(ctx, s.q(), projectID)
}

func (s *Store) InsertConflict(ctx context.Context, in domain.ConflictInput) (domain.Conflict, bool, error) {
	return insertConflict(ctx, s.q(), in)
}

func (s *Store) DeleteConflict(ctx context.Context, id string) error {
	return deleteConflict(ctx, s.q(), id)
}

func (s *Store) ReopenConflict(ctx context.Context, id string, details domain.ConflictDetails) error {
	return reopenConflict(ctx, s.q(), id, details)
}

func (s *Store) UpdateConflictDetails(ctx context.Context, id string, details domain.ConflictDetails) error {
	return updateConflictDetails(ctx, s.q(), id, details)
}

func (s *Store) DeleteConflictsForProject(ctx context.Context, projectID string) ([]string, error) {
	return deleteConflictsForProject(ctx, s.q(), projectID)
}

func (s *Store) CreateConflictConversation(ctx context.Context, in domain.ConversationInput) (string, error) {
	return createConversation(ctx, s.q(), in, s.now())
}

func (s *Store) ReactivateConversation(ctx context.Context, conflictRecordID string) (string, error) {
	return reactivateConversation(ctx, s.q(), conflictRecordID)
}

func (s *Store) PostSystemMessage(ctx context.Context, conversationID, departmentID, text string) error {
	return postSystemMessage(ctx, s.q(), conversationID, departmentID, text, s.now())
}
