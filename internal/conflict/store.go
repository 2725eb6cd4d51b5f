package conflict

import (
	"context"

	"synccity/internal/domain"
)

// Source supplies the inputs of one scan.
type Source interface {
	// ListActiveProjectsExcluding returns active projects owned by any other
	// department than departmentID, never including excludeProjectID.
	ListActiveProjectsExcluding(ctx context.Context, departmentID, excludeProjectID string) ([]domain.Project, error)
	// ListConflictsForProject returns conflicts where the project is on either side.
	ListConflictsForProject(ctx context.Context, projectID string) ([]domain.Conflict, error)
}

// Sink receives the writes derived from a scan.
type Sink interface {
	// InsertConflict inserts unless a record with the same conflict id exists,
	// in which case it returns that record with created=false.
	InsertConflict(ctx context.Context, in domain.ConflictInput) (c domain.Conflict, created bool, err error)
	DeleteConflict(ctx context.Context, id string) error
	ReopenConflict(ctx context.Context, id string, details domain.ConflictDetails) error
	// UpdateConflictDetails rewrites the stored overlap without touching the status.
	UpdateConflictDetails(ctx context.Context, id string, details domain.ConflictDetails) error
	DeleteConflictsForProject(ctx context.Context, projectID string) ([]string, error)

	CreateConflictConversation(ctx context.Context, in domain.ConversationInput) (string, error)
	// ReactivateConversation marks the conversation of a conflict active again
	// and returns its id, or "" when the conflict has none.
	ReactivateConversation(ctx context.Context, conflictRecordID string) (string, error)
	PostSystemMessage(ctx context.Context, conversationID, departmentID, text string) error
}

// Store is a Source and Sink that can scope a group of calls to one transaction.
type Store interface {
	Source
	Sink
	Atomic(ctx context.Context, fn func(Store) error) error
}
