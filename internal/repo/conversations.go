package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"

	"synccity/internal/domain"
)

const conversationColumns = `id,project1_department_id,project2_department_id,conflict_record_id,status,COALESCE(resolution_type,''),last_message_at,created_at,resolved_at`

func scanConversation(s scanner) (domain.ConflictConversation, error) {
	var (
		c          domain.ConflictConversation
		resolvedAt sql.NullString
	)
	err := s.Scan(&c.ID, &c.Project1DepartmentID, &c.Project2DepartmentID, &c.ConflictRecordID, &c.Status,
		&c.ResolutionType, &c.LastMessageAt, &c.CreatedAt, &resolvedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.ResolvedAt = stringPtr(resolvedAt)
	return c, nil
}

func createConversation(ctx context.Context, q querier, in domain.ConversationInput, now string) (string, error) {
	id := uuid.NewString()
	_, err := q.ExecContext(ctx, `INSERT INTO conflict_conversations(id,project1_department_id,project2_department_id,conflict_record_id,status,last_message_at,created_at)
VALUES (?,?,?,?,?,?,?)`, id, in.Project1DepartmentID, in.Project2DepartmentID, in.ConflictRecordID, domain.ConversationActive, now, now)
	if err != nil {
		return "", err
	}
	return id, nil
}

func reactivateConversation(ctx context.Context, q querier, conflictRecordID string) (string, error) {
	var id string
	err := q.QueryRowContext(ctx, `SELECT id FROM conflict_conversations WHERE conflict_record_id=?`, conflictRecordID).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	_, err = q.ExecContext(ctx, `UPDATE conflict_conversations SET status=?, resolution_type=NULL, resolved_at=NULL WHERE id=?`,
		domain.ConversationActive, id)
	return id, err
}

func postSystemMessage(ctx context.Context, q querier, conversationID, departmentID, text, now string) error {
	_, err := q.ExecContext(ctx, `INSERT INTO conflict_messages(id,conversation_id,sender_id,sender_department_id,content,ts,read_by_json) VALUES (?,?,?,?,?,?,?)`,
		uuid.NewString(), conversationID, domain.SystemSenderID, departmentID, text, now, "[]")
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `UPDATE conflict_conversations SET last_message_at=? WHERE id=?`, now, conversationID)
	return err
}

func (r Repo) GetConversation(ctx context.Context, id string) (domain.ConflictConversation, error) {
	return scanConversation(r.DB.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conflict_conversations WHERE id=?`, id))
}

func (r Repo) GetConversationForConflict(ctx context.Context, conflictRecordID string) (domain.ConflictConversation, error) {
	return scanConversation(r.DB.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conflict_conversations WHERE conflict_record_id=?`, conflictRecordID))
}

// SetConversationStatusTx mirrors a conflict decision onto its conversation.
// A conflict without a conversation is not an error.
func (r Repo) SetConversationStatusTx(ctx context.Context, tx *sql.Tx, conflictRecordID, status, resolutionType string, resolvedAt *string) error {
	_, err := tx.ExecContext(ctx, `UPDATE conflict_conversations SET status=?, resolution_type=?, resolved_at=? WHERE conflict_record_id=?`,
		status, nullable(resolutionType), nullableStringPtr(resolvedAt), conflictRecordID)
	return err
}

func (r Repo) ListMessages(ctx context.Context, conversationID string) ([]domain.ConflictMessage, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,conversation_id,sender_id,sender_department_id,content,ts,read_by_json FROM conflict_messages WHERE conversation_id=? ORDER BY ts, rowid`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ConflictMessage
	for rows.Next() {
		var (
			m      domain.ConflictMessage
			readBy string
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.SenderDepartmentID, &m.Content, &m.Timestamp, &readBy); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(readBy), &m.ReadBy); err != nil {
			return nil, err
		}
		if m.ReadBy == nil {
			m.ReadBy = []string{}
		}
		res = append(res, m)
	}
	return res, rows.Err()
}
