package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/wenda-project/wenda/internal/core/domain"
)

// SessionRepository persists per-session answer state: the last
// document context and the rolling feedback list. It backs the same
// ports as the in-memory stores for multi-instance deployments.
type SessionRepository struct {
	db          *sql.DB
	maxFeedback int
}

func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db, maxFeedback: 10}
}

func (r *SessionRepository) Get(ctx context.Context, sessionID string) (*domain.SessionDocContext, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT session_id, question, chunks, updated_at
FROM session_doc_contexts
WHERE session_id = $1
`, sessionID)

	var dc domain.SessionDocContext
	var chunks []byte
	if err := row.Scan(&dc.SessionID, &dc.Question, &chunks, &dc.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get doc context: %w", err)
	}
	if err := json.Unmarshal(chunks, &dc.Chunks); err != nil {
		return nil, fmt.Errorf("decode doc context chunks: %w", err)
	}
	return &dc, nil
}

func (r *SessionRepository) Put(ctx context.Context, dc domain.SessionDocContext) error {
	if dc.SessionID == "" {
		return nil
	}
	if dc.UpdatedAt.IsZero() {
		dc.UpdatedAt = time.Now().UTC()
	}
	chunks, err := json.Marshal(dc.Chunks)
	if err != nil {
		return fmt.Errorf("encode doc context chunks: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO session_doc_contexts (session_id, question, chunks, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (session_id) DO UPDATE
SET question = EXCLUDED.question, chunks = EXCLUDED.chunks, updated_at = EXCLUDED.updated_at
`, dc.SessionID, dc.Question, chunks, dc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("put doc context: %w", err)
	}
	return nil
}

func (r *SessionRepository) Clear(ctx context.Context, sessionID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM session_doc_contexts WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("clear doc context: %w", err)
	}
	return nil
}

// Append stores one feedback entry. Feedback for an older question is
// discarded first so the list only refines the current question.
func (r *SessionRepository) Append(ctx context.Context, entry domain.FeedbackEntry) error {
	if entry.SessionID == "" {
		return nil
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
DELETE FROM session_feedback
WHERE session_id = $1 AND question <> $2
`, entry.SessionID, entry.Question)
	if err != nil {
		return fmt.Errorf("reset stale feedback: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO session_feedback (session_id, question, feedback, created_at)
VALUES ($1, $2, $3, $4)
`, entry.SessionID, entry.Question, entry.Text, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("append feedback: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
DELETE FROM session_feedback
WHERE session_id = $1 AND id NOT IN (
    SELECT id FROM session_feedback
    WHERE session_id = $1
    ORDER BY created_at DESC
    LIMIT $2
)
`, entry.SessionID, r.maxFeedback)
	if err != nil {
		return fmt.Errorf("trim feedback: %w", err)
	}
	return nil
}

func (r *SessionRepository) List(ctx context.Context, sessionID string) ([]domain.FeedbackEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT session_id, question, feedback, created_at
FROM session_feedback
WHERE session_id = $1
ORDER BY created_at ASC
`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}
	defer rows.Close()

	out := make([]domain.FeedbackEntry, 0)
	for rows.Next() {
		var entry domain.FeedbackEntry
		if err := rows.Scan(&entry.SessionID, &entry.Question, &entry.Text, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feedback: %w", err)
	}
	return out, nil
}
