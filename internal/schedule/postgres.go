package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists schedules in the scheduled_reopens table.
// Times are stored as epoch milliseconds so conditional deletes compare exactly.
type PostgresStore struct {
	db    DB
	close func()
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a store over db. closeFn, if non-nil, is called by Close.
func NewPostgresStore(db DB, closeFn func()) *PostgresStore {
	if db == nil {
		panic("schedule: postgres db required")
	}
	return &PostgresStore{db: db, close: closeFn}
}

const selectColumns = `conversation_id, due_at_ms, attempts, next_attempt_at_ms, last_error, status, created_at, updated_at`

func (s *PostgresStore) Put(ctx context.Context, item ScheduledReopen) error {
	id, err := NormalizeID(item.ConversationID)
	if err != nil {
		return err
	}
	if item.Status == "" {
		item.Status = StatusPending
	}
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = now
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO scheduled_reopens (conversation_id, due_at_ms, attempts, next_attempt_at_ms, last_error, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (conversation_id) DO UPDATE SET
			due_at_ms = EXCLUDED.due_at_ms,
			attempts = EXCLUDED.attempts,
			next_attempt_at_ms = EXCLUDED.next_attempt_at_ms,
			last_error = EXCLUDED.last_error,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at`,
		id, DueMillis(item.DueAt), item.Attempts, ToMillis(item.NextAttemptAt), item.LastError,
		string(item.Status), item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("schedule: put %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, conversationID string) (*ScheduledReopen, error) {
	row := s.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM scheduled_reopens WHERE conversation_id = $1`, conversationID)
	item, err := scanSchedule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("schedule: get %s: %w", conversationID, err)
	}
	return &item, nil
}

func (s *PostgresStore) Delete(ctx context.Context, conversationID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM scheduled_reopens WHERE conversation_id = $1`, conversationID); err != nil {
		return fmt.Errorf("schedule: delete %s: %w", conversationID, err)
	}
	return nil
}

func (s *PostgresStore) DeleteIfDue(ctx context.Context, conversationID string, dueAt time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM scheduled_reopens WHERE conversation_id = $1 AND due_at_ms = $2`,
		conversationID, DueMillis(dueAt))
	if err != nil {
		return false, fmt.Errorf("schedule: delete if due %s: %w", conversationID, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) RecordFailure(ctx context.Context, conversationID string, dueAt time.Time, f Failure) (bool, error) {
	status := StatusPending
	if f.Abandoned {
		status = StatusAbandoned
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE scheduled_reopens
		SET attempts = $1, next_attempt_at_ms = $2, last_error = $3, status = $4, updated_at = $5
		WHERE conversation_id = $6 AND due_at_ms = $7`,
		f.Attempts, ToMillis(f.NextAttemptAt), f.LastError, string(status), f.At.UTC(),
		conversationID, DueMillis(dueAt),
	)
	if err != nil {
		return false, fmt.Errorf("schedule: record failure %s: %w", conversationID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Each streams rows in insertion order without buffering the result set.
func (s *PostgresStore) Each(ctx context.Context, fn func(ScheduledReopen) error) error {
	rows, err := s.db.Query(ctx, `SELECT `+selectColumns+` FROM scheduled_reopens ORDER BY created_at ASC, conversation_id ASC`)
	if err != nil {
		return fmt.Errorf("schedule: list: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		item, err := scanSchedule(rows)
		if err != nil {
			return fmt.Errorf("schedule: scan: %w", err)
		}
		if err := fn(item); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *PostgresStore) Close() error {
	if s.close != nil {
		s.close()
	}
	return nil
}

func scanSchedule(row pgx.Row) (ScheduledReopen, error) {
	var (
		item          ScheduledReopen
		dueAtMs       int64
		nextAttemptMs int64
		status        string
	)
	err := row.Scan(
		&item.ConversationID, &dueAtMs, &item.Attempts, &nextAttemptMs,
		&item.LastError, &status, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return ScheduledReopen{}, err
	}
	item.DueAt = DueFromMillis(dueAtMs)
	item.NextAttemptAt = FromMillis(nextAttemptMs)
	item.Status = Status(status)
	return item, nil
}
