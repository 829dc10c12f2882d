package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/man-su-97/rag-chatbot/internal/observability"
	"github.com/man-su-97/rag-chatbot/pkg/models"
)

const conversationTable = "conversation"

// dialect captures the differences between the SQL backends.
type dialect struct {
	name string

	// bind returns the placeholder for the n-th (1-based) argument.
	bind func(n int) string

	// timestamp converts a time to the column representation.
	timestamp func(t time.Time) any

	// jsonArg converts encoded messages to the bound argument type.
	jsonArg func(data []byte) any
}

var postgresDialect = dialect{
	name:      "postgres",
	bind:      func(n int) string { return fmt.Sprintf("$%d", n) },
	timestamp: func(t time.Time) any { return t.UTC() },
	// lib/pq sends []byte as bytea, which jsonb rejects.
	jsonArg: func(data []byte) any { return string(data) },
}

var sqliteDialect = dialect{
	name:      "sqlite",
	bind:      func(int) string { return "?" },
	timestamp: func(t time.Time) any { return t.UTC().UnixMilli() },
	jsonArg:   func(data []byte) any { return string(data) },
}

// sqlStore implements Store on a conversation table with one row per
// session holding the full message list.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
	metrics *observability.Metrics

	stmtLoad   *sql.Stmt
	stmtSave   *sql.Stmt
	stmtDelete *sql.Stmt
	stmtEvict  *sql.Stmt
}

func newSQLStore(db *sql.DB, d dialect) (*sqlStore, error) {
	s := &sqlStore{db: db, dialect: d, now: time.Now}
	if err := s.prepareStatements(); err != nil {
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}
	return s, nil
}

// prepareStatements prepares all SQL statements for reuse.
func (s *sqlStore) prepareStatements() error {
	b := s.dialect.bind
	var err error

	s.stmtLoad, err = s.db.Prepare(`SELECT messages FROM conversation WHERE session_id = ` + b(1))
	if err != nil {
		return fmt.Errorf("prepare load: %w", err)
	}

	s.stmtSave, err = s.db.Prepare(fmt.Sprintf(`
		INSERT INTO conversation (id, session_id, messages, created_at, updated_at)
		VALUES (%s, %s, %s, %s, %s)
		ON CONFLICT (session_id) DO UPDATE
		SET messages = EXCLUDED.messages,
			updated_at = EXCLUDED.updated_at`,
		b(1), b(2), b(3), b(4), b(5)))
	if err != nil {
		return fmt.Errorf("prepare save: %w", err)
	}

	s.stmtDelete, err = s.db.Prepare(`DELETE FROM conversation WHERE session_id = ` + b(1))
	if err != nil {
		return fmt.Errorf("prepare delete: %w", err)
	}

	s.stmtEvict, err = s.db.Prepare(`DELETE FROM conversation WHERE updated_at < ` + b(1))
	if err != nil {
		return fmt.Errorf("prepare evict: %w", err)
	}
	return nil
}

// SetMetrics records query counts and latency on m.
func (s *sqlStore) SetMetrics(m *observability.Metrics) {
	s.metrics = m
}

func (s *sqlStore) observe(op string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metrics.RecordDatabaseQuery(op, conversationTable, status, time.Since(start).Seconds())
}

// LoadMemory returns the stored history, or an empty slice.
func (s *sqlStore) LoadMemory(ctx context.Context, sessionID string) (_ []models.Message, err error) {
	defer func(start time.Time) { s.observe("select", start, err) }(time.Now())

	var data []byte
	err = s.stmtLoad.QueryRowContext(ctx, sessionID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return []models.Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	return decodeHistory(data)
}

// SaveMemory replaces the history with a single upsert.
func (s *sqlStore) SaveMemory(ctx context.Context, sessionID string, msgs []models.Message) (err error) {
	defer func(start time.Time) { s.observe("upsert", start, err) }(time.Now())

	data, err := encodeHistory(models.Persistent(msgs))
	if err != nil {
		return err
	}
	now := s.dialect.timestamp(s.now())
	if _, err = s.stmtSave.ExecContext(ctx,
		uuid.NewString(),
		sessionID,
		s.dialect.jsonArg(data),
		now,
		now,
	); err != nil {
		return fmt.Errorf("failed to save messages: %w", err)
	}
	return nil
}

// Delete removes a session's row.
func (s *sqlStore) Delete(ctx context.Context, sessionID string) error {
	result, err := s.stmtDelete.ExecContext(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// EvictIdle removes rows not updated since cutoff.
func (s *sqlStore) EvictIdle(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.stmtEvict.ExecContext(ctx, s.dialect.timestamp(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to evict sessions: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to evict sessions: %w", err)
	}
	return int(rows), nil
}

// DB exposes the underlying connection for the migrator and DB locker.
func (s *sqlStore) DB() *sql.DB {
	return s.db
}

// Close closes the prepared statements and the database connection.
func (s *sqlStore) Close() error {
	var errs []error
	for _, stmt := range []*sql.Stmt{s.stmtLoad, s.stmtSave, s.stmtDelete, s.stmtEvict} {
		if stmt == nil {
			continue
		}
		if err := stmt.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
