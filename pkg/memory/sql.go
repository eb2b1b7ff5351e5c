package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// DurableTier is the SQL system of record for conversation history.
type DurableTier struct {
	db      *sql.DB
	dialect string
}

const (
	createSessionsTableSQL = `
CREATE TABLE IF NOT EXISTS sessions (
    session_id VARCHAR(255) NOT NULL,
    user_id VARCHAR(255),
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (session_id)
);

CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id);
CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at);
`

	createHistoryTableSQL = `
CREATE TABLE IF NOT EXISTS message_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id VARCHAR(255) NOT NULL,
    user_id VARCHAR(255),
    sender_type VARCHAR(50) NOT NULL,
    message_content TEXT NOT NULL,
    metadata TEXT,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_history_session_id ON message_history(session_id);
CREATE INDEX IF NOT EXISTS idx_history_user_id ON message_history(user_id);
CREATE INDEX IF NOT EXISTS idx_history_created_at ON message_history(session_id, created_at);
`

	createHistoryTablePostgresSQL = `
CREATE TABLE IF NOT EXISTS message_history (
    id SERIAL PRIMARY KEY,
    session_id VARCHAR(255) NOT NULL,
    user_id VARCHAR(255),
    sender_type VARCHAR(50) NOT NULL,
    message_content TEXT NOT NULL,
    metadata TEXT,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_history_session_id ON message_history(session_id);
CREATE INDEX IF NOT EXISTS idx_history_user_id ON message_history(user_id);
CREATE INDEX IF NOT EXISTS idx_history_created_at ON message_history(session_id, created_at);
`

	createHistoryTableMySQLSQL = `
CREATE TABLE IF NOT EXISTS message_history (
    id BIGINT PRIMARY KEY AUTO_INCREMENT,
    session_id VARCHAR(255) NOT NULL,
    user_id VARCHAR(255),
    sender_type VARCHAR(50) NOT NULL,
    message_content TEXT NOT NULL,
    metadata TEXT,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);

CREATE INDEX idx_history_session_id ON message_history(session_id);
CREATE INDEX idx_history_user_id ON message_history(user_id);
CREATE INDEX idx_history_created_at ON message_history(session_id, created_at);
`
)

// NewDurableTier wraps an open database handle. The schema is created
// if missing.
func NewDurableTier(db *sql.DB, dialect string) (*DurableTier, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	switch dialect {
	case "postgres", "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	t := &DurableTier{db: db, dialect: dialect}
	if err := t.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return t, nil
}

// OpenDurableTier opens the database at dsn for the given driver and
// wraps it.
func OpenDurableTier(driver, dsn string, maxConns int) (*DurableTier, error) {
	driverName := driver
	if driverName == "sqlite" {
		driverName = "sqlite3"
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
		db.SetMaxIdleConns(maxConns / 2)
	}
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", driver, err)
	}

	return NewDurableTier(db, driver)
}

func (t *DurableTier) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	historySQL := createHistoryTableSQL
	switch t.dialect {
	case "postgres":
		historySQL = createHistoryTablePostgresSQL
	case "mysql":
		historySQL = createHistoryTableMySQLSQL
	}

	if _, err := t.db.ExecContext(ctx, createSessionsTableSQL); err != nil {
		return fmt.Errorf("failed to create sessions table: %w", err)
	}
	if _, err := t.db.ExecContext(ctx, historySQL); err != nil {
		return fmt.Errorf("failed to create message_history table: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (t *DurableTier) Close() error {
	return t.db.Close()
}

// DB exposes the shared handle so the catalog can reuse the pool.
func (t *DurableTier) DB() *sql.DB {
	return t.db
}

// EnsureSession creates the session row if absent, otherwise bumps its
// updated_at.
func (t *DurableTier) EnsureSession(ctx context.Context, sessionID, userID string) error {
	if sessionID == "" {
		return fmt.Errorf("sessionID cannot be empty")
	}

	now := time.Now().UTC()
	query := `SELECT session_id FROM sessions WHERE session_id = ?`
	if t.dialect == "postgres" {
		query = `SELECT session_id FROM sessions WHERE session_id = $1`
	}

	var existing string
	err := t.db.QueryRowContext(ctx, query, sessionID).Scan(&existing)
	switch {
	case err == sql.ErrNoRows:
		insert := `INSERT INTO sessions (session_id, user_id, created_at, updated_at) VALUES (?, ?, ?, ?)`
		if t.dialect == "postgres" {
			insert = `INSERT INTO sessions (session_id, user_id, created_at, updated_at) VALUES ($1, $2, $3, $4)`
		}
		if _, err := t.db.ExecContext(ctx, insert, sessionID, nullable(userID), now, now); err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("failed to look up session: %w", err)
	}

	update := `UPDATE sessions SET updated_at = ? WHERE session_id = ?`
	if t.dialect == "postgres" {
		update = `UPDATE sessions SET updated_at = $1 WHERE session_id = $2`
	}
	if _, err := t.db.ExecContext(ctx, update, now, sessionID); err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

// AppendMessage inserts one message row, ensuring the session exists
// first. Metadata is normalized and stored as JSON text.
func (t *DurableTier) AppendMessage(ctx context.Context, rec *MessageRecord) error {
	if rec == nil {
		return fmt.Errorf("record cannot be nil")
	}
	if rec.SessionID == "" {
		return fmt.Errorf("sessionID cannot be empty")
	}
	if !ValidSenderType(rec.SenderType) {
		return fmt.Errorf("invalid sender type: %s", rec.SenderType)
	}

	if err := t.EnsureSession(ctx, rec.SessionID, rec.UserID); err != nil {
		return fmt.Errorf("failed to ensure session exists: %w", err)
	}

	var metadataJSON sql.NullString
	if len(rec.Metadata) > 0 {
		encoded, err := json.Marshal(NormalizeMetadata(rec.Metadata))
		if err != nil {
			return fmt.Errorf("failed to encode metadata: %w", err)
		}
		metadataJSON = sql.NullString{String: string(encoded), Valid: true}
	}

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	query := `
INSERT INTO message_history (session_id, user_id, sender_type, message_content, metadata, created_at)
VALUES (?, ?, ?, ?, ?, ?)
`
	if t.dialect == "postgres" {
		query = `
INSERT INTO message_history (session_id, user_id, sender_type, message_content, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
`
	}

	_, err := t.db.ExecContext(ctx, query,
		rec.SessionID, nullable(rec.UserID), string(rec.SenderType),
		rec.Content, metadataJSON, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// SessionMessages returns one page of a session's history, newest
// first.
func (t *DurableTier) SessionMessages(ctx context.Context, sessionID string, limit, offset int) ([]*MessageRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
SELECT id, session_id, user_id, sender_type, message_content, metadata, created_at
FROM message_history
WHERE session_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ? OFFSET ?
`
	if t.dialect == "postgres" {
		query = `
SELECT id, session_id, user_id, sender_type, message_content, metadata, created_at
FROM message_history
WHERE session_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3
`
	}

	rows, err := t.db.QueryContext(ctx, query, sessionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query session history: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// RecentMessages returns the last limit messages of a session in
// chronological order.
func (t *DurableTier) RecentMessages(ctx context.Context, sessionID string, limit int) ([]*MessageRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
SELECT id, session_id, user_id, sender_type, message_content, metadata, created_at
FROM (
    SELECT id, session_id, user_id, sender_type, message_content, metadata, created_at
    FROM message_history
    WHERE session_id = ?
    ORDER BY created_at DESC, id DESC
    LIMIT ?
) recent
ORDER BY created_at ASC, id ASC
`
	if t.dialect == "postgres" {
		query = `
SELECT id, session_id, user_id, sender_type, message_content, metadata, created_at
FROM (
    SELECT id, session_id, user_id, sender_type, message_content, metadata, created_at
    FROM message_history
    WHERE session_id = $1
    ORDER BY created_at DESC, id DESC
    LIMIT $2
) recent
ORDER BY created_at ASC, id ASC
`
	}

	rows, err := t.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent messages: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Sessions returns one page of all sessions, most recently active
// first.
func (t *DurableTier) Sessions(ctx context.Context, limit, offset int) ([]*Session, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
SELECT session_id, user_id, created_at, updated_at
FROM sessions
ORDER BY updated_at DESC
LIMIT ? OFFSET ?
`
	if t.dialect == "postgres" {
		query = `
SELECT session_id, user_id, created_at, updated_at
FROM sessions
ORDER BY updated_at DESC
LIMIT $1 OFFSET $2
`
	}

	rows, err := t.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		s := &Session{}
		var userID sql.NullString
		if err := rows.Scan(&s.SessionID, &userID, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		s.UserID = userID.String
		out = append(out, s)
	}
	return out, rows.Err()
}

// UserSessions aggregates the sessions belonging to userID, most
// recently active first.
func (t *DurableTier) UserSessions(ctx context.Context, userID string) ([]*SessionSummary, error) {
	query := `
SELECT session_id, COUNT(*), MIN(created_at), MAX(created_at)
FROM message_history
WHERE user_id = ?
GROUP BY session_id
ORDER BY MAX(created_at) DESC
`
	if t.dialect == "postgres" {
		query = `
SELECT session_id, COUNT(*), MIN(created_at), MAX(created_at)
FROM message_history
WHERE user_id = $1
GROUP BY session_id
ORDER BY MAX(created_at) DESC
`
	}

	rows, err := t.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query user sessions: %w", err)
	}
	defer rows.Close()

	var out []*SessionSummary
	for rows.Next() {
		s := &SessionSummary{}
		if err := rows.Scan(&s.SessionID, &s.MessageCount, &s.FirstMessage, &s.LastMessage); err != nil {
			return nil, fmt.Errorf("failed to scan session summary: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SessionOwner returns the user_id recorded for a session, or "" when
// the session is anonymous or unknown.
func (t *DurableTier) SessionOwner(ctx context.Context, sessionID string) (string, error) {
	query := `SELECT user_id FROM sessions WHERE session_id = ?`
	if t.dialect == "postgres" {
		query = `SELECT user_id FROM sessions WHERE session_id = $1`
	}

	var owner sql.NullString
	err := t.db.QueryRowContext(ctx, query, sessionID).Scan(&owner)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up session owner: %w", err)
	}
	return owner.String, nil
}

// DeleteSessionHistory removes a session and its messages. It returns
// the number of deleted messages.
func (t *DurableTier) DeleteSessionHistory(ctx context.Context, sessionID string) (int64, error) {
	deleteMessages := `DELETE FROM message_history WHERE session_id = ?`
	deleteSession := `DELETE FROM sessions WHERE session_id = ?`
	if t.dialect == "postgres" {
		deleteMessages = `DELETE FROM message_history WHERE session_id = $1`
		deleteSession = `DELETE FROM sessions WHERE session_id = $1`
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, deleteMessages, sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete message history: %w", err)
	}
	deleted, _ := res.RowsAffected()

	if _, err = tx.ExecContext(ctx, deleteSession, sessionID); err != nil {
		return 0, fmt.Errorf("failed to delete session: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit delete: %w", err)
	}
	return deleted, nil
}

func scanRecords(rows *sql.Rows) ([]*MessageRecord, error) {
	var out []*MessageRecord
	for rows.Next() {
		rec := &MessageRecord{}
		var userID, metadata sql.NullString
		if err := rows.Scan(&rec.ID, &rec.SessionID, &userID, &rec.SenderType,
			&rec.Content, &metadata, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		rec.UserID = userID.String
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &rec.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata for message %d: %w", rec.ID, err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
