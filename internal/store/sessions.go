package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Session statuses.
const (
	SessionActive     = "active"
	SessionIdle       = "idle"
	SessionTerminated = "terminated"
)

// Session is one conversation's binding to an external LLM session.
type Session struct {
	ConversationID string
	ExternalID     string
	Agent          string
	Channel        string
	Status         string
	Turns          int
	CreatedAt      time.Time
	LastActiveAt   time.Time
}

// UpsertSession inserts or refreshes a session row keyed by conversation id.
func (s *Store) UpsertSession(sess Session) error {
	now := time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	if sess.LastActiveAt.IsZero() {
		sess.LastActiveAt = now
	}
	if sess.Status == "" {
		sess.Status = SessionActive
	}
	_, err := s.db.Exec(`
		INSERT INTO sessions (conversation_id, external_id, agent, channel, status, turns, created_at, last_active_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			external_id = excluded.external_id,
			status = excluded.status,
			turns = excluded.turns,
			last_active_at = excluded.last_active_at`,
		sess.ConversationID, sess.ExternalID, sess.Agent, sess.Channel,
		sess.Status, sess.Turns, sess.CreatedAt, sess.LastActiveAt)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// GetSession fetches a session by conversation id.
func (s *Store) GetSession(conversationID string) (Session, error) {
	row := s.db.QueryRow(`
		SELECT conversation_id, external_id, agent, channel, status, turns, created_at, last_active_at
		FROM sessions WHERE conversation_id = ?`, conversationID)
	var sess Session
	err := row.Scan(&sess.ConversationID, &sess.ExternalID, &sess.Agent, &sess.Channel,
		&sess.Status, &sess.Turns, &sess.CreatedAt, &sess.LastActiveAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, conversationID)
	}
	if err != nil {
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// ListSessions returns all sessions, most recently active first. agent
// filters when non-empty.
func (s *Store) ListSessions(agent string) ([]Session, error) {
	query := `
		SELECT conversation_id, external_id, agent, channel, status, turns, created_at, last_active_at
		FROM sessions`
	args := []any{}
	if agent != "" {
		query += ` WHERE agent = ?`
		args = append(args, agent)
	}
	query += ` ORDER BY last_active_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ConversationID, &sess.ExternalID, &sess.Agent, &sess.Channel,
			&sess.Status, &sess.Turns, &sess.CreatedAt, &sess.LastActiveAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// TouchSession bumps last_active_at, status and turn count after a send.
func (s *Store) TouchSession(conversationID, status string, turns int) error {
	res, err := s.db.Exec(`
		UPDATE sessions SET last_active_at = ?, status = ?, turns = ?
		WHERE conversation_id = ?`,
		time.Now().UTC(), status, turns, conversationID)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, conversationID)
	}
	return nil
}

// DeleteSession removes a session row.
func (s *Store) DeleteSession(conversationID string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
