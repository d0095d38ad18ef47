package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// UpsertUser records (channel, channelUserID) → agent, replacing any prior
// mapping for the pair.
func (s *Store) UpsertUser(channel, channelUserID, agent string) error {
	_, err := s.db.Exec(`
		INSERT INTO users (channel, channel_user_id, agent, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(channel, channel_user_id) DO UPDATE SET
			agent = excluded.agent,
			updated_at = excluded.updated_at`,
		channel, channelUserID, agent, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// LookupUserAgent returns the mapped agent for a sender, with ok reporting
// whether a mapping exists.
func (s *Store) LookupUserAgent(channel, channelUserID string) (string, bool, error) {
	row := s.db.QueryRow(`
		SELECT agent FROM users WHERE channel = ? AND channel_user_id = ?`,
		channel, channelUserID)
	var agent string
	err := row.Scan(&agent)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup user: %w", err)
	}
	return agent, true, nil
}

// DeleteUser drops the mapping for a sender.
func (s *Store) DeleteUser(channel, channelUserID string) error {
	_, err := s.db.Exec(`DELETE FROM users WHERE channel = ? AND channel_user_id = ?`,
		channel, channelUserID)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}
