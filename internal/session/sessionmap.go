package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/nextlevelbuilder/clawfleet/internal/config"
)

// sessionMap persists conversation id → external LLM session id so
// subprocesses can be resumed across daemon restarts. Every save goes
// through a temp file and rename.
type sessionMap struct {
	mu      sync.Mutex
	path    string
	entries map[string]string
}

func loadSessionMap(path string) (*sessionMap, error) {
	m := &sessionMap{path: path, entries: map[string]string{}}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session map: %w", err)
	}
	if err := json.Unmarshal(raw, &m.entries); err != nil {
		return nil, fmt.Errorf("parse session map: %w", err)
	}
	return m, nil
}

// Get returns the external id mapped to a conversation, if any.
func (m *sessionMap) Get(conversationID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.entries[conversationID]
	return id, ok
}

// Set records a mapping and persists atomically before returning.
func (m *sessionMap) Set(conversationID, externalID string) error {
	if externalID == "" {
		return fmt.Errorf("refusing empty external id for %s", conversationID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[conversationID] = externalID
	return m.persistLocked()
}

// Delete drops a mapping and persists.
func (m *sessionMap) Delete(conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, conversationID)
	return m.persistLocked()
}

func (m *sessionMap) persistLocked() error {
	data, err := json.MarshalIndent(m.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session map: %w", err)
	}
	if err := config.WriteFileAtomic(m.path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("persist session map: %w", err)
	}
	return nil
}
