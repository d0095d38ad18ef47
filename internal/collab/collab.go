// Package collab implements cross-agent coordination over plain files:
// delegations, pub/sub topics, subscriptions and shared memory reads. All
// state lives under <root>/collaborations/.
package collab

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/clawfleet/internal/config"
)

// Delegation statuses.
const (
	DelegationPending    = "pending"
	DelegationAccepted   = "accepted"
	DelegationInProgress = "in_progress"
	DelegationCompleted  = "completed"
	DelegationFailed     = "failed"
)

// ErrDelegationNotFound is returned when no delegation file has the id.
var ErrDelegationNotFound = fmt.Errorf("delegation not found")

// Delegation is one task handed from one agent to another.
type Delegation struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Task      string    `json:"task"`
	Context   string    `json:"context,omitempty"`
	Status    string    `json:"status"`
	Result    string    `json:"result,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TopicMessage is one published message on a topic.
type TopicMessage struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	From      string    `json:"from"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Subscription marks an agent's interest in a topic.
type Subscription struct {
	Agent     string    `json:"agent"`
	Topic     string    `json:"topic"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store reads and writes collaboration state. Writes within one process are
// serialized by a mutex; files are written atomically.
type Store struct {
	mu   sync.Mutex
	root string
}

// New creates a Store rooted at <dataRoot>/collaborations.
func New(dataRoot string) *Store {
	return &Store{root: filepath.Join(dataRoot, "collaborations")}
}

func (s *Store) delegationsDir() string { return filepath.Join(s.root, "delegations") }
func (s *Store) topicsDir() string      { return filepath.Join(s.root, "topics") }
func (s *Store) subsPath() string       { return filepath.Join(s.root, "subscriptions.json") }

// Delegate records a new pending delegation and returns it. context carries
// whatever background the receiving agent needs to act.
func (s *Store) Delegate(from, to, task, context string) (Delegation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	d := Delegation{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		Task:      task,
		Context:   context,
		Status:    DelegationPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.writeDelegation(d); err != nil {
		return Delegation{}, err
	}
	return d, nil
}

// UpdateDelegation sets status (and optionally result) on an existing
// delegation and bumps updatedAt.
func (s *Store) UpdateDelegation(id, status, result string) (Delegation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.readDelegation(id)
	if err != nil {
		return Delegation{}, err
	}
	d.Status = status
	if result != "" {
		d.Result = result
	}
	d.UpdatedAt = time.Now().UTC()
	// updatedAt must move forward even within one clock tick.
	if !d.UpdatedAt.After(d.CreatedAt) {
		d.UpdatedAt = d.CreatedAt.Add(time.Millisecond)
	}
	if err := s.writeDelegation(d); err != nil {
		return Delegation{}, err
	}
	return d, nil
}

// GetDelegation loads one delegation by id.
func (s *Store) GetDelegation(id string) (Delegation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readDelegation(id)
}

// ListDelegations scans all delegation files; empty filter values match
// everything.
func (s *Store) ListDelegations(agent, status string) ([]Delegation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.delegationsDir())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan delegations: %w", err)
	}

	var out []Delegation
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		d, err := s.readDelegation(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			continue
		}
		if agent != "" && d.From != agent && d.To != agent {
			continue
		}
		if status != "" && d.Status != status {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) readDelegation(id string) (Delegation, error) {
	data, err := os.ReadFile(filepath.Join(s.delegationsDir(), id+".json"))
	if os.IsNotExist(err) {
		return Delegation{}, fmt.Errorf("%w: %s", ErrDelegationNotFound, id)
	}
	if err != nil {
		return Delegation{}, fmt.Errorf("read delegation %s: %w", id, err)
	}
	var d Delegation
	if err := json.Unmarshal(data, &d); err != nil {
		return Delegation{}, fmt.Errorf("parse delegation %s: %w", id, err)
	}
	return d, nil
}

func (s *Store) writeDelegation(d Delegation) error {
	dir := s.delegationsDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create delegations dir: %w", err)
	}
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("encode delegation: %w", err)
	}
	return config.WriteFileAtomic(filepath.Join(dir, d.ID+".json"), data, 0o644)
}

// Publish appends a message file to the topic directory.
func (s *Store) Publish(topic, from, text string) (TopicMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := TopicMessage{
		ID:        uuid.NewString(),
		Topic:     topic,
		From:      from,
		Text:      text,
		Timestamp: time.Now().UTC(),
	}
	dir := filepath.Join(s.topicsDir(), topic)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return TopicMessage{}, fmt.Errorf("create topic dir: %w", err)
	}
	data, err := json.MarshalIndent(msg, "", "  ")
	if err != nil {
		return TopicMessage{}, fmt.Errorf("encode message: %w", err)
	}
	name := sanitizeTimestamp(msg.Timestamp) + "-" + msg.ID + ".json"
	if err := config.WriteFileAtomic(filepath.Join(dir, name), data, 0o644); err != nil {
		return TopicMessage{}, err
	}
	return msg, nil
}

// Messages returns the topic's messages in timestamp order. A non-zero
// since keeps only messages strictly after it.
func (s *Store) Messages(topic string, since time.Time) ([]TopicMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.topicsDir(), topic)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan topic %s: %w", topic, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	// ISO-8601 timestamps sort lexicographically, so filename order is
	// publication order.
	sort.Strings(names)

	var out []TopicMessage
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		var msg TopicMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if !since.IsZero() && !msg.Timestamp.After(since) {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

// Topics lists topic names that have a directory.
func (s *Store) Topics() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.topicsDir())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan topics: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// Subscribe records the agent's interest in a topic. Repeated calls for the
// same pair are no-ops.
func (s *Store) Subscribe(agent, topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs, err := s.readSubscriptions()
	if err != nil {
		return err
	}
	for _, sub := range subs {
		if sub.Agent == agent && sub.Topic == topic {
			return nil
		}
	}
	subs = append(subs, Subscription{Agent: agent, Topic: topic, CreatedAt: time.Now().UTC()})
	return s.writeSubscriptions(subs)
}

// Unsubscribe removes the pair if present.
func (s *Store) Unsubscribe(agent, topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs, err := s.readSubscriptions()
	if err != nil {
		return err
	}
	kept := subs[:0]
	for _, sub := range subs {
		if sub.Agent == agent && sub.Topic == topic {
			continue
		}
		kept = append(kept, sub)
	}
	if len(kept) == len(subs) {
		return nil
	}
	return s.writeSubscriptions(kept)
}

// Subscriptions returns the agent's subscriptions, or all when agent is
// empty.
func (s *Store) Subscriptions(agent string) ([]Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs, err := s.readSubscriptions()
	if err != nil {
		return nil, err
	}
	if agent == "" {
		return subs, nil
	}
	var out []Subscription
	for _, sub := range subs {
		if sub.Agent == agent {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (s *Store) readSubscriptions() ([]Subscription, error) {
	data, err := os.ReadFile(s.subsPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read subscriptions: %w", err)
	}
	var subs []Subscription
	if err := json.Unmarshal(data, &subs); err != nil {
		return nil, fmt.Errorf("parse subscriptions: %w", err)
	}
	return subs, nil
}

func (s *Store) writeSubscriptions(subs []Subscription) error {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("create collaborations dir: %w", err)
	}
	data, err := json.MarshalIndent(subs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode subscriptions: %w", err)
	}
	return config.WriteFileAtomic(s.subsPath(), data, 0o644)
}

// sanitizeTimestamp turns an ISO-8601 timestamp into a filename-safe prefix
// that still sorts chronologically.
func sanitizeTimestamp(t time.Time) string {
	iso := t.UTC().Format("2006-01-02T15:04:05.000Z")
	return strings.NewReplacer(":", "-", ".", "-").Replace(iso)
}

// SharedMemory returns target's MEMORY.md if both agent directories exist.
// No other agent file is ever exposed this way.
func SharedMemory(agentsRoot, requester, target string) (string, error) {
	for _, slug := range []string{requester, target} {
		info, err := os.Stat(filepath.Join(agentsRoot, slug))
		if err != nil || !info.IsDir() {
			return "", fmt.Errorf("agent %s not found", slug)
		}
	}
	data, err := os.ReadFile(filepath.Join(agentsRoot, target, "MEMORY.md"))
	if os.IsNotExist(err) {
		return "", fmt.Errorf("agent %s has no shared memory", target)
	}
	if err != nil {
		return "", fmt.Errorf("read shared memory: %w", err)
	}
	return string(data), nil
}
