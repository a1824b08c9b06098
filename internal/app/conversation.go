package app

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// StoredMessage is one persisted conversation entry.
type StoredMessage struct {
	Role      string    `json:"role"` // user|assistant|system
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ConversationStore persists an ordered message history to a JSON file. It
// supplies the history a generation starts from and receives the finalized
// assistant message afterwards.
type ConversationStore struct {
	path string
	mu   sync.Mutex
}

func NewConversationStore(path string) *ConversationStore {
	return &ConversationStore{path: path}
}

func (s *ConversationStore) Load() ([]StoredMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path == "" {
		return nil, errors.New("conversation store path required")
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	var messages []StoredMessage
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func (s *ConversationStore) Append(role, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path == "" {
		return errors.New("conversation store path required")
	}

	var messages []StoredMessage
	if data, err := os.ReadFile(s.path); err == nil && len(data) > 0 {
		_ = json.Unmarshal(data, &messages)
	}
	messages = append(messages, StoredMessage{Role: role, Content: content, CreatedAt: time.Now().UTC()})

	payload, err := json.MarshalIndent(messages, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(s.path, payload, 0o644)
}

// History converts stored messages into the request form.
func (s *ConversationStore) History() ([]ChatMessage, error) {
	stored, err := s.Load()
	if err != nil {
		return nil, err
	}
	messages := make([]ChatMessage, 0, len(stored))
	for _, msg := range stored {
		messages = append(messages, ChatMessage{Role: msg.Role, Content: msg.Content})
	}
	return messages, nil
}
