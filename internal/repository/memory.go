package repository

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"stratsync-chat/internal/domain"
)

// Memory keeps conversations in process memory. State is lost when the
// process exits.
type Memory struct {
	mu            sync.Mutex
	conversations map[string]*memoryConversation
	now           func() time.Time
}

type memoryConversation struct {
	nextID   int64
	messages []domain.Message
	summary  *domain.Summary
}

func NewMemory() *Memory {
	return &Memory{
		conversations: make(map[string]*memoryConversation),
		now:           time.Now,
	}
}

func (m *Memory) conversation(id string) *memoryConversation {
	c, ok := m.conversations[id]
	if !ok {
		c = &memoryConversation{}
		m.conversations[id] = c
	}
	return c
}

// AppendMessage assigns the next id of the conversation to msg and appends it.
func (m *Memory) AppendMessage(_ context.Context, msg domain.Message) (domain.Message, error) {
	if strings.TrimSpace(msg.ConversationID) == "" {
		return domain.Message{}, errors.New("repository: AppendMessage: conversation id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.conversation(msg.ConversationID)
	c.nextID++
	msg.ID = strconv.FormatInt(c.nextID, 10)
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = m.now().UTC()
	}
	c.messages = append(c.messages, msg)
	return msg, nil
}

func (m *Memory) GetMessage(_ context.Context, conversationID, messageID string) (domain.Message, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[conversationID]
	if !ok {
		return domain.Message{}, false, nil
	}
	for _, msg := range c.messages {
		if msg.ID == messageID {
			return msg, true, nil
		}
	}
	return domain.Message{}, false, nil
}

func (m *Memory) ListMessages(_ context.Context, conversationID string) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[conversationID]
	if !ok {
		return nil, nil
	}
	out := make([]domain.Message, len(c.messages))
	copy(out, c.messages)
	return out, nil
}

// PatchMessage merges patch into the message; found is false when no such
// message exists.
func (m *Memory) PatchMessage(_ context.Context, conversationID, messageID string, patch domain.MessagePatch) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[conversationID]
	if !ok {
		return false, nil
	}
	for i := range c.messages {
		if c.messages[i].ID == messageID {
			patch.Apply(&c.messages[i])
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) PutSummary(_ context.Context, s domain.Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.conversation(s.ConversationID)
	c.summary = &s
	return nil
}

func (m *Memory) GetSummary(_ context.Context, conversationID string) (domain.Summary, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[conversationID]
	if !ok || c.summary == nil {
		return domain.Summary{}, false, nil
	}
	return *c.summary, true, nil
}
