package domain

import (
	"errors"
	"time"

	"stratsync-chat/internal/jsonx"
)

// ErrMessageTooLarge is returned by stores that cannot hold a message of
// this size.
var ErrMessageTooLarge = errors.New("message too large to store")

// Sender identifies who produced a message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Message is a single conversation turn.
type Message struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversationId"`
	Sender         Sender          `json:"sender"`
	Content        string          `json:"content"`
	Table          []*jsonx.Object `json:"table,omitempty"`
	Context        *RequestContext `json:"context,omitempty"`
	CanSummarize   bool            `json:"canSummarize"`
	IsError        bool            `json:"isError,omitempty"`
	WasSummarized  bool            `json:"wasSummarized,omitempty"`
	GeneratedOffer bool            `json:"generatedOffer,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// HasTable reports whether the message is presented as a table.
func (m Message) HasTable() bool {
	return len(m.Table) > 0
}

// MessagePatch holds the auxiliary fields that may change after a message
// was appended. Nil fields are left untouched.
type MessagePatch struct {
	WasSummarized *bool
	OfferResponse any
}

// Apply merges p into m.
func (p MessagePatch) Apply(m *Message) {
	if p.WasSummarized != nil {
		m.WasSummarized = *p.WasSummarized
	}
	if p.OfferResponse != nil {
		ctx := m.Context.Clone()
		ctx.OfferResponse = p.OfferResponse
		m.Context = ctx
	}
}

// Summary is the rendered summary currently shown for a conversation.
type Summary struct {
	ConversationID string    `json:"conversationId"`
	MessageID      string    `json:"messageId"`
	HTML           string    `json:"html"`
	CreatedAt      time.Time `json:"createdAt"`
}

// RawResponse is an unparsed reply from the query service.
type RawResponse struct {
	Body        []byte
	ContentType string
}
