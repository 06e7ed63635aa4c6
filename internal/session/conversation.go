package session

import (
	"sync"
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a single chat message
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is the in-memory transcript of the current chat.
// It is append-only until cleared and is never persisted.
type Conversation struct {
	mu       sync.Mutex
	messages []Message
}

// NewConversation creates an empty conversation
func NewConversation() *Conversation {
	return &Conversation{messages: []Message{}}
}

// Append adds a message at the end of the transcript
func (c *Conversation) Append(role, content string) Message {
	msg := Message{Role: role, Content: content, Timestamp: time.Now()}
	c.mu.Lock()
	c.messages = append(c.messages, msg)
	c.mu.Unlock()
	return msg
}

// Messages returns a copy of the transcript in order
func (c *Conversation) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len returns the number of messages
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// Clear empties the transcript
func (c *Conversation) Clear() {
	c.mu.Lock()
	c.messages = []Message{}
	c.mu.Unlock()
}

// ClearOnLogout empties the conversation whenever the store loses its token
func (c *Conversation) ClearOnLogout(store *Store) {
	store.Subscribe(func(st State) {
		if !st.IsAuthenticated() {
			c.Clear()
		}
	})
}
