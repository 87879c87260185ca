// internal/conversation/conversation.go
//
// Conversation and Message are the data model shared by the session state,
// the history synchronizer, the message pipeline and the sidebar presenter.

package conversation

import (
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// Sender identifies who wrote a message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

const (
	// TitleLimit is the number of characters of the first message used as a title.
	TitleLimit = 30
	// DefaultTitle labels conversations that have neither a title nor messages.
	DefaultTitle = "New Chat"

	idPrefix = "chat_"
	ellipsis = "..."
)

// Message is a single transcript line.
type Message struct {
	Text      string    `json:"text"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is one chat thread. Messages only ever grow by Append.
type Conversation struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	LastMessage string    `json:"lastMessage"`
	Timestamp   time.Time `json:"timestamp"`
	Messages    []Message `json:"messages"`

	// Local marks a conversation created on this client that the server has
	// not acknowledged yet.
	Local bool `json:"local,omitempty"`
}

// New returns an empty conversation stamped with now.
func New(id string, now time.Time) Conversation {
	return Conversation{
		ID:        id,
		Timestamp: now.UTC(),
		Messages:  []Message{},
	}
}

// Append adds msg to the end of the conversation and updates the summary
// fields. The first user message seeds the title when none is set.
func (c *Conversation) Append(msg Message) {
	if c == nil {
		return
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	c.Messages = append(c.Messages, msg)
	c.LastMessage = msg.Text
	if msg.Timestamp.After(c.Timestamp) {
		c.Timestamp = msg.Timestamp
	}
	if strings.TrimSpace(c.Title) == "" && msg.Sender == SenderUser {
		c.Title = TitleFrom(msg.Text)
	}
}

// Label is the text shown for the conversation in the sidebar.
func (c Conversation) Label() string {
	if title := strings.TrimSpace(c.Title); title != "" {
		return title
	}
	for _, msg := range c.Messages {
		if msg.Sender == SenderUser {
			if label := TitleFrom(msg.Text); label != "" {
				return label
			}
		}
	}
	return DefaultTitle
}

// Clone returns a copy that shares no message storage with c.
func (c Conversation) Clone() Conversation {
	out := c
	out.Messages = make([]Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	return out
}

// TitleFrom truncates text to TitleLimit characters, adding an ellipsis when
// anything was cut.
func TitleFrom(text string) string {
	trimmed := strings.TrimSpace(text)
	if utf8.RuneCountInString(trimmed) <= TitleLimit {
		return trimmed
	}
	runes := []rune(trimmed)
	return string(runes[:TitleLimit]) + ellipsis
}

// IDGenerator hands out time-based conversation ids of the form
// chat_<unix-millis>. Ids from one generator are strictly increasing.
type IDGenerator struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// NewIDGenerator builds a generator using clock, or time.Now when nil.
func NewIDGenerator(clock func() time.Time) *IDGenerator {
	if clock == nil {
		clock = time.Now
	}
	return &IDGenerator{now: clock}
}

// Next returns a fresh id.
func (g *IDGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	stamp := g.now().UnixMilli()
	if stamp <= g.last {
		stamp = g.last + 1
	}
	g.last = stamp
	return fmt.Sprintf("%s%d", idPrefix, stamp)
}

// IsGeneratedID reports whether id looks like a client-generated id.
func IsGeneratedID(id string) bool {
	return strings.HasPrefix(id, idPrefix)
}
