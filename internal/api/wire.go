package api

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/kingrea/chatup/internal/conversation"
)

// Timestamp accepts the date formats the service emits: RFC 3339, naive
// ISO 8601 (assumed UTC) and the RFC 1123 form produced by JSON encoders of
// HTTP frameworks.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	time.RFC1123,
	time.RFC1123Z,
}

// ParseTimestamp parses raw with every known layout.
func ParseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed.UTC(), true
		}
	}
	return time.Time{}, false
}

// UnmarshalJSON implements json.Unmarshaler. Unknown formats decode as the
// zero time rather than failing the whole payload.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	if data[0] != '"' {
		var seconds float64
		if err := json.Unmarshal(data, &seconds); err != nil {
			t.Time = time.Time{}
			return nil
		}
		t.Time = time.UnixMilli(int64(seconds * 1000)).UTC()
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, _ := ParseTimestamp(raw)
	t.Time = parsed
	return nil
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// RemoteMessage is one message as stored by the service.
type RemoteMessage struct {
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp Timestamp `json:"timestamp"`
}

// RemoteChat is one conversation as listed by GET /chat-history.
type RemoteChat struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	CreatedAt Timestamp       `json:"created_at"`
	UpdatedAt Timestamp       `json:"updated_at"`
	Messages  []RemoteMessage `json:"messages"`
}

// Conversation maps the wire shape onto the local model.
func (r RemoteChat) Conversation() conversation.Conversation {
	stamp := r.UpdatedAt.Time
	if stamp.IsZero() {
		stamp = r.CreatedAt.Time
	}
	conv := conversation.Conversation{
		ID:        r.ID,
		Title:     strings.TrimSpace(r.Title),
		Timestamp: stamp,
		Messages:  make([]conversation.Message, 0, len(r.Messages)),
	}
	for _, msg := range r.Messages {
		sender := conversation.SenderBot
		if strings.EqualFold(msg.Sender, string(conversation.SenderUser)) {
			sender = conversation.SenderUser
		}
		at := msg.Timestamp.Time
		if at.IsZero() {
			at = stamp
		}
		conv.Messages = append(conv.Messages, conversation.Message{
			Text:      msg.Text,
			Sender:    sender,
			Timestamp: at,
		})
		if at.After(conv.Timestamp) {
			conv.Timestamp = at
		}
	}
	if n := len(conv.Messages); n > 0 {
		conv.LastMessage = conv.Messages[n-1].Text
	}
	return conv
}
