package devserver

import (
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const serverTitleLimit = 50

type storedMessage struct {
	Sender    string
	Text      string
	Timestamp time.Time
}

type storedChat struct {
	ID        string
	User      string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
	Messages  []storedMessage
}

// chatStore keeps every user's chats in memory.
type chatStore struct {
	mu    sync.Mutex
	chats map[string]*storedChat
	seq   int64
}

func newChatStore() *chatStore {
	return &chatStore{chats: map[string]*storedChat{}}
}

// appendExchange adds a user message and its reply to chatID, creating a
// new chat when chatID is empty or belongs to nobody known.
func (s *chatStore) appendExchange(user, chatID, message, reply string, now time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	exchange := []storedMessage{
		{Sender: "user", Text: message, Timestamp: now},
		{Sender: "bot", Text: reply, Timestamp: now},
	}
	if chat, ok := s.chats[chatID]; ok && chat.User == user {
		chat.Messages = append(chat.Messages, exchange...)
		chat.UpdatedAt = now
		return chat.ID
	}
	s.seq++
	chat := &storedChat{
		ID:        strings.ReplaceAll(uuid.NewString(), "-", "")[:24],
		User:      user,
		Title:     serverTitle(message),
		// seq orders chats created within the same clock tick.
		CreatedAt: now.Add(time.Duration(s.seq)),
		UpdatedAt: now,
		Messages:  exchange,
	}
	s.chats[chat.ID] = chat
	return chat.ID
}

// list returns user's chats, most recently created first.
func (s *chatStore) list(user string, limit int) []storedChat {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storedChat
	for _, chat := range s.chats {
		if chat.User != user {
			continue
		}
		copied := *chat
		copied.Messages = append([]storedMessage(nil), chat.Messages...)
		out = append(out, copied)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *chatStore) remove(user, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[id]
	if !ok || chat.User != user {
		return false
	}
	delete(s.chats, id)
	return true
}

func serverTitle(message string) string {
	if utf8.RuneCountInString(message) <= serverTitleLimit {
		return message
	}
	return string([]rune(message)[:serverTitleLimit]) + "..."
}
