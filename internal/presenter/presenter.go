// Package presenter turns the conversation cache into sidebar entries and
// handles the list's select, new chat and confirmed delete actions.
package presenter

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kingrea/chatup/internal/conversation"
	"github.com/kingrea/chatup/internal/session"
)

var (
	// ErrUnknownConversation is returned when an action names an id that is
	// not in the cache.
	ErrUnknownConversation = errors.New("presenter: unknown conversation")
	// ErrNoPendingDelete is returned by ConfirmDelete without a prior
	// RequestDelete.
	ErrNoPendingDelete = errors.New("presenter: no delete awaiting confirmation")
)

// Entry is one rendered sidebar row.
type Entry struct {
	ID        string
	Label     string
	Preview   string
	Timestamp time.Time
	Active    bool
	Messages  int
}

// Render maps conversations to entries in the order given.
func Render(convs []conversation.Conversation, activeID string) []Entry {
	entries := make([]Entry, 0, len(convs))
	for _, conv := range convs {
		entries = append(entries, Entry{
			ID:        conv.ID,
			Label:     conv.Label(),
			Preview:   conv.LastMessage,
			Timestamp: conv.Timestamp,
			Active:    activeID != "" && conv.ID == activeID,
			Messages:  len(conv.Messages),
		})
	}
	return entries
}

// Deleter removes a conversation remotely and locally.
type Deleter interface {
	DeleteConversation(ctx context.Context, userID, id string) error
}

// Selection is what the transcript shows after a select.
type Selection struct {
	ConversationID string
	Messages       []conversation.Message
	ShowWelcome    bool
}

// DeleteOutcome reports a confirmed delete.
type DeleteOutcome struct {
	ID        string
	WasActive bool
}

// Presenter drives the history list.
type Presenter struct {
	state   *session.State
	deleter Deleter

	mu      sync.Mutex
	pending string
}

// New builds a presenter.
func New(state *session.State, deleter Deleter) *Presenter {
	return &Presenter{state: state, deleter: deleter}
}

// Entries renders the current cache.
func (p *Presenter) Entries() []Entry {
	active, _ := p.state.Active()
	return Render(p.state.Cache().List(), active)
}

// Select activates id and returns its messages for the transcript.
func (p *Presenter) Select(ctx context.Context, id string) (Selection, error) {
	conv, ok := p.state.Cache().Get(id)
	if !ok {
		return Selection{}, ErrUnknownConversation
	}
	if err := p.state.SetActive(ctx, id); err != nil {
		return Selection{}, err
	}
	return Selection{
		ConversationID: id,
		Messages:       conv.Messages,
		ShowWelcome:    len(conv.Messages) == 0,
	}, nil
}

// NewChat clears the active pointer. The conversation itself is created
// when its first message is sent.
func (p *Presenter) NewChat(ctx context.Context) (Selection, error) {
	if err := p.state.ClearActive(ctx); err != nil {
		return Selection{}, err
	}
	return Selection{ShowWelcome: true}, nil
}

// RequestDelete marks id as awaiting confirmation.
func (p *Presenter) RequestDelete(id string) (conversation.Conversation, error) {
	conv, ok := p.state.Cache().Get(id)
	if !ok {
		return conversation.Conversation{}, ErrUnknownConversation
	}
	p.mu.Lock()
	p.pending = id
	p.mu.Unlock()
	return conv, nil
}

// PendingDelete returns the id awaiting confirmation.
func (p *Presenter) PendingDelete() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending, p.pending != ""
}

// CancelDelete drops the pending confirmation.
func (p *Presenter) CancelDelete() {
	p.mu.Lock()
	p.pending = ""
	p.mu.Unlock()
}

// ConfirmDelete deletes the pending conversation. The pending mark is
// consumed whether or not the delete succeeds.
func (p *Presenter) ConfirmDelete(ctx context.Context) (DeleteOutcome, error) {
	p.mu.Lock()
	id := p.pending
	p.pending = ""
	p.mu.Unlock()
	if id == "" {
		return DeleteOutcome{}, ErrNoPendingDelete
	}
	active, _ := p.state.Active()
	if err := p.deleter.DeleteConversation(ctx, p.state.UserID(), id); err != nil {
		return DeleteOutcome{ID: id}, err
	}
	return DeleteOutcome{ID: id, WasActive: active == id}, nil
}
