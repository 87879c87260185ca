package tui

import (
	"context"
	"sync"

	"github.com/kingrea/chatup/internal/conversation"
)

type sinkKind int

const (
	sinkAppend sinkKind = iota
	sinkTypingOn
	sinkTypingOff
	sinkRefresh
)

type sinkEvent struct {
	kind           sinkKind
	conversationID string
	message        conversation.Message
}

// uiSink collects pipeline side effects from any goroutine. Update drains
// it on the event loop so the model is only ever mutated there.
type uiSink struct {
	mu     sync.Mutex
	events []sinkEvent
}

func (s *uiSink) push(ev sinkEvent) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *uiSink) drain() []sinkEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.events
	s.events = nil
	return events
}

func (s *uiSink) AppendMessage(conversationID string, msg conversation.Message) {
	s.push(sinkEvent{kind: sinkAppend, conversationID: conversationID, message: msg})
}

func (s *uiSink) ShowTyping(conversationID string) {
	s.push(sinkEvent{kind: sinkTypingOn, conversationID: conversationID})
}

func (s *uiSink) HideTyping(conversationID string) {
	s.push(sinkEvent{kind: sinkTypingOff, conversationID: conversationID})
}

func (s *uiSink) Refresh(context.Context) {
	s.push(sinkEvent{kind: sinkRefresh})
}
