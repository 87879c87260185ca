// Package history reconciles the local conversation cache with the
// server-side chat history.
package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kingrea/chatup/internal/conversation"
	"github.com/kingrea/chatup/internal/logging"
	"github.com/kingrea/chatup/internal/session"
)

// ErrSuperseded is returned by RefreshAfter when a later request took over
// its reload.
var ErrSuperseded = errors.New("history: refresh superseded")

// Remote is the slice of the chat service the synchronizer uses.
type Remote interface {
	ListHistory(ctx context.Context, userID string) ([]conversation.Conversation, error)
	DeleteHistory(ctx context.Context, userID, id string) error
}

// Persister stores the cache between runs.
type Persister interface {
	SaveConversations(ctx context.Context, userID string, convs []conversation.Conversation) error
	SaveConversation(ctx context.Context, userID string, conv conversation.Conversation) error
	RenameConversation(ctx context.Context, userID, oldID string, conv conversation.Conversation) error
	DeleteConversation(ctx context.Context, userID, id string) error
	LoadConversations(ctx context.Context, userID string) ([]conversation.Conversation, error)
}

// Synchronizer owns every mutation of the cache that involves the server.
type Synchronizer struct {
	remote  Remote
	state   *session.State
	persist Persister
	limiter *rate.Limiter
	logger  *zap.Logger

	refreshMu  sync.Mutex
	refreshGen uint64
}

// Option customizes a Synchronizer.
type Option func(*Synchronizer)

// WithPersister keeps the cache on disk.
func WithPersister(p Persister) Option {
	return func(s *Synchronizer) {
		s.persist = p
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Synchronizer) {
		s.logger = logging.OrNop(logger)
	}
}

// WithRefreshLimit paces reloads: burst at once, then one per interval.
func WithRefreshLimit(interval time.Duration, burst int) Option {
	return func(s *Synchronizer) {
		if burst < 1 {
			burst = 1
		}
		limit := rate.Inf
		if interval > 0 {
			limit = rate.Every(interval)
		}
		s.limiter = rate.NewLimiter(limit, burst)
	}
}

// New builds a synchronizer for the user held by state.
func New(remote Remote, state *session.State, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		remote:  remote,
		state:   state,
		limiter: rate.NewLimiter(rate.Inf, 1),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Restore fills the cache from disk so the sidebar has content before the
// first network round trip completes.
func (s *Synchronizer) Restore(ctx context.Context, userID string) ([]conversation.Conversation, error) {
	if s.persist == nil {
		return s.state.Cache().List(), nil
	}
	convs, err := s.persist.LoadConversations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("history: restore: %w", err)
	}
	s.state.Cache().Replace(convs)
	return s.state.Cache().List(), nil
}

// LoadHistory fetches the user's conversations and replaces the cache with
// them. On failure the cache is left exactly as it was.
func (s *Synchronizer) LoadHistory(ctx context.Context, userID string) ([]conversation.Conversation, error) {
	remote, err := s.remote.ListHistory(ctx, userID)
	if err != nil {
		s.logger.Warn("history load failed", zap.String("user", userID), zap.Error(err))
		return nil, fmt.Errorf("history: load: %w", err)
	}
	cache := s.state.Cache()
	merged := withLocalDrafts(remote, cache.List())
	cache.Replace(merged)
	current := cache.List()
	if s.persist != nil {
		if err := s.persist.SaveConversations(ctx, userID, current); err != nil {
			s.logger.Warn("history persist failed", zap.String("user", userID), zap.Error(err))
		}
	}
	if active, ok := s.state.Active(); ok && !cache.Has(active) {
		if err := s.state.ClearActive(ctx); err != nil {
			s.logger.Warn("clear stale active conversation", zap.String("id", active), zap.Error(err))
		}
	}
	s.logger.Debug("history loaded", zap.String("user", userID), zap.Int("chats", len(current)))
	return current, nil
}

// withLocalDrafts keeps conversations created on this client that the
// server has not listed yet.
func withLocalDrafts(remote, cached []conversation.Conversation) []conversation.Conversation {
	seen := make(map[string]struct{}, len(remote))
	for _, conv := range remote {
		seen[conv.ID] = struct{}{}
	}
	out := append([]conversation.Conversation(nil), remote...)
	for _, conv := range cached {
		if !conv.Local {
			continue
		}
		if _, ok := seen[conv.ID]; ok {
			continue
		}
		out = append(out, conv)
	}
	return out
}

// DeleteConversation removes id on the server and, only once the server has
// confirmed, from the cache. Deleting the active conversation clears the
// pointer. Drafts the server never saw skip the remote call.
func (s *Synchronizer) DeleteConversation(ctx context.Context, userID, id string) error {
	cache := s.state.Cache()
	conv, cached := cache.Get(id)
	if !cached || !conv.Local {
		if err := s.remote.DeleteHistory(ctx, userID, id); err != nil {
			s.logger.Warn("history delete failed", zap.String("id", id), zap.Error(err))
			return fmt.Errorf("history: delete %s: %w", id, err)
		}
	}
	cache.Remove(id)
	if s.persist != nil {
		if err := s.persist.DeleteConversation(ctx, userID, id); err != nil {
			s.logger.Warn("history persist delete failed", zap.String("id", id), zap.Error(err))
		}
	}
	if active, ok := s.state.Active(); ok && active == id {
		if err := s.state.ClearActive(ctx); err != nil {
			return fmt.Errorf("history: delete %s: %w", id, err)
		}
	}
	s.logger.Info("conversation deleted", zap.String("id", id))
	return nil
}

// RefreshAfter debounces history reloads. Each call waits delay; a call
// that is overtaken by a newer one during its wait returns ErrSuperseded,
// so the last request of a burst is the one that reloads. Reloads are paced
// by the refresh limit and wait for a token instead of being dropped.
func (s *Synchronizer) RefreshAfter(ctx context.Context, userID string, delay time.Duration) error {
	s.refreshMu.Lock()
	s.refreshGen++
	gen := s.refreshGen
	s.refreshMu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return err
	}
	s.refreshMu.Lock()
	superseded := gen != s.refreshGen
	s.refreshMu.Unlock()
	if superseded {
		return ErrSuperseded
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := s.LoadHistory(ctx, userID)
	return err
}

// Save persists one conversation after a local change.
func (s *Synchronizer) Save(ctx context.Context, conv conversation.Conversation) error {
	if s.persist == nil {
		return nil
	}
	if err := s.persist.SaveConversation(ctx, s.state.UserID(), conv); err != nil {
		return fmt.Errorf("history: save %s: %w", conv.ID, err)
	}
	return nil
}

// Adopt moves a local draft onto the id the server assigned to it. The
// active pointer follows when it pointed at the draft.
func (s *Synchronizer) Adopt(ctx context.Context, localID, serverID string) (conversation.Conversation, error) {
	conv, err := s.state.Cache().Rekey(localID, serverID)
	if err != nil {
		return conversation.Conversation{}, fmt.Errorf("history: adopt %s: %w", localID, err)
	}
	if s.persist != nil {
		if err := s.persist.RenameConversation(ctx, s.state.UserID(), localID, conv); err != nil {
			s.logger.Warn("history persist rename failed", zap.String("id", localID), zap.Error(err))
		}
	}
	if active, ok := s.state.Active(); ok && active == localID {
		if err := s.state.SetActive(ctx, conv.ID); err != nil {
			return conv, fmt.Errorf("history: adopt %s: %w", localID, err)
		}
	}
	return conv, nil
}
