// Package session holds the active-conversation pointer and decides, once
// per process, whether the previous session continues.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kingrea/chatup/internal/conversation"
	"github.com/kingrea/chatup/internal/localstore"
	"github.com/kingrea/chatup/internal/logging"
)

// Store is the persistence the session state needs.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
	Purge(ctx context.Context, userID string) error
}

// State is the single owner of the active conversation id for one user.
type State struct {
	mu     sync.RWMutex
	active string

	userID string
	store  Store
	cache  *conversation.Cache
	logger *zap.Logger
	now    func() time.Time
}

// Option customizes a State.
type Option func(*State)

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *State) {
		s.logger = logging.OrNop(logger)
	}
}

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) Option {
	return func(s *State) {
		if clock != nil {
			s.now = clock
		}
	}
}

// New builds the session state for userID.
func New(store Store, cache *conversation.Cache, userID string, opts ...Option) *State {
	if cache == nil {
		cache = conversation.NewCache()
	}
	s := &State{
		userID: userID,
		store:  store,
		cache:  cache,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// UserID returns the signed-in user.
func (s *State) UserID() string {
	return s.userID
}

// Cache returns the user's conversation cache.
func (s *State) Cache() *conversation.Cache {
	return s.cache
}

// Active returns the active conversation id, if any.
func (s *State) Active() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active, s.active != ""
}

// SetActive makes id the active conversation and persists it. Setting the
// id that is already active does nothing.
func (s *State) SetActive(ctx context.Context, id string) error {
	if id == "" {
		return s.ClearActive(ctx)
	}
	s.mu.Lock()
	if s.active == id {
		s.mu.Unlock()
		return nil
	}
	s.active = id
	s.mu.Unlock()
	if s.store == nil {
		return nil
	}
	if err := s.store.Set(ctx, localstore.ActiveKey(s.userID), id); err != nil {
		return fmt.Errorf("session: persist active conversation: %w", err)
	}
	return nil
}

// ClearActive unsets the pointer, leaving the UI in its welcome state.
func (s *State) ClearActive(ctx context.Context) error {
	s.mu.Lock()
	s.active = ""
	s.mu.Unlock()
	if s.store == nil {
		return nil
	}
	if err := s.store.Delete(ctx, localstore.ActiveKey(s.userID)); err != nil {
		return fmt.Errorf("session: clear active conversation: %w", err)
	}
	return nil
}

// Clear is called on logout. It drops the pointer and every locally cached
// conversation of the user. Remote history is not touched.
func (s *State) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.active = ""
	s.mu.Unlock()
	s.cache.Reset()
	if s.store == nil {
		return nil
	}
	if err := s.store.Purge(ctx, s.userID); err != nil {
		return fmt.Errorf("session: purge local data: %w", err)
	}
	s.logger.Info("session cleared", zap.String("user", s.userID))
	return nil
}

// Init runs once at startup. A continuing session restores the stored
// active id; a fresh one starts from the welcome state.
func (s *State) Init(ctx context.Context, continuation bool) error {
	if s.store == nil {
		return nil
	}
	if !continuation {
		if err := s.ClearActive(ctx); err != nil {
			return err
		}
		s.logger.Debug("fresh session", zap.String("user", s.userID))
		return s.Touch(ctx)
	}
	id, ok, err := s.store.Get(ctx, localstore.ActiveKey(s.userID))
	if err != nil {
		return fmt.Errorf("session: restore active conversation: %w", err)
	}
	s.mu.Lock()
	if ok {
		s.active = id
	} else {
		s.active = ""
	}
	s.mu.Unlock()
	s.logger.Debug("session resumed", zap.String("user", s.userID), zap.String("active", id))
	return s.Touch(ctx)
}

// Touch records activity so a restart within the resume window continues
// this session.
func (s *State) Touch(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	stamp := s.now().UTC().Format(time.RFC3339Nano)
	if err := s.store.Set(ctx, localstore.KeySessionMarker, stamp); err != nil {
		return fmt.Errorf("session: write marker: %w", err)
	}
	return nil
}

// MarkerReader is the read side of Store.
type MarkerReader interface {
	Get(ctx context.Context, key string) (string, bool, error)
}

// DetectContinuation reports whether the last recorded activity falls within
// window of now. A missing or unreadable marker starts a fresh session.
func DetectContinuation(ctx context.Context, store MarkerReader, now time.Time, window time.Duration) (bool, error) {
	if store == nil || window <= 0 {
		return false, nil
	}
	raw, ok, err := store.Get(ctx, localstore.KeySessionMarker)
	if err != nil {
		return false, fmt.Errorf("session: read marker: %w", err)
	}
	if !ok {
		return false, nil
	}
	last, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return false, nil
	}
	elapsed := now.Sub(last)
	return elapsed >= 0 && elapsed <= window, nil
}
