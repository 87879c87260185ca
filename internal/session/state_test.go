package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kingrea/chatup/internal/conversation"
	"github.com/kingrea/chatup/internal/localstore"
)

type memStore struct {
	mu      sync.Mutex
	values  map[string]string
	purged  []string
	setErr  error
	setHits int
}

func newMemStore() *memStore {
	return &memStore{values: map[string]string{}}
}

func (m *memStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setHits++
	if m.setErr != nil {
		return m.setErr
	}
	m.values[key] = value
	return nil
}

func (m *memStore) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.values, key)
	}
	return nil
}

func (m *memStore) Purge(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purged = append(m.purged, userID)
	delete(m.values, localstore.ActiveKey(userID))
	return nil
}

func TestSetActiveIsIdempotent(t *testing.T) {
	store := newMemStore()
	state := New(store, nil, "ada")
	ctx := context.Background()

	if _, ok := state.Active(); ok {
		t.Fatalf("expected no active conversation initially")
	}
	if err := state.SetActive(ctx, "chat_1"); err != nil {
		t.Fatalf("set active: %v", err)
	}
	if err := state.SetActive(ctx, "chat_1"); err != nil {
		t.Fatalf("set active again: %v", err)
	}
	if store.setHits != 1 {
		t.Fatalf("expected a single write, got %d", store.setHits)
	}
	id, ok := state.Active()
	if !ok || id != "chat_1" {
		t.Fatalf("active = %q,%v", id, ok)
	}
	if store.values[localstore.ActiveKey("ada")] != "chat_1" {
		t.Fatalf("active id not persisted: %+v", store.values)
	}
}

func TestSetActivePersistFailureKeepsPointerInMemory(t *testing.T) {
	store := newMemStore()
	store.setErr = errors.New("database is locked")
	state := New(store, nil, "ada")
	err := state.SetActive(context.Background(), "chat_1")
	if err == nil || !strings.Contains(err.Error(), "database is locked") {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
	if id, _ := state.Active(); id != "chat_1" {
		t.Fatalf("expected pointer to be set in memory, got %q", id)
	}
}

func TestClearPurgesCacheAndStore(t *testing.T) {
	store := newMemStore()
	cache := conversation.NewCache()
	cache.Upsert(conversation.New("chat_1", time.Now()))
	state := New(store, cache, "ada")
	ctx := context.Background()
	if err := state.SetActive(ctx, "chat_1"); err != nil {
		t.Fatalf("set active: %v", err)
	}
	if err := state.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok := state.Active(); ok {
		t.Fatalf("expected pointer cleared")
	}
	if cache.Len() != 0 {
		t.Fatalf("expected empty cache, got %d", cache.Len())
	}
	if len(store.purged) != 1 || store.purged[0] != "ada" {
		t.Fatalf("expected purge for ada, got %v", store.purged)
	}
}

func TestInitContinuationRestoresActive(t *testing.T) {
	store := newMemStore()
	store.values[localstore.ActiveKey("ada")] = "chat_9"
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	state := New(store, nil, "ada", WithClock(func() time.Time { return now }))

	if err := state.Init(context.Background(), true); err != nil {
		t.Fatalf("init: %v", err)
	}
	if id, _ := state.Active(); id != "chat_9" {
		t.Fatalf("expected restored chat_9, got %q", id)
	}
	if store.values[localstore.KeySessionMarker] != now.Format(time.RFC3339Nano) {
		t.Fatalf("marker not refreshed: %q", store.values[localstore.KeySessionMarker])
	}
}

func TestInitFreshShowsWelcomeState(t *testing.T) {
	store := newMemStore()
	store.values[localstore.ActiveKey("ada")] = "chat_9"
	state := New(store, nil, "ada")

	if err := state.Init(context.Background(), false); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, ok := state.Active(); ok {
		t.Fatalf("fresh session must not restore the pointer")
	}
	if _, ok := store.values[localstore.ActiveKey("ada")]; ok {
		t.Fatalf("fresh session must drop the stored pointer")
	}
	if _, ok := store.values[localstore.KeySessionMarker]; !ok {
		t.Fatalf("fresh session must write a marker")
	}
}

func TestDetectContinuation(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	cases := []struct {
		name   string
		marker string
		want   bool
	}{
		{name: "no marker", want: false},
		{name: "recent", marker: now.Add(-5 * time.Minute).Format(time.RFC3339Nano), want: true},
		{name: "stale", marker: now.Add(-2 * time.Hour).Format(time.RFC3339Nano), want: false},
		{name: "future", marker: now.Add(time.Hour).Format(time.RFC3339Nano), want: false},
		{name: "garbage", marker: "yesterday", want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newMemStore()
			if tc.marker != "" {
				store.values[localstore.KeySessionMarker] = tc.marker
			}
			got, err := DetectContinuation(context.Background(), store, now, 30*time.Minute)
			if err != nil {
				t.Fatalf("detect: %v", err)
			}
			if got != tc.want {
				t.Fatalf("continuation = %v, want %v", got, tc.want)
			}
		})
	}
}
