package conversation

import (
	"errors"
	"sort"
	"sync"
)

// ErrNotFound is returned when a conversation id is not in the cache.
var ErrNotFound = errors.New("conversation: not found")

// Cache is the per-user read cache of conversations, kept newest first.
// Every accessor returns copies so callers can never reorder or edit the
// stored message sequences.
type Cache struct {
	mu    sync.RWMutex
	items []Conversation
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{}
}

// Replace swaps the whole cache for convs.
func (c *Cache) Replace(convs []Conversation) {
	items := make([]Conversation, 0, len(convs))
	seen := make(map[string]struct{}, len(convs))
	for _, conv := range convs {
		if conv.ID == "" {
			continue
		}
		if _, dup := seen[conv.ID]; dup {
			continue
		}
		seen[conv.ID] = struct{}{}
		items = append(items, conv.Clone())
	}
	sortNewestFirst(items)
	c.mu.Lock()
	c.items = items
	c.mu.Unlock()
}

// Upsert inserts conv or replaces the entry with the same id.
func (c *Cache) Upsert(conv Conversation) {
	if conv.ID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx := c.indexOf(conv.ID); idx >= 0 {
		c.items[idx] = conv.Clone()
	} else {
		c.items = append(c.items, conv.Clone())
	}
	sortNewestFirst(c.items)
}

// Append adds msg to the conversation with the given id and returns the
// updated copy.
func (c *Cache) Append(id string, msg Message) (Conversation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.indexOf(id)
	if idx < 0 {
		return Conversation{}, ErrNotFound
	}
	c.items[idx].Append(msg)
	updated := c.items[idx].Clone()
	sortNewestFirst(c.items)
	return updated, nil
}

// Rekey moves the conversation stored under oldID to newID and clears its
// Local flag. Used once the server assigns its own id.
func (c *Cache) Rekey(oldID, newID string) (Conversation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.indexOf(oldID)
	if idx < 0 {
		return Conversation{}, ErrNotFound
	}
	if newID == "" {
		newID = oldID
	}
	if newID != oldID {
		if other := c.indexOf(newID); other >= 0 {
			c.items = append(c.items[:other], c.items[other+1:]...)
			idx = c.indexOf(oldID)
		}
	}
	c.items[idx].ID = newID
	c.items[idx].Local = false
	return c.items[idx].Clone(), nil
}

// Get returns a copy of the conversation with id.
func (c *Cache) Get(id string) (Conversation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	idx := c.indexOf(id)
	if idx < 0 {
		return Conversation{}, false
	}
	return c.items[idx].Clone(), true
}

// Has reports whether id is cached.
func (c *Cache) Has(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.indexOf(id) >= 0
}

// Remove drops id from the cache. It reports whether anything was removed.
func (c *Cache) Remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.indexOf(id)
	if idx < 0 {
		return false
	}
	c.items = append(c.items[:idx], c.items[idx+1:]...)
	return true
}

// List returns copies of all cached conversations, newest first.
func (c *Cache) List() []Conversation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Conversation, len(c.items))
	for i := range c.items {
		out[i] = c.items[i].Clone()
	}
	return out
}

// Len returns the number of cached conversations.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Reset empties the cache.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.items = nil
	c.mu.Unlock()
}

func (c *Cache) indexOf(id string) int {
	for i := range c.items {
		if c.items[i].ID == id {
			return i
		}
	}
	return -1
}

func sortNewestFirst(items []Conversation) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Timestamp.After(items[j].Timestamp)
	})
}
