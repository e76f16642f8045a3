package recency

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/iabtm/rtc-core/lib/logger/sl"
)

const DefaultCapacity = 20

type ConversationType string

const (
	ConversationDirect ConversationType = "direct"
	ConversationGroup  ConversationType = "group"
)

// Entry is one recently opened conversation.
type Entry struct {
	ConversationID string           `json:"conversation_id"`
	Type           ConversationType `json:"type"`
	Name           string           `json:"name"`
	LastViewed     time.Time        `json:"last_viewed"`
	UnreadCount    int              `json:"unread_count"`
	Preview        string           `json:"preview"`
	AvatarURL      string           `json:"avatar_url,omitempty"`
}

// Cache is a bounded LRU of conversations keyed by conversation id.
// Reads count as use: Get promotes. Every mutation is persisted to the
// store before returning so a crash never loses recency state.
type Cache struct {
	log      *slog.Logger
	userID   string
	capacity int
	store    Store

	order *list.List // front = most recently used
	index map[string]*list.Element
}

// New builds a cache for userID and rehydrates it from store. Persisted
// entries are re-inserted oldest-first so the restored recency order
// matches what was saved.
func New(userID string, capacity int, store Store, log *slog.Logger) (*Cache, error) {
	const op = "recency.New"

	if userID == "" {
		return nil, fmt.Errorf("%s: user id is required", op)
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if store == nil {
		store = NewMemoryStore()
	}
	if log == nil {
		log = slog.Default()
	}

	c := &Cache{
		log:      log,
		userID:   userID,
		capacity: capacity,
		store:    store,
		order:    list.New(),
		index:    make(map[string]*list.Element),
	}

	entries, err := store.Load(context.Background(), userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	for _, entry := range entries {
		c.insert(entry)
	}

	return c, nil
}

// Get returns the entry for id, promoting it to most recently used.
func (c *Cache) Get(id string) (Entry, bool) {
	elem, ok := c.index[id]
	if !ok {
		return Entry{}, false
	}
	c.order.MoveToFront(elem)
	c.persist()
	return elem.Value.(Entry), true
}

// Put inserts or replaces entry, evicting the least recently used entry
// when the cache is at capacity.
func (c *Cache) Put(entry Entry) {
	c.insert(entry)
	c.persist()
}

// All returns every entry sorted by LastViewed descending. Ordering is
// recomputed from the data, not read off the list structure.
func (c *Cache) All() []Entry {
	out := make([]Entry, 0, c.order.Len())
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		out = append(out, elem.Value.(Entry))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastViewed.After(out[j].LastViewed)
	})
	return out
}

func (c *Cache) Len() int { return c.order.Len() }

func (c *Cache) Contains(id string) bool {
	_, ok := c.index[id]
	return ok
}

func (c *Cache) insert(entry Entry) {
	if elem, ok := c.index[entry.ConversationID]; ok {
		elem.Value = entry
		c.order.MoveToFront(elem)
		return
	}

	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			evicted := c.order.Remove(oldest).(Entry)
			delete(c.index, evicted.ConversationID)
		}
	}

	c.index[entry.ConversationID] = c.order.PushFront(entry)
}

func (c *Cache) persist() {
	// Saved oldest-first: rehydration replays inserts in that order and
	// lands on the same recency ranking.
	entries := make([]Entry, 0, c.order.Len())
	for elem := c.order.Back(); elem != nil; elem = elem.Prev() {
		entries = append(entries, elem.Value.(Entry))
	}
	if err := c.store.Save(context.Background(), c.userID, entries); err != nil {
		c.log.Error("failed to persist recency cache",
			slog.String("user_id", c.userID),
			sl.Err(err),
		)
	}
}
