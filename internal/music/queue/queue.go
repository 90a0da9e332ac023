package queue

import (
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/keshon/lavaplay/internal/lavalink/protocol"
	"github.com/keshon/lavaplay/internal/music/player"
)

// Item is one entry of the queue or the history.
type Item struct {
	Reference player.TrackReference
}

func TrackItem(t protocol.Track) Item { return Item{Reference: player.FromTrack(t)} }

func IdentifierItem(identifier string) Item { return Item{Reference: player.FromIdentifier(identifier)} }

// Queue is an ordered list of items; insertion order is play order.
type Queue struct {
	mu    sync.Mutex
	items []Item
	rand  func(n int) int
}

func NewQueue() *Queue {
	return &Queue{rand: rand.IntN}
}

func (q *Queue) intn(n int) int {
	if q.rand == nil {
		return rand.IntN(n)
	}
	return q.rand(n)
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) IsEmpty() bool { return q.Len() == 0 }

// Items returns a copy of the queue.
func (q *Queue) Items() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.items)
}

// Add appends item and returns its 1-based position.
func (q *Queue) Add(item Item) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	return len(q.items)
}

// AddRange appends items and returns the new length.
func (q *Queue) AddRange(items ...Item) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, items...)
	return len(q.items)
}

// Insert puts item at the 0-based index, clamped to the queue bounds.
func (q *Queue) Insert(index int, item Item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	index = min(max(index, 0), len(q.items))
	q.items = slices.Insert(q.items, index, item)
}

// RemoveAt removes the item at the 0-based index.
func (q *Queue) RemoveAt(index int) (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if index < 0 || index >= len(q.items) {
		return Item{}, false
	}
	item := q.items[index]
	q.items = slices.Delete(q.items, index, index+1)
	return item, true
}

// Remove removes the first item referring to the same track as item.
func (q *Queue) Remove(item Item) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.indexLocked(item)
	if i < 0 {
		return false
	}
	q.items = slices.Delete(q.items, i, i+1)
	return true
}

// RemoveAll removes every item matching fn and returns how many were removed.
func (q *Queue) RemoveAll(fn func(Item) bool) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	before := len(q.items)
	q.items = slices.DeleteFunc(q.items, fn)
	return before - len(q.items)
}

// Clear empties the queue and returns the number of removed items.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n
}

// Index returns the 0-based index of item, or -1.
func (q *Queue) Index(item Item) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.indexLocked(item)
}

func (q *Queue) indexLocked(item Item) int {
	return slices.IndexFunc(q.items, func(it Item) bool { return it.Reference.Same(item.Reference) })
}

// Shuffle permutes the queue in place.
func (q *Queue) Shuffle() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := len(q.items) - 1; i > 0; i-- {
		j := q.intn(i + 1)
		q.items[i], q.items[j] = q.items[j], q.items[i]
	}
}

// Distinct drops later duplicates and returns how many were removed.
func (q *Queue) Distinct() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	before := len(q.items)
	var kept []Item
	for _, it := range q.items {
		if !slices.ContainsFunc(kept, func(k Item) bool { return k.Reference.Same(it.Reference) }) {
			kept = append(kept, it)
		}
	}
	q.items = kept
	return before - len(q.items)
}

// Peek returns the head without removing it.
func (q *Queue) Peek() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Item{}, false
	}
	return q.items[0], true
}

// Dequeue removes the head, or a uniformly random item when shuffle is set.
func (q *Queue) Dequeue(shuffle bool) (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Item{}, false
	}
	i := 0
	if shuffle {
		i = q.intn(len(q.items))
	}
	item := q.items[i]
	q.items = slices.Delete(q.items, i, i+1)
	return item, true
}

// History keeps the most recently played items, oldest evicted first.
type History struct {
	mu       sync.Mutex
	capacity int
	items    []Item
}

func NewHistory(capacity int) *History {
	return &History{capacity: max(capacity, 0)}
}

func (h *History) Capacity() int { return h.capacity }

func (h *History) Add(item Item) {
	if h.capacity == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items = append(h.items, item)
	if over := len(h.items) - h.capacity; over > 0 {
		h.items = slices.Delete(h.items, 0, over)
	}
}

func (h *History) Items() []Item {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.items)
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.items)
}

func (h *History) Clear() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := len(h.items)
	h.items = nil
	return n
}
