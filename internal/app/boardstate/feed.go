package boardstate

import (
	"sync"

	"github.com/todo-1m/board/internal/contracts"
)

// FeedLimit is the number of activity entries kept by a Feed.
const FeedLimit = 20

// Feed is the most-recent-first activity log. It keeps arrival order and does
// not deduplicate.
type Feed struct {
	mu      sync.RWMutex
	entries []contracts.ActivityLogEntry
}

func NewFeed() *Feed {
	return &Feed{entries: make([]contracts.ActivityLogEntry, 0, FeedLimit)}
}

// Prepend inserts entry at the front and evicts the oldest entries beyond FeedLimit.
func (f *Feed) Prepend(entry contracts.ActivityLogEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()

	next := make([]contracts.ActivityLogEntry, 0, FeedLimit)
	next = append(next, entry)
	for _, e := range f.entries {
		if len(next) == FeedLimit {
			break
		}
		next = append(next, e)
	}
	f.entries = next
}

// ReplaceAll installs entries as fetched from the server, newest first.
func (f *Feed) ReplaceAll(entries []contracts.ActivityLogEntry) {
	if len(entries) > FeedLimit {
		entries = entries[:FeedLimit]
	}
	next := make([]contracts.ActivityLogEntry, len(entries))
	copy(next, entries)

	f.mu.Lock()
	f.entries = next
	f.mu.Unlock()
}

func (f *Feed) Entries() []contracts.ActivityLogEntry {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]contracts.ActivityLogEntry, len(f.entries))
	copy(out, f.entries)
	return out
}

func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.entries)
}
