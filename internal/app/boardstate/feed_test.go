package boardstate

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/todo-1m/board/internal/contracts"
)

func entry(i int) contracts.ActivityLogEntry {
	return contracts.ActivityLogEntry{ID: fmt.Sprintf("log-%d", i), Action: contracts.ActionUpdated}
}

func TestFeed_PrependEvictsOldest(t *testing.T) {
	f := NewFeed()
	for i := 1; i <= 25; i++ {
		f.Prepend(entry(i))
	}

	got := f.Entries()
	require.Len(t, got, FeedLimit)
	for idx, e := range got {
		want := fmt.Sprintf("log-%d", 25-idx)
		assert.Equal(t, want, e.ID, "position %d", idx)
	}
}

func TestFeed_NoDeduplication(t *testing.T) {
	f := NewFeed()
	f.Prepend(entry(1))
	f.Prepend(entry(1))
	assert.Equal(t, 2, f.Len())
}

func TestFeed_ReplaceAllTruncates(t *testing.T) {
	f := NewFeed()
	f.Prepend(entry(99))

	entries := make([]contracts.ActivityLogEntry, 0, 30)
	for i := 0; i < 30; i++ {
		entries = append(entries, entry(i))
	}
	f.ReplaceAll(entries)

	got := f.Entries()
	require.Len(t, got, FeedLimit)
	assert.Equal(t, "log-0", got[0].ID)
	assert.Equal(t, "log-19", got[FeedLimit-1].ID)
}
