package sharding

import (
	"fmt"
	"testing"

	"github.com/todo-1m/board/internal/contracts"
)

func TestGetShardID(t *testing.T) {
	tests := []struct {
		entityID string
		want     int
	}{
		{"user-1", 20},
		{"user-2", 46},
		{"todo-abc", 44},
	}

	for _, tt := range tests {
		t.Run(tt.entityID, func(t *testing.T) {
			if got := GetShardID(tt.entityID); got != tt.want {
				t.Errorf("GetShardID(%q) = %v, want %v", tt.entityID, got, tt.want)
			}
		})
	}
}

func TestEventSubject(t *testing.T) {
	task := contracts.Task{ID: "user-1"}
	tests := []struct {
		name string
		ev   contracts.Event
		want string
	}{
		{"added", contracts.TaskAdded(task), "board.event.20.taskAdded"},
		{"updated", contracts.TaskUpdated(task), "board.event.20.taskUpdated"},
		{"deleted", contracts.TaskDeleted("user-1"), "board.event.20.taskDeleted"},
		{"activity", contracts.ActivityLogged(contracts.ActivityLogEntry{ID: "todo-abc"}), "board.event.44.activityLogged"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EventSubject(tt.ev); got != tt.want {
				t.Errorf("EventSubject = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStableSharding(t *testing.T) {
	id := "test-stable-id"
	if GetShardID(id) != GetShardID(id) {
		t.Errorf("sharding is not deterministic for %q", id)
	}
}

func TestDistribution(t *testing.T) {
	distribution := make(map[int]int)
	for i := 0; i < 1000; i++ {
		distribution[GetShardID(fmt.Sprintf("key-%d", i))]++
	}
	if len(distribution) < ShardCount*3/4 {
		t.Errorf("sharding distribution is too poor: %d unique shards for 1000 keys", len(distribution))
	}
}
