package sharding

import (
	"fmt"
	"hash/crc32"

	"github.com/todo-1m/board/internal/contracts"
)

// ShardCount is the fixed number of event partitions.
const ShardCount = 64

// GetShardID calculates the deterministic shard ID for a given entity ID.
func GetShardID(entityID string) int {
	checksum := crc32.ChecksumIEEE([]byte(entityID))
	return int(checksum % ShardCount)
}

// EventSubject returns the subject a board event is published on.
// Format: board.event.{shard_id}.{event}. Task events shard by task id so
// every change to one task lands on the same subject; activity entries shard
// by entry id.
func EventSubject(ev contracts.Event) string {
	return fmt.Sprintf("board.event.%d.%s", GetShardID(partitionKey(ev)), ev.Event)
}

func partitionKey(ev contracts.Event) string {
	switch {
	case ev.Task != nil:
		return ev.Task.ID
	case ev.TaskID != "":
		return ev.TaskID
	case ev.Activity != nil:
		return ev.Activity.ID
	default:
		return ev.Event
	}
}
