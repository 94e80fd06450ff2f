package env

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLookupsFallBack(t *testing.T) {
	t.Setenv("BOARD_TEST_STRING", "  ")
	t.Setenv("BOARD_TEST_INT", "x")
	t.Setenv("BOARD_TEST_DURATION", "-5s")
	t.Setenv("BOARD_TEST_BOOL", "maybe")

	assert.Equal(t, "fallback", String("BOARD_TEST_STRING", "fallback"))
	assert.Equal(t, 7, Int("BOARD_TEST_INT", 7))
	assert.Equal(t, time.Second, Duration("BOARD_TEST_DURATION", time.Second))
	assert.True(t, Bool("BOARD_TEST_BOOL", true))
}

func TestLookupsParse(t *testing.T) {
	t.Setenv("BOARD_TEST_STRING", "ws://example")
	t.Setenv("BOARD_TEST_INT", "42")
	t.Setenv("BOARD_TEST_DURATION", "250ms")
	t.Setenv("BOARD_TEST_BOOL", "false")

	assert.Equal(t, "ws://example", String("BOARD_TEST_STRING", ""))
	assert.Equal(t, 42, Int("BOARD_TEST_INT", 0))
	assert.Equal(t, 250*time.Millisecond, Duration("BOARD_TEST_DURATION", time.Second))
	assert.False(t, Bool("BOARD_TEST_BOOL", true))
}
