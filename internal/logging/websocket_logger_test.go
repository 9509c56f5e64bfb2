package logging

import (
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestWebSocketLoggerBroadcastLogAppendsHistory(t *testing.T) {
	wsl := NewWebSocketLogger()
	wsl.BroadcastLog("info", "hello", map[string]interface{}{"k": "v"})

	msgs, _, _ := wsl.FetchSince(0, 10)
	assert.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Message)
}

func TestWebSocketLoggerFetchSinceCursor(t *testing.T) {
	wsl := NewWebSocketLogger()
	wsl.BroadcastLog("info", "first", nil)
	wsl.BroadcastLog("info", "second", nil)

	first, _, _ := wsl.FetchSince(0, 10)
	if len(first) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(first))
	}

	cursor := first[0].ID
	rest, _, _ := wsl.FetchSince(cursor, 10)
	assert.Len(t, rest, 1)
	assert.Equal(t, "second", rest[0].Message)
}

func TestWebSocketLoggerHistoryCapEvictsOldest(t *testing.T) {
	wsl := NewWebSocketLogger()
	wsl.historyCap = 2
	wsl.BroadcastLog("info", "a", nil)
	wsl.BroadcastLog("info", "b", nil)
	wsl.BroadcastLog("info", "c", nil)

	msgs, _, _ := wsl.FetchSince(0, 10)
	assert.Len(t, msgs, 2)
	assert.Equal(t, "b", msgs[0].Message)
	assert.Equal(t, "c", msgs[1].Message)
}

func TestWebSocketLoggerGetConnectionCountStartsZero(t *testing.T) {
	wsl := NewWebSocketLogger()
	assert.Equal(t, 0, wsl.GetConnectionCount())
}

func TestLogrusHookLevelsReturnsAll(t *testing.T) {
	hook := NewLogrusHook()
	assert.Equal(t, log.AllLevels, hook.Levels())
}
