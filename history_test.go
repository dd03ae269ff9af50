package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sipphone/session"
)

type bufferCloser struct {
	bytes.Buffer
	closed bool
}

func (b *bufferCloser) Close() error {
	b.closed = true
	return nil
}

func TestMissedCallLogAppendsJSONLines(t *testing.T) {
	buf := &bufferCloser{}
	h := newMissedCallLog(buf, quietLog())
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return at }

	h.RecordMissed(session.CallInfo{ID: "a", Remote: "sip:bob@example.org", DisplayName: "Bob"})
	h.RecordMissed(session.CallInfo{ID: "b", Remote: "sip:carol@example.org"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	var first MissedCall
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, MissedCall{CallID: "a", Remote: "sip:bob@example.org", DisplayName: "Bob", At: at}, first)

	recent := h.Recent()
	require.Len(t, recent, 2)
	assert.Equal(t, "b", recent[0].CallID)

	require.NoError(t, h.Close())
	assert.True(t, buf.closed)
}

func TestMissedCallLogKeepsRecentWindow(t *testing.T) {
	h := newMissedCallLog(&bufferCloser{}, quietLog())
	for i := 0; i < recentMissedCalls+5; i++ {
		h.RecordMissed(session.CallInfo{ID: fmt.Sprintf("c%d", i)})
	}

	recent := h.Recent()
	require.Len(t, recent, recentMissedCalls)
	assert.Equal(t, fmt.Sprintf("c%d", recentMissedCalls+4), recent[0].CallID)
	assert.Equal(t, "c5", recent[len(recent)-1].CallID)
}
