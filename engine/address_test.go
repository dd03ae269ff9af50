package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddressString(t *testing.T) {
	assert.Equal(t, "sip:alice@example.org", Address{Username: "alice", Domain: "example.org"}.String())
	assert.Equal(t, "sip:alice@example.org:5080;transport=tcp",
		Address{DisplayName: "Alice", Username: "alice", Domain: "example.org", Port: 5080, Transport: "TCP"}.String())
	assert.Equal(t, "sip:example.org", Address{Domain: "example.org"}.String())
}

func TestAddressWeakEqual(t *testing.T) {
	base := Address{Username: "alice", Domain: "example.org"}

	assert.True(t, base.WeakEqual(Address{Username: "alice", Domain: "EXAMPLE.org", Port: 5060, DisplayName: "A"}))
	assert.True(t, base.WeakEqual(Address{Username: "alice", Domain: "example.org", Transport: "udp"}))
	assert.False(t, base.WeakEqual(Address{Username: "Alice", Domain: "example.org"}))
	assert.False(t, base.WeakEqual(Address{Username: "alice", Domain: "example.org", Port: 5080}))
	assert.False(t, base.WeakEqual(Address{Username: "alice", Domain: "example.net"}))
}

func TestReasonFromStatus(t *testing.T) {
	cases := map[int]Reason{
		0:   ReasonIOError,
		404: ReasonNotFound,
		408: ReasonServerTimeout,
		480: ReasonTemporarilyUnavailable,
		486: ReasonBusy,
		487: ReasonNotAnswered,
		488: ReasonNotAcceptable,
		503: ReasonIOError,
		603: ReasonDeclined,
		500: ReasonUnknown,
	}
	for code, want := range cases {
		assert.Equal(t, want, ReasonFromStatus(code), "status %d", code)
	}
}

func TestCallLogIsMissed(t *testing.T) {
	assert.True(t, CallLog{Direction: Incoming, Status: LogMissed}.IsMissed())
	assert.True(t, CallLog{Direction: Incoming, Status: LogEarlyAborted}.IsMissed())
	assert.False(t, CallLog{Direction: Incoming, Status: LogSuccess}.IsMissed())
	assert.False(t, CallLog{Direction: Outgoing, Status: LogMissed}.IsMissed())
}
