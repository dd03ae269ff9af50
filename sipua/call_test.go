package sipua

import (
	"testing"

	"github.com/ghettovoice/gosip/sip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sipphone/engine"
)

func incomingInvite(t *testing.T) *call {
	t.Helper()
	from, err := toSIPAddress(engine.Address{Username: "bob", Domain: "example.org"})
	require.NoError(t, err)
	from.Params = from.Params.Add("tag", sip.String{Str: "remote"})
	to, err := toSIPAddress(engine.Address{Username: "alice", Domain: "example.org"})
	require.NoError(t, err)
	contact, err := parseURIString("sip:alice@192.0.2.10:5060")
	require.NoError(t, err)

	callID := sip.CallID("c-1@example.org")
	req := sip.NewRequest("", sip.INVITE, to.Uri, "SIP/2.0", []sip.Header{
		from.AsFromHeader(),
		to.AsToHeader(),
		&callID,
		&sip.CSeq{SeqNo: 1, MethodName: sip.INVITE},
	}, "", nil)

	local := to.Clone()
	local.Params = sip.NewParams().Add("tag", sip.String{Str: "local"})
	return &call{id: "c-1", invite: req, local: local, contact: &sip.Address{Uri: contact}}
}

func TestResponseAnswersInviteWithSDP(t *testing.T) {
	c := incomingInvite(t)

	res := c.response(statusOK, "OK", "v=0\r\n")
	assert.Equal(t, sip.StatusCode(200), res.StatusCode())
	assert.Equal(t, "v=0\r\n", res.Body())

	to, ok := res.To()
	require.True(t, ok)
	tag, ok := to.Params.Get("tag")
	require.True(t, ok)
	assert.Equal(t, "local", tag.String())

	ctype, ok := res.ContentType()
	require.True(t, ok)
	assert.Equal(t, "application/sdp", ctype.Value())
	assert.NotEmpty(t, res.GetHeaders("Contact"))
}

func TestResponseWithoutBodyHasNoContentType(t *testing.T) {
	c := incomingInvite(t)

	res := c.response(sip.StatusCode(180), "Ringing", "")
	assert.Equal(t, sip.StatusCode(180), res.StatusCode())
	_, ok := res.ContentType()
	assert.False(t, ok)
}
