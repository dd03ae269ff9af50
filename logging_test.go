package main

import (
	"bytes"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func testOutputs(file io.Writer) logOutputs {
	return logOutputs{console: io.Discard, file: file, consoleMin: logrus.PanicLevel, fileMin: logrus.TraceLevel}
}

func TestSIPDumpsAreDropped(t *testing.T) {
	var buf bytes.Buffer
	log := testOutputs(&buf).logger("sip", logrus.DebugLevel, isSIPDump)

	log.Debugf("received SIP message:\n%s", "OPTIONS sip:alice@example.org SIP/2.0")
	log.Debugf("sending SIP response:\n%s", "SIP/2.0 200 OK")
	log.Infof("registered as %s", "alice@example.org")

	assert.NotContains(t, buf.String(), "SIP/2.0")
	assert.Contains(t, buf.String(), "registered as alice@example.org")
	assert.Contains(t, buf.String(), "name=sip")
}

func TestSIPDumpsKeptWithoutFilter(t *testing.T) {
	var buf bytes.Buffer
	log := testOutputs(&buf).logger("sip", logrus.DebugLevel, nil)

	log.Debugf("received SIP message:\n%s", "OPTIONS sip:alice@example.org SIP/2.0")

	assert.Contains(t, buf.String(), "OPTIONS sip:alice@example.org")
}

func TestLoggerHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	log := testOutputs(&buf).logger("core", logrus.WarnLevel, nil)

	log.Info("quiet")
	log.Warn("loud")

	assert.NotContains(t, buf.String(), "quiet")
	assert.Contains(t, buf.String(), "loud")
}

func TestIsSIPDump(t *testing.T) {
	cases := []struct {
		msg  string
		want bool
	}{
		{"received SIP message:\nINVITE sip:bob@example.org SIP/2.0", true},
		{"read 512 bytes 192.0.2.1:5060 <- 192.0.2.2:5060:\nSIP/2.0 180 Ringing", true},
		{"received SIP message: truncated", false},
		{"call c-1 state changed to Connected", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, isSIPDump(&logrus.Entry{Message: tc.msg}), tc.msg)
	}
}

func TestLevelOf(t *testing.T) {
	assert.Equal(t, logrus.TraceLevel, levelOf(-1))
	assert.Equal(t, logrus.InfoLevel, levelOf(2))
	assert.Equal(t, logrus.FatalLevel, levelOf(5))
	assert.Equal(t, logrus.PanicLevel, levelOf(6))
}
