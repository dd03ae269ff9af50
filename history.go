package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"sipphone/session"
)

const recentMissedCalls = 50

// MissedCall is one line of the missed call history.
type MissedCall struct {
	CallID      string    `json:"call_id"`
	Remote      string    `json:"remote"`
	DisplayName string    `json:"display_name,omitempty"`
	At          time.Time `json:"at"`
}

// MissedCallLog appends missed calls as JSON lines and keeps the most
// recent ones in memory.
type MissedCallLog struct {
	mu     sync.RWMutex
	w      io.WriteCloser
	log    *logrus.Entry
	recent []MissedCall
	now    func() time.Time
}

// NewMissedCallLog writes to a rotated file at path.
func NewMissedCallLog(path string, log *logrus.Entry) *MissedCallLog {
	return newMissedCallLog(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
	}, log)
}

func newMissedCallLog(w io.WriteCloser, log *logrus.Entry) *MissedCallLog {
	return &MissedCallLog{w: w, log: log, now: time.Now}
}

// RecordMissed implements session.History.
func (h *MissedCallLog) RecordMissed(c session.CallInfo) {
	entry := MissedCall{
		CallID:      c.ID,
		Remote:      c.Remote,
		DisplayName: c.DisplayName,
		At:          h.now(),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.recent = append(h.recent, entry)
	if len(h.recent) > recentMissedCalls {
		h.recent = h.recent[len(h.recent)-recentMissedCalls:]
	}
	if err := h.appendLocked(entry); err != nil {
		h.log.Warnf("failed to persist missed call %s: %v", c.ID, err)
	}
}

func (h *MissedCallLog) appendLocked(entry MissedCall) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode missed call: %w", err)
	}
	line = append(line, '\n')
	if _, err := h.w.Write(line); err != nil {
		return fmt.Errorf("write missed call: %w", err)
	}
	return nil
}

// Recent returns the newest missed calls first.
func (h *MissedCallLog) Recent() []MissedCall {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]MissedCall, 0, len(h.recent))
	for i := len(h.recent) - 1; i >= 0; i-- {
		out = append(out, h.recent[i])
	}
	return out
}

func (h *MissedCallLog) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.w.Close()
}
