package session

import (
	"time"

	"sipphone/engine"
)

// Task keys of the per-call scheduled work.
const (
	taskAutoAnswer = "auto_answer"
	taskRefresh    = "refresh"
)

// CallInfo is a read-only snapshot of a roster entry.
type CallInfo struct {
	ID              string           `json:"id"`
	Direction       engine.Direction `json:"direction"`
	Remote          string           `json:"remote"`
	DisplayName     string           `json:"display_name,omitempty"`
	State           engine.CallState `json:"state"`
	Paused          bool             `json:"paused"`
	RemotelyPaused  bool             `json:"remotely_paused"`
	CanBePaused     bool             `json:"can_be_paused"`
	Recording       bool             `json:"recording"`
	MediaInProgress bool             `json:"media_in_progress"`
	MicrophoneMuted bool             `json:"microphone_muted"`
	VideoEnabled    bool             `json:"video_enabled"`
	Current         bool             `json:"current"`
	CreatedAt       time.Time        `json:"created_at"`
}

// Call is the orchestrator's bookkeeping for one engine call. It is only
// touched from the context loop.
type Call struct {
	handle    engine.Call
	id        string
	direction engine.Direction
	remote    engine.Address
	createdAt time.Time

	state     engine.CallState
	prevState engine.CallState

	recording       bool
	mediaInProgress bool
	micMuted        bool
	video           bool

	// routedAudio is set once audio was routed for this call.
	routedAudio bool
	answered    bool

	graph *tracker
	tasks map[string]Task
}

func newCall(h engine.Call) *Call {
	c := &Call{
		handle:    h,
		id:        h.ID(),
		direction: h.Direction(),
		remote:    h.RemoteAddress(),
		createdAt: h.CreatedAt(),
		state:     engine.CallIdle,
		prevState: engine.CallIdle,
		graph:     newTracker(),
		tasks:     make(map[string]Task),
	}
	if c.createdAt.IsZero() {
		c.createdAt = time.Now()
	}
	c.refresh()
	return c
}

func (c *Call) ID() string                      { return c.id }
func (c *Call) Handle() engine.Call             { return c.handle }
func (c *Call) Direction() engine.Direction     { return c.direction }
func (c *Call) State() engine.CallState         { return c.state }
func (c *Call) PreviousState() engine.CallState { return c.prevState }

func (c *Call) IsPaused() bool {
	return c.state == engine.CallPaused || c.state == engine.CallPausing
}

func (c *Call) IsRemotelyPaused() bool {
	return c.state == engine.CallPausedByRemote
}

func (c *Call) CanBePaused() bool {
	return c.state == engine.CallStreamsRunning && !c.mediaInProgress
}

// apply records a transition and reports whether the state graph allows it.
func (c *Call) apply(s engine.CallState) bool {
	c.prevState = c.state
	c.state = s
	ok := c.graph.advance(s)
	c.refresh()
	return ok
}

// refresh re-reads the derived flags from the engine handle.
func (c *Call) refresh() {
	c.recording = c.handle.IsRecording()
	c.mediaInProgress = c.handle.MediaInProgress()
	c.micMuted = c.handle.MicrophoneMuted()
	c.video = c.handle.VideoEnabled()
}

func (c *Call) info(current bool) CallInfo {
	return CallInfo{
		ID:              c.id,
		Direction:       c.direction,
		Remote:          c.remote.String(),
		DisplayName:     c.remote.DisplayName,
		State:           c.state,
		Paused:          c.IsPaused(),
		RemotelyPaused:  c.IsRemotelyPaused(),
		CanBePaused:     c.CanBePaused(),
		Recording:       c.recording,
		MediaInProgress: c.mediaInProgress,
		MicrophoneMuted: c.micMuted,
		VideoEnabled:    c.video,
		Current:         current,
		CreatedAt:       c.createdAt,
	}
}

func (c *Call) setTask(key string, t Task) {
	c.cancelTask(key)
	c.tasks[key] = t
}

func (c *Call) hasTask(key string) bool {
	_, ok := c.tasks[key]
	return ok
}

func (c *Call) cancelTask(key string) {
	if t, ok := c.tasks[key]; ok {
		t.Stop()
		delete(c.tasks, key)
	}
}

// forgetTask drops a task that already ran.
func (c *Call) forgetTask(key string) {
	delete(c.tasks, key)
}

// release cancels every pending task of the call.
func (c *Call) release() {
	for key := range c.tasks {
		c.cancelTask(key)
	}
}
