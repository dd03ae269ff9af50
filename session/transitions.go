package session

import (
	"context"

	"github.com/looplab/fsm"

	"sipphone/engine"
)

// callGraph lists, per destination state, the states it may be entered from.
var callGraph = map[engine.CallState][]engine.CallState{
	engine.CallOutgoingInit:       {engine.CallIdle},
	engine.CallIncomingReceived:   {engine.CallIdle},
	engine.CallIncomingEarlyMedia: {engine.CallIdle, engine.CallIncomingReceived},
	engine.CallOutgoingProgress:   {engine.CallOutgoingInit},
	engine.CallOutgoingRinging:    {engine.CallOutgoingProgress, engine.CallOutgoingEarlyMedia},
	engine.CallOutgoingEarlyMedia: {engine.CallOutgoingProgress, engine.CallOutgoingRinging},
	engine.CallConnected: {
		engine.CallIncomingReceived, engine.CallIncomingEarlyMedia,
		engine.CallOutgoingProgress, engine.CallOutgoingRinging, engine.CallOutgoingEarlyMedia,
	},
	engine.CallStreamsRunning: {
		engine.CallConnected, engine.CallPausing, engine.CallPaused,
		engine.CallPausedByRemote, engine.CallUpdatedByRemote,
	},
	engine.CallPausing:         {engine.CallStreamsRunning},
	engine.CallPaused:          {engine.CallPausing},
	engine.CallPausedByRemote:  {engine.CallConnected, engine.CallStreamsRunning, engine.CallPaused},
	engine.CallUpdatedByRemote: {engine.CallConnected, engine.CallStreamsRunning, engine.CallPausedByRemote},
	engine.CallReleased:        {engine.CallEnd, engine.CallError},
}

var callEvents fsm.Events

func init() {
	var live []string
	for _, s := range engine.AllCallStates() {
		if !s.IsTerminal() {
			live = append(live, s.String())
		}
	}
	for _, dst := range engine.AllCallStates() {
		var src []string
		switch dst {
		case engine.CallIdle:
			continue
		case engine.CallEnd, engine.CallError:
			src = live
		default:
			for _, s := range callGraph[dst] {
				src = append(src, s.String())
			}
		}
		callEvents = append(callEvents, fsm.EventDesc{Name: dst.String(), Src: src, Dst: dst.String()})
	}
}

// tracker follows one call through the state graph. The engine is
// authoritative, so an unexpected transition is still applied.
type tracker struct {
	machine *fsm.FSM
}

func newTracker() *tracker {
	return &tracker{machine: fsm.NewFSM(engine.CallIdle.String(), callEvents, fsm.Callbacks{})}
}

// advance moves the tracker to s and reports whether the graph allows it.
// Re-entering the current state is allowed.
func (t *tracker) advance(s engine.CallState) bool {
	dst := s.String()
	if t.machine.Current() == dst {
		return true
	}
	if t.machine.Can(dst) {
		if err := t.machine.Event(context.Background(), dst); err == nil {
			return true
		}
	}
	t.machine.SetState(dst)
	return false
}

func (t *tracker) current() string {
	return t.machine.Current()
}
