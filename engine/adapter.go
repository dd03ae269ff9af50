package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Adapter wraps an Engine with lazy, idempotent start and stop.
// The zero value is not usable; use NewAdapter.
type Adapter struct {
	Engine

	log      *logrus.Entry
	mu       sync.Mutex
	started  bool
	stopped  bool
	startErr error
}

// NewAdapter wraps e. A nil log uses the standard logger.
func NewAdapter(e Engine, log *logrus.Entry) *Adapter {
	if log == nil {
		log = logrus.StandardLogger().WithField("name", "engine")
	}
	return &Adapter{Engine: e, log: log}
}

// Start starts the underlying engine on first use. Later calls return the
// result of the first one.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return a.startErr
	}
	a.started = true
	a.log.Info("starting call engine")
	if err := a.Engine.Start(ctx); err != nil {
		a.startErr = fmt.Errorf("start engine: %w", err)
		a.log.Errorf("call engine failed to start: %v", err)
	}
	return a.startErr
}

// Ensure is Start followed by returning the engine itself.
func (a *Adapter) Ensure(ctx context.Context) (Engine, error) {
	if err := a.Start(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

// Started reports whether the engine was started successfully.
func (a *Adapter) Started() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.started && a.startErr == nil && !a.stopped
}

// Stop stops the engine if it was started. It is safe to call more than once.
func (a *Adapter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started || a.startErr != nil || a.stopped {
		return nil
	}
	a.stopped = true
	a.log.Info("stopping call engine")
	return a.Engine.Stop()
}
