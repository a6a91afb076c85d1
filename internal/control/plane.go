// Package control provides cooperative cancellation for execution runs.
// Cancellation is observed between steps; a step already talking to the
// generation service is allowed to finish.
package control

import (
	"sync"
	"sync/atomic"

	"github.com/hugo-lorenzo-mato/promptflow/internal/core"
)

// ControlPlane carries the cancellation signal of one run.
type ControlPlane struct {
	cancelled   atomic.Bool
	once        sync.Once
	cancelCh    chan struct{}
	cancelledBy atomic.Value // string
}

// New creates a new ControlPlane.
func New() *ControlPlane {
	return &ControlPlane{cancelCh: make(chan struct{})}
}

// Cancel requests cancellation. Only the first call has an effect.
func (cp *ControlPlane) Cancel(reason string) {
	cp.once.Do(func() {
		cp.cancelledBy.Store(reason)
		cp.cancelled.Store(true)
		close(cp.cancelCh)
	})
}

// IsCancelled returns true once Cancel has been called.
func (cp *ControlPlane) IsCancelled() bool {
	return cp.cancelled.Load()
}

// CancelledCh is closed when the run is cancelled.
func (cp *ControlPlane) CancelledCh() <-chan struct{} {
	return cp.cancelCh
}

// CheckCancelled returns an error if cancelled.
func (cp *ControlPlane) CheckCancelled() error {
	if cp.cancelled.Load() {
		return core.ErrState(core.CodeCancelled, "run cancelled: "+cp.Reason())
	}
	return nil
}

// Reason returns the reason passed to Cancel, if any.
func (cp *ControlPlane) Reason() string {
	if v, ok := cp.cancelledBy.Load().(string); ok {
		return v
	}
	return ""
}
