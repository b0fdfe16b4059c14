package app

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/roomlink/internal/app/worker"
	"github.com/dkeye/roomlink/internal/core"
	fcore "github.com/frostbyte73/core"
)

const DefaultRequestTimeout = 3 * time.Second

// Env is what the signaling components of one client share.
type Env struct {
	Queue    *worker.Queue
	Gateway  core.Gateway
	Registry *TransactionRegistry
	Calls    *CallSet
	// Closing is broken when the owner starts disconnecting.
	Closing *fcore.Fuse

	Plugin         string
	RequestTimeout time.Duration
}

func (e *Env) closing() bool {
	return e.Closing != nil && e.Closing.IsBroken()
}

// cancelled reports whether err comes from a caller-initiated cancellation
// rather than a failed request.
func (e *Env) cancelled(err error) bool {
	return e.closing() || errors.Is(err, context.Canceled)
}

// teardownContext bounds best-effort requests that must go out even after
// the call set was cancelled.
func (e *Env) teardownContext() (context.Context, context.CancelFunc) {
	timeout := e.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return context.WithTimeout(context.Background(), timeout)
}
