// Package dcore is the core engine of spec §2: a Context value per
// account, driven by receive_imf on the inbound side and by direct method
// calls on the outbound side, wiring together contact/chat/message
// storage, classify, group, autocrypt, securejoin and webxdc.
package dcore

import (
	"context"
	"sync"

	"github.com/coreim/dcore/dcerr"
)

// Ongoing is the single global cancellable long-op token of spec §5: a
// backup transfer, import/export or securejoin wait acquires it; a second
// acquisition while one is held fails outright rather than queuing,
// exactly as §5 specifies "exactly one per Context". Grounded on the
// teacher's shutdown.go signal/stop-channel idiom, narrowed from
// process-wide shutdown to a per-Context advisory lock with a
// cancellation channel long-runners poll at suspension points.
type Ongoing struct {
	mu     sync.Mutex
	held   bool
	label  string
	cancel chan struct{}
}

// ErrOngoingInProgress is returned by Acquire when a long-running
// operation is already in flight.
var ErrOngoingInProgress = dcerr.Configuration("dcore: another ongoing operation is already in progress")

// Acquire claims the token for label (e.g. "backup", "securejoin-wait",
// "import"), returning a cancellation channel the long-runner must poll at
// its suspension points, and a release func the caller must defer.
func (o *Ongoing) Acquire(label string) (cancelCh <-chan struct{}, release func(), err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.held {
		return nil, nil, ErrOngoingInProgress
	}
	o.held = true
	o.label = label
	o.cancel = make(chan struct{})
	ch := o.cancel
	return ch, func() { o.release(ch) }, nil
}

func (o *Ongoing) release(ch chan struct{}) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel == ch {
		o.held = false
		o.label = ""
		o.cancel = nil
	}
}

// Cancel signals the cancellation channel of whatever operation currently
// holds the token, if any. Long-runners are expected to poll cancelCh at
// well-defined suspension points (§5) rather than be interrupted
// mid-statement.
func (o *Ongoing) Cancel() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.held {
		return false
	}
	select {
	case <-o.cancel:
		// already cancelled
	default:
		close(o.cancel)
	}
	return true
}

// InProgress reports the label of the currently held operation, or "" if
// none.
func (o *Ongoing) InProgress() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.label
}

// Cancelled reports whether ctx or cancelCh has fired, a convenience for
// the suspension-point checks long-runners make throughout §5.
func Cancelled(ctx context.Context, cancelCh <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-cancelCh:
		return true
	default:
		return false
	}
}
