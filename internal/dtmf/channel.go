package dtmf

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned by a TonesChannel when no signal arrived within the
// inter-digit timeout. It is an outcome, not a failure: the signals read
// before the timer fired are still reported through n.
var ErrTimeout = errors.New("dtmf: inter-digit timeout")

// TonesChannel is the call leg digits are read from.
//
// ReadTones blocks until want signals have been written into buf, the
// inter-digit timeout elapses with no new signal, or the call is torn down.
// The timeout restarts every time a signal arrives, whether or not it is a
// digit. It must never write more than len(buf) signals. It returns the
// number of raw signals written and one of: nil, ErrTimeout, or a hard error
// (hang-up, media failure) that ends the collection.
type TonesChannel interface {
	ReadTones(ctx context.Context, buf []byte, want int, timeout time.Duration) (int, error)
}
