package dtmf

import (
	"context"
	"errors"
)

// State is a Collector state.
type State int

const (
	Idle State = iota
	Reading
	Done
	TimedOut
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Reading:
		return "reading"
	case Done:
		return "done"
	case TimedOut:
		return "timed_out"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Collector runs one digit collection against a TonesChannel. A Collector is
// single use and is not safe for concurrent use.
type Collector struct {
	req   Request
	ch    TonesChannel
	buf   *SignalBuffer
	state State
	err   error
	reads int
}

// NewCollector prepares a collection for req reading from ch.
func NewCollector(req Request, ch TonesChannel) *Collector {
	return &Collector{req: req, ch: ch}
}

// State returns the current state.
func (c *Collector) State() State { return c.state }

// Reads returns the number of channel reads issued so far.
func (c *Collector) Reads() int { return c.reads }

// Run drives the channel until a terminal state is reached and returns the
// result. Calling Run again returns the same terminal classification without
// further reads.
func (c *Collector) Run(ctx context.Context) Result {
	if c.state != Idle {
		return c.result()
	}
	if err := c.req.Validate(); err != nil {
		return c.fail(err)
	}

	c.buf = NewSignalBuffer(c.req.Capacity)
	c.state = Reading

	for {
		want := c.req.Digits - c.buf.Len()
		c.reads++
		n, err := c.ch.ReadTones(ctx, c.buf.Free(), want, c.req.Timeout)
		c.buf.Commit(n)

		if c.buf.Len() >= c.req.Digits {
			c.state = Done
			return c.result()
		}
		switch {
		case errors.Is(err, ErrTimeout):
			c.state = TimedOut
			return c.result()
		case err != nil:
			return c.fail(&ChannelError{Err: err})
		}
	}
}

func (c *Collector) fail(err error) Result {
	c.state = Failed
	c.err = err
	return c.result()
}

func (c *Collector) result() Result {
	r := Result{Err: c.err}
	if c.buf != nil {
		r.Digits = c.buf.String()
	}
	switch c.state {
	case Done:
		r.Outcome = Success
	case TimedOut:
		r.Outcome = Timeout
	default:
		r.Outcome = Failure
	}
	return r
}

// Collect runs a new Collector for req against ch.
func Collect(ctx context.Context, req Request, ch TonesChannel) Result {
	return NewCollector(req, ch).Run(ctx)
}
