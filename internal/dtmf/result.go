package dtmf

import "fmt"

// Outcome classifies how a collection ended.
type Outcome int

const (
	// Failure means the request was invalid or the channel failed.
	Failure Outcome = iota
	// Success means the requested number of digits was collected.
	Success
	// Timeout means the caller stopped pressing keys; Digits holds the
	// partial input.
	Timeout
)

// String returns the value stored in the read_result channel variable.
func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Timeout:
		return "timeout"
	default:
		return "failure"
	}
}

// Result is the classified outcome of a collection.
type Result struct {
	Outcome Outcome
	Digits  string
	// Err is set for Failure: ErrBufferTooSmall or a *ChannelError.
	Err error
}

// Reason returns a short description of the failure, or "" on success or
// timeout.
func (r Result) Reason() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// ChannelError wraps a hard error reported by the TonesChannel.
type ChannelError struct {
	Err error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("reading tones: %v", e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }
