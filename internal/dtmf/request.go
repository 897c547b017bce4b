package dtmf

import (
	"errors"
	"time"
)

const (
	// MinDigits is the smallest digit count a request may ask for.
	MinDigits = 1

	// MinTimeout is the shortest inter-digit timeout a request may use.
	MinTimeout = time.Second

	// DefaultTimeout is the timeout callers use when none was supplied.
	DefaultTimeout = 10 * time.Second

	// DefaultCapacity is the size of the accumulation buffer.
	DefaultCapacity = 128
)

// ErrBufferTooSmall is returned when the accumulation buffer cannot hold the
// requested number of digits. It is detected before any channel I/O.
var ErrBufferTooSmall = errors.New("buffer too small")

// Request describes one digit collection. Build it with NewRequest so the
// digit count and timeout are clamped to their minimums.
type Request struct {
	// Digits is the number of decimal digits to collect.
	Digits int

	// Timeout is the inter-digit timeout. It is measured from each read
	// and restarts whenever the channel receives a signal.
	Timeout time.Duration

	// Capacity bounds the number of signals held in the accumulation buffer.
	Capacity int
}

// NewRequest returns a request for digits decimal digits with the given
// inter-digit timeout and buffer capacity. A digit count of 1 or less becomes
// MinDigits and a timeout below MinTimeout, zero included, becomes MinTimeout.
// A capacity of 0 selects DefaultCapacity.
// The capacity is not checked here; see Validate.
func NewRequest(digits int, timeout time.Duration, capacity int) Request {
	if digits <= MinDigits {
		digits = MinDigits
	}
	if timeout < MinTimeout {
		timeout = MinTimeout
	}
	if capacity == 0 {
		capacity = DefaultCapacity
	}
	return Request{Digits: digits, Timeout: timeout, Capacity: capacity}
}

// Validate reports ErrBufferTooSmall when the capacity cannot hold Digits.
func (r Request) Validate() error {
	if r.Capacity < r.Digits {
		return ErrBufferTooSmall
	}
	return nil
}
