package media

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/netdevpbx/netdevpbx/internal/dtmf"
)

// maxQueuedTones bounds the signals held between reads. A caller cannot
// press keys faster than the collector drains them, so the limit is only
// reached when nothing is collecting.
const maxQueuedTones = 128

// ErrClosed is returned by ReadTones once the call has been torn down.
var ErrClosed = errors.New("media: channel closed")

// ToneBuffer queues the keypad signals received on one call and hands them
// to the digit collector. Signals arrive from any source (RFC 2833, SIP
// INFO, in-band detection) through Push.
//
// ReadTones implements dtmf.TonesChannel: it returns once the requested
// number of signals has been read, when the inter-digit timeout expires with
// no new signal, or when the buffer is closed. The timeout restarts on every
// signal, digit or not.
//
// All methods are safe for concurrent use.
type ToneBuffer struct {
	mu     sync.Mutex
	queue  []byte
	notify chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

// NewToneBuffer returns an empty, open tone buffer.
func NewToneBuffer() *ToneBuffer {
	return &ToneBuffer{
		queue:  make([]byte, 0, 16),
		notify: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

var _ dtmf.TonesChannel = (*ToneBuffer)(nil)

// Push queues a received signal. It returns false if the symbol is not a
// DTMF key, the buffer is closed, or the queue is full.
func (b *ToneBuffer) Push(signal byte) bool {
	if !ValidSignal(signal) {
		return false
	}
	select {
	case <-b.closed:
		return false
	default:
	}

	b.mu.Lock()
	if len(b.queue) >= maxQueuedTones {
		b.mu.Unlock()
		return false
	}
	b.queue = append(b.queue, signal)
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
	return true
}

// ReadTones reads up to want signals into buf, never more than len(buf).
func (b *ToneBuffer) ReadTones(ctx context.Context, buf []byte, want int, timeout time.Duration) (int, error) {
	if want > len(buf) {
		want = len(buf)
	}
	if want <= 0 {
		return 0, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	n := 0
	for {
		n += b.drain(buf[n:want])
		if n >= want {
			return n, nil
		}

		select {
		case <-ctx.Done():
			return n, ctx.Err()
		case <-b.closed:
			return n, ErrClosed
		case <-timer.C:
			n += b.drain(buf[n:want])
			if n >= want {
				return n, nil
			}
			return n, dtmf.ErrTimeout
		case <-b.notify:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(timeout)
		}
	}
}

// drain moves queued signals into dst and returns how many were moved.
func (b *ToneBuffer) drain(dst []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := copy(dst, b.queue)
	b.queue = b.queue[:copy(b.queue, b.queue[n:])]
	return n
}

// Flush discards queued signals and returns how many were dropped.
func (b *ToneBuffer) Flush() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.queue)
	b.queue = b.queue[:0]
	select {
	case <-b.notify:
	default:
	}
	return n
}

// Buffered returns the number of queued signals.
func (b *ToneBuffer) Buffered() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Close marks the call as torn down. Pending and future reads fail with
// ErrClosed. Close may be called more than once.
func (b *ToneBuffer) Close() {
	b.closeOnce.Do(func() { close(b.closed) })
}

// Closed reports whether Close has been called.
func (b *ToneBuffer) Closed() bool {
	select {
	case <-b.closed:
		return true
	default:
		return false
	}
}
