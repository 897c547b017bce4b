package dtmf

// SignalBuffer is the fixed-capacity accumulation buffer for one collection.
// Raw signals are written into the free tail, then Commit filters only the
// part that has not been processed yet. The logical length is tracked apart
// from the backing storage and never exceeds the capacity.
type SignalBuffer struct {
	data      []byte
	n         int // digits accumulated
	processed int // bytes already filtered; always equal to n after Commit
}

// NewSignalBuffer returns an empty buffer able to hold capacity signals.
func NewSignalBuffer(capacity int) *SignalBuffer {
	if capacity < 0 {
		capacity = 0
	}
	return &SignalBuffer{data: make([]byte, capacity)}
}

// Cap returns the buffer capacity.
func (b *SignalBuffer) Cap() int { return len(b.data) }

// Len returns the number of digits accumulated.
func (b *SignalBuffer) Len() int { return b.n }

// Free returns the unused tail of the buffer for the next channel read.
func (b *SignalBuffer) Free() []byte {
	return b.data[b.n:]
}

// Commit accounts for raw signals written into Free()[:raw]. Only those new
// signals are filtered; digits committed earlier are not scanned again. It
// returns the number of digits the new signals contributed.
func (b *SignalBuffer) Commit(raw int) int {
	if raw <= 0 {
		return 0
	}
	if max := len(b.data) - b.n; raw > max {
		raw = max
	}
	tail := b.data[b.processed : b.n+raw]
	added := FilterDigits(tail)
	b.n += added
	b.processed = b.n
	return added
}

// String returns the accumulated digits.
func (b *SignalBuffer) String() string {
	return string(b.data[:b.n])
}
