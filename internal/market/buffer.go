package market

import (
	"errors"
	"time"
)

var (
	// ErrStaleBar is returned when a bar's timestamp is not strictly newer
	// than the last accepted bar.
	ErrStaleBar = errors.New("bar timestamp not newer than last processed bar")
)

// BarBuffer holds a bounded, time-ordered window of finalized bars. When the
// buffer is full the oldest bar is evicted on append.
type BarBuffer struct {
	bars     []Bar
	capacity int
	lastTime time.Time
}

// NewBarBuffer creates a buffer holding at most capacity bars.
func NewBarBuffer(capacity int) *BarBuffer {
	if capacity <= 0 {
		capacity = 500
	}
	return &BarBuffer{
		bars:     make([]Bar, 0, capacity),
		capacity: capacity,
	}
}

// Append adds a finalized bar. Bars must arrive in strictly increasing
// timestamp order; stale or out-of-order bars are rejected with ErrStaleBar
// and the buffer is left unchanged.
func (bb *BarBuffer) Append(bar Bar) error {
	if !bb.lastTime.IsZero() && !bar.Timestamp.After(bb.lastTime) {
		return ErrStaleBar
	}
	if len(bb.bars) >= bb.capacity {
		copy(bb.bars, bb.bars[1:])
		bb.bars = bb.bars[:len(bb.bars)-1]
	}
	bb.bars = append(bb.bars, bar)
	bb.lastTime = bar.Timestamp
	return nil
}

// Len returns the number of buffered bars.
func (bb *BarBuffer) Len() int {
	return len(bb.bars)
}

// Capacity returns the maximum number of bars retained.
func (bb *BarBuffer) Capacity() int {
	return bb.capacity
}

// Bar returns the bar at index i, oldest first.
func (bb *BarBuffer) Bar(i int) Bar {
	return bb.bars[i]
}

// Latest returns the most recent bar and false if the buffer is empty.
func (bb *BarBuffer) Latest() (Bar, bool) {
	if len(bb.bars) == 0 {
		return Bar{}, false
	}
	return bb.bars[len(bb.bars)-1], true
}

// Last returns a copy of the most recent n bars, oldest first. If fewer than
// n bars are buffered, all of them are returned.
func (bb *BarBuffer) Last(n int) []Bar {
	if n > len(bb.bars) {
		n = len(bb.bars)
	}
	out := make([]Bar, n)
	copy(out, bb.bars[len(bb.bars)-n:])
	return out
}

// All returns a copy of every buffered bar, oldest first.
func (bb *BarBuffer) All() []Bar {
	out := make([]Bar, len(bb.bars))
	copy(out, bb.bars)
	return out
}
