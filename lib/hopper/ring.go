package hopper

import (
	"context"
	"errors"

	"github.com/coder/hopperapi/lib/servo"
	"golang.org/x/xerrors"
)

// RingConfig holds the wiring constants of a physical hopper layout.
type RingConfig struct {
	Actuator servo.Actuator
	// Cursor position that selects every hopper at once. Negative disables it.
	MultiSlotIndex int
	// Added to the cursor to get the servo channel of a single hopper.
	ChannelOffset int
	OpenPosition  int
	ClosePosition int
}

// DefaultRingConfig returns the layout of the five position dispenser:
// four colored hoppers on servo channels 5-8 and a multi-colored position
// at index 4 that drives every hopper.
func DefaultRingConfig(actuator servo.Actuator) RingConfig {
	return RingConfig{
		Actuator:       actuator,
		MultiSlotIndex: 4,
		ChannelOffset:  5,
		OpenPosition:   60,
		ClosePosition:  0,
	}
}

// Ring is an ordered collection of hopper slots with a cursor. It is not
// safe for concurrent use.
type Ring[T comparable] struct {
	cfg    RingConfig
	slots  []T
	cursor int
}

// NewRing creates an empty ring.
func NewRing[T comparable](cfg RingConfig) *Ring[T] {
	return &Ring[T]{
		cfg:    cfg,
		slots:  []T{},
		cursor: 0,
	}
}

// wrap reduces index into [0, n). Negative indexes count back from the end.
func wrap(index, n int) int {
	m := index % n
	if m < 0 {
		m += n
	}
	return m
}

func (r *Ring[T]) CurrentIndex() int {
	return r.cursor
}

func (r *Ring[T]) Size() int {
	return len(r.slots)
}

// Config returns the layout the ring was created with.
func (r *Ring[T]) Config() RingConfig {
	return r.cfg
}

// IsMulti reports whether the cursor is on the multi-slot position.
func (r *Ring[T]) IsMulti() bool {
	return r.cfg.MultiSlotIndex >= 0 && len(r.slots) > 0 && r.cursor == r.cfg.MultiSlotIndex
}

// Slots returns a copy of the slots in ring order.
func (r *Ring[T]) Slots() []T {
	out := make([]T, len(r.slots))
	copy(out, r.slots)
	return out
}

// Get returns the slot under the cursor.
func (r *Ring[T]) Get() (T, error) {
	return r.GetAt(r.cursor)
}

// GetAt returns the slot at index modulo the ring size.
func (r *Ring[T]) GetAt(index int) (T, error) {
	var zero T
	if len(r.slots) == 0 {
		return zero, ErrEmpty
	}
	return r.slots[wrap(index, len(r.slots))], nil
}

// SetCursor moves the cursor to newIndex modulo the ring size and returns
// the new cursor.
func (r *Ring[T]) SetCursor(newIndex int) (int, error) {
	if len(r.slots) == 0 {
		return 0, ErrEmpty
	}
	r.cursor = wrap(newIndex, len(r.slots))
	return r.cursor, nil
}

// Advance moves the cursor to the next slot, wrapping at the end.
func (r *Ring[T]) Advance() (int, error) {
	if len(r.slots) == 0 {
		return 0, ErrEmpty
	}
	r.cursor = (r.cursor + 1) % len(r.slots)
	return r.cursor, nil
}

// Open moves the gate of the selected hopper to the open position. On the
// multi-slot position every hopper is opened.
func (r *Ring[T]) Open(ctx context.Context) error {
	return r.actuate(ctx, r.cfg.OpenPosition)
}

// Close moves the gate of the selected hopper to the closed position. On
// the multi-slot position every hopper is closed.
func (r *Ring[T]) Close(ctx context.Context) error {
	return r.actuate(ctx, r.cfg.ClosePosition)
}

// Channels returns the servo channels an actuation would drive with the
// cursor where it is now.
func (r *Ring[T]) Channels() []int {
	if len(r.slots) == 0 {
		return nil
	}
	if r.IsMulti() {
		channels := make([]int, len(r.slots))
		for i := range channels {
			channels[i] = i
		}
		return channels
	}
	return []int{r.cursor + r.cfg.ChannelOffset}
}

func (r *Ring[T]) actuate(ctx context.Context, position int) error {
	if len(r.slots) == 0 {
		return ErrEmpty
	}
	if r.cfg.Actuator == nil {
		return xerrors.New("ring has no actuator")
	}
	var errs []error
	for _, channel := range r.Channels() {
		if err := r.cfg.Actuator.Actuate(ctx, channel, position); err != nil {
			errs = append(errs, xerrors.Errorf("channel %d: %w", channel, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return xerrors.Errorf("failed to actuate: %w", err)
	}
	return nil
}

// Add appends slot at the end of the ring and returns its index.
//
// Add refuses to grow an empty ring; use AddFirst for the first slot.
func (r *Ring[T]) Add(slot T) (int, error) {
	return r.Insert(slot, len(r.slots))
}

// Insert places slot at index modulo the grown ring size and returns that
// position. An index equal to the current size appends. The cursor index is
// left untouched.
//
// Insert refuses to grow an empty ring; use AddFirst for the first slot.
func (r *Ring[T]) Insert(slot T, index int) (int, error) {
	if len(r.slots) == 0 {
		return 0, ErrEmpty
	}
	if index == len(r.slots) {
		r.slots = append(r.slots, slot)
		return wrap(index, len(r.slots)), nil
	}
	pos := wrap(index, len(r.slots)+1)
	var zero T
	r.slots = append(r.slots, zero)
	copy(r.slots[pos+1:], r.slots[pos:])
	r.slots[pos] = slot
	return pos, nil
}

// AddFirst puts slot at the front of the ring. It is the only way to add a
// slot to an empty ring.
func (r *Ring[T]) AddFirst(slot T) int {
	r.slots = append([]T{slot}, r.slots...)
	return 0
}

// RemoveAt removes the slot at index modulo the ring size.
func (r *Ring[T]) RemoveAt(index int) error {
	if len(r.slots) == 0 {
		return ErrEmpty
	}
	pos := wrap(index, len(r.slots))
	r.slots = append(r.slots[:pos], r.slots[pos+1:]...)
	r.fixCursor()
	return nil
}

// Remove removes slot from the ring.
func (r *Ring[T]) Remove(slot T) error {
	for i, s := range r.slots {
		if s == slot {
			return r.RemoveAt(i)
		}
	}
	return ErrSlotNotFound
}

func (r *Ring[T]) fixCursor() {
	if len(r.slots) == 0 {
		r.cursor = 0
		return
	}
	r.cursor %= len(r.slots)
}
