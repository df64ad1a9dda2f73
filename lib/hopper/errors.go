package hopper

import "golang.org/x/xerrors"

var (
	// ErrEmpty is returned by operations that need at least one slot.
	ErrEmpty = xerrors.New("no hoppers available")
	// ErrSlotNotFound is returned when removing a slot that is not in the ring.
	ErrSlotNotFound = xerrors.New("hopper not found in ring")
	// ErrDuplicateID is returned when registering a hopper under an ID that is taken.
	ErrDuplicateID = xerrors.New("hopper id already registered")
)
