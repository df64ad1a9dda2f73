// Package servo drives hopper gate servos. Channels are integer servo
// addresses and positions are values in the servo's configured range.
package servo

import (
	"context"
	"time"

	"github.com/coder/hopperapi/lib/logctx"
	"golang.org/x/xerrors"
)

// Actuator moves the servo on channel to position.
type Actuator interface {
	Actuate(ctx context.Context, channel int, position int) error
}

// ActuatorFunc adapts a function to the Actuator interface.
type ActuatorFunc func(ctx context.Context, channel int, position int) error

func (f ActuatorFunc) Actuate(ctx context.Context, channel int, position int) error {
	return f(ctx, channel, position)
}

// Write is a single position written to a channel.
type Write struct {
	Channel  int
	Position int
	Time     time.Time
}

// LogActuator only logs writes. It is used when no servo hardware is attached.
type LogActuator struct{}

func (LogActuator) Actuate(ctx context.Context, channel int, position int) error {
	logctx.From(ctx).Info("Servo write", "channel", channel, "position", position)
	return nil
}

// Chain writes to each actuator in order and stops at the first failure, so
// a later entry only sees writes every earlier one accepted. Put the
// hardware first and a Recorder last.
type Chain []Actuator

func (c Chain) Actuate(ctx context.Context, channel int, position int) error {
	for i, a := range c {
		if err := a.Actuate(ctx, channel, position); err != nil {
			return xerrors.Errorf("actuator %d: %w", i, err)
		}
	}
	return nil
}
