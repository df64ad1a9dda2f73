package util

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/xerrors"
)

// WaitTimeout bounds a WaitFor poll. Zero fields take the defaults below.
type WaitTimeout struct {
	Timeout     time.Duration
	MinInterval time.Duration
	MaxInterval time.Duration
}

const (
	defaultWaitTimeout     = 10 * time.Second
	defaultWaitMinInterval = 10 * time.Millisecond
	defaultWaitMaxInterval = 500 * time.Millisecond
)

var WaitTimedOut = xerrors.New("timeout waiting for condition")

func (w WaitTimeout) withDefaults() WaitTimeout {
	if w.Timeout == 0 {
		w.Timeout = defaultWaitTimeout
	}
	if w.MinInterval == 0 {
		w.MinInterval = defaultWaitMinInterval
	}
	if w.MaxInterval == 0 {
		w.MaxInterval = defaultWaitMaxInterval
	}
	return w
}

// WaitFor polls condition with exponential backoff until it reports true,
// returns an error, the timeout expires or ctx is done.
func WaitFor(ctx context.Context, timeout WaitTimeout, condition func() (bool, error)) error {
	timeout = timeout.withDefaults()
	if timeout.MinInterval > timeout.MaxInterval {
		return xerrors.Errorf("min interval %s is greater than max interval %s", timeout.MinInterval, timeout.MaxInterval)
	}

	deadline := time.NewTimer(timeout.Timeout)
	defer deadline.Stop()

	interval := timeout.MinInterval
	sleep := func() error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return WaitTimedOut
		case <-time.After(interval):
			return nil
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ok, err := condition()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if err := sleep(); err != nil {
			return err
		}
		interval = min(interval*2, timeout.MaxInterval)
	}
}

// OpenAPISchema registers a string enum once under enumName and returns a
// reference to it.
// based on https://github.com/danielgtaylor/huma/issues/621#issuecomment-2456588788
func OpenAPISchema[T ~string](r huma.Registry, enumName string, values []T) *huma.Schema {
	if r.Map()[enumName] == nil {
		schema := r.Schema(reflect.TypeOf(""), true, enumName)
		schema.Title = enumName
		if len(values) > 0 {
			schema.Examples = []any{string(values[0])}
		}
		for _, v := range values {
			schema.Enum = append(schema.Enum, string(v))
		}
		r.Map()[enumName] = schema
	}
	return &huma.Schema{Ref: fmt.Sprintf("#/components/schemas/%s", enumName)}
}
