package servo_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/coder/hopperapi/lib/logctx"
	"github.com/coder/hopperapi/lib/servo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext() context.Context {
	return logctx.WithLogger(context.Background(), slog.New(slog.NewTextHandler(os.Stdout, nil)))
}

func TestRecorder(t *testing.T) {
	now := time.Date(2019, 11, 28, 12, 0, 0, 0, time.UTC)
	rec := servo.NewRecorder(2)
	rec.GetTime = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, rec.Actuate(ctx, 5, 60))
	require.NoError(t, rec.Actuate(ctx, 5, 0))
	require.NoError(t, rec.Actuate(ctx, 6, 60))

	assert.Equal(t, []servo.Write{
		{Channel: 5, Position: 0, Time: now},
		{Channel: 6, Position: 60, Time: now},
	}, rec.Writes())
	assert.Equal(t, map[int]int{5: 0, 6: 60}, rec.Positions())
	last, ok := rec.Last()
	require.True(t, ok)
	assert.Equal(t, servo.Write{Channel: 6, Position: 60, Time: now}, last)

	rec.Reset()
	assert.Empty(t, rec.Writes())
	_, ok = rec.Last()
	assert.False(t, ok)
}

func TestChain(t *testing.T) {
	a := servo.NewRecorder(4)
	b := servo.NewRecorder(4)
	boom := errors.New("boom")
	failing := servo.ActuatorFunc(func(ctx context.Context, channel, position int) error {
		return boom
	})

	err := servo.Chain{a, failing, b}.Actuate(testContext(), 7, 60)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, map[int]int{7: 60}, a.Positions())
	assert.Empty(t, b.Writes(), "writes after a failure must not reach later actuators")

	require.NoError(t, servo.Chain{servo.LogActuator{}, a, b}.Actuate(testContext(), 8, 0))
	assert.Equal(t, map[int]int{7: 60, 8: 0}, a.Positions())
	assert.Equal(t, map[int]int{8: 0}, b.Positions())
}
