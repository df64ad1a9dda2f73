package servo_test

import (
	"math"
	"testing"
	"time"

	"github.com/coder/hopperapi/lib/servo"
	"github.com/coder/hopperapi/lib/util"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAttr(t *testing.T, fs afero.Fs, path string) string {
	t.Helper()
	b, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	return string(b)
}

func TestSysfsPWM_ExportedChannel(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/sys/class/pwm/pwmchip0/pwm7", 0o755))

	pwm := servo.NewSysfsPWM(servo.SysfsPWMConfig{Fs: fs})
	require.NoError(t, pwm.Actuate(testContext(), 7, 60))

	dir := "/sys/class/pwm/pwmchip0/pwm7/"
	assert.Equal(t, "20000000", readAttr(t, fs, dir+"period"))
	assert.Equal(t, "1060000", readAttr(t, fs, dir+"duty_cycle"))
	assert.Equal(t, "1", readAttr(t, fs, dir+"enable"))

	exists, err := afero.Exists(fs, "/sys/class/pwm/pwmchip0/export")
	require.NoError(t, err)
	assert.False(t, exists, "an already exported channel must not be exported again")

	require.NoError(t, pwm.Actuate(testContext(), 7, 0))
	assert.Equal(t, "1000000", readAttr(t, fs, dir+"duty_cycle"))
}

func TestSysfsPWM_ExportsMissingChannel(t *testing.T) {
	fs := afero.NewMemMapFs()
	root := "/pwm"
	require.NoError(t, fs.MkdirAll(root+"/pwmchip2", 0o755))

	pwm := servo.NewSysfsPWM(servo.SysfsPWMConfig{
		Fs:            fs,
		Root:          root,
		Chip:          2,
		ExportTimeout: 2 * time.Second,
	})

	// Plays the kernel: create the channel directory once export is written.
	go func() {
		for i := 0; i < 100; i++ {
			if ok, _ := afero.Exists(fs, root+"/pwmchip2/export"); ok {
				_ = fs.MkdirAll(root+"/pwmchip2/pwm3", 0o755)
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	require.NoError(t, pwm.Actuate(testContext(), 3, 60))
	assert.Equal(t, "3", readAttr(t, fs, root+"/pwmchip2/export"))
	assert.Equal(t, "1060000", readAttr(t, fs, root+"/pwmchip2/pwm3/duty_cycle"))
}

func TestSysfsPWM_ExportTimeout(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/sys/class/pwm/pwmchip0", 0o755))
	pwm := servo.NewSysfsPWM(servo.SysfsPWMConfig{Fs: fs, ExportTimeout: 20 * time.Millisecond})

	err := pwm.Actuate(testContext(), 1, 60)
	require.Error(t, err)
	assert.ErrorIs(t, err, util.WaitTimedOut)
}

func TestSysfsPWM_RejectsBadInput(t *testing.T) {
	fs := afero.NewMemMapFs()
	pwm := servo.NewSysfsPWM(servo.SysfsPWMConfig{Fs: fs})

	assert.Error(t, pwm.Actuate(testContext(), -1, 60))
	assert.Error(t, pwm.Actuate(testContext(), 1, 20000))
	assert.Error(t, pwm.Actuate(testContext(), 1, 19001))
	assert.Error(t, pwm.Actuate(testContext(), 1, -1))
	assert.Error(t, pwm.Actuate(testContext(), 1, math.MaxInt))
	exists, err := afero.Exists(fs, "/sys/class/pwm/pwmchip0/export")
	require.NoError(t, err)
	assert.False(t, exists, "rejected writes must not touch sysfs")
	assert.Equal(t, 1060*time.Microsecond, pwm.PulseWidth(60))
}
