package servo

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/coder/hopperapi/lib/logctx"
	"github.com/coder/hopperapi/lib/util"
	"github.com/spf13/afero"
	"golang.org/x/xerrors"
)

const (
	DefaultSysfsRoot = "/sys/class/pwm"
	// 50Hz, the usual hobby servo frame.
	DefaultPeriod = 20 * time.Millisecond
	// Pulse width for position 0. Each position step adds a microsecond.
	DefaultPulseBase = 1000 * time.Microsecond
)

type SysfsPWMConfig struct {
	// Fs defaults to the OS filesystem.
	Fs        afero.Fs
	Root      string
	Chip      int
	Period    time.Duration
	PulseBase time.Duration
	// How long to wait for the kernel to create pwmN after export.
	ExportTimeout time.Duration
}

// SysfsPWM drives servos through the Linux PWM sysfs interface. Channel N
// maps to pwmN of the configured chip.
type SysfsPWM struct {
	cfg      SysfsPWMConfig
	mu       sync.Mutex
	exported map[int]bool
}

func NewSysfsPWM(cfg SysfsPWMConfig) *SysfsPWM {
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}
	if cfg.Root == "" {
		cfg.Root = DefaultSysfsRoot
	}
	if cfg.Period == 0 {
		cfg.Period = DefaultPeriod
	}
	if cfg.PulseBase == 0 {
		cfg.PulseBase = DefaultPulseBase
	}
	if cfg.ExportTimeout == 0 {
		cfg.ExportTimeout = time.Second
	}
	return &SysfsPWM{
		cfg:      cfg,
		exported: make(map[int]bool),
	}
}

func (p *SysfsPWM) chipDir() string {
	return filepath.Join(p.cfg.Root, fmt.Sprintf("pwmchip%d", p.cfg.Chip))
}

func (p *SysfsPWM) channelDir(channel int) string {
	return filepath.Join(p.chipDir(), fmt.Sprintf("pwm%d", channel))
}

// PulseWidth returns the pulse width written for position.
func (p *SysfsPWM) PulseWidth(position int) time.Duration {
	return p.cfg.PulseBase + time.Duration(position)*time.Microsecond
}

func (p *SysfsPWM) writeAttr(channel int, name string, value int64) error {
	path := filepath.Join(p.channelDir(channel), name)
	if err := afero.WriteFile(p.cfg.Fs, path, []byte(strconv.FormatInt(value, 10)), 0o644); err != nil {
		return xerrors.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// Assumes the caller holds the lock.
func (p *SysfsPWM) export(ctx context.Context, channel int) error {
	if p.exported[channel] {
		return nil
	}
	dir := p.channelDir(channel)
	exists, err := afero.DirExists(p.cfg.Fs, dir)
	if err != nil {
		return xerrors.Errorf("failed to stat %s: %w", dir, err)
	}
	if !exists {
		exportPath := filepath.Join(p.chipDir(), "export")
		if err := afero.WriteFile(p.cfg.Fs, exportPath, []byte(strconv.Itoa(channel)), 0o644); err != nil {
			return xerrors.Errorf("failed to export channel %d: %w", channel, err)
		}
		if err := util.WaitFor(ctx, util.WaitTimeout{
			Timeout:     p.cfg.ExportTimeout,
			MinInterval: 5 * time.Millisecond,
			MaxInterval: 100 * time.Millisecond,
		}, func() (bool, error) {
			return afero.DirExists(p.cfg.Fs, dir)
		}); err != nil {
			return xerrors.Errorf("channel %d did not appear: %w", channel, err)
		}
	}
	if err := p.writeAttr(channel, "period", p.cfg.Period.Nanoseconds()); err != nil {
		return err
	}
	p.exported[channel] = true
	logctx.From(ctx).Debug("Exported PWM channel", "chip", p.cfg.Chip, "channel", channel)
	return nil
}

func (p *SysfsPWM) Actuate(ctx context.Context, channel int, position int) error {
	if channel < 0 {
		return xerrors.Errorf("invalid channel %d", channel)
	}
	if maxPosition := int((p.cfg.Period - p.cfg.PulseBase) / time.Microsecond); position < 0 || position > maxPosition {
		return xerrors.Errorf("position %d outside [0, %d] for period %s", position, maxPosition, p.cfg.Period)
	}
	pulse := p.PulseWidth(position)

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.export(ctx, channel); err != nil {
		return err
	}
	if err := p.writeAttr(channel, "duty_cycle", pulse.Nanoseconds()); err != nil {
		return err
	}
	return p.writeAttr(channel, "enable", 1)
}
