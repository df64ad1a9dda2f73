package servo

import (
	"context"
	"sync"
	"time"
)

// Recorder keeps the most recent writes in memory.
type Recorder struct {
	mu  sync.Mutex
	log *writeLog
	// GetTime returns the current time
	GetTime func() time.Time
}

func NewRecorder(historySize int) *Recorder {
	return &Recorder{
		log:     newWriteLog(historySize),
		GetTime: time.Now,
	}
}

func (r *Recorder) Actuate(ctx context.Context, channel int, position int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log.push(Write{Channel: channel, Position: position, Time: r.GetTime()})
	return nil
}

// Writes returns the recorded writes, oldest first.
func (r *Recorder) Writes() []Write {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.log.snapshot()
}

// Last returns the most recent write.
func (r *Recorder) Last() (Write, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.log.last()
}

// Positions returns the last position written to each channel.
func (r *Recorder) Positions() map[int]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int]int)
	for _, w := range r.log.snapshot() {
		out[w.Channel] = w.Position
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log.reset()
}
