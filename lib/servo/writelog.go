package servo

// writeLog is a fixed capacity log of servo writes. Once full, each push
// drops the oldest entry.
type writeLog struct {
	entries []Write
	start   int
	n       int
}

func newWriteLog(capacity int) *writeLog {
	return &writeLog{entries: make([]Write, max(capacity, 1))}
}

func (l *writeLog) push(w Write) {
	end := (l.start + l.n) % len(l.entries)
	l.entries[end] = w
	if l.n == len(l.entries) {
		l.start = (l.start + 1) % len(l.entries)
		return
	}
	l.n++
}

func (l *writeLog) at(i int) Write {
	return l.entries[(l.start+i)%len(l.entries)]
}

// snapshot copies the log, oldest first.
func (l *writeLog) snapshot() []Write {
	out := make([]Write, l.n)
	for i := range out {
		out[i] = l.at(i)
	}
	return out
}

func (l *writeLog) last() (Write, bool) {
	if l.n == 0 {
		return Write{}, false
	}
	return l.at(l.n - 1), true
}

func (l *writeLog) reset() {
	l.start, l.n = 0, 0
}
