package expansion

import (
	"bytes"
	"io"
	"strings"
	"sync"
)

// RunLog collects the textual log of a run and fans complete lines out to
// subscribers. It is safe for concurrent use.
type RunLog struct {
	mu      sync.RWMutex
	lines   []string
	partial bytes.Buffer
	subs    map[int]chan string
	nextID  int
	mirror  io.Writer
}

// NewRunLog returns a log that also copies everything to mirror, if set.
func NewRunLog(mirror io.Writer) *RunLog {
	return &RunLog{subs: make(map[int]chan string), mirror: mirror}
}

// Write implements io.Writer.
func (l *RunLog) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.mirror != nil {
		l.mirror.Write(p)
	}
	l.partial.Write(p)
	for {
		data := l.partial.Bytes()
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		line := string(data[:i])
		l.partial.Next(i + 1)
		l.lines = append(l.lines, line)
		for _, ch := range l.subs {
			select {
			case ch <- line:
			default: // slow subscriber, drop
			}
		}
	}
	return len(p), nil
}

// Lines returns a copy of every complete line so far.
func (l *RunLog) Lines() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string(nil), l.lines...)
}

// String returns the whole log.
func (l *RunLog) String() string {
	lines := l.Lines()
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

// Subscribe returns a channel receiving new lines and a cancel function.
func (l *RunLog) Subscribe(buffer int) (<-chan string, func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.nextID
	l.nextID++
	ch := make(chan string, buffer)
	l.subs[id] = ch
	return ch, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if _, ok := l.subs[id]; ok {
			delete(l.subs, id)
			close(ch)
		}
	}
}
