package worker

import (
	"bufio"
	"io"
	"sync"
)

const (
	stderrMaxLines   = 50
	stderrMaxLineLen = 1000
)

// StderrRing is an append-only tail of the last stderrMaxLines lines of a
// local worker's standard error, each truncated to stderrMaxLineLen
// characters.
// Safe for concurrent use: one reader goroutine appends while the
// supervisor inspects it for permanent-failure markers.
type StderrRing struct {
	mu    sync.Mutex
	lines []string
}

// NewStderrRing returns an empty ring.
func NewStderrRing() *StderrRing {
	return &StderrRing{}
}

// Append adds one line, truncating and evicting the oldest as needed.
// Truncation counts runes, never splitting a multi-byte character.
func (r *StderrRing) Append(line string) {
	if len(line) > stderrMaxLineLen {
		if runes := []rune(line); len(runes) > stderrMaxLineLen {
			line = string(runes[:stderrMaxLineLen])
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
	if len(r.lines) > stderrMaxLines {
		r.lines = r.lines[len(r.lines)-stderrMaxLines:]
	}
}

// Lines returns a copy of the current tail, oldest first.
func (r *StderrRing) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.lines))
	copy(out, r.lines)
	return out
}

// Tail returns at most the last n lines.
func (r *StderrRing) Tail(n int) []string {
	lines := r.Lines()
	if n <= 0 || n >= len(lines) {
		return lines
	}
	return lines[len(lines)-n:]
}

// Consume reads rd line by line into the ring until EOF. Each line is
// optionally forwarded to sink (used to fan stderr frames onto the event
// bus). Blocks; run it in its own goroutine.
func (r *StderrRing) Consume(rd io.Reader, sink func(line string)) {
	scanner := bufio.NewScanner(rd)
	scanner.Buffer(make([]byte, 64*1024), 256*1024)
	for scanner.Scan() {
		line := scanner.Text()
		r.Append(line)
		if sink != nil {
			sink(line)
		}
	}
}
