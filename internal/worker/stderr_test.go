package worker

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestStderrRing_CapsLineCount(t *testing.T) {
	r := NewStderrRing()
	for i := 0; i < stderrMaxLines+20; i++ {
		r.Append(fmt.Sprintf("line %d", i))
	}
	lines := r.Lines()
	if len(lines) != stderrMaxLines {
		t.Fatalf("len(Lines()) = %d, want %d", len(lines), stderrMaxLines)
	}
	if lines[0] != "line 20" {
		t.Errorf("oldest retained line = %q, want %q", lines[0], "line 20")
	}
	if lines[len(lines)-1] != fmt.Sprintf("line %d", stderrMaxLines+19) {
		t.Errorf("newest line = %q", lines[len(lines)-1])
	}
}

func TestStderrRing_TruncatesLongLines(t *testing.T) {
	r := NewStderrRing()
	r.Append(strings.Repeat("x", stderrMaxLineLen+500))
	lines := r.Lines()
	if len(lines[0]) != stderrMaxLineLen {
		t.Errorf("line length = %d, want %d", len(lines[0]), stderrMaxLineLen)
	}
}

func TestStderrRing_TruncatesOnRuneBoundary(t *testing.T) {
	r := NewStderrRing()
	// Two-byte runes: the 1000-char cut must not land mid-rune.
	r.Append(strings.Repeat("é", stderrMaxLineLen+500))
	line := r.Lines()[0]
	if !utf8.ValidString(line) {
		t.Fatal("truncation produced invalid UTF-8")
	}
	if got := utf8.RuneCountInString(line); got != stderrMaxLineLen {
		t.Errorf("rune count = %d, want %d", got, stderrMaxLineLen)
	}

	// A line over the byte budget but within the character budget is
	// kept whole.
	whole := strings.Repeat("é", stderrMaxLineLen-1)
	r2 := NewStderrRing()
	r2.Append(whole)
	if got := r2.Lines()[0]; got != whole {
		t.Errorf("line within char budget was truncated to %d runes", utf8.RuneCountInString(got))
	}
}

func TestStderrRing_Tail(t *testing.T) {
	r := NewStderrRing()
	for i := 0; i < 10; i++ {
		r.Append(fmt.Sprintf("l%d", i))
	}
	tail := r.Tail(3)
	if len(tail) != 3 || tail[0] != "l7" || tail[2] != "l9" {
		t.Errorf("Tail(3) = %v", tail)
	}
	if got := r.Tail(100); len(got) != 10 {
		t.Errorf("Tail(100) returned %d lines, want 10", len(got))
	}
	if got := r.Tail(0); len(got) != 10 {
		t.Errorf("Tail(0) returned %d lines, want all 10", len(got))
	}
}

func TestStderrRing_ConsumeForwardsToSink(t *testing.T) {
	r := NewStderrRing()
	var sunk []string
	r.Consume(strings.NewReader("one\ntwo\nthree\n"), func(line string) {
		sunk = append(sunk, line)
	})

	if len(sunk) != 3 || sunk[1] != "two" {
		t.Errorf("sink received %v", sunk)
	}
	lines := r.Lines()
	if len(lines) != 3 || lines[2] != "three" {
		t.Errorf("ring holds %v", lines)
	}
}
