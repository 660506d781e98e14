package output

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stridekit/stride/internal/scenario"
	"github.com/stridekit/stride/internal/stats"
)

func TestSummaryRendersEntriesAndFailures(t *testing.T) {
	e := stats.NewEngine()
	e.Record(scenario.Sample{Kind: "HTTP", Name: "get_cart", Duration: 12 * time.Millisecond, Size: 512})
	e.Record(scenario.Sample{Kind: "HTTP", Name: "get_cart", Duration: 15 * time.Millisecond,
		Failure: errors.New("status 503")})

	var buf bytes.Buffer
	c := NewConsole(&buf, true)
	c.Summary("checkout load", e.Snapshot())

	out := buf.String()
	for _, want := range []string{"checkout load", "samples: 2", "KIND", "get_cart", "status 503"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
	if !strings.Contains(out, "failures: 1") {
		t.Errorf("summary missing failure count:\n%s", out)
	}
}

func TestSummaryWithoutFailures(t *testing.T) {
	e := stats.NewEngine()
	e.Record(scenario.Sample{Kind: "SCENARIO", Name: "s", Duration: time.Second})

	var buf bytes.Buffer
	NewConsole(&buf, true).Summary("clean", e.Snapshot())

	if !strings.Contains(buf.String(), "failures: 0") {
		t.Errorf("summary missing zero-failure line:\n%s", buf.String())
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 28); got != "short" {
		t.Errorf("truncate(short) = %q", got)
	}
	long := strings.Repeat("x", 40)
	got := truncate(long, 28)
	if len([]rune(got)) != 28 {
		t.Errorf("truncate length = %d, want 28", len([]rune(got)))
	}
	if !strings.HasSuffix(got, "…") {
		t.Errorf("truncate(%q) = %q, want ellipsis suffix", long, got)
	}
}

func TestRound(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{1500 * time.Millisecond, "1.5s"},
		{12345 * time.Microsecond, "12.35ms"},
		{250 * time.Nanosecond, "250ns"},
	}
	for _, tt := range tests {
		if got := round(tt.d); got != tt.want {
			t.Errorf("round(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
