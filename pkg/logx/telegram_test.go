package logx

import (
	"strings"
	"testing"
)

func TestFormatTelegramLine(t *testing.T) {
	t.Parallel()

	line := []byte(`{"level":"warn","time":"x","message":"retry abandoned","dest":300,"comp":"relay.retry"}` + "\n")
	got := formatTelegramLine(line)
	want := "[WARN] retry abandoned\n- comp=relay.retry\n- dest=300"
	if got != want {
		t.Fatalf("formatTelegramLine()=%q want %q", got, want)
	}
}

func TestFormatTelegramLineNotJSON(t *testing.T) {
	t.Parallel()

	got := formatTelegramLine([]byte("  plain text \n"))
	if got != "plain text" {
		t.Fatalf("got %q", got)
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{strings.Repeat("a", 20), 12, strings.Repeat("a", 9) + "..."},
		{"abcdef", 3, "abc"},
		{"abc", 0, "abc"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Fatalf("truncate(%q,%d)=%q want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	if got := ParseLevel(" warning ", LevelInfo); got != LevelWarn {
		t.Fatalf("ParseLevel(warning)=%v", got)
	}
	if got := ParseLevel("nonsense", LevelError); got != LevelError {
		t.Fatalf("ParseLevel fallback=%v", got)
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()

	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero logger should report IsZero")
	}
	l.With(String("k", "v")).Error("ignored")
	Nop().Info("ignored")
}
