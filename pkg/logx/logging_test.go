package logx

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		"DEBUG":   zerolog.DebugLevel,
		" info ":  zerolog.InfoLevel,
		"Warning": zerolog.WarnLevel,
		"ERROR":   zerolog.ErrorLevel,
		"bogus":   zerolog.InfoLevel,
		"":        zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in, zerolog.InfoLevel); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero value must report IsZero")
	}
	// None of these may panic.
	l.Info("dropped")
	l.Error("dropped", String("k", "v"), Err(nil))
	l.With(Int("n", 1)).Warn("dropped")
}

func TestNopLoggerIsNotZero(t *testing.T) {
	l := Nop()
	if l.IsZero() {
		t.Fatalf("Nop() is configured, not zero")
	}
	l.Info("discarded")
}

func TestWithDoesNotMutateParent(t *testing.T) {
	parent := Nop().With(String("a", "1"))
	child := parent.With(String("b", "2"))
	if len(parent.fields) != 1 {
		t.Fatalf("parent fields mutated: %d", len(parent.fields))
	}
	if len(child.fields) != 2 {
		t.Fatalf("child fields: %d", len(child.fields))
	}
}

func TestServiceApplyChangesLevel(t *testing.T) {
	svc, log := New(Config{Level: "ERROR", Console: false})
	defer svc.Close()

	if log.Enabled(zerolog.InfoLevel) {
		t.Fatalf("info must be disabled at ERROR")
	}
	svc.Apply(Config{Level: "DEBUG", Console: false})
	if !log.Enabled(zerolog.InfoLevel) {
		t.Fatalf("info must be enabled after Apply(DEBUG)")
	}
}
