package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestAwaitSendReturnsResult(t *testing.T) {
	if err := awaitSend(context.Background(), func() error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := errors.New("boom")
	if err := awaitSend(context.Background(), func() error { return want }); !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestAwaitSendHonorsDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	start := time.Now()
	err := awaitSend(ctx, func() error { <-release; return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("deadline not enforced, took %v", elapsed)
	}
}

func TestSplitTextShortPassesThrough(t *testing.T) {
	got := splitText("hello", 10)
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("got %v", got)
	}
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	text := strings.Repeat("line one\n", 3) + "tail"
	got := splitText(text, 20)
	for i, chunk := range got {
		if len([]rune(chunk)) > 20 {
			t.Fatalf("chunk %d over limit: %q", i, chunk)
		}
		if strings.HasPrefix(chunk, "\n") || strings.HasSuffix(chunk, "\n") {
			t.Fatalf("chunk %d carries boundary newline: %q", i, chunk)
		}
	}
	joined := strings.Join(got, "\n")
	if !strings.Contains(joined, "tail") {
		t.Fatalf("content lost: %v", got)
	}
}

func TestSplitTextHardBreakWithoutNewlines(t *testing.T) {
	text := strings.Repeat("x", 45)
	got := splitText(text, 20)
	if len(got) != 3 {
		t.Fatalf("expected 3 chunks, got %d: %v", len(got), got)
	}
	var total int
	for _, c := range got {
		total += len(c)
	}
	if total != 45 {
		t.Fatalf("content length changed: %d", total)
	}
}

func TestIsTrusted(t *testing.T) {
	a := &Adapter{cfg: Config{TrustedIDs: []int64{10, 20}}}
	if !a.isTrusted(10) || !a.isTrusted(20) {
		t.Fatalf("listed ids must be trusted")
	}
	if a.isTrusted(30) || a.isTrusted(0) {
		t.Fatalf("unlisted ids must not be trusted")
	}

	empty := &Adapter{}
	if empty.isTrusted(10) {
		t.Fatalf("empty list trusts nobody")
	}
}
