package catalog

import (
	"strings"
	"testing"
)

func snap(entries ...Entry) Snapshot {
	s := make(Snapshot, len(entries))
	for _, e := range entries {
		s[e.Name] = e
	}
	return s
}

func TestDiffCreatedUpdatedDeleted(t *testing.T) {
	prev := snap(
		Entry{Name: "foo", Version: "1.0"},
		Entry{Name: "gone", Version: "0.1"},
		Entry{Name: "same", Version: "2.0"},
	)
	cur := snap(
		Entry{Name: "foo", Version: "1.1"},
		Entry{Name: "bar", Version: "0.0.1"},
		Entry{Name: "same", Version: "2.0"},
	)

	changes := Diff(prev, cur, RenderOptions{ShowDeletions: true})
	if len(changes) != 3 {
		t.Fatalf("expected 3 changes, got %d: %+v", len(changes), changes)
	}

	byName := map[string]Change{}
	for _, c := range changes {
		byName[c.Name] = c
	}
	if byName["bar"].Kind != ChangeCreated {
		t.Fatalf("bar: expected created, got %v", byName["bar"].Kind)
	}
	if byName["foo"].Kind != ChangeUpdated {
		t.Fatalf("foo: expected updated, got %v", byName["foo"].Kind)
	}
	if byName["gone"].Kind != ChangeDeleted {
		t.Fatalf("gone: expected deleted, got %v", byName["gone"].Kind)
	}
	if _, ok := byName["same"]; ok {
		t.Fatalf("same: unchanged version must not appear in diff")
	}
}

func TestDiffIdentityIsEmpty(t *testing.T) {
	s := snap(
		Entry{Name: "a", Version: "1"},
		Entry{Name: "b", Version: "2"},
	)
	if changes := Diff(s, s, RenderOptions{ShowDeletions: true}); len(changes) != 0 {
		t.Fatalf("diff of a snapshot against itself must be empty, got %+v", changes)
	}
}

func TestDiffSuppressesDeletions(t *testing.T) {
	prev := snap(Entry{Name: "gone", Version: "1"})
	cur := snap()

	if changes := Diff(prev, cur, RenderOptions{}); len(changes) != 0 {
		t.Fatalf("deletions disabled: expected no changes, got %+v", changes)
	}
}

func TestDiffSortedByName(t *testing.T) {
	prev := snap(Entry{Name: "m", Version: "1"})
	cur := snap(
		Entry{Name: "z", Version: "1"},
		Entry{Name: "a", Version: "1"},
		Entry{Name: "m", Version: "2"},
	)
	changes := Diff(prev, cur, RenderOptions{})
	var names []string
	for _, c := range changes {
		names = append(names, c.Name)
	}
	want := []string{"a", "m", "z"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, names)
		}
	}
}

func TestDiffUpdateLine(t *testing.T) {
	prev := snap(Entry{Name: "foo", Version: "1.0"})
	cur := snap(Entry{Name: "foo", Version: "1.1"})

	changes := Diff(prev, cur, RenderOptions{})
	if len(changes) != 1 {
		t.Fatalf("expected 1 change, got %d", len(changes))
	}
	if got := changes[0].Line; got != "foo updated: 1.0 -> 1.1" {
		t.Fatalf("unexpected update line: %q", got)
	}
}

func TestDiffCreatedLineDecorations(t *testing.T) {
	prev := snap()
	cur := snap(Entry{
		Name:      "widget",
		Version:   "0.9",
		Publisher: "acme",
		Descriptions: map[string]string{
			"en": "Makes widgets",
			"de": "Macht Widgets",
		},
	})

	plain := Diff(prev, cur, RenderOptions{})
	if got := plain[0].Line; got != "new package widget (0.9)" {
		t.Fatalf("bare created line: %q", got)
	}

	full := Diff(prev, cur, RenderOptions{
		ShowPublisher:   true,
		ShowDescription: true,
		Language:        "en",
	})
	line := full[0].Line
	if !strings.Contains(line, "by acme") {
		t.Fatalf("expected publisher in %q", line)
	}
	if !strings.Contains(line, "Makes widgets") {
		t.Fatalf("expected description in %q", line)
	}
}

func TestDiffDeletedLine(t *testing.T) {
	prev := snap(Entry{Name: "old", Version: "1"})
	changes := Diff(prev, snap(), RenderOptions{ShowDeletions: true})
	if got := changes[0].Line; got != "old removed" {
		t.Fatalf("unexpected deleted line: %q", got)
	}
}

func TestDescriptionFallback(t *testing.T) {
	e := Entry{
		Descriptions: map[string]string{
			"en": "english",
			"id": "indonesian",
		},
	}
	if got := e.DescriptionIn("id", "en"); got != "indonesian" {
		t.Fatalf("language match: got %q", got)
	}
	if got := e.DescriptionIn("fr", "en"); got != "english" {
		t.Fatalf("fallback match: got %q", got)
	}
	if got := e.DescriptionIn("fr", "de"); got != "" {
		t.Fatalf("no match: got %q", got)
	}

	e.Description = "plain"
	if got := e.DescriptionIn("id", "en"); got != "plain" {
		t.Fatalf("plain description must win: got %q", got)
	}
}
