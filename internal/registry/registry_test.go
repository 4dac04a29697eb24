package registry

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pkgwatch/internal/config"
	logx "pkgwatch/pkg/logx"
)

func newTestRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	base := `{
		"catalog": {"endpoint": "http://localhost/packages", "poll_interval": "1m"},
		"telegram": [{"account": "main", "token": "x"}]
	}`
	if err := os.WriteFile(path, []byte(base), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfgm := config.NewManager(path)
	if _, err := cfgm.Load(); err != nil {
		t.Fatalf("load config: %v", err)
	}
	return New(cfgm, logx.Nop()), path
}

func chat(channel string) config.Receiver {
	return config.Receiver{Platform: "telegram", Account: "main", Channel: channel}
}

func TestEnableDisable(t *testing.T) {
	reg, _ := newTestRegistry(t)
	target := chat("100")

	added, err := reg.Enable(target)
	if err != nil || !added {
		t.Fatalf("Enable: added=%v err=%v", added, err)
	}
	if added, err = reg.Enable(target); err != nil || added {
		t.Fatalf("second Enable must be a no-op: added=%v err=%v", added, err)
	}
	if got := reg.Receivers(); len(got) != 1 {
		t.Fatalf("expected 1 receiver, got %d", len(got))
	}

	removed, err := reg.Disable(target)
	if err != nil || !removed {
		t.Fatalf("Disable: removed=%v err=%v", removed, err)
	}
	if removed, err = reg.Disable(target); err != nil || removed {
		t.Fatalf("second Disable must be a no-op: removed=%v err=%v", removed, err)
	}
}

func TestSubscribeRequiresEnable(t *testing.T) {
	reg, _ := newTestRegistry(t)

	if _, err := reg.Subscribe(chat("100"), "foo"); !errors.Is(err, ErrNotEnabled) {
		t.Fatalf("expected ErrNotEnabled, got %v", err)
	}
	if _, err := reg.Unsubscribe(chat("100"), "foo"); !errors.Is(err, ErrNotEnabled) {
		t.Fatalf("expected ErrNotEnabled, got %v", err)
	}
	if _, err := reg.List(chat("100")); !errors.Is(err, ErrNotEnabled) {
		t.Fatalf("expected ErrNotEnabled, got %v", err)
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	reg, _ := newTestRegistry(t)
	target := chat("100")
	if _, err := reg.Enable(target); err != nil {
		t.Fatalf("Enable: %v", err)
	}

	changed, err := reg.Subscribe(target, "foo")
	if err != nil || !changed {
		t.Fatalf("Subscribe foo: changed=%v err=%v", changed, err)
	}
	if changed, err = reg.Subscribe(target, "foo"); err != nil || changed {
		t.Fatalf("duplicate Subscribe must be a no-op: changed=%v err=%v", changed, err)
	}
	if _, err = reg.Subscribe(target, "bar"); err != nil {
		t.Fatalf("Subscribe bar: %v", err)
	}

	names, err := reg.List(target)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	// List reports the interest list in subscription order, not sorted.
	if len(names) != 2 || names[0] != "foo" || names[1] != "bar" {
		t.Fatalf("expected [foo bar] in subscription order, got %v", names)
	}

	changed, err = reg.Unsubscribe(target, "foo")
	if err != nil || !changed {
		t.Fatalf("Unsubscribe foo: changed=%v err=%v", changed, err)
	}
	if changed, err = reg.Unsubscribe(target, "foo"); err != nil || changed {
		t.Fatalf("Unsubscribe absent name must return false: changed=%v err=%v", changed, err)
	}
}

func TestSubscribeEverythingResets(t *testing.T) {
	reg, _ := newTestRegistry(t)
	target := chat("100")
	if _, err := reg.Enable(target); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if _, err := reg.Subscribe(target, "foo"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	changed, err := reg.Subscribe(target, Everything)
	if err != nil || !changed {
		t.Fatalf("Subscribe *: changed=%v err=%v", changed, err)
	}
	names, err := reg.List(target)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("expected empty list after reset, got %v", names)
	}
	if changed, err = reg.Subscribe(target, Everything); err != nil || changed {
		t.Fatalf("reset of empty list must be a no-op: changed=%v err=%v", changed, err)
	}
}

func TestMutationsPersistToDisk(t *testing.T) {
	reg, path := newTestRegistry(t)
	target := chat("100")
	if _, err := reg.Enable(target); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if _, err := reg.Subscribe(target, "foo"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	// A fresh manager reading the same file must observe the mutation.
	cfgm := config.NewManager(path)
	cfg, err := cfgm.Load()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(cfg.Receivers) != 1 {
		t.Fatalf("expected 1 persisted receiver, got %+v", cfg.Receivers)
	}
	r := cfg.Receivers[0]
	if !r.SameTarget(target) || len(r.Packages) != 1 || r.Packages[0] != "foo" {
		t.Fatalf("persisted receiver mismatch: %+v", r)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if !strings.Contains(string(raw), `"receivers"`) {
		t.Fatalf("receivers section missing from persisted file:\n%s", raw)
	}
}

func TestSeparateGroupsAreSeparateTargets(t *testing.T) {
	reg, _ := newTestRegistry(t)
	a := config.Receiver{Platform: "telegram", Account: "main", Channel: "100", Group: "1"}
	b := config.Receiver{Platform: "telegram", Account: "main", Channel: "100", Group: "2"}

	if _, err := reg.Enable(a); err != nil {
		t.Fatalf("Enable a: %v", err)
	}
	if added, err := reg.Enable(b); err != nil || !added {
		t.Fatalf("distinct group must be a distinct target: added=%v err=%v", added, err)
	}
	if got := reg.Receivers(); len(got) != 2 {
		t.Fatalf("expected 2 receivers, got %d", len(got))
	}
}
