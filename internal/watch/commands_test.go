package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pkgwatch/internal/command"
	"pkgwatch/internal/config"
	"pkgwatch/internal/registry"
	"pkgwatch/internal/storage"
	"pkgwatch/internal/transport"
	logx "pkgwatch/pkg/logx"
)

func trustedRequest(text string, args ...string) *command.Request {
	return &command.Request{
		Update: transport.Update{
			From:    transport.ChatRef{Platform: "telegram", Account: "main", Channel: "200"},
			UserID:  "7",
			Trusted: true,
			Text:    text,
		},
		Args: args,
		Log:  logx.Nop(),
	}
}

type commanderHarness struct {
	reg      *registry.Registry
	store    storage.Store
	storeDir string
}

func newTestCommander(t *testing.T) (*Commander, *commanderHarness) {
	t.Helper()
	cs := newCatalogServer(t, `[{"name":"foo","package":{"version":"1.0"}}]`)
	svc, _, reg := newTestService(t, cs)

	dir := t.TempDir()
	store, err := storage.Open(storage.Config{Driver: "file", Path: dir}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return NewCommander(svc, reg, store, logx.Nop()), &commanderHarness{reg: reg, store: store, storeDir: dir}
}

func TestHandleOnOffMutatesRegistry(t *testing.T) {
	c, h := newTestCommander(t)
	ctx := context.Background()

	if err := c.handleOn(ctx, trustedRequest("watch on")); err != nil {
		t.Fatalf("handleOn: %v", err)
	}
	// The fixture config already carries one receiver; handleOn adds ours.
	if got := h.reg.Receivers(); len(got) != 2 {
		t.Fatalf("expected 2 receivers after on, got %+v", got)
	}

	// Second on is a no-op.
	if err := c.handleOn(ctx, trustedRequest("watch on")); err != nil {
		t.Fatalf("handleOn again: %v", err)
	}
	if got := h.reg.Receivers(); len(got) != 2 {
		t.Fatalf("duplicate enable must not add, got %+v", got)
	}

	if err := c.handleOff(ctx, trustedRequest("watch off")); err != nil {
		t.Fatalf("handleOff: %v", err)
	}
	if got := h.reg.Receivers(); len(got) != 1 {
		t.Fatalf("expected 1 receiver after off, got %+v", got)
	}
}

func TestHandleSubRequiresEnable(t *testing.T) {
	c, h := newTestCommander(t)
	ctx := context.Background()

	// Not enabled for channel 200 yet: must not error, must not mutate.
	if err := c.handleSub(ctx, trustedRequest("watch sub", "foo")); err != nil {
		t.Fatalf("handleSub on disabled chat: %v", err)
	}
	for _, r := range h.reg.Receivers() {
		if r.Channel == "200" {
			t.Fatalf("sub on disabled chat must not create a receiver: %+v", r)
		}
	}

	if err := c.handleOn(ctx, trustedRequest("watch on")); err != nil {
		t.Fatalf("handleOn: %v", err)
	}
	if err := c.handleSub(ctx, trustedRequest("watch sub", "foo")); err != nil {
		t.Fatalf("handleSub: %v", err)
	}

	var mine *config.Receiver
	for _, r := range h.reg.Receivers() {
		if r.Channel == "200" {
			r := r
			mine = &r
			break
		}
	}
	if mine == nil || len(mine.Packages) != 1 || mine.Packages[0] != "foo" {
		t.Fatalf("subscription not recorded: %+v", mine)
	}
}

func TestMutationsAreAudited(t *testing.T) {
	c, h := newTestCommander(t)
	ctx := context.Background()

	if err := c.handleOn(ctx, trustedRequest("watch on")); err != nil {
		t.Fatalf("handleOn: %v", err)
	}
	if err := c.handleSub(ctx, trustedRequest("watch sub", "foo")); err != nil {
		t.Fatalf("handleSub: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(h.storeDir, "audit.jsonl"))
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 audit entries, got %d:\n%s", len(lines), raw)
	}
	if !strings.Contains(lines[0], `"action":"enable"`) || !strings.Contains(lines[1], `"action":"subscribe"`) {
		t.Fatalf("unexpected audit actions:\n%s", raw)
	}
	if !strings.Contains(lines[1], `"detail":"foo"`) || !strings.Contains(lines[1], `"actor_id":"7"`) {
		t.Fatalf("audit entry missing fields:\n%s", raw)
	}
}

func TestCommandsCoverEveryRoute(t *testing.T) {
	c, _ := newTestCommander(t)
	routes := map[string]bool{}
	for _, cmd := range c.Commands() {
		if cmd.Handle == nil {
			t.Fatalf("command %q has no handler", cmd.Route)
		}
		routes[cmd.Route] = true
	}
	for _, want := range []string{"watch on", "watch off", "watch sub", "watch unsub", "watch list", "watch status", "catalog"} {
		if !routes[want] {
			t.Fatalf("missing route %q, have %v", want, routes)
		}
	}
	for _, cmd := range c.Commands() {
		if cmd.Route != "catalog" && cmd.Access != command.AccessTrusted {
			t.Fatalf("route %q must be trusted-only", cmd.Route)
		}
	}
}
