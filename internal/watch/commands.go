package watch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"pkgwatch/internal/catalog"
	"pkgwatch/internal/command"
	"pkgwatch/internal/config"
	"pkgwatch/internal/registry"
	"pkgwatch/internal/storage"
	logx "pkgwatch/pkg/logx"
)

// Commander exposes the chat-facing commands for subscription management and
// catalog queries.
type Commander struct {
	svc   *Service
	reg   *registry.Registry
	store storage.Store // may be nil
	log   logx.Logger
}

func NewCommander(svc *Service, reg *registry.Registry, store storage.Store, log logx.Logger) *Commander {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Commander{svc: svc, reg: reg, store: store, log: log}
}

func (c *Commander) Commands() []command.Command {
	return []command.Command{
		{
			Route:       "watch on",
			Description: "Enable catalog change notifications for this chat",
			Access:      command.AccessTrusted,
			Handle:      c.handleOn,
		},
		{
			Route:       "watch off",
			Description: "Disable notifications for this chat",
			Access:      command.AccessTrusted,
			Handle:      c.handleOff,
		},
		{
			Route:       "watch sub",
			Description: "Narrow notifications to a package (or * for everything)",
			Usage:       "watch sub <package|*>",
			Access:      command.AccessTrusted,
			Handle:      c.handleSub,
		},
		{
			Route:       "watch unsub",
			Description: "Stop watching a package (or * to clear the filter)",
			Usage:       "watch unsub <package|*>",
			Access:      command.AccessTrusted,
			Handle:      c.handleUnsub,
		},
		{
			Route:       "watch list",
			Description: "Show this chat's package filter",
			Access:      command.AccessTrusted,
			Handle:      c.handleList,
		},
		{
			Route:       "watch status",
			Description: "Show poll loop health and recent delivery failures",
			Access:      command.AccessTrusted,
			Handle:      c.handleStatus,
		},
		{
			Route:       "catalog",
			Description: "Show catalog size, or details for one package",
			Usage:       "catalog [package]",
			Handle:      c.handleCatalog,
		},
	}
}

func receiverFrom(req *command.Request) config.Receiver {
	f := req.Update.From
	return config.Receiver{Platform: f.Platform, Account: f.Account, Channel: f.Channel, Group: f.Group}
}

func (c *Commander) audit(ctx context.Context, req *command.Request, action, detail string) {
	if c.store == nil {
		return
	}
	err := c.store.AppendAudit(ctx, storage.AuditEntry{
		At:       time.Now(),
		ActorID:  req.Update.UserID,
		Username: req.Update.Username,
		Target:   receiverFrom(req).Target(),
		Action:   action,
		Detail:   detail,
	})
	if err != nil {
		c.log.Warn("audit write failed", logx.Err(err))
	}
}

func (c *Commander) handleOn(ctx context.Context, req *command.Request) error {
	changed, err := c.reg.Enable(receiverFrom(req))
	if err != nil {
		return err
	}
	if !changed {
		return req.Reply(ctx, "Notifications are already enabled here.")
	}
	c.audit(ctx, req, "enable", "")
	return req.Reply(ctx, "Notifications enabled. All catalog changes will be posted here; use `watch sub <package>` to narrow.")
}

func (c *Commander) handleOff(ctx context.Context, req *command.Request) error {
	changed, err := c.reg.Disable(receiverFrom(req))
	if err != nil {
		return err
	}
	if !changed {
		return req.Reply(ctx, "Notifications are not enabled here.")
	}
	c.audit(ctx, req, "disable", "")
	return req.Reply(ctx, "Notifications disabled.")
}

func (c *Commander) handleSub(ctx context.Context, req *command.Request) error {
	if len(req.Args) != 1 {
		return req.Reply(ctx, "Usage: watch sub <package|*>")
	}
	name := req.Args[0]
	changed, err := c.reg.Subscribe(receiverFrom(req), name)
	switch {
	case errors.Is(err, registry.ErrNotEnabled):
		return req.Reply(ctx, "Notifications are not enabled here. Run `watch on` first.")
	case err != nil:
		return err
	}
	if name == registry.Everything {
		if !changed {
			return req.Reply(ctx, "Already watching everything.")
		}
		c.audit(ctx, req, "subscribe", name)
		return req.Reply(ctx, "Watching everything again.")
	}
	if !changed {
		return req.Reply(ctx, fmt.Sprintf("Already watching %s.", name))
	}
	c.audit(ctx, req, "subscribe", name)
	return req.Reply(ctx, fmt.Sprintf("Now watching %s.", name))
}

func (c *Commander) handleUnsub(ctx context.Context, req *command.Request) error {
	if len(req.Args) != 1 {
		return req.Reply(ctx, "Usage: watch unsub <package|*>")
	}
	name := req.Args[0]
	changed, err := c.reg.Unsubscribe(receiverFrom(req), name)
	switch {
	case errors.Is(err, registry.ErrNotEnabled):
		return req.Reply(ctx, "Notifications are not enabled here.")
	case err != nil:
		return err
	}
	if name == registry.Everything {
		if !changed {
			return req.Reply(ctx, "No package filter is set.")
		}
		c.audit(ctx, req, "unsubscribe", name)
		return req.Reply(ctx, "Package filter cleared; watching everything.")
	}
	if !changed {
		return req.Reply(ctx, fmt.Sprintf("Not watching %s.", name))
	}
	c.audit(ctx, req, "unsubscribe", name)
	return req.Reply(ctx, fmt.Sprintf("Stopped watching %s.", name))
}

func (c *Commander) handleList(ctx context.Context, req *command.Request) error {
	names, err := c.reg.List(receiverFrom(req))
	switch {
	case errors.Is(err, registry.ErrNotEnabled):
		return req.Reply(ctx, "Notifications are not enabled here. Run `watch on` first.")
	case err != nil:
		return err
	}
	if len(names) == 0 {
		return req.Reply(ctx, "Watching everything.")
	}
	return req.Reply(ctx, "Watching:\n"+strings.Join(names, "\n"))
}

func (c *Commander) handleStatus(ctx context.Context, req *command.Request) error {
	st := c.svc.Status()
	var b strings.Builder
	if st.LastPoll.IsZero() {
		b.WriteString("Last poll: never\n")
	} else {
		fmt.Fprintf(&b, "Last poll: %s ago\n", time.Since(st.LastPoll).Round(time.Second))
	}
	if st.LastErr != "" {
		fmt.Fprintf(&b, "Last error: %s\n", st.LastErr)
	}
	fmt.Fprintf(&b, "Catalog entries: %d\n", st.Entries)
	fmt.Fprintf(&b, "Changes on last poll: %d\n", st.LastChanges)
	fmt.Fprintf(&b, "Receivers: %d", len(c.reg.Receivers()))

	if c.store != nil {
		failures, err := c.store.RecentDeliveryFailures(ctx, 5)
		if err != nil {
			c.log.Warn("failure log read failed", logx.Err(err))
		} else if len(failures) > 0 {
			b.WriteString("\nRecent delivery failures:")
			for _, f := range failures {
				fmt.Fprintf(&b, "\n%s %s: %s", f.At.Format("2006-01-02 15:04"), f.Target, f.Reason)
			}
		}
	}
	return req.Reply(ctx, b.String())
}

func (c *Commander) handleCatalog(ctx context.Context, req *command.Request) error {
	snap := c.svc.Current()
	if snap == nil {
		return req.Reply(ctx, "Catalog not fetched yet, try again shortly.")
	}
	if len(req.Args) == 0 {
		return req.Reply(ctx, fmt.Sprintf("%d packages in the catalog.", len(snap)))
	}
	name := req.Args[0]
	e, ok := snap[name]
	if !ok {
		e, ok = lookupFold(snap, name)
	}
	if !ok {
		return req.Reply(ctx, fmt.Sprintf("No package named %s.", name))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", e.Name, e.Version)
	if e.Publisher != "" {
		fmt.Fprintf(&b, "\nPublisher: %s", e.Publisher)
	}
	cfg := c.svc.cfgm.Get()
	if cfg != nil {
		if desc := e.DescriptionIn(cfg.Catalog.Language, cfg.Catalog.FallbackLanguage); desc != "" {
			fmt.Fprintf(&b, "\n%s", desc)
		}
	}
	return req.Reply(ctx, b.String())
}

// lookupFold is a case-insensitive fallback so chat clients that lowercase
// input still match. Ambiguity resolves to the lexically first match.
func lookupFold(snap catalog.Snapshot, name string) (catalog.Entry, bool) {
	var keys []string
	for k := range snap {
		if strings.EqualFold(k, name) {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return catalog.Entry{}, false
	}
	sort.Strings(keys)
	return snap[keys[0]], true
}
