// Package command routes inbound chat messages to registered handlers.
//
// Routes are space-separated paths ("watch sub"); matching is longest-prefix
// over the message tokens, so "watch sub foo" resolves to the "watch sub"
// command with args ["foo"].
package command

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"pkgwatch/internal/transport"
	logx "pkgwatch/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	// AccessTrusted commands require the sender to be on the account's
	// trusted operator list; others get a plain rejection reply.
	AccessTrusted
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Command struct {
	Route       string
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

// Request carries one matched inbound command.
type Request struct {
	Update transport.Update
	Args   []string
	Log    logx.Logger

	reply func(ctx context.Context, text string) error
}

// Reply sends plain text back to the chat the command came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	if r.reply == nil {
		return nil
	}
	return r.reply(ctx, text)
}

const defaultHandleTimeout = 30 * time.Second

type Dispatcher struct {
	mu   sync.RWMutex
	cmds []Command // kept sorted by route token count, longest first

	set *transport.Set
	log logx.Logger
}

func NewDispatcher(set *transport.Set, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{set: set, log: log}
}

func (d *Dispatcher) Register(cmds ...Command) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cmds = append(d.cmds, cmds...)
	sort.SliceStable(d.cmds, func(i, j int) bool {
		return len(strings.Fields(d.cmds[i].Route)) > len(strings.Fields(d.cmds[j].Route))
	})
}

func (d *Dispatcher) Commands() []Command {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Command(nil), d.cmds...)
}

// DispatchLoop consumes updates until ctx is done. Unmatched messages are
// ignored silently (group chats carry plenty of unrelated traffic).
func (d *Dispatcher) DispatchLoop(ctx context.Context, updates <-chan transport.Update) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			d.dispatch(ctx, up)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, up transport.Update) {
	tokens := normalize(up.Text)
	if len(tokens) == 0 {
		return
	}

	cmd, args, ok := d.match(tokens)
	if !ok {
		return
	}

	req := &Request{
		Update: up,
		Args:   args,
		Log:    d.log.With(logx.String("cmd", cmd.Route)),
		reply:  d.replyFunc(up.From),
	}

	if cmd.Access == AccessTrusted && !up.Trusted {
		d.log.Debug("command rejected (untrusted)",
			logx.String("cmd", cmd.Route),
			logx.String("from", up.From.String()),
			logx.String("user", up.UserID),
		)
		_ = req.Reply(ctx, "You are not authorized to do that.")
		return
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = defaultHandleTimeout
	}
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			d.log.Error("command handler panicked",
				logx.String("cmd", cmd.Route),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
		}
	}()

	start := time.Now()
	if err := cmd.Handle(hctx, req); err != nil {
		d.log.Warn("command failed",
			logx.String("cmd", cmd.Route),
			logx.String("from", up.From.String()),
			logx.Err(err),
			logx.Duration("took", time.Since(start)),
		)
		return
	}
	d.log.Debug("command handled",
		logx.String("cmd", cmd.Route),
		logx.String("from", up.From.String()),
		logx.Duration("took", time.Since(start)),
	)
}

func (d *Dispatcher) match(tokens []string) (Command, []string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, c := range d.cmds {
		route := strings.Fields(strings.ToLower(c.Route))
		if len(route) > len(tokens) {
			continue
		}
		matched := true
		for i, r := range route {
			if strings.ToLower(tokens[i]) != r {
				matched = false
				break
			}
		}
		if matched {
			return c, tokens[len(route):], true
		}
	}
	return Command{}, nil, false
}

func (d *Dispatcher) replyFunc(from transport.ChatRef) func(ctx context.Context, text string) error {
	return func(ctx context.Context, text string) error {
		sender, ok := d.set.Resolve(from.Platform, from.Account)
		if !ok {
			return fmt.Errorf("no transport for %s/%s", from.Platform, from.Account)
		}
		return sender.Send(ctx, from.Channel, from.Group, text)
	}
}

// normalize tokenizes the message and strips the command sigil ("/" or "!")
// plus any "@botname" suffix Telegram appends in groups.
func normalize(text string) []string {
	tokens := strings.Fields(strings.TrimSpace(text))
	if len(tokens) == 0 {
		return nil
	}
	first := tokens[0]
	first = strings.TrimPrefix(first, "/")
	first = strings.TrimPrefix(first, "!")
	if i := strings.IndexByte(first, '@'); i > 0 {
		first = first[:i]
	}
	if first == "" {
		return nil
	}
	tokens[0] = first
	return tokens
}
