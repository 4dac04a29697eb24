// Package telegram adapts a Telegram bot (long polling via telebot) to the
// transport interfaces.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"pkgwatch/internal/transport"
	logx "pkgwatch/pkg/logx"
)

const Platform = "telegram"

type Config struct {
	Account     string
	Token       string
	PollTimeout time.Duration
	TrustedIDs  []int64
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot *tele.Bot
	out atomic.Value // stores (chan<- transport.Update)

	runMu   sync.Mutex
	running bool
	done    chan struct{}

	// droppedUpdates counts inbound messages dropped because the consumer was
	// slower than the poll loop; reported once on Stop to avoid log spam.
	droppedUpdates uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if strings.TrimSpace(cfg.Account) == "" {
		cfg.Account = "default"
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) Platform() string { return Platform }
func (a *Adapter) Account() string  { return a.cfg.Account }

func (a *Adapter) registerHandlers() {
	// Handlers forward to the CURRENT output channel. Start() may swap it.
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil {
			return nil
		}
		group := ""
		if m.ThreadID != 0 {
			group = strconv.Itoa(m.ThreadID)
		}
		up := transport.Update{
			From: transport.ChatRef{
				Platform: Platform,
				Account:  a.cfg.Account,
				Channel:  strconv.FormatInt(m.Chat.ID, 10),
				Group:    group,
			},
			UserID:   strconv.FormatInt(m.Sender.ID, 10),
			Username: m.Sender.Username,
			Text:     m.Text,
			Trusted:  a.isTrusted(m.Sender.ID),
		}
		a.sendUpdate(up)
		return nil
	})
}

func (a *Adapter) isTrusted(id int64) bool {
	for _, t := range a.cfg.TrustedIDs {
		if t == id {
			return true
		}
	}
	return false
}

func (a *Adapter) sendUpdate(up transport.Update) {
	v := a.out.Load()
	out, _ := v.(chan<- transport.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- transport.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.done = make(chan struct{})
	done := a.done
	a.out.Store(out)
	a.runMu.Unlock()

	go func() {
		<-ctx.Done()
		a.bot.Stop()
	}()

	go func() {
		defer close(done)
		a.log.Info("polling started", logx.String("account", a.cfg.Account))
		// Start blocks until Stop() is called.
		a.bot.Start()
		a.log.Info("polling stopped", logx.String("account", a.cfg.Account))
	}()
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	wasRunning := a.running
	a.running = false
	done := a.done
	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
		a.log.Warn("inbound updates were dropped (channel full)", logx.Int64("count", int64(n)))
	}

	// telebot Stop is expected to be fast; run it async just in case and keep
	// shutdown snappy even if a getUpdates long-poll is still waiting.
	go a.bot.Stop()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		a.log.Warn("telegram stop timed out", logx.Err(ctx.Err()))
		return nil
	}
}

const telegramTextLimit = 4000

func (a *Adapter) Send(ctx context.Context, channel, group, text string) error {
	chatID, err := strconv.ParseInt(strings.TrimSpace(channel), 10, 64)
	if err != nil {
		return fmt.Errorf("telegram channel %q: %w", channel, err)
	}
	threadID := 0
	if g := strings.TrimSpace(group); g != "" {
		threadID, err = strconv.Atoi(g)
		if err != nil {
			return fmt.Errorf("telegram group %q: %w", group, err)
		}
	}

	chat := &tele.Chat{ID: chatID}
	for _, chunk := range splitText(text, telegramTextLimit) {
		err := awaitSend(ctx, func() error {
			opt := &tele.SendOptions{ThreadID: threadID, DisableWebPagePreview: true}
			_, err := a.bot.Send(chat, chunk, opt)
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// awaitSend runs fn and honors the context deadline. telebot calls carry no
// context, so a send that outlives ctx is abandoned to its goroutine and the
// caller gets ctx.Err() instead of blocking.
func awaitSend(ctx context.Context, fn func() error) error {
	if ctx == nil {
		return fn()
	}
	errc := make(chan error, 1)
	go func() { errc <- fn() }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// splitText splits long messages into chunks Telegram will accept, preferring
// newline boundaries.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}
		if end < len(rs) {
			cut := -1
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' {
					// Avoid extremely small chunks.
					if i-start >= limit/3 {
						cut = i + 1
						break
					}
				}
			}
			if cut != -1 {
				end = cut
			}
		}
		chunk := strings.TrimRight(string(rs[start:end]), "\n")
		out = append(out, chunk)
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
