// Package discord adapts a Discord bot (gateway via discordgo) to the
// transport interfaces.
package discord

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"

	"pkgwatch/internal/transport"
	logx "pkgwatch/pkg/logx"
)

const Platform = "discord"

type Config struct {
	Account    string
	Token      string
	TrustedIDs []string
}

type Adapter struct {
	cfg Config
	log logx.Logger

	session *discordgo.Session
	out     atomic.Value // stores (chan<- transport.Update)

	runMu   sync.Mutex
	running bool

	droppedUpdates uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("discord token is empty")
	}
	if strings.TrimSpace(cfg.Account) == "" {
		cfg.Account = "default"
	}
	s, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, session: s}
	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	s.AddHandler(a.onMessageCreate)
	return a, nil
}

func (a *Adapter) Platform() string { return Platform }
func (a *Adapter) Account() string  { return a.cfg.Account }

func (a *Adapter) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	up := transport.Update{
		From: transport.ChatRef{
			Platform: Platform,
			Account:  a.cfg.Account,
			Channel:  m.ChannelID,
			Group:    m.GuildID,
		},
		UserID:   m.Author.ID,
		Username: m.Author.Username,
		Text:     m.Content,
		Trusted:  a.isTrusted(m.Author.ID),
	}

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

func (a *Adapter) isTrusted(id string) bool {
	for _, t := range a.cfg.TrustedIDs {
		if t == id {
			return true
		}
	}
	return false
}

func (a *Adapter) Start(ctx context.Context, out chan<- transport.Update) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.running {
		return nil
	}
	a.out.Store(out)
	if err := a.session.Open(); err != nil {
		var nilOut chan<- transport.Update
		a.out.Store(nilOut)
		return err
	}
	a.running = true
	a.log.Info("gateway connected", logx.String("account", a.cfg.Account))
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if !a.running {
		return nil
	}
	a.running = false
	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
		a.log.Warn("inbound updates were dropped (channel full)", logx.Int64("count", int64(n)))
	}
	return a.session.Close()
}

const discordTextLimit = 2000

// Send posts to the channel; group carries the guild id for registry
// symmetry but is not needed to address a Discord channel.
func (a *Adapter) Send(ctx context.Context, channel, group, text string) error {
	for _, chunk := range splitText(text, discordTextLimit) {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
		if _, err := a.session.ChannelMessageSend(channel, chunk, discordgo.WithContext(ctx)); err != nil {
			return err
		}
	}
	return nil
}

func splitText(s string, limit int) []string {
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
			for i := end - 1; i > start+limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
