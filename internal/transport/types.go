package transport

import (
	"context"
	"strings"
	"sync"
)

// ChatRef locates one chat on one platform: the same tuple shape the receiver
// registry persists. Group is platform specific (Telegram: forum thread id,
// Discord: guild id) and may be empty.
type ChatRef struct {
	Platform string
	Account  string
	Channel  string
	Group    string
}

func (c ChatRef) String() string {
	s := c.Platform + "/" + c.Account + "/" + c.Channel
	if c.Group != "" {
		s += "/" + c.Group
	}
	return s
}

// Update is one inbound message, normalized across platforms.
type Update struct {
	From     ChatRef
	UserID   string
	Username string
	Text     string

	// Trusted is set by the adapter when the sender is on the account's
	// trusted operator list. The command layer treats it as the authorization
	// decision for mutating commands.
	Trusted bool
}

// Sender is the minimal outbound capability the delivery executor needs.
type Sender interface {
	Send(ctx context.Context, channel, group, text string) error
}

// Adapter is a platform connection: it pushes inbound updates and can send.
type Adapter interface {
	Sender

	Platform() string
	Account() string
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}

// Set holds the configured adapters keyed by (platform, account).
type Set struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	order    []string
}

func NewSet() *Set {
	return &Set{adapters: make(map[string]Adapter)}
}

func key(platform, account string) string {
	return strings.ToLower(platform) + "/" + account
}

func (s *Set) Register(a Adapter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(a.Platform(), a.Account())
	if _, ok := s.adapters[k]; !ok {
		s.order = append(s.order, k)
	}
	s.adapters[k] = a
}

// Resolve returns the sender for a (platform, account) pair. The executor
// treats a miss as a per-receiver routing failure, never a fatal error.
func (s *Set) Resolve(platform, account string) (Sender, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.adapters[key(platform, account)]
	return a, ok
}

func (s *Set) All() []Adapter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Adapter, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.adapters[k])
	}
	return out
}

func (s *Set) StartAll(ctx context.Context, out chan<- Update) error {
	for _, a := range s.All() {
		if err := a.Start(ctx, out); err != nil {
			return err
		}
	}
	return nil
}

func (s *Set) StopAll(ctx context.Context) {
	for _, a := range s.All() {
		_ = a.Stop(ctx)
	}
}
