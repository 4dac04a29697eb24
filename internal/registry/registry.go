// Package registry maintains the persisted set of delivery destinations and
// their package interest lists. Every mutation is written through the config
// manager before it returns, so destination state survives restarts.
//
// Authorization is a caller precondition: the command layer only routes
// trusted operators here.
package registry

import (
	"errors"

	"pkgwatch/internal/config"
	logx "pkgwatch/pkg/logx"
)

// ErrNotEnabled is returned by interest-list operations on a destination that
// was never enabled (watch on).
var ErrNotEnabled = errors.New("destination not enabled")

// Everything resets an interest list back to "all packages".
const Everything = "*"

type Registry struct {
	cfgm *config.Manager
	log  logx.Logger
}

func New(cfgm *config.Manager, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{cfgm: cfgm, log: log}
}

// Receivers returns a copy of the current destination list in registration
// order. Callers re-read it every poll cycle instead of caching.
func (r *Registry) Receivers() []config.Receiver {
	cfg := r.cfgm.Get()
	if cfg == nil {
		return nil
	}
	out := make([]config.Receiver, len(cfg.Receivers))
	copy(out, cfg.Receivers)
	return out
}

// Enable appends a destination with an empty interest list (everything).
// Returns false without touching disk when the tuple is already present.
func (r *Registry) Enable(t config.Receiver) (bool, error) {
	added := false
	err := r.cfgm.Mutate(func(cfg *config.Config) error {
		for _, rc := range cfg.Receivers {
			if rc.SameTarget(t) {
				return errUnchanged
			}
		}
		cfg.Receivers = append(cfg.Receivers, config.Receiver{
			Platform: t.Platform,
			Account:  t.Account,
			Channel:  t.Channel,
			Group:    t.Group,
		})
		added = true
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	r.log.Info("receiver enabled", logx.String("target", t.Target()))
	return added, nil
}

// Disable removes the destination. Returns false when it was absent.
func (r *Registry) Disable(t config.Receiver) (bool, error) {
	removed := false
	err := r.cfgm.Mutate(func(cfg *config.Config) error {
		for i, rc := range cfg.Receivers {
			if rc.SameTarget(t) {
				cfg.Receivers = append(cfg.Receivers[:i], cfg.Receivers[i+1:]...)
				removed = true
				return nil
			}
		}
		return errUnchanged
	})
	if errors.Is(err, errUnchanged) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	r.log.Info("receiver disabled", logx.String("target", t.Target()))
	return removed, nil
}

// Subscribe narrows the destination's interest to the named package
// (idempotent append). Everything ("*") resets the list so the destination is
// interested in all changes again.
func (r *Registry) Subscribe(t config.Receiver, name string) (bool, error) {
	changed := false
	err := r.cfgm.Mutate(func(cfg *config.Config) error {
		rc := findTarget(cfg, t)
		if rc == nil {
			return ErrNotEnabled
		}
		if name == Everything {
			if len(rc.Packages) == 0 {
				return errUnchanged
			}
			rc.Packages = nil
			changed = true
			return nil
		}
		for _, p := range rc.Packages {
			if p == name {
				return errUnchanged
			}
		}
		rc.Packages = append(rc.Packages, name)
		changed = true
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return changed, nil
}

// Unsubscribe removes the name from the interest list. Everything ("*")
// resets the list. Returns false when the name wasn't subscribed.
func (r *Registry) Unsubscribe(t config.Receiver, name string) (bool, error) {
	changed := false
	err := r.cfgm.Mutate(func(cfg *config.Config) error {
		rc := findTarget(cfg, t)
		if rc == nil {
			return ErrNotEnabled
		}
		if name == Everything {
			if len(rc.Packages) == 0 {
				return errUnchanged
			}
			rc.Packages = nil
			changed = true
			return nil
		}
		for i, p := range rc.Packages {
			if p == name {
				rc.Packages = append(rc.Packages[:i], rc.Packages[i+1:]...)
				changed = true
				return nil
			}
		}
		return errUnchanged
	})
	if errors.Is(err, errUnchanged) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return changed, nil
}

// List returns a copy of the interest list in subscription order.
// An empty list means "everything".
func (r *Registry) List(t config.Receiver) ([]string, error) {
	cfg := r.cfgm.Get()
	if cfg == nil {
		return nil, ErrNotEnabled
	}
	for _, rc := range cfg.Receivers {
		if rc.SameTarget(t) {
			return append([]string(nil), rc.Packages...), nil
		}
	}
	return nil, ErrNotEnabled
}

// errUnchanged aborts a Mutate without persisting anything; it never escapes
// this package.
var errUnchanged = errors.New("unchanged")

func findTarget(cfg *config.Config, t config.Receiver) *config.Receiver {
	for i := range cfg.Receivers {
		if cfg.Receivers[i].SameTarget(t) {
			return &cfg.Receivers[i]
		}
	}
	return nil
}
