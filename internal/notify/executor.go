package notify

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"pkgwatch/internal/transport"
	logx "pkgwatch/pkg/logx"
)

// sendTimeout bounds one transport call so a hung send can't stall the cycle.
const sendTimeout = 10 * time.Second

// Resolver looks up the sender for a receiver's (platform, account) pair.
// *transport.Set satisfies it.
type Resolver interface {
	Resolve(platform, account string) (transport.Sender, bool)
}

// Executor walks a delivery plan sequentially. Sequential on purpose: the
// throttle bounds the outbound burst rate per cycle.
type Executor struct {
	resolver Resolver
	log      logx.Logger

	// onFailure records one delivery failure (missing transport or send
	// error); optional.
	onFailure func(target, reason string)
}

func NewExecutor(resolver Resolver, log logx.Logger) *Executor {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Executor{resolver: resolver, log: log}
}

// OnFailure installs the failure callback (e.g. the storage delivery log).
func (e *Executor) OnFailure(fn func(target, reason string)) { e.onFailure = fn }

// Deliver sends every plan entry in order, waiting throttle between
// consecutive sends (never before the first). A failed or unroutable entry is
// logged at warn level and skipped; the rest of the plan still runs. No retry
// within a cycle; a receiver that failed gets another chance next cycle if
// the change persists.
func (e *Executor) Deliver(ctx context.Context, plan []Delivery, throttle time.Duration) (sent, failed int) {
	var lim *rate.Limiter
	if throttle > 0 {
		// Burst 1 and a full bucket at start: the first send never waits.
		lim = rate.NewLimiter(rate.Every(throttle), 1)
	}

	for _, d := range plan {
		if ctx.Err() != nil {
			return sent, failed
		}
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return sent, failed
			}
		}

		rc := d.Receiver
		sender, ok := e.resolver.Resolve(rc.Platform, rc.Account)
		if !ok {
			failed++
			e.log.Warn("no transport for receiver",
				logx.String("target", rc.Target()),
				logx.String("platform", rc.Platform),
				logx.String("account", rc.Account),
			)
			e.recordFailure(rc.Target(), "no transport for "+rc.Platform+"/"+rc.Account)
			continue
		}

		sctx, cancel := context.WithTimeout(ctx, sendTimeout)
		err := sender.Send(sctx, rc.Channel, rc.Group, d.Message)
		cancel()
		if err != nil {
			failed++
			e.log.Warn("delivery failed",
				logx.String("target", rc.Target()),
				logx.Err(err),
			)
			e.recordFailure(rc.Target(), err.Error())
			continue
		}
		sent++
	}
	return sent, failed
}

func (e *Executor) recordFailure(target, reason string) {
	if e.onFailure != nil {
		e.onFailure(target, reason)
	}
}
