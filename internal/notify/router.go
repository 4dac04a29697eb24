// Package notify turns a poll cycle's change list into per-receiver messages
// and walks the resulting delivery plan with throttling and per-receiver
// failure isolation.
package notify

import (
	"strings"

	"pkgwatch/internal/catalog"
	"pkgwatch/internal/config"
)

const DefaultHeader = "Catalog changes:"

// Delivery is one planned send: a receiver plus its composed message.
type Delivery struct {
	Receiver config.Receiver
	Message  string
}

// Route matches every receiver against the change list and composes one
// aggregate message per receiver. Receivers whose filtered set is empty are
// skipped entirely, so no empty notifications go out. Receiver order follows
// registration order; line order follows the diff order.
func Route(changes []catalog.Change, receivers []config.Receiver, header string) []Delivery {
	if len(changes) == 0 {
		return nil
	}
	if strings.TrimSpace(header) == "" {
		header = DefaultHeader
	}

	var plan []Delivery
	for _, rc := range receivers {
		lines := relevantLines(changes, rc.Packages)
		if len(lines) == 0 {
			continue
		}
		plan = append(plan, Delivery{
			Receiver: rc,
			Message:  header + "\n" + strings.Join(lines, "\n"),
		})
	}
	return plan
}

// relevantLines filters by the interest list; an empty list means everything.
func relevantLines(changes []catalog.Change, interests []string) []string {
	var lines []string
	for _, ch := range changes {
		if len(interests) > 0 && !contains(interests, ch.Name) {
			continue
		}
		lines = append(lines, ch.Line)
	}
	return lines
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
