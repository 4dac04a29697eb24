package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records one operator action. Keep it compact and schema-stable.
type AuditEntry struct {
	At       time.Time `json:"at"`
	ActorID  string    `json:"actor_id"`
	Username string    `json:"username,omitempty"`
	Target   string    `json:"target"`
	Action   string    `json:"action"`
	Detail   string    `json:"detail,omitempty"`
}

// DeliveryFailure records one skipped or failed delivery.
type DeliveryFailure struct {
	At     time.Time `json:"at"`
	Target string    `json:"target"`
	Reason string    `json:"reason"`
}
