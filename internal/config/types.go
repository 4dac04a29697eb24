package config

import (
	"bytes"
	"encoding/json"
	"strings"
)

type Config struct {
	Catalog  CatalogConfig     `json:"catalog"`
	Telegram []TelegramAccount `json:"telegram,omitempty"`
	Discord  []DiscordAccount  `json:"discord,omitempty"`
	Logging  LoggingConfig     `json:"logging"`
	Notify   NotifyConfig      `json:"notify,omitempty"`
	Storage  *StorageConfig    `json:"storage,omitempty"`

	// Receivers is the persisted destination registry. It is mutated by the
	// admin commands (watch on/off, sub/unsub) and written back to disk through
	// Manager.Mutate, so it survives restarts.
	Receivers []Receiver `json:"receivers"`
}

// CatalogConfig controls polling and message rendering.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type CatalogConfig struct {
	Endpoint string `json:"endpoint"`
	// PollInterval is the cycle period. Defaults to "1m" when omitted.
	PollInterval string `json:"poll_interval,omitempty"`
	// FetchTimeout bounds a single catalog HTTP fetch. Defaults to "30s".
	FetchTimeout string `json:"fetch_timeout,omitempty"`

	ShowHidden      bool `json:"show_hidden"`
	ShowDeletions   bool `json:"show_deletions"`
	ShowPublisher   bool `json:"show_publisher"`
	ShowDescription bool `json:"show_description"`

	// Language is the preferred description language; FallbackLanguage is tried
	// next. If neither variant exists the description is omitted.
	Language         string `json:"language,omitempty"`
	FallbackLanguage string `json:"fallback_language,omitempty"`
}

type TelegramAccount struct {
	// Account names the bot within the transport set; receivers reference it.
	Account string `json:"account"`
	Token   string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
	// TrustedUserIDs may issue mutating watch commands through this bot.
	TrustedUserIDs []int64 `json:"trusted_user_ids,omitempty"`
}

type DiscordAccount struct {
	Account        string   `json:"account"`
	Token          string   `json:"token"`
	TrustedUserIDs []string `json:"trusted_user_ids,omitempty"`
}

// NotifyConfig controls the outbound delivery walk.
type NotifyConfig struct {
	// Throttle is the minimum gap between consecutive outbound messages within
	// one poll cycle ("0s" disables throttling). Defaults to "1s".
	Throttle string `json:"throttle,omitempty"`
	// Header prefixes every composed notification. Defaults to
	// "Catalog changes:".
	Header string `json:"header,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the optional persistence layer (admin audit +
// delivery failure log; catalog snapshots are never persisted).
//
// Example:
//
//	"storage": { "driver": "file", "path": "./pkgwatch_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// Receiver identifies one delivery destination. The (Platform, Account,
// Channel, Group) tuple is unique within Receivers.
type Receiver struct {
	Platform string `json:"platform"`
	Account  string `json:"account"`
	Channel  string `json:"channel"`
	Group    string `json:"group,omitempty"`

	// Packages is the interest list. Empty means "everything".
	Packages []string `json:"packages,omitempty"`
}

// SameTarget reports whether two receivers resolve to the same destination
// tuple (interest lists are not compared).
func (r Receiver) SameTarget(o Receiver) bool {
	return r.Platform == o.Platform && r.Account == o.Account &&
		r.Channel == o.Channel && r.Group == o.Group
}

// Target renders the tuple for logs and replies.
func (r Receiver) Target() string {
	var b strings.Builder
	b.WriteString(r.Platform)
	b.WriteString("/")
	b.WriteString(r.Account)
	b.WriteString("/")
	b.WriteString(r.Channel)
	if r.Group != "" {
		b.WriteString("/")
		b.WriteString(r.Group)
	}
	return b.String()
}

// UnmarshalJSON disallows unknown fields so typos in persisted receivers are
// caught early during config reload.
func (r *Receiver) UnmarshalJSON(b []byte) error {
	type tmp struct {
		Platform string   `json:"platform"`
		Account  string   `json:"account"`
		Channel  string   `json:"channel"`
		Group    string   `json:"group,omitempty"`
		Packages []string `json:"packages,omitempty"`
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var t tmp
	if err := dec.Decode(&t); err != nil {
		return err
	}
	*r = Receiver{Platform: t.Platform, Account: t.Account, Channel: t.Channel, Group: t.Group, Packages: t.Packages}
	return nil
}
