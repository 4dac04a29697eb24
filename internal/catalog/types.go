package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Entry is one catalog item, reduced from the remote document.
// Entries are immutable once built; every poll produces fresh ones.
type Entry struct {
	Name      string
	Version   string
	Publisher string // publisher username, "" when absent
	Hidden    bool

	// Description is the plain variant; Descriptions holds the localized
	// variants when the catalog ships a language map instead. At most one of
	// the two is set for a given entry.
	Description  string
	Descriptions map[string]string
}

// Snapshot maps package name to its entry at one poll instant. It is built
// fresh each cycle and only ever held as "previous" until the next cycle
// replaces it.
type Snapshot map[string]Entry

// ---- wire format ----

// The remote document is either a bare JSON array of package objects or an
// object wrapping that array under "packages".
type rawDocument struct {
	Packages []rawPackage `json:"packages"`
}

type rawPackage struct {
	Name     string      `json:"name"`
	Manifest rawManifest `json:"manifest"`
	Package  rawRelease  `json:"package"`
}

type rawManifest struct {
	Name        string          `json:"name"`
	Hidden      bool            `json:"hidden,omitempty"`
	Description descriptionText `json:"description,omitempty"`
}

type rawRelease struct {
	Version   string        `json:"version"`
	Publisher *rawPublisher `json:"publisher,omitempty"`
}

type rawPublisher struct {
	Username string `json:"username"`
}

// descriptionText accepts either a plain string or a language-code map.
type descriptionText struct {
	Plain     string
	Localized map[string]string
}

func (d *descriptionText) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*d = descriptionText{}
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*d = descriptionText{Plain: s}
		return nil
	case '{':
		var m map[string]string
		if err := json.Unmarshal(b, &m); err != nil {
			return err
		}
		*d = descriptionText{Localized: m}
		return nil
	default:
		return fmt.Errorf("description: expected string or object, got %s", string(b[:1]))
	}
}
