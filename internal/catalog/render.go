package catalog

import (
	"fmt"
	"strings"
)

// Fragment rendering is a pure function of the entries plus options; nothing
// here may consult external state, so the same diff always renders the same
// text.

func renderCreated(e Entry, opt RenderOptions) string {
	var b strings.Builder
	fmt.Fprintf(&b, "new package %s (%s)", e.Name, e.Version)
	if opt.ShowPublisher && e.Publisher != "" {
		b.WriteString(" by ")
		b.WriteString(e.Publisher)
	}
	if opt.ShowDescription {
		if d := e.DescriptionIn(opt.Language, opt.FallbackLanguage); d != "" {
			b.WriteString(": ")
			b.WriteString(d)
		}
	}
	return b.String()
}

func renderUpdated(before, after Entry) string {
	return fmt.Sprintf("%s updated: %s -> %s", after.Name, before.Version, after.Version)
}

func renderDeleted(e Entry) string {
	return fmt.Sprintf("%s removed", e.Name)
}

// DescriptionIn picks the best description variant: the plain text when the
// catalog shipped one, otherwise lang, then fallback, then "".
func (e Entry) DescriptionIn(lang, fallback string) string {
	if e.Description != "" {
		return e.Description
	}
	if len(e.Descriptions) == 0 {
		return ""
	}
	if lang != "" {
		if d, ok := e.Descriptions[lang]; ok && d != "" {
			return d
		}
	}
	if fallback != "" {
		if d, ok := e.Descriptions[fallback]; ok && d != "" {
			return d
		}
	}
	return ""
}
