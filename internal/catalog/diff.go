package catalog

import "sort"

type ChangeKind int

const (
	ChangeCreated ChangeKind = iota
	ChangeUpdated
	ChangeDeleted
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeCreated:
		return "created"
	case ChangeUpdated:
		return "updated"
	case ChangeDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Change is one detected difference between two snapshots. It lives for a
// single poll cycle; Line is the pre-rendered message fragment.
type Change struct {
	Name string
	Kind ChangeKind
	Line string
}

// RenderOptions control which facts make it into the rendered fragments and
// whether deletions are reported at all.
type RenderOptions struct {
	ShowPublisher   bool
	ShowDescription bool
	ShowDeletions   bool

	// Language preference for localized descriptions: Language first, then
	// FallbackLanguage, then the description is omitted.
	Language         string
	FallbackLanguage string
}

// Diff compares two snapshots and returns the change records, ordered by
// package name. Map iteration order carries no meaning, so the union of keys
// is sorted to keep composed messages stable across runs.
//
// Equal versions produce no record. Deletions are suppressed entirely (not
// just hidden) when ShowDeletions is off, so they never reach routing.
func Diff(prev, cur Snapshot, opt RenderOptions) []Change {
	names := make([]string, 0, len(prev)+len(cur))
	seen := make(map[string]struct{}, len(prev)+len(cur))
	for n := range cur {
		names = append(names, n)
		seen[n] = struct{}{}
	}
	for n := range prev {
		if _, ok := seen[n]; !ok {
			names = append(names, n)
		}
	}
	sort.Strings(names)

	var changes []Change
	for _, name := range names {
		before, wasThere := prev[name]
		after, isThere := cur[name]
		switch {
		case !wasThere && isThere:
			changes = append(changes, Change{
				Name: name,
				Kind: ChangeCreated,
				Line: renderCreated(after, opt),
			})
		case wasThere && isThere:
			if before.Version == after.Version {
				continue
			}
			changes = append(changes, Change{
				Name: name,
				Kind: ChangeUpdated,
				Line: renderUpdated(before, after),
			})
		case wasThere && !isThere:
			if !opt.ShowDeletions {
				continue
			}
			changes = append(changes, Change{
				Name: name,
				Kind: ChangeDeleted,
				Line: renderDeleted(before),
			})
		}
	}
	return changes
}
