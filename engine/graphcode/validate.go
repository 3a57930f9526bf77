package graphcode

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
)

const maxProblems = 20

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate normalizes every property in place and checks that snap can be
// loaded: keys are unique and non-empty, labels and types are identifiers,
// relationship endpoints exist and no property is a map. All problems are
// reported together, wrapped in ErrInvalidSnapshot.
func Validate(snap *Snapshot) error {
	var errs []error
	add := func(format string, args ...any) {
		if len(errs) < maxProblems {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	if v := snap.Manifest.FormatVersion; v > FormatVersion {
		add("format version %d is newer than supported %d", v, FormatVersion)
	}

	keys := make(map[string]struct{}, len(snap.Nodes))
	for i := range snap.Nodes {
		n := &snap.Nodes[i]
		if n.ID == "" {
			add("node %d: empty key", i)
		} else if _, dup := keys[n.ID]; dup {
			add("node %q: duplicate key", n.ID)
		}
		keys[n.ID] = struct{}{}
		slices.Sort(n.Labels)
		for _, l := range n.Labels {
			if !identRe.MatchString(l) {
				add("node %q: invalid label %q", n.ID, l)
			}
		}
		props, err := NormalizeProps(n.Properties)
		if err != nil {
			add("node %q: %w", n.ID, err)
			continue
		}
		n.Properties = props
	}

	relKeys := make(map[string]struct{}, len(snap.Relationships))
	for i := range snap.Relationships {
		r := &snap.Relationships[i]
		if r.ID == "" {
			add("relationship %d: empty key", i)
		} else if _, dup := relKeys[r.ID]; dup {
			add("relationship %q: duplicate key", r.ID)
		}
		relKeys[r.ID] = struct{}{}
		if !identRe.MatchString(r.Type) {
			add("relationship %q: invalid type %q", r.ID, r.Type)
		}
		if _, ok := keys[r.Start]; !ok {
			add("relationship %q: %w: start %q", r.ID, ErrDangling, r.Start)
		}
		if _, ok := keys[r.End]; !ok {
			add("relationship %q: %w: end %q", r.ID, ErrDangling, r.End)
		}
		props, err := NormalizeProps(r.Properties)
		if err != nil {
			add("relationship %q: %w", r.ID, err)
			continue
		}
		r.Properties = props
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidSnapshot, errors.Join(errs...))
}

// CheckDigest compares the manifest digest with the snapshot content. It
// reports whether they match; a mismatch is an error only when strict. A
// snapshot without a digest never matches.
func CheckDigest(snap Snapshot, strict bool) (bool, error) {
	got, err := Digest(snap.Nodes, snap.Relationships)
	if err != nil {
		return false, err
	}
	want := snap.Manifest.Digest
	if want == got {
		return true, nil
	}
	if strict {
		if want == "" {
			return false, fmt.Errorf("%w: manifest has no digest", ErrDigestMismatch)
		}
		return false, fmt.Errorf("%w: manifest %s, content %s", ErrDigestMismatch, want, got)
	}
	return false, nil
}
