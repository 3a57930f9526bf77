package graphcode

import (
	"encoding/hex"
	"encoding/json"
	"slices"
	"strings"

	"github.com/zeebo/blake3"
)

const digestPrefix = "blake3:"

// Digest hashes the canonical JSON of nodes then relationships, each sorted by
// key. Map keys are ordered by encoding/json, so equal graphs hash equally
// regardless of input order.
func Digest(nodes []Node, rels []Relationship) (string, error) {
	ns := make([]Node, len(nodes))
	for i, n := range nodes {
		ns[i] = Node{ID: n.ID, Labels: slices.Sorted(slices.Values(n.Labels)), Properties: n.Properties}
		if ns[i].Labels == nil {
			ns[i].Labels = []string{}
		}
		if ns[i].Properties == nil {
			ns[i].Properties = map[string]any{}
		}
	}
	slices.SortFunc(ns, func(a, b Node) int { return strings.Compare(a.ID, b.ID) })

	rs := slices.Clone(rels)
	for i := range rs {
		if rs[i].Properties == nil {
			rs[i].Properties = map[string]any{}
		}
	}
	slices.SortFunc(rs, func(a, b Relationship) int { return strings.Compare(a.ID, b.ID) })
	if rs == nil {
		rs = []Relationship{}
	}

	h := blake3.New()
	enc := json.NewEncoder(h)
	if err := enc.Encode(ns); err != nil {
		return "", err
	}
	if err := enc.Encode(rs); err != nil {
		return "", err
	}
	return digestPrefix + hex.EncodeToString(h.Sum(nil)), nil
}

// shortHash is the first 8 hex digits of the blake3 hash of s.
func shortHash(s string) string {
	sum := blake3.Sum256([]byte(s))
	return hex.EncodeToString(sum[:4])
}
