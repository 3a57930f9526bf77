// Package graphcode serializes the whole graph to version-controllable
// snapshots and restores the database from them.
//
// A snapshot is the set of every node and relationship plus a manifest with
// counts and a content digest. Snapshots are stored as a single JSON document,
// a directory tree with one file per node and relationship, or that tree as a
// zstd-compressed tar archive. Restoring wipes the database and recreates the
// snapshot in one write transaction.
package graphcode

import (
	"maps"
	"slices"
	"strings"
	"time"
)

// FormatVersion is written to every manifest. Snapshots with a newer version
// are rejected.
const FormatVersion = 1

// UnlabeledDir names the directory of nodes that carry no label.
const UnlabeledDir = "_unlabeled"

// Node is one graph node. ID is the node's key: its "id" property when that is
// a non-empty string, otherwise the database element id.
type Node struct {
	ID         string         `json:"id"`
	Labels     []string       `json:"labels"`
	Properties map[string]any `json:"properties"`
}

// PrimaryLabel is the first label in sorted order, or UnlabeledDir.
func (n Node) PrimaryLabel() string {
	if len(n.Labels) == 0 {
		return UnlabeledDir
	}
	return slices.Min(n.Labels)
}

// Relationship is one directed edge. Start and End are node keys.
type Relationship struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Start      string         `json:"start"`
	End        string         `json:"end"`
	Properties map[string]any `json:"properties"`
}

// Manifest summarizes a snapshot.
type Manifest struct {
	FormatVersion     int            `json:"format_version"`
	ExportedAt        time.Time      `json:"exported_at"`
	NodeCount         int            `json:"node_count"`
	RelationshipCount int            `json:"relationship_count"`
	Labels            map[string]int `json:"labels"`
	Types             map[string]int `json:"types"`
	Digest            string         `json:"digest"`
}

// Snapshot is a complete graph.
type Snapshot struct {
	Manifest      Manifest       `json:"manifest"`
	Nodes         []Node         `json:"nodes"`
	Relationships []Relationship `json:"relationships"`
}

// NewSnapshot sorts nodes and relationships by key and builds the manifest.
func NewSnapshot(nodes []Node, rels []Relationship, exportedAt time.Time) (Snapshot, error) {
	snap := Snapshot{Nodes: nodes, Relationships: rels}
	snap.sort()
	digest, err := Digest(snap.Nodes, snap.Relationships)
	if err != nil {
		return Snapshot{}, err
	}
	snap.Manifest = Manifest{
		FormatVersion:     FormatVersion,
		ExportedAt:        exportedAt.UTC(),
		NodeCount:         len(snap.Nodes),
		RelationshipCount: len(snap.Relationships),
		Labels:            map[string]int{},
		Types:             map[string]int{},
		Digest:            digest,
	}
	for _, n := range snap.Nodes {
		for _, l := range n.Labels {
			snap.Manifest.Labels[l]++
		}
	}
	for _, r := range snap.Relationships {
		snap.Manifest.Types[r.Type]++
	}
	return snap, nil
}

func (s *Snapshot) sort() {
	for i := range s.Nodes {
		slices.Sort(s.Nodes[i].Labels)
	}
	slices.SortFunc(s.Nodes, func(a, b Node) int { return strings.Compare(a.ID, b.ID) })
	slices.SortFunc(s.Relationships, func(a, b Relationship) int { return strings.Compare(a.ID, b.ID) })
}

// LabelKey identifies a label set, e.g. "ELEMENT:FAILURE".
func LabelKey(labels []string) string {
	return strings.Join(slices.Sorted(slices.Values(labels)), ":")
}

// SortedLabels returns the keys of a manifest count map in order.
func SortedLabels(m map[string]int) []string {
	return slices.Sorted(maps.Keys(m))
}
