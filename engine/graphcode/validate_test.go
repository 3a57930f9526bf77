package graphcode

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var exportedAt = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

// sampleSnapshot is a small FMEA chain: one element, two failures and a
// causation linking them, plus an unkeyed node.
func sampleSnapshot(t *testing.T) Snapshot {
	t.Helper()
	nodes := []Node{
		{ID: "f2", Labels: []string{"FAILURE"}, Properties: map[string]any{"id": "f2", "name": "No torque"}},
		{ID: "e1", Labels: []string{"ELEMENT"}, Properties: map[string]any{"id": "e1", "name": "Motor", "type": "component"}},
		{ID: "f1", Labels: []string{"FAILURE"}, Properties: map[string]any{"id": "f1", "name": "Winding short", "rank": int64(3)}},
		{ID: "c1", Labels: []string{"CAUSATION"}, Properties: map[string]any{"id": "c1"}},
		{ID: "4:x:9", Properties: map[string]any{"note": "unkeyed"}},
	}
	rels := []Relationship{
		{ID: "r1", Type: "FIRST", Start: "c1", End: "f1", Properties: map[string]any{}},
		{ID: "r2", Type: "THEN", Start: "c1", End: "f2", Properties: map[string]any{}},
		{ID: "r3", Type: "OCCURRENCE", Start: "f1", End: "e1", Properties: map[string]any{"weight": 0.5}},
	}
	snap, err := NewSnapshot(nodes, rels, exportedAt)
	require.NoError(t, err)
	require.NoError(t, Validate(&snap))
	return snap
}

func TestNewSnapshotManifest(t *testing.T) {
	snap := sampleSnapshot(t)
	m := snap.Manifest
	require.Equal(t, FormatVersion, m.FormatVersion)
	require.Equal(t, 5, m.NodeCount)
	require.Equal(t, 3, m.RelationshipCount)
	require.Equal(t, map[string]int{"FAILURE": 2, "ELEMENT": 1, "CAUSATION": 1}, m.Labels)
	require.Equal(t, map[string]int{"FIRST": 1, "THEN": 1, "OCCURRENCE": 1}, m.Types)
	require.Equal(t, []string{"4:x:9", "c1", "e1", "f1", "f2"}, []string{
		snap.Nodes[0].ID, snap.Nodes[1].ID, snap.Nodes[2].ID, snap.Nodes[3].ID, snap.Nodes[4].ID,
	})
	require.Equal(t, UnlabeledDir, snap.Nodes[0].PrimaryLabel())
}

func TestValidateReportsAllProblems(t *testing.T) {
	snap := Snapshot{
		Nodes: []Node{
			{ID: "a", Labels: []string{"OK"}},
			{ID: "a", Labels: []string{"bad label"}},
			{ID: "", Labels: []string{"OK"}},
			{ID: "m", Properties: map[string]any{"meta": map[string]any{"x": 1}}},
		},
		Relationships: []Relationship{
			{ID: "r", Type: "LINKS", Start: "a", End: "ghost"},
			{ID: "r", Type: "9LIVES", Start: "a", End: "a"},
		},
	}
	err := Validate(&snap)
	require.ErrorIs(t, err, ErrInvalidSnapshot)
	require.ErrorIs(t, err, ErrDangling)
	require.ErrorIs(t, err, ErrMapProperty)
	for _, want := range []string{
		`node "a": duplicate key`,
		`invalid label "bad label"`,
		"node 2: empty key",
		`relationship "r": duplicate key`,
		`invalid type "9LIVES"`,
		`end "ghost"`,
	} {
		require.Contains(t, err.Error(), want)
	}
}

func TestValidateRejectsNewerFormat(t *testing.T) {
	snap := Snapshot{Manifest: Manifest{FormatVersion: FormatVersion + 1}}
	require.ErrorIs(t, Validate(&snap), ErrInvalidSnapshot)
}

func TestDigestIgnoresOrderAndNumberForm(t *testing.T) {
	a := []Node{
		{ID: "x", Labels: []string{"B", "A"}, Properties: map[string]any{"v": int64(1)}},
		{ID: "y"},
	}
	b := []Node{
		{ID: "y", Labels: []string{}, Properties: map[string]any{}},
		{ID: "x", Labels: []string{"A", "B"}, Properties: map[string]any{"v": 1.0}},
	}
	da, err := Digest(a, nil)
	require.NoError(t, err)
	db, err := Digest(b, []Relationship{})
	require.NoError(t, err)
	require.Equal(t, da, db)
	require.Regexp(t, `^blake3:[0-9a-f]{64}$`, da)

	b[0].Properties["extra"] = true
	dc, err := Digest(b, nil)
	require.NoError(t, err)
	require.NotEqual(t, da, dc)
}

func TestCheckDigest(t *testing.T) {
	snap := sampleSnapshot(t)
	ok, err := CheckDigest(snap, true)
	require.NoError(t, err)
	require.True(t, ok)

	snap.Nodes[1].Properties["tampered"] = true
	ok, err = CheckDigest(snap, false)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = CheckDigest(snap, true)
	require.ErrorIs(t, err, ErrDigestMismatch)

	snap.Manifest.Digest = ""
	_, err = CheckDigest(snap, true)
	require.ErrorIs(t, err, ErrDigestMismatch)
	require.Contains(t, err.Error(), "no digest")
}
