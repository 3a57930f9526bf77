package graphcode

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestFileName(t *testing.T) {
	require.Equal(t, "f1.json", fileName("f1"))
	require.Equal(t, "a-b_c.1.json", fileName("a-b_c.1"))

	odd := fileName("4:db:12")
	require.True(t, strings.HasPrefix(odd, "4_db_12-"), odd)
	require.Len(t, odd, len("4_db_12-")+8+len(".json"))
	require.NotEqual(t, fileName("4_db_12"), odd)

	require.NotEqual(t, "...json", fileName(".."))
	require.NotEqual(t, ".json", fileName(""))
}

func TestFilesLayout(t *testing.T) {
	files, err := Files(sampleSnapshot(t))
	require.NoError(t, err)

	var paths []string
	for _, f := range files {
		paths = append(paths, f.Path)
	}
	require.Equal(t, ManifestFile, paths[0])
	require.Contains(t, paths, "nodes/FAILURE/f1.json")
	require.Contains(t, paths, "nodes/ELEMENT/e1.json")
	require.Contains(t, paths, "relationships/OCCURRENCE/r3.json")
	require.Contains(t, paths, "nodes/_unlabeled/"+fileName("4:x:9"))
	require.Len(t, paths, 1+5+3)
}

func TestFromFilesRoundTrip(t *testing.T) {
	snap := sampleSnapshot(t)
	files, err := Files(snap)
	require.NoError(t, err)
	files = append(files, File{Path: "README.md", Data: []byte("ignored")})

	got, err := FromFiles(files, 3)
	require.NoError(t, err)
	require.NoError(t, Validate(&got))
	if diff := cmp.Diff(snap, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestFromFilesErrors(t *testing.T) {
	_, err := FromFiles([]File{{Path: "nodes/A/a.json", Data: []byte("{}")}}, 1)
	require.ErrorIs(t, err, ErrInvalidSnapshot)

	_, err = FromFiles([]File{
		{Path: ManifestFile, Data: []byte("{}")},
		{Path: "nodes/A/a.json", Data: []byte("{broken")},
	}, 1)
	require.ErrorIs(t, err, ErrInvalidSnapshot)
	require.Contains(t, err.Error(), "nodes/A/a.json")
}

func TestDirRoundTrip(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	snap := sampleSnapshot(t)

	stale := filepath.Join(root, "nodes", "OLD", "gone.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0o755))
	require.NoError(t, os.WriteFile(stale, []byte("{}"), 0o644))
	keep := filepath.Join(root, "README.md")
	require.NoError(t, os.WriteFile(keep, []byte("docs"), 0o644))

	require.NoError(t, WriteDir(ctx, root, snap, 2))

	_, err := os.Stat(stale)
	require.True(t, os.IsNotExist(err), "stale node file should be removed")
	data, err := os.ReadFile(keep)
	require.NoError(t, err)
	require.Equal(t, "docs", string(data))

	got, err := ReadDir(ctx, root, 2)
	require.NoError(t, err)
	require.NoError(t, Validate(&got))
	if diff := cmp.Diff(snap, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestReadDirMissingManifest(t *testing.T) {
	_, err := ReadDir(context.Background(), t.TempDir(), 1)
	require.ErrorIs(t, err, ErrInvalidSnapshot)
}

func TestReadDirEmptyGraph(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	snap, err := NewSnapshot(nil, nil, exportedAt)
	require.NoError(t, err)
	require.NoError(t, WriteDir(ctx, root, snap, 1))

	got, err := ReadDir(ctx, root, 1)
	require.NoError(t, err)
	require.Empty(t, got.Nodes)
	ok, err := CheckDigest(got, true)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestArchiveRoundTrip(t *testing.T) {
	snap := sampleSnapshot(t)
	var buf bytes.Buffer
	require.NoError(t, WriteArchive(&buf, snap))

	got, err := ReadArchive(&buf, 2)
	require.NoError(t, err)
	require.NoError(t, Validate(&got))
	if diff := cmp.Diff(snap, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestReadArchiveGarbage(t *testing.T) {
	_, err := ReadArchive(strings.NewReader("definitely not zstd"), 1)
	require.Error(t, err)
}
