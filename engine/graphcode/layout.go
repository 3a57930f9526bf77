package graphcode

import (
	"bytes"
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/WessleyAI/safety-workbench/pkg/fn"
)

const (
	ManifestFile = "manifest.json"
	NodesDir     = "nodes"
	RelsDir      = "relationships"
)

// File is one entry of the graph-as-code tree. Path is slash-separated and
// relative to the tree root.
type File struct {
	Path string
	Data []byte
}

// fileName turns a key into a safe file name. Keys that had to be altered get
// a short hash suffix so distinct keys never share a file.
func fileName(key string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			return r
		}
		return '_'
	}, key)
	if name != key || strings.Trim(name, ".") == "" {
		name += "-" + shortHash(key)
	}
	return name + ".json"
}

// NodePath is where n is stored in the tree.
func NodePath(n Node) string {
	return path.Join(NodesDir, n.PrimaryLabel(), fileName(n.ID))
}

// RelPath is where r is stored in the tree.
func RelPath(r Relationship) string {
	return path.Join(RelsDir, r.Type, fileName(r.ID))
}

// Files lays snap out as a tree: the manifest first, then nodes and
// relationships in path order.
func Files(snap Snapshot) ([]File, error) {
	manifest, err := marshalFile(snap.Manifest)
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	files := make([]File, 0, 1+len(snap.Nodes)+len(snap.Relationships))
	for _, n := range snap.Nodes {
		data, err := marshalFile(n)
		if err != nil {
			return nil, fmt.Errorf("encode node %q: %w", n.ID, err)
		}
		files = append(files, File{Path: NodePath(n), Data: data})
	}
	for _, r := range snap.Relationships {
		data, err := marshalFile(r)
		if err != nil {
			return nil, fmt.Errorf("encode relationship %q: %w", r.ID, err)
		}
		files = append(files, File{Path: RelPath(r), Data: data})
	}
	slices.SortFunc(files, func(a, b File) int { return strings.Compare(a.Path, b.Path) })
	return append([]File{{Path: ManifestFile, Data: manifest}}, files...), nil
}

type entry struct {
	node *Node
	rel  *Relationship
}

// FromFiles parses a tree back into a snapshot, decoding with up to workers
// goroutines. Files outside nodes/ and relationships/ other than the manifest
// are ignored.
func FromFiles(files []File, workers int) (Snapshot, error) {
	var snap Snapshot
	var body []File
	sawManifest := false
	for _, f := range files {
		switch {
		case f.Path == ManifestFile:
			if err := decodeStrict(bytes.NewReader(f.Data), &snap.Manifest); err != nil {
				return Snapshot{}, fmt.Errorf("%s: %w", f.Path, err)
			}
			sawManifest = true
		case strings.HasSuffix(f.Path, ".json") &&
			(strings.HasPrefix(f.Path, NodesDir+"/") || strings.HasPrefix(f.Path, RelsDir+"/")):
			body = append(body, f)
		}
	}
	if !sawManifest {
		return Snapshot{}, fmt.Errorf("%w: missing %s", ErrInvalidSnapshot, ManifestFile)
	}

	parsed := fn.ParMapResult(body, workers, func(f File) fn.Result[entry] {
		r := bytes.NewReader(f.Data)
		if strings.HasPrefix(f.Path, NodesDir+"/") {
			var n Node
			if err := decodeStrict(r, &n); err != nil {
				return fn.Err[entry](fmt.Errorf("%s: %w", f.Path, err))
			}
			return fn.Ok(entry{node: &n})
		}
		var rel Relationship
		if err := decodeStrict(r, &rel); err != nil {
			return fn.Err[entry](fmt.Errorf("%s: %w", f.Path, err))
		}
		return fn.Ok(entry{rel: &rel})
	})
	entries, err := fn.Collect(parsed).Unwrap()
	if err != nil {
		return Snapshot{}, err
	}
	for _, e := range entries {
		if e.node != nil {
			snap.Nodes = append(snap.Nodes, *e.node)
		} else {
			snap.Relationships = append(snap.Relationships, *e.rel)
		}
	}
	snap.sort()
	return snap, nil
}
