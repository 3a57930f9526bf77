//go:build integration

package graphcode

import (
	"context"
	"os"
	"testing"

	"github.com/WessleyAI/safety-workbench/pkg/repo"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/require"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func TestNeo4j_ExportWipeRestore(t *testing.T) {
	ctx := context.Background()
	driver, err := neo4j.NewDriverWithContext(envOr("NEO4J_URL", "neo4j://localhost:7687"), neo4j.NoAuth())
	require.NoError(t, err)
	require.NoError(t, driver.VerifyConnectivity(ctx))
	t.Cleanup(func() {
		sess := driver.NewSession(ctx, neo4j.SessionConfig{})
		sess.Run(ctx, "MATCH (n) DETACH DELETE n", nil)
		sess.Close(ctx)
		driver.Close(ctx)
	})

	opener := repo.NewDriverOpener(driver, "")
	svc := New(opener, Options{BatchSize: 2})

	seed := sampleSnapshot(t)
	_, err = svc.Restore(ctx, seed, true)
	require.NoError(t, err)

	root := t.TempDir()
	m, err := svc.ExportDir(ctx, root)
	require.NoError(t, err)
	require.Equal(t, 5, m.NodeCount)
	require.Equal(t, 3, m.RelationshipCount)

	rep, err := svc.ImportDir(ctx, root, true)
	require.NoError(t, err)
	require.True(t, rep.DigestOK)

	again, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	keyed := 0
	for _, n := range again.Nodes {
		if _, ok := n.Properties["id"]; ok {
			keyed++
		}
	}
	require.Equal(t, 4, keyed)
}
