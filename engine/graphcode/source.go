package graphcode

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/WessleyAI/safety-workbench/pkg/fn"
	"github.com/WessleyAI/safety-workbench/pkg/repo"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

const (
	pageNodes = `MATCH (n) RETURN n ORDER BY elementId(n) SKIP $skip LIMIT $limit`
	pageRels  = `MATCH (a)-[r]->(b)
RETURN r, a.id AS start_id, elementId(a) AS start_eid, b.id AS end_id, elementId(b) AS end_eid
ORDER BY elementId(r) SKIP $skip LIMIT $limit`

	wipeAll      = `MATCH (n) DETACH DELETE n`
	createdCount = "created"
)

// keyOf prefers a non-empty string id property over the element id.
func keyOf(id any, elementID string) string {
	if s, ok := id.(string); ok && s != "" {
		return s
	}
	return elementID
}

// readGraph pages through every node and relationship inside one read
// transaction so the export is a consistent view.
func readGraph(ctx context.Context, opener repo.SessionOpener, batch int) ([]Node, []Relationship, error) {
	sess := opener.OpenSession(ctx)
	defer sess.Close(ctx)

	var nodes []Node
	var rels []Relationship
	_, err := sess.ExecuteRead(ctx, func(tx repo.CypherRunner) (any, error) {
		nodes, rels = nil, nil
		err := paginate(ctx, tx, pageNodes, batch, func(rec map[string]any) error {
			n, ok := rec["n"].(dbtype.Node)
			if !ok {
				return fmt.Errorf("column n is %T, not a node", rec["n"])
			}
			props, err := NormalizeProps(n.Props)
			if err != nil {
				return fmt.Errorf("node %s: %w", n.ElementId, err)
			}
			nodes = append(nodes, Node{
				ID:         keyOf(n.Props["id"], n.ElementId),
				Labels:     slices.Sorted(slices.Values(n.Labels)),
				Properties: props,
			})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("read nodes: %w", err)
		}
		err = paginate(ctx, tx, pageRels, batch, func(rec map[string]any) error {
			r, ok := rec["r"].(dbtype.Relationship)
			if !ok {
				return fmt.Errorf("column r is %T, not a relationship", rec["r"])
			}
			props, err := NormalizeProps(r.Props)
			if err != nil {
				return fmt.Errorf("relationship %s: %w", r.ElementId, err)
			}
			startEID, _ := rec["start_eid"].(string)
			endEID, _ := rec["end_eid"].(string)
			rels = append(rels, Relationship{
				ID:         keyOf(r.Props["id"], r.ElementId),
				Type:       r.Type,
				Start:      keyOf(rec["start_id"], startEID),
				End:        keyOf(rec["end_id"], endEID),
				Properties: props,
			})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("read relationships: %w", err)
		}
		return nil, nil
	})
	return nodes, rels, err
}

func paginate(ctx context.Context, tx repo.CypherRunner, cypher string, batch int, each func(map[string]any) error) error {
	for skip := 0; ; skip += batch {
		res, err := tx.Run(ctx, cypher, map[string]any{"skip": skip, "limit": batch})
		if err != nil {
			return err
		}
		rows := 0
		for res.Next(ctx) {
			rows++
			if err := each(res.Record().AsMap()); err != nil {
				return err
			}
		}
		if err := res.Err(); err != nil {
			return err
		}
		if rows < batch {
			return nil
		}
	}
}

func quote(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

func labelClause(labels []string) string {
	var b strings.Builder
	for _, l := range labels {
		b.WriteString(":")
		b.WriteString(quote(l))
	}
	return b.String()
}

// reload replaces the database content with snap inside tx. Every node batch
// reports the element ids it created, and relationships are matched on those
// ids. Created counts are checked after every batch; any shortfall aborts the
// transaction.
func reload(ctx context.Context, tx repo.CypherRunner, snap Snapshot, batch int) error {
	if err := runOnly(ctx, tx, wipeAll, nil); err != nil {
		return fmt.Errorf("wipe: %w", err)
	}

	byLabels := fn.GroupBy(snap.Nodes, func(n Node) string { return LabelKey(n.Labels) })
	eids := make(map[string]string, len(snap.Nodes))
	for _, key := range slices.Sorted(maps.Keys(byLabels)) {
		group := byLabels[key]
		cypher := fmt.Sprintf("UNWIND $rows AS row CREATE (n%s) SET n = row.props RETURN row.key AS key, elementId(n) AS eid",
			labelClause(group[0].Labels))
		for _, chunk := range fn.Chunk(group, batch) {
			rows := make([]any, len(chunk))
			for i, n := range chunk {
				rows[i] = map[string]any{"key": n.ID, "props": n.Properties}
			}
			if err := createNodes(ctx, tx, cypher, rows, "nodes "+key, eids); err != nil {
				return err
			}
		}
	}

	byType := fn.GroupBy(snap.Relationships, func(r Relationship) string { return r.Type })
	for _, typ := range slices.Sorted(maps.Keys(byType)) {
		cypher := fmt.Sprintf(`UNWIND $rows AS row
MATCH (a) WHERE elementId(a) = row.start
MATCH (b) WHERE elementId(b) = row.end
CREATE (a)-[r:%s]->(b) SET r = row.props RETURN count(r) AS %s`, quote(typ), createdCount)
		for _, chunk := range fn.Chunk(byType[typ], batch) {
			rows := make([]any, len(chunk))
			for i, r := range chunk {
				start, ok := eids[r.Start]
				if !ok {
					return fmt.Errorf("relationship %q: %w: start %q", r.ID, ErrDangling, r.Start)
				}
				end, ok := eids[r.End]
				if !ok {
					return fmt.Errorf("relationship %q: %w: end %q", r.ID, ErrDangling, r.End)
				}
				rows[i] = map[string]any{"start": start, "end": end, "props": r.Properties}
			}
			if err := expectCreated(ctx, tx, cypher, rows, "relationships "+typ, ErrDangling); err != nil {
				return err
			}
		}
	}
	return nil
}

// createNodes runs a node batch and records key -> element id for every
// created row.
func createNodes(ctx context.Context, tx repo.CypherRunner, cypher string, rows []any, what string, eids map[string]string) error {
	res, err := tx.Run(ctx, cypher, map[string]any{"rows": rows})
	if err != nil {
		return fmt.Errorf("create %s: %w", what, err)
	}
	n := 0
	for res.Next(ctx) {
		rec := res.Record()
		key, _ := rec.Get("key")
		eid, _ := rec.Get("eid")
		k, _ := key.(string)
		e, _ := eid.(string)
		eids[k] = e
		n++
	}
	if err := res.Err(); err != nil {
		return fmt.Errorf("create %s: %w", what, err)
	}
	if n != len(rows) {
		return fmt.Errorf("create %s: %w: created %d of %d", what, errShortfall, n, len(rows))
	}
	return nil
}

var errShortfall = errors.New("fewer entities created than requested")

// expectCreated runs a batch and wraps short when the created count falls short.
func expectCreated(ctx context.Context, tx repo.CypherRunner, cypher string, rows []any, what string, short error) error {
	res, err := tx.Run(ctx, cypher, map[string]any{"rows": rows})
	if err != nil {
		return fmt.Errorf("create %s: %w", what, err)
	}
	n, err := repo.SingleCount(ctx, res, createdCount)
	if err != nil {
		return fmt.Errorf("create %s: %w", what, err)
	}
	if int(n) != len(rows) {
		return fmt.Errorf("create %s: %w: created %d of %d", what, short, n, len(rows))
	}
	return nil
}

func runOnly(ctx context.Context, tx repo.CypherRunner, cypher string, params map[string]any) error {
	res, err := tx.Run(ctx, cypher, params)
	if err != nil {
		return err
	}
	for res.Next(ctx) {
	}
	return res.Err()
}
