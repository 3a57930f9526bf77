package graph

import (
	"context"
	"fmt"
	"sort"

	"github.com/WessleyAI/safety-workbench/engine/safety"
	"github.com/WessleyAI/safety-workbench/pkg/repo"
)

// RiskSummary is a rating with the failure names of its causation.
type RiskSummary struct {
	Rating safety.RiskRating `json:"rating"`
	Cause  string            `json:"cause"`
	Effect string            `json:"effect"`
}

// Stats is the dashboard summary of the graph.
type Stats struct {
	Nodes         map[string]int64 `json:"nodes"`
	Relationships map[string]int64 `json:"relationships"`
	TopRisks      []RiskSummary    `json:"top_risks"`
	OpenTasks     int64            `json:"open_tasks"`
}

// NodeCounts returns node counts grouped by label. Nodes with several labels
// count once per label.
func (s *Store) NodeCounts(ctx context.Context) (map[string]int64, error) {
	return s.groupCounts(ctx, `MATCH (n) UNWIND labels(n) AS type RETURN type, count(*) AS count`)
}

// RelationshipCounts returns relationship counts grouped by type.
func (s *Store) RelationshipCounts(ctx context.Context) (map[string]int64, error) {
	return s.groupCounts(ctx, `MATCH ()-[r]->() RETURN type(r) AS type, count(*) AS count`)
}

func (s *Store) groupCounts(ctx context.Context, cypher string) (map[string]int64, error) {
	sess := s.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	result, err := sess.Run(ctx, cypher, nil)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64)
	for result.Next(ctx) {
		rec := result.Record()
		typ, _ := rec.Get("type")
		cnt, _ := rec.Get("count")
		if t, ok := typ.(string); ok {
			counts[t] = repo.Int(cnt)
		}
	}
	return counts, result.Err()
}

// TopRisks returns the ratings with the highest RPN.
func (s *Store) TopRisks(ctx context.Context, limit int) ([]RiskSummary, error) {
	if limit <= 0 {
		limit = 10
	}
	sess := s.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	result, err := sess.Run(ctx,
		`MATCH (cause:FAILURE)<-[:FIRST]-(c:CAUSATION)-[:THEN]->(effect:FAILURE)
		 MATCH (c)-[:RISK]->(n:RISK_RATING)
		 RETURN n, c.id AS causation_id, cause.name AS cause, effect.name AS effect
		 ORDER BY n.rpn DESC, n.created_at DESC LIMIT $limit`,
		map[string]any{"limit": int64(limit)})
	if err != nil {
		return nil, err
	}
	var out []RiskSummary
	for result.Next(ctx) {
		props, ok := repo.RowProps(result.Record(), "n")
		if !ok {
			return nil, fmt.Errorf("top risks: row has no rating")
		}
		out = append(out, RiskSummary{
			Rating: ratingFromProps(props),
			Cause:  repo.Str(props, "cause"),
			Effect: repo.Str(props, "effect"),
		})
	}
	return out, result.Err()
}

// OpenTaskCount counts tasks that are neither done nor cancelled.
func (s *Store) OpenTaskCount(ctx context.Context) (int64, error) {
	sess := s.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	result, err := sess.Run(ctx,
		`MATCH (t:SAFETY_TASK) WHERE NOT t.status IN ['done', 'cancelled'] RETURN count(t) AS open`, nil)
	if err != nil {
		return 0, err
	}
	return repo.SingleCount(ctx, result, "open")
}

// Stats collects the dashboard summary.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	var err error
	if st.Nodes, err = s.NodeCounts(ctx); err != nil {
		return Stats{}, fmt.Errorf("node counts: %w", err)
	}
	if st.Relationships, err = s.RelationshipCounts(ctx); err != nil {
		return Stats{}, fmt.Errorf("relationship counts: %w", err)
	}
	if st.TopRisks, err = s.TopRisks(ctx, 10); err != nil {
		return Stats{}, fmt.Errorf("top risks: %w", err)
	}
	if st.OpenTasks, err = s.OpenTaskCount(ctx); err != nil {
		return Stats{}, fmt.Errorf("open tasks: %w", err)
	}
	return st, nil
}

// SortedKeys returns the keys of a count map in order, for stable output.
func SortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
