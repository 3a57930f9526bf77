package graph

import (
	"context"

	"github.com/WessleyAI/safety-workbench/engine/safety"
	"github.com/WessleyAI/safety-workbench/pkg/repo"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// fmeaQuery yields one row per (failure mode, causation where it is the
// effect). Failures without causes still get a row with null causation.
const fmeaQuery = `MATCH (e:ELEMENT {id: $element})<-[:OCCURRENCE]-(n:FAILURE)
OPTIONAL MATCH (n)<-[:THEN]-(c:CAUSATION)-[:FIRST]->(cause:FAILURE)
OPTIONAL MATCH (n)<-[:FIRST]-(:CAUSATION)-[:THEN]->(eff:FAILURE)
WITH e, n, c, cause, collect(DISTINCT eff.name) AS effects
OPTIONAL MATCH (c)-[:RISK]->(r:RISK_RATING)
WITH e, n, c, cause, effects, r ORDER BY r.created_at DESC
WITH e, n, c, cause, effects, collect(r)[0] AS rating
OPTIONAL MATCH (t:SAFETY_TASK)-[:MITIGATES]->(rating)
WHERE NOT t.status IN ['done', 'cancelled']
RETURN n, e.id AS element_id, c, cause, effects, rating, count(t) AS open_tasks
ORDER BY n.name, n.id, cause.name`

// FMEATable builds the FMEA worksheet of an element.
func (s *Store) FMEATable(ctx context.Context, elementID string) ([]safety.FMEARow, error) {
	sess := s.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	result, err := sess.Run(ctx, fmeaQuery, map[string]any{"element": elementID})
	if err != nil {
		return nil, err
	}
	var rows []safety.FMEARow
	for result.Next(ctx) {
		row, ok := fmeaRow(result.Record())
		if ok {
			rows = append(rows, row)
		}
	}
	if err := result.Err(); err != nil {
		return nil, err
	}
	if len(rows) > 0 {
		return rows, nil
	}
	return empty[safety.FMEARow](ctx, s.elements, elementID)
}

func fmeaRow(rec *neo4j.Record) (safety.FMEARow, bool) {
	n, ok := repo.NodeAt(rec, "n")
	if !ok {
		return safety.FMEARow{}, false
	}
	row := safety.FMEARow{Failure: failureFromProps(n.Props), Effects: []string{}}
	if v, _ := rec.Get("element_id"); v != nil {
		row.Failure.ElementID, _ = v.(string)
	}
	if v, _ := rec.Get("effects"); v != nil {
		row.Effects = append(row.Effects, repo.Strings(v)...)
	}
	if v, _ := rec.Get("open_tasks"); v != nil {
		row.OpenTasks = int(repo.Int(v))
	}
	c, hasCause := repo.NodeAt(rec, "c")
	if !hasCause {
		return row, true
	}
	causation := causationFromProps(c.Props)
	causation.EffectID = row.Failure.ID
	if cause, ok := repo.NodeAt(rec, "cause"); ok {
		f := failureFromProps(cause.Props)
		causation.CauseID = f.ID
		row.Cause = &f
	}
	row.Causation = &causation
	if r, ok := repo.NodeAt(rec, "rating"); ok {
		rating := ratingFromProps(r.Props)
		rating.CausationID = causation.ID
		row.Rating = &rating
	}
	return row, true
}
