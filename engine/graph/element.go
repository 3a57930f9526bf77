package graph

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/WessleyAI/safety-workbench/engine/safety"
	"github.com/WessleyAI/safety-workbench/pkg/repo"
)

// cascadeFrom is appended after a clause binding failures as f; it reaches the
// causations touching them, their ratings and the tasks of those ratings.
const cascadeFrom = ` OPTIONAL MATCH (c:CAUSATION)-[:FIRST|THEN]->(f)
OPTIONAL MATCH (c)-[:RISK]->(r:RISK_RATING)
OPTIONAL MATCH (t:SAFETY_TASK)-[:MITIGATES]->(r)`

// CreateElement stores a new element. A non-empty ParentID links it below an
// existing element. A supplied ID that is already taken is a conflict.
func (s *Store) CreateElement(ctx context.Context, e safety.Element) (safety.Element, error) {
	e.ID = s.ensureID(e.ID)
	if err := safety.ValidateElement(&e); err != nil {
		return safety.Element{}, err
	}
	e.CreatedAt = s.stamp()
	e.UpdatedAt = e.CreatedAt

	if e.ParentID == "" {
		return create(ctx, s, safety.LabelElement, e.ID,
			`CREATE (n:ELEMENT $props) RETURN n`,
			map[string]any{"props": elementToMap(e)},
			elementFromProps, "", "")
	}
	return create(ctx, s, safety.LabelElement, e.ID,
		`MATCH (p:ELEMENT {id: $parent})
		 CREATE (n:ELEMENT $props)-[:PART_OF]->(p)
		 RETURN n, p.id AS parent_id`,
		map[string]any{"parent": e.ParentID, "props": elementToMap(e)},
		elementFromProps, safety.LabelElement, e.ParentID)
}

// GetElement returns an element by ID.
func (s *Store) GetElement(ctx context.Context, id string) (safety.Element, error) {
	return s.elements.Get(ctx, id)
}

// ListElements returns elements ordered by name.
func (s *Store) ListElements(ctx context.Context, opts repo.ListOpts) ([]safety.Element, error) {
	return s.elements.List(ctx, opts)
}

// UpdateElement replaces the element's attributes. The hierarchy is not
// changed.
func (s *Store) UpdateElement(ctx context.Context, e safety.Element) (safety.Element, error) {
	if err := safety.ValidateElement(&e); err != nil {
		return safety.Element{}, err
	}
	e.CreatedAt = time.Time{}
	e.UpdatedAt = s.stamp()
	return s.elements.Update(ctx, e)
}

// DeleteElement removes an element with its failures and everything hanging
// off them. Elements that still have children are refused.
func (s *Store) DeleteElement(ctx context.Context, id string) error {
	params := map[string]any{"id": id}
	return s.write(ctx, func(tx repo.CypherRunner) error {
		n, err := counts(ctx, tx,
			`MATCH (n:ELEMENT {id: $id})
			 OPTIONAL MATCH (c:ELEMENT)-[:PART_OF]->(n)
			 RETURN count(DISTINCT n) AS found, count(c) AS children`,
			params, "found", "children")
		if err != nil {
			return err
		}
		if n[0] == 0 {
			return notFound(safety.LabelElement, id)
		}
		if n[1] > 0 {
			return fmt.Errorf("delete element %s: %w", id, safety.ErrHasChildren)
		}
		return exec(ctx, tx,
			`MATCH (n:ELEMENT {id: $id})
			 OPTIONAL MATCH (f:FAILURE)-[:OCCURRENCE]->(n)`+cascadeFrom+`
			 DETACH DELETE t, r, c, f, n`,
			params)
	})
}

// ElementTree returns every element arranged by PART_OF.
func (s *Store) ElementTree(ctx context.Context) ([]*safety.ElementNode, error) {
	elems, err := query(ctx, s,
		`MATCH (n:ELEMENT)
		 OPTIONAL MATCH (n)-[:PART_OF]->(p:ELEMENT)
		 RETURN n, p.id AS parent_id`,
		nil, elementFromProps)
	if err != nil {
		return nil, err
	}
	return BuildTree(elems), nil
}

// BuildTree arranges elements by ParentID. Elements whose parent is missing
// become roots. Siblings are sorted by name, then ID.
func BuildTree(elems []safety.Element) []*safety.ElementNode {
	nodes := make(map[string]*safety.ElementNode, len(elems))
	for _, e := range elems {
		nodes[e.ID] = &safety.ElementNode{Element: e, Children: []*safety.ElementNode{}}
	}
	roots := []*safety.ElementNode{}
	for _, e := range elems {
		n := nodes[e.ID]
		if p, ok := nodes[e.ParentID]; ok && e.ParentID != e.ID {
			p.Children = append(p.Children, n)
			continue
		}
		roots = append(roots, n)
	}
	sortNodes(roots)
	return roots
}

func sortNodes(ns []*safety.ElementNode) {
	sort.Slice(ns, func(i, j int) bool {
		if ns[i].Name != ns[j].Name {
			return ns[i].Name < ns[j].Name
		}
		return ns[i].ID < ns[j].ID
	})
	for _, n := range ns {
		sortNodes(n.Children)
	}
}
