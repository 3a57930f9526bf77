package repo

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

// NodeAt returns the node stored under key, or false if the column is missing
// or null (OPTIONAL MATCH).
func NodeAt(rec *neo4j.Record, key string) (dbtype.Node, bool) {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return dbtype.Node{}, false
	}
	node, ok := v.(dbtype.Node)
	return node, ok
}

// RowProps returns the properties of the node in column key merged with every
// other non-null column of rec, so projections such as "p.id AS parent_id"
// reach the decoder.
func RowProps(rec *neo4j.Record, key string) (map[string]any, bool) {
	node, ok := NodeAt(rec, key)
	if !ok {
		return nil, false
	}
	if len(rec.Keys) == 1 {
		return node.Props, true
	}
	props := make(map[string]any, len(node.Props)+len(rec.Keys))
	maps.Copy(props, node.Props)
	for i, k := range rec.Keys {
		if k != key && rec.Values[i] != nil {
			props[k] = rec.Values[i]
		}
	}
	return props, true
}

// CollectNodes drains result, decoding each row with from. See RowProps.
func CollectNodes[T any](ctx context.Context, result CypherResult, key string, from func(map[string]any) T) ([]T, error) {
	var items []T
	for result.Next(ctx) {
		props, ok := RowProps(result.Record(), key)
		if !ok {
			return nil, fmt.Errorf("column %q is not a node", key)
		}
		items = append(items, from(props))
	}
	return items, result.Err()
}

// SingleCount reads an integer column from the first row; no rows counts as zero.
func SingleCount(ctx context.Context, result CypherResult, key string) (int64, error) {
	if !result.Next(ctx) {
		return 0, result.Err()
	}
	v, _ := result.Record().Get(key)
	return Int(v), nil
}

// Str returns props[key] if it is a string.
func Str(props map[string]any, key string) string {
	if s, ok := props[key].(string); ok {
		return s
	}
	return ""
}

// Int converts Neo4j integer-ish values to int64.
func Int(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

// Strings converts a Neo4j list value to []string, skipping non-strings.
func Strings(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Time parses an RFC3339 property value. Native temporal values are accepted too.
func Time(props map[string]any, key string) time.Time {
	switch v := props[key].(type) {
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err == nil {
			return t
		}
	case time.Time:
		return v
	}
	return time.Time{}
}

// PutTime stores t as an RFC3339 string under key. Zero times are skipped so
// that SET n += $props leaves an existing value alone.
func PutTime(m map[string]any, key string, t time.Time) {
	if t.IsZero() {
		return
	}
	m[key] = t.UTC().Format(time.RFC3339Nano)
}
