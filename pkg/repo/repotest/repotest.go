// Package repotest provides scripted fakes for the repo session seam so stores
// can be tested without a running Neo4j.
package repotest

import (
	"context"
	"strings"
	"sync"

	"github.com/WessleyAI/safety-workbench/pkg/repo"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

// Call is one statement seen by a Session.
type Call struct {
	Cypher string
	Params map[string]any
	InTx   bool
}

type rule struct {
	substr  string
	records []*neo4j.Record
	respond func(params map[string]any) []*neo4j.Record
	err     error
	once    bool
	used    bool
}

// Session is a scripted repo.CypherSession. Statements are answered by the
// first matching rule in registration order; unmatched statements return an
// empty result.
type Session struct {
	mu     sync.Mutex
	rules  []*rule
	Calls  []Call
	Reads  int
	Writes int
	Closed int
}

// On answers every statement containing substr with records.
func (s *Session) On(substr string, records ...*neo4j.Record) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, &rule{substr: substr, records: records})
	return s
}

// Once answers the next statement containing substr with records, then retires.
func (s *Session) Once(substr string, records ...*neo4j.Record) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, &rule{substr: substr, records: records, once: true})
	return s
}

// Handle answers every statement containing substr with the records respond
// builds from its parameters.
func (s *Session) Handle(substr string, respond func(params map[string]any) []*neo4j.Record) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, &rule{substr: substr, respond: respond})
	return s
}

// Fail makes statements containing substr return err.
func (s *Session) Fail(substr string, err error) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, &rule{substr: substr, err: err})
	return s
}

// FailOnce makes the next statement containing substr return err.
func (s *Session) FailOnce(substr string, err error) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, &rule{substr: substr, err: err, once: true})
	return s
}

// Cyphers returns the statements run so far.
func (s *Session) Cyphers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.Calls))
	for i, c := range s.Calls {
		out[i] = c.Cypher
	}
	return out
}

// Find returns the first call whose statement contains substr.
func (s *Session) Find(substr string) (Call, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.Calls {
		if strings.Contains(c.Cypher, substr) {
			return c, true
		}
	}
	return Call{}, false
}

func (s *Session) run(cypher string, params map[string]any, inTx bool) (repo.CypherResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, Call{Cypher: cypher, Params: params, InTx: inTx})
	for _, r := range s.rules {
		if r.used || !strings.Contains(cypher, r.substr) {
			continue
		}
		if r.once {
			r.used = true
		}
		if r.err != nil {
			return nil, r.err
		}
		if r.respond != nil {
			return &Result{records: r.respond(params)}, nil
		}
		return &Result{records: r.records}, nil
	}
	return &Result{}, nil
}

func (s *Session) Run(_ context.Context, cypher string, params map[string]any) (repo.CypherResult, error) {
	return s.run(cypher, params, false)
}

func (s *Session) ExecuteRead(_ context.Context, work func(tx repo.CypherRunner) (any, error)) (any, error) {
	s.mu.Lock()
	s.Reads++
	s.mu.Unlock()
	return work(txRunner{s: s})
}

func (s *Session) ExecuteWrite(_ context.Context, work func(tx repo.CypherRunner) (any, error)) (any, error) {
	s.mu.Lock()
	s.Writes++
	s.mu.Unlock()
	return work(txRunner{s: s})
}

func (s *Session) Close(_ context.Context) error {
	s.mu.Lock()
	s.Closed++
	s.mu.Unlock()
	return nil
}

type txRunner struct{ s *Session }

func (t txRunner) Run(_ context.Context, cypher string, params map[string]any) (repo.CypherResult, error) {
	return t.s.run(cypher, params, true)
}

// Opener hands out the same Session for every OpenSession call.
type Opener struct {
	Session *Session
	Opened  int
}

// NewOpener returns an opener and its session.
func NewOpener() (*Opener, *Session) {
	s := &Session{}
	return &Opener{Session: s}, s
}

func (o *Opener) OpenSession(_ context.Context) repo.CypherSession {
	o.Opened++
	return o.Session
}

// Result is a canned repo.CypherResult.
type Result struct {
	records []*neo4j.Record
	idx     int
	err     error
}

func (r *Result) Next(_ context.Context) bool {
	if r.idx < len(r.records) {
		r.idx++
		return true
	}
	return false
}

func (r *Result) Record() *neo4j.Record { return r.records[r.idx-1] }

func (r *Result) Err() error { return r.err }

// Record builds a record from alternating key/value pairs.
func Record(kv ...any) *neo4j.Record {
	rec := &neo4j.Record{}
	for i := 0; i+1 < len(kv); i += 2 {
		rec.Keys = append(rec.Keys, kv[i].(string))
		rec.Values = append(rec.Values, kv[i+1])
	}
	return rec
}

// Node builds a node value with the given labels and properties. The element
// id is derived from the "id" property when present.
func Node(props map[string]any, labels ...string) dbtype.Node {
	id, _ := props["id"].(string)
	return dbtype.Node{ElementId: "4:test:" + id, Labels: labels, Props: props}
}

// Rel builds a relationship value.
func Rel(elementID, typ string, props map[string]any) dbtype.Relationship {
	return dbtype.Relationship{ElementId: elementID, Type: typ, Props: props}
}

// Compile-time interface checks.
var (
	_ repo.SessionOpener = (*Opener)(nil)
	_ repo.CypherSession = (*Session)(nil)
)
