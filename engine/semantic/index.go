package semantic

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/WessleyAI/safety-workbench/engine/safety"
	"github.com/WessleyAI/safety-workbench/pkg/fn"
	"github.com/WessleyAI/safety-workbench/pkg/resilience"
	"github.com/google/uuid"
)

// ErrDisabled is returned when no vector index is configured.
var ErrDisabled = errors.New("similar-failure search is disabled")

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Vectors stores and searches vectors. *VectorStore implements it.
type Vectors interface {
	Upsert(ctx context.Context, records []VectorRecord) error
	Delete(ctx context.Context, ids ...string) error
	Search(ctx context.Context, embedding []float32, topK int, filters map[string]string) ([]SearchResult, error)
}

// Index keeps failure modes searchable by meaning.
type Index interface {
	Index(ctx context.Context, f safety.Failure) error
	Remove(ctx context.Context, failureIDs ...string) error
	Similar(ctx context.Context, text string, k int) ([]Hit, error)
}

// Disabled is the Index used when Qdrant is not configured.
type Disabled struct{}

func (Disabled) Index(context.Context, safety.Failure) error { return ErrDisabled }

func (Disabled) Remove(context.Context, ...string) error { return ErrDisabled }

func (Disabled) Similar(context.Context, string, int) ([]Hit, error) { return nil, ErrDisabled }

// FailureIndex embeds failure names and descriptions into a vector store.
// Calls to the embedder and the store share one circuit breaker.
type FailureIndex struct {
	vectors Vectors
	embed   Embedder
	breaker *resilience.Breaker
}

// NewFailureIndex builds an index. Breaker transitions are logged.
func NewFailureIndex(vectors Vectors, embed Embedder, log *slog.Logger) *FailureIndex {
	opts := resilience.DefaultBreakerOpts
	opts.Ignore = resilience.IgnoreCanceled
	opts.OnStateChange = func(from, to resilience.State) {
		log.Warn("semantic index breaker", "from", from.String(), "to", to.String())
	}
	return &FailureIndex{vectors: vectors, embed: embed, breaker: resilience.NewBreaker(opts)}
}

// PointID maps a failure ID to a Qdrant point ID. UUIDs pass through; other
// keys get a stable name-based UUID.
func PointID(failureID string) string {
	if _, err := uuid.Parse(failureID); err == nil {
		return failureID
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(failureID)).String()
}

func failureText(f safety.Failure) string {
	return strings.TrimSpace(f.Name + "\n" + f.Description)
}

func (x *FailureIndex) embedStage() fn.Stage[string, []float32] {
	return resilience.BreakerStage(x.breaker, fn.Lift(x.embed.Embed))
}

// Index stores or replaces the vector of f.
func (x *FailureIndex) Index(ctx context.Context, f safety.Failure) error {
	vec, err := x.embedStage()(ctx, failureText(f)).Unwrap()
	if err != nil {
		return err
	}
	return x.breaker.Call(ctx, func(ctx context.Context) error {
		return x.vectors.Upsert(ctx, []VectorRecord{{
			ID:        PointID(f.ID),
			Embedding: vec,
			Payload:   map[string]any{"failure_id": f.ID, "element_id": f.ElementID, "name": f.Name},
		}})
	})
}

// Remove drops the vectors of the given failures.
func (x *FailureIndex) Remove(ctx context.Context, failureIDs ...string) error {
	ids := fn.Map(failureIDs, PointID)
	return x.breaker.Call(ctx, func(ctx context.Context) error {
		return x.vectors.Delete(ctx, ids...)
	})
}

// Similar returns up to k failures closest in meaning to text.
func (x *FailureIndex) Similar(ctx context.Context, text string, k int) ([]Hit, error) {
	search := resilience.BreakerStage(x.breaker, fn.Lift(func(ctx context.Context, vec []float32) ([]SearchResult, error) {
		return x.vectors.Search(ctx, vec, k, nil)
	}))
	results, err := fn.Then(x.embedStage(), search)(ctx, text).Unwrap()
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{
			FailureID: r.Payload["failure_id"],
			ElementID: r.Payload["element_id"],
			Name:      r.Payload["name"],
			Score:     r.Score,
		})
	}
	return hits, nil
}

var (
	_ Index   = Disabled{}
	_ Index   = (*FailureIndex)(nil)
	_ Vectors = (*VectorStore)(nil)
)
