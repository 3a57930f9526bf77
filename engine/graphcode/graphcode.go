package graphcode

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/WessleyAI/safety-workbench/pkg/fn"
	"github.com/WessleyAI/safety-workbench/pkg/metrics"
	"github.com/WessleyAI/safety-workbench/pkg/repo"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/prometheus/client_golang/prometheus"
)

// Options tunes export and import.
type Options struct {
	BatchSize int
	Workers   int
	Retry     fn.RetryOpts
	Strict    bool
}

// DefaultOptions are used for zero fields.
var DefaultOptions = Options{
	BatchSize: 500,
	Workers:   8,
	Retry:     fn.DefaultRetry,
}

// Report describes a finished import or verification.
type Report struct {
	Nodes         int    `json:"nodes"`
	Relationships int    `json:"relationships"`
	Digest        string `json:"digest"`
	DigestOK      bool   `json:"digest_ok"`
	Attempts      int    `json:"attempts"`
	Loaded        bool   `json:"loaded"`
}

// Service exports and restores the graph behind opener.
type Service struct {
	opener    repo.SessionOpener
	opts      Options
	log       *slog.Logger
	now       func() time.Time
	retryable func(error) bool

	ops      *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger. The default discards.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) { s.log = log }
}

// WithClock overrides the export timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRetryable decides which reload failures are retried. The default is
// neo4j.IsRetryable.
func WithRetryable(f func(error) bool) Option {
	return func(s *Service) { s.retryable = f }
}

// WithMetrics records operation counts and durations in reg.
func WithMetrics(reg *metrics.Registry) Option {
	return func(s *Service) {
		s.ops = reg.Counter("graphcode_operations_total", "Graph-as-code operations by kind and outcome.", "op", "outcome")
		s.duration = reg.Histogram("graphcode_operation_duration_seconds", "Graph-as-code operation latency.", nil, "op")
	}
}

// New builds a Service. opener may be nil when only verification is used.
func New(opener repo.SessionOpener, opts Options, options ...Option) *Service {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultOptions.BatchSize
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultOptions.Workers
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = DefaultOptions.Retry
	}
	s := &Service{
		opener:    opener,
		opts:      opts,
		log:       slog.New(slog.DiscardHandler),
		now:       time.Now,
		retryable: neo4j.IsRetryable,
	}
	for _, o := range options {
		o(s)
	}
	return s
}

func (s *Service) observe(op string, start time.Time, err error) {
	if s.ops == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.ops.WithLabelValues(op, outcome).Inc()
	s.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// Snapshot reads the whole graph.
func (s *Service) Snapshot(ctx context.Context) (snap Snapshot, err error) {
	defer func(start time.Time) { s.observe("export", start, err) }(time.Now())
	return s.snapshot(ctx)
}

func (s *Service) snapshot(ctx context.Context) (Snapshot, error) {
	read := fn.TracedStage("graphcode.read", fn.Lift(func(ctx context.Context, batch int) (Snapshot, error) {
		nodes, rels, err := readGraph(ctx, s.opener, batch)
		if err != nil {
			return Snapshot{}, err
		}
		return NewSnapshot(nodes, rels, s.now())
	}))
	check := fn.TracedStage("graphcode.validate", fn.Lift(func(_ context.Context, snap Snapshot) (Snapshot, error) {
		err := Validate(&snap)
		return snap, err
	}))
	snap, err := fn.Then(read, check)(ctx, s.opts.BatchSize).Unwrap()
	if err != nil {
		return Snapshot{}, err
	}
	s.log.Info("graph exported", "nodes", snap.Manifest.NodeCount,
		"relationships", snap.Manifest.RelationshipCount, "digest", snap.Manifest.Digest)
	return snap, nil
}

// ExportJSON writes the graph as one JSON document.
func (s *Service) ExportJSON(ctx context.Context, w io.Writer) (Manifest, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return Manifest{}, err
	}
	return snap.Manifest, EncodeJSON(w, snap)
}

// ExportDir writes the graph as a tree under root.
func (s *Service) ExportDir(ctx context.Context, root string) (Manifest, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return Manifest{}, err
	}
	return snap.Manifest, WriteDir(ctx, root, snap, s.opts.Workers)
}

// ExportArchive writes the graph as a zstd-compressed tar of the tree.
func (s *Service) ExportArchive(ctx context.Context, w io.Writer) (Manifest, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return Manifest{}, err
	}
	return snap.Manifest, WriteArchive(w, snap)
}

type job struct {
	snap   Snapshot
	strict bool
	report Report
}

func (s *Service) checks() fn.Stage[*job, *job] {
	return fn.Pipeline(
		fn.TracedStage("graphcode.validate", fn.Check(func(_ context.Context, j *job) error {
			if err := Validate(&j.snap); err != nil {
				return err
			}
			j.report.Nodes = len(j.snap.Nodes)
			j.report.Relationships = len(j.snap.Relationships)
			return nil
		})),
		fn.TracedStage("graphcode.digest", fn.Check(func(_ context.Context, j *job) error {
			ok, err := CheckDigest(j.snap, j.strict)
			if err != nil {
				return err
			}
			j.report.DigestOK = ok
			j.report.Digest, err = Digest(j.snap.Nodes, j.snap.Relationships)
			if !ok {
				s.log.Warn("snapshot digest mismatch", "manifest", j.snap.Manifest.Digest, "content", j.report.Digest)
			}
			return err
		})),
	)
}

func (s *Service) reloadStage(ctx context.Context, j *job) (Report, error) {
	attempts := 0
	_, err := fn.RetryIf(ctx, s.opts.Retry, s.retryable, func(ctx context.Context) fn.Result[struct{}] {
		attempts++
		sess := s.opener.OpenSession(ctx)
		defer sess.Close(ctx)
		_, err := sess.ExecuteWrite(ctx, func(tx repo.CypherRunner) (any, error) {
			return nil, reload(ctx, tx, j.snap, s.opts.BatchSize)
		})
		if err != nil && s.retryable(err) {
			s.log.Warn("graph reload failed", "attempt", attempts, "err", err)
		}
		return fn.FromPair(struct{}{}, err)
	}).Unwrap()
	j.report.Attempts = attempts
	if err != nil {
		return j.report, err
	}
	j.report.Loaded = true
	s.log.Info("graph imported", "nodes", j.report.Nodes, "relationships", j.report.Relationships,
		"attempts", attempts, "digest_ok", j.report.DigestOK)
	return j.report, nil
}

// importWith builds decode → validate → digest → reload for one input kind.
func importWith[In any](s *Service, strict bool, decode func(context.Context, In) (Snapshot, error)) fn.Stage[In, Report] {
	decodeStage := fn.TracedStage("graphcode.decode", fn.Lift(func(ctx context.Context, in In) (*job, error) {
		snap, err := decode(ctx, in)
		return &job{snap: snap, strict: strict || s.opts.Strict}, err
	}))
	reload := fn.TracedStage("graphcode.reload", fn.Lift(s.reloadStage))
	return fn.Then(decodeStage, fn.Then(s.checks(), reload))
}

func (s *Service) run(ctx context.Context, op string, stage func(context.Context) fn.Result[Report]) (rep Report, err error) {
	defer func(start time.Time) { s.observe(op, start, err) }(time.Now())
	return stage(ctx).Unwrap()
}

// Restore replaces the database content with snap. strict turns a digest
// mismatch into an error.
func (s *Service) Restore(ctx context.Context, snap Snapshot, strict bool) (Report, error) {
	stage := importWith(s, strict, func(_ context.Context, snap Snapshot) (Snapshot, error) { return snap, nil })
	return s.run(ctx, "import", func(ctx context.Context) fn.Result[Report] { return stage(ctx, snap) })
}

// ImportJSON restores from a JSON document.
func (s *Service) ImportJSON(ctx context.Context, r io.Reader, strict bool) (Report, error) {
	stage := importWith(s, strict, func(_ context.Context, r io.Reader) (Snapshot, error) { return DecodeJSON(r) })
	return s.run(ctx, "import", func(ctx context.Context) fn.Result[Report] { return stage(ctx, r) })
}

// ImportDir restores from a tree under root.
func (s *Service) ImportDir(ctx context.Context, root string, strict bool) (Report, error) {
	stage := importWith(s, strict, func(ctx context.Context, root string) (Snapshot, error) {
		return ReadDir(ctx, root, s.opts.Workers)
	})
	return s.run(ctx, "import", func(ctx context.Context) fn.Result[Report] { return stage(ctx, root) })
}

// ImportArchive restores from a stream written by ExportArchive.
func (s *Service) ImportArchive(ctx context.Context, r io.Reader, strict bool) (Report, error) {
	stage := importWith(s, strict, func(_ context.Context, r io.Reader) (Snapshot, error) {
		return ReadArchive(r, s.opts.Workers)
	})
	return s.run(ctx, "import", func(ctx context.Context) fn.Result[Report] { return stage(ctx, r) })
}

// Verify validates snap and checks its digest without touching the database.
func (s *Service) Verify(ctx context.Context, snap Snapshot, strict bool) (Report, error) {
	j := &job{snap: snap, strict: strict || s.opts.Strict}
	_, err := s.checks()(ctx, j).Unwrap()
	return j.report, err
}

// VerifyJSON verifies a JSON document.
func (s *Service) VerifyJSON(ctx context.Context, r io.Reader, strict bool) (Report, error) {
	snap, err := DecodeJSON(r)
	if err != nil {
		return Report{}, err
	}
	return s.Verify(ctx, snap, strict)
}

// VerifyDir verifies a tree under root.
func (s *Service) VerifyDir(ctx context.Context, root string, strict bool) (Report, error) {
	snap, err := ReadDir(ctx, root, s.opts.Workers)
	if err != nil {
		return Report{}, err
	}
	return s.Verify(ctx, snap, strict)
}

// VerifyArchive verifies an archive stream.
func (s *Service) VerifyArchive(ctx context.Context, r io.Reader, strict bool) (Report, error) {
	snap, err := ReadArchive(r, s.opts.Workers)
	if err != nil {
		return Report{}, err
	}
	return s.Verify(ctx, snap, strict)
}

// IsInvalid reports whether err stems from bad input rather than the database.
func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalidSnapshot) || errors.Is(err, ErrDigestMismatch)
}
