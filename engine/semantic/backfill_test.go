package semantic

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"

	"github.com/WessleyAI/safety-workbench/engine/safety"
	"github.com/WessleyAI/safety-workbench/pkg/resilience"
)

type pagedSource struct {
	failures []safety.Failure
	afters   []string
	err      error
}

func (s *pagedSource) FailuresAfter(_ context.Context, after string, limit int) ([]safety.Failure, error) {
	s.afters = append(s.afters, after)
	if s.err != nil {
		return nil, s.err
	}
	var page []safety.Failure
	for _, f := range s.failures {
		if f.ID > after && len(page) < limit {
			page = append(page, f)
		}
	}
	return page, nil
}

func failuresN(n int) []safety.Failure {
	out := make([]safety.Failure, n)
	for i := range out {
		out[i] = safety.Failure{ID: fmt.Sprintf("f%02d", i), Name: fmt.Sprintf("failure %d", i)}
	}
	return out
}

type countingIndex struct {
	Disabled
	mu      sync.Mutex
	indexed []string
	fail    map[string]error
}

func (x *countingIndex) Index(_ context.Context, f safety.Failure) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.fail[f.ID]; err != nil {
		return err
	}
	x.indexed = append(x.indexed, f.ID)
	return nil
}

func quietLog() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestBackfillPages(t *testing.T) {
	src := &pagedSource{failures: failuresN(7)}
	idx := &countingIndex{}

	st, err := Backfill(context.Background(), idx, src, BackfillOpts{PageSize: 3, Workers: 2}, quietLog())
	if err != nil {
		t.Fatal(err)
	}
	if st.Indexed != 7 || st.Failed != 0 {
		t.Fatalf("stats = %+v", st)
	}
	if want := []string{"", "f02", "f05"}; fmt.Sprint(src.afters) != fmt.Sprint(want) {
		t.Errorf("afters = %v, want %v", src.afters, want)
	}
	sort.Strings(idx.indexed)
	if idx.indexed[0] != "f00" || idx.indexed[6] != "f06" {
		t.Errorf("indexed = %v", idx.indexed)
	}
}

func TestBackfillExactPageBoundary(t *testing.T) {
	src := &pagedSource{failures: failuresN(4)}
	st, err := Backfill(context.Background(), &countingIndex{}, src, BackfillOpts{PageSize: 2}, quietLog())
	if err != nil {
		t.Fatal(err)
	}
	if st.Indexed != 4 || len(src.afters) != 3 {
		t.Fatalf("stats = %+v, calls = %v", st, src.afters)
	}
}

func TestBackfillCountsFailures(t *testing.T) {
	src := &pagedSource{failures: failuresN(3)}
	idx := &countingIndex{fail: map[string]error{"f01": errors.New("embedding timeout")}}

	st, err := Backfill(context.Background(), idx, src, BackfillOpts{}, quietLog())
	if err != nil {
		t.Fatal(err)
	}
	if st.Indexed != 2 || st.Failed != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestBackfillStopsOnOpenCircuit(t *testing.T) {
	src := &pagedSource{failures: failuresN(3)}
	idx := &countingIndex{fail: map[string]error{"f00": resilience.ErrCircuitOpen}}

	_, err := Backfill(context.Background(), idx, src, BackfillOpts{Workers: 1}, quietLog())
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestBackfillDisabled(t *testing.T) {
	src := &pagedSource{failures: failuresN(1)}
	_, err := Backfill(context.Background(), Disabled{}, src, BackfillOpts{}, quietLog())
	if !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
}

func TestBackfillSourceError(t *testing.T) {
	src := &pagedSource{err: errors.New("neo4j unavailable")}
	if _, err := Backfill(context.Background(), &countingIndex{}, src, BackfillOpts{}, quietLog()); err == nil {
		t.Fatal("expected an error")
	}
}

func TestBackfillCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := &pagedSource{failures: failuresN(2)}
	if _, err := Backfill(ctx, &countingIndex{}, src, BackfillOpts{}, quietLog()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(src.afters) != 0 {
		t.Error("queried the source after cancellation")
	}
}
