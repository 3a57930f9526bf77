package semantic

import (
	"context"
	"errors"
	"log/slog"

	"github.com/WessleyAI/safety-workbench/engine/safety"
	"github.com/WessleyAI/safety-workbench/pkg/fn"
	"github.com/WessleyAI/safety-workbench/pkg/resilience"
)

// FailureSource pages through stored failure modes in ID order.
type FailureSource interface {
	FailuresAfter(ctx context.Context, after string, limit int) ([]safety.Failure, error)
}

// BackfillOpts tunes Backfill.
type BackfillOpts struct {
	PageSize int
	Workers  int
}

// BackfillStats counts what a backfill did.
type BackfillStats struct {
	Indexed int `json:"indexed"`
	Failed  int `json:"failed"`
}

// Backfill indexes every failure mode from src. Per-failure errors are logged
// and counted; an open circuit, a cancelled context or a source error stops
// the run.
func Backfill(ctx context.Context, idx Index, src FailureSource, opts BackfillOpts, log *slog.Logger) (BackfillStats, error) {
	if opts.PageSize <= 0 {
		opts.PageSize = 200
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}

	var st BackfillStats
	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		page, err := src.FailuresAfter(ctx, after, opts.PageSize)
		if err != nil {
			return st, err
		}
		if len(page) == 0 {
			return st, nil
		}

		errs := fn.ParMap(page, opts.Workers, func(f safety.Failure) error {
			return idx.Index(ctx, f)
		})
		for i, err := range errs {
			switch {
			case err == nil:
				st.Indexed++
			case errors.Is(err, ErrDisabled), errors.Is(err, resilience.ErrCircuitOpen), ctx.Err() != nil:
				return st, err
			default:
				st.Failed++
				log.Warn("backfill failure", "id", page[i].ID, "err", err)
			}
		}
		log.Info("backfill progress", "indexed", st.Indexed, "failed", st.Failed)

		if len(page) < opts.PageSize {
			return st, nil
		}
		after = page[len(page)-1].ID
	}
}
