// Package pipeline executes one otapetl run: containers are read from the
// configured source and decoded, then every selected payload is
// reconstructed, normalized and routed on its own goroutine.
//
// Concurrency model:
//
//	source (sequential, one container at a time)
//	     → decode (fatal on error)
//	     → N payload workers (errgroup, limit = runtime.concurrency)
//	           reconstruct → normalize → route, fragment by fragment
//	     → router.Close (success) or router.Abort (failure, cancellation)
//
// Fragments of one payload are processed strictly in stream order. Payload
// scoped errors are recorded in the Summary and the run continues, unless
// runtime.abort_on_error is set.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"golang.org/x/sync/errgroup"

	"otapetl/internal/config"
	"otapetl/internal/datasource"
	"otapetl/internal/metrics"
	"otapetl/internal/otap"
	"otapetl/internal/parser/ipcstream"
	"otapetl/internal/storage"
	"otapetl/internal/transformer"
	"otapetl/internal/transformer/builtin"
)

// Option configures Run.
type Option func(*runner)

// WithAllocator sets the allocator used for reconstructed and normalized
// tables.
func WithAllocator(mem memory.Allocator) Option {
	return func(r *runner) { r.mem = mem }
}

// WithRules replaces the rules otherwise built from the transform block.
func WithRules(rules transformer.Rules) Option {
	return func(r *runner) { r.rules = rules }
}

type runner struct {
	job    string
	cfg    config.Pipeline
	router *storage.Router
	rules  transformer.Rules
	keep   map[otap.PayloadType]bool
	mem    memory.Allocator
	col    *collector
}

// Run executes p against router and returns the run summary. Run owns the
// router: it is closed when the run completes and aborted when the run
// fails or ctx is cancelled.
//
// The returned error is non-nil only for failures that stop the run: a
// malformed container, an unreadable source, cancellation, a failed
// finalize, or the first payload error under abort_on_error. Everything
// else is reported through Summary.Errors.
func Run(ctx context.Context, p config.Pipeline, router *storage.Router, opts ...Option) (*Summary, error) {
	r := &runner{
		job:    p.Job,
		cfg:    p,
		router: router,
		mem:    memory.DefaultAllocator,
		col:    newCollector(),
	}
	if r.job == "" {
		r.job = "otapetl"
	}
	for _, o := range opts {
		o(r)
	}

	if err := r.prepare(); err != nil {
		_ = router.Abort()
		return r.col.summary(), err
	}
	sources, err := openSourcesFn(p.Source)
	if err != nil {
		_ = router.Abort()
		return r.col.summary(), err
	}

	log.Printf("pipeline: job=%s sources=%d concurrency=%d sinks=%d abort_on_error=%v",
		r.job, len(sources), p.ConcurrencyOrDefault(), len(router.Sinks()), p.Runtime.AbortOnError)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.ConcurrencyOrDefault())

	fatal := r.feed(gctx, g, sources)
	if fatal != nil {
		cancel()
	}
	if werr := g.Wait(); fatal == nil {
		fatal = werr
	}
	if fatal == nil {
		fatal = ctx.Err()
	}

	if fatal != nil {
		if err := router.Abort(); err != nil {
			log.Printf("pipeline: abort sinks: %v", err)
		}
		sum := r.finish()
		return sum, fatal
	}

	start := time.Now()
	err = router.Close(ctx)
	metrics.RecordStep(r.job, string(StageFinalize), err, time.Since(start))
	if err != nil {
		r.col.fail(StageError{Stage: StageFinalize, Fragment: -1, Err: err})
		return r.finish(), fmt.Errorf("finalize sinks: %w", err)
	}
	return r.finish(), nil
}

// prepare resolves the payload filter and, unless rules were supplied, the
// normalization rules.
func (r *runner) prepare() error {
	keep, err := r.cfg.PayloadTypes()
	if err != nil {
		return fmt.Errorf("payloads: %w", err)
	}
	r.keep = keep
	if r.rules != nil {
		return nil
	}
	overrides, err := r.cfg.Transform.Overrides()
	if err != nil {
		return fmt.Errorf("transform.rules: %w", err)
	}
	rules, err := builtin.Build(overrides, r.cfg.Transform.TransformOptions())
	if err != nil {
		return fmt.Errorf("transform.rules: %w", err)
	}
	r.rules = rules
	return nil
}

func (r *runner) finish() *Summary {
	sum := r.col.summary()
	r.col.logStageSummaries()
	logGlobalSummary(sum)
	return sum
}

// feed decodes containers source by source and schedules their payloads on
// g. It returns the first fatal error; scheduled payloads keep running and
// are awaited by the caller.
func (r *runner) feed(ctx context.Context, g *errgroup.Group, sources []datasource.Source) error {
	for _, src := range sources {
		start := time.Now()
		for c, err := range Containers(ctx, src, r.cfg.Source.Format, r.cfg.Source.Compression) {
			metrics.RecordStep(r.job, string(StageDecode), err, time.Since(start))
			if err != nil {
				if cerr := ctx.Err(); cerr != nil {
					return cerr
				}
				r.col.fail(StageError{Stage: classify(err), Fragment: -1, Err: err})
				log.Printf("pipeline: %v", err)
				return err
			}
			r.col.stats.containers.Add(1)
			metrics.RecordContainers(r.job, 1)

			selected := c.Filter(r.keep)
			r.col.stats.filtered.Add(int64(len(c.Payloads) - len(selected)))
			r.col.stats.payloads.Add(int64(len(selected)))
			metrics.RecordRow(r.job, "payloads", int64(len(selected)))

			for _, p := range selected {
				if err := ctx.Err(); err != nil {
					return nil
				}
				batchID := c.BatchID
				g.Go(func() error { return r.payload(ctx, batchID, p) })
			}
			start = time.Now()
		}
	}
	return nil
}

// payload reconstructs, normalizes and routes the fragments of p in stream
// order.
func (r *runner) payload(ctx context.Context, batchID int64, p otap.Payload) error {
	start := time.Now()
	s, err := ipcstream.Open(p, ipcstream.WithAllocator(r.mem))
	if err != nil {
		metrics.RecordStep(r.job, string(StageReconstruct), err, time.Since(start))
		r.skip()
		return r.fail(StageReconstruct, batchID, p, -1, err)
	}
	defer s.Release()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		start = time.Now()
		if !s.Next() {
			break
		}
		metrics.RecordStep(r.job, string(StageReconstruct), nil, time.Since(start))
		r.col.stats.fragments.Add(1)
		metrics.RecordRow(r.job, "fragments", 1)

		rec := s.Record()
		err := r.fragment(ctx, batchID, p, s.Index(), rec)
		rec.Release()
		if err != nil {
			return err
		}
	}

	if err := s.Err(); err != nil {
		metrics.RecordStep(r.job, string(StageReconstruct), err, time.Since(start))
		frag := -1
		var re *ipcstream.ReconstructError
		if errors.As(err, &re) {
			frag = re.Index
			if re.Kind == ipcstream.InvalidStream {
				r.skip()
			}
		}
		return r.fail(StageReconstruct, batchID, p, frag, err)
	}
	return nil
}

// fragment normalizes one reconstructed table and routes the result.
func (r *runner) fragment(ctx context.Context, batchID int64, p otap.Payload, idx int, rec arrow.Record) error {
	start := time.Now()
	out, err := r.rules.Apply(ctx, p.SchemaID, p.Type, idx, rec)
	metrics.RecordStep(r.job, string(StageNormalize), err, time.Since(start))
	if err != nil {
		return r.fail(StageNormalize, batchID, p, idx, err)
	}
	defer out.Release()

	rows := out.NumRows()
	r.col.stats.rows.Add(rows)
	metrics.RecordRow(r.job, "rows", rows)

	start = time.Now()
	errs := r.router.Route(ctx, p.Type, out)
	metrics.RecordStep(r.job, string(StageRoute), errors.Join(errs...), time.Since(start))
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(errs) == 0 {
		r.col.stats.tablesRouted.Add(1)
		r.col.routed(r.router.TableName(p.Type), rows)
		metrics.RecordRow(r.job, "tables_routed", 1)
		return nil
	}

	r.col.stats.tablesFailed.Add(1)
	var first error
	for _, err := range errs {
		r.col.stats.routeErrors.Add(1)
		var re *storage.RouteError
		if errors.As(err, &re) {
			metrics.RecordRouteError(r.job, re.Sink, re.Kind.String())
		}
		if ferr := r.fail(StageRoute, batchID, p, idx, err); first == nil {
			first = ferr
		}
	}
	return first
}

func (r *runner) skip() {
	r.col.stats.payloadsSkipped.Add(1)
	metrics.RecordRow(r.job, "payloads_skipped", 1)
}

// fail records a payload scoped error. It returns the error only when the
// run aborts on the first error, which cancels the errgroup.
func (r *runner) fail(stage Stage, batchID int64, p otap.Payload, fragment int, err error) error {
	e := StageError{Stage: stage, BatchID: batchID, SchemaID: p.SchemaID, Type: p.Type, Fragment: fragment, Err: err}
	r.col.fail(e)
	log.Printf("pipeline: %v", e)
	if r.cfg.Runtime.AbortOnError {
		return e
	}
	return nil
}
