package pipeline

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"

	"otapetl/internal/otap"
	"otapetl/internal/parser/container"
	"otapetl/internal/parser/ipcstream"
	"otapetl/internal/storage"
	"otapetl/internal/transformer"
)

// Stage names a pipeline step. They double as the "step" metric label.
type Stage string

const (
	StageSource      Stage = "source"
	StageDecode      Stage = "decode"
	StageReconstruct Stage = "reconstruct"
	StageNormalize   Stage = "normalize"
	StageRoute       Stage = "route"
	StageFinalize    Stage = "finalize"
)

// StageError is one entry of the run's error log. Err keeps the typed error
// (DecodeError, ReconstructError, NormalizeError or RouteError) so callers
// can errors.As on it.
type StageError struct {
	Stage    Stage
	BatchID  int64
	SchemaID string
	Type     otap.PayloadType
	// Fragment is -1 when the error is not tied to one fragment.
	Fragment int
	Err      error
}

func (e StageError) Error() string {
	if e.Type == otap.Unknown {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	if e.Fragment >= 0 {
		return fmt.Sprintf("%s: batch %d %s (schema %q) fragment %d: %v", e.Stage, e.BatchID, e.Type, e.SchemaID, e.Fragment, e.Err)
	}
	return fmt.Sprintf("%s: batch %d %s (schema %q): %v", e.Stage, e.BatchID, e.Type, e.SchemaID, e.Err)
}

func (e StageError) Unwrap() error { return e.Err }

// counters holds cross-goroutine statistics for a run. All fields are
// updated atomically.
type counters struct {
	containers      atomic.Int64 // containers decoded
	payloads        atomic.Int64 // payloads selected by the type filter
	payloadsSkipped atomic.Int64 // payloads dropped before producing a table
	filtered        atomic.Int64 // payloads left out by the type filter
	fragments       atomic.Int64 // fragments reconstructed
	rows            atomic.Int64 // rows in normalized tables
	tablesRouted    atomic.Int64 // tables every sink accepted
	tablesFailed    atomic.Int64 // tables at least one sink rejected
	routeErrors     atomic.Int64 // failed (table, sink) writes
}

// Summary is the outcome of a run: counters, rows routed per table and every
// error in the order it was observed.
type Summary struct {
	Containers      int64
	Payloads        int64
	PayloadsSkipped int64
	Filtered        int64
	Fragments       int64
	Rows            int64
	TablesRouted    int64
	TablesFailed    int64
	RouteErrors     int64

	// Tables maps each derived table name to the rows routed to it.
	Tables map[string]int64

	Errors []StageError
}

// Count returns the number of errors recorded for stage.
func (s *Summary) Count(stage Stage) int {
	n := 0
	for _, e := range s.Errors {
		if e.Stage == stage {
			n++
		}
	}
	return n
}

// Err joins every recorded error, or returns nil for a clean run.
func (s *Summary) Err() error {
	if len(s.Errors) == 0 {
		return nil
	}
	errs := make([]error, len(s.Errors))
	for i, e := range s.Errors {
		errs[i] = e
	}
	return errors.Join(errs...)
}

// TableNames returns the keys of Tables, sorted.
func (s *Summary) TableNames() []string {
	out := make([]string, 0, len(s.Tables))
	for k := range s.Tables {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// collector accumulates the results of concurrently processed payloads.
type collector struct {
	stats counters

	mu     sync.Mutex
	tables map[string]int64
	errs   []StageError
	aggs   map[Stage]*errAgg
}

func newCollector() *collector {
	return &collector{tables: map[string]int64{}, aggs: map[Stage]*errAgg{}}
}

func (c *collector) routed(table string, rows int64) {
	c.mu.Lock()
	c.tables[table] += rows
	c.mu.Unlock()
}

func (c *collector) fail(e StageError) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, e)
	agg, ok := c.aggs[e.Stage]
	if !ok {
		agg = newErrAgg(thisMany)
		c.aggs[e.Stage] = agg
	}
	agg.add(e.Error())
}

func (c *collector) summary() *Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	tables := make(map[string]int64, len(c.tables))
	for k, v := range c.tables {
		tables[k] = v
	}
	return &Summary{
		Containers:      c.stats.containers.Load(),
		Payloads:        c.stats.payloads.Load(),
		PayloadsSkipped: c.stats.payloadsSkipped.Load(),
		Filtered:        c.stats.filtered.Load(),
		Fragments:       c.stats.fragments.Load(),
		Rows:            c.stats.rows.Load(),
		TablesRouted:    c.stats.tablesRouted.Load(),
		TablesFailed:    c.stats.tablesFailed.Load(),
		RouteErrors:     c.stats.routeErrors.Load(),
		Tables:          tables,
		Errors:          append([]StageError(nil), c.errs...),
	}
}

// classify maps a payload-scoped error onto its stage.
func classify(err error) Stage {
	var (
		de *container.DecodeError
		re *ipcstream.ReconstructError
		ne *transformer.NormalizeError
		se *storage.RouteError
	)
	switch {
	case errors.As(err, &de):
		return StageDecode
	case errors.As(err, &re):
		return StageReconstruct
	case errors.As(err, &ne):
		return StageNormalize
	case errors.As(err, &se):
		return StageRoute
	default:
		return StageSource
	}
}

// thisMany bounds the messages kept per stage for the log summary.
const thisMany = 3

// errAgg counts error messages and keeps the first few.
type errAgg struct {
	limit   int
	count   int
	first   []string
	buckets map[string]int
}

func newErrAgg(limit int) *errAgg {
	return &errAgg{limit: limit, buckets: make(map[string]int)}
}

func (a *errAgg) add(msg string) {
	a.buckets[msg]++
	if a.count < a.limit {
		a.first = append(a.first, msg)
	}
	a.count++
}

// logStageSummaries prints the aggregated errors of each stage. Only the
// first few messages per stage are shown.
func (c *collector) logStageSummaries() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, st := range []Stage{StageSource, StageDecode, StageReconstruct, StageNormalize, StageRoute, StageFinalize} {
		agg, ok := c.aggs[st]
		if !ok || agg.count == 0 {
			continue
		}
		log.Printf("%s errors: %d (distinct %d, showing first %d)", st, agg.count, len(agg.buckets), len(agg.first))
		for i, s := range agg.first {
			log.Printf("  #%03d: %s", i+1, s)
		}
	}
}

// logGlobalSummary prints final aggregated statistics for the run.
//
// For a run that was not cancelled every reconstructed fragment ends in
// exactly one place:
//
//	fragments == tables_routed + tables_failed + normalize_errors
func logGlobalSummary(s *Summary) {
	log.Printf(
		"summary: containers=%d payloads=%d payloads_skipped=%d filtered=%d fragments=%d rows=%d tables_routed=%d tables_failed=%d route_errors=%d",
		s.Containers, s.Payloads, s.PayloadsSkipped, s.Filtered, s.Fragments, s.Rows, s.TablesRouted, s.TablesFailed, s.RouteErrors,
	)
	accounted := s.TablesRouted + s.TablesFailed + int64(s.Count(StageNormalize))
	if accounted != s.Fragments {
		log.Printf("WARNING: fragment accounting mismatch: fragments=%d accounted=%d (delta=%d)", s.Fragments, accounted, s.Fragments-accounted)
	}
}
