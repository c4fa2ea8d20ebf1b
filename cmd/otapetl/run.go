package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"otapetl/internal/config"
	"otapetl/internal/pipeline"
	"otapetl/internal/render"
	"otapetl/internal/storage"
	"otapetl/internal/storage/query"
)

// newSinkFn is a test seam; in production it opens sinks via the registry.
var newSinkFn = storage.New

// openRouter opens every active sink in order. If one fails, the sinks
// already opened are aborted.
func openRouter(ctx context.Context, p config.Pipeline) (*storage.Router, error) {
	var sinks []storage.Sink
	for _, cfg := range p.Sinks.Storage(nil) {
		s, err := newSinkFn(ctx, cfg)
		if err != nil {
			for _, open := range sinks {
				_ = open.Abort()
			}
			return nil, fmt.Errorf("open %s sink: %w", cfg.Kind, err)
		}
		sinks = append(sinks, s)
	}
	return storage.NewRouter(sinks,
		storage.WithPrefix(p.Sinks.TablePrefix),
		storage.WithStopOnError(p.Runtime.AbortOnError),
	), nil
}

// querySurface returns the surface of the router's query sink, if any.
func querySurface(r *storage.Router) *query.Surface {
	for _, s := range r.Sinks() {
		if qs, ok := s.(*query.Sink); ok {
			return qs.Surface()
		}
	}
	return nil
}

// printSummary renders the run counters, the rows routed per table and the
// first errors of the run.
func printSummary(w io.Writer, s *pipeline.Summary) error {
	counters := [][]any{
		{"containers", s.Containers},
		{"payloads", s.Payloads},
		{"payloads_skipped", s.PayloadsSkipped},
		{"filtered", s.Filtered},
		{"fragments", s.Fragments},
		{"rows", s.Rows},
		{"tables_routed", s.TablesRouted},
		{"tables_failed", s.TablesFailed},
		{"route_errors", s.RouteErrors},
	}
	if err := render.Rows(w, render.Text, []any{"counter", "value"}, counters); err != nil {
		return err
	}

	if len(s.Tables) > 0 {
		rows := make([][]any, 0, len(s.Tables))
		for _, name := range s.TableNames() {
			rows = append(rows, []any{name, s.Tables[name]})
		}
		if err := render.Rows(w, render.Text, []any{"table", "rows"}, rows); err != nil {
			return err
		}
	}

	if len(s.Errors) > 0 {
		const maxShown = 20
		rows := make([][]any, 0, maxShown)
		for i, e := range s.Errors {
			if i == maxShown {
				rows = append(rows, []any{"", "", fmt.Sprintf("... %d more", len(s.Errors)-maxShown)})
				break
			}
			rows = append(rows, []any{i + 1, string(e.Stage), e.Error()})
		}
		if err := render.Rows(w, render.Text, []any{"#", "stage", "error"}, rows); err != nil {
			return err
		}
	}
	return nil
}

func runQuery(ctx context.Context, w io.Writer, s *query.Surface, sql string, f render.Format) error {
	recs, err := s.Execute(ctx, sql)
	if err != nil {
		return err
	}
	defer func() {
		for _, r := range recs {
			r.Release()
		}
	}()
	n, err := render.Records(w, f, recs)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%d row(s)\n", n)
	return err
}

// getenvInt reads an int from environment, returning def when unset/invalid.
func getenvInt(k string, def int) int {
	if s := os.Getenv(k); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return def
}

// pickInt chooses the first positive value 'a', otherwise returns 'b'.
func pickInt(a, b int) int {
	if a > 0 {
		return a
	}
	return b
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
