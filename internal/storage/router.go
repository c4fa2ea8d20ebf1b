package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"unicode"

	"github.com/apache/arrow-go/v18/arrow"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"otapetl/internal/otap"
)

// Router derives the table name for a payload type and writes each table to
// every configured sink.
//
// Writes to the same (sink, table) are serialized: a file writer bound to a
// path has exactly one writer at a time. Different tables, and different
// sinks, proceed concurrently.
type Router struct {
	prefix      string
	sinks       []Sink
	stopOnError bool

	locks sync.Map // "<sink index>/<table>" -> *sync.Mutex

	mu   sync.Mutex
	done bool
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithPrefix prepends prefix to every derived table name. The prefix is
// folded into a lower-case ASCII identifier first.
func WithPrefix(prefix string) RouterOption {
	return func(r *Router) { r.prefix = Identifier(prefix) }
}

// WithStopOnError makes Route return after the first failing sink instead
// of attempting the rest.
func WithStopOnError(v bool) RouterOption {
	return func(r *Router) { r.stopOnError = v }
}

func NewRouter(sinks []Sink, opts ...RouterOption) *Router {
	r := &Router{sinks: sinks}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Sinks returns the configured sinks in routing order.
func (r *Router) Sinks() []Sink { return r.sinks }

// TableName is the sink-addressable name for typ: the prefix followed by
// the lower-cased payload type name.
func (r *Router) TableName(typ otap.PayloadType) string {
	return r.prefix + typ.TableName()
}

// Route writes rec to every sink and returns one *RouteError per failing
// sink. A nil result means every sink accepted the table.
func (r *Router) Route(ctx context.Context, typ otap.PayloadType, rec arrow.Record) []error {
	table := r.TableName(typ)
	var errs []error
	for i, s := range r.sinks {
		if err := ctx.Err(); err != nil {
			errs = append(errs, &RouteError{Sink: s.Kind(), Table: table, Type: typ, Kind: SinkUnavailable, Err: err})
			break
		}
		err := r.write(ctx, i, s, table, rec)
		if err == nil {
			continue
		}
		re := &RouteError{Sink: s.Kind(), Table: table, Type: typ, Kind: Classify(err), Err: err}
		log.Printf("route: %v", re)
		errs = append(errs, re)
		if r.stopOnError {
			break
		}
	}
	return errs
}

func (r *Router) write(ctx context.Context, i int, s Sink, table string, rec arrow.Record) error {
	m, _ := r.locks.LoadOrStore(fmt.Sprintf("%d/%s", i, table), &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()
	return s.Write(ctx, table, rec)
}

// Close finalizes every sink. All sinks are closed even if some fail.
func (r *Router) Close(ctx context.Context) error {
	if !r.finish() {
		return nil
	}
	var errs []error
	for _, s := range r.sinks {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s sink: %w", s.Kind(), err))
		}
	}
	return errors.Join(errs...)
}

// Abort abandons every sink's unfinalized output. It is a no-op after Close.
func (r *Router) Abort() error {
	if !r.finish() {
		return nil
	}
	var errs []error
	for _, s := range r.sinks {
		if err := s.Abort(); err != nil {
			errs = append(errs, fmt.Errorf("abort %s sink: %w", s.Kind(), err))
		}
	}
	return errors.Join(errs...)
}

func (r *Router) finish() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return false
	}
	r.done = true
	return true
}

// Identifier folds s into a lower-case ASCII identifier: accents are
// stripped, runs of separators become one underscore, anything else is
// dropped.
func Identifier(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	ascii, _, _ := transform.String(t, s)

	var b strings.Builder
	prevUnderscore := false
	for _, r := range ascii {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			prevUnderscore = false
		case r == '_' || r == ' ' || r == '-' || r == '.':
			if !prevUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				prevUnderscore = true
			}
		}
	}
	return b.String()
}
