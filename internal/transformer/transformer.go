// Package transformer applies per-payload-type normalization to reconstructed
// Arrow records before they are routed.
//
// A Transformer never mutates its input. Apply returns a record with its own
// reference (possibly the input, retained) and the caller keeps ownership of
// the input.
package transformer

import (
	"context"
	"errors"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"

	"otapetl/internal/otap"
)

var (
	ErrOverflow        = errors.New("integer overflow")
	ErrNullIdentifier  = errors.New("null identifier")
	ErrMissingColumn   = errors.New("missing column")
	ErrUnsupportedType = errors.New("unsupported column type")
)

type Transformer interface {
	Name() string
	Apply(ctx context.Context, rec arrow.Record) (arrow.Record, error)
}

// Chain is an ordered list of transformers.
type Chain []Transformer

func (c Chain) Apply(ctx context.Context, rec arrow.Record) (arrow.Record, error) {
	rec.Retain()
	out := rec
	for _, t := range c {
		next, err := t.Apply(ctx, out)
		out.Release()
		if err != nil {
			return nil, &stepError{name: t.Name(), err: err}
		}
		out = next
	}
	return out, nil
}

// Names lists the transformer names in order.
func (c Chain) Names() []string {
	out := make([]string, len(c))
	for i, t := range c {
		out[i] = t.Name()
	}
	return out
}

type stepError struct {
	name string
	err  error
}

func (e *stepError) Error() string { return e.name + ": " + e.err.Error() }
func (e *stepError) Unwrap() error { return e.err }

// NormalizeError is payload scoped: the record it names is dropped and the
// run continues.
type NormalizeError struct {
	SchemaID  string
	Type      otap.PayloadType
	Fragment  int
	Transform string
	Err       error
}

func (e *NormalizeError) Error() string {
	return fmt.Sprintf("normalize %s (schema %q) fragment %d: %s: %v", e.Type, e.SchemaID, e.Fragment, e.Transform, e.Err)
}

func (e *NormalizeError) Unwrap() error { return e.Err }

// Rules maps each payload type to its chain. It is built once at startup and
// only read afterwards; types without an entry pass through.
type Rules map[otap.PayloadType]Chain

// Apply runs the chain configured for typ over one fragment.
func (r Rules) Apply(ctx context.Context, schemaID string, typ otap.PayloadType, fragment int, rec arrow.Record) (arrow.Record, error) {
	chain := r[typ]
	if len(chain) == 0 {
		rec.Retain()
		return rec, nil
	}
	out, err := chain.Apply(ctx, rec)
	if err != nil {
		ne := &NormalizeError{SchemaID: schemaID, Type: typ, Fragment: fragment, Err: err}
		var se *stepError
		if errors.As(err, &se) {
			ne.Transform, ne.Err = se.name, se.err
		}
		return nil, ne
	}
	return out, nil
}
