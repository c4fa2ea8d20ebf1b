// Package builtin provides the normalization transforms applied to OTAP
// tables and the default rule set keyed by payload type.
package builtin

import (
	"fmt"
	"strings"

	"otapetl/internal/otap"
	"otapetl/internal/transformer"
)

// Options tune the built-in transforms.
type Options struct {
	IDColumn       string // default "id"
	ParentIDColumn string // default "parent_id"
	// SkipMissingColumns makes a transform whose column is absent a no-op.
	SkipMissingColumns bool
}

func (o Options) withDefaults() Options {
	if o.IDColumn == "" {
		o.IDColumn = "id"
	}
	if o.ParentIDColumn == "" {
		o.ParentIDColumn = "parent_id"
	}
	return o
}

// DefaultRules delta-decodes the id column of the primary tables that carry
// one in delta form and sorts every child table by parent id.
func DefaultRules(o Options) transformer.Rules {
	o = o.withDefaults()
	rules := transformer.Rules{}
	for _, t := range otap.AllTypes {
		if chain := defaultChain(t, o); len(chain) > 0 {
			rules[t] = chain
		}
	}
	return rules
}

func defaultChain(t otap.PayloadType, o Options) transformer.Chain {
	switch t.Kind() {
	case otap.Primary:
		switch t {
		case otap.Logs, otap.Spans, otap.UnivariateMetrics:
			return transformer.Chain{DeltaDecode{Column: o.IDColumn, SkipMissing: o.SkipMissingColumns}}
		case otap.MultivariateMetrics:
			return nil
		}
	case otap.Child:
		return transformer.Chain{SortByParentID{Column: o.ParentIDColumn, SkipMissing: o.SkipMissingColumns}}
	}
	return nil
}

// New builds one transform from its configured name: "delta_decode",
// "delta_decode:<column>", "sort_by_parent_id", "sort_by_parent_id:<column>".
func New(spec string, o Options) (transformer.Transformer, error) {
	o = o.withDefaults()
	name, col, _ := strings.Cut(strings.TrimSpace(spec), ":")
	switch strings.ToLower(name) {
	case "delta_decode":
		if col == "" {
			col = o.IDColumn
		}
		return DeltaDecode{Column: col, SkipMissing: o.SkipMissingColumns}, nil
	case "sort_by_parent_id":
		if col == "" {
			col = o.ParentIDColumn
		}
		return SortByParentID{Column: col, SkipMissing: o.SkipMissingColumns}, nil
	default:
		return nil, fmt.Errorf("builtin: unknown transform %q", spec)
	}
}

// Build starts from DefaultRules and replaces the chain of every type named
// in overrides. An override of ["none"] (or an empty list) clears the chain.
func Build(overrides map[otap.PayloadType][]string, o Options) (transformer.Rules, error) {
	rules := DefaultRules(o)
	for typ, specs := range overrides {
		var chain transformer.Chain
		for _, s := range specs {
			if strings.EqualFold(strings.TrimSpace(s), "none") {
				continue
			}
			t, err := New(s, o)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", typ, err)
			}
			chain = append(chain, t)
		}
		if len(chain) == 0 {
			delete(rules, typ)
			continue
		}
		rules[typ] = chain
	}
	return rules, nil
}
