// Package config defines the JSON pipeline file of an otapetl run and the
// helpers that turn it into the values the pipeline consumes.
//
// Example (trimmed):
//
//	{
//	  "job": "otap-logs",
//	  "source": { "kind": "file", "file": { "path": "batch.jsonl.zst" }, "format": "jsonl", "compression": "zstd" },
//	  "payloads": ["logs", "log_attrs"],
//	  "transform": { "rules": { "logattrs": ["none"] }, "options": { "skip_missing_columns": false } },
//	  "sinks": {
//	    "active": ["query", "parquet", "catalog"],
//	    "parquet": { "root": "out", "compression": "zstd" },
//	    "catalog": { "backend": "sqlite", "dsn": "file:catalog.db", "warehouse": "warehouse" }
//	  },
//	  "runtime": { "concurrency": 4 }
//	}
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/apache/arrow-go/v18/arrow/memory"

	"otapetl/internal/otap"
	"otapetl/internal/storage"
	"otapetl/internal/transformer/builtin"
)

// Pipeline is the top-level object decoded from a pipeline file.
type Pipeline struct {
	// Job labels metrics and log lines of the run.
	Job string `json:"job"`

	Source Source `json:"source"`

	// Payloads restricts the run to these payload types (canonical, table or
	// wire names). Empty means every type.
	Payloads []string `json:"payloads"`

	Transform Transform     `json:"transform"`
	Sinks     Sinks         `json:"sinks"`
	Runtime   RuntimeConfig `json:"runtime"`
}

// RuntimeConfig controls scheduling of one run.
type RuntimeConfig struct {
	// Concurrency bounds how many payloads are processed at once.
	Concurrency int `json:"concurrency"`

	// AbortOnError stops the run at the first payload or sink error instead
	// of reporting it and continuing.
	AbortOnError bool `json:"abort_on_error"`
}

// DefaultConcurrency applies when runtime.concurrency is zero.
const DefaultConcurrency = 4

// Source identifies where container bytes come from.
type Source struct {
	// Kind selects the source implementation: "file" or "http".
	Kind string `json:"kind"`

	File SourceFile `json:"file"`
	HTTP SourceHTTP `json:"http"`

	// Format is "proto" (default) or "jsonl".
	Format string `json:"format"`

	// Compression is "none" (default), "zstd" or "auto".
	Compression string `json:"compression"`
}

// SourceFile holds configuration for the "file" source kind.
type SourceFile struct {
	// Path is one container file.
	Path string `json:"path"`

	// List names a text file listing container files, one per line. It is
	// used instead of Path when set.
	List string `json:"list"`
}

// SourceHTTP holds configuration for the "http" source kind.
type SourceHTTP struct {
	URL string `json:"url"`

	// Options: max_retries (int), timeout_seconds (int),
	// insecure_skip_verify (bool), headers (object of strings).
	Options Options `json:"options"`
}

// Transform overrides the default normalization rules.
type Transform struct {
	// Rules maps a payload type to the transforms applied to it, replacing
	// the default chain: "delta_decode[:column]", "sort_by_parent_id[:column]"
	// or "none".
	Rules map[string][]string `json:"rules"`

	// Options: id_column, parent_id_column (string), skip_missing_columns (bool).
	Options Options `json:"options"`
}

// Sinks selects and configures the sinks normalized tables are routed to.
type Sinks struct {
	// Active lists the sink kinds to open, in routing order.
	Active []string `json:"active"`

	// TablePrefix is prepended to every derived table name.
	TablePrefix string `json:"table_prefix"`

	Query   SinkQuery   `json:"query"`
	Parquet SinkParquet `json:"parquet"`
	Catalog SinkCatalog `json:"catalog"`
}

// SinkQuery configures the query surface.
type SinkQuery struct {
	Engine string `json:"engine"` // "sqlite" (default) or "duckdb"
	DSN    string `json:"dsn"`    // empty: private in-memory database
}

// SinkParquet configures the file export.
type SinkParquet struct {
	Root        string `json:"root"` // directory or s3://bucket/prefix
	Compression string `json:"compression"`
	// Dictionary defaults to true.
	Dictionary *bool `json:"dictionary"`
}

// SinkCatalog configures the catalog commit.
type SinkCatalog struct {
	Backend   string `json:"backend"`
	DSN       string `json:"dsn"`
	Namespace string `json:"namespace"`
	Warehouse string `json:"warehouse"`
	// CommitRetries is the number of reload-and-recommit attempts after a
	// conflict. Zero means the default of one; negative disables retries.
	CommitRetries int `json:"commit_retries"`
}

// Load reads and decodes a pipeline file. Unknown fields are rejected.
func Load(path string) (Pipeline, error) {
	var p Pipeline
	f, err := os.Open(path)
	if err != nil {
		return p, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return p, fmt.Errorf("decode config %s: %w", path, err)
	}
	return p, nil
}

// ConcurrencyOrDefault returns Runtime.Concurrency, or DefaultConcurrency
// when it is not positive.
func (p Pipeline) ConcurrencyOrDefault() int {
	if p.Runtime.Concurrency <= 0 {
		return DefaultConcurrency
	}
	return p.Runtime.Concurrency
}

// PayloadTypes resolves Payloads. A nil map selects every type.
func (p Pipeline) PayloadTypes() (map[otap.PayloadType]bool, error) {
	if len(p.Payloads) == 0 {
		return nil, nil
	}
	out := make(map[otap.PayloadType]bool, len(p.Payloads))
	for _, s := range p.Payloads {
		t, err := otap.ParsePayloadType(s)
		if err != nil {
			return nil, err
		}
		out[t] = true
	}
	return out, nil
}

// TransformOptions reads the builtin transform options from the options bag.
func (t Transform) TransformOptions() builtin.Options {
	return builtin.Options{
		IDColumn:           t.Options.String("id_column", ""),
		ParentIDColumn:     t.Options.String("parent_id_column", ""),
		SkipMissingColumns: t.Options.Bool("skip_missing_columns", false),
	}
}

// Overrides resolves the payload type keys of Rules.
func (t Transform) Overrides() (map[otap.PayloadType][]string, error) {
	if len(t.Rules) == 0 {
		return nil, nil
	}
	out := make(map[otap.PayloadType][]string, len(t.Rules))
	for name, specs := range t.Rules {
		typ, err := otap.ParsePayloadType(name)
		if err != nil {
			return nil, err
		}
		out[typ] = specs
	}
	return out, nil
}

// Storage returns one storage.Config per active sink kind, in Active order.
// Duplicate kinds are collapsed.
func (s Sinks) Storage(mem memory.Allocator) []storage.Config {
	seen := map[string]bool{}
	var out []storage.Config
	for _, kind := range s.Active {
		kind = strings.ToLower(strings.TrimSpace(kind))
		if kind == "" || seen[kind] {
			continue
		}
		seen[kind] = true
		dict := true
		if s.Parquet.Dictionary != nil {
			dict = *s.Parquet.Dictionary
		}
		out = append(out, storage.Config{
			Kind:          kind,
			Engine:        s.Query.Engine,
			DSN:           s.Query.DSN,
			Root:          s.Parquet.Root,
			Compression:   s.Parquet.Compression,
			Dictionary:    dict,
			Backend:       s.Catalog.Backend,
			CatalogDSN:    s.Catalog.DSN,
			Namespace:     s.Catalog.Namespace,
			Warehouse:     s.Catalog.Warehouse,
			CommitRetries: s.Catalog.CommitRetries,
			Mem:           mem,
		})
	}
	return out
}

// Options is a free-form JSON object with typed accessors. Each accessor
// returns def when the key is absent or holds a value of another type.
type Options map[string]any

func (o Options) String(key, def string) string {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

func (o Options) Bool(key string, def bool) bool {
	if v, ok := o[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// Int accepts the float64 encoding/json produces as well as int.
func (o Options) Int(key string, def int) int {
	if v, ok := o[key]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		}
	}
	return def
}

// StringMap returns the string values of an object, ignoring the rest.
func (o Options) StringMap(key string) map[string]string {
	res := map[string]string{}
	if m, ok := o[key].(map[string]any); ok {
		for k, vv := range m {
			if s, ok := vv.(string); ok {
				res[k] = s
			}
		}
	}
	return res
}

// StringSlice returns the string elements of an array, or nil.
func (o Options) StringSlice(key string) []string {
	switch vv := o[key].(type) {
	case []any:
		out := make([]string, 0, len(vv))
		for _, x := range vv {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return vv
	}
	return nil
}

// Keys returns the option names, sorted.
func (o Options) Keys() []string {
	out := make([]string, 0, len(o))
	for k := range o {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// UnmarshalJSON makes a missing or null object decode to an empty map.
func (o *Options) UnmarshalJSON(b []byte) error {
	var tmp map[string]any
	if len(b) == 0 || string(b) == "null" {
		*o = Options{}
		return nil
	}
	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}
	*o = Options(tmp)
	return nil
}
