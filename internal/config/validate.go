package config

import (
	"fmt"
	"strings"

	"otapetl/internal/otap"
	"otapetl/internal/storage"
	"otapetl/internal/storage/parquet"
	"otapetl/internal/transformer/builtin"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError blocks the run.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is reported but does not block the run.
	SeverityWarning IssueSeverity = "warning"
)

// Issue is one finding of ValidatePipeline. Path is a dotted path into the
// config, e.g. "sinks.catalog.backend".
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue has SeverityError.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ValidatePipeline statically checks p. It does not open sources or sinks.
//
//	issues := config.ValidatePipeline(p)
//	for _, iss := range issues {
//		fmt.Println(iss)
//	}
//	if config.HasErrors(issues) { os.Exit(2) }
func ValidatePipeline(p Pipeline) []Issue {
	var issues []Issue

	if strings.TrimSpace(p.Job) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "job",
			Message:  "job must not be empty; it labels metrics and log lines",
		})
	}
	issues = append(issues, validateSource(p.Source)...)
	issues = append(issues, validatePayloads(p.Payloads)...)
	issues = append(issues, validateTransform(p.Transform)...)
	issues = append(issues, validateSinks(p.Sinks)...)
	issues = append(issues, validateRuntime(p.Runtime)...)
	return issues
}

func validateSource(s Source) []Issue {
	var issues []Issue

	switch strings.TrimSpace(s.Kind) {
	case "":
		return append(issues, Issue{SeverityError, "source.kind", "source.kind must not be empty"})
	case "file":
		if strings.TrimSpace(s.File.Path) == "" && strings.TrimSpace(s.File.List) == "" {
			issues = append(issues, Issue{SeverityError, "source.file.path", "file source requires a path or a list"})
		}
		if s.File.Path != "" && s.File.List != "" {
			issues = append(issues, Issue{SeverityWarning, "source.file.list", "both path and list are set; list wins"})
		}
	case "http":
		u := strings.TrimSpace(s.HTTP.URL)
		if u == "" {
			issues = append(issues, Issue{SeverityError, "source.http.url", "http source requires a url"})
		} else if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			issues = append(issues, Issue{SeverityError, "source.http.url", fmt.Sprintf("url %q is not http(s)", u)})
		}
		if n := s.HTTP.Options.Int("max_retries", 0); n < 0 {
			issues = append(issues, Issue{SeverityError, "source.http.options.max_retries", "max_retries must not be negative"})
		}
		if s.HTTP.Options.Bool("insecure_skip_verify", false) {
			issues = append(issues, Issue{SeverityWarning, "source.http.options.insecure_skip_verify", "TLS verification is disabled"})
		}
	default:
		issues = append(issues, Issue{SeverityError, "source.kind", fmt.Sprintf("unknown source kind %q (want file or http)", s.Kind)})
	}

	switch strings.ToLower(s.Format) {
	case "", "proto", "jsonl":
	default:
		issues = append(issues, Issue{SeverityError, "source.format", fmt.Sprintf("unknown format %q (want proto or jsonl)", s.Format)})
	}
	switch strings.ToLower(s.Compression) {
	case "", "none", "zstd", "auto":
	default:
		issues = append(issues, Issue{SeverityError, "source.compression", fmt.Sprintf("unknown compression %q (want none, zstd or auto)", s.Compression)})
	}
	return issues
}

func validatePayloads(names []string) []Issue {
	var issues []Issue
	for i, n := range names {
		if _, err := otap.ParsePayloadType(n); err != nil {
			issues = append(issues, Issue{SeverityError, fmt.Sprintf("payloads[%d]", i), err.Error()})
		}
	}
	return issues
}

func validateTransform(t Transform) []Issue {
	var issues []Issue

	opts := t.TransformOptions()
	for name, specs := range t.Rules {
		path := "transform.rules." + name
		if _, err := otap.ParsePayloadType(name); err != nil {
			issues = append(issues, Issue{SeverityError, path, err.Error()})
			continue
		}
		for i, s := range specs {
			if strings.EqualFold(strings.TrimSpace(s), "none") {
				continue
			}
			if _, err := builtin.New(s, opts); err != nil {
				issues = append(issues, Issue{SeverityError, fmt.Sprintf("%s[%d]", path, i), err.Error()})
			}
		}
	}

	known := map[string]bool{"id_column": true, "parent_id_column": true, "skip_missing_columns": true}
	for _, k := range t.Options.Keys() {
		if !known[k] {
			issues = append(issues, Issue{SeverityWarning, "transform.options." + k, "unknown transform option"})
		}
	}
	if opts.SkipMissingColumns {
		issues = append(issues, Issue{SeverityWarning, "transform.options.skip_missing_columns",
			"tables without the id or parent_id column pass through unnormalized"})
	}
	return issues
}

func validateSinks(s Sinks) []Issue {
	var issues []Issue

	if len(s.Active) == 0 {
		return append(issues, Issue{SeverityError, "sinks.active", "at least one sink must be active"})
	}
	registered := map[string]bool{}
	for _, k := range storage.Kinds() {
		registered[k] = true
	}
	seen := map[string]bool{}
	for i, kind := range s.Active {
		kind = strings.ToLower(strings.TrimSpace(kind))
		path := fmt.Sprintf("sinks.active[%d]", i)
		if seen[kind] {
			issues = append(issues, Issue{SeverityWarning, path, fmt.Sprintf("sink %q listed twice", kind)})
			continue
		}
		seen[kind] = true
		switch kind {
		case "query":
			switch strings.ToLower(s.Query.Engine) {
			case "", "sqlite", "duckdb":
			default:
				issues = append(issues, Issue{SeverityError, "sinks.query.engine", fmt.Sprintf("unknown engine %q", s.Query.Engine)})
			}
		case "parquet":
			if strings.TrimSpace(s.Parquet.Root) == "" {
				issues = append(issues, Issue{SeverityError, "sinks.parquet.root", "parquet sink requires a root directory or s3:// URL"})
			}
			if _, err := parquet.ParseCompression(s.Parquet.Compression); err != nil {
				issues = append(issues, Issue{SeverityError, "sinks.parquet.compression", err.Error()})
			}
		case "catalog":
			c := s.Catalog
			if strings.TrimSpace(c.Backend) == "" {
				issues = append(issues, Issue{SeverityError, "sinks.catalog.backend", "catalog sink requires a backend"})
			}
			if strings.TrimSpace(c.DSN) == "" {
				issues = append(issues, Issue{SeverityError, "sinks.catalog.dsn", "catalog sink requires a dsn"})
			}
			if strings.TrimSpace(c.Warehouse) == "" {
				issues = append(issues, Issue{SeverityError, "sinks.catalog.warehouse", "catalog sink requires a warehouse for data files"})
			}
			if c.Namespace != "" && storage.Identifier(c.Namespace) == "" {
				issues = append(issues, Issue{SeverityError, "sinks.catalog.namespace", fmt.Sprintf("namespace %q has no identifier characters", c.Namespace)})
			}
		default:
			sev := SeverityError
			if registered[kind] {
				sev = SeverityWarning
			}
			issues = append(issues, Issue{sev, path, fmt.Sprintf("unknown sink kind %q", kind)})
		}
	}
	if s.TablePrefix != "" && storage.Identifier(s.TablePrefix) != strings.ToLower(s.TablePrefix) {
		issues = append(issues, Issue{SeverityWarning, "sinks.table_prefix",
			fmt.Sprintf("table_prefix %q is used as %q", s.TablePrefix, storage.Identifier(s.TablePrefix))})
	}
	return issues
}

func validateRuntime(r RuntimeConfig) []Issue {
	var issues []Issue
	if r.Concurrency < 0 {
		issues = append(issues, Issue{SeverityError, "runtime.concurrency", "concurrency must not be negative"})
	}
	if r.Concurrency > 256 {
		issues = append(issues, Issue{SeverityWarning, "runtime.concurrency",
			fmt.Sprintf("concurrency=%d opens as many writers and connections at once", r.Concurrency)})
	}
	return issues
}
