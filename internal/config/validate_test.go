package config

import (
	"strings"
	"testing"
)

func hasIssue(t *testing.T, issues []Issue, sev IssueSeverity, path, msgSubstr string) bool {
	t.Helper()
	for _, iss := range issues {
		if iss.Severity == sev && iss.Path == path && strings.Contains(iss.Message, msgSubstr) {
			return true
		}
	}
	return false
}

func validPipeline() Pipeline {
	return Pipeline{
		Job:    "test-job",
		Source: Source{Kind: "file", File: SourceFile{Path: "batch.pb"}},
		Sinks: Sinks{
			Active:  []string{"query", "parquet", "catalog"},
			Parquet: SinkParquet{Root: "out"},
			Catalog: SinkCatalog{Backend: "sqlite", DSN: "file:catalog.db", Warehouse: "warehouse"},
		},
		Runtime: RuntimeConfig{Concurrency: 2},
	}
}

func TestValidatePipeline_ValidMinimal(t *testing.T) {
	t.Parallel()

	if issues := ValidatePipeline(validPipeline()); len(issues) != 0 {
		t.Fatalf("expected no issues; got: %+v", issues)
	}
}

func TestValidatePipeline_MissingJob(t *testing.T) {
	t.Parallel()

	p := validPipeline()
	p.Job = " "
	issues := ValidatePipeline(p)
	if !hasIssue(t, issues, SeverityError, "job", "must not be empty") || !HasErrors(issues) {
		t.Fatalf("issues = %+v", issues)
	}
}

func TestValidateSource_Cases(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		src  Source
		sev  IssueSeverity
		path string
		msg  string
	}{
		{"missing_kind", Source{}, SeverityError, "source.kind", "must not be empty"},
		{"unknown_kind", Source{Kind: "kafka"}, SeverityError, "source.kind", "unknown source kind"},
		{"file_without_path", Source{Kind: "file"}, SeverityError, "source.file.path", "path or a list"},
		{"file_path_and_list", Source{Kind: "file", File: SourceFile{Path: "a", List: "b"}}, SeverityWarning, "source.file.list", "list wins"},
		{"http_without_url", Source{Kind: "http"}, SeverityError, "source.http.url", "requires a url"},
		{"http_bad_scheme", Source{Kind: "http", HTTP: SourceHTTP{URL: "ftp://x"}}, SeverityError, "source.http.url", "not http"},
		{"http_negative_retries", Source{Kind: "http", HTTP: SourceHTTP{URL: "https://x", Options: Options{"max_retries": float64(-1)}}},
			SeverityError, "source.http.options.max_retries", "negative"},
		{"http_insecure", Source{Kind: "http", HTTP: SourceHTTP{URL: "https://x", Options: Options{"insecure_skip_verify": true}}},
			SeverityWarning, "source.http.options.insecure_skip_verify", "disabled"},
		{"bad_format", Source{Kind: "file", File: SourceFile{Path: "a"}, Format: "csv"}, SeverityError, "source.format", "unknown format"},
		{"bad_compression", Source{Kind: "file", File: SourceFile{Path: "a"}, Compression: "lz4"}, SeverityError, "source.compression", "unknown compression"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if issues := validateSource(tt.src); !hasIssue(t, issues, tt.sev, tt.path, tt.msg) {
				t.Fatalf("issues = %+v", issues)
			}
		})
	}
}

func TestValidatePayloadsAndTransform(t *testing.T) {
	t.Parallel()

	if issues := validatePayloads([]string{"logs", "nope"}); !hasIssue(t, issues, SeverityError, "payloads[1]", "unknown payload type") {
		t.Fatalf("payload issues = %+v", issues)
	}

	tr := Transform{
		Rules: map[string][]string{
			"logattrs": {"none"},
			"spans":    {"delta_decode", "reverse"},
			"widgets":  {"none"},
		},
		Options: Options{"skip_missing_columns": true, "colour": "red"},
	}
	issues := validateTransform(tr)
	for _, want := range []struct {
		sev  IssueSeverity
		path string
		msg  string
	}{
		{SeverityError, "transform.rules.spans[1]", "unknown transform"},
		{SeverityError, "transform.rules.widgets", "unknown payload type"},
		{SeverityWarning, "transform.options.colour", "unknown transform option"},
		{SeverityWarning, "transform.options.skip_missing_columns", "pass through"},
	} {
		if !hasIssue(t, issues, want.sev, want.path, want.msg) {
			t.Fatalf("missing %s %s; issues = %+v", want.sev, want.path, issues)
		}
	}
	if hasIssue(t, issues, SeverityError, "transform.rules.logattrs", "") {
		t.Fatalf("none rule flagged: %+v", issues)
	}
}

func TestValidateSinks_Cases(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		sinks Sinks
		sev   IssueSeverity
		path  string
		msg   string
	}{
		{"none_active", Sinks{}, SeverityError, "sinks.active", "at least one"},
		{"unknown_kind", Sinks{Active: []string{"kafka"}}, SeverityError, "sinks.active[0]", "unknown sink kind"},
		{"duplicate", Sinks{Active: []string{"query", "QUERY"}}, SeverityWarning, "sinks.active[1]", "listed twice"},
		{"bad_engine", Sinks{Active: []string{"query"}, Query: SinkQuery{Engine: "oracle"}}, SeverityError, "sinks.query.engine", "unknown engine"},
		{"parquet_root", Sinks{Active: []string{"parquet"}}, SeverityError, "sinks.parquet.root", "requires a root"},
		{"parquet_codec", Sinks{Active: []string{"parquet"}, Parquet: SinkParquet{Root: "o", Compression: "lzo"}}, SeverityError, "sinks.parquet.compression", "lzo"},
		{"catalog_backend", Sinks{Active: []string{"catalog"}}, SeverityError, "sinks.catalog.backend", "requires a backend"},
		{"catalog_dsn", Sinks{Active: []string{"catalog"}}, SeverityError, "sinks.catalog.dsn", "requires a dsn"},
		{"catalog_warehouse", Sinks{Active: []string{"catalog"}}, SeverityError, "sinks.catalog.warehouse", "warehouse"},
		{"catalog_namespace", Sinks{Active: []string{"catalog"}, Catalog: SinkCatalog{Namespace: "$$"}}, SeverityError, "sinks.catalog.namespace", "identifier"},
		{"prefix_folded", Sinks{Active: []string{"query"}, TablePrefix: "Prod-"}, SeverityWarning, "sinks.table_prefix", `"prod_"`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if issues := validateSinks(tt.sinks); !hasIssue(t, issues, tt.sev, tt.path, tt.msg) {
				t.Fatalf("issues = %+v", issues)
			}
		})
	}
}

func TestValidateRuntime_Cases(t *testing.T) {
	t.Parallel()

	if issues := validateRuntime(RuntimeConfig{Concurrency: -1}); !hasIssue(t, issues, SeverityError, "runtime.concurrency", "negative") {
		t.Fatalf("issues = %+v", issues)
	}
	if issues := validateRuntime(RuntimeConfig{Concurrency: 1000}); !hasIssue(t, issues, SeverityWarning, "runtime.concurrency", "concurrency=1000") {
		t.Fatalf("issues = %+v", issues)
	}
	if issues := validateRuntime(RuntimeConfig{}); len(issues) != 0 {
		t.Fatalf("zero runtime issues = %+v", issues)
	}
}

func TestIssueError(t *testing.T) {
	t.Parallel()

	i := Issue{Severity: SeverityWarning, Path: "sinks.active", Message: "m"}
	if got := i.Error(); got != "warning at sinks.active: m" {
		t.Fatalf("Error() = %q", got)
	}
}
