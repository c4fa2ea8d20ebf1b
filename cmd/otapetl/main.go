// Command otapetl decodes OTAP batch-arrow-records containers, normalizes
// every payload table and routes it to the configured sinks.
//
// Usage:
//
//	otapetl -config configs/pipelines/logs.json
//	otapetl -config logs.json -query "SELECT count(*) FROM logattrs"
//	otapetl -config logs.json -serve :8080
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"otapetl/internal/config"
	"otapetl/internal/metrics"
	"otapetl/internal/metrics/datadog"
	"otapetl/internal/metrics/prompush"
	"otapetl/internal/pipeline"
	"otapetl/internal/render"
	"otapetl/internal/webui"

	// register all sinks, query engines and catalog backends with the
	// storage factory; the config picks which to use.
	_ "otapetl/internal/storage/all"
)

// queryFlags collects repeated -query flags.
type queryFlags []string

func (q *queryFlags) String() string     { return strings.Join(*q, "; ") }
func (q *queryFlags) Set(v string) error { *q = append(*q, v); return nil }

// main is the entry point for the otapetl binary. It loads the pipeline
// config, optionally initializes a metrics backend, executes the run and
// prints the summary.
func main() {
	var (
		cfgPath           string
		metricsBackendFlg string
		pushGatewayURLFlg string
		dogStatsDAddrFlg  string
		serveAddr         string
		concurrency       int
		validate          bool
		queries           queryFlags
		queryFormat       string
	)

	flag.StringVar(&cfgPath, "config", "configs/pipelines/logs.json", "pipeline config JSON path")
	flag.StringVar(&metricsBackendFlg, "metrics-backend", "", "metrics backend: pushgateway, datadog or none (overrides env METRICS_BACKEND)")
	flag.StringVar(&pushGatewayURLFlg, "pushgateway-url", "", "Pushgateway base URL (overrides env PUSHGATEWAY_URL)")
	flag.StringVar(&dogStatsDAddrFlg, "dogstatsd-addr", "", "DogStatsD address (overrides env DOGSTATSD_ADDR)")
	flag.StringVar(&serveAddr, "serve", "", "after the run, serve a SQL console over the query sink on this address")
	flag.IntVar(&concurrency, "concurrency", 0, "payloads processed at once (overrides runtime.concurrency and env OTAPETL_CONCURRENCY)")
	flag.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	flag.Var(&queries, "query", "SQL to run against the query sink after the run (repeatable)")
	flag.StringVar(&queryFormat, "query-format", "text", "output format of -query results: text, csv or markdown")
	verbose := flag.Bool("v", false, "enable verbose logs")

	flag.Parse()

	p, err := config.Load(cfgPath)
	if err != nil {
		fatalf("%v", err)
	}
	p.Runtime.Concurrency = pickInt(concurrency, getenvInt("OTAPETL_CONCURRENCY", p.Runtime.Concurrency))

	issues := config.ValidatePipeline(p)
	for _, iss := range issues {
		fmt.Fprintf(os.Stderr, "%s\n", iss.Error())
	}
	if config.HasErrors(issues) {
		log.Printf("Configuration is invalid: %v", cfgPath)
		os.Exit(1)
	}
	if validate {
		log.Printf("Configuration is valid: %v", cfgPath)
		os.Exit(0)
	}

	flush := setupMetrics(p.Job, metricsBackendFlg, pushGatewayURLFlg, dogStatsDAddrFlg, *verbose)
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	start := time.Now()

	if *verbose {
		log.Printf("pipeline: source=%s sinks=%s concurrency=%d", p.Source.Kind, strings.Join(p.Sinks.Active, ","), p.ConcurrencyOrDefault())
	}

	router, err := openRouter(ctx, p)
	if err != nil {
		fatalf("%v", err)
	}
	surface := querySurface(router)
	if surface != nil {
		defer surface.Close()
	}

	sum, err := pipeline.Run(ctx, p, router)
	if sum != nil {
		if perr := printSummary(os.Stdout, sum); perr != nil {
			log.Printf("print summary: %v", perr)
		}
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Printf("run cancelled after %s; unfinalized sink output abandoned", time.Since(start).Truncate(time.Millisecond))
		}
		flush()
		fatalf("%v", err)
	}
	if *verbose {
		log.Printf("completed in %s", time.Since(start).Truncate(time.Millisecond))
	}

	if len(queries) > 0 || serveAddr != "" {
		if surface == nil {
			fatalf("-query and -serve need the query sink in sinks.active")
		}
	}
	for _, q := range queries {
		if err := runQuery(ctx, os.Stdout, surface, q, render.Format(queryFormat)); err != nil {
			log.Printf("query %q: %v", q, err)
		}
	}
	if serveAddr != "" {
		srv := webui.NewServer(webui.Config{Addr: serveAddr}, surface)
		log.Printf("query console listening on %s", serveAddr)
		if err := srv.ListenAndServe(); err != nil {
			log.Printf("serve: %v", err)
		}
	}
}

// setupMetrics installs the metrics backend chosen by flag, then env, then
// "none". The returned func flushes it and is safe to call more than once.
func setupMetrics(job, backendFlg, gwURLFlg, ddAddrFlg string, verbose bool) func() {
	if job == "" {
		job = "otapetl"
	}
	backendName := backendFlg
	if backendName == "" {
		backendName = os.Getenv("METRICS_BACKEND")
	}

	switch backendName {
	case "pushgateway":
		gwURL := firstNonEmpty(gwURLFlg, os.Getenv("PUSHGATEWAY_URL"), "http://localhost:9091")
		b, err := prompush.NewBackend(job, gwURL)
		if err != nil {
			log.Printf("metrics: failed to init prom push backend: %v; using nop", err)
			return func() {}
		}
		log.Printf("metrics: url=%v, backend=%v, job_name=%v", gwURL, backendName, job)
		metrics.SetBackend(b)

	case "datadog":
		addr := firstNonEmpty(ddAddrFlg, os.Getenv("DOGSTATSD_ADDR"), "127.0.0.1:8125")
		b, err := datadog.NewBackend(datadog.Config{Addr: addr, Namespace: "otapetl.", GlobalTags: []string{"job:" + job}})
		if err != nil {
			log.Printf("metrics: failed to init datadog backend: %v; using nop", err)
			return func() {}
		}
		log.Printf("metrics: addr=%v, backend=%v, job_name=%v", addr, backendName, job)
		metrics.SetBackend(b)

	case "", "none":
		if verbose {
			log.Printf("metrics: disabled (backend=%q)", backendName)
		}
		return func() {}

	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", backendName)
		return func() {}
	}

	flushed := false
	return func() {
		if flushed {
			return
		}
		flushed = true
		if err := metrics.Flush(); err != nil {
			log.Printf("metrics: flush error: %v", err)
		}
	}
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
