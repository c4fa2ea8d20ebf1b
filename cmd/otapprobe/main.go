package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path"
	"strings"
	"time"

	"otapetl/internal/probe"
)

// main is the entrypoint for the container probing CLI. It reads containers
// from a file or URL, reports the payloads they carry and, with -suggest,
// prints a starter pipeline config for cmd/otapetl instead.
func main() {
	var (
		flagFile = flag.String(
			"file",
			"",
			"Local container file (protobuf or JSON lines, optionally zstd)",
		)
		flagURL = flag.String(
			"url",
			"",
			"URL of a container file",
		)
		flagFormat = flag.String(
			"format",
			"",
			"Container format: proto|jsonl (default: sniffed)",
		)
		flagCompression = flag.String(
			"compression",
			"",
			"Compression: none|zstd (default: sniffed)",
		)
		flagMax = flag.Int(
			"max",
			0,
			"Stop after this many containers (0 = all)",
		)
		flagJSON = flag.Bool(
			"json",
			false,
			"Print the report as JSON instead of tables",
		)
		flagSuggest = flag.Bool(
			"suggest",
			false,
			"Print a starter pipeline config derived from the report",
		)
		flagBackend = flag.String(
			"backend",
			"sqlite",
			"Catalog backend to target in the suggested config: sqlite|postgres|mysql|mssql|bolt",
		)
		flagRoot = flag.String(
			"root",
			"out",
			"Output directory for parquet files and the catalog warehouse in the suggested config",
		)
		flagJob = flag.String(
			"job",
			"",
			"Job name for the suggested config",
		)
		flagAllowInsecure = flag.Bool(
			"allow-insecure",
			false,
			"allow insecure certs",
		)
		flagPretty = flag.Bool(
			"pretty",
			true,
			"Pretty-print JSON output",
		)
	)
	flag.Parse()

	if *flagFile == "" && *flagURL == "" {
		fmt.Fprintln(os.Stderr, "missing -file or -url")
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	rep, err := probe.Probe(ctx, probe.Options{
		Path:             *flagFile,
		URL:              *flagURL,
		Format:           *flagFormat,
		Compression:      *flagCompression,
		MaxContainers:    *flagMax,
		AllowInsecureTLS: *flagAllowInsecure,
	})
	if err != nil {
		log.Fatalf("probe: %v", err)
	}

	var out any = rep
	switch {
	case *flagSuggest:
		job := *flagJob
		if job == "" {
			job = strings.TrimSuffix(path.Base(*flagFile+*flagURL), path.Ext(*flagFile+*flagURL))
		}
		out = probe.Suggest(rep, probe.SuggestOptions{Job: job, Backend: *flagBackend, Root: *flagRoot})
	case !*flagJSON:
		if err := probe.WriteText(os.Stdout, rep); err != nil {
			log.Fatalf("write report: %v", err)
		}
		return
	}

	enc := json.NewEncoder(os.Stdout)
	if *flagPretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(out); err != nil {
		log.Fatalf("encode: %v", err)
	}
}
