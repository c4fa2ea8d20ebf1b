// Package webui exposes a minimal HTTP console over the query surface of a
// finished run: an HTML form to type SQL into and a plain-text API.
//
// Routes:
//
//	GET  /          → form listing the registered tables
//	POST /query     → runs the form's SQL; renders the result inline
//	GET  /api/query → ?sql=...&format=text|csv|markdown, returns text/plain
package webui

import (
	"bytes"
	"context"
	_ "embed"
	"html/template"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"

	"otapetl/internal/render"
)

// Querier is the part of query.Surface the console needs.
type Querier interface {
	Tables() []string
	Execute(ctx context.Context, query string) ([]arrow.Record, error)
}

// Config controls server startup.
type Config struct {
	Addr string
	// Timeout bounds one query. Zero means 30s.
	Timeout time.Duration
}

// Server serves the console for one Querier.
type Server struct {
	cfg  Config
	q    Querier
	mux  *http.ServeMux
	tmpl *template.Template
}

// NewServer constructs a Server with routes and the embedded template.
func NewServer(cfg Config, q Querier) *Server {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	s := &Server{
		cfg:  cfg,
		q:    q,
		mux:  http.NewServeMux(),
		tmpl: template.Must(template.New("index").Parse(indexHTML)),
	}
	s.routes()
	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	srv := &http.Server{Addr: s.cfg.Addr, Handler: s.mux, ReadHeaderTimeout: 10 * time.Second}
	return srv.ListenAndServe()
}

func (s *Server) routes() {
	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/query", s.handleQuery)
	s.mux.HandleFunc("/api/query", s.handleAPIQuery)
}

type page struct {
	Tables []string
	SQL    string
	Rows   int
	Result template.HTML
	Error  string
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	s.execute(w, page{Tables: s.q.Tables(), SQL: defaultSQL(s.q.Tables())})
}

// handleQuery runs the form's SQL and renders the results page.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form: "+err.Error(), http.StatusBadRequest)
		return
	}
	p := page{Tables: s.q.Tables(), SQL: strings.TrimSpace(r.FormValue("sql"))}
	if p.SQL == "" {
		p.Error = "empty query"
		s.execute(w, p)
		return
	}
	var buf bytes.Buffer
	n, err := s.run(r.Context(), p.SQL, render.HTML, &buf)
	if err != nil {
		p.Error = err.Error()
	} else {
		p.Rows = n
		// go-pretty escapes cell values when rendering HTML.
		p.Result = template.HTML(buf.String())
	}
	s.execute(w, p)
}

// handleAPIQuery returns text/plain so scripts can curl it easily.
func (s *Server) handleAPIQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sql := strings.TrimSpace(q.Get("sql"))
	if sql == "" {
		http.Error(w, "missing sql parameter", http.StatusBadRequest)
		return
	}
	f := render.Format(q.Get("format"))
	switch f {
	case render.CSV, render.Markdown, render.Text:
	case "":
		f = render.Text
	default:
		http.Error(w, "unknown format "+string(f), http.StatusBadRequest)
		return
	}
	var buf bytes.Buffer
	if _, err := s.run(r.Context(), sql, f, &buf); err != nil {
		http.Error(w, "query failed: "+err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) run(ctx context.Context, sql string, f render.Format, buf *bytes.Buffer) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	recs, err := s.q.Execute(ctx, sql)
	if err != nil {
		return 0, err
	}
	defer func() {
		for _, rec := range recs {
			rec.Release()
		}
	}()
	return render.Records(buf, f, recs)
}

func (s *Server) execute(w http.ResponseWriter, p page) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.Execute(w, p); err != nil {
		log.Println("webui: template error:", err)
	}
}

func defaultSQL(tables []string) string {
	if len(tables) == 0 {
		return ""
	}
	return "SELECT * FROM " + tables[0] + " LIMIT 20"
}

// indexHTML is the embedded console page.
//
//go:embed index.tmpl.html
var indexHTML string
