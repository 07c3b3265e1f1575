// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package webfetch issues supplementary search and extraction requests for
// report plan gaps and stores the raw results under the run's supporting
// folder. Fetched documents come back as SourceRecords for re-triage.
//
// Requests within the stage run concurrently through a bounded worker pool;
// every request has its own timeout and retry budget. A failed request is
// recorded in the fetch report and never aborts the stage.
package webfetch

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/report-engine/internal/artifact"
	"github.com/pdiddy/report-engine/internal/httputil"
	"github.com/pdiddy/report-engine/internal/logging"
	"github.com/pdiddy/report-engine/pkg/types"
)

const (
	maxPageBytes     = 2 << 20
	extractsPerQuery = 2
)

// Outcome statuses.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// QueryOutcome records one provider search.
type QueryOutcome struct {
	Query    string `json:"query" yaml:"query"`
	Provider string `json:"provider" yaml:"provider"`
	Status   string `json:"status" yaml:"status"`
	Error    string `json:"error,omitempty" yaml:"error,omitempty"`
	Hits     int    `json:"hits" yaml:"hits"`
}

// ExtractOutcome records one page extraction.
type ExtractOutcome struct {
	URL      string `json:"url" yaml:"url"`
	SourceID string `json:"source_id,omitempty" yaml:"source_id,omitempty"`
	Status   string `json:"status" yaml:"status"`
	Error    string `json:"error,omitempty" yaml:"error,omitempty"`
	Artifact string `json:"artifact,omitempty" yaml:"artifact,omitempty"`
}

// Report is the fetch report written to supporting/fetch-report.yaml.
type Report struct {
	Queries  []QueryOutcome   `json:"queries" yaml:"queries"`
	Extracts []ExtractOutcome `json:"extracts" yaml:"extracts"`

	// Partial is true when any request failed.
	Partial bool `json:"partial" yaml:"partial"`
}

// Failed returns the queries with at least one failed provider search.
func (r Report) Failed() []string {
	seen := make(map[string]bool)
	var out []string
	for _, q := range r.Queries {
		if q.Status == StatusFailed && !seen[q.Query] {
			seen[q.Query] = true
			out = append(out, q.Query)
		}
	}
	return out
}

// Result is the stage output.
type Result struct {
	Report  Report
	Records []types.SourceRecord
	Notes   []string
}

// Fetcher runs the supplementary fetch.
type Fetcher struct {
	Searchers []Searcher
	Client    *http.Client
	Store     *artifact.Store
	Opts      types.WebFetchOptions
	UserAgent string
}

type searchTask struct {
	query    string
	searcher Searcher
	hits     []Hit
	err      error
}

type extractTask struct {
	url     string
	derived string
	title   string
	page    string
	err     error
}

// Run searches for plan gaps and extracts the top results. Without any
// configured searcher, or when the instruction switches every configured
// provider off, the stage fails with types.ErrProviderUnavailable before
// touching the store.
func (f *Fetcher) Run(ctx context.Context, in types.Instruction, plan types.ReportPlan) (Result, error) {
	if len(f.Searchers) == 0 {
		return Result{}, fmt.Errorf("web fetch: no search provider configured: %w", types.ErrProviderUnavailable)
	}
	var searchers []Searcher
	for _, s := range f.Searchers {
		if in.ProviderEnabled(s.Name()) {
			searchers = append(searchers, s)
		}
	}
	if len(searchers) == 0 {
		return Result{}, fmt.Errorf("web fetch: every provider disabled by the instruction: %w", types.ErrProviderUnavailable)
	}
	logger := logging.New("webfetch")
	queries := Queries(in, plan, f.Opts.MaxQueries)

	var tasks []*searchTask
	for _, q := range queries {
		for _, s := range searchers {
			tasks = append(tasks, &searchTask{query: q, searcher: s})
		}
	}
	g := f.group()
	for _, t := range tasks {
		g.Go(func() error {
			tctx, cancel := context.WithTimeout(ctx, f.Opts.FetchTimeout)
			defer cancel()
			t.hits, t.err = t.searcher.Search(tctx, Query{
				Text: t.query, DateFrom: in.DateFrom, DateTo: in.DateTo, Max: f.Opts.MaxResults,
			})
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	var res Result
	seen := make(map[string]bool)
	var targets []*extractTask
	for _, u := range in.URLs {
		if !seen[u] {
			seen[u] = true
			targets = append(targets, &extractTask{url: u})
		}
	}

	for _, q := range queries {
		doc := searchDoc{Query: q}
		for _, t := range tasks {
			if t.query != q {
				continue
			}
			out := QueryOutcome{Query: q, Provider: t.searcher.Name(), Status: StatusOK, Hits: len(t.hits)}
			if t.err != nil {
				out.Status, out.Error = StatusFailed, t.err.Error()
				res.Report.Partial = true
				logger.Warn("search failed", "query", q, "provider", out.Provider, "error", t.err)
			}
			res.Report.Queries = append(res.Report.Queries, out)
			doc.Results = append(doc.Results, providerHits{Provider: out.Provider, Hits: t.hits, Error: out.Error})

			extracted := 0
			for _, h := range t.hits {
				rec := hitRecord(h)
				if seen[rec.ID] {
					continue
				}
				seen[rec.ID] = true
				res.Records = append(res.Records, rec)
				if h.Provider == "web" && h.URL != "" && !seen[h.URL] && extracted < extractsPerQuery {
					seen[h.URL] = true
					extracted++
					targets = append(targets, &extractTask{url: h.URL, derived: rec.ID, title: h.Title})
				}
			}
		}
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return Result{}, fmt.Errorf("encoding search results: %w", err)
		}
		if err := f.Store.Write(artifact.SearchKey(q), data); err != nil {
			return Result{}, err
		}
	}

	g = f.group()
	for _, t := range targets {
		g.Go(func() error {
			tctx, cancel := context.WithTimeout(ctx, f.Opts.FetchTimeout)
			defer cancel()
			title, page, err := f.fetchPage(tctx, t.url)
			if title != "" {
				t.title = title
			}
			t.page, t.err = page, err
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	for _, t := range targets {
		out := ExtractOutcome{URL: t.url, Status: StatusOK}
		if t.err != nil {
			out.Status, out.Error = StatusFailed, t.err.Error()
			res.Report.Partial = true
			res.Report.Extracts = append(res.Report.Extracts, out)
			logger.Warn("extract failed", "url", t.url, "error", t.err)
			continue
		}
		id := "x-" + shortHash(t.url)
		key := artifact.ExtractKey(id)
		if err := f.Store.Write(key, []byte(t.page)); err != nil {
			return Result{}, err
		}
		title := t.title
		if title == "" {
			title = t.url
		}
		out.SourceID, out.Artifact = id, key
		res.Report.Extracts = append(res.Report.Extracts, out)
		res.Records = append(res.Records, types.SourceRecord{
			ID:          id,
			Origin:      types.OriginWebExtract,
			Title:       title,
			URL:         t.url,
			Timestamp:   time.Now().UTC(),
			TextPath:    f.Store.Path(key),
			DerivedFrom: t.derived,
			Included:    true,
		})
	}

	if err := f.Store.WriteYAML(artifact.KeyFetchReport, res.Report); err != nil {
		return Result{}, err
	}
	if len(queries) == 0 && len(in.URLs) == 0 {
		res.Notes = append(res.Notes, "no plan gaps or explicit queries to fetch")
	}
	if failed := res.Report.Failed(); len(failed) > 0 {
		res.Notes = append(res.Notes, fmt.Sprintf("partial result: %d queries failed: %s", len(failed), strings.Join(failed, "; ")))
	}
	logger.Info("web fetch complete", "queries", len(queries), "records", len(res.Records), "partial", res.Report.Partial)
	return res, nil
}

func (f *Fetcher) group() *errgroup.Group {
	g := new(errgroup.Group)
	n := f.Opts.MaxInFlight
	if n <= 0 {
		n = 1
	}
	g.SetLimit(n)
	return g
}

func (f *Fetcher) fetchPage(ctx context.Context, pageURL string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", "", fmt.Errorf("creating request: %w", err)
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := httputil.DoWithRetry(ctx, client, req, f.Opts.MaxRetries)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", "", fmt.Errorf("reading body: %w", err)
	}
	ct := resp.Header.Get("Content-Type")
	switch {
	case strings.Contains(ct, "html"), ct == "":
		return ConvertPage(body, pageURL)
	case strings.HasPrefix(ct, "text/"):
		return "", string(body), nil
	default:
		return "", "", fmt.Errorf("unsupported content type %q", ct)
	}
}

var sanitizer = bluemonday.UGCPolicy()

// ConvertPage extracts the page title and converts the sanitized body to
// Markdown. Pages with no text content are an error.
func ConvertPage(raw []byte, pageURL string) (string, string, error) {
	doc, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return "", "", fmt.Errorf("parsing html: %w", err)
	}
	title := findTitle(doc)

	conv := converter.NewConverter(converter.WithPlugins(
		base.NewBasePlugin(),
		commonmark.NewCommonmarkPlugin(),
		table.NewTablePlugin(),
	))
	md, err := conv.ConvertString(sanitizer.Sanitize(string(raw)), converter.WithDomain(pageURL))
	if err != nil {
		return title, "", fmt.Errorf("converting html: %w", err)
	}
	md = strings.TrimSpace(md)
	if md == "" {
		return title, "", fmt.Errorf("no text content")
	}
	if title != "" {
		md = "# " + title + "\n\n" + md
	}
	return title, md + "\n", nil
}

func findTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.DataAtom == atom.Title {
		if n.FirstChild != nil {
			return strings.TrimSpace(n.FirstChild.Data)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findTitle(c); t != "" {
			return t
		}
	}
	return ""
}

type searchDoc struct {
	Query   string         `json:"query"`
	Results []providerHits `json:"results"`
}

type providerHits struct {
	Provider string `json:"provider"`
	Hits     []Hit  `json:"hits"`
	Error    string `json:"error,omitempty"`
}

func hitRecord(h Hit) types.SourceRecord {
	ref := h.URL
	if h.Identifier != "" {
		ref = h.Identifier
	}
	origin := types.OriginWebSearch
	if h.Provider == "openalex" {
		origin = types.OriginAcademic
	}
	return types.SourceRecord{
		ID:        "s-" + shortHash(h.Provider+"|"+ref),
		Origin:    origin,
		Title:     h.Title,
		URL:       h.URL,
		Timestamp: h.Published,
		Snippet:   h.Snippet,
		Relevance: h.Relevance,
		Included:  true,
	}
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", sum)[:12]
}

// Queries derives the search queries: explicit instruction queries first,
// then one per plan section that has no candidate sources. The list is
// deduplicated and capped at limit.
func Queries(in types.Instruction, plan types.ReportPlan, limit int) []string {
	if limit <= 0 {
		limit = 8
	}
	topics := strings.Join(in.Topics[:min(3, len(in.Topics))], " ")
	seen := make(map[string]bool)
	var out []string
	add := func(q string) {
		q = strings.Join(strings.Fields(q), " ")
		k := strings.ToLower(q)
		if q == "" || seen[k] || len(out) >= limit {
			return
		}
		seen[k] = true
		out = append(out, q)
	}
	for _, q := range in.Queries {
		add(q)
	}
	for _, s := range plan.Sections {
		if s.NotApplicable != "" || len(s.Sources) > 0 || s.Key == "references" {
			continue
		}
		q := s.Focus
		if q == "" {
			q = topics + " " + s.Title
		}
		add(q)
	}
	return out
}
