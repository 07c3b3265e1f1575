// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package webfetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/report-engine/internal/artifact"
	"github.com/pdiddy/report-engine/internal/httputil"
	"github.com/pdiddy/report-engine/pkg/types"
)

func TestMain(m *testing.M) {
	httputil.RetryBaseDelay = time.Millisecond
	os.Exit(m.Run())
}

const page1 = `<html><head><title>Solid Electrolytes</title><script>alert(1)</script></head>
<body><h1>Overview</h1><p>Sulfide electrolytes conduct lithium ions.</p></body></html>`

func opts() types.WebFetchOptions {
	return types.WebFetchOptions{Enabled: true, MaxResults: 5, MaxInFlight: 2, MaxQueries: 8, FetchTimeout: 5 * time.Second, MaxRetries: 1}
}

func newStore(t *testing.T) *artifact.Store {
	t.Helper()
	s, err := artifact.NewStore(t.TempDir(), "run-1", nil)
	require.NoError(t, err)
	return s
}

type fakeSearcher struct {
	name string
	fn   func(q Query) ([]Hit, error)
}

func (f fakeSearcher) Name() string { return f.name }
func (f fakeSearcher) Search(_ context.Context, q Query) ([]Hit, error) {
	return f.fn(q)
}

func TestRunSearchesAndExtracts(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/search":
			assert.Equal(t, "key-123", r.Header.Get("X-Subscription-Token"))
			w.Header().Set("Content-Type", "application/json")
			switch r.URL.Query().Get("q") {
			case "solid electrolyte":
				fmt.Fprintf(w, `{"web":{"results":[
					{"title":"One","url":"%[1]s/page1","description":"first"},
					{"title":"Two","url":"%[1]s/page2","description":"second"}]}}`, srv.URL)
			default:
				fmt.Fprintf(w, `{"web":{"results":[
					{"title":"One again","url":"%[1]s/page1","description":"dup"},
					{"title":"Gone","url":"%[1]s/missing","description":"404"}]}}`, srv.URL)
			}
		case "/page1":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprint(w, page1)
		case "/page2":
			w.Header().Set("Content-Type", "text/plain")
			fmt.Fprint(w, "Plain notes on oxide electrolytes.")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	store := newStore(t)
	f := &Fetcher{
		Searchers: []Searcher{&Brave{Client: srv.Client(), BaseURL: srv.URL + "/search", APIKey: "key-123"}},
		Client:    srv.Client(),
		Store:     store,
		Opts:      opts(),
	}
	in := types.Instruction{Queries: []string{"solid electrolyte"}}
	plan := types.ReportPlan{Sections: []types.PlanSection{
		{Key: "findings", Title: "Findings", Sources: []string{"W1"}},
		{Key: "market", Title: "Market", Focus: "sodium batteries"},
	}}

	res, err := f.Run(context.Background(), in, plan)
	require.NoError(t, err)

	require.Len(t, res.Report.Queries, 2)
	for _, q := range res.Report.Queries {
		assert.Equal(t, StatusOK, q.Status)
	}
	require.Len(t, res.Report.Extracts, 3)
	assert.Equal(t, StatusOK, res.Report.Extracts[0].Status)
	assert.Equal(t, StatusOK, res.Report.Extracts[1].Status)
	assert.Equal(t, StatusFailed, res.Report.Extracts[2].Status)
	assert.True(t, res.Report.Partial)

	var searches, extracts []types.SourceRecord
	for _, r := range res.Records {
		switch r.Origin {
		case types.OriginWebSearch:
			searches = append(searches, r)
		case types.OriginWebExtract:
			extracts = append(extracts, r)
		}
	}
	assert.Len(t, searches, 3, "duplicate URL across queries is one record")
	require.Len(t, extracts, 2)
	assert.Equal(t, "Solid Electrolytes", extracts[0].Title)
	assert.Equal(t, searches[0].ID, extracts[0].DerivedFrom)

	text, err := os.ReadFile(extracts[0].TextPath)
	require.NoError(t, err)
	assert.Contains(t, string(text), "Sulfide electrolytes conduct lithium ions.")
	assert.NotContains(t, string(text), "<script>")

	text, err = os.ReadFile(extracts[1].TextPath)
	require.NoError(t, err)
	assert.Equal(t, "Plain notes on oxide electrolytes.", string(text))

	assert.True(t, store.Exists(artifact.SearchKey("solid electrolyte")))
	assert.True(t, store.Exists(artifact.SearchKey("sodium batteries")))
	assert.True(t, store.Exists(artifact.KeyFetchReport))
}

func TestRunWithoutSearcherTouchesNothing(t *testing.T) {
	store := newStore(t)
	f := &Fetcher{Store: store, Opts: opts()}
	_, err := f.Run(context.Background(), types.Instruction{Queries: []string{"x"}}, types.ReportPlan{})
	require.ErrorIs(t, err, types.ErrProviderUnavailable)
	assert.NoDirExists(t, filepath.Join(store.Root(), artifact.SupportingDir))
}

func TestRunHonoursProviderToggles(t *testing.T) {
	store := newStore(t)
	called := false
	f := &Fetcher{
		Store: store,
		Opts:  opts(),
		Searchers: []Searcher{fakeSearcher{name: "web", fn: func(Query) ([]Hit, error) {
			called = true
			return nil, nil
		}}},
	}
	in := types.Instruction{Queries: []string{"x"}, Providers: map[string]bool{"web": false}}
	_, err := f.Run(context.Background(), in, types.ReportPlan{})
	require.ErrorIs(t, err, types.ErrProviderUnavailable)
	assert.False(t, called)
	assert.NoDirExists(t, filepath.Join(store.Root(), artifact.SupportingDir))
}

func TestRunRecordsFailedQuery(t *testing.T) {
	f := &Fetcher{
		Searchers: []Searcher{fakeSearcher{name: "web", fn: func(q Query) ([]Hit, error) {
			if q.Text == "bad" {
				return nil, errors.New("quota exceeded")
			}
			return []Hit{{Provider: "web", Title: "ok"}}, nil
		}}},
		Store: newStore(t),
		Opts:  opts(),
	}
	res, err := f.Run(context.Background(), types.Instruction{Queries: []string{"good", "bad"}}, types.ReportPlan{})
	require.NoError(t, err)
	assert.True(t, res.Report.Partial)
	assert.Equal(t, []string{"bad"}, res.Report.Failed())
	assert.Equal(t, "quota exceeded", res.Report.Queries[1].Error)
	assert.Len(t, res.Records, 1)
	require.NotEmpty(t, res.Notes)
	assert.Contains(t, res.Notes[len(res.Notes)-1], "partial result")
}

func TestRunBoundsInFlightRequests(t *testing.T) {
	var inFlight, peak atomic.Int32
	f := &Fetcher{
		Searchers: []Searcher{fakeSearcher{name: "web", fn: func(Query) ([]Hit, error) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			inFlight.Add(-1)
			return nil, nil
		}}},
		Store: newStore(t),
		Opts:  opts(),
	}
	in := types.Instruction{Queries: []string{"a1", "a2", "a3", "a4", "a5", "a6"}}
	_, err := f.Run(context.Background(), in, types.ReportPlan{})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.GreaterOrEqual(t, peak.Load(), int32(1))
}

func TestOpenAlexSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "from_publication_date:2020-01-01", r.URL.Query().Get("filter"))
		assert.Equal(t, "me@example.com", r.URL.Query().Get("mailto"))
		fmt.Fprint(w, `{"results":[{"id":"https://openalex.org/W1","title":"Sulfide SSEs",
			"doi":"https://doi.org/10.1000/x1","publication_date":"2021-03-04",
			"abstract_inverted_index":{"electrolytes":[1],"Sulfide":[0]}}]}`)
	}))
	defer srv.Close()
	old := openAlexSearchBase
	openAlexSearchBase = srv.URL
	defer func() { openAlexSearchBase = old }()

	o := &OpenAlex{Client: srv.Client(), Email: "me@example.com"}
	hits, err := o.Search(context.Background(), Query{Text: "sulfide", DateFrom: "2020-01-01"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "10.1000/x1", hits[0].Identifier)
	assert.Equal(t, "Sulfide electrolytes", hits[0].Snippet)
	assert.Equal(t, "https://doi.org/10.1000/x1", hits[0].URL)
	assert.Equal(t, 2021, hits[0].Published.Year())
	assert.Equal(t, types.OriginAcademic, hitRecord(hits[0]).Origin)
}

func TestQueries(t *testing.T) {
	in := types.Instruction{Queries: []string{"Solid  electrolyte", "solid electrolyte"}, Topics: []string{"battery", "cost"}}
	plan := types.ReportPlan{Sections: []types.PlanSection{
		{Key: "summary", Title: "Summary", Sources: []string{"W1"}},
		{Key: "market", Title: "Market Outlook"},
		{Key: "limits", Title: "Limits", NotApplicable: "n/a"},
		{Key: "references", Title: "References"},
	}}
	assert.Equal(t, []string{"Solid electrolyte", "battery cost Market Outlook"}, Queries(in, plan, 0))
	assert.Equal(t, []string{"Solid electrolyte"}, Queries(in, plan, 1))
}

func TestConvertPageRejectsEmpty(t *testing.T) {
	_, _, err := ConvertPage([]byte(`<html><body><div></div></body></html>`), "https://example.com")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "no text content"))
}
