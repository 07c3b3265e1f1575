// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package webfetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pdiddy/report-engine/internal/httputil"
)

// Query is one supplementary search request.
type Query struct {
	Text     string
	DateFrom string
	DateTo   string
	Max      int
}

// Hit is one search result.
type Hit struct {
	Provider   string    `json:"provider"`
	Title      string    `json:"title"`
	URL        string    `json:"url,omitempty"`
	Snippet    string    `json:"snippet,omitempty"`
	Identifier string    `json:"identifier,omitempty"`
	Published  time.Time `json:"published,omitempty"`
	Relevance  float64   `json:"relevance"`
}

// Searcher is one search provider.
type Searcher interface {
	Name() string
	Search(ctx context.Context, q Query) ([]Hit, error)
}

// positionRelevance scores results by rank; providers return them sorted.
func positionRelevance(i, total int) float64 {
	if total <= 1 {
		return 1.0
	}
	return 1.0 - float64(i)/float64(total-1)*0.9
}

func clampMax(n, def, limit int) int {
	if n <= 0 {
		n = def
	}
	if n > limit {
		n = limit
	}
	return n
}

// Brave queries the Brave web search API.
type Brave struct {
	Client     *http.Client
	BaseURL    string
	APIKey     string
	UserAgent  string
	MaxRetries int
}

// Name returns the provider identifier.
func (b *Brave) Name() string { return "web" }

// Search runs q against the web search API.
func (b *Brave) Search(ctx context.Context, q Query) ([]Hit, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, fmt.Errorf("empty web query")
	}
	params := url.Values{
		"q":     {q.Text},
		"count": {strconv.Itoa(clampMax(q.Max, 5, 20))},
	}
	if q.DateFrom != "" && q.DateTo != "" {
		params.Set("freshness", q.DateFrom+"to"+q.DateTo)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", b.APIKey)
	if b.UserAgent != "" {
		req.Header.Set("User-Agent", b.UserAgent)
	}

	resp, err := httputil.DoWithRetry(ctx, b.Client, req, b.MaxRetries)
	if err != nil {
		return nil, fmt.Errorf("web search request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("web search returned HTTP %d", resp.StatusCode)
	}

	var br braveResponse
	if err := json.NewDecoder(resp.Body).Decode(&br); err != nil {
		return nil, fmt.Errorf("parsing web search response: %w", err)
	}
	total := len(br.Web.Results)
	hits := make([]Hit, 0, total)
	for i, r := range br.Web.Results {
		hits = append(hits, Hit{
			Provider:  b.Name(),
			Title:     r.Title,
			URL:       r.URL,
			Snippet:   r.Description,
			Relevance: positionRelevance(i, total),
		})
	}
	return hits, nil
}

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

// openAlexSearchBase is the OpenAlex Works search endpoint. Declared as a
// var so tests can substitute an httptest server.
var openAlexSearchBase = "https://api.openalex.org/works"

// OpenAlex queries the OpenAlex academic index.
type OpenAlex struct {
	Client *http.Client
	// Email is sent as mailto parameter for polite pool access.
	Email      string
	UserAgent  string
	MaxRetries int
}

// Name returns the provider identifier.
func (o *OpenAlex) Name() string { return "openalex" }

// Search runs q against OpenAlex.
func (o *OpenAlex) Search(ctx context.Context, q Query) ([]Hit, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, fmt.Errorf("empty OpenAlex query")
	}
	params := url.Values{
		"search":   {q.Text},
		"per_page": {strconv.Itoa(clampMax(q.Max, 5, 200))},
	}
	var filters []string
	if q.DateFrom != "" {
		filters = append(filters, "from_publication_date:"+q.DateFrom)
	}
	if q.DateTo != "" {
		filters = append(filters, "to_publication_date:"+q.DateTo)
	}
	if len(filters) > 0 {
		params.Set("filter", strings.Join(filters, ","))
	}
	if o.Email != "" {
		params.Set("mailto", o.Email)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, openAlexSearchBase+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if o.UserAgent != "" {
		req.Header.Set("User-Agent", o.UserAgent)
	}

	resp, err := httputil.DoWithRetry(ctx, o.Client, req, o.MaxRetries)
	if err != nil {
		return nil, fmt.Errorf("OpenAlex API request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("OpenAlex API returned HTTP %d", resp.StatusCode)
	}

	var oar openAlexResponse
	if err := json.NewDecoder(resp.Body).Decode(&oar); err != nil {
		return nil, fmt.Errorf("parsing OpenAlex response: %w", err)
	}

	total := len(oar.Results)
	hits := make([]Hit, 0, total)
	for i, work := range oar.Results {
		h := Hit{
			Provider:  o.Name(),
			Title:     work.Title,
			Snippet:   reconstructAbstract(work.AbstractInvertedIndex),
			URL:       work.OpenAccess.OAURL,
			Relevance: positionRelevance(i, total),
		}
		if work.PublicationDate != "" {
			if t, err := time.Parse("2006-01-02", work.PublicationDate); err == nil {
				h.Published = t
			}
		} else if work.PublicationYear > 0 {
			h.Published = time.Date(work.PublicationYear, 1, 1, 0, 0, 0, 0, time.UTC)
		}
		// OpenAlex is DOI-centric; keep the bare DOI when there is one.
		if work.DOI != "" {
			h.Identifier = strings.TrimPrefix(work.DOI, "https://doi.org/")
			if h.URL == "" {
				h.URL = work.DOI
			}
		} else {
			h.Identifier = work.ID
		}
		hits = append(hits, h)
	}
	return hits, nil
}

// reconstructAbstract rebuilds plain text from OpenAlex's
// abstract_inverted_index, which maps each word to its positions.
func reconstructAbstract(inverted map[string][]int) string {
	if len(inverted) == 0 {
		return ""
	}
	type posWord struct {
		pos  int
		word string
	}
	var pairs []posWord
	for word, positions := range inverted {
		for _, pos := range positions {
			pairs = append(pairs, posWord{pos, word})
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].pos < pairs[j].pos })
	words := make([]string, len(pairs))
	for i, p := range pairs {
		words[i] = p.word
	}
	return strings.Join(words, " ")
}

type openAlexResponse struct {
	Results []openAlexWork `json:"results"`
}

type openAlexWork struct {
	ID                    string           `json:"id"`
	Title                 string           `json:"title"`
	DOI                   string           `json:"doi"`
	PublicationDate       string           `json:"publication_date"`
	PublicationYear       int              `json:"publication_year"`
	AbstractInvertedIndex map[string][]int `json:"abstract_inverted_index"`
	OpenAccess            struct {
		OAURL string `json:"oa_url"`
	} `json:"open_access"`
}
