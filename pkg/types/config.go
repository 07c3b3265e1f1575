// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"fmt"
	"time"
)

// HTTPConfig holds shared HTTP settings used by stages that make network requests.
type HTTPConfig struct {
	// Timeout is the per-request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests.
	UserAgent string `json:"user_agent" yaml:"user_agent"`
}

// AIConfig holds shared settings for stages that call a Generative AI API.
type AIConfig struct {
	// Model is the AI model identifier.
	Model string `json:"model" yaml:"model"`

	// APIKey is the authentication key for the AI API.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// MaxRetries is the number of retry attempts for failed API calls (default 3).
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// MaxTokens caps each response (default 4096).
	MaxTokens int `json:"max_tokens" yaml:"max_tokens"`
}

// TriageOptions configures the source index and triage stage.
type TriageOptions struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// MinRelevance excludes records scoring below it as off-topic, unless the
	// instruction names them explicitly.
	MinRelevance float64 `json:"min_relevance" yaml:"min_relevance"`
}

// ScoutOptions configures the scout stage.
type ScoutOptions struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// MaxEntries caps the number of prioritized entries (default 20).
	MaxEntries int `json:"max_entries" yaml:"max_entries"`

	// UseCache enables the content-addressed plan cache.
	UseCache bool `json:"use_cache" yaml:"use_cache"`
}

// ClarifierOptions configures the optional clarifier stage.
type ClarifierOptions struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// MaxRounds bounds the Q/A exchange (default 2).
	MaxRounds int `json:"max_rounds" yaml:"max_rounds"`

	// Interactive asks the operator on the terminal instead of letting the
	// model answer from the instruction context.
	Interactive bool `json:"interactive" yaml:"interactive"`
}

// AlignmentOptions configures one alignment checkpoint.
type AlignmentOptions struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// UseLLM adds model-generated observations to the deterministic checks.
	UseLLM bool `json:"use_llm" yaml:"use_llm"`
}

// TemplateAdjusterOptions configures the optional template adjuster.
type TemplateAdjusterOptions struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// PlannerOptions configures the planner stage.
type PlannerOptions struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// WebFetchOptions configures supplementary web search and extraction.
type WebFetchOptions struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// SearchURL is the web search endpoint.
	SearchURL string `json:"search_url" yaml:"search_url"`

	// APIKey authenticates against the web search provider.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// EnableOpenAlex adds OpenAlex academic search as a supporting provider.
	EnableOpenAlex bool `json:"enable_openalex" yaml:"enable_openalex"`

	// OpenAlexEmail is sent as mailto for polite pool access.
	OpenAlexEmail string `json:"openalex_email,omitempty" yaml:"openalex_email,omitempty"`

	// MaxResults caps results per query (default 5).
	MaxResults int `json:"max_results" yaml:"max_results"`

	// MaxInFlight bounds concurrent requests (default 4).
	MaxInFlight int `json:"max_in_flight" yaml:"max_in_flight"`

	// MaxQueries caps the number of queries issued (default 8).
	MaxQueries int `json:"max_queries" yaml:"max_queries"`

	// FetchTimeout bounds each individual fetch (default 20s).
	FetchTimeout time.Duration `json:"fetch_timeout" yaml:"fetch_timeout"`

	// MaxRetries bounds retries per fetch on rate limiting (default 2).
	MaxRetries int `json:"max_retries" yaml:"max_retries"`
}

// EvidenceOptions configures the evidence extractor.
type EvidenceOptions struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// MaxClaimsPerSection caps candidate claims per section (default 8).
	MaxClaimsPerSection int `json:"max_claims_per_section" yaml:"max_claims_per_section"`

	// GapDisplayCap caps the rendered gap report (default 25).
	GapDisplayCap int `json:"gap_display_cap" yaml:"gap_display_cap"`
}

// WriterOptions configures the writer stage.
type WriterOptions struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// RepairOptions configures both structural repair passes.
type RepairOptions struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// CritiqueOptions configures the Critic/Reviser loop.
type CritiqueOptions struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// MaxIterations bounds revision cycles (N).
	MaxIterations int `json:"max_iterations" yaml:"max_iterations"`

	// Patience is the number of consecutive non-preferred revisions that
	// stops the loop early (default 2).
	Patience int `json:"patience" yaml:"patience"`
}

// FinalizerOptions configures the writer finalizer.
type FinalizerOptions struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// RenderOptions configures final rendering.
type RenderOptions struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// StagesConfig holds one typed options struct per stage. The set of stages
// is closed; each carries its own enable switch.
type StagesConfig struct {
	Triage           TriageOptions           `json:"triage" yaml:"triage"`
	Scout            ScoutOptions            `json:"scout" yaml:"scout"`
	Clarifier        ClarifierOptions        `json:"clarifier" yaml:"clarifier"`
	AlignScout       AlignmentOptions        `json:"align_scout" yaml:"align_scout"`
	TemplateAdjuster TemplateAdjusterOptions `json:"template_adjuster" yaml:"template_adjuster"`
	Planner          PlannerOptions          `json:"planner" yaml:"planner"`
	WebFetch         WebFetchOptions         `json:"web_fetch" yaml:"web_fetch"`
	Evidence         EvidenceOptions         `json:"evidence" yaml:"evidence"`
	Writer           WriterOptions           `json:"writer" yaml:"writer"`
	Repair           RepairOptions           `json:"repair" yaml:"repair"`
	Critique         CritiqueOptions         `json:"critique" yaml:"critique"`
	Finalizer        FinalizerOptions        `json:"finalizer" yaml:"finalizer"`
	AlignFinal       AlignmentOptions        `json:"align_final" yaml:"align_final"`
	Render           RenderOptions           `json:"render" yaml:"render"`
}

// RunConfig is the resolved configuration object the workflow consumes.
type RunConfig struct {
	// RunID identifies the run; generated when empty.
	RunID string `json:"run_id" yaml:"run_id"`

	// OutputDir holds one subdirectory per run.
	OutputDir string `json:"output_dir" yaml:"output_dir"`

	// ArchiveDir is the run archive produced by the connectors.
	ArchiveDir string `json:"archive_dir" yaml:"archive_dir"`

	// CacheDir holds the artifact catalog and the scout cache.
	CacheDir string `json:"cache_dir" yaml:"cache_dir"`

	// TemplatesDir optionally adds YAML templates to the built-in set.
	TemplatesDir string `json:"templates_dir,omitempty" yaml:"templates_dir,omitempty"`

	// Template is the template name used when the instruction names none.
	Template string `json:"template" yaml:"template"`

	// Language is the report language (e.g. "en").
	Language string `json:"language" yaml:"language"`

	// Resume replays committed stages of an existing run.
	Resume bool `json:"resume" yaml:"resume"`

	// Rerun lists stages that re-execute even when resuming.
	Rerun []StageName `json:"rerun,omitempty" yaml:"rerun,omitempty"`

	HTTP   HTTPConfig   `json:"http" yaml:"http"`
	AI     AIConfig     `json:"ai" yaml:"ai"`
	Stages StagesConfig `json:"stages" yaml:"stages"`
}

// DefaultRunConfig returns a configuration with every stage enabled and
// conservative limits.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		OutputDir: "output/runs",
		CacheDir:  "output/cache",
		Template:  "research-brief",
		Language:  "en",
		HTTP: HTTPConfig{
			Timeout:   60 * time.Second,
			UserAgent: "report-engine/0.1",
		},
		AI: AIConfig{
			Model:      "claude-sonnet-4-5-20250929",
			MaxRetries: 3,
			MaxTokens:  4096,
		},
		Stages: StagesConfig{
			Triage:           TriageOptions{Enabled: true, MinRelevance: 0.05},
			Scout:            ScoutOptions{Enabled: true, MaxEntries: 20, UseCache: true},
			Clarifier:        ClarifierOptions{Enabled: false, MaxRounds: 2},
			AlignScout:       AlignmentOptions{Enabled: true},
			TemplateAdjuster: TemplateAdjusterOptions{Enabled: true},
			Planner:          PlannerOptions{Enabled: true},
			WebFetch: WebFetchOptions{
				Enabled:      false,
				SearchURL:    "https://api.search.brave.com/res/v1/web/search",
				MaxResults:   5,
				MaxInFlight:  4,
				MaxQueries:   8,
				FetchTimeout: 20 * time.Second,
				MaxRetries:   2,
			},
			Evidence:   EvidenceOptions{Enabled: true, MaxClaimsPerSection: 8, GapDisplayCap: 25},
			Writer:     WriterOptions{Enabled: true},
			Repair:     RepairOptions{Enabled: true},
			Critique:   CritiqueOptions{Enabled: true, MaxIterations: 3, Patience: 2},
			Finalizer:  FinalizerOptions{Enabled: true},
			AlignFinal: AlignmentOptions{Enabled: true},
			Render:     RenderOptions{Enabled: true},
		},
	}
}

// Validate checks limits and fills zero-valued defaults.
func (c *RunConfig) Validate() error {
	if c.OutputDir == "" {
		return fmt.Errorf("config: output_dir is required")
	}
	if c.ArchiveDir == "" {
		return fmt.Errorf("config: archive_dir is required")
	}
	if c.CacheDir == "" {
		c.CacheDir = c.OutputDir
	}
	if c.Stages.Critique.MaxIterations < 0 {
		return fmt.Errorf("config: critique.max_iterations must be >= 0, got %d", c.Stages.Critique.MaxIterations)
	}
	if c.Stages.Critique.Patience <= 0 {
		c.Stages.Critique.Patience = 2
	}
	if c.Stages.Scout.MaxEntries <= 0 {
		c.Stages.Scout.MaxEntries = 20
	}
	if c.Stages.Clarifier.MaxRounds <= 0 {
		c.Stages.Clarifier.MaxRounds = 2
	}
	wf := &c.Stages.WebFetch
	if wf.MaxInFlight <= 0 {
		wf.MaxInFlight = 4
	}
	if wf.MaxResults <= 0 {
		wf.MaxResults = 5
	}
	if wf.MaxQueries <= 0 {
		wf.MaxQueries = 8
	}
	if wf.FetchTimeout <= 0 {
		wf.FetchTimeout = 20 * time.Second
	}
	ev := &c.Stages.Evidence
	if ev.MaxClaimsPerSection <= 0 {
		ev.MaxClaimsPerSection = 8
	}
	if ev.GapDisplayCap <= 0 {
		ev.GapDisplayCap = 25
	}
	if c.AI.MaxRetries <= 0 {
		c.AI.MaxRetries = 3
	}
	if c.AI.MaxTokens <= 0 {
		c.AI.MaxTokens = 4096
	}
	return nil
}
