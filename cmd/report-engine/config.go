// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/pdiddy/report-engine/internal/secrets"
	"github.com/pdiddy/report-engine/pkg/types"
)

// decodeWithYAMLTags makes viper honour the yaml struct tags of RunConfig,
// so the config file and the artifacts share one vocabulary.
func decodeWithYAMLTags(dc *mapstructure.DecoderConfig) {
	dc.TagName = "yaml"
	dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// decodeRunConfig layers the config file held by v over the defaults.
func decodeRunConfig(v *viper.Viper) (types.RunConfig, error) {
	cfg := types.DefaultRunConfig()
	if err := v.Unmarshal(&cfg, decodeWithYAMLTags); err != nil {
		return types.RunConfig{}, fmt.Errorf("decoding config: %w", err)
	}
	return cfg, nil
}

// runFlags are the run settings that can be overridden on the command line.
type runFlags struct {
	archive     string
	output      string
	cache       string
	templates   string
	template    string
	runID       string
	language    string
	resume      bool
	rerun       []string
	iterations  int
	webFetch    bool
	interactive bool
}

func (f *runFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.archive, "archive", "", "run archive directory produced by the connectors")
	fs.StringVar(&f.output, "output", "", "output directory holding one subdirectory per run")
	fs.StringVar(&f.cache, "cache", "", "cache directory for the catalog and scout plans")
	fs.StringVar(&f.templates, "templates-dir", "", "directory of additional YAML templates")
	fs.StringVar(&f.template, "template", "", "template used when the instruction names none")
	fs.StringVar(&f.runID, "run-id", "", "run identifier (generated when empty)")
	fs.StringVar(&f.language, "language", "", "report language")
	fs.BoolVar(&f.resume, "resume", false, "replay committed stages of an existing run")
	fs.StringSliceVar(&f.rerun, "rerun", nil, "stages that re-execute when resuming")
	fs.IntVar(&f.iterations, "iterations", -1, "critique loop iteration budget (default from config)")
	fs.BoolVar(&f.webFetch, "web-fetch", false, "enable supplementary web search and extraction")
	fs.BoolVar(&f.interactive, "interactive", false, "answer clarifying questions on the terminal")
}

// apply overrides cfg with every flag the user set.
func (f *runFlags) apply(fs *pflag.FlagSet, cfg *types.RunConfig) {
	setString := func(name string, dst *string, v string) {
		if fs.Changed(name) {
			*dst = v
		}
	}
	setString("archive", &cfg.ArchiveDir, f.archive)
	setString("output", &cfg.OutputDir, f.output)
	setString("cache", &cfg.CacheDir, f.cache)
	setString("templates-dir", &cfg.TemplatesDir, f.templates)
	setString("template", &cfg.Template, f.template)
	setString("run-id", &cfg.RunID, f.runID)
	setString("language", &cfg.Language, f.language)

	if fs.Changed("resume") {
		cfg.Resume = f.resume
	}
	if fs.Changed("rerun") {
		cfg.Rerun = cfg.Rerun[:0]
		for _, s := range f.rerun {
			cfg.Rerun = append(cfg.Rerun, types.StageName(s))
		}
	}
	if fs.Changed("iterations") {
		cfg.Stages.Critique.MaxIterations = f.iterations
	}
	if fs.Changed("web-fetch") {
		cfg.Stages.WebFetch.Enabled = f.webFetch
	}
	if fs.Changed("interactive") {
		cfg.Stages.Clarifier.Interactive = f.interactive
		if f.interactive {
			cfg.Stages.Clarifier.Enabled = true
		}
	}
}

// applySecrets fills credentials the config file left empty.
func applySecrets(cfg *types.RunConfig, s secrets.Set) {
	if cfg.AI.APIKey == "" {
		cfg.AI.APIKey = s.Get(secrets.AnthropicAPIKey)
	}
	if cfg.Stages.WebFetch.APIKey == "" {
		cfg.Stages.WebFetch.APIKey = s.Get(secrets.WebSearchAPIKey)
	}
	if cfg.Stages.WebFetch.OpenAlexEmail == "" {
		cfg.Stages.WebFetch.OpenAlexEmail = s.Get(secrets.OpenAlexEmail)
	}
}

// validStage reports whether name is one of the workflow stages.
func validStage(name types.StageName, known []types.StageName) bool {
	for _, k := range known {
		if k == name {
			return true
		}
	}
	return false
}
