// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/report-engine/internal/artifact"
	"github.com/pdiddy/report-engine/internal/clarify"
	"github.com/pdiddy/report-engine/internal/instruction"
	"github.com/pdiddy/report-engine/internal/llm"
	"github.com/pdiddy/report-engine/internal/templates"
	"github.com/pdiddy/report-engine/internal/webfetch"
	"github.com/pdiddy/report-engine/internal/workflow"
	"github.com/pdiddy/report-engine/pkg/types"
)

var runOpts runFlags

var runCmd = &cobra.Command{
	Use:   "run <instruction-file>",
	Short: "Generate a report from an instruction and a run archive",
	Long: `Run executes the full stage graph: triage, scout, clarify, alignment,
template adjustment, planning, optional web fetch, evidence extraction, writing,
structural repair, the critique loop, finalization and rendering.

Stages degrade rather than fail when a provider is missing; the ledger records
what ran, what was skipped and why. With --resume, committed stages of an
existing run are replayed and only the remainder executes.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runOpts.register(runCmd.Flags())
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := decodeRunConfig(viper.GetViper())
	if err != nil {
		return err
	}
	runOpts.apply(cmd.Flags(), &cfg)
	applySecrets(&cfg, loadedSecrets)
	for _, s := range cfg.Rerun {
		if !validStage(s, workflow.StageNames()) {
			return fmt.Errorf("--rerun: unknown stage %q", s)
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	in, err := instruction.Load(args[0])
	if err != nil {
		return err
	}

	reg, err := templates.Load(cfg.TemplatesDir)
	if err != nil {
		return err
	}
	catalog, err := artifact.OpenCatalog(cfg.CacheDir)
	if err != nil {
		return err
	}
	defer catalog.Close()

	httpClient := &http.Client{Timeout: cfg.HTTP.Timeout}
	engine := &workflow.Engine{
		Config:    cfg,
		LLM:       llm.New(cfg.AI, httpClient),
		Searchers: searchers(cfg, httpClient),
		HTTP:      httpClient,
		Templates: reg,
		Catalog:   catalog,
		Progress:  os.Stderr,
	}
	if cfg.Stages.Clarifier.Interactive {
		engine.Answerer = &clarify.PromptAnswerer{In: os.Stdin, Out: os.Stderr}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, runErr := engine.Run(ctx, in)
	if res.RunID != "" {
		fmt.Fprintf(os.Stdout, "run %s: %s\n\n", res.RunID, res.Dir)
		fmt.Fprint(os.Stdout, ledgerTable(res.Ledger))
		if len(res.State.Rendered) > 0 {
			fmt.Fprintf(os.Stdout, "\nreport: %s/%s\n", res.Dir, artifact.KeyReport)
		}
	}
	return runErr
}

// searchers builds the supporting search providers that have credentials.
func searchers(cfg types.RunConfig, client *http.Client) []webfetch.Searcher {
	wf := cfg.Stages.WebFetch
	var out []webfetch.Searcher
	if wf.APIKey != "" {
		out = append(out, &webfetch.Brave{
			Client:     client,
			BaseURL:    wf.SearchURL,
			APIKey:     wf.APIKey,
			UserAgent:  cfg.HTTP.UserAgent,
			MaxRetries: wf.MaxRetries,
		})
	}
	if wf.EnableOpenAlex {
		out = append(out, &webfetch.OpenAlex{
			Client:     client,
			Email:      wf.OpenAlexEmail,
			UserAgent:  cfg.HTTP.UserAgent,
			MaxRetries: wf.MaxRetries,
		})
	}
	return out
}
