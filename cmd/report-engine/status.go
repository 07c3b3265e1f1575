// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/report-engine/internal/artifact"
	"github.com/pdiddy/report-engine/internal/evidence"
	"github.com/pdiddy/report-engine/internal/format"
	"github.com/pdiddy/report-engine/pkg/types"
)

// inspectFlags locate runs for the read-only commands.
type inspectFlags struct {
	output string
	cache  string
}

func (f *inspectFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.output, "output", "", "output directory holding one subdirectory per run")
	fs.StringVar(&f.cache, "cache", "", "cache directory holding the run catalog")
}

// reader resolves the output and cache directories and opens the catalog.
// The returned close function releases the catalog.
func (f *inspectFlags) reader(fs *pflag.FlagSet) (*artifact.Reader, func(), error) {
	cfg, err := decodeRunConfig(viper.GetViper())
	if err != nil {
		return nil, nil, err
	}
	if fs.Changed("output") {
		cfg.OutputDir = f.output
	}
	if fs.Changed("cache") {
		cfg.CacheDir = f.cache
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = cfg.OutputDir
	}
	catalog, err := artifact.OpenCatalog(cfg.CacheDir)
	if err != nil {
		return nil, nil, err
	}
	return &artifact.Reader{OutputDir: cfg.OutputDir, Catalog: catalog}, func() { catalog.Close() }, nil
}

var (
	statusOpts inspectFlags
	gapsOpts   inspectFlags
)

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show the ledger of a run, or list runs",
	Long: `Status prints the workflow ledger of a run: one row per stage with its
status, reason and the artifacts it committed. Without a run ID it lists the
runs in the catalog.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

var gapsCmd = &cobra.Command{
	Use:   "gaps <run-id>",
	Short: "Show the claims of a run that lack evidence",
	Args:  cobra.ExactArgs(1),
	RunE:  runGaps,
}

func init() {
	statusOpts.register(statusCmd.Flags())
	statusCmd.Flags().Bool("json", false, "print the ledger as JSON")
	gapsOpts.register(gapsCmd.Flags())
	gapsCmd.Flags().Bool("markdown", false, "print the stored Markdown gap report")
	gapsCmd.Flags().Int("limit", 0, "maximum claims shown (default: all)")

	rootCmd.AddCommand(statusCmd, gapsCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	r, closeFn, err := statusOpts.reader(cmd.Flags())
	if err != nil {
		return err
	}
	defer closeFn()

	if len(args) == 0 {
		runs, err := r.Runs(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprint(os.Stdout, runsTable(runs))
		return nil
	}

	l, err := r.Ledger(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(l)
	}
	fmt.Fprint(os.Stdout, ledgerTable(l))
	return nil
}

func runGaps(cmd *cobra.Command, args []string) error {
	r, closeFn, err := gapsOpts.reader(cmd.Flags())
	if err != nil {
		return err
	}
	defer closeFn()

	if md, _ := cmd.Flags().GetBool("markdown"); md {
		data, err := r.Read(cmd.Context(), args[0], artifact.KeyGapReport)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	}

	data, err := r.Read(cmd.Context(), args[0], artifact.KeyClaims)
	if err != nil {
		return err
	}
	var claims []types.Claim
	if err := yaml.Unmarshal(data, &claims); err != nil {
		return fmt.Errorf("%w: %s: %v", types.ErrMalformedArtifact, artifact.KeyClaims, err)
	}
	limit, _ := cmd.Flags().GetInt("limit")
	fmt.Fprint(os.Stdout, gapsTable(evidence.Project(claims, limit)))
	return nil
}

var (
	badgeBase = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	badges    = map[types.StageStatus]lipgloss.Style{
		types.StatusRan:              badgeBase.Foreground(lipgloss.Color("0")).Background(lipgloss.Color("2")),
		types.StatusCached:           badgeBase.Foreground(lipgloss.Color("0")).Background(lipgloss.Color("6")),
		types.StatusSkippedDisabled:  badgeBase.Foreground(lipgloss.Color("7")).Background(lipgloss.Color("8")),
		types.StatusSkippedCondition: badgeBase.Foreground(lipgloss.Color("0")).Background(lipgloss.Color("3")),
		types.StatusFailed:           badgeBase.Foreground(lipgloss.Color("15")).Background(lipgloss.Color("1")),
	}
)

// badge renders a ledger status. Colors are dropped when stdout is not a
// terminal.
func badge(s types.StageStatus) string {
	style, ok := badges[s]
	if !ok {
		return string(s)
	}
	return style.Render(string(s))
}

func ledgerTable(l types.WorkflowLedger) string {
	t := format.NewTable(format.ASCII)
	t.Header("Stage", "Status", "Reason", "Artifacts", "Duration")
	for _, e := range l.Entries {
		reason := e.Reason
		if e.Error != "" {
			reason = strings.TrimSpace(reason + " " + e.Error)
		}
		t.Row(string(e.Stage), badge(e.Status), format.Cell(reason),
			strings.Join(e.Artifacts, "\n"), e.Duration.Round(time.Millisecond).String())
	}
	t.WrapColumn(3, 60)
	return t.String() + "\n"
}

func runsTable(runs []artifact.RunRow) string {
	if len(runs) == 0 {
		return "No runs found.\n"
	}
	t := format.NewTable(format.ASCII)
	t.Header("Run", "Template", "Status", "Started", "Updated")
	for _, r := range runs {
		t.Row(r.ID, r.Template, r.Status, r.Started.Local().Format("2006-01-02 15:04"), r.Updated.Local().Format("2006-01-02 15:04"))
	}
	return t.String() + "\n"
}

func gapsTable(g types.GapReport) string {
	if g.Total == 0 {
		return "Every claim is bound to at least one source.\n"
	}
	t := format.NewTable(format.ASCII)
	t.Header("Claim", "Section", "Text")
	for _, c := range g.Claims {
		t.Row(c.ID, c.Section, format.Cell(c.Text))
	}
	t.WrapColumn(3, 80)
	out := t.String() + "\n"
	if g.Truncated {
		out += fmt.Sprintf("Showing %d of %d claims without evidence.\n", len(g.Claims), g.Total)
	}
	return out
}
