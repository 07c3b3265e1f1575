// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/report-engine/internal/format"
	"github.com/pdiddy/report-engine/internal/templates"
)

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List report templates or show one",
	Long: `Templates lists the built-in templates plus any YAML templates found in
the configured templates directory. With a name, it shows the template's
sections and guidance.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTemplates,
}

func init() {
	templatesCmd.Flags().String("templates-dir", "", "directory of additional YAML templates")
	rootCmd.AddCommand(templatesCmd)
}

func runTemplates(cmd *cobra.Command, args []string) error {
	cfg, err := decodeRunConfig(viper.GetViper())
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("templates-dir") {
		cfg.TemplatesDir, _ = cmd.Flags().GetString("templates-dir")
	}
	reg, err := templates.Load(cfg.TemplatesDir)
	if err != nil {
		return err
	}

	if len(args) == 0 {
		t := format.NewTable(format.ASCII)
		t.Header("Template", "Version", "Sections")
		for _, name := range reg.Names() {
			tmpl, _ := reg.Get(name)
			t.Row(tmpl.Name, tmpl.Version, len(tmpl.Sections))
		}
		fmt.Fprintln(os.Stdout, t.String())
		return nil
	}

	tmpl, ok := reg.Get(args[0])
	if !ok {
		return fmt.Errorf("template %q not found; available: %v", args[0], reg.Names())
	}
	fmt.Fprintf(os.Stdout, "%s (version %s)\n\n", tmpl.Name, tmpl.Version)
	t := format.NewTable(format.ASCII)
	t.Header("Key", "Title", "Guidance")
	for _, s := range tmpl.Sections {
		t.Row(s.Key, s.Title, format.Cell(s.Guidance))
	}
	t.WrapColumn(3, 70)
	fmt.Fprintln(os.Stdout, t.String())
	for _, g := range tmpl.WriterGuidance {
		fmt.Fprintf(os.Stdout, "- %s\n", g)
	}
	return nil
}
