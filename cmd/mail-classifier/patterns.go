package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/mikey/mail-classifier/internal/adapters/store"
	"github.com/mikey/mail-classifier/internal/core"
	"github.com/mikey/mail-classifier/internal/di"
	"github.com/mikey/mail-classifier/internal/patterns"
	"github.com/mikey/mail-classifier/internal/subcategory"
)

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "Inspect and validate pattern tables",
}

var patternsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the active pattern library",
	Long: `Export writes the pattern library the classifier would load, either the
file named by patterns.path or the built-in tables, in YAML or TOML.`,
	Args: cobra.NoArgs,
	RunE: runPatternsExport,
}

var patternsValidateCmd = &cobra.Command{
	Use:   "validate --file PATH",
	Short: "Check that a pattern file loads and compiles",
	Args:  cobra.NoArgs,
	RunE:  runPatternsValidate,
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show how often each subcategory pattern has matched",
	Args:  cobra.NoArgs,
	RunE:  runReport,
}

func init() {
	patternsExportCmd.Flags().String("format", "yaml", "output format (yaml|toml)")
	patternsExportCmd.Flags().StringP("output", "o", "", "output file (stdout when not set)")
	patternsValidateCmd.Flags().String("file", "", "pattern file to check (.yaml, .yml or .toml)")
	_ = patternsValidateCmd.MarkFlagRequired("file")
	patternsCmd.AddCommand(patternsExportCmd)
	patternsCmd.AddCommand(patternsValidateCmd)

	reportCmd.Flags().Bool("unused", false, "list patterns that have never matched")
}

func runPatternsExport(cmd *cobra.Command, args []string) error {
	formatName, _ := cmd.Flags().GetString("format")
	output, _ := cmd.Flags().GetString("output")

	format, err := patterns.ParseFormat(formatName)
	if err != nil {
		return err
	}

	return invoke(cmd, nil, func(holder *patterns.Holder) error {
		var w io.Writer = os.Stdout
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", output, err)
			}
			defer f.Close()
			w = f
		}
		return patterns.Export(w, holder.Current().Library(), format)
	})
}

func runPatternsValidate(cmd *cobra.Command, args []string) error {
	file, _ := cmd.Flags().GetString("file")
	compiled, err := patterns.Load(file)
	if err != nil {
		warnColor.Printf("Invalid pattern file %s\n", file)
		return err
	}

	okColor.Printf("%s is valid\n", file)
	fmt.Printf("Version: %s\n", compiled.Version)
	fmt.Printf("Legitimate domains: %d\n", len(compiled.LegitimateDomains()))
	fmt.Printf("Brands: %d\n", len(compiled.Brands()))
	fmt.Printf("Vendors: %d\n", len(compiled.Vendors()))
	for _, cat := range core.Categories {
		if n := len(compiled.Subcategories(cat)); n > 0 {
			fmt.Printf("  %-20s %d subcategories\n", cat, n)
		}
	}
	return nil
}

func runReport(cmd *cobra.Command, args []string) error {
	showUnused, _ := cmd.Flags().GetBool("unused")

	return invoke(cmd, nil, func(st *store.Store, holder *patterns.Holder) error {
		if st == nil {
			return di.ErrNoStore
		}
		stats, err := subcategory.EffectivenessReport(cmd.Context(), st, holder.Current())
		if err != nil {
			return err
		}
		if len(stats) == 0 {
			warnColor.Println("No pattern hits recorded yet")
			return nil
		}
		for _, s := range stats {
			labelColor.Printf("%s / %s", s.Category, s.Subcategory)
			fmt.Printf("  %d hits\n", s.Total)
			for _, p := range s.Patterns {
				fmt.Printf("  %6d  %5.1f%%  %s\n", p.Count, p.Share*100, p.Pattern)
			}
			if showUnused {
				for _, u := range s.Unused {
					dimmed.Printf("       unused  %s\n", u)
				}
			}
		}
		return nil
	})
}
