package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mikey/mail-classifier/internal/core"
	"github.com/mikey/mail-classifier/internal/domain"
	"github.com/mikey/mail-classifier/internal/trust"
)

var (
	labelColor = color.New(color.Bold)
	warnColor  = color.New(color.FgYellow, color.Bold)
	okColor    = color.New(color.FgGreen, color.Bold)
	dimmed     = color.New(color.Faint)
)

var vendorCmd = &cobra.Command{
	Use:   "vendor --sender ADDRESS --subject TEXT",
	Short: "Classify the intent of mail from a known vendor",
	Args:  cobra.NoArgs,
	RunE:  runVendor,
}

var trustCmd = &cobra.Command{
	Use:   "trust --sender ADDRESS",
	Short: "Score the trustworthiness of a sender",
	Long: `Trust runs the DNS, authentication and certificate lookups for the
sender's domain and prints the multi-dimensional threat assessment. With
--intel the raw lookup results are printed as JSON.`,
	Args: cobra.NoArgs,
	RunE: runTrust,
}

func init() {
	vendorCmd.Flags().String("sender", "", "sender address")
	vendorCmd.Flags().String("subject", "", "message subject")
	vendorCmd.Flags().String("content", "", "message body text")
	_ = vendorCmd.MarkFlagRequired("sender")

	trustCmd.Flags().String("sender", "", "sender address or bare domain")
	trustCmd.Flags().String("subject", "", "message subject")
	trustCmd.Flags().Bool("intel", false, "print the gathered domain intel as JSON")
	_ = trustCmd.MarkFlagRequired("sender")
}

func runVendor(cmd *cobra.Command, args []string) error {
	sender, _ := cmd.Flags().GetString("sender")
	subject, _ := cmd.Flags().GetString("subject")
	content, _ := cmd.Flags().GetString("content")

	return invoke(cmd, nil, func(engine *core.Engine) error {
		v := engine.ProcessVendorEmail(sender, domain.DomainOf(sender), subject, content)
		printVendor(v)
		return nil
	})
}

func printVendor(v core.VendorClassification) {
	if !v.Resolved() {
		warnColor.Println("Sender is not a known vendor")
	} else {
		labelColor.Printf("Vendor: ")
		fmt.Printf("%s (%s)\n", v.Vendor, v.VendorCategory)
	}
	labelColor.Printf("Intent: ")
	fmt.Printf("%s confidence=%.2f\n", v.Intent, v.Confidence)
	preserve := warnColor
	if v.ShouldPreserve {
		preserve = okColor
	}
	preserve.Printf("Preserve: %t\n", v.ShouldPreserve)
	labelColor.Printf("Reasoning: ")
	fmt.Println(v.Reasoning)

	if len(v.Scores) > 0 {
		intents := make([]core.Intent, 0, len(v.Scores))
		for i := range v.Scores {
			intents = append(intents, i)
		}
		sort.Slice(intents, func(a, b int) bool { return v.Scores[intents[a]] > v.Scores[intents[b]] })
		for _, i := range intents {
			fmt.Printf("  %-14s %.3f\n", i, v.Scores[i])
		}
	}
	for _, m := range v.Matches {
		fmt.Printf("  matched %s %q (%.2f)\n", m.Type, m.Pattern, m.Weight)
	}
}

func runTrust(cmd *cobra.Command, args []string) error {
	sender, _ := cmd.Flags().GetString("sender")
	subject, _ := cmd.Flags().GetString("subject")
	showIntel, _ := cmd.Flags().GetBool("intel")

	return invoke(cmd, nil, func(scorer *trust.Scorer, analyzer *domain.Analyzer) error {
		if scorer == nil {
			return errors.New("trust scoring is disabled (trust.enabled)")
		}

		var profile core.DomainProfile
		if strings.Contains(sender, "@") {
			profile = analyzer.Analyze(sender)
		} else {
			profile = analyzer.AnalyzeDomain(sender)
		}
		if !profile.IsValid {
			return fmt.Errorf("cannot parse a domain from %q", sender)
		}

		a := scorer.Assess(cmd.Context(), core.TrustInput{
			Sender:      domain.ExtractAddress(sender),
			Domain:      profile.Domain,
			DisplayName: domain.DisplayName(sender),
			Subject:     subject,
		})
		printAssessment(profile, a)

		if showIntel {
			intel := scorer.Intel(cmd.Context(), profile.Domain, profile.Registrable)
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(intel)
		}
		return nil
	})
}

func printAssessment(profile core.DomainProfile, a core.ThreatAssessment) {
	labelColor.Printf("Domain: ")
	fmt.Printf("%s (registrable %s)\n", profile.Domain, profile.Registrable)

	level := okColor
	switch a.Level {
	case core.ThreatSuspicious:
		level = warnColor
	case core.ThreatHighRisk, core.ThreatPhishing:
		level = color.New(color.FgRed, color.Bold)
	}
	level.Printf("Threat: %s\n", trust.Describe(a))
	if a.Override != "" {
		labelColor.Printf("Override: ")
		fmt.Println(a.Override)
	}

	d := a.Dimensions
	fmt.Printf("  authentication %.2f\n", d.Authentication)
	fmt.Printf("  business       %.2f\n", d.Business)
	fmt.Printf("  content        %.2f\n", d.Content)
	fmt.Printf("  geographic     %.2f\n", d.Geographic)
	fmt.Printf("  network        %.2f\n", d.Network)
	for _, r := range a.Reasons {
		fmt.Printf("  - %s\n", r)
	}
}
