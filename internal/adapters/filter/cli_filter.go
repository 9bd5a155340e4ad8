package filter

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"github.com/mikey/mail-classifier/internal/core"
)

// CliFilter classifies single messages from the command line and prints a report
type CliFilter struct {
	engine  Classifier
	logger  *zap.Logger
	out     io.Writer
	verbose bool
}

var _ core.EmailFilter = (*CliFilter)(nil)

var (
	headingColor  = color.New(color.Bold, color.FgCyan)
	spamColor     = color.New(color.Bold, color.FgRed)
	preserveColor = color.New(color.Bold, color.FgGreen)
	dimColor      = color.New(color.Faint)
)

// NewCliFilter creates a new CLI filter writing to out, or stdout when out is nil
func NewCliFilter(engine Classifier, logger *zap.Logger, out io.Writer, verbose bool) *CliFilter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if out == nil {
		out = os.Stdout
	}
	return &CliFilter{engine: engine, logger: logger, out: out, verbose: verbose}
}

// ProcessEmail parses raw, classifies it and displays the results
func (f *CliFilter) ProcessEmail(ctx context.Context, raw []byte, envelopeFrom string) (*core.ClassificationResult, error) {
	msg, err := ParseMessage(raw, envelopeFrom)
	if err != nil {
		f.logger.Error("Failed to parse email", zap.Error(err))
		return nil, err
	}
	return f.ProcessMessage(ctx, msg), nil
}

// ProcessMessage classifies an already parsed message and displays the results
func (f *CliFilter) ProcessMessage(ctx context.Context, msg *core.InboundMessage) *core.ClassificationResult {
	f.logger.Debug("Processing email", zap.String("sender", msg.Sender))

	headingColor.Fprintln(f.out, "=== Email Summary ===")
	from := msg.Sender
	if msg.DisplayName != "" {
		from = fmt.Sprintf("%s <%s>", msg.DisplayName, msg.Sender)
	}
	fmt.Fprintf(f.out, "From: %s\n", from)
	fmt.Fprintf(f.out, "Subject: %s\n", msg.Subject)
	fmt.Fprintf(f.out, "Body length: %d bytes\n", len(msg.Body))
	if f.verbose && msg.Body != "" {
		preview := msg.Body
		if len(preview) > 500 {
			preview = preview[:500] + "..."
		}
		dimColor.Fprintf(f.out, "\n%s\n", preview)
	}

	start := time.Now()
	res := f.engine.ClassifyMessage(ctx, msg)
	f.Report(res, time.Since(start))
	return res
}

// Report prints a classification result
func (f *CliFilter) Report(res *core.ClassificationResult, took time.Duration) {
	fmt.Fprintln(f.out)
	headingColor.Fprintln(f.out, "=== Results ===")

	verdict := spamColor
	if res.ShouldPreserve {
		verdict = preserveColor
	}
	verdict.Fprintf(f.out, "Category: %s\n", res.Verdict.Category)
	fmt.Fprintf(f.out, "Confidence: %.4f\n", res.Verdict.Confidence)
	fmt.Fprintf(f.out, "Reason: %s\n", res.Verdict.Reason)
	fmt.Fprintf(f.out, "Rule: %s\n", res.Verdict.Rule)
	verdict.Fprintf(f.out, "Preserve: %t\n", res.ShouldPreserve)

	if res.Profile.Domain != "" {
		var flags []string
		if res.Profile.IsGibberish {
			flags = append(flags, "gibberish")
		}
		if res.Profile.IsSuspicious {
			flags = append(flags, "suspicious")
		}
		if res.Profile.IsLegitimate {
			flags = append(flags, "legitimate")
		}
		fmt.Fprintf(f.out, "Domain: %s [%s]\n", res.Profile.Domain, strings.Join(flags, ","))
	}
	if res.Subcategory.Subcategory != "" {
		fmt.Fprintf(f.out, "Subcategory: %s (%.2f)\n", res.Subcategory.Subcategory, res.Subcategory.Confidence)
	}
	if t := res.Threat; t != nil {
		fmt.Fprintf(f.out, "Threat: %s score=%.2f confidence=%.2f\n", t.Level, t.Score, t.Confidence)
		if f.verbose {
			d := t.Dimensions
			dimColor.Fprintf(f.out, "  auth=%.2f business=%.2f content=%.2f geo=%.2f network=%.2f\n",
				d.Authentication, d.Business, d.Content, d.Geographic, d.Network)
			for _, r := range t.Reasons {
				dimColor.Fprintf(f.out, "  - %s\n", r)
			}
		}
	}
	if v := res.Vendor; v != nil {
		fmt.Fprintf(f.out, "Vendor: %s (%s) intent=%s confidence=%.2f\n", v.Vendor, v.VendorCategory, v.Intent, v.Confidence)
	}
	if p := res.Prediction; p != nil {
		fmt.Fprintf(f.out, "Model %s: spam probability %.4f", p.ModelVersion, p.SpamProbability)
		if p.CategoryAvailable {
			fmt.Fprintf(f.out, ", category %s (%.2f)", p.Category, p.CategoryConfidence)
		}
		fmt.Fprintln(f.out)
	}
	if a := res.Advice; a != nil {
		fmt.Fprintf(f.out, "LLM %s: %s (%.2f) %s\n", a.ModelUsed, a.Category, a.Confidence, a.Explanation)
	}
	fmt.Fprintf(f.out, "Processing time: %v\n", took)
}

// Start is a no-op for the CLI filter
func (f *CliFilter) Start() error {
	return nil
}

// Stop is a no-op for the CLI filter
func (f *CliFilter) Stop() error {
	return nil
}
