package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mikey/mail-classifier/internal/adapters/filter"
	"github.com/mikey/mail-classifier/internal/core"
)

var classifyCmd = &cobra.Command{
	Use:   "classify [flags]",
	Short: "Classify a single RFC 5322 message",
	Long: `Classify reads a message from --file or stdin, runs it through the full
classification pipeline and prints the verdict. With --record the outcome is
written to the classification store as training ground truth.`,
	Args: cobra.NoArgs,
	RunE: runClassify,
}

func init() {
	classifyCmd.Flags().StringP("file", "f", "", "input email file (stdin when not set)")
	classifyCmd.Flags().String("envelope-from", "", "envelope sender used when the message has no From header")
	classifyCmd.Flags().String("llm-provider", "", "enable the LLM second opinion with this provider (bedrock, gemini, openai)")
	classifyCmd.Flags().Bool("no-trust", false, "skip the DNS and TLS trust lookups")
	classifyCmd.Flags().String("record", "", "record the outcome with this action (DELETED or PRESERVED)")
}

func runClassify(cmd *cobra.Command, args []string) error {
	file, _ := cmd.Flags().GetString("file")
	envelopeFrom, _ := cmd.Flags().GetString("envelope-from")
	provider, _ := cmd.Flags().GetString("llm-provider")
	noTrust, _ := cmd.Flags().GetBool("no-trust")
	record, _ := cmd.Flags().GetString("record")

	var action core.Action
	if record != "" {
		action = core.Action(strings.ToUpper(record))
		if action != core.ActionDeleted && action != core.ActionPreserved {
			return fmt.Errorf("invalid --record action %q", record)
		}
	}

	raw, err := readInput(file)
	if err != nil {
		return err
	}

	overrides := map[string]any{}
	if provider != "" {
		overrides["llm.enabled"] = true
		overrides["llm.provider"] = provider
	}
	if noTrust {
		overrides["trust.enabled"] = false
	}

	return invoke(cmd, overrides, func(cli *filter.CliFilter, engine filter.Classifier, logger *zap.Logger) error {
		msg, err := filter.ParseMessage(raw, envelopeFrom)
		if err != nil {
			return fmt.Errorf("failed to parse email: %w", err)
		}
		res := cli.ProcessMessage(cmd.Context(), msg)
		if action == "" {
			return nil
		}
		if err := engine.RecordOutcome(cmd.Context(), core.Outcome(msg, res, action)); err != nil {
			return fmt.Errorf("failed to record outcome: %w", err)
		}
		logger.Info("Recorded outcome", zap.String("action", string(action)))
		return nil
	})
}

func readInput(file string) ([]byte, error) {
	if file == "" || file == "-" {
		if isTerminal(os.Stdin) {
			return nil, fmt.Errorf("no input: pass --file or pipe a message on stdin")
		}
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", file, err)
	}
	return data, nil
}
