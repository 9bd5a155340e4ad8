package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/dig"
	"golang.org/x/term"

	"github.com/mikey/mail-classifier/internal/di"
)

var rootCmd = &cobra.Command{
	Use:   "mail-classifier",
	Short: "Email classification toolkit",
	Long: `mail-classifier classifies single messages, inspects sender trust and
vendor intent, and maintains the pattern tables and the statistical model
used by the content filter daemon.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		mode, _ := cmd.Flags().GetString("color")
		return setColorMode(mode)
	},
}

func main() {
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(vendorCmd)
	rootCmd.AddCommand(trustCmd)
	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(driftCmd)
	rootCmd.AddCommand(feedbackCmd)
	rootCmd.AddCommand(patternsCmd)
	rootCmd.AddCommand(reportCmd)

	rootCmd.PersistentFlags().String("config", "", "path to config file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose output and debug logging")
	rootCmd.PersistentFlags().Bool("json-log", false, "output logs in JSON format")
	rootCmd.PersistentFlags().String("color", "auto", "colorize output (auto|on|off)")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setColorMode(mode string) error {
	switch mode {
	case "auto":
		color.NoColor = !isTerminal(os.Stdout)
	case "on":
		color.NoColor = false
	case "off":
		color.NoColor = true
	default:
		return fmt.Errorf("invalid --color value %q (want auto, on or off)", mode)
	}
	return nil
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// cliFlags collects the persistent flags plus the config overrides of one command
func cliFlags(cmd *cobra.Command, overrides map[string]any) *di.CLIFlags {
	configFile, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")
	jsonLog, _ := cmd.Flags().GetBool("json-log")
	return &di.CLIFlags{
		ConfigFile: configFile,
		Verbose:    verbose,
		JSONLog:    jsonLog,
		Overrides:  overrides,
	}
}

// invoke builds the CLI container, runs fn with its dependencies injected and
// releases every component afterwards
func invoke(cmd *cobra.Command, overrides map[string]any, fn any) error {
	container, err := di.BuildCLIContainer(cliFlags(cmd, overrides))
	if err != nil {
		return fmt.Errorf("failed to build dependency container: %w", err)
	}
	defer func() {
		_ = container.Invoke(func(lc *di.Lifecycle) { lc.Close() })
	}()

	if err := container.Invoke(fn); err != nil {
		return dig.RootCause(err)
	}
	return nil
}
