package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hugo-lorenzo-mato/promptflow/internal/config"
	"github.com/hugo-lorenzo-mato/promptflow/internal/tui"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
	noColor   bool
	outputArg string

	// Version info, set via SetVersion()
	appVersion string
	appCommit  string
	appDate    string
)

var rootCmd = &cobra.Command{
	Use:   "promptflow",
	Short: "Build and run multi-step prompt workflows",
	Long: `promptflow composes prompt steps into workflows. A step can reference
the output of an earlier step or an uploaded file; running a workflow sends
each step to the generation service in order and substitutes the
references with their values.

Use 'promptflow serve' for the HTTP API, or the workflows, files and run
commands to work from the terminal.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion records build information.
func SetVersion(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: .promptflow/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "auto",
		"log format (auto, text, json)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false,
		"disable colored output")
	rootCmd.PersistentFlags().StringVarP(&outputArg, "output", "o", "",
		"output mode (styled, plain, json, quiet)")

	// Bind flags to viper (errors are nil when flag exists)
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// loadConfig reads configuration from all sources, with flags bound to
// the global viper instance taking precedence.
func loadConfig() (*config.Config, error) {
	loader := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// outputMode resolves --output against the terminal.
func outputMode() (tui.OutputMode, error) {
	d := tui.NewDetector().NoColor(noColor)
	if outputArg != "" {
		mode, ok := tui.ParseOutputMode(outputArg)
		if !ok {
			return 0, fmt.Errorf("unknown output mode %q", outputArg)
		}
		if mode == tui.ModeStyled && !d.ShouldUseColor() {
			mode = tui.ModePlain
		}
		d.ForceMode(mode)
	}
	return d.Detect(), nil
}
