package main

import (
	stderrors "errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rohankatakam/workgraph/internal/config"
	"github.com/rohankatakam/workgraph/internal/errors"
	"github.com/rohankatakam/workgraph/internal/logging"
)

var (
	// Version information (set by build flags)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	cfgFile string
	verbose bool
	logger  *logging.Logger
	cfg     *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprint(os.Stderr, formatError(err, verbose))
		os.Exit(exitCode(err))
	}
}

// formatError prints classified errors with their context when detailed
func formatError(err error, detailed bool) string {
	var e *errors.Error
	if detailed && stderrors.As(err, &e) {
		return "Error: " + e.DetailedString()
	}
	return fmt.Sprintf("Error: %v\n", err)
}

// exitCode is 2 for critical failures such as bad configuration, 1 otherwise
func exitCode(err error) int {
	if errors.GetSeverity(err) == errors.SeverityCritical {
		return 2
	}
	return 1
}

var rootCmd = &cobra.Command{
	Use:   "workgraph",
	Short: "Workgraph - where engineering effort actually goes",
	Long: `Workgraph links issues, pull requests, commits and files into an evidence
graph, partitions it into work units and estimates how each unit's effort
splits across investment categories.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Logging.Level = logrus.DebugLevel.String()
		}
		logger, err = logging.New(cfg.Logging, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		logger.WithField("log_file", logger.Path()).Debug("Logger initialized")
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logger.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: .workgraph/workgraph.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.SetVersionTemplate(`Workgraph {{.Version}}
Build time: ` + BuildTime + `
Git commit: ` + GitCommit + `
`)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(exportGraphCmd)
	rootCmd.AddCommand(dlqCmd)
	rootCmd.AddCommand(weightsCmd)
	rootCmd.AddCommand(configCmd)
}
