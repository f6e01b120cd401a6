package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rohankatakam/workgraph/internal/investment"
)

var weightsCmd = &cobra.Command{
	Use:   "weights",
	Short: "Inspect categorization weight tables",
}

var weightsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the active model version and the category taxonomy",
	RunE:  runWeightsShow,
}

var weightsDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print the active weight table as YAML (a starting point for a custom table)",
	RunE:  runWeightsDump,
}

var weightsValidateCmd = &cobra.Command{
	Use:   "validate <path>",
	Short: "Check a weight table file without running anything",
	Args:  cobra.ExactArgs(1),
	RunE:  runWeightsValidate,
}

func init() {
	weightsCmd.AddCommand(weightsShowCmd)
	weightsCmd.AddCommand(weightsDumpCmd)
	weightsCmd.AddCommand(weightsValidateCmd)
}

func runWeightsShow(cmd *cobra.Command, args []string) error {
	active, err := loadWeights()
	if err != nil {
		return err
	}
	registry := investment.NewRegistry()
	if _, ok := registry.Get(active.ModelVersion); !ok {
		if err := registry.Register(active); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Active model version: %s\n", active.ModelVersion)
	fmt.Fprintf(out, "Known versions: %v\n\n", registry.Versions())
	for _, theme := range investment.Themes() {
		fmt.Fprintf(out, "%s\n", theme)
		for _, category := range investment.Categories() {
			if investment.ThemeOf(category) == theme {
				fmt.Fprintf(out, "  %s\n", category)
			}
		}
	}
	return nil
}

func runWeightsDump(cmd *cobra.Command, args []string) error {
	active, err := loadWeights()
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(active)
}

func runWeightsValidate(cmd *cobra.Command, args []string) error {
	w, err := investment.LoadWeights(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: model version %s is valid\n", args[0], w.ModelVersion)
	return nil
}
