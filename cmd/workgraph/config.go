package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rohankatakam/workgraph/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage Workgraph configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration (secrets masked)",
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with every default filled in",
	RunE:  runConfigInit,
}

var configSetSecretCmd = &cobra.Command{
	Use:   "set-secret <github-token|neo4j-password> [value]",
	Short: "Store or remove a secret in the OS keychain",
	Long: `Store a secret in the OS keychain instead of the config file.

Examples:
  workgraph config set-secret github-token ghp_...
  workgraph config set-secret neo4j-password s3cret
  workgraph config set-secret github-token --delete`,
	Args: func(cmd *cobra.Command, args []string) error {
		if configSecretDelete {
			return cobra.ExactArgs(1)(cmd, args)
		}
		return cobra.ExactArgs(2)(cmd, args)
	},
	RunE: runConfigSetSecret,
}

var (
	configInitForce    bool
	configSecretDelete bool
)

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configSetSecretCmd)

	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing file")
	configSetSecretCmd.Flags().BoolVar(&configSecretDelete, "delete", false, "remove the secret instead of storing one")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	shown := *cfg
	shown.GitHub.Token = config.MaskSecret(cfg.GitHub.Token)
	shown.Neo4j.Password = config.MaskSecret(cfg.Neo4j.Password)

	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(&shown)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := cfgFile
	if path == "" {
		path = filepath.Join(".workgraph", "workgraph.yaml")
	}
	if _, err := os.Stat(path); err == nil && !configInitForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := cfg.Save(path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	if cfg.Partition.MaxSpanDays <= 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Set partition.max_span_days before running 'workgraph run'.")
	}
	return nil
}

func runConfigSetSecret(cmd *cobra.Command, args []string) error {
	km := config.NewKeyringManager(logger)
	if !km.IsAvailable() {
		return fmt.Errorf("OS keychain is not available; use environment variables instead")
	}

	if configSecretDelete {
		return deleteSecret(cmd, km, args[0])
	}

	var err error
	switch args[0] {
	case config.KeyringGitHubTokenItem:
		err = km.SetGitHubToken(args[1])
	case config.KeyringNeo4jPasswordItem:
		err = km.SetNeo4jPassword(args[1])
	default:
		return unknownSecret(args[0])
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Stored %s in the OS keychain (%s)\n", args[0], config.MaskSecret(args[1]))
	return nil
}

func deleteSecret(cmd *cobra.Command, km *config.KeyringManager, item string) error {
	var err error
	switch item {
	case config.KeyringGitHubTokenItem:
		err = km.DeleteGitHubToken()
	case config.KeyringNeo4jPasswordItem:
		err = km.DeleteNeo4jPassword()
	default:
		return unknownSecret(item)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %s from the OS keychain\n", item)
	return nil
}

func unknownSecret(item string) error {
	return fmt.Errorf("unknown secret %q (use %s or %s)", item, config.KeyringGitHubTokenItem, config.KeyringNeo4jPasswordItem)
}
