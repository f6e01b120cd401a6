package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/rohankatakam/workgraph/internal/config"
	"github.com/rohankatakam/workgraph/internal/errors"
	"github.com/rohankatakam/workgraph/internal/ingestion"
	"github.com/rohankatakam/workgraph/internal/workunit"
)

const evidence = `{
  "nodes": [
    {"id": "jira:PAY-7", "kind": "issue", "provider": "jira", "created_at": "2024-03-01T09:00:00Z", "updated_at": "2024-03-01T09:00:00Z",
     "issue": {"key": "PAY-7", "title": "Checkout crashes on empty cart", "type": "bug"}},
    {"id": "gh:acme/shop#12", "kind": "pull_request", "provider": "github", "repo_id": "acme/shop",
     "created_at": "2024-03-02T09:00:00Z", "updated_at": "2024-03-02T09:00:00Z",
     "pull_request": {"number": 12, "title": "Fixes PAY-7: guard empty cart"}}
  ],
  "edges": []
}`

func setup(t *testing.T) (configPath, inputPath string) {
	t.Helper()
	keyring.MockInit()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	for _, k := range []string{"POSTGRES_DSN", "REDIS_URL", "GITHUB_TOKEN", "NEO4J_URI"} {
		t.Setenv(k, "")
	}

	configPath = filepath.Join(dir, "workgraph.yaml")
	body := "partition:\n  max_span_days: 14\nsink:\n  dsn: " + filepath.Join(dir, "workgraph.db") + "\n"
	require.NoError(t, os.WriteFile(configPath, []byte(body), 0o644))

	inputPath = filepath.Join(dir, "evidence.json")
	require.NoError(t, os.WriteFile(inputPath, []byte(evidence), 0o644))
	return configPath, inputPath
}

// resetFlags undoes flag values left over from earlier executions
func resetFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			sv.Replace(nil)
		} else {
			f.Value.Set(f.DefValue)
		}
		f.Changed = false
	})
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func unitID(t *testing.T) string {
	t.Helper()
	recs, err := ingestion.Decode(strings.NewReader(evidence))
	require.NoError(t, err)
	return workunit.ID(recs.Nodes)
}

func TestRunThenShow(t *testing.T) {
	configPath, inputPath := setup(t)

	out, err := execute(t, "run", "--config", configPath, "--input", inputPath, "--run-id", "run-1")
	require.NoError(t, err)
	assert.Contains(t, out, "Evidence graph: 2 nodes, 1 edges (1 reference links, 0 heuristic links)")
	assert.Contains(t, out, "Run run-1")
	assert.Contains(t, out, "Written:       1")

	out, err = execute(t, "show", unitID(t), "--config", configPath, "--run-id", "run-1")
	require.NoError(t, err)

	var shown map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	assert.Equal(t, unitID(t), shown["work_unit_id"])
	assert.Equal(t, "run-1", shown["categorization_run_id"])
	assert.Equal(t, "ok", shown["categorization_status"])

	categories, ok := shown["categories"].(map[string]any)
	require.True(t, ok)
	total := 0.0
	for _, v := range categories {
		total += v.(float64)
	}
	assert.InDelta(t, 1.0, total, 1e-9)
}

func TestShowUnknownUnit(t *testing.T) {
	configPath, _ := setup(t)
	_, err := execute(t, "show", "does-not-exist", "--config", configPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no materialized investment")
}

func TestRunRequiresSpan(t *testing.T) {
	configPath, inputPath := setup(t)
	require.NoError(t, os.WriteFile(configPath, []byte("sink:\n  driver: sqlite3\n"), 0o644))

	_, err := execute(t, "run", "--config", configPath, "--input", inputPath, "--max-span-days", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "partition.max_span_days")
}

func TestRunRequiresSources(t *testing.T) {
	configPath, _ := setup(t)
	_, err := execute(t, "run", "--config", configPath, "--max-span-days", "14")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no evidence sources")
}

func TestParseTime(t *testing.T) {
	got, err := parseTime("since", "2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01T00:00:00Z", got.Format("2006-01-02T15:04:05Z07:00"))

	got, err = parseTime("since", "")
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	_, err = parseTime("since", "last tuesday")
	assert.Error(t, err)
}

func TestRunFreshDropsCheckpoints(t *testing.T) {
	configPath, inputPath := setup(t)
	dir := filepath.Dir(configPath)
	body := "partition:\n  max_span_days: 14\nsink:\n  dsn: " + filepath.Join(dir, "workgraph.db") +
		"\ncheckpoint:\n  path: " + filepath.Join(dir, "checkpoints.db") + "\n"
	require.NoError(t, os.WriteFile(configPath, []byte(body), 0o644))

	tests := []struct {
		name        string
		extra       []string
		wantWritten string
		wantSkipped bool
	}{
		{"first run", nil, "Written:       1", false},
		{"resume skips", nil, "Written:       0", true},
		{"fresh recomputes", []string{"--fresh"}, "Written:       1", false},
	}
	for _, tt := range tests {
		args := append([]string{"run", "--config", configPath, "--input", inputPath, "--run-id", "run-9"}, tt.extra...)
		out, err := execute(t, args...)
		require.NoError(t, err, tt.name)
		assert.Contains(t, out, tt.wantWritten, tt.name)
		if tt.wantSkipped {
			assert.Contains(t, out, "Skipped:       1 (already written)", tt.name)
		} else {
			assert.NotContains(t, out, "Skipped:", tt.name)
		}
	}
}

func TestSetSecretDelete(t *testing.T) {
	configPath, _ := setup(t)
	km := config.NewKeyringManager(nil)

	tests := []struct {
		name    string
		item    string
		store   func(string) error
		get     func() (string, error)
		wantOut string
	}{
		{"github token", config.KeyringGitHubTokenItem, km.SetGitHubToken, km.GetGitHubToken, "Removed github-token"},
		{"neo4j password", config.KeyringNeo4jPasswordItem, km.SetNeo4jPassword, km.GetNeo4jPassword, "Removed neo4j-password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.store("value-to-remove-1234"))

			out, err := execute(t, "config", "set-secret", tt.item, "--delete", "--config", configPath)
			require.NoError(t, err)
			assert.Contains(t, out, tt.wantOut)

			got, err := tt.get()
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}

	_, err := execute(t, "config", "set-secret", "api-key", "--delete", "--config", configPath)
	assert.ErrorContains(t, err, "unknown secret")
	_, err = execute(t, "config", "set-secret", config.KeyringGitHubTokenItem, "--config", configPath)
	assert.Error(t, err, "a value is required unless deleting")
}

func TestFormatErrorAndExitCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		detailed bool
		wantOut  []string
		wantExit int
	}{
		{"plain", fmt.Errorf("boom"), true, []string{"Error: boom\n"}, 1},
		{"config", errors.ConfigErrorf("partition.max_span_days must be positive"), false,
			[]string{"Error: partition.max_span_days must be positive\n"}, 2},
		{"sink detailed", errors.SinkWritesFailed("run-1", 2), true,
			[]string{"Error: [HIGH] [SINK] 2 work units failed to write", "run_id: run-1", "write_failed: 2"}, 1},
		{"sink terse", errors.SinkWritesFailed("run-1", 2), false,
			[]string{"Error: SinkWriteError: 2 work units failed to write\n"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := formatError(tt.err, tt.detailed)
			for _, want := range tt.wantOut {
				assert.Contains(t, out, want)
			}
			assert.Equal(t, tt.wantExit, exitCode(tt.err))
		})
	}
}
