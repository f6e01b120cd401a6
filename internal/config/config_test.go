package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

// isolate points HOME at a temp dir and clears variables Load reads
func isolate(t *testing.T) string {
	t.Helper()
	keyring.MockInit()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, k := range []string{"POSTGRES_DSN", "GITHUB_TOKEN", "GITHUB_RATE_LIMIT", "REDIS_URL",
		"NEO4J_URI", "NEO4J_USER", "NEO4J_PASSWORD", "NEO4J_DATABASE", "WORKGRAPH_PARTITION_MAX_SPAN_DAYS"} {
		t.Setenv(k, "")
	}
	return home
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "workgraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	home := isolate(t)

	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)
	assert.Equal(t, "sqlite3", cfg.Sink.Driver)
	assert.Equal(t, filepath.Join(home, ".workgraph", "workgraph.db"), cfg.Sink.DSN)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 7, cfg.Linking.HeuristicWindowDays)
	assert.Equal(t, 0.3, cfg.Linking.HeuristicConfidence)
	assert.Zero(t, cfg.Partition.MaxSpanDays)

	result := cfg.Validate(ValidationContextRun)
	require.True(t, result.HasErrors(), "span bound is required")
	assert.Contains(t, result.Error(), "partition.max_span_days")
}

func TestLoadFileAndEnv(t *testing.T) {
	isolate(t)
	path := writeConfig(t, `
partition:
  max_span_days: 14
pipeline:
  workers: 3
retry:
  base_delay: 50ms
sink:
  table_prefix: wg_
`)
	t.Setenv("WORKGRAPH_PIPELINE_WORKERS", "8")
	t.Setenv("POSTGRES_DSN", "postgres://u:p@db/wg")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 14.0, cfg.Partition.MaxSpanDays)
	assert.Equal(t, 14*24*time.Hour, cfg.MaxSpan())
	assert.Equal(t, 8, cfg.Pipeline.Workers, "env beats file")
	assert.Equal(t, 50*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, "wg_", cfg.Sink.TablePrefix)
	assert.Equal(t, "pgx", cfg.Sink.Driver)
	assert.Equal(t, "postgres://u:p@db/wg", cfg.Sink.DSN)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)

	assert.False(t, cfg.Validate(ValidationContextRun).HasErrors())
}

func TestKeyringFillsSecrets(t *testing.T) {
	isolate(t)
	km := NewKeyringManager(nil)
	require.True(t, km.IsAvailable())
	require.NoError(t, km.SetGitHubToken("ghp_fromkeychain1234"))
	require.NoError(t, km.SetNeo4jPassword("s3cret-graph"))

	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)
	assert.Equal(t, "ghp_fromkeychain1234", cfg.GitHub.Token)
	assert.Equal(t, "s3cret-graph", cfg.Neo4j.Password)

	t.Setenv("GITHUB_TOKEN", "ghp_fromenv")
	cfg, err = Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)
	assert.Equal(t, "ghp_fromenv", cfg.GitHub.Token, "env beats keychain")

	require.NoError(t, km.DeleteGitHubToken())
	require.NoError(t, km.DeleteGitHubToken(), "deleting twice is fine")
	token, err := km.GetGitHubToken()
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		ctx     ValidationContext
		wantErr bool
	}{
		{"valid run", func(c *Config) {}, ValidationContextRun, false},
		{"bad driver", func(c *Config) { c.Sink.Driver = "mysql" }, ValidationContextRun, true},
		{"bad prefix", func(c *Config) { c.Sink.TablePrefix = "wg; drop" }, ValidationContextRun, true},
		{"bad redis url", func(c *Config) { c.Redis.URL = "http://nope" }, ValidationContextRun, true},
		{"heuristic confidence", func(c *Config) { c.Linking.HeuristicConfidence = 1.5 }, ValidationContextRun, true},
		{"zero attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }, ValidationContextRun, true},
		{"neo4j missing", func(c *Config) {}, ValidationContextExport, true},
		{"neo4j set", func(c *Config) {
			c.Neo4j.URI, c.Neo4j.User, c.Neo4j.Password = "bolt://graph:7687", "neo4j", "long-password"
		}, ValidationContextExport, false},
		{"github without token warns only", func(c *Config) {}, ValidationContextGitHub, false},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, ValidationContextRead, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Partition.MaxSpanDays = 14
			tt.mutate(cfg)
			assert.Equal(t, tt.wantErr, cfg.Validate(tt.ctx).HasErrors())
		})
	}
}

func TestSaveOmitsSecrets(t *testing.T) {
	isolate(t)
	cfg := Default()
	cfg.Partition.MaxSpanDays = 21
	cfg.GitHub.Token = "ghp_secret"
	path := filepath.Join(t.TempDir(), "nested", "workgraph.yaml")
	require.NoError(t, cfg.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "ghp_secret")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 21.0, loaded.Partition.MaxSpanDays)
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "(not set)", MaskSecret(""))
	assert.Equal(t, "***", MaskSecret("short"))
	assert.Equal(t, "***7890", MaskSecret("ghp_1234567890"))
}
