package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/redis/go-redis/v9"
)

// ValidationContext specifies what configuration is required
type ValidationContext string

const (
	// ValidationContextRun - workgraph run needs partitioning and a sink
	ValidationContextRun ValidationContext = "run"
	// ValidationContextGitHub - GitHub ingestion needs a token
	ValidationContextGitHub ValidationContext = "github"
	// ValidationContextExport - export-graph needs Neo4j
	ValidationContextExport ValidationContext = "export"
	// ValidationContextRead - show needs a sink only
	ValidationContextRead ValidationContext = "read"
)

// ValidationResult holds validation results
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// AddError adds an error to the validation result
func (vr *ValidationResult) AddError(format string, args ...interface{}) {
	vr.Valid = false
	vr.Errors = append(vr.Errors, fmt.Sprintf(format, args...))
}

// AddWarning adds a warning to the validation result
func (vr *ValidationResult) AddWarning(format string, args ...interface{}) {
	vr.Warnings = append(vr.Warnings, fmt.Sprintf(format, args...))
}

// HasErrors returns true if there are any errors
func (vr *ValidationResult) HasErrors() bool {
	return !vr.Valid || len(vr.Errors) > 0
}

// Error returns a formatted error message
func (vr *ValidationResult) Error() string {
	if !vr.HasErrors() {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, err := range vr.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err))
	}
	return sb.String()
}

// Validate validates configuration for the given contexts
func (c *Config) Validate(contexts ...ValidationContext) *ValidationResult {
	result := &ValidationResult{Valid: true}
	c.validateLogging(result)

	for _, ctx := range contexts {
		switch ctx {
		case ValidationContextRun:
			c.validatePartition(result)
			c.validateSink(result)
			c.validatePipeline(result)
			c.validateRedis(result)
			c.validateLinking(result)
		case ValidationContextGitHub:
			c.validateGitHub(result)
		case ValidationContextExport:
			c.validateNeo4j(result)
		case ValidationContextRead:
			c.validateSink(result)
		}
	}
	return result
}

func (c *Config) validatePartition(result *ValidationResult) {
	if c.Partition.MaxSpanDays <= 0 {
		result.AddError("partition.max_span_days is required and must be positive (set it in the config file, WORKGRAPH_PARTITION_MAX_SPAN_DAYS or --max-span-days)")
	} else if c.Partition.MaxSpanDays > 365 {
		result.AddWarning("partition.max_span_days is %.0f; units spanning more than a year are rarely meaningful", c.Partition.MaxSpanDays)
	}
}

func (c *Config) validateSink(result *ValidationResult) {
	switch c.Sink.Driver {
	case "sqlite3", "pgx", "postgres":
	default:
		result.AddError("sink.driver %q is not supported (use sqlite3, pgx or postgres)", c.Sink.Driver)
	}
	if c.Sink.DSN == "" {
		result.AddError("sink.dsn is required")
	}
	for _, r := range c.Sink.TablePrefix {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			result.AddError("sink.table_prefix %q may only contain letters, digits and underscores", c.Sink.TablePrefix)
			break
		}
	}
}

func (c *Config) validatePipeline(result *ValidationResult) {
	if c.Pipeline.Workers < 0 {
		result.AddError("pipeline.workers must not be negative")
	}
	if c.Retry.MaxAttempts < 1 {
		result.AddError("retry.max_attempts must be at least 1")
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		result.AddWarning("retry.max_delay is below retry.base_delay; every retry waits %s", c.Retry.MaxDelay)
	}
}

func (c *Config) validateRedis(result *ValidationResult) {
	if c.Redis.URL == "" {
		return
	}
	if _, err := redis.ParseURL(c.Redis.URL); err != nil {
		result.AddError("redis.url is invalid: %v", err)
	}
	if c.Redis.LockTTL <= 0 {
		result.AddError("redis.lock_ttl must be positive")
	}
}

func (c *Config) validateLinking(result *ValidationResult) {
	if !c.Linking.Enabled {
		return
	}
	if c.Linking.HeuristicWindowDays < 0 {
		result.AddError("linking.heuristic_window_days must not be negative")
	}
	if c.Linking.HeuristicConfidence < 0 || c.Linking.HeuristicConfidence > 1 {
		result.AddError("linking.heuristic_confidence must be within [0, 1]")
	}
}

func (c *Config) validateGitHub(result *ValidationResult) {
	if c.GitHub.Token == "" {
		result.AddWarning("GITHUB_TOKEN is not set; unauthenticated requests are limited to 60 per hour")
	}
	if c.GitHub.RateLimit <= 0 {
		result.AddError("github.rate_limit must be positive")
	}
	if c.GitHub.BaseURL != "" {
		if _, err := url.ParseRequestURI(c.GitHub.BaseURL); err != nil {
			result.AddError("github.base_url is invalid: %v", err)
		}
	}
}

func (c *Config) validateNeo4j(result *ValidationResult) {
	if c.Neo4j.URI == "" {
		result.AddError("NEO4J_URI is required but not set")
	} else if _, err := url.Parse(c.Neo4j.URI); err != nil {
		result.AddError("NEO4J_URI is invalid: %v", err)
	}
	if c.Neo4j.User == "" {
		result.AddError("NEO4J_USER is required but not set")
	}
	if c.Neo4j.Password == "" {
		result.AddError("NEO4J_PASSWORD is required but not set. Set it via environment variable, .env file or keychain.")
	} else if c.Neo4j.Password == "password" || c.Neo4j.Password == "neo4j" {
		result.AddWarning("NEO4J_PASSWORD is set to a very common password")
	}
}

func (c *Config) validateLogging(result *ValidationResult) {
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		result.AddError("logging.format %q is not supported (use text or json)", c.Logging.Format)
	}
}
