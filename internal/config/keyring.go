package config

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/zalando/go-keyring"
)

const (
	// KeyringService is the service name in the OS keychain
	KeyringService = "workgraph"

	// KeyringGitHubTokenItem is the key for the GitHub token
	KeyringGitHubTokenItem = "github-token"

	// KeyringNeo4jPasswordItem is the key for the Neo4j password
	KeyringNeo4jPasswordItem = "neo4j-password"
)

// KeyringManager handles secure credential storage in OS keychain
type KeyringManager struct {
	logger logrus.FieldLogger
}

// NewKeyringManager creates a new keyring manager
func NewKeyringManager(logger logrus.FieldLogger) *KeyringManager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &KeyringManager{logger: logger.WithField("component", "keyring")}
}

func (km *KeyringManager) get(item string) (string, error) {
	value, err := keyring.Get(KeyringService, item)
	if err == keyring.ErrNotFound {
		return "", nil
	}
	if err != nil {
		km.logger.WithError(err).WithField("item", item).Debug("Failed to read from keychain")
		return "", fmt.Errorf("failed to read from OS keychain: %w", err)
	}
	return value, nil
}

func (km *KeyringManager) set(item, value string) error {
	if value == "" {
		return fmt.Errorf("%s cannot be empty", item)
	}
	if err := keyring.Set(KeyringService, item, value); err != nil {
		return fmt.Errorf("failed to save to OS keychain: %w", err)
	}
	km.logger.WithField("item", item).Info("Credential saved to keychain")
	return nil
}

func (km *KeyringManager) delete(item string) error {
	err := keyring.Delete(KeyringService, item)
	if err != nil && err != keyring.ErrNotFound {
		return fmt.Errorf("failed to delete from OS keychain: %w", err)
	}
	return nil
}

// GetGitHubToken retrieves the GitHub token; empty when not stored
func (km *KeyringManager) GetGitHubToken() (string, error) {
	return km.get(KeyringGitHubTokenItem)
}

// SetGitHubToken stores the GitHub token
func (km *KeyringManager) SetGitHubToken(token string) error {
	return km.set(KeyringGitHubTokenItem, token)
}

// DeleteGitHubToken removes the GitHub token
func (km *KeyringManager) DeleteGitHubToken() error {
	return km.delete(KeyringGitHubTokenItem)
}

// GetNeo4jPassword retrieves the Neo4j password; empty when not stored
func (km *KeyringManager) GetNeo4jPassword() (string, error) {
	return km.get(KeyringNeo4jPasswordItem)
}

// SetNeo4jPassword stores the Neo4j password
func (km *KeyringManager) SetNeo4jPassword(password string) error {
	return km.set(KeyringNeo4jPasswordItem, password)
}

// DeleteNeo4jPassword removes the Neo4j password
func (km *KeyringManager) DeleteNeo4jPassword() error {
	return km.delete(KeyringNeo4jPasswordItem)
}

// IsAvailable checks if OS keychain is available.
// Returns false on headless systems (CI/CD) where keychain isn't available.
func (km *KeyringManager) IsAvailable() bool {
	_, err := keyring.Get(KeyringService, "test-availability")
	if err == nil || err == keyring.ErrNotFound {
		return true
	}
	km.logger.WithError(err).Debug("Keychain not available")
	return false
}

// MaskSecret masks a secret for display, keeping the last 4 characters
func MaskSecret(secret string) string {
	if secret == "" {
		return "(not set)"
	}
	if len(secret) < 12 {
		return "***"
	}
	return "***" + secret[len(secret)-4:]
}
