// Package secrets provides credential storage using the operating
// system's native keyring (Linux: Secret Service/GNOME Keyring, macOS:
// Keychain, Windows: Credential Manager).
//
// Priority for resolving the model API key:
//  1. OS keyring (encrypted by the OS, requires user session)
//  2. Environment variable (EIDOS_API_KEY, OPENAI_API_KEY)
//  3. config.yaml value (least secure, plaintext on disk)
package secrets

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/zalando/go-keyring"
	"golang.org/x/term"
)

const (
	// service is the service name used in the OS keyring.
	service = "eidos"

	// apiKeyName is the key name for the model API key.
	apiKeyName = "api_key"
)

// Store saves a secret to the OS keyring.
func Store(key, value string) error {
	return keyring.Set(service, key, value)
}

// Get retrieves a secret from the OS keyring.
// Returns empty string if not found.
func Get(key string) string {
	val, err := keyring.Get(service, key)
	if err != nil {
		return ""
	}
	return val
}

// Delete removes a secret from the OS keyring.
func Delete(key string) error {
	return keyring.Delete(service, key)
}

// Available checks if the OS keyring is accessible by doing a
// write+delete cycle with a test key.
func Available() bool {
	testKey := "__eidos_test__"
	if err := keyring.Set(service, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(service, testKey)
	return true
}

// ResolveAPIKey resolves the model API key using the priority chain:
// keyring, environment, config value. Returns the resolved key, which
// may be empty if nothing is configured.
func ResolveAPIKey(configValue string, logger *slog.Logger) string {
	if logger == nil {
		logger = slog.Default()
	}

	if val := Get(apiKeyName); val != "" {
		logger.Debug("API key loaded from OS keyring")
		return val
	}

	for _, env := range []string{"EIDOS_API_KEY", "OPENAI_API_KEY"} {
		if val := os.Getenv(env); val != "" {
			logger.Debug("API key loaded from environment", "var", env)
			return val
		}
	}

	if configValue != "" {
		logger.Debug("API key loaded from config")
		return configValue
	}

	logger.Warn("no API key found. Set one with: eidos setup")
	return ""
}

// ReadPassword prompts for a secret on the terminal with echo disabled.
// Falls back with an error when stdin is not a terminal.
func ReadPassword(prompt string) (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("stdin is not a terminal")
	}
	fmt.Print(prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(b), nil
}

// MigrateAPIKey moves an API key into the OS keyring so it can be
// removed from config files and the environment.
func MigrateAPIKey(apiKey string, logger *slog.Logger) error {
	if err := Store(apiKeyName, apiKey); err != nil {
		return fmt.Errorf("storing in keyring: %w", err)
	}
	logger.Info("API key stored in OS keyring",
		"service", service,
		"hint", "You can now remove it from config.yaml")
	return nil
}
