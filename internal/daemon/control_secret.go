package daemon

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const controlSecretFile = ".control.secret"

// ControlSecretPath returns where the daemon publishes its control secret.
func ControlSecretPath(dataDir string) string {
	return filepath.Join(dataDir, controlSecretFile)
}

// WriteControlSecret generates a fresh secret for this run and writes it
// owner-only to dataDir, replacing any secret from a previous run.
func WriteControlSecret(dataDir string) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate control secret: %w", err)
	}
	secret := hex.EncodeToString(buf)

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	path := ControlSecretPath(dataDir)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(secret), 0600); err != nil {
		return "", fmt.Errorf("failed to write control secret: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to publish control secret: %w", err)
	}
	return secret, nil
}

// ReadControlSecret reads the secret published by the running daemon.
func ReadControlSecret(dataDir string) (string, error) {
	data, err := os.ReadFile(ControlSecretPath(dataDir))
	if err != nil {
		return "", fmt.Errorf("failed to read control secret: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func secretMatches(header, secret string) bool {
	got, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(secret)) == 1
}
