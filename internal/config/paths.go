package config

import (
	"os"
	"path/filepath"
)

// DecodedPath returns the root directory for decoded data.
// It uses $DECODED_PATH if set, otherwise defaults to ~/.decoded.
func DecodedPath() string {
	if v := os.Getenv("DECODED_PATH"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".decoded")
	}
	return filepath.Join(home, ".decoded")
}

// ConfigPath returns the path to the config file.
func ConfigPath() string {
	return filepath.Join(DecodedPath(), "config.jsonc")
}

// DotenvPath returns the path to the .env file.
func DotenvPath() string {
	return filepath.Join(DecodedPath(), ".env")
}
