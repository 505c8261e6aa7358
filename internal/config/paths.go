package config

import (
	"os"
	"path/filepath"
)

// UserConfigPath returns the path to the user-level config file.
// Follows the XDG Base Directory Specification:
//   - Linux: ~/.config/specflow/config.yml
//   - macOS: ~/Library/Application Support/specflow/config.yml
//   - Windows: %APPDATA%\specflow\config.yml
func UserConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "specflow", "config.yml"), nil
}

// ProjectConfigPath returns the path to the project-level config file,
// always .specflow/config.yml relative to the current directory.
func ProjectConfigPath() string {
	return filepath.Join(".specflow", "config.yml")
}

// ProjectConfigDir returns the path to the project-level config directory.
func ProjectConfigDir() string {
	return ".specflow"
}

// LegacyProjectConfigPath returns the old JSON project config location.
func LegacyProjectConfigPath() string {
	return filepath.Join(".specflow", "config.json")
}
