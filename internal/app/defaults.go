package app

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - APERTURE_CONFIG_PATH: config file location (default: ~/.config/aperture.toml)
//   - APERTURE_HOME: base directory for aperture data (default: ~/.local/share/aperture)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

// getConfigPath returns the config file path, checking APERTURE_CONFIG_PATH first,
// then falling back to ~/.config/aperture.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv("APERTURE_CONFIG_PATH"); path != "" {
		return homedir.Expand(path)
	}

	homeDir, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "aperture.toml"), nil
}

// getBaseDir returns the data directory, checking APERTURE_HOME first,
// then falling back to the XDG default ~/.local/share/aperture.
func getBaseDir() (string, error) {
	if path := os.Getenv("APERTURE_HOME"); path != "" {
		return homedir.Expand(path)
	}

	homeDir, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "aperture"), nil
}
