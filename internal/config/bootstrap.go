// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

package config

import (
	_ "embed"
	"log/slog"
	"os"
	"path/filepath"

	tetherr "github.com/tether-dev/tether/pkg/errors"
)

//go:embed tether.yaml.default
var DefaultConfigYAML []byte

func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", tetherr.Errorf(tetherr.CodeConfigLoadReadFailure, "resolving home directory: %v", err)
	}
	return filepath.Join(home, ".config", "tether"), nil
}

// DefaultConfigPath returns ~/.config/tether/tether.yaml.
func DefaultConfigPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "tether.yaml"), nil
}

// WriteDefault writes the commented default config to path unless a file is
// already there. It returns whether a file was written.
func WriteDefault(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return false, tetherr.Errorf(tetherr.CodeConfigLoadReadFailure, "creating %s: %v", filepath.Dir(path), err)
	}
	// The file can carry the browser token.
	if err := os.WriteFile(path, DefaultConfigYAML, 0o600); err != nil {
		return false, tetherr.Errorf(tetherr.CodeConfigLoadReadFailure, "writing %s: %v", path, err)
	}
	slog.Info("created default config", "path", path)
	return true, nil
}
