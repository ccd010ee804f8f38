package scaffold

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dyluth/gateway/internal/config"
)

//go:embed templates/*
var templatesFS embed.FS

// ConfigFile is the name of the generated configuration file.
const ConfigFile = "gateway.yml"

// Initialize writes a starter gateway.yml into dir and returns its path.
// If force is true an existing file is replaced.
func Initialize(dir string, force bool) (string, error) {
	if !force {
		if err := CheckExisting(dir); err != nil {
			return "", err
		}
	}

	content, err := templatesFS.ReadFile("templates/gateway.yml.tmpl")
	if err != nil {
		return "", fmt.Errorf("failed to read gateway.yml template: %w", err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, ConfigFile)
	if err := os.WriteFile(path, content, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}

	// The template must load cleanly with the same rules as the server.
	if _, err := config.Load(path); err != nil {
		return "", fmt.Errorf("created %s does not load: %w", path, err)
	}

	return path, nil
}
