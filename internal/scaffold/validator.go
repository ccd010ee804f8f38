package scaffold

import (
	"fmt"
	"os"
	"path/filepath"
)

// CheckExisting returns an error if dir already holds a gateway.yml.
func CheckExisting(dir string) error {
	path := filepath.Join(dir, ConfigFile)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists\n\nUse 'gateway config init --force' to overwrite it", path)
	}
	return nil
}
