//go:build prod

package database

import (
	"log"
	"os"
	"path/filepath"
)

// GetDefaultDBPath returns the database path for production mode.
// In production, the database is stored in the user's config directory.
func GetDefaultDBPath() string {
	return filepath.Join(appDir(), "parley.db")
}

// GetDataDir returns the directory for auxiliary app data (blob store).
func GetDataDir() string {
	return filepath.Join(appDir(), "data")
}

func appDir() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		log.Printf("Warning: Failed to get user config dir: %v. Using fallback.", err)
		return "."
	}

	dir := filepath.Join(configDir, "parley")

	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Printf("Warning: Failed to create app config dir: %v. Using fallback.", err)
		return "."
	}

	return dir
}

func IsDevelopment() bool {
	return false
}
