//go:build !prod

package database

// GetDefaultDBPath returns the database path for development mode.
// In dev mode, the database is stored in the project root for easy access and debugging.
func GetDefaultDBPath() string {
	return "parley.db"
}

// GetDataDir returns the directory for auxiliary app data (blob store).
func GetDataDir() string {
	return "data"
}

func IsDevelopment() bool {
	return true
}
