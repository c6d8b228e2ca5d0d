package journal

import (
	"fmt"

	"distribox/internal/config"
	"distribox/internal/dbx"
)

// NewJournalFromConfig creates a Journal implementation based on the journal
// config type.
func NewJournalFromConfig(cfg config.JournalConfig, path string) (dbx.Journal, error) {
	switch cfg.Type {
	case "sqlite":
		return NewSQLiteJournal(path)
	case "memory":
		return NewMemoryJournal(), nil
	default:
		return nil, fmt.Errorf("unknown journal type: %s", cfg.Type)
	}
}
