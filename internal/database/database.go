// Package database provides the data access layer for case history and unlocks.
package database

import (
	"context"

	"github.com/multaszero/recurso/internal/models"
)

// Store defines the interface for data persistence.
type Store interface {
	// Case history. LoadHistory returns items in stored order (newest
	// insertions first); callers re-sort by timestamp for display.
	// Corrupt rows are skipped, never surfaced as errors.
	LoadHistory(ctx context.Context) ([]models.FineHistoryItem, error)
	GetHistoryItem(ctx context.Context, id string) (*models.FineHistoryItem, error)

	// UpsertHistory replaces an existing item in place (same stored
	// position) or prepends a new one.
	UpsertHistory(ctx context.Context, item *models.FineHistoryItem) error

	// Unlocks. MarkUnlocked is idempotent; the first recorded session id
	// and timestamp win. Unlocking is monotonic: there is no removal.
	IsUnlocked(ctx context.Context, analysisID string) (bool, error)
	MarkUnlocked(ctx context.Context, analysisID, sessionID string) error
	AllUnlocks(ctx context.Context) (map[string]models.UnlockRecord, error)

	// Lifecycle
	Close() error
	Migrate() error
}
