// Package database provides SQLite implementation of the Store interface.
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/multaszero/recurso/internal/models"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.Migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS history (
			id TEXT PRIMARY KEY,
			position INTEGER NOT NULL,
			created_at DATETIME NOT NULL,
			analysis TEXT NOT NULL,
			user_details TEXT,
			appeal_text TEXT,
			status TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_history_position ON history(position)`,
		`CREATE TABLE IF NOT EXISTS unlocks (
			analysis_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			unlocked_at DATETIME NOT NULL
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// LoadHistory returns all history items in stored order. Rows whose JSON
// payloads no longer parse are skipped so a damaged store never takes the
// application down with it.
func (s *SQLiteStore) LoadHistory(ctx context.Context) ([]models.FineHistoryItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, analysis, user_details, appeal_text, status
		FROM history ORDER BY position ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.FineHistoryItem
	for rows.Next() {
		item, err := scanHistoryItem(rows)
		if err != nil {
			log.Warn().Err(err).Msg("Skipping corrupt history row")
			continue
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// GetHistoryItem retrieves one history item by id.
func (s *SQLiteStore) GetHistoryItem(ctx context.Context, id string) (*models.FineHistoryItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, created_at, analysis, user_details, appeal_text, status
		FROM history WHERE id = ?`, id)

	item, err := scanHistoryItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanHistoryItem(row rowScanner) (*models.FineHistoryItem, error) {
	var item models.FineHistoryItem
	var analysisJSON string
	var detailsJSON, appealText sql.NullString

	if err := row.Scan(&item.ID, &item.Timestamp, &analysisJSON, &detailsJSON, &appealText, &item.Status); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(analysisJSON), &item.Analysis); err != nil {
		return nil, fmt.Errorf("corrupt analysis payload for %s: %w", item.ID, err)
	}

	if detailsJSON.Valid && detailsJSON.String != "" {
		var details models.UserDetails
		if err := json.Unmarshal([]byte(detailsJSON.String), &details); err != nil {
			return nil, fmt.Errorf("corrupt user details payload for %s: %w", item.ID, err)
		}
		item.UserDetails = &details
	}

	if appealText.Valid {
		item.AppealText = appealText.String
	}

	return &item, nil
}

// UpsertHistory replaces an item with the same id in place, keeping its
// stored position, or prepends a new one.
func (s *SQLiteStore) UpsertHistory(ctx context.Context, item *models.FineHistoryItem) error {
	analysisJSON, err := json.Marshal(item.Analysis)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis: %w", err)
	}

	var detailsJSON sql.NullString
	if item.UserDetails != nil {
		raw, err := json.Marshal(item.UserDetails)
		if err != nil {
			return fmt.Errorf("failed to marshal user details: %w", err)
		}
		detailsJSON = sql.NullString{String: string(raw), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE history SET created_at = ?, analysis = ?, user_details = ?, appeal_text = ?, status = ?
		WHERE id = ?`,
		item.Timestamp, string(analysisJSON), detailsJSON, item.AppealText, item.Status, item.ID)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		// New item goes to the front of the stored order.
		_, err = tx.ExecContext(ctx, `
			INSERT INTO history (id, position, created_at, analysis, user_details, appeal_text, status)
			VALUES (?, COALESCE((SELECT MIN(position) FROM history), 1) - 1, ?, ?, ?, ?, ?)`,
			item.ID, item.Timestamp, string(analysisJSON), detailsJSON, item.AppealText, item.Status)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// IsUnlocked reports whether a payment has been recorded for the analysis.
func (s *SQLiteStore) IsUnlocked(ctx context.Context, analysisID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM unlocks WHERE analysis_id = ?`, analysisID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MarkUnlocked records a successful payment. Repeated calls for the same
// analysis are no-ops; the first record wins.
func (s *SQLiteStore) MarkUnlocked(ctx context.Context, analysisID, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO unlocks (analysis_id, session_id, unlocked_at)
		VALUES (?, ?, ?)`,
		analysisID, sessionID, time.Now())
	return err
}

// AllUnlocks returns every unlock record keyed by analysis id.
func (s *SQLiteStore) AllUnlocks(ctx context.Context) (map[string]models.UnlockRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT analysis_id, session_id, unlocked_at FROM unlocks`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	unlocks := make(map[string]models.UnlockRecord)
	for rows.Next() {
		var rec models.UnlockRecord
		if err := rows.Scan(&rec.AnalysisID, &rec.SessionID, &rec.UnlockedAt); err != nil {
			return nil, err
		}
		unlocks[rec.AnalysisID] = rec
	}
	return unlocks, rows.Err()
}
