package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/construmedicis/buildtracking/internal/core/domain"
)

type SourceRepository struct {
	db *sql.DB
}

func NewSourceRepository(db *sql.DB) *SourceRepository {
	return &SourceRepository{db: db}
}

func (r *SourceRepository) GetByName(ctx context.Context, name string) (*domain.IngestionSource, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, name, gmail_label, project_id, last_sync_at, auto_sync_enabled, sync_frequency_hours
FROM ingestion_sources
WHERE name = $1
`, name)

	var source domain.IngestionSource
	err := row.Scan(
		&source.ID, &source.Name, &source.GmailLabel, &source.ProjectID,
		&source.LastSyncAt, &source.AutoSyncEnabled, &source.SyncFrequencyHours,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("source %s: %w", name, domain.ErrSourceNotFound)
		}
		return nil, fmt.Errorf("get source by name: %w", err)
	}
	return &source, nil
}

func (r *SourceRepository) TouchLastSync(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE ingestion_sources
SET last_sync_at = $2
WHERE id = $1
`, id, at)
	if err != nil {
		return fmt.Errorf("touch last sync: %w", err)
	}
	return requireRow(result, "source", id, domain.ErrSourceNotFound)
}
