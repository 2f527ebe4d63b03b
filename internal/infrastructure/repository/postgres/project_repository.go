package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/construmedicis/buildtracking/internal/core/domain"
)

type ProjectRepository struct {
	db *sql.DB
}

func NewProjectRepository(db *sql.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

func (r *ProjectRepository) GetByID(ctx context.Context, id string) (*domain.Project, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, name FROM projects WHERE id = $1`, id)

	var project domain.Project
	if err := row.Scan(&project.ID, &project.Name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("project %s: %w", id, domain.ErrProjectNotFound)
		}
		return nil, fmt.Errorf("get project by id: %w", err)
	}
	return &project, nil
}

func (r *ProjectRepository) Exists(ctx context.Context, id string) (bool, error) {
	row := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM projects WHERE id = $1)`, id)

	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, fmt.Errorf("check project exists: %w", err)
	}
	return exists, nil
}

type ParticipationRepository struct {
	db *sql.DB
}

func NewParticipationRepository(db *sql.DB) *ParticipationRepository {
	return &ParticipationRepository{db: db}
}

func (r *ParticipationRepository) CountByProject(ctx context.Context, projectID string) (int, error) {
	row := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM participations WHERE project_id = $1`, projectID)

	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count participations: %w", err)
	}
	return count, nil
}
