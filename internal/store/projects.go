package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Nijaek/analytics-dashboard/internal/models"
	"github.com/Nijaek/analytics-dashboard/pkg/apperr"
)

const projectColumns = `id, name, domain, key_hash, key_prefix, owner_id, created_at, updated_at`

func scanProject(row *sql.Row) (*models.Project, error) {
	var p models.Project
	err := row.Scan(&p.ID, &p.Name, &p.Domain, &p.KeyHash, &p.KeyPrefix, &p.OwnerID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) CreateProject(ctx context.Context, ownerID int64, name string, domain *string, keyHash, keyPrefix string) (*models.Project, error) {
	query := `
		INSERT INTO projects (name, domain, key_hash, key_prefix, owner_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + projectColumns + `
	`

	p, err := scanProject(s.db.QueryRowContext(ctx, query, name, domain, keyHash, keyPrefix, ownerID))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.Conflict("project key collision, retry")
		}
		return nil, fmt.Errorf("create project: %w", err)
	}
	return p, nil
}

// GetProjectForOwner loads a project scoped to its owner. A project
// owned by someone else is reported as not found, never as forbidden.
func (s *Store) GetProjectForOwner(ctx context.Context, id, ownerID int64) (*models.Project, error) {
	query := `
		SELECT ` + projectColumns + `
		FROM projects
		WHERE id = $1 AND owner_id = $2
	`

	p, err := scanProject(s.db.QueryRowContext(ctx, query, id, ownerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("project not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

// GetProjectByKeyHash resolves an ingest key digest to its project.
func (s *Store) GetProjectByKeyHash(ctx context.Context, keyHash string) (*models.Project, error) {
	query := `
		SELECT ` + projectColumns + `
		FROM projects
		WHERE key_hash = $1
	`

	p, err := scanProject(s.db.QueryRowContext(ctx, query, keyHash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("project not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get project by key: %w", err)
	}
	return p, nil
}

func (s *Store) ListProjectsByOwner(ctx context.Context, ownerID int64) ([]models.Project, error) {
	query := `
		SELECT ` + projectColumns + `
		FROM projects
		WHERE owner_id = $1
		ORDER BY created_at DESC, id DESC
	`

	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	projects := []models.Project{}
	for rows.Next() {
		var p models.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Domain, &p.KeyHash, &p.KeyPrefix, &p.OwnerID, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return projects, nil
}

// UpdateProject applies a partial update; nil fields keep their value.
func (s *Store) UpdateProject(ctx context.Context, id, ownerID int64, name, domain *string) (*models.Project, error) {
	query := `
		UPDATE projects
		SET name = COALESCE($3, name), domain = COALESCE($4, domain), updated_at = now()
		WHERE id = $1 AND owner_id = $2
		RETURNING ` + projectColumns + `
	`

	p, err := scanProject(s.db.QueryRowContext(ctx, query, id, ownerID, name, domain))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("project not found")
	}
	if err != nil {
		return nil, fmt.Errorf("update project: %w", err)
	}
	return p, nil
}

// RotateProjectKey swaps in a freshly generated key digest. The old
// key stops working as soon as the row is updated and its cache entry
// is invalidated by the caller.
func (s *Store) RotateProjectKey(ctx context.Context, id, ownerID int64, keyHash, keyPrefix string) (*models.Project, error) {
	query := `
		UPDATE projects
		SET key_hash = $3, key_prefix = $4, updated_at = now()
		WHERE id = $1 AND owner_id = $2
		RETURNING ` + projectColumns + `
	`

	p, err := scanProject(s.db.QueryRowContext(ctx, query, id, ownerID, keyHash, keyPrefix))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("project not found")
	}
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.Conflict("project key collision, retry")
		}
		return nil, fmt.Errorf("rotate project key: %w", err)
	}
	return p, nil
}

// DeleteProject removes a project and, through ON DELETE CASCADE, its
// events and rollups.
func (s *Store) DeleteProject(ctx context.Context, id, ownerID int64) error {
	query := `
		DELETE FROM projects
		WHERE id = $1 AND owner_id = $2
	`

	res, err := s.db.ExecContext(ctx, query, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("project not found")
	}
	return nil
}
