// Package postgres provides PostgreSQL implementations of the domain
// repositories. It handles all database operations while maintaining
// transaction safety and proper error handling for the escrow ledger.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/aidchain-escrow-ledger/internal/domain/project"
	"github.com/aidchain-escrow-ledger/internal/platform/persistence"
)

// ProjectRepository implements the project.Repository interface for
// PostgreSQL. A project snapshot spans two tables: the projects row and its
// ordered milestones.
type ProjectRepository struct {
	querier persistence.Querier // Can be *pgxpool.Pool or pgx.Tx
	logger  *slog.Logger
}

// NewProjectRepository creates a new PostgreSQL project repository.
// It expects db.Pool() to satisfy persistence.Querier.
func NewProjectRepository(logger *slog.Logger, db *persistence.PostgresDB) project.Repository {
	return &ProjectRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx wraps the repository with a transaction, allowing for atomic
// operations across multiple repository calls.
func (r *ProjectRepository) WithTx(tx pgx.Tx) project.Repository {
	return &ProjectRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// Create stores a new project snapshot together with its milestone schedule
func (r *ProjectRepository) Create(ctx context.Context, p *project.Project) error {
	query := `
		INSERT INTO projects (id, name, description, location, category, ngo_account, target_amount, raised_amount, released_amount, status, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := r.querier.Exec(ctx, query,
		p.ID,
		p.Name,
		p.Description,
		p.Location,
		p.Category,
		p.NGOAccount,
		p.TargetAmount,
		p.RaisedAmount,
		p.ReleasedAmount,
		p.Status,
		p.Version,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create project", "error", err)
		return fmt.Errorf("failed to create project: %w", err)
	}

	milestoneQuery := `
		INSERT INTO milestones (id, project_id, position, title, description, target_amount, status, proof_hash, completed_at, verified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	for i, m := range p.Milestones {
		_, err := r.querier.Exec(ctx, milestoneQuery,
			m.ID,
			p.ID,
			i,
			m.Title,
			m.Description,
			m.TargetAmount,
			m.Status,
			m.ProofHash,
			m.CompletedAt,
			m.VerifiedAt,
		)
		if err != nil {
			r.logger.Error("Failed to create milestone", "project_id", p.ID.String(), "milestone_id", m.ID.String(), "error", err)
			return fmt.Errorf("failed to create milestone: %w", err)
		}
	}

	return nil
}

// GetByID retrieves a project snapshot with its milestones
func (r *ProjectRepository) GetByID(ctx context.Context, id uuid.UUID) (*project.Project, error) {
	query := `
		SELECT id, name, description, location, category, ngo_account, target_amount, raised_amount, released_amount, status, version, created_at, updated_at
		FROM projects
		WHERE id = $1
	`

	p, err := r.scanProject(ctx, r.querier.QueryRow(ctx, query, id), id)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// LockForUpdate obtains a pessimistic lock on the project row and returns
// its current state, milestones included. Use within a transaction when the
// escrow engine mutates the snapshot.
func (r *ProjectRepository) LockForUpdate(ctx context.Context, id uuid.UUID) (*project.Project, error) {
	query := `
		SELECT id, name, description, location, category, ngo_account, target_amount, raised_amount, released_amount, status, version, created_at, updated_at
		FROM projects
		WHERE id = $1
		FOR UPDATE
	`

	p, err := r.scanProject(ctx, r.querier.QueryRow(ctx, query, id), id)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *ProjectRepository) scanProject(ctx context.Context, row pgx.Row, id uuid.UUID) (*project.Project, error) {
	var p project.Project
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Description,
		&p.Location,
		&p.Category,
		&p.NGOAccount,
		&p.TargetAmount,
		&p.RaisedAmount,
		&p.ReleasedAmount,
		&p.Status,
		&p.Version,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, project.ErrProjectNotFound{ProjectID: id}
		}
		r.logger.Error("Failed to get project", "id", id.String(), "error", err)
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	milestones, err := r.loadMilestones(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	p.Milestones = milestones

	return &p, nil
}

func (r *ProjectRepository) loadMilestones(ctx context.Context, projectID uuid.UUID) ([]project.Milestone, error) {
	query := `
		SELECT id, title, description, target_amount, status, proof_hash, completed_at, verified_at
		FROM milestones
		WHERE project_id = $1
		ORDER BY position ASC
	`

	rows, err := r.querier.Query(ctx, query, projectID)
	if err != nil {
		r.logger.Error("Failed to get milestones", "project_id", projectID.String(), "error", err)
		return nil, fmt.Errorf("failed to get milestones: %w", err)
	}
	defer rows.Close()

	var milestones []project.Milestone
	for rows.Next() {
		var m project.Milestone
		var proofHash *string
		err := rows.Scan(
			&m.ID,
			&m.Title,
			&m.Description,
			&m.TargetAmount,
			&m.Status,
			&proofHash,
			&m.CompletedAt,
			&m.VerifiedAt,
		)
		if err != nil {
			r.logger.Error("Failed to scan milestone", "project_id", projectID.String(), "error", err)
			return nil, fmt.Errorf("failed to scan milestone: %w", err)
		}
		if proofHash != nil {
			m.ProofHash = *proofHash
		}
		milestones = append(milestones, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over milestones: %w", err)
	}

	return milestones, nil
}

// Update persists a mutated project snapshot using optimistic locking.
// Milestone rows are rewritten with the aggregate's current state; the
// schedule itself is immutable after activation so only status fields move.
func (r *ProjectRepository) Update(ctx context.Context, p *project.Project) error {
	query := `
		UPDATE projects
		SET raised_amount = $1, released_amount = $2, status = $3, version = $4, updated_at = $5
		WHERE id = $6 AND version = $7
	`

	result, err := r.querier.Exec(ctx, query,
		p.RaisedAmount,
		p.ReleasedAmount,
		p.Status,
		p.Version,
		p.UpdatedAt,
		p.ID,
		p.Version-1, // Check previous version for optimistic locking
	)
	if err != nil {
		r.logger.Error("Failed to update project", "id", p.ID.String(), "error", err)
		return fmt.Errorf("failed to update project: %w", err)
	}

	if result.RowsAffected() == 0 {
		return project.ErrConcurrentModification{ProjectID: p.ID}
	}

	milestoneQuery := `
		UPDATE milestones
		SET status = $1, proof_hash = $2, completed_at = $3, verified_at = $4
		WHERE id = $5 AND project_id = $6
	`
	for _, m := range p.Milestones {
		_, err := r.querier.Exec(ctx, milestoneQuery,
			m.Status,
			m.ProofHash,
			m.CompletedAt,
			m.VerifiedAt,
			m.ID,
			p.ID,
		)
		if err != nil {
			r.logger.Error("Failed to update milestone", "project_id", p.ID.String(), "milestone_id", m.ID.String(), "error", err)
			return fmt.Errorf("failed to update milestone: %w", err)
		}
	}

	return nil
}

// List retrieves paginated project snapshots ordered by creation time,
// newest first.
func (r *ProjectRepository) List(ctx context.Context, limit, offset int) ([]*project.Project, error) {
	query := `
		SELECT id, name, description, location, category, ngo_account, target_amount, raised_amount, released_amount, status, version, created_at, updated_at
		FROM projects
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.querier.Query(ctx, query, limit, offset)
	if err != nil {
		r.logger.Error("Failed to list projects", "error", err)
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []*project.Project
	for rows.Next() {
		var p project.Project
		err := rows.Scan(
			&p.ID,
			&p.Name,
			&p.Description,
			&p.Location,
			&p.Category,
			&p.NGOAccount,
			&p.TargetAmount,
			&p.RaisedAmount,
			&p.ReleasedAmount,
			&p.Status,
			&p.Version,
			&p.CreatedAt,
			&p.UpdatedAt,
		)
		if err != nil {
			r.logger.Error("Failed to scan project", "error", err)
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over projects: %w", err)
	}

	for _, p := range projects {
		milestones, err := r.loadMilestones(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		p.Milestones = milestones
	}

	return projects, nil
}

// Count returns the total number of projects
func (r *ProjectRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.querier.QueryRow(ctx, `SELECT COUNT(*) FROM projects`).Scan(&count)
	if err != nil {
		r.logger.Error("Failed to count projects", "error", err)
		return 0, fmt.Errorf("failed to count projects: %w", err)
	}
	return count, nil
}
