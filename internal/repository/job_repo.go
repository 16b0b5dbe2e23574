package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inaiurai/settlement/internal/models"
)

const contractColumns = `id, job_id, proposal_id, customer_id, freelancer_id, amount, start_date, end_date,
	completed, completed_at, created_at`

// JobRepo persists jobs, proposals and contracts.
type JobRepo struct {
	pool *pgxpool.Pool
}

func NewJobRepo(pool *pgxpool.Pool) *JobRepo {
	return &JobRepo{pool: pool}
}

func (r *JobRepo) CreateJob(ctx context.Context, j *models.Job) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO jobs (id, customer_id, name, description, budget, project_stage)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`, j.ID, j.CustomerID, j.Name, j.Description, j.Budget, j.Stage).Scan(&j.CreatedAt, &j.UpdatedAt)
}

func (r *JobRepo) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	var j models.Job
	err := r.pool.QueryRow(ctx, `
		SELECT id, customer_id, name, description, budget, project_stage, created_at, updated_at
		FROM jobs WHERE id = $1
	`, id).Scan(&j.ID, &j.CustomerID, &j.Name, &j.Description, &j.Budget, &j.Stage, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, translate(err, "job")
	}
	return &j, nil
}

func (r *JobRepo) ListJobsByCustomer(ctx context.Context, customerID uuid.UUID) ([]*models.Job, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, customer_id, name, description, budget, project_stage, created_at, updated_at
		FROM jobs WHERE customer_id = $1 ORDER BY created_at DESC
	`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Job
	for rows.Next() {
		var j models.Job
		if err := rows.Scan(&j.ID, &j.CustomerID, &j.Name, &j.Description, &j.Budget, &j.Stage, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, &j)
	}
	return list, rows.Err()
}

// SetJobStage moves the job to stage `to` only from one of the `from` stages.
func (r *JobRepo) SetJobStage(ctx context.Context, tx pgx.Tx, id uuid.UUID, to models.JobStage, from ...models.JobStage) (bool, error) {
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}
	tag, err := tx.Exec(ctx, `
		UPDATE jobs SET project_stage = $2, updated_at = now()
		WHERE id = $1 AND project_stage = ANY($3)
	`, id, to, allowed)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *JobRepo) CreateProposal(ctx context.Context, p *models.Proposal) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO proposals (id, job_id, freelancer_id, proposal_stage, amount, content)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, p.ID, p.JobID, p.FreelancerID, p.Stage, p.Amount, p.Content).Scan(&p.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: freelancer already proposed on this job", models.ErrConflict)
	}
	return err
}

func (r *JobRepo) GetProposal(ctx context.Context, id uuid.UUID) (*models.Proposal, error) {
	var p models.Proposal
	err := r.pool.QueryRow(ctx, `
		SELECT id, job_id, freelancer_id, proposal_stage, amount, content, created_at
		FROM proposals WHERE id = $1
	`, id).Scan(&p.ID, &p.JobID, &p.FreelancerID, &p.Stage, &p.Amount, &p.Content, &p.CreatedAt)
	if err != nil {
		return nil, translate(err, "proposal")
	}
	return &p, nil
}

func (r *JobRepo) SetProposalStage(ctx context.Context, tx pgx.Tx, id uuid.UUID, stage models.ProposalStage) error {
	_, err := tx.Exec(ctx, `UPDATE proposals SET proposal_stage = $2 WHERE id = $1`, id, stage)
	return err
}

// SetProposalStageIfUncontracted changes the stage only while the job has no
// contract. The check and the write are one statement.
func (r *JobRepo) SetProposalStageIfUncontracted(ctx context.Context, id, jobID uuid.UUID, stage models.ProposalStage) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE proposals SET proposal_stage = $3
		WHERE id = $1 AND job_id = $2
		  AND NOT EXISTS (SELECT 1 FROM contracts WHERE job_id = $2)
	`, id, jobID, stage)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func scanContract(row pgx.Row) (*models.Contract, error) {
	var c models.Contract
	err := row.Scan(&c.ID, &c.JobID, &c.ProposalID, &c.CustomerID, &c.FreelancerID, &c.Amount, &c.StartDate, &c.EndDate,
		&c.Completed, &c.CompletedAt, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateContract inserts the contract. The unique job_id constraint backs the
// one-contract-per-job rule when two requests race past the pre-check.
func (r *JobRepo) CreateContract(ctx context.Context, tx pgx.Tx, c *models.Contract) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO contracts (id, job_id, proposal_id, customer_id, freelancer_id, amount, start_date, end_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, c.ID, c.JobID, c.ProposalID, c.CustomerID, c.FreelancerID, c.Amount, c.StartDate, c.EndDate).Scan(&c.CreatedAt)
	if isUniqueViolation(err) {
		return models.ErrContractExists
	}
	return err
}

func (r *JobRepo) GetContract(ctx context.Context, id uuid.UUID) (*models.Contract, error) {
	c, err := scanContract(r.pool.QueryRow(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id = $1`, id))
	if err != nil {
		return nil, translate(err, "contract")
	}
	return c, nil
}

func (r *JobRepo) GetContractForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Contract, error) {
	c, err := scanContract(tx.QueryRow(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, translate(err, "contract")
	}
	return c, nil
}

func (r *JobRepo) ContractExistsForJob(ctx context.Context, jobID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM contracts WHERE job_id = $1)`, jobID).Scan(&exists)
	return exists, err
}

// MarkContractCompleted flips completed false -> true. ok is false if it was already set.
func (r *JobRepo) MarkContractCompleted(ctx context.Context, tx pgx.Tx, id uuid.UUID) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE contracts SET completed = TRUE, completed_at = now()
		WHERE id = $1 AND completed = FALSE
	`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *JobRepo) ListContractsForUser(ctx context.Context, userID uuid.UUID) ([]*models.Contract, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+contractColumns+` FROM contracts
		WHERE customer_id = $1 OR freelancer_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	return list, nil
}
