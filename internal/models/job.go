package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Stage enums are distinct types per entity so a job stage cannot be assigned
// to a proposal even where the literal values coincide.

type JobStage string

const (
	JobActive     JobStage = "ACTIVE"
	JobProcessing JobStage = "PROCESSING"
	JobCompleted  JobStage = "COMPLETED"
)

type ProposalStage string

const (
	ProposalProcessing   ProposalStage = "PROCESSING"
	ProposalInterviewing ProposalStage = "INTERVIEWING"
	ProposalAccepted     ProposalStage = "ACCEPTED"
)

func (s ProposalStage) Valid() bool {
	switch s {
	case ProposalProcessing, ProposalInterviewing, ProposalAccepted:
		return true
	}
	return false
}

type Job struct {
	ID          uuid.UUID       `json:"id"`
	CustomerID  uuid.UUID       `json:"customer_id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Budget      decimal.Decimal `json:"budget"`
	Stage       JobStage        `json:"project_stage"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type Proposal struct {
	ID           uuid.UUID       `json:"id"`
	JobID        uuid.UUID       `json:"job_id"`
	FreelancerID uuid.UUID       `json:"freelancer_id"`
	Stage        ProposalStage   `json:"proposal_stage"`
	Amount       decimal.Decimal `json:"amount"`
	Content      string          `json:"content"`
	CreatedAt    time.Time       `json:"created_at"`
}

type Contract struct {
	ID           uuid.UUID       `json:"id"`
	JobID        uuid.UUID       `json:"job_id"`
	ProposalID   uuid.UUID       `json:"proposal_id"`
	CustomerID   uuid.UUID       `json:"customer_id"`
	FreelancerID uuid.UUID       `json:"freelancer_id"`
	Amount       decimal.Decimal `json:"amount"`
	StartDate    time.Time       `json:"start_date"`
	EndDate      time.Time       `json:"end_date"`
	Completed    bool            `json:"completed"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}
