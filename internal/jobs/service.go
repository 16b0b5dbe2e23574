// Package jobs is the contract engine: jobs, proposals and the contracts that
// move money between a customer and a freelancer.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/inaiurai/settlement/internal/database"
	"github.com/inaiurai/settlement/internal/ledger"
	"github.com/inaiurai/settlement/internal/metrics"
	"github.com/inaiurai/settlement/internal/models"
	"github.com/inaiurai/settlement/internal/wallet"
)

// Store is implemented by repository.JobRepo.
type Store interface {
	CreateJob(ctx context.Context, j *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListJobsByCustomer(ctx context.Context, customerID uuid.UUID) ([]*models.Job, error)
	SetJobStage(ctx context.Context, tx pgx.Tx, id uuid.UUID, to models.JobStage, from ...models.JobStage) (bool, error)
	CreateProposal(ctx context.Context, p *models.Proposal) error
	GetProposal(ctx context.Context, id uuid.UUID) (*models.Proposal, error)
	SetProposalStage(ctx context.Context, tx pgx.Tx, id uuid.UUID, stage models.ProposalStage) error
	SetProposalStageIfUncontracted(ctx context.Context, id, jobID uuid.UUID, stage models.ProposalStage) (bool, error)
	CreateContract(ctx context.Context, tx pgx.Tx, c *models.Contract) error
	GetContract(ctx context.Context, id uuid.UUID) (*models.Contract, error)
	GetContractForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Contract, error)
	ContractExistsForJob(ctx context.Context, jobID uuid.UUID) (bool, error)
	MarkContractCompleted(ctx context.Context, tx pgx.Tx, id uuid.UUID) (bool, error)
	ListContractsForUser(ctx context.Context, userID uuid.UUID) ([]*models.Contract, error)
}

// UserLookup resolves the proposal author.
type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type CreateJobInput struct {
	Name        string
	Description string
	Budget      decimal.Decimal
}

type ProposalInput struct {
	Amount  decimal.Decimal
	Content string
}

type CreateContractInput struct {
	JobID      uuid.UUID
	ProposalID uuid.UUID
	Amount     decimal.Decimal
	StartDate  time.Time
	EndDate    time.Time
}

type Service interface {
	CreateJob(ctx context.Context, p models.Principal, in CreateJobInput) (*models.Job, error)
	ListJobs(ctx context.Context, p models.Principal) ([]*models.Job, error)
	SubmitProposal(ctx context.Context, p models.Principal, jobID uuid.UUID, in ProposalInput) (*models.Proposal, error)
	ModifyProposal(ctx context.Context, p models.Principal, jobID, proposalID uuid.UUID, stage models.ProposalStage) (*models.Proposal, error)
	CreateContract(ctx context.Context, p models.Principal, in CreateContractInput) (*models.Contract, *models.Transaction, error)
	CompleteContract(ctx context.Context, p models.Principal, contractID uuid.UUID) (*models.Contract, *models.Transaction, error)
	GetContract(ctx context.Context, p models.Principal, contractID uuid.UUID) (*models.Contract, error)
	ListContracts(ctx context.Context, p models.Principal) ([]*models.Contract, error)
}

type service struct {
	db     database.TxBeginner
	store  Store
	users  UserLookup
	wallet wallet.Service
	ledger ledger.Service
	now    func() time.Time
	log    *slog.Logger
}

// Option configures the service built by NewService.
type Option func(*service)

// WithClock replaces the clock used for contract date checks.
func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

func NewService(db database.TxBeginner, store Store, users UserLookup, w wallet.Service, l ledger.Service, log *slog.Logger, opts ...Option) Service {
	if log == nil {
		log = slog.Default()
	}
	s := &service{db: db, store: store, users: users, wallet: w, ledger: l, now: time.Now, log: log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Service = (*service)(nil)

func (s *service) CreateJob(ctx context.Context, p models.Principal, in CreateJobInput) (*models.Job, error) {
	if err := Authorize(p, IsUserType(models.UserTypeCustomer)); err != nil {
		return nil, fmt.Errorf("%w: only customers can post jobs", err)
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", models.ErrValidation)
	}
	if in.Budget.IsNegative() {
		return nil, fmt.Errorf("%w: budget must not be negative", models.ErrValidation)
	}
	job := &models.Job{
		CustomerID:  p.UserID,
		Name:        name,
		Description: in.Description,
		Budget:      in.Budget,
		Stage:       models.JobActive,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *service) ListJobs(ctx context.Context, p models.Principal) ([]*models.Job, error) {
	return s.store.ListJobsByCustomer(ctx, p.UserID)
}

func (s *service) SubmitProposal(ctx context.Context, p models.Principal, jobID uuid.UUID, in ProposalInput) (*models.Proposal, error) {
	if err := Authorize(p, IsUserType(models.UserTypeFreelancer)); err != nil {
		return nil, fmt.Errorf("%w: only freelancers can submit proposals", err)
	}
	if !in.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", models.ErrValidation)
	}
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.CustomerID == p.UserID {
		return nil, fmt.Errorf("%w: cannot propose on your own job", models.ErrForbidden)
	}
	if job.Stage != models.JobActive && job.Stage != models.JobProcessing {
		return nil, fmt.Errorf("%w: job is %s", models.ErrConflict, job.Stage)
	}
	prop := &models.Proposal{
		JobID:        job.ID,
		FreelancerID: p.UserID,
		Stage:        models.ProposalProcessing,
		Amount:       in.Amount,
		Content:      in.Content,
	}
	if err := s.store.CreateProposal(ctx, prop); err != nil {
		return nil, err
	}
	return prop, nil
}

// ownedJobAndProposal resolves the job under the caller and the proposal under
// that job. Anything else is NOT_FOUND so foreign ids are indistinguishable
// from missing ones.
func (s *service) ownedJobAndProposal(ctx context.Context, p models.Principal, jobID, proposalID uuid.UUID) (*models.Job, *models.Proposal, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	if Authorize(p, IsOwner(job.CustomerID)) != nil {
		return nil, nil, fmt.Errorf("job: %w", models.ErrNotFound)
	}
	prop, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, nil, err
	}
	if prop.JobID != job.ID {
		return nil, nil, fmt.Errorf("proposal: %w", models.ErrNotFound)
	}
	return job, prop, nil
}

// ModifyProposal changes a proposal's stage while its job has no contract.
// ACCEPTED is reserved for contract creation.
func (s *service) ModifyProposal(ctx context.Context, p models.Principal, jobID, proposalID uuid.UUID, stage models.ProposalStage) (*models.Proposal, error) {
	if !stage.Valid() {
		return nil, fmt.Errorf("%w: unknown proposal stage %q", models.ErrValidation, stage)
	}
	if stage == models.ProposalAccepted {
		return nil, fmt.Errorf("%w: proposals are accepted by creating a contract", models.ErrValidation)
	}
	_, prop, err := s.ownedJobAndProposal(ctx, p, jobID, proposalID)
	if err != nil {
		return nil, err
	}
	ok, err := s.store.SetProposalStageIfUncontracted(ctx, prop.ID, prop.JobID, stage)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, models.ErrProposalLocked
	}
	prop.Stage = stage
	return prop, nil
}

// dateOnly reduces t to its UTC calendar day.
func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// CreateContract funds a contract from the customer's wallet. The debit, the
// contract row, both stage flips and the ledger entry commit together.
func (s *service) CreateContract(ctx context.Context, p models.Principal, in CreateContractInput) (c *models.Contract, txn *models.Transaction, err error) {
	defer func() { metrics.ContractsTotal.WithLabelValues("create", resultCode(err)).Inc() }()

	if !in.Amount.IsPositive() {
		return nil, nil, fmt.Errorf("%w: amount must be positive", models.ErrValidation)
	}
	start, end := dateOnly(in.StartDate), dateOnly(in.EndDate)
	today := dateOnly(s.now())
	if start.Before(today) || end.Before(today) {
		return nil, nil, fmt.Errorf("%w: dates must not be in the past", models.ErrInvalidDateRange)
	}
	if end.Before(start) {
		return nil, nil, fmt.Errorf("%w: end_date is before start_date", models.ErrInvalidDateRange)
	}

	job, prop, err := s.ownedJobAndProposal(ctx, p, in.JobID, in.ProposalID)
	if err != nil {
		return nil, nil, err
	}
	exists, err := s.store.ContractExistsForJob(ctx, job.ID)
	if err != nil {
		return nil, nil, err
	}
	if exists {
		return nil, nil, models.ErrContractExists
	}
	freelancer, err := s.users.GetByID(ctx, prop.FreelancerID)
	if errors.Is(err, models.ErrNotFound) || (err == nil && freelancer.UserType != models.UserTypeFreelancer) {
		return nil, nil, fmt.Errorf("%w: proposal author is not a freelancer", models.ErrValidation)
	}
	if err != nil {
		return nil, nil, err
	}
	ok, err := s.wallet.CanWithdraw(ctx, p.UserID, in.Amount)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, fmt.Errorf("%w: wallet balance must exceed %s", models.ErrInsufficientFunds, in.Amount.StringFixed(2))
	}

	err = database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		mv, ok, err := s.wallet.WithdrawBalance(ctx, tx, p.UserID, in.Amount)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: wallet balance must exceed %s", models.ErrInsufficientFunds, in.Amount.StringFixed(2))
		}
		c = &models.Contract{
			JobID:        job.ID,
			ProposalID:   prop.ID,
			CustomerID:   p.UserID,
			FreelancerID: prop.FreelancerID,
			Amount:       in.Amount,
			StartDate:    start,
			EndDate:      end,
		}
		if err := s.store.CreateContract(ctx, tx, c); err != nil {
			return err
		}
		if err := s.store.SetProposalStage(ctx, tx, prop.ID, models.ProposalAccepted); err != nil {
			return err
		}
		moved, err := s.store.SetJobStage(ctx, tx, job.ID, models.JobProcessing, models.JobActive, models.JobProcessing)
		if err != nil {
			return err
		}
		if !moved {
			return fmt.Errorf("%w: job is no longer open", models.ErrConflict)
		}
		txn, err = s.ledger.Record(ctx, tx, ledger.Entry{
			UserID:     p.UserID,
			ExternalID: localReference(),
			Type:       models.TransactionDebit,
			Category:   models.CategoryContract,
			Stage:      models.StageSuccessful,
			Amount:     in.Amount,
			Previous:   mv.Previous,
			Current:    mv.Current,
			ContractID: &c.ID,
		})
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	s.log.Info("contract created", "contract", c.ID, "job", job.ID, "amount", in.Amount.String())
	return c, txn, nil
}

// errCredit marks a failure of the freelancer credit inside CompleteContract.
type errCredit struct{ err error }

func (e *errCredit) Error() string { return "credit freelancer: " + e.err.Error() }
func (e *errCredit) Unwrap() error { return e.err }

// CompleteContract pays the freelancer. If the credit fails the whole step
// rolls back, a FAILED credit is left on the ledger for follow-up, and the
// contract stays open so the call can be retried.
func (s *service) CompleteContract(ctx context.Context, p models.Principal, contractID uuid.UUID) (c *models.Contract, txn *models.Transaction, err error) {
	defer func() { metrics.ContractsTotal.WithLabelValues("complete", resultCode(err)).Inc() }()

	c, err = s.store.GetContract(ctx, contractID)
	if err != nil {
		return nil, nil, err
	}
	if err := Authorize(p, AnyOf(IsOwner(c.CustomerID), IsStaff())); err != nil {
		return nil, nil, err
	}
	if c.Completed {
		return nil, nil, models.ErrContractCompleted
	}

	err = database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		locked, err := s.store.GetContractForUpdate(ctx, tx, contractID)
		if err != nil {
			return err
		}
		if locked.Completed {
			return models.ErrContractCompleted
		}
		mv, err := s.wallet.FundBalance(ctx, tx, locked.FreelancerID, locked.Amount)
		if err != nil {
			return &errCredit{err}
		}
		done, err := s.store.MarkContractCompleted(ctx, tx, locked.ID)
		if err != nil {
			return err
		}
		if !done {
			return models.ErrContractCompleted
		}
		moved, err := s.store.SetJobStage(ctx, tx, locked.JobID, models.JobCompleted, models.JobProcessing)
		if err != nil {
			return err
		}
		if !moved {
			return fmt.Errorf("%w: job is not in progress", models.ErrConflict)
		}
		txn, err = s.ledger.Record(ctx, tx, ledger.Entry{
			UserID:     locked.FreelancerID,
			ExternalID: localReference(),
			Type:       models.TransactionCredit,
			Category:   models.CategoryContract,
			Stage:      models.StageSuccessful,
			Amount:     locked.Amount,
			Previous:   mv.Previous,
			Current:    mv.Current,
			ContractID: &locked.ID,
		})
		return err
	})

	var ce *errCredit
	if errors.As(err, &ce) {
		s.recordFailedCredit(ctx, c)
		return nil, nil, fmt.Errorf("%w: %v", models.ErrExternalUnavailable, ce)
	}
	if err != nil {
		return nil, nil, err
	}
	c, err = s.store.GetContract(ctx, contractID)
	if err != nil {
		return nil, nil, err
	}
	s.log.Info("contract completed", "contract", c.ID, "freelancer", c.FreelancerID, "amount", c.Amount.String())
	return c, txn, nil
}

func (s *service) recordFailedCredit(ctx context.Context, c *models.Contract) {
	balance := decimal.Zero
	if w, found, err := s.wallet.GetWallet(ctx, c.FreelancerID); err == nil && found {
		balance = w.Balance
	}
	err := database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		_, err := s.ledger.Record(ctx, tx, ledger.Entry{
			UserID:     c.FreelancerID,
			ExternalID: localReference(),
			Type:       models.TransactionCredit,
			Category:   models.CategoryContract,
			Stage:      models.StageFailed,
			Amount:     c.Amount,
			Previous:   balance,
			Current:    balance,
			ContractID: &c.ID,
		})
		return err
	})
	if err != nil {
		s.log.Error("record failed contract credit", "contract", c.ID, "error", err)
		return
	}
	s.log.Warn("contract credit failed; contract left open", "contract", c.ID)
}

func (s *service) GetContract(ctx context.Context, p models.Principal, contractID uuid.UUID) (*models.Contract, error) {
	c, err := s.store.GetContract(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if err := Authorize(p, AnyOf(IsCounterparty(c), IsStaff())); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *service) ListContracts(ctx context.Context, p models.Principal) ([]*models.Contract, error) {
	return s.store.ListContractsForUser(ctx, p.UserID)
}

// localReference is the transaction_id for moves that never reach the provider.
func localReference() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func resultCode(err error) string {
	if err == nil {
		return "OK"
	}
	return models.Code(err)
}
