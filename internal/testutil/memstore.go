// Package testutil holds an in-memory stand-in for the Postgres repositories.
// Store.Begin hands out a fake pgx.Tx: transactions are serialized and
// Rollback restores the state captured at Begin, so tests can assert that a
// failed multi-step operation leaves nothing behind.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/inaiurai/settlement/internal/models"
)

type state struct {
	users     map[uuid.UUID]models.User
	wallets   map[uuid.UUID]models.Wallet
	txns      map[uuid.UUID]models.Transaction
	jobs      map[uuid.UUID]models.Job
	proposals map[uuid.UUID]models.Proposal
	contracts map[uuid.UUID]models.Contract
	events    map[string]models.WebhookEvent
	regs      map[string]models.WebhookRegistration
}

func newState() state {
	return state{
		users:     map[uuid.UUID]models.User{},
		wallets:   map[uuid.UUID]models.Wallet{},
		txns:      map[uuid.UUID]models.Transaction{},
		jobs:      map[uuid.UUID]models.Job{},
		proposals: map[uuid.UUID]models.Proposal{},
		contracts: map[uuid.UUID]models.Contract{},
		events:    map[string]models.WebhookEvent{},
		regs:      map[string]models.WebhookRegistration{},
	}
}

func (s state) clone() state {
	return state{
		users:     maps.Clone(s.users),
		wallets:   maps.Clone(s.wallets),
		txns:      maps.Clone(s.txns),
		jobs:      maps.Clone(s.jobs),
		proposals: maps.Clone(s.proposals),
		contracts: maps.Clone(s.contracts),
		events:    maps.Clone(s.events),
		regs:      maps.Clone(s.regs),
	}
}

// Store is safe for concurrent use. txMu serializes transactions the way row
// locks would; mu guards the maps for the duration of a single call.
type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex
	st   state
	seq  int64
	base time.Time

	faults map[string]error
}

func NewStore() *Store {
	return &Store{
		st:     newState(),
		base:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		faults: map[string]error{},
	}
}

// FailNext makes the next call to the named method return err.
// Method names are the repository method names, e.g. "Credit" or "CreateContract".
func (s *Store) FailNext(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[method] = err
}

// fault must be called with mu held.
func (s *Store) fault(method string) error {
	if err, ok := s.faults[method]; ok {
		delete(s.faults, method)
		return err
	}
	return nil
}

// now returns a strictly increasing timestamp so ordering is deterministic.
func (s *Store) now() time.Time {
	s.seq++
	return s.base.Add(time.Duration(s.seq) * time.Millisecond)
}

type memTx struct {
	pgx.Tx
	s    *Store
	snap state
	done bool
}

// Begin starts a fake transaction. It blocks while another one is open.
func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	s.txMu.Lock()
	s.mu.Lock()
	snap := s.st.clone()
	s.mu.Unlock()
	return &memTx{s: s, snap: snap}, nil
}

func (t *memTx) Commit(ctx context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.s.txMu.Unlock()
	return nil
}

func (t *memTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.s.mu.Lock()
	t.s.st = t.snap
	t.s.mu.Unlock()
	t.s.txMu.Unlock()
	return nil
}

// ---------------------------------------------------------------------------
// Seeding and inspection helpers
// ---------------------------------------------------------------------------

// AddUser stores u with a wallet holding balance.
func (s *Store) AddUser(u models.User, balance string) models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	u.CreatedAt = s.now()
	s.st.users[u.ID] = u
	s.st.wallets[u.ID] = models.Wallet{UserID: u.ID, Balance: decimal.RequireFromString(balance), CreatedAt: u.CreatedAt, UpdatedAt: u.CreatedAt}
	return u
}

func (s *Store) AddJob(j models.Job) models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	if j.Stage == "" {
		j.Stage = models.JobActive
	}
	j.CreatedAt = s.now()
	j.UpdatedAt = j.CreatedAt
	s.st.jobs[j.ID] = j
	return j
}

func (s *Store) AddProposal(p models.Proposal) models.Proposal {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Stage == "" {
		p.Stage = models.ProposalProcessing
	}
	p.CreatedAt = s.now()
	s.st.proposals[p.ID] = p
	return p
}

func (s *Store) AddTransaction(t models.Transaction) models.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.CreatedAt = s.now()
	t.UpdatedAt = t.CreatedAt
	s.st.txns[t.ID] = t
	return t
}

func (s *Store) Balance(userID uuid.UUID) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.wallets[userID].Balance
}

func (s *Store) Transaction(id uuid.UUID) (models.Transaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.st.txns[id]
	return t, ok
}

// TransactionsFor returns the user's rows oldest first.
func (s *Store) TransactionsFor(userID uuid.UUID) []models.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Transaction
	for _, t := range s.st.txns {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Store) Job(id uuid.UUID) models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.jobs[id]
}

func (s *Store) ProposalByID(id uuid.UUID) models.Proposal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.proposals[id]
}

func (s *Store) ContractCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.contracts)
}

func (s *Store) Event(eventID string) (models.WebhookEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.st.events[eventID]
	return e, ok
}

func (s *Store) EventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.events)
}

// Views satisfying each repository interface. They share one Store so a
// single fake transaction covers all of them.

func (s *Store) Users() *Users               { return &Users{s} }
func (s *Store) Wallets() *Wallets           { return &Wallets{s} }
func (s *Store) Transactions() *Transactions { return &Transactions{s} }
func (s *Store) Jobs() *Jobs                 { return &Jobs{s} }
func (s *Store) Webhooks() *Webhooks         { return &Webhooks{s} }

func notFound(what string) error { return fmt.Errorf("%s: %w", what, models.ErrNotFound) }

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

type Users struct{ s *Store }

func (r *Users) Create(ctx context.Context, tx pgx.Tx, u *models.User) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("CreateUser"); err != nil {
		return err
	}
	for _, existing := range s.st.users {
		if existing.Email == u.Email {
			return fmt.Errorf("%w: email already registered", models.ErrConflict)
		}
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	u.CreatedAt = s.now()
	s.st.users[u.ID] = *u
	return nil
}

func (r *Users) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.st.users[id]
	if !ok {
		return nil, notFound("user")
	}
	return &u, nil
}

func (r *Users) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.st.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, notFound("user")
}

// ---------------------------------------------------------------------------
// Wallets
// ---------------------------------------------------------------------------

type Wallets struct{ s *Store }

func (r *Wallets) Ensure(ctx context.Context, tx pgx.Tx, userID uuid.UUID) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("Ensure"); err != nil {
		return err
	}
	if _, ok := s.st.wallets[userID]; !ok {
		now := s.now()
		s.st.wallets[userID] = models.Wallet{UserID: userID, Balance: decimal.Zero, CreatedAt: now, UpdatedAt: now}
	}
	return nil
}

func (r *Wallets) Get(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w, ok := r.s.st.wallets[userID]
	if !ok {
		return nil, notFound("wallet")
	}
	return &w, nil
}

func (r *Wallets) Debit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("Debit"); err != nil {
		return decimal.Zero, false, err
	}
	w, ok := s.st.wallets[userID]
	if !ok || !w.Balance.GreaterThan(amount) {
		return decimal.Zero, false, nil
	}
	w.Balance = w.Balance.Sub(amount)
	w.UpdatedAt = s.now()
	s.st.wallets[userID] = w
	return w.Balance, true, nil
}

func (r *Wallets) Credit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("Credit"); err != nil {
		return decimal.Zero, err
	}
	w, ok := s.st.wallets[userID]
	if !ok {
		return decimal.Zero, notFound("wallet")
	}
	w.Balance = w.Balance.Add(amount)
	w.UpdatedAt = s.now()
	s.st.wallets[userID] = w
	return w.Balance, nil
}

// ---------------------------------------------------------------------------
// Transactions
// ---------------------------------------------------------------------------

type Transactions struct{ s *Store }

func (r *Transactions) Create(ctx context.Context, tx pgx.Tx, t *models.Transaction) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("CreateTransaction"); err != nil {
		return err
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.CreatedAt = s.now()
	t.UpdatedAt = t.CreatedAt
	s.st.txns[t.ID] = *t
	return nil
}

func (r *Transactions) Transition(ctx context.Context, tx pgx.Tx, id uuid.UUID, from, to models.TransactionStage) (*models.Transaction, bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("Transition"); err != nil {
		return nil, false, err
	}
	t, ok := s.st.txns[id]
	if !ok || t.Stage != from {
		return nil, false, nil
	}
	t.Stage = to
	t.UpdatedAt = s.now()
	s.st.txns[id] = t
	return &t, true, nil
}

func (r *Transactions) SetBalances(ctx context.Context, tx pgx.Tx, id uuid.UUID, previous, current decimal.Decimal) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.st.txns[id]
	if !ok {
		return notFound("transaction")
	}
	t.PreviousBalance, t.CurrentBalance = previous, current
	s.st.txns[id] = t
	return nil
}

func (r *Transactions) SetProviderReference(ctx context.Context, id uuid.UUID, ref string) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.st.txns[id]
	if !ok {
		return notFound("transaction")
	}
	t.ProviderReference = &ref
	s.st.txns[id] = t
	return nil
}

func (r *Transactions) GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.st.txns[id]
	if !ok {
		return nil, notFound("transaction")
	}
	return &t, nil
}

func (r *Transactions) FindByExternalID(ctx context.Context, externalID string, stage models.TransactionStage) (*models.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var found *models.Transaction
	for _, t := range r.s.st.txns {
		if t.ExternalID != externalID || t.Stage != stage {
			continue
		}
		if found == nil || t.CreatedAt.Before(found.CreatedAt) {
			cp := t
			found = &cp
		}
	}
	if found == nil {
		return nil, notFound("transaction")
	}
	return found, nil
}

func (r *Transactions) sorted(keep func(models.Transaction) bool) []*models.Transaction {
	var out []*models.Transaction
	for _, t := range r.s.st.txns {
		if keep(t) {
			cp := t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (r *Transactions) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := r.sorted(func(t models.Transaction) bool { return t.UserID == userID })
	return page(out, limit, 0), nil
}

func (r *Transactions) List(ctx context.Context, limit, offset int) ([]*models.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := r.sorted(func(models.Transaction) bool { return true })
	return page(out, limit, offset), nil
}

func (r *Transactions) PendingDebits(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	total := decimal.Zero
	for _, t := range r.s.st.txns {
		if t.UserID == userID && t.Type == models.TransactionDebit && t.Stage == models.StageProcessing {
			total = total.Add(t.Amount)
		}
	}
	return total, nil
}

func (r *Transactions) WithdrawnSince(ctx context.Context, userID uuid.UUID, since time.Time) (decimal.Decimal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	total := decimal.Zero
	for _, t := range r.s.st.txns {
		if t.UserID == userID && t.Category == models.CategoryWithdrawal && t.Stage != models.StageFailed && !t.CreatedAt.Before(since) {
			total = total.Add(t.Amount)
		}
	}
	return total, nil
}

func page[T any](list []T, limit, offset int) []T {
	if offset >= len(list) {
		return nil
	}
	list = list[offset:]
	if limit > 0 && limit < len(list) {
		list = list[:limit]
	}
	return list
}

// ---------------------------------------------------------------------------
// Jobs, proposals, contracts
// ---------------------------------------------------------------------------

type Jobs struct{ s *Store }

func (r *Jobs) CreateJob(ctx context.Context, j *models.Job) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	j.CreatedAt = s.now()
	j.UpdatedAt = j.CreatedAt
	s.st.jobs[j.ID] = *j
	return nil
}

func (r *Jobs) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	j, ok := r.s.st.jobs[id]
	if !ok {
		return nil, notFound("job")
	}
	return &j, nil
}

func (r *Jobs) ListJobsByCustomer(ctx context.Context, customerID uuid.UUID) ([]*models.Job, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Job
	for _, j := range r.s.st.jobs {
		if j.CustomerID == customerID {
			cp := j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return out, nil
}

func (r *Jobs) SetJobStage(ctx context.Context, tx pgx.Tx, id uuid.UUID, to models.JobStage, from ...models.JobStage) (bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("SetJobStage"); err != nil {
		return false, err
	}
	j, ok := s.st.jobs[id]
	if !ok || !slices.Contains(from, j.Stage) {
		return false, nil
	}
	j.Stage = to
	j.UpdatedAt = s.now()
	s.st.jobs[id] = j
	return true, nil
}

func (r *Jobs) CreateProposal(ctx context.Context, p *models.Proposal) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.st.proposals {
		if existing.JobID == p.JobID && existing.FreelancerID == p.FreelancerID {
			return fmt.Errorf("%w: freelancer already proposed on this job", models.ErrConflict)
		}
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = s.now()
	s.st.proposals[p.ID] = *p
	return nil
}

func (r *Jobs) GetProposal(ctx context.Context, id uuid.UUID) (*models.Proposal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.st.proposals[id]
	if !ok {
		return nil, notFound("proposal")
	}
	return &p, nil
}

func (r *Jobs) SetProposalStage(ctx context.Context, tx pgx.Tx, id uuid.UUID, stage models.ProposalStage) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("SetProposalStage"); err != nil {
		return err
	}
	p, ok := s.st.proposals[id]
	if !ok {
		return notFound("proposal")
	}
	p.Stage = stage
	s.st.proposals[id] = p
	return nil
}

func (r *Jobs) SetProposalStageIfUncontracted(ctx context.Context, id, jobID uuid.UUID, stage models.ProposalStage) (bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.st.proposals[id]
	if !ok || p.JobID != jobID {
		return false, nil
	}
	for _, c := range s.st.contracts {
		if c.JobID == jobID {
			return false, nil
		}
	}
	p.Stage = stage
	s.st.proposals[id] = p
	return true, nil
}

func (r *Jobs) CreateContract(ctx context.Context, tx pgx.Tx, c *models.Contract) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("CreateContract"); err != nil {
		return err
	}
	for _, existing := range s.st.contracts {
		if existing.JobID == c.JobID {
			return models.ErrContractExists
		}
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.CreatedAt = s.now()
	s.st.contracts[c.ID] = *c
	return nil
}

func (r *Jobs) GetContract(ctx context.Context, id uuid.UUID) (*models.Contract, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.st.contracts[id]
	if !ok {
		return nil, notFound("contract")
	}
	return &c, nil
}

func (r *Jobs) GetContractForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Contract, error) {
	return r.GetContract(ctx, id)
}

func (r *Jobs) ContractExistsForJob(ctx context.Context, jobID uuid.UUID) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.st.contracts {
		if c.JobID == jobID {
			return true, nil
		}
	}
	return false, nil
}

func (r *Jobs) MarkContractCompleted(ctx context.Context, tx pgx.Tx, id uuid.UUID) (bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.st.contracts[id]
	if !ok || c.Completed {
		return false, nil
	}
	now := s.now()
	c.Completed = true
	c.CompletedAt = &now
	s.st.contracts[id] = c
	return true, nil
}

func (r *Jobs) ListContractsForUser(ctx context.Context, userID uuid.UUID) ([]*models.Contract, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Contract
	for _, c := range r.s.st.contracts {
		if c.CustomerID == userID || c.FreelancerID == userID {
			cp := c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return out, nil
}

// ---------------------------------------------------------------------------
// Webhook events and registrations
// ---------------------------------------------------------------------------

type Webhooks struct{ s *Store }

func (r *Webhooks) InsertEvent(ctx context.Context, e *models.WebhookEvent) (bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("InsertEvent"); err != nil {
		return false, err
	}
	if _, ok := s.st.events[e.EventID]; ok {
		return false, nil
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.ReceivedAt = s.now()
	s.st.events[e.EventID] = *e
	return true, nil
}

func (r *Webhooks) GetEventByEventID(ctx context.Context, eventID string) (*models.WebhookEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.st.events[eventID]
	if !ok {
		return nil, notFound("webhook event")
	}
	return &e, nil
}

func (r *Webhooks) GetEvent(ctx context.Context, id uuid.UUID) (*models.WebhookEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.st.events {
		if e.ID == id {
			return &e, nil
		}
	}
	return nil, notFound("webhook event")
}

func (r *Webhooks) MarkEventProcessed(ctx context.Context, eventID, outcome string) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.st.events[eventID]
	if !ok {
		return notFound("webhook event")
	}
	now := s.now()
	e.ProcessedAt = &now
	e.Outcome = outcome
	e.Attempts++
	e.LastError = ""
	s.st.events[eventID] = e
	return nil
}

func (r *Webhooks) RecordEventFailure(ctx context.Context, eventID, message string) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.st.events[eventID]
	if !ok {
		return notFound("webhook event")
	}
	e.Attempts++
	e.LastError = message
	s.st.events[eventID] = e
	return nil
}

func (r *Webhooks) events(keep func(models.WebhookEvent) bool, oldestFirst bool) []*models.WebhookEvent {
	var out []*models.WebhookEvent
	for _, e := range r.s.st.events {
		if keep(e) {
			cp := e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if oldestFirst {
			return out[i].ReceivedAt.Before(out[j].ReceivedAt)
		}
		return out[i].ReceivedAt.After(out[j].ReceivedAt)
	})
	return out
}

func (r *Webhooks) ListEvents(ctx context.Context, limit, offset int) ([]*models.WebhookEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return page(r.events(func(models.WebhookEvent) bool { return true }, false), limit, offset), nil
}

func (r *Webhooks) ListUnprocessed(ctx context.Context, before time.Time, limit int) ([]*models.WebhookEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := r.events(func(e models.WebhookEvent) bool {
		return e.ProcessedAt == nil && e.ReceivedAt.Before(before)
	}, true)
	return page(out, limit, 0), nil
}

func (r *Webhooks) CreateRegistration(ctx context.Context, reg *models.WebhookRegistration) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if reg.ID == uuid.Nil {
		reg.ID = uuid.New()
	}
	reg.CreatedAt = s.now()
	s.st.regs[reg.ProviderWebhookID] = *reg
	return nil
}

func (r *Webhooks) DeleteRegistration(ctx context.Context, providerWebhookID string) (bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.regs[providerWebhookID]; !ok {
		return false, nil
	}
	delete(s.st.regs, providerWebhookID)
	return true, nil
}

func (r *Webhooks) ListRegistrations(ctx context.Context) ([]*models.WebhookRegistration, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.WebhookRegistration
	for _, reg := range r.s.st.regs {
		cp := reg
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ErrInjected is a convenience error for FailNext.
var ErrInjected = errors.New("injected failure")
