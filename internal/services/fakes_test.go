package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/gigmarket/backend/internal/apperr"
	"github.com/gigmarket/backend/internal/config"
	"github.com/gigmarket/backend/internal/events"
	"github.com/gigmarket/backend/internal/lifecycle"
	"github.com/gigmarket/backend/internal/models"
	"github.com/gigmarket/backend/internal/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// memStore is an in-memory stand-in for every repository the services use.
// Mutate holds the store lock for the whole transition, the way the row lock
// serializes writers in Postgres.
type memStore struct {
	mu        sync.Mutex
	contracts map[uuid.UUID]models.Contract
	changes   map[uuid.UUID]models.ChangeRequest
	credits   []models.BalanceCredit
	tickets   []models.SupportTicket
	users     map[uuid.UUID]models.User
	jobs      map[uuid.UUID]models.Job
	proposals map[uuid.UUID]models.Proposal

	failMutate map[uuid.UUID]error
	failUpdate map[uuid.UUID]error
}

func newMemStore() *memStore {
	return &memStore{
		contracts:  map[uuid.UUID]models.Contract{},
		changes:    map[uuid.UUID]models.ChangeRequest{},
		users:      map[uuid.UUID]models.User{},
		jobs:       map[uuid.UUID]models.Job{},
		proposals:  map[uuid.UUID]models.Proposal{},
		failMutate: map[uuid.UUID]error{},
		failUpdate: map[uuid.UUID]error{},
	}
}

// contracts

func (m *memStore) Create(ctx context.Context, c *models.Contract) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.contracts {
		if existing.JobID == c.JobID && existing.WorkerID == c.WorkerID {
			return apperr.Conflict("create contract", "duplicate")
		}
	}
	c.Version = 1
	m.contracts[c.ID] = c.Clone()
	return nil
}

func (m *memStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Contract, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contracts[id]
	if !ok {
		return nil, apperr.NotFound("get contract", "not found")
	}
	c = c.Clone()
	return &c, nil
}

func (m *memStore) contract(id uuid.UUID) models.Contract {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.contracts[id].Clone()
}

func (m *memStore) List(ctx context.Context, f repositories.ContractFilter) ([]models.Contract, error) {
	return m.filter(func(c *models.Contract) bool {
		if f.UserID != nil && !c.IsParty(*f.UserID) {
			return false
		}
		if f.Status != nil && c.Status != *f.Status {
			return false
		}
		return f.IncludeDeleted || !c.IsDeleted
	}), nil
}

func (m *memStore) filter(keep func(c *models.Contract) bool) []models.Contract {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Contract
	for _, c := range m.contracts {
		if keep(&c) {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *memStore) pendingFor(contractID uuid.UUID) *models.ChangeRequest {
	for _, cr := range m.changes {
		if cr.ContractID == contractID && cr.IsPending() {
			cp := cr
			return &cp
		}
	}
	return nil
}

func (m *memStore) Mutate(ctx context.Context, id uuid.UUID, fn repositories.MutateFunc) (*lifecycle.Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failMutate[id]; err != nil {
		return nil, err
	}
	current, ok := m.contracts[id]
	if !ok {
		return nil, apperr.NotFound("mutate contract", "not found")
	}
	out, err := fn(current.Clone(), m.pendingFor(id))
	if err != nil {
		return nil, err
	}
	if out.ChangeRequest != nil && out.ChangeRequest.IsPending() {
		if p := m.pendingFor(id); p != nil && p.ID != out.ChangeRequest.ID {
			return nil, apperr.Conflict("save change request", "duplicate pending request")
		}
	}
	if out.Credit != nil {
		u := m.users[out.Credit.UserID]
		u.Balance += out.Credit.Amount
		m.users[out.Credit.UserID] = u
		m.credits = append(m.credits, *out.Credit)
	}
	if out.Ticket != nil {
		m.tickets = append(m.tickets, *out.Ticket)
	}
	if out.ChangeRequest != nil {
		m.changes[out.ChangeRequest.ID] = *out.ChangeRequest
	}
	out.Contract.Version = current.Version + 1
	m.contracts[id] = out.Contract.Clone()
	return &out, nil
}

func (m *memStore) ListAwaitingConfirmation(ctx context.Context, cutoff time.Time, limit int) ([]models.Contract, error) {
	return m.filter(func(c *models.Contract) bool {
		return c.Status == models.ContractStatusAwaitingConfirmation && c.AwaitingConfirmationAt != nil &&
			c.AwaitingConfirmationAt.Before(cutoff) && !c.BothConfirmed() && !c.IsDeleted
	}), nil
}

func (m *memStore) ListDueStart(ctx context.Context, now time.Time, limit int) ([]models.Contract, error) {
	return m.filter(func(c *models.Contract) bool {
		return c.Status == models.ContractStatusAccepted && c.EscrowStatus == models.EscrowStatusHeld && !c.StartDate.After(now)
	}), nil
}

func (m *memStore) ListStaleDisputes(ctx context.Context, cutoff time.Time, limit int) ([]models.Contract, error) {
	return m.filter(func(c *models.Contract) bool {
		return c.Status == models.ContractStatusDisputed && c.DisputeResolution == nil &&
			c.DisputeTicketID == nil && c.DisputedAt != nil && c.DisputedAt.Before(cutoff)
	}), nil
}

func (m *memStore) ListByJob(ctx context.Context, jobID uuid.UUID) ([]models.Contract, error) {
	return m.filter(func(c *models.Contract) bool {
		return c.JobID == jobID && !c.IsDeleted &&
			c.Status != models.ContractStatusRejected && c.Status != models.ContractStatusCancelled
	}), nil
}

// change requests

type memChanges struct{ *memStore }

func (m memChanges) GetByID(ctx context.Context, id uuid.UUID) (*models.ChangeRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cr, ok := m.changes[id]
	if !ok {
		return nil, apperr.NotFound("get change request", "not found")
	}
	return &cr, nil
}

func (m memChanges) ListByContract(ctx context.Context, contractID uuid.UUID) ([]models.ChangeRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ChangeRequest
	for _, cr := range m.changes {
		if cr.ContractID == contractID {
			out = append(out, cr)
		}
	}
	return out, nil
}

func (m memChanges) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ChangeRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ChangeRequest
	for _, cr := range m.changes {
		if cr.IsPending() && cr.CreatedAt.Before(cutoff) && cr.SupportTicketID == nil {
			out = append(out, cr)
		}
	}
	return out, nil
}

// users

type memUsers struct{ *memStore }

func (m memUsers) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, apperr.NotFound("get user", "not found")
	}
	return &u, nil
}

func (m memUsers) GetParty(ctx context.Context, id uuid.UUID) (models.Party, error) {
	u, err := m.GetByID(ctx, id)
	if err != nil {
		return models.Party{}, err
	}
	name := u.Email
	if u.DisplayName != nil {
		name = *u.DisplayName
	}
	return models.Party{ID: u.ID, Email: u.Email, DisplayName: name}, nil
}

func (m memUsers) ListDiscountExpired(ctx context.Context, now time.Time, standardRate float64, limit int) ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.User
	for _, u := range m.users {
		if u.DiscountExpiresAt != nil && !u.DiscountExpiresAt.After(now) && u.CommissionRate != standardRate {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m memUsers) ResetCommissionRate(ctx context.Context, id uuid.UUID, standardRate float64, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok || u.CommissionRate == standardRate {
		return false, nil
	}
	u.CommissionRate = standardRate
	u.DiscountExpiresAt = nil
	m.users[id] = u
	return true, nil
}

func (m memUsers) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.BalanceTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.BalanceTransaction
	for _, c := range m.credits {
		if c.UserID == userID {
			id := c.ContractID
			out = append(out, models.BalanceTransaction{UserID: c.UserID, ContractID: &id, Amount: c.Amount, Kind: c.Kind})
		}
	}
	return out, nil
}

// jobs and proposals

type memJobs struct{ *memStore }

func (m memJobs) GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, apperr.NotFound("get job", "not found")
	}
	return &j, nil
}

func (m memJobs) list(keep func(j *models.Job) bool) []models.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Job
	for _, j := range m.jobs {
		if keep(&j) {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].StartAt.Before(out[b].StartAt) })
	return out
}

func (m memJobs) ListOpenStartingBefore(ctx context.Context, now, until time.Time, limit int) ([]models.Job, error) {
	return m.list(func(j *models.Job) bool {
		return j.Status == models.JobStatusOpen && !j.StartAt.Before(now) && !j.StartAt.After(until) && j.RemainingCapacity() > 0
	}), nil
}

func (m memJobs) ListExpiredUnfilled(ctx context.Context, now time.Time, limit int) ([]models.Job, error) {
	return m.list(func(j *models.Job) bool {
		return (j.Status == models.JobStatusOpen || j.Status == models.JobStatusPaused) &&
			j.EndAt != nil && j.EndAt.Before(now) && j.SelectedCount == 0
	}), nil
}

func (m memJobs) ListStaffedStartingBefore(ctx context.Context, now, until time.Time, limit int) ([]models.Job, error) {
	return m.list(func(j *models.Job) bool {
		return lifecycle.HasSelectedWorkers(j) && j.StartAt.After(now) && !j.StartAt.After(until)
	}), nil
}

func (m memJobs) ListFlexibleCandidates(ctx context.Context, until time.Time, limit int) ([]models.Job, error) {
	return m.list(func(j *models.Job) bool {
		return (j.Status == models.JobStatusOpen && j.FlexibleEnd && j.EndAt == nil && !j.StartAt.After(until)) ||
			(j.Status == models.JobStatusSuspended && j.EndAt != nil)
	}), nil
}

func (m memJobs) UpdateState(ctx context.Context, j *models.Job, expected models.JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failUpdate[j.ID]; err != nil {
		return err
	}
	current, ok := m.jobs[j.ID]
	if !ok || current.Status != expected {
		return apperr.Conflict("update job", "job moved on")
	}
	current.Status = j.Status
	current.CancelReason = j.CancelReason
	current.Reminder12hSent = j.Reminder12hSent
	current.Reminder6hSent = j.Reminder6hSent
	current.Reminder2hSent = j.Reminder2hSent
	current.UpdatedAt = j.UpdatedAt
	m.jobs[j.ID] = current
	return nil
}

func (m memJobs) ApplySelection(ctx context.Context, jobID uuid.UUID, approve, reject []uuid.UUID, contracts []models.Contract, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return apperr.NotFound("apply selection", "not found")
	}
	if j.Status != models.JobStatusOpen || len(contracts) > j.RemainingCapacity() {
		return apperr.Conflict("apply selection", "job full")
	}
	for _, id := range approve {
		p := m.proposals[id]
		p.Status = models.ProposalStatusApproved
		m.proposals[id] = p
	}
	for _, id := range reject {
		p := m.proposals[id]
		p.Status = models.ProposalStatusRejected
		m.proposals[id] = p
	}
	for _, c := range contracts {
		c.Version = 1
		m.contracts[c.ID] = c.Clone()
	}
	j.SelectedCount += len(contracts)
	if j.SelectedCount >= max(j.WorkersNeeded, 1) {
		j.Status = models.JobStatusAssigned
	}
	j.UpdatedAt = now
	m.jobs[jobID] = j
	return nil
}

func (m memJobs) ListPendingByJob(ctx context.Context, jobID uuid.UUID) ([]models.Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Proposal
	for _, p := range m.proposals {
		if p.JobID == jobID && p.Status == models.ProposalStatusPending {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].SubmittedAt.Before(out[b].SubmittedAt) })
	return out, nil
}

func (m memJobs) CountByJob(ctx context.Context, jobID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.proposals {
		if p.JobID == jobID {
			n++
		}
	}
	return n, nil
}

// side-effect recorders

type recordingAudit struct {
	mu      sync.Mutex
	entries []models.AuditLog
}

func (r *recordingAudit) Log(ctx context.Context, entry models.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

func (r *recordingAudit) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Action)
	}
	return out
}

type recordingNotifier struct {
	mu      sync.Mutex
	effects []lifecycle.Effect
}

func (r *recordingNotifier) Dispatch(ctx context.Context, effects []lifecycle.Effect) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.effects = append(r.effects, effects...)
}

func (r *recordingNotifier) byAction(action string) []lifecycle.Effect {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []lifecycle.Effect
	for _, e := range r.effects {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

type recordingPublisher struct {
	mu     sync.Mutex
	err    error
	events map[string][]events.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, stream string, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	if p.events == nil {
		p.events = map[string][]events.Event{}
	}
	p.events[stream] = append(p.events[stream], e)
	return nil
}

var errBoom = errors.New("boom")

// harness wires the services over one memStore with a controllable clock.
type harness struct {
	store      *memStore
	audit      *recordingAudit
	notifier   *recordingNotifier
	publisher  *recordingPublisher
	cfg        *config.Config
	contracts  *ContractService
	changes    *ChangeService
	automation *AutomationService
	clock      time.Time
	client     models.User
	worker     models.User
	support    uuid.UUID
	job        models.Job
}

func newHarness() *harness {
	h := &harness{
		store:     newMemStore(),
		audit:     &recordingAudit{},
		notifier:  &recordingNotifier{},
		publisher: &recordingPublisher{},
		clock:     t0,
		support:   uuid.New(),
	}
	h.cfg = &config.Config{
		StandardCommissionRate: 8,
		WorkerConcurrency:      4,
		SweepBatchSize:         100,
		SupportUserIDs:         []uuid.UUID{h.support},
	}
	name := "Dana"
	h.client = models.User{ID: uuid.New(), Email: "client@example.com", DisplayName: &name, CommissionRate: 8, Tier: models.UserTierBase}
	h.worker = models.User{ID: uuid.New(), Email: "worker@example.com", CommissionRate: 8, Tier: models.UserTierBase}
	h.store.users[h.client.ID] = h.client
	h.store.users[h.worker.ID] = h.worker

	end := t0.Add(10 * time.Hour)
	h.job = models.Job{
		ID: uuid.New(), ClientID: h.client.ID, Title: "Garden cleanup", Status: models.JobStatusOpen,
		StartAt: t0.Add(2 * time.Hour), EndAt: &end, WorkersNeeded: 1,
	}
	h.store.jobs[h.job.ID] = h.job

	log := zap.NewNop()
	users := memUsers{h.store}
	jobs := memJobs{h.store}
	changes := memChanges{h.store}
	now := func() time.Time { return h.clock }

	h.contracts = NewContractService(h.store, jobs, users, users, h.audit, h.notifier, h.publisher, h.cfg, log)
	h.contracts.now = now
	h.changes = NewChangeService(h.contracts, changes)
	h.automation = NewAutomationService(h.store, changes, jobs, jobs, users, h.contracts, h.changes, h.audit, h.notifier, h.cfg, log)
	h.automation.now = now
	return h
}

func (h *harness) advance(d time.Duration) { h.clock = h.clock.Add(d) }
