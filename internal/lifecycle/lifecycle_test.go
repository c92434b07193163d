package lifecycle

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/gigmarket/backend/internal/apperr"
	"github.com/gigmarket/backend/internal/models"
	"github.com/gigmarket/backend/internal/rbac"
	"github.com/google/uuid"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

const testCode = "482913"

func newTestContract(t *testing.T) models.Contract {
	t.Helper()
	c, err := NewContract(NewContractParams{
		JobID:          uuid.New(),
		ClientID:       uuid.New(),
		WorkerID:       uuid.New(),
		Price:          10000,
		CommissionRate: 8,
		StartDate:      t0.Add(2 * time.Hour),
		EndDate:        t0.Add(10 * time.Hour),
	}, t0)
	if err != nil {
		t.Fatalf("NewContract: %v", err)
	}
	return c
}

func client(c models.Contract) Actor { return PartyActor(&c, c.ClientID) }
func worker(c models.Contract) Actor { return PartyActor(&c, c.WorkerID) }

func mustOutcome(t *testing.T, out Outcome, err error) models.Contract {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return out.Contract
}

func acceptedContract(t *testing.T) models.Contract {
	t.Helper()
	c := newTestContract(t)
	out, err := Respond(c, worker(c), true, testCode, t0)
	c = mustOutcome(t, out, err)
	out, err = FundEscrow(c, client(c), "pay_123", t0)
	return mustOutcome(t, out, err)
}

func inProgressContract(t *testing.T) models.Contract {
	t.Helper()
	c := acceptedContract(t)
	out, err := ConfirmPairing(c, client(c), testCode, t0.Add(time.Minute))
	c = mustOutcome(t, out, err)
	out, err = ConfirmPairing(c, worker(c), testCode, t0.Add(2*time.Minute))
	return mustOutcome(t, out, err)
}

func expectKind(t *testing.T, err error, target error) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %v error, got nil", target)
	}
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v (kind %q)", target, err, apperr.KindOf(err))
	}
}

func TestNewContract(t *testing.T) {
	c := newTestContract(t)
	if c.Status != models.ContractStatusPending || c.EscrowStatus != models.EscrowStatusPending {
		t.Errorf("status = %s/%s, want pending/pending", c.Status, c.EscrowStatus)
	}
	if c.Commission != 800 || c.TotalPrice != 10800 {
		t.Errorf("commission/total = %d/%d, want 800/10800", c.Commission, c.TotalPrice)
	}
}

func TestNewContractValidation(t *testing.T) {
	same := uuid.New()
	tests := []struct {
		name   string
		mutate func(p *NewContractParams)
	}{
		{"zero price", func(p *NewContractParams) { p.Price = 0 }},
		{"negative rate", func(p *NewContractParams) { p.CommissionRate = -1 }},
		{"end before start", func(p *NewContractParams) { p.EndDate = p.StartDate.Add(-time.Hour) }},
		{"end equals start", func(p *NewContractParams) { p.EndDate = p.StartDate }},
		{"self contract", func(p *NewContractParams) { p.ClientID, p.WorkerID = same, same }},
		{"missing job", func(p *NewContractParams) { p.JobID = uuid.Nil }},
		{"allocation above price", func(p *NewContractParams) { a := p.Price + 1; p.AllocatedAmount = &a }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewContractParams{
				JobID: uuid.New(), ClientID: uuid.New(), WorkerID: uuid.New(),
				Price: 5000, CommissionRate: 10,
				StartDate: t0, EndDate: t0.Add(time.Hour),
			}
			tt.mutate(&p)
			_, err := NewContract(p, t0)
			expectKind(t, err, apperr.ErrValidation)
		})
	}
}

func TestRespond(t *testing.T) {
	c := newTestContract(t)

	_, err := Respond(c, client(c), true, testCode, t0)
	expectKind(t, err, apperr.ErrValidation)

	_, err = Respond(c, PartyActor(&c, uuid.New()), true, testCode, t0)
	expectKind(t, err, apperr.ErrValidation)

	out, err := Respond(c, worker(c), true, testCode, t0)
	accepted := mustOutcome(t, out, err)
	if accepted.Status != models.ContractStatusAccepted {
		t.Fatalf("status = %s, want accepted", accepted.Status)
	}
	if accepted.PairingCode != testCode || !accepted.PairingExpiry.Equal(t0.Add(30*time.Minute)) {
		t.Errorf("pairing = %q expiring %v", accepted.PairingCode, accepted.PairingExpiry)
	}
	if len(out.Effects) != 1 || out.Effects[0].UserID != c.ClientID {
		t.Errorf("expected one notification to the client, got %+v", out.Effects)
	}

	_, err = Respond(accepted, worker(accepted), true, testCode, t0)
	expectKind(t, err, apperr.ErrConflict)

	out, err = Respond(c, worker(c), false, "", t0)
	rejected := mustOutcome(t, out, err)
	if rejected.Status != models.ContractStatusRejected || !rejected.IsTerminal() {
		t.Errorf("rejected contract should be terminal, got %s", rejected.Status)
	}
}

func TestGeneratePairingCode(t *testing.T) {
	re := regexp.MustCompile(`^\d{6}$`)
	for i := 0; i < 50; i++ {
		code, err := GeneratePairingCode()
		if err != nil {
			t.Fatalf("GeneratePairingCode: %v", err)
		}
		if !re.MatchString(code) {
			t.Fatalf("code %q is not 6 digits", code)
		}
	}
}

func TestConfirmPairingExpiry(t *testing.T) {
	c := acceptedContract(t)

	out, err := ConfirmPairing(c, client(c), testCode, t0.Add(10*time.Minute))
	c = mustOutcome(t, out, err)
	if !c.ClientConfirmedPairing {
		t.Fatalf("client pairing flag not set")
	}

	_, err = ConfirmPairing(c, worker(c), testCode, t0.Add(35*time.Minute))
	expectKind(t, err, apperr.ErrValidation)
	if c.WorkerConfirmedPairing {
		t.Errorf("worker pairing flag must stay false after expiry")
	}
	if c.Status != models.ContractStatusAccepted {
		t.Errorf("status = %s, want accepted", c.Status)
	}
}

func TestConfirmPairing(t *testing.T) {
	c := acceptedContract(t)

	t.Run("wrong code", func(t *testing.T) {
		_, err := ConfirmPairing(c, client(c), "000000", t0.Add(time.Minute))
		expectKind(t, err, apperr.ErrValidation)
		if c.ClientConfirmedPairing {
			t.Errorf("flag changed on mismatch")
		}
	})

	t.Run("stranger", func(t *testing.T) {
		_, err := ConfirmPairing(c, PartyActor(&c, uuid.New()), testCode, t0.Add(time.Minute))
		expectKind(t, err, apperr.ErrValidation)
	})

	t.Run("twice by same party", func(t *testing.T) {
		out, err := ConfirmPairing(c, client(c), testCode, t0.Add(time.Minute))
		once := mustOutcome(t, out, err)
		_, err = ConfirmPairing(once, client(once), testCode, t0.Add(2*time.Minute))
		expectKind(t, err, apperr.ErrConflict)
	})

	t.Run("both start the contract", func(t *testing.T) {
		started := inProgressContract(t)
		if started.Status != models.ContractStatusInProgress {
			t.Fatalf("status = %s, want in_progress", started.Status)
		}
		if started.ActualStartDate == nil || !started.ActualStartDate.Equal(t0.Add(2*time.Minute)) {
			t.Errorf("actual start = %v", started.ActualStartDate)
		}
	})
}

func TestRegeneratePairing(t *testing.T) {
	c := acceptedContract(t)
	out, err := ConfirmPairing(c, client(c), testCode, t0.Add(5*time.Minute))
	c = mustOutcome(t, out, err)

	_, err = RegeneratePairing(c, worker(c), "111111", t0.Add(10*time.Minute))
	expectKind(t, err, apperr.ErrConflict)

	later := t0.Add(40 * time.Minute)
	out, err = RegeneratePairing(c, worker(c), "111111", later)
	c = mustOutcome(t, out, err)
	if c.PairingCode != "111111" || c.ClientConfirmedPairing {
		t.Errorf("regeneration should reset flags and replace the code")
	}
	if !c.PairingExpiry.Equal(later.Add(PairingTTL)) {
		t.Errorf("expiry = %v, want %v", c.PairingExpiry, later.Add(PairingTTL))
	}

	_, err = RegeneratePairing(c, worker(c), "12ab56", later.Add(time.Hour))
	expectKind(t, err, apperr.ErrValidation)
}

func TestFundEscrow(t *testing.T) {
	c := newTestContract(t)

	_, err := FundEscrow(c, worker(c), "pay_1", t0)
	expectKind(t, err, apperr.ErrValidation)

	_, err = FundEscrow(c, client(c), " ", t0)
	expectKind(t, err, apperr.ErrValidation)

	out, err := FundEscrow(c, client(c), "pay_1", t0)
	held := mustOutcome(t, out, err)
	if !held.IsInEscrow() || held.PaymentReference == nil || *held.PaymentReference != "pay_1" {
		t.Fatalf("escrow not held: %+v", held)
	}

	_, err = FundEscrow(held, client(held), "pay_2", t0)
	expectKind(t, err, apperr.ErrEscrowState)
}

func TestMarkWorkDoneRecordsOwnConfirmation(t *testing.T) {
	c := inProgressContract(t)
	at := t0.Add(3 * time.Hour)
	out, err := MarkWorkDone(c, worker(c), at)
	c = mustOutcome(t, out, err)
	if c.Status != models.ContractStatusAwaitingConfirmation {
		t.Fatalf("status = %s", c.Status)
	}
	if !c.WorkerConfirmed || c.ClientConfirmed {
		t.Errorf("flags = client %v worker %v, want only worker", c.ClientConfirmed, c.WorkerConfirmed)
	}
	if c.AwaitingConfirmationAt == nil || !c.AwaitingConfirmationAt.Equal(at) {
		t.Errorf("awaitingConfirmationAt = %v", c.AwaitingConfirmationAt)
	}
	if len(out.Effects) != 1 || out.Effects[0].UserID != c.ClientID || !out.Effects[0].Email {
		t.Errorf("client should get an email notification, got %+v", out.Effects)
	}

	_, err = MarkWorkDone(c, client(c), at)
	expectKind(t, err, apperr.ErrConflict)
}

func TestConfirmCompletionReleasesOnce(t *testing.T) {
	c := inProgressContract(t)
	out, err := MarkWorkDone(c, client(c), t0.Add(3*time.Hour))
	c = mustOutcome(t, out, err)

	_, err = ConfirmCompletion(c, client(c), t0.Add(3*time.Hour))
	expectKind(t, err, apperr.ErrConflict)

	out, err = ConfirmCompletion(c, worker(c), t0.Add(4*time.Hour))
	done := mustOutcome(t, out, err)
	if done.Status != models.ContractStatusCompleted || done.EscrowStatus != models.EscrowStatusReleased {
		t.Fatalf("status = %s/%s, want completed/released", done.Status, done.EscrowStatus)
	}
	if done.ActualEndDate == nil || done.EscrowReleasedAt == nil {
		t.Errorf("release timestamps not set")
	}
	if out.Credit == nil || out.Credit.Amount != 10000 || out.Credit.UserID != c.WorkerID {
		t.Fatalf("credit = %+v, want 10000 to worker", out.Credit)
	}

	_, err = ConfirmCompletion(done, worker(done), t0.Add(5*time.Hour))
	expectKind(t, err, apperr.ErrConflict)

	_, err = release("release", done, SystemActor(), t0.Add(5*time.Hour))
	expectKind(t, err, apperr.ErrEscrowState)
}

func TestConfirmCompletionGuards(t *testing.T) {
	c := inProgressContract(t)
	_, err := ConfirmCompletion(c, client(c), t0.Add(3*time.Hour))
	expectKind(t, err, apperr.ErrValidation)

	unfunded := newTestContract(t)
	unfunded.Status = models.ContractStatusAwaitingConfirmation
	unfunded.AwaitingConfirmationAt = timePtr(t0)
	unfunded.ClientConfirmed = true
	_, err = ConfirmCompletion(unfunded, worker(unfunded), t0.Add(time.Hour))
	expectKind(t, err, apperr.ErrEscrowState)
}

func TestAutoConfirmAfterTimeout(t *testing.T) {
	c := inProgressContract(t)
	share := int64(7500)
	c.AllocatedAmount = &share
	entered := t0.Add(3 * time.Hour)
	out, err := MarkWorkDone(c, client(c), entered)
	c = mustOutcome(t, out, err)

	_, err = AutoConfirm(c, entered.Add(119*time.Minute))
	expectKind(t, err, apperr.ErrConflict)

	out, err = AutoConfirm(c, entered.Add(2*time.Hour+5*time.Minute))
	done := mustOutcome(t, out, err)
	if !done.WorkerConfirmed || done.Status != models.ContractStatusCompleted || done.EscrowStatus != models.EscrowStatusReleased {
		t.Fatalf("auto-confirm result: worker=%v status=%s escrow=%s", done.WorkerConfirmed, done.Status, done.EscrowStatus)
	}
	if out.Credit == nil || out.Credit.Amount != 7500 {
		t.Fatalf("credit = %+v, want allocated 7500", out.Credit)
	}
	if !done.ClientConfirmedAt.Equal(entered) {
		t.Errorf("existing client confirmation timestamp was overwritten")
	}

	_, err = AutoConfirm(done, entered.Add(3*time.Hour))
	expectKind(t, err, apperr.ErrConflict)
}

func TestForceStart(t *testing.T) {
	c := acceptedContract(t)
	_, err := ForceStart(c, client(c), c.StartDate)
	expectKind(t, err, apperr.ErrValidation)

	_, err = ForceStart(c, SystemActor(), c.StartDate.Add(-time.Minute))
	expectKind(t, err, apperr.ErrValidation)

	out, err := ForceStart(c, SystemActor(), c.StartDate)
	started := mustOutcome(t, out, err)
	if started.Status != models.ContractStatusInProgress || started.ActualStartDate == nil {
		t.Errorf("force start: %s", started.Status)
	}
	if len(out.Effects) != 2 {
		t.Errorf("both parties should be notified, got %d effects", len(out.Effects))
	}
}

func TestCancel(t *testing.T) {
	c := inProgressContract(t)

	_, err := Cancel(c, client(c), "no longer needed", true, t0)
	expectKind(t, err, apperr.ErrConflict)

	out, err := Cancel(c, client(c), "no longer needed", false, t0.Add(time.Hour))
	cancelled := mustOutcome(t, out, err)
	if cancelled.Status != models.ContractStatusCancelled || cancelled.EscrowStatus != models.EscrowStatusRefunded {
		t.Fatalf("status = %s/%s, want cancelled/refunded", cancelled.Status, cancelled.EscrowStatus)
	}
	if out.Credit != nil {
		t.Errorf("refund must not credit the worker")
	}
	if cancelled.CancelledBy == nil || *cancelled.CancelledBy != c.ClientID {
		t.Errorf("cancelledBy = %v", cancelled.CancelledBy)
	}

	_, err = Cancel(cancelled, worker(cancelled), "again", false, t0.Add(2*time.Hour))
	expectKind(t, err, apperr.ErrConflict)
}

func TestCancelWithoutEscrow(t *testing.T) {
	c := newTestContract(t)
	out, err := Cancel(c, client(c), "changed plans", false, t0)
	cancelled := mustOutcome(t, out, err)
	if cancelled.EscrowStatus != models.EscrowStatusPending {
		t.Errorf("unfunded escrow should stay pending, got %s", cancelled.EscrowStatus)
	}
}

func TestDisputeLifecycle(t *testing.T) {
	base := inProgressContract(t)

	_, err := RaiseDispute(base, worker(base), "", t0)
	expectKind(t, err, apperr.ErrValidation)

	out, err := RaiseDispute(base, worker(base), "client absent", t0.Add(time.Hour))
	disputed := mustOutcome(t, out, err)
	if disputed.Status != models.ContractStatusDisputed || disputed.DisputeID == nil || disputed.IsTerminal() {
		t.Fatalf("dispute not opened correctly: %+v", disputed)
	}

	_, err = RaiseDispute(disputed, client(disputed), "again", t0.Add(2*time.Hour))
	expectKind(t, err, apperr.ErrConflict)

	_, err = ResolveDispute(disputed, client(disputed), "mine", true, t0)
	expectKind(t, err, apperr.ErrValidation)

	support := SupportActor(uuid.New())

	t.Run("favour worker", func(t *testing.T) {
		out, err := ResolveDispute(disputed, support, "work delivered", true, t0.Add(3*time.Hour))
		c := mustOutcome(t, out, err)
		if c.Status != models.ContractStatusCompleted || c.EscrowStatus != models.EscrowStatusReleased {
			t.Fatalf("status = %s/%s", c.Status, c.EscrowStatus)
		}
		if out.Credit == nil || out.Credit.Amount != c.Price {
			t.Errorf("credit = %+v", out.Credit)
		}
		if c.DisputeResolution == nil || !c.IsTerminal() {
			t.Errorf("resolution not recorded")
		}
	})

	t.Run("favour client", func(t *testing.T) {
		out, err := ResolveDispute(disputed, support, "no show", false, t0.Add(3*time.Hour))
		c := mustOutcome(t, out, err)
		if c.Status != models.ContractStatusCancelled || c.EscrowStatus != models.EscrowStatusRefunded {
			t.Fatalf("status = %s/%s", c.Status, c.EscrowStatus)
		}
		if out.Credit != nil {
			t.Errorf("refund must not credit")
		}
	})
}

func TestEscalateDispute(t *testing.T) {
	c := inProgressContract(t)
	out, err := RaiseDispute(c, client(c), "quality", t0)
	c = mustOutcome(t, out, err)
	cl := models.Party{ID: c.ClientID, Email: "client@example.com", DisplayName: "Client"}
	wk := models.Party{ID: c.WorkerID, Email: "worker@example.com", DisplayName: "Worker"}

	_, err = EscalateDispute(c, cl, wk, t0.Add(6*24*time.Hour))
	expectKind(t, err, apperr.ErrConflict)

	out, err = EscalateDispute(c, cl, wk, t0.Add(7*24*time.Hour+time.Minute))
	escalated := mustOutcome(t, out, err)
	if out.Ticket == nil || out.Ticket.Priority != models.SupportPriorityUrgent {
		t.Fatalf("ticket = %+v", out.Ticket)
	}
	if escalated.DisputeTicketID == nil || *escalated.DisputeTicketID != out.Ticket.ID {
		t.Errorf("ticket id not recorded on contract")
	}

	_, err = EscalateDispute(escalated, cl, wk, t0.Add(8*24*time.Hour))
	expectKind(t, err, apperr.ErrConflict)
}

func TestSoftDelete(t *testing.T) {
	c := inProgressContract(t)
	_, err := SoftDelete(c, client(c), t0)
	expectKind(t, err, apperr.ErrConflict)

	out, err := Cancel(c, client(c), "stop", false, t0)
	c = mustOutcome(t, out, err)

	_, err = SoftDelete(c, worker(c), t0)
	expectKind(t, err, apperr.ErrValidation)

	out, err = SoftDelete(c, client(c), t0.Add(time.Hour))
	deleted := mustOutcome(t, out, err)
	if !deleted.IsDeleted || deleted.DeletedBy == nil || *deleted.DeletedBy != c.ClientID {
		t.Fatalf("soft delete not recorded: %+v", deleted)
	}

	_, err = SoftDelete(deleted, client(deleted), t0.Add(2*time.Hour))
	expectKind(t, err, apperr.ErrConflict)
}

func TestActor(t *testing.T) {
	if SystemActor().UserID() != nil || SystemActor().Type() != models.ActorSystem {
		t.Errorf("system actor should have no user id")
	}
	s := SupportActor(uuid.New())
	if s.Type() != models.ActorSupport || s.Role != rbac.RoleSupport {
		t.Errorf("support actor = %+v", s)
	}
}
