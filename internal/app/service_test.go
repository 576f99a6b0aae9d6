package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bankmore/transfer-service/internal/domain"
	"github.com/bankmore/transfer-service/internal/store"
	"github.com/bankmore/transfer-service/pkg/ledgerclient"
)

type movementCall struct {
	movement   ledgerclient.MovementRequest
	credential string
}

// ledgerStub scripts one response per CreateMovement call, in order. A nil
// entry means success; calls past the end of the script succeed.
type ledgerStub struct {
	responses []error
	calls     []movementCall
}

func (l *ledgerStub) CreateMovement(ctx context.Context, movement ledgerclient.MovementRequest, credential string) error {
	l.calls = append(l.calls, movementCall{movement: movement, credential: credential})
	idx := len(l.calls) - 1
	if idx < len(l.responses) {
		return l.responses[idx]
	}
	return nil
}

type repoStub struct {
	existing *domain.Transfer
	findErr  error

	created   []*domain.Transfer
	createErr error
}

func (r *repoStub) FindByOriginAndRequestID(ctx context.Context, originAccountID uuid.UUID, requestID string) (*domain.Transfer, error) {
	if r.findErr != nil {
		return nil, r.findErr
	}
	return r.existing, nil
}

func (r *repoStub) CreateTransfer(ctx context.Context, transfer *domain.Transfer) error {
	r.created = append(r.created, transfer)
	return r.createErr
}

func (r *repoStub) Ping(ctx context.Context) error { return nil }

// newTestService wires a service whose compensation backoff records sleeps
// instead of waiting.
func newTestService(repo *repoStub, ledger *ledgerStub) (*Service, *[]time.Duration) {
	svc := NewService(repo, ledger, nil)
	slept := &[]time.Duration{}
	svc.sleep = func(d time.Duration) { *slept = append(*slept, d) }
	return svc, slept
}

func validIntent() domain.TransferIntent {
	return domain.TransferIntent{
		RequestID:                "req-1",
		OriginAccountID:          uuid.New(),
		DestinationAccountNumber: "85381-6",
		Amount:                   10050,
		Credential:               "token-abc",
	}
}

func TestExecuteTransfer_SuccessRunsDebitThenCredit(t *testing.T) {
	repo := &repoStub{}
	ledger := &ledgerStub{}
	svc, _ := newTestService(repo, ledger)
	intent := validIntent()

	if err := svc.ExecuteTransfer(context.Background(), intent); err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	if len(ledger.calls) != 2 {
		t.Fatalf("expected 2 ledger calls, got %d", len(ledger.calls))
	}

	debit := ledger.calls[0]
	if debit.movement.Kind != ledgerclient.MovementDebit {
		t.Fatalf("expected first leg to be a debit, got %q", debit.movement.Kind)
	}
	if debit.movement.AccountNumber != nil {
		t.Fatalf("expected debit to target the credential's own account, got %q", *debit.movement.AccountNumber)
	}
	if debit.movement.RequestID != intent.RequestID {
		t.Fatalf("expected debit tagged with request id %q, got %q", intent.RequestID, debit.movement.RequestID)
	}
	if debit.credential != intent.Credential {
		t.Fatalf("expected credential forwarded to ledger, got %q", debit.credential)
	}

	credit := ledger.calls[1]
	if credit.movement.Kind != ledgerclient.MovementCredit {
		t.Fatalf("expected second leg to be a credit, got %q", credit.movement.Kind)
	}
	if credit.movement.AccountNumber == nil || *credit.movement.AccountNumber != intent.DestinationAccountNumber {
		t.Fatal("expected credit to target the destination account number")
	}

	if len(repo.created) != 1 {
		t.Fatalf("expected exactly one record created, got %d", len(repo.created))
	}
	record := repo.created[0]
	if record.Status != domain.StatusSuccess {
		t.Fatalf("expected success record, got %q", record.Status)
	}
	if record.ErrorKind != nil || record.ErrorMessage != nil {
		t.Fatal("expected success record to carry no error fields")
	}
}

func TestExecuteTransfer_DuplicateSuccessReplaysWithoutRemoteCalls(t *testing.T) {
	intent := validIntent()
	existing := domain.NewTransfer(intent.RequestID, intent.OriginAccountID, intent.DestinationAccountNumber, intent.Amount)

	repo := &repoStub{existing: existing}
	ledger := &ledgerStub{}
	svc, _ := newTestService(repo, ledger)

	if err := svc.ExecuteTransfer(context.Background(), intent); err != nil {
		t.Fatalf("expected replayed success, got %v", err)
	}
	if len(ledger.calls) != 0 {
		t.Fatalf("expected no remote calls on replay, got %d", len(ledger.calls))
	}
	if len(repo.created) != 0 {
		t.Fatalf("expected no new record on replay, got %d", len(repo.created))
	}
}

func TestExecuteTransfer_DuplicateFailureReplaysStoredError(t *testing.T) {
	tests := []struct {
		name         string
		status       domain.TransferStatus
		wantKind     string
		wantCompFail bool
	}{
		{name: "failed replays stored kind", status: domain.StatusFailed, wantKind: "INSUFFICIENT_BALANCE"},
		{name: "compensated replays stored kind", status: domain.StatusCompensated, wantKind: "INSUFFICIENT_BALANCE"},
		{name: "compensation failed replays critical error", status: domain.StatusCompensationFailed, wantCompFail: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intent := validIntent()
			existing := domain.NewTransfer(intent.RequestID, intent.OriginAccountID, intent.DestinationAccountNumber, intent.Amount)
			message := "Saldo insuficiente"
			kind := "INSUFFICIENT_BALANCE"
			existing.Status = tt.status
			existing.ErrorMessage = &message
			existing.ErrorKind = &kind

			repo := &repoStub{existing: existing}
			ledger := &ledgerStub{}
			svc, _ := newTestService(repo, ledger)

			err := svc.ExecuteTransfer(context.Background(), intent)
			if err == nil {
				t.Fatal("expected replayed failure, got nil")
			}
			if len(ledger.calls) != 0 {
				t.Fatalf("expected no remote calls on replay, got %d", len(ledger.calls))
			}

			if tt.wantCompFail {
				if _, ok := domain.AsCompensationError(err); !ok {
					t.Fatalf("expected compensation error, got %T", err)
				}
				return
			}
			te, ok := domain.AsTransferError(err)
			if !ok {
				t.Fatalf("expected transfer error, got %T", err)
			}
			if te.Kind != tt.wantKind {
				t.Fatalf("expected kind %q, got %q", tt.wantKind, te.Kind)
			}
			if te.Message != message {
				t.Fatalf("expected stored message replayed, got %q", te.Message)
			}
		})
	}
}

func TestExecuteTransfer_DebitFailureSkipsCreditAndRecordsFailed(t *testing.T) {
	repo := &repoStub{}
	ledger := &ledgerStub{
		responses: []error{domain.NewTransferError("Saldo insuficiente", "INSUFFICIENT_BALANCE")},
	}
	svc, slept := newTestService(repo, ledger)

	err := svc.ExecuteTransfer(context.Background(), validIntent())
	te, ok := domain.AsTransferError(err)
	if !ok {
		t.Fatalf("expected transfer error, got %v", err)
	}
	if te.Kind != "INSUFFICIENT_BALANCE" || te.Message != "Saldo insuficiente" {
		t.Fatalf("expected the ledger rejection surfaced verbatim, got kind=%q message=%q", te.Kind, te.Message)
	}

	if len(ledger.calls) != 1 {
		t.Fatalf("expected credit leg to be skipped after debit failure, got %d calls", len(ledger.calls))
	}
	if len(*slept) != 0 {
		t.Fatal("expected no compensation backoff for an origin-leg failure")
	}

	if len(repo.created) != 1 {
		t.Fatalf("expected one record, got %d", len(repo.created))
	}
	record := repo.created[0]
	if record.Status != domain.StatusFailed {
		t.Fatalf("expected failed record, got %q", record.Status)
	}
	if record.ErrorKind == nil || *record.ErrorKind != "INSUFFICIENT_BALANCE" {
		t.Fatal("expected record to carry the rejection kind")
	}
}

func TestExecuteTransfer_CreditFailureCompensatedOnSecondAttempt(t *testing.T) {
	creditFailure := domain.NewTransferError("Conta de destino invalida", "INVALID_ACCOUNT")
	repo := &repoStub{}
	ledger := &ledgerStub{
		responses: []error{
			nil,                         // debit
			creditFailure,               // credit
			errors.New("still failing"), // compensation attempt 1
			nil,                         // compensation attempt 2
		},
	}
	svc, slept := newTestService(repo, ledger)
	intent := validIntent()

	err := svc.ExecuteTransfer(context.Background(), intent)
	te, ok := domain.AsTransferError(err)
	if !ok {
		t.Fatalf("expected the original credit failure, got %v", err)
	}
	if te != creditFailure {
		t.Fatalf("expected the original credit failure returned, got kind=%q", te.Kind)
	}

	if len(ledger.calls) != 4 {
		t.Fatalf("expected debit+credit+2 compensation calls, got %d", len(ledger.calls))
	}
	comp := ledger.calls[2].movement
	if comp.RequestID != intent.RequestID+"-COMP" {
		t.Fatalf("expected compensation tagged with distinct token, got %q", comp.RequestID)
	}
	if comp.Kind != ledgerclient.MovementCredit {
		t.Fatalf("expected compensation to be a credit, got %q", comp.Kind)
	}
	if comp.AccountNumber != nil {
		t.Fatal("expected compensation to target the origin account via the credential")
	}

	if len(*slept) != 1 || (*slept)[0] != 1*time.Second {
		t.Fatalf("expected a single 1s backoff before the second attempt, got %v", *slept)
	}

	if len(repo.created) != 1 {
		t.Fatalf("expected one record, got %d", len(repo.created))
	}
	record := repo.created[0]
	if record.Status != domain.StatusCompensated {
		t.Fatalf("expected compensated record, got %q", record.Status)
	}
	if record.ErrorMessage == nil || *record.ErrorMessage != creditFailure.Message {
		t.Fatal("expected record to carry the original credit failure message")
	}
	if record.ErrorKind == nil || *record.ErrorKind != creditFailure.Kind {
		t.Fatal("expected record to carry the original credit failure kind")
	}
}

func TestExecuteTransfer_CompensationExhaustedRaisesCriticalFailure(t *testing.T) {
	creditFailure := domain.NewTransferError("Ledger indisponivel", domain.KindLedgerUnavailable)
	compFailure := errors.New("connection refused")
	repo := &repoStub{}
	ledger := &ledgerStub{
		responses: []error{nil, creditFailure, compFailure, compFailure, compFailure},
	}
	svc, slept := newTestService(repo, ledger)

	err := svc.ExecuteTransfer(context.Background(), validIntent())
	if _, ok := domain.AsCompensationError(err); !ok {
		t.Fatalf("expected compensation error after exhausting retries, got %v", err)
	}
	if _, ok := domain.AsTransferError(err); ok {
		t.Fatal("compensation failure must be distinguishable from ordinary transfer failures")
	}

	if len(ledger.calls) != 5 {
		t.Fatalf("expected exactly 3 compensation attempts, got %d total calls", len(ledger.calls))
	}

	want := []time.Duration{1 * time.Second, 2 * time.Second}
	if len(*slept) != len(want) {
		t.Fatalf("expected backoff between attempts only, got %v", *slept)
	}
	for i, d := range want {
		if (*slept)[i] != d {
			t.Fatalf("expected strictly increasing backoff %v, got %v", want, *slept)
		}
	}

	if len(repo.created) != 1 {
		t.Fatalf("expected one record, got %d", len(repo.created))
	}
	if repo.created[0].Status != domain.StatusCompensationFailed {
		t.Fatalf("expected compensation_failed record, got %q", repo.created[0].Status)
	}
}

func TestExecuteTransfer_ValidationRejectsBeforeAnyRemoteEffect(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.TransferIntent)
	}{
		{name: "empty request id", mutate: func(i *domain.TransferIntent) { i.RequestID = "" }},
		{name: "nil origin account", mutate: func(i *domain.TransferIntent) { i.OriginAccountID = uuid.Nil }},
		{name: "empty destination", mutate: func(i *domain.TransferIntent) { i.DestinationAccountNumber = "" }},
		{name: "zero amount", mutate: func(i *domain.TransferIntent) { i.Amount = 0 }},
		{name: "negative amount", mutate: func(i *domain.TransferIntent) { i.Amount = -100 }},
		{name: "empty credential", mutate: func(i *domain.TransferIntent) { i.Credential = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &repoStub{}
			ledger := &ledgerStub{}
			svc, _ := newTestService(repo, ledger)

			intent := validIntent()
			tt.mutate(&intent)

			err := svc.ExecuteTransfer(context.Background(), intent)
			te, ok := domain.AsTransferError(err)
			if !ok {
				t.Fatalf("expected validation error, got %v", err)
			}
			if te.Kind != domain.KindValidationError {
				t.Fatalf("expected kind %q, got %q", domain.KindValidationError, te.Kind)
			}
			if len(ledger.calls) != 0 {
				t.Fatal("expected no remote effect for an invalid intent")
			}
			if len(repo.created) != 0 {
				t.Fatal("expected no record for an invalid intent")
			}
		})
	}
}

func TestExecuteTransfer_UnexpectedDebitErrorDowngradedToInternal(t *testing.T) {
	repo := &repoStub{}
	ledger := &ledgerStub{
		responses: []error{errors.New("pq: column does not exist")},
	}
	svc, _ := newTestService(repo, ledger)

	err := svc.ExecuteTransfer(context.Background(), validIntent())
	te, ok := domain.AsTransferError(err)
	if !ok {
		t.Fatalf("expected transfer error, got %v", err)
	}
	if te.Kind != domain.KindInternalError {
		t.Fatalf("expected kind %q, got %q", domain.KindInternalError, te.Kind)
	}
	if te.Message == "pq: column does not exist" {
		t.Fatal("internal error detail must not leak to the caller")
	}

	if len(repo.created) != 1 || repo.created[0].Status != domain.StatusFailed {
		t.Fatal("expected a failed record for the unexpected error")
	}
	if repo.created[0].ErrorKind == nil || *repo.created[0].ErrorKind != domain.KindInternalError {
		t.Fatal("expected record kind INTERNAL_ERROR")
	}
}

func TestExecuteTransfer_DuplicateInsertRaceKeepsComputedOutcome(t *testing.T) {
	repo := &repoStub{createErr: store.ErrDuplicateTransfer}
	ledger := &ledgerStub{}
	svc, _ := newTestService(repo, ledger)

	if err := svc.ExecuteTransfer(context.Background(), validIntent()); err != nil {
		t.Fatalf("expected computed outcome to stand on duplicate insert race, got %v", err)
	}
}

func TestExecuteTransfer_PersistFailureSurfacesInternalError(t *testing.T) {
	repo := &repoStub{createErr: errors.New("disk full")}
	ledger := &ledgerStub{}
	svc, _ := newTestService(repo, ledger)

	err := svc.ExecuteTransfer(context.Background(), validIntent())
	te, ok := domain.AsTransferError(err)
	if !ok {
		t.Fatalf("expected internal error, got %v", err)
	}
	if te.Kind != domain.KindInternalError {
		t.Fatalf("expected kind %q, got %q", domain.KindInternalError, te.Kind)
	}
}

func TestExecuteTransfer_IdempotencyLookupFailureStopsSaga(t *testing.T) {
	repo := &repoStub{findErr: errors.New("connection reset")}
	ledger := &ledgerStub{}
	svc, _ := newTestService(repo, ledger)

	err := svc.ExecuteTransfer(context.Background(), validIntent())
	te, ok := domain.AsTransferError(err)
	if !ok || te.Kind != domain.KindInternalError {
		t.Fatalf("expected internal error, got %v", err)
	}
	if len(ledger.calls) != 0 {
		t.Fatal("expected no remote calls when the idempotency check cannot run")
	}
}
