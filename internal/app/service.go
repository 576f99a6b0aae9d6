/**
 * @description
 * This file contains the core business logic for the transfer-service. The
 * `Service` struct is the saga orchestrator: given a transfer intent it checks
 * idempotency, performs the debit leg, performs the credit leg, and on a
 * destination-leg failure drives a bounded, backing-off compensation; the
 * terminal outcome is persisted exactly once, after the remote effects.
 *
 * Key invariants:
 * - The credit leg never runs unless the debit leg returned success.
 * - A retried request with the same (origin, request id) pair never re-executes
 *   a remote effect; it replays the stored outcome.
 * - Compensation always targets the origin account, is tagged with a distinct
 *   idempotency token, and terminates in Compensated or CompensationFailed.
 * - Once the debit leg is issued, caller cancellation is no longer honored:
 *   abandoning a half-done transfer would leave the ledger inconsistent.
 *
 * @dependencies
 * - context, errors, log, time: Standard Go libraries.
 * - github.com/prometheus/client_golang: Saga outcome metrics.
 * - internal/domain, internal/store: Domain models, typed failures, record store.
 * - pkg/ledgerclient, pkg/rabbitmq: Ledger movements and outcome events.
 */

package app

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bankmore/transfer-service/internal/domain"
	"github.com/bankmore/transfer-service/internal/store"
	"github.com/bankmore/transfer-service/pkg/ledgerclient"
	"github.com/bankmore/transfer-service/pkg/rabbitmq"
)

// compensationSuffix distinguishes the corrective credit's idempotency token
// from the original request's, so the ledger treats it as a new movement.
const compensationSuffix = "-COMP"

var defaultCompensationDelays = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

var (
	transferOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transfer_service_outcomes_total",
		Help: "Terminal transfer outcomes by status",
	}, []string{"status"})

	compensationAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transfer_service_compensation_attempts_total",
		Help: "Compensation credit attempts issued against the ledger",
	})

	compensationExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transfer_service_compensation_exhausted_total",
		Help: "Compensations that exhausted all retries and require manual intervention",
	})
)

// LedgerClient is the capability the saga needs from the external ledger
// service: apply one signed monetary movement.
type LedgerClient interface {
	CreateMovement(ctx context.Context, movement ledgerclient.MovementRequest, credential string) error
}

// Service orchestrates transfer sagas.
type Service struct {
	repo   store.Repository
	ledger LedgerClient
	events rabbitmq.Publisher

	// compensationDelays and sleep are overridable so tests can run the
	// backoff schedule without real waiting.
	compensationDelays []time.Duration
	sleep              func(time.Duration)
}

// NewService creates a new transfer service instance.
func NewService(repo store.Repository, ledger LedgerClient, events rabbitmq.Publisher) *Service {
	return &Service{
		repo:               repo,
		ledger:             ledger,
		events:             events,
		compensationDelays: defaultCompensationDelays,
		sleep:              time.Sleep,
	}
}

// ExecuteTransfer runs the transfer saga for one intent. It returns nil on
// success, a *domain.TransferError for classified failures, and a
// *domain.CompensationError when the corrective credit itself failed.
func (s *Service) ExecuteTransfer(ctx context.Context, intent domain.TransferIntent) error {
	if err := validateIntent(intent); err != nil {
		return err
	}

	log.Printf("level=info component=orchestrator msg=\"starting transfer\" request_id=%s origin=%s destination=%s amount=%d",
		intent.RequestID, intent.OriginAccountID, intent.DestinationAccountNumber, intent.Amount)

	existing, err := s.repo.FindByOriginAndRequestID(ctx, intent.OriginAccountID, intent.RequestID)
	if err != nil {
		log.Printf("level=error component=orchestrator msg=\"idempotency lookup failed\" request_id=%s err=%v", intent.RequestID, err)
		return domain.NewTransferError("Internal error processing transfer", domain.KindInternalError)
	}
	if existing != nil {
		return s.replayOutcome(intent, existing)
	}

	record := domain.NewTransfer(intent.RequestID, intent.OriginAccountID, intent.DestinationAccountNumber, intent.Amount)

	// From here on the saga must run to a terminal state even if the caller
	// goes away: a timeout mid-debit could otherwise abandon an applied
	// movement with no record and no reversal.
	sagaCtx := context.WithoutCancel(ctx)

	// Leg 1: debit the origin account. No account number means the ledger
	// applies the movement to the account identified by the credential.
	debit := ledgerclient.MovementRequest{
		RequestID: intent.RequestID,
		Amount:    intent.Amount,
		Kind:      ledgerclient.MovementDebit,
	}
	if err := s.ledger.CreateMovement(sagaCtx, debit, intent.Credential); err != nil {
		// Origin-leg failure: nothing to compensate.
		failure := classify(err, intent.RequestID, "debit")
		log.Printf("level=warn component=orchestrator msg=\"debit leg failed\" request_id=%s kind=%s err=%v", intent.RequestID, failure.Kind, err)
		record.MarkFailed(failure.Message, failure.Kind)
		if persistErr := s.persistOutcome(sagaCtx, record); persistErr != nil {
			return persistErr
		}
		s.publishOutcome(sagaCtx, record)
		return failure
	}

	// Leg 2: credit the destination account.
	destination := intent.DestinationAccountNumber
	credit := ledgerclient.MovementRequest{
		RequestID:     intent.RequestID,
		AccountNumber: &destination,
		Amount:        intent.Amount,
		Kind:          ledgerclient.MovementCredit,
	}
	if err := s.ledger.CreateMovement(sagaCtx, credit, intent.Credential); err != nil {
		// Destination-leg failure: the debit already took effect, so
		// compensation is mandatory regardless of the failure's classification.
		failure := classify(err, intent.RequestID, "credit")
		log.Printf("level=warn component=orchestrator msg=\"credit leg failed; starting compensation\" request_id=%s kind=%s err=%v", intent.RequestID, failure.Kind, err)
		return s.compensate(sagaCtx, intent, record, failure)
	}

	record.Status = domain.StatusSuccess
	if persistErr := s.persistOutcome(sagaCtx, record); persistErr != nil {
		return persistErr
	}
	log.Printf("level=info component=orchestrator msg=\"transfer completed\" request_id=%s transfer_id=%s", intent.RequestID, record.ID)
	s.publishOutcome(sagaCtx, record)
	return nil
}

// replayOutcome derives the response for a duplicate submission from the
// stored record, without re-executing any remote effect.
func (s *Service) replayOutcome(intent domain.TransferIntent, existing *domain.Transfer) error {
	log.Printf("level=info component=orchestrator msg=\"duplicate request; replaying stored outcome\" request_id=%s status=%s", intent.RequestID, existing.Status)

	message := "Transfer failed previously"
	kind := "TRANSFER_FAILED"
	if existing.ErrorMessage != nil {
		message = *existing.ErrorMessage
	}
	if existing.ErrorKind != nil {
		kind = *existing.ErrorKind
	}

	switch existing.Status {
	case domain.StatusSuccess:
		return nil
	case domain.StatusCompensationFailed:
		return domain.NewCompensationError(message)
	case domain.StatusFailed, domain.StatusCompensated:
		return domain.NewTransferError(message, kind)
	default:
		return nil
	}
}

// compensate issues the corrective credit back to the origin account, bounded
// to len(compensationDelays) attempts with the configured backoff between
// them. Whatever happens, the saga terminates in Compensated or
// CompensationFailed; the failure is never silently dropped.
func (s *Service) compensate(ctx context.Context, intent domain.TransferIntent, record *domain.Transfer, original *domain.TransferError) error {
	maxAttempts := len(s.compensationDelays)
	movement := ledgerclient.MovementRequest{
		RequestID: intent.RequestID + compensationSuffix,
		Amount:    intent.Amount,
		Kind:      ledgerclient.MovementCredit,
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		log.Printf("level=info component=orchestrator msg=\"compensation attempt\" request_id=%s attempt=%d max=%d", intent.RequestID, attempt, maxAttempts)
		compensationAttempts.Inc()

		err := s.ledger.CreateMovement(ctx, movement, intent.Credential)
		if err == nil {
			log.Printf("level=info component=orchestrator msg=\"compensation succeeded\" request_id=%s attempt=%d", intent.RequestID, attempt)
			record.MarkCompensated(original.Message, original.Kind)
			if persistErr := s.persistOutcome(ctx, record); persistErr != nil {
				return persistErr
			}
			s.publishOutcome(ctx, record)
			// The transfer did not happen, but the ledger was restored: the
			// caller receives the original credit failure.
			return original
		}

		log.Printf("level=warn component=orchestrator msg=\"compensation attempt failed\" request_id=%s attempt=%d err=%v", intent.RequestID, attempt, err)
		if attempt < maxAttempts {
			s.sleep(s.compensationDelays[attempt-1])
		}
	}

	compensationExhausted.Inc()
	log.Printf("level=critical component=orchestrator msg=\"COMPENSATION FAILED after all attempts; manual intervention required\" request_id=%s origin=%s amount=%d attempts=%d",
		intent.RequestID, intent.OriginAccountID, intent.Amount, maxAttempts)

	failure := domain.NewCompensationError("Critical compensation failure after retries. Contact support.")
	record.MarkCompensationFailed(failure.Message)
	if persistErr := s.persistOutcome(ctx, record); persistErr != nil {
		return persistErr
	}
	s.publishOutcome(ctx, record)
	return failure
}

// persistOutcome writes the terminal record exactly once. A duplicate-key
// collision means a concurrent submission won the race after both passed the
// idempotency check; the remote work is already done, so the computed outcome
// stands and the collision is only logged.
func (s *Service) persistOutcome(ctx context.Context, record *domain.Transfer) error {
	err := s.repo.CreateTransfer(ctx, record)
	if err == nil {
		transferOutcomes.WithLabelValues(string(record.Status)).Inc()
		return nil
	}
	if errors.Is(err, store.ErrDuplicateTransfer) {
		log.Printf("level=warn component=orchestrator msg=\"concurrent duplicate detected at terminal write\" request_id=%s origin=%s", record.RequestID, record.OriginAccountID)
		transferOutcomes.WithLabelValues(string(record.Status)).Inc()
		return nil
	}
	log.Printf("level=error component=orchestrator msg=\"failed to persist transfer record\" request_id=%s status=%s err=%v", record.RequestID, record.Status, err)
	return domain.NewTransferError("Internal error processing transfer", domain.KindInternalError)
}

// publishOutcome emits the terminal outcome event, best-effort. The
// compensation-failed event uses its own routing key so operators can page on
// it directly.
func (s *Service) publishOutcome(ctx context.Context, record *domain.Transfer) {
	if s.events == nil {
		return
	}

	routingKey := rabbitmq.TransferCompletedKey
	switch record.Status {
	case domain.StatusFailed:
		routingKey = rabbitmq.TransferFailedKey
	case domain.StatusCompensated:
		routingKey = rabbitmq.TransferCompensatedKey
	case domain.StatusCompensationFailed:
		routingKey = rabbitmq.TransferCompensationFailedKey
	}

	event := rabbitmq.TransferOutcomeEvent{
		TransferID:      record.ID,
		RequestID:       record.RequestID,
		OriginAccountID: record.OriginAccountID,
		Amount:          record.Amount,
		Status:          string(record.Status),
		Timestamp:       time.Now().UTC(),
	}
	if record.ErrorKind != nil {
		event.ErrorKind = *record.ErrorKind
	}

	if err := s.events.Publish(ctx, rabbitmq.EventsExchange, routingKey, event); err != nil {
		log.Printf("level=warn component=orchestrator msg=\"outcome event publish failed\" request_id=%s routing_key=%s err=%v", record.RequestID, routingKey, err)
	}
}

// classify turns a ledger client error into a typed failure. The ledger client
// already produces TransferError values for everything it understands; anything
// else is a programming or infrastructure fault and is downgraded to
// INTERNAL_ERROR so internal detail never reaches the caller.
func classify(err error, requestID, leg string) *domain.TransferError {
	if te, ok := domain.AsTransferError(err); ok {
		return te
	}
	log.Printf("level=error component=orchestrator msg=\"unexpected error on transfer leg\" request_id=%s leg=%s err=%v", requestID, leg, err)
	return domain.NewTransferError("Internal error processing transfer", domain.KindInternalError)
}

func validateIntent(intent domain.TransferIntent) error {
	switch {
	case intent.RequestID == "":
		return domain.NewTransferError("Request id is required", domain.KindValidationError)
	case intent.OriginAccountID == uuid.Nil:
		return domain.NewTransferError("Origin account is required", domain.KindValidationError)
	case intent.DestinationAccountNumber == "":
		return domain.NewTransferError("Destination account number is required", domain.KindValidationError)
	case intent.Amount <= 0:
		return domain.NewTransferError("Amount must be greater than zero", domain.KindValidationError)
	case intent.Credential == "":
		return domain.NewTransferError("Authorization credential is required", domain.KindValidationError)
	}
	return nil
}
