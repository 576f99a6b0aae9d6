/**
 * @description
 * This package provides a client for the external account ledger service. It
 * encapsulates the logic for posting signed monetary movements (debits and
 * credits) and translates the ledger's error responses into the service's
 * typed failure taxonomy, so the orchestrator can branch on failure kinds
 * without inspecting transport internals.
 *
 * @dependencies
 * - bytes, context, encoding/json, net/http, time: Standard Go libraries.
 * - internal/domain: For the typed TransferError values.
 */
package ledgerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/bankmore/transfer-service/internal/domain"
)

// Movement kinds accepted by the ledger service.
const (
	MovementDebit  = "D"
	MovementCredit = "C"
)

// Client is a client for the account ledger service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new ledger service client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// MovementRequest is the payload for POST /movements. A nil AccountNumber means
// "apply to the account identified by the credential", which is how the debit
// leg and the compensation credit address the origin account.
type MovementRequest struct {
	RequestID     string  `json:"requestId"`
	AccountNumber *string `json:"accountNumber"`
	Amount        int64   `json:"amount"` // in centavos
	Kind          string  `json:"type"`   // MovementDebit or MovementCredit
}

// errorResponse is the structured business rejection body returned by the
// ledger service on 400 responses.
type errorResponse struct {
	Message     string `json:"message"`
	FailureType string `json:"failureType"`
}

// CreateMovement posts one monetary movement to the ledger service, forwarding
// the caller's bearer credential. Every failure comes back as a typed
// *domain.TransferError; the kind of a structured business rejection (e.g.
// INSUFFICIENT_BALANCE) is taken verbatim from the remote response.
func (c *Client) CreateMovement(ctx context.Context, movement MovementRequest, credential string) error {
	body, err := json.Marshal(movement)
	if err != nil {
		return fmt.Errorf("failed to marshal movement request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/movements", bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create movement request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+credential)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			log.Printf("level=error component=ledger_client op=create_movement request_id=%s msg=\"ledger service timed out\" err=%v", movement.RequestID, err)
			return domain.NewTransferError("Timeout communicating with account ledger service", domain.KindLedgerTimeout)
		}
		log.Printf("level=error component=ledger_client op=create_movement request_id=%s msg=\"ledger service unreachable\" err=%v", movement.RequestID, err)
		return domain.NewTransferError("Failed to communicate with account ledger service", domain.KindLedgerUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	bodyBytes, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		bodyBytes = nil
	}

	switch resp.StatusCode {
	case http.StatusForbidden:
		log.Printf("level=warn component=ledger_client op=create_movement request_id=%s status=%d msg=\"credential rejected\"", movement.RequestID, resp.StatusCode)
		return domain.NewTransferError("Invalid or expired token", domain.KindUnauthorized)
	case http.StatusBadRequest:
		var rejection errorResponse
		if err := json.Unmarshal(bodyBytes, &rejection); err == nil && rejection.FailureType != "" {
			log.Printf("level=warn component=ledger_client op=create_movement request_id=%s status=%d failure_type=%s", movement.RequestID, resp.StatusCode, rejection.FailureType)
			return domain.NewTransferError(rejection.Message, rejection.FailureType)
		}
		// Unparsable 400 falls through to the generic ledger error.
	}

	log.Printf("level=error component=ledger_client op=create_movement request_id=%s status=%d body=%q", movement.RequestID, resp.StatusCode, truncate(bodyBytes, 256))
	return domain.NewTransferError(
		fmt.Sprintf("Account ledger service returned status %d", resp.StatusCode),
		domain.KindLedgerError,
	)
}

// Health probes the ledger service's health endpoint. Used by the readiness
// check, not by the saga.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ledger service unreachable: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ledger service health returned status %d", resp.StatusCode)
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr) && urlErr.Timeout()
}

func truncate(b []byte, limit int) string {
	if len(b) <= limit {
		return string(b)
	}
	return string(b[:limit])
}
