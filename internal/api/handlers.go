/**
 * @description
 * This file contains the HTTP handlers for the transfer-service's API
 * endpoints. Handlers parse incoming requests into transfer intents, call the
 * orchestrator, and map its typed outcomes onto transport-level responses.
 * Every failure response carries a human-readable message and a
 * machine-readable failureType.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - github.com/prometheus/client_golang: HTTP metrics.
 * - internal/app, internal/domain: Orchestrator and typed failures.
 */

package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bankmore/transfer-service/internal/app"
	"github.com/bankmore/transfer-service/internal/domain"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transfer_service_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "transfer_service_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
	}, []string{"method", "endpoint"})
)

// RateLimiter counts one submission for a subject and reports how long to wait
// once the limit is exceeded. Implemented by app.RedisTransferRateLimiter.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// HealthChecker reports readiness of one dependency.
type HealthChecker func(ctx context.Context) error

// TransferHandlers holds the orchestrator and the optional rate limiter.
type TransferHandlers struct {
	service *app.Service

	rateLimiter    RateLimiter
	rateLimit      int
	rateWindow     time.Duration
	readinessProbe map[string]HealthChecker
}

// NewTransferHandlers creates a new instance of TransferHandlers.
func NewTransferHandlers(service *app.Service) *TransferHandlers {
	return &TransferHandlers{
		service:        service,
		rateWindow:     time.Minute,
		readinessProbe: map[string]HealthChecker{},
	}
}

// SetRateLimiter enables per-origin-account submission rate limiting.
func (h *TransferHandlers) SetRateLimiter(limiter RateLimiter, perMinute int) {
	h.rateLimiter = limiter
	h.rateLimit = perMinute
}

// AddReadinessCheck registers a named dependency probe for /health/ready.
func (h *TransferHandlers) AddReadinessCheck(name string, check HealthChecker) {
	h.readinessProbe[name] = check
}

// createTransferRequest is the DTO for POST /transfers. The amount is in
// centavos; the origin account never appears here, it comes from the token.
type createTransferRequest struct {
	RequestID                string `json:"requestId"`
	DestinationAccountNumber string `json:"destinationAccountNumber"`
	Amount                   int64  `json:"amount"`
}

// errorResponse is the uniform failure body.
type errorResponse struct {
	Message     string `json:"message"`
	FailureType string `json:"failureType"`
}

// CreateTransferHandler handles POST /transfers.
func (h *TransferHandlers) CreateTransferHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/transfers"))
	defer timer.ObserveDuration()

	originAccountID, ok := GetOriginAccountID(r.Context())
	if !ok {
		h.writeError(w, http.StatusForbidden, "Account id not found in token", domain.KindUnauthorized)
		return
	}
	credential, ok := GetCredential(r.Context())
	if !ok {
		h.writeError(w, http.StatusForbidden, "Authorization credential not found", domain.KindUnauthorized)
		return
	}

	if h.rateLimiter != nil && h.rateLimit > 0 {
		count, retryAfter, err := h.rateLimiter.ConsumeRateLimit(r.Context(), originAccountID.String(), h.rateLimit, h.rateWindow)
		if err != nil {
			// Limiter trouble must not block transfers.
			log.Printf("level=warn component=api endpoint=create_transfer msg=\"rate limiter unavailable; allowing request\" err=%v", err)
		} else if count > h.rateLimit {
			log.Printf("level=warn component=api endpoint=create_transfer outcome=rate_limited origin=%s count=%d limit=%d", originAccountID, count, h.rateLimit)
			h.writeErrorWithRetry(w, http.StatusTooManyRequests, "Too many transfer submissions. Please wait and try again.", "RATE_LIMITED", retryAfter)
			return
		}
	}

	var req createTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=create_transfer outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, "Invalid request body", domain.KindValidationError)
		return
	}

	intent := domain.TransferIntent{
		RequestID:                req.RequestID,
		OriginAccountID:          originAccountID,
		DestinationAccountNumber: req.DestinationAccountNumber,
		Amount:                   req.Amount,
		Credential:               credential,
	}

	log.Printf("level=info component=api endpoint=create_transfer outcome=accepted request_id=%s origin=%s amount=%d", req.RequestID, originAccountID, req.Amount)

	err := h.service.ExecuteTransfer(r.Context(), intent)
	if err != nil {
		h.writeTransferFailure(w, req.RequestID, err)
		return
	}

	httpRequestsTotal.WithLabelValues("POST", "/transfers", "204").Inc()
	w.WriteHeader(http.StatusNoContent)
}

// writeTransferFailure maps orchestrator failures onto HTTP statuses:
// compensation failures are server errors distinct from ordinary business
// failures; credential rejections are forbidden; validation and ledger
// rejections are client errors with message and kind surfaced verbatim.
func (h *TransferHandlers) writeTransferFailure(w http.ResponseWriter, requestID string, err error) {
	if ce, ok := domain.AsCompensationError(err); ok {
		log.Printf("level=error component=api endpoint=create_transfer outcome=compensation_failed request_id=%s", requestID)
		h.writeError(w, http.StatusInternalServerError, ce.Message, domain.KindCompensationError)
		return
	}

	if te, ok := domain.AsTransferError(err); ok {
		switch te.Kind {
		case domain.KindUnauthorized:
			h.writeError(w, http.StatusForbidden, te.Message, te.Kind)
		case domain.KindInternalError:
			h.writeError(w, http.StatusInternalServerError, te.Message, te.Kind)
		default:
			h.writeError(w, http.StatusBadRequest, te.Message, te.Kind)
		}
		return
	}

	log.Printf("level=error component=api endpoint=create_transfer outcome=error request_id=%s err=%v", requestID, err)
	h.writeError(w, http.StatusInternalServerError, "Internal server error", domain.KindInternalError)
}

// HealthHandler is the liveness probe.
func (h *TransferHandlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("healthy"))
}

// ReadyHandler runs every registered dependency probe and reports per-check
// status, 503 when any dependency is down.
func (h *TransferHandlers) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(h.readinessProbe))
	for name, check := range h.readinessProbe {
		if err := check(ctx); err != nil {
			log.Printf("level=warn component=api endpoint=ready check=%s msg=\"dependency unhealthy\" err=%v", name, err)
			checks[name] = "unhealthy"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "healthy"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(checks)
}

func (h *TransferHandlers) writeError(w http.ResponseWriter, status int, message, failureType string) {
	httpRequestsTotal.WithLabelValues("POST", "/transfers", strconv.Itoa(status)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Message: message, FailureType: failureType})
}

func (h *TransferHandlers) writeErrorWithRetry(w http.ResponseWriter, status int, message, failureType string, retryAfterSeconds int) {
	if retryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	h.writeError(w, status, message, failureType)
}
