// Package api provides HTTP API handlers.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/multaszero/recurso/internal/analyzer"
	"github.com/multaszero/recurso/internal/appeal"
	"github.com/multaszero/recurso/internal/models"
	"github.com/multaszero/recurso/internal/payment"
)

// Analyzer produces a FineAnalysis from a fine notice photograph.
type Analyzer interface {
	Analyze(ctx context.Context, imageBase64 string) (*models.FineAnalysis, error)
}

// AppealWriter produces the defense document text.
type AppealWriter interface {
	Generate(ctx context.Context, analysis *models.FineAnalysis, user *models.UserDetails) (string, error)
}

// Handler contains all HTTP handlers.
type Handler struct {
	analyzer Analyzer
	writer   AppealWriter
	checkout payment.Checkout
}

// NewHandler creates a new handler. checkout may be nil when no payment
// provider is configured; the checkout endpoints then report a server error.
func NewHandler(analyzer Analyzer, writer AppealWriter, checkout payment.Checkout) *Handler {
	return &Handler{
		analyzer: analyzer,
		writer:   writer,
		checkout: checkout,
	}
}

// HealthCheck returns the service health status.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "healthy",
		"version":   "1.0.0",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	writeJSON(w, http.StatusOK, response)
}

// Analyze handles fine image analysis requests. Upstream model failures
// degrade to the canned fallback analysis rather than an error status; the
// quota middleware answers 429 before this handler runs.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	var req models.AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Image == "" {
		writeError(w, http.StatusBadRequest, "Image is required")
		return
	}

	analysis, err := h.analyzer.Analyze(r.Context(), req.Image)
	if err != nil || analysis == nil {
		log.Error().Err(err).Msg("Analysis failed, serving fallback")
		analysis = analyzer.FallbackAnalysis()
	}

	writeJSON(w, http.StatusOK, models.AnalyzeResponse{
		FineAnalysis: *analysis,
		Remaining:    remainingQuota(w),
	})
}

// remainingQuota reads the remaining allowance the quota middleware put on
// the response headers.
func remainingQuota(w http.ResponseWriter) int {
	remaining, err := strconv.Atoi(w.Header().Get("X-RateLimit-Remaining"))
	if err != nil {
		return 0
	}
	return remaining
}

// GenerateAppeal handles appeal document generation requests.
func (h *Handler) GenerateAppeal(w http.ResponseWriter, r *http.Request) {
	var req models.AppealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Analysis == nil || req.User == nil {
		writeError(w, http.StatusBadRequest, "Analysis and user data are required")
		return
	}

	text, err := h.writer.Generate(r.Context(), req.Analysis, req.User)
	if err != nil {
		log.Error().Err(err).Msg("Appeal generation failed")
		writeError(w, http.StatusInternalServerError, appeal.ErrorText)
		return
	}

	writeJSON(w, http.StatusOK, models.AppealResponse{AppealText: text})
}

// CreateCheckout opens a payment session for unlocking one analysis.
func (h *Handler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req models.CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.AnalysisID == "" {
		writeError(w, http.StatusBadRequest, "analysisId is required")
		return
	}

	if h.checkout == nil {
		writeError(w, http.StatusInternalServerError, "Payment provider not configured")
		return
	}

	sess, err := h.checkout.CreateSession(r.Context(), req.AnalysisID)
	if err != nil {
		log.Error().Err(err).Str("analysis_id", req.AnalysisID).Msg("Failed to create checkout session")
		writeError(w, http.StatusInternalServerError, "Failed to create checkout session")
		return
	}

	writeJSON(w, http.StatusOK, models.CheckoutResponse{
		SessionID: sess.ID,
		URL:       sess.URL,
	})
}

// VerifyPayment reports whether a checkout session was paid. Safe to call
// repeatedly; retrieval has no side effects at the provider.
func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	if h.checkout == nil {
		writeError(w, http.StatusInternalServerError, "Payment provider not configured")
		return
	}

	result, err := h.checkout.VerifySession(r.Context(), sessionID)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("Payment verification failed")
		writeError(w, http.StatusInternalServerError, "Failed to verify payment")
		return
	}

	writeJSON(w, http.StatusOK, models.VerifyPaymentResponse{
		Paid:          result.Paid,
		AnalysisID:    result.AnalysisID,
		CustomerEmail: result.CustomerEmail,
	})
}

// Helper functions
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
