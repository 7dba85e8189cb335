// Package session implements the orchestration state machine that drives a
// user's case from upload through analysis, payment gating, and appeal
// generation into persisted history.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/multaszero/recurso/internal/appeal"
	"github.com/multaszero/recurso/internal/database"
	"github.com/multaszero/recurso/internal/models"
	"github.com/multaszero/recurso/internal/payment"
)

// Step identifies the current position in the flow.
type Step string

const (
	StepUpload     Step = "upload"
	StepAnalyzing  Step = "analyzing"
	StepDetails    Step = "details"
	StepGenerating Step = "generating"
	StepResult     Step = "result"
	StepHistory    Step = "history"
)

// AnalysisFailedMessage is surfaced when the analyzer cannot be reached.
const AnalysisFailedMessage = "Não foi possível analisar a imagem. Tente novamente com uma foto mais clara."

// CheckoutFailedMessage is surfaced when the payment provider cannot open a session.
const CheckoutFailedMessage = "Não foi possível iniciar o pagamento. Tente novamente."

var (
	// ErrWrongStep is returned when an operation is not reachable from
	// the current step.
	ErrWrongStep = errors.New("operation not available in current step")

	// ErrLocked is returned when the appeal flow is requested for an
	// analysis that has not been paid for.
	ErrLocked = errors.New("analysis is not unlocked")
)

// Analyzer is the external image-analysis collaborator.
type Analyzer interface {
	Analyze(ctx context.Context, imageBase64 string) (*models.FineAnalysis, error)
}

// AppealWriter is the external document-generation collaborator.
type AppealWriter interface {
	Generate(ctx context.Context, analysis *models.FineAnalysis, user *models.UserDetails) (string, error)
}

// Machine owns the current step and transient case state, and drives the
// gateways and stores. One machine serves one logical user session; at most
// one gateway call is in flight because every call is gated behind a step
// transition only reachable from one state.
type Machine struct {
	mu       sync.Mutex
	store    database.Store
	analyzer Analyzer
	writer   AppealWriter
	checkout payment.Checkout

	step             Step
	analysis         *models.FineAnalysis
	details          *models.UserDetails
	appealText       string
	errMsg           string
	currentID        string
	paymentConfirmed bool

	// Session-local cache over the durable unlock store; the store is the
	// source of truth, this only spares a lookup per render.
	unlocked map[string]bool
}

// NewMachine creates a machine in the Upload step.
func NewMachine(store database.Store, analyzer Analyzer, writer AppealWriter, checkout payment.Checkout) *Machine {
	return &Machine{
		store:    store,
		analyzer: analyzer,
		writer:   writer,
		checkout: checkout,
		step:     StepUpload,
		unlocked: make(map[string]bool),
	}
}

// View is a consistent snapshot of the machine for rendering.
type View struct {
	Step             Step
	Analysis         *models.FineAnalysis
	Details          *models.UserDetails
	AppealText       string
	Error            string
	CurrentID        string
	Unlocked         bool
	PaymentConfirmed bool
}

// View returns a render snapshot. An existing appeal document is always
// viewable; otherwise the gated view asks the unlock stores.
func (m *Machine) View(ctx context.Context) View {
	m.mu.Lock()
	v := View{
		Step:             m.step,
		Analysis:         m.analysis,
		Details:          m.details,
		AppealText:       m.appealText,
		Error:            m.errMsg,
		CurrentID:        m.currentID,
		PaymentConfirmed: m.paymentConfirmed,
	}
	id := m.currentID
	m.mu.Unlock()

	if v.AppealText == "" && v.Analysis != nil && id != "" {
		v.Unlocked = m.IsUnlocked(ctx, id)
	}
	if v.AppealText != "" {
		// Once generated, always viewable.
		v.Unlocked = true
	}
	return v
}

// SubmitImage runs the analysis flow: Upload -> Analyzing -> Result on
// success, back to Upload with a user-facing message on failure. A new
// history item with status Aguardando Recurso is persisted on success.
func (m *Machine) SubmitImage(ctx context.Context, imageBase64 string) error {
	m.mu.Lock()
	if m.step != StepUpload {
		m.mu.Unlock()
		return ErrWrongStep
	}
	m.step = StepAnalyzing
	m.errMsg = ""
	m.analysis = nil
	m.appealText = ""
	m.currentID = ""
	m.details = nil
	m.mu.Unlock()

	analysis, err := m.analyzer.Analyze(ctx, imageBase64)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.step != StepAnalyzing {
		// Reset while the call was in flight; drop the late result.
		log.Debug().Msg("Discarding stale analysis result")
		return nil
	}

	if err != nil {
		log.Error().Err(err).Msg("Analysis failed")
		m.errMsg = AnalysisFailedMessage
		m.step = StepUpload
		return err
	}

	id := uuid.New().String()
	item := &models.FineHistoryItem{
		ID:        id,
		Timestamp: time.Now(),
		Analysis:  *analysis,
		Status:    models.StatusAwaitingAppeal,
	}
	if err := m.store.UpsertHistory(ctx, item); err != nil {
		log.Error().Err(err).Str("id", id).Msg("Failed to persist history item")
	}

	m.analysis = analysis
	m.currentID = id
	m.step = StepResult
	return nil
}

// RequestAppeal moves Result -> Details. Only reachable when the current
// analysis is unlocked and no document exists yet.
func (m *Machine) RequestAppeal(ctx context.Context) error {
	m.mu.Lock()
	if m.step != StepResult || m.analysis == nil || m.currentID == "" || m.appealText != "" {
		m.mu.Unlock()
		return ErrWrongStep
	}
	id := m.currentID
	m.mu.Unlock()

	if !m.IsUnlocked(ctx, id) {
		return ErrLocked
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.step != StepResult || m.currentID != id {
		return ErrWrongStep
	}
	m.step = StepDetails
	return nil
}

// SubmitDetails runs the generation flow: Details -> Generating -> Result.
// Success and failure both resolve to Result; on success the history item is
// upserted with the details, document, and status Recurso Gerado.
func (m *Machine) SubmitDetails(ctx context.Context, details *models.UserDetails) error {
	if details == nil || !details.Complete() {
		return fmt.Errorf("all identity fields except CC number are required")
	}

	m.mu.Lock()
	if m.step != StepDetails || m.analysis == nil || m.currentID == "" {
		m.mu.Unlock()
		return ErrWrongStep
	}
	m.step = StepGenerating
	m.details = details
	analysis := m.analysis
	id := m.currentID
	m.mu.Unlock()

	text, err := m.writer.Generate(ctx, analysis, details)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.step != StepGenerating || m.currentID != id {
		log.Debug().Str("id", id).Msg("Discarding stale appeal document")
		return nil
	}

	if err != nil {
		log.Error().Err(err).Str("id", id).Msg("Appeal generation failed")
		// The document view must always have something to show.
		m.appealText = appeal.ErrorText
		m.step = StepResult
		return nil
	}

	m.appealText = text

	item, loadErr := m.store.GetHistoryItem(ctx, id)
	if loadErr != nil || item == nil {
		log.Error().Err(loadErr).Str("id", id).Msg("History item missing during appeal update")
	} else {
		item.UserDetails = details
		item.AppealText = text
		item.Status = models.StatusAppealGenerated
		if err := m.store.UpsertHistory(ctx, item); err != nil {
			log.Error().Err(err).Str("id", id).Msg("Failed to update history item")
		}
	}

	m.step = StepResult
	return nil
}

// BeginCheckout opens a payment session for the current gated analysis and
// returns the URL to redirect the user to. A provider failure leaves the
// machine on the gated result view with a dismissible error.
func (m *Machine) BeginCheckout(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.step != StepResult || m.currentID == "" || m.appealText != "" {
		m.mu.Unlock()
		return "", ErrWrongStep
	}
	id := m.currentID
	m.mu.Unlock()

	if m.checkout == nil {
		return "", fmt.Errorf("payment provider not configured")
	}

	sess, err := m.checkout.CreateSession(ctx, id)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		log.Error().Err(err).Str("id", id).Msg("Failed to create checkout session")
		m.errMsg = CheckoutFailedMessage
		return "", err
	}
	return sess.URL, nil
}

// HandlePaymentReturn reconciles the return navigation from the payment
// provider. Verification is idempotent; the unlock store records at most one
// unlock per analysis no matter how often a reload re-triggers this.
func (m *Machine) HandlePaymentReturn(ctx context.Context, sessionID, analysisID string) (bool, error) {
	if m.checkout == nil {
		return false, fmt.Errorf("payment provider not configured")
	}

	result, err := m.checkout.VerifySession(ctx, sessionID)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("Payment verification failed")
		m.mu.Lock()
		m.errMsg = CheckoutFailedMessage
		m.mu.Unlock()
		return false, err
	}

	if !result.Paid {
		return false, nil
	}

	id := result.AnalysisID
	if id == "" {
		id = analysisID
	}

	if err := m.store.MarkUnlocked(ctx, id, sessionID); err != nil {
		log.Error().Err(err).Str("id", id).Msg("Failed to record unlock")
	}

	item, err := m.store.GetHistoryItem(ctx, id)
	if err != nil {
		log.Error().Err(err).Str("id", id).Msg("Failed to load history item after payment")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.unlocked[id] = true
	m.paymentConfirmed = true
	m.errMsg = ""

	if item != nil {
		m.restoreItem(item)
		m.step = StepResult
	}

	return true, nil
}

// ShowHistory switches to the history list without touching transient state.
func (m *Machine) ShowHistory() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.step = StepHistory
}

// History returns all persisted cases, most recent first.
func (m *Machine) History(ctx context.Context) ([]models.FineHistoryItem, error) {
	items, err := m.store.LoadHistory(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Timestamp.After(items[j].Timestamp)
	})
	return items, nil
}

// SelectHistoryItem loads a past case as current and routes to Result. A
// finished case restores its document and details; an unfinished one renders
// the gated analysis view.
func (m *Machine) SelectHistoryItem(ctx context.Context, id string) error {
	item, err := m.store.GetHistoryItem(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load history item: %w", err)
	}
	if item == nil {
		return fmt.Errorf("history item %s not found", id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.restoreItem(item)
	m.errMsg = ""
	m.step = StepResult
	return nil
}

// restoreItem loads a persisted case into the transient fields.
// Caller holds the lock.
func (m *Machine) restoreItem(item *models.FineHistoryItem) {
	analysis := item.Analysis
	m.analysis = &analysis
	m.currentID = item.ID

	if item.AppealText != "" && item.UserDetails != nil {
		m.details = item.UserDetails
		m.appealText = item.AppealText
	} else {
		m.details = nil
		m.appealText = ""
	}
}

// Reset returns to Upload from any step, clearing all transient fields.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.step = StepUpload
	m.analysis = nil
	m.details = nil
	m.appealText = ""
	m.errMsg = ""
	m.currentID = ""
	m.paymentConfirmed = false
}

// IsUnlocked checks the session cache first, then the durable store,
// caching a positive answer.
func (m *Machine) IsUnlocked(ctx context.Context, id string) bool {
	m.mu.Lock()
	if m.unlocked[id] {
		m.mu.Unlock()
		return true
	}
	m.mu.Unlock()

	ok, err := m.store.IsUnlocked(ctx, id)
	if err != nil {
		log.Error().Err(err).Str("id", id).Msg("Unlock lookup failed")
		return false
	}
	if ok {
		m.mu.Lock()
		m.unlocked[id] = true
		m.mu.Unlock()
	}
	return ok
}

// Step returns the current step.
func (m *Machine) Step() Step {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.step
}

// ClearError dismisses the current user-facing error message.
func (m *Machine) ClearError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errMsg = ""
}

// AcknowledgePayment hides the payment confirmation banner.
func (m *Machine) AcknowledgePayment() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paymentConfirmed = false
}
