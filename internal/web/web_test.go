package web

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/multaszero/recurso/internal/api"
	"github.com/multaszero/recurso/internal/config"
	"github.com/multaszero/recurso/internal/database"
	"github.com/multaszero/recurso/internal/models"
	"github.com/multaszero/recurso/internal/session"
)

type countingAnalyzer struct {
	calls int64
}

func (a *countingAnalyzer) Analyze(ctx context.Context, imageBase64 string) (*models.FineAnalysis, error) {
	atomic.AddInt64(&a.calls, 1)
	return &models.FineAnalysis{
		Probability:      models.ProbabilityMedium,
		ProbabilityScore: 65,
		ErrorsFound:      []string{"descrição dos factos insuficiente"},
		Summary:          "Infração detetada.",
		InfractionType:   "Excesso de velocidade",
		LegislationRef:   "Art. 27º CE",
	}, nil
}

type stubWriter struct{}

func (w *stubWriter) Generate(ctx context.Context, analysis *models.FineAnalysis, user *models.UserDetails) (string, error) {
	return "Exmo. Sr. Presidente...", nil
}

func newTestStore(t *testing.T) *database.SQLiteStore {
	t.Helper()
	store, err := database.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func uploadRequest(t *testing.T) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("image", "multa.jpg")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte("fake-jpeg-bytes"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// Uploads through the frontend and JSON analyze calls draw from the same
// daily allowance.
func TestUploadSharesAnalysisQuota(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimits.AnalysesPerDay = 2

	analyzer := &countingAnalyzer{}
	machine := session.NewMachine(newTestStore(t), analyzer, &stubWriter{}, nil)

	quota := api.QuotaMiddleware(cfg.RateLimits.AnalysesPerDay)
	ui := NewUI(machine, quota, cfg.Payment.PriceCents).Routes()
	router := api.NewRouter(cfg, api.NewHandler(analyzer, &stubWriter{}, nil), ui, quota)

	// First analysis through the frontend.
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, uploadRequest(t))
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("upload: status = %d, want 303", rec.Code)
	}

	// Second through the JSON API, spending the allowance.
	var body bytes.Buffer
	json.NewEncoder(&body).Encode(models.AnalyzeRequest{Image: "aGVsbG8="})
	req := httptest.NewRequest(http.MethodPost, "/analyze", &body)
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("analyze: status = %d, want 200", rec.Code)
	}

	// The machine holds a result; return to Upload for the next attempt.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reset", nil))
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("reset: status = %d, want 303", rec.Code)
	}

	// A third analysis from either surface is over the limit.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, uploadRequest(t))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("over-limit upload: status = %d, want 429", rec.Code)
	}

	if got := atomic.LoadInt64(&analyzer.calls); got != 2 {
		t.Errorf("analyzer ran %d times, want 2", got)
	}
}

func TestUploadQuotaExhaustion(t *testing.T) {
	analyzer := &countingAnalyzer{}
	machine := session.NewMachine(newTestStore(t), analyzer, &stubWriter{}, nil)
	ui := NewUI(machine, api.QuotaMiddleware(2), 245).Routes()

	codes := []int{}
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		ui.ServeHTTP(rec, uploadRequest(t))
		codes = append(codes, rec.Code)

		rec = httptest.NewRecorder()
		ui.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reset", nil))
	}

	want := []int{http.StatusSeeOther, http.StatusSeeOther, http.StatusTooManyRequests}
	for i := range want {
		if codes[i] != want[i] {
			t.Errorf("upload %d: status = %d, want %d", i+1, codes[i], want[i])
		}
	}
	if got := atomic.LoadInt64(&analyzer.calls); got != 2 {
		t.Errorf("analyzer ran %d times, want 2", got)
	}
}

func TestPaywallShowsConfiguredPrice(t *testing.T) {
	machine := session.NewMachine(newTestStore(t), &countingAnalyzer{}, &stubWriter{}, nil)
	if err := machine.SubmitImage(context.Background(), "aGVsbG8="); err != nil {
		t.Fatal(err)
	}

	ui := NewUI(machine, nil, 390).Routes()
	rec := httptest.NewRecorder()
	ui.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Desbloquear por 3,90€") {
		t.Error("paywall does not show the configured price")
	}
}

func TestFormatPrice(t *testing.T) {
	if got := formatPrice(245); got != "2,45€" {
		t.Errorf("formatPrice(245) = %q, want 2,45€", got)
	}
	if got := formatPrice(1000); got != "10,00€" {
		t.Errorf("formatPrice(1000) = %q, want 10,00€", got)
	}
	if got := formatPrice(5); got != "0,05€" {
		t.Errorf("formatPrice(5) = %q, want 0,05€", got)
	}
}
