package appeal

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/multaszero/recurso/internal/llm"
	"github.com/multaszero/recurso/internal/models"
)

type mockProvider struct {
	response string
	err      error

	lastSystem string
	lastUser   string
}

func (m *mockProvider) Complete(ctx context.Context, prompt string, opts llm.CompletionOptions) (string, error) {
	return m.response, m.err
}

func (m *mockProvider) CompleteWithSystem(ctx context.Context, system, user string, opts llm.CompletionOptions) (string, error) {
	m.lastSystem = system
	m.lastUser = user
	return m.response, m.err
}

func (m *mockProvider) CompleteWithImage(ctx context.Context, system, user, imageBase64 string, opts llm.CompletionOptions) (string, error) {
	return m.response, m.err
}

func (m *mockProvider) Name() string         { return "mock" }
func (m *mockProvider) SupportsVision() bool { return false }

func testInputs() (*models.FineAnalysis, *models.UserDetails) {
	analysis := &models.FineAnalysis{
		Probability:      models.ProbabilityHigh,
		ProbabilityScore: 80,
		ErrorsFound:      []string{"notificação fora do prazo do Art. 176º CE"},
		InfractionType:   "Excesso de velocidade",
		LegislationRef:   "Art. 27º CE",
	}
	user := &models.UserDetails{
		FullName:      "Maria Silva",
		NIF:           "123456789",
		Address:       "Rua das Flores 1",
		PostalCode:    "1000-001",
		City:          "Lisboa",
		LicenseNumber: "L-123456",
	}
	return analysis, user
}

func TestGenerateBuildsPromptFromInputs(t *testing.T) {
	provider := &mockProvider{response: "Exmo. Sr. Presidente da ANSR,\n\n..."}
	w := NewWriter(provider)
	analysis, user := testInputs()

	text, err := w.Generate(context.Background(), analysis, user)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text == "" {
		t.Fatal("expected document text")
	}

	for _, want := range []string{"Maria Silva", "123456789", "L-123456", "Excesso de velocidade", "Art. 176º CE"} {
		if !strings.Contains(provider.lastUser, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if !strings.Contains(provider.lastSystem, "ANSR") {
		t.Error("system prompt must address the ANSR")
	}
}

func TestGenerateDefaultsMissingCCNumber(t *testing.T) {
	provider := &mockProvider{response: "documento"}
	analysis, user := testInputs()
	user.CCNumber = ""

	if _, err := NewWriter(provider).Generate(context.Background(), analysis, user); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(provider.lastUser, "CC: N/A") {
		t.Error("missing CC number must be rendered as N/A")
	}
}

func TestGenerateProviderError(t *testing.T) {
	w := NewWriter(&mockProvider{err: errors.New("model down")})
	analysis, user := testInputs()

	if _, err := w.Generate(context.Background(), analysis, user); err == nil {
		t.Fatal("expected error")
	}
}

func TestGenerateRejectsEmptyDocument(t *testing.T) {
	w := NewWriter(&mockProvider{response: "   \n  "})
	analysis, user := testInputs()

	if _, err := w.Generate(context.Background(), analysis, user); err == nil {
		t.Fatal("expected error for blank document")
	}
}
