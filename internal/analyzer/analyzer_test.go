package analyzer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/multaszero/recurso/internal/llm"
)

type mockProvider struct {
	response string
	err      error

	lastSystem string
	lastUser   string
	lastImage  string
}

func (m *mockProvider) Complete(ctx context.Context, prompt string, opts llm.CompletionOptions) (string, error) {
	return m.response, m.err
}

func (m *mockProvider) CompleteWithSystem(ctx context.Context, system, user string, opts llm.CompletionOptions) (string, error) {
	return m.response, m.err
}

func (m *mockProvider) CompleteWithImage(ctx context.Context, system, user, imageBase64 string, opts llm.CompletionOptions) (string, error) {
	m.lastSystem = system
	m.lastUser = user
	m.lastImage = imageBase64
	return m.response, m.err
}

func (m *mockProvider) Name() string         { return "mock" }
func (m *mockProvider) SupportsVision() bool { return true }

const validResponse = `{
	"probability": "Alta",
	"probabilityScore": 85,
	"fineAmount": "120.00€",
	"deadlineDate": "15 dias úteis",
	"daysRemaining": 15,
	"errorsFound": ["falta de homologação do cinemómetro"],
	"summary": "Excesso de velocidade com auto deficiente.",
	"infractionType": "Excesso de velocidade",
	"legislationRef": "Art. 27º CE"
}`

func TestAnalyzeParsesProviderResponse(t *testing.T) {
	provider := &mockProvider{response: validResponse}
	a := New(provider, true)

	analysis, err := a.Analyze(context.Background(), "aGVsbG8=")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if analysis.ProbabilityScore != 85 {
		t.Errorf("probabilityScore = %d, want 85", analysis.ProbabilityScore)
	}
	if analysis.Fallback {
		t.Error("a parsed response must not be marked as fallback")
	}
	if provider.lastImage != "aGVsbG8=" {
		t.Errorf("image not forwarded, got %q", provider.lastImage)
	}
}

func TestAnalyzeStripsMarkdownFences(t *testing.T) {
	provider := &mockProvider{response: "```json\n" + validResponse + "\n```"}
	a := New(provider, true)

	analysis, err := a.Analyze(context.Background(), "aGVsbG8=")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if analysis.Probability != "Alta" {
		t.Errorf("probability = %q, want Alta", analysis.Probability)
	}
}

func TestAnalyzeExtractsEmbeddedJSON(t *testing.T) {
	provider := &mockProvider{response: "Aqui está a análise:\n" + validResponse + "\nEspero que ajude."}
	a := New(provider, true)

	analysis, err := a.Analyze(context.Background(), "aGVsbG8=")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if analysis.InfractionType != "Excesso de velocidade" {
		t.Errorf("infractionType = %q", analysis.InfractionType)
	}
}

func TestAnalyzeFallsBackOnProviderError(t *testing.T) {
	a := New(&mockProvider{err: errors.New("connection refused")}, true)

	analysis, err := a.Analyze(context.Background(), "aGVsbG8=")
	if err != nil {
		t.Fatalf("provider failure must degrade, not error: %v", err)
	}
	if !analysis.Fallback {
		t.Error("expected fallback marker")
	}
	if analysis.ProbabilityScore != 65 {
		t.Errorf("probabilityScore = %d, want 65", analysis.ProbabilityScore)
	}
	if len(analysis.ErrorsFound) != 3 {
		t.Errorf("errorsFound = %d, want 3", len(analysis.ErrorsFound))
	}
}

func TestAnalyzeFallsBackOnGarbage(t *testing.T) {
	a := New(&mockProvider{response: "desculpa, não consigo ler a imagem"}, true)

	analysis, err := a.Analyze(context.Background(), "aGVsbG8=")
	if err != nil {
		t.Fatalf("unparseable response must degrade, not error: %v", err)
	}
	if !analysis.Fallback {
		t.Error("expected fallback marker")
	}
}

func TestAnalyzeAbortsOnDeadContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := New(&mockProvider{err: context.Canceled}, true)
	if _, err := a.Analyze(ctx, "aGVsbG8="); err == nil {
		t.Fatal("a dead context must abort, not fall back")
	}
}

func TestFabricateFlagSwitchesPrompt(t *testing.T) {
	fabricating := &mockProvider{response: validResponse}
	New(fabricating, true).Analyze(context.Background(), "aGVsbG8=")
	if !strings.Contains(fabricating.lastSystem, "INVENTA") {
		t.Error("fabricate mode must instruct the model to invent defenses")
	}

	strict := &mockProvider{response: validResponse}
	New(strict, false).Analyze(context.Background(), "aGVsbG8=")
	if strings.Contains(strict.lastSystem, "INVENTA") {
		t.Error("strict mode must not instruct the model to invent defenses")
	}
	if !strings.Contains(strict.lastSystem, "erros reais") {
		t.Error("strict mode must ask for verifiable defects only")
	}
}
