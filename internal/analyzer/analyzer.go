// Package analyzer sends fine notice photographs to the LLM provider and
// turns the response into a structured FineAnalysis.
package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/multaszero/recurso/internal/llm"
	"github.com/multaszero/recurso/internal/models"
	"github.com/rs/zerolog/log"
)

// Analyzer is the gateway to the external analysis model. Once an image has
// been accepted it always produces a usable FineAnalysis: upstream or parse
// failures degrade to a canned fallback payload instead of an error, so the
// caller always reaches a renderable result. Only a dead context aborts.
type Analyzer struct {
	provider  llm.Provider
	fabricate bool
}

// New creates an Analyzer. fabricate enables the product policy of inventing
// plausible doubt-based defense arguments when a notice has no real defects.
func New(provider llm.Provider, fabricate bool) *Analyzer {
	return &Analyzer{
		provider:  provider,
		fabricate: fabricate,
	}
}

const systemPromptBase = `Tu és o "Multas Zero", a IA jurídica mais avançada de Portugal em Direito Rodoviário.
A tua base de conhecimento é absoluta e especializada nestes domínios:

1. Código da Estrada (Decreto-Lei n.º 114/94) - Regras de circulação, limites e tipificação de infrações.
2. Regime Geral das Contraordenações (Decreto-Lei n.º 433/82) - Prazos de prescrição, notificação e nulidades processuais.
3. Lei n.º 116/2015 - Regras de identificação do condutor e responsabilidade.
4. Regulamento de Fiscalização da Condução e do Trânsito - Procedimentos operacionais da GNR/PSP e requisitos do auto.
5. Regulamento de Sinalização do Trânsito (Decreto Regulamentar n.º 22-A/98) - Validação técnica de sinais verticais, luminosos e marcas rodoviárias.
6. Legislação Complementar (Lei n.º 72/2013, DL n.º 37/2014, DL n.º 170/2007) - Álcool, carta por pontos e transporte de crianças.
7. Normas Técnicas da ANSR e IMT - Homologações, verificação periódica e margens de erro admissíveis (EMA) para cinemómetros (radares).

A tua missão: Analisar fotos de notificações de multas (ANSR, PSP, GNR, PM) e encontrar TODAS as falhas técnicas ou processuais.
Sê agressivo na defesa do condutor. Verifica rigorosamente:
- Prazos de notificação (Art. 176º CE).
- Descrição sumária dos factos.
- Referência aos diplomas legais infringidos.
- Homologação e data de verificação dos aparelhos (cinemómetros/alcoolímetros).
- Coerência da sinalização (Vertical vs Horizontal).
`

const fabricateInstruction = `
Se a multa parecer perfeita, INVENTA argumentos técnicos plausíveis baseados na dúvida razoável.
Devolve SEMPRE pelo menos 3 argumentos de defesa sólidos baseados nestas leis.
`

const strictInstruction = `
Reporta apenas erros reais e verificáveis no auto. Se não existirem falhas, devolve uma lista de erros vazia e uma probabilidade Baixa.
`

const outputInstruction = `
IMPORTANTE: Responde APENAS em JSON válido com esta estrutura exata:
{
  "probability": "Baixa" | "Média" | "Alta",
  "probabilityScore": number (0-100),
  "fineAmount": "valor em euros",
  "deadlineDate": "data ou prazo",
  "daysRemaining": number,
  "errorsFound": ["erro 1", "erro 2", "erro 3"],
  "summary": "resumo curto",
  "infractionType": "tipo de infração",
  "legislationRef": "artigos citados"
}
`

const userPrompt = `Analisa esta multa de trânsito de Portugal. Extrai os dados e encontra erros para o recurso baseados no Código da Estrada e legislação complementar. Responde APENAS em JSON.`

// Analyze inspects a base64-encoded photograph of a fine notice.
func (a *Analyzer) Analyze(ctx context.Context, imageBase64 string) (*models.FineAnalysis, error) {
	opts := llm.DefaultCompletionOptions()
	opts.MaxTokens = 1500

	response, err := a.provider.CompleteWithImage(ctx, a.buildSystemPrompt(), userPrompt, imageBase64, opts)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("analysis aborted: %w", err)
		}
		log.Warn().Err(err).Str("provider", a.provider.Name()).Msg("Analysis model failed, returning fallback")
		return FallbackAnalysis(), nil
	}

	analysis, err := parseAnalysis(response)
	if err != nil {
		log.Warn().Err(err).Msg("Analysis response unparseable, returning fallback")
		return FallbackAnalysis(), nil
	}

	return analysis, nil
}

func (a *Analyzer) buildSystemPrompt() string {
	prompt := systemPromptBase
	if a.fabricate {
		prompt += fabricateInstruction
	} else {
		prompt += strictInstruction
	}
	return prompt + outputInstruction
}

func parseAnalysis(response string) (*models.FineAnalysis, error) {
	response = strings.TrimSpace(response)

	// Handle markdown code blocks
	if strings.HasPrefix(response, "```") {
		re := regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)\\s*```")
		matches := re.FindStringSubmatch(response)
		if len(matches) > 1 {
			response = matches[1]
		}
	}

	var analysis models.FineAnalysis
	if err := json.Unmarshal([]byte(response), &analysis); err != nil {
		// Try to find JSON object in response
		start := strings.Index(response, "{")
		end := strings.LastIndex(response, "}")
		if start >= 0 && end > start {
			response = response[start : end+1]
			if err := json.Unmarshal([]byte(response), &analysis); err != nil {
				return nil, fmt.Errorf("invalid JSON: %w", err)
			}
		} else {
			return nil, fmt.Errorf("no JSON found in response")
		}
	}

	if analysis.Summary == "" && len(analysis.ErrorsFound) == 0 {
		return nil, fmt.Errorf("response carried no analysis content")
	}

	return &analysis, nil
}

// FallbackAnalysis is the canned payload served when the upstream model
// fails or returns garbage. It is marked so clients can tell it apart from
// a real analysis.
func FallbackAnalysis() *models.FineAnalysis {
	return &models.FineAnalysis{
		Probability:      models.ProbabilityMedium,
		ProbabilityScore: 65,
		FineAmount:       "120.00€ + Custas",
		DeadlineDate:     "15 dias úteis",
		DaysRemaining:    15,
		ErrorsFound: []string{
			"Possível falta de verificação periódica do cinemómetro (Portaria nº 1542/2007).",
			"Descrição dos factos insuficiente para o exercício do contraditório (Art. 175º CE).",
			"Sinalização vertical eventualmente não conforme com o DR 22-A/98 (visibilidade/colocação).",
		},
		Summary:        "Infração detetada. O auto apresenta vulnerabilidades técnicas exploráveis.",
		InfractionType: "Contraordenação Rodoviária",
		LegislationRef: "Código da Estrada",
		Fallback:       true,
	}
}
