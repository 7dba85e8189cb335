// Package appeal generates the formal defense letter from an analysis and
// the user's identity data.
package appeal

import (
	"context"
	"fmt"
	"strings"

	"github.com/multaszero/recurso/internal/llm"
	"github.com/multaszero/recurso/internal/models"
)

// ErrorText is shown in place of a document when generation fails. The
// orchestrator substitutes it so the result view always has displayable text.
const ErrorText = "Erro ao gerar o documento legal. Verifique a sua ligação e tente novamente."

// Writer is the gateway to the external text-generation model.
type Writer struct {
	provider llm.Provider
}

// NewWriter creates a Writer.
func NewWriter(provider llm.Provider) *Writer {
	return &Writer{provider: provider}
}

const systemPrompt = `Tu és um advogado de trânsito de elite em Portugal.
Escreve uma "Defesa Escrita" ou "Impugnação Judicial" formal para a ANSR.

A tua escrita deve ser jurídica, técnica e citar explicitamente a legislação:
- Cita o Código da Estrada (DL 114/94) ao discutir a infração.
- Usa o Regime Geral das Contraordenações (DL 433/82) para arguir nulidades ou prescrições.
- Invoca o Regulamento de Sinalização (DR 22-A/98) se houver causa provável.
- Menciona a Margem de Erro Admissível se for excesso de velocidade.

Estrutura Obrigatória:
1. Cabeçalho (Dirigido ao Presidente da ANSR).
2. Identificação do Arguido (Nome, CC, Carta, Morada).
3. Questão Prévia (se aplicável, ex: Prescrição ou Ilegitimidade).
4. Dos Factos (Narrativa que favorece o arguido ou nega a prática sem prova cabal).
5. Do Direito (Argumentação jurídica densa citando artigos e acórdãos fictícios mas plausíveis).
6. Do Pedido (Arquivamento do auto, ou subsidiariamente a suspensão da sanção acessória de inibição de conduzir).
7. Prova (Requerer junção de prova fotográfica, certificados de aferição e cadastro do condutor).

O tom deve ser respeitoso mas firme, tecnicamente complexo para desencorajar a análise rápida.
Formata o texto para ser um documento oficial pronto a imprimir.`

// Generate produces the appeal document text. The returned text is never
// empty on success; callers map errors to a user-facing message.
func (w *Writer) Generate(ctx context.Context, analysis *models.FineAnalysis, user *models.UserDetails) (string, error) {
	opts := llm.DefaultCompletionOptions()
	opts.MaxTokens = 3000

	text, err := w.provider.CompleteWithSystem(ctx, systemPrompt, buildPrompt(analysis, user), opts)
	if err != nil {
		return "", fmt.Errorf("appeal generation failed: %w", err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("appeal generation returned empty document")
	}

	return text, nil
}

func buildPrompt(analysis *models.FineAnalysis, user *models.UserDetails) string {
	ccNumber := user.CCNumber
	if ccNumber == "" {
		ccNumber = "N/A"
	}

	var errorList strings.Builder
	for _, e := range analysis.ErrorsFound {
		errorList.WriteString(fmt.Sprintf("- %s\n", e))
	}

	return fmt.Sprintf(`Gera uma carta de defesa administrativa completa (Impugnação Judicial/Recurso).

DADOS DO ARGUIDO:
Nome: %s
NIF: %s
Morada: %s, %s %s
Carta Condução: %s
CC: %s

DADOS DA INFRAÇÃO (Detetados):
Tipo: %s
Legislação Citada: %s

ESTRATÉGIA DE DEFESA (Erros Identificados):
%s
INSTRUÇÕES ESPECÍFICAS:
1. Dirigido ao Exmo. Sr. Presidente da Autoridade Nacional de Segurança Rodoviária (ANSR).
2. Cita os artigos dos Decretos-Lei aplicáveis (114/94, 433/82, etc.) para fundamentar cada erro.
3. Se for multa grave/muito grave, pede explicitamente a suspensão da inibição de conduzir (Sanção Acessória) invocando a necessidade da carta para fins profissionais ou familiares.
4. Termina com "Pede Deferimento," data e local para assinatura.`,
		user.FullName, user.NIF, user.Address, user.PostalCode, user.City,
		user.LicenseNumber, ccNumber,
		analysis.InfractionType, analysis.LegislationRef,
		errorList.String())
}
