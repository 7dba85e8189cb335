// Package web serves the server-rendered frontend that drives the session
// state machine: upload, gated result, detail collection, generated appeal,
// and case history.
package web

import (
	"encoding/base64"
	"fmt"
	"html/template"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/multaszero/recurso/internal/models"
	"github.com/multaszero/recurso/internal/session"
)

const maxUploadBytes = 10 << 20 // 10MB

// UI renders the application pages for one local user session.
type UI struct {
	machine    *session.Machine
	quota      func(http.Handler) http.Handler
	priceCents int64
	tmpl       *template.Template
}

// NewUI creates the frontend handler around a session machine. quota is the
// shared analysis rate limiter also guarding the JSON analyze endpoint;
// every upload draws from the same allowance. priceCents is the configured
// unlock price shown on the paywall.
func NewUI(machine *session.Machine, quota func(http.Handler) http.Handler, priceCents int64) *UI {
	return &UI{
		machine:    machine,
		quota:      quota,
		priceCents: priceCents,
		tmpl:       template.Must(template.New("page").Parse(pageTemplate)),
	}
}

// Routes returns the frontend router.
func (u *UI) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/", u.Index)
	r.Group(func(r chi.Router) {
		if u.quota != nil {
			r.Use(u.quota)
		}
		r.Post("/upload", u.Upload)
	})
	r.Post("/appeal", u.RequestAppeal)
	r.Post("/details", u.SubmitDetails)
	r.Post("/checkout", u.Checkout)
	r.Get("/history", u.History)
	r.Post("/history/select", u.SelectHistory)
	r.Post("/reset", u.Reset)
	r.Post("/dismiss", u.Dismiss)

	return r
}

// Index renders the current step. A return navigation from the payment
// provider carries success/session_id/analysis_id query parameters; those
// are reconciled once and then stripped by redirecting to the bare path.
func (u *UI) Index(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if q.Get("success") == "true" && q.Get("session_id") != "" && q.Get("analysis_id") != "" {
		paid, err := u.machine.HandlePaymentReturn(r.Context(), q.Get("session_id"), q.Get("analysis_id"))
		if err == nil && paid {
			log.Info().Str("analysis_id", q.Get("analysis_id")).Msg("Payment reconciled")
		}
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	if q.Get("canceled") == "true" {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	u.render(w, r)
}

// Upload accepts the fine notice photograph and runs the analysis flow.
func (u *UI) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "upload too large", http.StatusRequestEntityTooLarge)
		return
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	defer file.Close()

	raw, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	if err := u.machine.SubmitImage(r.Context(), base64.StdEncoding.EncodeToString(raw)); err != nil {
		log.Debug().Err(err).Msg("Image submission rejected")
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// RequestAppeal moves an unlocked result into the detail form.
func (u *UI) RequestAppeal(w http.ResponseWriter, r *http.Request) {
	if err := u.machine.RequestAppeal(r.Context()); err != nil {
		log.Debug().Err(err).Msg("Appeal request rejected")
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// SubmitDetails runs the appeal generation flow.
func (u *UI) SubmitDetails(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	details := &models.UserDetails{
		FullName:      r.PostFormValue("fullName"),
		NIF:           r.PostFormValue("nif"),
		Address:       r.PostFormValue("address"),
		PostalCode:    r.PostFormValue("postalCode"),
		City:          r.PostFormValue("city"),
		LicenseNumber: r.PostFormValue("licenseNumber"),
		CCNumber:      r.PostFormValue("ccNumber"),
	}

	if err := u.machine.SubmitDetails(r.Context(), details); err != nil {
		log.Debug().Err(err).Msg("Detail submission rejected")
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// Checkout redirects the user to the payment provider.
func (u *UI) Checkout(w http.ResponseWriter, r *http.Request) {
	url, err := u.machine.BeginCheckout(r.Context())
	if err != nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, url, http.StatusSeeOther)
}

// History switches into the case history list.
func (u *UI) History(w http.ResponseWriter, r *http.Request) {
	u.machine.ShowHistory()
	u.render(w, r)
}

// SelectHistory loads a past case into the result view.
func (u *UI) SelectHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PostFormValue("id")
	if id != "" {
		if err := u.machine.SelectHistoryItem(r.Context(), id); err != nil {
			log.Warn().Err(err).Str("id", id).Msg("History selection failed")
		}
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// Reset returns to the upload step.
func (u *UI) Reset(w http.ResponseWriter, r *http.Request) {
	u.machine.Reset()
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// Dismiss clears the current error and payment banners.
func (u *UI) Dismiss(w http.ResponseWriter, r *http.Request) {
	u.machine.ClearError()
	u.machine.AcknowledgePayment()
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

type pageData struct {
	Step             string
	Analysis         *models.FineAnalysis
	Details          *models.UserDetails
	AppealText       string
	Error            string
	Unlocked         bool
	PaymentConfirmed bool
	History          []models.FineHistoryItem
	Price            string
}

// formatPrice renders a cent amount the Portuguese way, e.g. 245 -> "2,45€".
func formatPrice(cents int64) string {
	return fmt.Sprintf("%d,%02d€", cents/100, cents%100)
}

func (u *UI) render(w http.ResponseWriter, r *http.Request) {
	view := u.machine.View(r.Context())

	data := pageData{
		Step:             string(view.Step),
		Analysis:         view.Analysis,
		Details:          view.Details,
		AppealText:       view.AppealText,
		Error:            view.Error,
		Unlocked:         view.Unlocked,
		PaymentConfirmed: view.PaymentConfirmed,
		Price:            formatPrice(u.priceCents),
	}

	if view.Step == session.StepHistory {
		items, err := u.machine.History(r.Context())
		if err != nil {
			log.Error().Err(err).Msg("Failed to load history")
		}
		data.History = items
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := u.tmpl.Execute(w, data); err != nil {
		log.Error().Err(err).Msg("Template rendering failed")
	}
}

const pageTemplate = `<!DOCTYPE html>
<html lang="pt">
<head>
    <meta charset="utf-8">
    <title>Multas Zero</title>
    <style>
        body { font-family: system-ui, sans-serif; max-width: 800px; margin: 50px auto; padding: 20px; }
        h1 { color: #2563eb; }
        .error { background: #fee2e2; color: #b91c1c; padding: 10px; border-radius: 4px; }
        .banner { background: #dcfce7; color: #166534; padding: 10px; border-radius: 4px; }
        .locked { color: #6b7280; }
        pre { white-space: pre-wrap; background: #f1f5f9; padding: 16px; border-radius: 4px; }
        label { display: block; margin: 8px 0; }
    </style>
</head>
<body>
    <h1>Multas Zero</h1>
    <nav>
        <form method="post" action="/reset" style="display:inline"><button type="submit">Nova análise</button></form>
        <a href="/history">Histórico</a>
    </nav>

    {{if .PaymentConfirmed}}
    <div class="banner">Pagamento confirmado! O conteúdo foi desbloqueado.
        <form method="post" action="/dismiss" style="display:inline"><button type="submit">OK</button></form>
    </div>
    {{end}}

    {{if .Error}}
    <div class="error">{{.Error}}
        <form method="post" action="/dismiss" style="display:inline"><button type="submit">Fechar</button></form>
    </div>
    {{end}}

    {{if eq .Step "upload"}}
    <p>O assistente que anula multas de trânsito em Portugal. Fotografe a notificação e envie.</p>
    <form method="post" action="/upload" enctype="multipart/form-data">
        <input type="file" name="image" accept="image/*" required>
        <button type="submit">Analisar multa</button>
    </form>
    {{end}}

    {{if eq .Step "analyzing"}}
    <p>A analisar contraordenação...</p>
    {{end}}

    {{if eq .Step "generating"}}
    <p>A redigir a defesa jurídica...</p>
    {{end}}

    {{if eq .Step "result"}}
        {{if .AppealText}}
        <h2>Defesa gerada</h2>
        <pre>{{.AppealText}}</pre>
        {{else if .Analysis}}
        <h2>Resultado da análise</h2>
        <p>Probabilidade de anulação: <strong>{{.Analysis.Probability}}</strong> ({{.Analysis.ProbabilityScore}}%)</p>
        <p>{{.Analysis.Summary}}</p>
        {{if .Unlocked}}
        <ul>
            {{range .Analysis.ErrorsFound}}<li>{{.}}</li>{{end}}
        </ul>
        <p>Valor: {{.Analysis.FineAmount}} · Prazo: {{.Analysis.DeadlineDate}} ({{.Analysis.DaysRemaining}} dias)</p>
        <p>Infração: {{.Analysis.InfractionType}} · Legislação: {{.Analysis.LegislationRef}}</p>
        <form method="post" action="/appeal"><button type="submit">Gerar carta de defesa</button></form>
        {{else}}
        <p class="locked">Encontrámos {{len .Analysis.ErrorsFound}} erros exploráveis. Desbloqueie para ver os detalhes e gerar a defesa.</p>
        <form method="post" action="/checkout"><button type="submit">Desbloquear por {{.Price}}</button></form>
        {{end}}
        {{end}}
    {{end}}

    {{if eq .Step "details"}}
    <h2>Dados do arguido</h2>
    <form method="post" action="/details">
        <label>Nome completo <input name="fullName" required></label>
        <label>NIF <input name="nif" required></label>
        <label>Morada <input name="address" required></label>
        <label>Código postal <input name="postalCode" required></label>
        <label>Localidade <input name="city" required></label>
        <label>Carta de condução <input name="licenseNumber" required></label>
        <label>Cartão de cidadão (opcional) <input name="ccNumber"></label>
        <button type="submit">Gerar defesa</button>
    </form>
    {{end}}

    {{if eq .Step "history"}}
    <h2>Histórico</h2>
    {{if not .History}}<p>Sem análises guardadas.</p>{{end}}
    <ul>
        {{range .History}}
        <li>
            <form method="post" action="/history/select">
                <input type="hidden" name="id" value="{{.ID}}">
                <button type="submit">{{.Analysis.InfractionType}} — {{.Status}} ({{.Timestamp.Format "02/01/2006"}})</button>
            </form>
        </li>
        {{end}}
    </ul>
    {{end}}

    <footer><p>© 2025 Multas Zero. Este serviço não dispensa a consulta de um advogado oficial.</p></footer>
</body>
</html>`
