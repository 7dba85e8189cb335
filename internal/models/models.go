// Package models defines the core data structures used throughout the application.
package models

import (
	"time"
)

// Probability is the estimated chance of a fine being annulled on appeal.
type Probability string

const (
	ProbabilityLow    Probability = "Baixa"
	ProbabilityMedium Probability = "Média"
	ProbabilityHigh   Probability = "Alta"
)

// CaseStatus tracks the lifecycle of a fine case.
type CaseStatus string

const (
	StatusAwaitingAppeal  CaseStatus = "Aguardando Recurso"
	StatusAppealGenerated CaseStatus = "Recurso Gerado"
	StatusPaid            CaseStatus = "Pago"
)

// FineAnalysis is the result of analyzing one fine notice image.
// Probability and ProbabilityScore are expected to be consistent, but that
// is the producer's responsibility and is not enforced here.
type FineAnalysis struct {
	Probability      Probability `json:"probability"`
	ProbabilityScore int         `json:"probabilityScore"`
	FineAmount       string      `json:"fineAmount"`
	DeadlineDate     string      `json:"deadlineDate"`
	DaysRemaining    int         `json:"daysRemaining"`
	ErrorsFound      []string    `json:"errorsFound"`
	Summary          string      `json:"summary"`
	InfractionType   string      `json:"infractionType"`
	LegislationRef   string      `json:"legislationRef"`
	Fallback         bool        `json:"fallback,omitempty"`
}

// UserDetails is the identity data placed in the appeal letter header.
// All fields are required except CCNumber; only presence is validated.
type UserDetails struct {
	FullName      string `json:"fullName"`
	NIF           string `json:"nif"`
	Address       string `json:"address"`
	PostalCode    string `json:"postalCode"`
	City          string `json:"city"`
	LicenseNumber string `json:"licenseNumber"`
	CCNumber      string `json:"ccNumber,omitempty"`
}

// Complete reports whether all required identity fields are present.
func (u *UserDetails) Complete() bool {
	return u.FullName != "" && u.NIF != "" && u.Address != "" &&
		u.PostalCode != "" && u.City != "" && u.LicenseNumber != ""
}

// FineHistoryItem is one persisted case. The analysis is immutable once set;
// user details and appeal text are filled in when an appeal is generated.
type FineHistoryItem struct {
	ID          string       `json:"id"`
	Timestamp   time.Time    `json:"timestamp"`
	Analysis    FineAnalysis `json:"analysis"`
	UserDetails *UserDetails `json:"userDetails,omitempty"`
	AppealText  string       `json:"appealText,omitempty"`
	Status      CaseStatus   `json:"status"`
}

// UnlockRecord records a successful payment for one analysis.
type UnlockRecord struct {
	AnalysisID string    `json:"analysisId"`
	SessionID  string    `json:"sessionId"`
	UnlockedAt time.Time `json:"unlockedAt"`
}

// AnalyzeRequest is the request body for POST /analyze.
type AnalyzeRequest struct {
	Image string `json:"image"` // base64-encoded photograph of the fine notice
}

// AnalyzeResponse is the response body for POST /analyze.
type AnalyzeResponse struct {
	FineAnalysis
	Remaining int `json:"remaining"`
}

// AppealRequest is the request body for POST /generate-appeal.
type AppealRequest struct {
	Analysis *FineAnalysis `json:"analysis"`
	User     *UserDetails  `json:"user"`
}

// AppealResponse is the response body for POST /generate-appeal.
type AppealResponse struct {
	AppealText string `json:"appealText"`
}

// CheckoutRequest is the request body for POST /create-checkout.
type CheckoutRequest struct {
	AnalysisID string `json:"analysisId"`
}

// CheckoutResponse is the response body for POST /create-checkout.
type CheckoutResponse struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// VerifyPaymentResponse is the response body for GET /verify-payment.
type VerifyPaymentResponse struct {
	Paid          bool   `json:"paid"`
	AnalysisID    string `json:"analysisId,omitempty"`
	CustomerEmail string `json:"customerEmail,omitempty"`
}
