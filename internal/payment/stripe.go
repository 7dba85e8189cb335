// Package payment provides the Stripe implementation of the Checkout interface.
package payment

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/checkout/session"

	"github.com/multaszero/recurso/internal/config"
)

// StripeCheckout implements Checkout using the official Stripe client.
type StripeCheckout struct {
	cfg     config.PaymentConfig
	baseURL string
}

// NewStripeCheckout creates a Stripe checkout gateway. The base URL is the
// public origin the user returns to after paying.
func NewStripeCheckout(cfg config.PaymentConfig, baseURL string) (*StripeCheckout, error) {
	if cfg.StripeSecretKey == "" {
		return nil, fmt.Errorf("Stripe secret key is required")
	}

	// Set Stripe API key
	stripe.Key = cfg.StripeSecretKey

	return &StripeCheckout{
		cfg:     cfg,
		baseURL: baseURL,
	}, nil
}

// CreateSession opens a one-time payment session for unlocking one analysis.
// The analysis id rides along in the session metadata and in the success
// redirect so the return navigation can reconcile the unlock.
func (s *StripeCheckout) CreateSession(ctx context.Context, analysisID string) (*Session, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(s.cfg.Currency),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:        stripe.String(s.cfg.ProductName),
						Description: stripe.String(s.cfg.ProductDescription),
					},
					UnitAmount: stripe.Int64(s.cfg.PriceCents),
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(fmt.Sprintf("%s/?success=true&session_id={CHECKOUT_SESSION_ID}&analysis_id=%s", s.baseURL, analysisID)),
		CancelURL:  stripe.String(fmt.Sprintf("%s/?canceled=true&analysis_id=%s", s.baseURL, analysisID)),
	}
	params.Context = ctx
	params.AddMetadata("analysisId", analysisID)

	sess, err := session.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	return &Session{ID: sess.ID, URL: sess.URL}, nil
}

// VerifySession retrieves the session from Stripe and reports its payment
// status. Retrieval has no side effects, so re-verification after a page
// reload is harmless.
func (s *StripeCheckout) VerifySession(ctx context.Context, sessionID string) (*VerifyResult, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	sess, err := session.Get(sessionID, params)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve checkout session: %w", err)
	}

	result := &VerifyResult{
		Paid:       sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		AnalysisID: sess.Metadata["analysisId"],
	}
	if sess.CustomerDetails != nil {
		result.CustomerEmail = sess.CustomerDetails.Email
	}

	return result, nil
}
