package payment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
	"github.com/stripe/stripe-go/v72/webhook"

	"astro-bot/internal/config"
	"astro-bot/internal/models"
)

// Metadata keys written into every checkout session.
const (
	MetaTelegramID  = "tg_id"
	MetaProductType = "product_type"
)

// ErrWebhookNotConfigured is returned when no signing secret is set.
var ErrWebhookNotConfigured = errors.New("webhook secret is not configured")

type StripeClient struct {
	api           *client.API
	webhookSecret string
	cfg           config.Stripe
}

func NewStripeClient(cfg config.Stripe) *StripeClient {
	return &StripeClient{
		api:           client.New(cfg.SecretKey, nil),
		webhookSecret: cfg.WebhookKey,
		cfg:           cfg,
	}
}

// CreateCheckoutSession returns the hosted checkout URL for kind. The user and
// product travel in the session metadata and come back in the webhook.
func (s *StripeClient) CreateCheckoutSession(ctx context.Context, userID int64, kind models.ProductKind, successURL, cancelURL string) (string, error) {
	if s.cfg.SuccessURL != "" {
		successURL = s.cfg.SuccessURL
	}
	if s.cfg.CancelURL != "" {
		cancelURL = s.cfg.CancelURL
	}

	params := s.checkoutParams(userID, kind, successURL, cancelURL)
	params.Context = ctx

	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create checkout session: %w", err)
	}

	return sess.URL, nil
}

func (s *StripeClient) checkoutParams(userID int64, kind models.ProductKind, successURL, cancelURL string) *stripe.CheckoutSessionParams {
	tgID := strconv.FormatInt(userID, 10)

	sep := "?"
	if strings.Contains(successURL, "?") {
		sep = "&"
	}

	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{
			"card",
		}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(s.cfg.PriceFor(kind)),
				Quantity: stripe.Int64(1),
			},
		},
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(successURL + sep + "session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:         stripe.String(cancelURL),
		ClientReferenceID: stripe.String(tgID),
	}
	params.AddMetadata(MetaTelegramID, tgID)
	params.AddMetadata(MetaProductType, string(kind))

	return params
}

// ConstructEvent verifies the Stripe-Signature header and decodes the event.
func (s *StripeClient) ConstructEvent(payload []byte, sig string) (stripe.Event, error) {
	if s.webhookSecret == "" {
		return stripe.Event{}, ErrWebhookNotConfigured
	}
	return webhook.ConstructEvent(payload, sig, s.webhookSecret)
}
