// Package webhook receives Stripe payment events and turns them into
// entitlements and delivery jobs.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/stripe/stripe-go/v72"

	"astro-bot/internal/ledger"
	"astro-bot/internal/models"
	"astro-bot/internal/payment"
	"astro-bot/internal/queue"
	"astro-bot/pkg/logger"
)

const maxBodyBytes = 64 << 10

const (
	EventCheckoutCompleted     = "checkout.session.completed"
	EventAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
)

// Outcome is logged with every request.
type Outcome string

const (
	OutcomeRejected Outcome = "rejected"
	OutcomeIgnored  Outcome = "ignored"
	OutcomeAnomaly  Outcome = "anomaly"
	OutcomeAccepted Outcome = "accepted"
)

type Verifier interface {
	ConstructEvent(payload []byte, sig string) (stripe.Event, error)
}

// Store is the part of the ledger the handler touches.
type Store interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
	SetPaid(ctx context.Context, id int64, kind models.ProductKind) error
}

type Handler struct {
	verifier Verifier
	store    Store
	queue    queue.Queue
	logger   *logger.Logger
}

func NewHandler(v Verifier, s Store, q queue.Queue, log *logger.Logger) *Handler {
	return &Handler{verifier: v, store: s, queue: q, logger: log}
}

// ServeHTTP answers 200 for every event whose signature is valid, whatever
// happens afterwards. Only unauthenticated or unreadable requests fail.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.logger.Warnw("Failed to read webhook body", "outcome", OutcomeRejected, "error", err)
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	if signature == "" {
		h.logger.Warnw("Missing Stripe signature header", "outcome", OutcomeRejected)
		http.Error(w, "Missing signature", http.StatusBadRequest)
		return
	}

	event, err := h.verifier.ConstructEvent(body, signature)
	if err != nil {
		if errors.Is(err, payment.ErrWebhookNotConfigured) {
			h.logger.Errorw("Webhook secret is not configured", "outcome", OutcomeRejected)
			http.Error(w, "Webhook not configured", http.StatusInternalServerError)
			return
		}
		h.logger.Warnw("Failed to verify webhook signature", "outcome", OutcomeRejected, "error", err)
		http.Error(w, "Invalid signature", http.StatusBadRequest)
		return
	}

	h.Process(context.WithoutCancel(r.Context()), event)

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Webhook received"))
}

// Process applies a verified event. It never fails the request; the outcome
// is logged and returned for callers that care.
func (h *Handler) Process(ctx context.Context, event stripe.Event) Outcome {
	log := h.logger.With("event_id", event.ID, "event_type", event.Type)

	switch event.Type {
	case EventCheckoutCompleted, EventAsyncPaymentSucceeded:
	default:
		log.Infow("Event ignored", "outcome", OutcomeIgnored)
		return OutcomeIgnored
	}

	if event.Data == nil {
		log.Warnw("Event has no data object", "outcome", OutcomeIgnored)
		return OutcomeIgnored
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		log.Warnw("Failed to parse checkout session", "outcome", OutcomeIgnored, "error", err)
		return OutcomeIgnored
	}
	log = log.With("session_id", session.ID)

	if event.Type == EventCheckoutCompleted && session.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
		log.Infow("Checkout completed but payment is pending", "outcome", OutcomeIgnored)
		return OutcomeIgnored
	}

	userID, err := sessionUserID(&session)
	if err != nil {
		log.Warnw("Missing or invalid user id", "outcome", OutcomeIgnored, "error", err)
		return OutcomeIgnored
	}

	kind := models.ProductDestiny
	if raw := session.Metadata[payment.MetaProductType]; raw != "" {
		parsed, err := models.ParseProductKind(raw)
		if err != nil {
			log.Warnw("Unknown product type", "outcome", OutcomeIgnored, "user_id", userID, "error", err)
			return OutcomeIgnored
		}
		kind = parsed
	}
	log = log.With("user_id", userID, "product", kind)

	if _, err := h.store.GetUser(ctx, userID); err != nil {
		if errors.Is(err, ledger.ErrUserNotFound) {
			log.Errorw("Paid user has no record", "outcome", OutcomeAnomaly)
		} else {
			log.Errorw("Failed to load user", "outcome", OutcomeAnomaly, "error", err)
		}
		return OutcomeAnomaly
	}

	if err := h.store.SetPaid(ctx, userID, kind); err != nil {
		log.Errorw("Failed to record payment", "outcome", OutcomeAnomaly, "error", err)
		return OutcomeAnomaly
	}

	job := queue.NewJob(userID, kind, queue.SourcePayment)
	if err := h.queue.Enqueue(ctx, job); err != nil {
		log.Errorw("Payment recorded but delivery was not scheduled", "outcome", OutcomeAnomaly, "error", err)
		return OutcomeAnomaly
	}

	log.Infow("Payment accepted", "outcome", OutcomeAccepted, "job_id", job.ID)
	return OutcomeAccepted
}

func sessionUserID(s *stripe.CheckoutSession) (int64, error) {
	raw := s.Metadata[payment.MetaTelegramID]
	if raw == "" {
		raw = s.ClientReferenceID
	}
	if raw == "" {
		return 0, errors.New("no tg_id in metadata or client_reference_id")
	}
	return strconv.ParseInt(raw, 10, 64)
}
