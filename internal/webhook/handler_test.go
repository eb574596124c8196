package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v72"

	"astro-bot/internal/config"
	"astro-bot/internal/ledger"
	"astro-bot/internal/models"
	"astro-bot/internal/payment"
	"astro-bot/internal/queue"
	"astro-bot/pkg/logger"
)

const secret = "whsec_test"

type spyStore struct {
	*ledger.Memory
	mu     sync.Mutex
	gets   int
	sets   int
	getErr error
	setErr error
}

func (s *spyStore) GetUser(ctx context.Context, id int64) (*models.User, error) {
	s.mu.Lock()
	s.gets++
	s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.Memory.GetUser(ctx, id)
}

func (s *spyStore) SetPaid(ctx context.Context, id int64, kind models.ProductKind) error {
	s.mu.Lock()
	s.sets++
	s.mu.Unlock()
	if s.setErr != nil {
		return s.setErr
	}
	return s.Memory.SetPaid(ctx, id, kind)
}

func (s *spyStore) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets + s.sets
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs []queue.Job
	err  error
}

func (q *fakeQueue) Enqueue(ctx context.Context, job queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

type env struct {
	store   *spyStore
	queue   *fakeQueue
	handler *Handler
}

func newEnv(t *testing.T) *env {
	t.Helper()

	store := &spyStore{Memory: ledger.NewMemory()}
	_, err := store.Memory.CreateUser(context.Background(), 777, "Анна")
	require.NoError(t, err)

	q := &fakeQueue{}
	verifier := payment.NewStripeClient(config.Stripe{WebhookKey: secret})
	return &env{
		store:   store,
		queue:   q,
		handler: NewHandler(verifier, store, q, logger.NewNop()),
	}
}

func eventPayload(t *testing.T, eventType string, object map[string]any) []byte {
	t.Helper()

	raw, err := json.Marshal(map[string]any{
		"id":          "evt_test",
		"object":      "event",
		"api_version": stripe.APIVersion,
		"type":        eventType,
		"data":        map[string]any{"object": object},
	})
	require.NoError(t, err)
	return raw
}

func session(meta map[string]string) map[string]any {
	return map[string]any{
		"id":             "cs_test",
		"object":         "checkout.session",
		"payment_status": "paid",
		"metadata":       meta,
	}
}

func sign(payload []byte, key string) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(key))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func (e *env) post(payload []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook/stripe", strings.NewReader(string(payload)))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *env) user(t *testing.T) *models.User {
	t.Helper()
	u, err := e.store.Memory.GetUser(context.Background(), 777)
	require.NoError(t, err)
	return u
}

func TestWebhook_ValidPaymentEnqueuesDelivery(t *testing.T) {
	e := newEnv(t)
	payload := eventPayload(t, EventCheckoutCompleted, session(map[string]string{
		"tg_id":        "777",
		"product_type": "solar",
	}))

	rec := e.post(payload, sign(payload, secret))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, e.user(t).IsPaid(models.ProductSolar))
	require.Len(t, e.queue.jobs, 1)
	assert.Equal(t, int64(777), e.queue.jobs[0].UserID)
	assert.Equal(t, models.ProductSolar, e.queue.jobs[0].Product)
	assert.Equal(t, queue.SourcePayment, e.queue.jobs[0].Source)
}

func TestWebhook_RedeliveryIsIdempotent(t *testing.T) {
	e := newEnv(t)
	payload := eventPayload(t, EventCheckoutCompleted, session(map[string]string{
		"tg_id":        "777",
		"product_type": "income",
	}))

	for i := 0; i < 3; i++ {
		rec := e.post(payload, sign(payload, secret))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	u := e.user(t)
	assert.True(t, u.IsPaid(models.ProductIncome))
	assert.False(t, u.IsPaid(models.ProductSolar))
	require.Len(t, e.queue.jobs, 3, "one delivery per redelivered event")
	for _, job := range e.queue.jobs {
		assert.Equal(t, models.ProductIncome, job.Product)
		assert.Equal(t, int64(777), job.UserID)
	}
}

func TestWebhook_BadSignatureTouchesNothing(t *testing.T) {
	e := newEnv(t)
	payload := eventPayload(t, EventCheckoutCompleted, session(map[string]string{
		"tg_id":        "777",
		"product_type": "solar",
	}))

	tests := []struct {
		name      string
		signature string
	}{
		{name: "wrong secret", signature: sign(payload, "whsec_other")},
		{name: "garbage", signature: "t=1,v1=deadbeef"},
		{name: "missing", signature: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.post(payload, tt.signature)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	assert.Zero(t, e.store.calls())
	assert.Empty(t, e.queue.jobs)
	assert.False(t, e.user(t).IsPaid(models.ProductSolar))
}

func TestWebhook_TamperedBodyRejected(t *testing.T) {
	e := newEnv(t)
	payload := eventPayload(t, EventCheckoutCompleted, session(map[string]string{"tg_id": "777", "product_type": "destiny"}))
	sig := sign(payload, secret)

	tampered := []byte(strings.Replace(string(payload), "destiny", "solar", 1))
	rec := e.post(tampered, sig)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, e.store.calls())
}

func TestWebhook_SecretNotConfigured(t *testing.T) {
	store := &spyStore{Memory: ledger.NewMemory()}
	q := &fakeQueue{}
	h := NewHandler(payment.NewStripeClient(config.Stripe{}), store, q, logger.NewNop())

	payload := eventPayload(t, EventCheckoutCompleted, session(map[string]string{"tg_id": "777"}))
	req := httptest.NewRequest(http.MethodPost, "/webhook/stripe", strings.NewReader(string(payload)))
	req.Header.Set("Stripe-Signature", sign(payload, ""))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Zero(t, store.calls())
	assert.Empty(t, q.jobs)
}

func TestWebhook_MethodNotAllowed(t *testing.T) {
	e := newEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/webhook/stripe", nil)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestWebhook_BodyTooLarge(t *testing.T) {
	e := newEnv(t)
	payload := []byte(strings.Repeat("x", maxBodyBytes+1))
	rec := e.post(payload, sign(payload, secret))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, e.store.calls())
}

func TestWebhook_ValidButUnusableEvents(t *testing.T) {
	tests := []struct {
		name      string
		eventType string
		object    map[string]any
		storeHits int
	}{
		{
			name:      "other event type",
			eventType: "payment_intent.succeeded",
			object:    map[string]any{"id": "pi_1", "object": "payment_intent"},
		},
		{
			name:      "no metadata",
			eventType: EventCheckoutCompleted,
			object:    session(nil),
		},
		{
			name:      "non numeric user id",
			eventType: EventCheckoutCompleted,
			object:    session(map[string]string{"tg_id": "abc", "product_type": "solar"}),
		},
		{
			name:      "unknown product",
			eventType: EventCheckoutCompleted,
			object:    session(map[string]string{"tg_id": "777", "product_type": "horoscope"}),
		},
		{
			name:      "unknown user",
			eventType: EventCheckoutCompleted,
			object:    session(map[string]string{"tg_id": "999", "product_type": "solar"}),
			storeHits: 1,
		},
		{
			name:      "payment still pending",
			eventType: EventCheckoutCompleted,
			object: map[string]any{
				"id":             "cs_async",
				"object":         "checkout.session",
				"payment_status": "unpaid",
				"metadata":       map[string]string{"tg_id": "777", "product_type": "solar"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			payload := eventPayload(t, tt.eventType, tt.object)

			rec := e.post(payload, sign(payload, secret))

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.storeHits, e.store.calls())
			assert.Empty(t, e.queue.jobs)
			u := e.user(t)
			for _, p := range models.Products() {
				assert.False(t, u.IsPaid(p.Kind), p.Kind)
			}
		})
	}
}

func TestWebhook_Fallbacks(t *testing.T) {
	t.Run("client reference id", func(t *testing.T) {
		e := newEnv(t)
		obj := session(map[string]string{"product_type": "compatibility"})
		obj["client_reference_id"] = "777"
		payload := eventPayload(t, EventCheckoutCompleted, obj)

		rec := e.post(payload, sign(payload, secret))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, e.user(t).IsPaid(models.ProductCompatibility))
	})

	t.Run("missing product defaults to destiny", func(t *testing.T) {
		e := newEnv(t)
		payload := eventPayload(t, EventCheckoutCompleted, session(map[string]string{"tg_id": "777"}))

		rec := e.post(payload, sign(payload, secret))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, e.user(t).IsPaid(models.ProductDestiny))
	})

	t.Run("legacy alias", func(t *testing.T) {
		e := newEnv(t)
		payload := eventPayload(t, EventCheckoutCompleted, session(map[string]string{"tg_id": "777", "product_type": "solyar"}))

		e.post(payload, sign(payload, secret))

		assert.True(t, e.user(t).IsPaid(models.ProductSolar))
	})

	t.Run("async payment succeeded", func(t *testing.T) {
		e := newEnv(t)
		obj := session(map[string]string{"tg_id": "777", "product_type": "income"})
		payload := eventPayload(t, EventAsyncPaymentSucceeded, obj)

		e.post(payload, sign(payload, secret))

		assert.True(t, e.user(t).IsPaid(models.ProductIncome))
		assert.Len(t, e.queue.jobs, 1)
	})
}

func TestWebhook_CollaboratorFailuresStillAcknowledge(t *testing.T) {
	payloadFor := func(t *testing.T) []byte {
		return eventPayload(t, EventCheckoutCompleted, session(map[string]string{"tg_id": "777", "product_type": "solar"}))
	}

	t.Run("ledger read", func(t *testing.T) {
		e := newEnv(t)
		e.store.getErr = errors.New("connection refused")
		payload := payloadFor(t)

		rec := e.post(payload, sign(payload, secret))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, e.queue.jobs)
	})

	t.Run("ledger write", func(t *testing.T) {
		e := newEnv(t)
		e.store.setErr = errors.New("deadlock detected")
		payload := payloadFor(t)

		rec := e.post(payload, sign(payload, secret))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, e.queue.jobs, "no delivery without a recorded entitlement")
	})

	t.Run("queue full", func(t *testing.T) {
		e := newEnv(t)
		e.queue.err = queue.ErrQueueFull
		payload := payloadFor(t)

		rec := e.post(payload, sign(payload, secret))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, e.user(t).IsPaid(models.ProductSolar), "entitlement stays recorded")
	})
}

func TestProcess_Outcomes(t *testing.T) {
	e := newEnv(t)

	raw, err := json.Marshal(session(map[string]string{"tg_id": "777", "product_type": "destiny"}))
	require.NoError(t, err)

	accepted := e.handler.Process(context.Background(), stripe.Event{
		ID:   "evt_1",
		Type: EventCheckoutCompleted,
		Data: &stripe.EventData{Raw: raw},
	})
	assert.Equal(t, OutcomeAccepted, accepted)

	ignored := e.handler.Process(context.Background(), stripe.Event{ID: "evt_2", Type: "charge.refunded"})
	assert.Equal(t, OutcomeIgnored, ignored)

	noData := e.handler.Process(context.Background(), stripe.Event{ID: "evt_3", Type: EventCheckoutCompleted})
	assert.Equal(t, OutcomeIgnored, noData)
}
