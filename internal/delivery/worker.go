// Package delivery turns a confirmed entitlement into a report in the user's
// chat: generate text, render a PDF, store it, send it.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"astro-bot/internal/gpt"
	"astro-bot/internal/ledger"
	"astro-bot/internal/models"
	"astro-bot/internal/queue"
	"astro-bot/pkg/logger"
)

var (
	// ErrNotEntitled is returned when the ledger has no confirmed payment.
	ErrNotEntitled = errors.New("product is not paid")
	// ErrEmptyReport is returned when generation produced only whitespace.
	ErrEmptyReport = errors.New("generated report is empty")
)

type Generator interface {
	Generate(ctx context.Context, messages []gpt.Message, maxTokens int) (string, error)
}

type Renderer interface {
	Render(kind models.ProductKind, text string) ([]byte, error)
}

type BlobStore interface {
	Put(ctx context.Context, ownerID int64, kind models.ProductKind, data []byte) (string, error)
}

type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendDocument(ctx context.Context, chatID int64, url, caption string) error
}

type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// Timeouts bound each external call. Zero means no extra bound.
type Timeouts struct {
	Generate time.Duration
	Render   time.Duration
	Upload   time.Duration
	Send     time.Duration
	LockWait time.Duration
}

// RunBudget is the longest a single run can take when every step uses its
// full timeout: parts generation calls, render, upload, the payment notice and
// the delivery. Zero timeouts count as zero.
func (t Timeouts) RunBudget(parts int) time.Duration {
	return time.Duration(parts)*t.Generate + t.Render + t.Upload + 2*t.Send
}

type Worker struct {
	ledger    ledger.Ledger
	generator Generator
	renderer  Renderer
	store     BlobStore
	messenger Messenger
	locker    Locker
	timeouts  Timeouts
	maxTokens int
	logger    *logger.Logger
}

type Option func(*Worker)

// WithLocker serialises runs for the same user and product.
func WithLocker(l Locker) Option { return func(w *Worker) { w.locker = l } }

func WithTimeouts(t Timeouts) Option { return func(w *Worker) { w.timeouts = t } }

func WithMaxTokens(n int) Option { return func(w *Worker) { w.maxTokens = n } }

func NewWorker(l ledger.Ledger, g Generator, r Renderer, s BlobStore, m Messenger, log *logger.Logger, opts ...Option) *Worker {
	w := &Worker{
		ledger:    l,
		generator: g,
		renderer:  r,
		store:     s,
		messenger: m,
		logger:    log,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Handle runs one delivery. It is a queue.Handler.
//
// Without a Locker, two runs for the same user and product that start before
// a document is cached will both generate.
func (w *Worker) Handle(ctx context.Context, job queue.Job) error {
	product, ok := job.Product.Lookup()
	if !ok {
		return fmt.Errorf("%w: %q", ledger.ErrUnknownProduct, job.Product)
	}

	if w.locker != nil {
		lockCtx, cancel := withTimeout(ctx, w.timeouts.LockWait)
		release, err := w.locker.Acquire(lockCtx, fmt.Sprintf("%d:%s", job.UserID, job.Product))
		cancel()
		if err != nil {
			w.send(ctx, job.UserID, fmt.Sprintf(msgTryLater, product.Title))
			return fmt.Errorf("failed to lock delivery: %w", err)
		}
		defer release()
	}

	// Always read the ledger fresh: it decides whether generation is allowed.
	user, err := w.ledger.GetUser(ctx, job.UserID)
	if err != nil {
		// Private chat ids equal user ids, so the user can still be told.
		if !errors.Is(err, ledger.ErrUserNotFound) {
			w.send(ctx, job.UserID, fmt.Sprintf(msgTryLater, product.Title))
		}
		return fmt.Errorf("failed to load user %d: %w", job.UserID, err)
	}
	chatID := user.TelegramID

	if !user.IsPaid(product.Kind) {
		w.send(ctx, chatID, fmt.Sprintf(msgNotEntitled, product.Title))
		return ErrNotEntitled
	}

	if url := user.CachedDocument(product.Kind); url != "" {
		w.logger.Infow("Delivering cached document", "user_id", chatID, "product", product.Kind, "job_id", job.ID)
		return w.deliverDocument(ctx, chatID, product, url)
	}

	if job.Source == queue.SourcePayment {
		w.send(ctx, chatID, fmt.Sprintf(msgPaymentReceived, product.Title))
	}

	w.logger.Infow("Generating report", "user_id", chatID, "product", product.Kind, "job_id", job.ID)
	text, err := w.generate(ctx, product.Kind, user)
	if err != nil {
		w.send(ctx, chatID, failureMessage(product, err))
		return fmt.Errorf("failed to generate %s for %d: %w", product.Kind, chatID, err)
	}

	url, err := w.publish(ctx, chatID, product.Kind, text)
	if err != nil {
		w.logger.Warnw("Render or upload failed, delivering text instead",
			"user_id", chatID, "product", product.Kind, "error", err)
		return w.deliverText(ctx, chatID, text)
	}

	if err := w.ledger.SetCachedDocument(ctx, chatID, product.Kind, url); err != nil {
		w.logger.Errorw("Failed to cache document reference",
			"user_id", chatID, "product", product.Kind, "url", url, "error", err)
	}

	return w.deliverDocument(ctx, chatID, product, url)
}

// generate runs the prompt parts in order and joins the answers.
func (w *Worker) generate(ctx context.Context, kind models.ProductKind, user *models.User) (string, error) {
	parts, err := gpt.BuildPrompts(kind, user)
	if err != nil {
		return "", err
	}

	out := make([]string, 0, len(parts))
	for i, messages := range parts {
		callCtx, cancel := withTimeout(ctx, w.timeouts.Generate)
		text, err := w.generator.Generate(callCtx, messages, w.maxTokens)
		cancel()
		if err != nil {
			return "", fmt.Errorf("part %d/%d: %w", i+1, len(parts), err)
		}
		out = append(out, strings.TrimSpace(text))
	}

	report := strings.TrimSpace(strings.Join(out, "\n\n"))
	if report == "" {
		return "", ErrEmptyReport
	}
	return report, nil
}

// publish renders the report and uploads it, returning the public URL.
func (w *Worker) publish(ctx context.Context, ownerID int64, kind models.ProductKind, text string) (string, error) {
	renderCtx, cancel := withTimeout(ctx, w.timeouts.Render)
	data, err := w.render(renderCtx, kind, text)
	cancel()
	if err != nil {
		return "", fmt.Errorf("render: %w", err)
	}

	uploadCtx, cancel := withTimeout(ctx, w.timeouts.Upload)
	defer cancel()

	url, err := w.store.Put(uploadCtx, ownerID, kind, data)
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	return url, nil
}

// render runs the CPU-bound renderer so that ctx can still bound it.
func (w *Worker) render(ctx context.Context, kind models.ProductKind, text string) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}

	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("renderer panic: %v", r)}
			}
		}()
		data, err := w.renderer.Render(kind, text)
		ch <- result{data: data, err: err}
	}()

	select {
	case res := <-ch:
		return res.data, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (w *Worker) deliverDocument(ctx context.Context, chatID int64, product models.Product, url string) error {
	sendCtx, cancel := withTimeout(ctx, w.timeouts.Send)
	defer cancel()

	if err := w.messenger.SendDocument(sendCtx, chatID, url, fmt.Sprintf(msgCaption, product.Title)); err != nil {
		w.logger.Errorw("Failed to send document", "user_id", chatID, "product", product.Kind, "error", err)
		return fmt.Errorf("failed to send document: %w", err)
	}
	w.logger.Infow("Document delivered", "user_id", chatID, "product", product.Kind)
	return nil
}

func (w *Worker) deliverText(ctx context.Context, chatID int64, text string) error {
	sendCtx, cancel := withTimeout(ctx, w.timeouts.Send)
	defer cancel()

	if err := w.messenger.SendText(sendCtx, chatID, msgFallbackPrefix+text); err != nil {
		w.logger.Errorw("Failed to send report text", "user_id", chatID, "error", err)
		return fmt.Errorf("failed to send report text: %w", err)
	}
	return nil
}

// send delivers a status message; failures are only logged.
func (w *Worker) send(ctx context.Context, chatID int64, text string) {
	sendCtx, cancel := withTimeout(ctx, w.timeouts.Send)
	defer cancel()

	if err := w.messenger.SendText(sendCtx, chatID, text); err != nil {
		w.logger.Errorw("Failed to send message", "user_id", chatID, "error", err)
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
