// Package queue decouples scheduling a report delivery from running it.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"astro-bot/internal/models"
)

var (
	ErrQueueFull   = errors.New("delivery queue is full")
	ErrQueueClosed = errors.New("delivery queue is closed")
)

// Source tells the worker why a job exists.
type Source string

const (
	SourcePayment Source = "payment"
	SourceRequest Source = "request"
)

// Job asks for one product to be delivered to one user.
type Job struct {
	ID         string             `json:"id"`
	UserID     int64              `json:"user_id"`
	Product    models.ProductKind `json:"product"`
	Source     Source             `json:"source"`
	EnqueuedAt time.Time          `json:"enqueued_at"`
}

func NewJob(userID int64, kind models.ProductKind, source Source) Job {
	return Job{
		ID:         uuid.New().String(),
		UserID:     userID,
		Product:    kind,
		Source:     source,
		EnqueuedAt: time.Now().UTC(),
	}
}

// Queue accepts jobs without waiting for them to run.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
}

// Handler runs one job.
type Handler func(ctx context.Context, job Job) error
