package handler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/proactiveitadmin/gym-integrator/internal/repository"
)

type StatsPurger interface {
	PurgeStale(ctx context.Context, thresholdUnix int64) (repository.PurgeResult, error)
}

// Housekeeping removes rate-limit counters that have not been touched for maxAge.
type Housekeeping struct {
	purger StatsPurger
	maxAge time.Duration
	now    func() time.Time
}

func NewHousekeeping(purger StatsPurger, maxAge time.Duration) (*Housekeeping, error) {
	if purger == nil {
		return nil, errors.New("handler: stats purger must not be nil")
	}
	if maxAge <= 0 {
		return nil, errors.New("handler: max age must be positive")
	}
	return &Housekeeping{purger: purger, maxAge: maxAge, now: time.Now}, nil
}

// Handle is the scheduled entry point.
func (h *Housekeeping) Handle(ctx context.Context, _ events.CloudWatchEvent) (repository.PurgeResult, error) {
	return h.Run(ctx)
}

func (h *Housekeeping) Run(ctx context.Context) (repository.PurgeResult, error) {
	threshold := h.now().Add(-h.maxAge).Unix()
	res, err := h.purger.PurgeStale(ctx, threshold)
	if err != nil {
		slog.ErrorContext(ctx, "housekeeping failed", "scanned", res.Scanned, "deleted", res.Deleted, "err", err)
		return res, err
	}
	slog.InfoContext(ctx, "housekeeping done", "scanned", res.Scanned, "deleted", res.Deleted, "threshold", threshold)
	return res, nil
}
