package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/proactiveitadmin/gym-integrator/internal/logging"
	"github.com/proactiveitadmin/gym-integrator/internal/repository"
)

// CounterStore is the atomic counter backend.
type CounterStore interface {
	Increment(ctx context.Context, tenantID, bucket, key string, nowUnix int64) (repository.Counter, error)
	SetBlockedUntil(ctx context.Context, tenantID, bucket, key string, untilUnix int64) error
}

// Config holds the limiter knobs.
type Config struct {
	BucketSeconds      int
	MaxPerBucket       int
	TenantMaxPerBucket int
}

// Limiter counts messages per tenant+phone and per tenant in fixed time
// buckets. It fails open: store errors are logged and never block.
type Limiter struct {
	store CounterStore
	cfg   Config
	now   func() time.Time
}

type Option func(*Limiter)

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New creates a Limiter. Zero config values take the defaults 60s, 20 and 300.
func New(store CounterStore, cfg Config, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, errors.New("ratelimit: store must not be nil")
	}
	if cfg.BucketSeconds <= 0 {
		cfg.BucketSeconds = 60
	}
	if cfg.MaxPerBucket <= 0 {
		cfg.MaxPerBucket = 20
	}
	if cfg.TenantMaxPerBucket < 0 {
		cfg.TenantMaxPerBucket = 0
	}
	l := &Limiter{store: store, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// BucketID identifies the fixed window containing ts.
func BucketID(ts time.Time, bucketSeconds int) string {
	width := int64(bucketSeconds)
	start := ts.Unix() - ts.Unix()%width
	return time.Unix(start, 0).UTC().Format("20060102150405")
}

// IsBlocked increments the counters for this message and reports whether
// it must be dropped.
//
// An active blocked_until marker wins first. Exceeding the per-phone limit
// sets that marker for one bucket width. Exceeding the tenant total blocks
// only the current call.
func (l *Limiter) IsBlocked(ctx context.Context, tenantID, phone string) bool {
	if phone == "" {
		slog.WarnContext(ctx, "rate limit check without phone", "tenant_id", tenantID)
		return false
	}

	now := l.now()
	nowUnix := now.Unix()
	bucket := BucketID(now, l.cfg.BucketSeconds)

	ctr, err := l.store.Increment(ctx, tenantID, bucket, phone, nowUnix)
	if err != nil {
		slog.ErrorContext(ctx, "rate limit counter update failed",
			"tenant_id", tenantID, "phone", logging.MaskPhone(phone), "err", err)
		return false
	}

	var totalCount int64
	total, err := l.store.Increment(ctx, tenantID, bucket, repository.TotalCounterKey, nowUnix)
	if err != nil {
		slog.ErrorContext(ctx, "rate limit total counter update failed", "tenant_id", tenantID, "err", err)
	} else {
		totalCount = total.Count
	}

	if ctr.BlockedUntil > 0 && nowUnix < ctr.BlockedUntil {
		slog.InfoContext(ctx, "rate limit already blocked",
			"tenant_id", tenantID, "phone", logging.MaskPhone(phone), "blocked_until", ctr.BlockedUntil)
		return true
	}

	if ctr.Count > int64(l.cfg.MaxPerBucket) {
		until := nowUnix + int64(l.cfg.BucketSeconds)
		if err := l.store.SetBlockedUntil(ctx, tenantID, bucket, phone, until); err != nil {
			slog.ErrorContext(ctx, "rate limit set blocked_until failed",
				"tenant_id", tenantID, "phone", logging.MaskPhone(phone), "err", err)
		}
		slog.WarnContext(ctx, "rate limit hit",
			"tenant_id", tenantID,
			"phone", logging.MaskPhone(phone),
			"cnt", ctr.Count,
			"max_per_bucket", l.cfg.MaxPerBucket,
			"bucket_seconds", l.cfg.BucketSeconds,
		)
		return true
	}

	if l.cfg.TenantMaxPerBucket > 0 && totalCount > int64(l.cfg.TenantMaxPerBucket) {
		slog.WarnContext(ctx, "tenant bucket limit exceeded",
			"tenant_id", tenantID, "phone", logging.MaskPhone(phone), "total_cnt", totalCount)
		return true
	}
	return false
}
