// Package ratelimit sequences identity resolution, abuse suppression,
// health-aware limit selection, and the sliding-window counter into a
// single per-request decision. It has no knowledge of net/http; the
// middleware adapter in internal/middleware translates Decide's output
// into headers and status codes.
package ratelimit

import (
	"context"
	"errors"
	"time"

	"distributed-ratelimiter/internal/abuse"
	"distributed-ratelimiter/internal/config"
	"distributed-ratelimiter/internal/health"
	"distributed-ratelimiter/internal/store"
)

// WindowRunner is the subset of *store.Client the Orchestrator needs for
// the sliding-window check.
type WindowRunner interface {
	RunSlidingWindow(ctx context.Context, userID string, windowSeconds int, limit int64, now time.Time) (*store.WindowResult, error)
}

// AbuseChecker is the subset of *abuse.Service the Orchestrator needs.
type AbuseChecker interface {
	IsBlocked(ctx context.Context, addr string) (abuse.Decision, error)
	RecordInvalidAttempt(ctx context.Context, addr string) (abuse.Decision, error)
}

// HealthReader is the subset of *health.Service the Orchestrator needs.
type HealthReader interface {
	Get(ctx context.Context) health.Status
}

// CredentialResolver is the subset of *identity.Resolver the Orchestrator
// needs.
type CredentialResolver interface {
	Resolve(credential string) (userID, tier string, err error)
}

// Result carries everything the middleware adapter needs to annotate a
// response, whether the request was admitted or rejected.
type Result struct {
	Allowed    bool
	Degraded   bool // store was unreachable; request was admitted by fail-open policy
	Tier       string
	Limit      int64
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Orchestrator implements the Rate-Limit Decision Orchestrator.
type Orchestrator struct {
	window    WindowRunner
	abuse     AbuseChecker
	healthSv  HealthReader
	identity  CredentialResolver
	snapshots func() *config.Snapshot
}

// New builds an Orchestrator from its collaborators.
func New(window WindowRunner, abuseSvc AbuseChecker, healthSvc HealthReader, resolver CredentialResolver, holder *config.Holder) *Orchestrator {
	return &Orchestrator{
		window:    window,
		abuse:     abuseSvc,
		healthSv:  healthSvc,
		identity:  resolver,
		snapshots: holder.Load,
	}
}

// Decide runs the full decision sequence for one request. addr is the
// source address used for abuse suppression; credential is the
// caller-supplied API key.
func (o *Orchestrator) Decide(ctx context.Context, addr, credential string, now time.Time) (Result, error) {
	blockDec, err := o.abuse.IsBlocked(ctx, addr)
	if err != nil && !errors.Is(err, store.ErrStoreUnavailable) {
		return Result{}, err
	}
	if blockDec.Blocked {
		return Result{RetryAfter: blockDec.RetryAfter}, ErrBlocked
	}

	userID, tier, err := o.identity.Resolve(credential)
	if err != nil {
		// Recording the attempt may trip the block threshold, but this
		// request is still the one that failed credential validation: it
		// always answers 401. The block becomes observable on whatever
		// request arrives next, via the IsBlocked check above.
		_, _ = o.abuse.RecordInvalidAttempt(ctx, addr)
		return Result{}, ErrInvalidCredential
	}

	snap := o.snapshots()
	limits, ok := snap.Limits[tier]
	if !ok {
		return Result{}, ErrConfigInvalid
	}
	tierCfg, ok := snap.Tiers[tier]
	if !ok {
		return Result{}, ErrConfigInvalid
	}

	status := o.healthSv.Get(ctx)
	limit := limits.Normal
	if status == health.StatusDegraded {
		limit = limits.Degraded
	}

	winResult, err := o.window.RunSlidingWindow(ctx, userID, tierCfg.WindowSeconds, limit, now)
	if err != nil {
		if errors.Is(err, store.ErrStoreUnavailable) {
			return Result{
				Allowed:  true,
				Degraded: true,
				Tier:     tier,
				Limit:    limit,
			}, nil
		}
		return Result{}, err
	}

	res := Result{
		Allowed:   winResult.Allowed,
		Tier:      tier,
		Limit:     winResult.Limit,
		Remaining: winResult.Remaining,
		ResetAt:   winResult.ResetAt,
	}
	if !winResult.Allowed {
		retryAfter := time.Until(winResult.ResetAt)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		res.RetryAfter = retryAfter
		return res, ErrLimitExceeded
	}
	return res, nil
}
