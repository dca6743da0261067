// Package auth resolves inbound credentials into caller identities. Two
// mutually exclusive schemes exist: bearer tokens verified against the
// identity provider, and ts_ps_-prefixed pinning secrets validated against
// the hashed-secret store.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tidestore/tidestore/internal/ratelimit"
	"github.com/tidestore/tidestore/internal/store"
)

// Common errors returned by credential resolution.
var (
	ErrMissingCredential    = errors.New("missing credential")
	ErrInvalidCredential    = errors.New("invalid credential")
	ErrUpstreamVerification = errors.New("upstream verification failed")
)

// RateLimitedError is returned when the secret's own ceiling denies the
// request. It carries the limiter state so the boundary can populate retry
// headers.
type RateLimitedError struct {
	Info ratelimit.Info
}

// Error implements the error interface.
func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited until %d", e.Info.ResetAt.Unix())
}

// Resolver classifies a credential string and produces an Identity.
type Resolver struct {
	verifier TokenVerifier
	secrets  store.SecretStore
	limiter  *ratelimit.Limiter
	logger   *slog.Logger

	touchCh   chan string
	touchWG   sync.WaitGroup
	closeOnce sync.Once
}

// NewResolver creates a resolver. limiter is the secret-keyed limiter applied
// per secret using its own ceiling. A background worker drains best-effort
// last-used updates; callers must Shutdown the resolver when done.
func NewResolver(verifier TokenVerifier, secrets store.SecretStore, limiter *ratelimit.Limiter, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Resolver{
		verifier: verifier,
		secrets:  secrets,
		limiter:  limiter,
		logger:   logger,
		touchCh:  make(chan string, 256),
	}

	r.touchWG.Add(1)
	go r.touchWorker()

	return r
}

// Resolve classifies the credential and produces the matching identity.
// Dispatch is by the reserved prefix only: a ts_ps_ credential never falls
// through to bearer-token verification, and vice versa. For the secret path
// the returned Info reflects the secret-keyed limiter's state; for the bearer
// path Info is nil and IP-keyed limiting is the caller's responsibility.
func (r *Resolver) Resolve(ctx context.Context, credential string) (Identity, *ratelimit.Info, error) {
	if credential == "" {
		return nil, nil, ErrMissingCredential
	}

	if strings.HasPrefix(credential, SecretPrefix) {
		return r.resolveSecret(ctx, credential)
	}

	return r.resolveBearer(ctx, credential)
}

func (r *Resolver) resolveSecret(ctx context.Context, credential string) (Identity, *ratelimit.Info, error) {
	hash := HashSecret(credential)

	secret, err := r.secrets.GetActiveByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, ErrInvalidCredential
		}
		r.logger.Error("secret lookup failed", "error", err)
		return nil, nil, fmt.Errorf("looking up secret: %w", err)
	}

	// Best-effort, never blocks the request; dropped when the queue is full.
	select {
	case r.touchCh <- secret.ID:
	default:
	}

	allowed, info := r.limiter.AllowLimit(secret.ID, secret.RateLimitPerMinute)
	if !allowed {
		return nil, nil, &RateLimitedError{Info: info}
	}

	return SecretIdentity{
		SubjectID:          secret.OwnerID,
		SecretID:           secret.ID,
		Scopes:             secret.Scopes,
		RateLimitPerMinute: secret.RateLimitPerMinute,
	}, &info, nil
}

func (r *Resolver) resolveBearer(ctx context.Context, credential string) (Identity, *ratelimit.Info, error) {
	claims, err := r.verifier.Verify(ctx, credential)
	if err != nil {
		if errors.Is(err, ErrTokenInvalid) {
			return nil, nil, ErrInvalidCredential
		}
		r.logger.Warn("identity provider verification failed", "error", err)
		return nil, nil, ErrUpstreamVerification
	}

	return JWTIdentity{
		SubjectID: claims.Subject,
		Email:     DisplayEmail(claims),
	}, nil, nil
}

// Shutdown stops the last-used worker, draining queued updates until the
// context deadline.
func (r *Resolver) Shutdown(ctx context.Context) error {
	r.closeOnce.Do(func() {
		close(r.touchCh)
	})

	done := make(chan struct{})
	go func() {
		r.touchWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Name returns the component name for shutdown logging.
func (r *Resolver) Name() string { return "auth-resolver" }

// touchWorker drains last-used updates. Failures are logged and discarded; a
// metering failure must never fail the request it describes.
func (r *Resolver) touchWorker() {
	defer r.touchWG.Done()

	for id := range r.touchCh {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.secrets.TouchLastUsed(ctx, id); err != nil {
			r.logger.Debug("last-used update failed", "secret_id", id, "error", err)
		}
		cancel()
	}
}

// ExtractBearerToken extracts the token from a Bearer authorization header.
func ExtractBearerToken(authHeader string) string {
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
