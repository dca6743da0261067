// Package middleware provides HTTP middleware for the gateway server.
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/tidestore/tidestore/internal/abuse"
	apierrors "github.com/tidestore/tidestore/internal/api/errors"
	"github.com/tidestore/tidestore/internal/auth"
	"github.com/tidestore/tidestore/internal/metrics"
	"github.com/tidestore/tidestore/internal/ratelimit"
)

type contextKey string

const identityKey contextKey = "identity"

// IdentityFrom returns the resolved caller identity, if any. Anonymous
// requests on public routes carry no identity.
func IdentityFrom(ctx context.Context) (auth.Identity, bool) {
	id, ok := ctx.Value(identityKey).(auth.Identity)
	return id, ok
}

// WithIdentity returns a context carrying the resolved identity.
func WithIdentity(ctx context.Context, id auth.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// CredentialResolver resolves a raw credential into an identity. For secret
// credentials the returned Info reflects the secret's own ceiling; for bearer
// credentials Info is nil and IP-tier limiting applies instead.
type CredentialResolver interface {
	Resolve(ctx context.Context, credential string) (auth.Identity, *ratelimit.Info, error)
}

// Gate authenticates requests and applies exactly one rate-limit family per
// request: the secret's own ceiling for pinning secrets, or an IP-keyed tier
// (normal or suspicious, chosen by the abuse classifier) for everything else.
type Gate struct {
	resolver   CredentialResolver
	normal     *ratelimit.Policy
	suspicious *ratelimit.Limiter
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewGate creates the authorization gate.
func NewGate(resolver CredentialResolver, normal *ratelimit.Policy, suspicious *ratelimit.Limiter, m *metrics.Metrics, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		resolver:   resolver,
		normal:     normal,
		suspicious: suspicious,
		metrics:    m,
		logger:     logger,
	}
}

// Protect requires a credential. Requests without one are rejected before any
// limiter state is touched.
func (g *Gate) Protect(next http.Handler) http.Handler {
	return g.handler(next, true)
}

// Public admits anonymous callers under the IP-keyed tiers. Credentials, when
// present, are still resolved so owners reach their own private content.
func (g *Gate) Public(next http.Handler) http.Handler {
	return g.handler(next, false)
}

func (g *Gate) handler(next http.Handler, requireCredential bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		credential := extractCredential(r)

		if credential == "" {
			if requireCredential {
				apierrors.WriteError(w, apierrors.New(apierrors.CodeMissingCredential, "Authorization credential required"))
				return
			}
			if !g.allowByIP(w, r) {
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		identity, info, err := g.resolver.Resolve(r.Context(), credential)
		if err != nil {
			g.writeResolveError(w, err)
			return
		}

		if info != nil {
			// Secret tier: the secret's own ceiling already admitted this
			// request, no IP-keyed limiter applies.
			setRateHeaders(w, *info)
			g.count("secret", "allowed")
		} else if !g.allowByIP(w, r) {
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

// allowByIP runs the IP-keyed tier chosen by the abuse classifier. Headers are
// set on both outcomes; a denial writes the 429 body and returns false.
func (g *Gate) allowByIP(w http.ResponseWriter, r *http.Request) bool {
	ip := ClientIP(r)

	tier := "normal"
	var allowed bool
	var info ratelimit.Info
	if abuse.Suspicious(r.UserAgent()) {
		tier = "suspicious"
		allowed, info = g.suspicious.Allow(ip)
	} else {
		allowed, info = g.normal.Allow(ip)
	}

	setRateHeaders(w, info)
	if !allowed {
		g.count(tier, "denied")
		writeRateLimited(w, info)
		return false
	}

	g.count(tier, "allowed")
	return true
}

func (g *Gate) writeResolveError(w http.ResponseWriter, err error) {
	var rateErr *auth.RateLimitedError
	switch {
	case errors.As(err, &rateErr):
		g.count("secret", "denied")
		setRateHeaders(w, rateErr.Info)
		writeRateLimited(w, rateErr.Info)
	case errors.Is(err, auth.ErrMissingCredential):
		apierrors.WriteError(w, apierrors.New(apierrors.CodeMissingCredential, "Authorization credential required"))
	case errors.Is(err, auth.ErrInvalidCredential):
		apierrors.WriteError(w, apierrors.New(apierrors.CodeInvalidCredential, "Credential is invalid or revoked"))
	case errors.Is(err, auth.ErrUpstreamVerification):
		apierrors.WriteError(w, apierrors.New(apierrors.CodeUpstreamVerification, "Could not verify credential with identity provider"))
	default:
		g.logger.Error("credential resolution failed", "error", err)
		apierrors.WriteError(w, apierrors.New(apierrors.CodeInternalError, "An unexpected error occurred"))
	}
}

func (g *Gate) count(tier, outcome string) {
	if g.metrics != nil {
		g.metrics.AdmissionDecisions.WithLabelValues(tier, outcome).Inc()
	}
}

// extractCredential pulls the credential out of the Authorization header. Both
// "Bearer <value>" and a bare pinning secret are accepted.
func extractCredential(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return ""
	}
	if token := auth.ExtractBearerToken(header); token != "" {
		return token
	}
	if strings.HasPrefix(header, auth.SecretPrefix) {
		return header
	}
	return ""
}

// setRateHeaders advertises limiter state on every gated response, allowed or
// denied.
func setRateHeaders(w http.ResponseWriter, info ratelimit.Info) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(info.ResetAt.Unix(), 10))
}

func writeRateLimited(w http.ResponseWriter, info ratelimit.Info) {
	retryAfter := int(math.Ceil(info.RetryAfter.Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	apierrors.WriteError(w, apierrors.NewRateLimited("Rate limit exceeded", retryAfter))
}
