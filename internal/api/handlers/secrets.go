package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apierrors "github.com/tidestore/tidestore/internal/api/errors"
	"github.com/tidestore/tidestore/internal/api/middleware"
	"github.com/tidestore/tidestore/internal/auth"
	"github.com/tidestore/tidestore/internal/models"
	"github.com/tidestore/tidestore/internal/store"
)

const (
	maxSecretNameLength = 100
	defaultUsageDays    = 30
	maxUsageDays        = 90
)

// SecretsHandler manages the pinning secret lifecycle.
type SecretsHandler struct {
	secrets          store.SecretStore
	usage            store.UsageStore
	defaultRateLimit int
	logger           *slog.Logger
}

// NewSecretsHandler creates a secrets handler. defaultRateLimit is applied to
// new secrets that do not request their own ceiling.
func NewSecretsHandler(secrets store.SecretStore, usageStore store.UsageStore, defaultRateLimit int, logger *slog.Logger) *SecretsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SecretsHandler{
		secrets:          secrets,
		usage:            usageStore,
		defaultRateLimit: defaultRateLimit,
		logger:           logger,
	}
}

// createSecretRequest is the Create payload.
type createSecretRequest struct {
	Name               string   `json:"name"`
	Scopes             []string `json:"scopes"`
	RateLimitPerMinute int      `json:"rate_limit_per_minute,omitempty"`
	MonthlyQuotaBytes  *int64   `json:"monthly_quota_bytes,omitempty"`
}

// createSecretResponse carries the plaintext secret. It is returned exactly
// once; afterwards only the display prefix is recoverable.
type createSecretResponse struct {
	Secret        *models.PinningSecret `json:"secret"`
	PlaintextOnce string                `json:"plaintext"`
}

// Create mints a new pinning secret for the session caller. Secrets cannot
// mint further secrets, so a SecretIdentity is refused here.
func (h *SecretsHandler) Create(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.sessionCaller(w, r)
	if !ok {
		return
	}

	var req createSecretRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.WriteError(w, apierrors.New(apierrors.CodeValidationError, "Invalid request body"))
		return
	}

	if req.Name == "" || len(req.Name) > maxSecretNameLength {
		apierrors.WriteError(w, apierrors.New(apierrors.CodeValidationError, "Name is required and at most 100 characters"))
		return
	}
	if len(req.Scopes) == 0 {
		req.Scopes = []string{models.ScopeUpload, models.ScopeDownload}
	}
	for _, scope := range req.Scopes {
		if !models.ValidScope(scope) {
			apierrors.WriteError(w, apierrors.New(apierrors.CodeValidationError, "Unknown scope: "+scope))
			return
		}
	}

	rateLimit := req.RateLimitPerMinute
	if rateLimit <= 0 {
		rateLimit = h.defaultRateLimit
	}

	plaintext, err := auth.GenerateSecret()
	if err != nil {
		h.logger.Error("secret generation failed", "error", err)
		apierrors.WriteError(w, apierrors.New(apierrors.CodeInternalError, "An unexpected error occurred"))
		return
	}

	secret := &models.PinningSecret{
		ID:                 uuid.New().String(),
		OwnerID:            caller.SubjectID,
		Name:               req.Name,
		Prefix:             auth.DisplayPrefix(plaintext),
		SecretHash:         auth.HashSecret(plaintext),
		Scopes:             req.Scopes,
		RateLimitPerMinute: rateLimit,
		MonthlyQuotaBytes:  req.MonthlyQuotaBytes,
		IsActive:           true,
		CreatedAt:          time.Now().UTC(),
	}

	if err := h.secrets.Create(r.Context(), secret); err != nil {
		h.logger.Error("secret creation failed", "owner_id", caller.SubjectID, "error", err)
		apierrors.WriteError(w, apierrors.New(apierrors.CodeInternalError, "An unexpected error occurred"))
		return
	}

	h.logger.Info("pinning secret created",
		"secret_id", secret.ID,
		"owner_id", caller.SubjectID,
		"prefix", secret.Prefix,
	)

	apierrors.WriteJSON(w, http.StatusCreated, createSecretResponse{
		Secret:        secret,
		PlaintextOnce: plaintext,
	})
}

// List returns the caller's secrets, hashes excluded by the model's JSON shape.
func (h *SecretsHandler) List(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.sessionCaller(w, r)
	if !ok {
		return
	}

	secrets, err := h.secrets.ListByOwner(r.Context(), caller.SubjectID)
	if err != nil {
		h.logger.Error("secret listing failed", "owner_id", caller.SubjectID, "error", err)
		apierrors.WriteError(w, apierrors.New(apierrors.CodeInternalError, "An unexpected error occurred"))
		return
	}
	if secrets == nil {
		secrets = []*models.PinningSecret{}
	}

	apierrors.WriteJSON(w, http.StatusOK, map[string]any{"secrets": secrets})
}

// Revoke deactivates the caller's secret. Revocation takes effect on the next
// resolution; it is not reversible through the API.
func (h *SecretsHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.sessionCaller(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.secrets.Revoke(r.Context(), id, caller.SubjectID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			apierrors.WriteError(w, apierrors.New(apierrors.CodeNotFound, "No such secret"))
			return
		}
		h.logger.Error("secret revocation failed", "secret_id", id, "error", err)
		apierrors.WriteError(w, apierrors.New(apierrors.CodeInternalError, "An unexpected error occurred"))
		return
	}

	h.logger.Info("pinning secret revoked", "secret_id", id, "owner_id", caller.SubjectID)
	w.WriteHeader(http.StatusNoContent)
}

// Usage returns the secret's daily usage rollups, newest first.
func (h *SecretsHandler) Usage(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.sessionCaller(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	secret, err := h.secrets.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			apierrors.WriteError(w, apierrors.New(apierrors.CodeNotFound, "No such secret"))
			return
		}
		h.logger.Error("secret lookup failed", "secret_id", id, "error", err)
		apierrors.WriteError(w, apierrors.New(apierrors.CodeInternalError, "An unexpected error occurred"))
		return
	}
	// Other owners' secrets are indistinguishable from absent ones.
	if secret.OwnerID != caller.SubjectID {
		apierrors.WriteError(w, apierrors.New(apierrors.CodeNotFound, "No such secret"))
		return
	}

	days := defaultUsageDays
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxUsageDays {
			apierrors.WriteError(w, apierrors.New(apierrors.CodeValidationError, "days must be between 1 and 90"))
			return
		}
		days = n
	}

	rows, err := h.usage.ListBySecret(r.Context(), id, days)
	if err != nil {
		h.logger.Error("usage listing failed", "secret_id", id, "error", err)
		apierrors.WriteError(w, apierrors.New(apierrors.CodeInternalError, "An unexpected error occurred"))
		return
	}
	if rows == nil {
		rows = []*models.DailyUsage{}
	}

	apierrors.WriteJSON(w, http.StatusOK, map[string]any{"usage": rows})
}

// sessionCaller requires a JWT-authenticated caller. Programmatic secrets are
// refused on the lifecycle surface.
func (h *SecretsHandler) sessionCaller(w http.ResponseWriter, r *http.Request) (auth.JWTIdentity, bool) {
	identity, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		apierrors.WriteError(w, apierrors.New(apierrors.CodeMissingCredential, "Authorization credential required"))
		return auth.JWTIdentity{}, false
	}

	caller, isJWT := identity.(auth.JWTIdentity)
	if !isJWT {
		apierrors.WriteError(w, apierrors.New(apierrors.CodeForbidden, "Secret management requires a session credential"))
		return auth.JWTIdentity{}, false
	}

	return caller, true
}
