// Package handlers implements the HTTP handlers for the gateway API.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/tidestore/tidestore/internal/api/errors"
	"github.com/tidestore/tidestore/internal/api/middleware"
	"github.com/tidestore/tidestore/internal/auth"
	"github.com/tidestore/tidestore/internal/gateway"
	"github.com/tidestore/tidestore/internal/metrics"
	"github.com/tidestore/tidestore/internal/models"
	"github.com/tidestore/tidestore/internal/store"
	"github.com/tidestore/tidestore/internal/usage"
)

// relayChunkSize is the copy buffer for streaming proxied bodies.
const relayChunkSize = 32 * 1024

// ContentHandler serves proxied content downloads.
type ContentHandler struct {
	content  store.ContentStore
	backend  *gateway.Client
	recorder *usage.Recorder
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewContentHandler creates a content handler.
func NewContentHandler(content store.ContentStore, backend *gateway.Client, recorder *usage.Recorder, m *metrics.Metrics, logger *slog.Logger) *ContentHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContentHandler{
		content:  content,
		backend:  backend,
		recorder: recorder,
		metrics:  m,
		logger:   logger,
	}
}

// Get streams the object at {address} to the client.
//
// Authorization happens against the metadata record before the backend is
// ever contacted: anonymous callers see any recorded address, authenticated
// callers are constrained to their own records. A miss either way is a plain
// not-found; the response never distinguishes "exists but not yours".
func (h *ContentHandler) Get(w http.ResponseWriter, r *http.Request) {
	record, ok := h.authorize(w, r)
	if !ok {
		return
	}

	obj, err := h.backend.Fetch(r.Context(), record.Address)
	if err != nil {
		h.writeFetchError(w, r, record, err)
		return
	}
	defer obj.Body.Close()

	h.setObjectHeaders(w, record, obj)

	start := time.Now()
	written, copyErr := relay(w, obj.Body)

	if h.metrics != nil {
		h.metrics.ProxiedBytes.Add(float64(written))
		h.metrics.ProxyDuration.Observe(time.Since(start).Seconds())
	}
	h.record(r, written, copyErr == nil)

	if copyErr != nil && r.Context().Err() == nil {
		h.logger.Warn("content relay interrupted",
			"address", record.Address,
			"bytes_written", written,
			"error", copyErr,
		)
	}
}

// Head serves object metadata from the content record without contacting the
// backend.
func (h *ContentHandler) Head(w http.ResponseWriter, r *http.Request) {
	record, ok := h.authorize(w, r)
	if !ok {
		return
	}

	h.setObjectHeaders(w, record, nil)
	w.WriteHeader(http.StatusOK)
	h.record(r, 0, true)
}

// authorize resolves the address against the metadata store under the
// caller's visibility. On failure the error response has been written.
func (h *ContentHandler) authorize(w http.ResponseWriter, r *http.Request) (*models.Content, bool) {
	address := chi.URLParam(r, "address")
	if address == "" {
		apierrors.WriteError(w, apierrors.New(apierrors.CodeInvalidAddress, "Content address is required"))
		return nil, false
	}

	var record *models.Content
	var err error
	if identity, authed := middleware.IdentityFrom(r.Context()); authed {
		if secretID, isSecret := identity.(auth.SecretIdentity); isSecret && !secretID.HasScope(models.ScopeDownload) {
			apierrors.WriteError(w, apierrors.New(apierrors.CodeForbidden, "Secret does not carry the download scope"))
			return nil, false
		}
		record, err = h.content.GetByAddressAndOwner(r.Context(), address, identity.Subject())
	} else {
		record, err = h.content.GetByAddress(r.Context(), address)
	}

	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			apierrors.WriteError(w, apierrors.New(apierrors.CodeContentNotFound, "No content record for this address"))
			return nil, false
		}
		h.logger.Error("content record lookup failed", "address", address, "error", err)
		apierrors.WriteError(w, apierrors.New(apierrors.CodeInternalError, "An unexpected error occurred"))
		return nil, false
	}

	return record, true
}

func (h *ContentHandler) setObjectHeaders(w http.ResponseWriter, record *models.Content, obj *gateway.Object) {
	hd := w.Header()

	// The metadata record is authoritative; the backend's own headers only
	// fill in what the record lacks.
	contentType := record.ContentType
	size := record.Size
	if obj != nil {
		if contentType == "" {
			contentType = obj.ContentType
		}
		if size <= 0 && obj.ContentLength >= 0 {
			size = obj.ContentLength
		}
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	hd.Set("Content-Type", contentType)
	if size >= 0 {
		hd.Set("Content-Length", strconv.FormatInt(size, 10))
	}
	if record.Name != "" {
		hd.Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", record.Name))
	}
	hd.Set("Cache-Control", "public, max-age=3600")
	hd.Set("Access-Control-Allow-Origin", "*")
}

func (h *ContentHandler) writeFetchError(w http.ResponseWriter, r *http.Request, record *models.Content, err error) {
	h.record(r, 0, false)

	switch {
	case errors.Is(err, gateway.ErrInvalidAddress):
		apierrors.WriteError(w, apierrors.New(apierrors.CodeInvalidAddress, "Content address is malformed"))
	case errors.Is(err, gateway.ErrNotFound):
		// The record exists but the backend lost the object.
		h.logger.Error("recorded content missing from backend", "address", record.Address)
		apierrors.WriteError(w, apierrors.New(apierrors.CodeContentNotFound, "No content at this address"))
	case errors.Is(err, gateway.ErrUpstreamAuth):
		apierrors.WriteError(w, apierrors.New(apierrors.CodeConfigurationError, "Gateway is misconfigured for the content store"))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// Client went away before headers; nothing sensible to write.
	default:
		apierrors.WriteError(w, apierrors.New(apierrors.CodeUpstreamUnavailable, "Content store is unavailable"))
	}
}

// record meters the transfer against the caller's secret, when there is one.
func (h *ContentHandler) record(r *http.Request, bytes int64, success bool) {
	if h.recorder == nil {
		return
	}
	identity, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		return
	}
	if secretID, isSecret := identity.(auth.SecretIdentity); isSecret {
		h.recorder.Record(secretID.SecretID, bytes, success)
	}
}

// relay copies the body in fixed-size chunks, flushing after each so large
// objects stream instead of buffering.
func relay(w http.ResponseWriter, body io.Reader) (int64, error) {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, relayChunkSize)

	var written int64
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			wn, writeErr := w.Write(buf[:n])
			written += int64(wn)
			if writeErr != nil {
				return written, writeErr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return written, nil
			}
			return written, readErr
		}
	}
}
