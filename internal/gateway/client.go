// Package gateway fetches stored content from the backing content store over
// HTTP and maps its failure modes onto stable sentinel errors.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrInvalidAddress means the backend rejected the content address.
	ErrInvalidAddress = errors.New("invalid content address")
	// ErrNotFound means the backend has no object at the address.
	ErrNotFound = errors.New("content not found")
	// ErrUpstreamAuth means the backend refused the gateway's own credentials.
	ErrUpstreamAuth = errors.New("upstream rejected gateway credentials")
	// ErrUnavailable means the backend could not be reached or failed.
	ErrUnavailable = errors.New("content store unavailable")
)

// Object is an open content stream. The caller owns Body and must close it.
type Object struct {
	Body          io.ReadCloser
	ContentLength int64
	ContentType   string
}

// Client talks to the content store endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a content store client. headerTimeout bounds how long the
// backend may take to start responding; the body itself is not time-limited so
// large transfers are never cut off mid-stream.
func NewClient(endpoint string, headerTimeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if headerTimeout <= 0 {
		headerTimeout = 30 * time.Second
	}

	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: headerTimeout,
				MaxIdleConnsPerHost:   16,
				IdleConnTimeout:       90 * time.Second,
			},
		},
		logger: logger,
	}
}

// Fetch opens the object at the given address. Cancelling ctx aborts the
// request, including a body transfer already in flight.
func (c *Client) Fetch(ctx context.Context, address string) (*Object, error) {
	if address == "" || strings.ContainsAny(address, "/\\") {
		return nil, ErrInvalidAddress
	}

	reqURL := c.endpoint + "/" + url.PathEscape(address)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building content request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Error("content store request failed", "address", address, "error", err)
		return nil, ErrUnavailable
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return &Object{
			Body:          resp.Body,
			ContentLength: resp.ContentLength,
			ContentType:   resp.Header.Get("Content-Type"),
		}, nil
	case resp.StatusCode == http.StatusBadRequest:
		resp.Body.Close()
		return nil, ErrInvalidAddress
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()
		c.logger.Error("content store rejected gateway credentials", "status", resp.StatusCode)
		return nil, ErrUpstreamAuth
	default:
		resp.Body.Close()
		c.logger.Error("content store returned unexpected status", "address", address, "status", resp.StatusCode)
		return nil, ErrUnavailable
	}
}
