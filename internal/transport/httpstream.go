package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/vmcpmesh/gateway/pkg/logger"
)

// HTTPStreamable POSTs each request with shared mutable headers and reads
// each response body whole, delivering it as one incoming message; a
// text/event-stream response body is not split into separate events
// (spec §4.A.2, §6.2).
type HTTPStreamable struct {
	base

	URL     string
	Headers *SharedHeaders
	Client  *http.Client
}

// NewHTTPStreamable constructs an HTTP-streamable transport against url,
// reading headers from the given SharedHeaders on every send.
func NewHTTPStreamable(url string, headers *SharedHeaders) *HTTPStreamable {
	return &HTTPStreamable{URL: url, Headers: headers, Client: http.DefaultClient}
}

// Start is a no-op for HTTP-streamable: there is no persistent connection
// to open, each request stands alone.
func (h *HTTPStreamable) Start(_ context.Context) error {
	return nil
}

// Send POSTs msg and delivers the response body as one incoming message.
func (h *HTTPStreamable) Send(ctx context.Context, msg Message) error {
	if h.isClosed() {
		return ErrTransportClosed
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(msg))
	if err != nil {
		return fmt.Errorf("http transport: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range h.Headers.Load() {
		req.Header.Set(k, v)
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return fmt.Errorf("http transport: do: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("http transport: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		logger.Warnw("downstream http error", "status", resp.StatusCode, "url", h.URL)
	}
	if len(body) > 0 {
		h.deliver(body)
	}
	return nil
}

// Close marks the transport closed; there is no persistent resource to
// release beyond the shared HTTP client.
func (h *HTTPStreamable) Close() error {
	h.closeWith(nil)
	return nil
}
