package transport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/vmcpmesh/gateway/pkg/errors"
)

// SSE opens a persistent GET with the same shared-headers discipline as
// HTTPStreamable; responses arrive as named Server-Sent Events. Per the
// legacy MCP SSE transport, the server's first event names a companion
// POST endpoint that outgoing requests are sent to (spec §4.A.3, §6.2).
type SSE struct {
	base

	URL     string
	Headers *SharedHeaders
	Client  *http.Client

	cancel context.CancelFunc

	endpointMu sync.Mutex
	endpoint   string
	endpointCh chan struct{}
}

// NewSSE constructs an SSE transport against url.
func NewSSE(url string, headers *SharedHeaders) *SSE {
	return &SSE{URL: url, Headers: headers, Client: http.DefaultClient, endpointCh: make(chan struct{})}
}

// Start opens the persistent GET and begins streaming events to OnReceive.
func (s *SSE) Start(ctx context.Context) error {
	streamCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, s.URL, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("sse transport: build request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range s.Headers.Load() {
		req.Header.Set(k, v)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		cancel()
		return fmt.Errorf("sse transport: connect: %w", err)
	}

	go s.readEvents(resp)
	return nil
}

func (s *SSE) readEvents(resp *http.Response) {
	defer func() {
		_ = resp.Body.Close()
	}()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var event string
	var dataLines []string
	flush := func() {
		if len(dataLines) == 0 {
			event = ""
			return
		}
		payload := strings.Join(dataLines, "\n")
		dataLines = dataLines[:0]

		switch event {
		case "endpoint":
			s.setEndpoint(payload)
		default:
			if payload != "" {
				s.deliver([]byte(payload))
			}
		}
		event = ""
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		default:
			// id:, retry: and comment lines carry no payload here.
		}
	}
	flush()

	s.closeWith(scanner.Err())
}

func (s *SSE) setEndpoint(relative string) {
	streamURL, err := url.Parse(s.URL)
	resolved := relative
	if err == nil {
		if ref, err2 := url.Parse(relative); err2 == nil {
			resolved = streamURL.ResolveReference(ref).String()
		}
	}

	s.endpointMu.Lock()
	first := s.endpoint == ""
	s.endpoint = resolved
	s.endpointMu.Unlock()
	if first {
		close(s.endpointCh)
	}
}

// Send POSTs msg to the endpoint announced by the server's "endpoint"
// event. It blocks until that endpoint is known or the context expires.
func (s *SSE) Send(ctx context.Context, msg Message) error {
	if s.isClosed() {
		return ErrTransportClosed
	}

	select {
	case <-s.endpointCh:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.endpointMu.Lock()
	endpoint := s.endpoint
	s.endpointMu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(msg))
	if err != nil {
		return fmt.Errorf("sse transport: build post: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.Headers.Load() {
		req.Header.Set(k, v)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("sse transport: post: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return errors.NewError(errors.ErrInternal, fmt.Sprintf("sse transport: post status %d", resp.StatusCode), nil)
	}
	return nil
}

// Close cancels the streaming GET.
func (s *SSE) Close() error {
	s.closeWith(nil)
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}
