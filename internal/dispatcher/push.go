package dispatcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxResponseBody caps how much of the push response is kept as the task
// outcome detail.
const maxResponseBody = 4 << 10

// HTTPPushSender sends Bark push notifications:
// GET <host>/<bark_key>/<url-escaped content>?level=critical&volume=5
type HTTPPushSender struct {
	client  *http.Client
	host    string
	timeout time.Duration
}

// NewHTTPPushSender creates a sender against the given push host.
// timeout bounds each outbound call; zero means 10 seconds.
func NewHTTPPushSender(host string, timeout time.Duration) *HTTPPushSender {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &HTTPPushSender{
		client:  &http.Client{},
		host:    strings.TrimRight(host, "/"),
		timeout: timeout,
	}
}

// Send issues a single GET and never retries.
func (s *HTTPPushSender) Send(ctx context.Context, req PushRequest) PushResult {
	start := time.Now()

	target := s.buildURL(req)

	ctxTimeout, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctxTimeout, http.MethodGet, target, nil)
	if err != nil {
		return PushResult{Error: fmt.Errorf("create request: %w", err), Duration: time.Since(start)}
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return PushResult{Error: fmt.Errorf("send: %w", err), Duration: time.Since(start)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return PushResult{Error: fmt.Errorf("read response: %w", err), Duration: time.Since(start)}
	}

	return PushResult{
		StatusCode: resp.StatusCode,
		Body:       string(body),
		Duration:   time.Since(start),
	}
}

func (s *HTTPPushSender) buildURL(req PushRequest) string {
	return fmt.Sprintf("%s/%s/%s?level=critical&volume=5",
		s.host,
		url.PathEscape(req.BarkKey),
		url.PathEscape(req.Content),
	)
}
