package httpclient

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"
)

type Options struct {
	PreferIPv4 bool
	Timeout    time.Duration
	// Retries is the number of extra attempts for 429 and 5xx gateway errors.
	Retries int
	Backoff time.Duration
	Logger  *slog.Logger
}

func New(opts Options) *http.Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 180 * time.Second
	}

	dialer := &net.Dialer{
		Timeout:   15 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			if opts.PreferIPv4 {
				return dialer.DialContext(ctx, "tcp4", addr)
			}
			return dialer.DialContext(ctx, network, addr)
		},
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 120 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: NewRetryTransport(transport, opts),
	}
}

// RetryTransport repeats requests that failed with a retryable status. Bodies
// are replayed through Request.GetBody; requests without it are sent once.
type RetryTransport struct {
	next    http.RoundTripper
	retries int
	backoff time.Duration
	logger  *slog.Logger
}

func NewRetryTransport(next http.RoundTripper, opts Options) *RetryTransport {
	if next == nil {
		next = http.DefaultTransport
	}
	retries := opts.Retries
	if retries < 0 {
		retries = 0
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &RetryTransport{next: next, retries: retries, backoff: backoff, logger: logger}
}

func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	attempts := t.retries + 1
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		attempts = 1
	}

	var (
		resp *http.Response
		err  error
	)
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			wait := retryDelay(resp, t.backoff, attempt)
			if resp != nil {
				_, _ = io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
			}
			t.logger.Debug("retrying request", "url", req.URL.Redacted(), "attempt", attempt+1, "wait_ms", wait.Milliseconds())

			timer := time.NewTimer(wait)
			select {
			case <-req.Context().Done():
				timer.Stop()
				return nil, req.Context().Err()
			case <-timer.C:
			}

			if req.GetBody != nil {
				body, bodyErr := req.GetBody()
				if bodyErr != nil {
					return nil, bodyErr
				}
				req = req.Clone(req.Context())
				req.Body = body
			}
		}

		resp, err = t.next.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		if !retryableStatus(resp.StatusCode) {
			return resp, nil
		}
	}
	return resp, err
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// retryDelay honours a Retry-After seconds header, otherwise backs off linearly.
func retryDelay(resp *http.Response, base time.Duration, attempt int) time.Duration {
	if resp != nil {
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs >= 0 {
			d := time.Duration(secs) * time.Second
			if d > 30*time.Second {
				d = 30 * time.Second
			}
			return d
		}
	}
	return base * time.Duration(attempt)
}
