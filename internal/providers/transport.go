package providers

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"
)

type hintKey struct{}

// retryHint carries the Retry-After header of a throttled response back to the client
// that issued the request.
type retryHint struct {
	after atomic.Int64
}

func withRetryHint(ctx context.Context) (context.Context, *retryHint) {
	h := &retryHint{}
	return context.WithValue(ctx, hintKey{}, h), h
}

func (h *retryHint) get() time.Duration { return time.Duration(h.after.Load()) }

// hintTransport records Retry-After on throttled responses. SDK error values do not carry
// response headers.
type hintTransport struct {
	base http.RoundTripper
}

func (t *hintTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil || resp == nil {
		return resp, err
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, 529:
		if h, ok := req.Context().Value(hintKey{}).(*retryHint); ok {
			if d := parseRetryAfterHeader(resp.Header.Get("Retry-After"), time.Now()); d > 0 {
				h.after.Store(int64(d))
			}
		}
	}
	return resp, nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: &hintTransport{base: http.DefaultTransport},
	}
}

// withHint fills in a missing rate-limit wait from the recorded header.
func withHint(err error, h *retryHint) error {
	if rl, ok := err.(*RateLimitError); ok && rl.RetryAfter == 0 {
		rl.RetryAfter = h.get()
	}
	return err
}
