package models

import (
	"io"
	"net/http"
	"strings"
	"time"
)

// checkedTransport turns transport failures and non-JSON answers (for
// example a reverse proxy replying "no available server") into
// *ErrModelUnavailable.
type checkedTransport struct {
	inner    http.RoundTripper
	provider string
}

func checkedClient(provider string, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: &checkedTransport{inner: http.DefaultTransport, provider: provider},
	}
}

func (t *checkedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.inner.RoundTrip(req)
	if err != nil {
		return nil, &ErrModelUnavailable{Provider: t.provider, Cause: err}
	}

	if resp.StatusCode >= 400 {
		return nil, t.unavailable(resp)
	}

	// Streaming answers are application/x-ndjson or text/event-stream.
	ct := resp.Header.Get("Content-Type")
	if ct != "" && !strings.Contains(ct, "json") && !strings.Contains(ct, "event-stream") {
		return nil, t.unavailable(resp)
	}
	return resp, nil
}

func (t *checkedTransport) unavailable(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	resp.Body.Close()
	return &ErrModelUnavailable{Provider: t.provider, Body: strings.TrimSpace(string(body))}
}
