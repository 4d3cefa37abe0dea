package main

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/Sternrassler/httpgov/pkg/governor"
)

// httpTransport implements governor.Transport over a shared net/http.Client.
type httpTransport struct {
	client    *http.Client
	userAgent string
}

func newHTTPTransport(userAgent string, timeout time.Duration) *httpTransport {
	return &httpTransport{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
}

func (t *httpTransport) Fetch(ctx context.Context, rawURL string, headers http.Header) (*governor.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("User-Agent") == "" && t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &governor.Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}
