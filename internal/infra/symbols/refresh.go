package symbols

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// DefaultSourceURL is the published symbol master.
const DefaultSourceURL = "https://raw.githubusercontent.com/Pramod541988/Stock_List/main/security_id.csv"

const maxCSVBytes = 64 << 20

// RefreshOptions configure Refresh.
type RefreshOptions struct {
	URL        string
	HTTPClient *http.Client
	MaxRetries int
	// InitialInterval seeds the exponential backoff between attempts.
	InitialInterval time.Duration
}

// Refresh downloads the CSV and imports it. Transport errors and 5xx answers
// are retried with exponential backoff; 4xx answers fail immediately.
func (s *Store) Refresh(ctx context.Context, opts RefreshOptions) (int, error) {
	url := opts.URL
	if url == "" {
		url = DefaultSourceURL
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	tries := opts.MaxRetries
	if tries <= 0 {
		tries = 3
	}
	policy := backoff.NewExponentialBackOff()
	if opts.InitialInterval > 0 {
		policy.InitialInterval = opts.InitialInterval
	}

	body, err := backoff.Retry(ctx, func() ([]byte, error) {
		return download(ctx, client, url)
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(uint(tries)))
	if err != nil {
		return 0, fmt.Errorf("download symbol master: %w", err)
	}
	s.logf("downloaded symbol master: bytes=%d url=%s", len(body), url)
	return s.Import(ctx, bytes.NewReader(body))
}

// EnsureLoaded refreshes the master only when the table is empty.
func (s *Store) EnsureLoaded(ctx context.Context, opts RefreshOptions) error {
	n, err := s.Count(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	_, err = s.Refresh(ctx, opts)
	return err
}

func download(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, backoff.Permanent(fmt.Errorf("symbol master: http %d", resp.StatusCode))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("symbol master: http %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCSVBytes))
	if err != nil {
		return nil, fmt.Errorf("read symbol master: %w", err)
	}
	return body, nil
}
