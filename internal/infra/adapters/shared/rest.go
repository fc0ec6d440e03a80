package shared

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/coachpo/multibroker/errs"
)

const (
	maxResponseBytes = 8 << 20
	snippetBytes     = 512
)

// Request describes one REST round trip.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	// Body is JSON-encoded when non-nil.
	Body any
}

// Response is the raw outcome of a completed round trip. Non-2xx statuses are
// not errors at this layer; adapters classify them.
type Response struct {
	Status int
	Body   []byte
}

// OK reports a 2xx status.
func (r Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Empty reports a body with no meaningful JSON content.
func (r Response) Empty() bool {
	switch strings.TrimSpace(string(r.Body)) {
	case "", "{}", "null", "[]":
		return true
	}
	return false
}

// Snippet returns a bounded, trimmed copy of the body for error messages.
func (r Response) Snippet() string {
	body := r.Body
	if len(body) > snippetBytes {
		body = body[:snippetBytes]
	}
	return strings.TrimSpace(string(body))
}

// Client performs JSON REST calls on behalf of one broker and maps transport
// failures to errs.CodeNetwork.
type Client struct {
	broker string
	http   *http.Client
	logger *log.Logger
}

// NewClient builds a client; a nil httpClient uses http.DefaultClient.
func NewClient(broker string, httpClient *http.Client, logger *log.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{broker: broker, http: httpClient, logger: logger}
}

// Do sends req and reads the whole (bounded) body.
func (c *Client) Do(ctx context.Context, req Request) (Response, error) {
	var payload io.Reader
	if req.Body != nil {
		encoded, err := json.Marshal(req.Body)
		if err != nil {
			return Response{}, errs.New(c.broker, errs.CodeInvalid, errs.WithMessage("encode request body"), errs.WithCause(err))
		}
		payload = bytes.NewReader(encoded)
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, payload)
	if err != nil {
		return Response{}, errs.New(c.broker, errs.CodeNetwork, errs.WithMessage("create request"), errs.WithCause(err))
	}
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Response{}, errs.New(c.broker, errs.CodeNetwork,
			errs.WithMessage(fmt.Sprintf("%s %s", method, httpReq.URL.Path)),
			errs.WithCause(err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Response{}, errs.New(c.broker, errs.CodeNetwork,
			errs.WithMessage("read response body"),
			errs.WithHTTP(resp.StatusCode),
			errs.WithCause(err))
	}
	if c.logger != nil {
		c.logger.Printf("%s %s status=%d bytes=%d", method, httpReq.URL.Path, resp.StatusCode, len(body))
	}
	return Response{Status: resp.StatusCode, Body: body}, nil
}

// Decode unmarshals the body into v. Malformed bodies are transport failures.
func (c *Client) Decode(resp Response, v any) error {
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return errs.New(c.broker, errs.CodeNetwork,
			errs.WithMessage("decode response"),
			errs.WithHTTP(resp.Status),
			errs.WithRawMessage(resp.Snippet()),
			errs.WithCause(err))
	}
	return nil
}
