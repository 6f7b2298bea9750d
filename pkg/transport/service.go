package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/bravozero/bravozero-go/pkg/logging"
	"github.com/bravozero/bravozero-go/pkg/persona"
	"github.com/bravozero/bravozero-go/pkg/types"
)

// maxErrorBody bounds how much of a failed response is kept on APIError.
const maxErrorBody = 64 << 10

// Service issues requests under one service root, e.g. /v1/memory.
type Service struct {
	client *Client
	name   string
	root   string
	logger *logging.Logger
}

// Request describes one API call relative to the service root.
type Request struct {
	Method string

	// Path is the escaped path below the service root. Callers escape
	// variable segments with url.PathEscape.
	Path  string
	Query url.Values
	Body  any

	// Action, when non-empty, requests a PERSONA attestation naming it. The
	// header is only attached when the client has an attester.
	Action string

	Accept string
}

// Name returns the service name.
func (s *Service) Name() string {
	return s.name
}

// Client returns the owning transport client.
func (s *Service) Client() *Client {
	return s.client
}

// Do sends req and decodes a JSON response into out. A nil out, or an empty
// response body, skips decoding.
func (s *Service) Do(ctx context.Context, req *Request, out any) error {
	body, err := s.DoRaw(ctx, req)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", req.Method, s.root+req.Path, err)
	}
	return nil
}

// DoRaw sends req and returns the raw response body of a 2xx response.
func (s *Service) DoRaw(ctx context.Context, req *Request) ([]byte, error) {
	if req.Method == "" {
		r := *req
		r.Method = http.MethodGet
		req = &r
	}

	var payload []byte
	if req.Body != nil {
		var err error
		payload, err = json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	var result []byte
	onRetry := func(err error, wait time.Duration) {
		s.client.metrics.observeRetry(s.name)
		s.logger.Warnf("%s %s failed, retrying in %s: %v", req.Method, req.Path, wait, err)
	}

	err := s.client.retry.retry(ctx, idempotent(req.Method), onRetry, func() error {
		body, err := s.attempt(ctx, req, payload)
		if err != nil {
			return err
		}
		result = body
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// attempt performs a single HTTP exchange, signing it afresh.
func (s *Service) attempt(ctx context.Context, req *Request, payload []byte) ([]byte, error) {
	c := s.client

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	httpReq, err := s.newHTTPRequest(ctx, req, payload)
	if err != nil {
		return nil, err
	}

	requestID := httpReq.Header.Get(HeaderRequestID)
	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	elapsed := time.Since(start)
	if err != nil {
		c.metrics.observeRequest(s.name, req.Method, 0, elapsed)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		s.logger.Errorf("%s %s request_id=%s: %v", req.Method, req.Path, requestID, err)
		return nil, &networkError{err: err}
	}
	defer resp.Body.Close()

	c.metrics.observeRequest(s.name, req.Method, resp.StatusCode, elapsed)
	c.recordRateLimit(resp.Header)
	s.logger.Debugf("%s %s -> %d (%s) request_id=%s", req.Method, req.Path, resp.StatusCode, elapsed.Round(time.Millisecond), requestID)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response body: %w", err)
		}
		return body, nil
	}

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if readErr != nil {
		return nil, fmt.Errorf("API request failed with status %d (failed to read error body: %w)", resp.StatusCode, readErr)
	}

	apiErr := newAPIError(resp.StatusCode, resp.Header, body)
	if apiErr.RequestID == "" {
		apiErr.RequestID = requestID
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		c.metrics.observeRateLimited(s.name)
		rl := &RateLimitError{
			RetryAfter: types.ParseRetryAfter(resp.Header.Get(types.HeaderRetryAfter), c.now()),
			APIError:   apiErr,
		}
		if info, ok := types.ParseRateLimit(resp.Header); ok {
			rl.Info = &info
		}
		s.logger.Warnf("%s %s rate limited, retry after %s", req.Method, req.Path, rl.RetryAfter)
		return nil, rl
	}

	if resp.StatusCode >= 500 {
		s.logger.Warnf("%s %s -> %d: %s", req.Method, req.Path, resp.StatusCode, apiErr.Message)
	}
	return nil, apiErr
}

func (s *Service) newHTTPRequest(ctx context.Context, req *Request, payload []byte) (*http.Request, error) {
	c := s.client

	rawPath := c.baseURL.EscapedPath() + s.root + req.Path
	path, err := url.PathUnescape(rawPath)
	if err != nil {
		return nil, fmt.Errorf("invalid request path %q: %w", req.Path, err)
	}

	u := *c.baseURL
	u.Path = path
	u.RawPath = rawPath
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)
	httpReq.Header.Set(HeaderAPIKey, c.apiKey)
	httpReq.Header.Set(HeaderAgentID, c.agentID)
	httpReq.Header.Set(HeaderRequestID, uuid.NewString())
	if req.Accept != "" {
		httpReq.Header.Set("Accept", req.Accept)
	} else {
		httpReq.Header.Set("Accept", "application/json")
	}

	if req.Action != "" && c.attester != nil {
		token, err := c.attester.CreateAttestation(persona.WithAction(req.Action))
		c.metrics.observeAttestation(err)
		if err != nil {
			return nil, fmt.Errorf("failed to create attestation for %s: %w", req.Action, err)
		}
		httpReq.Header.Set(persona.HeaderName, token)
	}

	return httpReq, nil
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
