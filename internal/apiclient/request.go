package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/campaignmaster/campaignmaster/internal/cache"
	"github.com/campaignmaster/campaignmaster/pkg/errors"
)

const (
	sourceNetwork = "network"
	sourceCache   = "cache"
)

// RequestOption configures a single request.
type RequestOption func(*requestOptions)

type requestOptions struct {
	timeout    time.Duration
	header     http.Header
	invalidate []string
}

// WithTimeout overrides the client timeout for one request.
func WithTimeout(d time.Duration) RequestOption {
	return func(o *requestOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithHeader adds a request header, such as a forwarded Cookie.
func WithHeader(key, value string) RequestOption {
	return func(o *requestOptions) {
		o.header.Add(key, value)
	}
}

// WithInvalidate drops cached responses whose URL contains any of patterns
// once a mutating request succeeds. It has no effect on GET.
func WithInvalidate(patterns ...string) RequestOption {
	return func(o *requestOptions) {
		o.invalidate = append(o.invalidate, patterns...)
	}
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, opts ...RequestOption) (*Response, error) {
	ro := requestOptions{timeout: c.cfg.Timeout, header: make(http.Header)}
	for _, opt := range opts {
		opt(&ro)
	}
	url := c.cfg.BaseURL + endpoint

	if method != http.MethodGet {
		resp, err := c.send(ctx, method, url, body, ro)
		if err == nil {
			for _, pattern := range ro.invalidate {
				c.cache.InvalidateByPattern(pattern)
			}
		}
		return resp, err
	}

	if cached, ok := cache.GetAs[Response](c.cache, url); ok {
		c.recorder.RecordRequest(method, http.StatusOK, sourceCache, 0)
		return cached.clone(), nil
	}

	if !c.cfg.Coalesce {
		return c.send(ctx, method, url, nil, ro)
	}

	// The shared request outlives any single caller; each caller still
	// stops waiting when its own context ends.
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(url, func() (any, error) {
		return c.send(detached, method, url, nil, ro)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			c.logger.Debug("Shared in-flight response", map[string]interface{}{"url": url})
		}
		return res.Val.(*Response).clone(), nil
	case <-ctx.Done():
		return nil, callerDone(ctx, method, ro.timeout)
	}
}

// send performs the request with the breaker, retrying GETs, and caches
// JSON GET responses.
func (c *Client) send(ctx context.Context, method, url string, body any, ro requestOptions) (*Response, error) {
	requestID := uuid.NewString()

	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeRequestBuild, "failed to encode request body").
				WithComponent("apiclient").
				WithOperation(method).
				WithRequestID(requestID)
		}
		payload = data
	}

	start := time.Now()
	var (
		resp      *Response
		status    int
		cacheable bool
	)
	attempt := func(ctx context.Context) error {
		return c.breaker.Execute(ctx, func(ctx context.Context) error {
			var err error
			resp, status, cacheable, err = c.roundTrip(ctx, method, url, payload, ro, requestID)
			return err
		})
	}

	var err error
	if method == http.MethodGet {
		err = c.retryer.DoWithContext(ctx, attempt)
	} else {
		err = attempt(ctx)
	}
	c.recorder.RecordRequest(method, status, sourceNetwork, time.Since(start))

	if err != nil {
		if cmErr, ok := errors.As(err); ok && cmErr.RequestID == "" {
			cmErr.WithRequestID(requestID)
		}
		c.logger.Debug("Request failed", map[string]interface{}{
			"method":     method,
			"url":        url,
			"request_id": requestID,
			"error":      err,
		})
		return nil, err
	}

	if method == http.MethodGet && cacheable {
		c.cache.Set(url, *resp.clone(), cache.WithTTL(c.cfg.CacheTTL), cache.WithTags(CacheTag))
	}
	return resp, nil
}

// roundTrip issues one request. cacheable reports a JSON success body.
func (c *Client) roundTrip(ctx context.Context, method, url string, payload []byte, ro requestOptions, requestID string) (resp *Response, status int, cacheable bool, err error) {
	reqCtx, cancel := context.WithTimeout(ctx, ro.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, url, body)
	if err != nil {
		return nil, 0, false, errors.Wrap(err, errors.ErrCodeRequestBuild, "failed to build request").
			WithComponent("apiclient").
			WithOperation(method)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	for key, values := range ro.header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, 0, false, transportError(ctx, reqCtx, err, method, ro.timeout)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, res.StatusCode, false, transportError(ctx, reqCtx, err, method, ro.timeout)
	}

	parsed, isJSON, parseErr := parseBody(res.Header.Get("Content-Type"), data)
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, res.StatusCode, false, statusError(res.StatusCode, parsed, parseErr, method)
	}
	if parseErr != nil {
		return nil, res.StatusCode, false, parseErr.WithOperation(method)
	}
	return parsed, res.StatusCode, isJSON, nil
}

// parseBody branches on the content type: JSON is kept raw, HTML is an
// authentication page, anything else is text.
func parseBody(contentType string, data []byte) (*Response, bool, *errors.CampaignMasterError) {
	contentType = strings.ToLower(contentType)

	switch {
	case strings.Contains(contentType, "application/json"):
		trimmed := bytes.TrimSpace(data)
		if len(trimmed) == 0 {
			return &Response{Success: true, Message: "Success"}, true, nil
		}
		if !json.Valid(trimmed) {
			return nil, false, errors.NewError(errors.ErrCodeInvalidResponse, "response body is not valid JSON").
				WithComponent("apiclient").
				WithDetail("bytes", len(data))
		}
		return &Response{Success: true, Message: "Success", Data: json.RawMessage(trimmed)}, true, nil

	case strings.Contains(contentType, "text/html"):
		return nil, false, errors.NewError(errors.ErrCodeAuthRequired, "Authentication required. Please log in again.").
			WithComponent("apiclient").
			WithDetail(DetailsKey, "Backend returned HTML error page")

	default:
		return &Response{Success: true, Message: "Success", Text: string(data)}, false, nil
	}
}

// statusError builds the error for a non-2xx response from its parsed body.
func statusError(status int, parsed *Response, parseErr *errors.CampaignMasterError, method string) error {
	if parseErr != nil && parseErr.Code == errors.ErrCodeAuthRequired {
		return parseErr.WithOperation(method)
	}

	message := fmt.Sprintf("HTTP error! status: %d", status)
	var details any
	if parsed != nil {
		if parsed.Data != nil {
			var body any
			if json.Unmarshal(parsed.Data, &body) == nil {
				details = body
				if m, ok := body.(map[string]any); ok {
					if msg, ok := m["message"].(string); ok && msg != "" {
						message = msg
					}
				}
			}
		} else if parsed.Text != "" {
			details = parsed.Text
		}
	}

	err := errors.NewError(errors.ErrCodeUpstreamStatus, message).
		WithComponent("apiclient").
		WithOperation(method).
		WithHTTPStatus(status).
		WithRetryable(status >= 500)
	if details != nil {
		err.WithDetail(DetailsKey, details)
	}
	return err
}

func transportError(ctx, reqCtx context.Context, cause error, method string, timeout time.Duration) error {
	switch {
	case ctx.Err() == context.Canceled:
		return errors.Wrap(cause, errors.ErrCodeOperationCanceled, "request canceled").
			WithComponent("apiclient").
			WithOperation(method)
	case reqCtx.Err() == context.DeadlineExceeded:
		return errors.Wrap(cause, errors.ErrCodeRequestTimeout, "Request timeout").
			WithComponent("apiclient").
			WithOperation(method).
			WithDetail("timeout", timeout.String())
	default:
		return errors.Wrap(cause, errors.ErrCodeNetworkError, "network request failed").
			WithComponent("apiclient").
			WithOperation(method).
			WithHTTPStatus(http.StatusInternalServerError)
	}
}

// callerDone reports a caller that stopped waiting on a shared request.
func callerDone(ctx context.Context, method string, timeout time.Duration) error {
	if ctx.Err() == context.DeadlineExceeded {
		return errors.Wrap(ctx.Err(), errors.ErrCodeRequestTimeout, "Request timeout").
			WithComponent("apiclient").
			WithOperation(method).
			WithDetail("timeout", timeout.String())
	}
	return errors.Wrap(ctx.Err(), errors.ErrCodeOperationCanceled, "request canceled").
		WithComponent("apiclient").
		WithOperation(method)
}

// isUpstreamFailure reports errors that count against the breaker:
// transport failures and 5xx responses.
func isUpstreamFailure(err error) bool {
	if err == nil {
		return false
	}
	cmErr, ok := errors.As(err)
	if !ok {
		return true
	}
	switch cmErr.Code {
	case errors.ErrCodeNetworkError, errors.ErrCodeRequestTimeout:
		return true
	case errors.ErrCodeUpstreamStatus:
		return cmErr.HTTPStatus >= 500
	}
	return false
}

func isRetryable(err error) bool {
	cmErr, ok := errors.As(err)
	return ok && cmErr.Retryable
}
