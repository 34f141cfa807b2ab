package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"
)

// Request describes one API call. Call sites build it once and never mutate it.
type Request struct {
	Method string
	URL    string

	// Body is marshalled to JSON when non-nil.
	Body any

	// Resource labels metrics and logs (e.g. "meter_index").
	Resource string

	// ErrorLabel is the human-readable message logged when the call fails.
	ErrorLabel string
}

// Body is a successful (200) response payload. JSON payloads are kept in
// JSON; payloads that are not valid JSON are kept verbatim in Text.
type Body struct {
	JSON json.RawMessage
	Text string
}

// IsJSON reports whether the payload parsed as JSON.
func (b *Body) IsJSON() bool {
	return b != nil && b.JSON != nil
}

// Decode unmarshals a JSON payload into v.
func (b *Body) Decode(v any) error {
	if !b.IsJSON() {
		return fmt.Errorf("decode body: %w", ErrNoData)
	}
	return json.Unmarshal(b.JSON, v)
}

// newRequest builds an HTTP request carrying the fixed gateway headers. It
// never sets Authorization.
func (c *Client) newRequest(ctx context.Context, method, rawURL string, payload any) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Ocp-Apim-Subscription-Key", c.config.SubscriptionKey)
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Origin", "https://www.eon.ro")
	req.Header.Set("Referer", "https://www.eon.ro/myline/facturile-mele")

	return req, nil
}

// DoRequest performs exactly one HTTP call with the current session token and
// returns the payload and status. Status 0 means no response was received.
// Any non-200 status yields a nil body. A 401 clears the token the request was
// sent with but is not logged here; the caller decides whether to
// re-authenticate.
func (c *Client) DoRequest(ctx context.Context, r Request) (*Body, int) {
	resource := r.Resource
	if resource == "" {
		resource = "unknown"
	}

	startTime := time.Now()
	defer func() {
		eonRequestDuration.WithLabelValues(resource).Observe(time.Since(startTime).Seconds())
	}()

	req, err := c.newRequest(ctx, r.Method, r.URL, r.Body)
	if err != nil {
		c.logger.Error().Err(err).Str("method", r.Method).Str("url", r.URL).Msg("Failed to build request")
		eonErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		eonRequestsTotal.WithLabelValues(resource, "0").Inc()
		return nil, 0
	}

	token := c.currentToken()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	c.logger.Debug().
		Str("resource", resource).
		Str("method", r.Method).
		Msg("Executing API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error().
			Err(err).
			Str("method", r.Method).
			Str("url", r.URL).
			Str("error_class", string(ErrorClassNetwork)).
			Msg("HTTP request failed")
		eonErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		eonRequestsTotal.WithLabelValues(resource, "0").Inc()
		return nil, 0
	}
	defer resp.Body.Close()

	eonRequestsTotal.WithLabelValues(resource, strconv.Itoa(resp.StatusCode)).Inc()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Error().
			Err(err).
			Str("method", r.Method).
			Str("url", r.URL).
			Int("status", resp.StatusCode).
			Msg("Failed to read response body")
		eonErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, 0
	}

	if resp.StatusCode == http.StatusOK {
		return parseBody(data), resp.StatusCode
	}

	errClass := ClassifyStatus(resp.StatusCode)
	eonErrorsTotal.WithLabelValues(string(errClass)).Inc()

	if resp.StatusCode == http.StatusUnauthorized {
		c.clearTokenIf(token)
		return nil, resp.StatusCode
	}

	c.logger.Error().
		Str("method", r.Method).
		Str("url", r.URL).
		Int("status", resp.StatusCode).
		Str("error_class", string(errClass)).
		Str("response", truncate(string(data), 512)).
		Msg(label(r))

	return nil, resp.StatusCode
}

// parseBody keeps valid JSON as-is and falls back to text for anything else,
// including an empty payload.
func parseBody(data []byte) *Body {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && json.Valid(trimmed) {
		return &Body{JSON: json.RawMessage(trimmed)}
	}
	return &Body{Text: string(data)}
}

func label(r Request) string {
	if r.ErrorLabel != "" {
		return r.ErrorLabel
	}
	return fmt.Sprintf("%s request failed", r.Method)
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
