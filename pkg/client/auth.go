package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const pathLogin = "/users/v1/userauth/login"

type loginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
}

type loginResponse struct {
	AccessToken string `json:"accessToken"`
}

// Login exchanges the configured credentials for a bearer token and stores it
// in the session. Every failure (non-200, transport error, undecodable or
// token-less payload) clears the session and returns false.
func (c *Client) Login(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.config.LoginTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodPost, c.url(pathLogin), loginRequest{
		Username:   c.config.Username,
		Password:   c.config.Password,
		RememberMe: false,
	})
	if err != nil {
		return c.loginFailed(err, 0, "Failed to build login request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		eonErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return c.loginFailed(err, 0, "Failed to reach API for authentication")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		eonErrorsTotal.WithLabelValues(string(ErrorClassAuth)).Inc()
		c.logger.Error().
			Int("status", resp.StatusCode).
			Str("response", string(text)).
			Msg("Login failed")
		c.clearToken()
		eonLoginsTotal.WithLabelValues("rejected").Inc()
		return false
	}

	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return c.loginFailed(err, resp.StatusCode, "Failed to decode login response")
	}

	if lr.AccessToken == "" {
		return c.loginFailed(nil, resp.StatusCode, "Login response carried no access token")
	}

	c.setToken(lr.AccessToken)
	eonLoginsTotal.WithLabelValues("success").Inc()

	expiry := tokenExpiry(lr.AccessToken)
	c.mu.Lock()
	c.expiry = expiry
	c.mu.Unlock()

	event := c.logger.Debug()
	if !expiry.IsZero() {
		event = event.Time("expires_at", expiry)
	}
	event.Msg("Access token obtained")

	return true
}

func (c *Client) loginFailed(err error, status int, msg string) bool {
	event := c.logger.Error()
	if err != nil {
		event = event.Err(err)
	}
	if status != 0 {
		event = event.Int("status", status)
	}
	event.Msg(msg)

	c.clearToken()
	eonLoginsTotal.WithLabelValues("error").Inc()
	return false
}

// EnsureToken logs in only when the session holds no token.
func (c *Client) EnsureToken(ctx context.Context) bool {
	if c.HasToken() {
		return true
	}
	return c.Login(ctx)
}

// tokenExpiry reads the exp claim of a JWT access token without verifying
// its signature. Opaque tokens yield the zero time.
func tokenExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

// TokenExpiry returns the expiry advertised by the current access token, or
// the zero time when there is no token or it carries no exp claim. The
// session is still only renewed on a 401.
func (c *Client) TokenExpiry() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" {
		return time.Time{}
	}
	return c.expiry
}
