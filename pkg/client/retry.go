package client

import (
	"context"
	"net/http"
)

// Execute runs r with at most one re-authentication. With an empty session it
// logs in first and gives up without a request if that fails. A 401 clears
// the token, triggers one login and one retry; a second 401 is reported as a
// persistent auth failure. Non-auth failures are returned as-is (nil) with no
// retry.
//
// Calls on one Client are serialized.
func (c *Client) Execute(ctx context.Context, r Request) *Body {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	if !c.EnsureToken(ctx) {
		return nil
	}

	body, status := c.DoRequest(ctx, r)
	if status != http.StatusUnauthorized {
		return body
	}

	c.logger.Debug().
		Str("resource", r.Resource).
		Msgf("%s (status 401), re-authenticating", label(r))

	// DoRequest has already dropped the rejected token.
	if !c.Login(ctx) {
		eonReauthTotal.WithLabelValues("login_failed").Inc()
		return nil
	}

	body, status = c.DoRequest(ctx, r)
	if status == http.StatusUnauthorized {
		eonReauthTotal.WithLabelValues("persistent").Inc()
		c.logger.Error().
			Str("resource", r.Resource).
			Str("error_class", string(ErrorClassAuth)).
			Msgf("%s (status 401 persistent), giving up", label(r))
		return nil
	}

	eonReauthTotal.WithLabelValues("recovered").Inc()
	return body
}
