package client

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Signer produces an Ethereum-style signature over a login message. It is
// satisfied by *identity.Account; any external wallet can implement it.
type Signer interface {
	// Address returns the 0x-prefixed account address.
	Address() string
	// SignMessage signs message and returns the hex-encoded signature.
	SignMessage(message string) (string, error)
}

// LoginMessage builds the fixed login message for a nonce.
func LoginMessage(nonce string) string {
	return "Login nonce: " + nonce
}

// GetNonce fetches a single-use login nonce for address.
func (c *Client) GetNonce(ctx context.Context, address string) (*NonceResponse, error) {
	raw, err := c.invoke(ctx, actionGetNonce, Params{
		Path: map[string]string{"address": address},
	})
	if err != nil {
		return nil, err
	}
	nonce, err := stringField(raw, "nonce")
	if err != nil {
		return nil, err
	}
	return &NonceResponse{Nonce: nonce}, nil
}

// Login performs the signed login flow: fetch a nonce for the signer's
// address, sign the login message, submit address + message + signature, and
// commit the returned token pair. The raw login response is returned for
// inspection.
func (c *Client) Login(ctx context.Context, signer Signer) (*AuthResponse, error) {
	nonce, err := c.GetNonce(ctx, signer.Address())
	if err != nil {
		return nil, err
	}

	message := LoginMessage(nonce.Nonce)
	signature, err := signer.SignMessage(message)
	if err != nil {
		return nil, err
	}

	raw, err := c.invoke(ctx, actionPostAuth, Params{
		Body: AuthRequest{
			Address:   signer.Address(),
			Message:   message,
			Signature: signature,
		},
	})
	if err != nil {
		return nil, err
	}

	env := decodeTokenEnvelope(raw)
	if !env.hasAccess && !env.hasRefresh {
		return nil, &AuthError{Reason: "login response lacks access and refresh tokens"}
	}

	if env.hasRefresh {
		c.setTokens(env.access, &env.refresh)
	} else {
		c.setTokens(env.access, nil)
	}
	return &AuthResponse{AccessToken: env.access, RefreshToken: env.refresh, Raw: raw}, nil
}

// Refresh exchanges the refresh token for a new access token and commits it.
// Both tokens must be set; otherwise it fails before any network call. The
// stored refresh token is left unchanged unless the response supplies one.
//
// The inner dispatch runs with the 401 retry disabled so a rejected refresh
// token cannot recurse into another refresh.
func (c *Client) Refresh(ctx context.Context) (*RefreshResponse, error) {
	access, refresh := c.tokens()
	if access == "" || refresh == "" {
		return nil, &AuthError{Reason: "missing tokens for refresh"}
	}

	op, err := c.registry.resolve(actionCandidates[actionPostRefresh])
	if err != nil {
		return nil, err
	}

	raw, err := c.dispatch(ctx, op, Params{
		Header: map[string]string{"X-Refresh-Token": refresh},
		Body:   struct{}{},
	}, false)
	if err != nil {
		return nil, err
	}

	env := decodeTokenEnvelope(raw)
	if !env.hasAccess {
		return nil, &ProtocolError{Field: "access_token", Payload: raw}
	}

	if env.hasRefresh {
		c.setTokens(env.access, &env.refresh)
	} else {
		c.setTokens(env.access, nil)
	}
	if c.metrics != nil {
		c.metrics.refreshes.Inc()
	}
	c.logger.Info("access token refreshed")
	return &RefreshResponse{AccessToken: env.access, RefreshToken: env.refresh, Raw: raw}, nil
}

// TokenExpiry decodes the unverified exp claim of the current access token,
// for diagnostics. Returns the zero time when there is no token or the token
// carries no parsable expiry. The claim is not verified; never use this for
// authorization decisions.
func (c *Client) TokenExpiry() time.Time {
	access, _ := c.tokens()
	if access == "" {
		return time.Time{}
	}
	token, _, err := jwt.NewParser().ParseUnverified(access, jwt.MapClaims{})
	if err != nil {
		return time.Time{}
	}
	exp, err := token.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
