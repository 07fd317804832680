package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

// invoke resolves the candidate list for a logical action and dispatches the
// call with the client's auto-refresh policy.
func (c *Client) invoke(ctx context.Context, action string, p Params) (json.RawMessage, error) {
	candidates, ok := actionCandidates[action]
	if !ok {
		return nil, fmt.Errorf("unknown action %q", action)
	}
	op, err := c.registry.resolve(candidates)
	if err != nil {
		return nil, err
	}
	return c.dispatch(ctx, op, p, c.cfg.AutoRefresh)
}

// dispatch invokes a bound operation through whichever calling convention it
// exposes and normalizes both into one failure/retry policy: 2xx returns the
// payload (possibly empty), a 401 is recovered by exactly one refresh and
// one re-invoke when allowRefresh is set and a refresh token is present, and
// everything else surfaces as *HTTPError or the propagated failure.
//
// Refresh itself dispatches with allowRefresh false: a refresh call that
// comes back 401 must not trigger another refresh.
func (c *Client) dispatch(ctx context.Context, op boundOperation, p Params, allowRefresh bool) (json.RawMessage, error) {
	if op.detailed != nil {
		return c.dispatchDetailed(ctx, op, p, allowRefresh)
	}
	return c.dispatchPlain(ctx, op, p, allowRefresh)
}

func (c *Client) dispatchDetailed(ctx context.Context, op boundOperation, p Params, allowRefresh bool) (json.RawMessage, error) {
	resp, err := op.detailed(ctx, c.currentHandle(), p)
	if err != nil {
		return nil, err
	}
	c.observe(op.id, resp.StatusCode)

	if resp.StatusCode == http.StatusUnauthorized && allowRefresh && c.RefreshToken() != "" {
		c.logger.Warn("access token rejected, refreshing", zap.String("operation", op.id))
		if _, err := c.Refresh(ctx); err != nil {
			return nil, err
		}
		resp, err = op.detailed(ctx, c.currentHandle(), p)
		if err != nil {
			return nil, err
		}
		c.observe(op.id, resp.StatusCode)
	}

	if resp.Success() {
		return resp.Body, nil
	}
	return nil, &HTTPError{Status: resp.StatusCode, Body: resp.Body}
}

func (c *Client) dispatchPlain(ctx context.Context, op boundOperation, p Params, allowRefresh bool) (json.RawMessage, error) {
	raw, err := op.plain(ctx, c.currentHandle(), p)
	if err == nil {
		c.observe(op.id, http.StatusOK)
		return raw, nil
	}

	var herr *HTTPError
	if errors.As(err, &herr) {
		c.observe(op.id, herr.Status)
		if herr.Unauthorized() && allowRefresh && c.RefreshToken() != "" {
			c.logger.Warn("access token rejected, refreshing", zap.String("operation", op.id))
			if _, rerr := c.Refresh(ctx); rerr != nil {
				return nil, rerr
			}
			raw, err = op.plain(ctx, c.currentHandle(), p)
			if err == nil {
				c.observe(op.id, http.StatusOK)
			}
			return raw, err
		}
	}
	return nil, err
}

func (c *Client) observe(operation string, status int) {
	if c.metrics == nil {
		return
	}
	c.metrics.requests.WithLabelValues(operation, strconv.Itoa(status)).Inc()
}
