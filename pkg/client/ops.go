package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// maxResponseBody caps how much of a response is read into memory.
const maxResponseBody = 1 << 20

// handle is the capability for performing remote calls. A handle is either
// anonymous (no token) or authenticated (token set at construction). Handles
// are immutable; the token lifecycle replaces the whole value, so no call
// ever observes a handle whose token is stale.
type handle struct {
	baseURL   string
	http      *http.Client
	token     string // empty = anonymous
	userAgent string
	limiter   *rate.Limiter
	logger    *zap.Logger
}

func (h *handle) authenticated() bool { return h.token != "" }

// do performs one wire call and returns the raw status plus body. Transport
// failures surface as errors; HTTP status interpretation is left to the
// calling convention wrappers.
func (h *handle) do(ctx context.Context, method, path string, p Params) (*DetailedResponse, error) {
	if h.limiter != nil {
		if err := h.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	target := h.baseURL + path
	if len(p.Query) > 0 {
		q := url.Values{}
		for k, v := range p.Query {
			q.Set(k, v)
		}
		target += "?" + q.Encode()
	}

	var bodyReader io.Reader
	if p.Body != nil {
		b, err := json.Marshal(p.Body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", h.userAgent)
	req.Header.Set("X-Request-ID", uuid.New().String())
	if p.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	for k, v := range p.Header {
		req.Header.Set(k, v)
	}

	resp, err := h.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	h.logger.Debug("wire call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
	)
	return &DetailedResponse{StatusCode: resp.StatusCode, Body: body}, nil
}

// newEndpointOperation builds a binding for one REST endpoint exposing both
// calling conventions over the same wire call, the way generated backends
// emit a detailed and a plain entry point per operation.
func newEndpointOperation(id, method string, pathFn func(Params) string) boundOperation {
	detailed := func(ctx context.Context, h *handle, p Params) (*DetailedResponse, error) {
		return h.do(ctx, method, pathFn(p), p)
	}
	plain := func(ctx context.Context, h *handle, p Params) (json.RawMessage, error) {
		resp, err := detailed(ctx, h, p)
		if err != nil {
			return nil, err
		}
		if !resp.Success() {
			return nil, &HTTPError{Status: resp.StatusCode, Body: resp.Body}
		}
		return resp.Body, nil
	}
	return boundOperation{id: id, detailed: detailed, plain: plain}
}

// defaultRegistry binds every remote operation under both its tag-grouped and
// default-grouped identifier, mirroring the two ways the server-side API
// definition may have been authored.
func defaultRegistry() *operationRegistry {
	r := newOperationRegistry()

	register := func(name, method string, pathFn func(Params) string) {
		for _, group := range groupsFor(name) {
			r.register(newEndpointOperation(group+"."+name, method, pathFn))
		}
	}

	register("get_version", http.MethodGet, func(Params) string {
		return "/version"
	})
	register("get_nonce", http.MethodGet, func(p Params) string {
		return "/nonce/" + url.PathEscape(p.Path["address"])
	})
	register("post_auth", http.MethodPost, func(Params) string {
		return "/auth"
	})
	register("post_refresh", http.MethodPost, func(Params) string {
		return "/refresh"
	})
	register("get_account_info", http.MethodGet, func(p Params) string {
		return "/account/" + url.PathEscape(p.Path["address"])
	})
	register("get_feature_by_name", http.MethodGet, func(p Params) string {
		return "/feature/" + url.PathEscape(p.Path["name"])
	})
	register("get_feature_by_name_version", http.MethodGet, func(p Params) string {
		return "/feature/" + url.PathEscape(p.Path["name"]) + "/" + url.PathEscape(p.Path["version"])
	})
	register("post_feature", http.MethodPost, func(Params) string {
		return "/feature"
	})
	register("get_transformation_by_name", http.MethodGet, func(p Params) string {
		return "/transformation/" + url.PathEscape(p.Path["name"])
	})
	register("get_transformation_by_name_version", http.MethodGet, func(p Params) string {
		return "/transformation/" + url.PathEscape(p.Path["name"]) + "/" + url.PathEscape(p.Path["version"])
	})
	register("post_transformation", http.MethodPost, func(Params) string {
		return "/transformation"
	})
	register("get_execute", http.MethodGet, func(p Params) string {
		return "/execute/" + url.PathEscape(p.Path["name"]) + "/" + url.PathEscape(p.Path["num_samples"])
	})
	register("get_execute_with_running_instances", http.MethodGet, func(p Params) string {
		return "/execute/" + url.PathEscape(p.Path["name"]) + "/" + url.PathEscape(p.Path["num_samples"])
	})

	return r
}

// groupsFor returns the identifier groups an operation is registered under.
func groupsFor(name string) []string {
	switch name {
	case "get_version":
		return []string{"version", "default"}
	case "get_nonce", "post_auth", "post_refresh":
		return []string{"auth", "default"}
	case "get_account_info":
		return []string{"account", "default"}
	case "get_feature_by_name", "get_feature_by_name_version", "post_feature":
		return []string{"feature", "default"}
	case "get_transformation_by_name", "get_transformation_by_name_version", "post_transformation":
		return []string{"transformation", "default"}
	case "get_execute", "get_execute_with_running_instances":
		return []string{"execute", "default"}
	default:
		return []string{"default"}
	}
}
