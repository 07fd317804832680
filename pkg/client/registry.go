package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// Params carries the arguments of one operation invocation: path parameters,
// query values, an optional JSON body, and extra headers.
type Params struct {
	Path   map[string]string
	Query  map[string]string
	Body   any
	Header map[string]string
}

// DetailedResponse is the result of the detailed calling convention: the raw
// status code plus the undecoded payload. A successful response may carry an
// empty body; that is a valid result, not an error.
type DetailedResponse struct {
	StatusCode int
	Body       []byte
}

// Success reports whether the status code is in the 2xx range.
func (r *DetailedResponse) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

type detailedFunc func(ctx context.Context, h *handle, p Params) (*DetailedResponse, error)

type plainFunc func(ctx context.Context, h *handle, p Params) (json.RawMessage, error)

// boundOperation is one remote operation together with the calling
// conventions its backend binding exposes. Generated backends may emit either
// convention (or both); the dispatcher normalizes them.
type boundOperation struct {
	id       string
	detailed detailedFunc
	plain    plainFunc
}

// resolvable reports whether the binding exposes at least one recognized
// calling convention.
func (op boundOperation) resolvable() bool {
	return op.detailed != nil || op.plain != nil
}

// Logical actions and their ordered operation candidates. The remote API
// groups operations by tag or falls back to an untagged default grouping
// depending on how the server-side API definition was authored; candidate
// order encodes that preference. First resolvable entry wins.
const (
	actionVersion                 = "version"
	actionGetNonce                = "get_nonce"
	actionPostAuth                = "post_auth"
	actionPostRefresh             = "post_refresh"
	actionAccountInfo             = "account_info"
	actionFeatureByName           = "feature_by_name"
	actionFeatureByNameVersion    = "feature_by_name_version"
	actionFeatureCreate           = "feature_create"
	actionTransformByName         = "transformation_by_name"
	actionTransformByNameVersion  = "transformation_by_name_version"
	actionTransformCreate         = "transformation_create"
	actionExecute                 = "execute"
	actionExecuteRunningInstances = "execute_with_running_instances"
)

var actionCandidates = map[string][]string{
	actionVersion:                 {"version.get_version", "default.get_version"},
	actionGetNonce:                {"auth.get_nonce", "default.get_nonce"},
	actionPostAuth:                {"auth.post_auth", "default.post_auth"},
	actionPostRefresh:             {"auth.post_refresh", "default.post_refresh"},
	actionAccountInfo:             {"account.get_account_info", "default.get_account_info"},
	actionFeatureByName:           {"feature.get_feature_by_name", "default.get_feature_by_name"},
	actionFeatureByNameVersion:    {"feature.get_feature_by_name_version", "default.get_feature_by_name_version"},
	actionFeatureCreate:           {"feature.post_feature", "default.post_feature"},
	actionTransformByName:         {"transformation.get_transformation_by_name", "default.get_transformation_by_name"},
	actionTransformByNameVersion:  {"transformation.get_transformation_by_name_version", "default.get_transformation_by_name_version"},
	actionTransformCreate:         {"transformation.post_transformation", "default.post_transformation"},
	actionExecute:                 {"execute.get_execute", "default.get_execute"},
	actionExecuteRunningInstances: {"execute.get_execute_with_running_instances", "default.get_execute_with_running_instances"},
}

// operationRegistry is the static table of operation bindings. Resolution is
// memoized per candidate list so the fallback walk happens once per action.
type operationRegistry struct {
	mu   sync.Mutex
	ops  map[string]boundOperation
	memo map[string]boundOperation
}

func newOperationRegistry() *operationRegistry {
	return &operationRegistry{
		ops:  make(map[string]boundOperation),
		memo: make(map[string]boundOperation),
	}
}

func (r *operationRegistry) register(op boundOperation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops[op.id] = op
}

// resolve walks candidates in order and returns the first binding that
// exposes a recognized calling convention. Identifiers the backend does not
// define are recorded and skipped, never aborted on. When nothing matches the
// whole attempted list is reported.
func (r *operationRegistry) resolve(candidates []string) (boundOperation, error) {
	key := strings.Join(candidates, "|")

	r.mu.Lock()
	defer r.mu.Unlock()

	if op, ok := r.memo[key]; ok {
		return op, nil
	}

	var lastErr error
	for _, id := range candidates {
		op, ok := r.ops[id]
		if !ok {
			lastErr = fmt.Errorf("operation %q not defined by backend", id)
			continue
		}
		if !op.resolvable() {
			lastErr = fmt.Errorf("operation %q exposes no recognized calling convention", id)
			continue
		}
		r.memo[key] = op
		return op, nil
	}
	return boundOperation{}, &ResolutionError{Candidates: candidates, LastErr: lastErr}
}
