package client

import (
	"encoding/json"
)

// VersionResponse is the payload of GET /version.
type VersionResponse struct {
	Version string `json:"version"`
}

// NonceResponse is the payload of GET /nonce/{address}.
type NonceResponse struct {
	Nonce string `json:"nonce"`
}

// AuthRequest is the payload submitted to POST /auth.
type AuthRequest struct {
	Address   string `json:"address"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

// AuthResponse is the payload of POST /auth. Raw preserves the undecoded
// body so callers can inspect fields beyond the token pair.
type AuthResponse struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	Raw          json.RawMessage `json:"-"`
}

// RefreshResponse is the payload of POST /refresh.
type RefreshResponse struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token,omitempty"`
	Raw          json.RawMessage `json:"-"`
}

// ResourceRef names one owned resource version in an account listing.
type ResourceRef struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// AccountResponse is the payload of GET /account/{address}.
type AccountResponse struct {
	Address         string        `json:"address"`
	Features        []ResourceRef `json:"features,omitempty"`
	Transformations []ResourceRef `json:"transformations,omitempty"`
	Limit           int           `json:"limit,omitempty"`
	Page            int           `json:"page,omitempty"`
}

// TransformationRef applies a named transformation with literal arguments
// inside a feature dimension.
type TransformationRef struct {
	Name string `json:"name"`
	Args []int  `json:"args,omitempty"`
}

// FeatureDimension is one dimension of a composite feature.
type FeatureDimension struct {
	FeatureName     string              `json:"feature_name"`
	Transformations []TransformationRef `json:"transformations,omitempty"`
}

// FeatureCreateRequest is the payload submitted to POST /feature.
type FeatureCreateRequest struct {
	Name       string             `json:"name"`
	Dimensions []FeatureDimension `json:"dimensions,omitempty"`
}

// FeatureResponse is the payload of the feature get/create operations.
type FeatureResponse struct {
	Name       string             `json:"name"`
	Version    string             `json:"version,omitempty"`
	Owner      string             `json:"owner,omitempty"`
	Dimensions []FeatureDimension `json:"dimensions,omitempty"`
}

// TransformationCreateRequest is the payload submitted to POST /transformation.
type TransformationCreateRequest struct {
	Name   string `json:"name"`
	SolSrc string `json:"sol_src,omitempty"`
}

// TransformationResponse is the payload of the transformation get/create
// operations.
type TransformationResponse struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
	Owner   string `json:"owner,omitempty"`
	SolSrc  string `json:"sol_src,omitempty"`
}

// ExecuteResponse is the payload of the execute operation: generated sample
// sequences keyed by dimension name.
type ExecuteResponse struct {
	FeatureName string           `json:"feature_name"`
	NumSamples  int              `json:"num_samples"`
	Samples     map[string][]int `json:"samples,omitempty"`
}

// tokenEnvelope is the canonical decoded form of any response that may carry
// tokens. Responses vary in shape across backend versions, so decoding
// happens in exactly one place: typed struct first, generic map as fallback.
// Nothing deeper than this single decode step branches on payload shape.
type tokenEnvelope struct {
	access     string
	refresh    string
	hasAccess  bool
	hasRefresh bool
}

func decodeTokenEnvelope(raw json.RawMessage) tokenEnvelope {
	var env tokenEnvelope
	if len(raw) == 0 {
		return env
	}

	var typed struct {
		AccessToken  *string `json:"access_token"`
		RefreshToken *string `json:"refresh_token"`
	}
	if err := json.Unmarshal(raw, &typed); err == nil {
		if typed.AccessToken != nil {
			env.access, env.hasAccess = *typed.AccessToken, true
		}
		if typed.RefreshToken != nil {
			env.refresh, env.hasRefresh = *typed.RefreshToken, true
		}
		if env.hasAccess || env.hasRefresh {
			return env
		}
	}

	// Fallback for payloads where the tokens are not top-level strings.
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return env
	}
	if v, ok := generic["access_token"].(string); ok {
		env.access, env.hasAccess = v, true
	}
	if v, ok := generic["refresh_token"].(string); ok {
		env.refresh, env.hasRefresh = v, true
	}
	return env
}

// stringField extracts a required string field from a raw payload, trying the
// typed shape first and a generic map second.
func stringField(raw json.RawMessage, field string) (string, error) {
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err == nil {
		if v, ok := generic[field].(string); ok && v != "" {
			return v, nil
		}
	}
	return "", &ProtocolError{Field: field, Payload: raw}
}
