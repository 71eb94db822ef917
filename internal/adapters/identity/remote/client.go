package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"patient-access/internal/platform/httpclient"
	"patient-access/internal/platform/retry"
	"patient-access/internal/ports/auth"
)

var (
	ErrNotConfigured = errors.New("identity client not configured")
	ErrUpstream      = errors.New("identity upstream error")
)

const verifyPath = "/v1/tokens/verify"

type Config struct {
	BaseURL string
	APIKey  string

	// APIKeyHeader defaults to X-Api-Key.
	APIKeyHeader string
	Timeout      time.Duration
}

// Verifier implements auth.AuthVerifier against an external identity
// service. The engine trusts whatever principal id it returns.
type Verifier struct {
	http         *httpclient.Client
	apiKey       string
	apiKeyHeader string
}

func NewVerifier(cfg Config, opts ...httpclient.Option) (*Verifier, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" || strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNotConfigured
	}
	header := strings.TrimSpace(cfg.APIKeyHeader)
	if header == "" {
		header = "X-Api-Key"
	}
	opts = append([]httpclient.Option{httpclient.WithRetry(retry.Policy{
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     500 * time.Millisecond,
		MaxAttempts:     3,
	})}, opts...)

	c, err := httpclient.New(cfg.BaseURL, cfg.Timeout, opts...)
	if err != nil {
		return nil, err
	}
	return &Verifier{
		http:         c,
		apiKey:       strings.TrimSpace(cfg.APIKey),
		apiKeyHeader: header,
	}, nil
}

type verifyResponse struct {
	PrincipalID string `json:"principal_id"`
	Email       string `json:"email"`
	TenantID    string `json:"tenant_id"`
}

func (v *Verifier) Verify(ctx context.Context, token string) (auth.Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return auth.Claims{}, auth.ErrInvalidToken
	}

	var out verifyResponse
	err := v.http.DoJSON(ctx, http.MethodPost, verifyPath, map[string]string{
		v.apiKeyHeader:  v.apiKey,
		"Authorization": "Bearer " + token,
	}, map[string]string{"token": token}, &out)

	switch code := httpclient.StatusCode(err); {
	case err == nil:
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return auth.Claims{}, auth.ErrInvalidToken
	default:
		return auth.Claims{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	id := strings.TrimSpace(out.PrincipalID)
	if id == "" {
		return auth.Claims{}, fmt.Errorf("%w: response missing principal_id", ErrUpstream)
	}
	return auth.Claims{
		PrincipalID: id,
		Email:       strings.TrimSpace(out.Email),
		TenantID:    strings.TrimSpace(out.TenantID),
	}, nil
}
