// Package apikeys performs live validation of the enrichment API
// credentials by making a cheap authenticated request against each
// service. A missing key is caught earlier by config.Validate; this
// package answers whether the keys are actually accepted.
package apikeys

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"leadagent/internal/config"
	"leadagent/internal/logging"
	"leadagent/internal/ratelimit"
)

// InvalidKeyError means the service rejected the credential.
type InvalidKeyError struct {
	Service string
}

func (e *InvalidKeyError) Error() string {
	return fmt.Sprintf("invalid %s API key", e.Service)
}

// ServiceError means the service answered with an unexpected status.
type ServiceError struct {
	Service    string
	StatusCode int
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s API error: status %d", e.Service, e.StatusCode)
}

// Validator checks API keys against the live services.
type Validator struct {
	cfg     config.APIConfigs
	client  *http.Client
	limiter *ratelimit.Limiter
}

// New creates a validator. A nil client gets a default one with a
// short timeout; a nil limiter disables rate limiting.
func New(cfg config.APIConfigs, client *http.Client, limiter *ratelimit.Limiter) *Validator {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Validator{cfg: cfg, client: client, limiter: limiter}
}

func (v *Validator) do(ctx context.Context, service string, req *http.Request) (int, error) {
	if v.limiter != nil {
		if err := v.limiter.Acquire(ctx, service); err != nil {
			return 0, err
		}
	}

	logging.APIDebug("testing %s key against %s", service, req.URL)
	resp, err := v.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s API request: %w", service, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	logging.APIDebug("%s responded %d", service, resp.StatusCode)
	return resp.StatusCode, nil
}

// ValidateApollo checks the Apollo key with a search request.
func (v *Validator) ValidateApollo(ctx context.Context) error {
	svc := v.cfg.Apollo
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, svc.BaseURL+"/organizations/search", nil)
	if err != nil {
		return fmt.Errorf("apollo request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+svc.APIKey)

	status, err := v.do(ctx, "apollo", req)
	if err != nil {
		return err
	}
	switch {
	case status == http.StatusUnauthorized:
		return &InvalidKeyError{Service: "apollo"}
	case status != http.StatusOK:
		return &ServiceError{Service: "apollo", StatusCode: status}
	}
	logging.API("apollo key validated")
	return nil
}

// ValidateRocketReach checks the RocketReach key with an account query.
func (v *Validator) ValidateRocketReach(ctx context.Context) error {
	svc := v.cfg.RocketReach
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, svc.BaseURL+"/account", nil)
	if err != nil {
		return fmt.Errorf("rocketreach request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Api-Key", svc.APIKey)

	status, err := v.do(ctx, "rocketreach", req)
	if err != nil {
		return err
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &InvalidKeyError{Service: "rocketreach"}
	case status != http.StatusOK:
		return &ServiceError{Service: "rocketreach", StatusCode: status}
	}
	logging.API("rocketreach key validated")
	return nil
}

// ValidateAll checks every service and reports all failures together.
func (v *Validator) ValidateAll(ctx context.Context) error {
	return errors.Join(
		v.ValidateApollo(ctx),
		v.ValidateRocketReach(ctx),
	)
}
