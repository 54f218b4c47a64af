/**
 * @description
 * This package provides a client for the compliance service, which owns users'
 * tax forms and sanction screening. Both lookups are used when a transfer request
 * is created or updated to decide whether it must be BLOCKED.
 */
package complianceclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/FilPassOps/FilPass-sub000/internal/domain"
)

// ErrNotConfigured is returned when the client has no base URL.
var ErrNotConfigured = errors.New("compliance service base url is empty")

// Client is a client for the compliance service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new compliance service client.
func NewClient(baseURL string, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type taxFormResponse struct {
	ID         string `json:"id"`
	IsApproved bool   `json:"is_approved"`
}

type sanctionResponse struct {
	IsSanctioned   bool   `json:"is_sanctioned"`
	SanctionReason string `json:"sanction_reason"`
}

// FindUserTaxForm returns the user's current tax form, or nil when the user
// has none on file.
func (c *Client) FindUserTaxForm(ctx context.Context, userID int64) (*domain.TaxForm, error) {
	var response taxFormResponse
	found, err := c.get(ctx, fmt.Sprintf("/internal/users/%d/tax-form", userID), &response)
	if err != nil || !found {
		return nil, err
	}
	return &domain.TaxForm{FileID: response.ID, IsApproved: response.IsApproved}, nil
}

// IsUserSanctioned screens the user. Any error means the check failed and
// callers must treat the user conservatively.
func (c *Client) IsUserSanctioned(ctx context.Context, userID int64) (*domain.SanctionResult, error) {
	var response sanctionResponse
	found, err := c.get(ctx, fmt.Sprintf("/internal/users/%d/sanction-check", userID), &response)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("sanction check for user %d returned no result", userID)
	}
	return &domain.SanctionResult{IsSanctioned: response.IsSanctioned, SanctionReason: response.SanctionReason}, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) (bool, error) {
	if c.baseURL == "" {
		return false, ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if strings.TrimSpace(c.apiKey) != "" {
		req.Header.Set("X-Internal-API-Key", strings.TrimSpace(c.apiKey))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to execute request to compliance service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode >= 400 {
		return false, fmt.Errorf("compliance service returned error status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("failed to decode response: %w", err)
	}
	return true, nil
}
