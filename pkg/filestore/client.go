/**
 * @description
 * This package provides a client for the file service. Attachments and tax forms
 * are stored there as opaque blobs; this service only checks they exist and
 * fetches them by public id.
 */
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	ErrFileNotFound  = errors.New("file not found")
	ErrNotConfigured = errors.New("file service base url is empty")
)

// File is a stored blob.
type File struct {
	PublicID string `json:"public_id"`
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Content  string `json:"content"` // base64
}

// Client is a client for the file service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new file service client.
func NewClient(baseURL string, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// GetFile fetches a file by its public id.
func (c *Client) GetFile(ctx context.Context, publicID string) (*File, error) {
	if c.baseURL == "" {
		return nil, ErrNotConfigured
	}
	publicID = strings.TrimSpace(publicID)
	if publicID == "" {
		return nil, ErrFileNotFound
	}

	endpoint := fmt.Sprintf("%s/internal/files/%s", c.baseURL, url.PathEscape(publicID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if strings.TrimSpace(c.apiKey) != "" {
		req.Header.Set("X-Internal-API-Key", strings.TrimSpace(c.apiKey))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request to file service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrFileNotFound
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("file service returned error status %d", resp.StatusCode)
	}

	var file File
	if err := json.NewDecoder(resp.Body).Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if file.PublicID == "" {
		file.PublicID = publicID
	}
	return &file, nil
}
