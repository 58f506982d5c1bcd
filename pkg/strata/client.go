// Package strata is a Go client for the Strata HTTP API.
package strata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNotFound is matched by an *APIError with status 404.
	ErrNotFound = errors.New("strata: not found")
	// ErrConflict is matched by an *APIError with status 409, returned when
	// editing a cascaded item.
	ErrConflict = errors.New("strata: conflict")
	// ErrInvalid is matched by an *APIError with status 400 or 422.
	ErrInvalid = errors.New("strata: invalid request")
	// ErrRateLimited is matched by an *APIError with status 429.
	ErrRateLimited = errors.New("strata: rate limited")
)

// FieldError is one field-level validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// APIError is an RFC 7807 problem returned by the server.
type APIError struct {
	StatusCode int          `json:"status"`
	Type       string       `json:"type"`
	Title      string       `json:"title"`
	Detail     string       `json:"detail"`
	Errors     []FieldError `json:"errors,omitempty"`
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("strata: %d %s: %s", e.StatusCode, e.Title, e.Detail)
	}
	return fmt.Sprintf("strata: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Is lets errors.Is match an APIError against the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrConflict:
		return e.StatusCode == http.StatusConflict
	case ErrInvalid:
		return e.StatusCode == http.StatusBadRequest || e.StatusCode == http.StatusUnprocessableEntity
	case ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests
	}
	return false
}

// Client talks to a Strata server on behalf of one organization.
type Client struct {
	baseURL string
	apiKey  string
	orgID   string
	http    *http.Client
}

// New creates a new client
func New(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, errors.New("BaseURL is required")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid BaseURL: %w", err)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		apiKey:  config.APIKey,
		orgID:   config.OrganizationID,
		http:    httpClient,
	}, nil
}

// Health returns the server health. It needs no API key.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	var status HealthStatus
	if err := c.do(ctx, http.MethodGet, "/api/v1/health", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// CreateItem creates a root item and returns it with the chain it cascaded into.
func (c *Client) CreateItem(ctx context.Context, params CreateParams) (*Chain, error) {
	var chain Chain
	if err := c.do(ctx, http.MethodPost, "/api/v1/items", params, &chain); err != nil {
		return nil, err
	}
	return &chain, nil
}

// GetItem fetches one item.
func (c *Client) GetItem(ctx context.Context, id string) (*Item, error) {
	var item Item
	if err := c.do(ctx, http.MethodGet, "/api/v1/items/"+url.PathEscape(id), nil, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// ListItems lists the organization's items.
func (c *Client) ListItems(ctx context.Context, params ListParams) ([]Item, error) {
	q := url.Values{}
	if params.Timeframe != "" {
		q.Set("timeframe", string(params.Timeframe))
	}
	if params.CategoryIndex != nil {
		q.Set("category_index", strconv.Itoa(*params.CategoryIndex))
	}
	if params.RootsOnly {
		q.Set("roots_only", "true")
	}
	if params.Limit > 0 {
		q.Set("limit", strconv.Itoa(params.Limit))
	}

	path := "/api/v1/items"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp struct {
		Items []Item `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// GetChain returns the whole chain that id belongs to.
func (c *Client) GetChain(ctx context.Context, id string) (*Chain, error) {
	var chain Chain
	if err := c.do(ctx, http.MethodGet, "/api/v1/items/"+url.PathEscape(id)+"/chain", nil, &chain); err != nil {
		return nil, err
	}
	return &chain, nil
}

// UpdateItem changes a root item and returns its chain after propagation.
// Cascaded items are rejected with an error matching ErrConflict.
func (c *Client) UpdateItem(ctx context.Context, id string, params UpdateParams) (*Chain, error) {
	var chain Chain
	if err := c.do(ctx, http.MethodPatch, "/api/v1/items/"+url.PathEscape(id), params, &chain); err != nil {
		return nil, err
	}
	return &chain, nil
}

// DeleteItem deletes a root item and its chain.
func (c *Client) DeleteItem(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/items/"+url.PathEscape(id), nil, nil)
}

// Preview resolves the chain params would produce without creating anything.
func (c *Client) Preview(ctx context.Context, params CreateParams) (*Preview, error) {
	var preview Preview
	if err := c.do(ctx, http.MethodPost, "/api/v1/items/preview", params, &preview); err != nil {
		return nil, err
	}
	return &preview, nil
}

// Changes returns change-log entries with a sequence greater than after.
// A limit of 0 uses the server default.
func (c *Client) Changes(ctx context.Context, after int64, limit int) (*ChangePage, error) {
	q := url.Values{}
	q.Set("after", strconv.FormatInt(after, 10))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var page ChangePage
	if err := c.do(ctx, http.MethodGet, "/api/v1/changes?"+q.Encode(), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Follow polls the change log every interval and calls fn for each new
// entry in sequence order. It returns when ctx is done or fn fails.
func (c *Client) Follow(ctx context.Context, after int64, interval time.Duration, fn func(Change) error) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		for {
			page, err := c.Changes(ctx, after, 0)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return err
			}
			for _, entry := range page.Entries {
				if err := fn(entry); err != nil {
					return err
				}
				after = entry.Sequence
			}
			if !page.HasMore {
				break
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// do sends an authenticated request and decodes a JSON response into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.orgID != "" {
		req.Header.Set("X-Organization-ID", c.orgID)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeProblem(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// decodeProblem turns an error response into an *APIError. Bodies that are
// not problem documents keep only the status.
func decodeProblem(resp *http.Response) error {
	apiErr := &APIError{}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(data, apiErr)
	apiErr.StatusCode = resp.StatusCode
	if apiErr.Title == "" {
		apiErr.Title = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
