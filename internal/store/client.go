package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"veriline/internal/domain"
)

// Client is the HTTP implementation of Store.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

var _ Store = (*Client)(nil)

// NewClient creates a client with sane defaults.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		Timeout:    10 * time.Second,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

func (c *Client) Methodology(ctx context.Context, workspace, slug string) (domain.Methodology, error) {
	var resp domain.Methodology
	endpoint := c.workspacePath(workspace, fmt.Sprintf("methodologies/%s", url.PathEscape(slug)))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) SegmentUnits(ctx context.Context, workspace, investigation, segment, state string) ([]domain.VerificationUnit, error) {
	var resp struct {
		Items []domain.VerificationUnit `json:"items"`
	}
	endpoint := c.segmentPath(workspace, investigation, segment, "units") + "?state=" + url.QueryEscape(state)
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) PutUnitState(ctx context.Context, workspace, investigation, segment string, unitID int, snapshot string) error {
	body := map[string]any{"snapshot": snapshot}
	endpoint := c.segmentPath(workspace, investigation, segment, fmt.Sprintf("units/%d/state", unitID))
	return c.do(ctx, http.MethodPut, endpoint, body, nil)
}

func (c *Client) Annotations(ctx context.Context, workspace, investigation string, verificationID int) ([]domain.Annotation, error) {
	var resp struct {
		Items []domain.Annotation `json:"items"`
	}
	endpoint := c.verificationPath(workspace, investigation, verificationID)
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) PutAnnotation(ctx context.Context, workspace, investigation string, verificationID int, a domain.Annotation) error {
	endpoint := c.verificationPath(workspace, investigation, verificationID)
	return c.do(ctx, http.MethodPut, endpoint, a, nil)
}

func (c *Client) UnitsByIDs(ctx context.Context, workspace string, ids []int) ([]domain.FullUnit, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	var resp struct {
		Items []domain.FullUnit `json:"items"`
	}
	endpoint := c.workspacePath(workspace, "units") + "?ids=" + strings.Join(parts, ",")
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// ImportMethodology uploads a methodology definition. Not part of the Store
// interface; only the CLI import path needs it.
func (c *Client) ImportMethodology(ctx context.Context, workspace, slug, title, description, process string) (domain.Methodology, error) {
	body := map[string]string{
		"slug":        slug,
		"title":       title,
		"description": description,
		"process":     process,
	}
	var resp domain.Methodology
	endpoint := c.workspacePath(workspace, "methodologies")
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Methodologies lists the workspace's methodologies.
func (c *Client) Methodologies(ctx context.Context, workspace string) ([]domain.Methodology, error) {
	var resp struct {
		Items []domain.Methodology `json:"items"`
	}
	endpoint := c.workspacePath(workspace, "methodologies")
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	// Fall back without mutating the client: Board.Seed calls this from
	// one goroutine per column.
	hc := c.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: c.Timeout}
	}
	u := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return ErrNotFound
	}
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) workspacePath(workspace, p string) string {
	return fmt.Sprintf("v0/workspaces/%s/%s", url.PathEscape(workspace), strings.TrimLeft(p, "/"))
}

func (c *Client) segmentPath(workspace, investigation, segment, p string) string {
	return c.workspacePath(workspace, fmt.Sprintf("investigations/%s/segments/%s/%s",
		url.PathEscape(investigation), url.PathEscape(segment), strings.TrimLeft(p, "/")))
}

func (c *Client) verificationPath(workspace, investigation string, verificationID int) string {
	return c.workspacePath(workspace, fmt.Sprintf("investigations/%s/verifications/%d/annotations",
		url.PathEscape(investigation), verificationID))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
