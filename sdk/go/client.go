package leadopssdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Leadops HTTP API client.
type Client struct {
	BaseURL     string
	SiteID      string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, siteID string) *Client {
	return &Client{
		BaseURL: baseURL,
		SiteID:  siteID,
		Timeout: 10 * time.Second,
	}
}

// Lead represents the API lead model (partial).
type Lead struct {
	ID            string `json:"id"`
	SiteID        string `json:"site_id"`
	Type          string `json:"type"`
	Status        string `json:"status"`
	FullName      string `json:"full_name"`
	Phone         string `json:"phone,omitempty"`
	Email         string `json:"email,omitempty"`
	Region        string `json:"region,omitempty"`
	PriorityScore int    `json:"priority_score"`
	Version       int64  `json:"version"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

// Note represents a lead note.
type Note struct {
	ID        string `json:"id"`
	LeadID    string `json:"lead_id"`
	ActorID   string `json:"actor_id"`
	NoteText  string `json:"note_text"`
	Pinned    bool   `json:"pinned"`
	CreatedAt string `json:"created_at"`
}

// Job represents a background job.
type Job struct {
	ID        string         `json:"id"`
	SiteID    string         `json:"site_id"`
	Type      string         `json:"type"`
	State     string         `json:"state"`
	Attempts  int            `json:"attempts"`
	Result    map[string]any `json:"result,omitempty"`
	CreatedAt string         `json:"created_at"`
	UpdatedAt string         `json:"updated_at"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedLeads wraps list responses with cursors.
type PaginatedLeads struct {
	Items         []Lead `json:"items"`
	NextCursor    string `json:"next_cursor"`
	FilteredCount int    `json:"filtered_count"`
}

// ListLeadsOptions narrow a lead listing. Zero values are omitted.
type ListLeadsOptions struct {
	Search   string
	Status   string
	Sort     string
	Cursor   string
	Archived string
	Limit    int
}

// CreateLead creates a lead.
func (c *Client) CreateLead(ctx context.Context, fullName, leadType string) (Lead, error) {
	body := map[string]any{
		"full_name": fullName,
		"type":      leadType,
	}
	var resp Lead
	err := c.do(ctx, http.MethodPost, c.sitePath("leads"), body, &resp)
	return resp, err
}

// ListLeads returns one page of leads.
func (c *Client) ListLeads(ctx context.Context, opts ListLeadsOptions) (PaginatedLeads, error) {
	q := url.Values{}
	if opts.Search != "" {
		q.Set("search", opts.Search)
	}
	if opts.Status != "" {
		q.Set("status", opts.Status)
	}
	if opts.Sort != "" {
		q.Set("sort", opts.Sort)
	}
	if opts.Cursor != "" {
		q.Set("cursor", opts.Cursor)
	}
	if opts.Archived != "" {
		q.Set("archived", opts.Archived)
	}
	if opts.Limit > 0 {
		q.Set("limit", fmt.Sprint(opts.Limit))
	}
	endpoint := c.sitePath("leads")
	if enc := q.Encode(); enc != "" {
		endpoint += "?" + enc
	}
	var resp PaginatedLeads
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// SetStatus applies a status change under optimistic concurrency. A stale
// expectedVersion comes back as an APIError with status 409.
func (c *Client) SetStatus(ctx context.Context, leadID, status, reasonCode string, expectedVersion int64) (Lead, error) {
	body := map[string]any{
		"status":           status,
		"expected_version": expectedVersion,
	}
	if reasonCode != "" {
		body["reason_code"] = reasonCode
	}
	var resp Lead
	endpoint := c.sitePath(fmt.Sprintf("leads/%s/status", url.PathEscape(leadID)))
	err := c.do(ctx, http.MethodPatch, endpoint, body, &resp)
	return resp, err
}

// AddNote appends a note to a lead.
func (c *Client) AddNote(ctx context.Context, leadID, text string) (Note, error) {
	body := map[string]any{"note_text": text}
	var resp Note
	endpoint := c.sitePath(fmt.Sprintf("leads/%s/notes", url.PathEscape(leadID)))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// StartExport enqueues a lead export job.
func (c *Client) StartExport(ctx context.Context, statuses []string, sort string) (Job, error) {
	body := map[string]any{
		"filters": map[string]any{"status": statuses},
	}
	if sort != "" {
		body["sort"] = sort
	}
	var resp Job
	err := c.do(ctx, http.MethodPost, c.sitePath("leads/export"), body, &resp)
	return resp, err
}

// GetJob fetches a job by id.
func (c *Client) GetJob(ctx context.Context, jobID string) (Job, error) {
	var resp Job
	endpoint := c.sitePath(fmt.Sprintf("jobs/%s", url.PathEscape(jobID)))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// WaitForJob polls a job until it reaches a terminal state or ctx expires.
func (c *Client) WaitForJob(ctx context.Context, jobID string, interval time.Duration) (Job, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	for {
		j, err := c.GetJob(ctx, jobID)
		if err != nil {
			return Job{}, err
		}
		if j.State == "ready" || j.State == "failed" {
			return j, nil
		}
		select {
		case <-ctx.Done():
			return j, ctx.Err()
		case <-time.After(interval):
		}
	}
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
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
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) sitePath(p string) string {
	site := url.PathEscape(c.SiteID)
	return fmt.Sprintf("v0/sites/%s/%s", site, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
