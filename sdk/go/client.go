package solairesdk

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

// Client is a minimal Solaire HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. baseURL includes the API base
// path, e.g. "http://127.0.0.1:8080/api".
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Lead represents the API lead model.
type Lead struct {
	ID          string  `json:"id"`
	Company     string  `json:"company,omitempty"`
	ContactName string  `json:"contact_name"`
	Email       string  `json:"email,omitempty"`
	Phone       string  `json:"phone,omitempty"`
	Pack        string  `json:"pack"`
	Status      string  `json:"status"`
	Notes       string  `json:"notes,omitempty"`
	ClientID    *string `json:"client_id,omitempty"`
	ConvertedAt *string `json:"converted_at,omitempty"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

// Transition is one recorded step change.
type Transition struct {
	From  string `json:"from"`
	To    string `json:"to"`
	At    string `json:"at"`
	Notes string `json:"notes,omitempty"`
}

// Stage is the state of one administrative stage.
type Stage struct {
	CurrentStep string       `json:"current_step"`
	Status      string       `json:"status"`
	Progress    float64      `json:"progress"`
	History     []Transition `json:"history"`
}

// Beneficiary is the person or company the installation belongs to.
type Beneficiary struct {
	Company     string `json:"company,omitempty"`
	ContactName string `json:"contact_name"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
}

// Installation describes the physical site.
type Installation struct {
	Address     string   `json:"address,omitempty"`
	City        string   `json:"city,omitempty"`
	PostalCode  string   `json:"postal_code,omitempty"`
	PowerKWC    *float64 `json:"power_kwc,omitempty"`
	PanelsCount *int     `json:"panels_count,omitempty"`
}

// Project represents the API project model.
type Project struct {
	ID             string           `json:"id"`
	Reference      string           `json:"reference"`
	LeadID         *string          `json:"lead_id,omitempty"`
	Beneficiary    Beneficiary      `json:"beneficiary"`
	Installation   Installation     `json:"installation"`
	Pack           string           `json:"pack"`
	Status         string           `json:"status"`
	Progress       int              `json:"progress"`
	ManualOverride bool             `json:"manual_override"`
	Workflow       map[string]Stage `json:"workflow"`
	CreatedAt      string           `json:"created_at"`
	UpdatedAt      string           `json:"updated_at"`
}

// Document represents attached document metadata.
type Document struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Stage     string `json:"stage"`
	Category  string `json:"category,omitempty"`
	Filename  string `json:"filename"`
	URL       string `json:"url"`
	MimeType  string `json:"mime_type,omitempty"`
	Size      int64  `json:"size,omitempty"`
	CreatedAt string `json:"created_at"`
}

// Event represents a log entry. Payload carries the raw JSON the server
// stored for the event.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id,omitempty"`
	Payload    string `json:"payload_json,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedLeads wraps lead listings with a cursor.
type PaginatedLeads struct {
	Items      []Lead `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// PaginatedProjects wraps project listings with a cursor.
type PaginatedProjects struct {
	Items      []Project `json:"items"`
	NextCursor string    `json:"next_cursor,omitempty"`
}

// CreateLead creates a lead. contactName and pack are required.
func (c *Client) CreateLead(ctx context.Context, contactName, pack string, extra map[string]any) (Lead, error) {
	body := map[string]any{
		"contact_name": contactName,
		"pack":         pack,
	}
	for k, v := range extra {
		body[k] = v
	}
	var resp Lead
	err := c.do(ctx, http.MethodPost, "leads", body, &resp)
	return resp, err
}

// GetLead fetches a lead by id.
func (c *Client) GetLead(ctx context.Context, id string) (Lead, error) {
	var resp Lead
	err := c.do(ctx, http.MethodGet, "leads/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Leads returns a paginated lead listing.
func (c *Client) Leads(ctx context.Context, limit int, cursor string) (PaginatedLeads, error) {
	var resp PaginatedLeads
	err := c.do(ctx, http.MethodGet, listEndpoint("leads", limit, cursor), nil, &resp)
	return resp, err
}

// UpdateLead patches lead fields; only the provided keys change.
func (c *Client) UpdateLead(ctx context.Context, id string, fields map[string]any) (Lead, error) {
	var resp Lead
	err := c.do(ctx, http.MethodPatch, "leads/"+url.PathEscape(id), fields, &resp)
	return resp, err
}

// ConvertLead converts a lead and returns the created project.
func (c *Client) ConvertLead(ctx context.Context, id string) (Project, error) {
	var resp Project
	endpoint := fmt.Sprintf("leads/%s/convert", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// UndoConvertLead reverts a conversion and returns the lead.
func (c *Client) UndoConvertLead(ctx context.Context, id string) (Lead, error) {
	var resp Lead
	endpoint := fmt.Sprintf("leads/%s/undo-convert", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// GetProject fetches a project by id.
func (c *Client) GetProject(ctx context.Context, id string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, "projects/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Projects returns a paginated project listing.
func (c *Client) Projects(ctx context.Context, limit int, cursor string) (PaginatedProjects, error) {
	var resp PaginatedProjects
	err := c.do(ctx, http.MethodGet, listEndpoint("projects", limit, cursor), nil, &resp)
	return resp, err
}

// UpdateProject patches project fields; only the provided keys change.
func (c *Client) UpdateProject(ctx context.Context, id string, fields map[string]any) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPatch, "projects/"+url.PathEscape(id), fields, &resp)
	return resp, err
}

// ApplyStep records a stage's current step.
func (c *Client) ApplyStep(ctx context.Context, projectID, stage, step, notes string) (Project, error) {
	body := map[string]any{"step": step}
	if notes != "" {
		body["notes"] = notes
	}
	var resp Project
	endpoint := fmt.Sprintf("projects/%s/workflow/%s", url.PathEscape(projectID), url.PathEscape(stage))
	err := c.do(ctx, http.MethodPatch, endpoint, body, &resp)
	return resp, err
}

// ResetStage sends a stage back to pending.
func (c *Client) ResetStage(ctx context.Context, projectID, stage string) (Project, error) {
	var resp Project
	endpoint := fmt.Sprintf("projects/%s/workflow/%s/reset", url.PathEscape(projectID), url.PathEscape(stage))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// AddDocument attaches document metadata to a project stage.
func (c *Client) AddDocument(ctx context.Context, projectID, stage, filename, fileURL string, extra map[string]any) (Document, error) {
	body := map[string]any{
		"stage":    stage,
		"filename": filename,
		"url":      fileURL,
	}
	for k, v := range extra {
		body[k] = v
	}
	var resp Document
	endpoint := fmt.Sprintf("projects/%s/documents", url.PathEscape(projectID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Documents lists a project's documents, optionally filtered by stage.
func (c *Client) Documents(ctx context.Context, projectID, stage string) ([]Document, error) {
	endpoint := fmt.Sprintf("projects/%s/documents", url.PathEscape(projectID))
	if stage != "" {
		endpoint = fmt.Sprintf("%s?stage=%s", endpoint, url.QueryEscape(stage))
	}
	var resp []Document
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events, newest first.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	var resp []Event
	err := c.do(ctx, http.MethodGet, listEndpoint("events", limit, ""), nil, &resp)
	return resp, err
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

func listEndpoint(base string, limit int, cursor string) string {
	endpoint := base
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	return endpoint
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
