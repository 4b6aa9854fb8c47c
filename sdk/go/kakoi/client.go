package kakoi

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

	"github.com/google/uuid"
)

// projectHeader carries the acting project when it differs from the
// token's binding. Only admin tokens may set a project this way; the
// server rejects a mismatch for everyone else.
const projectHeader = "X-Kakoi-Project"

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the Kakoi server (e.g. "http://localhost:8080").
	BaseURL string

	// ActorID identifies this caller for authentication and auditing.
	ActorID string

	// APIKey is the secret used to obtain a JWT token.
	APIKey string

	// ProjectID optionally pins the acting project via the transport
	// header. Service tokens already carry their project binding; admin
	// tokens need this to act on a specific tenant's data.
	ProjectID string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with a 30-second timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	Timeout time.Duration
}

// Client is an HTTP client for the Kakoi gateway API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL   string
	projectID string
	client    *http.Client
	tokenMgr  *tokenManager
}

// NewClient creates a Client from the given configuration.
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:   baseURL,
		projectID: cfg.ProjectID,
		client:    httpClient,
		tokenMgr:  newTokenManager(baseURL, cfg.ActorID, cfg.APIKey, httpClient),
	}
}

// CreateRecord stores a record owned by the acting project. Ownership
// comes from the caller's tenant binding; it cannot be set in the body.
func (c *Client) CreateRecord(ctx context.Context, kind string, body json.RawMessage) (*Record, error) {
	reqBody := map[string]any{"kind": kind, "body": body}
	var rec Record
	if err := c.post(ctx, "/v1/records", reqBody, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetRecord retrieves a record by id. While the acting project is under
// enforcement, records outside its allowed set answer 404 exactly like
// records that do not exist.
func (c *Client) GetRecord(ctx context.Context, id uuid.UUID) (*Record, error) {
	var rec Record
	if err := c.get(ctx, "/v1/records/"+id.String(), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListOptions are optional paging parameters for ListRecords.
type ListOptions struct {
	Limit  int
	Offset int
}

// ListRecords retrieves a page of records visible to the acting project.
func (c *Client) ListRecords(ctx context.Context, opts *ListOptions) (*RecordPage, error) {
	params := url.Values{}
	if opts != nil {
		if opts.Limit > 0 {
			params.Set("limit", strconv.Itoa(opts.Limit))
		}
		if opts.Offset > 0 {
			params.Set("offset", strconv.Itoa(opts.Offset))
		}
	}

	path := "/v1/records"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var resp listEnvelope
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &RecordPage{
		Records: resp.Data,
		HasMore: resp.HasMore,
		Limit:   resp.Limit,
		Offset:  resp.Offset,
	}, nil
}

// DeleteRecord removes a record owned by the acting project.
func (c *Client) DeleteRecord(ctx context.Context, id uuid.UUID) error {
	return c.delete(ctx, "/v1/records/"+id.String())
}

// RecentDecisions returns the acting project's most recent audit ledger
// rows, newest first.
func (c *Client) RecentDecisions(ctx context.Context, limit int) ([]AccessDecision, error) {
	path := "/v1/decisions/recent"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var decisions []AccessDecision
	if err := c.get(ctx, path, &decisions); err != nil {
		return nil, err
	}
	return decisions, nil
}

// MigrationStatus returns the per-project rollout report. Admin only.
func (c *Client) MigrationStatus(ctx context.Context) ([]ProjectStatus, error) {
	var statuses []ProjectStatus
	if err := c.get(ctx, "/v1/migration/status", &statuses); err != nil {
		return nil, err
	}
	return statuses, nil
}

// listEnvelope is the server's paging envelope inside the standard
// response wrapper.
type listEnvelope struct {
	Data    []Record `json:"data"`
	HasMore bool     `json:"has_more"`
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
}

// apiEnvelope is the server's standard response wrapper.
type apiEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// apiErrorEnvelope is the server's standard error response wrapper.
type apiErrorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) post(ctx context.Context, path string, body any, dest any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("kakoi: marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("kakoi: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRequest(req, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("kakoi: create request: %w", err)
	}

	return c.doRequest(req, dest)
}

func (c *Client) delete(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("kakoi: create request: %w", err)
	}

	return c.doRequest(req, nil)
}

func (c *Client) doRequest(req *http.Request, dest any) error {
	token, err := c.tokenMgr.getToken(req.Context())
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if c.projectID != "" {
		req.Header.Set(projectHeader, c.projectID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("kakoi: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	return handleResponse(resp, dest)
}

func handleResponse(resp *http.Response, dest any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("kakoi: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	if dest == nil {
		return nil
	}

	// Unwrap the server's { "data": ... } envelope.
	var envelope apiEnvelope
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		return fmt.Errorf("kakoi: decode response envelope: %w", err)
	}

	if envelope.Data == nil {
		return json.Unmarshal(bodyBytes, dest)
	}

	return json.Unmarshal(envelope.Data, dest)
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	} else {
		apiErr.Code = http.StatusText(statusCode)
		apiErr.Message = string(body)
	}

	return apiErr
}
