package syncagent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fleetsync/internal/models"
)

// API is the part of the authoritative store's HTTP surface the agent uses.
// Implemented by *Client.
type API interface {
	FetchSync(ctx context.Context) (models.SyncResponse, error)
	PushSync(ctx context.Context, data map[string]json.RawMessage, updateType models.UpdateType) (models.PushResponse, error)
	UpdateLocation(ctx context.Context, driverID string, req models.LocationUpdateRequest) (models.DriverLocation, error)
	UpdateStatus(ctx context.Context, driverID string, req models.StatusUpdateRequest) (models.StatusUpdateResponse, error)
	UpdateFuel(ctx context.Context, driverID string, req models.FuelUpdateRequest) (models.FuelUpdateResponse, error)
	CompleteRoute(ctx context.Context, driverID string, req models.RouteCompletionRequest) (models.RouteCompletionResponse, error)
	ReportIssue(ctx context.Context, issue models.Issue) (models.IssueResponse, error)
	DriverLocations(ctx context.Context) ([]models.ObservedDriver, error)
}

// Ensure Client implements API at compile time.
var _ API = (*Client)(nil)

// APIError is a non-2xx reply from the server
type APIError struct {
	Status  int
	Path    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api %s returned status %d: %s", e.Path, e.Status, e.Message)
	}
	return fmt.Sprintf("api %s returned status %d", e.Path, e.Status)
}

// IsNotFound reports whether err is a 404 from the server
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// IsRetriable reports whether a request that failed with err may succeed later:
// transport failures, timeouts, 5xx, 408 and 429.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500 ||
			apiErr.Status == http.StatusRequestTimeout ||
			apiErr.Status == http.StatusTooManyRequests
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, errTransport)
}

var errTransport = errors.New("transport failure")

// Client talks to the authoritative store HTTP API
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	userAgent string
	token     string
}

const defaultUserAgent = "fleetsync-agent/1.0"

// NewClient builds a Client for serverURL. timeout bounds every request.
func NewClient(serverURL, token string, timeout time.Duration) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(serverURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("server url %q must be http or https", serverURL)
	}
	return &Client{
		baseURL:   base,
		http:      &http.Client{Timeout: timeout},
		userAgent: defaultUserAgent,
		token:     token,
	}, nil
}

// BaseURL returns the server root the client talks to
func (c *Client) BaseURL() *url.URL {
	u := *c.baseURL
	return &u
}

// Token returns the bearer token sent with every request
func (c *Client) Token() string {
	return c.token
}

func (c *Client) FetchSync(ctx context.Context) (models.SyncResponse, error) {
	var payload models.SyncResponse
	err := c.do(ctx, http.MethodGet, "/sync", nil, &payload)
	return payload, err
}

func (c *Client) PushSync(ctx context.Context, data map[string]json.RawMessage, updateType models.UpdateType) (models.PushResponse, error) {
	var payload models.PushResponse
	body := models.PushRequest{
		Data:       data,
		UpdateType: updateType,
		Timestamp:  models.FormatTime(time.Now()),
	}
	err := c.do(ctx, http.MethodPost, "/sync", body, &payload)
	return payload, err
}

func (c *Client) UpdateLocation(ctx context.Context, driverID string, req models.LocationUpdateRequest) (models.DriverLocation, error) {
	var payload models.LocationUpdateResponse
	err := c.do(ctx, http.MethodPost, driverPath(driverID, "location"), req, &payload)
	return payload.Location, err
}

func (c *Client) UpdateStatus(ctx context.Context, driverID string, req models.StatusUpdateRequest) (models.StatusUpdateResponse, error) {
	var payload models.StatusUpdateResponse
	err := c.do(ctx, http.MethodPost, driverPath(driverID, "status"), req, &payload)
	return payload, err
}

func (c *Client) UpdateFuel(ctx context.Context, driverID string, req models.FuelUpdateRequest) (models.FuelUpdateResponse, error) {
	var payload models.FuelUpdateResponse
	err := c.do(ctx, http.MethodPost, driverPath(driverID, "fuel"), req, &payload)
	return payload, err
}

func (c *Client) CompleteRoute(ctx context.Context, driverID string, req models.RouteCompletionRequest) (models.RouteCompletionResponse, error) {
	var payload models.RouteCompletionResponse
	err := c.do(ctx, http.MethodPost, driverPath(driverID, "route-completion"), req, &payload)
	return payload, err
}

func (c *Client) ReportIssue(ctx context.Context, issue models.Issue) (models.IssueResponse, error) {
	var payload models.IssueResponse
	err := c.do(ctx, http.MethodPost, "/issues", issue, &payload)
	return payload, err
}

func (c *Client) DriverLocations(ctx context.Context) ([]models.ObservedDriver, error) {
	var payload models.DriverLocationsResponse
	if err := c.do(ctx, http.MethodGet, "/driver/locations", nil, &payload); err != nil {
		return nil, err
	}
	return payload.Drivers, nil
}

// ReportDiagnostic sends a client diagnostic to the server log. It is not
// part of API since nothing in the sync loop depends on it.
func (c *Client) ReportDiagnostic(ctx context.Context, entry models.DiagnosticLog) error {
	return c.do(ctx, http.MethodPost, "/logs/diagnostic", entry, nil)
}

func driverPath(driverID, action string) string {
	return "/driver/" + driverID + "/" + action
}

func (c *Client) do(ctx context.Context, method, path string, body, dest any) error {
	reqURL := c.baseURL.JoinPath(path)

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("execute request: %w: %w", errTransport, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		var failure struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&failure)
		return &APIError{Status: resp.StatusCode, Path: path, Message: failure.Error}
	}
	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
