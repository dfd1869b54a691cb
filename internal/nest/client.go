package nest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"dishwatch/internal/monitor"
)

const (
	// DefaultBaseURL is the Smart Device Management REST root.
	DefaultBaseURL = "https://smartdevicemanagement.googleapis.com/v1"

	maxResponseBytes = 4 << 20
)

// Client talks to the Smart Device Management API. One Client is shared by every worker:
// its rate limiter caps the process-wide request rate and its circuit breaker stops all
// workers from hammering the API while it is failing.
type Client struct {
	client  *http.Client
	baseURL string
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[[]byte]
	logger  *slog.Logger
}

// Option configures the Client during construction.
type Option func(*Client)

// WithBaseURL overrides the API root.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithRateLimit caps outbound requests per second. A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithLogger sets the logger used for circuit breaker transitions.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient constructs a Client.
func NewClient(client *http.Client, opts ...Option) *Client {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	c := &Client{
		client:  client,
		baseURL: DefaultBaseURL,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "sdm-api",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		// Rejected tokens and unknown devices are the caller's problem, not an outage.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var apiErr *APIError
			return errors.As(err, &apiErr) && apiErr.clientFault()
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return c
}

// ListEvents fetches the pending events of one device. A 401 response yields an error
// matching monitor.ErrUnauthorized.
func (c *Client) ListEvents(ctx context.Context, projectID, deviceID, accessToken string) ([]monitor.Event, error) {
	path := fmt.Sprintf("/enterprises/%s/devices/%s/events", url.PathEscape(projectID), url.PathEscape(deviceID))
	body, err := c.get(ctx, path, accessToken)
	if err != nil {
		return nil, err
	}

	events, err := decodeEvents(body)
	if err != nil {
		return nil, fmt.Errorf("decode events for device %s: %w", deviceID, err)
	}
	for i := range events {
		if events[i].DeviceID == "" {
			events[i].DeviceID = deviceID
		}
	}
	return events, nil
}

// ListDevices returns every device visible to the token in the project.
func (c *Client) ListDevices(ctx context.Context, projectID, accessToken string) ([]Device, error) {
	path := fmt.Sprintf("/enterprises/%s/devices", url.PathEscape(projectID))
	body, err := c.get(ctx, path, accessToken)
	if err != nil {
		return nil, err
	}

	var payload devicesResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode devices: %w", err)
	}

	devices := make([]Device, 0, len(payload.Devices))
	for _, d := range payload.Devices {
		devices = append(devices, d.toDevice())
	}
	return devices, nil
}

func (c *Client) get(ctx context.Context, path, accessToken string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("sdm rate limit: %w", err)
		}
	}

	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.do(ctx, path, accessToken)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrCircuitOpen
	}
	return body, err
}

func (c *Client) do(ctx context.Context, path, accessToken string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create sdm request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call sdm api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, parseAPIError(resp)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read sdm response: %w", err)
	}
	return body, nil
}

// decodeEvents accepts either a bare JSON array of events or an {"events": [...]} envelope.
func decodeEvents(body []byte) ([]monitor.Event, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '{' {
		var envelope struct {
			Events []monitor.Event `json:"events"`
		}
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return nil, err
		}
		return envelope.Events, nil
	}

	var events []monitor.Event
	if err := json.Unmarshal(trimmed, &events); err != nil {
		return nil, err
	}
	return events, nil
}
