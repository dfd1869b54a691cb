package nest

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"dishwatch/internal/monitor"
)

// ErrCircuitOpen is returned while the client refuses calls because the API keeps failing.
var ErrCircuitOpen = errors.New("smart device management API unavailable (circuit open)")

// APIError is a non-2xx response from the Smart Device Management API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("sdm api returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("sdm api returned status %d: %s", e.StatusCode, e.Body)
}

// Unwrap maps a 401 onto monitor.ErrUnauthorized so the worker can trigger a reactive refresh.
func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized {
		return monitor.ErrUnauthorized
	}
	return nil
}

// clientFault reports whether the failure says nothing about the API's health.
func (e *APIError) clientFault() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != http.StatusTooManyRequests
}

func parseAPIError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	if err != nil {
		return &APIError{StatusCode: resp.StatusCode}
	}
	return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
}
