package monitor

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrUnauthorized marks a device API rejection of the access token (HTTP 401).
// Collaborators wrap it so callers can test with errors.Is.
var ErrUnauthorized = errors.New("unauthorized")

// EventLister fetches the pending events of a single device.
type EventLister interface {
	ListEvents(ctx context.Context, projectID, deviceID, accessToken string) ([]Event, error)
}

// DeviceFailure records a device whose fetch failed during a poll.
type DeviceFailure struct {
	DeviceID string
	Err      error
}

// PollResult is the outcome of polling all of a user's devices once.
type PollResult struct {
	Events       []Event
	Failed       []DeviceFailure
	Unauthorized bool
}

// EventPoller polls every monitored device of a user, isolating per-device failures.
type EventPoller struct {
	lister  EventLister
	logger  *slog.Logger
	timeout time.Duration
}

// NewEventPoller constructs an EventPoller. A non-positive timeout selects DefaultRequestTimeout.
func NewEventPoller(lister EventLister, logger *slog.Logger, timeout time.Duration) *EventPoller {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &EventPoller{lister: lister, logger: logger, timeout: timeout}
}

// Poll fetches events for each device in rec, in device order, authenticating with rec's credential.
// A failing device is logged and skipped; events from the remaining devices are still returned.
func (p *EventPoller) Poll(ctx context.Context, rec UserRecord) PollResult {
	var result PollResult
	for _, deviceID := range rec.DeviceIDs {
		if ctx.Err() != nil {
			break
		}

		events, err := p.fetch(ctx, rec.ProjectID, deviceID, rec.Credential.AccessToken)
		if err != nil {
			deviceFetchFailures.Inc()
			p.logger.Error("error polling device", "user_id", rec.ID, "device_id", deviceID, "error", err)
			result.Failed = append(result.Failed, DeviceFailure{DeviceID: deviceID, Err: err})
			if errors.Is(err, ErrUnauthorized) {
				result.Unauthorized = true
			}
			continue
		}

		for _, ev := range events {
			if ev.DeviceID == "" {
				ev.DeviceID = deviceID
			}
			result.Events = append(result.Events, ev)
		}
	}
	return result
}

func (p *EventPoller) fetch(ctx context.Context, projectID, deviceID, accessToken string) ([]Event, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.lister.ListEvents(callCtx, projectID, deviceID, accessToken)
}
