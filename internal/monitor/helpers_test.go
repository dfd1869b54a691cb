package monitor

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type refresherStub struct {
	mu      sync.Mutex
	calls   []string
	refresh func(ctx context.Context, refreshToken string) (Credential, error)
}

func (r *refresherStub) Refresh(ctx context.Context, refreshToken string) (Credential, error) {
	r.mu.Lock()
	r.calls = append(r.calls, refreshToken)
	fn := r.refresh
	r.mu.Unlock()
	if fn == nil {
		return Credential{AccessToken: "new-" + refreshToken, RefreshToken: refreshToken, ExpiresIn: 3600}, nil
	}
	return fn(ctx, refreshToken)
}

func (r *refresherStub) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type listCall struct {
	ProjectID   string
	DeviceID    string
	AccessToken string
}

type listerStub struct {
	mu         sync.Mutex
	calls      []listCall
	listEvents func(ctx context.Context, projectID, deviceID, accessToken string) ([]Event, error)
}

func (l *listerStub) ListEvents(ctx context.Context, projectID, deviceID, accessToken string) ([]Event, error) {
	l.mu.Lock()
	l.calls = append(l.calls, listCall{ProjectID: projectID, DeviceID: deviceID, AccessToken: accessToken})
	fn := l.listEvents
	l.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(ctx, projectID, deviceID, accessToken)
}

func (l *listerStub) Calls() []listCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]listCall(nil), l.calls...)
}

func (l *listerStub) CallCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.calls)
}

type handledEvent struct {
	UserID string
	Event  Event
}

type recordingHandler struct {
	mu     sync.Mutex
	events []handledEvent
}

func (h *recordingHandler) HandleEvent(_ context.Context, userID string, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, handledEvent{UserID: userID, Event: ev})
}

func (h *recordingHandler) Events() []handledEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]handledEvent(nil), h.events...)
}

// freshCredential does not expire for an hour after baseTime.
func freshCredential(refreshToken string) Credential {
	return Credential{AccessToken: "access-" + refreshToken, RefreshToken: refreshToken, TokenType: "Bearer", ExpiresIn: 3600, IssuedAt: baseTime}
}
