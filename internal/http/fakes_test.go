package http

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"

	"dishwatch/internal/auth"
	"dishwatch/internal/config"
	"dishwatch/internal/monitor"
	"dishwatch/internal/nest"
)

type fakeGoogleAuthenticator struct {
	lastState     string
	authorization *auth.Authorization
	exchangeErr   error
}

func (f *fakeGoogleAuthenticator) AuthURL(state string) string {
	f.lastState = state
	return "https://accounts.google.test/auth?state=" + state
}

func (f *fakeGoogleAuthenticator) Exchange(ctx context.Context, code string) (*auth.Authorization, error) {
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return f.authorization, nil
}

type fakeRegistrar struct {
	mu         sync.Mutex
	registered []string
	removed    []string
	running    map[string]bool
}

func newFakeRegistrar() *fakeRegistrar {
	return &fakeRegistrar{running: make(map[string]bool)}
}

func (f *fakeRegistrar) OnUserRegistered(userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered = append(f.registered, userID)
	if f.running[userID] {
		return false
	}
	f.running[userID] = true
	return true
}

func (f *fakeRegistrar) OnUserRemoved(userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, userID)
}

func (f *fakeRegistrar) Running(userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[userID]
}

type fakeDeviceLister struct {
	listDevices func(ctx context.Context, projectID, accessToken string) ([]nest.Device, error)
}

func (f *fakeDeviceLister) ListDevices(ctx context.Context, projectID, accessToken string) ([]nest.Device, error) {
	if f.listDevices != nil {
		return f.listDevices(ctx, projectID, accessToken)
	}
	return nil, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testViews(t *testing.T) *views {
	t.Helper()
	v, err := newViews(discardLogger())
	if err != nil {
		t.Fatalf("newViews: %v", err)
	}
	return v
}

type testServer struct {
	handler   http.Handler
	store     *monitor.Store
	registrar *fakeRegistrar
	google    *fakeGoogleAuthenticator
	devices   *fakeDeviceLister
}

func newTestServer(t *testing.T, users map[string]monitor.UserRecord) *testServer {
	t.Helper()
	ts := &testServer{
		store:     monitor.NewStore(users),
		registrar: newFakeRegistrar(),
		google:    &fakeGoogleAuthenticator{},
		devices:   &fakeDeviceLister{},
	}

	cfg := config.Config{
		Environment:    "development",
		AllowedOrigins: []string{"http://localhost:8080"},
		NestProjectID:  "proj-default",
	}
	handler, err := NewRouter(cfg, Dependencies{
		Store:         ts.store,
		Registrar:     ts.registrar,
		Authenticator: ts.google,
		Devices:       ts.devices,
	}, discardLogger())
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	ts.handler = handler
	return ts
}

func sampleDevices() []nest.Device {
	return []nest.Device{
		{DeviceID: "cam-1", DisplayName: "Front Door", TypeName: "sdm.devices.types.CAMERA", RoomName: "Entryway"},
		{DeviceID: "thermo-1", DisplayName: "Hallway", TypeName: "sdm.devices.types.THERMOSTAT"},
		{DeviceID: "bell-1", DisplayName: "Doorbell", TypeName: "sdm.devices.types.DOORBELL", Traits: []string{"sdm.devices.traits.CameraEventImage"}},
	}
}
