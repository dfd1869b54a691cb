package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// SupervisorConfig holds worker timing and suture restart parameters.
type SupervisorConfig struct {
	// PollInterval is the pause between poll cycles. Default: 15s
	PollInterval time.Duration

	// FailureThreshold is the number of worker failures before suture backs off. Default: 5
	FailureThreshold float64

	// FailureDecay is the rate at which failures decay in seconds. Default: 30
	FailureDecay float64

	// FailureBackoff is how long suture waits once the threshold is exceeded. Default: 15s
	FailureBackoff time.Duration

	// ShutdownTimeout bounds how long a worker may take to stop. Default: 10s
	ShutdownTimeout time.Duration
}

// DefaultSupervisorConfig returns production defaults.
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		PollInterval:     DefaultPollInterval,
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Supervisor spawns one Worker per registered user. It never stops workers itself:
// a worker stops on its own once its user has been deleted from the Store.
type Supervisor struct {
	root    *suture.Supervisor
	store   *Store
	tokens  *TokenLifecycle
	poller  *EventPoller
	handler EventHandler
	logger  *slog.Logger
	config  SupervisorConfig

	mu      sync.Mutex
	running map[string]*Worker
}

// NewSupervisor wires a Supervisor around a suture tree.
func NewSupervisor(store *Store, tokens *TokenLifecycle, poller *EventPoller, handler EventHandler, logger *slog.Logger, config SupervisorConfig) *Supervisor {
	defaults := DefaultSupervisorConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.FailureThreshold == 0 {
		config.FailureThreshold = defaults.FailureThreshold
	}
	if config.FailureDecay == 0 {
		config.FailureDecay = defaults.FailureDecay
	}
	if config.FailureBackoff == 0 {
		config.FailureBackoff = defaults.FailureBackoff
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = defaults.ShutdownTimeout
	}

	// MustHook has a pointer receiver.
	hook := (&sutureslog.Handler{Logger: logger}).MustHook()

	root := suture.New("dishwatch", suture.Spec{
		EventHook:        hook,
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	})

	return &Supervisor{
		root:    root,
		store:   store,
		tokens:  tokens,
		poller:  poller,
		handler: handler,
		logger:  logger,
		config:  config,
		running: make(map[string]*Worker),
	}
}

// Start spawns a worker for every user already in the store, e.g. after a snapshot restore.
// It returns how many workers were spawned.
func (s *Supervisor) Start() int {
	spawned := 0
	for _, id := range s.store.IDs() {
		if s.OnUserRegistered(id) {
			spawned++
		}
	}
	s.logger.Info("resumed monitoring for existing users", "workers", spawned)
	return spawned
}

// OnUserRegistered spawns a worker for userID unless one is already running.
// It returns true when a new worker was started.
func (s *Supervisor) OnUserRegistered(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.running[userID]; ok {
		return false
	}
	if !s.store.Exists(userID) {
		return false
	}

	w := &Worker{
		userID:   userID,
		store:    s.store,
		tokens:   s.tokens,
		poller:   s.poller,
		handler:  s.handler,
		interval: s.config.PollInterval,
		logger:   s.logger.With("user_id", userID),
		detach:   s.detach,
	}
	s.running[userID] = w
	s.root.Add(w)
	return true
}

// OnUserRemoved exists for symmetry with OnUserRegistered and does nothing: deleting the
// user from the Store is the whole removal protocol, and the worker notices within one
// poll interval.
func (s *Supervisor) OnUserRemoved(string) {}

// detach lets a worker whose user disappeared leave the running set. The existence check
// happens under the supervisor lock, so it cannot interleave with OnUserRegistered.
func (s *Supervisor) detach(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store.Exists(userID) {
		return false
	}
	delete(s.running, userID)
	return true
}

// Running reports whether a worker is active for userID.
func (s *Supervisor) Running(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.running[userID]
	return ok
}

// RunningCount returns the number of active workers.
func (s *Supervisor) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// Add supervises an auxiliary service (such as the snapshot saver) in the same tree.
func (s *Supervisor) Add(svc suture.Service) suture.ServiceToken {
	return s.root.Add(svc)
}

// Serve runs the tree and blocks until ctx is cancelled.
func (s *Supervisor) Serve(ctx context.Context) error {
	return s.root.Serve(ctx)
}

// ServeBackground runs the tree in a goroutine. The channel yields the tree's exit error.
func (s *Supervisor) ServeBackground(ctx context.Context) <-chan error {
	return s.root.ServeBackground(ctx)
}

// UnstoppedServiceReport lists services that missed the shutdown timeout.
func (s *Supervisor) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return s.root.UnstoppedServiceReport()
}
