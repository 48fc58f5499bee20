// Package gateway runs the enabled channels next to a status server that
// reports liveness and readiness.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"botserver/pkg/bus"
	"botserver/pkg/channel"
	"botserver/pkg/config"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"
)

const (
	defaultHealthHost   = "0.0.0.0"
	defaultHealthPort   = 18790
	dependencyInterval  = 30 * time.Second
	dependencyCheckWait = 5 * time.Second
)

// Pinger is a backing service whose reachability gates readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Service struct {
	cfg          *config.Config
	log          *slog.Logger
	handler      channel.Handler
	channels     []channel.Adapter
	dependencies map[string]Pinger

	handled atomic.Uint64
	failed  atomic.Uint64

	mu             sync.RWMutex
	startedAt      time.Time
	lastCheckAt    time.Time
	dependencyErrs map[string]string
	channelStates  map[string]channelState
}

type channelState struct {
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

type statusResponse struct {
	Status          string                  `json:"status"`
	UptimeSeconds   int64                   `json:"uptime_seconds"`
	LastCheckAt     string                  `json:"last_check_at,omitempty"`
	Dependencies    map[string]string       `json:"dependencies"`
	MessagesHandled uint64                  `json:"messages_handled"`
	MessagesFailed  uint64                  `json:"messages_failed"`
	Channels        map[string]channelState `json:"channels"`
}

// NewService wires handler to every adapter. dependencies are pinged on
// start and then periodically; any failure marks the service not ready.
func NewService(cfg *config.Config, handler channel.Handler, adapters []channel.Adapter, dependencies map[string]Pinger, log *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	if len(adapters) == 0 {
		return nil, errors.New("at least one channel adapter is required")
	}
	if log == nil {
		log = slog.Default()
	}

	channelStates := make(map[string]channelState, len(adapters))
	for _, adapter := range adapters {
		channelStates[adapter.Name()] = channelState{}
	}

	return &Service{
		cfg:            cfg,
		log:            log.With("component", "gateway.service"),
		handler:        handler,
		channels:       adapters,
		dependencies:   dependencies,
		dependencyErrs: map[string]string{},
		channelStates:  channelStates,
	}, nil
}

// Run blocks until ctx is cancelled or a channel or the status server fails.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	if err := s.checkDependencies(ctx); err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return s.runHealthServer(groupCtx)
	})
	group.Go(func() error {
		s.watchDependencies(groupCtx)
		return nil
	})

	for _, adapter := range s.channels {
		s.setChannelState(adapter.Name(), channelState{Running: true})

		group.Go(func() error {
			err := adapter.Run(groupCtx, s.handleInbound)
			s.setChannelState(adapter.Name(), channelState{Running: false, Error: errorString(err)})
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("run %s channel: %w", adapter.Name(), err)
			}
			return nil
		})
	}

	return group.Wait()
}

func (s *Service) handleInbound(ctx context.Context, inbound bus.InboundMessage) (bus.OutboundMessage, error) {
	outbound, err := s.handler(ctx, inbound)
	if err != nil {
		s.failed.Add(1)
		if outbound.Error == "" {
			outbound.Error = err.Error()
		}
		if outbound.SessionKey == "" {
			outbound.Channel = inbound.Channel
			outbound.ChatID = inbound.ChatID
			outbound.SessionKey = inbound.SessionKey
		}
		return outbound, err
	}

	s.handled.Add(1)
	return outbound, nil
}

func (s *Service) watchDependencies(ctx context.Context) {
	ticker := time.NewTicker(dependencyInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.checkDependencies(ctx); err != nil && ctx.Err() == nil {
				s.log.Warn("Dependency check failed", "error", err)
			}
		}
	}
}

// checkDependencies pings every dependency and records the outcome.
func (s *Service) checkDependencies(ctx context.Context) error {
	results := make(map[string]string, len(s.dependencies))
	var errs []error
	for name, dependency := range s.dependencies {
		pingCtx, cancel := context.WithTimeout(ctx, dependencyCheckWait)
		err := dependency.Ping(pingCtx)
		cancel()
		if err != nil {
			results[name] = err.Error()
			errs = append(errs, fmt.Errorf("%s health check failed: %w", name, err))
		}
	}

	s.mu.Lock()
	s.dependencyErrs = results
	s.lastCheckAt = time.Now().UTC()
	s.mu.Unlock()

	return errors.Join(errs...)
}

func (s *Service) runHealthServer(ctx context.Context) error {
	host := strings.TrimSpace(s.cfg.Gateway.Host)
	if host == "" {
		host = defaultHealthHost
	}

	port := s.cfg.Gateway.Port
	if port <= 0 {
		port = defaultHealthPort
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	server := &http.Server{
		Addr:              addr,
		Handler:           s.statusRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("Gateway status server started", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start status server: %w", err)
	}
	return nil
}

func (s *Service) statusRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	return r
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondStatus(w, http.StatusOK, "ok")
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !s.isReady() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	s.respondStatus(w, statusCode, status)
}

func (s *Service) respondStatus(w http.ResponseWriter, statusCode int, status string) {
	payload := s.currentStatus(status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write status response", "error", err)
	}
}

func (s *Service) currentStatus(status string) statusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}

	lastCheck := ""
	if !s.lastCheckAt.IsZero() {
		lastCheck = s.lastCheckAt.Format(time.RFC3339)
	}

	dependencies := make(map[string]string, len(s.dependencies))
	for name := range s.dependencies {
		dependencies[name] = "ok"
		if msg, failed := s.dependencyErrs[name]; failed {
			dependencies[name] = msg
		}
	}

	return statusResponse{
		Status:          status,
		UptimeSeconds:   uptime,
		LastCheckAt:     lastCheck,
		Dependencies:    dependencies,
		MessagesHandled: s.handled.Load(),
		MessagesFailed:  s.failed.Load(),
		Channels:        maps.Clone(s.channelStates),
	}
}

func (s *Service) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	anyRunning := false
	for _, state := range s.channelStates {
		if state.Running {
			anyRunning = true
			break
		}
	}
	if !anyRunning {
		return false
	}

	if s.lastCheckAt.IsZero() {
		return false
	}

	return len(s.dependencyErrs) == 0
}

func (s *Service) setChannelState(name string, state channelState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channelStates[name] = state
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
