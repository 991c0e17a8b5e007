package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "jerosync/internal/errors"
	"jerosync/internal/identity"
	"jerosync/internal/metrics"
	"jerosync/internal/models"
	"jerosync/pkg/gateway"

	"github.com/sirupsen/logrus"
)

// SessionOptions carries the timing and sizing knobs of a session
type SessionOptions struct {
	HeartbeatInterval    time.Duration
	AnnounceTimeout      time.Duration
	PresenceInterval     time.Duration
	ConversationInterval time.Duration
	ConnectionInterval   time.Duration
	ConnectionThreshold  int
	ContactCacheTTL      time.Duration
	Status               StatusAggregatorOptions
}

// SessionOptionsFromConfig converts config seconds into durations
func SessionOptionsFromConfig(cfg *models.Config) SessionOptions {
	sec := func(n int) time.Duration { return time.Duration(n) * time.Second }
	return SessionOptions{
		HeartbeatInterval:    sec(cfg.Presence.HeartbeatIntervalSec),
		AnnounceTimeout:      sec(cfg.Presence.AnnounceTimeoutSec),
		PresenceInterval:     sec(cfg.Presence.RefreshIntervalSec),
		ConversationInterval: sec(cfg.Conversations.PollIntervalSec),
		ConnectionInterval:   sec(cfg.Connection.CheckIntervalSec),
		ConnectionThreshold:  cfg.Connection.FailureThreshold,
		ContactCacheTTL:      sec(cfg.Contacts.CacheTTLSec),
		Status: StatusAggregatorOptions{
			Concurrency:       cfg.Status.FanOutConcurrency,
			RequestsPerSecond: cfg.Status.RequestsPerSecond,
			CacheTTL:          sec(cfg.Status.FeedCacheTTLSec),
		},
	}
}

// Session owns everything that lives for one authenticated identity. At most
// one heartbeat scheduler exists per session; it is replaced, never
// duplicated, when the gateway comes back.
type Session struct {
	gateway  gateway.Client
	identity *identity.Identity
	opts     SessionOptions
	logger   *logrus.Logger
	now      func() time.Time

	contacts      *ContactService
	statuses      *StatusAggregator
	composer      *StatusComposer
	presence      *PresenceReader
	conversations *ConversationManager
	monitor       *ConnectionMonitor
	intro         *IntroGate

	mu        sync.Mutex
	running   bool
	expired   bool
	visible   bool
	ctx       context.Context
	cancel    context.CancelFunc
	heartbeat *HeartbeatScheduler
	expiry    *time.Timer
	onExpired []func()
}

// NewSession wires the session's components. Nothing runs until Start.
func NewSession(gw gateway.Client, id *identity.Identity, flags FlagStore, opts SessionOptions, logger *logrus.Logger) *Session {
	self := ""
	if id != nil {
		self = id.Principal
	}

	s := &Session{
		gateway:  gw,
		identity: id,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
		visible:  true,
	}

	s.contacts = NewContactService(gw, self, opts.ContactCacheTTL, logger)
	s.statuses = NewStatusAggregator(gw, s.contacts, opts.Status, logger)
	s.contacts.OnInvalidate(s.statuses.Invalidate)
	s.composer = NewStatusComposer(gw, s.statuses, self, nil, logger)
	s.presence = NewPresenceReader(gw, opts.PresenceInterval, logger)
	s.conversations = NewConversationManager(gw, self, opts.ConversationInterval, logger)
	s.monitor = NewConnectionMonitor(gw, opts.ConnectionInterval, opts.ConnectionThreshold, logger)
	s.intro = NewIntroGate(flags, logger)

	s.monitor.OnLost(s.handleLost)
	s.monitor.OnRestored(s.handleRestored)
	return s
}

// Start checks the identity and the gateway, then starts the background
// components and a fresh heartbeat.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("session is already running")
	}
	if s.identity == nil {
		return apperrors.NewUnauthorizedError("no identity")
	}
	if s.identity.Expired(s.now()) {
		return apperrors.NewUnauthorizedError("identity expired")
	}

	if err := s.gateway.Ping(ctx); err != nil {
		s.logger.WithFields(apperrors.Fields(err)).Error("Gateway is not reachable")
		return err
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.expired = false

	if err := s.monitor.Start(s.ctx); err != nil {
		s.cancel()
		return err
	}
	if err := s.presence.Start(s.ctx); err != nil {
		s.monitor.Stop()
		s.cancel()
		return err
	}
	if err := s.conversations.Start(s.ctx); err != nil {
		s.presence.Stop()
		s.monitor.Stop()
		s.cancel()
		return err
	}
	if err := s.startHeartbeatLocked(); err != nil {
		s.conversations.Stop()
		s.presence.Stop()
		s.monitor.Stop()
		s.cancel()
		return err
	}

	if left := s.identity.TimeLeft(s.now()); left > 0 {
		s.expiry = time.AfterFunc(left, s.handleExpired)
	}

	s.running = true
	metrics.SetGauge("session_running", 1, nil, "Whether a session is active")
	s.logger.WithField(LogFieldPrincipal, principalField(ctx, s.identity.Principal)).Info("Session started")
	return nil
}

// Stop tears the session down in reverse start order. The heartbeat's final
// offline announcement is not awaited.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	if s.expiry != nil {
		s.expiry.Stop()
		s.expiry = nil
	}
	hb := s.heartbeat
	s.heartbeat = nil
	cancel := s.cancel
	s.mu.Unlock()

	if hb != nil {
		hb.Stop()
	}
	s.conversations.Stop()
	s.conversations.CloseAll()
	s.presence.Stop()
	// the monitor may be inside a callback waiting for s.mu, so it stops unlocked
	s.monitor.Stop()
	cancel()

	metrics.SetGauge("session_running", 0, nil, "Whether a session is active")
	s.logger.Info("Session stopped")
}

func (s *Session) startHeartbeatLocked() error {
	hb := NewHeartbeatScheduler(s.gateway, s.opts.HeartbeatInterval, s.opts.AnnounceTimeout, s.logger)
	hb.SetVisible(s.visible)
	if err := hb.Start(s.ctx); err != nil {
		return err
	}
	s.heartbeat = hb
	return nil
}

func (s *Session) terminateHeartbeatLocked(reason string) {
	if s.heartbeat == nil {
		return
	}
	s.heartbeat.Stop()
	s.heartbeat = nil
	s.logger.WithField("reason", reason).Warn("Presence heartbeat terminated")
}

func (s *Session) handleLost() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.terminateHeartbeatLocked("gateway lost")
}

func (s *Session) handleRestored() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.expired || s.heartbeat != nil {
		return
	}
	if err := s.startHeartbeatLocked(); err != nil {
		s.logger.WithError(err).Error("Failed to restart presence heartbeat")
		return
	}
	s.logger.Info("Presence heartbeat restarted after reconnect")
}

func (s *Session) handleExpired() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.expired = true
	s.terminateHeartbeatLocked("identity expired")
	callbacks := append([]func(){}, s.onExpired...)
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}

// SetVisible forwards UI visibility to the current heartbeat and remembers
// it for the next one.
func (s *Session) SetVisible(visible bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visible = visible
	if s.heartbeat != nil {
		s.heartbeat.SetVisible(visible)
	}
}

// OnExpired registers a callback for the identity token running out
func (s *Session) OnExpired(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onExpired = append(s.onExpired, fn)
}

// OnConnectionChange reports gateway loss (false) and recovery (true)
func (s *Session) OnConnectionChange(fn func(connected bool)) {
	s.monitor.OnLost(func() { fn(false) })
	s.monitor.OnRestored(func() { fn(true) })
}

// Heartbeat returns the live scheduler, or nil while none is running
func (s *Session) Heartbeat() *HeartbeatScheduler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heartbeat
}

// Running reports whether Start succeeded and Stop has not run
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Expired reports whether the identity expiry timer has fired
func (s *Session) Expired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expired
}

// Self is the session's principal, or empty without an identity
func (s *Session) Self() string {
	if s.identity == nil {
		return ""
	}
	return s.identity.Principal
}

// Identity returns the identity the session was created with
func (s *Session) Identity() *identity.Identity { return s.identity }

// Contacts returns the session's contact list
func (s *Session) Contacts() *ContactService { return s.contacts }

// Statuses returns the status feed aggregator
func (s *Session) Statuses() *StatusAggregator { return s.statuses }

// Composer posts and deletes own statuses
func (s *Session) Composer() *StatusComposer { return s.composer }

// Presence returns the peer presence reader
func (s *Session) Presence() *PresenceReader { return s.presence }

// Conversations returns the open conversation registry
func (s *Session) Conversations() *ConversationManager { return s.conversations }

// Monitor returns the gateway connection monitor
func (s *Session) Monitor() *ConnectionMonitor { return s.monitor }

// Intro returns the first-run intro gate
func (s *Session) Intro() *IntroGate { return s.intro }

// Connected reports the connection monitor's view of the gateway
func (s *Session) Connected() bool { return s.monitor.Connected() }
