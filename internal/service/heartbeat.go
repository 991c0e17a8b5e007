package service

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"jerosync/internal/constants"
	apperrors "jerosync/internal/errors"
	"jerosync/internal/metrics"
	"jerosync/pkg/gateway"

	"github.com/sirupsen/logrus"
)

// HeartbeatState is the lifecycle of a presence heartbeat
type HeartbeatState int

const (
	HeartbeatInactive HeartbeatState = iota
	HeartbeatActive
	HeartbeatSuspended
	HeartbeatTerminated
)

// String returns the string representation of the state
func (s HeartbeatState) String() string {
	switch s {
	case HeartbeatInactive:
		return "inactive"
	case HeartbeatActive:
		return "active"
	case HeartbeatSuspended:
		return "suspended"
	case HeartbeatTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// HeartbeatScheduler announces the local user as online while the UI is
// visible and as offline when it is hidden or the session ends. A scheduler
// runs once; a new session needs a new scheduler.
type HeartbeatScheduler struct {
	gateway         gateway.Client
	interval        time.Duration
	announceTimeout time.Duration
	logger          *logrus.Logger

	mu      sync.Mutex
	state   HeartbeatState
	visible bool
	ctx     context.Context
	cancel  context.CancelFunc
	loopWG  sync.WaitGroup

	emitWG sync.WaitGroup
}

// NewHeartbeatScheduler creates an inactive scheduler that assumes the UI is visible
func NewHeartbeatScheduler(gw gateway.Client, interval, announceTimeout time.Duration, logger *logrus.Logger) *HeartbeatScheduler {
	if interval <= 0 {
		interval = time.Duration(constants.DefaultHeartbeatIntervalSec) * time.Second
	}
	if announceTimeout <= 0 {
		announceTimeout = time.Duration(constants.DefaultPresenceAnnounceTimeoutSec) * time.Second
	}
	return &HeartbeatScheduler{
		gateway:         gw,
		interval:        interval,
		announceTimeout: announceTimeout,
		logger:          logger,
		state:           HeartbeatInactive,
		visible:         true,
	}
}

// Start announces online and arms the periodic heartbeat. If the UI was
// already hidden the scheduler starts suspended and announces nothing.
func (h *HeartbeatScheduler) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.state {
	case HeartbeatActive, HeartbeatSuspended:
		return fmt.Errorf("heartbeat is already running")
	case HeartbeatTerminated:
		return fmt.Errorf("heartbeat has been terminated")
	}

	h.ctx, h.cancel = context.WithCancel(ctx)
	if h.visible {
		h.state = HeartbeatActive
		h.emit(h.ctx, true)
	} else {
		h.state = HeartbeatSuspended
	}

	h.loopWG.Add(1)
	go h.loop(h.ctx)

	h.logger.WithFields(logrus.Fields{
		LogFieldInterval: h.interval.String(),
		LogFieldState:    h.state.String(),
	}).Info("Presence heartbeat started")
	return nil
}

// SetVisible moves between active and suspended. Repeating the current value does nothing.
func (h *HeartbeatScheduler) SetVisible(visible bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.visible == visible {
		return
	}
	h.visible = visible

	switch {
	case h.state == HeartbeatActive && !visible:
		h.state = HeartbeatSuspended
		h.emit(h.ctx, false)
	case h.state == HeartbeatSuspended && visible:
		h.state = HeartbeatActive
		h.emit(h.ctx, true)
	default:
		return
	}

	h.logger.WithFields(logrus.Fields{
		LogFieldVisible: visible,
		LogFieldState:   h.state.String(),
	}).Debug("Presence heartbeat visibility changed")
}

// Stop terminates the scheduler and announces offline without waiting for the result
func (h *HeartbeatScheduler) Stop() {
	h.mu.Lock()
	prev := h.state
	if prev == HeartbeatTerminated {
		h.mu.Unlock()
		return
	}
	h.state = HeartbeatTerminated
	if h.cancel != nil {
		h.cancel()
	}
	if prev == HeartbeatActive || prev == HeartbeatSuspended {
		// in-flight announcements were cancelled above; this one must outlive them
		h.emit(context.Background(), false)
	}
	h.mu.Unlock()

	h.loopWG.Wait()
	h.logger.WithField(LogFieldState, prev.String()).Info("Presence heartbeat stopped")
}

// State returns the current lifecycle state
func (h *HeartbeatScheduler) State() HeartbeatState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// IsVisible returns the last visibility reported by the UI
func (h *HeartbeatScheduler) IsVisible() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.visible
}

func (h *HeartbeatScheduler) loop(ctx context.Context) {
	defer h.loopWG.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.mu.Lock()
			if h.state == HeartbeatActive {
				h.emit(ctx, true)
			}
			h.mu.Unlock()
		}
	}
}

// emit sends one announcement in its own goroutine. Callers hold h.mu.
func (h *HeartbeatScheduler) emit(parent context.Context, online bool) {
	h.emitWG.Add(1)
	go func() {
		defer h.emitWG.Done()

		ctx, cancel := context.WithTimeout(parent, h.announceTimeout)
		defer cancel()

		err := h.gateway.AnnouncePresence(ctx, online)
		result := "ok"
		if err != nil {
			result = "failed"
			h.logger.WithFields(apperrors.Fields(err)).
				WithField(LogFieldOnline, online).
				Warn("Failed to announce presence")
		} else {
			h.logger.WithField(LogFieldOnline, online).Debug("Presence announced")
		}

		metrics.IncrementCounter("presence_announcements_total", map[string]string{
			"online": strconv.FormatBool(online),
			"result": result,
		}, "Presence announcements by outcome")
	}()
}
