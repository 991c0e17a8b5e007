package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"jerosync/internal/constants"
	apperrors "jerosync/internal/errors"
	"jerosync/internal/metrics"
	"jerosync/pkg/gateway"

	"github.com/sirupsen/logrus"
)

// ConnectionMonitor pings the gateway and reports when it goes away and
// when it comes back.
type ConnectionMonitor struct {
	gateway   gateway.Client
	logger    *logrus.Logger
	interval  time.Duration
	threshold int

	mu                  sync.Mutex
	consecutiveFailures int
	lost                bool
	onLost              []func()
	onRestored          []func()
	running             bool
	cancel              context.CancelFunc
	wg                  sync.WaitGroup
}

// NewConnectionMonitor creates a monitor. Non-positive arguments fall back to defaults.
func NewConnectionMonitor(gw gateway.Client, interval time.Duration, threshold int, logger *logrus.Logger) *ConnectionMonitor {
	if interval <= 0 {
		interval = time.Duration(constants.DefaultConnectionCheckSec) * time.Second
	}
	if threshold <= 0 {
		threshold = constants.DefaultConnectionFailureThreshold
	}
	return &ConnectionMonitor{
		gateway:   gw,
		logger:    logger,
		interval:  interval,
		threshold: threshold,
	}
}

// OnLost registers a callback for the gateway becoming unreachable
func (cm *ConnectionMonitor) OnLost(fn func()) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.onLost = append(cm.onLost, fn)
}

// OnRestored registers a callback for the first successful ping after a loss
func (cm *ConnectionMonitor) OnRestored(fn func()) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.onRestored = append(cm.onRestored, fn)
}

// Connected reports whether the last threshold of pings did not all fail
func (cm *ConnectionMonitor) Connected() bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return !cm.lost
}

// Start begins periodic checks
func (cm *ConnectionMonitor) Start(ctx context.Context) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.running {
		return errors.New("connection monitor is already running")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	cm.cancel = cancel
	cm.running = true

	cm.wg.Add(1)
	go cm.monitorLoop(loopCtx)

	cm.logger.WithField(LogFieldInterval, cm.interval.String()).Info("Connection monitor started")
	return nil
}

// Stop ends the checks and waits for an in-flight ping
func (cm *ConnectionMonitor) Stop() {
	cm.mu.Lock()
	if !cm.running {
		cm.mu.Unlock()
		return
	}
	cm.running = false
	cm.cancel()
	cm.mu.Unlock()

	cm.wg.Wait()
	cm.logger.Info("Connection monitor stopped")
}

func (cm *ConnectionMonitor) monitorLoop(ctx context.Context) {
	defer cm.wg.Done()

	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cm.Check(ctx)
		}
	}
}

// Check runs one ping and updates the connection state
func (cm *ConnectionMonitor) Check(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, cm.interval)
	defer cancel()

	err := cm.gateway.Ping(checkCtx)
	if ctx.Err() != nil {
		return
	}

	if err != nil {
		cm.recordFailure(err)
		return
	}
	cm.recordSuccess()
}

func (cm *ConnectionMonitor) recordFailure(err error) {
	cm.mu.Lock()
	cm.consecutiveFailures++
	failures := cm.consecutiveFailures
	var callbacks []func()
	if !cm.lost && failures >= cm.threshold {
		cm.lost = true
		callbacks = append(callbacks, cm.onLost...)
	}
	cm.mu.Unlock()

	cm.logger.WithFields(apperrors.Fields(err)).
		WithField(LogFieldFailures, failures).
		Debug("Gateway ping failed")

	if callbacks == nil {
		return
	}

	metrics.IncrementCounter("connection_transitions_total", map[string]string{"state": "lost"}, "Gateway connection state changes")
	cm.logger.WithField(LogFieldFailures, failures).Warn("Gateway connection lost")
	for _, fn := range callbacks {
		fn()
	}
}

func (cm *ConnectionMonitor) recordSuccess() {
	cm.mu.Lock()
	wasLost := cm.lost
	cm.lost = false
	cm.consecutiveFailures = 0
	var callbacks []func()
	if wasLost {
		callbacks = append(callbacks, cm.onRestored...)
	}
	cm.mu.Unlock()

	if !wasLost {
		return
	}

	metrics.IncrementCounter("connection_transitions_total", map[string]string{"state": "restored"}, "Gateway connection state changes")
	cm.logger.Info("Gateway connection restored")
	for _, fn := range callbacks {
		fn()
	}
}
