package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"jerosync/internal/constants"
	"jerosync/internal/metrics"
	"jerosync/internal/models"
	"jerosync/pkg/gateway"

	"github.com/sirupsen/logrus"
)

// ConversationManager owns the open reconcilers and refetches them on an
// interval, since the backend cannot push new messages.
type ConversationManager struct {
	gateway  gateway.Client
	self     string
	interval time.Duration
	logger   *logrus.Logger

	onChange      ChangeFunc
	onSendFailure SendFailureFunc

	convMu        sync.RWMutex
	conversations map[string]*MessageReconciler

	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewConversationManager creates a manager polling every interval
func NewConversationManager(gw gateway.Client, self string, interval time.Duration, logger *logrus.Logger) *ConversationManager {
	if interval <= 0 {
		interval = time.Duration(constants.DefaultConversationPollSec) * time.Second
	}
	return &ConversationManager{
		gateway:       gw,
		self:          self,
		interval:      interval,
		logger:        logger,
		conversations: make(map[string]*MessageReconciler),
	}
}

// SetCallbacks wires every conversation opened afterwards to the given callbacks
func (cm *ConversationManager) SetCallbacks(onChange ChangeFunc, onSendFailure SendFailureFunc) {
	cm.convMu.Lock()
	defer cm.convMu.Unlock()
	cm.onChange = onChange
	cm.onSendFailure = onSendFailure
}

// Open returns the reconciler for peerID, creating it and starting its first load if needed
func (cm *ConversationManager) Open(peerID string) *MessageReconciler {
	key := models.CanonicalID(peerID)

	cm.convMu.Lock()
	if r, ok := cm.conversations[key]; ok {
		cm.convMu.Unlock()
		return r
	}
	r := NewMessageReconciler(cm.gateway, cm.self, peerID, cm.logger)
	if cm.onChange != nil {
		r.OnChange(cm.onChange)
	}
	if cm.onSendFailure != nil {
		r.OnSendFailure(cm.onSendFailure)
	}
	cm.conversations[key] = r
	count := len(cm.conversations)
	cm.convMu.Unlock()

	metrics.SetGauge("open_conversations", float64(count), nil, "Conversations currently open")
	go func() {
		_ = r.Load(r.ctx)
	}()
	return r
}

// Get returns the reconciler for peerID if it is open
func (cm *ConversationManager) Get(peerID string) (*MessageReconciler, bool) {
	cm.convMu.RLock()
	defer cm.convMu.RUnlock()
	r, ok := cm.conversations[models.CanonicalID(peerID)]
	return r, ok
}

// Close removes and closes the reconciler for peerID
func (cm *ConversationManager) Close(peerID string) {
	key := models.CanonicalID(peerID)

	cm.convMu.Lock()
	r, ok := cm.conversations[key]
	delete(cm.conversations, key)
	count := len(cm.conversations)
	cm.convMu.Unlock()

	if ok {
		r.Close()
		metrics.SetGauge("open_conversations", float64(count), nil, "Conversations currently open")
	}
}

// CloseAll closes every open conversation
func (cm *ConversationManager) CloseAll() {
	cm.convMu.Lock()
	open := cm.conversations
	cm.conversations = make(map[string]*MessageReconciler)
	cm.convMu.Unlock()

	for _, r := range open {
		r.Close()
	}
	metrics.SetGauge("open_conversations", 0, nil, "Conversations currently open")
}

func (cm *ConversationManager) snapshot() []*MessageReconciler {
	cm.convMu.RLock()
	defer cm.convMu.RUnlock()
	out := make([]*MessageReconciler, 0, len(cm.conversations))
	for _, r := range cm.conversations {
		out = append(out, r)
	}
	return out
}

// Start begins the background refetch loop
func (cm *ConversationManager) Start(ctx context.Context) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.running {
		return fmt.Errorf("conversation poller is already running")
	}

	cm.ctx, cm.cancel = context.WithCancel(ctx)
	cm.running = true

	cm.wg.Add(1)
	go cm.pollLoop()

	cm.logger.WithField(LogFieldInterval, cm.interval.String()).Info("Conversation poller started")
	return nil
}

// Stop ends the refetch loop and waits for it to exit
func (cm *ConversationManager) Stop() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if !cm.running {
		return
	}

	cm.cancel()
	cm.wg.Wait()
	cm.running = false
	cm.logger.Info("Conversation poller stopped")
}

// IsRunning returns whether the poller is currently active
func (cm *ConversationManager) IsRunning() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.running
}

func (cm *ConversationManager) pollLoop() {
	defer cm.wg.Done()

	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-cm.ctx.Done():
			return
		case <-ticker.C:
			cm.refreshAll()
		}
	}
}

// refreshAll reloads every open conversation. Failures are recorded on each
// conversation's view; the next tick tries again.
func (cm *ConversationManager) refreshAll() {
	open := cm.snapshot()
	if len(open) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(cm.ctx, cm.interval)
	defer cancel()

	var wg sync.WaitGroup
	for _, r := range open {
		wg.Add(1)
		go func(r *MessageReconciler) {
			defer wg.Done()
			_ = r.Load(ctx)
		}(r)
	}
	wg.Wait()

	cm.logger.WithField(LogFieldCount, len(open)).Debug("Refreshed open conversations")
}
