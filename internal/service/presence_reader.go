package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"jerosync/internal/constants"
	apperrors "jerosync/internal/errors"
	"jerosync/internal/metrics"
	"jerosync/internal/models"
	"jerosync/pkg/gateway"

	"github.com/sirupsen/logrus"
)

// PresenceUpdateFunc receives the peers whose record changed in a refresh
type PresenceUpdateFunc func(changed map[string]models.PresenceRecord)

// PresenceReader keeps the latest successful bulk presence snapshot.
// A failed refresh never replaces it.
type PresenceReader struct {
	gateway  gateway.Client
	interval time.Duration
	logger   *logrus.Logger

	mu          sync.RWMutex
	records     map[string]models.PresenceRecord
	loaded      bool
	lastRefresh time.Time
	subscribers []PresenceUpdateFunc

	runMu   sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewPresenceReader creates a reader refreshing every interval once started
func NewPresenceReader(gw gateway.Client, interval time.Duration, logger *logrus.Logger) *PresenceReader {
	if interval <= 0 {
		interval = time.Duration(constants.DefaultPresenceRefreshSec) * time.Second
	}
	return &PresenceReader{
		gateway:  gw,
		interval: interval,
		logger:   logger,
		records:  make(map[string]models.PresenceRecord),
	}
}

// OnUpdate registers a subscriber for changed records
func (p *PresenceReader) OnUpdate(fn PresenceUpdateFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers = append(p.subscribers, fn)
}

// Refresh fetches the bulk snapshot and replaces the projection on success
func (p *PresenceReader) Refresh(ctx context.Context) error {
	entries, err := p.gateway.FetchBulkPresence(ctx)
	if err != nil {
		metrics.IncrementCounter("presence_refresh_total", map[string]string{"result": "failed"}, "Presence snapshot refreshes")
		p.logger.WithFields(apperrors.Fields(err)).Warn("Failed to refresh presence, keeping previous snapshot")
		return err
	}

	next := make(map[string]models.PresenceRecord, len(entries))
	for _, entry := range entries {
		next[models.CanonicalID(entry.PeerID)] = models.ProjectPresence(entry)
	}

	p.mu.Lock()
	changed := diffPresence(p.records, next)
	p.records = next
	p.loaded = true
	p.lastRefresh = time.Now()
	subscribers := append([]PresenceUpdateFunc(nil), p.subscribers...)
	p.mu.Unlock()

	metrics.IncrementCounter("presence_refresh_total", map[string]string{"result": "ok"}, "Presence snapshot refreshes")
	p.logger.WithFields(logrus.Fields{
		LogFieldCount: len(next),
		"changed":     len(changed),
	}).Debug("Presence snapshot refreshed")

	if len(changed) > 0 {
		for _, fn := range subscribers {
			fn(changed)
		}
	}
	return nil
}

// diffPresence returns the records that differ between two snapshots. Peers
// that disappeared are reported with their absent projection.
func diffPresence(prev, next map[string]models.PresenceRecord) map[string]models.PresenceRecord {
	changed := make(map[string]models.PresenceRecord)
	for id, rec := range next {
		if old, ok := prev[id]; !ok || !old.Equal(rec) {
			changed[id] = rec
		}
	}
	for id := range prev {
		if _, ok := next[id]; !ok {
			changed[id] = models.PresenceRecord{}
		}
	}
	return changed
}

// Observe returns the record for peerID from the latest successful snapshot.
// A peer missing from the snapshot is offline with no last-seen time.
func (p *PresenceReader) Observe(peerID string) models.PresenceRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.records[models.CanonicalID(peerID)]
}

// Loaded reports whether any refresh has succeeded yet
func (p *PresenceReader) Loaded() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.loaded
}

// Text renders the presence line for peerID at now
func (p *PresenceReader) Text(peerID string, now time.Time) string {
	return PresenceText(p.Observe(peerID), p.Loaded(), now)
}

// Start refreshes immediately and then on every interval
func (p *PresenceReader) Start(ctx context.Context) error {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	if p.running {
		return fmt.Errorf("presence reader is already running")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	p.wg.Add(1)
	go p.loop(loopCtx)

	p.logger.WithField(LogFieldInterval, p.interval.String()).Info("Presence reader started")
	return nil
}

// Stop ends the refresh loop and waits for it to exit
func (p *PresenceReader) Stop() {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	if !p.running {
		return
	}
	p.cancel()
	p.wg.Wait()
	p.running = false
	p.logger.Info("Presence reader stopped")
}

func (p *PresenceReader) loop(ctx context.Context) {
	defer p.wg.Done()

	p.refreshOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.refreshOnce(ctx)
		}
	}
}

func (p *PresenceReader) refreshOnce(ctx context.Context) {
	refreshCtx, cancel := context.WithTimeout(ctx, p.interval)
	defer cancel()
	_ = p.Refresh(refreshCtx)
}
