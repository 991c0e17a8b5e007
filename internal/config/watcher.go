package config

import (
	"context"
	"os"
	"sync"
	"time"

	"jerosync/internal/models"

	"github.com/sirupsen/logrus"
)

const defaultWatchInterval = 5 * time.Second

// Watcher watches the configuration file and reloads it when it changes
type Watcher struct {
	configPath string
	logger     *logrus.Logger
	interval   time.Duration
	mu         sync.RWMutex
	config     *models.Config
	callbacks  []func(*models.Config)
}

// NewWatcher creates a configuration watcher that polls every five seconds
func NewWatcher(configPath string, logger *logrus.Logger) *Watcher {
	return &Watcher{
		configPath: configPath,
		logger:     logger,
		interval:   defaultWatchInterval,
		callbacks:  make([]func(*models.Config), 0),
	}
}

// SetInterval changes the polling interval. It must be called before Start.
func (w *Watcher) SetInterval(d time.Duration) {
	if d > 0 {
		w.interval = d
	}
}

// Start loads the configuration and polls the file's modification time
// until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	config, err := LoadConfig(w.configPath)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.config = config
	w.mu.Unlock()

	stat, err := os.Stat(w.configPath)
	if err != nil {
		return err
	}
	lastModTime := stat.ModTime()

	w.logger.WithField("path", w.configPath).Info("Configuration watcher started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Configuration watcher stopping")
			return nil

		case <-ticker.C:
			stat, err := os.Stat(w.configPath)
			if err != nil {
				w.logger.WithError(err).Error("Failed to stat configuration file")
				continue
			}

			if !stat.ModTime().Equal(lastModTime) {
				w.logger.Debug("Configuration file changed")
				lastModTime = stat.ModTime()
				w.reloadConfig()
			}
		}
	}
}

// GetConfig returns the current configuration
func (w *Watcher) GetConfig() *models.Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

// OnConfigChange registers a callback to be called when configuration changes
func (w *Watcher) OnConfigChange(callback func(*models.Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

func (w *Watcher) reloadConfig() {
	newConfig, err := LoadConfig(w.configPath)
	if err != nil {
		w.logger.WithError(err).Error("Failed to reload configuration")
		return
	}

	w.mu.Lock()
	oldConfig := w.config
	w.config = newConfig
	callbacks := make([]func(*models.Config), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	w.logger.Info("Configuration reloaded successfully")

	for _, callback := range callbacks {
		go func(cb func(*models.Config)) {
			defer func() {
				if r := recover(); r != nil {
					w.logger.WithField("panic", r).Error("Config change callback panicked")
				}
			}()
			cb(newConfig)
		}(callback)
	}

	w.logConfigChanges(oldConfig, newConfig)
}

func (w *Watcher) logConfigChanges(old, new *models.Config) {
	if old == nil {
		return
	}

	if old.LogLevel != new.LogLevel {
		w.logger.WithFields(logrus.Fields{
			"old": old.LogLevel,
			"new": new.LogLevel,
		}).Info("Log level changed")
	}

	if old.Presence.HeartbeatIntervalSec != new.Presence.HeartbeatIntervalSec {
		w.logger.WithFields(logrus.Fields{
			"old": old.Presence.HeartbeatIntervalSec,
			"new": new.Presence.HeartbeatIntervalSec,
		}).Info("Heartbeat interval changed")
	}

	if old.Presence.RefreshIntervalSec != new.Presence.RefreshIntervalSec {
		w.logger.WithFields(logrus.Fields{
			"old": old.Presence.RefreshIntervalSec,
			"new": new.Presence.RefreshIntervalSec,
		}).Info("Presence refresh interval changed")
	}

	if old.Gateway.BaseURL != new.Gateway.BaseURL {
		w.logger.Warn("Gateway base URL changed; restart to apply")
	}
}
