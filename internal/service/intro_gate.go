package service

import (
	"context"
	"time"

	"jerosync/internal/constants"

	"github.com/sirupsen/logrus"
)

// FlagStore persists boolean flags for the current session
type FlagStore interface {
	GetFlag(ctx context.Context, flag string) (bool, error)
	SetFlag(ctx context.Context, flag string, value bool) error
}

// IntroGate decides whether the intro animation plays and how long it stays up
type IntroGate struct {
	store     FlagStore
	logger    *logrus.Logger
	createdAt time.Time
	minimum   time.Duration
}

// NewIntroGate creates a gate backed by the given flag store
func NewIntroGate(store FlagStore, logger *logrus.Logger) *IntroGate {
	return &IntroGate{
		store:     store,
		logger:    logger,
		createdAt: time.Now(),
		minimum:   time.Duration(constants.IntroMinimumDurationMs) * time.Millisecond,
	}
}

// ShouldPlay is true unless the intro was already completed in this session.
// A store failure counts as not played.
func (g *IntroGate) ShouldPlay(ctx context.Context) bool {
	played, err := g.store.GetFlag(ctx, constants.IntroFlagName)
	if err != nil {
		g.logger.WithError(err).Warn("Failed to read intro flag")
		return true
	}
	return !played
}

// Visible keeps the intro on screen until the animation is done, the minimum
// duration has passed and initialization has finished.
func (g *IntroGate) Visible(animationDone, initializing bool, now time.Time) bool {
	if !animationDone || initializing {
		return true
	}
	return now.Sub(g.createdAt) < g.minimum
}

// Complete records that the intro was shown
func (g *IntroGate) Complete(ctx context.Context) error {
	if err := g.store.SetFlag(ctx, constants.IntroFlagName, true); err != nil {
		g.logger.WithError(err).Error("Failed to persist intro flag")
		return err
	}
	g.logger.Debug("Intro marked as played")
	return nil
}
