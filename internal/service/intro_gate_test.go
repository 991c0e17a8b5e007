package service

import (
	"context"
	"testing"
	"time"

	"jerosync/internal/constants"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntroGate_ShouldPlayUntilComplete(t *testing.T) {
	store := newMockFlagStore()
	gate := NewIntroGate(store, newTestLogger())

	assert.True(t, gate.ShouldPlay(context.Background()))

	require.NoError(t, gate.Complete(context.Background()))

	assert.False(t, gate.ShouldPlay(context.Background()))
	assert.True(t, store.flags[constants.IntroFlagName])
}

func TestIntroGate_StoreFailure(t *testing.T) {
	store := newMockFlagStore()
	store.err = assert.AnError
	gate := NewIntroGate(store, newTestLogger())

	assert.True(t, gate.ShouldPlay(context.Background()))
	assert.ErrorIs(t, gate.Complete(context.Background()), assert.AnError)
}

func TestIntroGate_Visible(t *testing.T) {
	gate := NewIntroGate(newMockFlagStore(), newTestLogger())
	start := gate.createdAt

	tests := []struct {
		name          string
		animationDone bool
		initializing  bool
		elapsed       time.Duration
		expected      bool
	}{
		{"animation running", false, false, 5 * time.Second, true},
		{"still initializing", true, true, 5 * time.Second, true},
		{"minimum not reached", true, false, time.Second, true},
		{"all done", true, false, 1800 * time.Millisecond, false},
		{"long after", true, false, time.Minute, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, gate.Visible(tt.animationDone, tt.initializing, start.Add(tt.elapsed)))
		})
	}
}
