package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"jerosync/internal/constants"
	apperrors "jerosync/internal/errors"
	"jerosync/internal/privacy"
	"jerosync/pkg/gateway"

	"github.com/sirupsen/logrus"
)

// ContactService provides contact caching and retrieval functionality
type ContactService struct {
	gateway  gateway.Client
	self     string
	cacheTTL time.Duration
	logger   *logrus.Logger
	now      func() time.Time

	mu       sync.Mutex
	cached   []string
	cachedAt time.Time
	valid    bool

	// invalidated is called after a local mutation so derived caches refetch too
	invalidated []func()
}

// NewContactService creates a contact service for self with the given cache TTL
func NewContactService(gw gateway.Client, self string, cacheTTL time.Duration, logger *logrus.Logger) *ContactService {
	if cacheTTL <= 0 {
		cacheTTL = time.Duration(constants.DefaultContactCacheTTLSec) * time.Second
	}
	return &ContactService{
		gateway:  gw,
		self:     self,
		cacheTTL: cacheTTL,
		logger:   logger,
		now:      time.Now,
	}
}

// OnInvalidate registers a hook fired whenever the contact list changes locally
func (cs *ContactService) OnInvalidate(fn func()) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.invalidated = append(cs.invalidated, fn)
}

// List returns self's contacts, served from cache while it is fresh
func (cs *ContactService) List(ctx context.Context) ([]string, error) {
	cs.mu.Lock()
	if cs.valid && cs.now().Sub(cs.cachedAt) < cs.cacheTTL {
		out := append([]string(nil), cs.cached...)
		cs.mu.Unlock()
		return out, nil
	}
	cs.mu.Unlock()

	contacts, err := cs.gateway.FetchContacts(ctx, cs.self)
	if err != nil {
		return nil, err
	}

	cs.mu.Lock()
	cs.cached = append([]string(nil), contacts...)
	cs.cachedAt = cs.now()
	cs.valid = true
	cs.mu.Unlock()

	cs.logger.WithField(LogFieldCount, len(contacts)).Debug("Contact list refreshed")
	return contacts, nil
}

// Add adds a contact by principal id
func (cs *ContactService) Add(ctx context.Context, principal string) error {
	principal = strings.TrimSpace(principal)
	if principal == "" {
		return apperrors.NewValidationError("principal", "", "contact id cannot be empty")
	}
	if err := cs.gateway.AddContact(ctx, principal); err != nil {
		return err
	}

	cs.logger.WithField(LogFieldPrincipal, privacy.MaskPrincipal(principal)).Info("Contact added")
	cs.Invalidate()
	return nil
}

// AddByPhone normalizes and validates an E.164 number before adding it
func (cs *ContactService) AddByPhone(ctx context.Context, phone string) error {
	normalized := NormalizePhoneNumber(phone)
	if err := ValidatePhoneNumber(normalized); err != nil {
		return apperrors.NewValidationError("phone", normalized, err.Error())
	}
	if err := cs.gateway.AddContactByPhone(ctx, normalized); err != nil {
		return err
	}

	cs.logger.WithField("phone", privacy.MaskPhoneNumber(normalized)).Info("Contact added by phone")
	cs.Invalidate()
	return nil
}

// Invalidate drops the cached contact list
func (cs *ContactService) Invalidate() {
	cs.mu.Lock()
	cs.valid = false
	cs.cached = nil
	hooks := append([]func(){}, cs.invalidated...)
	cs.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}
