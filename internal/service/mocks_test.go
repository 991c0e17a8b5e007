package service

import (
	"context"
	"io"
	"sync"

	"jerosync/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
)

// Mock gateway client
type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) SendMessage(ctx context.Context, recipient, content string, replyToID *uint64) error {
	args := m.Called(ctx, recipient, content, replyToID)
	return args.Error(0)
}

func (m *mockGateway) FetchConversation(ctx context.Context, peer string) ([]models.ConversationMessage, error) {
	args := m.Called(ctx, peer)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ConversationMessage), args.Error(1)
}

func (m *mockGateway) FetchBulkPresence(ctx context.Context) ([]models.PresenceEntry, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.PresenceEntry), args.Error(1)
}

func (m *mockGateway) AnnouncePresence(ctx context.Context, online bool) error {
	args := m.Called(ctx, online)
	return args.Error(0)
}

func (m *mockGateway) FetchStatusesForAuthor(ctx context.Context, author string) ([]models.StatusItem, error) {
	args := m.Called(ctx, author)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.StatusItem), args.Error(1)
}

func (m *mockGateway) CreateStatus(ctx context.Context, media models.Media, caption string, audio *models.MediaRef) error {
	args := m.Called(ctx, media, caption, audio)
	return args.Error(0)
}

func (m *mockGateway) DeleteStatus(ctx context.Context, author string, statusID uint64) error {
	args := m.Called(ctx, author, statusID)
	return args.Error(0)
}

func (m *mockGateway) FetchContacts(ctx context.Context, self string) ([]string, error) {
	args := m.Called(ctx, self)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockGateway) AddContact(ctx context.Context, principal string) error {
	args := m.Called(ctx, principal)
	return args.Error(0)
}

func (m *mockGateway) AddContactByPhone(ctx context.Context, phone string) error {
	args := m.Called(ctx, phone)
	return args.Error(0)
}

func (m *mockGateway) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// Mock audio player
type mockAudioPlayer struct {
	mock.Mock
}

func (m *mockAudioPlayer) Play(ref models.MediaRef) error {
	args := m.Called(ref)
	return args.Error(0)
}

func (m *mockAudioPlayer) Stop() {
	m.Called()
}

// Mock session flag store
type mockFlagStore struct {
	mu    sync.Mutex
	flags map[string]bool
	err   error
}

func newMockFlagStore() *mockFlagStore {
	return &mockFlagStore{flags: make(map[string]bool)}
}

func (m *mockFlagStore) GetFlag(ctx context.Context, flag string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	return m.flags[flag], nil
}

func (m *mockFlagStore) SetFlag(ctx context.Context, flag string, value bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.flags[flag] = value
	return nil
}

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
