package service

import (
	"context"
	"sync"
	"testing"
	"time"

	apperrors "jerosync/internal/errors"
	"jerosync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testSelf = "alice"
	testPeer = "bob"
)

func contents(view models.ConversationView) []string {
	out := make([]string, 0, len(view.Messages))
	for _, m := range view.Messages {
		out = append(out, m.Content)
	}
	return out
}

func optimisticCount(view models.ConversationView) int {
	n := 0
	for _, m := range view.Messages {
		if m.Optimistic {
			n++
		}
	}
	return n
}

func TestMessageReconciler_EndToEndSendThenPoll(t *testing.T) {
	gw := &mockGateway{}
	hi := models.ConversationMessage{ID: "1", Sender: testPeer, Recipient: testSelf, Content: "hi", Timestamp: 100, Status: models.DeliveryStatusSeen}
	there := models.ConversationMessage{ID: "2", Sender: testSelf, Recipient: testPeer, Content: "there", Timestamp: 200, Status: models.DeliveryStatusSent}

	gw.On("FetchConversation", mock.Anything, testPeer).Return([]models.ConversationMessage{hi}, nil).Once()
	release := make(chan struct{})
	gw.On("SendMessage", mock.Anything, testPeer, "there", (*uint64)(nil)).Run(func(mock.Arguments) { <-release }).Return(nil)
	gw.On("FetchConversation", mock.Anything, testPeer).Return([]models.ConversationMessage{hi, there}, nil)

	r := NewMessageReconciler(gw, testSelf, testPeer, newTestLogger())
	defer r.Close()

	require.NoError(t, r.Load(context.Background()))
	assert.Equal(t, []string{"hi"}, contents(r.View()))

	tempID, result := r.Send(context.Background(), "there", nil)
	assert.Contains(t, tempID, "temp-")

	view := r.View()
	assert.Equal(t, []string{"hi", "there"}, contents(view))
	assert.Equal(t, 1, optimisticCount(view))
	assert.Equal(t, tempID, view.Messages[1].ID)
	assert.Equal(t, models.DeliveryStatusPending, view.Messages[1].Status)

	close(release)
	require.NoError(t, <-result)

	assert.Eventually(t, func() bool {
		v := r.View()
		return len(v.Messages) == 2 && optimisticCount(v) == 0
	}, time.Second, 5*time.Millisecond)

	view = r.View()
	assert.Equal(t, []string{"hi", "there"}, contents(view))
	assert.False(t, view.Messages[0].Outgoing)
	assert.True(t, view.Messages[1].Outgoing)
}

func TestMessageReconciler_BlankSendIsNoOp(t *testing.T) {
	gw := &mockGateway{}
	r := NewMessageReconciler(gw, testSelf, testPeer, newTestLogger())
	defer r.Close()

	tempID, result := r.Send(context.Background(), "   ", nil)

	assert.Empty(t, tempID)
	_, open := <-result
	assert.False(t, open)
	assert.Empty(t, r.View().Messages)
	gw.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestMessageReconciler_AttachmentOnlySendIsAccepted(t *testing.T) {
	gw := &mockGateway{}
	release := make(chan struct{})
	gw.On("SendMessage", mock.Anything, testPeer, "", (*uint64)(nil)).Run(func(mock.Arguments) { <-release }).Return(nil)
	gw.On("FetchConversation", mock.Anything, testPeer).Return([]models.ConversationMessage{}, nil)

	r := NewMessageReconciler(gw, testSelf, testPeer, newTestLogger())
	defer r.Close()

	attachment := &models.Attachment{Name: "photo.jpg", ContentType: "image/jpeg", LocalRef: "blob:1"}
	tempID, result := r.Send(context.Background(), "", attachment)

	assert.NotEmpty(t, tempID)
	view := r.View()
	require.Len(t, view.Messages, 1)
	assert.Equal(t, attachment, view.Messages[0].Attachment)

	close(release)
	assert.NoError(t, <-result)
}

func TestMessageReconciler_FailedSendRemovesOnlyItsEntry(t *testing.T) {
	gw := &mockGateway{}
	releaseFirst := make(chan struct{})
	sendErr := apperrors.NewGatewayError("send_message", 503, assert.AnError)

	gw.On("SendMessage", mock.Anything, testPeer, "first", (*uint64)(nil)).Run(func(mock.Arguments) { <-releaseFirst }).Return(nil)
	gw.On("SendMessage", mock.Anything, testPeer, "second", (*uint64)(nil)).Return(sendErr)
	gw.On("FetchConversation", mock.Anything, testPeer).Return([]models.ConversationMessage{}, nil)

	r := NewMessageReconciler(gw, testSelf, testPeer, newTestLogger())
	defer r.Close()

	var mu sync.Mutex
	var failed []string
	r.OnSendFailure(func(peerID, tempID string, err error) {
		mu.Lock()
		defer mu.Unlock()
		failed = append(failed, tempID)
	})

	firstID, firstResult := r.Send(context.Background(), "first", nil)
	secondID, secondResult := r.Send(context.Background(), "second", nil)

	err := <-secondResult
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeUnavailable))

	view := r.View()
	require.Len(t, view.Messages, 1)
	assert.Equal(t, firstID, view.Messages[0].ID)

	mu.Lock()
	assert.Equal(t, []string{secondID}, failed)
	mu.Unlock()

	close(releaseFirst)
	require.NoError(t, <-firstResult)

	assert.Eventually(t, func() bool {
		return r.View().State == models.LoadStateReady
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"first"}, contents(r.View()))
}

func TestMessageReconciler_SendReplyCarriesReference(t *testing.T) {
	gw := &mockGateway{}
	replyTo := uint64(12)
	gw.On("SendMessage", mock.Anything, testPeer, "yes", &replyTo).Return(nil)
	gw.On("FetchConversation", mock.Anything, testPeer).Return([]models.ConversationMessage{}, nil)

	r := NewMessageReconciler(gw, testSelf, testPeer, newTestLogger())
	defer r.Close()

	_, result := r.SendReply(context.Background(), "yes", nil, 12)

	require.NoError(t, <-result)
	gw.AssertCalled(t, "SendMessage", mock.Anything, testPeer, "yes", &replyTo)
}

func TestMessageReconciler_NonEmptyFetchClearsAllOptimistic(t *testing.T) {
	gw := &mockGateway{}
	block := make(chan struct{})
	gw.On("SendMessage", mock.Anything, testPeer, mock.Anything, (*uint64)(nil)).Run(func(mock.Arguments) { <-block }).Return(nil)
	gw.On("FetchConversation", mock.Anything, testPeer).Return([]models.ConversationMessage{}, nil).Once()
	gw.On("FetchConversation", mock.Anything, testPeer).Return([]models.ConversationMessage{
		{Sender: testPeer, Content: "unrelated", Timestamp: 1},
	}, nil)

	r := NewMessageReconciler(gw, testSelf, testPeer, newTestLogger())

	r.Send(context.Background(), "one", nil)
	r.Send(context.Background(), "two", nil)

	require.NoError(t, r.Load(context.Background()))
	assert.Equal(t, 2, optimisticCount(r.View()), "empty fetch keeps optimistic entries")

	require.NoError(t, r.Load(context.Background()))
	view := r.View()
	assert.Equal(t, 0, optimisticCount(view))
	assert.Equal(t, []string{"unrelated"}, contents(view))

	close(block)
	r.Close()
}

func TestMessageReconciler_LoadIsIdempotent(t *testing.T) {
	gw := &mockGateway{}
	history := []models.ConversationMessage{
		{ID: "1", Sender: testPeer, Content: "a", Timestamp: 1},
		{ID: "2", Sender: testSelf, Content: "b", Timestamp: 2},
	}
	gw.On("FetchConversation", mock.Anything, testPeer).Return(history, nil)

	r := NewMessageReconciler(gw, testSelf, testPeer, newTestLogger())
	defer r.Close()

	require.NoError(t, r.Load(context.Background()))
	first := r.View()
	require.NoError(t, r.Load(context.Background()))

	assert.Equal(t, first, r.View())
	assert.Len(t, r.View().Messages, 2)
}

func TestMessageReconciler_LoadStates(t *testing.T) {
	gw := &mockGateway{}
	fetchErr := apperrors.NewGatewayError("fetch_conversation", 401, assert.AnError)
	gw.On("FetchConversation", mock.Anything, testPeer).Return(nil, fetchErr).Once()
	gw.On("FetchConversation", mock.Anything, testPeer).Return([]models.ConversationMessage{}, nil)

	r := NewMessageReconciler(gw, testSelf, testPeer, newTestLogger())
	defer r.Close()

	var mu sync.Mutex
	var states []models.LoadState
	r.OnChange(func(view models.ConversationView) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, view.State)
	})

	assert.Equal(t, models.LoadStateIdle, r.View().State)

	err := r.Load(context.Background())
	require.Error(t, err)
	view := r.View()
	assert.Equal(t, models.LoadStateError, view.State)
	assert.True(t, apperrors.Is(view.Error, apperrors.ErrCodeUnauthorized))

	require.NoError(t, r.Load(context.Background()))
	view = r.View()
	assert.Equal(t, models.LoadStateReady, view.State)
	assert.NoError(t, view.Error)
	assert.Empty(t, view.Messages)

	mu.Lock()
	assert.Equal(t, []models.LoadState{
		models.LoadStateLoading, models.LoadStateError,
		models.LoadStateLoading, models.LoadStateReady,
	}, states)
	mu.Unlock()
}

func TestMessageReconciler_StaleResponseIsDropped(t *testing.T) {
	gw := &mockGateway{}
	started := make(chan struct{})
	release := make(chan struct{})
	stale := []models.ConversationMessage{{Sender: testPeer, Content: "old", Timestamp: 1}}
	fresh := []models.ConversationMessage{{Sender: testPeer, Content: "new", Timestamp: 2}}

	gw.On("FetchConversation", mock.Anything, testPeer).Run(func(mock.Arguments) {
		close(started)
		<-release
	}).Return(stale, nil).Once()
	gw.On("FetchConversation", mock.Anything, testPeer).Return(fresh, nil).Once()

	r := NewMessageReconciler(gw, testSelf, testPeer, newTestLogger())
	defer r.Close()

	done := make(chan error)
	go func() { done <- r.Load(context.Background()) }()
	<-started

	require.NoError(t, r.Load(context.Background()))
	close(release)
	require.NoError(t, <-done)

	assert.Equal(t, []string{"new"}, contents(r.View()))
}

func TestMessageReconciler_ResponseAfterCloseIsDropped(t *testing.T) {
	gw := &mockGateway{}
	started := make(chan struct{})
	release := make(chan struct{})
	gw.On("FetchConversation", mock.Anything, testPeer).Run(func(mock.Arguments) {
		close(started)
		<-release
	}).Return([]models.ConversationMessage{{Sender: testPeer, Content: "late"}}, nil)

	r := NewMessageReconciler(gw, testSelf, testPeer, newTestLogger())

	changes := 0
	r.OnChange(func(models.ConversationView) { changes++ })

	done := make(chan error)
	go func() { done <- r.Load(context.Background()) }()
	<-started

	r.Close()
	close(release)
	require.NoError(t, <-done)

	assert.Empty(t, r.View().Messages)
	assert.Equal(t, 1, changes, "only the Loading transition is reported")
}

func TestMessageReconciler_OutgoingUsesCanonicalIDs(t *testing.T) {
	gw := &mockGateway{}
	gw.On("FetchConversation", mock.Anything, testPeer).Return([]models.ConversationMessage{
		{Sender: " ALICE", Content: "mine"},
		{Sender: "bob", Content: "theirs"},
	}, nil)

	r := NewMessageReconciler(gw, "alice", testPeer, newTestLogger())
	defer r.Close()

	require.NoError(t, r.Load(context.Background()))

	view := r.View()
	assert.True(t, view.Messages[0].Outgoing)
	assert.False(t, view.Messages[1].Outgoing)
}

func TestMessageReconciler_SendAfterClose(t *testing.T) {
	gw := &mockGateway{}
	r := NewMessageReconciler(gw, testSelf, testPeer, newTestLogger())
	r.Close()

	tempID, result := r.Send(context.Background(), "hello", nil)

	assert.Empty(t, tempID)
	assert.True(t, apperrors.Is(<-result, apperrors.ErrCodeUnavailable))
	gw.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
