package service

import (
	"context"
	"strings"
	"sync"
	"time"

	apperrors "jerosync/internal/errors"
	"jerosync/internal/metrics"
	"jerosync/internal/models"
	"jerosync/pkg/gateway"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ChangeFunc receives a copy of a conversation view after it changed.
type ChangeFunc func(view models.ConversationView)

// SendFailureFunc is told which optimistic entry was dropped and why.
type SendFailureFunc func(peerID, tempID string, err error)

// MessageReconciler merges one conversation's optimistic sends with the
// backend's authoritative history.
type MessageReconciler struct {
	peerID  string
	self    string
	gateway gateway.Client
	logger  *logrus.Logger
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	state         models.LoadState
	loadErr       error
	loaded        bool
	authoritative []models.ConversationMessage
	optimistic    []models.OptimisticMessage
	generation    uint64
	closed        bool
	onChange      []ChangeFunc
	onSendFailure []SendFailureFunc
}

// NewMessageReconciler creates a reconciler for the conversation between self and peerID
func NewMessageReconciler(gw gateway.Client, self, peerID string, logger *logrus.Logger) *MessageReconciler {
	ctx, cancel := context.WithCancel(context.Background())
	return &MessageReconciler{
		peerID:  peerID,
		self:    self,
		gateway: gw,
		logger:  logger,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
		state:   models.LoadStateIdle,
	}
}

// PeerID returns the conversation's peer
func (r *MessageReconciler) PeerID() string {
	return r.peerID
}

// OnChange registers a callback fired after every view change
func (r *MessageReconciler) OnChange(fn ChangeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = append(r.onChange, fn)
}

// OnSendFailure registers a callback fired when a send is rolled back
func (r *MessageReconciler) OnSendFailure(fn SendFailureFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onSendFailure = append(r.onSendFailure, fn)
}

// Load fetches the authoritative history. A response that is no longer the
// latest request, or that arrives after Close, is dropped.
func (r *MessageReconciler) Load(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.generation++
	gen := r.generation
	changed := false
	if !r.loaded && r.state != models.LoadStateLoading {
		r.state = models.LoadStateLoading
		changed = true
	}
	r.mu.Unlock()
	if changed {
		r.notify()
	}

	start := time.Now()
	messages, err := r.gateway.FetchConversation(ctx, r.peerID)
	metrics.RecordTimer("conversation_load_duration", time.Since(start), nil, "Conversation fetch latency")

	r.mu.Lock()
	if r.closed || gen != r.generation {
		current := r.generation
		r.mu.Unlock()
		r.logger.WithFields(logrus.Fields{
			LogFieldGeneration: gen,
			"latest":           current,
		}).Debug("Dropping stale conversation response")
		return nil
	}

	if err != nil {
		r.state = models.LoadStateError
		r.loadErr = err
		r.mu.Unlock()
		r.logger.WithFields(apperrors.Fields(err)).
			WithField(LogFieldPeer, principalField(ctx, r.peerID)).
			Warn("Failed to load conversation")
		r.notify()
		return err
	}

	r.authoritative = append([]models.ConversationMessage(nil), messages...)
	if len(messages) > 0 {
		r.optimistic = nil
	}
	r.state = models.LoadStateReady
	r.loadErr = nil
	r.loaded = true
	r.mu.Unlock()

	r.notify()
	return nil
}

// Send appends an optimistic entry and posts the message in the background.
// Blank text without an attachment does nothing and returns a closed channel.
func (r *MessageReconciler) Send(ctx context.Context, text string, attachment *models.Attachment) (string, <-chan error) {
	return r.send(ctx, text, attachment, nil)
}

// SendReply is Send with a reference to the message being answered.
func (r *MessageReconciler) SendReply(ctx context.Context, text string, attachment *models.Attachment, replyToID uint64) (string, <-chan error) {
	return r.send(ctx, text, attachment, &replyToID)
}

func (r *MessageReconciler) send(ctx context.Context, text string, attachment *models.Attachment, replyToID *uint64) (string, <-chan error) {
	result := make(chan error, 1)
	if strings.TrimSpace(text) == "" && attachment == nil {
		close(result)
		return "", result
	}

	entry := models.OptimisticMessage{
		TempID:     "temp-" + uuid.NewString(),
		Content:    text,
		Timestamp:  r.now().UnixNano(),
		Attachment: attachment,
		ReplyToID:  replyToID,
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		result <- apperrors.New(apperrors.ErrCodeUnavailable, "conversation is closed")
		close(result)
		return "", result
	}
	r.optimistic = append(r.optimistic, entry)
	r.wg.Add(1)
	r.mu.Unlock()

	LogSend(ctx, r.logger, r.peerID, entry.TempID, text)
	r.notify()

	go func() {
		defer r.wg.Done()
		defer close(result)

		err := r.gateway.SendMessage(r.ctx, r.peerID, text, replyToID)
		if err != nil {
			metrics.IncrementCounter("messages_sent_total", map[string]string{"result": "failed"}, "Messages sent")
			r.rollback(ctx, entry.TempID, err)
			result <- err
			return
		}

		metrics.IncrementCounter("messages_sent_total", map[string]string{"result": "ok"}, "Messages sent")
		result <- nil
		_ = r.Load(r.ctx)
	}()

	return entry.TempID, result
}

// rollback removes exactly the failed entry
func (r *MessageReconciler) rollback(ctx context.Context, tempID string, err error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	for i, m := range r.optimistic {
		if m.TempID == tempID {
			r.optimistic = append(r.optimistic[:i:i], r.optimistic[i+1:]...)
			break
		}
	}
	listeners := append([]SendFailureFunc(nil), r.onSendFailure...)
	r.mu.Unlock()

	r.logger.WithFields(apperrors.Fields(err)).WithFields(logrus.Fields{
		LogFieldPeer:   principalField(ctx, r.peerID),
		LogFieldTempID: tempID,
	}).Warn("Failed to send message")

	for _, fn := range listeners {
		fn(r.peerID, tempID, err)
	}
	r.notify()
}

// View returns a copy of the merged conversation
func (r *MessageReconciler) View() models.ConversationView {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.viewLocked()
}

func (r *MessageReconciler) viewLocked() models.ConversationView {
	messages := make([]models.DisplayMessage, 0, len(r.authoritative)+len(r.optimistic))
	self := models.CanonicalID(r.self)

	for _, m := range r.authoritative {
		messages = append(messages, models.DisplayMessage{
			ID:        m.ID,
			Content:   m.Content,
			Timestamp: m.Timestamp,
			Status:    m.Status,
			Outgoing:  models.CanonicalID(m.Sender) == self,
			ReplyToID: m.ReplyToID,
		})
	}
	for _, m := range r.optimistic {
		messages = append(messages, models.DisplayMessage{
			ID:         m.TempID,
			Content:    m.Content,
			Timestamp:  m.Timestamp,
			Status:     models.DeliveryStatusPending,
			Outgoing:   true,
			Optimistic: true,
			Attachment: m.Attachment,
			ReplyToID:  m.ReplyToID,
		})
	}

	return models.ConversationView{
		PeerID:   r.peerID,
		State:    r.state,
		Error:    r.loadErr,
		Messages: messages,
	}
}

func (r *MessageReconciler) notify() {
	r.mu.Lock()
	if r.closed || len(r.onChange) == 0 {
		r.mu.Unlock()
		return
	}
	view := r.viewLocked()
	listeners := append([]ChangeFunc(nil), r.onChange...)
	r.mu.Unlock()

	for _, fn := range listeners {
		fn(view)
	}
}

// Close cancels in-flight work. Later responses never touch the view.
func (r *MessageReconciler) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
}
