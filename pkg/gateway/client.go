// Package gateway is the typed call surface to the messaging backend.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	apperrors "jerosync/internal/errors"
	"jerosync/internal/metrics"
	"jerosync/internal/models"
	"jerosync/internal/tracing"
	"jerosync/pkg/circuitbreaker"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// Client is everything the sync layer asks of the backend. Errors are
// *errors.AppError values classified as Unavailable, Unauthorized, Rejected,
// NotFound or TransientNetwork.
type Client interface {
	SendMessage(ctx context.Context, recipient, content string, replyToID *uint64) error
	FetchConversation(ctx context.Context, peer string) ([]models.ConversationMessage, error)
	FetchBulkPresence(ctx context.Context) ([]models.PresenceEntry, error)
	AnnouncePresence(ctx context.Context, online bool) error
	FetchStatusesForAuthor(ctx context.Context, author string) ([]models.StatusItem, error)
	CreateStatus(ctx context.Context, media models.Media, caption string, audio *models.MediaRef) error
	DeleteStatus(ctx context.Context, author string, statusID uint64) error
	FetchContacts(ctx context.Context, self string) ([]string, error)
	AddContact(ctx context.Context, principal string) error
	AddContactByPhone(ctx context.Context, phone string) error
	Ping(ctx context.Context) error
}

// Options configure an HTTPClient.
type Options struct {
	BaseURL            string
	Token              string
	Timeout            time.Duration
	BreakerMaxFailures uint32
	BreakerReset       time.Duration
	HTTPClient         *http.Client
	Logger             *logrus.Logger
}

// HTTPClient talks JSON over HTTP to the backend's /v1 API.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *logrus.Logger

	mu    sync.RWMutex
	token string
}

// NewClient builds an HTTPClient guarded by a circuit breaker.
func NewClient(opts Options) *HTTPClient {
	if opts.HTTPClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		opts.HTTPClient = &http.Client{Timeout: timeout}
	}

	if opts.Logger == nil {
		opts.Logger = logrus.New()
		opts.Logger.SetLevel(logrus.WarnLevel)
	}

	return &HTTPClient{
		baseURL: strings.TrimSuffix(opts.BaseURL, "/"),
		client:  opts.HTTPClient,
		logger:  opts.Logger,
		token:   opts.Token,
		breaker: circuitbreaker.New("gateway", circuitbreaker.Options{
			MaxFailures:  opts.BreakerMaxFailures,
			ResetTimeout: opts.BreakerReset,
			IsFailure:    countsAgainstBreaker,
			Logger:       opts.Logger,
		}),
	}
}

// countsAgainstBreaker trips the breaker only for failures that say
// something about the backend's health.
func countsAgainstBreaker(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	code := apperrors.GetCode(err)
	return code == apperrors.ErrCodeTransientNetwork || code == apperrors.ErrCodeUnavailable
}

// SetToken replaces the bearer token used for subsequent calls.
func (c *HTTPClient) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// BreakerStats exposes the circuit breaker state for health reporting.
func (c *HTTPClient) BreakerStats() circuitbreaker.Stats {
	return c.breaker.GetStats()
}

type sendMessageRequest struct {
	Recipient string  `json:"recipient"`
	Content   string  `json:"content"`
	ReplyToID *uint64 `json:"reply_to_id,omitempty"`
}

type presenceRequest struct {
	IsOnline bool `json:"is_online"`
}

type createStatusRequest struct {
	Media      json.RawMessage  `json:"media"`
	Caption    string           `json:"caption"`
	AudioTrack *models.MediaRef `json:"audio_track,omitempty"`
}

type contactRequest struct {
	Principal string `json:"principal,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

func (c *HTTPClient) SendMessage(ctx context.Context, recipient, content string, replyToID *uint64) error {
	payload := sendMessageRequest{Recipient: recipient, Content: content, ReplyToID: replyToID}
	return c.do(ctx, "send_message", http.MethodPost, "/v1/messages", payload, nil)
}

func (c *HTTPClient) FetchConversation(ctx context.Context, peer string) ([]models.ConversationMessage, error) {
	var messages []models.ConversationMessage
	if err := c.do(ctx, "fetch_conversation", http.MethodGet, "/v1/conversations/"+url.PathEscape(peer), nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func (c *HTTPClient) FetchBulkPresence(ctx context.Context) ([]models.PresenceEntry, error) {
	var entries []models.PresenceEntry
	if err := c.do(ctx, "fetch_presence", http.MethodGet, "/v1/presence", nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *HTTPClient) AnnouncePresence(ctx context.Context, online bool) error {
	return c.do(ctx, "announce_presence", http.MethodPut, "/v1/presence", presenceRequest{IsOnline: online}, nil)
}

func (c *HTTPClient) FetchStatusesForAuthor(ctx context.Context, author string) ([]models.StatusItem, error) {
	var items []models.StatusItem
	if err := c.do(ctx, "fetch_statuses", http.MethodGet, "/v1/statuses/"+url.PathEscape(author), nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *HTTPClient) CreateStatus(ctx context.Context, media models.Media, caption string, audio *models.MediaRef) error {
	encoded, err := models.MarshalMedia(media)
	if err != nil {
		return apperrors.NewValidationError("media", "", err.Error())
	}
	payload := createStatusRequest{Media: encoded, Caption: caption, AudioTrack: audio}
	return c.do(ctx, "create_status", http.MethodPost, "/v1/statuses", payload, nil)
}

func (c *HTTPClient) DeleteStatus(ctx context.Context, author string, statusID uint64) error {
	path := fmt.Sprintf("/v1/statuses/%s/%s", url.PathEscape(author), strconv.FormatUint(statusID, 10))
	return c.do(ctx, "delete_status", http.MethodDelete, path, nil, nil)
}

func (c *HTTPClient) FetchContacts(ctx context.Context, self string) ([]string, error) {
	var contacts []string
	path := "/v1/contacts?" + url.Values{"self": {self}}.Encode()
	if err := c.do(ctx, "fetch_contacts", http.MethodGet, path, nil, &contacts); err != nil {
		return nil, err
	}
	return contacts, nil
}

func (c *HTTPClient) AddContact(ctx context.Context, principal string) error {
	return c.do(ctx, "add_contact", http.MethodPost, "/v1/contacts", contactRequest{Principal: principal}, nil)
}

func (c *HTTPClient) AddContactByPhone(ctx context.Context, phone string) error {
	return c.do(ctx, "add_contact_by_phone", http.MethodPost, "/v1/contacts/phone", contactRequest{Phone: phone}, nil)
}

func (c *HTTPClient) Ping(ctx context.Context) error {
	return c.do(ctx, "ping", http.MethodGet, "/v1/health", nil, nil)
}

// do runs one call through tracing, the circuit breaker and error classification.
func (c *HTTPClient) do(ctx context.Context, op, method, path string, body, out interface{}) error {
	ctx, span := tracing.StartSpan(ctx, "gateway."+op,
		attribute.String("http.method", method),
		attribute.String("gateway.operation", op),
	)
	defer span.End()

	start := time.Now()
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.roundTrip(ctx, op, method, path, body, out)
	})
	if circuitbreaker.IsCircuitBreakerError(err) {
		err = apperrors.NewUnavailableError(op, err)
	}

	metrics.RecordTimer("gateway_call_duration", time.Since(start), map[string]string{
		"operation": op,
	}, "Backend call latency")

	if err != nil {
		code := apperrors.GetCode(err)
		metrics.IncrementCounter("gateway_errors_total", map[string]string{
			"operation": op,
			"code":      string(code),
		}, "Failed backend calls by classification")
		tracing.RecordError(ctx, err, attribute.String("error.code", string(code)))
		c.logger.WithFields(apperrors.Fields(err)).WithField("endpoint", path).Debug("Gateway call failed")
		return err
	}
	return nil
}

func (c *HTTPClient) roundTrip(ctx context.Context, op, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternalError, "failed to marshal request")
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternalError, "failed to create request")
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.RLock()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.RUnlock()
	tracing.InjectHeaders(ctx, req.Header)

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) {
			return apperrors.NewUnavailableError(op, err)
		}
		return apperrors.NewGatewayError(op, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return apperrors.NewGatewayError(op, resp.StatusCode,
			fmt.Errorf("gateway API error: status %d, body: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes))))
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternalError, fmt.Sprintf("%s: failed to decode response", op)).
			WithContext("operation", op)
	}
	return nil
}
