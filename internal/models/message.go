package models

import "strings"

// DeliveryStatus is the backend's view of how far a message got.
type DeliveryStatus string

const (
	DeliveryStatusSent      DeliveryStatus = "sent"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusSeen      DeliveryStatus = "seen"
	// DeliveryStatusPending marks an optimistic entry the backend has not confirmed.
	DeliveryStatusPending DeliveryStatus = "pending"
)

// ConversationMessage is a server-confirmed message. Timestamps are nanoseconds.
type ConversationMessage struct {
	ID        string         `json:"id,omitempty"`
	Sender    string         `json:"sender"`
	Recipient string         `json:"recipient"`
	Content   string         `json:"content"`
	Timestamp int64          `json:"timestamp"`
	Status    DeliveryStatus `json:"status"`
	ReplyToID *uint64        `json:"reply_to_id,omitempty"`
}

// Attachment is a transient handle to something the user picked locally.
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type,omitempty"`
	LocalRef    string `json:"local_ref"`
}

// OptimisticMessage exists only between a send attempt and its resolution.
type OptimisticMessage struct {
	TempID     string      `json:"temp_id"`
	Content    string      `json:"content"`
	Timestamp  int64       `json:"timestamp"`
	Attachment *Attachment `json:"attachment,omitempty"`
	ReplyToID  *uint64     `json:"reply_to_id,omitempty"`
}

// DisplayMessage is one row of a reconciled conversation.
type DisplayMessage struct {
	ID         string         `json:"id"`
	Content    string         `json:"content"`
	Timestamp  int64          `json:"timestamp"`
	Status     DeliveryStatus `json:"status"`
	Outgoing   bool           `json:"outgoing"`
	Optimistic bool           `json:"optimistic"`
	Attachment *Attachment    `json:"attachment,omitempty"`
	ReplyToID  *uint64        `json:"reply_to_id,omitempty"`
}

// LoadState tracks the authoritative fetch of a conversation.
type LoadState string

const (
	LoadStateIdle    LoadState = "idle"
	LoadStateLoading LoadState = "loading"
	LoadStateReady   LoadState = "ready"
	LoadStateError   LoadState = "error"
)

// ConversationView is what a UI renders for one conversation.
type ConversationView struct {
	PeerID   string           `json:"peer_id"`
	State    LoadState        `json:"state"`
	Error    error            `json:"-"`
	Messages []DisplayMessage `json:"messages"`
}

// CanonicalID returns the stable string form of a principal id.
// Two ids refer to the same principal iff their canonical forms are equal.
func CanonicalID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// SamePrincipal compares two ids by canonical form.
func SamePrincipal(a, b string) bool {
	return CanonicalID(a) == CanonicalID(b)
}
