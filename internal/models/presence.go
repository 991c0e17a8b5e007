package models

import "time"

// PresenceEntry is one row of the backend's bulk presence snapshot.
// LastSeen is nanoseconds since the epoch; zero means never seen.
type PresenceEntry struct {
	PeerID   string `json:"peer_id"`
	IsOnline bool   `json:"is_online"`
	LastSeen int64  `json:"last_seen"`
}

// PresenceRecord is the projection of a snapshot for a single peer.
// A nil LastSeen with IsOnline false means the peer was never observed online.
type PresenceRecord struct {
	IsOnline bool       `json:"is_online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// ProjectPresence normalizes a snapshot row into a record.
func ProjectPresence(entry PresenceEntry) PresenceRecord {
	record := PresenceRecord{IsOnline: entry.IsOnline}
	if entry.LastSeen > 0 {
		ts := time.Unix(0, entry.LastSeen)
		record.LastSeen = &ts
	}
	return record
}

// Equal reports whether two records would render the same.
func (r PresenceRecord) Equal(other PresenceRecord) bool {
	if r.IsOnline != other.IsOnline {
		return false
	}
	if r.LastSeen == nil || other.LastSeen == nil {
		return r.LastSeen == nil && other.LastSeen == nil
	}
	return r.LastSeen.Equal(*other.LastSeen)
}
