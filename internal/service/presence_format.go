package service

import (
	"fmt"
	"time"

	"jerosync/internal/models"
)

// FormatLastSeen renders a presence record relative to now
func FormatLastSeen(rec models.PresenceRecord, now time.Time) string {
	if rec.IsOnline {
		return "Online"
	}
	if rec.LastSeen == nil {
		return "Offline"
	}

	elapsed := now.Sub(*rec.LastSeen)
	switch {
	case elapsed < time.Minute:
		return "Last seen just now"
	case elapsed < time.Hour:
		return fmt.Sprintf("Last seen %dm ago", int(elapsed/time.Minute))
	case elapsed < 24*time.Hour:
		return "Last seen " + rec.LastSeen.Local().Format("15:04")
	}

	days := int(elapsed / (24 * time.Hour))
	switch {
	case days == 1:
		return "Last seen yesterday"
	case days < 7:
		return fmt.Sprintf("Last seen %dd ago", days)
	default:
		return "Last seen a while ago"
	}
}

// PresenceText is FormatLastSeen guarded by whether any snapshot has loaded
func PresenceText(rec models.PresenceRecord, loaded bool, now time.Time) string {
	if !loaded {
		return "Status unavailable"
	}
	return FormatLastSeen(rec, now)
}
