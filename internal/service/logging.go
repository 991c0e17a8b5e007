package service

import (
	"context"
	"fmt"
	"strings"

	"jerosync/internal/privacy"

	"github.com/sirupsen/logrus"
)

// ContextKey is a package-local type to prevent context key collisions
// See staticcheck SA1029 guidance
type ContextKey string

// VerboseContextKey is the strongly-typed context key for verbose logging flag
const VerboseContextKey ContextKey = "verbose"

// WithVerbose marks a context for unmasked logging
func WithVerbose(ctx context.Context, verbose bool) context.Context {
	return context.WithValue(ctx, VerboseContextKey, verbose)
}

// IsVerboseLogging checks if verbose logging is enabled from context
func IsVerboseLogging(ctx context.Context) bool {
	if verbose, ok := ctx.Value(VerboseContextKey).(bool); ok {
		return verbose
	}
	return false
}

// principalField returns a principal id for logging, masked unless verbose
func principalField(ctx context.Context, principal string) string {
	if IsVerboseLogging(ctx) {
		return principal
	}
	return privacy.MaskPrincipal(principal)
}

// contentField returns message text for logging, masked unless verbose
func contentField(ctx context.Context, content string) string {
	if IsVerboseLogging(ctx) {
		return content
	}
	return privacy.MaskContent(content)
}

// LogWithContext creates a logger entry with optional sensitive information
func LogWithContext(ctx context.Context, logger *logrus.Logger) *logrus.Entry {
	return logger.WithField("verbose", IsVerboseLogging(ctx))
}

// NormalizePhoneNumber strips the whitespace and dashes people type into phone numbers
func NormalizePhoneNumber(phone string) string {
	return strings.ReplaceAll(strings.Join(strings.Fields(phone), ""), "-", "")
}

// ValidatePhoneNumber checks a normalized number against E.164: a leading '+'
// followed by 7 to 15 digits.
func ValidatePhoneNumber(phone string) error {
	if phone == "" {
		return fmt.Errorf("please enter a phone number")
	}
	if !strings.HasPrefix(phone, "+") {
		return fmt.Errorf("phone number must start with + (e.g., +1234567890)")
	}

	digits := phone[1:]
	for _, char := range digits {
		if char < '0' || char > '9' {
			return fmt.Errorf("phone number can only contain digits after +")
		}
	}
	if len(digits) < 7 || len(digits) > 15 {
		return fmt.Errorf("phone number must be between 7 and 15 digits")
	}
	return nil
}

// LogSend logs an outgoing message with privacy controls
func LogSend(ctx context.Context, logger *logrus.Logger, peer, tempID, content string) {
	logger.WithFields(logrus.Fields{
		LogFieldPeer:   principalField(ctx, peer),
		LogFieldTempID: tempID,
		"content":      contentField(ctx, content),
	}).Debug("Sending message")
}
