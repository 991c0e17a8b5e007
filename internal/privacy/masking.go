package privacy

import (
	"strings"

	"jerosync/internal/constants"
)

// MaskPrincipal masks a principal id, keeping the trailing characters for correlation
// Example: "rrkah-fqaaa-aaaaa-aaaaq-cai" -> "*********************q-cai"
func MaskPrincipal(principal string) string {
	if principal == "" {
		return ""
	}
	return maskString(principal, constants.DefaultPrincipalMaskLength)
}

// MaskPhoneNumber masks a phone number showing only the last 4 digits
// Example: "+1234567890" -> "+******7890"
func MaskPhoneNumber(phone string) string {
	if phone == "" {
		return ""
	}

	if strings.HasPrefix(phone, "+") {
		if len(phone) == 1 {
			return phone
		}
		if len(phone) <= 5 {
			return "+" + strings.Repeat("*", len(phone)-1)
		}
		return "+" + strings.Repeat("*", len(phone)-5) + phone[len(phone)-4:]
	}

	return maskString(phone, 4)
}

// MaskContent hides message text, keeping only its length
func MaskContent(content string) string {
	if content == "" {
		return ""
	}
	return "[" + strings.Repeat("*", min(len(content), 8)) + "]"
}

// MaskPrincipals masks every id in a list
func MaskPrincipals(principals []string) []string {
	masked := make([]string, len(principals))
	for i, p := range principals {
		masked[i] = MaskPrincipal(p)
	}
	return masked
}

func maskString(s string, visible int) string {
	if len(s) <= visible {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-visible) + s[len(s)-visible:]
}
