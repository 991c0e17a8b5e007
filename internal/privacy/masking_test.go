package privacy

import (
	"testing"
)

func TestMaskPhoneNumber(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"+1234567890", "+******7890"},
		{"+447712345678", "+********5678"},
		{"1234567890", "******7890"},

		// Edge cases
		{"", ""},
		{"+123", "+***"},
		{"+1", "+*"},
		{"1234", "****"},
		{"+12345", "+*2345"},
	}

	for _, test := range tests {
		result := MaskPhoneNumber(test.input)
		if result != test.expected {
			t.Errorf("MaskPhoneNumber(%q) = %q, expected %q", test.input, result, test.expected)
		}
	}
}

func TestMaskPrincipal(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", ""},
		{"abc", "***"},
		{"abcde", "*****"},
		{"rrkah-fqaaa", "******fqaaa"},
	}

	for _, test := range tests {
		result := MaskPrincipal(test.input)
		if result != test.expected {
			t.Errorf("MaskPrincipal(%q) = %q, expected %q", test.input, result, test.expected)
		}
	}
}

func TestMaskPrincipals(t *testing.T) {
	result := MaskPrincipals([]string{"alice-123", "bob"})
	if len(result) != 2 || result[0] != "****e-123" || result[1] != "***" {
		t.Errorf("MaskPrincipals returned %v", result)
	}
}

func TestMaskContent(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", ""},
		{"hi", "[**]"},
		{"a much longer message", "[********]"},
	}

	for _, test := range tests {
		result := MaskContent(test.input)
		if result != test.expected {
			t.Errorf("MaskContent(%q) = %q, expected %q", test.input, result, test.expected)
		}
	}
}
