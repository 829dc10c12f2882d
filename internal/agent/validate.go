package agent

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// DefaultMaxMessageLength is the maximum user message length in characters.
const DefaultMaxMessageLength = 5000

// NormalizeMessage returns the NFC form of a user message. Length limits are
// applied to the normalized form so that composed and decomposed input count
// the same.
func NormalizeMessage(msg string) string {
	return norm.NFC.String(msg)
}

// ValidateTurn checks turn input before any collaborator is called.
func ValidateTurn(sc SessionContext, message string, maxLen int) error {
	if maxLen <= 0 {
		maxLen = DefaultMaxMessageLength
	}
	if strings.TrimSpace(sc.SessionID) == "" {
		return &ValidationError{Field: "sessionId", Reason: "is required"}
	}
	if strings.TrimSpace(message) == "" {
		return &ValidationError{Field: "message", Reason: "must not be empty"}
	}
	if n := utf8.RuneCountInString(NormalizeMessage(message)); n > maxLen {
		return &ValidationError{Field: "message", Reason: fmt.Sprintf("exceeds %d characters (got %d)", maxLen, n)}
	}
	if sc.Provider.APIKey == "" {
		return &ValidationError{Field: "apiKey", Reason: fmt.Sprintf("is not configured for provider %s", sc.Provider.Provider)}
	}
	if sc.Provider.Model == "" {
		return &ValidationError{Field: "model", Reason: "is required"}
	}
	return nil
}
