package middleware

import (
	"errors"
	"strconv"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	maxTokenLength = 64
	maxFreeText    = 500
)

// ValidateSessionID validates a flow session ID.
func ValidateSessionID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid session ID format")
	}
	return nil
}

// ValidatePersonaID validates a persona ID.
func ValidatePersonaID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid persona ID format")
	}
	return nil
}

// ValidateToken validates an option token supplied by a client.
func ValidateToken(token string) error {
	if len(token) > maxTokenLength {
		return errors.New("option exceeds maximum length")
	}
	return nil
}

// ValidateFreeText validates free text answers such as names and items.
func ValidateFreeText(text string) error {
	if len(text) > maxFreeText {
		return errors.New("text exceeds maximum length")
	}
	if !utf8.ValidString(text) {
		return errors.New("text must be valid UTF-8")
	}
	return nil
}

// ParseLimit parses a positive page size, returning def when raw is empty
// and capping the result at max.
func ParseLimit(raw string, def, max int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	if n > max {
		n = max
	}
	return n, nil
}
