package validator

import (
	"errors"
	"net/mail"
	"regexp"
	"strings"
)

var (
	// ErrEmptyEmail indicates the email address is empty
	ErrEmptyEmail = errors.New("email cannot be empty")

	// ErrInvalidEmail indicates the email address cannot receive mail
	ErrInvalidEmail = errors.New("email address is invalid")

	// ErrEmailTooLong indicates the address exceeds the SMTP path limit
	ErrEmailTooLong = errors.New("email address is too long")
)

const maxEmailLength = 254

// domainRegex requires at least one dot and a letter-only top level label
var domainRegex = regexp.MustCompile(`^([a-z0-9]([a-z0-9-]*[a-z0-9])?\.)+[a-z]{2,}$`)

// NormalizeEmail trims and lowercases an email address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail checks that email is a bare address with a routable domain
func ValidateEmail(email string) error {
	normalized := NormalizeEmail(email)
	if normalized == "" {
		return ErrEmptyEmail
	}
	if len(normalized) > maxEmailLength {
		return ErrEmailTooLong
	}

	addr, err := mail.ParseAddress(normalized)
	if err != nil || addr.Address != normalized || addr.Name != "" {
		return ErrInvalidEmail
	}

	at := strings.LastIndex(normalized, "@")
	if at <= 0 || !domainRegex.MatchString(normalized[at+1:]) {
		return ErrInvalidEmail
	}

	return nil
}

// IsValidEmail is a boolean form of ValidateEmail
func IsValidEmail(email string) bool {
	return ValidateEmail(email) == nil
}
