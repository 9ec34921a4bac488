package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// GenerateSecret generates a cryptographically secure random secret
func GenerateSecret(bytes int) (string, error) {
	b := make([]byte, bytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// GenerateJWTSecret generates a 256-bit signing secret for access tokens
func GenerateJWTSecret() (string, error) {
	secret, err := GenerateSecret(32)
	if err != nil {
		return "", fmt.Errorf("failed to generate jwt secret: %w", err)
	}
	return secret, nil
}

// GenerateNumericCode generates a uniformly random code of the given number of digits
func GenerateNumericCode(digits int) (string, error) {
	if digits <= 0 {
		return "", fmt.Errorf("digits must be positive")
	}

	var sb strings.Builder
	sb.Grow(digits)
	ten := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("failed to generate code digit: %w", err)
		}
		sb.WriteByte(byte('0' + n.Int64()))
	}
	return sb.String(), nil
}
