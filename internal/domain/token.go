package domain

import (
	"fmt"
	"strings"
)

// DeviceToken is the opaque push address of a single installed app instance.
type DeviceToken string

func (t DeviceToken) String() string { return string(t) }

var tokenPrefixes = []string{
	"ExponentPushToken[",
	"ExpoPushToken[",
}

// IsValid reports whether the token matches the provider token format,
// e.g. ExponentPushToken[xxxxxxxxxxxxxxxxxxxxxx].
func (t DeviceToken) IsValid() bool {
	s := string(t)
	for _, prefix := range tokenPrefixes {
		if strings.HasPrefix(s, prefix) &&
			strings.HasSuffix(s, "]") &&
			len(s) > len(prefix)+1 {
			return true
		}
	}
	return false
}

// ParseDeviceToken validates and normalizes a raw token string.
func ParseDeviceToken(s string) (DeviceToken, error) {
	token := DeviceToken(strings.TrimSpace(s))
	if !token.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidTokenFormat, s)
	}
	return token, nil
}

// ValidTokens filters a recipient list down to well-formed tokens,
// preserving order and dropping duplicates.
func ValidTokens(raw []string) []DeviceToken {
	seen := make(map[DeviceToken]struct{}, len(raw))
	tokens := make([]DeviceToken, 0, len(raw))
	for _, s := range raw {
		token, err := ParseDeviceToken(s)
		if err != nil {
			continue
		}
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		tokens = append(tokens, token)
	}
	return tokens
}
