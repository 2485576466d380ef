// Package token generates and verifies the bearer credentials used by Subgate:
// subscription tokens embedded in client subscription URLs and node tokens
// presented by proxy nodes when they report traffic.
//
// Tokens carry 256 bits of crypto/rand entropy and are stored only as
// HMAC-SHA256 hashes keyed with the server secret.
package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// Prefix identifies what a token grants access to. It is part of the token
// text, so a node token pasted into a subscription URL fails fast.
type Prefix string

const (
	// Subscription tokens map a client fetch to a user's entitlement.
	Subscription Prefix = "sub_"

	// Node tokens authenticate a proxy node.
	Node Prefix = "node_"
)

const (
	// DefaultTokenBytes is the number of random bytes in a token.
	// 32 bytes = 256 bits, which encodes to 43 URL-safe characters.
	DefaultTokenBytes = 32

	// MinTokenLength is the minimum length of the random part of a token.
	MinTokenLength = 41
)

// Generate creates a new token with the given prefix.
// The random part is unpadded base64-URL so the token can be placed in a URL
// path or query string without escaping.
//
// Returns:
//   - string: prefix followed by 43 URL-safe characters
//   - error: An error if random number generation fails
//
// Example:
//
//	tok, err := token.Generate(token.Subscription)
//	if err != nil {
//	    return fmt.Errorf("failed to generate token: %w", err)
//	}
//	// tok looks like "sub_3q2-7wWq..."
func Generate(prefix Prefix) (string, error) {
	return GenerateWithLength(prefix, DefaultTokenBytes)
}

// GenerateWithLength creates a token with numBytes of entropy.
// numBytes below DefaultTokenBytes is rejected.
func GenerateWithLength(prefix Prefix, numBytes int) (string, error) {
	if numBytes < DefaultTokenBytes {
		return "", fmt.Errorf("token length must be at least %d bytes", DefaultTokenBytes)
	}

	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	return string(prefix) + base64.RawURLEncoding.EncodeToString(b), nil
}

// Hash produces a hex-encoded HMAC-SHA256 of the token keyed with secret.
// Only the hash is stored; the database never holds a usable token.
func Hash(token, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(token))
	return hex.EncodeToString(h.Sum(nil))
}

// Validate compares a provided token against a stored hash in constant time.
//
// Parameters:
//   - provided: The plaintext token from the request
//   - secret: The server-side HMAC secret (same one used for Hash)
//   - storedHash: The hex-encoded hash stored in the database
//
// Returns:
//   - bool: true if the token matches the stored hash
func Validate(provided, secret, storedHash string) bool {
	providedHash := Hash(provided, secret)
	return hmac.Equal([]byte(providedHash), []byte(storedHash))
}

// ValidateFormat checks that a token has the expected prefix and enough
// random characters. It is a cheap check performed before any database lookup.
func ValidateFormat(token string, prefix Prefix) error {
	body, ok := strings.CutPrefix(token, string(prefix))
	if !ok {
		return fmt.Errorf("token must start with %q", prefix)
	}
	if len(body) < MinTokenLength {
		return fmt.Errorf("token too short: got %d characters, need at least %d", len(body), MinTokenLength)
	}
	for _, c := range body {
		if !isURLSafe(c) {
			return fmt.Errorf("token contains invalid character %q", c)
		}
	}
	return nil
}

func isURLSafe(c rune) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-' || c == '_'
}
