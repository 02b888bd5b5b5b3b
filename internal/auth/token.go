package auth

import (
	"crypto/sha256"
	"encoding/base64"
)

// HashToken is the revocation identity of a signed token. Only the hash is
// kept in the blacklist so a dump of the store leaks no usable credentials.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
