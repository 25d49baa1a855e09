package identity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Hasher derives opaque identity digests from client addresses. The ledger
// and verification tables only ever see the digest, never the address.
type Hasher struct {
	secret []byte
}

func NewHasher(secret string) *Hasher {
	return &Hasher{secret: []byte(secret)}
}

// Digest returns the keyed hash of addr as lowercase hex. Same address and
// secret always produce the same digest.
func (h *Hasher) Digest(addr string) string {
	mac := hmac.New(sha256.New, h.secret)
	mac.Write([]byte(addr))
	return hex.EncodeToString(mac.Sum(nil))
}
