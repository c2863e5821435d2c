package internal

import (
	"crypto/rand"
	"encoding/base64"
)

// SessionID is 256 bits of CSPRNG output.
type SessionID [32]byte

func NewSessionID() (SessionID, error) {
	var sid SessionID
	_, err := rand.Read(sid[:])
	return sid, err
}

func (s SessionID) String() string {
	// base64url, no padding
	return base64.RawURLEncoding.EncodeToString(s[:])
}
