package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"github.com/goliatone/go-mailauth/core"
)

// PKCEMethodS256 is the only challenge method issued. Plain-text
// challenges defeat the point of the exchange and are never emitted.
const PKCEMethodS256 = "S256"

const pkceVerifierByteLength = 32

// PKCEChallenge pairs a code verifier with its derived challenge. The
// verifier never leaves the process until the code exchange.
type PKCEChallenge struct {
	Verifier  string
	Challenge string
	Method    string
}

// GeneratePKCEChallenge draws a fresh verifier from source and derives its
// S256 challenge. The verifier is the unpadded base64url form of 32 random
// bytes, 43 characters, inside RFC 7636's 43..128 bounds.
func GeneratePKCEChallenge(source core.RandomSource) (PKCEChallenge, error) {
	if source == nil {
		source = core.CryptoRandomSource{}
	}
	raw, err := source.Bytes(pkceVerifierByteLength)
	if err != nil {
		return PKCEChallenge{}, fmt.Errorf("auth: generate pkce verifier: %w", err)
	}
	verifier := base64.RawURLEncoding.EncodeToString(raw)
	return PKCEChallenge{
		Verifier:  verifier,
		Challenge: ComputePKCEChallenge(verifier),
		Method:    PKCEMethodS256,
	}, nil
}

// ComputePKCEChallenge derives base64url(SHA-256(verifier)) without padding.
func ComputePKCEChallenge(verifier string) string {
	digest := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(digest[:])
}

// VerifyPKCEChallenge reports whether verifier derives challenge, in
// constant time over the encoded values.
func VerifyPKCEChallenge(verifier, challenge string) bool {
	derived := ComputePKCEChallenge(verifier)
	return subtle.ConstantTimeCompare([]byte(derived), []byte(challenge)) == 1
}
