package core

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// RFC 7636 bounds for the code verifier length.
const (
	pkceVerifierLength    = 64
	pkceVerifierMinLength = 43
	pkceVerifierMaxLength = 128

	PKCEMethodS256 = "S256"
)

// PKCEPair holds one proof-key exchange: the verifier stays server-side in
// the flow record, the challenge travels in the authorization URL.
type PKCEPair struct {
	Verifier        string
	Challenge       string
	ChallengeMethod string
}

// GeneratePKCE produces a fresh verifier from crypto/rand and its S256
// challenge.
func GeneratePKCE() (PKCEPair, error) {
	verifier, err := generatePKCEVerifier(pkceVerifierLength)
	if err != nil {
		return PKCEPair{}, err
	}
	return PKCEPair{
		Verifier:        verifier,
		Challenge:       PKCEChallengeS256(verifier),
		ChallengeMethod: PKCEMethodS256,
	}, nil
}

// PKCEChallengeS256 derives the base64url-encoded SHA-256 challenge for a
// verifier.
func PKCEChallengeS256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func generatePKCEVerifier(length int) (string, error) {
	if length < pkceVerifierMinLength || length > pkceVerifierMaxLength {
		return "", fmt.Errorf("core: pkce verifier length %d out of range", length)
	}
	// base64url expands 3 bytes into 4 chars; over-provision and trim.
	raw := make([]byte, (length*3+3)/4)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("core: generate pkce verifier: %w", err)
	}
	verifier := base64.RawURLEncoding.EncodeToString(raw)
	if len(verifier) > length {
		verifier = verifier[:length]
	}
	return verifier, nil
}
