package auth

import "golang.org/x/oauth2"

// PKCE is a proof key pair for one authorization attempt (RFC 7636, S256).
type PKCE struct {
	Verifier  string
	Challenge string
}

// NewPKCE returns a fresh pair. The verifier is 32 random bytes encoded as
// unpadded base64url; the challenge is BASE64URL(SHA256(verifier)).
func NewPKCE() PKCE {
	verifier := oauth2.GenerateVerifier()
	return PKCE{
		Verifier:  verifier,
		Challenge: oauth2.S256ChallengeFromVerifier(verifier),
	}
}
