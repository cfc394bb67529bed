package service

import (
	"crypto/subtle"
	"regexp"

	"golang.org/x/oauth2"
)

// PKCEMethodS256 is the only supported code_challenge_method
const PKCEMethodS256 = "S256"

// An S256 challenge is an unpadded base64url SHA-256 digest
var s256ChallengePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{43}$`)

func validChallenge(challenge string) bool {
	return s256ChallengePattern.MatchString(challenge)
}

// verifyPKCE checks code_verifier against the stored challenge
func verifyPKCE(verifier, challenge, method string) bool {
	if method != PKCEMethodS256 || verifier == "" {
		return false
	}
	computed := oauth2.S256ChallengeFromVerifier(verifier)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}
