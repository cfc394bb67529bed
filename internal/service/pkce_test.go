package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifyPKCE(t *testing.T) {
	// RFC 7636 appendix B
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	challenge := "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"

	assert.True(t, validChallenge(challenge))
	assert.True(t, verifyPKCE(verifier, challenge, PKCEMethodS256))
	assert.False(t, verifyPKCE(verifier+"x", challenge, PKCEMethodS256))
	assert.False(t, verifyPKCE(verifier, challenge, "plain"))
	assert.False(t, verifyPKCE("", challenge, PKCEMethodS256))
	assert.False(t, verifyPKCE(challenge, challenge, PKCEMethodS256), "plain comparison must not pass")
}

func TestValidChallenge(t *testing.T) {
	assert.False(t, validChallenge(""))
	assert.False(t, validChallenge(strings.Repeat("a", 42)))
	assert.False(t, validChallenge(strings.Repeat("a", 44)))
	assert.False(t, validChallenge(strings.Repeat("a", 42)+"="))
	assert.False(t, validChallenge(strings.Repeat("a", 42)+"+"))
	assert.True(t, validChallenge(strings.Repeat("a", 43)))
}
