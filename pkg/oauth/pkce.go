package oauth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

const (
	// pkceVerifierBytes is the number of random bytes for the PKCE code verifier.
	// 32 bytes provides 256 bits of entropy and encodes to 43 characters, the
	// RFC 7636 minimum.
	pkceVerifierBytes = 32

	// stateBytes is the number of random bytes for the OAuth state parameter.
	stateBytes = 32

	// CodeChallengeMethodS256 is the only challenge method the broker sends.
	CodeChallengeMethodS256 = "S256"
)

// PKCEChallenge represents a PKCE (Proof Key for Code Exchange) pair.
type PKCEChallenge struct {
	// CodeVerifier is kept locally and only ever sent to the token endpoint.
	CodeVerifier string

	// CodeChallenge is base64url(sha256(CodeVerifier)) and goes into the
	// authorization request.
	CodeChallenge string

	// CodeChallengeMethod is always "S256".
	CodeChallengeMethod string
}

// Attempt is the per-authentication bundle of single-use values.
// Exactly one Attempt may be in flight at a time; the broker enforces that.
type Attempt struct {
	// ID correlates log lines for one attempt. It is not secret.
	ID string

	// State is the anti-CSRF nonce round-tripped through the redirect.
	State string

	PKCEChallenge

	// CreatedAt is when the attempt was generated.
	CreatedAt time.Time
}

// NewAttempt generates a fresh state nonce and PKCE pair.
// An error here means the system random source failed; callers should treat
// it as fatal for the attempt.
func NewAttempt() (*Attempt, error) {
	pkce, err := GeneratePKCE()
	if err != nil {
		return nil, err
	}

	state, err := GenerateState()
	if err != nil {
		return nil, err
	}

	return &Attempt{
		ID:            uuid.NewString(),
		State:         state,
		PKCEChallenge: *pkce,
		CreatedAt:     time.Now(),
	}, nil
}

// GeneratePKCE generates a new PKCE code verifier and its S256 challenge.
func GeneratePKCE() (*PKCEChallenge, error) {
	verifier, err := randomURLSafe(pkceVerifierBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to generate random bytes for PKCE: %w", err)
	}

	return &PKCEChallenge{
		CodeVerifier:        verifier,
		CodeChallenge:       ChallengeFromVerifier(verifier),
		CodeChallengeMethod: CodeChallengeMethodS256,
	}, nil
}

// ChallengeFromVerifier computes base64url(sha256(verifier)) without padding.
func ChallengeFromVerifier(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// GenerateState generates a random, URL-safe state parameter.
func GenerateState() (string, error) {
	state, err := randomURLSafe(stateBytes)
	if err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return state, nil
}

func randomURLSafe(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
