package persona

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// HeaderName is the request header that carries an attestation token.
const HeaderName = "X-Persona-Attestation"

// Authenticator signs PERSONA attestations for a single agent.
//
// The key and agent ID never change after construction, and nonce generation
// uses an atomic counter, so one Authenticator can be shared by any number of
// goroutines.
type Authenticator struct {
	agentID  string
	key      ed25519.PrivateKey
	instance string // random per-instance nonce discriminator
	counter  atomic.Uint64
	now      func() time.Time
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithClock replaces the wall clock used for payload timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAuthenticator loads the key named by src and returns an Authenticator
// for agentID. Missing inputs fail with *ConfigurationError and unusable keys
// with *InvalidKeyError.
func NewAuthenticator(agentID string, src KeySource, opts ...Option) (*Authenticator, error) {
	if strings.TrimSpace(agentID) == "" {
		return nil, &ConfigurationError{Reason: "agent id is required"}
	}

	key, err := LoadPrivateKey(src)
	if err != nil {
		return nil, err
	}

	return newAuthenticator(agentID, key, opts...)
}

// NewAuthenticatorFromKey wraps an already-loaded Ed25519 key.
func NewAuthenticatorFromKey(agentID string, key ed25519.PrivateKey, opts ...Option) (*Authenticator, error) {
	if strings.TrimSpace(agentID) == "" {
		return nil, &ConfigurationError{Reason: "agent id is required"}
	}
	if len(key) != ed25519.PrivateKeySize {
		return nil, &InvalidKeyError{
			Expected: Algorithm,
			Source:   sourceBytes,
			Reason:   fmt.Sprintf("private key is %d bytes, want %d", len(key), ed25519.PrivateKeySize),
		}
	}

	owned := make(ed25519.PrivateKey, ed25519.PrivateKeySize)
	copy(owned, key)
	return newAuthenticator(agentID, owned, opts...)
}

func newAuthenticator(agentID string, key ed25519.PrivateKey, opts ...Option) (*Authenticator, error) {
	token := make([]byte, 8)
	if _, err := rand.Read(token); err != nil {
		return nil, fmt.Errorf("persona: nonce discriminator: %w", err)
	}

	a := &Authenticator{
		agentID:  agentID,
		key:      key,
		instance: hex.EncodeToString(token),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// AgentID returns the identity this Authenticator signs for.
func (a *Authenticator) AgentID() string {
	return a.agentID
}

// attestConfig holds the per-call inputs of CreateAttestation.
type attestConfig struct {
	action    string
	hasAction bool
	nonce     string
	timestamp *time.Time
}

// AttestOption customizes a single attestation.
type AttestOption func(*attestConfig)

// WithAction records the action being attested. An empty string is a valid,
// present action and is serialized as such.
func WithAction(action string) AttestOption {
	return func(c *attestConfig) {
		c.action = action
		c.hasAction = true
	}
}

// WithNonce pins the nonce. An empty nonce falls back to a generated one.
func WithNonce(nonce string) AttestOption {
	return func(c *attestConfig) {
		c.nonce = nonce
	}
}

// WithTimestamp pins the payload timestamp instead of reading the clock.
func WithTimestamp(t time.Time) AttestOption {
	return func(c *attestConfig) {
		c.timestamp = &t
	}
}

// BuildPayload assembles the payload for one attestation. The timestamp is
// truncated to whole seconds and a nonce is generated when none is given.
func (a *Authenticator) BuildPayload(opts ...AttestOption) Payload {
	var cfg attestConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	at := a.now()
	if cfg.timestamp != nil {
		at = *cfg.timestamp
	}
	ts := at.Unix()

	nonce := cfg.nonce
	if nonce == "" {
		nonce = a.nextNonce(ts)
	}

	return Payload{
		AgentID:   a.agentID,
		Timestamp: ts,
		Nonce:     nonce,
		Action:    cfg.action,
		HasAction: cfg.hasAction,
	}
}

// nextNonce combines the timestamp, the instance discriminator and a
// monotonic counter, so two calls in the same second never collide.
func (a *Authenticator) nextNonce(ts int64) string {
	n := a.counter.Add(1)
	return fmt.Sprintf("%d-%s-%d", ts, a.instance, n)
}

// Sign signs msg with the loaded key.
func (a *Authenticator) Sign(msg []byte) ([]byte, error) {
	sig := ed25519.Sign(a.key, msg)
	if len(sig) != ed25519.SignatureSize {
		return nil, &SigningFailure{Reason: fmt.Sprintf("signature is %d bytes, want %d", len(sig), ed25519.SignatureSize)}
	}
	return sig, nil
}

// CreateAttestation builds, signs and encodes a fresh attestation token ready
// to be sent verbatim in the HeaderName header. It either returns a complete
// token or an error, never a partial result.
func (a *Authenticator) CreateAttestation(opts ...AttestOption) (string, error) {
	return a.SignPayload(a.BuildPayload(opts...))
}

// SignPayload canonicalizes, signs and encodes an explicit payload.
func (a *Authenticator) SignPayload(p Payload) (string, error) {
	body, err := p.Canonical()
	if err != nil {
		return "", &SigningFailure{Reason: "cannot canonicalize payload", Err: err}
	}

	sig, err := a.Sign(body)
	if err != nil {
		return "", err
	}

	token, err := EncodeEnvelope(body, sig)
	if err != nil {
		return "", &SigningFailure{Reason: "cannot encode envelope", Err: err}
	}
	return token, nil
}

// PublicKey returns the Ed25519 public key matching the signing key.
func (a *Authenticator) PublicKey() ed25519.PublicKey {
	return a.key.Public().(ed25519.PublicKey)
}

// PublicKeyPEM returns the public key as a SubjectPublicKeyInfo PEM block,
// suitable for registering the agent.
func (a *Authenticator) PublicKeyPEM() ([]byte, error) {
	return MarshalPublicKeyPEM(a.PublicKey())
}

// PublicKeyBase64 returns the raw 32-byte public key in standard base64.
func (a *Authenticator) PublicKeyBase64() string {
	return base64.StdEncoding.EncodeToString(a.PublicKey())
}
