package persona

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrVerification is returned by VerifyToken when a token is well formed but
// its signature does not match.
var ErrVerification = errors.New("persona: signature verification failed")

// Envelope is the JSON object carried, base64-encoded, in the attestation
// header. Payload and Signature are themselves standard base64.
type Envelope struct {
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
	Algorithm string `json:"algorithm"`
}

// EncodeEnvelope packs canonical payload bytes and their signature into the
// transport token: base64(JSON{payload, signature, algorithm}).
func EncodeEnvelope(payload, signature []byte) (string, error) {
	env := Envelope{
		Payload:   base64.StdEncoding.EncodeToString(payload),
		Signature: base64.StdEncoding.EncodeToString(signature),
		Algorithm: Algorithm,
	}

	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("persona: marshal envelope: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodedEnvelope is a token with every layer of encoding removed.
type DecodedEnvelope struct {
	Algorithm    string
	PayloadBytes []byte // exact bytes that were signed
	Signature    []byte
}

// Payload parses the signed bytes.
func (d *DecodedEnvelope) Payload() (Payload, error) {
	return ParsePayload(d.PayloadBytes)
}

// DecodeEnvelope reverses EncodeEnvelope without checking the signature.
func DecodeEnvelope(token string) (*DecodedEnvelope, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(token))
	if err != nil {
		return nil, fmt.Errorf("persona: decode token: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("persona: parse envelope: %w", err)
	}

	payload, err := base64.StdEncoding.DecodeString(env.Payload)
	if err != nil {
		return nil, fmt.Errorf("persona: decode payload: %w", err)
	}
	sig, err := base64.StdEncoding.DecodeString(env.Signature)
	if err != nil {
		return nil, fmt.Errorf("persona: decode signature: %w", err)
	}

	return &DecodedEnvelope{
		Algorithm:    env.Algorithm,
		PayloadBytes: payload,
		Signature:    sig,
	}, nil
}

// VerifyToken decodes token, checks the algorithm tag and verifies the
// signature against pub. On success it returns the parsed payload.
func VerifyToken(pub ed25519.PublicKey, token string) (Payload, error) {
	if len(pub) != ed25519.PublicKeySize {
		return Payload{}, &InvalidKeyError{
			Expected: Algorithm,
			Source:   sourceBytes,
			Reason:   fmt.Sprintf("public key is %d bytes, want %d", len(pub), ed25519.PublicKeySize),
		}
	}

	env, err := DecodeEnvelope(token)
	if err != nil {
		return Payload{}, err
	}
	if env.Algorithm != Algorithm {
		return Payload{}, fmt.Errorf("persona: unsupported algorithm %q", env.Algorithm)
	}
	if !ed25519.Verify(pub, env.PayloadBytes, env.Signature) {
		return Payload{}, ErrVerification
	}
	return env.Payload()
}
