package persona

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Algorithm is the only signature algorithm PERSONA attestations use.
const Algorithm = "Ed25519"

const (
	pemTypePrivateKey = "PRIVATE KEY"
	pemTypePublicKey  = "PUBLIC KEY"
	sourceBytes       = "bytes"
)

// KeySource names where the private key comes from. Exactly one of Path and
// Bytes must be set.
type KeySource struct {
	// Path to a PEM-encoded PKCS#8 Ed25519 private key. A leading "~/" is
	// expanded to the user's home directory.
	Path string

	// Bytes holds the key in memory: PEM, DER PKCS#8, a raw 32-byte seed or a
	// raw 64-byte private key.
	Bytes []byte
}

// LoadPrivateKey validates src and loads the Ed25519 key it names. When
// neither field is set it returns a *ConfigurationError without touching the
// filesystem.
func LoadPrivateKey(src KeySource) (ed25519.PrivateKey, error) {
	hasPath := strings.TrimSpace(src.Path) != ""
	hasBytes := len(src.Bytes) > 0

	switch {
	case !hasPath && !hasBytes:
		return nil, &ConfigurationError{Reason: "either a private key path or private key bytes is required"}
	case hasPath && hasBytes:
		return nil, &ConfigurationError{Reason: "private key path and private key bytes are mutually exclusive"}
	case hasPath:
		return LoadPrivateKeyFile(src.Path)
	default:
		return ParsePrivateKey(src.Bytes)
	}
}

// LoadPrivateKeyFile reads a PEM-encoded Ed25519 private key from path.
// Reading the file is the only I/O performed. Raw and DER encodings are only
// accepted from memory, via ParsePrivateKey.
func LoadPrivateKeyFile(path string) (ed25519.PrivateKey, error) {
	resolved, err := expandHome(path)
	if err != nil {
		return nil, &InvalidKeyError{Expected: Algorithm, Source: path, Reason: "cannot resolve path", Err: err}
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, &InvalidKeyError{Expected: Algorithm, Source: path, Reason: "cannot read key file", Err: err}
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, &InvalidKeyError{Expected: Algorithm, Source: path, Reason: "no PEM block found"}
	}
	return parsePEMBlock(block, path)
}

// ParsePrivateKey parses in-memory key material. PEM input must carry a
// PKCS#8 "PRIVATE KEY" block; other inputs are tried as raw seed, raw private
// key, then DER PKCS#8.
func ParsePrivateKey(data []byte) (ed25519.PrivateKey, error) {
	return parsePrivateKey(data, sourceBytes)
}

func parsePrivateKey(data []byte, source string) (ed25519.PrivateKey, error) {
	if block, _ := pem.Decode(data); block != nil {
		return parsePEMBlock(block, source)
	}

	switch len(data) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(data), nil
	case ed25519.PrivateKeySize:
		// The public half of a raw key must match the one derived from its seed.
		derived := ed25519.NewKeyFromSeed(data[:ed25519.SeedSize])
		if !bytes.Equal(derived, data) {
			return nil, &InvalidKeyError{Expected: Algorithm, Source: source, Reason: "raw key public half does not match seed"}
		}
		return derived, nil
	}

	return parsePKCS8(data, source)
}

func parsePEMBlock(block *pem.Block, source string) (ed25519.PrivateKey, error) {
	if block.Type != pemTypePrivateKey {
		return nil, &InvalidKeyError{
			Expected: Algorithm,
			Source:   source,
			Reason:   fmt.Sprintf("unsupported PEM block %q (want %q)", block.Type, pemTypePrivateKey),
		}
	}
	return parsePKCS8(block.Bytes, source)
}

func parsePKCS8(der []byte, source string) (ed25519.PrivateKey, error) {
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, &InvalidKeyError{Expected: Algorithm, Source: source, Reason: "cannot parse PKCS#8 private key", Err: err}
	}

	key, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, &InvalidKeyError{
			Expected: Algorithm,
			Source:   source,
			Reason:   fmt.Sprintf("key type %T is not %s", parsed, Algorithm),
		}
	}
	return key, nil
}

// GenerateKey creates a new Ed25519 private key. A nil reader uses crypto/rand.
func GenerateKey(random io.Reader) (ed25519.PrivateKey, error) {
	if random == nil {
		random = rand.Reader
	}
	_, priv, err := ed25519.GenerateKey(random)
	if err != nil {
		return nil, fmt.Errorf("persona: generate key: %w", err)
	}
	return priv, nil
}

// MarshalPrivateKeyPEM encodes key as a PKCS#8 "PRIVATE KEY" PEM block, the
// format LoadPrivateKeyFile expects.
func MarshalPrivateKeyPEM(key ed25519.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("persona: marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemTypePrivateKey, Bytes: der}), nil
}

// MarshalPublicKeyPEM encodes pub as a SubjectPublicKeyInfo "PUBLIC KEY" block.
func MarshalPublicKeyPEM(pub ed25519.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("persona: marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemTypePublicKey, Bytes: der}), nil
}

// ParsePublicKeyPEM parses a SubjectPublicKeyInfo PEM block holding an
// Ed25519 public key.
func ParsePublicKeyPEM(data []byte) (ed25519.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, &InvalidKeyError{Expected: Algorithm, Source: sourceBytes, Reason: "no PEM block found"}
	}

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, &InvalidKeyError{Expected: Algorithm, Source: sourceBytes, Reason: "cannot parse public key", Err: err}
	}

	pub, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, &InvalidKeyError{Expected: Algorithm, Source: sourceBytes, Reason: fmt.Sprintf("key type %T is not %s", parsed, Algorithm)}
	}
	return pub, nil
}

// ParsePublicKeyBase64 decodes a raw 32-byte public key from standard base64.
func ParsePublicKeyBase64(s string) (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, &InvalidKeyError{Expected: Algorithm, Source: sourceBytes, Reason: "invalid base64", Err: err}
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, &InvalidKeyError{
			Expected: Algorithm,
			Source:   sourceBytes,
			Reason:   fmt.Sprintf("public key is %d bytes, want %d", len(raw), ed25519.PublicKeySize),
		}
	}
	return ed25519.PublicKey(raw), nil
}

func expandHome(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to expand ~: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, path[2:]), nil
}
