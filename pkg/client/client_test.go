package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bravozero/bravozero-go/pkg/bridge"
	"github.com/bravozero/bravozero-go/pkg/config"
	"github.com/bravozero/bravozero-go/pkg/constitution"
	"github.com/bravozero/bravozero-go/pkg/logging"
	"github.com/bravozero/bravozero-go/pkg/memory"
	"github.com/bravozero/bravozero-go/pkg/persona"
	"github.com/bravozero/bravozero-go/pkg/transport"
)

// isolated keeps tests away from the real environment and ~/.bravozero.
func isolated(environ map[string]string) Option {
	if environ == nil {
		environ = map[string]string{}
	}
	return WithConfigSource(config.Source{SkipFile: true, Environ: environ})
}

func writeKey(t *testing.T) (string, *persona.Authenticator) {
	t.Helper()
	key, err := persona.GenerateKey(nil)
	require.NoError(t, err)
	pem, err := persona.MarshalPrivateKeyPEM(key)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "agent.pem")
	require.NoError(t, os.WriteFile(path, pem, 0600))

	auth, err := persona.NewAuthenticatorFromKey("agent-1", key)
	require.NoError(t, err)
	return path, auth
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(isolated(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BRAVOZERO_API_KEY")

	_, err = New(isolated(nil), WithAPIKey("key"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BRAVOZERO_AGENT_ID")
}

func TestNewFromEnvironment(t *testing.T) {
	c, err := New(isolated(map[string]string{
		"BRAVOZERO_API_KEY":     "env-key",
		"BRAVOZERO_AGENT_ID":    "env-agent",
		"BRAVOZERO_ENVIRONMENT": "staging",
	}))
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, "env-agent", c.AgentID())
	assert.Equal(t, "https://api.staging.bravozero.ai", c.BaseURL())
	assert.False(t, c.Signing())
	assert.Nil(t, c.Authenticator())
	assert.NotNil(t, c.Constitution)
	assert.NotNil(t, c.Memory)
	assert.NotNil(t, c.Bridge)
}

func TestNewExplicitBeatsEnvironment(t *testing.T) {
	c, err := New(
		isolated(map[string]string{"BRAVOZERO_API_KEY": "env-key", "BRAVOZERO_AGENT_ID": "env-agent"}),
		WithAgentID("explicit-agent"),
		WithEnvironment(config.EnvDevelopment),
	)
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, "explicit-agent", c.AgentID())
	assert.Equal(t, "env-key", c.Config().APIKey)
	assert.Equal(t, "http://localhost:8080", c.BaseURL())
}

func TestNewInvalidKeyPath(t *testing.T) {
	_, err := New(isolated(nil),
		WithAPIKey("key"),
		WithAgentID("agent-1"),
		WithPrivateKeyPath(filepath.Join(t.TempDir(), "missing.pem")),
	)
	require.Error(t, err)
	var keyErr *persona.InvalidKeyError
	assert.True(t, errors.As(err, &keyErr))
}

func TestNewKeyPathAndBytesConflict(t *testing.T) {
	path, _ := writeKey(t)
	pem, err := os.ReadFile(path)
	require.NoError(t, err)

	_, err = New(isolated(nil),
		WithAPIKey("key"),
		WithAgentID("agent-1"),
		WithPrivateKeyPath(path),
		WithPrivateKeyBytes(pem),
	)
	var cfgErr *persona.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestNewKeyBytesBeatEnvironmentKeyPath(t *testing.T) {
	envPath, _ := writeKey(t)
	bytesPath, want := writeKey(t)
	pem, err := os.ReadFile(bytesPath)
	require.NoError(t, err)

	c, err := New(isolated(map[string]string{"BRAVOZERO_PRIVATE_KEY_PATH": envPath}),
		WithAPIKey("key"),
		WithAgentID("agent-1"),
		WithPrivateKeyBytes(pem),
	)
	require.NoError(t, err)
	defer c.Close()

	require.True(t, c.Signing())
	assert.Equal(t, want.PublicKeyBase64(), c.Authenticator().PublicKeyBase64())
	assert.Empty(t, c.Config().PrivateKeyPath)
}

func TestSignedRequestsEndToEnd(t *testing.T) {
	path, auth := writeKey(t)

	var evalToken, omegaToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("X-API-Key"))
		assert.Equal(t, "agent-1", r.Header.Get("X-Agent-ID"))
		switch r.URL.Path {
		case "/v1/constitution/evaluate":
			evalToken = r.Header.Get(persona.HeaderName)
			_, _ = w.Write([]byte(`{"requestId":"r1","decision":"permit","confidence":1,"alignmentScore":1,"appliedRules":[],"reasoning":"ok","evaluatedAt":"2025-01-01T00:00:00Z"}`))
		case "/v1/constitution/omega":
			omegaToken = r.Header.Get(persona.HeaderName)
			_, _ = w.Write([]byte(`{"omega":0.9,"components":{"safety":0.95},"timestamp":"2025-01-01T00:00:00Z"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c, err := New(isolated(nil),
		WithAPIKey("key"),
		WithAgentID("agent-1"),
		WithBaseURL(srv.URL),
		WithPrivateKeyPath(path),
	)
	require.NoError(t, err)
	defer c.Close()
	require.True(t, c.Signing())
	assert.Equal(t, auth.PublicKeyBase64(), c.Authenticator().PublicKeyBase64())

	result, err := c.Constitution.Evaluate(context.Background(), "read_docs", constitution.EvaluateOptions{})
	require.NoError(t, err)
	assert.True(t, result.Permitted())

	payload, err := persona.VerifyToken(auth.PublicKey(), evalToken)
	require.NoError(t, err)
	assert.Equal(t, "agent-1", payload.AgentID)
	assert.Equal(t, constitution.ActionEvaluate, payload.Action)

	omega, err := c.Constitution.GetOmega(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.9, omega.Omega)
	assert.Empty(t, omegaToken, "unsigned operations carry no attestation")
}

func TestServicesShareTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/memory/m-1":
			w.Header().Set("X-RateLimit-Limit", "100")
			w.Header().Set("X-RateLimit-Remaining", "41")
			w.Header().Set("X-RateLimit-Reset", "1735689600")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id": "m-1", "content": "hello", "memoryType": "episodic",
				"importance": 0.5, "namespace": "agent-1",
				"createdAt": "2025-01-01T00:00:00Z",
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	reg := prometheus.NewRegistry()
	c, err := New(isolated(nil),
		WithAPIKey("key"),
		WithAgentID("agent-1"),
		WithBaseURL(srv.URL),
		WithMetrics(reg),
	)
	require.NoError(t, err)
	defer c.Close()

	m, err := c.Memory.Get(context.Background(), "m-1")
	require.NoError(t, err)
	assert.Equal(t, memory.TypeEpisodic, m.Type)

	info, ok := c.Transport().LastRateLimit()
	require.True(t, ok)
	assert.Equal(t, 41, info.Remaining)

	_, err = c.Bridge.GetFileInfo(context.Background(), "/missing.txt")
	assert.True(t, transport.IsNotFound(err))

	count, err := testutil.GatherAndCount(reg, "bravozero_client_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestBridgePolicyApplied(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c, err := New(isolated(nil),
		WithAPIKey("key"),
		WithAgentID("agent-1"),
		WithBaseURL(srv.URL),
		WithBridgePolicy(bridge.Policy{ReadOnly: true}),
	)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Bridge.WriteFile(context.Background(), "/notes.md", "x", bridge.WriteOptions{})
	var violation *bridge.PolicyViolation
	assert.True(t, errors.As(err, &violation))
	assert.Zero(t, calls)
}

func TestInjectedLoggerNeverSeesSecrets(t *testing.T) {
	path, _ := writeKey(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"requestId":"r1","decision":"permit","confidence":1,"alignmentScore":1,"appliedRules":[],"reasoning":"ok","evaluatedAt":"2025-01-01T00:00:00Z"}`))
	}))
	defer srv.Close()

	var buf bytes.Buffer
	logger := logging.NewWriterLogger("test", &buf)
	logger.SetLevel(logging.LevelDebug)

	c, err := New(isolated(nil),
		WithAPIKey("super-secret-key"),
		WithAgentID("agent-1"),
		WithBaseURL(srv.URL),
		WithPrivateKeyPath(path),
		WithLogger(logger),
	)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Constitution.Evaluate(context.Background(), "read_docs", constitution.EvaluateOptions{})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "client ready")
	assert.Contains(t, out, "POST /evaluate -> 200")
	assert.NotContains(t, out, "super-secret-key")
	assert.NotContains(t, out, "PRIVATE KEY")
}
