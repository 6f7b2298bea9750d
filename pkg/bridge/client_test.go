package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bravozero/bravozero-go/pkg/persona"
	"github.com/bravozero/bravozero-go/pkg/transport"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	key, err := persona.GenerateKey(nil)
	require.NoError(t, err)
	auth, err := persona.NewAuthenticatorFromKey("agent-b", key)
	require.NoError(t, err)

	tc, err := transport.New(srv.URL, "test-key", "agent-b", transport.WithAttester(auth))
	require.NoError(t, err)
	c, err := New(tc, opts...)
	require.NoError(t, err)
	return c
}

const fileInfoJSON = `{"path":"/src/main.go","name":"main.go","size":120,"isDirectory":false,"modifiedAt":"2025-05-01T08:00:00Z","permissions":"rw-r--r--"}`

func TestListFiles(t *testing.T) {
	var query url.Values
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/bridge/files", r.URL.Path)
		assert.Empty(t, r.Header.Get(persona.HeaderName))
		query = r.URL.Query()
		_, _ = w.Write([]byte(`{"path":"/src","files":[` + fileInfoJSON + `,{"path":"/src/pkg","name":"pkg","size":0,"isDirectory":true,"modifiedAt":"2025-05-01T08:00:00Z","createdAt":"2025-04-01T08:00:00Z"}]}`))
	})

	listing, err := c.ListFiles(context.Background(), "src/", ListOptions{})
	require.NoError(t, err)

	assert.Equal(t, "/src", query.Get("path"))
	assert.Equal(t, "false", query.Get("recursive"))
	assert.NotContains(t, query, "pattern")

	assert.Equal(t, "/src", listing.Path)
	require.Len(t, listing.Files, 2)
	assert.Equal(t, 2, listing.TotalCount, "totalCount defaults to the number of files")
	assert.Equal(t, int64(120), listing.Files[0].Size)
	assert.Nil(t, listing.Files[0].CreatedAt)
	require.NotNil(t, listing.Files[1].CreatedAt)
	assert.Equal(t, time.April, listing.Files[1].CreatedAt.Month())
	assert.Len(t, listing.Directories(), 1)

	goFiles, err := listing.Filter("*.go")
	require.NoError(t, err)
	require.Len(t, goFiles, 1)
	assert.Equal(t, "main.go", goFiles[0].Name)

	byPath, err := listing.Filter("/src/**")
	require.NoError(t, err)
	assert.Len(t, byPath, 2)
}

func TestListFilesRecursivePatternAndTotal(t *testing.T) {
	var query url.Values
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query()
		_, _ = w.Write([]byte(`{"path":"/","files":[],"totalCount":42}`))
	})

	listing, err := c.ListFiles(context.Background(), "", ListOptions{Recursive: true, Pattern: "**/*.md"})
	require.NoError(t, err)
	assert.Equal(t, "/", query.Get("path"))
	assert.Equal(t, "true", query.Get("recursive"))
	assert.Equal(t, "**/*.md", query.Get("pattern"))
	assert.Equal(t, 42, listing.TotalCount)
}

func TestListFilesInvalidPatternSendsNothing(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})

	_, err := c.ListFiles(context.Background(), "/", ListOptions{Pattern: "[unclosed"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, transport.ErrValidation))
	assert.Equal(t, int32(0), calls.Load())
}

func TestListFilesRateLimited(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.ListFiles(context.Background(), "/", ListOptions{})
	var rl *transport.RateLimitError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, 3*time.Second, rl.RetryAfter)

	var bErr *Error
	require.True(t, errors.As(err, &bErr))
	assert.Equal(t, "list files", bErr.Op)
}

func TestReadFileSigned(t *testing.T) {
	var token, path string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/bridge/file", r.URL.Path)
		token = r.Header.Get(persona.HeaderName)
		path = r.URL.Query().Get("path")
		_, _ = w.Write([]byte(`{"content":"package main\n"}`))
	})

	content, err := c.ReadFile(context.Background(), "./src/../src/main.go")
	require.NoError(t, err)
	assert.Equal(t, "package main\n", content)
	assert.Equal(t, "/src/main.go", path)

	env, err := persona.DecodeEnvelope(token)
	require.NoError(t, err)
	payload, err := env.Payload()
	require.NoError(t, err)
	assert.Equal(t, ActionReadFile, payload.Action)
}

func TestReadFileMissingContent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	_, err := c.ReadFile(context.Background(), "/a.txt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing content")
}

func TestReadFileBytes(t *testing.T) {
	var accept, token string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/bridge/file/bytes", r.URL.Path)
		accept = r.Header.Get("Accept")
		token = r.Header.Get(persona.HeaderName)
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte{0x89, 0x50, 0x4e, 0x47})
	})

	data, err := c.ReadFileBytes(context.Background(), "/img/logo.png")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 0x50, 0x4e, 0x47}, data)
	assert.Equal(t, "application/octet-stream", accept)
	assert.NotEmpty(t, token)
}

func TestWriteFile(t *testing.T) {
	var body map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.NotEmpty(t, r.Header.Get(persona.HeaderName))
		body = nil
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(fileInfoJSON))
	})

	info, err := c.WriteFile(context.Background(), "src/main.go", "package main\n", WriteOptions{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"path": "/src/main.go", "content": "package main\n", "createDirs": true}, body)
	assert.Equal(t, "main.go", info.Name)
	assert.Equal(t, "rw-r--r--", info.Permissions)

	_, err = c.WriteFile(context.Background(), "/src/main.go", "", WriteOptions{CreateDirs: Bool(false)})
	require.NoError(t, err)
	assert.Equal(t, false, body["createDirs"])
}

func TestDeleteFile(t *testing.T) {
	var method, path string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		path = r.URL.Query().Get("path")
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, c.DeleteFile(context.Background(), "/tmp/old.log"))
	assert.Equal(t, http.MethodDelete, method)
	assert.Equal(t, "/tmp/old.log", path)
}

func TestPathValidation(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})
	ctx := context.Background()

	_, err := c.ReadFile(ctx, "../../etc/passwd")
	assert.True(t, errors.Is(err, transport.ErrValidation))

	_, err = c.ReadFile(ctx, "")
	assert.True(t, errors.Is(err, transport.ErrValidation))

	_, err = c.WriteFile(ctx, "/", "x", WriteOptions{})
	assert.True(t, errors.Is(err, transport.ErrValidation))

	err = c.DeleteFile(ctx, "/a/../../b")
	assert.True(t, errors.Is(err, transport.ErrValidation))

	assert.Equal(t, int32(0), calls.Load())
}

func TestGetFileInfoAndNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("path") != "/src/main.go" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"no such file"}`))
			return
		}
		assert.Empty(t, r.Header.Get(persona.HeaderName))
		_, _ = w.Write([]byte(fileInfoJSON))
	})

	info, err := c.GetFileInfo(context.Background(), "/src/main.go")
	require.NoError(t, err)
	assert.False(t, info.IsDirectory)
	assert.Equal(t, 2025, info.ModifiedAt.Year())

	_, err = c.GetFileInfo(context.Background(), "/nope")
	assert.True(t, transport.IsNotFound(err))
	assert.Contains(t, err.Error(), "no such file")
}

func TestSyncAndStatus(t *testing.T) {
	var syncBody map[string]any
	var statusPath string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/bridge/sync":
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&syncBody))
			_, _ = w.Write([]byte(`{"path":"/","synced":false,"pendingChanges":3}`))
		case "/v1/bridge/sync/status":
			statusPath = r.URL.Query().Get("path")
			_, _ = w.Write([]byte(`{"path":"/docs","synced":true,"lastSyncAt":"2025-05-02T00:00:00Z"}`))
		}
	})

	status, err := c.Sync(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"path": "/"}, syncBody)
	assert.False(t, status.Synced)
	assert.Equal(t, 3, status.PendingChanges)
	assert.Nil(t, status.LastSyncAt)

	status, err = c.GetSyncStatus(context.Background(), "docs")
	require.NoError(t, err)
	assert.Equal(t, "/docs", statusPath)
	assert.True(t, status.Synced)
	require.NotNil(t, status.LastSyncAt)
	assert.Equal(t, 2, status.LastSyncAt.Day())
}

func TestPolicy(t *testing.T) {
	var calls atomic.Int32
	handler := func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(fileInfoJSON))
	}
	ctx := context.Background()

	c := newTestClient(t, handler, WithPolicy(Policy{
		Allowed: []string{"/src/**"},
		Denied:  []string{"/src/secrets/**"},
	}))

	_, err := c.WriteFile(ctx, "/src/main.go", "x", WriteOptions{})
	require.NoError(t, err)

	_, err = c.WriteFile(ctx, "/src/secrets/key.pem", "x", WriteOptions{})
	var pv *PolicyViolation
	require.True(t, errors.As(err, &pv))
	assert.Equal(t, ViolationFilePattern, pv.Type)
	assert.Equal(t, "file '/src/secrets/key.pem' matches denied pattern '/src/secrets/**'", pv.Message)

	err = c.DeleteFile(ctx, "/README.md")
	require.True(t, errors.As(err, &pv))
	assert.Equal(t, "/README.md", pv.Path)
	assert.Equal(t, "file '/README.md' does not match allowed patterns", pv.Message)

	// Reads are not restricted by patterns.
	_, err = c.GetFileInfo(ctx, "/README.md")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())

	ro := newTestClient(t, handler, WithPolicy(Policy{ReadOnly: true}))
	err = ro.DeleteFile(ctx, "/src/main.go")
	require.True(t, errors.As(err, &pv))
	assert.Equal(t, ViolationReadOnly, pv.Type)
}

func TestInvalidPolicy(t *testing.T) {
	tc, err := transport.New("http://localhost:1", "k", "a")
	require.NoError(t, err)

	_, err = New(tc, WithPolicy(Policy{Allowed: []string{"[bad"}}))
	assert.Error(t, err)
}
