package memory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bravozero/bravozero-go/pkg/persona"
	"github.com/bravozero/bravozero-go/pkg/transport"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...transport.Option) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	tc, err := transport.New(srv.URL, "test-key", "agent-m", opts...)
	require.NoError(t, err)
	return New(tc)
}

const memoryJSON = `{
	"id": "mem-1",
	"content": "the deploy key rotates monthly",
	"memoryType": "procedural",
	"importance": 0.8,
	"strength": 0.6,
	"consolidationState": "consolidated",
	"namespace": "ops",
	"tags": ["deploy"],
	"createdAt": "2025-02-01T10:00:00Z",
	"lastAccessedAt": "2025-02-03T10:00:00Z",
	"accessCount": 4,
	"metadata": {"source": "runbook"}
}`

func TestRecordDefaults(t *testing.T) {
	key, err := persona.GenerateKey(nil)
	require.NoError(t, err)
	auth, err := persona.NewAuthenticatorFromKey("agent-m", key)
	require.NoError(t, err)

	var body map[string]any
	var token string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/memory/record", r.URL.Path)
		token = r.Header.Get(persona.HeaderName)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(`{"id":"mem-2","content":"x","memoryType":"semantic","importance":0.5,"namespace":"agent-m","createdAt":"2025-02-01T10:00:00Z","lastAccessedAt":"2025-02-01T10:00:00Z"}`))
	}, transport.WithAttester(auth))

	m, err := c.Record(context.Background(), "x", RecordOptions{})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"content":    "x",
		"memoryType": "semantic",
		"importance": 0.5,
		"namespace":  "agent-m",
		"tags":       []any{},
		"metadata":   map[string]any{},
	}, body)

	assert.Equal(t, "mem-2", m.ID)
	assert.Equal(t, 1.0, m.Strength, "missing strength defaults to 1.0")
	assert.Equal(t, StateActive, m.ConsolidationState, "missing state defaults to active")
	assert.Equal(t, []string{}, m.Tags)
	assert.Equal(t, map[string]any{}, m.Metadata)

	payload, err := persona.VerifyToken(auth.PublicKey(), token)
	require.NoError(t, err)
	assert.Equal(t, ActionRecord, payload.Action)
}

func TestRecordOptions(t *testing.T) {
	var body map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(memoryJSON))
	})

	m, err := c.Record(context.Background(), "the deploy key rotates monthly", RecordOptions{
		Type:       TypeProcedural,
		Importance: Float(0.8),
		Namespace:  "ops",
		Tags:       []string{"deploy", "deploy"},
		Metadata:   map[string]any{"source": "runbook"},
	})
	require.NoError(t, err)

	assert.Equal(t, "procedural", body["memoryType"])
	assert.Equal(t, 0.8, body["importance"])
	assert.Equal(t, "ops", body["namespace"])
	assert.Equal(t, []any{"deploy"}, body["tags"])

	assert.Equal(t, TypeProcedural, m.Type)
	assert.Equal(t, 0.6, m.Strength)
	assert.Equal(t, StateConsolidated, m.ConsolidationState)
	assert.Equal(t, 4, m.AccessCount)
	assert.Equal(t, time.Date(2025, 2, 3, 10, 0, 0, 0, time.UTC), m.LastAccessedAt)
}

func TestRecordValidation(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})

	tests := []struct {
		name    string
		content string
		opts    RecordOptions
	}{
		{name: "empty content", content: " ", opts: RecordOptions{}},
		{name: "unknown type", content: "x", opts: RecordOptions{Type: "dream"}},
		{name: "importance too high", content: "x", opts: RecordOptions{Importance: Float(1.5)}},
		{name: "importance negative", content: "x", opts: RecordOptions{Importance: Float(-0.1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Record(context.Background(), tt.content, tt.opts)
			assert.True(t, errors.Is(err, transport.ErrValidation), "got %v", err)
		})
	}
}

func TestRecordRateLimited(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.Record(context.Background(), "x", RecordOptions{})
	var rl *transport.RateLimitError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, 60*time.Second, rl.RetryAfter)

	var opErr *Error
	require.True(t, errors.As(err, &opErr))
	assert.Equal(t, "record", opErr.Op)
}

func TestQuery(t *testing.T) {
	var body map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/memory/query", r.URL.Path)
		assert.Empty(t, r.Header.Get(persona.HeaderName))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(`{"results":[{"memory":` + memoryJSON + `,"relevance":0.77}]}`))
	})

	results, err := c.Query(context.Background(), "deploy keys", QueryOptions{})
	require.NoError(t, err)

	assert.Equal(t, "deploy keys", body["query"])
	assert.Equal(t, 10.0, body["limit"])
	assert.Equal(t, 0.5, body["minRelevance"])
	assert.Nil(t, body["memoryTypes"])
	assert.Nil(t, body["namespace"])
	assert.Nil(t, body["tags"])

	require.Len(t, results, 1)
	assert.Equal(t, "mem-1", results[0].Memory.ID)
	assert.InDelta(t, 0.77, results[0].Relevance, 1e-9)
}

func TestQueryFilters(t *testing.T) {
	var body map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(`{}`))
	})

	results, err := c.Query(context.Background(), "q", QueryOptions{
		Limit:        3,
		MinRelevance: Float(0),
		Types:        []Type{TypeEpisodic, TypeWorking},
		Namespace:    "ops",
		Tags:         []string{"a"},
	})
	require.NoError(t, err)
	assert.Empty(t, results)

	assert.Equal(t, 3.0, body["limit"])
	assert.Equal(t, 0.0, body["minRelevance"])
	assert.Equal(t, []any{"episodic", "working"}, body["memoryTypes"])
	assert.Equal(t, "ops", body["namespace"])
	assert.Equal(t, []any{"a"}, body["tags"])
}

func TestQueryRejectsUnknownType(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[{"memory":{"id":"m","memoryType":"dream"},"relevance":1}]}`))
	})

	_, err := c.Query(context.Background(), "q", QueryOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown memory type "dream"`)
}

func TestGetUpdateDelete(t *testing.T) {
	var patchBody map[string]any
	var deleted bool
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/memory/mem-1":
			_, _ = w.Write([]byte(memoryJSON))
		case r.Method == http.MethodPatch && r.URL.Path == "/v1/memory/mem-1":
			patchBody = nil
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&patchBody))
			_, _ = w.Write([]byte(memoryJSON))
		case r.Method == http.MethodDelete && r.URL.Path == "/v1/memory/mem-1":
			deleted = true
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()

	m, err := c.Get(ctx, "mem-1")
	require.NoError(t, err)
	assert.Equal(t, "ops", m.Namespace)

	_, err = c.Get(ctx, "mem-404")
	assert.True(t, transport.IsNotFound(err))

	_, err = c.Update(ctx, "mem-1", UpdateOptions{Importance: Float(0.9), Tags: []string{"x"}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"importance": 0.9, "tags": []any{"x"}}, patchBody)

	_, err = c.Update(ctx, "mem-1", UpdateOptions{Content: String("")})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"content": ""}, patchBody)

	require.NoError(t, c.Delete(ctx, "mem-1"))
	assert.True(t, deleted)

	err = c.Delete(ctx, "")
	assert.True(t, errors.Is(err, transport.ErrValidation))
}

func TestGetEscapesID(t *testing.T) {
	var path string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_, _ = w.Write([]byte(memoryJSON))
	})

	_, err := c.Get(context.Background(), "notes 2024")
	require.NoError(t, err)
	assert.Equal(t, "/v1/memory/notes 2024", path)
}

func TestCreateEdge(t *testing.T) {
	var body map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/memory/edges", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(`{"sourceId":"a","targetId":"b","relationship":"causes","strength":0.5,"createdAt":"2025-01-01T00:00:00Z","lastStrengthenedAt":"2025-01-02T00:00:00Z"}`))
	})

	edge, err := c.CreateEdge(context.Background(), "a", "b", "causes", nil)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"sourceId": "a", "targetId": "b", "relationship": "causes", "strength": 0.5}, body)
	assert.Equal(t, "causes", edge.Relationship)
	assert.Equal(t, 0.5, edge.Strength)
	assert.Equal(t, 2, edge.LastStrengthenedAt.Day())

	_, err = c.CreateEdge(context.Background(), "a", "b", "", nil)
	assert.True(t, errors.Is(err, transport.ErrValidation))
	_, err = c.CreateEdge(context.Background(), "a", "b", "causes", Float(2))
	assert.True(t, errors.Is(err, transport.ErrValidation))
}

func TestGetRelated(t *testing.T) {
	var query map[string][]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/memory/mem-1/related", r.URL.Path)
		query = r.URL.Query()
		_, _ = w.Write([]byte(`{"results":[{"memory":` + memoryJSON + `,"edgeStrength":0.35}]}`))
	})

	results, err := c.GetRelated(context.Background(), "mem-1", RelatedOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"0.1"}, query["minStrength"])
	assert.Equal(t, []string{"20"}, query["limit"])
	assert.NotContains(t, query, "relationship")

	require.Len(t, results, 1)
	assert.InDelta(t, 0.35, results[0].Relevance, 1e-9, "relevance carries the edge strength")

	_, err = c.GetRelated(context.Background(), "mem-1", RelatedOptions{Relationship: "causes", MinStrength: Float(0.4), Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, []string{"causes"}, query["relationship"])
	assert.Equal(t, []string{"0.4"}, query["minStrength"])
	assert.Equal(t, []string{"5"}, query["limit"])
}
