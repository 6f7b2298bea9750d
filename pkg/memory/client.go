// Package memory is the client for the Memory Service, the persistent
// Trace Manifold that stores agent memories and the edges between them.
//
// Record is signed with a PERSONA attestation when the transport has an
// attester. The package also provides SnapshotStore, a local Markdown copy of
// memories for offline inspection and backup.
package memory

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/bravozero/bravozero-go/pkg/transport"
)

// ServiceName is the path segment under /v1.
const ServiceName = "memory"

// ActionRecord is the attested action name for Record.
const ActionRecord = "memory.record"

// Defaults applied when options leave a field unset.
const (
	DefaultImportance   = 0.5
	DefaultQueryLimit   = 10
	DefaultMinRelevance = 0.5
	DefaultEdgeStrength = 0.5
	DefaultMinStrength  = 0.1
	DefaultRelatedLimit = 20
)

// Client calls the Memory Service API.
type Client struct {
	svc     *transport.Service
	agentID string
}

// New creates a Memory Service client on tc.
func New(tc *transport.Client) *Client {
	return &Client{
		svc:     tc.Service(ServiceName),
		agentID: tc.AgentID(),
	}
}

type recordRequest struct {
	Content    string         `json:"content"`
	MemoryType Type           `json:"memoryType"`
	Importance float64        `json:"importance"`
	Namespace  string         `json:"namespace"`
	Tags       []string       `json:"tags"`
	Metadata   map[string]any `json:"metadata"`
}

// Record stores a new memory. 429 yields *transport.RateLimitError.
func (c *Client) Record(ctx context.Context, content string, opts RecordOptions) (*Memory, error) {
	if strings.TrimSpace(content) == "" {
		return nil, wrap("record", "", &transport.ValidationError{Field: "content", Message: "must not be empty"})
	}

	req := recordRequest{
		Content:    content,
		MemoryType: opts.Type,
		Importance: DefaultImportance,
		Namespace:  opts.Namespace,
		Tags:       lo.Uniq(opts.Tags),
		Metadata:   opts.Metadata,
	}
	if req.MemoryType == "" {
		req.MemoryType = TypeSemantic
	}
	if !req.MemoryType.Valid() {
		return nil, wrap("record", "", &transport.ValidationError{Field: "memoryType", Message: "unknown memory type " + strconv.Quote(string(req.MemoryType))})
	}
	if opts.Importance != nil {
		req.Importance = *opts.Importance
	}
	if err := checkUnit("importance", req.Importance); err != nil {
		return nil, wrap("record", "", err)
	}
	if req.Namespace == "" {
		req.Namespace = c.agentID
	}
	if req.Tags == nil {
		req.Tags = []string{}
	}
	if req.Metadata == nil {
		req.Metadata = map[string]any{}
	}

	var wire wireMemory
	err := c.svc.Do(ctx, &transport.Request{
		Method: http.MethodPost,
		Path:   "/record",
		Body:   req,
		Action: ActionRecord,
	}, &wire)
	if err != nil {
		return nil, wrap("record", "", err)
	}
	return decodeMemory("record", wire)
}

type queryRequest struct {
	Query        string   `json:"query"`
	Limit        int      `json:"limit"`
	MinRelevance float64  `json:"minRelevance"`
	MemoryTypes  []Type   `json:"memoryTypes"`
	Namespace    *string  `json:"namespace"`
	Tags         []string `json:"tags"`
}

// Query searches memories by semantic similarity.
func (c *Client) Query(ctx context.Context, query string, opts QueryOptions) ([]QueryResult, error) {
	req := queryRequest{
		Query:        query,
		Limit:        opts.Limit,
		MinRelevance: DefaultMinRelevance,
		MemoryTypes:  opts.Types,
		Tags:         opts.Tags,
	}
	if req.Limit <= 0 {
		req.Limit = DefaultQueryLimit
	}
	if opts.MinRelevance != nil {
		req.MinRelevance = *opts.MinRelevance
	}
	if err := checkUnit("minRelevance", req.MinRelevance); err != nil {
		return nil, wrap("query", "", err)
	}
	if opts.Namespace != "" {
		req.Namespace = &opts.Namespace
	}

	var wire wireResults
	if err := c.svc.Do(ctx, &transport.Request{Method: http.MethodPost, Path: "/query", Body: req}, &wire); err != nil {
		return nil, wrap("query", "", err)
	}
	return decodeResults("query", wire.Results, func(r wireQueryResult) float64 { return r.Relevance })
}

// Get fetches one memory by id.
func (c *Client) Get(ctx context.Context, id string) (*Memory, error) {
	if err := checkID(id); err != nil {
		return nil, wrap("get", id, err)
	}

	var wire wireMemory
	if err := c.svc.Do(ctx, &transport.Request{Method: http.MethodGet, Path: "/" + url.PathEscape(id)}, &wire); err != nil {
		return nil, wrap("get", id, err)
	}
	return decodeMemory("get", wire)
}

// Update changes the fields set in opts and returns the updated memory.
func (c *Client) Update(ctx context.Context, id string, opts UpdateOptions) (*Memory, error) {
	if err := checkID(id); err != nil {
		return nil, wrap("update", id, err)
	}

	body := map[string]any{}
	if opts.Content != nil {
		body["content"] = *opts.Content
	}
	if opts.Importance != nil {
		if err := checkUnit("importance", *opts.Importance); err != nil {
			return nil, wrap("update", id, err)
		}
		body["importance"] = *opts.Importance
	}
	if opts.Tags != nil {
		body["tags"] = opts.Tags
	}
	if opts.Metadata != nil {
		body["metadata"] = opts.Metadata
	}

	var wire wireMemory
	if err := c.svc.Do(ctx, &transport.Request{Method: http.MethodPatch, Path: "/" + url.PathEscape(id), Body: body}, &wire); err != nil {
		return nil, wrap("update", id, err)
	}
	return decodeMemory("update", wire)
}

// Delete removes a memory.
func (c *Client) Delete(ctx context.Context, id string) error {
	if err := checkID(id); err != nil {
		return wrap("delete", id, err)
	}
	return wrap("delete", id, c.svc.Do(ctx, &transport.Request{Method: http.MethodDelete, Path: "/" + url.PathEscape(id)}, nil))
}

type edgeRequest struct {
	SourceID     string  `json:"sourceId"`
	TargetID     string  `json:"targetId"`
	Relationship string  `json:"relationship"`
	Strength     float64 `json:"strength"`
}

// CreateEdge links source to target. A nil strength uses DefaultEdgeStrength.
func (c *Client) CreateEdge(ctx context.Context, sourceID, targetID, relationship string, strength *float64) (*Edge, error) {
	if err := checkID(sourceID); err != nil {
		return nil, wrap("create edge", sourceID, err)
	}
	if err := checkID(targetID); err != nil {
		return nil, wrap("create edge", targetID, err)
	}
	if relationship == "" {
		return nil, wrap("create edge", "", &transport.ValidationError{Field: "relationship", Message: "must not be empty"})
	}

	req := edgeRequest{
		SourceID:     sourceID,
		TargetID:     targetID,
		Relationship: relationship,
		Strength:     DefaultEdgeStrength,
	}
	if strength != nil {
		req.Strength = *strength
	}
	if err := checkUnit("strength", req.Strength); err != nil {
		return nil, wrap("create edge", "", err)
	}

	var wire wireEdge
	if err := c.svc.Do(ctx, &transport.Request{Method: http.MethodPost, Path: "/edges", Body: req}, &wire); err != nil {
		return nil, wrap("create edge", "", err)
	}
	return &Edge{
		SourceID:           wire.SourceID,
		TargetID:           wire.TargetID,
		Relationship:       wire.Relationship,
		Strength:           wire.Strength,
		CreatedAt:          wire.CreatedAt.Time,
		LastStrengthenedAt: wire.LastStrengthenedAt.Time,
	}, nil
}

// GetRelated returns memories linked to id. Relevance carries the edge
// strength.
func (c *Client) GetRelated(ctx context.Context, id string, opts RelatedOptions) ([]QueryResult, error) {
	if err := checkID(id); err != nil {
		return nil, wrap("get related", id, err)
	}

	minStrength := DefaultMinStrength
	if opts.MinStrength != nil {
		minStrength = *opts.MinStrength
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultRelatedLimit
	}

	query := url.Values{}
	query.Set("minStrength", strconv.FormatFloat(minStrength, 'f', -1, 64))
	query.Set("limit", strconv.Itoa(limit))
	if opts.Relationship != "" {
		query.Set("relationship", opts.Relationship)
	}

	var wire wireResults
	err := c.svc.Do(ctx, &transport.Request{
		Method: http.MethodGet,
		Path:   "/" + url.PathEscape(id) + "/related",
		Query:  query,
	}, &wire)
	if err != nil {
		return nil, wrap("get related", id, err)
	}
	return decodeResults("get related", wire.Results, func(r wireQueryResult) float64 { return r.EdgeStrength })
}

func decodeMemory(op string, wire wireMemory) (*Memory, error) {
	m, err := wire.toMemory()
	if err != nil {
		return nil, wrap(op, wire.ID, err)
	}
	return &m, nil
}

func decodeResults(op string, results []wireQueryResult, relevance func(wireQueryResult) float64) ([]QueryResult, error) {
	out := make([]QueryResult, 0, len(results))
	for _, r := range results {
		m, err := r.Memory.toMemory()
		if err != nil {
			return nil, wrap(op, r.Memory.ID, err)
		}
		out = append(out, QueryResult{Memory: m, Relevance: relevance(r)})
	}
	return out, nil
}

func checkID(id string) error {
	if id == "" {
		return &transport.ValidationError{Field: "id", Message: "must not be empty"}
	}
	return nil
}

func checkUnit(field string, v float64) error {
	if v < 0 || v > 1 {
		return &transport.ValidationError{Field: field, Message: "must be between 0 and 1"}
	}
	return nil
}
