package memory

import (
	"fmt"
	"time"

	"github.com/bravozero/bravozero-go/pkg/types"
)

// Type classifies a memory.
type Type string

const (
	TypeEpisodic   Type = "episodic"
	TypeSemantic   Type = "semantic"
	TypeProcedural Type = "procedural"
	TypeWorking    Type = "working"
)

// Valid reports whether t is a known memory type.
func (t Type) Valid() bool {
	switch t {
	case TypeEpisodic, TypeSemantic, TypeProcedural, TypeWorking:
		return true
	}
	return false
}

// State is where a memory is in the consolidation lifecycle.
type State string

const (
	StateActive        State = "active"
	StateConsolidating State = "consolidating"
	StateConsolidated  State = "consolidated"
	StateDecaying      State = "decaying"
	StateDormant       State = "dormant"
)

// Valid reports whether s is a known consolidation state.
func (s State) Valid() bool {
	switch s {
	case StateActive, StateConsolidating, StateConsolidated, StateDecaying, StateDormant:
		return true
	}
	return false
}

// Memory is one entry of the Trace Manifold.
type Memory struct {
	ID                 string
	Content            string
	Type               Type
	Importance         float64
	Strength           float64
	ConsolidationState State
	Namespace          string
	Tags               []string
	CreatedAt          time.Time
	LastAccessedAt     time.Time
	AccessCount        int
	Embedding          []float64
	Metadata           map[string]any
}

// QueryResult pairs a memory with its relevance to a query or, for
// GetRelated, the strength of the connecting edge.
type QueryResult struct {
	Memory    Memory
	Relevance float64
}

// Edge connects two memories.
type Edge struct {
	SourceID           string
	TargetID           string
	Relationship       string
	Strength           float64
	CreatedAt          time.Time
	LastStrengthenedAt time.Time
}

// RecordOptions are the optional inputs of Record. Zero values take the
// service defaults: semantic, importance 0.5, namespace = agent id.
type RecordOptions struct {
	Type       Type
	Importance *float64
	Namespace  string
	Tags       []string
	Metadata   map[string]any
}

// QueryOptions narrow Query. Limit defaults to 10 and MinRelevance to 0.5.
type QueryOptions struct {
	Limit        int
	MinRelevance *float64
	Types        []Type
	Namespace    string
	Tags         []string
}

// UpdateOptions lists the fields to change. Nil fields are left untouched.
type UpdateOptions struct {
	Content    *string
	Importance *float64
	Tags       []string
	Metadata   map[string]any
}

// RelatedOptions narrow GetRelated. MinStrength defaults to 0.1 and Limit to 20.
type RelatedOptions struct {
	Relationship string
	MinStrength  *float64
	Limit        int
}

// Float returns a pointer to v, for the optional float fields above.
func Float(v float64) *float64 {
	return &v
}

// String returns a pointer to v.
func String(v string) *string {
	return &v
}

// wireMemory is the JSON shape returned by the service.
type wireMemory struct {
	ID                 string         `json:"id"`
	Content            string         `json:"content"`
	MemoryType         Type           `json:"memoryType"`
	Importance         float64        `json:"importance"`
	Strength           *float64       `json:"strength"`
	ConsolidationState State          `json:"consolidationState"`
	Namespace          string         `json:"namespace"`
	Tags               []string       `json:"tags"`
	CreatedAt          types.Time     `json:"createdAt"`
	LastAccessedAt     types.Time     `json:"lastAccessedAt"`
	AccessCount        int            `json:"accessCount"`
	Embedding          []float64      `json:"embedding"`
	Metadata           map[string]any `json:"metadata"`
}

func (w wireMemory) toMemory() (Memory, error) {
	if w.ID == "" {
		return Memory{}, fmt.Errorf("memory response missing id")
	}
	if !w.MemoryType.Valid() {
		return Memory{}, fmt.Errorf("memory %s: unknown memory type %q", w.ID, w.MemoryType)
	}

	m := Memory{
		ID:                 w.ID,
		Content:            w.Content,
		Type:               w.MemoryType,
		Importance:         w.Importance,
		Strength:           1.0,
		ConsolidationState: w.ConsolidationState,
		Namespace:          w.Namespace,
		Tags:               w.Tags,
		CreatedAt:          w.CreatedAt.Time,
		LastAccessedAt:     w.LastAccessedAt.Time,
		AccessCount:        w.AccessCount,
		Embedding:          w.Embedding,
		Metadata:           w.Metadata,
	}
	if w.Strength != nil {
		m.Strength = *w.Strength
	}
	if m.ConsolidationState == "" {
		m.ConsolidationState = StateActive
	}
	if !m.ConsolidationState.Valid() {
		return Memory{}, fmt.Errorf("memory %s: unknown consolidation state %q", w.ID, w.ConsolidationState)
	}
	if m.Tags == nil {
		m.Tags = []string{}
	}
	if m.Metadata == nil {
		m.Metadata = map[string]any{}
	}
	return m, nil
}

type wireEdge struct {
	SourceID           string     `json:"sourceId"`
	TargetID           string     `json:"targetId"`
	Relationship       string     `json:"relationship"`
	Strength           float64    `json:"strength"`
	CreatedAt          types.Time `json:"createdAt"`
	LastStrengthenedAt types.Time `json:"lastStrengthenedAt"`
}

type wireQueryResult struct {
	Memory       wireMemory `json:"memory"`
	Relevance    float64    `json:"relevance"`
	EdgeStrength float64    `json:"edgeStrength"`
}

type wireResults struct {
	Results []wireQueryResult `json:"results"`
}
