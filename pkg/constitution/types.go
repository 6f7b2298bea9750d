package constitution

import (
	"time"

	"github.com/bravozero/bravozero-go/pkg/types"
)

// Decision is the outcome of an evaluation.
type Decision string

const (
	DecisionPermit   Decision = "permit"
	DecisionDeny     Decision = "deny"
	DecisionEscalate Decision = "escalate"
)

// Valid reports whether d is one of the known decisions.
func (d Decision) Valid() bool {
	switch d {
	case DecisionPermit, DecisionDeny, DecisionEscalate:
		return true
	}
	return false
}

// Priority is the urgency attached to an evaluation request.
type Priority string

const (
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// AppliedRule is a rule that took part in an evaluation.
type AppliedRule struct {
	RuleID       string  `json:"ruleId"`
	Name         string  `json:"name"`
	Matched      bool    `json:"matched"`
	Contribution float64 `json:"contribution"`
}

// EvaluationResult is the Constitution Agent's verdict on an action.
type EvaluationResult struct {
	RequestID      string        `json:"requestId"`
	Decision       Decision      `json:"decision"`
	Confidence     float64       `json:"confidence"`
	AlignmentScore float64       `json:"alignmentScore"`
	AppliedRules   []AppliedRule `json:"appliedRules"`
	Reasoning      string        `json:"reasoning"`
	EvaluatedAt    time.Time     `json:"-"`
}

// Permitted reports whether the action may proceed.
func (r *EvaluationResult) Permitted() bool {
	return r.Decision == DecisionPermit
}

// wireEvaluation mirrors the JSON response before validation.
type wireEvaluation struct {
	RequestID      string        `json:"requestId"`
	Decision       Decision      `json:"decision"`
	Confidence     float64       `json:"confidence"`
	AlignmentScore float64       `json:"alignmentScore"`
	AppliedRules   []AppliedRule `json:"appliedRules"`
	Reasoning      string        `json:"reasoning"`
	EvaluatedAt    types.Time    `json:"evaluatedAt"`
}

// OmegaScore is the global alignment score.
type OmegaScore struct {
	Omega      float64            `json:"omega"`
	Components map[string]float64 `json:"components"`
	// Trend is one of improving, stable or degrading.
	Trend     string    `json:"trend"`
	Timestamp time.Time `json:"-"`
}

type wireOmega struct {
	Omega      float64            `json:"omega"`
	Components map[string]float64 `json:"components"`
	Trend      string             `json:"trend"`
	Timestamp  types.Time         `json:"timestamp"`
}

// Rule is a constitution rule definition. Fields the SDK does not model are
// kept in Extra.
type Rule struct {
	ID          string         `mapstructure:"id"`
	Name        string         `mapstructure:"name"`
	Description string         `mapstructure:"description"`
	Category    string         `mapstructure:"category"`
	Priority    string         `mapstructure:"priority"`
	Enabled     bool           `mapstructure:"enabled"`
	Weight      float64        `mapstructure:"weight"`
	Extra       map[string]any `mapstructure:",remain"`
}

// RuleFilter narrows ListRules. Empty fields are not sent.
type RuleFilter struct {
	Category string
	// Priority is one of critical, high, medium or low.
	Priority string
}

// EvaluateOptions are the optional inputs of Evaluate.
type EvaluateOptions struct {
	Context  map[string]any
	Priority Priority
}
