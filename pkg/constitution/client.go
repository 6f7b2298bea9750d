// Package constitution is the client for the Constitution Agent, which
// evaluates agent actions against the governing rules and reports the global
// Omega alignment score.
//
// Evaluate is signed with a PERSONA attestation when the transport has an
// attester. A deny decision is returned as *DeniedError so callers cannot
// mistake it for permission:
//
//	result, err := c.Evaluate(ctx, "read_file", constitution.EvaluateOptions{
//	    Context: map[string]any{"path": "/data/report.csv"},
//	})
//	var denied *constitution.DeniedError
//	if errors.As(err, &denied) {
//	    log.Printf("denied: %s", denied.Result.Reasoning)
//	}
package constitution

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/mitchellh/mapstructure"

	"github.com/bravozero/bravozero-go/pkg/transport"
)

// ServiceName is the path segment under /v1.
const ServiceName = "constitution"

// ActionEvaluate is the attested action name for Evaluate.
const ActionEvaluate = "evaluate"

// Client calls the Constitution Agent API.
type Client struct {
	svc     *transport.Service
	agentID string
}

// New creates a Constitution Agent client on tc.
func New(tc *transport.Client) *Client {
	return &Client{
		svc:     tc.Service(ServiceName),
		agentID: tc.AgentID(),
	}
}

type evaluateRequest struct {
	AgentID  string         `json:"agentId"`
	Action   string         `json:"action"`
	Context  map[string]any `json:"context"`
	Priority Priority       `json:"priority"`
}

// Evaluate asks whether the agent may perform action. A deny decision yields
// *DeniedError carrying the result; 429 yields *transport.RateLimitError.
func (c *Client) Evaluate(ctx context.Context, action string, opts EvaluateOptions) (*EvaluationResult, error) {
	if action == "" {
		return nil, wrap("evaluate", &transport.ValidationError{Field: "action", Message: "must not be empty"})
	}

	body := evaluateRequest{
		AgentID:  c.agentID,
		Action:   action,
		Context:  opts.Context,
		Priority: opts.Priority,
	}
	if body.Context == nil {
		body.Context = map[string]any{}
	}
	if body.Priority == "" {
		body.Priority = PriorityNormal
	}

	var wire wireEvaluation
	err := c.svc.Do(ctx, &transport.Request{
		Method: http.MethodPost,
		Path:   "/evaluate",
		Body:   body,
		Action: ActionEvaluate,
	}, &wire)
	if err != nil {
		return nil, wrap("evaluate", err)
	}

	if !wire.Decision.Valid() {
		return nil, wrap("evaluate", fmt.Errorf("unknown decision %q", wire.Decision))
	}

	result := &EvaluationResult{
		RequestID:      wire.RequestID,
		Decision:       wire.Decision,
		Confidence:     wire.Confidence,
		AlignmentScore: wire.AlignmentScore,
		AppliedRules:   wire.AppliedRules,
		Reasoning:      wire.Reasoning,
		EvaluatedAt:    wire.EvaluatedAt.Time,
	}
	if result.AppliedRules == nil {
		result.AppliedRules = []AppliedRule{}
	}

	if result.Decision == DecisionDeny {
		return result, &DeniedError{Action: action, Result: result}
	}
	return result, nil
}

// GetOmega returns the current global Omega score.
func (c *Client) GetOmega(ctx context.Context) (*OmegaScore, error) {
	var wire wireOmega
	if err := c.svc.Do(ctx, &transport.Request{Method: http.MethodGet, Path: "/omega"}, &wire); err != nil {
		return nil, wrap("get omega", err)
	}

	score := &OmegaScore{
		Omega:      wire.Omega,
		Components: wire.Components,
		Trend:      wire.Trend,
		Timestamp:  wire.Timestamp.Time,
	}
	if score.Components == nil {
		score.Components = map[string]float64{}
	}
	if score.Trend == "" {
		score.Trend = "stable"
	}
	return score, nil
}

// ListRules lists the constitution rules matching filter.
func (c *Client) ListRules(ctx context.Context, filter RuleFilter) ([]Rule, error) {
	query := url.Values{}
	if filter.Category != "" {
		query.Set("category", filter.Category)
	}
	if filter.Priority != "" {
		query.Set("priority", filter.Priority)
	}

	var raw json.RawMessage
	if err := c.svc.Do(ctx, &transport.Request{Method: http.MethodGet, Path: "/rules", Query: query}, &raw); err != nil {
		return nil, wrap("list rules", err)
	}

	items, err := ruleItems(raw)
	if err != nil {
		return nil, wrap("list rules", err)
	}

	rules := make([]Rule, 0, len(items))
	for _, item := range items {
		rule, err := decodeRule(item)
		if err != nil {
			return nil, wrap("list rules", err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// GetRule fetches one rule by id.
func (c *Client) GetRule(ctx context.Context, id string) (*Rule, error) {
	if id == "" {
		return nil, wrap("get rule", &transport.ValidationError{Field: "id", Message: "must not be empty"})
	}

	var item map[string]any
	if err := c.svc.Do(ctx, &transport.Request{Method: http.MethodGet, Path: "/rules/" + url.PathEscape(id)}, &item); err != nil {
		return nil, wrap("get rule", err)
	}

	rule, err := decodeRule(item)
	if err != nil {
		return nil, wrap("get rule", err)
	}
	return &rule, nil
}

// GetValues returns the current values database.
func (c *Client) GetValues(ctx context.Context) (map[string]any, error) {
	values := map[string]any{}
	if err := c.svc.Do(ctx, &transport.Request{Method: http.MethodGet, Path: "/values"}, &values); err != nil {
		return nil, wrap("get values", err)
	}
	return values, nil
}

// ruleItems accepts either a bare array or an object with a "rules" array.
func ruleItems(raw json.RawMessage) ([]map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var items []map[string]any
	if err := json.Unmarshal(raw, &items); err == nil {
		return items, nil
	}

	var wrapped struct {
		Rules []map[string]any `json:"rules"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("unexpected rules response: %w", err)
	}
	return wrapped.Rules, nil
}

func decodeRule(item map[string]any) (Rule, error) {
	var rule Rule
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &rule,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return Rule{}, err
	}
	if err := decoder.Decode(item); err != nil {
		return Rule{}, fmt.Errorf("failed to decode rule: %w", err)
	}
	if rule.ID == "" {
		if id, ok := rule.Extra["ruleId"].(string); ok {
			rule.ID = id
			delete(rule.Extra, "ruleId")
		}
	}
	return rule, nil
}
