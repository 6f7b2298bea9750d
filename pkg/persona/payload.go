package persona

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Payload is the logical content of an attestation. Action is optional:
// HasAction distinguishes "no action" from an explicitly empty action, and
// the two serialize differently.
type Payload struct {
	AgentID   string
	Timestamp int64 // Unix seconds
	Nonce     string
	Action    string
	HasAction bool
}

// Canonical returns the bytes that get signed: compact JSON with keys sorted
// lexicographically, UTF-8, no HTML escaping and no trailing newline.
func (p Payload) Canonical() ([]byte, error) {
	fields := map[string]any{
		"agent_id":  p.AgentID,
		"timestamp": p.Timestamp,
		"nonce":     p.Nonce,
	}
	if p.HasAction {
		fields["action"] = p.Action
	}
	return canonicalJSON(fields)
}

// canonicalJSON marshals v with sorted map keys. encoding/json already sorts
// map keys; escaping is turned off so "<", ">" and "&" stay literal.
func canonicalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("persona: canonical encode: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// wirePayload mirrors the canonical JSON for decoding. Action is a pointer
// only here, to detect whether the key was present.
type wirePayload struct {
	Action    *string     `json:"action"`
	AgentID   string      `json:"agent_id"`
	Nonce     string      `json:"nonce"`
	Timestamp json.Number `json:"timestamp"`
}

// ParsePayload decodes canonical payload bytes back into a Payload.
func ParsePayload(data []byte) (Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	dec.DisallowUnknownFields()

	var w wirePayload
	if err := dec.Decode(&w); err != nil {
		return Payload{}, fmt.Errorf("persona: decode payload: %w", err)
	}

	if w.AgentID == "" {
		return Payload{}, fmt.Errorf("persona: decode payload: missing agent_id")
	}
	ts, err := strconv.ParseInt(w.Timestamp.String(), 10, 64)
	if err != nil {
		return Payload{}, fmt.Errorf("persona: decode payload: timestamp %q is not an integer", w.Timestamp)
	}

	p := Payload{
		AgentID:   w.AgentID,
		Timestamp: ts,
		Nonce:     w.Nonce,
	}
	if w.Action != nil {
		p.Action = *w.Action
		p.HasAction = true
	}
	return p, nil
}
