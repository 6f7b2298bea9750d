package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bravozero/bravozero-go/pkg/constitution"
)

// evaluationOutput is the printed form of an EvaluationResult.
type evaluationOutput struct {
	*constitution.EvaluationResult
	Action      string `json:"action"`
	EvaluatedAt string `json:"evaluatedAt,omitempty"`
}

func (a *app) evaluate(ctx context.Context, args []string) error {
	fs := a.newFlagSet("evaluate", "evaluate [-priority normal|high|critical] [-context json] <action>")
	priority := fs.String("priority", string(constitution.PriorityNormal), "Evaluation priority")
	rawContext := fs.String("context", "", "JSON object describing the action context")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireArgs(fs, 1, 1); err != nil {
		return err
	}

	opts := constitution.EvaluateOptions{Priority: constitution.Priority(*priority)}
	if *rawContext != "" {
		if err := json.Unmarshal([]byte(*rawContext), &opts.Context); err != nil {
			return fmt.Errorf("invalid -context: %w", err)
		}
	}

	c, err := a.newClient()
	if err != nil {
		return err
	}
	defer c.Close()

	action := fs.Arg(0)
	result, err := c.Constitution.Evaluate(ctx, action, opts)
	if result != nil {
		out := evaluationOutput{EvaluationResult: result, Action: action}
		if !result.EvaluatedAt.IsZero() {
			out.EvaluatedAt = result.EvaluatedAt.Format(time.RFC3339)
		}
		if printErr := a.printJSON(out); printErr != nil {
			return printErr
		}
	}
	return err
}

func (a *app) omega(ctx context.Context, args []string) error {
	fs := a.newFlagSet("omega", "omega")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireArgs(fs, 0, 0); err != nil {
		return err
	}

	c, err := a.newClient()
	if err != nil {
		return err
	}
	defer c.Close()

	score, err := c.Constitution.GetOmega(ctx)
	if err != nil {
		return err
	}
	return a.printJSON(struct {
		*constitution.OmegaScore
		Timestamp string `json:"timestamp,omitempty"`
	}{score, formatTime(score.Timestamp)})
}

func (a *app) rules(ctx context.Context, args []string) error {
	fs := a.newFlagSet("rules", "rules [-category c] [-priority p] [rule-id]")
	category := fs.String("category", "", "Only rules in this category")
	priority := fs.String("priority", "", "Only rules with this priority")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireArgs(fs, 0, 1); err != nil {
		return err
	}

	c, err := a.newClient()
	if err != nil {
		return err
	}
	defer c.Close()

	if fs.NArg() == 1 {
		rule, err := c.Constitution.GetRule(ctx, fs.Arg(0))
		if err != nil {
			return err
		}
		return a.printJSON(rule)
	}

	rules, err := c.Constitution.ListRules(ctx, constitution.RuleFilter{Category: *category, Priority: *priority})
	if err != nil {
		return err
	}
	return a.printJSON(rules)
}

func (a *app) values(ctx context.Context, args []string) error {
	fs := a.newFlagSet("values", "values")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireArgs(fs, 0, 0); err != nil {
		return err
	}

	c, err := a.newClient()
	if err != nil {
		return err
	}
	defer c.Close()

	values, err := c.Constitution.GetValues(ctx)
	if err != nil {
		return err
	}
	return a.printJSON(values)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
