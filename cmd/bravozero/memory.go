package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bravozero/bravozero-go/pkg/memory"
)

func (a *app) memory(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Fprintln(a.stderr, "Usage: bravozero memory record|query|get|update|delete|link|related|export|snapshots [options]")
		return errUsage
	}

	sub, subArgs := args[0], args[1:]
	switch sub {
	case "record":
		return a.memoryRecord(ctx, subArgs)
	case "query":
		return a.memoryQuery(ctx, subArgs)
	case "get":
		return a.memoryGet(ctx, subArgs)
	case "update":
		return a.memoryUpdate(ctx, subArgs)
	case "delete":
		return a.memoryDelete(ctx, subArgs)
	case "link":
		return a.memoryLink(ctx, subArgs)
	case "related":
		return a.memoryRelated(ctx, subArgs)
	case "export":
		return a.memoryExport(ctx, subArgs)
	case "snapshots":
		return a.memorySnapshots(subArgs)
	default:
		return fmt.Errorf("unknown memory command %q", sub)
	}
}

// splitList parses a comma-separated flag value.
func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseMetadata(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("invalid -metadata: %w", err)
	}
	return m, nil
}

func (a *app) memoryRecord(ctx context.Context, args []string) error {
	fs := a.newFlagSet("memory record", "memory record [-type t] [-importance f] [-namespace ns] [-tags a,b] [-metadata json] <content>")
	memType := fs.String("type", "", "episodic, semantic, procedural or working (default semantic)")
	importance := fs.Float64("importance", -1, "Importance in [0,1] (default 0.5)")
	namespace := fs.String("namespace", "", "Namespace (default the agent id)")
	tags := fs.String("tags", "", "Comma-separated tags")
	rawMeta := fs.String("metadata", "", "JSON object of metadata")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireArgs(fs, 1, 1); err != nil {
		return err
	}

	meta, err := parseMetadata(*rawMeta)
	if err != nil {
		return err
	}
	opts := memory.RecordOptions{
		Type:      memory.Type(*memType),
		Namespace: *namespace,
		Tags:      splitList(*tags),
		Metadata:  meta,
	}
	if *importance >= 0 {
		opts.Importance = memory.Float(*importance)
	}

	c, err := a.newClient()
	if err != nil {
		return err
	}
	defer c.Close()

	m, err := c.Memory.Record(ctx, fs.Arg(0), opts)
	if err != nil {
		return err
	}
	return a.printJSON(m)
}

func (a *app) memoryQuery(ctx context.Context, args []string) error {
	fs := a.newFlagSet("memory query", "memory query [-limit n] [-min-relevance f] [-types a,b] [-namespace ns] [-tags a,b] <query>")
	limit := fs.Int("limit", 0, "Maximum results (default 10)")
	minRelevance := fs.Float64("min-relevance", -1, "Minimum relevance (default 0.5)")
	types := fs.String("types", "", "Comma-separated memory types")
	namespace := fs.String("namespace", "", "Namespace")
	tags := fs.String("tags", "", "Comma-separated tags")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireArgs(fs, 1, 1); err != nil {
		return err
	}

	opts := memory.QueryOptions{
		Limit:     *limit,
		Namespace: *namespace,
		Tags:      splitList(*tags),
	}
	for _, t := range splitList(*types) {
		opts.Types = append(opts.Types, memory.Type(t))
	}
	if *minRelevance >= 0 {
		opts.MinRelevance = memory.Float(*minRelevance)
	}

	c, err := a.newClient()
	if err != nil {
		return err
	}
	defer c.Close()

	results, err := c.Memory.Query(ctx, fs.Arg(0), opts)
	if err != nil {
		return err
	}
	return a.printJSON(results)
}

func (a *app) memoryGet(ctx context.Context, args []string) error {
	fs := a.newFlagSet("memory get", "memory get <id>")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireArgs(fs, 1, 1); err != nil {
		return err
	}

	c, err := a.newClient()
	if err != nil {
		return err
	}
	defer c.Close()

	m, err := c.Memory.Get(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	return a.printJSON(m)
}

func (a *app) memoryUpdate(ctx context.Context, args []string) error {
	fs := a.newFlagSet("memory update", "memory update [-content s] [-importance f] [-tags a,b] [-metadata json] <id>")
	content := fs.String("content", "", "New content")
	importance := fs.Float64("importance", -1, "New importance")
	tags := fs.String("tags", "", "Replace tags")
	rawMeta := fs.String("metadata", "", "Replace metadata (JSON object)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireArgs(fs, 1, 1); err != nil {
		return err
	}

	meta, err := parseMetadata(*rawMeta)
	if err != nil {
		return err
	}
	opts := memory.UpdateOptions{Tags: splitList(*tags), Metadata: meta}
	if *content != "" {
		opts.Content = memory.String(*content)
	}
	if *importance >= 0 {
		opts.Importance = memory.Float(*importance)
	}

	c, err := a.newClient()
	if err != nil {
		return err
	}
	defer c.Close()

	m, err := c.Memory.Update(ctx, fs.Arg(0), opts)
	if err != nil {
		return err
	}
	return a.printJSON(m)
}

func (a *app) memoryDelete(ctx context.Context, args []string) error {
	fs := a.newFlagSet("memory delete", "memory delete <id>")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireArgs(fs, 1, 1); err != nil {
		return err
	}

	c, err := a.newClient()
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Memory.Delete(ctx, fs.Arg(0)); err != nil {
		return err
	}
	fmt.Fprintf(a.stderr, "Deleted %s\n", fs.Arg(0))
	return nil
}

func (a *app) memoryLink(ctx context.Context, args []string) error {
	fs := a.newFlagSet("memory link", "memory link [-strength f] <source-id> <target-id> <relationship>")
	strength := fs.Float64("strength", -1, "Edge strength (default 0.5)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireArgs(fs, 3, 3); err != nil {
		return err
	}

	var s *float64
	if *strength >= 0 {
		s = memory.Float(*strength)
	}

	c, err := a.newClient()
	if err != nil {
		return err
	}
	defer c.Close()

	edge, err := c.Memory.CreateEdge(ctx, fs.Arg(0), fs.Arg(1), fs.Arg(2), s)
	if err != nil {
		return err
	}
	return a.printJSON(edge)
}

func (a *app) memoryRelated(ctx context.Context, args []string) error {
	fs := a.newFlagSet("memory related", "memory related [-relationship r] [-min-strength f] [-limit n] <id>")
	relationship := fs.String("relationship", "", "Only edges of this relationship")
	minStrength := fs.Float64("min-strength", -1, "Minimum edge strength (default 0.1)")
	limit := fs.Int("limit", 0, "Maximum results (default 20)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireArgs(fs, 1, 1); err != nil {
		return err
	}

	opts := memory.RelatedOptions{Relationship: *relationship, Limit: *limit}
	if *minStrength >= 0 {
		opts.MinStrength = memory.Float(*minStrength)
	}

	c, err := a.newClient()
	if err != nil {
		return err
	}
	defer c.Close()

	results, err := c.Memory.GetRelated(ctx, fs.Arg(0), opts)
	if err != nil {
		return err
	}
	return a.printJSON(results)
}

// memoryExport fetches memories and stores them as a local snapshot. With
// -query the ids come from a query instead of the arguments.
func (a *app) memoryExport(ctx context.Context, args []string) error {
	fs := a.newFlagSet("memory export", "memory export -dir path [-query q [-limit n]] [id...]")
	dir := fs.String("dir", "", "Snapshot directory")
	query := fs.String("query", "", "Export the results of this query")
	limit := fs.Int("limit", 0, "Maximum query results")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dir == "" || (*query == "" && fs.NArg() == 0) {
		fs.Usage()
		return errUsage
	}

	c, err := a.newClient()
	if err != nil {
		return err
	}
	defer c.Close()

	var memories []memory.Memory
	if *query != "" {
		results, err := c.Memory.Query(ctx, *query, memory.QueryOptions{Limit: *limit})
		if err != nil {
			return err
		}
		for _, r := range results {
			memories = append(memories, r.Memory)
		}
	}
	for _, id := range fs.Args() {
		m, err := c.Memory.Get(ctx, id)
		if err != nil {
			return err
		}
		memories = append(memories, *m)
	}

	if err := memory.WriteSnapshot(*dir, memories); err != nil {
		return err
	}
	fmt.Fprintf(a.stderr, "Exported %d memories to %s\n", len(memories), *dir)
	return nil
}

// memorySnapshots lists the memories stored in a local snapshot.
func (a *app) memorySnapshots(args []string) error {
	fs := a.newFlagSet("memory snapshots", "memory snapshots -dir path")
	dir := fs.String("dir", "", "Snapshot directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dir == "" {
		fs.Usage()
		return errUsage
	}

	memories, err := memory.ReadSnapshot(*dir)
	if err != nil {
		return err
	}
	for _, m := range memories {
		fmt.Fprintf(a.stdout, "%s\t%s\t%.2f\t%s\n", m.ID, m.Type, m.Importance, firstLine(m.Content))
	}
	return nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 72 {
		s = s[:69] + "..."
	}
	return s
}
