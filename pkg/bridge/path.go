package bridge

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"

	"github.com/bravozero/bravozero-go/pkg/transport"
)

// NormalizePath returns the canonical VFS form of p: slash-separated, rooted
// at "/", without "." segments, duplicate or trailing slashes. Paths whose
// ".." segments climb above the root are rejected. An empty path is the root.
func NormalizePath(p string) (string, error) {
	if strings.ContainsRune(p, 0) {
		return "", &transport.ValidationError{Field: "path", Message: "path contains a NUL byte"}
	}

	p = strings.ReplaceAll(p, "\\", "/")
	var parts []string
	for _, seg := range strings.Split(p, "/") {
		switch seg {
		case "", ".":
			continue
		case "..":
			if len(parts) == 0 {
				return "", &transport.ValidationError{Field: "path", Message: fmt.Sprintf("path '%s' is outside the VFS root", p)}
			}
			parts = parts[:len(parts)-1]
		default:
			parts = append(parts, seg)
		}
	}
	return "/" + strings.Join(parts, "/"), nil
}

// normalizeFilePath is NormalizePath for operations that need a file, not the root.
func normalizeFilePath(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", &transport.ValidationError{Field: "path", Message: "path cannot be empty"}
	}
	clean, err := NormalizePath(p)
	if err != nil {
		return "", err
	}
	if clean == "/" {
		return "", &transport.ValidationError{Field: "path", Message: "path must name a file, not the root"}
	}
	return clean, nil
}

// CompilePattern compiles a list pattern with '/' as the separator, so '*'
// stays within one path segment and '**' crosses them.
func CompilePattern(pattern string) (glob.Glob, error) {
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, &transport.ValidationError{Field: "pattern", Message: fmt.Sprintf("invalid glob '%s': %v", pattern, err)}
	}
	return g, nil
}

// ViolationType identifies which client-side policy rule rejected a call.
type ViolationType string

const (
	ViolationReadOnly    ViolationType = "read_only"
	ViolationFilePattern ViolationType = "file_pattern"
)

// PolicyViolation is returned when a path policy rejects a call before it is
// sent.
type PolicyViolation struct {
	Type    ViolationType
	Op      string
	Path    string
	Message string
}

func (e *PolicyViolation) Error() string {
	return fmt.Sprintf("bridge: policy violation (%s): %s", e.Type, e.Message)
}

// Policy restricts the paths this client may modify. Denied patterns take
// precedence; with no allowed patterns everything not denied is allowed.
// Reads are never restricted by patterns.
type Policy struct {
	ReadOnly bool
	Allowed  []string
	Denied   []string
}

type pathPolicy struct {
	readOnly bool
	allowed  []glob.Glob
	denied   []deniedPattern
}

type deniedPattern struct {
	pattern string
	glob    glob.Glob
}

func compilePolicy(p Policy) (*pathPolicy, error) {
	pp := &pathPolicy{readOnly: p.ReadOnly}

	for _, pattern := range p.Allowed {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid allowed pattern '%s': %w", pattern, err)
		}
		pp.allowed = append(pp.allowed, g)
	}

	for _, pattern := range p.Denied {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid denied pattern '%s': %w", pattern, err)
		}
		pp.denied = append(pp.denied, deniedPattern{pattern: pattern, glob: g})
	}

	return pp, nil
}

// isAllowed reports whether a normalized path may be modified. When a denied
// pattern rejects it, that pattern is returned.
func (pp *pathPolicy) isAllowed(path string) (bool, string) {
	for _, d := range pp.denied {
		if d.glob.Match(path) {
			return false, d.pattern
		}
	}

	if len(pp.allowed) == 0 {
		return true, ""
	}

	for _, pattern := range pp.allowed {
		if pattern.Match(path) {
			return true, ""
		}
	}

	return false, ""
}

// checkModify validates a write or delete of path.
func (pp *pathPolicy) checkModify(op, path string) error {
	if pp == nil {
		return nil
	}
	if pp.readOnly {
		return &PolicyViolation{
			Type:    ViolationReadOnly,
			Op:      op,
			Path:    path,
			Message: fmt.Sprintf("%s is not allowed in read-only mode", op),
		}
	}
	if ok, denied := pp.isAllowed(path); !ok {
		msg := fmt.Sprintf("file '%s' does not match allowed patterns", path)
		if denied != "" {
			msg = fmt.Sprintf("file '%s' matches denied pattern '%s'", path, denied)
		}
		return &PolicyViolation{
			Type:    ViolationFilePattern,
			Op:      op,
			Path:    path,
			Message: msg,
		}
	}
	return nil
}
