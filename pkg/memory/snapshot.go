package memory

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bravozero/bravozero-go/pkg/logging"
)

const frontMatterDelimiter = "---"

// snapshotMeta is the YAML front-matter of a snapshot file. The memory
// content is the Markdown body.
type snapshotMeta struct {
	ID                 string         `yaml:"id"`
	Type               Type           `yaml:"type"`
	Importance         float64        `yaml:"importance"`
	Strength           float64        `yaml:"strength"`
	ConsolidationState State          `yaml:"consolidation_state"`
	Namespace          string         `yaml:"namespace"`
	Tags               []string       `yaml:"tags,omitempty"`
	CreatedAt          time.Time      `yaml:"created_at"`
	LastAccessedAt     time.Time      `yaml:"last_accessed_at"`
	AccessCount        int            `yaml:"access_count"`
	Metadata           map[string]any `yaml:"metadata,omitempty"`
}

// SnapshotStore keeps memories as Markdown files with YAML front-matter, one
// file per memory id. Embeddings are not stored.
type SnapshotStore struct {
	dir    string
	logger *logging.Logger
}

// NewSnapshotStore creates dir if needed. A nil logger discards output.
func NewSnapshotStore(dir string, logger *logging.Logger) (*SnapshotStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("memory: snapshot directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("memory: init snapshot directory %s: %w", dir, err)
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &SnapshotStore{dir: dir, logger: logger}, nil
}

// Dir returns the snapshot directory.
func (s *SnapshotStore) Dir() string {
	return s.dir
}

func (s *SnapshotStore) pathForID(id string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("memory: invalid snapshot id (empty)")
	}
	dir, err := filepath.Abs(s.dir)
	if err != nil {
		return "", fmt.Errorf("memory: abs dir: %w", err)
	}
	if strings.ContainsAny(id, "/\\") {
		return "", fmt.Errorf("memory: invalid snapshot id %q (contains path separator)", id)
	}
	resolved := filepath.Join(dir, id+".md")
	if !strings.HasPrefix(resolved, dir+string(filepath.Separator)) {
		return "", fmt.Errorf("memory: path traversal detected for id %q", id)
	}
	return resolved, nil
}

// Write stores m, replacing any previous snapshot of the same id. The file is
// written to a temporary name and renamed into place.
func (s *SnapshotStore) Write(m Memory) error {
	path, err := s.pathForID(m.ID)
	if err != nil {
		return err
	}
	b, err := MarshalSnapshot(m)
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("memory: write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("memory: atomic rename %s: %w", path, err)
	}
	return nil
}

// WriteAll stores every memory, stopping at the first failure.
func (s *SnapshotStore) WriteAll(memories []Memory) error {
	for _, m := range memories {
		if err := s.Write(m); err != nil {
			return err
		}
	}
	return nil
}

// Read loads one memory. Unknown ids return ErrNotFound.
func (s *SnapshotStore) Read(id string) (*Memory, error) {
	path, err := s.pathForID(id)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("memory: read %s: %w", path, err)
	}
	m, err := UnmarshalSnapshot(b)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// List returns every readable snapshot ordered by creation time. Corrupt or
// unreadable files are skipped.
func (s *SnapshotStore) List() ([]Memory, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("memory: list %s: %w", s.dir, err)
	}

	var out []Memory
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".md" {
			continue
		}
		filePath := filepath.Join(s.dir, e.Name())
		b, err := os.ReadFile(filePath)
		if err != nil {
			s.logger.Warnf("skipping unreadable snapshot %s: %v", filePath, err)
			continue
		}
		m, err := UnmarshalSnapshot(b)
		if err != nil {
			s.logger.Warnf("skipping corrupt snapshot %s: %v", filePath, err)
			continue
		}
		out = append(out, m)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Delete removes a snapshot. Unknown ids return ErrNotFound.
func (s *SnapshotStore) Delete(id string) error {
	path, err := s.pathForID(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("memory: delete %s: %w", path, err)
	}
	return nil
}

// WriteSnapshot stores memories under dir.
func WriteSnapshot(dir string, memories []Memory) error {
	store, err := NewSnapshotStore(dir, nil)
	if err != nil {
		return err
	}
	return store.WriteAll(memories)
}

// ReadSnapshot loads every memory stored under dir.
func ReadSnapshot(dir string) ([]Memory, error) {
	store, err := NewSnapshotStore(dir, nil)
	if err != nil {
		return nil, err
	}
	return store.List()
}

// MarshalSnapshot renders m as Markdown with YAML front-matter.
func MarshalSnapshot(m Memory) ([]byte, error) {
	meta := snapshotMeta{
		ID:                 m.ID,
		Type:               m.Type,
		Importance:         m.Importance,
		Strength:           m.Strength,
		ConsolidationState: m.ConsolidationState,
		Namespace:          m.Namespace,
		Tags:               m.Tags,
		CreatedAt:          m.CreatedAt.UTC(),
		LastAccessedAt:     m.LastAccessedAt.UTC(),
		AccessCount:        m.AccessCount,
		Metadata:           m.Metadata,
	}
	yamlBytes, err := yaml.Marshal(&meta)
	if err != nil {
		return nil, fmt.Errorf("memory: serialize error: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(frontMatterDelimiter + "\n")
	sb.Write(yamlBytes)
	sb.WriteString(frontMatterDelimiter + "\n\n")
	sb.WriteString(m.Content)
	return []byte(sb.String()), nil
}

// UnmarshalSnapshot parses a file produced by MarshalSnapshot.
func UnmarshalSnapshot(raw []byte) (Memory, error) {
	s := string(raw)
	if !strings.HasPrefix(s, frontMatterDelimiter) {
		return Memory{}, fmt.Errorf("memory: missing front-matter delimiter")
	}
	rest := s[len(frontMatterDelimiter):]
	idx := strings.Index(rest, "\n"+frontMatterDelimiter)
	if idx == -1 {
		return Memory{}, fmt.Errorf("memory: unclosed front-matter block")
	}
	yamlBlock := rest[:idx]
	body := rest[idx+len("\n"+frontMatterDelimiter):]
	if strings.HasPrefix(body, "\n\n") {
		body = body[2:]
	} else if strings.HasPrefix(body, "\n") {
		body = body[1:]
	}

	var meta snapshotMeta
	if err := yaml.Unmarshal([]byte(yamlBlock), &meta); err != nil {
		return Memory{}, fmt.Errorf("memory: front-matter parse error: %w", err)
	}
	if meta.ID == "" {
		return Memory{}, fmt.Errorf("memory: front-matter missing id")
	}

	m := Memory{
		ID:                 meta.ID,
		Content:            body,
		Type:               meta.Type,
		Importance:         meta.Importance,
		Strength:           meta.Strength,
		ConsolidationState: meta.ConsolidationState,
		Namespace:          meta.Namespace,
		Tags:               meta.Tags,
		CreatedAt:          meta.CreatedAt,
		LastAccessedAt:     meta.LastAccessedAt,
		AccessCount:        meta.AccessCount,
		Metadata:           meta.Metadata,
	}
	if m.ConsolidationState == "" {
		m.ConsolidationState = StateActive
	}
	if m.Tags == nil {
		m.Tags = []string{}
	}
	if m.Metadata == nil {
		m.Metadata = map[string]any{}
	}
	return m, nil
}
