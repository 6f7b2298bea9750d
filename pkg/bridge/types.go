package bridge

import (
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/bravozero/bravozero-go/pkg/types"
)

// FileInfo describes a file or directory in the VFS.
type FileInfo struct {
	Path        string
	Name        string
	Size        int64
	IsDirectory bool
	ModifiedAt  time.Time
	CreatedAt   *time.Time
	Permissions string
}

// DirectoryListing is the result of ListFiles.
type DirectoryListing struct {
	Path       string
	Files      []FileInfo
	TotalCount int
}

// Filter returns the entries matching pattern. Patterns containing '/' are
// matched against the full path, others against the base name.
func (l *DirectoryListing) Filter(pattern string) ([]FileInfo, error) {
	g, err := CompilePattern(pattern)
	if err != nil {
		return nil, err
	}
	byPath := strings.Contains(pattern, "/")
	return lo.Filter(l.Files, func(f FileInfo, _ int) bool {
		if byPath {
			return g.Match(f.Path)
		}
		return g.Match(f.Name)
	}), nil
}

// Directories returns only the directory entries.
func (l *DirectoryListing) Directories() []FileInfo {
	return lo.Filter(l.Files, func(f FileInfo, _ int) bool { return f.IsDirectory })
}

// SyncStatus reports VFS synchronization for a path.
type SyncStatus struct {
	Path           string
	Synced         bool
	LastSyncAt     *time.Time
	PendingChanges int
}

// ListOptions narrow ListFiles.
type ListOptions struct {
	Recursive bool
	// Pattern is a glob evaluated by the service. It is compiled locally
	// first so malformed patterns fail without a round trip.
	Pattern string
}

// WriteOptions tune WriteFile. CreateDirs defaults to true.
type WriteOptions struct {
	CreateDirs *bool
}

// Bool returns a pointer to v.
func Bool(v bool) *bool {
	return &v
}

type wireFileInfo struct {
	Path        string     `json:"path"`
	Name        string     `json:"name"`
	Size        int64      `json:"size"`
	IsDirectory bool       `json:"isDirectory"`
	ModifiedAt  types.Time `json:"modifiedAt"`
	CreatedAt   types.Time `json:"createdAt"`
	Permissions string     `json:"permissions"`
}

func (w wireFileInfo) toFileInfo() FileInfo {
	return FileInfo{
		Path:        w.Path,
		Name:        w.Name,
		Size:        w.Size,
		IsDirectory: w.IsDirectory,
		ModifiedAt:  w.ModifiedAt.Time,
		CreatedAt:   w.CreatedAt.Ptr(),
		Permissions: w.Permissions,
	}
}

type wireListing struct {
	Path       string         `json:"path"`
	Files      []wireFileInfo `json:"files"`
	TotalCount *int           `json:"totalCount"`
}

type wireSyncStatus struct {
	Path           string     `json:"path"`
	Synced         bool       `json:"synced"`
	LastSyncAt     types.Time `json:"lastSyncAt"`
	PendingChanges int        `json:"pendingChanges"`
}

func (w wireSyncStatus) toSyncStatus() *SyncStatus {
	return &SyncStatus{
		Path:           w.Path,
		Synced:         w.Synced,
		LastSyncAt:     w.LastSyncAt.Ptr(),
		PendingChanges: w.PendingChanges,
	}
}
