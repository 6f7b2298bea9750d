// Package bridge is the client for the Forge Bridge, which exposes repository
// files through a virtualized filesystem (VFS).
//
// Reads, writes and deletes of file content are signed with a PERSONA
// attestation when the transport has an attester. Paths are normalized and
// checked client-side; an optional Policy can further restrict which paths
// this client may modify.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/samber/lo"

	"github.com/bravozero/bravozero-go/pkg/transport"
)

// ServiceName is the path segment under /v1.
const ServiceName = "bridge"

// Attested action names.
const (
	ActionReadFile      = "bridge.read_file"
	ActionReadFileBytes = "bridge.read_file_bytes"
	ActionWriteFile     = "bridge.write_file"
	ActionDeleteFile    = "bridge.delete_file"
)

// Error wraps a failed Forge Bridge call with the operation and path.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("bridge: %s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("bridge: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrap(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var pv *PolicyViolation
	if errors.As(err, &pv) {
		return err
	}
	return &Error{Op: op, Path: path, Err: err}
}

// Client calls the Forge Bridge API.
type Client struct {
	svc    *transport.Service
	policy *pathPolicy
}

// Option configures a Client.
type Option func(*Client) error

// WithPolicy restricts the paths the client may write or delete.
func WithPolicy(p Policy) Option {
	return func(c *Client) error {
		pp, err := compilePolicy(p)
		if err != nil {
			return fmt.Errorf("failed to create path policy: %w", err)
		}
		c.policy = pp
		return nil
	}
}

// New creates a Forge Bridge client on tc.
func New(tc *transport.Client, opts ...Option) (*Client, error) {
	c := &Client{svc: tc.Service(ServiceName)}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ListFiles lists the directory at path. 429 yields *transport.RateLimitError.
func (c *Client) ListFiles(ctx context.Context, path string, opts ListOptions) (*DirectoryListing, error) {
	clean, err := NormalizePath(path)
	if err != nil {
		return nil, wrap("list files", path, err)
	}
	if opts.Pattern != "" {
		if _, err := CompilePattern(opts.Pattern); err != nil {
			return nil, wrap("list files", clean, err)
		}
	}

	query := url.Values{}
	query.Set("path", clean)
	query.Set("recursive", strconv.FormatBool(opts.Recursive))
	if opts.Pattern != "" {
		query.Set("pattern", opts.Pattern)
	}

	var wire wireListing
	if err := c.svc.Do(ctx, &transport.Request{Method: http.MethodGet, Path: "/files", Query: query}, &wire); err != nil {
		return nil, wrap("list files", clean, err)
	}

	listing := &DirectoryListing{
		Path:  wire.Path,
		Files: lo.Map(wire.Files, func(f wireFileInfo, _ int) FileInfo { return f.toFileInfo() }),
	}
	if listing.Path == "" {
		listing.Path = clean
	}
	if wire.TotalCount != nil {
		listing.TotalCount = *wire.TotalCount
	} else {
		listing.TotalCount = len(listing.Files)
	}
	return listing, nil
}

// ReadFile returns the text content of the file at path.
func (c *Client) ReadFile(ctx context.Context, path string) (string, error) {
	clean, err := normalizeFilePath(path)
	if err != nil {
		return "", wrap("read file", path, err)
	}

	var wire struct {
		Content *string `json:"content"`
	}
	err = c.svc.Do(ctx, &transport.Request{
		Method: http.MethodGet,
		Path:   "/file",
		Query:  url.Values{"path": {clean}},
		Action: ActionReadFile,
	}, &wire)
	if err != nil {
		return "", wrap("read file", clean, err)
	}
	if wire.Content == nil {
		return "", wrap("read file", clean, fmt.Errorf("response missing content"))
	}
	return *wire.Content, nil
}

// ReadFileBytes returns the raw bytes of the file at path.
func (c *Client) ReadFileBytes(ctx context.Context, path string) ([]byte, error) {
	clean, err := normalizeFilePath(path)
	if err != nil {
		return nil, wrap("read file bytes", path, err)
	}

	body, err := c.svc.DoRaw(ctx, &transport.Request{
		Method: http.MethodGet,
		Path:   "/file/bytes",
		Query:  url.Values{"path": {clean}},
		Action: ActionReadFileBytes,
		Accept: "application/octet-stream",
	})
	if err != nil {
		return nil, wrap("read file bytes", clean, err)
	}
	return body, nil
}

type writeRequest struct {
	Path       string `json:"path"`
	Content    string `json:"content"`
	CreateDirs bool   `json:"createDirs"`
}

// WriteFile replaces the content of the file at path and returns its new info.
func (c *Client) WriteFile(ctx context.Context, path, content string, opts WriteOptions) (*FileInfo, error) {
	clean, err := normalizeFilePath(path)
	if err != nil {
		return nil, wrap("write file", path, err)
	}
	if err := c.policy.checkModify("write file", clean); err != nil {
		return nil, err
	}

	req := writeRequest{Path: clean, Content: content, CreateDirs: true}
	if opts.CreateDirs != nil {
		req.CreateDirs = *opts.CreateDirs
	}

	var wire wireFileInfo
	err = c.svc.Do(ctx, &transport.Request{
		Method: http.MethodPut,
		Path:   "/file",
		Body:   req,
		Action: ActionWriteFile,
	}, &wire)
	if err != nil {
		return nil, wrap("write file", clean, err)
	}
	info := wire.toFileInfo()
	return &info, nil
}

// DeleteFile removes the file at path.
func (c *Client) DeleteFile(ctx context.Context, path string) error {
	clean, err := normalizeFilePath(path)
	if err != nil {
		return wrap("delete file", path, err)
	}
	if err := c.policy.checkModify("delete file", clean); err != nil {
		return err
	}

	err = c.svc.Do(ctx, &transport.Request{
		Method: http.MethodDelete,
		Path:   "/file",
		Query:  url.Values{"path": {clean}},
		Action: ActionDeleteFile,
	}, nil)
	return wrap("delete file", clean, err)
}

// GetFileInfo returns metadata for the file at path.
func (c *Client) GetFileInfo(ctx context.Context, path string) (*FileInfo, error) {
	clean, err := NormalizePath(path)
	if err != nil {
		return nil, wrap("get file info", path, err)
	}

	var wire wireFileInfo
	err = c.svc.Do(ctx, &transport.Request{
		Method: http.MethodGet,
		Path:   "/file/info",
		Query:  url.Values{"path": {clean}},
	}, &wire)
	if err != nil {
		return nil, wrap("get file info", clean, err)
	}
	info := wire.toFileInfo()
	return &info, nil
}

// Sync triggers VFS synchronization of path. An empty path syncs the root.
func (c *Client) Sync(ctx context.Context, path string) (*SyncStatus, error) {
	clean, err := NormalizePath(path)
	if err != nil {
		return nil, wrap("sync", path, err)
	}

	var wire wireSyncStatus
	err = c.svc.Do(ctx, &transport.Request{
		Method: http.MethodPost,
		Path:   "/sync",
		Body:   map[string]string{"path": clean},
	}, &wire)
	if err != nil {
		return nil, wrap("sync", clean, err)
	}
	return wire.toSyncStatus(), nil
}

// GetSyncStatus reports the synchronization state of path. An empty path is
// the root.
func (c *Client) GetSyncStatus(ctx context.Context, path string) (*SyncStatus, error) {
	clean, err := NormalizePath(path)
	if err != nil {
		return nil, wrap("get sync status", path, err)
	}

	var wire wireSyncStatus
	err = c.svc.Do(ctx, &transport.Request{
		Method: http.MethodGet,
		Path:   "/sync/status",
		Query:  url.Values{"path": {clean}},
	}, &wire)
	if err != nil {
		return nil, wrap("get sync status", clean, err)
	}
	return wire.toSyncStatus(), nil
}
