// Package sandbox confines filesystem access to a fixed set of allowed
// roots. Tool handlers borrow a Sandbox and never touch the filesystem
// directly; every path is resolved (symlinks included) and checked for
// containment before any I/O happens.
package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Stable error codes surfaced to tool results.
const (
	CodePathNotAllowed      = "path_not_allowed"
	CodeNotFound            = "not_found"
	CodeNotAFile            = "not_a_file"
	CodeNotADirectory       = "not_a_directory"
	CodeReadTooLarge        = "read_too_large"
	CodeWriteTooLarge       = "write_too_large"
	CodeWriteNotAllowed     = "write_not_allowed"
	CodeDeleteNotAllowed    = "delete_not_allowed"
	CodeListLimitExceeded   = "list_limit_exceeded"
	CodeSearchLimitExceeded = "search_limit_exceeded"
	CodeIOError             = "io_error"
	CodeInvalidPath         = "invalid_path"
)

const (
	// DefaultMaxReadBytes caps a single read.
	DefaultMaxReadBytes = 1 << 20
	// DefaultMaxWriteBytes caps a single write.
	DefaultMaxWriteBytes = 1 << 20
	// DefaultMaxListEntries caps a directory listing.
	DefaultMaxListEntries = 1000
	// DefaultMaxVisited caps the entries a search may traverse.
	DefaultMaxVisited = 20000
)

type (
	// Options configures a Sandbox.
	Options struct {
		// Roots are the allowed directories. Required, and each must
		// exist at construction. Relative paths in operations resolve
		// against the first root.
		Roots []string
		// AllowWrite enables WriteText.
		AllowWrite bool
		// AllowDelete enables Delete.
		AllowDelete bool
		// MaxReadBytes caps ReadText. Defaults to 1 MiB.
		MaxReadBytes int64
		// MaxWriteBytes caps WriteText. Defaults to 1 MiB.
		MaxWriteBytes int64
		// MaxListEntries caps ListDir. Defaults to 1000.
		MaxListEntries int
		// MaxVisited caps entries traversed by Search. Defaults to 20000.
		MaxVisited int
	}

	// Sandbox performs containment-checked filesystem operations. Roots are
	// resolved once at construction and immutable afterwards.
	Sandbox struct {
		roots          []string
		allowWrite     bool
		allowDelete    bool
		maxReadBytes   int64
		maxWriteBytes  int64
		maxListEntries int
		maxVisited     int
	}

	// Info describes a file or directory inside the sandbox.
	Info struct {
		Name     string    `json:"name"`
		Path     string    `json:"path"`
		Size     int64     `json:"size"`
		IsDir    bool      `json:"is_dir"`
		Modified time.Time `json:"modified"`
	}

	// Error is a sandbox failure with a stable code.
	Error struct {
		Code string
		Path string
		Err  error
	}
)

// Error implements error.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sandbox: %s: %s: %s", e.Code, e.Path, e.Err)
	}
	return fmt.Sprintf("sandbox: %s: %s", e.Code, e.Path)
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// CodeOf returns the sandbox error code of err, or "" when err is not a
// sandbox error.
func CodeOf(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// New constructs a Sandbox. Every root must exist; roots are resolved to
// absolute, symlink-free paths up front.
func New(opts *Options) (*Sandbox, error) {
	if opts == nil || len(opts.Roots) == 0 {
		return nil, errors.New("sandbox: at least one root is required")
	}
	s := &Sandbox{
		allowWrite:     opts.AllowWrite,
		allowDelete:    opts.AllowDelete,
		maxReadBytes:   opts.MaxReadBytes,
		maxWriteBytes:  opts.MaxWriteBytes,
		maxListEntries: opts.MaxListEntries,
		maxVisited:     opts.MaxVisited,
	}
	if s.maxReadBytes <= 0 {
		s.maxReadBytes = DefaultMaxReadBytes
	}
	if s.maxWriteBytes <= 0 {
		s.maxWriteBytes = DefaultMaxWriteBytes
	}
	if s.maxListEntries <= 0 {
		s.maxListEntries = DefaultMaxListEntries
	}
	if s.maxVisited <= 0 {
		s.maxVisited = DefaultMaxVisited
	}
	for _, root := range opts.Roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("sandbox: resolve root %q: %w", root, err)
		}
		resolved, err := filepath.EvalSymlinks(abs)
		if err != nil {
			return nil, fmt.Errorf("sandbox: root %q must exist: %w", root, err)
		}
		s.roots = append(s.roots, resolved)
	}
	return s, nil
}

// Roots returns the resolved allowed roots.
func (s *Sandbox) Roots() []string {
	out := make([]string, len(s.roots))
	copy(out, s.roots)
	return out
}

// Resolve maps p to an absolute, symlink-free path and verifies containment
// in an allowed root. Relative paths join against the first root. For
// non-existent targets the parent must exist and resolve inside a root.
func (s *Sandbox) Resolve(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", &Error{Code: CodeInvalidPath, Path: p}
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(s.roots[0], p)
	}
	p = filepath.Clean(p)

	resolved, err := filepath.EvalSymlinks(p)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", &Error{Code: CodeIOError, Path: p, Err: err}
		}
		parent, err := filepath.EvalSymlinks(filepath.Dir(p))
		if err != nil {
			if os.IsNotExist(err) {
				return "", &Error{Code: CodeNotFound, Path: p, Err: err}
			}
			return "", &Error{Code: CodeIOError, Path: p, Err: err}
		}
		resolved = filepath.Join(parent, filepath.Base(p))
	}
	if !s.contained(resolved) {
		return "", &Error{Code: CodePathNotAllowed, Path: p}
	}
	return resolved, nil
}

// ReadText returns the content of a file, capped at MaxReadBytes.
func (s *Sandbox) ReadText(p string) (string, error) {
	resolved, err := s.Resolve(p)
	if err != nil {
		return "", err
	}
	fi, err := os.Stat(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return "", &Error{Code: CodeNotFound, Path: p, Err: err}
		}
		return "", &Error{Code: CodeIOError, Path: p, Err: err}
	}
	if fi.IsDir() {
		return "", &Error{Code: CodeNotAFile, Path: p}
	}
	if fi.Size() > s.maxReadBytes {
		return "", &Error{Code: CodeReadTooLarge, Path: p}
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", &Error{Code: CodeIOError, Path: p, Err: err}
	}
	return string(data), nil
}

// WriteText writes content to a file, creating parent directories inside the
// sandbox as needed. Disabled sandboxes return write_not_allowed.
func (s *Sandbox) WriteText(p, content string) error {
	if !s.allowWrite {
		return &Error{Code: CodeWriteNotAllowed, Path: p}
	}
	if int64(len(content)) > s.maxWriteBytes {
		return &Error{Code: CodeWriteTooLarge, Path: p}
	}
	resolved, err := s.Resolve(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return &Error{Code: CodeIOError, Path: p, Err: err}
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return &Error{Code: CodeIOError, Path: p, Err: err}
	}
	return nil
}

// Delete removes a single file. Directories are rejected with not_a_file.
func (s *Sandbox) Delete(p string) error {
	if !s.allowDelete {
		return &Error{Code: CodeDeleteNotAllowed, Path: p}
	}
	resolved, err := s.Resolve(p)
	if err != nil {
		return err
	}
	fi, err := os.Stat(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return &Error{Code: CodeNotFound, Path: p, Err: err}
		}
		return &Error{Code: CodeIOError, Path: p, Err: err}
	}
	if fi.IsDir() {
		return &Error{Code: CodeNotAFile, Path: p}
	}
	if err := os.Remove(resolved); err != nil {
		return &Error{Code: CodeIOError, Path: p, Err: err}
	}
	return nil
}

// ListDir returns directory entries in lexicographic order, erroring with
// list_limit_exceeded when the directory holds more than MaxListEntries.
func (s *Sandbox) ListDir(p string) ([]Info, error) {
	resolved, err := s.Resolve(p)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &Error{Code: CodeNotFound, Path: p, Err: err}
		}
		return nil, &Error{Code: CodeIOError, Path: p, Err: err}
	}
	if !fi.IsDir() {
		return nil, &Error{Code: CodeNotADirectory, Path: p}
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return nil, &Error{Code: CodeIOError, Path: p, Err: err}
	}
	if len(entries) > s.maxListEntries {
		return nil, &Error{Code: CodeListLimitExceeded, Path: p}
	}
	out := make([]Info, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, Info{
			Name:     entry.Name(),
			Path:     filepath.Join(resolved, entry.Name()),
			Size:     info.Size(),
			IsDir:    entry.IsDir(),
			Modified: info.ModTime().UTC(),
		})
	}
	return out, nil
}

// FileInfo returns metadata for a file or directory.
func (s *Sandbox) FileInfo(p string) (Info, error) {
	resolved, err := s.Resolve(p)
	if err != nil {
		return Info{}, err
	}
	fi, err := os.Stat(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return Info{}, &Error{Code: CodeNotFound, Path: p, Err: err}
		}
		return Info{}, &Error{Code: CodeIOError, Path: p, Err: err}
	}
	return Info{
		Name:     fi.Name(),
		Path:     resolved,
		Size:     fi.Size(),
		IsDir:    fi.IsDir(),
		Modified: fi.ModTime().UTC(),
	}, nil
}

// Search walks dir depth-first in sorted order collecting files whose base
// name matches the glob pattern. Paths are returned relative to dir, sorted.
// Traversing more than MaxVisited entries aborts with search_limit_exceeded.
func (s *Sandbox) Search(dir, pattern string) ([]string, error) {
	resolved, err := s.Resolve(dir)
	if err != nil {
		return nil, err
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, &Error{Code: CodeInvalidPath, Path: pattern, Err: err}
	}
	var (
		matches []string
		visited int
	)
	limitErr := &Error{Code: CodeSearchLimitExceeded, Path: dir}
	err = filepath.WalkDir(resolved, func(p string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			// Unreadable subtrees are skipped, not fatal.
			return nil
		}
		visited++
		if visited > s.maxVisited {
			return limitErr
		}
		if d.IsDir() {
			return nil
		}
		if ok, _ := path.Match(pattern, d.Name()); ok {
			rel, relErr := filepath.Rel(resolved, p)
			if relErr != nil {
				return nil
			}
			matches = append(matches, rel)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, limitErr) {
			return nil, limitErr
		}
		return nil, &Error{Code: CodeIOError, Path: dir, Err: err}
	}
	sort.Strings(matches)
	return matches, nil
}

func (s *Sandbox) contained(resolved string) bool {
	for _, root := range s.roots {
		if resolved == root || strings.HasPrefix(resolved, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
