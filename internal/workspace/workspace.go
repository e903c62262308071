// Package workspace performs filesystem operations confined to one project
// directory. Every path is resolved against the root and rejected when it
// escapes it, either lexically or through a symlink.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"
)

var (
	ErrOutsideWorkspace = errors.New("path is outside the project directory")
	ErrNotFound         = errors.New("no such file or directory")
	ErrPermission       = errors.New("permission denied")
	ErrNotDirectory     = errors.New("not a directory")
	ErrIsDirectory      = errors.New("is a directory")
)

// Workspace is rooted at an absolute, symlink-free directory path.
type Workspace struct {
	root string
}

// New returns a Workspace rooted at dir. The directory does not have to
// exist yet.
func New(dir string) (*Workspace, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("workspace root is empty")
	}
	abs, err := filepath.Abs(filepath.Clean(dir))
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		abs = real
	}
	return &Workspace{root: abs}, nil
}

func (w *Workspace) Root() string { return w.root }

// Resolve maps a user-supplied path to an absolute path inside the root.
func (w *Workspace) Resolve(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = "."
	}
	var resolved string
	if filepath.IsAbs(path) {
		resolved = filepath.Clean(path)
	} else {
		resolved = filepath.Join(w.root, path)
	}
	if !w.contains(resolved) {
		return "", fmt.Errorf("%s: %w", path, ErrOutsideWorkspace)
	}

	// The lexical check passed; make sure no existing component is a
	// symlink pointing out of the root.
	existing, rest := resolved, ""
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}
		rest = filepath.Join(filepath.Base(existing), rest)
		existing = parent
	}
	real, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", normalize("resolve", path, err)
	}
	if !w.contains(filepath.Join(real, rest)) {
		return "", fmt.Errorf("%s: %w", path, ErrOutsideWorkspace)
	}
	return resolved, nil
}

// Rel returns abs relative to the root, using forward slashes.
func (w *Workspace) Rel(abs string) string {
	rel, err := filepath.Rel(w.root, abs)
	if err != nil {
		return abs
	}
	return filepath.ToSlash(rel)
}

func (w *Workspace) contains(p string) bool {
	return p == w.root || strings.HasPrefix(p, w.root+string(filepath.Separator))
}

// Exists reports whether path resolves inside the root and exists.
func (w *Workspace) Exists(path string) bool {
	resolved, err := w.Resolve(path)
	if err != nil {
		return false
	}
	_, err = os.Stat(resolved)
	return err == nil
}

func (w *Workspace) ReadFile(path string) (string, error) {
	resolved, err := w.Resolve(path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", normalize("read", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("read %s: %w", path, ErrIsDirectory)
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", normalize("read", path, err)
	}
	return string(data), nil
}

// FileInfo is the metadata reported for one path.
type FileInfo struct {
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	Mode        string    `json:"mode"`
	Permissions string    `json:"permissions"`
	Modified    time.Time `json:"modified"`
	IsDir       bool      `json:"is_dir"`
	IsFile      bool      `json:"is_file"`
}

func (w *Workspace) Stat(path string) (FileInfo, error) {
	resolved, err := w.Resolve(path)
	if err != nil {
		return FileInfo{}, err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return FileInfo{}, normalize("stat", path, err)
	}
	return FileInfo{
		Name:        info.Name(),
		Path:        w.Rel(resolved),
		Size:        info.Size(),
		Mode:        info.Mode().String(),
		Permissions: fmt.Sprintf("%#o", info.Mode().Perm()),
		Modified:    info.ModTime().UTC(),
		IsDir:       info.IsDir(),
		IsFile:      info.Mode().IsRegular(),
	}, nil
}

// Listing is the content of one directory, names sorted.
type Listing struct {
	Path             string   `json:"path"`
	Files            []string `json:"files"`
	Directories      []string `json:"directories"`
	TotalFiles       int      `json:"total_files"`
	TotalDirectories int      `json:"total_directories"`
}

func (w *Workspace) List(path string) (Listing, error) {
	resolved, err := w.Resolve(path)
	if err != nil {
		return Listing{}, err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return Listing{}, normalize("list", path, err)
	}
	if !info.IsDir() {
		return Listing{}, fmt.Errorf("list %s: %w", path, ErrNotDirectory)
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return Listing{}, normalize("list", path, err)
	}

	l := Listing{Path: w.Rel(resolved), Files: []string{}, Directories: []string{}}
	for _, e := range entries {
		if e.IsDir() {
			l.Directories = append(l.Directories, e.Name())
		} else {
			l.Files = append(l.Files, e.Name())
		}
	}
	sort.Strings(l.Files)
	sort.Strings(l.Directories)
	l.TotalFiles = len(l.Files)
	l.TotalDirectories = len(l.Directories)
	return l, nil
}

// WriteFile writes or appends content, creating parent directories. It
// reports whether the file existed before the call.
func (w *Workspace) WriteFile(path, content string, appendMode bool) (existed bool, err error) {
	resolved, err := w.Resolve(path)
	if err != nil {
		return false, err
	}
	if resolved == w.root {
		return false, fmt.Errorf("write %s: %w", path, ErrIsDirectory)
	}
	if info, statErr := os.Stat(resolved); statErr == nil {
		if info.IsDir() {
			return false, fmt.Errorf("write %s: %w", path, ErrIsDirectory)
		}
		existed = true
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return existed, normalize("create directory for", path, err)
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if appendMode {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(resolved, flags, 0o644)
	if err != nil {
		return existed, normalize("write", path, err)
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return existed, normalize("write", path, err)
	}
	if err := f.Close(); err != nil {
		return existed, normalize("write", path, err)
	}
	return existed, nil
}

// Mkdir creates path and any missing parents. An existing directory is not
// an error; created reports whether anything was made.
func (w *Workspace) Mkdir(path string) (created bool, err error) {
	resolved, err := w.Resolve(path)
	if err != nil {
		return false, err
	}
	info, statErr := os.Stat(resolved)
	if statErr == nil {
		if !info.IsDir() {
			return false, fmt.Errorf("mkdir %s: %w", path, ErrNotDirectory)
		}
		return false, nil
	}
	if err := os.MkdirAll(resolved, 0o755); err != nil {
		return false, normalize("mkdir", path, err)
	}
	return true, nil
}

// normalize maps OS errors onto the package sentinels, keeping the path.
func normalize(op, path string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%s %s: %w", op, path, ErrNotFound)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%s %s: %w", op, path, ErrPermission)
	case errors.Is(err, syscall.ENOTDIR):
		return fmt.Errorf("%s %s: %w", op, path, ErrNotDirectory)
	case errors.Is(err, syscall.EISDIR):
		return fmt.Errorf("%s %s: %w", op, path, ErrIsDirectory)
	default:
		return fmt.Errorf("%s %s: %w", op, path, err)
	}
}
