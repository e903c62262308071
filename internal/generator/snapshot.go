package generator

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const (
	defaultSnapshotEntries  = 400
	defaultSnapshotFileSize = 8192
)

// SnapshotConfig bounds the project listing sent with a feature request.
type SnapshotConfig struct {
	MaxEntries   int
	MaxFileBytes int
	KeyFiles     []string // relative paths whose contents are included
	Ignore       []string // doublestar patterns, slash-separated, relative to the root
}

type KeyFile struct {
	Path    string
	Content string
	Size    int64
	Skipped bool // larger than MaxFileBytes
}

// Snapshot is a bounded view of a project directory.
type Snapshot struct {
	Directories []string
	Files       []string
	KeyFiles    []KeyFile
	Truncated   bool
	MaxEntries  int
}

// TakeSnapshot walks root, skipping ignored paths, until MaxEntries entries
// have been collected.
func TakeSnapshot(root string, cfg SnapshotConfig) (*Snapshot, error) {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = defaultSnapshotEntries
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = defaultSnapshotFileSize
	}
	snap := &Snapshot{Directories: []string{}, Files: []string{}, MaxEntries: cfg.MaxEntries}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil // unreadable entries are left out
		}
		if path == root {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if ignored(rel, cfg.Ignore) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if len(snap.Directories)+len(snap.Files) >= cfg.MaxEntries {
			snap.Truncated = true
			return filepath.SkipAll
		}
		if d.IsDir() {
			snap.Directories = append(snap.Directories, rel)
		} else {
			snap.Files = append(snap.Files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", root, err)
	}

	for _, name := range cfg.KeyFiles {
		info, err := os.Stat(filepath.Join(root, filepath.FromSlash(name)))
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		kf := KeyFile{Path: name, Size: info.Size()}
		if info.Size() > int64(cfg.MaxFileBytes) {
			kf.Skipped = true
		} else {
			data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(name)))
			if err != nil {
				continue
			}
			kf.Content = string(data)
		}
		snap.KeyFiles = append(snap.KeyFiles, kf)
	}
	return snap, nil
}

func ignored(rel string, patterns []string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, rel); err == nil && ok {
			return true
		}
	}
	return false
}

// Render formats the snapshot for a prompt.
func (s *Snapshot) Render() string {
	var b strings.Builder
	b.WriteString("Directories:\n")
	if len(s.Directories) == 0 {
		b.WriteString("(none)\n")
	}
	writeBullets(&b, s.Directories)
	b.WriteString("\nFiles:\n")
	if len(s.Files) == 0 {
		b.WriteString("(none)\n")
	}
	writeBullets(&b, s.Files)
	if s.Truncated {
		fmt.Fprintf(&b, "(listing truncated after %d entries)\n", s.MaxEntries)
	}
	for _, kf := range s.KeyFiles {
		if kf.Skipped {
			fmt.Fprintf(&b, "\n--- %s (%d bytes, not shown) ---\n", kf.Path, kf.Size)
			continue
		}
		fmt.Fprintf(&b, "\n--- %s ---\n%s", kf.Path, kf.Content)
		if !strings.HasSuffix(kf.Content, "\n") {
			b.WriteByte('\n')
		}
	}
	return b.String()
}
