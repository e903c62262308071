package main

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"aicoder/internal/config"

	"github.com/spf13/cobra"
)

// archiveEntry pairs a fixed name inside a backup with its location on disk.
type archiveEntry struct {
	name string
	path string
}

// backupEntries lists what a backup holds. Names are fixed so a backup
// restores onto whatever paths the current config uses.
func backupEntries(cfgPath, dbPath string) []archiveEntry {
	return []archiveEntry{
		{"config.json", cfgPath},
		{"history.db", dbPath},
		{"history.db-wal", dbPath + "-wal"},
		{"history.db-shm", dbPath + "-shm"},
	}
}

func backupCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Archive the config file and run history",
		Long: `Creates a compressed .tar.gz archive containing the config file and the
history database. The archive name is timestamped by default.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			dbPath, err := historyPath(cfgPath)
			if err != nil {
				return err
			}

			if outputPath == "" {
				backupDir := filepath.Join(config.DefaultConfigDir(), "backups")
				if err := os.MkdirAll(backupDir, 0o755); err != nil {
					return fmt.Errorf("cannot create backup directory: %w", err)
				}
				outputPath = filepath.Join(backupDir, "aicoder-backup-"+time.Now().Format("20060102-150405")+".tar.gz")
			}

			entries := presentEntries(backupEntries(cfgPath, dbPath))
			if len(entries) == 0 {
				return fmt.Errorf("nothing to back up (history: %s, config: %s)", dbPath, cfgPath)
			}
			sizes, err := writeArchive(outputPath, entries)
			if err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Backup created: %s\n", outputPath)
			for i, e := range entries {
				fmt.Fprintf(out, "  - %s (%s)\n", e.name, humanSize(sizes[i]))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file (default: ~/.aicoder/backups/aicoder-backup-<timestamp>.tar.gz)")
	return cmd
}

func restoreCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "restore <file.tar.gz>",
		Short: "Restore the config file and run history from a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			dbPath, err := historyPath(cfgPath)
			if err != nil {
				return err
			}
			entries := backupEntries(cfgPath, dbPath)
			if !force && len(presentEntries(entries[:2])) > 0 {
				return fmt.Errorf("restore would overwrite %s and %s (use --force to proceed)", cfgPath, dbPath)
			}

			restored, err := readArchive(args[0], entries)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Restored %d file(s) from %s\n", len(restored), args[0])
			for _, f := range restored {
				fmt.Fprintf(out, "  - %s\n", f)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")
	return cmd
}

// historyPath is the history database named by the config at cfgPath.
func historyPath(cfgPath string) (string, error) {
	cfg, _, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		return "", err
	}
	return cfg.History.DBPath, nil
}

func presentEntries(entries []archiveEntry) []archiveEntry {
	var out []archiveEntry
	for _, e := range entries {
		if info, err := os.Stat(e.path); err == nil && info.Mode().IsRegular() {
			out = append(out, e)
		}
	}
	return out
}

// writeArchive stores entries in a gzip-compressed tar under their fixed
// names and returns each entry's size.
func writeArchive(outputPath string, entries []archiveEntry) ([]int64, error) {
	f, err := os.Create(outputPath)
	if err != nil {
		return nil, err
	}
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	sizes := make([]int64, 0, len(entries))
	for _, e := range entries {
		n, err := addEntry(tw, e)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("add %s: %w", e.path, err)
		}
		sizes = append(sizes, n)
	}
	for _, c := range []io.Closer{tw, gz, f} {
		if err := c.Close(); err != nil {
			return nil, err
		}
	}
	return sizes, nil
}

func addEntry(tw *tar.Writer, e archiveEntry) (int64, error) {
	src, err := os.Open(e.path)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return 0, err
	}
	err = tw.WriteHeader(&tar.Header{
		Typeflag: tar.TypeReg,
		Name:     e.name,
		Mode:     int64(info.Mode().Perm()),
		Size:     info.Size(),
		ModTime:  info.ModTime(),
	})
	if err != nil {
		return 0, err
	}
	return io.Copy(tw, src)
}

// readArchive writes each known entry of the archive to its path. Unknown
// names are skipped.
func readArchive(archivePath string, entries []archiveEntry) ([]string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("not a valid gzip file: %w", err)
	}
	defer gz.Close()

	targets := make(map[string]string, len(entries))
	for _, e := range entries {
		targets[e.name] = e.path
	}

	tr := tar.NewReader(gz)
	var restored []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return restored, nil
		}
		if err != nil {
			return restored, err
		}
		target, ok := targets[hdr.Name]
		if !ok || hdr.Typeflag != tar.TypeReg {
			logger.Warn("skipping unknown file in backup", "name", hdr.Name)
			continue
		}
		if err := extractTo(target, tr); err != nil {
			return restored, err
		}
		restored = append(restored, target)
	}
}

func extractTo(path string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	dst, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := io.Copy(dst, r); err != nil {
		dst.Close()
		return fmt.Errorf("extract %s: %w", path, err)
	}
	return dst.Close()
}

func humanSize(bytes int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
