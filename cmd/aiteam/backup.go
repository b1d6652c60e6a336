package main

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/cobra"

	"github.com/mtzanidakis/aiteam/internal/config"
	"github.com/mtzanidakis/aiteam/internal/store"
)

// Archive sections are top-level directories in the tar.
const (
	sectionPrefix = "aiteam-"
	sectionStore  = "aiteam-store"
	sectionConfig = "aiteam-config"
)

var (
	backupOutput string
	restoreInput string
	restoreForce bool
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Write a compressed snapshot of the store and config",
	Long: `Write a zstd-compressed tar holding a consistent snapshot of the sqlite
store and the current config file. The server may keep running.

Examples:
  aiteam backup -f aiteam-$(date +%F).tar.zst`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if backupOutput == "" {
			backupOutput = backupName(time.Now())
		}
		n, err := backupData(cmd.Context(), cfg, config.Path(), backupOutput)
		if err != nil {
			return err
		}

		size := int64(0)
		if info, err := os.Stat(backupOutput); err == nil {
			size = info.Size()
		}
		fmt.Printf("Backup complete: %d sections, %s\n", n, formatSize(size))
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore the store and config from a backup archive",
	Long: `Restore the sqlite store and config file from an archive written by
aiteam backup. Stop the server first. Existing files are kept unless
--overwrite is given.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		n, err := restoreData(cfg, config.Path(), restoreInput, restoreForce)
		if err != nil {
			return err
		}
		fmt.Printf("Restore complete: %d sections\n", n)
		return nil
	},
}

func init() {
	backupCmd.Flags().StringVarP(&backupOutput, "file", "f", "", "output archive (default aiteam-<timestamp>.tar.zst)")

	restoreCmd.Flags().StringVarP(&restoreInput, "file", "f", "", "backup archive (.tar.zst)")
	restoreCmd.Flags().BoolVar(&restoreForce, "overwrite", false, "replace existing files")
	_ = restoreCmd.MarkFlagRequired("file")
}

// backupData writes the archive and returns the number of sections in it.
func backupData(ctx context.Context, cfg *config.Config, cfgPath, outputPath string) (int, error) {
	tmp, err := os.MkdirTemp("", "aiteam-backup-")
	if err != nil {
		return 0, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	db, err := store.New(cfg.Store)
	if err != nil {
		return 0, fmt.Errorf("open store: %w", err)
	}
	snap := filepath.Join(tmp, filepath.Base(cfg.Store.Path))
	err = db.Snapshot(ctx, snap)
	db.Close()
	if err != nil {
		return 0, fmt.Errorf("snapshot store: %w", err)
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return 0, fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return 0, fmt.Errorf("create zstd writer: %w", err)
	}
	defer zw.Close()

	tw := tar.NewWriter(zw)
	defer tw.Close()

	sections := 0
	slog.Info("backing up store", "path", cfg.Store.Path)
	if err := addFile(tw, sectionStore+"/"+filepath.Base(cfg.Store.Path), snap); err != nil {
		return 0, fmt.Errorf("backup store: %w", err)
	}
	sections++

	if _, err := os.Stat(cfgPath); err == nil {
		slog.Info("backing up config", "path", cfgPath)
		if err := addFile(tw, sectionConfig+"/"+filepath.Base(cfgPath), cfgPath); err != nil {
			return 0, fmt.Errorf("backup config: %w", err)
		}
		sections++
	}

	// Close everything explicitly to catch write errors
	if err := tw.Close(); err != nil {
		return 0, fmt.Errorf("close tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("close zstd: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close file: %w", err)
	}
	return sections, nil
}

func addFile(tw *tar.Writer, name, src string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     name,
		Mode:     int64(info.Mode().Perm()),
		Size:     info.Size(),
		ModTime:  info.ModTime(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

// restoreData extracts every known section of the archive to its target and
// returns how many were restored.
func restoreData(cfg *config.Config, cfgPath, inputPath string, overwrite bool) (int, error) {
	sections, err := scanArchiveSections(inputPath)
	if err != nil {
		return 0, fmt.Errorf("scan archive: %w", err)
	}
	if len(sections) == 0 {
		return 0, fmt.Errorf("archive contains no aiteam data")
	}

	targets := map[string]string{
		sectionStore:  cfg.Store.Path,
		sectionConfig: cfgPath,
	}

	if !overwrite {
		for _, sec := range sections {
			target, ok := targets[sec]
			if !ok {
				continue
			}
			if _, err := os.Stat(target); err == nil {
				return 0, fmt.Errorf("%s already exists, use --overwrite to replace it", target)
			}
		}
	}

	f, err := os.Open(inputPath)
	if err != nil {
		return 0, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return 0, fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	restored := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return restored, fmt.Errorf("read archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		sec, rel := splitArchivePath(hdr.Name)
		target, ok := targets[sec]
		if !ok || strings.Contains(rel, "/") {
			slog.Warn("skipping unknown archive entry", "name", hdr.Name)
			continue
		}

		slog.Info("restoring", "section", sec, "target", target)
		if err := writeFile(target, tr, os.FileMode(hdr.Mode).Perm()); err != nil {
			return restored, fmt.Errorf("restore %s: %w", sec, err)
		}
		if sec == sectionStore {
			// A stale WAL would be replayed over the restored database.
			os.Remove(target + "-wal")
			os.Remove(target + "-shm")
		}
		restored++
	}
	return restored, nil
}

// writeFile replaces target atomically with the contents of r.
func writeFile(target string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".restore-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if mode == 0 {
		mode = 0o644
	}
	if err := os.Chmod(tmp.Name(), mode); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), target)
}

// scanArchiveSections reads tar headers to collect unique section names
// (top-level directories) without extracting file data.
func scanArchiveSections(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	tr := tar.NewReader(zr)

	seen := make(map[string]bool)
	var names []string

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		sec, _ := splitArchivePath(hdr.Name)
		if sec != "" && !seen[sec] {
			seen[sec] = true
			names = append(names, sec)
		}
	}

	return names, nil
}

// splitArchivePath splits "aiteam-store/aiteam.db" into ("aiteam-store", "aiteam.db").
// Returns empty section for invalid paths.
func splitArchivePath(name string) (section, relPath string) {
	name = strings.TrimLeft(name, "./")
	if name == "" {
		return "", ""
	}

	idx := strings.IndexByte(name, '/')
	if idx < 0 {
		if strings.HasPrefix(name, sectionPrefix) {
			return name, "./"
		}
		return "", ""
	}

	section = name[:idx]
	relPath = name[idx+1:]
	if relPath == "" {
		relPath = "./"
	}

	if !strings.HasPrefix(section, sectionPrefix) {
		return "", ""
	}

	return section, relPath
}

func formatSize(bytes int64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}

// backupName is the default archive name for a backup taken at t.
func backupName(t time.Time) string {
	return "aiteam-" + t.Format("20060102-150405") + ".tar.zst"
}
