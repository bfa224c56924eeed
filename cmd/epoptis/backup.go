package main

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/mtzanidakis/epoptis/internal/config"
)

// Archive layout: every entry lives under a tree name that maps back
// to a directory on restore.
const (
	treeData     = "data"
	treePolicies = "policies"
)

type archiveTree struct {
	name string
	dir  string
}

func configTrees(cfg *config.Config) []archiveTree {
	return []archiveTree{
		{treeData, cfg.DataDir},
		{treePolicies, cfg.Policy.Dir},
	}
}

func runBackup(args []string) error {
	var outputPath string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-f":
			if i+1 >= len(args) {
				return fmt.Errorf("missing value for -f")
			}
			i++
			outputPath = args[i]
		}
	}

	if outputPath == "" {
		fmt.Fprintf(os.Stderr, "Usage: epoptis backup -f <output.tar.zst>\n")
		return fmt.Errorf("missing -f flag")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	count, err := createArchive(outputPath, configTrees(cfg))
	if err != nil {
		return err
	}

	info, _ := os.Stat(outputPath)
	size := int64(0)
	if info != nil {
		size = info.Size()
	}

	fmt.Printf("Backup complete: %d files, %s\n", count, formatSize(size))
	return nil
}

func createArchive(outputPath string, trees []archiveTree) (int, error) {
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

	count := 0
	for _, tree := range trees {
		if _, err := os.Stat(tree.dir); os.IsNotExist(err) {
			slog.Warn("directory not found, skipping", "name", tree.name, "dir", tree.dir)
			continue
		}
		slog.Info("backing up directory", "name", tree.name, "dir", tree.dir)
		n, err := backupTree(tw, tree)
		if err != nil {
			return 0, fmt.Errorf("backup %s: %w", tree.name, err)
		}
		count += n
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
	return count, nil
}

func backupTree(tw *tar.Writer, tree archiveTree) (int, error) {
	count := 0
	err := filepath.WalkDir(tree.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(tree.dir, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		// Sockets, pipes and symlinks are runtime artifacts, not data.
		if !info.Mode().IsRegular() && !d.IsDir() {
			return nil
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = path.Join(tree.name, filepath.ToSlash(rel))
		if d.IsDir() {
			hdr.Name += "/"
			return tw.WriteHeader(hdr)
		}

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		src, err := os.Open(p)
		if err != nil {
			return err
		}
		_, err = io.Copy(tw, src)
		src.Close()
		if err != nil {
			return err
		}
		count++
		return nil
	})
	return count, err
}

func runRestore(args []string) error {
	var inputPath string
	overwrite := false

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-f":
			if i+1 >= len(args) {
				return fmt.Errorf("missing value for -f")
			}
			i++
			inputPath = args[i]
		case "-overwrite":
			overwrite = true
		}
	}

	if inputPath == "" {
		fmt.Fprintf(os.Stderr, "Usage: epoptis restore -f <backup.tar.zst> [-overwrite]\n")
		return fmt.Errorf("missing -f flag")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	targets := make(map[string]string)
	for _, tree := range configTrees(cfg) {
		targets[tree.name] = tree.dir
	}

	count, err := restoreArchive(inputPath, targets, overwrite)
	if err != nil {
		return err
	}

	fmt.Printf("Restore complete: %d files\n", count)
	return nil
}

func restoreArchive(inputPath string, targets map[string]string, overwrite bool) (int, error) {
	// Pre-scan: collect tree names without extracting file data.
	trees, err := scanArchiveTrees(inputPath)
	if err != nil {
		return 0, fmt.Errorf("scan archive: %w", err)
	}
	if len(trees) == 0 {
		return 0, nil
	}

	// Refuse to restore over existing data unless told to.
	if !overwrite {
		for _, name := range trees {
			dir, ok := targets[name]
			if !ok {
				continue
			}
			if dirHasEntries(dir) {
				return 0, fmt.Errorf("%s is not empty, add -overwrite to replace files", dir)
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

	count := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return count, fmt.Errorf("read tar entry: %w", err)
		}

		tree, rel := splitArchivePath(hdr.Name)
		if tree == "" {
			continue
		}
		dir, ok := targets[tree]
		if !ok {
			slog.Warn("unknown archive tree, skipping", "name", tree)
			continue
		}

		dest := filepath.Join(dir, filepath.FromSlash(rel))
		if hdr.Typeflag == tar.TypeDir || strings.HasSuffix(rel, "/") {
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return count, err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return count, err
		}
		out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(hdr.Mode)&0o777)
		if err != nil {
			return count, err
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return count, fmt.Errorf("write %s: %w", dest, err)
		}
		if err := out.Close(); err != nil {
			return count, err
		}
		count++
	}

	return count, nil
}

// scanArchiveTrees reads tar headers to collect unique tree names
// (top-level directories) without extracting file data.
func scanArchiveTrees(archivePath string) ([]string, error) {
	f, err := os.Open(archivePath)
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

		tree, _ := splitArchivePath(hdr.Name)
		if tree != "" && !seen[tree] {
			seen[tree] = true
			names = append(names, tree)
		}
	}

	return names, nil
}

// splitArchivePath splits "data/nats/store.db" into ("data",
// "nats/store.db"). Entries that would escape their tree (absolute
// paths, dot-dot) are rejected with an empty tree name.
func splitArchivePath(name string) (tree, rel string) {
	name = strings.TrimLeft(name, "/")
	name = strings.TrimPrefix(name, "./")
	if name == "" || name == "." {
		return "", ""
	}

	idx := strings.IndexByte(name, '/')
	if idx < 0 {
		if name == ".." {
			return "", ""
		}
		return name, "./"
	}

	tree = name[:idx]
	rel = name[idx+1:]
	if rel == "" {
		rel = "./"
	}

	if tree == "." || tree == ".." {
		return "", ""
	}
	cleaned := path.Clean(rel)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ""
	}

	return tree, rel
}

func dirHasEntries(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	return len(entries) > 0
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
