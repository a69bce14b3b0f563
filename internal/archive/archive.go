// Package archive packs and unpacks project bundles. Extraction is bounded
// and refuses absolute paths, traversal, and symlinks, since bundles arrive
// over the network.
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

type Limits struct {
	MaxFiles      int
	MaxTotalBytes int64
	MaxFileBytes  int64
}

func (l Limits) validate() error {
	if l.MaxFiles <= 0 || l.MaxTotalBytes <= 0 || l.MaxFileBytes <= 0 {
		return errors.New("invalid extraction limits")
	}
	return nil
}

// Unpack extracts a zip archive into dest and returns the created entries.
func Unpack(zipPath, dest string, limits Limits) ([]string, error) {
	if err := limits.validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, fmt.Errorf("create extraction dest: %w", err)
	}

	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	defer zr.Close()

	cleanDest := filepath.Clean(dest)
	var total int64
	created := make([]string, 0, len(zr.File))

	for i, f := range zr.File {
		if i >= limits.MaxFiles {
			return nil, fmt.Errorf("zip has too many entries (> %d)", limits.MaxFiles)
		}
		name, err := safeEntryName(f.Name)
		if err != nil {
			return nil, err
		}
		if f.Mode()&os.ModeSymlink != 0 {
			return nil, fmt.Errorf("symlink entry not allowed: %s", f.Name)
		}

		target := filepath.Clean(filepath.Join(cleanDest, filepath.FromSlash(name)))
		if !strings.HasPrefix(target, cleanDest+string(os.PathSeparator)) {
			return nil, fmt.Errorf("zip entry escapes destination: %s", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return nil, fmt.Errorf("create directory %q: %w", target, err)
			}
			continue
		}

		if f.UncompressedSize64 > uint64(limits.MaxFileBytes) {
			return nil, fmt.Errorf("zip entry too large: %s", f.Name)
		}
		total += int64(f.UncompressedSize64)
		if total > limits.MaxTotalBytes {
			return nil, errors.New("zip total size exceeds limit")
		}

		if err := extractFile(f, target, limits.MaxFileBytes); err != nil {
			return nil, err
		}
		created = append(created, name)
	}
	return created, nil
}

func extractFile(f *zip.File, target string, maxBytes int64) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open zip file %q: %w", f.Name, err)
	}
	defer rc.Close()

	wf, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create output file %q: %w", target, err)
	}

	n, copyErr := io.Copy(wf, io.LimitReader(rc, maxBytes+1))
	closeErr := wf.Close()
	if copyErr != nil {
		return fmt.Errorf("extract %q: %w", f.Name, copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close output file %q: %w", target, closeErr)
	}
	if n > maxBytes {
		return fmt.Errorf("zip entry exceeds max file bytes while extracting: %s", f.Name)
	}
	return nil
}

// Pack writes srcDir's files into w as a zip archive, optionally skipping
// entries for which skip returns true (paths are slash-separated, relative).
func Pack(srcDir string, w io.Writer, skip func(rel string) bool) error {
	zw := zip.NewWriter(w)
	defer zw.Close()

	cleanSrc := filepath.Clean(srcDir)
	return filepath.WalkDir(cleanSrc, func(pathNow string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(cleanSrc, pathNow)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if name == "." || strings.HasPrefix(name, "../") {
			return fmt.Errorf("invalid relative path: %s", rel)
		}
		if skip != nil && skip(name) {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return err
		}
		header, err := zip.FileInfoHeader(fi)
		if err != nil {
			return err
		}
		header.Name = name
		header.Method = zip.Deflate

		wf, err := zw.CreateHeader(header)
		if err != nil {
			return err
		}
		rf, err := os.Open(pathNow)
		if err != nil {
			return err
		}
		defer rf.Close()
		_, err = io.Copy(wf, rf)
		return err
	})
}

func safeEntryName(name string) (string, error) {
	raw := strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	if raw == "" {
		return "", errors.New("zip entry name cannot be empty")
	}
	if strings.HasPrefix(raw, "/") || (len(raw) >= 2 && raw[1] == ':') {
		return "", fmt.Errorf("absolute zip entry path not allowed: %s", name)
	}
	cleaned := path.Clean(raw)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("path traversal zip entry not allowed: %s", name)
	}
	return cleaned, nil
}
