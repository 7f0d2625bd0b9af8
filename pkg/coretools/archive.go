package coretools

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rasyid/kantor/pkg/toolexecutor"
)

const (
	maxArchiveEntries    = 2000
	maxArchiveTotalBytes = 256 << 20 // 256 MiB uncompressed
)

func extractArchiveTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "extract_archive",
		Description: "Extract a .zip, .tar.gz or .tgz archive into a workspace directory.",
		Category:    toolexecutor.CategoryWrite,
		Parameters: []toolexecutor.ToolParameter{
			{Name: "path", Type: "string", Description: "Archive file path", Required: true},
			{Name: "dest_dir", Type: "string", Description: "Destination directory", Default: "."},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			path := stringParam(params, "path", "")
			destDir := stringParam(params, "dest_dir", ".")

			archiveReal, err := opts.Roots.Resolve(path)
			if err != nil {
				return fail("%v", err), nil
			}
			info, err := os.Stat(archiveReal)
			if os.IsNotExist(err) {
				return fail("Path not found: %s", path), nil
			}
			if err != nil {
				return fail("extract_archive failed: %v", err), nil
			}
			if info.IsDir() {
				return fail("Not a file: %s", path), nil
			}

			destReal, err := opts.Roots.Resolve(destDir)
			if err != nil {
				return fail("%v", err), nil
			}
			if err := os.MkdirAll(destReal, 0o755); err != nil {
				return fail("extract_archive failed: %v", err), nil
			}

			var format string
			var extracted int
			var total int64

			lower := strings.ToLower(archiveReal)
			switch {
			case strings.HasSuffix(lower, ".zip"):
				format = "zip"
				extracted, total, err = extractZip(archiveReal, destReal)
			case strings.HasSuffix(lower, ".tar.gz") || strings.HasSuffix(lower, ".tgz"):
				format = "tar.gz"
				extracted, total, err = extractTarGz(archiveReal, destReal)
			default:
				return fail("Unsupported archive format: %s (expected .zip, .tar.gz or .tgz)", path), nil
			}
			if err != nil {
				return fail("extract_archive failed: %v", err), nil
			}

			return map[string]interface{}{
				"ok":        true,
				"archive":   archiveReal,
				"dest":      destReal,
				"format":    format,
				"extracted": extracted,
				"bytes":     total,
			}, nil
		},
	}
}

func extractZip(archivePath, dest string) (int, int64, error) {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return 0, 0, err
	}
	defer reader.Close()

	if len(reader.File) > maxArchiveEntries {
		return 0, 0, fmt.Errorf("archive has too many entries: %d (max %d)", len(reader.File), maxArchiveEntries)
	}

	extracted := 0
	var total int64
	for _, entry := range reader.File {
		target, err := entryTarget(dest, entry.Name)
		if err != nil {
			return extracted, total, err
		}
		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return extracted, total, err
			}
			continue
		}

		src, err := entry.Open()
		if err != nil {
			return extracted, total, err
		}
		written, err := writeEntry(target, src, maxArchiveTotalBytes-total)
		src.Close()
		total += written
		if err != nil {
			return extracted, total, err
		}
		extracted++
	}
	return extracted, total, nil
}

func extractTarGz(archivePath, dest string) (int, int64, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return 0, 0, err
	}
	defer file.Close()

	gz, err := gzip.NewReader(file)
	if err != nil {
		return 0, 0, err
	}
	defer gz.Close()

	reader := tar.NewReader(gz)
	extracted := 0
	entries := 0
	var total int64

	for {
		header, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return extracted, total, err
		}

		entries++
		if entries > maxArchiveEntries {
			return extracted, total, fmt.Errorf("archive has too many entries (max %d)", maxArchiveEntries)
		}

		target, err := entryTarget(dest, header.Name)
		if err != nil {
			return extracted, total, err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return extracted, total, err
			}
		case tar.TypeReg:
			written, err := writeEntry(target, reader, maxArchiveTotalBytes-total)
			total += written
			if err != nil {
				return extracted, total, err
			}
			extracted++
		default:
			// Symlinks and devices never extract: a link target can point
			// outside the destination.
		}
	}
	return extracted, total, nil
}

// entryTarget joins an archive entry name onto dest and rejects entries
// that resolve outside it.
func entryTarget(dest, name string) (string, error) {
	target := filepath.Join(dest, filepath.FromSlash(name))
	if target != dest && !strings.HasPrefix(target, dest+string(filepath.Separator)) {
		return "", fmt.Errorf("archive entry escapes destination: %s", name)
	}
	return target, nil
}

func writeEntry(target string, src io.Reader, remaining int64) (int64, error) {
	if remaining <= 0 {
		return 0, fmt.Errorf("archive exceeds size cap: %d bytes", maxArchiveTotalBytes)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, err
	}

	out, err := os.Create(target)
	if err != nil {
		return 0, err
	}

	written, err := io.Copy(out, io.LimitReader(src, remaining+1))
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return written, err
	}
	if written > remaining {
		return written, fmt.Errorf("archive exceeds size cap: %d bytes", maxArchiveTotalBytes)
	}
	return written, nil
}
