package coretools

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rasyid/kantor/pkg/toolexecutor"
)

const (
	defaultDownloadBytes = 20 << 20 // 20 MiB
	maxDownloadBytes     = 50 << 20 // 50 MiB
	downloadTimeout      = 60 * time.Second
)

func downloadFileTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "download_file",
		Description: "Download a file from a URL to a workspace path (binary-safe).",
		Category:    toolexecutor.CategoryWeb,
		Timeout:     90 * time.Second,
		Parameters: []toolexecutor.ToolParameter{
			{Name: "url", Type: "string", Description: "http/https URL", Required: true},
			{Name: "path", Type: "string", Description: "Destination file path", Required: true},
			{Name: "max_bytes", Type: "integer", Description: "Size cap in bytes", Minimum: floatPtr(1), Maximum: floatPtr(maxDownloadBytes), Default: defaultDownloadBytes},
			{Name: "overwrite", Type: "boolean", Description: "Allow replacing an existing file", Default: true},
			{Name: "create_dirs", Type: "boolean", Description: "Create missing parent directories", Default: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			rawURL := stringParam(params, "url", "")
			path := stringParam(params, "path", "")
			maxBytes := clampInt(intParam(params, "max_bytes", defaultDownloadBytes), 1, maxDownloadBytes)
			overwrite := boolParam(params, "overwrite", true)
			createDirs := boolParam(params, "create_dirs", true)

			realPath, err := opts.Roots.Resolve(path)
			if err != nil {
				return fail("%v", err), nil
			}

			info, statErr := os.Stat(realPath)
			exists := statErr == nil
			if exists && info.IsDir() {
				return fail("Destination is a directory: %s", path), nil
			}
			if exists && !overwrite {
				return fail("Destination exists and overwrite=false: %s", path), nil
			}

			parent := filepath.Dir(realPath)
			if _, err := os.Stat(parent); os.IsNotExist(err) {
				if !createDirs {
					return fail("Destination parent not found: %s", parent), nil
				}
				if err := os.MkdirAll(parent, 0o755); err != nil {
					return fail("download_file failed: %v", err), nil
				}
			}

			resp, failure := fetchURL(ctx, opts.Tools.Web, rawURL, int64(maxBytes), downloadTimeout, "download_file")
			if failure != nil {
				return failure, nil
			}
			if resp.truncated {
				return fail("Download exceeds max_bytes cap: %d", maxBytes), nil
			}

			if err := os.WriteFile(realPath, resp.body, 0o644); err != nil {
				return fail("download_file failed: %v", err), nil
			}

			payload := map[string]interface{}{
				"ok":           true,
				"url":          rawURL,
				"path":         realPath,
				"bytes":        len(resp.body),
				"content_type": resp.contentType,
				"status":       resp.status,
			}
			addWarning(payload, resp.tlsWarning)
			return payload, nil
		},
	}
}
