package coretools

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/rasyid/kantor/pkg/toolexecutor"
)

func listDirectoryTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "list_directory",
		Description: "List files in a workspace directory.",
		Category:    toolexecutor.CategoryRead,
		Parameters: []toolexecutor.ToolParameter{
			{Name: "path", Type: "string", Description: "Directory path", Default: "."},
			{Name: "max_entries", Type: "integer", Description: "Maximum entries to return", Minimum: floatPtr(1), Maximum: floatPtr(500), Default: 200},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			path := stringParam(params, "path", ".")
			maxEntries := clampInt(intParam(params, "max_entries", 200), 1, 500)

			realPath, err := opts.Roots.Resolve(path)
			if err != nil {
				return fail("%v", err), nil
			}

			info, err := os.Stat(realPath)
			if os.IsNotExist(err) {
				return fail("Path not found: %s", path), nil
			}
			if err != nil {
				return fail("list_directory failed: %v", err), nil
			}
			if !info.IsDir() {
				return fail("Not a directory: %s", path), nil
			}

			children, err := os.ReadDir(realPath)
			if err != nil {
				return fail("list_directory failed: %v", err), nil
			}

			// Directories first, then case-insensitive name order.
			sort.Slice(children, func(i, j int) bool {
				di, dj := children[i].IsDir(), children[j].IsDir()
				if di != dj {
					return di
				}
				return strings.ToLower(children[i].Name()) < strings.ToLower(children[j].Name())
			})

			entries := make([]map[string]interface{}, 0, len(children))
			for _, child := range children {
				var size interface{}
				if !child.IsDir() {
					if childInfo, infoErr := child.Info(); infoErr == nil {
						size = childInfo.Size()
					}
				}
				entries = append(entries, map[string]interface{}{
					"name":   child.Name(),
					"is_dir": child.IsDir(),
					"size":   size,
				})
				if len(entries) >= maxEntries {
					break
				}
			}

			return map[string]interface{}{"ok": true, "path": realPath, "entries": entries}, nil
		},
	}
}

func readTextFileTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "read_text_file",
		Description: "Read a UTF-8 text file in workspace, optionally from an offset for chunked reads.",
		Category:    toolexecutor.CategoryRead,
		Parameters: []toolexecutor.ToolParameter{
			{Name: "path", Type: "string", Description: "File path", Required: true},
			{Name: "offset", Type: "integer", Description: "Start offset in chars for chunked reads", Minimum: floatPtr(0), Default: 0},
			{Name: "max_chars", Type: "integer", Description: "Maximum chars to return", Minimum: floatPtr(128), Maximum: floatPtr(50000), Default: 10000},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			path := stringParam(params, "path", "")
			offset := intParam(params, "offset", 0)
			maxChars := clampInt(intParam(params, "max_chars", 10000), 128, 50000)

			realPath, err := opts.Roots.Resolve(path)
			if err != nil {
				return fail("%v", err), nil
			}

			info, err := os.Stat(realPath)
			if os.IsNotExist(err) {
				return fail("Path not found: %s", path), nil
			}
			if err != nil {
				return fail("read_text_file failed: %v", err), nil
			}
			if info.IsDir() {
				return fail("Not a file: %s", path), nil
			}

			data, err := os.ReadFile(realPath)
			if err != nil {
				return fail("read_text_file failed: %v", err), nil
			}

			full := string(data)
			totalLength := len(full)
			if offset < 0 {
				offset = 0
			}
			if offset > totalLength {
				offset = totalLength
			}
			for offset > 0 && offset < totalLength && !utf8.RuneStart(full[offset]) {
				offset--
			}
			content := cutString(full[offset:], maxChars)

			return map[string]interface{}{
				"ok":           true,
				"path":         realPath,
				"content":      content,
				"offset":       offset,
				"length":       len(content),
				"total_length": totalLength,
				"truncated":    offset+len(content) < totalLength,
			}, nil
		},
	}
}

func writeTextFileTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "write_text_file",
		Description: "Create or overwrite a UTF-8 text file in workspace.",
		Category:    toolexecutor.CategoryWrite,
		Parameters: []toolexecutor.ToolParameter{
			{Name: "path", Type: "string", Description: "File path", Required: true},
			{Name: "content", Type: "string", Description: "File content", Required: true},
			{Name: "overwrite", Type: "boolean", Description: "Allow replacing an existing file", Default: true},
			{Name: "create_dirs", Type: "boolean", Description: "Create missing parent directories", Default: true},
			{Name: "append", Type: "boolean", Description: "Append instead of replacing", Default: false},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			path := stringParam(params, "path", "")
			content, _ := params["content"].(string)
			overwrite := boolParam(params, "overwrite", true)
			createDirs := boolParam(params, "create_dirs", true)
			appendMode := boolParam(params, "append", false)

			realPath, err := opts.Roots.Resolve(path)
			if err != nil {
				return fail("%v", err), nil
			}

			info, statErr := os.Stat(realPath)
			exists := statErr == nil
			if exists && info.IsDir() {
				return fail("Path is a directory, not a file: %s", path), nil
			}
			if exists && !overwrite && !appendMode {
				return fail("File already exists and overwrite=false: %s", path), nil
			}

			parent := filepath.Dir(realPath)
			if _, err := os.Stat(parent); os.IsNotExist(err) {
				if !createDirs {
					return fail("Parent directory not found: %s", parent), nil
				}
				if err := os.MkdirAll(parent, 0o755); err != nil {
					return fail("write_text_file failed: %v", err), nil
				}
			}

			action := "create"
			if exists {
				action = "overwrite"
				if appendMode {
					action = "append"
				}
			}

			if appendMode {
				file, err := os.OpenFile(realPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
				if err != nil {
					return fail("write_text_file failed: %v", err), nil
				}
				_, writeErr := file.WriteString(content)
				closeErr := file.Close()
				if writeErr != nil {
					return fail("write_text_file failed: %v", writeErr), nil
				}
				if closeErr != nil {
					return fail("write_text_file failed: %v", closeErr), nil
				}
			} else if err := os.WriteFile(realPath, []byte(content), 0o644); err != nil {
				return fail("write_text_file failed: %v", err), nil
			}

			return map[string]interface{}{
				"ok":         true,
				"path":       realPath,
				"action":     action,
				"chars":      utf8.RuneCountInString(content),
				"bytes_utf8": len(content),
			}, nil
		},
	}
}

func replaceInFileTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "replace_in_file",
		Description: "Replace target text in a UTF-8 text file in workspace.",
		Category:    toolexecutor.CategoryWrite,
		Parameters: []toolexecutor.ToolParameter{
			{Name: "path", Type: "string", Description: "File path", Required: true},
			{Name: "old_text", Type: "string", Description: "Text to replace", Required: true},
			{Name: "new_text", Type: "string", Description: "Replacement text", Required: true},
			{Name: "replace_all", Type: "boolean", Description: "Replace every occurrence", Default: false},
			{Name: "max_replacements", Type: "integer", Description: "Cap when replace_all is false", Minimum: floatPtr(1), Maximum: floatPtr(200), Default: 1},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			path := stringParam(params, "path", "")
			oldText, _ := params["old_text"].(string)
			newText, _ := params["new_text"].(string)
			replaceAll := boolParam(params, "replace_all", false)
			maxReplacements := intParam(params, "max_replacements", 1)

			if oldText == "" {
				return fail("old_text cannot be empty"), nil
			}
			if maxReplacements < 1 {
				return fail("max_replacements must be >= 1"), nil
			}

			realPath, err := opts.Roots.Resolve(path)
			if err != nil {
				return fail("%v", err), nil
			}

			info, err := os.Stat(realPath)
			if os.IsNotExist(err) {
				return fail("Path not found: %s", path), nil
			}
			if err != nil {
				return fail("replace_in_file failed: %v", err), nil
			}
			if info.IsDir() {
				return fail("Not a file: %s", path), nil
			}

			data, err := os.ReadFile(realPath)
			if err != nil {
				return fail("replace_in_file failed: %v", err), nil
			}
			source := string(data)

			found := strings.Count(source, oldText)
			if found <= 0 {
				return map[string]interface{}{"ok": false, "error": "Target text not found", "path": realPath}, nil
			}

			limit := found
			if !replaceAll {
				limit = clampInt(maxReplacements, 1, 200)
				if limit > found {
					limit = found
				}
			}
			updated := strings.Replace(source, oldText, newText, limit)
			if err := os.WriteFile(realPath, []byte(updated), 0o644); err != nil {
				return fail("replace_in_file failed: %v", err), nil
			}

			return map[string]interface{}{
				"ok":                true,
				"path":              realPath,
				"replacements":      limit,
				"remaining_matches": found - limit,
				"chars":             utf8.RuneCountInString(updated),
				"bytes_utf8":        len(updated),
			}, nil
		},
	}
}

func copyFileTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "copy_file",
		Description: "Copy a file (binary-safe) from src_path to dst_path in allowed roots.",
		Category:    toolexecutor.CategoryWrite,
		Parameters: []toolexecutor.ToolParameter{
			{Name: "src_path", Type: "string", Description: "Source file path", Required: true},
			{Name: "dst_path", Type: "string", Description: "Destination file path", Required: true},
			{Name: "overwrite", Type: "boolean", Description: "Allow replacing an existing destination", Default: true},
			{Name: "create_dirs", Type: "boolean", Description: "Create missing destination directories", Default: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			srcPath := stringParam(params, "src_path", "")
			dstPath := stringParam(params, "dst_path", "")
			overwrite := boolParam(params, "overwrite", true)
			createDirs := boolParam(params, "create_dirs", true)

			srcReal, err := opts.Roots.Resolve(srcPath)
			if err != nil {
				return fail("%v", err), nil
			}
			dstReal, err := opts.Roots.Resolve(dstPath)
			if err != nil {
				return fail("%v", err), nil
			}

			srcInfo, err := os.Stat(srcReal)
			if os.IsNotExist(err) {
				return fail("Source path not found: %s", srcPath), nil
			}
			if err != nil {
				return fail("copy_file failed: %v", err), nil
			}
			if srcInfo.IsDir() {
				return fail("Source is not a file: %s", srcPath), nil
			}
			if srcReal == dstReal {
				return fail("Source and destination are the same file"), nil
			}

			dstInfo, statErr := os.Stat(dstReal)
			dstExists := statErr == nil
			if dstExists && dstInfo.IsDir() {
				return fail("Destination is a directory: %s", dstPath), nil
			}
			if dstExists && !overwrite {
				return fail("Destination exists and overwrite=false: %s", dstPath), nil
			}

			parent := filepath.Dir(dstReal)
			if _, err := os.Stat(parent); os.IsNotExist(err) {
				if !createDirs {
					return fail("Destination parent not found: %s", parent), nil
				}
				if err := os.MkdirAll(parent, 0o755); err != nil {
					return fail("copy_file failed: %v", err), nil
				}
			}

			action := "create"
			if dstExists {
				action = "overwrite"
			}

			written, err := copyFileContents(srcReal, dstReal)
			if err != nil {
				return fail("copy_file failed: %v", err), nil
			}

			return map[string]interface{}{
				"ok":       true,
				"src_path": srcReal,
				"dst_path": dstReal,
				"action":   action,
				"bytes":    written,
			}, nil
		},
	}
}

func copyFileContents(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}

	written, err := io.Copy(out, in)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	return written, err
}
