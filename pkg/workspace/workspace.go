package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rasyid/kantor/internal/config"
)

// Roots confines tool file access to the configured directory roots. Resolve
// maps whatever path shape a model produces (absolute, workspace-relative,
// or a "rootname/..." alias) onto a real path inside the roots, or refuses.
type Roots struct {
	workspaceRoot string
	allowedRoots  []string
	allowAnyPath  bool
}

// NewRoots builds the root set from config. The workspace root is required;
// extra allowed roots are absolutized and deduplicated, order preserved.
func NewRoots(cfg config.WorkspaceConfig) (*Roots, error) {
	root := strings.TrimSpace(cfg.Root)
	if root == "" {
		return nil, fmt.Errorf("workspace root is required")
	}
	absRoot, err := filepath.Abs(expandUser(root))
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}

	seen := map[string]bool{absRoot: true}
	extras := []string{}
	for _, raw := range cfg.AllowedRoots {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		abs, err := filepath.Abs(expandUser(trimmed))
		if err != nil {
			return nil, fmt.Errorf("resolve allowed root %s: %w", raw, err)
		}
		if seen[abs] {
			continue
		}
		seen[abs] = true
		extras = append(extras, abs)
	}

	return &Roots{
		workspaceRoot: absRoot,
		allowedRoots:  extras,
		allowAnyPath:  cfg.AllowAnyPath,
	}, nil
}

// WorkspaceRoot returns the primary root.
func (r *Roots) WorkspaceRoot() string {
	return r.workspaceRoot
}

// AllRoots returns the workspace root followed by the extra allowed roots.
func (r *Roots) AllRoots() []string {
	return append([]string{r.workspaceRoot}, r.allowedRoots...)
}

// AllowAnyPath reports whether confinement is disabled.
func (r *Roots) AllowAnyPath() bool {
	return r.allowAnyPath
}

// Resolve maps a raw path onto a path inside the roots. Candidates are tried
// in order of usefulness: an existing path wins, then one whose parent
// exists, then the first candidate inside any root. Paths that land outside
// every root are refused with the root list in the error.
func (r *Roots) Resolve(raw string) (string, error) {
	if r.allowAnyPath {
		path := expandUser(defaultDot(raw))
		if !filepath.IsAbs(path) {
			path = filepath.Join(r.workspaceRoot, path)
		}
		return filepath.Clean(path), nil
	}

	candidates := r.buildCandidates(raw)
	roots := r.AllRoots()

	for _, candidate := range candidates {
		for _, root := range roots {
			if isWithin(candidate, root) && pathExists(candidate) {
				return candidate, nil
			}
		}
	}

	for _, candidate := range candidates {
		for _, root := range roots {
			if isWithin(candidate, root) && pathExists(filepath.Dir(candidate)) {
				return candidate, nil
			}
		}
	}

	// Last resort: take the first in-root candidate so upper layers can
	// produce a clean "not found" instead of a confinement error.
	for _, root := range roots {
		for _, candidate := range candidates {
			if isWithin(candidate, root) {
				return candidate, nil
			}
		}
	}

	return "", fmt.Errorf("path out of allowed roots: %s (allowed roots: %s)",
		raw, strings.Join(roots, ", "))
}

// buildCandidates expands a raw path into the ordered list of places it may
// mean. Absolute input stands alone. Relative input first tries root-name
// aliases ("data/x.csv" meaning "<root named data>/x.csv"), then the
// workspace-relative reading, then each extra root.
func (r *Roots) buildCandidates(raw string) []string {
	cleaned := defaultDot(raw)
	path := expandUser(cleaned)

	seen := map[string]bool{}
	candidates := []string{}
	add := func(p string) {
		abs, err := filepath.Abs(p)
		if err != nil {
			return
		}
		abs = filepath.Clean(abs)
		if seen[abs] {
			return
		}
		seen[abs] = true
		candidates = append(candidates, abs)
	}

	if filepath.IsAbs(path) {
		add(path)
		return candidates
	}

	normalized := strings.ToLower(strings.Trim(filepath.ToSlash(cleaned), "/"))
	normalizedSlash := strings.Trim(filepath.ToSlash(cleaned), "/")
	if normalized != "" {
		for _, root := range r.AllRoots() {
			rootNorm := strings.ToLower(strings.TrimRight(filepath.ToSlash(root), "/"))
			base := strings.ToLower(filepath.Base(root))
			if normalized == rootNorm || normalized == base {
				add(root)
				continue
			}
			prefix := base + "/"
			if strings.HasPrefix(normalized, prefix) {
				add(filepath.Join(root, normalizedSlash[len(prefix):]))
			}
		}
	}

	add(filepath.Join(r.workspaceRoot, path))
	for _, root := range r.allowedRoots {
		add(filepath.Join(root, path))
	}

	return candidates
}

func defaultDot(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "."
	}
	return trimmed
}

func expandUser(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

func isWithin(path, root string) bool {
	return path == root || strings.HasPrefix(path, root+string(filepath.Separator))
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
