package sandbox

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// workspaceMountPoint is where the primary workspace root lands in every
// sandbox container.
const workspaceMountPoint = "/workspace"

// Mount maps one host root into the container filesystem.
type Mount struct {
	Host      string `json:"host"`
	Container string `json:"container"`
}

// buildMounts produces the deterministic mount table: the workspace root at
// /workspace, every extra allowed root under /allowed. Duplicates collapse
// onto their first occurrence so the table order is stable.
func buildMounts(workspaceRoot string, allowedRoots []string) []Mount {
	seen := map[string]bool{}
	mounts := []Mount{}

	roots := append([]string{workspaceRoot}, allowedRoots...)
	for idx, root := range roots {
		cleaned := filepath.Clean(strings.TrimSpace(root))
		if cleaned == "" || cleaned == "." || seen[cleaned] {
			continue
		}
		seen[cleaned] = true

		if idx == 0 {
			mounts = append(mounts, Mount{Host: cleaned, Container: workspaceMountPoint})
			continue
		}
		name := sanitizeSegment(filepath.Base(cleaned), 20)
		mounts = append(mounts, Mount{
			Host:      cleaned,
			Container: fmt.Sprintf("/allowed/%d-%s", idx, name),
		})
	}
	return mounts
}

// translatePath maps a host path to its container equivalent. The longest
// matching mounted root wins, so nested roots resolve to the more specific
// mount. Paths outside every mount fail closed.
func translatePath(mounts []Mount, hostPath string) (string, error) {
	target := filepath.Clean(hostPath)

	best := -1
	for i, m := range mounts {
		if target != m.Host && !strings.HasPrefix(target, m.Host+string(filepath.Separator)) {
			continue
		}
		if best == -1 || len(m.Host) > len(mounts[best].Host) {
			best = i
		}
	}
	if best == -1 {
		return "", fmt.Errorf("%w: %s", ErrPathNotMounted, target)
	}

	rel, err := filepath.Rel(mounts[best].Host, target)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrPathNotMounted, target)
	}
	if rel == "." {
		return mounts[best].Container, nil
	}
	return path.Join(mounts[best].Container, filepath.ToSlash(rel)), nil
}
