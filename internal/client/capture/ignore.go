package capture

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/edulab/mirrorbox/internal/client/session"
)

// defaultIgnorePatterns keeps the engine from re-announcing its own writes
// (the reserved metadata subpath) and from mirroring editor droppings.
var defaultIgnorePatterns = []string{
	session.MetadataDir,
	session.MetadataDir + "/**",
	".vscode",
	".vscode/**",
	".git",
	".git/**",
	"**/.DS_Store",
	"**/*.swp",
	"**/*.swo",
	"**/*~",
	"**/4913", // vim write probe
}

// IgnoreList decides which paths under the session root are invisible to
// the capture engine.
type IgnoreList struct {
	root     string
	patterns []string
}

func NewIgnoreList(root string, extra ...string) *IgnoreList {
	patterns := make([]string, 0, len(defaultIgnorePatterns)+len(extra))
	patterns = append(patterns, defaultIgnorePatterns...)
	patterns = append(patterns, extra...)
	return &IgnoreList{
		root:     root,
		patterns: patterns,
	}
}

// ShouldIgnore matches an absolute path against the ignore patterns,
// relative to the session root. Paths outside the root are always ignored.
func (l *IgnoreList) ShouldIgnore(absPath string) bool {
	rel, err := filepath.Rel(l.root, absPath)
	if err != nil {
		return true
	}
	rel = filepath.ToSlash(rel)
	if rel == "." {
		return true
	}
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return true
	}

	for _, pattern := range l.patterns {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}
