package watch

import (
	"path/filepath"
	"strings"

	"github.com/felixgeelhaar/plangrid/pkg/storage"
)

// Files written next to documents that never signal a content change.
var ignored = []string{"*.tmp", "*" + storage.PatchLogExt, "*.lock", ".*"}

// ProjectOf maps a changed file to the project it stores. Document and grid
// files both map to their project; temp files, locks and patch logs do not.
func ProjectOf(path string) (string, bool) {
	base := filepath.Base(path)
	for _, pattern := range ignored {
		if matched, _ := filepath.Match(pattern, base); matched {
			return "", false
		}
	}
	switch {
	case strings.HasSuffix(base, storage.GridExt):
		return strings.TrimSuffix(base, storage.GridExt), true
	case strings.HasSuffix(base, storage.DocumentExt):
		return strings.TrimSuffix(base, storage.DocumentExt), true
	}
	return "", false
}
