package watcher

import (
	"path/filepath"
	"sort"
	"strings"
)

// BuildDirectorySet deduplicates and de-overlaps the given directories:
// the result contains no duplicates and no directory that is a
// descendant of another entry, since recursive watches already cover
// descendants. The set is built once at startup and not hot-reloaded.
func BuildDirectorySet(dirs []string) []string {
	cleaned := make([]string, 0, len(dirs))
	seen := make(map[string]struct{}, len(dirs))
	for _, dir := range dirs {
		abs := filepath.Clean(dir)
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}
		cleaned = append(cleaned, abs)
	}

	// Sorting puts ancestors before their descendants, so one pass can
	// drop anything covered by the last kept entry.
	sort.Strings(cleaned)

	var result []string
	for _, dir := range cleaned {
		if len(result) > 0 && isDescendant(result[len(result)-1], dir) {
			continue
		}
		result = append(result, dir)
	}
	return result
}

func isDescendant(ancestor, dir string) bool {
	if ancestor == dir {
		return true
	}
	return strings.HasPrefix(dir, ancestor+string(filepath.Separator))
}
