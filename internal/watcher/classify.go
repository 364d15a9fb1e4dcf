package watcher

import (
	"path/filepath"
	"strings"
)

// AssetClass identifies the compile pipeline a changed file belongs to.
type AssetClass int

const (
	AssetStyle AssetClass = iota
	AssetScript
	AssetTemplate
	AssetTranslation
)

// String returns the string representation of the asset class
func (c AssetClass) String() string {
	switch c {
	case AssetStyle:
		return "style"
	case AssetScript:
		return "script"
	case AssetTemplate:
		return "template"
	case AssetTranslation:
		return "translation"
	default:
		return "unknown"
	}
}

// EventKind distinguishes content changes from removals.
type EventKind int

const (
	KindChange EventKind = iota
	KindRemove
)

// String returns the string representation of the event kind
func (k EventKind) String() string {
	if k == KindRemove {
		return "remove"
	}
	return "change"
}

// ChangeEvent is one classified filesystem notification.
type ChangeEvent struct {
	Kind    EventKind
	AbsPath string
	RelPath string
	Class   AssetClass
}

// Classify maps a file path onto its asset class. The second return is
// false for extensions no pipeline cares about; those events are
// silently ignored. Snippet JSON files are recognized by a path
// substring since translations share the .json extension with plain
// data files.
func Classify(path string) (AssetClass, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".scss", ".sass", ".css":
		return AssetStyle, true
	case ".js", ".mjs", ".ts":
		return AssetScript, true
	case ".twig":
		return AssetTemplate, true
	case ".json":
		normalized := filepath.ToSlash(path)
		if strings.Contains(normalized, "/snippet/") {
			return AssetTranslation, true
		}
		return 0, false
	default:
		return 0, false
	}
}
