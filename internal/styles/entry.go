package styles

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/storewatch/storewatch/internal/manifest"
)

// entryFileName is the virtual entry persisted under the var directory
// so the compiler can load it like any hand-authored file.
const entryFileName = "entry.scss"

// BuildEntry synthesizes the virtual entry source: the feature-flag map,
// the dumped theme variables, and the theme's ordered style files. It is
// regenerated on every compile because the upstream manifests may have
// changed between runs.
func BuildEntry(flags manifest.FeatureFlags, themeVariables string, styleFiles []string) string {
	var b strings.Builder

	b.WriteString("$sw-features: (\n")
	for _, name := range flags.SortedNames() {
		fmt.Fprintf(&b, "\t%q: %t,\n", name, flags[name])
	}
	b.WriteString(");\n\n")

	if themeVariables != "" {
		b.WriteString(themeVariables)
		if !strings.HasSuffix(themeVariables, "\n") {
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}

	for _, file := range styleFiles {
		fmt.Fprintf(&b, "@import %q;\n", filepath.ToSlash(file))
	}

	return b.String()
}

// WriteEntry persists the virtual entry under varDir and returns its
// path.
func WriteEntry(varDir, source string) (string, error) {
	if err := os.MkdirAll(varDir, 0o755); err != nil {
		return "", fmt.Errorf("creating entry directory: %w", err)
	}
	path := filepath.Join(varDir, entryFileName)
	if err := os.WriteFile(path, []byte(source), 0o644); err != nil {
		return "", fmt.Errorf("writing virtual entry: %w", err)
	}
	return path, nil
}
