// Package translations merges the storefront's snippet files per locale
// into single consumable files. Snippet files are named after their
// locale (storefront.en-GB.json); every file of one locale is
// deep-merged, later files winning on scalar conflicts.
package translations

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/language"
)

// Compiler merges snippet files found under the given roots.
type Compiler struct {
	roots  []string
	outDir string
}

// NewCompiler creates a compiler writing merged files to outDir.
func NewCompiler(roots []string, outDir string) *Compiler {
	return &Compiler{roots: roots, outDir: outDir}
}

// LocaleTag extracts the locale from a snippet file name, such as
// storefront.en-GB.json. The second return is false when the name
// carries no parseable locale.
func LocaleTag(path string) (language.Tag, bool) {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	idx := strings.LastIndexByte(stem, '.')
	if idx < 0 {
		return language.Tag{}, false
	}
	tag, err := language.Parse(stem[idx+1:])
	if err != nil {
		return language.Tag{}, false
	}
	return tag, true
}

// Compile discovers all snippet files, merges them per locale, and
// writes one output file per locale. It is the single-flight body of
// the translation coordinator; the change set is informational since a
// full re-merge is cheap.
func (c *Compiler) Compile() error {
	byLocale := make(map[string][]string)

	for _, root := range c.roots {
		err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
			if err != nil || entry.IsDir() {
				return nil
			}
			if filepath.Ext(path) != ".json" {
				return nil
			}
			if !strings.Contains(filepath.ToSlash(path), "/snippet/") {
				return nil
			}
			tag, ok := LocaleTag(path)
			if !ok {
				return nil
			}
			key := tag.String()
			byLocale[key] = append(byLocale[key], path)
			return nil
		})
		if err != nil {
			return fmt.Errorf("scanning %s: %w", root, err)
		}
	}

	if err := os.MkdirAll(c.outDir, 0o755); err != nil {
		return fmt.Errorf("creating snippet output directory: %w", err)
	}

	for locale, files := range byLocale {
		sort.Strings(files)
		merged, err := mergeFiles(files)
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(merged, "", "  ")
		if err != nil {
			return err
		}
		out := filepath.Join(c.outDir, locale+".json")
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", out, err)
		}
	}

	return nil
}

func mergeFiles(files []string) (map[string]interface{}, error) {
	merged := make(map[string]interface{})
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", file, err)
		}
		var snippet map[string]interface{}
		if err := json.Unmarshal(data, &snippet); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", file, err)
		}
		merged = DeepMerge(merged, snippet)
	}
	return merged, nil
}

// DeepMerge folds src into dst: nested objects merge recursively,
// everything else is last-writer-wins.
func DeepMerge(dst, src map[string]interface{}) map[string]interface{} {
	for key, value := range src {
		srcMap, srcIsMap := value.(map[string]interface{})
		dstMap, dstIsMap := dst[key].(map[string]interface{})
		if srcIsMap && dstIsMap {
			dst[key] = DeepMerge(dstMap, srcMap)
			continue
		}
		dst[key] = value
	}
	return dst
}
