// Package manifest reads the JSON files the origin application's CLI
// produces for this tool: the extension/plugin manifest, the theme/style
// manifest, the feature-flag map, and the dumped theme variables. All of
// them are read-only inputs.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Default locations of the consumed files, relative to the project
// root. The origin application's CLI writes them.
const (
	DefaultExtensionsPath     = "var/plugins.json"
	DefaultThemePath          = "var/theme-files.json"
	DefaultFeaturesPath       = "var/features.json"
	DefaultThemeVariablesPath = "var/theme-variables.scss"
)

// Extension describes one installed extension's asset contribution as
// declared in the extension manifest.
type Extension struct {
	Name        string   `json:"name"`
	BasePath    string   `json:"basePath"`
	Views       []string `json:"views"`
	ScriptEntry string   `json:"scriptEntry"`
	ScriptPath  string   `json:"scriptPath"`
}

// ExtensionManifest is the full list of installed extensions.
type ExtensionManifest struct {
	Extensions []Extension `json:"extensions"`
}

// ThemeManifest lists the theme's ordered style files, its import
// aliases, and the theme identity.
type ThemeManifest struct {
	ThemeID string            `json:"themeId"`
	Styles  []string          `json:"style"`
	Aliases map[string]string `json:"aliases"`
}

// FeatureFlags is the dumped feature-flag map.
type FeatureFlags map[string]bool

// LoadExtensions reads the extension manifest from path.
func LoadExtensions(path string) (*ExtensionManifest, error) {
	var m ExtensionManifest
	if err := readJSON(path, &m); err != nil {
		return nil, fmt.Errorf("extension manifest: %w", err)
	}
	return &m, nil
}

// LoadTheme reads the theme manifest from path.
func LoadTheme(path string) (*ThemeManifest, error) {
	var m ThemeManifest
	if err := readJSON(path, &m); err != nil {
		return nil, fmt.Errorf("theme manifest: %w", err)
	}
	return &m, nil
}

// LoadFeatureFlags reads the feature-flag map from path. A missing file
// yields an empty map, not an error, since flags are optional.
func LoadFeatureFlags(path string) (FeatureFlags, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return FeatureFlags{}, nil
	}
	var flags FeatureFlags
	if err := readJSON(path, &flags); err != nil {
		return nil, fmt.Errorf("feature flags: %w", err)
	}
	return flags, nil
}

// LoadThemeVariables reads the dumped theme-variables file verbatim. It
// is already valid style source, so no parsing happens here.
func LoadThemeVariables(path string) (string, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("theme variables: %w", err)
	}
	return string(data), nil
}

// SortedNames returns the flag names in deterministic order so generated
// output is stable across runs.
func (f FeatureFlags) SortedNames() []string {
	names := make([]string, 0, len(f))
	for name := range f {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ViewDirectories returns the absolute view directories declared by all
// extensions, resolved against each extension's base path.
func (m *ExtensionManifest) ViewDirectories() []string {
	var dirs []string
	for _, ext := range m.Extensions {
		for _, view := range ext.Views {
			dirs = append(dirs, filepath.Join(ext.BasePath, view))
		}
	}
	return dirs
}

// ScriptDirectories returns the absolute script directories declared by
// all extensions that ship scripts.
func (m *ExtensionManifest) ScriptDirectories() []string {
	var dirs []string
	for _, ext := range m.Extensions {
		if ext.ScriptPath != "" {
			dirs = append(dirs, filepath.Join(ext.BasePath, ext.ScriptPath))
		}
	}
	return dirs
}

// ScriptEntrypoints returns the bundler entry points declared by all
// extensions that ship scripts.
func (m *ExtensionManifest) ScriptEntrypoints() []string {
	var entries []string
	for _, ext := range m.Extensions {
		if ext.ScriptEntry != "" {
			entries = append(entries, filepath.Join(ext.BasePath, ext.ScriptEntry))
		}
	}
	return entries
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}
