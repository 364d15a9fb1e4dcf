// Package paths locates the project root, the origin application's asset
// root, and the module-resolution context rooted at the origin
// application's dependency tree. Pure lookup, no state.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Well-known layout constants of a storefront project tree.
const (
	appRelativeRoot   = "Resources/app/storefront"
	dependencyDirName = "node_modules"
	varDirName        = "var"
	extensionsDirName = "custom"
	projectConfigFile = ".storewatch.yml"
)

// FindProjectRoot ascends from start until it finds a directory that
// looks like a project root: either it carries a .storewatch.yml, or it
// has both a var/ and a custom/ directory.
func FindProjectRoot(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("resolving start directory: %w", err)
	}

	for {
		if isProjectRoot(dir) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no project root found above %s", start)
		}
		dir = parent
	}
}

func isProjectRoot(dir string) bool {
	if fileExists(filepath.Join(dir, projectConfigFile)) {
		return true
	}
	return dirExists(filepath.Join(dir, varDirName)) && dirExists(filepath.Join(dir, extensionsDirName))
}

// AppRoot returns the origin application's asset root below the given
// project root.
func AppRoot(projectRoot string) (string, error) {
	candidates := []string{
		filepath.Join(projectRoot, "src", "Storefront", appRelativeRoot),
		filepath.Join(projectRoot, "vendor", "storefront", appRelativeRoot),
	}
	for _, candidate := range candidates {
		if dirExists(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no storefront asset root found under %s", projectRoot)
}

// DependencyRoot returns the module-resolution context for the app root,
// its installed dependency directory.
func DependencyRoot(appRoot string) (string, error) {
	dir := filepath.Join(appRoot, dependencyDirName)
	if !dirExists(dir) {
		return "", fmt.Errorf("no dependency directory at %s; install the app's dependencies first", dir)
	}
	return dir, nil
}

// VarDir returns the project's writable output directory for generated
// files (virtual entries, compiled output, caches).
func VarDir(projectRoot string) string {
	return filepath.Join(projectRoot, varDirName, "storewatch")
}

// Rel formats an absolute path relative to the project root for display
// and for dedupe keys. Paths outside the root are returned unchanged.
func Rel(projectRoot, abs string) string {
	rel, err := filepath.Rel(projectRoot, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return abs
	}
	return rel
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
