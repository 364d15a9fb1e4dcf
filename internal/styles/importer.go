package styles

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bep/godartsass/v2"
)

// aliasPrefix marks import requests that resolve through the theme's
// alias map instead of the filesystem.
const aliasPrefix = "~"

// Importer resolves aliased and convention-based style imports for the
// compiler. Resolution results are cached by request; the cache is
// invalidated surgically for paths touched by a change set.
//
// Resolution order for a relative request: the literal path, the path
// with .scss/.sass/.css appended, the partial-prefixed variants
// (_name.scss), and finally the directory-index conventions
// (_index.scss, index.scss). Aliased requests strip the alias through
// the alias map first and then fall back, in order, through the app
// root, the dependency root, and the project root.
type Importer struct {
	aliases       map[string]string
	fallbackRoots []string

	mu       sync.Mutex
	cache    map[string]string              // request -> resolved absolute path ("" = no resolution)
	resolved map[string]map[string]struct{} // resolved absolute path -> requests that hit it
	loaded   map[string]struct{}            // every file handed to the compiler this run
}

// NewImporter creates an importer over the theme's alias map and the
// ordered fallback roots.
func NewImporter(aliases map[string]string, fallbackRoots []string) *Importer {
	return &Importer{
		aliases:       aliases,
		fallbackRoots: fallbackRoots,
		cache:         make(map[string]string),
		resolved:      make(map[string]map[string]struct{}),
		loaded:        make(map[string]struct{}),
	}
}

/// CanonicalizeURL maps an import request onto a file:// URL, or returns
// empty to let the compiler's own resolution (and its own "file not
// found" diagnostics) take over.
func (im *Importer) CanonicalizeURL(url string) (string, error) {
	request := strings.TrimPrefix(url, "file://")

	im.mu.Lock()
	cached, ok := im.cache[request]
	im.mu.Unlock()
	if ok {
		if cached == "" {
			return "", nil
		}
		im.recordLoad(cached, request)
		return "file://" + cached, nil
	}

	resolved := im.resolve(request)

	im.mu.Lock()
	im.cache[request] = resolved
	im.mu.Unlock()

	if resolved == "" {
		return "", nil
	}
	im.recordLoad(resolved, request)
	return "file://" + resolved, nil
}

// Load reads a previously canonicalized file for the compiler.
func (im *Importer) Load(canonicalizedURL string) (godartsass.Import, error) {
	path := strings.TrimPrefix(canonicalizedURL, "file://")
	data, err := os.ReadFile(path)
	if err != nil {
		return godartsass.Import{}, err
	}
	return godartsass.Import{
		Content:      string(data),
		SourceSyntax: syntaxFor(path),
	}, nil
}

func syntaxFor(path string) godartsass.SourceSyntax {
	switch filepath.Ext(path) {
	case ".sass":
		return godartsass.SourceSyntaxSASS
	case ".css":
		return godartsass.SourceSyntaxCSS
	default:
		return godartsass.SourceSyntaxSCSS
	}
}

func (im *Importer) resolve(request string) string {
	if strings.HasPrefix(request, aliasPrefix) {
		return im.resolveAlias(strings.TrimPrefix(request, aliasPrefix))
	}
	if filepath.IsAbs(request) {
		return resolveConventions(request)
	}
	for _, root := range im.fallbackRoots {
		if found := resolveConventions(filepath.Join(root, request)); found != "" {
			return found
		}
	}
	return ""
}

func (im *Importer) resolveAlias(request string) string {
	alias := request
	rest := ""
	if idx := strings.IndexByte(request, '/'); idx >= 0 {
		alias, rest = request[:idx], request[idx+1:]
	}

	if dir, ok := im.aliases[alias]; ok {
		if found := resolveConventions(filepath.Join(dir, rest)); found != "" {
			return found
		}
	}

	// Unknown alias, or nothing under the aliased directory: fall back
	// through the roots with the full request.
	for _, root := range im.fallbackRoots {
		if found := resolveConventions(filepath.Join(root, request)); found != "" {
			return found
		}
	}
	return ""
}

// resolveConventions tries the compiler's file-lookup conventions
// against one candidate path.
func resolveConventions(candidate string) string {
	if isFile(candidate) {
		return candidate
	}

	dir := filepath.Dir(candidate)
	name := filepath.Base(candidate)

	for _, ext := range []string{".scss", ".sass", ".css"} {
		if p := filepath.Join(dir, name+ext); isFile(p) {
			return p
		}
	}
	for _, ext := range []string{".scss", ".sass", ".css"} {
		if p := filepath.Join(dir, "_"+name+ext); isFile(p) {
			return p
		}
	}
	for _, index := range []string{"_index.scss", "index.scss"} {
		if p := filepath.Join(candidate, index); isFile(p) {
			return p
		}
	}
	return ""
}

func (im *Importer) recordLoad(path, request string) {
	im.mu.Lock()
	defer im.mu.Unlock()
	im.loaded[path] = struct{}{}
	if im.resolved[path] == nil {
		im.resolved[path] = make(map[string]struct{})
	}
	im.resolved[path][request] = struct{}{}
}

// Invalidate drops cached resolutions for the given absolute paths, so
// the next compile re-resolves anything the change set touched. Requests
// that previously failed to resolve are dropped wholesale, since a newly
// created file may satisfy them now.
func (im *Importer) Invalidate(absPaths []string) {
	im.mu.Lock()
	defer im.mu.Unlock()

	for _, path := range absPaths {
		for request := range im.resolved[path] {
			delete(im.cache, request)
		}
		delete(im.resolved, path)
	}

	for request, resolved := range im.cache {
		if resolved == "" {
			delete(im.cache, request)
		}
	}
}

// LoadedFiles returns every file the compiler loaded through this
// importer since the last call, and resets the record. The sidecar uses
// it to recompute the watched-file set after each compile.
func (im *Importer) LoadedFiles() []string {
	im.mu.Lock()
	defer im.mu.Unlock()

	files := make([]string, 0, len(im.loaded))
	for path := range im.loaded {
		files = append(files, path)
	}
	im.loaded = make(map[string]struct{})
	return files
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
