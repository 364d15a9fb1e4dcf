// Package styles implements the style compilation sidecar: it owns a
// persistent style-compiler instance, synthesizes a virtual entry from
// the theme manifests, resolves aliased and virtual imports, writes the
// compiled output, and notifies browser subscribers over a server-push
// channel.
package styles

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bep/godartsass/v2"

	"github.com/storewatch/storewatch/internal/config"
	"github.com/storewatch/storewatch/internal/logging"
	"github.com/storewatch/storewatch/internal/manifest"
)

// Fixed routes of the sidecar's HTTP surface.
const (
	RouteEvents = "/__storewatch/events"
	RouteCSS    = "/__storewatch/storefront.css"
	RouteMap    = "/__storewatch/storefront.css.map"
)

const (
	outputFileName = "storefront.css"
	mapFileName    = "storefront.css.map"
)

// Roots collects the directories the sidecar resolves against.
type Roots struct {
	Project    string
	App        string
	Dependency string
}

// Sidecar owns style compilation end to end.
type Sidecar struct {
	cfg    config.StylesConfig
	logger logging.Logger
	roots  Roots
	varDir string

	transpiler *godartsass.Transpiler
	importer   *Importer
	hub        *EventHub

	// OnDependenciesChanged, when set, receives the dependency graph of
	// each successful compile so indirectly-imported files get watched.
	OnDependenciesChanged func(files []string)

	mu        sync.RWMutex
	css       []byte
	sourceMap []byte
	version   int64
	entryPath string

	closeOnce sync.Once
}

// NewSidecar creates an unstarted sidecar.
func NewSidecar(cfg config.StylesConfig, roots Roots, varDir string, logger logging.Logger) *Sidecar {
	return &Sidecar{
		cfg:    cfg,
		logger: logger.WithComponent("styles"),
		roots:  roots,
		varDir: varDir,
		hub:    NewEventHub(),
	}
}

// Start resolves the style entry from the manifest files and initializes
// the persistent compiler. It returns false, with a warning, when no
// virtual-or-real entry can be resolved; the rest of the system keeps
// running without style compilation.
func (s *Sidecar) Start(ctx context.Context) bool {
	theme, err := manifest.LoadTheme(filepath.Join(s.roots.Project, manifest.DefaultThemePath))
	if err != nil {
		s.logger.Warn(ctx, err, "no theme manifest, style compilation disabled")
		return false
	}
	if len(theme.Styles) == 0 {
		s.logger.Warn(ctx, nil, "theme manifest lists no style files, style compilation disabled")
		return false
	}

	s.importer = NewImporter(s.resolveAliases(theme.Aliases), []string{
		s.roots.App,
		s.roots.Dependency,
		s.roots.Project,
	})

	// The embedded compiler exposes a persistent async handle; start it
	// once here and reuse it across compiles to avoid per-compile
	// startup cost. It is disposed on Close.
	transpiler, err := godartsass.Start(godartsass.Options{
		DartSassEmbeddedFilename: s.compilerBinary(),
		LogEventHandler: func(event godartsass.LogEvent) {
			s.logger.Debug(ctx, "compiler diagnostic", "message", event.Message)
		},
	})
	if err != nil {
		s.logger.Warn(ctx, err, "style compiler unavailable, style compilation disabled")
		return false
	}
	s.transpiler = transpiler

	return true
}

func (s *Sidecar) compilerBinary() string {
	if s.cfg.EmbeddedCompiler {
		return "dart-sass-embedded"
	}
	return "sass"
}

// resolveAliases makes relative alias targets absolute against the
// project root.
func (s *Sidecar) resolveAliases(aliases map[string]string) map[string]string {
	resolved := make(map[string]string, len(aliases))
	for alias, dir := range aliases {
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(s.roots.Project, dir)
		}
		resolved[alias] = dir
	}
	return resolved
}

// Compile is the single-flight body invoked by the style coordinator.
// It regenerates the virtual entry (the upstream manifests may have
// changed), invalidates cached import resolutions for the change set,
// runs the compiler, writes output, and broadcasts the new version.
func (s *Sidecar) Compile(ctx context.Context, trigger string, changedFiles []string) error {
	if s.transpiler == nil || s.importer == nil {
		return fmt.Errorf("style sidecar not started")
	}

	if len(changedFiles) > 0 {
		s.importer.Invalidate(s.changedAbsPaths(changedFiles))
	}

	entrySource, entryPath, err := s.regenerateEntry()
	if err != nil {
		return err
	}

	args := godartsass.Args{
		Source:         entrySource,
		URL:            "file://" + filepath.ToSlash(entryPath),
		OutputStyle:    godartsass.OutputStyleExpanded,
		SourceSyntax:   godartsass.SourceSyntaxSCSS,
		ImportResolver: s.importer,
		IncludePaths: []string{
			s.roots.App,
			s.roots.Dependency,
		},
		EnableSourceMap:         s.cfg.SourceMaps,
		SourceMapIncludeSources: s.cfg.SourceMaps,
	}
	if s.cfg.SilenceDeprecations {
		args.SilenceDeprecations = s.cfg.SilencedDeprecations
	}

	result, err := s.transpiler.Execute(args)
	if err != nil {
		return err
	}

	css := result.CSS
	if !s.cfg.SkipPostCSS {
		css = s.postProcess(css)
	}

	if err := s.writeOutput(css, result.SourceMap); err != nil {
		return err
	}

	version := s.bumpVersion(css, result.SourceMap)
	s.hub.Broadcast(UpdateMessage{Type: "css-update", Version: version})

	if s.OnDependenciesChanged != nil {
		if deps := s.importer.LoadedFiles(); len(deps) > 0 {
			s.OnDependenciesChanged(deps)
		}
	}

	return nil
}

// changedAbsPaths resolves change-set paths to the absolute form the
// importer caches by. Watched files outside the project root arrive
// already absolute and must not be joined onto it, or their cached
// resolutions would never be invalidated.
func (s *Sidecar) changedAbsPaths(changedFiles []string) []string {
	abs := make([]string, 0, len(changedFiles))
	for _, file := range changedFiles {
		if filepath.IsAbs(file) {
			abs = append(abs, file)
			continue
		}
		abs = append(abs, filepath.Join(s.roots.Project, file))
	}
	return abs
}

// regenerateEntry rereads the manifests and rewrites the virtual entry.
func (s *Sidecar) regenerateEntry() (string, string, error) {
	theme, err := manifest.LoadTheme(filepath.Join(s.roots.Project, manifest.DefaultThemePath))
	if err != nil {
		return "", "", fmt.Errorf("reloading theme manifest: %w", err)
	}
	flags, err := manifest.LoadFeatureFlags(filepath.Join(s.roots.Project, manifest.DefaultFeaturesPath))
	if err != nil {
		return "", "", err
	}
	variables, err := manifest.LoadThemeVariables(filepath.Join(s.roots.Project, manifest.DefaultThemeVariablesPath))
	if err != nil {
		return "", "", err
	}

	styleFiles := make([]string, 0, len(theme.Styles))
	for _, style := range theme.Styles {
		if !filepath.IsAbs(style) && !strings.HasPrefix(style, aliasPrefix) {
			style = filepath.Join(s.roots.Project, style)
		}
		styleFiles = append(styleFiles, style)
	}

	source := BuildEntry(flags, variables, styleFiles)
	path, err := WriteEntry(s.varDir, source)
	if err != nil {
		return "", "", err
	}

	s.mu.Lock()
	s.entryPath = path
	s.mu.Unlock()

	return source, path, nil
}

// postProcess appends the source-map pointer the browser needs to pick
// up the map file. Skipped entirely when the post-processing step is
// disabled.
func (s *Sidecar) postProcess(css string) string {
	if !s.cfg.SourceMaps {
		return css
	}
	if !strings.HasSuffix(css, "\n") {
		css += "\n"
	}
	return css + fmt.Sprintf("/*# sourceMappingURL=%s */\n", mapFileName)
}

func (s *Sidecar) writeOutput(css, sourceMap string) error {
	if err := os.MkdirAll(s.varDir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.varDir, outputFileName), []byte(css), 0o644); err != nil {
		return fmt.Errorf("writing compiled css: %w", err)
	}
	if s.cfg.SourceMaps && sourceMap != "" {
		if err := os.WriteFile(filepath.Join(s.varDir, mapFileName), []byte(sourceMap), 0o644); err != nil {
			return fmt.Errorf("writing source map: %w", err)
		}
	}
	return nil
}

// bumpVersion stores the new output and returns a strictly increasing
// version stamp, even when two compiles land within one millisecond.
func (s *Sidecar) bumpVersion(css, sourceMap string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	version := time.Now().UnixMilli()
	if version <= s.version {
		version = s.version + 1
	}
	s.version = version
	s.css = []byte(css)
	s.sourceMap = []byte(sourceMap)
	return version
}

// Version returns the current version stamp, zero before the first
// successful compile.
func (s *Sidecar) Version() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// HandleInternalRequest serves the sidecar's three fixed routes. It
// returns false for anything else so the caller falls through to normal
// proxying.
func (s *Sidecar) HandleInternalRequest(w http.ResponseWriter, r *http.Request) bool {
	switch r.URL.Path {
	case RouteEvents:
		s.hub.ServeStream(w, r, s.Version())
		return true
	case RouteCSS:
		s.serveCompiled(w, "text/css; charset=utf-8", s.currentCSS())
		return true
	case RouteMap:
		if !s.cfg.SourceMaps {
			http.NotFound(w, r)
			return true
		}
		s.serveCompiled(w, "application/json", s.currentSourceMap())
		return true
	default:
		return false
	}
}

func (s *Sidecar) serveCompiled(w http.ResponseWriter, contentType string, body []byte) {
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	if body == nil {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintln(w, "no compiled output yet")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Write(body)
}

func (s *Sidecar) currentCSS() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.css
}

func (s *Sidecar) currentSourceMap() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sourceMap
}

// SubscriberCount exposes the number of open update streams.
func (s *Sidecar) SubscriberCount() int {
	return s.hub.SubscriberCount()
}

// Close disposes the persistent compiler handle and terminates every
// subscriber stream.
func (s *Sidecar) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.hub.Close()
		if s.transpiler != nil {
			err = s.transpiler.Close()
		}
	})
	return err
}
