// Package devserver wires the storewatch components together: the
// change detector feeds per-class compile coordinators, which drive the
// style sidecar, the script wrapper, and the translation merger, while
// the reverse proxy fronts the origin server. The dev server owns the
// whole lifecycle; Shutdown leaves no timers, watchers, compiler
// handles, or subscriber streams behind.
package devserver

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"time"

	"github.com/storewatch/storewatch/internal/config"
	"github.com/storewatch/storewatch/internal/logging"
	"github.com/storewatch/storewatch/internal/manifest"
	"github.com/storewatch/storewatch/internal/paths"
	"github.com/storewatch/storewatch/internal/pipeline"
	"github.com/storewatch/storewatch/internal/proxy"
	"github.com/storewatch/storewatch/internal/scripts"
	"github.com/storewatch/storewatch/internal/styles"
	"github.com/storewatch/storewatch/internal/translations"
	"github.com/storewatch/storewatch/internal/watcher"
)

// DevServer is the assembled development accelerator.
type DevServer struct {
	cfg    *config.Config
	logger logging.Logger

	roots      styles.Roots
	extensions *manifest.ExtensionManifest

	detector *watcher.Detector
	sidecar  *styles.Sidecar
	wrapper  *scripts.Wrapper

	styleCoord       *pipeline.Coordinator
	scriptCoord      *pipeline.Coordinator
	templateCoord    *pipeline.Coordinator
	translationCoord *pipeline.Coordinator

	proxyHandler *proxy.Proxy
	httpServer   *http.Server
}

// New resolves the project layout and constructs every enabled
// component. Missing manifests degrade the affected component instead of
// failing construction.
func New(cfg *config.Config, logger logging.Logger) (*DevServer, error) {
	start := cfg.ProjectRoot
	if start == "" {
		start = "."
	}
	projectRoot, err := paths.FindProjectRoot(start)
	if err != nil {
		return nil, err
	}
	appRoot, err := paths.AppRoot(projectRoot)
	if err != nil {
		return nil, err
	}
	depRoot, err := paths.DependencyRoot(appRoot)
	if err != nil {
		// Styles can still compile without installed dependencies as
		// long as no import reaches into them.
		logger.Warn(context.Background(), err, "dependency root unavailable")
		depRoot = ""
	}

	ds := &DevServer{
		cfg:    cfg,
		logger: logger,
		roots: styles.Roots{
			Project:    projectRoot,
			App:        appRoot,
			Dependency: depRoot,
		},
	}

	ds.extensions = loadExtensions(projectRoot, logger)

	debounce := time.Duration(cfg.Watch.DebounceMillis) * time.Millisecond
	varDir := paths.VarDir(projectRoot)

	if !cfg.Styles.Disabled {
		ds.sidecar = styles.NewSidecar(cfg.Styles, ds.roots, varDir, logger)
		ds.styleCoord = pipeline.NewCoordinator("styles", debounce, logger, ds.sidecar.Compile)
	}

	if !cfg.Scripts.Disabled {
		flags, err := manifest.LoadFeatureFlags(filepath.Join(projectRoot, manifest.DefaultFeaturesPath))
		if err != nil {
			return nil, err
		}
		entries := ds.scriptEntries()
		ds.wrapper = scripts.NewWrapper(cfg.Scripts, cfg.Build.Verbose, projectRoot, cfg.Server.AssetPort, entries, flags, logger)
		ds.scriptCoord = pipeline.NewCoordinator("scripts", debounce, logger, ds.wrapper.Rebuild)
	}

	translator := translations.NewCompiler(ds.watchRoots(), filepath.Join(varDir, "snippets"))
	ds.translationCoord = pipeline.NewCoordinator("translations", debounce, logger,
		func(ctx context.Context, trigger string, changedFiles []string) error {
			return translator.Compile()
		})

	if !cfg.Watch.TemplateFeedbackDisabled {
		// Templates need no compile step here; the coordinator exists so
		// template edits get the same debounced RUN/OK feedback as the
		// other classes.
		ds.templateCoord = pipeline.NewCoordinator("templates", debounce, logger,
			func(ctx context.Context, trigger string, changedFiles []string) error {
				return nil
			})
	}

	return ds, nil
}

func loadExtensions(projectRoot string, logger logging.Logger) *manifest.ExtensionManifest {
	m, err := manifest.LoadExtensions(filepath.Join(projectRoot, manifest.DefaultExtensionsPath))
	if err != nil {
		logger.Warn(context.Background(), err, "no extension manifest, watching app directories only")
		return &manifest.ExtensionManifest{}
	}
	return m
}

// watchRoots derives the watched directory set: the app's own source
// roots plus every extension's declared view and script directories.
func (ds *DevServer) watchRoots() []string {
	dirs := []string{
		filepath.Join(ds.roots.App, "src"),
		filepath.Clean(filepath.Join(ds.roots.App, "..", "..", "views")),
		filepath.Clean(filepath.Join(ds.roots.App, "..", "..", "snippet")),
	}

	if ds.cfg.Watch.TemplateScope == "full" {
		dirs = append(dirs, ds.extensions.ViewDirectories()...)
	}
	dirs = append(dirs, ds.extensions.ScriptDirectories()...)

	return watcher.BuildDirectorySet(dirs)
}

func (ds *DevServer) scriptEntries() []string {
	entries := []string{}
	appEntry := filepath.Join(ds.roots.App, "src", "main.js")
	entries = append(entries, appEntry)
	entries = append(entries, ds.extensions.ScriptEntrypoints()...)
	return entries
}

// Start brings up every component and begins serving. Components that
// cannot start report themselves disabled; only the proxy is required.
func (ds *DevServer) Start(ctx context.Context) error {
	if ds.sidecar != nil {
		if ds.sidecar.Start(ctx) {
			ds.styleCoord.Start(ctx)
			ds.styleCoord.CompileNow()
		} else {
			ds.styleCoord = nil
			ds.sidecar = nil
		}
	}

	if ds.wrapper != nil {
		if ds.wrapper.Start(ctx) {
			ds.scriptCoord.Start(ctx)
			ds.scriptCoord.CompileNow()
		} else {
			ds.scriptCoord = nil
			ds.wrapper = nil
		}
	}

	ds.translationCoord.Start(ctx)
	ds.translationCoord.CompileNow()
	if ds.templateCoord != nil {
		ds.templateCoord.Start(ctx)
	}

	if err := ds.startDetector(ctx); err != nil {
		return err
	}
	return ds.startProxy(ctx)
}

func (ds *DevServer) startDetector(ctx context.Context) error {
	detector, err := watcher.NewDetector(ds.roots.Project, ds.watchRoots(), ds.logger)
	if err != nil {
		return fmt.Errorf("creating change detector: %w", err)
	}
	ds.detector = detector

	if ds.styleCoord != nil {
		detector.Register(watcher.AssetStyle, ds.styleCoord)
	}
	if ds.scriptCoord != nil {
		detector.Register(watcher.AssetScript, ds.scriptCoord)
	}
	if ds.templateCoord != nil && !ds.cfg.Watch.TemplatesDisabled {
		detector.Register(watcher.AssetTemplate, ds.templateCoord)
	}
	detector.Register(watcher.AssetTranslation, ds.translationCoord)

	// Indirectly-imported style files can live outside the initial
	// directory set; watch them as the compiler reports them.
	if ds.sidecar != nil {
		ds.sidecar.OnDependenciesChanged = func(files []string) {
			for _, file := range files {
				if err := detector.WatchFile(file); err != nil {
					ds.logger.Debug(ctx, "cannot watch dependency", "path", file, "error", err.Error())
				}
			}
		}
	}

	if !detector.Start(ctx) {
		ds.logger.Warn(ctx, nil, "change detection disabled, compiles only run at startup")
	}
	return nil
}

func (ds *DevServer) startProxy(ctx context.Context) error {
	originURL, err := url.Parse(ds.cfg.Proxy.OriginURL)
	if err != nil {
		return fmt.Errorf("parsing origin url: %w", err)
	}

	scheme := "http"
	if ds.tlsEnabled() {
		scheme = "https"
	}
	proxyBase := fmt.Sprintf("%s://%s:%d", scheme, ds.cfg.Server.Host, ds.cfg.Server.Port)
	assetBase := fmt.Sprintf("http://127.0.0.1:%d", ds.cfg.Server.AssetPort)

	opts := proxy.Options{
		Origin:    originURL,
		ProxyBase: proxyBase,
		AssetBase: assetBase,
		Logger:    ds.logger,
	}
	if ds.sidecar != nil {
		opts.Internal = ds.sidecar.HandleInternalRequest
		opts.Inject = styles.InjectMarkup
	}
	if ds.wrapper != nil {
		opts.Extra = map[string]http.Handler{
			scripts.RouteFeedback: http.HandlerFunc(ds.wrapper.Feedback().Handle),
		}
	}

	proxyHandler, err := proxy.New(opts)
	if err != nil {
		return err
	}
	ds.proxyHandler = proxyHandler

	addr := fmt.Sprintf("%s:%d", ds.cfg.Server.Host, ds.cfg.Server.Port)
	ds.httpServer = &http.Server{
		Addr:    addr,
		Handler: proxyHandler,
	}

	go func() {
		var serveErr error
		if ds.tlsEnabled() {
			serveErr = ds.httpServer.ListenAndServeTLS(ds.cfg.Server.CertFile, ds.cfg.Server.KeyFile)
		} else {
			// SSL material is optional; its absence falls back to HTTP.
			serveErr = ds.httpServer.ListenAndServe()
		}
		if serveErr != nil && serveErr != http.ErrServerClosed {
			ds.logger.Error(ctx, serveErr, "proxy server stopped")
		}
	}()

	ds.logger.Info(ctx, "proxy listening", "url", proxyBase, "origin", originURL.String())
	return nil
}

func (ds *DevServer) tlsEnabled() bool {
	return ds.cfg.Server.CertFile != "" && ds.cfg.Server.KeyFile != ""
}

// Shutdown tears everything down in dependency order: stop producing
// events, drain the coordinators, then close compilers, subscriber
// streams, and the HTTP surface.
func (ds *DevServer) Shutdown(ctx context.Context) error {
	if ds.detector != nil {
		ds.detector.Close()
	}

	for _, coord := range []*pipeline.Coordinator{ds.styleCoord, ds.scriptCoord, ds.templateCoord, ds.translationCoord} {
		if coord != nil {
			coord.Close()
		}
	}

	if ds.sidecar != nil {
		ds.sidecar.Close()
	}
	if ds.wrapper != nil {
		ds.wrapper.Close()
	}

	if ds.httpServer != nil {
		return ds.httpServer.Shutdown(ctx)
	}
	return nil
}
