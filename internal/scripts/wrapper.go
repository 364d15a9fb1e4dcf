// Package scripts wraps the bundler's watch-and-serve mode for the
// storefront's script assets. The wrapper configures the dev server,
// derives compile begin/end/fail feedback from the bundler's lifecycle
// hooks, and re-emits it through the same status vocabulary as the
// other pipelines.
package scripts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/storewatch/storewatch/internal/config"
	"github.com/storewatch/storewatch/internal/errors"
	"github.com/storewatch/storewatch/internal/logging"
	"github.com/storewatch/storewatch/internal/manifest"
)

// RouteFeedback is the websocket endpoint carrying build feedback to the
// browser.
const RouteFeedback = "/__storewatch/script-events"

// Wrapper drives the bundler's watch/serve primitive for all script
// entry points.
type Wrapper struct {
	cfg      config.ScriptsConfig
	verbose  bool
	reporter *logging.StatusReporter
	logger   logging.Logger
	hub      *FeedbackHub

	projectRoot string
	assetPort   int
	entries     []string
	flags       manifest.FeatureFlags

	buildCtx api.BuildContext

	mu        sync.Mutex
	running   bool
	startedAt time.Time

	closeOnce sync.Once
}

// NewWrapper creates an unstarted wrapper. Entry points come from the
// app itself plus every extension's declared script entry.
func NewWrapper(cfg config.ScriptsConfig, verbose bool, projectRoot string, assetPort int, entries []string, flags manifest.FeatureFlags, logger logging.Logger) *Wrapper {
	return &Wrapper{
		cfg:         cfg,
		verbose:     verbose,
		reporter:    logging.NewStatusReporter(logger, "scripts"),
		logger:      logger.WithComponent("scripts"),
		hub:         NewFeedbackHub(logger),
		projectRoot: projectRoot,
		assetPort:   assetPort,
		entries:     entries,
		flags:       flags,
	}
}

// Start configures the bundler and begins watch-and-serve on the asset
// port. It returns false, with a warning, when there is nothing to
// bundle.
func (w *Wrapper) Start(ctx context.Context) bool {
	if len(w.entries) == 0 {
		w.reporter.Disabled(ctx, "no script entry points found")
		return false
	}

	outDir, err := w.prepareOutputDir()
	if err != nil {
		w.reporter.Disabled(ctx, err.Error())
		return false
	}

	options := w.buildOptions(outDir)

	buildCtx, ctxErr := api.Context(options)
	if ctxErr != nil {
		w.reporter.Disabled(ctx, errors.SingleLine(ctxErr.Error(), 200))
		return false
	}
	w.buildCtx = buildCtx

	result, err := buildCtx.Serve(api.ServeOptions{
		Host:     "127.0.0.1",
		Port:     uint16(w.assetPort),
		Servedir: outDir,
	})
	if err != nil {
		w.reporter.Disabled(ctx, err.Error())
		buildCtx.Dispose()
		return false
	}

	w.logger.Info(ctx, "script dev server listening",
		"port", result.Port,
		"entries", len(w.entries),
	)
	return true
}

// buildOptions assembles the bundler configuration: live-reload via the
// feedback channel, no auto-open, verbose-or-errors-only output, source
// maps per config, and the feature flags injected as a define.
func (w *Wrapper) buildOptions(outDir string) api.BuildOptions {
	logLevel := api.LogLevelError
	if w.verbose {
		logLevel = api.LogLevelInfo
	}

	sourcemap := api.SourceMapNone
	if w.cfg.SourceMaps {
		sourcemap = api.SourceMapLinked
	}

	flagsJSON, _ := json.Marshal(w.flags)

	return api.BuildOptions{
		EntryPoints: w.entries,
		Bundle:      true,
		Write:       true,
		Outdir:      outDir,
		Sourcemap:   sourcemap,
		LogLevel:    logLevel,
		Define: map[string]string{
			"process.env.NODE_ENV":    `"development"`,
			"__STOREWATCH_FEATURES__": string(flagsJSON),
		},
		Plugins: []api.Plugin{w.statusPlugin()},
	}
}

// statusPlugin derives the three browser feedback states from the
// bundler's lifecycle hooks: begin (if not already running),
// done-success, and done-error. The log-stream status vocabulary comes
// from the script coordinator driving Rebuild, so the hooks only feed
// the browser channel.
func (w *Wrapper) statusPlugin() api.Plugin {
	return api.Plugin{
		Name: "storewatch-status",
		Setup: func(build api.PluginBuild) {
			build.OnStart(func() (api.OnStartResult, error) {
				w.mu.Lock()
				alreadyRunning := w.running
				if !alreadyRunning {
					w.running = true
					w.startedAt = time.Now()
				}
				w.mu.Unlock()

				if !alreadyRunning {
					w.hub.Broadcast(logging.StatusRun, "")
				}
				return api.OnStartResult{}, nil
			})

			build.OnEnd(func(result *api.BuildResult) (api.OnEndResult, error) {
				w.mu.Lock()
				w.running = false
				w.mu.Unlock()

				if len(result.Errors) > 0 {
					w.hub.Broadcast(logging.StatusErr, errors.SingleLine(firstError(result.Errors), 200))
					return api.OnEndResult{}, nil
				}

				w.hub.Broadcast(logging.StatusOK, "")
				return api.OnEndResult{}, nil
			})
		},
	}
}

// Rebuild runs one bundle pass. It is the single-flight body of the
// script coordinator; the change set is informational since the bundler
// tracks its own module graph.
func (w *Wrapper) Rebuild(ctx context.Context, trigger string, changedFiles []string) error {
	if w.buildCtx == nil {
		return fmt.Errorf("script wrapper not started")
	}

	result := w.buildCtx.Rebuild()
	if len(result.Errors) > 0 {
		return fmt.Errorf("%s", firstError(result.Errors))
	}
	return nil
}

func firstError(messages []api.Message) string {
	msg := messages[0]
	if msg.Location != nil {
		return fmt.Sprintf("%s:%d: %s", msg.Location.File, msg.Location.Line, msg.Text)
	}
	return msg.Text
}

// prepareOutputDir returns the bundle output directory. With the dev
// cache enabled the directory survives restarts, keyed by a fingerprint
// of the bundler configuration: when the configuration changes the
// stale cache is wiped so it cannot serve output built under old
// options.
func (w *Wrapper) prepareOutputDir() (string, error) {
	base := filepath.Join(w.projectRoot, "var", "storewatch", "bundle")
	if !w.cfg.Cache {
		if err := os.RemoveAll(base); err != nil {
			return "", fmt.Errorf("clearing bundle directory: %w", err)
		}
		if err := os.MkdirAll(base, 0o755); err != nil {
			return "", err
		}
		return base, nil
	}

	cacheDir := w.cfg.CacheDir
	if !filepath.IsAbs(cacheDir) {
		cacheDir = filepath.Join(w.projectRoot, cacheDir)
	}
	bundleDir := filepath.Join(cacheDir, "bundle")

	fingerprint := w.fingerprint()
	stampPath := filepath.Join(cacheDir, "bundle.key")
	previous, _ := os.ReadFile(stampPath)
	if string(previous) != fingerprint {
		if err := os.RemoveAll(bundleDir); err != nil {
			return "", fmt.Errorf("invalidating bundle cache: %w", err)
		}
	}

	if err := os.MkdirAll(bundleDir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(stampPath, []byte(fingerprint), 0o644); err != nil {
		return "", fmt.Errorf("writing cache key: %w", err)
	}
	return bundleDir, nil
}

// fingerprint hashes every input that shapes the bundler configuration.
func (w *Wrapper) fingerprint() string {
	h := sha256.New()

	entries := append([]string(nil), w.entries...)
	sort.Strings(entries)
	for _, entry := range entries {
		fmt.Fprintln(h, entry)
	}

	for _, name := range w.flags.SortedNames() {
		fmt.Fprintf(h, "%s=%t\n", name, w.flags[name])
	}
	fmt.Fprintf(h, "sourcemaps=%t\n", w.cfg.SourceMaps)
	fmt.Fprintf(h, "verbose=%t\n", w.verbose)

	return hex.EncodeToString(h.Sum(nil))
}

// FeedbackHub exposes the hub for HTTP wiring.
func (w *Wrapper) Feedback() *FeedbackHub {
	return w.hub
}

// Close disposes the bundler context and terminates feedback streams.
func (w *Wrapper) Close() {
	w.closeOnce.Do(func() {
		if w.buildCtx != nil {
			w.buildCtx.Dispose()
		}
		w.hub.Close()
	})
}
