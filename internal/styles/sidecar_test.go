package styles

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storewatch/storewatch/internal/config"
	"github.com/storewatch/storewatch/internal/logging"
	"github.com/storewatch/storewatch/internal/manifest"
)

func testSidecar(t *testing.T, cfg config.StylesConfig) *Sidecar {
	t.Helper()
	logger := logging.NewLogger(&logging.LoggerConfig{
		Level:  logging.LevelError,
		Output: io.Discard,
	})
	root := t.TempDir()
	s := NewSidecar(cfg, Roots{Project: root, App: root, Dependency: root}, filepath.Join(root, "var", "storewatch"), logger)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestHandleInternalRequestRouting(t *testing.T) {
	s := testSidecar(t, config.StylesConfig{SourceMaps: true})

	t.Run("unknown paths fall through", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/checkout/cart", nil)
		assert.False(t, s.HandleInternalRequest(rec, req))
	})

	t.Run("css before the first compile", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, RouteCSS, nil)
		require.True(t, s.HandleInternalRequest(rec, req))
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, rec.Body.String(), "no compiled output yet")
	})

	t.Run("css after a compile", func(t *testing.T) {
		s.bumpVersion("body { color: red; }\n", "{}")

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, RouteCSS, nil)
		require.True(t, s.HandleInternalRequest(rec, req))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/css; charset=utf-8", rec.Header().Get("Content-Type"))
		assert.Equal(t, "no-cache, no-store, must-revalidate", rec.Header().Get("Cache-Control"))
		assert.Equal(t, "body { color: red; }\n", rec.Body.String())
	})

	t.Run("source map", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, RouteMap, nil)
		require.True(t, s.HandleInternalRequest(rec, req))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	})
}

func TestHandleInternalRequestMapDisabled(t *testing.T) {
	s := testSidecar(t, config.StylesConfig{SourceMaps: false})
	s.bumpVersion("a {}\n", "{}")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, RouteMap, nil)
	require.True(t, s.HandleInternalRequest(rec, req))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBumpVersionMonotonic(t *testing.T) {
	s := testSidecar(t, config.StylesConfig{})

	var last int64
	for i := 0; i < 10; i++ {
		version := s.bumpVersion("a {}", "")
		assert.Greater(t, version, last, "versions are strictly increasing even within one millisecond")
		last = version
	}
	assert.Equal(t, last, s.Version())
}

func TestChangedAbsPathsKeepsOutOfRootPaths(t *testing.T) {
	s := testSidecar(t, config.StylesConfig{})
	outside := filepath.Join(t.TempDir(), "theme", "src", "button.scss")

	abs := s.changedAbsPaths([]string{
		filepath.Join("src", "scss", "base.scss"),
		outside,
	})

	require.Len(t, abs, 2)
	assert.Equal(t, filepath.Join(s.roots.Project, "src", "scss", "base.scss"), abs[0])
	assert.Equal(t, outside, abs[1], "watched files outside the project root keep their absolute path")
}

func TestPostProcess(t *testing.T) {
	t.Run("appends the map pointer", func(t *testing.T) {
		s := testSidecar(t, config.StylesConfig{SourceMaps: true})
		out := s.postProcess("a { color: red; }")
		assert.Equal(t, "a { color: red; }\n/*# sourceMappingURL=storefront.css.map */\n", out)
	})

	t.Run("no pointer without source maps", func(t *testing.T) {
		s := testSidecar(t, config.StylesConfig{SourceMaps: false})
		assert.Equal(t, "a {}", s.postProcess("a {}"))
	})
}

func TestStartWithoutThemeManifest(t *testing.T) {
	s := testSidecar(t, config.StylesConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	assert.False(t, s.Start(ctx), "a project without a theme manifest runs with styles disabled")
}

func TestRegenerateEntry(t *testing.T) {
	s := testSidecar(t, config.StylesConfig{})
	root := s.roots.Project

	writeManifest := func(rel, content string) {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	writeManifest(manifest.DefaultThemePath, `{
		"themeId": "018bcabc",
		"style": ["app/storefront/src/scss/base.scss", "~theme/overrides"]
	}`)
	writeManifest(manifest.DefaultFeaturesPath, `{"CHECKOUT_V2": true}`)
	writeManifest(manifest.DefaultThemeVariablesPath, "$sw-color-brand-primary: #0042a0;\n")

	source, entryPath, err := s.regenerateEntry()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(s.varDir, "entry.scss"), entryPath)
	assert.Contains(t, source, "\"CHECKOUT_V2\": true")
	assert.Contains(t, source, "$sw-color-brand-primary: #0042a0;")
	assert.Contains(t, source, filepath.ToSlash(filepath.Join(root, "app/storefront/src/scss/base.scss")))
	assert.Contains(t, source, "@import \"~theme/overrides\";", "aliased styles are not made absolute")

	data, err := os.ReadFile(entryPath)
	require.NoError(t, err)
	assert.Equal(t, source, string(data))
}
