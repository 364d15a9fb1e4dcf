package devserver

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storewatch/storewatch/internal/config"
	"github.com/storewatch/storewatch/internal/logging"
)

// chdir stands in for t.Chdir, which needs Go 1.24.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Server.AssetPort = 0
	cfg.Proxy.OriginURL = "http://localhost:8000"
	cfg.Watch.DebounceMillis = 10
	cfg.Watch.TemplateScope = "full"
	cfg.Styles.Disabled = true
	cfg.Scripts.Disabled = true
	return cfg
}

func testLogger() logging.Logger {
	return logging.NewLogger(&logging.LoggerConfig{
		Level:  logging.LevelError,
		Output: io.Discard,
	})
}

// scaffoldProjectTree lays out the minimal storefront tree New expects.
func scaffoldProjectTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	for _, dir := range []string{
		"var",
		"custom",
		"src/Storefront/Resources/app/storefront/src",
		"src/Storefront/Resources/views",
		"src/Storefront/Resources/snippet",
	} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, filepath.FromSlash(dir)), 0o755))
	}

	// TempDir may be behind a symlink; resolve so path comparisons hold.
	resolved, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	return resolved
}

// scaffoldProject additionally makes the tree the working directory.
func scaffoldProject(t *testing.T) string {
	t.Helper()
	root := scaffoldProjectTree(t)
	chdir(t, root)
	return root
}

func TestNewResolvesProjectLayout(t *testing.T) {
	root := scaffoldProject(t)

	ds, err := New(testConfig(), testLogger())
	require.NoError(t, err)

	assert.Equal(t, root, ds.roots.Project)
	assert.Equal(t, filepath.Join(root, "src", "Storefront", "Resources", "app", "storefront"), ds.roots.App)
	assert.Empty(t, ds.roots.Dependency, "missing node_modules degrades instead of failing")

	assert.Nil(t, ds.styleCoord, "styles disabled by config")
	assert.Nil(t, ds.scriptCoord, "scripts disabled by config")
	assert.NotNil(t, ds.translationCoord, "translations always run")
	assert.NotNil(t, ds.templateCoord)
}

func TestNewWithConfiguredProjectRoot(t *testing.T) {
	root := scaffoldProjectTree(t)
	chdir(t, t.TempDir())

	cfg := testConfig()
	cfg.ProjectRoot = root

	ds, err := New(cfg, testLogger())
	require.NoError(t, err)
	assert.Equal(t, root, ds.roots.Project, "the configured root wins over the working directory")
}

func TestNewWithoutAppRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "var"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "custom"), 0o755))
	chdir(t, root)

	_, err := New(testConfig(), testLogger())
	assert.ErrorContains(t, err, "no storefront asset root")
}

func TestWatchRoots(t *testing.T) {
	root := scaffoldProject(t)

	basePath := filepath.Join(root, "custom", "plugins", "Pay", "src", "Resources")
	extViews := filepath.Join(basePath, "views")
	require.NoError(t, os.MkdirAll(extViews, 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(root, "var", "plugins.json"),
		[]byte(`{"extensions":[{"name":"Pay","basePath":"`+filepath.ToSlash(basePath)+`","views":["views"]}]}`),
		0o644,
	))

	t.Run("full scope includes extension views", func(t *testing.T) {
		cfg := testConfig()
		ds, err := New(cfg, testLogger())
		require.NoError(t, err)

		roots := ds.watchRoots()
		assert.Contains(t, roots, filepath.Join(ds.roots.App, "src"))
		assert.Contains(t, roots, filepath.Join(root, "src", "Storefront", "Resources", "views"))
		assert.Contains(t, roots, filepath.Join(root, "src", "Storefront", "Resources", "snippet"))
		assert.Contains(t, roots, extViews)
	})

	t.Run("narrow scope leaves extension views out", func(t *testing.T) {
		cfg := testConfig()
		cfg.Watch.TemplateScope = "narrow"
		ds, err := New(cfg, testLogger())
		require.NoError(t, err)

		assert.NotContains(t, ds.watchRoots(), extViews)
	})
}

func TestTemplateFeedbackDisabled(t *testing.T) {
	scaffoldProject(t)

	cfg := testConfig()
	cfg.Watch.TemplateFeedbackDisabled = true

	ds, err := New(cfg, testLogger())
	require.NoError(t, err)
	assert.Nil(t, ds.templateCoord)
}

func TestStartAndShutdown(t *testing.T) {
	root := scaffoldProject(t)

	snippetDir := filepath.Join(root, "src", "Storefront", "Resources", "snippet")
	require.NoError(t, os.WriteFile(
		filepath.Join(snippetDir, "storefront.en-GB.json"),
		[]byte(`{"checkout":{"cart":"Cart"}}`),
		0o644,
	))

	ds, err := New(testConfig(), testLogger())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, ds.Start(ctx))

	// The startup translation compile produced the merged snippet file.
	merged := filepath.Join(root, "var", "storewatch", "snippets", "en-GB.json")
	require.Eventually(t, func() bool {
		_, err := os.Stat(merged)
		return err == nil
	}, 3*time.Second, 20*time.Millisecond)

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, ds.Shutdown(shutdownCtx))
}
