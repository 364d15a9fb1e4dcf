package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/storewatch/storewatch/internal/config"
	"github.com/storewatch/storewatch/internal/devserver"
	"github.com/storewatch/storewatch/internal/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the watching proxy with live asset recompilation",
	Long: `Start the reverse proxy in front of the origin server and watch the
project's style, script, template and snippet sources, recompiling and
pushing updates to connected browsers as files change.

Examples:
  storewatch serve
  storewatch serve --port 9998 --origin http://localhost:8000
  STOREWATCH_STYLES_DISABLED=1 storewatch serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 9998, "Port the proxy serves on")
	serveCmd.Flags().String("host", "localhost", "Host to bind to")
	serveCmd.Flags().Int("asset-port", 9999, "Port the script dev server serves on")
	serveCmd.Flags().String("origin", "http://localhost:8000", "Origin server base URL")
	serveCmd.Flags().Bool("open", false, "Open the browser automatically")
	serveCmd.Flags().BoolP("verbose", "v", false, "Verbose build output")
	serveCmd.Flags().String("root", "", "Project root (default: ascend from the working directory)")

	viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	viper.BindPFlag("server.asset_port", serveCmd.Flags().Lookup("asset-port"))
	viper.BindPFlag("proxy.origin_url", serveCmd.Flags().Lookup("origin"))
	viper.BindPFlag("server.open", serveCmd.Flags().Lookup("open"))
	viper.BindPFlag("build.verbose", serveCmd.Flags().Lookup("verbose"))
	viper.BindPFlag("project_root", serveCmd.Flags().Lookup("root"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	// Bounds the compiler and bundler worker pools, which size off the
	// scheduler's processor count.
	runtime.GOMAXPROCS(cfg.Build.Parallelism)

	logger := logging.NewLogger(&logging.LoggerConfig{
		Level:  logging.ParseLevel(cfg.LogLevel),
		Format: "text",
		Output: os.Stdout,
	})

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	server, err := devserver.New(cfg, logger)
	if err != nil {
		return err
	}

	if err := server.Start(ctx); err != nil {
		return err
	}

	if cfg.Server.Open {
		openBrowser(fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

// openBrowser best-effort opens the default browser; failures are
// ignored since serving does not depend on it.
func openBrowser(url string) {
	var command *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		command = exec.Command("open", url)
	case "windows":
		command = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		command = exec.Command("xdg-open", url)
	}
	_ = command.Start()
}
