// Package config provides configuration management for storewatch using
// Viper for flexible loading from files, environment variables, and
// command-line flags.
//
// The configuration system supports YAML files and environment variable
// overrides with the STOREWATCH_ prefix. Every option is a named, typed
// field with a documented default; components receive the populated
// struct instead of reading the environment ad hoc.
package config

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	ProjectRoot string        `yaml:"project_root" mapstructure:"project_root"`
	Server      ServerConfig  `yaml:"server" mapstructure:"server"`
	Proxy       ProxyConfig   `yaml:"proxy" mapstructure:"proxy"`
	Watch       WatchConfig   `yaml:"watch" mapstructure:"watch"`
	Styles      StylesConfig  `yaml:"styles" mapstructure:"styles"`
	Scripts     ScriptsConfig `yaml:"scripts" mapstructure:"scripts"`
	Build       BuildConfig   `yaml:"build" mapstructure:"build"`
	LogLevel    string        `yaml:"log_level" mapstructure:"log_level"`
}

// ServerConfig describes the proxy-facing HTTP surface.
type ServerConfig struct {
	Port      int    `yaml:"port" mapstructure:"port"`
	Host      string `yaml:"host" mapstructure:"host"`
	AssetPort int    `yaml:"asset_port" mapstructure:"asset_port"`
	Open      bool   `yaml:"open" mapstructure:"open"`
	CertFile  string `yaml:"cert_file" mapstructure:"cert_file"`
	KeyFile   string `yaml:"key_file" mapstructure:"key_file"`
}

// ProxyConfig describes how requests reach the origin server.
type ProxyConfig struct {
	OriginURL string `yaml:"origin_url" mapstructure:"origin_url"`
}

// WatchConfig controls the change detector.
type WatchConfig struct {
	DebounceMillis           int    `yaml:"debounce_ms" mapstructure:"debounce_ms"`
	TemplatesDisabled        bool   `yaml:"templates_disabled" mapstructure:"templates_disabled"`
	TemplateFeedbackDisabled bool   `yaml:"template_feedback_disabled" mapstructure:"template_feedback_disabled"`
	TemplateScope            string `yaml:"template_scope" mapstructure:"template_scope"` // narrow|full
}

// StylesConfig controls the style compilation sidecar.
type StylesConfig struct {
	Disabled             bool     `yaml:"disabled" mapstructure:"disabled"`
	EmbeddedCompiler     bool     `yaml:"embedded_compiler" mapstructure:"embedded_compiler"`
	SourceMaps           bool     `yaml:"source_maps" mapstructure:"source_maps"`
	SkipPostCSS          bool     `yaml:"skip_postcss" mapstructure:"skip_postcss"`
	SilenceDeprecations  bool     `yaml:"silence_deprecations" mapstructure:"silence_deprecations"`
	SilencedDeprecations []string `yaml:"silenced_deprecations" mapstructure:"silenced_deprecations"`
}

// ScriptsConfig controls the script bundler wrapper.
type ScriptsConfig struct {
	Disabled   bool   `yaml:"disabled" mapstructure:"disabled"`
	SourceMaps bool   `yaml:"source_maps" mapstructure:"source_maps"`
	Cache      bool   `yaml:"cache" mapstructure:"cache"`
	CacheDir   string `yaml:"cache_dir" mapstructure:"cache_dir"`
}

// BuildConfig holds options shared by all pipelines.
type BuildConfig struct {
	Verbose     bool `yaml:"verbose" mapstructure:"verbose"`
	Parallelism int  `yaml:"parallelism" mapstructure:"parallelism"`
}

func Load() (*Config, error) {
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	applyDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func applyDefaults(config *Config) {
	if config.Server.Port == 0 {
		config.Server.Port = 9998
	}
	if config.Server.Host == "" {
		config.Server.Host = "localhost"
	}
	if config.Server.AssetPort == 0 {
		config.Server.AssetPort = 9999
	}
	if config.Proxy.OriginURL == "" {
		config.Proxy.OriginURL = "http://localhost:8000"
	}
	if config.Watch.DebounceMillis == 0 {
		config.Watch.DebounceMillis = 50
	}
	if config.Watch.TemplateScope == "" {
		config.Watch.TemplateScope = "full"
	}
	if config.Build.Parallelism == 0 {
		config.Build.Parallelism = runtime.NumCPU()
	}
	if config.Scripts.CacheDir == "" {
		config.Scripts.CacheDir = filepath.Join("var", "storewatch", "cache")
	}
	if len(config.Styles.SilencedDeprecations) == 0 && config.Styles.SilenceDeprecations {
		config.Styles.SilencedDeprecations = defaultSilencedDeprecations(config.Styles.EmbeddedCompiler)
	}

	// Let flags set via viper override zero values that Unmarshal misses
	// for bools (viper's known slice/bool handling quirk).
	if viper.IsSet("styles.source_maps") {
		config.Styles.SourceMaps = viper.GetBool("styles.source_maps")
	}
	if viper.IsSet("scripts.source_maps") {
		config.Scripts.SourceMaps = viper.GetBool("scripts.source_maps")
	}
	if viper.IsSet("server.open") {
		config.Server.Open = viper.GetBool("server.open")
	}
}

// defaultSilencedDeprecations returns the deprecation categories that are
// quieted during compiles. The embedded compiler handles slash division
// natively so it does not need that category silenced.
func defaultSilencedDeprecations(embedded bool) []string {
	categories := []string{"import", "global-builtin", "color-functions", "mixed-decls"}
	if !embedded {
		categories = append(categories, "slash-div")
	}
	return categories
}

// validateConfig validates configuration values for security and correctness
func validateConfig(config *Config) error {
	if err := validatePort(config.Server.Port); err != nil {
		return fmt.Errorf("server port: %w", err)
	}
	if err := validatePort(config.Server.AssetPort); err != nil {
		return fmt.Errorf("asset port: %w", err)
	}
	if config.Server.Port == config.Server.AssetPort {
		return fmt.Errorf("server port and asset port must differ (both %d)", config.Server.Port)
	}

	if config.Server.Host != "" {
		dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\"}
		for _, char := range dangerousChars {
			if strings.Contains(config.Server.Host, char) {
				return fmt.Errorf("host contains dangerous character: %s", char)
			}
		}
	}

	if !strings.HasPrefix(config.Proxy.OriginURL, "http://") && !strings.HasPrefix(config.Proxy.OriginURL, "https://") {
		return fmt.Errorf("origin_url must be an absolute http(s) URL: %s", config.Proxy.OriginURL)
	}

	switch config.Watch.TemplateScope {
	case "narrow", "full":
	default:
		return fmt.Errorf("template_scope must be narrow or full: %s", config.Watch.TemplateScope)
	}

	if config.Scripts.CacheDir != "" {
		cleanPath := filepath.Clean(config.Scripts.CacheDir)
		if strings.Contains(cleanPath, "..") {
			return fmt.Errorf("cache_dir contains path traversal: %s", config.Scripts.CacheDir)
		}
	}

	if config.Build.Parallelism < 1 {
		return fmt.Errorf("parallelism must be at least 1: %d", config.Build.Parallelism)
	}

	// A cert without its key (or vice versa) is a broken setup the user
	// should hear about immediately rather than at handshake time.
	if (config.Server.CertFile == "") != (config.Server.KeyFile == "") {
		return fmt.Errorf("cert_file and key_file must be set together")
	}

	return nil
}

func validatePort(port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("port %d is not in valid range 0-65535", port)
	}
	return nil
}
