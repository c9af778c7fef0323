package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cgast/agbrowse/pkg/page"
	"github.com/cgast/agbrowse/pkg/runtime"
)

// Config represents the runtime configuration from .agbrowse/config.yaml.
type Config struct {
	LogLevel  string          `yaml:"log_level"`
	Browser   BrowserConfig   `yaml:"browser"`
	Sandbox   SandboxConfig   `yaml:"sandbox"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
	Verify    VerifyConfig    `yaml:"verify"`
	Eval      EvalConfig      `yaml:"eval"`
	Trace     TraceConfig     `yaml:"trace"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Inspector InspectorConfig `yaml:"inspector"`
}

// BrowserConfig selects how the browser is obtained.
type BrowserConfig struct {
	Remote            string        `yaml:"remote"` // DevTools websocket URL; empty launches Chrome
	Headless          bool          `yaml:"headless"`
	Stealth           bool          `yaml:"stealth"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`
}

// SandboxConfig restricts which hosts the browser may load. Entries match
// the host and its subdomains; denied entries win.
type SandboxConfig struct {
	AllowedDomains []string `yaml:"allowed_domains"`
	DeniedDomains  []string `yaml:"denied_domains"`
}

// SnapshotConfig holds provider defaults.
type SnapshotConfig struct {
	Limit            int           `yaml:"limit"`
	ExtensionTimeout time.Duration `yaml:"extension_timeout"`
}

// VerifyConfig defines retry defaults for eventually checks.
type VerifyConfig struct {
	Timeout             time.Duration `yaml:"timeout"`
	PollInterval        time.Duration `yaml:"poll_interval"`
	MinConfidence       *float64      `yaml:"min_confidence"`
	MaxSnapshotAttempts int           `yaml:"max_snapshot_attempts"`
	MissingConfidence   string        `yaml:"missing_confidence"` // "trust" or "distrust"
}

// EvalConfig bounds script output.
type EvalConfig struct {
	MaxOutputChars int `yaml:"max_output_chars"`
}

// TraceConfig defines where trace events are persisted.
type TraceConfig struct {
	DBPath    string `yaml:"db_path"`
	JSONLPath string `yaml:"jsonl_path"`
}

// ArchiveConfig defines the snapshot archive location.
type ArchiveConfig struct {
	Dir string `yaml:"dir"`
}

// InspectorConfig defines inspector server settings.
type InspectorConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// PlatformConfig represents platform credentials from .agbrowse/platforms.yaml.
type PlatformConfig struct {
	GitHub GitHubConfig `yaml:"github"`
}

// GitHubConfig holds the failure reporter settings.
type GitHubConfig struct {
	Token  string   `yaml:"token"`
	Repo   string   `yaml:"repo"` // owner/name
	Labels []string `yaml:"labels"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		Browser: BrowserConfig{
			Headless:          true,
			NavigationTimeout: 30 * time.Second,
		},
		Snapshot: SnapshotConfig{
			Limit:            50,
			ExtensionTimeout: 5 * time.Second,
		},
		Verify: VerifyConfig{
			Timeout:           runtime.DefaultEventually.Timeout,
			PollInterval:      runtime.DefaultEventually.PollInterval,
			MissingConfidence: "trust",
		},
		Eval: EvalConfig{
			MaxOutputChars: runtime.DefaultMaxOutputChars,
		},
		Trace: TraceConfig{
			DBPath: ".agbrowse/trace.db",
		},
		Archive: ArchiveConfig{
			Dir: ".agbrowse/snapshots",
		},
		Inspector: InspectorConfig{
			Port: 4200,
		},
	}
}

// LoadConfig reads and parses a runtime config YAML file.
// Returns default config if the file doesn't exist.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks value ranges that YAML cannot express.
func (c Config) Validate() error {
	if c.Verify.Timeout <= 0 {
		return fmt.Errorf("verify.timeout must be positive")
	}
	if c.Verify.PollInterval <= 0 {
		return fmt.Errorf("verify.poll_interval must be positive")
	}
	if mc := c.Verify.MinConfidence; mc != nil && (*mc < 0 || *mc > 1) {
		return fmt.Errorf("verify.min_confidence must be within [0, 1], got %g", *mc)
	}
	if c.Verify.MaxSnapshotAttempts < 0 {
		return fmt.Errorf("verify.max_snapshot_attempts must be non-negative")
	}
	if _, err := runtime.ParseConfidencePolicy(c.Verify.MissingConfidence); err != nil {
		return fmt.Errorf("verify.missing_confidence: %w", err)
	}
	if c.Snapshot.Limit < 0 {
		return fmt.Errorf("snapshot.limit must be non-negative")
	}
	return nil
}

// EventuallyDefaults converts the verify section into runtime retry defaults.
func (c Config) EventuallyDefaults() runtime.EventuallyOptions {
	return runtime.EventuallyOptions{
		Timeout:             c.Verify.Timeout,
		PollInterval:        c.Verify.PollInterval,
		MinConfidence:       c.Verify.MinConfidence,
		MaxSnapshotAttempts: c.Verify.MaxSnapshotAttempts,
		Snapshot:            c.SnapshotDefaults(),
	}
}

// SnapshotDefaults returns the provider options applied to every snapshot.
func (c Config) SnapshotDefaults() page.SnapshotOptions {
	return page.SnapshotOptions{Limit: c.Snapshot.Limit}
}

// ConfidencePolicy parses verify.missing_confidence, falling back to trust.
func (c Config) ConfidencePolicy() runtime.ConfidencePolicy {
	p, err := runtime.ParseConfidencePolicy(c.Verify.MissingConfidence)
	if err != nil {
		return runtime.ConfidenceTrust
	}
	return p
}

// LoadPlatformConfig reads and parses a platform credentials YAML file.
// Performs environment variable interpolation on string values.
func LoadPlatformConfig(path string) (PlatformConfig, error) {
	var cfg PlatformConfig

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read platform config %s: %w", path, err)
	}

	interpolated := interpolateEnvVars(string(data))

	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return cfg, fmt.Errorf("parse platform config %s: %w", path, err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR_NAME} patterns.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// interpolateEnvVars replaces ${VAR_NAME} patterns with environment variable values.
func interpolateEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}
