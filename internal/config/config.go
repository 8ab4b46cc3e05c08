// Package config manages application configuration from environment variables and flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

const envPrefix = "MDVIEW_"

// Config holds runtime configuration for the editor server.
type Config struct {
	// Root is the folder opened at start. Empty starts without a folder.
	Root           string
	AssetsDir      string
	StateDir       string
	LogFile        string
	KatexScript    string
	MermaidCLI     string
	HighlightStyle string
	DiagramTimeout time.Duration
	Debounce       time.Duration
	FocusDelay     time.Duration
	Port           int
	DiagramWorkers int
	AutoOpen       bool
	Verbose        bool
	Debug          bool
}

// Default returns ready-to-use defaults prior to env/flag overrides.
func Default() Config {
	return Config{
		Port:           0, // 0 = auto-select random available port
		AutoOpen:       true,
		AssetsDir:      "static",
		StateDir:       defaultStateDir(),
		MermaidCLI:     "mmdc",
		HighlightStyle: "github-dark",
		DiagramTimeout: 10 * time.Second,
		DiagramWorkers: 4,
		Debounce:       250 * time.Millisecond,
		FocusDelay:     400 * time.Millisecond,
	}
}

func defaultStateDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "mdview")
	}
	return ".mdview"
}

// RegisterFlags attaches configuration flags to the provided FlagSet.
func RegisterFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.StringVarP(&cfg.Root, "root", "r", cfg.Root, "folder to open at start")
	fs.IntVarP(&cfg.Port, "port", "p", cfg.Port, "port to bind the HTTP server (0 = auto-assign, default: auto)")
	fs.BoolVar(&cfg.AutoOpen, "auto-open", cfg.AutoOpen, "open the browser automatically after start")
	fs.StringVar(&cfg.AssetsDir, "assets", cfg.AssetsDir, "directory with frontend assets overriding the embedded ones")
	fs.StringVar(&cfg.StateDir, "state-dir", cfg.StateDir, "directory for the saved draft")
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "also write logs to this rotated file")
	fs.StringVar(&cfg.KatexScript, "katex", cfg.KatexScript, "path to katex.min.js for server-side math rendering")
	fs.StringVar(&cfg.MermaidCLI, "mermaid-cli", cfg.MermaidCLI, "mermaid CLI used to render mermaid diagrams")
	fs.StringVar(&cfg.HighlightStyle, "style", cfg.HighlightStyle, "chroma style for code blocks")
	fs.DurationVar(&cfg.DiagramTimeout, "diagram-timeout", cfg.DiagramTimeout, "time limit for a single diagram render")
	fs.IntVar(&cfg.DiagramWorkers, "diagram-workers", cfg.DiagramWorkers, "diagrams rendered concurrently")
	fs.DurationVar(&cfg.Debounce, "debounce", cfg.Debounce, "quiet period before typed input is rendered")
	fs.DurationVar(&cfg.FocusDelay, "focus-delay", cfg.FocusDelay, "wait after a smooth scroll before focusing the target")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "enable verbose logging (HTTP requests)")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "enable debug logging")
}

// ApplyEnvOverrides reads supported environment variables and overrides cfg in place.
func ApplyEnvOverrides(cfg *Config) {
	applyStringEnv("ROOT", func(v string) { cfg.Root = v })
	applyIntEnv("PORT", func(v int) { cfg.Port = v })
	applyBoolEnv("AUTO_OPEN", func(v bool) { cfg.AutoOpen = v })
	applyStringEnv("ASSETS", func(v string) { cfg.AssetsDir = v })
	applyStringEnv("STATE_DIR", func(v string) { cfg.StateDir = v })
	applyStringEnv("LOG_FILE", func(v string) { cfg.LogFile = v })
	applyStringEnv("KATEX", func(v string) { cfg.KatexScript = v })
	applyStringEnv("MERMAID_CLI", func(v string) { cfg.MermaidCLI = v })
	applyStringEnv("STYLE", func(v string) { cfg.HighlightStyle = v })
	applyDurationEnv("DIAGRAM_TIMEOUT", func(v time.Duration) { cfg.DiagramTimeout = v })
	applyIntEnv("DIAGRAM_WORKERS", func(v int) { cfg.DiagramWorkers = v })
	applyDurationEnv("DEBOUNCE", func(v time.Duration) { cfg.Debounce = v })
	applyDurationEnv("FOCUS_DELAY", func(v time.Duration) { cfg.FocusDelay = v })
	applyBoolEnv("VERBOSE", func(v bool) { cfg.Verbose = v })
	applyBoolEnv("DEBUG", func(v bool) { cfg.Debug = v })
}

func applyStringEnv(key string, apply func(string)) {
	if raw, ok := lookupNonEmpty(key); ok {
		apply(raw)
	}
}

func applyIntEnv(key string, apply func(int)) {
	if raw, ok := lookupNonEmpty(key); ok {
		if value, err := strconv.Atoi(raw); err == nil {
			apply(value)
		}
	}
}

func applyBoolEnv(key string, apply func(bool)) {
	if raw, ok := lookupNonEmpty(key); ok {
		if value, err := strconv.ParseBool(raw); err == nil {
			apply(value)
		}
	}
}

func applyDurationEnv(key string, apply func(time.Duration)) {
	if raw, ok := lookupNonEmpty(key); ok {
		if value, err := time.ParseDuration(raw); err == nil {
			apply(value)
		}
	}
}

func lookupNonEmpty(key string) (string, bool) {
	raw, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return "", false
	}
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", false
	}
	return value, true
}

// Finalize validates values and makes paths absolute.
func Finalize(cfg *Config) error {
	if cfg.Root != "" {
		root, err := filepath.Abs(cfg.Root)
		if err != nil {
			return fmt.Errorf("resolve root directory: %w", err)
		}
		cfg.Root = root
	}

	// Allow port 0 for dynamic allocation, otherwise validate range
	if cfg.Port < 0 || cfg.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.DiagramWorkers < 1 {
		return fmt.Errorf("invalid diagram workers: %d", cfg.DiagramWorkers)
	}
	if cfg.DiagramTimeout <= 0 {
		return fmt.Errorf("invalid diagram timeout: %s", cfg.DiagramTimeout)
	}
	if cfg.Debounce < 0 || cfg.FocusDelay < 0 {
		return fmt.Errorf("delays must not be negative")
	}
	if cfg.Debug {
		cfg.Verbose = true
	}

	for _, p := range []*string{&cfg.AssetsDir, &cfg.StateDir, &cfg.LogFile, &cfg.KatexScript} {
		if *p == "" {
			continue
		}
		abs, err := filepath.Abs(*p)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", *p, err)
		}
		*p = abs
	}
	return nil
}
