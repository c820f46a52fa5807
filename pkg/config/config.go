// Package config provides hierarchical configuration management.
// Priority: defaults < system < user < project < explicit file < env < flags
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all soilflow configuration. Contamination baselines and class
// thresholds are fixed domain constants and deliberately have no entry here.
type Config struct {
	Version int `yaml:"version"`

	Columns    ColumnsConfig    `yaml:"columns"`
	Periods    []PeriodRule     `yaml:"periods"`
	Imputation ImputationConfig `yaml:"imputation"`
	Assessment AssessmentConfig `yaml:"assessment"`
	Logging    LoggingConfig    `yaml:"logging"`
	Server     ServerConfig     `yaml:"server"`
	S3         S3Config         `yaml:"s3"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// ColumnsConfig names the columns the pipeline keys on.
type ColumnsConfig struct {
	// Critical measurement columns; a row missing any of them is dropped,
	// a dataset missing any of them is rejected.
	Critical []string `yaml:"critical"`

	Identifier  string `yaml:"identifier"`   // site identifier with -DD suffix
	SiteKey     string `yaml:"site_key"`     // grouping key for selection
	Year        string `yaml:"year"`         // sampling year
	SampleCount string `yaml:"sample_count"` // derived: suffix as integer
	Period      string `yaml:"period"`       // derived: period label
}

// PeriodRule is one ordered year-range rule; bounds are inclusive.
type PeriodRule struct {
	From  int    `yaml:"from"`
	To    int    `yaml:"to"`
	Label string `yaml:"label"`
}

// ImputationConfig controls the iterative imputer.
type ImputationConfig struct {
	MaxIterations int     `yaml:"max_iterations"`
	Tolerance     float64 `yaml:"tolerance"`
	Seed          int64   `yaml:"seed"`
	Order         string  `yaml:"order"` // ascending | random
}

// AssessmentConfig controls imputation-quality reporting.
type AssessmentConfig struct {
	Columns []string `yaml:"columns"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug | info | warn | error
	JSON  bool   `yaml:"json"`
}

// ServerConfig for the HTTP surface.
type ServerConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	MaxUploadSize string `yaml:"max_upload_size"`
}

// S3Config for s3:// dataset paths.
type S3Config struct {
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`   // for S3-compatible services
	PathStyle bool   `yaml:"path_style"` // for MinIO, LocalStack
}

// TelemetryConfig for optional tracing.
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Default returns the default configuration. Column names, period ranges, and
// assessment columns default to the survey's published layout.
func Default() *Config {
	return &Config{
		Version: 1,
		Columns: ColumnsConfig{
			Critical:    []string{"pH", "TC %", "TN %", "Olsen P", "AMN", "BD"},
			Identifier:  "Site No.1",
			SiteKey:     "Site Num",
			Year:        "Year",
			SampleCount: "Sample Count",
			Period:      "Period",
		},
		Periods: []PeriodRule{
			{From: 1995, To: 2000, Label: "1995-2000"},
			{From: 2008, To: 2012, Label: "2008-2012"},
			{From: 2013, To: 2017, Label: "2013-2017"},
			{From: 2018, To: 2023, Label: "2018-2023"},
		},
		Imputation: ImputationConfig{
			MaxIterations: 10,
			Tolerance:     1e-3,
			Seed:          0,
			Order:         "ascending",
		},
		Assessment: AssessmentConfig{
			Columns: []string{"MP-10", "As", "Cd", "Cr", "Cu", "Ni", "Pb", "Zn"},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Server: ServerConfig{
			Host:          "localhost",
			Port:          8080,
			MaxUploadSize: "100MB",
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			ServiceName: "soilflow",
			SampleRatio: 1.0,
		},
	}
}

// Manager handles configuration loading and merging.
type Manager struct {
	mu     sync.RWMutex
	config *Config
	paths  []string // Paths that were loaded
}

// NewManager creates a new configuration manager.
func NewManager() *Manager {
	return &Manager{
		config: Default(),
	}
}

// Load loads configuration from all standard sources in priority order.
func (m *Manager) Load() error {
	return m.load("")
}

// LoadFile loads the standard sources, then merges an explicit file on top.
func (m *Manager) LoadFile(path string) error {
	return m.load(path)
}

func (m *Manager) load(explicit string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Start with defaults
	m.config = Default()

	// A .env file feeds the environment before env overrides apply.
	_ = godotenv.Load()

	// Load from paths in order (later overrides earlier)
	paths := m.getConfigPaths()
	if explicit != "" {
		paths = append(paths, explicit)
	}
	for _, path := range paths {
		if err := m.loadFile(path); err != nil {
			if !os.IsNotExist(err) {
				return err
			}
			if path == explicit {
				return err
			}
		} else {
			m.paths = append(m.paths, path)
		}
	}

	// Override with environment variables
	m.loadEnv()

	return m.config.Validate()
}

// getConfigPaths returns config file paths in priority order.
func (m *Manager) getConfigPaths() []string {
	var paths []string

	// System config
	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/soilflow/config.yaml")
	}

	// User config
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".soilflow", "config.yaml"))
	}

	// Project config (current directory)
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".soilflow.yaml"))
	}

	return paths
}

// loadFile loads a single config file and merges it.
func (m *Manager) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var partial Config
	if err := yaml.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	m.merge(&partial)
	return nil
}

// merge merges non-zero values from src into config.
func (m *Manager) merge(src *Config) {
	// Columns
	if len(src.Columns.Critical) > 0 {
		m.config.Columns.Critical = src.Columns.Critical
	}
	if src.Columns.Identifier != "" {
		m.config.Columns.Identifier = src.Columns.Identifier
	}
	if src.Columns.SiteKey != "" {
		m.config.Columns.SiteKey = src.Columns.SiteKey
	}
	if src.Columns.Year != "" {
		m.config.Columns.Year = src.Columns.Year
	}
	if src.Columns.SampleCount != "" {
		m.config.Columns.SampleCount = src.Columns.SampleCount
	}
	if src.Columns.Period != "" {
		m.config.Columns.Period = src.Columns.Period
	}

	// Periods replace wholesale; partial period lists are ambiguous.
	if len(src.Periods) > 0 {
		m.config.Periods = src.Periods
	}

	// Imputation
	if src.Imputation.MaxIterations != 0 {
		m.config.Imputation.MaxIterations = src.Imputation.MaxIterations
	}
	if src.Imputation.Tolerance != 0 {
		m.config.Imputation.Tolerance = src.Imputation.Tolerance
	}
	if src.Imputation.Seed != 0 {
		m.config.Imputation.Seed = src.Imputation.Seed
	}
	if src.Imputation.Order != "" {
		m.config.Imputation.Order = src.Imputation.Order
	}

	// Assessment
	if len(src.Assessment.Columns) > 0 {
		m.config.Assessment.Columns = src.Assessment.Columns
	}

	// Logging
	if src.Logging.Level != "" {
		m.config.Logging.Level = src.Logging.Level
	}
	if src.Logging.JSON {
		m.config.Logging.JSON = true
	}

	// Server
	if src.Server.Host != "" {
		m.config.Server.Host = src.Server.Host
	}
	if src.Server.Port != 0 {
		m.config.Server.Port = src.Server.Port
	}
	if src.Server.MaxUploadSize != "" {
		m.config.Server.MaxUploadSize = src.Server.MaxUploadSize
	}

	// S3
	if src.S3.Region != "" {
		m.config.S3.Region = src.S3.Region
	}
	if src.S3.Endpoint != "" {
		m.config.S3.Endpoint = src.S3.Endpoint
	}
	if src.S3.PathStyle {
		m.config.S3.PathStyle = true
	}

	// Telemetry
	if src.Telemetry.Enabled {
		m.config.Telemetry.Enabled = true
	}
	if src.Telemetry.Endpoint != "" {
		m.config.Telemetry.Endpoint = src.Telemetry.Endpoint
	}
	if src.Telemetry.ServiceName != "" {
		m.config.Telemetry.ServiceName = src.Telemetry.ServiceName
	}
	if src.Telemetry.SampleRatio != 0 {
		m.config.Telemetry.SampleRatio = src.Telemetry.SampleRatio
	}
}

// loadEnv loads configuration from environment variables.
func (m *Manager) loadEnv() {
	if v := os.Getenv("SOILFLOW_LOG_LEVEL"); v != "" {
		m.config.Logging.Level = v
	}

	if v := os.Getenv("SOILFLOW_HOST"); v != "" {
		m.config.Server.Host = v
	}

	if v := os.Getenv("SOILFLOW_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			m.config.Server.Port = port
		}
	}

	if v := os.Getenv("SOILFLOW_S3_REGION"); v != "" {
		m.config.S3.Region = v
	}

	if v := os.Getenv("SOILFLOW_S3_ENDPOINT"); v != "" {
		m.config.S3.Endpoint = v
	}

	if v := os.Getenv("SOILFLOW_OTLP_ENDPOINT"); v != "" {
		m.config.Telemetry.Endpoint = v
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if len(c.Columns.Critical) == 0 {
		return fmt.Errorf("config: columns.critical must not be empty")
	}
	if c.Imputation.MaxIterations < 1 {
		return fmt.Errorf("config: imputation.max_iterations must be >= 1, got %d", c.Imputation.MaxIterations)
	}
	if c.Imputation.Tolerance <= 0 {
		return fmt.Errorf("config: imputation.tolerance must be > 0, got %g", c.Imputation.Tolerance)
	}
	switch c.Imputation.Order {
	case "ascending", "random":
	default:
		return fmt.Errorf("config: imputation.order must be ascending or random, got %q", c.Imputation.Order)
	}
	for _, p := range c.Periods {
		if p.From > p.To {
			return fmt.Errorf("config: period %q has from > to", p.Label)
		}
		if p.Label == "" {
			return fmt.Errorf("config: period %d-%d has no label", p.From, p.To)
		}
	}
	return nil
}

// ParseSize converts a human size like "100MB" to bytes. A bare number is
// taken as bytes.
func ParseSize(s string) (int64, error) {
	str := strings.TrimSpace(strings.ToUpper(s))
	if str == "" {
		return 0, fmt.Errorf("config: empty size")
	}

	multiplier := int64(1)
	switch {
	case strings.HasSuffix(str, "GB"):
		multiplier = 1 << 30
		str = strings.TrimSuffix(str, "GB")
	case strings.HasSuffix(str, "MB"):
		multiplier = 1 << 20
		str = strings.TrimSuffix(str, "MB")
	case strings.HasSuffix(str, "KB"):
		multiplier = 1 << 10
		str = strings.TrimSuffix(str, "KB")
	case strings.HasSuffix(str, "B"):
		str = strings.TrimSuffix(str, "B")
	}

	n, err := strconv.ParseInt(strings.TrimSpace(str), 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("config: invalid size %q", s)
	}
	return n * multiplier, nil
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetPaths returns the paths that were loaded.
func (m *Manager) GetPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paths
}

// Save writes the current config to the user config file.
func (m *Manager) Save() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}

	configDir := filepath.Join(home, ".soilflow")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(m.config)
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(configDir, "config.yaml"), data, 0644)
}

// Global instance
var (
	globalManager *Manager
	globalOnce    sync.Once
)

// Global returns the global configuration manager.
func Global() *Manager {
	globalOnce.Do(func() {
		globalManager = NewManager()
		globalManager.Load()
	})
	return globalManager
}
