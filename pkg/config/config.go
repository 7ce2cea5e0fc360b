package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethpandaops/pageaudit/pkg/audit"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// EnvPrefix is the prefix of environment variable overrides.
	EnvPrefix = "PAGEAUDIT"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultReportsDir is the default directory for raw audit reports.
	DefaultReportsDir = "./reports"

	// DefaultDatabasePath is the default SQLite database file.
	DefaultDatabasePath = "./database.db"

	// DefaultSnapshotPath is the default snapshot export file.
	DefaultSnapshotPath = "./database.json"

	// DefaultSnapshotLimit caps the number of rows exported.
	DefaultSnapshotLimit = 10000

	// DefaultAuditTimeout bounds a single page audit.
	DefaultAuditTimeout = 2 * time.Minute

	// DefaultLighthouseBin is the Lighthouse CLI looked up in PATH.
	DefaultLighthouseBin = "lighthouse"

	// DefaultListen is the default API listen address.
	DefaultListen = ":8080"

	// DefaultHostCPUWarnPercent is the host CPU usage above which a sweep
	// logs a warning before starting.
	DefaultHostCPUWarnPercent = 50.0
)

// Failure policies for a sweep.
const (
	FailurePolicyFailFast = "fail_fast"
	FailurePolicyIsolate  = "isolate"
)

// Severity band sets for the dashboard.
const (
	BandsSingleMode = "single"
	BandsDualMode   = "dual"
)

// Config is the root configuration for pageaudit.
type Config struct {
	Global   GlobalConfig   `yaml:"global" mapstructure:"global"`
	Sweep    SweepConfig    `yaml:"sweep" mapstructure:"sweep"`
	Auditor  AuditorConfig  `yaml:"auditor" mapstructure:"auditor"`
	Storage  StorageConfig  `yaml:"storage" mapstructure:"storage"`
	Snapshot SnapshotConfig `yaml:"snapshot" mapstructure:"snapshot"`
	Upload   UploadConfig   `yaml:"upload,omitempty" mapstructure:"upload"`
	API      APIConfig      `yaml:"api" mapstructure:"api"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
	// ResultsOwner is an optional "UID:GID" applied to written files.
	ResultsOwner string `yaml:"results_owner,omitempty" mapstructure:"results_owner"`
}

// SweepConfig describes the audit matrix and how failures are handled.
type SweepConfig struct {
	Pages              []audit.Page     `yaml:"pages" mapstructure:"pages"`
	Modes              []string         `yaml:"modes" mapstructure:"modes"`
	SchemaVariant      string           `yaml:"schema_variant" mapstructure:"schema_variant"`
	Throttling         audit.Throttling `yaml:"throttling" mapstructure:"throttling"`
	FailurePolicy      string           `yaml:"failure_policy" mapstructure:"failure_policy"`
	AuditTimeout       time.Duration    `yaml:"audit_timeout" mapstructure:"audit_timeout"`
	HostCPUWarnPercent float64          `yaml:"host_cpu_warn_percent" mapstructure:"host_cpu_warn_percent"`
	UploadAfterSweep   bool             `yaml:"upload_after_sweep" mapstructure:"upload_after_sweep"`
}

// AuditorConfig configures the Lighthouse CLI and the Chrome it drives.
type AuditorConfig struct {
	LighthouseBin string   `yaml:"lighthouse_bin" mapstructure:"lighthouse_bin"`
	ChromeBin     string   `yaml:"chrome_bin,omitempty" mapstructure:"chrome_bin"`
	ChromeFlags   []string `yaml:"chrome_flags,omitempty" mapstructure:"chrome_flags"`
	ExtraArgs     []string `yaml:"extra_args,omitempty" mapstructure:"extra_args"`
}

// StorageConfig locates raw reports and the metrics database.
type StorageConfig struct {
	ReportsDir string         `yaml:"reports_dir" mapstructure:"reports_dir"`
	Database   DatabaseConfig `yaml:"database" mapstructure:"database"`
}

// DatabaseConfig selects the metrics database driver.
type DatabaseConfig struct {
	Driver   string                 `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteDatabaseConfig   `yaml:"sqlite" mapstructure:"sqlite"`
	Postgres PostgresDatabaseConfig `yaml:"postgres" mapstructure:"postgres"`
}

// SQLiteDatabaseConfig configures the SQLite driver.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresDatabaseConfig configures the PostgreSQL driver.
type PostgresDatabaseConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode" mapstructure:"ssl_mode"`
}

// SnapshotConfig configures the flat snapshot export.
type SnapshotConfig struct {
	Path  string `yaml:"path" mapstructure:"path"`
	Limit int    `yaml:"limit" mapstructure:"limit"`
}

// UploadConfig configures remote copies of run artifacts.
type UploadConfig struct {
	S3 *S3UploadConfig `yaml:"s3,omitempty" mapstructure:"s3"`
}

// S3UploadConfig configures uploads to S3-compatible storage.
type S3UploadConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	Prefix          string `yaml:"prefix,omitempty" mapstructure:"prefix"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style,omitempty" mapstructure:"force_path_style"`
	StorageClass    string `yaml:"storage_class,omitempty" mapstructure:"storage_class"`
	ACL             string `yaml:"acl,omitempty" mapstructure:"acl"`
	Concurrency     int    `yaml:"concurrency,omitempty" mapstructure:"concurrency"`
}

// Enabled reports whether S3 uploads are configured and switched on.
func (u *UploadConfig) Enabled() bool {
	return u.S3 != nil && u.S3.Enabled
}

// APIConfig configures the dashboard API server.
type APIConfig struct {
	Listen        string          `yaml:"listen" mapstructure:"listen"`
	CORSOrigins   []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	RateLimit     RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
	SeverityBands string          `yaml:"severity_bands" mapstructure:"severity_bands"`
}

// RateLimitConfig configures per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// defaults are registered with viper so every key can be overridden from
// the environment even when absent from the file.
var defaults = map[string]any{
	"global.log_level":                         DefaultLogLevel,
	"global.results_owner":                     "",
	"sweep.modes":                              []string{string(audit.ModeMobile), string(audit.ModeDesktop)},
	"sweep.schema_variant":                     "dual",
	"sweep.throttling.rtt_ms":                  audit.DefaultThrottling.RTTMs,
	"sweep.throttling.throughput_kbps":         audit.DefaultThrottling.ThroughputKbps,
	"sweep.throttling.cpu_slowdown_multiplier": audit.DefaultThrottling.CPUSlowdownMultiplier,
	"sweep.failure_policy":                     FailurePolicyFailFast,
	"sweep.audit_timeout":                      DefaultAuditTimeout,
	"sweep.host_cpu_warn_percent":              DefaultHostCPUWarnPercent,
	"sweep.upload_after_sweep":                 false,
	"auditor.lighthouse_bin":                   DefaultLighthouseBin,
	"auditor.chrome_bin":                       "",
	"storage.reports_dir":                      DefaultReportsDir,
	"storage.database.driver":                  "sqlite",
	"storage.database.sqlite.path":             DefaultDatabasePath,
	"storage.database.postgres.host":           "localhost",
	"storage.database.postgres.port":           5432,
	"storage.database.postgres.user":           "",
	"storage.database.postgres.password":       "",
	"storage.database.postgres.database":       "pageaudit",
	"storage.database.postgres.ssl_mode":       "disable",
	"snapshot.path":                            DefaultSnapshotPath,
	"snapshot.limit":                           DefaultSnapshotLimit,
	"api.listen":                               DefaultListen,
	"api.severity_bands":                       BandsDualMode,
	"api.rate_limit.enabled":                   false,
	"api.rate_limit.requests_per_minute":       600,
}

// Load reads and merges the given configuration files in order. Later
// files override earlier ones and PAGEAUDIT_* environment variables
// override both.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	for _, path := range paths {
		f, err := os.Open(path) //nolint:gosec // operator supplied path
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		err = v.MergeConfig(f)
		_ = f.Close()

		if err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults fills values viper cannot default, such as list items.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Sweep.AuditTimeout <= 0 {
		c.Sweep.AuditTimeout = DefaultAuditTimeout
	}

	if c.Snapshot.Limit <= 0 || c.Snapshot.Limit > DefaultSnapshotLimit {
		c.Snapshot.Limit = DefaultSnapshotLimit
	}

	if c.Upload.S3 != nil && c.Upload.S3.Concurrency <= 0 {
		c.Upload.S3.Concurrency = 4
	}
}

// ValidateSweep checks the settings needed to run a sweep.
func (c *Config) ValidateSweep() error {
	if len(c.Sweep.Pages) == 0 {
		return fmt.Errorf("at least one page must be configured")
	}

	seen := make(map[string]struct{}, len(c.Sweep.Pages))

	for i, page := range c.Sweep.Pages {
		if err := page.Validate(); err != nil {
			return fmt.Errorf("page %d: %w", i, err)
		}

		if _, ok := seen[page.Name]; ok {
			return fmt.Errorf("page %d: duplicate name %q", i, page.Name)
		}

		seen[page.Name] = struct{}{}
	}

	modes, err := c.Modes()
	if err != nil {
		return err
	}

	variant, err := audit.ParseSchemaVariant(c.Sweep.SchemaVariant)
	if err != nil {
		return err
	}

	if variant == audit.LegacySingleMode && len(modes) != 1 {
		return fmt.Errorf("legacy schema variant requires exactly one mode, got %d", len(modes))
	}

	switch c.Sweep.FailurePolicy {
	case FailurePolicyFailFast, FailurePolicyIsolate:
	default:
		return fmt.Errorf(
			"unknown failure_policy %q (use %q or %q)",
			c.Sweep.FailurePolicy, FailurePolicyFailFast, FailurePolicyIsolate,
		)
	}

	t := c.Sweep.Throttling
	if t.RTTMs < 0 || t.ThroughputKbps < 0 || t.CPUSlowdownMultiplier < 0 {
		return fmt.Errorf("throttling values must not be negative")
	}

	if c.Auditor.LighthouseBin == "" {
		return fmt.Errorf("auditor.lighthouse_bin is required")
	}

	return c.ValidateStorage()
}

// ValidateStorage checks the report and database settings.
func (c *Config) ValidateStorage() error {
	if c.Storage.ReportsDir == "" {
		return fmt.Errorf("storage.reports_dir is required")
	}

	dir := filepath.Dir(filepath.Clean(c.Storage.ReportsDir))
	if dir != "." && dir != ".." {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			return fmt.Errorf("reports directory parent %q does not exist", dir)
		}
	}

	switch c.Storage.Database.Driver {
	case "sqlite":
		if c.Storage.Database.SQLite.Path == "" {
			return fmt.Errorf("storage.database.sqlite.path is required")
		}
	case "postgres":
		if c.Storage.Database.Postgres.Host == "" {
			return fmt.Errorf("storage.database.postgres.host is required")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Storage.Database.Driver)
	}

	if c.Upload.Enabled() && c.Upload.S3.Bucket == "" {
		return fmt.Errorf("upload.s3.bucket is required when s3 upload is enabled")
	}

	return nil
}

// ValidateAPI checks the API server settings.
func (c *Config) ValidateAPI() error {
	if c.API.Listen == "" {
		return fmt.Errorf("api.listen is required")
	}

	switch c.API.SeverityBands {
	case BandsSingleMode, BandsDualMode:
	default:
		return fmt.Errorf(
			"unknown api.severity_bands %q (use %q or %q)",
			c.API.SeverityBands, BandsSingleMode, BandsDualMode,
		)
	}

	if c.API.RateLimit.Enabled && c.API.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("api.rate_limit.requests_per_minute must be positive")
	}

	return c.ValidateStorage()
}

// Modes parses the configured device modes, preserving order.
func (c *Config) Modes() ([]audit.Mode, error) {
	if len(c.Sweep.Modes) == 0 {
		return nil, fmt.Errorf("at least one mode must be configured")
	}

	modes := make([]audit.Mode, 0, len(c.Sweep.Modes))
	seen := make(map[audit.Mode]struct{}, len(c.Sweep.Modes))

	for _, s := range c.Sweep.Modes {
		m, err := audit.ParseMode(strings.TrimSpace(s))
		if err != nil {
			return nil, err
		}

		if _, ok := seen[m]; ok {
			return nil, fmt.Errorf("duplicate mode %q", m)
		}

		seen[m] = struct{}{}
		modes = append(modes, m)
	}

	return modes, nil
}

// Variant returns the parsed schema variant.
func (c *Config) Variant() (audit.SchemaVariant, error) {
	return audit.ParseSchemaVariant(c.Sweep.SchemaVariant)
}

const redacted = "<redacted>"

// Dump renders the effective configuration as YAML with secrets redacted.
func (c *Config) Dump() ([]byte, error) {
	cp := *c

	if cp.Storage.Database.Postgres.Password != "" {
		cp.Storage.Database.Postgres.Password = redacted
	}

	if cp.Upload.S3 != nil {
		s3 := *cp.Upload.S3
		if s3.SecretAccessKey != "" {
			s3.SecretAccessKey = redacted
		}

		cp.Upload.S3 = &s3
	}

	out, err := yaml.Marshal(&cp)
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}

	return out, nil
}
