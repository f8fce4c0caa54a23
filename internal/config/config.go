package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"alerthub/internal/domain"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultServiceName          = "alerthub"
	defaultBatchIntervalMS      = 100
	defaultBatchSize            = 5
	defaultBacklogWarnThreshold = 100
	defaultDedupWindowSec       = 60
	defaultExpireIntervalMS     = 1000
	defaultCleanupIntervalSec   = 300
	defaultMaxHistory           = 500
	defaultPersistHighSec       = 30
	defaultPersistMediumSec     = 15
	defaultPersistLowSec        = 10
	defaultPersistInfoSec       = 5
	defaultJournalRetentionHrs  = 7 * 24
	defaultJournalBuffer        = 64
	defaultJournalBucket        = "critical_alerts"
	defaultHTTPListen           = ":8080"
	defaultHealthPath           = "/healthz"
	defaultReadyPath            = "/readyz"
	defaultMetricsPath          = "/metrics"
	defaultAPIPrefix            = "/api"
	defaultMaxBodyBytes         = 1 << 20
	defaultSSEBuffer            = 64
	defaultNATSURL              = "nats://127.0.0.1:4222"
	defaultNATSSubmitSubject    = "alerthub.alerts.submit"
	defaultNATSSubmitStream     = "ALERTHUB_SUBMIT"
	defaultNATSConsumer         = "alerthub-ingest"
	defaultNATSDeliverGroup     = "alerthub-workers"
	defaultNATSEventsPrefix     = "alerthub.events"
	defaultNATSEventsStream     = "ALERTHUB_EVENTS"
	defaultNATSAckWaitSec       = 30
	defaultNATSNackDelayMS      = 1000
	defaultNATSMaxDeliver       = -1
	defaultNATSMaxAckPending    = 1024

	// ServiceModeSingle keeps every side channel in process memory.
	ServiceModeSingle = "single"
	// ServiceModeNATS backs the critical journal with JetStream KV and enables NATS surfaces.
	ServiceModeNATS = "nats"
)

// Config holds service runtime settings.
// Params: TOML sections from file or merged directory snapshot.
// Returns: validated runtime configuration.
type Config struct {
	Service ServiceConfig `toml:"service"`
	Log     LogConfig     `toml:"log"`
	Engine  EngineConfig  `toml:"engine"`
	Journal JournalConfig `toml:"journal"`
	HTTP    HTTPConfig    `toml:"http"`
	NATS    NATSConfig    `toml:"nats"`
}

// ServiceConfig contains process-level settings.
// Params: service name and backend mode.
// Returns: service identity and backend selection.
type ServiceConfig struct {
	Name string `toml:"name"`
	Mode string `toml:"mode"`
}

// LogConfig contains console/file logging sinks.
// Params: sink settings for each output target.
// Returns: logger setup options.
type LogConfig struct {
	Console LogSinkConfig `toml:"console"`
	File    LogSinkConfig `toml:"file"`
}

// LogSinkConfig defines one logging sink.
// Params: sink enable flag, level, format, and path.
// Returns: sink-specific behavior.
type LogSinkConfig struct {
	Enabled bool   `toml:"enabled"`
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	Path    string `toml:"path"`
}

// EngineConfig tunes the alert engine timers and bounds.
// Params: tick intervals, batch size, dedup window, history cap, and per-priority lifetimes.
// Returns: engine runtime options.
type EngineConfig struct {
	BatchIntervalMS      int              `toml:"batch_interval_ms"`
	BatchSize            int              `toml:"batch_size"`
	BacklogWarnThreshold int              `toml:"backlog_warn_threshold"`
	DedupWindowSec       int              `toml:"dedup_window_sec"`
	ExpireIntervalMS     int              `toml:"expire_interval_ms"`
	CleanupIntervalSec   int              `toml:"cleanup_interval_sec"`
	MaxHistory           int              `toml:"max_history"`
	Persist              PersistConfig    `toml:"persist"`
	Escalation           EscalationConfig `toml:"escalation"`
}

// PersistConfig sets auto-expiry lifetime per non-critical priority in seconds.
// Critical alerts never expire and have no entry.
type PersistConfig struct {
	HighSec   int `toml:"high"`
	MediumSec int `toml:"medium"`
	LowSec    int `toml:"low"`
	InfoSec   int `toml:"info"`
}

// EscalationConfig toggles built-in escalation handlers.
type EscalationConfig struct {
	StockOut *bool `toml:"stock_out"`
}

// JournalConfig configures the best-effort critical-alert log.
// Params: retention window, async buffer size, and NATS KV bucket name.
// Returns: journal runtime options.
type JournalConfig struct {
	RetentionHours int    `toml:"retention_hours"`
	Buffer         int    `toml:"buffer"`
	Bucket         string `toml:"bucket"`
}

// HTTPConfig configures HTTP API and probe endpoints.
// Params: enable flag, listen address, paths, and body/SSE limits.
// Returns: HTTP surface behavior.
type HTTPConfig struct {
	Enabled      *bool  `toml:"enabled"`
	Listen       string `toml:"listen"`
	HealthPath   string `toml:"health_path"`
	ReadyPath    string `toml:"ready_path"`
	MetricsPath  string `toml:"metrics_path"`
	APIPrefix    string `toml:"api_prefix"`
	MaxBodyBytes int64  `toml:"max_body_bytes"`
	SSEBuffer    int    `toml:"sse_buffer"`
}

// NATSConfig configures NATS ingest and lifecycle event fan-out.
// Params: server URLs, feature toggles, and consumer ack policy; subjects/streams are runtime-fixed.
// Returns: NATS surface behavior.
type NATSConfig struct {
	URL           []string `toml:"url"`
	Ingest        bool     `toml:"ingest"`
	Events        bool     `toml:"events"`
	AckWaitSec    int      `toml:"ack_wait_sec"`
	NackDelayMS   int      `toml:"nack_delay_ms"`
	MaxDeliver    int      `toml:"max_deliver"`
	MaxAckPending int      `toml:"max_ack_pending"`

	SubmitSubject string `toml:"-"`
	SubmitStream  string `toml:"-"`
	ConsumerName  string `toml:"-"`
	DeliverGroup  string `toml:"-"`
	EventsPrefix  string `toml:"-"`
	EventsStream  string `toml:"-"`
}

// ConfigSource describes file or directory config source.
// Params: exactly one of file path or directory path.
// Returns: normalized source descriptor.
type ConfigSource struct {
	File string
	Dir  string
}

// FromCLI builds normalized source configuration from input paths.
// Params: optional file and directory arguments.
// Returns: source descriptor or validation error.
func FromCLI(filePath, dirPath string) (ConfigSource, error) {
	filePath = strings.TrimSpace(filePath)
	dirPath = strings.TrimSpace(dirPath)

	if filePath == "" && dirPath == "" {
		return ConfigSource{}, errors.New("either --config-file or --config-dir must be provided")
	}
	if filePath != "" && dirPath != "" {
		return ConfigSource{}, errors.New("config source must be either file or dir")
	}

	if filePath != "" {
		return ConfigSource{File: filePath}, nil
	}
	return ConfigSource{Dir: dirPath}, nil
}

// LoadSnapshot loads and validates configuration from one source.
// Params: source selects file or directory mode.
// Returns: validated config or load/validation error.
func LoadSnapshot(src ConfigSource) (Config, error) {
	var cfg Config
	var err error
	if src.File != "" {
		cfg, err = loadFile(src.File)
	} else {
		cfg, err = loadDir(src.Dir)
	}
	if err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes one TOML document and applies defaults and validation.
// Params: TOML body.
// Returns: validated config or decode/validation error.
func Parse(body []byte) (Config, error) {
	var cfg Config
	if err := toml.Unmarshal(body, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns a fully defaulted single-mode configuration.
func Default() Config {
	var cfg Config
	applyDefaults(&cfg)
	return cfg
}

// loadFile reads one TOML configuration file.
// Params: file path to config snapshot.
// Returns: decoded config or read/decode error.
func loadFile(path string) (Config, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %q: %w", path, err)
	}
	var cfg Config
	if err := toml.Unmarshal(body, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config file %q: %w", path, err)
	}
	return cfg, nil
}

// loadDir reads and merges TOML files from one directory.
// Params: directory containing config fragments.
// Returns: merged config snapshot or load/decode error.
func loadDir(dir string) (Config, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Config{}, fmt.Errorf("read config dir %q: %w", dir, err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.ToLower(filepath.Ext(name)) != ".toml" {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	if len(files) == 0 {
		return Config{}, fmt.Errorf("no .toml files found in %q", dir)
	}
	sort.Strings(files)

	var merged Config
	for _, file := range files {
		fragment, err := loadFile(file)
		if err != nil {
			return Config{}, err
		}
		mergeConfig(&merged, fragment)
	}
	return merged, nil
}

// mergeConfig overlays source onto destination.
// Params: destination config and next fragment.
// Returns: merged configuration side-effect in dst.
func mergeConfig(dst *Config, src Config) {
	if src.Service != (ServiceConfig{}) {
		dst.Service = src.Service
	}
	if src.Log != (LogConfig{}) {
		dst.Log = src.Log
	}
	mergeEngineConfig(&dst.Engine, src.Engine)
	if src.Journal != (JournalConfig{}) {
		dst.Journal = src.Journal
	}
	if src.HTTP != (HTTPConfig{}) {
		dst.HTTP = src.HTTP
	}
	if hasNATSConfig(src.NATS) {
		dst.NATS = src.NATS
	}
}

// mergeEngineConfig overlays non-zero engine fields.
// Params: destination engine section and fragment.
// Returns: merged engine section side-effect in dst.
func mergeEngineConfig(dst *EngineConfig, src EngineConfig) {
	overlayInt(&dst.BatchIntervalMS, src.BatchIntervalMS)
	overlayInt(&dst.BatchSize, src.BatchSize)
	overlayInt(&dst.BacklogWarnThreshold, src.BacklogWarnThreshold)
	overlayInt(&dst.DedupWindowSec, src.DedupWindowSec)
	overlayInt(&dst.ExpireIntervalMS, src.ExpireIntervalMS)
	overlayInt(&dst.CleanupIntervalSec, src.CleanupIntervalSec)
	overlayInt(&dst.MaxHistory, src.MaxHistory)
	overlayInt(&dst.Persist.HighSec, src.Persist.HighSec)
	overlayInt(&dst.Persist.MediumSec, src.Persist.MediumSec)
	overlayInt(&dst.Persist.LowSec, src.Persist.LowSec)
	overlayInt(&dst.Persist.InfoSec, src.Persist.InfoSec)
	if src.Escalation.StockOut != nil {
		value := *src.Escalation.StockOut
		dst.Escalation.StockOut = &value
	}
}

func overlayInt(dst *int, value int) {
	if value != 0 {
		*dst = value
	}
}

// hasNATSConfig checks whether nats section contains any explicit values.
func hasNATSConfig(cfg NATSConfig) bool {
	return len(cfg.URL) > 0 ||
		cfg.Ingest ||
		cfg.Events ||
		cfg.AckWaitSec != 0 ||
		cfg.NackDelayMS != 0 ||
		cfg.MaxDeliver != 0 ||
		cfg.MaxAckPending != 0
}

// applyDefaults fills omitted config fields with safe defaults.
// Params: cfg pointer to decoded snapshot.
// Returns: defaults applied in place.
func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Service.Name) == "" {
		cfg.Service.Name = defaultServiceName
	}
	cfg.Service.Mode = NormalizeServiceMode(cfg.Service.Mode)

	if cfg.Log.Console.Level == "" {
		cfg.Log.Console.Level = "info"
	}
	if cfg.Log.Console.Format == "" {
		cfg.Log.Console.Format = "line"
	}
	if cfg.Log.File.Level == "" {
		cfg.Log.File.Level = "info"
	}
	if cfg.Log.File.Format == "" {
		cfg.Log.File.Format = "json"
	}
	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled {
		cfg.Log.Console.Enabled = true
	}

	defaultPositive(&cfg.Engine.BatchIntervalMS, defaultBatchIntervalMS)
	defaultPositive(&cfg.Engine.BatchSize, defaultBatchSize)
	defaultPositive(&cfg.Engine.BacklogWarnThreshold, defaultBacklogWarnThreshold)
	defaultPositive(&cfg.Engine.DedupWindowSec, defaultDedupWindowSec)
	defaultPositive(&cfg.Engine.ExpireIntervalMS, defaultExpireIntervalMS)
	defaultPositive(&cfg.Engine.CleanupIntervalSec, defaultCleanupIntervalSec)
	defaultPositive(&cfg.Engine.MaxHistory, defaultMaxHistory)
	defaultPositive(&cfg.Engine.Persist.HighSec, defaultPersistHighSec)
	defaultPositive(&cfg.Engine.Persist.MediumSec, defaultPersistMediumSec)
	defaultPositive(&cfg.Engine.Persist.LowSec, defaultPersistLowSec)
	defaultPositive(&cfg.Engine.Persist.InfoSec, defaultPersistInfoSec)
	if cfg.Engine.Escalation.StockOut == nil {
		enabled := true
		cfg.Engine.Escalation.StockOut = &enabled
	}

	defaultPositive(&cfg.Journal.RetentionHours, defaultJournalRetentionHrs)
	defaultPositive(&cfg.Journal.Buffer, defaultJournalBuffer)
	if strings.TrimSpace(cfg.Journal.Bucket) == "" {
		cfg.Journal.Bucket = defaultJournalBucket
	}

	if cfg.HTTP.Enabled == nil {
		enabled := true
		cfg.HTTP.Enabled = &enabled
	}
	if strings.TrimSpace(cfg.HTTP.Listen) == "" {
		cfg.HTTP.Listen = defaultHTTPListen
	}
	if strings.TrimSpace(cfg.HTTP.HealthPath) == "" {
		cfg.HTTP.HealthPath = defaultHealthPath
	}
	if strings.TrimSpace(cfg.HTTP.ReadyPath) == "" {
		cfg.HTTP.ReadyPath = defaultReadyPath
	}
	if strings.TrimSpace(cfg.HTTP.MetricsPath) == "" {
		cfg.HTTP.MetricsPath = defaultMetricsPath
	}
	if strings.TrimSpace(cfg.HTTP.APIPrefix) == "" {
		cfg.HTTP.APIPrefix = defaultAPIPrefix
	}
	cfg.HTTP.APIPrefix = "/" + strings.Trim(strings.TrimSpace(cfg.HTTP.APIPrefix), "/")
	if cfg.HTTP.MaxBodyBytes <= 0 {
		cfg.HTTP.MaxBodyBytes = defaultMaxBodyBytes
	}
	defaultPositive(&cfg.HTTP.SSEBuffer, defaultSSEBuffer)

	if cfg.Service.Mode == ServiceModeSingle {
		// Single mode never dials NATS regardless of user flags.
		cfg.NATS.Ingest = false
		cfg.NATS.Events = false
		return
	}
	cfg.NATS.URL = normalizeNATSURLs(cfg.NATS.URL)
	if len(cfg.NATS.URL) == 0 {
		cfg.NATS.URL = []string{defaultNATSURL}
	}
	cfg.NATS.SubmitSubject = defaultNATSSubmitSubject
	cfg.NATS.SubmitStream = defaultNATSSubmitStream
	cfg.NATS.ConsumerName = defaultNATSConsumer
	cfg.NATS.DeliverGroup = defaultNATSDeliverGroup
	cfg.NATS.EventsPrefix = defaultNATSEventsPrefix
	cfg.NATS.EventsStream = defaultNATSEventsStream
	defaultPositive(&cfg.NATS.AckWaitSec, defaultNATSAckWaitSec)
	if cfg.NATS.NackDelayMS <= 0 {
		cfg.NATS.NackDelayMS = defaultNATSNackDelayMS
	}
	if cfg.NATS.MaxDeliver == 0 {
		cfg.NATS.MaxDeliver = defaultNATSMaxDeliver
	}
	defaultPositive(&cfg.NATS.MaxAckPending, defaultNATSMaxAckPending)
}

func defaultPositive(dst *int, fallback int) {
	if *dst <= 0 {
		*dst = fallback
	}
}

// validateConfig validates normalized configuration.
// Params: cfg with defaults applied.
// Returns: first validation error.
func validateConfig(cfg Config) error {
	if !IsSupportedServiceMode(cfg.Service.Mode) {
		return fmt.Errorf("service.mode has unsupported value %q", cfg.Service.Mode)
	}
	if err := validateLogSink("log.console", cfg.Log.Console, false); err != nil {
		return err
	}
	if err := validateLogSink("log.file", cfg.Log.File, true); err != nil {
		return err
	}
	if cfg.Engine.BatchSize > 10_000 {
		return fmt.Errorf("engine.batch_size must be <=10000, got %d", cfg.Engine.BatchSize)
	}
	if cfg.Engine.CleanupIntervalSec*1000 < cfg.Engine.ExpireIntervalMS {
		return errors.New("engine.cleanup_interval_sec must not be shorter than engine.expire_interval_ms")
	}
	if cfg.HTTP.IsEnabled() && !strings.HasPrefix(cfg.HTTP.HealthPath, "/") {
		return fmt.Errorf("http.health_path must start with '/', got %q", cfg.HTTP.HealthPath)
	}
	if cfg.HTTP.IsEnabled() && !strings.HasPrefix(cfg.HTTP.ReadyPath, "/") {
		return fmt.Errorf("http.ready_path must start with '/', got %q", cfg.HTTP.ReadyPath)
	}
	if cfg.HTTP.IsEnabled() && !strings.HasPrefix(cfg.HTTP.MetricsPath, "/") {
		return fmt.Errorf("http.metrics_path must start with '/', got %q", cfg.HTTP.MetricsPath)
	}
	if cfg.Service.Mode == ServiceModeNATS {
		for i, url := range cfg.NATS.URL {
			if !strings.Contains(url, "://") {
				return fmt.Errorf("nats.url[%d] must include scheme, got %q", i, url)
			}
		}
	}
	return nil
}

// validateLogSink validates one log sink configuration.
// Params: sink name, sink values, and whether path is required.
// Returns: sink validation error.
func validateLogSink(name string, sink LogSinkConfig, requirePath bool) error {
	if !sink.Enabled {
		return nil
	}

	switch strings.ToLower(strings.TrimSpace(sink.Level)) {
	case "debug", "info", "warn", "error", "panic":
	default:
		return fmt.Errorf("%s.level has unsupported value %q", name, sink.Level)
	}

	switch strings.ToLower(strings.TrimSpace(sink.Format)) {
	case "line", "json":
	default:
		return fmt.Errorf("%s.format has unsupported value %q", name, sink.Format)
	}

	if requirePath && strings.TrimSpace(sink.Path) == "" {
		return fmt.Errorf("%s.path is required", name)
	}

	return nil
}

// normalizeNATSURLs trims and drops empty URL entries.
func normalizeNATSURLs(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, url := range urls {
		trimmed := strings.TrimSpace(url)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

// NormalizeServiceMode canonicalizes service mode and applies default.
// Params: raw mode value from config.
// Returns: normalized mode (`single` by default).
func NormalizeServiceMode(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return ServiceModeSingle
	}
	return normalized
}

// IsSupportedServiceMode reports whether mode value is supported.
func IsSupportedServiceMode(mode string) bool {
	switch NormalizeServiceMode(mode) {
	case ServiceModeNATS, ServiceModeSingle:
		return true
	default:
		return false
	}
}

// BatchInterval returns ingestion batch tick period.
func (c EngineConfig) BatchInterval() time.Duration {
	return time.Duration(c.BatchIntervalMS) * time.Millisecond
}

// ExpireInterval returns expiration scan period.
func (c EngineConfig) ExpireInterval() time.Duration {
	return time.Duration(c.ExpireIntervalMS) * time.Millisecond
}

// CleanupInterval returns janitor period.
func (c EngineConfig) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalSec) * time.Second
}

// DedupWindow returns the duplicate-merge window.
func (c EngineConfig) DedupWindow() time.Duration {
	return time.Duration(c.DedupWindowSec) * time.Second
}

// StockOutEnabled reports whether the stock-out escalation is on.
func (c EngineConfig) StockOutEnabled() bool {
	return c.Escalation.StockOut == nil || *c.Escalation.StockOut
}

// PersistTime returns auto-expiry lifetime for priority.
// Params: alert priority.
// Returns: lifetime, or zero for critical (never expires).
func (c EngineConfig) PersistTime(priority domain.Priority) time.Duration {
	var seconds int
	switch priority {
	case domain.PriorityCritical:
		return 0
	case domain.PriorityHigh:
		seconds = c.Persist.HighSec
	case domain.PriorityLow:
		seconds = c.Persist.LowSec
	case domain.PriorityInfo:
		seconds = c.Persist.InfoSec
	default:
		seconds = c.Persist.MediumSec
	}
	return time.Duration(seconds) * time.Second
}

// Retention returns the critical journal retention window.
func (c JournalConfig) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

// IsEnabled reports whether HTTP surface is enabled.
func (c HTTPConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}
