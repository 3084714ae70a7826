// Package config loads the thumbs YAML configuration and converts it to
// the types the thumb packages consume.
//
// Values are read from a single YAML file, then selected fields are
// overridden from the environment. A .env file in the working directory,
// when present, is loaded into the environment first.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/zoobzio/thumb"
	"github.com/zoobzio/thumb/jobs"
	"gopkg.in/yaml.v3"
)

// Environment variables consulted by Load.
const (
	EnvConfigPath    = "THUMB_CONFIG"
	EnvEnvironment   = "THUMB_ENV"
	EnvLogLevel      = "THUMB_LOG_LEVEL"
	EnvCacheDriver   = "THUMB_CACHE_DRIVER"
	EnvRedisAddr     = "THUMB_REDIS_ADDR"
	EnvRedisPassword = "THUMB_REDIS_PASSWORD"
	EnvDeadLetterDSN = "THUMB_DEAD_LETTER_DSN"
	EnvSilent        = "THUMB_SILENT"
)

// DefaultPath is read when neither an explicit path nor THUMB_CONFIG is set.
const DefaultPath = "thumbs.yaml"

// Disk drivers.
const (
	DriverLocal = "local"
	DriverMinio = "minio"
	DriverS3    = "s3"
	DriverGCS   = "gcs"
	DriverAzure = "azure"
)

// Cache drivers.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
	CacheBadger = "badger"
	CacheBolt   = "bolt"
)

var (
	diskDrivers  = []string{DriverLocal, DriverMinio, DriverS3, DriverGCS, DriverAzure}
	cacheDrivers = []string{CacheMemory, CacheRedis, CacheBadger, CacheBolt}
)

// ErrInvalid is returned by Load when the file cannot be decoded.
var ErrInvalid = errors.New("config: invalid")

// Config is the top-level configuration file.
type Config struct {
	Environment   string                  `yaml:"environment"`
	LogLevel      string                  `yaml:"log_level"`
	Defaults      Defaults                `yaml:"defaults"`
	Cache         Cache                   `yaml:"cache"`
	Fallback      Fallback                `yaml:"fallback"`
	Validation    Validation              `yaml:"validation"`
	Disks         map[string]Disk         `yaml:"disks"`
	CacheProvider CacheProvider           `yaml:"cache_provider"`
	Jobs          Jobs                    `yaml:"jobs"`
	DeadLetters   DeadLetters             `yaml:"dead_letters"`
	Presets       map[string]PresetConfig `yaml:"presets"`
}

// Defaults apply to presets that leave a field unset.
type Defaults struct {
	Quality         int    `yaml:"quality"`
	Format          string `yaml:"format"`
	SmartCrop       *bool  `yaml:"enable_smart_crop"`
	SilentMode      bool   `yaml:"silent_mode"`
	Strategy        string `yaml:"subdirectory_strategy"`
	CleanupEmptyDir *bool  `yaml:"cleanup_empty_directories"`
}

// Cache sets cache lifetimes and the generation lease.
type Cache struct {
	URLTTL      time.Duration `yaml:"url_ttl"`
	ExistsTTL   time.Duration `yaml:"exists_ttl"`
	FallbackTTL time.Duration `yaml:"fallback_ttl"`
	LeaseTTL    time.Duration `yaml:"lease_ttl"`
	LeaseWait   time.Duration `yaml:"lease_wait"`
}

// Fallback configures what silent mode serves on failure.
type Fallback struct {
	PlaceholderURL       string `yaml:"placeholder_url"`
	FallbackToOriginal   bool   `yaml:"fallback_to_original"`
	GeneratePlaceholders bool   `yaml:"generate_placeholders"`
	PlaceholderService   string `yaml:"placeholder_service"`
	PlaceholderColor     string `yaml:"placeholder_color"`
	PlaceholderTextColor string `yaml:"placeholder_text_color"`
}

// Validation gates sources before decoding.
type Validation struct {
	AllowedExtensions []string `yaml:"allowed_extensions"`
	MaxFileSize       int64    `yaml:"max_file_size"`
}

// Disk describes one named blob store. Which fields apply depends on Driver.
type Disk struct {
	Driver           string `yaml:"driver"`
	Root             string `yaml:"root"`
	URL              string `yaml:"url"`
	Bucket           string `yaml:"bucket"`
	Endpoint         string `yaml:"endpoint"`
	Region           string `yaml:"region"`
	AccessKey        string `yaml:"access_key"`
	SecretKey        string `yaml:"secret_key"`
	UseSSL           bool   `yaml:"use_ssl"`
	ConnectionString string `yaml:"connection_string"`
	CacheControl     string `yaml:"cache_control"`
}

// CacheProvider selects and configures the cache backend.
type CacheProvider struct {
	Driver   string `yaml:"driver"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Path     string `yaml:"path"`
	Bucket   string `yaml:"bucket"`
	Locker   bool   `yaml:"locker"`
}

// Jobs bounds the async generation queue.
type Jobs struct {
	Workers   int           `yaml:"workers"`
	QueueSize int           `yaml:"queue_size"`
	Attempts  int           `yaml:"attempts"`
	Timeout   time.Duration `yaml:"timeout"`
	Backoff   time.Duration `yaml:"backoff"`
}

// DeadLetters locates the dead letter database.
type DeadLetters struct {
	DSN string `yaml:"dsn"`
}

// Destination is where a preset writes.
type Destination struct {
	Disk string `yaml:"disk"`
	Path string `yaml:"path"`
}

// PresetConfig is one entry under presets.
type PresetConfig struct {
	Format     string                   `yaml:"format"`
	Quality    int                      `yaml:"quality"`
	Size       string                   `yaml:"smartcrop"`
	Dest       Destination              `yaml:"destination"`
	SmartCrop  *bool                    `yaml:"smart_crop_enabled"`
	SilentMode *bool                    `yaml:"silent_mode"`
	Strategy   string                   `yaml:"subdirectory_strategy"`
	Variants   map[string]VariantConfig `yaml:"variants"`
}

// VariantConfig is a partial preset. Unset fields inherit from the preset.
type VariantConfig struct {
	Format    string       `yaml:"format"`
	Quality   int          `yaml:"quality"`
	Size      string       `yaml:"smartcrop"`
	Dest      *Destination `yaml:"destination"`
	SmartCrop *bool        `yaml:"smart_crop_enabled"`
	Strategy  string       `yaml:"subdirectory_strategy"`
}

// Load reads the file at path (or THUMB_CONFIG, or DefaultPath), then
// applies environment overrides. A missing .env file is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load(".env")

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return cfg, nil
}

// Parse decodes YAML and fills defaults. It does not consult the environment.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Defaults.Quality <= 0 {
		c.Defaults.Quality = thumb.DefaultQuality
	}
	if c.Defaults.Format == "" {
		c.Defaults.Format = thumb.FormatJPG
	}
	if c.Defaults.SmartCrop == nil {
		on := true
		c.Defaults.SmartCrop = &on
	}
	if c.Defaults.Strategy == "" {
		c.Defaults.Strategy = string(thumb.ShardHashPrefix)
	}
	if c.Defaults.CleanupEmptyDir == nil {
		on := true
		c.Defaults.CleanupEmptyDir = &on
	}
	if c.CacheProvider.Driver == "" {
		c.CacheProvider.Driver = CacheMemory
	}
	if c.CacheProvider.Bucket == "" {
		c.CacheProvider.Bucket = "thumb"
	}
	if c.DeadLetters.DSN == "" {
		c.DeadLetters.DSN = "thumbs-dead-letters.db"
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvEnvironment); v != "" {
		c.Environment = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvCacheDriver); v != "" {
		c.CacheProvider.Driver = v
	}
	if v := os.Getenv(EnvRedisAddr); v != "" {
		c.CacheProvider.Addr = v
	}
	if v := os.Getenv(EnvRedisPassword); v != "" {
		c.CacheProvider.Password = v
	}
	if v := os.Getenv(EnvDeadLetterDSN); v != "" {
		c.DeadLetters.DSN = v
	}
	if v := os.Getenv(EnvSilent); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Defaults.SilentMode = b
		}
	}
}

// Development reports whether the environment is development.
func (c *Config) Development() bool {
	return strings.EqualFold(c.Environment, "development")
}

// PresetList converts every preset, in name order.
func (c *Config) PresetList() ([]thumb.Preset, error) {
	ps, err := c.ThumbPresets()
	if err != nil {
		return nil, err
	}
	out := make([]thumb.Preset, 0, len(ps))
	for _, name := range ps.Names() {
		out = append(out, ps[name])
	}
	return out, nil
}

// ThumbPresets converts the presets section. Invalid sizes fail the whole
// conversion; Validate reports every issue instead of the first.
func (c *Config) ThumbPresets() (thumb.Presets, error) {
	out := make(thumb.Presets, len(c.Presets))
	for name, pc := range c.Presets {
		p, err := c.preset(name, pc)
		if err != nil {
			return nil, err
		}
		out[name] = p
	}
	return out, nil
}

func (c *Config) preset(name string, pc PresetConfig) (thumb.Preset, error) {
	size, err := thumb.ParseSize(pc.Size)
	if err != nil {
		return thumb.Preset{}, fmt.Errorf("preset %s: %w", name, err)
	}
	p := thumb.Preset{
		Name:      name,
		Size:      size,
		Format:    firstNonEmpty(pc.Format, c.Defaults.Format),
		Quality:   pc.Quality,
		Disk:      pc.Dest.Disk,
		BasePath:  pc.Dest.Path,
		SmartCrop: *c.Defaults.SmartCrop,
		Sharding:  thumb.ShardStrategy(firstNonEmpty(pc.Strategy, c.Defaults.Strategy)),
		Silent:    c.Defaults.SilentMode,
	}
	if p.Quality <= 0 {
		p.Quality = c.Defaults.Quality
	}
	if pc.SmartCrop != nil {
		p.SmartCrop = *pc.SmartCrop
	}
	if pc.SilentMode != nil {
		p.Silent = *pc.SilentMode
	}
	if len(pc.Variants) > 0 {
		p.Variants = make(map[string]thumb.VariantOverride, len(pc.Variants))
	}
	for vname, vc := range pc.Variants {
		o := thumb.VariantOverride{
			Format:    vc.Format,
			Quality:   vc.Quality,
			SmartCrop: vc.SmartCrop,
			Sharding:  thumb.ShardStrategy(vc.Strategy),
		}
		if vc.Size != "" {
			vs, err := thumb.ParseSize(vc.Size)
			if err != nil {
				return thumb.Preset{}, fmt.Errorf("preset %s, variant %s: %w", name, vname, err)
			}
			o.Size = &vs
		}
		if vc.Dest != nil {
			o.Disk = vc.Dest.Disk
			o.BasePath = vc.Dest.Path
		}
		p.Variants[vname] = o
	}
	return p, nil
}

// Validate reports every configuration problem it finds. An empty result
// means the configuration is usable.
func (c *Config) Validate() []string {
	var issues []string
	for _, name := range sortedKeys(c.Disks) {
		d := c.Disks[name]
		if !contains(diskDrivers, d.Driver) {
			issues = append(issues, fmt.Sprintf("disk %q: unknown driver %q", name, d.Driver))
			continue
		}
		switch d.Driver {
		case DriverLocal:
			if d.Root == "" {
				issues = append(issues, fmt.Sprintf("disk %q: root is required", name))
			}
		case DriverAzure:
			if d.ConnectionString == "" || d.Bucket == "" {
				issues = append(issues, fmt.Sprintf("disk %q: connection_string and bucket are required", name))
			}
		default:
			if d.Bucket == "" {
				issues = append(issues, fmt.Sprintf("disk %q: bucket is required", name))
			}
		}
	}
	if !contains(cacheDrivers, c.CacheProvider.Driver) {
		issues = append(issues, fmt.Sprintf("cache_provider: unknown driver %q", c.CacheProvider.Driver))
	}
	if c.CacheProvider.Driver == CacheRedis && c.CacheProvider.Addr == "" {
		issues = append(issues, "cache_provider: redis requires addr")
	}
	if (c.CacheProvider.Driver == CacheBadger || c.CacheProvider.Driver == CacheBolt) && c.CacheProvider.Path == "" {
		issues = append(issues, fmt.Sprintf("cache_provider: %s requires path", c.CacheProvider.Driver))
	}
	if !thumb.ShardStrategy(c.Defaults.Strategy).Valid() {
		issues = append(issues, fmt.Sprintf("defaults: invalid subdirectory strategy %q", c.Defaults.Strategy))
	}

	for _, name := range sortedKeys(c.Presets) {
		pc := c.Presets[name]
		if _, err := thumb.ParseSize(pc.Size); err != nil {
			issues = append(issues, fmt.Sprintf("preset %q: invalid smartcrop %q", name, pc.Size))
		}
		if _, ok := c.Disks[pc.Dest.Disk]; !ok {
			issues = append(issues, fmt.Sprintf("preset %q: destination disk %q is not configured", name, pc.Dest.Disk))
		}
		if pc.Strategy != "" && !thumb.ShardStrategy(pc.Strategy).Valid() {
			issues = append(issues, fmt.Sprintf("preset %q: invalid subdirectory strategy %q", name, pc.Strategy))
		}
		if strings.Trim(pc.Dest.Path, "/\\ ") == "" {
			issues = append(issues, fmt.Sprintf("preset %q: destination path is required", name))
		}
		for _, vname := range sortedKeys(pc.Variants) {
			vc := pc.Variants[vname]
			if vc.Size != "" {
				if _, err := thumb.ParseSize(vc.Size); err != nil {
					issues = append(issues, fmt.Sprintf("preset %q, variant %q: invalid smartcrop %q", name, vname, vc.Size))
				}
			}
			if vc.Strategy != "" && !thumb.ShardStrategy(vc.Strategy).Valid() {
				issues = append(issues, fmt.Sprintf("preset %q, variant %q: invalid subdirectory strategy %q", name, vname, vc.Strategy))
			}
			if vc.Dest != nil && vc.Dest.Disk != "" {
				if _, ok := c.Disks[vc.Dest.Disk]; !ok {
					issues = append(issues, fmt.Sprintf("preset %q, variant %q: destination disk %q is not configured", name, vname, vc.Dest.Disk))
				}
			}
		}
	}
	return issues
}

// TTL converts the cache section. Zero values take thumb defaults.
func (c *Config) TTL() thumb.TTL {
	return thumb.TTL{URL: c.Cache.URLTTL, Exists: c.Cache.ExistsTTL, Fallback: c.Cache.FallbackTTL}
}

// Lease converts the lease settings. Zero values take thumb defaults.
func (c *Config) Lease() thumb.Lease {
	return thumb.Lease{TTL: c.Cache.LeaseTTL, Wait: c.Cache.LeaseWait}
}

// Gates converts the validation section, keeping thumb defaults for
// anything left unset.
func (c *Config) Gates() thumb.Validation {
	v := thumb.DefaultValidation()
	if len(c.Validation.AllowedExtensions) > 0 {
		v.AllowedExtensions = c.Validation.AllowedExtensions
	}
	if c.Validation.MaxFileSize > 0 {
		v.MaxSourceBytes = c.Validation.MaxFileSize
	}
	return v
}

// FallbackConfig converts the fallback section.
func (c *Config) FallbackConfig() thumb.FallbackConfig {
	return thumb.FallbackConfig{
		PlaceholderURL:       c.Fallback.PlaceholderURL,
		FallbackToOriginal:   c.Fallback.FallbackToOriginal,
		GeneratePlaceholders: c.Fallback.GeneratePlaceholders,
		PlaceholderService:   c.Fallback.PlaceholderService,
		Background:           c.Fallback.PlaceholderColor,
		Foreground:           c.Fallback.PlaceholderTextColor,
	}
}

// JobConfig converts the jobs section.
func (c *Config) JobConfig() jobs.Config {
	return jobs.Config{
		Workers:   c.Jobs.Workers,
		QueueSize: c.Jobs.QueueSize,
		Attempts:  c.Jobs.Attempts,
		Timeout:   c.Jobs.Timeout,
		Backoff:   c.Jobs.Backoff,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
