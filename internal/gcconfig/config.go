// Package gcconfig holds the collector's configuration struct and the
// functional options used to build it, following
// internal/allocator.Config's shape.
package gcconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/Masterminds/semver/v3"
)

// ErrConfig is returned when a configuration value is impossible
// (spec.md §7's ConfigError).
var ErrConfig = errors.New("gcconfig: invalid configuration")

// CompatRange is the semver range this build of the collector accepts
// from a persisted or hot-reloaded configuration file's "version"
// field, letting a config written by a newer/older build be rejected
// cleanly instead of silently misapplied.
const CompatRange = ">= 1.0.0, < 2.0.0"

// TLABConfig mirrors spec.md §6's TLAB sub-config.
type TLABConfig struct {
	MinSize           uintptr
	MaxSize           uintptr
	RefillWasteTarget float64
}

// PinPolicy mirrors spec.md §6's pin policy sub-config.
type PinPolicy struct {
	MaxPins          int
	MaxPinDurationMS int
	AllowNested      bool
}

// Config is the collector's full configuration, populated by New with
// functional options exactly as internal/allocator.Config is built from
// internal/allocator.Option.
type Config struct {
	Version string

	MinHeapSize      uintptr
	MaxHeapSize      uintptr
	RegionSize       uintptr
	ConcurrencyLevel int
	TriggerHeapUsage float64
	UseGenerational  bool
	TargetThroughput float64
	MaxPauseMS       int
	SoftMaxHeapSize  uintptr
	PreTouchMemory   bool

	TLAB TLABConfig
	Pin  PinPolicy
}

// Option configures a Config at construction time.
type Option func(*Config)

// DefaultConfig returns spec.md §6's documented defaults.
func DefaultConfig() Config {
	return Config{
		Version:          "1.0.0",
		MinHeapSize:      8 << 20,
		MaxHeapSize:      1 << 30,
		RegionSize:       2 << 20,
		ConcurrencyLevel: 4,
		TriggerHeapUsage: 0.75,
		UseGenerational:  true,
		TargetThroughput: 0.95,
		MaxPauseMS:       10,
		SoftMaxHeapSize:  0,
		PreTouchMemory:   false,
		TLAB: TLABConfig{
			MinSize:           32 << 10,
			MaxSize:           1 << 20,
			RefillWasteTarget: 0.02,
		},
		Pin: PinPolicy{
			MaxPins:          10000,
			MaxPinDurationMS: 0,
			AllowNested:      true,
		},
	}
}

// New builds a Config from DefaultConfig plus opts, validating the
// result.
func New(opts ...Option) (Config, error) {
	cfg := DefaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the invariants spec.md §4.2's `init` enforces before
// reserving virtual address space.
func (c Config) Validate() error {
	if c.RegionSize == 0 {
		return fmt.Errorf("%w: region_size must be nonzero", ErrConfig)
	}
	if c.MaxHeapSize < c.MinHeapSize {
		return fmt.Errorf("%w: max_heap_size < min_heap_size", ErrConfig)
	}
	if c.MaxHeapSize%c.RegionSize != 0 {
		return fmt.Errorf("%w: max_heap_size must be a multiple of region_size", ErrConfig)
	}
	if c.ConcurrencyLevel <= 0 {
		return fmt.Errorf("%w: concurrency_level must be positive", ErrConfig)
	}
	if c.TriggerHeapUsage <= 0 || c.TriggerHeapUsage > 1 {
		return fmt.Errorf("%w: trigger_heap_usage must be in (0, 1]", ErrConfig)
	}
	return nil
}

func WithMinHeapSize(n uintptr) Option      { return func(c *Config) { c.MinHeapSize = n } }
func WithMaxHeapSize(n uintptr) Option      { return func(c *Config) { c.MaxHeapSize = n } }
func WithRegionSize(n uintptr) Option       { return func(c *Config) { c.RegionSize = n } }
func WithConcurrency(n int) Option          { return func(c *Config) { c.ConcurrencyLevel = n } }
func WithTriggerHeapUsage(f float64) Option { return func(c *Config) { c.TriggerHeapUsage = f } }
func WithGenerational(b bool) Option        { return func(c *Config) { c.UseGenerational = b } }
func WithTargetThroughput(f float64) Option { return func(c *Config) { c.TargetThroughput = f } }
func WithMaxPauseMS(n int) Option           { return func(c *Config) { c.MaxPauseMS = n } }
func WithSoftMaxHeapSize(n uintptr) Option  { return func(c *Config) { c.SoftMaxHeapSize = n } }
func WithPreTouchMemory(b bool) Option      { return func(c *Config) { c.PreTouchMemory = b } }
func WithTLAB(t TLABConfig) Option          { return func(c *Config) { c.TLAB = t } }
func WithPinPolicy(p PinPolicy) Option      { return func(c *Config) { c.Pin = p } }

// LoadFile reads a JSON-encoded Config from path and checks its
// version field against CompatRange before returning it.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("gcconfig: reading %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("gcconfig: parsing %s: %w", path, err)
	}
	if err := checkCompat(cfg.Version); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func checkCompat(version string) error {
	if version == "" {
		return nil
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("gcconfig: invalid version %q: %w", version, err)
	}
	c, err := semver.NewConstraint(CompatRange)
	if err != nil {
		return fmt.Errorf("gcconfig: invalid compatibility range: %w", err)
	}
	if !c.Check(v) {
		return fmt.Errorf("%w: config version %s is outside supported range %s", ErrConfig, version, CompatRange)
	}
	return nil
}
