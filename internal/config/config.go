package config

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds everything both batch flows need.
type Config struct {
	APIKey                 string
	InterpretationEndpoint string
	StatusEndpoint         string
	ResultEndpoint         string

	DefaultTags []string
	TrialTag    string

	BatchInputFile string
	UUIDsFile      string
	ResultsFile    string

	SleepTime       time.Duration
	MaxPollRetries  int
	PacingDelay     time.Duration
	PacingIncrement time.Duration
	RateLimitPause  time.Duration
	HTTPTimeout     time.Duration

	LogLevel string
}

const (
	DefaultConfigPath = "bayse.toml"

	defaultBatchInputFile  = "batch_input.txt"
	defaultUUIDsFile       = "bayse_request_ids.jsonl"
	defaultResultsFile     = "bayse_results_data.json"
	defaultSleepTime       = 10 * time.Second
	defaultMaxPollRetries  = 8
	defaultPacingDelay     = 100 * time.Millisecond
	defaultPacingIncrement = 50 * time.Millisecond
	defaultRateLimitPause  = 60 * time.Second
	defaultHTTPTimeout     = 30 * time.Second
	defaultLogLevel        = "info"
)

// Environment variables that override the config file.
const (
	EnvAPIKey                 = "BAYSE_API_KEY"
	EnvInterpretationEndpoint = "BAYSE_INTERPRETATION_ENDPOINT"
	EnvStatusEndpoint         = "BAYSE_STATUS_ENDPOINT"
	EnvResultEndpoint         = "BAYSE_RESULT_ENDPOINT"
	EnvDefaultTags            = "BAYSE_DEFAULT_TAGS"
	EnvTrialTag               = "BAYSE_TRIAL_TAG"
	EnvSleepTime              = "BAYSE_SLEEP_TIME"
	EnvLogLevel               = "BAYSE_LOG_LEVEL"
)

// Default returns a Config with every optional field set.
func Default() Config {
	return Config{
		BatchInputFile:  defaultBatchInputFile,
		UUIDsFile:       defaultUUIDsFile,
		ResultsFile:     defaultResultsFile,
		SleepTime:       defaultSleepTime,
		MaxPollRetries:  defaultMaxPollRetries,
		PacingDelay:     defaultPacingDelay,
		PacingIncrement: defaultPacingIncrement,
		RateLimitPause:  defaultRateLimitPause,
		HTTPTimeout:     defaultHTTPTimeout,
		LogLevel:        defaultLogLevel,
	}
}

type fileConfig struct {
	APIKey                 string   `toml:"api_key"`
	InterpretationEndpoint string   `toml:"interpretation_endpoint"`
	StatusEndpoint         string   `toml:"status_endpoint"`
	ResultEndpoint         string   `toml:"result_endpoint"`
	DefaultTags            []string `toml:"default_tags"`
	TrialTag               string   `toml:"trial_tag"`
	BatchInputFile         string   `toml:"batch_input_file"`
	UUIDsFile              string   `toml:"uuids_file"`
	ResultsFile            string   `toml:"results_file"`
	SleepTime              string   `toml:"sleep_time"`
	MaxPollRetries         *int     `toml:"max_poll_retries"`
	PacingDelay            string   `toml:"pacing_delay"`
	PacingIncrement        string   `toml:"pacing_increment"`
	RateLimitPause         string   `toml:"rate_limit_pause"`
	HTTPTimeout            string   `toml:"http_timeout"`
	LogLevel               string   `toml:"log_level"`
}

// Load reads the TOML file at path, then applies environment overrides.
// An empty path means DefaultConfigPath, which may be absent; an explicit path must exist.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = DefaultConfigPath
	}
	resolved, err := expandPath(path)
	if err != nil {
		return Config{}, err
	}

	file, err := os.Open(resolved)
	switch {
	case err == nil:
		defer file.Close()
		if err := cfg.applyFile(file); err != nil {
			return Config{}, err
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return Config{}, fmt.Errorf("open config: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyFile(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var raw fileConfig
	if err := toml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	setString(&c.APIKey, raw.APIKey)
	setString(&c.InterpretationEndpoint, raw.InterpretationEndpoint)
	setString(&c.StatusEndpoint, raw.StatusEndpoint)
	setString(&c.ResultEndpoint, raw.ResultEndpoint)
	setString(&c.TrialTag, raw.TrialTag)
	setString(&c.BatchInputFile, raw.BatchInputFile)
	setString(&c.UUIDsFile, raw.UUIDsFile)
	setString(&c.ResultsFile, raw.ResultsFile)
	setString(&c.LogLevel, raw.LogLevel)
	if raw.DefaultTags != nil {
		c.DefaultTags = cleanTags(raw.DefaultTags)
	}
	if raw.MaxPollRetries != nil {
		c.MaxPollRetries = *raw.MaxPollRetries
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"sleep_time", raw.SleepTime, &c.SleepTime},
		{"pacing_delay", raw.PacingDelay, &c.PacingDelay},
		{"pacing_increment", raw.PacingIncrement, &c.PacingIncrement},
		{"rate_limit_pause", raw.RateLimitPause, &c.RateLimitPause},
		{"http_timeout", raw.HTTPTimeout, &c.HTTPTimeout},
	}
	for _, d := range durations {
		if strings.TrimSpace(d.raw) == "" {
			continue
		}
		parsed, err := ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parse config: %s: %w", d.key, err)
		}
		*d.dst = parsed
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.APIKey, os.Getenv(EnvAPIKey))
	setString(&c.InterpretationEndpoint, os.Getenv(EnvInterpretationEndpoint))
	setString(&c.StatusEndpoint, os.Getenv(EnvStatusEndpoint))
	setString(&c.ResultEndpoint, os.Getenv(EnvResultEndpoint))
	setString(&c.TrialTag, os.Getenv(EnvTrialTag))
	setString(&c.LogLevel, os.Getenv(EnvLogLevel))
	if tags := strings.TrimSpace(os.Getenv(EnvDefaultTags)); tags != "" {
		c.DefaultTags = cleanTags(strings.Split(tags, ","))
	}
	if v := strings.TrimSpace(os.Getenv(EnvSleepTime)); v != "" {
		d, err := ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvSleepTime, err)
		}
		c.SleepTime = d
	}
	return nil
}

// Validate reports every missing or invalid value at once.
func (c Config) Validate() error {
	var errs []error
	required := []struct{ name, value string }{
		{"api_key (" + EnvAPIKey + ")", c.APIKey},
		{"interpretation_endpoint", c.InterpretationEndpoint},
		{"status_endpoint", c.StatusEndpoint},
		{"result_endpoint", c.ResultEndpoint},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			errs = append(errs, fmt.Errorf("%s is required", r.name))
		}
	}
	if c.MaxPollRetries < 0 {
		errs = append(errs, fmt.Errorf("max_poll_retries must not be negative"))
	}
	if c.SleepTime < 0 || c.PacingDelay < 0 || c.PacingIncrement < 0 || c.RateLimitPause < 0 {
		errs = append(errs, fmt.Errorf("durations must not be negative"))
	}
	return errors.Join(errs...)
}

// ResolvePaths expands "~" and makes the three file paths absolute.
func (c *Config) ResolvePaths() error {
	for _, p := range []*string{&c.BatchInputFile, &c.UUIDsFile, &c.ResultsFile} {
		expanded, err := expandPath(*p)
		if err != nil {
			return err
		}
		*p = expanded
	}
	return nil
}

// ParseDuration accepts Go durations ("1m30s") or a plain number of seconds ("0.1").
func ParseDuration(s string) (time.Duration, error) {
	trimmed := strings.TrimSpace(s)
	if secs, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return time.Duration(math.Round(secs * float64(time.Second))), nil
	}
	d, err := time.ParseDuration(trimmed)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}

func setString(dst *string, v string) {
	if trimmed := strings.TrimSpace(v); trimmed != "" {
		*dst = trimmed
	}
}

func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if trimmed := strings.TrimSpace(t); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
