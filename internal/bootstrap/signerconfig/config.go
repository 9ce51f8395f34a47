// Package signerconfig loads signer settings from YAML and EPHSIGN_*
// environment variables.
package signerconfig

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ephsign/go-backend/internal/ledger"
	"ephsign/go-backend/internal/seed"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "EPHSIGN"

const (
	BackendAuto    = "auto"
	BackendMacOS   = "macos"
	BackendLinux   = "linux"
	BackendWindows = "windows"
	BackendFile    = "file"
	BackendMemory  = "memory"
	BackendKMS     = "kms"
)

var ErrInvalidConfig = errors.New("invalid signer config")

type Config struct {
	Backend   string          `envconfig:"BACKEND"`
	Account   string          `envconfig:"ACCOUNT"`
	Codec     string          `envconfig:"CODEC"`
	Ledger    string          `envconfig:"LEDGER"`
	LogLevel  string          `envconfig:"LOG_LEVEL"`
	File      FileConfig      `envconfig:"FILE"`
	KMS       KMSConfig       `envconfig:"KMS"`
	RateLimit RateLimitConfig `envconfig:"RATE_LIMIT"`
}

type FileConfig struct {
	Dir string `envconfig:"DIR"`
	// PassphraseEnv names the variable holding the store passphrase. The
	// passphrase itself is never read from the config file.
	PassphraseEnv string `envconfig:"PASSPHRASE_ENV"`
}

type KMSConfig struct {
	KeyID    string        `envconfig:"KEY_ID"`
	Region   string        `envconfig:"REGION"`
	Profile  string        `envconfig:"PROFILE"`
	Endpoint string        `envconfig:"ENDPOINT"`
	Timeout  time.Duration `envconfig:"TIMEOUT"`
}

type RateLimitConfig struct {
	RPS     float64       `envconfig:"RPS"`
	Burst   int           `envconfig:"BURST"`
	IdleTTL time.Duration `envconfig:"IDLE_TTL"`
	// Backends overrides RPS and Burst per backend name ("kms", "file",
	// "macos-keychain", ...). File only.
	Backends map[string]BudgetConfig `ignored:"true"`
}

type BudgetConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

func Default() Config {
	return Config{
		Backend:  BackendAuto,
		Codec:    "algorand",
		Ledger:   "algorand",
		LogLevel: "info",
		File: FileConfig{
			PassphraseEnv: EnvPrefix + "_FILE_PASSPHRASE",
		},
		KMS: KMSConfig{
			Timeout: 10 * time.Second,
		},
		RateLimit: RateLimitConfig{
			IdleTTL: 10 * time.Minute,
		},
	}
}

// FileDocument is the on-disk form. Pointer fields distinguish "unset" from
// an explicit zero.
type FileDocument struct {
	Backend  string `yaml:"backend"`
	Account  string `yaml:"account"`
	Codec    string `yaml:"codec"`
	Ledger   string `yaml:"ledger"`
	LogLevel string `yaml:"logLevel"`
	File     struct {
		Dir           string `yaml:"dir"`
		PassphraseEnv string `yaml:"passphraseEnv"`
	} `yaml:"file"`
	KMS struct {
		KeyID    string        `yaml:"keyId"`
		Region   string        `yaml:"region"`
		Profile  string        `yaml:"profile"`
		Endpoint string        `yaml:"endpoint"`
		Timeout  time.Duration `yaml:"timeout"`
	} `yaml:"kms"`
	RateLimit struct {
		RPS      *float64                `yaml:"rps"`
		Burst    *int                    `yaml:"burst"`
		IdleTTL  time.Duration           `yaml:"idleTTL"`
		Backends map[string]BudgetConfig `yaml:"backends"`
	} `yaml:"rateLimit"`
}

// DefaultCandidates lists where Load looks when no path is given.
func DefaultCandidates() []string {
	candidates := []string{"ephsign.yaml", "configs/ephsign.yaml"}
	if dir, err := os.UserConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(dir, "ephsign", "config.yaml"))
	}
	return candidates
}

// Load reads configPath, or the first readable default candidate, applies
// environment overrides and validates the result. An explicit path that
// cannot be read or parsed is an error; missing default candidates are not.
func Load(configPath string) (Config, error) {
	cfg := Default()

	if configPath != "" {
		doc, err := readDocument(configPath)
		if err != nil {
			return Config{}, err
		}
		Merge(&cfg, doc)
	} else {
		for _, path := range DefaultCandidates() {
			doc, err := readDocument(path)
			if err != nil {
				continue
			}
			Merge(&cfg, doc)
			break
		}
	}

	if err := ApplyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func readDocument(path string) (FileDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FileDocument{}, fmt.Errorf("read config %s: %w", path, err)
	}
	var doc FileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return FileDocument{}, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, path, err)
	}
	return doc, nil
}

func Merge(dst *Config, src FileDocument) {
	if src.Backend != "" {
		dst.Backend = src.Backend
	}
	if src.Account != "" {
		dst.Account = src.Account
	}
	if src.Codec != "" {
		dst.Codec = src.Codec
	}
	if src.Ledger != "" {
		dst.Ledger = src.Ledger
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
	if src.File.Dir != "" {
		dst.File.Dir = src.File.Dir
	}
	if src.File.PassphraseEnv != "" {
		dst.File.PassphraseEnv = src.File.PassphraseEnv
	}
	if src.KMS.KeyID != "" {
		dst.KMS.KeyID = src.KMS.KeyID
	}
	if src.KMS.Region != "" {
		dst.KMS.Region = src.KMS.Region
	}
	if src.KMS.Profile != "" {
		dst.KMS.Profile = src.KMS.Profile
	}
	if src.KMS.Endpoint != "" {
		dst.KMS.Endpoint = src.KMS.Endpoint
	}
	if src.KMS.Timeout != 0 {
		dst.KMS.Timeout = src.KMS.Timeout
	}
	if src.RateLimit.RPS != nil {
		dst.RateLimit.RPS = *src.RateLimit.RPS
	}
	if src.RateLimit.Burst != nil {
		dst.RateLimit.Burst = *src.RateLimit.Burst
	}
	if src.RateLimit.IdleTTL != 0 {
		dst.RateLimit.IdleTTL = src.RateLimit.IdleTTL
	}
	for name, b := range src.RateLimit.Backends {
		if dst.RateLimit.Backends == nil {
			dst.RateLimit.Backends = make(map[string]BudgetConfig, len(src.RateLimit.Backends))
		}
		dst.RateLimit.Backends[strings.ToLower(strings.TrimSpace(name))] = b
	}
}

// ApplyEnvOverrides sets any field whose EPHSIGN_* variable is present.
func ApplyEnvOverrides(cfg *Config) error {
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func (c *Config) Validate() error {
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	switch c.Backend {
	case BackendAuto, BackendMacOS, BackendLinux, BackendWindows, BackendMemory:
	case BackendFile:
		if strings.TrimSpace(c.File.Dir) == "" {
			return fmt.Errorf("%w: file backend needs file.dir", ErrInvalidConfig)
		}
		if strings.TrimSpace(c.File.PassphraseEnv) == "" {
			return fmt.Errorf("%w: file backend needs file.passphraseEnv", ErrInvalidConfig)
		}
	case BackendKMS:
		if strings.TrimSpace(c.KMS.KeyID) == "" {
			return fmt.Errorf("%w: kms backend needs kms.keyId", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, c.Backend)
	}
	if _, err := seed.ByName(c.Codec); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := ledger.ByName(c.Ledger); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	if c.RateLimit.RPS < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("%w: negative rate limit", ErrInvalidConfig)
	}
	for name, b := range c.RateLimit.Backends {
		if b.RPS < 0 || b.Burst < 0 {
			return fmt.Errorf("%w: negative rate limit for backend %q", ErrInvalidConfig, name)
		}
	}
	if c.KMS.Timeout < 0 {
		return fmt.Errorf("%w: negative kms timeout", ErrInvalidConfig)
	}
	return nil
}

func (c Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("%w: log level %q", ErrInvalidConfig, c.LogLevel)
	}
	return level, nil
}
