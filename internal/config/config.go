package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/dzungpv/mitsubishi2MQTT/internal/hvac"
)

// EnvPrefix prefixes environment variables that override the config file
const EnvPrefix = "M2M"

// Config file keys
const (
	KeyAddr          = "addr"
	KeyJWTSecret     = "jwt_secret"
	KeyJWTExpiration = "jwt_expiration"
	KeyDataDir       = "data_dir"
	KeyLogLevel      = "log_level"
	KeyTickInterval  = "tick_interval"
	KeyHostNetwork   = "host_network"
	KeyAPSSID        = "ap_ssid"
	KeySimRoomTemp   = "sim_room_temperature"
	KeyFirmwareKey   = "firmware_public_key"
	KeyMinTemp       = "min_temperature"
	KeyMaxTemp       = "max_temperature"
	// InfluxDB export, disabled while the URL is empty
	KeyInfluxURL      = "influx_url"
	KeyInfluxToken    = "influx_token"
	KeyInfluxOrg      = "influx_org"
	KeyInfluxBucket   = "influx_bucket"
	KeyInfluxInterval = "influx_interval"
)

// Default values
const (
	DefaultAddr           = ":80"
	DefaultJWTExpiration  = 24 * time.Hour
	DefaultDataDir        = "data"
	DefaultLogLevel       = "info"
	DefaultTickInterval   = 50 * time.Millisecond
	DefaultHostNetwork    = true
	DefaultAPSSID         = "mitsubishi2mqtt"
	DefaultSimRoomTemp    = 22.0
	DefaultInfluxBucket   = "hvac"
	DefaultInfluxInterval = time.Minute
)

// Config holds the process-level settings read from the .env file.
// Device records (wifi, broker, unit) live in storage, not here.
// All access goes through getters for thread safety.
type Config struct {
	mu       sync.RWMutex
	v        *viper.Viper
	filePath string
	dirty    bool
}

// Load reads the .env file at filePath, or creates it with defaults.
// A missing JWT secret is generated and written back.
func Load(filePath string) (*Config, error) {
	cfg := &Config{
		v:        newViper(filePath),
		filePath: filePath,
	}

	if err := cfg.v.ReadInConfig(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg.dirty = true
	}

	if cfg.v.GetString(KeyJWTSecret) == "" {
		secret, err := generateSecureSecret(32)
		if err != nil {
			return nil, fmt.Errorf("failed to generate JWT secret: %w", err)
		}
		cfg.v.Set(KeyJWTSecret, secret)
		cfg.dirty = true
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.dirty {
		if err := cfg.Save(); err != nil {
			return nil, fmt.Errorf("failed to save config: %w", err)
		}
	}

	return cfg, nil
}

func newViper(filePath string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(filePath)
	v.SetConfigType("env")
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	v.SetDefault(KeyAddr, DefaultAddr)
	v.SetDefault(KeyJWTSecret, "")
	v.SetDefault(KeyJWTExpiration, int(DefaultJWTExpiration.Seconds()))
	v.SetDefault(KeyDataDir, DefaultDataDir)
	v.SetDefault(KeyLogLevel, DefaultLogLevel)
	v.SetDefault(KeyTickInterval, DefaultTickInterval)
	v.SetDefault(KeyHostNetwork, DefaultHostNetwork)
	v.SetDefault(KeyAPSSID, DefaultAPSSID)
	v.SetDefault(KeySimRoomTemp, DefaultSimRoomTemp)
	v.SetDefault(KeyFirmwareKey, "")
	v.SetDefault(KeyMinTemp, hvac.MinTemperature)
	v.SetDefault(KeyMaxTemp, hvac.MaxTemperature)
	v.SetDefault(KeyInfluxURL, "")
	v.SetDefault(KeyInfluxToken, "")
	v.SetDefault(KeyInfluxOrg, "")
	v.SetDefault(KeyInfluxBucket, DefaultInfluxBucket)
	v.SetDefault(KeyInfluxInterval, DefaultInfluxInterval)
	return v
}

// validate checks if configuration is valid.
func (c *Config) validate() error {
	addr := c.v.GetString(KeyAddr)
	if addr == "" {
		return errors.New("server address cannot be empty")
	}
	if _, port, err := net.SplitHostPort(addr); err != nil {
		if _, err := strconv.Atoi(strings.TrimPrefix(addr, ":")); err != nil {
			return fmt.Errorf("invalid server address format: %s", addr)
		}
	} else {
		portNum, err := strconv.Atoi(port)
		if err != nil || portNum < 1 || portNum > 65535 {
			return fmt.Errorf("invalid port number: %s", port)
		}
	}

	exp := c.jwtExpiration()
	if exp < time.Minute {
		return errors.New("JWT expiration must be at least 1 minute")
	}
	if exp > 365*24*time.Hour {
		return errors.New("JWT expiration cannot exceed 1 year")
	}

	if c.v.GetDuration(KeyTickInterval) <= 0 {
		return errors.New("tick interval must be positive")
	}
	if c.v.GetString(KeyDataDir) == "" {
		return errors.New("data directory cannot be empty")
	}
	if min, max := c.v.GetFloat64(KeyMinTemp), c.v.GetFloat64(KeyMaxTemp); min >= max {
		return fmt.Errorf("invalid temperature range: %g..%g", min, max)
	}
	return nil
}

// Save writes the current configuration to the .env file
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(c.filePath), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := c.v.WriteConfigAs(c.filePath); err != nil {
		return fmt.Errorf("write %s: %w", c.filePath, err)
	}
	c.dirty = false
	return nil
}

func (c *Config) jwtExpiration() time.Duration {
	return time.Duration(c.v.GetInt(KeyJWTExpiration)) * time.Second
}

// Getters (thread-safe)

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.v.GetString(KeyAddr)
}

// JWTSecret returns the JWT signing key.
func (c *Config) JWTSecret() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.v.GetString(KeyJWTSecret)
}

// JWTExpiration returns the session lifetime.
func (c *Config) JWTExpiration() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.jwtExpiration()
}

// DataDir returns the directory holding the bolt database and staged firmware.
func (c *Config) DataDir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.v.GetString(KeyDataDir)
}

// LogLevel returns the logger level.
func (c *Config) LogLevel() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.v.GetString(KeyLogLevel)
}

// TickInterval returns the runtime loop period.
func (c *Config) TickInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.v.GetDuration(KeyTickInterval)
}

// HostNetwork reports whether the host's own networking stands in for the wifi station.
func (c *Config) HostNetwork() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.v.GetBool(KeyHostNetwork)
}

// APSSID returns the fallback access point name.
func (c *Config) APSSID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.v.GetString(KeyAPSSID)
}

// SimRoomTemperature returns the starting room temperature of the simulated unit.
func (c *Config) SimRoomTemperature() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.v.GetFloat64(KeySimRoomTemp)
}

// FirmwarePublicKey returns the minisign key firmware uploads are verified against.
func (c *Config) FirmwarePublicKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.v.GetString(KeyFirmwareKey)
}

// TemperatureRange returns the set point limits in °C, used both to clamp
// commands and in the discovery document.
func (c *Config) TemperatureRange() (min, max float64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.v.GetFloat64(KeyMinTemp), c.v.GetFloat64(KeyMaxTemp)
}

// Influx holds the InfluxDB export settings
type Influx struct {
	URL      string
	Token    string
	Org      string
	Bucket   string
	Interval time.Duration
}

// Enabled reports whether export is configured
func (i Influx) Enabled() bool {
	return i.URL != ""
}

// Influx returns the InfluxDB export settings.
func (c *Config) Influx() Influx {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Influx{
		URL:      c.v.GetString(KeyInfluxURL),
		Token:    c.v.GetString(KeyInfluxToken),
		Org:      c.v.GetString(KeyInfluxOrg),
		Bucket:   c.v.GetString(KeyInfluxBucket),
		Interval: c.v.GetDuration(KeyInfluxInterval),
	}
}

// FilePath returns the path to the .env file.
func (c *Config) FilePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filePath
}

// SetJWTSecret replaces the signing key and saves, invalidating every session.
func (c *Config) SetJWTSecret(secret string) error {
	if secret == "" {
		return errors.New("JWT secret cannot be empty")
	}
	c.mu.Lock()
	c.v.Set(KeyJWTSecret, secret)
	c.dirty = true
	c.mu.Unlock()

	return c.Save()
}

// RotateJWTSecret generates a new signing key and saves.
func (c *Config) RotateJWTSecret() error {
	secret, err := generateSecureSecret(32)
	if err != nil {
		return err
	}
	return c.SetJWTSecret(secret)
}

// generateSecureSecret generates a cryptographically secure random hex string.
func generateSecureSecret(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// String returns a string representation of the config (without secrets).
func (c *Config) String() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	secretDisplay := "[not set]"
	if c.v.GetString(KeyJWTSecret) != "" {
		secretDisplay = "[set]"
	}

	return fmt.Sprintf(
		"Config{Addr: %q, JWTSecret: %s, JWTExpiration: %v, DataDir: %q, Tick: %v, HostNetwork: %v}",
		c.v.GetString(KeyAddr), secretDisplay, c.jwtExpiration(), c.v.GetString(KeyDataDir),
		c.v.GetDuration(KeyTickInterval), c.v.GetBool(KeyHostNetwork),
	)
}
