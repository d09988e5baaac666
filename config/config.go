// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/layer-3/otpwallet/adapters/verification"
	"github.com/layer-3/otpwallet/core"
)

const (
	StoreMemory = "memory"
	StoreBolt   = "bolt"
	StoreRedis  = "redis"

	EventsNone   = "none"
	EventsMemory = "memory"
	EventsRedis  = "redis"
)

// Config is the full process configuration
type Config struct {
	HTTPAddr string

	RPCURL      string
	ChainID     int64
	NetworkName string
	ExplorerURL string

	VerificationURL string
	EnvironmentID   string
	VerifyPath      string // empty disables server-side code verification

	Store    string
	BoltPath string
	RedisURL string
	Events   string

	SigningKeyFile string // PEM EC key; a fresh key is generated when empty
	SessionTTL     time.Duration
	LogLevel       string

	OTPLength      int
	ResendCooldown time.Duration
}

// Default returns the configuration used when nothing is set
func Default() Config {
	return Config{
		HTTPAddr:        ":9000",
		RPCURL:          "https://ethereum-sepolia-rpc.publicnode.com",
		ChainID:         core.Sepolia.ChainID,
		NetworkName:     core.Sepolia.Name,
		ExplorerURL:     core.Sepolia.ExplorerURL,
		VerificationURL: verification.DefaultBaseURL,
		Store:           StoreMemory,
		BoltPath:        "./data/otpwallet.db",
		RedisURL:        "redis://localhost:6379/0",
		Events:          EventsNone,
		SessionTTL:      24 * time.Hour,
		LogLevel:        "info",
		OTPLength:       core.DefaultOTPLength,
		ResendCooldown:  core.DefaultResendCooldown,
	}
}

// Load reads the configuration from the environment on top of Default
func Load() (Config, error) {
	cfg := Default()

	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	str("OTPWALLET_HTTP_ADDR", &cfg.HTTPAddr)
	str("OTPWALLET_RPC_URL", &cfg.RPCURL)
	str("OTPWALLET_NETWORK_NAME", &cfg.NetworkName)
	str("OTPWALLET_EXPLORER_URL", &cfg.ExplorerURL)
	str("OTPWALLET_VERIFICATION_URL", &cfg.VerificationURL)
	str("OTPWALLET_ENVIRONMENT_ID", &cfg.EnvironmentID)
	str("OTPWALLET_VERIFY_PATH", &cfg.VerifyPath)
	str("OTPWALLET_STORE", &cfg.Store)
	str("OTPWALLET_BOLT_PATH", &cfg.BoltPath)
	str("REDIS_URL", &cfg.RedisURL)
	str("OTPWALLET_EVENTS", &cfg.Events)
	str("OTPWALLET_SIGNING_KEY_FILE", &cfg.SigningKeyFile)
	str("OTPWALLET_LOG_LEVEL", &cfg.LogLevel)

	if v, ok := os.LookupEnv("OTPWALLET_CHAIN_ID"); ok {
		id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("OTPWALLET_CHAIN_ID: %w", err)
		}
		cfg.ChainID = id
	}
	if v, ok := os.LookupEnv("OTPWALLET_OTP_LENGTH"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return Config{}, fmt.Errorf("OTPWALLET_OTP_LENGTH: %w", err)
		}
		cfg.OTPLength = n
	}
	durations := map[string]*time.Duration{
		"OTPWALLET_SESSION_TTL":     &cfg.SessionTTL,
		"OTPWALLET_RESEND_COOLDOWN": &cfg.ResendCooldown,
	}
	for key, dst := range durations {
		if v, ok := os.LookupEnv(key); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				return Config{}, fmt.Errorf("%s: %w", key, err)
			}
			*dst = d
		}
	}

	return cfg, cfg.Validate()
}

// Validate rejects inconsistent values
func (c Config) Validate() error {
	var errs []error

	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http address is required"))
	}
	if c.RPCURL == "" {
		errs = append(errs, errors.New("rpc url is required"))
	}
	switch c.Store {
	case StoreMemory:
	case StoreBolt:
		if c.BoltPath == "" {
			errs = append(errs, errors.New("bolt path is required for the bolt store"))
		}
	case StoreRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("redis url is required for the redis store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}
	switch c.Events {
	case EventsNone, EventsMemory:
	case EventsRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("redis url is required for redis events"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown events backend %q", c.Events))
	}
	if c.SessionTTL < 0 {
		errs = append(errs, errors.New("session ttl must not be negative"))
	}
	if err := c.Settings().Validate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Network returns the configured chain
func (c Config) Network() core.Network {
	return core.Network{Name: c.NetworkName, ChainID: c.ChainID, ExplorerURL: c.ExplorerURL}
}

// Settings returns the auth flow tunables
func (c Config) Settings() core.Settings {
	return core.Settings{
		OTPLength:      c.OTPLength,
		ResendCooldown: c.ResendCooldown,
		Network:        c.Network(),
	}
}
