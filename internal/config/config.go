// SPDX-License-Identifier: MIT

// Package config loads and validates the engine configuration from the
// environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the process configuration. All knobs come from environment
// variables; see Load for keys and defaults.
type Config struct {
	// Storage
	DBPath string

	// REST surface
	Listen    string
	APITokens map[string]string // bearer token -> userId

	// Motion ingress
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	MotionChannel string

	// Streaming service
	StreamingClientID     string
	StreamingClientSecret string
	SpotifySecretName     string

	// Engine policy
	DefaultTimeoutMinutes  int
	DefaultDebounceMinutes int
	SessionTTLDays         int
	TokenRefreshBuffer     time.Duration
	SweepInterval          time.Duration
	TokenRefreshInterval   time.Duration
	SecretCacheTTL         time.Duration
	SecretCacheSize        int

	// Call budgets
	CallTimeout  time.Duration
	EventTimeout time.Duration

	LogLevel string
}

// Load reads the configuration from the environment.
func Load() Config {
	return Config{
		DBPath: ParseString("MOTIONPLAY_DB_PATH", "motionplay.db"),

		Listen:    ParseString("MOTIONPLAY_LISTEN", ":8080"),
		APITokens: parseTokenMap(ParseString("API_TOKENS", "")),

		RedisAddr:     ParseString("MOTIONPLAY_REDIS_ADDR", ""),
		RedisPassword: ParseString("MOTIONPLAY_REDIS_PASSWORD", ""),
		RedisDB:       ParseInt("MOTIONPLAY_REDIS_DB", 0),
		MotionChannel: ParseString("MOTIONPLAY_MOTION_CHANNEL", "motionplay:motion"),

		StreamingClientID:     ParseString("STREAMING_CLIENT_ID", ""),
		StreamingClientSecret: ParseString("STREAMING_CLIENT_SECRET", ""),
		SpotifySecretName:     ParseString("SPOTIFY_SECRET_NAME", "motionplay/spotify"),

		DefaultTimeoutMinutes:  ParseInt("DEFAULT_TIMEOUT_MINUTES", 5),
		DefaultDebounceMinutes: ParseInt("DEFAULT_DEBOUNCE_MINUTES", 2),
		SessionTTLDays:         ParseInt("SESSION_TTL_DAYS", 30),
		TokenRefreshBuffer:     time.Duration(ParseInt("TOKEN_REFRESH_BUFFER_MINUTES", 5)) * time.Minute,
		SweepInterval:          ParseDuration("SWEEP_INTERVAL", time.Minute),
		TokenRefreshInterval:   ParseDuration("TOKEN_REFRESH_INTERVAL", 30*time.Minute),
		SecretCacheTTL:         ParseDuration("SECRET_CACHE_TTL", 5*time.Minute),
		SecretCacheSize:        ParseInt("SECRET_CACHE_SIZE", 1024),

		CallTimeout:  ParseDuration("CALL_TIMEOUT", 10*time.Second),
		EventTimeout: ParseDuration("EVENT_TIMEOUT", 15*time.Second),

		LogLevel: ParseString("LOG_LEVEL", "info"),
	}
}

// Validate checks that the configuration is complete enough to start.
// Configuration errors are fatal at startup.
func (c *Config) Validate() error {
	var errs []error
	if c.DBPath == "" {
		errs = append(errs, errors.New("MOTIONPLAY_DB_PATH must not be empty"))
	}
	if c.StreamingClientID == "" {
		errs = append(errs, errors.New("STREAMING_CLIENT_ID is required"))
	}
	if c.StreamingClientSecret == "" {
		errs = append(errs, errors.New("STREAMING_CLIENT_SECRET is required"))
	}
	if c.DefaultTimeoutMinutes < 1 || c.DefaultTimeoutMinutes > 120 {
		errs = append(errs, fmt.Errorf("DEFAULT_TIMEOUT_MINUTES %d out of range [1,120]", c.DefaultTimeoutMinutes))
	}
	if c.DefaultDebounceMinutes < 1 || c.DefaultDebounceMinutes > 60 {
		errs = append(errs, fmt.Errorf("DEFAULT_DEBOUNCE_MINUTES %d out of range [1,60]", c.DefaultDebounceMinutes))
	}
	if c.SessionTTLDays < 1 {
		errs = append(errs, fmt.Errorf("SESSION_TTL_DAYS %d must be >= 1", c.SessionTTLDays))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL must be > 0"))
	}
	if c.TokenRefreshInterval <= 0 {
		errs = append(errs, errors.New("TOKEN_REFRESH_INTERVAL must be > 0"))
	}
	return errors.Join(errs...)
}

// parseTokenMap parses "token1=user1,token2=user2" into a lookup map.
func parseTokenMap(raw string) map[string]string {
	tokens := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		tok, user, found := strings.Cut(pair, "=")
		if !found || tok == "" || user == "" {
			continue
		}
		tokens[tok] = user
	}
	return tokens
}
