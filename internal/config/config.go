package config

import (
	"encoding/base64"
	"fmt"
	"net"
	"strings"
	"time"

	burnt "github.com/BurntSushi/toml"
	"github.com/pelletier/go-toml/v2"
)

const (
	DefaultBind           = ":25565"
	DefaultBackend        = "127.0.0.1:25566"
	DefaultAdminAddr      = "127.0.0.1:9465"
	DefaultMaxFrameBytes  = 2097151
	DefaultDialTimeout    = 5 * time.Second
	DefaultDialAttempts   = 3
	DefaultRequestRate    = 5.0
	DefaultRequestBurst   = 10
	DefaultHandlerTimeout = 2 * time.Second
)

// Rule actions.
const (
	ActionForward = "forward"
	ActionHandled = "handled"
	ActionRespond = "respond"
	ActionRewrite = "rewrite"
)

// Config is the runtime configuration of one relay process.
type Config struct {
	Bind          string
	Backend       string
	AdminAddr     string
	CorsOrigins   []string
	MaxFrameBytes int
	DialTimeout   time.Duration
	DialAttempts  int
	Cookie        CookieConfig
}

type CookieConfig struct {
	// RequestRate and RequestBurst limit proxy-initiated cookie requests per
	// session.
	RequestRate    float64
	RequestBurst   int
	HandlerTimeout time.Duration
	Rules          []RuleConfig
}

// RuleConfig is one [[cookie.rules]] entry. Key is an exact key or
// "namespace:*". Data is base64 and only read by respond rules.
type RuleConfig struct {
	Key      string `toml:"key"`
	Action   string `toml:"action"`
	To       string `toml:"to,omitempty"`
	Data     string `toml:"data,omitempty"`
	NoData   bool   `toml:"no_data,omitempty"`
	Priority int    `toml:"priority"`
}

func Default() Config {
	return Config{
		Bind:          DefaultBind,
		Backend:       DefaultBackend,
		AdminAddr:     DefaultAdminAddr,
		CorsOrigins:   []string{},
		MaxFrameBytes: DefaultMaxFrameBytes,
		DialTimeout:   DefaultDialTimeout,
		DialAttempts:  DefaultDialAttempts,
		Cookie: CookieConfig{
			RequestRate:    DefaultRequestRate,
			RequestBurst:   DefaultRequestBurst,
			HandlerTimeout: DefaultHandlerTimeout,
			Rules:          []RuleConfig{},
		},
	}
}

// fileConfig is the on-disk shape. Durations stay strings so the file reads
// "5s" rather than nanoseconds.
type fileConfig struct {
	Bind          string     `toml:"bind"`
	Backend       string     `toml:"backend"`
	AdminAddr     string     `toml:"admin_addr"`
	CorsOrigins   []string   `toml:"cors_origins"`
	MaxFrameBytes int        `toml:"max_frame_bytes"`
	DialTimeout   string     `toml:"dial_timeout"`
	DialAttempts  int        `toml:"dial_attempts"`
	Cookie        fileCookie `toml:"cookie"`
}

type fileCookie struct {
	RequestRate    float64      `toml:"request_rate"`
	RequestBurst   int          `toml:"request_burst"`
	HandlerTimeout string       `toml:"handler_timeout"`
	Rules          []RuleConfig `toml:"rules"`
}

// Load reads path on top of Default. Keys missing from the file keep their
// defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := burnt.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("config parse failed (%s): unknown key %q", path, undecoded[0].String())
	}

	if meta.IsDefined("bind") {
		cfg.Bind = strings.TrimSpace(raw.Bind)
	}
	if meta.IsDefined("backend") {
		cfg.Backend = strings.TrimSpace(raw.Backend)
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeOrigins(raw.CorsOrigins)
	}
	if meta.IsDefined("max_frame_bytes") {
		cfg.MaxFrameBytes = raw.MaxFrameBytes
	}
	if meta.IsDefined("dial_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.DialTimeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse dial_timeout: %w", err)
		}
		cfg.DialTimeout = d
	}
	if meta.IsDefined("dial_attempts") {
		cfg.DialAttempts = raw.DialAttempts
	}
	if meta.IsDefined("cookie", "request_rate") {
		cfg.Cookie.RequestRate = raw.Cookie.RequestRate
	}
	if meta.IsDefined("cookie", "request_burst") {
		cfg.Cookie.RequestBurst = raw.Cookie.RequestBurst
	}
	if meta.IsDefined("cookie", "handler_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Cookie.HandlerTimeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse cookie.handler_timeout: %w", err)
		}
		cfg.Cookie.HandlerTimeout = d
	}
	if meta.IsDefined("cookie", "rules") {
		cfg.Cookie.Rules = raw.Cookie.Rules
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	if err := validateAddr("bind", cfg.Bind); err != nil {
		return err
	}
	if err := validateAddr("backend", cfg.Backend); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.AdminAddr) != "" {
		if err := validateAddr("admin_addr", cfg.AdminAddr); err != nil {
			return err
		}
	}
	if cfg.MaxFrameBytes <= 0 || cfg.MaxFrameBytes > DefaultMaxFrameBytes {
		return fmt.Errorf("max_frame_bytes must be in (0, %d]: %d", DefaultMaxFrameBytes, cfg.MaxFrameBytes)
	}
	if cfg.DialTimeout <= 0 {
		return fmt.Errorf("dial_timeout must be positive")
	}
	if cfg.DialAttempts < 1 {
		return fmt.Errorf("dial_attempts must be at least 1: %d", cfg.DialAttempts)
	}
	if cfg.Cookie.RequestRate < 0 {
		return fmt.Errorf("cookie.request_rate must not be negative")
	}
	if cfg.Cookie.RequestBurst < 0 {
		return fmt.Errorf("cookie.request_burst must not be negative")
	}
	if cfg.Cookie.HandlerTimeout < 0 {
		return fmt.Errorf("cookie.handler_timeout must not be negative")
	}
	for i, rule := range cfg.Cookie.Rules {
		if err := ValidateRule(rule); err != nil {
			return fmt.Errorf("cookie.rules[%d] invalid: %w", i, err)
		}
	}
	return nil
}

func ValidateRule(rule RuleConfig) error {
	if strings.TrimSpace(rule.Key) == "" {
		return fmt.Errorf("key is required")
	}
	switch strings.ToLower(strings.TrimSpace(rule.Action)) {
	case ActionForward, ActionHandled:
	case ActionRespond:
		if rule.NoData && rule.Data != "" {
			return fmt.Errorf("respond rule sets both data and no_data")
		}
		if _, err := base64.StdEncoding.DecodeString(rule.Data); err != nil {
			return fmt.Errorf("data is not base64: %w", err)
		}
	case ActionRewrite:
		if strings.TrimSpace(rule.To) == "" {
			return fmt.Errorf("rewrite rule requires to")
		}
	default:
		return fmt.Errorf("unknown action: %q", rule.Action)
	}
	return nil
}

func validateAddr(name, addr string) error {
	if strings.TrimSpace(addr) == "" {
		return fmt.Errorf("%s is required", name)
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("%s invalid: %w", name, err)
	}
	return nil
}

// Render writes cfg back out as TOML.
func Render(cfg Config) ([]byte, error) {
	raw := fileConfig{
		Bind:          cfg.Bind,
		Backend:       cfg.Backend,
		AdminAddr:     cfg.AdminAddr,
		CorsOrigins:   cfg.CorsOrigins,
		MaxFrameBytes: cfg.MaxFrameBytes,
		DialTimeout:   cfg.DialTimeout.String(),
		DialAttempts:  cfg.DialAttempts,
		Cookie: fileCookie{
			RequestRate:    cfg.Cookie.RequestRate,
			RequestBurst:   cfg.Cookie.RequestBurst,
			HandlerTimeout: cfg.Cookie.HandlerTimeout.String(),
			Rules:          cfg.Cookie.Rules,
		},
	}
	out, err := toml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("config render failed: %w", err)
	}
	return out, nil
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimSpace(origin)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
