package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the process configuration, read once at startup.
type Config struct {
	HTTPAddr      string
	GRPCAddr      string
	PostgresDSN   string
	AuthSecret    string
	TokenTTL      time.Duration
	ICTEmail      string
	SystemEmail   string
	TemplatesFile string
	OverdueAfter  time.Duration
	Maintenance   bool

	// IdPSecret verifies identity assertions minted by the front identity provider.
	IdPSecret      string
	IdPMaxAge      time.Duration
	BootstrapAdmin string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	KafkaBrokers     []string
	KafkaNotifyTopic string

	RatePerSec     float64
	RateBurst      int
	AllowedOrigins []string
	TrustedProxies []string
	ServiceName    string
}

// Load reads an optional .env file and then the environment. Variables already
// set in the environment win over the file.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}
	var p parser
	cfg := Config{
		HTTPAddr:         p.str("SYSACCESS_HTTP_ADDR", ":8080"),
		GRPCAddr:         p.str("SYSACCESS_GRPC_ADDR", ":9090"),
		PostgresDSN:      p.str("SYSACCESS_PG_DSN", ""),
		AuthSecret:       p.str("SYSACCESS_AUTH_SECRET", ""),
		TokenTTL:         p.duration("SYSACCESS_TOKEN_TTL", 15*time.Minute),
		IdPSecret:        p.str("SYSACCESS_IDP_SECRET", ""),
		IdPMaxAge:        p.duration("SYSACCESS_IDP_MAX_AGE", 2*time.Minute),
		BootstrapAdmin:   p.str("SYSACCESS_BOOTSTRAP_ADMIN", "admin"),
		ICTEmail:         p.str("SYSACCESS_ICT_EMAIL", ""),
		SystemEmail:      p.str("SYSACCESS_SYSTEM_EMAIL", "no-reply@sysaccess.local"),
		TemplatesFile:    p.str("SYSACCESS_TEMPLATES_FILE", ""),
		OverdueAfter:     p.duration("SYSACCESS_OVERDUE_AFTER", 72*time.Hour),
		Maintenance:      p.boolean("SYSACCESS_MAINTENANCE", false),
		RedisAddr:        p.str("REDIS_ADDR", ""),
		RedisPassword:    p.str("REDIS_PASSWORD", ""),
		RedisDB:          p.integer("REDIS_DB", 0),
		KafkaBrokers:     p.list("KAFKA_BROKERS"),
		KafkaNotifyTopic: p.str("KAFKA_NOTIFY_TOPIC", "sysaccess.notifications"),
		RatePerSec:       p.float("SYSACCESS_RATE_PER_SEC", 20),
		RateBurst:        p.integer("SYSACCESS_RATE_BURST", 40),
		AllowedOrigins:   p.list("SYSACCESS_ALLOWED_ORIGINS"),
		TrustedProxies:   p.list("SYSACCESS_TRUSTED_PROXIES"),
		ServiceName:      p.str("OTEL_SERVICE_NAME", "sysaccess-api"),
	}
	if p.err != nil {
		return Config{}, p.err
	}
	return cfg, nil
}

// Validate checks what the API server needs beyond Load defaults.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.AuthSecret) == "" {
		errs = append(errs, errors.New("SYSACCESS_AUTH_SECRET is required"))
	}
	switch idp := strings.TrimSpace(c.IdPSecret); {
	case idp == "":
		errs = append(errs, errors.New("SYSACCESS_IDP_SECRET is required"))
	case idp == strings.TrimSpace(c.AuthSecret):
		errs = append(errs, errors.New("SYSACCESS_IDP_SECRET must differ from SYSACCESS_AUTH_SECRET"))
	}
	if c.IdPMaxAge <= 0 || c.IdPMaxAge > 10*time.Minute {
		errs = append(errs, errors.New("SYSACCESS_IDP_MAX_AGE must be between 0 and 10m"))
	}
	for _, p := range c.TrustedProxies {
		if _, err := ParseProxy(p); err != nil {
			errs = append(errs, fmt.Errorf("SYSACCESS_TRUSTED_PROXIES: %w", err))
		}
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("SYSACCESS_TOKEN_TTL must be positive"))
	}
	if c.OverdueAfter <= 0 {
		errs = append(errs, errors.New("SYSACCESS_OVERDUE_AFTER must be positive"))
	}
	if c.RatePerSec < 0 || c.RateBurst < 0 {
		errs = append(errs, errors.New("rate limits cannot be negative"))
	}
	return errors.Join(errs...)
}

// parser keeps the first conversion error so Load can report it once.
type parser struct {
	err error
}

func (p *parser) lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (p *parser) fail(key, raw string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("%s=%q: %w", key, raw, err)
	}
}

func (p *parser) str(key, def string) string {
	if v, ok := p.lookup(key); ok {
		return v
	}
	return def
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v, ok := p.lookup(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return d
}

func (p *parser) boolean(key string, def bool) bool {
	v, ok := p.lookup(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return b
}

func (p *parser) integer(key string, def int) int {
	v, ok := p.lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return n
}

func (p *parser) float(key string, def float64) float64 {
	v, ok := p.lookup(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return f
}

func (p *parser) list(key string) []string {
	v, ok := p.lookup(key)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ParseProxy accepts a single address or a CIDR block.
func ParseProxy(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, err
		}
		return p.Masked(), nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// Proxies returns the parsed trusted proxy ranges, skipping invalid entries Validate reports.
func (c Config) Proxies() []netip.Prefix {
	out := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, s := range c.TrustedProxies {
		if p, err := ParseProxy(s); err == nil {
			out = append(out, p)
		}
	}
	return out
}
