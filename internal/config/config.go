package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Well-known service names.
const (
	RagFlow     = "ragflow"
	DeepWiki    = "deepwiki"
	Dolphin     = "dolphin"
	LangExtract = "langextract"
)

// ErrInvalidService is returned by ServiceConfig.Validate.
var ErrInvalidService = errors.New("invalid service config")

// ServiceConfig describes one remote service. It is a value: once Load returns,
// nothing mutates it.
type ServiceConfig struct {
	Name                string        // ex: "ragflow"
	Enabled             bool          // disabled services are never registered
	Host                string        // ex: "localhost"
	Port                int           // ex: 8010
	URL                 string        // optional explicit base URL, wins over Host/Port
	Timeout             time.Duration // per-attempt timeout (ex: 30s)
	RetryCount          int           // attempts per call (>= 1)
	BaseDelay           time.Duration // first backoff wait, doubled per attempt (ex: 1s)
	HealthCheckInterval time.Duration // health monitor period (ex: 60s)
}

// BaseURL returns the root every endpoint is resolved against.
func (s ServiceConfig) BaseURL() string {
	if s.URL != "" {
		return strings.TrimRight(s.URL, "/")
	}
	return fmt.Sprintf("http://%s:%d", s.Host, s.Port)
}

// Validate reports configuration mistakes that would break the service at runtime.
func (s ServiceConfig) Validate() error {
	switch {
	case s.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidService)
	case s.URL == "" && s.Host == "":
		return fmt.Errorf("%w: %s: host is required", ErrInvalidService, s.Name)
	case s.URL == "" && (s.Port < 1 || s.Port > 65535):
		return fmt.Errorf("%w: %s: port %d out of range", ErrInvalidService, s.Name, s.Port)
	case s.RetryCount < 1:
		return fmt.Errorf("%w: %s: retry count must be >= 1, got %d", ErrInvalidService, s.Name, s.RetryCount)
	case s.Timeout <= 0:
		return fmt.Errorf("%w: %s: timeout must be > 0", ErrInvalidService, s.Name)
	case s.HealthCheckInterval <= 0:
		return fmt.Errorf("%w: %s: health check interval must be > 0", ErrInvalidService, s.Name)
	case s.BaseDelay < 0:
		return fmt.Errorf("%w: %s: base delay must be >= 0", ErrInvalidService, s.Name)
	}
	return nil
}

type Config struct {
	ListenPort      string        // ex: ":8080"
	ShutdownTimeout time.Duration // ex: 10s
	RequestTimeout  time.Duration // per-request timeout of the HTTP API (ex: 2m)

	LogLevel  string // "debug" | "info" | "warn" | "error"
	PrettyLog bool   // true => zap dev (color), false => zap prod (JSON)

	ServicesFile string                   // optional services.yml path
	Services     map[string]ServiceConfig // keyed by service name

	// Redis (optional, empty address disables the health snapshot store)
	RedisAddr           string
	RedisUser           string
	RedisPassword       string
	RedisDB             int
	RedisDT             time.Duration // dial timeout
	RedisRT             time.Duration // read timeout
	RedisWT             time.Duration // write timeout
	RedisPoolSize       int
	RedisConnectTimeout time.Duration // total time to retry connecting
	RedisRetryInterval  time.Duration // initial wait between retries, grows exponentially
	RedisMaxWait        time.Duration // cap between retries
	RedisPingTimeout    time.Duration // timeout for each ping attempt
	RedisHealthTTL      time.Duration // lifetime of a stored health snapshot
	RedisWarnThreshold  int           // connection attempts logged as warnings before errors
	SnapshotGCInterval  time.Duration // how often stale snapshots are collected

	ClientPoolSize      int           // workers used by the client manager health fan-out
	ClientProbeInterval time.Duration // period of the background client probe
	AllowedCIDRS        []string      // optional, restrict /metrics and admin routes
	TrustProxy          bool          // true => trust X-Forwarded-For headers

	RateBurst     int // requests a single IP may burst on workflow routes
	RateRefillMin int // tokens refilled per IP per minute
}

// Load builds the configuration from defaults, the optional services file and
// the environment, in that order of precedence.
func Load() (*Config, error) {
	cfg := &Config{
		ListenPort:      getenv("NOTEPARSER_LISTEN_PORT", ":8080"),
		ShutdownTimeout: mustDuration("NOTEPARSER_SHUTDOWN_TIMEOUT", 10*time.Second),
		RequestTimeout:  mustDuration("NOTEPARSER_REQUEST_TIMEOUT", 2*time.Minute),

		LogLevel:  getenv("NOTEPARSER_LOG_LEVEL", "info"),
		PrettyLog: mustBool("NOTEPARSER_PRETTY_LOG", true),

		ServicesFile: getenv("NOTEPARSER_SERVICES_FILE", ""),

		RedisAddr:           getenv("NOTEPARSER_REDIS_ADDR", ""),
		RedisUser:           getenv("NOTEPARSER_REDIS_USERNAME", ""),
		RedisPassword:       getenv("NOTEPARSER_REDIS_PASSWORD", ""),
		RedisDB:             getenvInt("NOTEPARSER_REDIS_DB", 0),
		RedisDT:             mustDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		RedisRT:             mustDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		RedisWT:             mustDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		RedisPoolSize:       getenvInt("REDIS_POOL_SIZE", 10),
		RedisConnectTimeout: mustDuration("REDIS_CONNECT_TIMEOUT", 30*time.Second),
		RedisRetryInterval:  mustDuration("REDIS_RETRY_INTERVAL", 2*time.Second),
		RedisMaxWait:        mustDuration("REDIS_MAX_WAIT", 10*time.Second),
		RedisPingTimeout:    mustDuration("REDIS_PING_TIMEOUT", 5*time.Second),
		RedisHealthTTL:      mustDuration("REDIS_HEALTH_TTL", 24*time.Hour),
		RedisWarnThreshold:  getenvInt("REDIS_WARN_THRESHOLD", 3),
		SnapshotGCInterval:  mustDuration("NOTEPARSER_SNAPSHOT_GC_INTERVAL", time.Hour),

		ClientPoolSize:      getenvInt("NOTEPARSER_CLIENT_POOL_SIZE", 4),
		ClientProbeInterval: mustDuration("NOTEPARSER_CLIENT_PROBE_INTERVAL", time.Minute),
		AllowedCIDRS:        parseAllowedIPs(getenv("NOTEPARSER_ALLOWED_CIDRS", "")),
		TrustProxy:          mustBool("NOTEPARSER_TRUST_PROXY", false),

		RateBurst:     getenvInt("NOTEPARSER_RATE_BURST", 10),
		RateRefillMin: getenvInt("NOTEPARSER_RATE_PER_MIN", 30),
	}

	services := DefaultServices()
	if cfg.ServicesFile != "" {
		fromFile, err := LoadServicesFile(cfg.ServicesFile)
		if err != nil {
			return nil, err
		}
		services = mergeServices(services, fromFile)
	}
	for name, svc := range services {
		services[name] = applyEnv(svc)
	}
	for _, svc := range services {
		if !svc.Enabled {
			continue
		}
		if err := svc.Validate(); err != nil {
			return nil, err
		}
	}
	cfg.Services = services

	if cfg.LogLevel == "debug" {
		cfgCopy := *cfg
		if cfgCopy.RedisPassword != "" {
			cfgCopy.RedisPassword = "***REDACTED***"
		}
		log.Printf("[DEBUG] cfg: %+v\n", cfgCopy)
	}

	return cfg, nil
}

// Service returns the named service configuration.
func (c *Config) Service(name string) (ServiceConfig, bool) {
	svc, ok := c.Services[name]
	return svc, ok
}

// EnabledServices returns enabled services sorted by name.
func (c *Config) EnabledServices() []ServiceConfig {
	out := make([]ServiceConfig, 0, len(c.Services))
	for _, svc := range c.Services {
		if svc.Enabled {
			out = append(out, svc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DefaultServices returns the built-in service table.
func DefaultServices() map[string]ServiceConfig {
	def := func(name string, port int, enabled bool) ServiceConfig {
		return ServiceConfig{
			Name:                name,
			Enabled:             enabled,
			Host:                "localhost",
			Port:                port,
			Timeout:             30 * time.Second,
			RetryCount:          3,
			BaseDelay:           time.Second,
			HealthCheckInterval: 60 * time.Second,
		}
	}
	return map[string]ServiceConfig{
		RagFlow:     def(RagFlow, 8010, true),
		DeepWiki:    def(DeepWiki, 8011, true),
		Dolphin:     def(Dolphin, 8012, false),
		LangExtract: def(LangExtract, 8013, false),
	}
}

// servicesFile mirrors config/services.yml.
type servicesFile struct {
	Services map[string]serviceEntry `yaml:"services"`
}

type serviceEntry struct {
	Enabled             *bool  `yaml:"enabled"`
	Host                string `yaml:"host"`
	Port                int    `yaml:"port"`
	URL                 string `yaml:"url"`
	Timeout             string `yaml:"timeout"`
	RetryCount          int    `yaml:"retry_count"`
	BaseDelay           string `yaml:"base_delay"`
	HealthCheckInterval string `yaml:"health_check_interval"`
}

// LoadServicesFile reads a services.yml file. Fields left out keep their zero
// value and are filled from defaults by the caller.
func LoadServicesFile(path string) (map[string]ServiceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read services file: %w", err)
	}
	return parseServices(data)
}

func parseServices(data []byte) (map[string]ServiceConfig, error) {
	var file servicesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse services yaml: %w", err)
	}

	out := make(map[string]ServiceConfig, len(file.Services))
	for name, e := range file.Services {
		svc := ServiceConfig{
			Name:       name,
			Enabled:    e.Enabled == nil || *e.Enabled,
			Host:       e.Host,
			Port:       e.Port,
			URL:        e.URL,
			RetryCount: e.RetryCount,
		}
		var err error
		if svc.Timeout, err = parseOptionalDuration(e.Timeout); err != nil {
			return nil, fmt.Errorf("service %s: timeout: %w", name, err)
		}
		if svc.BaseDelay, err = parseOptionalDuration(e.BaseDelay); err != nil {
			return nil, fmt.Errorf("service %s: base_delay: %w", name, err)
		}
		if svc.HealthCheckInterval, err = parseOptionalDuration(e.HealthCheckInterval); err != nil {
			return nil, fmt.Errorf("service %s: health_check_interval: %w", name, err)
		}
		out[name] = svc
	}
	return out, nil
}

// mergeServices overlays non-zero fields of override onto base. Services that
// only exist in override get the default timings.
func mergeServices(base, override map[string]ServiceConfig) map[string]ServiceConfig {
	out := make(map[string]ServiceConfig, len(base)+len(override))
	for name, svc := range base {
		out[name] = svc
	}
	for name, o := range override {
		svc, ok := out[name]
		if !ok {
			svc = ServiceConfig{
				Name:                name,
				Host:                "localhost",
				Timeout:             30 * time.Second,
				RetryCount:          3,
				BaseDelay:           time.Second,
				HealthCheckInterval: 60 * time.Second,
			}
		}
		svc.Enabled = o.Enabled
		if o.Host != "" {
			svc.Host = o.Host
		}
		if o.Port != 0 {
			svc.Port = o.Port
		}
		if o.URL != "" {
			svc.URL = o.URL
		}
		if o.Timeout != 0 {
			svc.Timeout = o.Timeout
		}
		if o.RetryCount != 0 {
			svc.RetryCount = o.RetryCount
		}
		if o.BaseDelay != 0 {
			svc.BaseDelay = o.BaseDelay
		}
		if o.HealthCheckInterval != 0 {
			svc.HealthCheckInterval = o.HealthCheckInterval
		}
		out[name] = svc
	}
	return out
}

// applyEnv applies {SERVICE}_HOST, {SERVICE}_PORT, {SERVICE}_URL and
// {SERVICE}_ENABLED overrides.
func applyEnv(svc ServiceConfig) ServiceConfig {
	prefix := strings.ToUpper(svc.Name)
	svc.Host = getenv(prefix+"_HOST", svc.Host)
	svc.Port = getenvInt(prefix+"_PORT", svc.Port)
	svc.URL = getenv(prefix+"_URL", svc.URL)
	svc.Enabled = mustBool(prefix+"_ENABLED", svc.Enabled)
	return svc
}

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func mustBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// parseOptionalDuration accepts Go durations ("30s") and bare seconds ("30").
func parseOptionalDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(s)
}

func parseAllowedIPs(allowed string) []string {
	if allowed == "" {
		return nil
	}
	ips := make([]string, 0, 4)
	for _, ip := range splitAndTrim(allowed) {
		if ip != "" {
			ips = append(ips, ip)
		}
	}
	return ips
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		trimmed := strings.TrimSpace(part)
		// Remove surrounding quotes if present
		trimmed = strings.Trim(trimmed, `"'`)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
