package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/haukened/rr-sinkhole/internal/dns/domain"
)

// AppConfig is the complete runtime configuration.
type AppConfig struct {
	// Env is the runtime environment, either "dev" or "prod".
	Env        string           `koanf:"env" validate:"required,oneof=dev prod"`
	Log        LoggingConfig    `koanf:"log" validate:"required"`
	Server     ServerConfig     `koanf:"server" validate:"required"`
	Upstream   UpstreamConfig   `koanf:"upstream" validate:"required"`
	Blocklist  BlocklistConfig  `koanf:"blocklist" validate:"required"`
	Sinkhole   SinkholeConfig   `koanf:"sinkhole" validate:"required"`
	Allowlist  AllowlistConfig  `koanf:"allowlist"`
	BlockedLog BlockedLogConfig `koanf:"blocked_log"`
	Admin      AdminConfig      `koanf:"admin"`
}

type LoggingConfig struct {
	// Level controls log verbosity: "debug", "info", "warn", or "error".
	Level string `koanf:"level" validate:"required,oneof=debug info warn error"`
}

type ServerConfig struct {
	// Listen is the UDP address the sinkhole binds, e.g. ":53" or "127.0.0.1:5353".
	Listen string `koanf:"listen" validate:"required,listen_addr"`
}

type UpstreamConfig struct {
	// Server is the single upstream resolver in ip:port form.
	Server  string        `koanf:"server" validate:"required,ip_port"`
	Timeout time.Duration `koanf:"timeout" validate:"required,min=100ms,max=1m"`
}

type BlocklistConfig struct {
	// Sources are "[<format>:]<location>" strings; format is hosts, adblock or domains.
	Sources      []string      `koanf:"sources" validate:"required,min=1,dive,source"`
	Refresh      time.Duration `koanf:"refresh" validate:"required,min=1m"`
	FetchTimeout time.Duration `koanf:"fetch_timeout" validate:"required,min=1s"`
	Parallelism  int           `koanf:"parallelism" validate:"gte=1,lte=64"`
	// DB is the bbolt snapshot file; empty disables persistence.
	DB        string  `koanf:"db"`
	CacheSize int     `koanf:"cache_size" validate:"gte=0"`
	BloomFP   float64 `koanf:"bloom_fp" validate:"gt=0,lt=1"`
}

type SinkholeConfig struct {
	IPv4 string `koanf:"ipv4" validate:"required,ipv4"`
	IPv6 string `koanf:"ipv6" validate:"required,ipv6"`
	TTL  uint32 `koanf:"ttl" validate:"lte=86400"`
}

type AllowlistConfig struct {
	Path  string `koanf:"path"`
	Watch bool   `koanf:"watch"`
}

type BlockedLogConfig struct {
	// Path of the append-only blocked-domain log; empty disables it.
	Path string `koanf:"path"`
}

type AdminConfig struct {
	// Listen is the admin HTTP address; empty disables the admin surface.
	Listen string `koanf:"listen" validate:"omitempty,listen_addr"`
}

// DEFAULT_APP_CONFIG holds every default; env and file values override it.
var DEFAULT_APP_CONFIG = AppConfig{
	Env: "prod",
	Log: LoggingConfig{Level: "info"},
	Server: ServerConfig{
		Listen: ":53",
	},
	Upstream: UpstreamConfig{
		Server:  "1.1.1.1:53",
		Timeout: 2 * time.Second,
	},
	Blocklist: BlocklistConfig{
		Sources: []string{
			"hosts:https://raw.githubusercontent.com/StevenBlack/hosts/master/hosts",
			"adblock:https://easylist.to/easylist/easylist.txt",
		},
		Refresh:      6 * time.Hour,
		FetchTimeout: 30 * time.Second,
		Parallelism:  4,
		DB:           "/var/lib/rr-sinkhole/blocklist.db",
		CacheSize:    10000,
		BloomFP:      0.001,
	},
	Sinkhole: SinkholeConfig{
		IPv4: "0.0.0.0",
		IPv6: "::",
		TTL:  60,
	},
	Allowlist: AllowlistConfig{
		Path: "/etc/rr-sinkhole/allowlist.txt",
	},
	BlockedLog: BlockedLogConfig{
		Path: "/var/log/rr-sinkhole/blocked.log",
	},
}

// envKeys maps DNS_* variables onto koanf paths. Variables not listed are ignored.
var envKeys = map[string]string{
	"DNS_ENV":                     "env",
	"DNS_LOG_LEVEL":               "log.level",
	"DNS_SERVER_LISTEN":           "server.listen",
	"DNS_UPSTREAM_SERVER":         "upstream.server",
	"DNS_UPSTREAM_TIMEOUT":        "upstream.timeout",
	"DNS_BLOCKLIST_SOURCES":       "blocklist.sources",
	"DNS_BLOCKLIST_REFRESH":       "blocklist.refresh",
	"DNS_BLOCKLIST_FETCH_TIMEOUT": "blocklist.fetch_timeout",
	"DNS_BLOCKLIST_PARALLELISM":   "blocklist.parallelism",
	"DNS_BLOCKLIST_DB":            "blocklist.db",
	"DNS_BLOCKLIST_CACHE_SIZE":    "blocklist.cache_size",
	"DNS_BLOCKLIST_BLOOM_FP":      "blocklist.bloom_fp",
	"DNS_SINKHOLE_IPV4":           "sinkhole.ipv4",
	"DNS_SINKHOLE_IPV6":           "sinkhole.ipv6",
	"DNS_SINKHOLE_TTL":            "sinkhole.ttl",
	"DNS_ALLOWLIST_PATH":          "allowlist.path",
	"DNS_ALLOWLIST_WATCH":         "allowlist.watch",
	"DNS_BLOCKED_LOG_PATH":        "blocked_log.path",
	"DNS_ADMIN_LISTEN":            "admin.listen",
}

// listKeys are split on spaces and commas.
var listKeys = map[string]bool{
	"blocklist.sources": true,
}

// ConfigFileEnv names the variable that points at an optional config file.
const ConfigFileEnv = "DNS_CONFIG_FILE"

// validIPPort reports whether the field is a literal "IP:port" with a port in 1..65535.
func validIPPort(fl validator.FieldLevel) bool {
	host, port, ok := splitHostPort(fl.Field().String())
	return ok && host != "" && net.ParseIP(host) != nil && validPort(port)
}

// validListenAddr accepts "host:port" where host may be empty, an IP, or a name.
func validListenAddr(fl validator.FieldLevel) bool {
	_, port, ok := splitHostPort(fl.Field().String())
	return ok && validPort(port)
}

// validSource accepts any string domain.ParseSource accepts.
func validSource(fl validator.FieldLevel) bool {
	_, err := domain.ParseSource(fl.Field().String())
	return err == nil
}

func splitHostPort(addr string) (string, string, bool) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil || port == "" {
		return "", "", false
	}
	return host, port, true
}

func validPort(port string) bool {
	n, err := strconv.ParseUint(port, 10, 16)
	return err == nil && n > 0
}

// defaultLoader loads DEFAULT_APP_CONFIG through the structs provider.
var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DEFAULT_APP_CONFIG, "koanf"), nil)
}

// fileLoader loads an optional YAML, JSON or TOML file chosen by extension.
var fileLoader = func(k *koanf.Koanf, path string) error {
	var parser koanf.Parser
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	case ".toml":
		parser = toml.Parser()
	default:
		return fmt.Errorf("unsupported config file type %q", filepath.Ext(path))
	}
	return k.Load(file.Provider(path), parser)
}

// envLoader loads DNS_* variables listed in envKeys.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix:        "DNS_",
		TransformFunc: transformEnv,
	}), nil)
}

func transformEnv(key, value string) (string, any) {
	path, ok := envKeys[key]
	if !ok {
		return "", nil
	}
	value = strings.TrimSpace(value)
	if listKeys[path] {
		return path, strings.FieldsFunc(value, func(r rune) bool {
			return r == ' ' || r == ','
		})
	}
	return path, value
}

// registerValidation registers the custom tags used by AppConfig.
var registerValidation = func(v *validator.Validate) error {
	if err := v.RegisterValidation("ip_port", validIPPort); err != nil {
		return err
	}
	if err := v.RegisterValidation("listen_addr", validListenAddr); err != nil {
		return err
	}
	return v.RegisterValidation("source", validSource)
}

// Load builds the configuration from defaults, then the file named by
// configFile (or $DNS_CONFIG_FILE when configFile is empty), then DNS_*
// environment variables, and validates the result.
func Load(configFile string) (*AppConfig, error) {
	k := koanf.New(".")

	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}

	if configFile == "" {
		configFile = os.Getenv(ConfigFileEnv)
	}
	if configFile != "" {
		if err := fileLoader(k, configFile); err != nil {
			return nil, fmt.Errorf("error loading config file %s: %w", configFile, err)
		}
	}

	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := registerValidation(validate); err != nil {
		return nil, fmt.Errorf("error registering validation: %w", err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return &cfg, nil
}

// Sources parses the configured source strings.
func (c *AppConfig) Sources() ([]domain.Source, error) {
	return domain.ParseSources(c.Blocklist.Sources)
}
