package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dyluth/gateway/internal/logging"
	"gopkg.in/yaml.v3"
)

// Hash algorithms accepted for the upload store.
const (
	HashSHA256 = "sha256"
	HashBLAKE3 = "blake3"
)

// Config is the complete gateway configuration. It is built once at process
// start and handed to each component's constructor.
type Config struct {
	Redis   RedisConfig    `yaml:"redis"`
	Kafka   KafkaConfig    `yaml:"kafka"`
	HTTP    HTTPConfig     `yaml:"http"`
	Request RequestConfig  `yaml:"request"`
	Logging logging.Config `yaml:"logging"`
}

// RedisConfig locates the Redis server backing the correlation store.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// KafkaConfig holds Kafka-related configuration
type KafkaConfig struct {
	Brokers       []string `yaml:"brokers"`
	ConsumerGroup string   `yaml:"consumer_group"`
	TopicPrefix   string   `yaml:"topic_prefix"` // Prepended to a message name to form its topic
}

// HTTPConfig controls the request-side HTTP surface.
type HTTPConfig struct {
	Addr   string `yaml:"addr"`
	Prefix string `yaml:"prefix"` // Route prefix, e.g. "/api"
}

// RequestConfig mirrors the request/response options of the gateway.
type RequestConfig struct {
	Message  MessageConfig  `yaml:"message"`
	Files    FilesConfig    `yaml:"files"`
	Cache    CacheConfig    `yaml:"cache"` // Request marker
	Response ResponseConfig `yaml:"response"`
}

// MessageConfig names a message kind.
type MessageConfig struct {
	Name string `yaml:"name"`
}

// FilesConfig controls the content-addressed upload store.
type FilesConfig struct {
	Storage       string `yaml:"storage"` // Empty = process-local temp directory
	HashAlgorithm string `yaml:"hash_algorithm"`
}

// CacheConfig is a Redis key prefix with an expiry.
type CacheConfig struct {
	Prefix    string `yaml:"prefix"`
	ExpireSec int    `yaml:"expire_sec"`
}

// ResponseConfig controls waiting for replies.
type ResponseConfig struct {
	Enable           *bool         `yaml:"enable,omitempty"` // nil = enabled
	TimeoutSec       int           `yaml:"timeout_sec"`
	TimeoutMaxSec    int           `yaml:"timeout_max_sec"`
	TimeoutParamName string        `yaml:"timeout_param_name"`
	Message          MessageConfig `yaml:"message"`
	Cache            CacheConfig   `yaml:"cache"` // Response record
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	enabled := true
	return Config{
		Redis: RedisConfig{URL: "redis://localhost:6379/0"},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "gateway-response",
		},
		HTTP: HTTPConfig{Addr: ":8080", Prefix: "/api"},
		Request: RequestConfig{
			Message: MessageConfig{Name: "Gateway.Request"},
			Files:   FilesConfig{HashAlgorithm: HashSHA256},
			Cache:   CacheConfig{Prefix: "Gateway.Request-", ExpireSec: 600},
			Response: ResponseConfig{
				Enable:           &enabled,
				TimeoutSec:       5,
				TimeoutMaxSec:    30,
				TimeoutParamName: "sync",
				Message:          MessageConfig{Name: "Gateway.Response"},
				Cache:            CacheConfig{Prefix: "Gateway.Response-", ExpireSec: 600},
			},
		},
		Logging: logging.DefaultConfig(),
	}
}

// ResponseEnabled reports whether submissions wait for a reply by default.
func (c Config) ResponseEnabled() bool {
	return c.Request.Response.Enable == nil || *c.Request.Response.Enable
}

// RequestTTL is the lifetime of a request marker.
func (c Config) RequestTTL() time.Duration {
	return time.Duration(c.Request.Cache.ExpireSec) * time.Second
}

// ResponseTTL is the lifetime of a response record.
func (c Config) ResponseTTL() time.Duration {
	return time.Duration(c.Request.Response.Cache.ExpireSec) * time.Second
}

// StorageDirectory returns the upload directory, falling back to a
// process-local path under the system temp directory.
func (c Config) StorageDirectory() string {
	if c.Request.Files.Storage != "" {
		return c.Request.Files.Storage
	}
	return filepath.Join(os.TempDir(), "gateway", "requests")
}

// Validate performs strict validation on the configuration
func (c *Config) Validate() error {
	if c.Redis.URL == "" {
		return fmt.Errorf("redis.url is required")
	}

	req := c.Request
	if req.Message.Name == "" {
		return fmt.Errorf("request.message.name is required")
	}
	if req.Response.Message.Name == "" {
		return fmt.Errorf("request.response.message.name is required")
	}
	if req.Message.Name == req.Response.Message.Name {
		return fmt.Errorf("request and response message names must differ (both '%s')", req.Message.Name)
	}

	if req.Cache.Prefix == "" || req.Response.Cache.Prefix == "" {
		return fmt.Errorf("request.cache.prefix and request.response.cache.prefix are required")
	}
	if req.Cache.Prefix == req.Response.Cache.Prefix {
		return fmt.Errorf("request and response cache prefixes must differ (both '%s')", req.Cache.Prefix)
	}
	if req.Cache.ExpireSec <= 0 {
		return fmt.Errorf("request.cache.expire_sec must be > 0, got %d", req.Cache.ExpireSec)
	}
	if req.Response.Cache.ExpireSec <= 0 {
		return fmt.Errorf("request.response.cache.expire_sec must be > 0, got %d", req.Response.Cache.ExpireSec)
	}

	if req.Response.TimeoutSec < 0 {
		return fmt.Errorf("request.response.timeout_sec must be >= 0, got %d", req.Response.TimeoutSec)
	}
	if req.Response.TimeoutMaxSec < req.Response.TimeoutSec {
		return fmt.Errorf("request.response.timeout_max_sec (%d) must be >= timeout_sec (%d)",
			req.Response.TimeoutMaxSec, req.Response.TimeoutSec)
	}
	if req.Response.TimeoutParamName == "" {
		return fmt.Errorf("request.response.timeout_param_name is required")
	}

	switch req.Files.HashAlgorithm {
	case HashSHA256, HashBLAKE3:
	default:
		return fmt.Errorf("invalid request.files.hash_algorithm: %s (must be '%s' or '%s')",
			req.Files.HashAlgorithm, HashSHA256, HashBLAKE3)
	}

	if c.HTTP.Prefix != "" && !strings.HasPrefix(c.HTTP.Prefix, "/") {
		return fmt.Errorf("http.prefix must start with '/', got '%s'", c.HTTP.Prefix)
	}

	return nil
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}

	cfg.HTTP.Prefix = strings.TrimSuffix(cfg.HTTP.Prefix, "/")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyEnv overrides cfg from the environment. Variable names match the
// established REQUEST_* deployment variables.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) error {
		v, ok := lookup(name)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %q is not an integer", name, v)
		}
		*dst = n
		return nil
	}

	str("REDIS_URL", &cfg.Redis.URL)
	if v, ok := lookup("KAFKA_BROKERS"); ok && v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}
	str("KAFKA_CONSUMER_GROUP", &cfg.Kafka.ConsumerGroup)
	str("KAFKA_TOPIC_PREFIX", &cfg.Kafka.TopicPrefix)
	str("HTTP_ADDR", &cfg.HTTP.Addr)

	req := &cfg.Request
	str("REQUEST_FILES_STORAGE_DIRECTORY", &req.Files.Storage)
	str("REQUEST_FILES_HASH_ALGORITHM", &req.Files.HashAlgorithm)
	str("REQUEST_MESSAGE_NAME", &req.Message.Name)
	str("REQUEST_CACHE_PREFIX", &req.Cache.Prefix)
	str("REQUEST_RESPONSE_MESSAGE_NAME", &req.Response.Message.Name)
	str("REQUEST_RESPONSE_TIMEOUT_PARAM_NAME", &req.Response.TimeoutParamName)
	str("REQUEST_RESPONSE_CACHE_PREFIX", &req.Response.Cache.Prefix)

	for name, dst := range map[string]*int{
		"REQUEST_CACHE_EXPIRE_SEC":          &req.Cache.ExpireSec,
		"REQUEST_RESPONSE_TIMEOUT_SEC":      &req.Response.TimeoutSec,
		"REQUEST_RESPONSE_TIMEOUT_MAX_SEC":  &req.Response.TimeoutMaxSec,
		"REQUEST_RESPONSE_CACHE_EXPIRE_SEC": &req.Response.Cache.ExpireSec,
	} {
		if err := num(name, dst); err != nil {
			return err
		}
	}

	if v, ok := lookup("REQUEST_RESPONSE_ENABLE"); ok && v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid REQUEST_RESPONSE_ENABLE: %q is not a boolean", v)
		}
		req.Response.Enable = &enabled
	}

	str("LOG_LEVEL", &cfg.Logging.Level)
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
