package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Gateway struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		PingInterval    time.Duration `yaml:"ping_interval"`
		PongTimeout     time.Duration `yaml:"pong_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"gateway"`

	Voice struct {
		// RelayAddress is the address clients are told to send media to.
		RelayAddress string `yaml:"relay_address"`
		RelayPort    int    `yaml:"relay_port"`
		// HeartbeatInterval is advertised raw in CONNECTION_INFO. The
		// historical default of 1 is kept for client compatibility.
		HeartbeatInterval int           `yaml:"heartbeat_interval"`
		EncryptionModes   []string      `yaml:"encryption_modes"`
		VideoResumeDelay  time.Duration `yaml:"video_resume_delay"`
	} `yaml:"voice"`

	WebRTC struct {
		ICEServers []struct {
			URLs       []string `yaml:"urls"`
			Username   string   `yaml:"username"`
			Credential string   `yaml:"credential"`
		} `yaml:"ice_servers"`
		PortMin uint16 `yaml:"port_min"`
		PortMax uint16 `yaml:"port_max"`
	} `yaml:"webrtc"`

	MemberList struct {
		ListCacheTTL time.Duration `yaml:"list_cache_ttl"`
	} `yaml:"member_list"`

	Auth struct {
		JWTSecret     string        `yaml:"jwt_secret"`
		VoiceTokenTTL time.Duration `yaml:"voice_token_ttl"`
	} `yaml:"auth"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	RateLimiting struct {
		Enabled             bool    `yaml:"enabled"`
		FramesPerSecond     float64 `yaml:"frames_per_second"`
		Burst               int     `yaml:"burst"`
		MaxMessageSizeBytes int64   `yaml:"max_message_size_bytes"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Gateway
	if c.Gateway.Address == "" {
		return fmt.Errorf("gateway.address must not be empty")
	}
	if c.Gateway.ReadTimeout <= 0 {
		return fmt.Errorf("gateway.read_timeout must be > 0")
	}
	if c.Gateway.WriteTimeout <= 0 {
		return fmt.Errorf("gateway.write_timeout must be > 0")
	}
	if c.Gateway.PingInterval <= 0 {
		return fmt.Errorf("gateway.ping_interval must be > 0")
	}
	if c.Gateway.PongTimeout <= 0 {
		return fmt.Errorf("gateway.pong_timeout must be > 0")
	}
	if c.Gateway.ShutdownTimeout <= 0 {
		return fmt.Errorf("gateway.shutdown_timeout must be > 0")
	}

	// Voice
	if c.Voice.RelayAddress == "" {
		return fmt.Errorf("voice.relay_address must not be empty")
	}
	if c.Voice.RelayPort <= 0 || c.Voice.RelayPort > 65535 {
		return fmt.Errorf("voice.relay_port must be a valid port")
	}
	if c.Voice.HeartbeatInterval <= 0 {
		return fmt.Errorf("voice.heartbeat_interval must be > 0")
	}
	if len(c.Voice.EncryptionModes) == 0 {
		return fmt.Errorf("voice.encryption_modes must not be empty")
	}
	if c.Voice.VideoResumeDelay < 0 {
		return fmt.Errorf("voice.video_resume_delay must be >= 0")
	}

	// WebRTC
	if c.WebRTC.PortMin > 0 && c.WebRTC.PortMax < c.WebRTC.PortMin {
		return fmt.Errorf("webrtc.port_max must be >= webrtc.port_min")
	}

	// Member list
	if c.MemberList.ListCacheTTL <= 0 {
		return fmt.Errorf("member_list.list_cache_ttl must be > 0")
	}

	// Auth
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty")
	}
	if c.Auth.VoiceTokenTTL <= 0 {
		return fmt.Errorf("auth.voice_token_ttl must be > 0")
	}

	// Monitoring
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort <= 0 {
		return fmt.Errorf("monitoring.prometheus_port must be > 0 when prometheus_enabled=true")
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate <= 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be in (0, 1]")
		}
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.FramesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.frames_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Burst <= 0 {
			return fmt.Errorf("rate_limiting.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.MaxMessageSizeBytes < 0 {
			return fmt.Errorf("rate_limiting.max_message_size_bytes must be >= 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Gateway.Address = ":8082"
	cfg.Gateway.ReadTimeout = 60 * time.Second
	cfg.Gateway.WriteTimeout = 10 * time.Second
	cfg.Gateway.PingInterval = 30 * time.Second
	cfg.Gateway.PongTimeout = 60 * time.Second
	cfg.Gateway.ShutdownTimeout = 30 * time.Second

	cfg.Voice.RelayAddress = "127.0.0.1"
	cfg.Voice.RelayPort = 50001
	cfg.Voice.HeartbeatInterval = 1
	cfg.Voice.EncryptionModes = []string{"xsalsa20_poly1305", "plain"}
	cfg.Voice.VideoResumeDelay = 500 * time.Millisecond

	cfg.MemberList.ListCacheTTL = 30 * time.Second

	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.VoiceTokenTTL = 5 * time.Minute

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.PrometheusPort = 9090

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "realtime-gateway"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.FramesPerSecond = 100
	cfg.RateLimiting.Burst = 200
	cfg.RateLimiting.MaxMessageSizeBytes = 64 * 1024

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("REALTIME_GATEWAY_ADDRESS"); addr != "" {
		c.Gateway.Address = addr
	}
	if addr := os.Getenv("REALTIME_RELAY_ADDRESS"); addr != "" {
		c.Voice.RelayAddress = addr
	}
	if level := os.Getenv("REALTIME_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("REALTIME_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if addr := os.Getenv("REALTIME_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
		c.Redis.Enabled = true
	}
}
