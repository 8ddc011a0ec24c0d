package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Stream  StreamConfig  `yaml:"stream"`
	Session SessionConfig `yaml:"session"`
	Answer  AnswerConfig  `yaml:"answer"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AuthToken      string   `yaml:"auth_token"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type StreamConfig struct {
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
	SendBuffer        int           `yaml:"send_buffer"`
	WatchBuffer       int           `yaml:"watch_buffer"`
}

type SessionConfig struct {
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	GCInterval     time.Duration `yaml:"gc_interval"`
	RetentionGrace time.Duration `yaml:"retention_grace"`
}

type AnswerConfig struct {
	GenerateTimeout time.Duration `yaml:"generate_timeout"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
			Host: "0.0.0.0",
		},
		Stream: StreamConfig{
			KeepaliveInterval: 25 * time.Second,
			SendBuffer:        64,
			WatchBuffer:       256,
		},
		Session: SessionConfig{
			IdleTimeout:    30 * time.Minute,
			GCInterval:     time.Minute,
			RetentionGrace: 2 * time.Minute,
		},
		Answer: AnswerConfig{
			GenerateTimeout: 30 * time.Second,
		},
	}
}

// Load reads the yaml config at path, filling unset fields with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration, used when no config file
// exists.
func Default() *Config {
	return defaultConfig()
}
