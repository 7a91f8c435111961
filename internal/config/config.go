package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP struct {
		Bind string `yaml:"bind"`
		Port int    `yaml:"port"`
		TLS  struct {
			Enabled bool   `yaml:"enabled"`
			Cert    string `yaml:"cert"`
			Key     string `yaml:"key"`
		} `yaml:"tls"`
	} `yaml:"http"`
	Auth struct {
		JWTPublicKeys []string `yaml:"jwt_public_keys"` // PEM certificate paths; empty disables auth
		Issuer        string   `yaml:"issuer"`
		Audience      string   `yaml:"audience"`
	} `yaml:"auth"`
	Logging struct {
		Level string `yaml:"level"`
		JSON  bool   `yaml:"json"`
	} `yaml:"logging"`
	Inspector struct {
		WriteWait time.Duration `yaml:"write_wait"`
		PongWait  time.Duration `yaml:"pong_wait"`
		ReadLimit int64         `yaml:"read_limit"`
		SendQueue int           `yaml:"send_queue"`
	} `yaml:"inspector"`
	Source struct {
		Simulate bool          `yaml:"simulate"`
		Interval time.Duration `yaml:"interval"`
	} `yaml:"source"`
	Plugins struct {
		Enabled []string                  `yaml:"enabled"` // empty enables every built-in plugin
		Config  map[string]map[string]any `yaml:"config"`
	} `yaml:"plugins"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.applyDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	var c Config
	c.applyDefaults()
	return &c
}

func (c *Config) applyDefaults() {
	if c.HTTP.Bind == "" {
		c.HTTP.Bind = "0.0.0.0"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8088
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Inspector.WriteWait == 0 {
		c.Inspector.WriteWait = 10 * time.Second
	}
	if c.Inspector.PongWait == 0 {
		c.Inspector.PongWait = 60 * time.Second
	}
	if c.Inspector.ReadLimit == 0 {
		c.Inspector.ReadLimit = 1 << 20
	}
	if c.Inspector.SendQueue == 0 {
		c.Inspector.SendQueue = 256
	}
	if c.Source.Interval == 0 {
		c.Source.Interval = 2 * time.Second
	}
}

func (c *Config) validate() error {
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("config: http.port %d out of range", c.HTTP.Port)
	}
	if c.HTTP.TLS.Enabled && (c.HTTP.TLS.Cert == "" || c.HTTP.TLS.Key == "") {
		return fmt.Errorf("config: http.tls requires cert and key")
	}
	if c.Inspector.SendQueue < 0 {
		return fmt.Errorf("config: inspector.send_queue must be positive")
	}
	return nil
}

// PluginEnabled reports whether the plugin with id should be registered.
func (c *Config) PluginEnabled(id string) bool {
	if len(c.Plugins.Enabled) == 0 {
		return true
	}
	for _, e := range c.Plugins.Enabled {
		if e == id {
			return true
		}
	}
	return false
}

// PluginConfig returns the free-form settings for one plugin.
func (c *Config) PluginConfig(id string) map[string]any {
	if m, ok := c.Plugins.Config[id]; ok {
		return m
	}
	return map[string]any{}
}
