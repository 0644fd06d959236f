package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// legacyConfig is the teacher's original structured YAML document shape,
// kept as an accepted input format for deployments that still carry a
// nanomq.yaml from before the flat key=value grammar. loadLegacyYAML
// decodes it and applyTo flattens it onto the same viper keys the
// key=value path populates, so both converge on one Config.
type legacyConfig struct {
	Server  legacyServerConfig  `yaml:"server"`
	TLS     legacyTLSConfig     `yaml:"tls"`
	Auth    legacyAuthConfig    `yaml:"auth"`
	Storage legacyStorageConfig `yaml:"storage"`
	Limits  legacyLimitsConfig  `yaml:"limits"`
	QoS     legacyQoSConfig     `yaml:"qos"`
	Logging legacyLoggingConfig `yaml:"logging"`
	Metrics legacyMetricsConfig `yaml:"metrics"`
}

type legacyServerConfig struct {
	Host      string        `yaml:"host"`
	Port      int           `yaml:"port"`
	KeepAlive time.Duration `yaml:"keep_alive"`
}

type legacyTLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`
}

type legacyAuthConfig struct {
	Enabled        bool `yaml:"enabled"`
	AllowAnonymous bool `yaml:"allow_anonymous"`
}

// legacyStorageConfig is retained only to decode (and then ignore) a
// teacher-era document's storage block; the bbolt-backed store itself was
// dropped (see DESIGN.md) since spec.md scopes the broker's stores as
// in-memory and process-lived.
type legacyStorageConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

type legacyLimitsConfig struct {
	MaxInflightMessages int `yaml:"max_inflight_messages"`
}

type legacyQoSConfig struct {
	RetryInterval time.Duration `yaml:"retry_interval"`
}

type legacyLoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type legacyMetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

func loadLegacyYAML(path string) (*legacyConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read legacy config file: %w", err)
	}
	var cfg legacyConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse legacy config file: %w", err)
	}
	return &cfg, nil
}

// applyTo flattens the legacy document's fields onto v's keys, mapping
// the teacher's nested YAML shape onto the spec's flat key=value names.
// The values are set at viper's default level: they replace the built-in
// defaults, and CLI flags and environment variables still override them.
func (c *legacyConfig) applyTo(v *viper.Viper) {
	if c.Server.Host != "" || c.Server.Port != 0 {
		host := c.Server.Host
		if host == "" {
			host = "0.0.0.0"
		}
		port := c.Server.Port
		if port == 0 {
			port = 1883
		}
		v.SetDefault(keyURL, fmt.Sprintf("broker+tcp://%s:%d", host, port))
	}
	v.SetDefault(keyAllowAnonymous, c.Auth.AllowAnonymous)
	if c.Limits.MaxInflightMessages > 0 {
		v.SetDefault(keyMsqLen, c.Limits.MaxInflightMessages)
	}
	if c.QoS.RetryInterval > 0 {
		v.SetDefault(keyQoSDuration, int(c.QoS.RetryInterval/time.Second))
	}
	if c.Metrics.Enabled {
		v.SetDefault(keyHTTPEnable, true)
		if c.Metrics.Port > 0 {
			v.SetDefault(keyHTTPPort, c.Metrics.Port)
		}
	}
}
