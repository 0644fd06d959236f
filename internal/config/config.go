// Package config loads broker configuration from CLI flags, environment
// variables, a key=value config file, and built-in defaults, in that
// precedence order, via spf13/viper. It also accepts the teacher's
// original structured YAML document as a legacy input format.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the broker's resolved runtime configuration: the flat
// key=value shape spec.md section 6 names, after CLI > env > file >
// default precedence has been applied.
type Config struct {
	URL string

	Daemon bool

	NumTaskQThread int
	MaxTaskQThread int
	Parallel       int
	PropertySize   int
	MsqLen         int
	QoSDuration    time.Duration

	AllowAnonymous bool

	Websocket  WebsocketConfig
	HTTPServer HTTPServerConfig

	ConfPath       string
	BridgeConfPath string
	AuthConfPath   string
}

// WebsocketConfig controls the optional nmq+ws:// listener.
type WebsocketConfig struct {
	Enable bool
	URL    string
}

// HTTPServerConfig controls the embedded admin/metrics HTTP endpoint.
// Section 1 scopes the admin API itself out; this struct only carries the
// ambient metrics-endpoint plumbing cmd/broker wires up.
type HTTPServerConfig struct {
	Enable   bool
	Port     int
	Username string
	Password string
}

// Defaults returns the built-in default configuration, the bottom of the
// CLI > env > file > default precedence chain.
func Defaults() Config {
	return Config{
		URL:            "broker+tcp://0.0.0.0:1883",
		NumTaskQThread: 4,
		MaxTaskQThread: 8,
		Parallel:       16,
		PropertySize:   32 * 1024,
		MsqLen:         64,
		QoSDuration:    20 * time.Second,
		AllowAnonymous: true,
		HTTPServer: HTTPServerConfig{
			Enable: false,
			Port:   8081,
		},
	}
}

// bindDefaults seeds v with every default so viper's precedence fallback
// (flag > env > file > this) has somewhere to land when none of the
// higher-priority sources set a key.
func bindDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault(keyURL, d.URL)
	v.SetDefault(keyDaemon, d.Daemon)
	v.SetDefault(keyNumTaskQThread, d.NumTaskQThread)
	v.SetDefault(keyMaxTaskQThread, d.MaxTaskQThread)
	v.SetDefault(keyParallel, d.Parallel)
	v.SetDefault(keyPropertySize, d.PropertySize)
	v.SetDefault(keyMsqLen, d.MsqLen)
	v.SetDefault(keyQoSDuration, int(d.QoSDuration/time.Second))
	v.SetDefault(keyAllowAnonymous, d.AllowAnonymous)
	v.SetDefault(keyWebsocketEnable, d.Websocket.Enable)
	v.SetDefault(keyWebsocketURL, d.Websocket.URL)
	v.SetDefault(keyHTTPEnable, d.HTTPServer.Enable)
	v.SetDefault(keyHTTPPort, d.HTTPServer.Port)
	v.SetDefault(keyHTTPUsername, d.HTTPServer.Username)
	v.SetDefault(keyHTTPPassword, d.HTTPServer.Password)
}

// Flags is the set of CLI flags Load binds, mirroring cmd/broker's cobra
// flag set (spec.md section 6). Load doesn't define flags itself — it
// binds whatever *pflag.FlagSet cmd/broker already registered, so cobra
// remains the single owner of flag parsing/help text.
type Flags struct {
	Set            *pflag.FlagSet
	URL            string
	ConfPath       string
	BridgeConfPath string
	AuthConfPath   string
	NumTaskQThread string
	MaxTaskQThread string
	Parallel       string
	PropertySize   string
	MsqLen         string
	QoSDuration    string
	HTTPEnable     string
	HTTPPort       string
}

// Load resolves a Config from flags (highest), NANOMQ_-prefixed
// environment variables, the key=value (or legacy YAML) config file named
// by --conf/NANOMQ_CONF_PATH, and built-in defaults (lowest), per
// spec.md section 6's precedence rule.
func Load(flags Flags) (*Config, error) {
	v := viper.New()
	bindDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvAliases(v)

	confPath := flags.ConfPath
	if confPath == "" {
		confPath = v.GetString(keyConfPath)
	}
	if confPath != "" {
		if err := readConfigFile(v, confPath); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	}

	if flags.Set != nil {
		bindPFlags(v, flags)
	}

	cfg := &Config{
		URL:            v.GetString(keyURL),
		Daemon:         v.GetBool(keyDaemon),
		NumTaskQThread: v.GetInt(keyNumTaskQThread),
		MaxTaskQThread: v.GetInt(keyMaxTaskQThread),
		Parallel:       v.GetInt(keyParallel),
		PropertySize:   v.GetInt(keyPropertySize),
		MsqLen:         v.GetInt(keyMsqLen),
		QoSDuration:    time.Duration(v.GetInt(keyQoSDuration)) * time.Second,
		AllowAnonymous: v.GetBool(keyAllowAnonymous),
		Websocket: WebsocketConfig{
			Enable: v.GetBool(keyWebsocketEnable),
			URL:    v.GetString(keyWebsocketURL),
		},
		HTTPServer: HTTPServerConfig{
			Enable:   v.GetBool(keyHTTPEnable),
			Port:     v.GetInt(keyHTTPPort),
			Username: v.GetString(keyHTTPUsername),
			Password: v.GetString(keyHTTPPassword),
		},
		ConfPath:       confPath,
		BridgeConfPath: firstNonEmpty(flags.BridgeConfPath, v.GetString(keyBridgeConfPath)),
		AuthConfPath:   firstNonEmpty(flags.AuthConfPath, v.GetString(keyAuthConfPath)),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func bindPFlags(v *viper.Viper, f Flags) {
	bind := func(key, name string) {
		if name == "" {
			return
		}
		if fl := f.Set.Lookup(name); fl != nil && fl.Changed {
			_ = v.BindPFlag(key, fl)
		}
	}
	bind(keyURL, f.URL)
	bind(keyNumTaskQThread, f.NumTaskQThread)
	bind(keyMaxTaskQThread, f.MaxTaskQThread)
	bind(keyParallel, f.Parallel)
	bind(keyPropertySize, f.PropertySize)
	bind(keyMsqLen, f.MsqLen)
	bind(keyQoSDuration, f.QoSDuration)
	bind(keyHTTPEnable, f.HTTPEnable)
	bind(keyHTTPPort, f.HTTPPort)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// Validate rejects configurations the broker cannot start with — a bad
// URL or out-of-range thread count is a configuration error (spec.md
// section 7): refuse to start rather than run degraded.
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("config: url must not be empty")
	}
	if c.NumTaskQThread < 1 || c.NumTaskQThread > 255 {
		return fmt.Errorf("config: num_taskq_thread out of range [1,255]: %d", c.NumTaskQThread)
	}
	if c.MaxTaskQThread < c.NumTaskQThread || c.MaxTaskQThread > 255 {
		return fmt.Errorf("config: max_taskq_thread out of range [%d,255]: %d", c.NumTaskQThread, c.MaxTaskQThread)
	}
	if c.Websocket.Enable && c.Websocket.URL == "" {
		return fmt.Errorf("config: websocket.enable is true but websocket.url is empty")
	}
	if c.HTTPServer.Enable && (c.HTTPServer.Port < 1 || c.HTTPServer.Port > 65535) {
		return fmt.Errorf("config: invalid http_server.port: %d", c.HTTPServer.Port)
	}
	return nil
}
