package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// BridgeSubscription is one bridge.subscription.<n> entry: an ingress
// filter the bridge subscribes to upstream, replayed locally on receipt.
type BridgeSubscription struct {
	Topic string
	QoS   byte
}

// BridgeConfig is the parsed content of the --bridge file spec.md section
// 6 describes: the upstream address and credentials, the local topics it
// forwards, and the upstream topics it subscribes to and injects locally.
type BridgeConfig struct {
	Address    string
	ProtoVer   int
	ClientID   string
	CleanStart bool
	Username   string
	Password   string
	KeepAlive  time.Duration
	Forwards   []string
	Subscriptions []BridgeSubscription
	Parallel   int
}

// LoadBridge parses a bridge.forwards/bridge.subscription.<n>.* key=value
// file. An empty path means bridging is disabled; callers should treat a
// nil, nil return as "no bridge configured", not an error.
func LoadBridge(path string) (*BridgeConfig, error) {
	if path == "" {
		return nil, nil
	}
	v := viper.New()
	v.SetConfigType("properties")
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read bridge file %s: %w", path, err)
	}

	cfg := &BridgeConfig{
		Address:    v.GetString("bridge.address"),
		ProtoVer:   v.GetInt("bridge.proto_ver"),
		ClientID:   v.GetString("bridge.clientid"),
		CleanStart: v.GetBool("bridge.clean_start"),
		Username:   v.GetString("bridge.username"),
		Password:   v.GetString("bridge.password"),
		KeepAlive:  time.Duration(v.GetInt("bridge.keepalive")) * time.Second,
		Parallel:   v.GetInt("bridge.parallel"),
	}
	if cfg.ProtoVer == 0 {
		cfg.ProtoVer = 4
	}
	if cfg.Parallel == 0 {
		cfg.Parallel = 1
	}
	if raw := v.GetString("bridge.forwards"); raw != "" {
		for _, f := range strings.Split(raw, ",") {
			f = strings.TrimSpace(f)
			if f != "" {
				cfg.Forwards = append(cfg.Forwards, f)
			}
		}
	}
	cfg.Subscriptions = parseBridgeSubscriptions(v)
	if cfg.Address == "" {
		return nil, fmt.Errorf("config: bridge file %s missing bridge.address", path)
	}
	return cfg, nil
}

// parseBridgeSubscriptions collects bridge.subscription.<n>.topic/.qos
// pairs for every index n present in the file, in ascending numeric order.
func parseBridgeSubscriptions(v *viper.Viper) []BridgeSubscription {
	indices := map[int]struct{}{}
	const prefix = "bridge.subscription."
	for _, key := range v.AllKeys() {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := strings.TrimPrefix(key, prefix)
		dot := strings.IndexByte(rest, '.')
		if dot < 0 {
			continue
		}
		if n, err := strconv.Atoi(rest[:dot]); err == nil {
			indices[n] = struct{}{}
		}
	}
	ordered := make([]int, 0, len(indices))
	for n := range indices {
		ordered = append(ordered, n)
	}
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && ordered[j-1] > ordered[j]; j-- {
			ordered[j-1], ordered[j] = ordered[j], ordered[j-1]
		}
	}
	out := make([]BridgeSubscription, 0, len(ordered))
	for _, n := range ordered {
		base := fmt.Sprintf("%s%d.", prefix, n)
		topic := v.GetString(base + "topic")
		if topic == "" {
			continue
		}
		out = append(out, BridgeSubscription{Topic: topic, QoS: byte(v.GetInt(base + "qos"))})
	}
	return out
}
