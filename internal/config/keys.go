package config

// Internal viper key names. These match the config-file keys spec.md
// section 6 lists verbatim (url, daemon, num_taskq_thread, ...); env.go
// maps the NANOMQ_-prefixed environment variable names onto the same
// keys, since not every name follows from a mechanical transform ("url"
// is NANOMQ_BROKER_URL).
const (
	keyURL            = "url"
	keyDaemon         = "daemon"
	keyNumTaskQThread = "num_taskq_thread"
	keyMaxTaskQThread = "max_taskq_thread"
	keyParallel       = "parallel"
	keyPropertySize   = "property_size"
	keyMsqLen         = "msq_len"
	keyQoSDuration    = "qos_duration"
	keyAllowAnonymous = "allow_anonymous"

	keyWebsocketEnable = "websocket.enable"
	keyWebsocketURL    = "websocket.url"

	keyHTTPEnable   = "http_server.enable"
	keyHTTPPort     = "http_server.port"
	keyHTTPUsername = "http_server.username"
	keyHTTPPassword = "http_server.password"

	keyConfPath       = "conf_path"
	keyBridgeConfPath = "bridge_conf_path"
	keyAuthConfPath   = "auth_conf_path"
)

const envPrefix = "NANOMQ"
