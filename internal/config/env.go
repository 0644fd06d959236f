package config

import "github.com/spf13/viper"

// envAlias pairs a viper config key with the exact NANOMQ_* environment
// variable name spec.md section 6 specifies. viper's AutomaticEnv plus
// SetEnvKeyReplacer mechanically produces most of these names
// ("websocket.enable" -> NANOMQ_WEBSOCKET_ENABLE, "num_taskq_thread" ->
// NANOMQ_NUM_TASKQ_THREAD), but not all ("url" would become NANOMQ_URL,
// not NANOMQ_BROKER_URL), so every variable spec.md lists is bound
// explicitly here rather than relying on the mechanical transform for
// some and not others.
var envAliases = []struct {
	key string
	env string
}{
	{keyURL, "NANOMQ_BROKER_URL"},
	{keyDaemon, "NANOMQ_DAEMON"},
	{keyNumTaskQThread, "NANOMQ_NUM_TASKQ_THREAD"},
	{keyMaxTaskQThread, "NANOMQ_MAX_TASKQ_THREAD"},
	{keyParallel, "NANOMQ_PARALLEL"},
	{keyPropertySize, "NANOMQ_PROPERTY_SIZE"},
	{keyMsqLen, "NANOMQ_MSQ_LEN"},
	{keyQoSDuration, "NANOMQ_QOS_DURATION"},
	{keyAllowAnonymous, "NANOMQ_ALLOW_ANONYMOUS"},
	{keyWebsocketEnable, "NANOMQ_WEBSOCKET_ENABLE"},
	{keyWebsocketURL, "NANOMQ_WEBSOCKET_URL"},
	{keyHTTPEnable, "NANOMQ_HTTP_SERVER_ENABLE"},
	{keyHTTPPort, "NANOMQ_HTTP_SERVER_PORT"},
	{keyHTTPUsername, "NANOMQ_HTTP_SERVER_USERNAME"},
	{keyHTTPPassword, "NANOMQ_HTTP_SERVER_PASSWORD"},
	{keyConfPath, "NANOMQ_CONF_PATH"},
	{keyBridgeConfPath, "NANOMQ_BRIDGE_CONF_PATH"},
	{keyAuthConfPath, "NANOMQ_AUTH_CONF_PATH"},
}

// bindEnvAliases binds each spec-mandated environment variable name onto
// its viper key, on top of the AutomaticEnv/SetEnvKeyReplacer mechanism
// Load already enabled.
func bindEnvAliases(v *viper.Viper) {
	for _, a := range envAliases {
		_ = v.BindEnv(a.key, a.env)
	}
}
