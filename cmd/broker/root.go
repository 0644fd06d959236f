// Command broker is the nanomq-style broker CLI: start/stop/restart a
// broker instance, reading configuration per internal/config's CLI > env
// > file > default precedence. Other historical subcommands (pub/sub/conn
// test clients) are out of scope.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lattice-edge/brokercore/internal/config"
)

var (
	flagURL            string
	flagConfPath       string
	flagBridgePath     string
	flagAuthPath       string
	flagDaemon         bool
	flagTQThread       int
	flagMaxTQThread    int
	flagParallel       int
	flagPropertySize   int
	flagMsqLen         int
	flagQoSDuration    int
	flagHTTP           bool
	flagHTTPPort       int
)

var log = logrus.StandardLogger()

var rootCmd = &cobra.Command{
	Use:   "broker",
	Short: "A lightweight MQTT broker for edge/IoT deployments",
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagURL, "url", "", "listener URL (broker+tcp://host:port)")
	flags.StringVar(&flagConfPath, "conf", "", "path to the broker config file")
	flags.StringVar(&flagBridgePath, "bridge", "", "path to the bridge config file")
	flags.StringVar(&flagAuthPath, "auth", "", "path to the username/password auth file")
	flags.BoolVarP(&flagDaemon, "daemon", "d", false, "run as a daemon")
	flags.IntVarP(&flagTQThread, "tq_thread", "t", 0, "task queue thread count (1..255)")
	flags.IntVarP(&flagMaxTQThread, "max_tq_thread", "T", 0, "maximum task queue thread count (1..255)")
	flags.IntVarP(&flagParallel, "parallel", "n", 0, "number of work items in the broker pool")
	flags.IntVarP(&flagPropertySize, "property_size", "s", 0, "MQTT v5 property size budget in bytes")
	flags.IntVarP(&flagMsqLen, "msq_len", "S", 0, "per-pipe outbound queue length")
	flags.IntVarP(&flagQoSDuration, "qos_duration", "D", 0, "QoS retry/session-expiry timer period, seconds")
	flags.BoolVar(&flagHTTP, "http", false, "enable the metrics HTTP endpoint")
	flags.IntVarP(&flagHTTPPort, "port", "p", 0, "metrics HTTP endpoint port (0..65535)")

	rootCmd.AddCommand(startCmd, stopCmd, restartCmd)
}

func loadConfig() (*config.Config, error) {
	return config.Load(config.Flags{
		Set:            rootCmd.PersistentFlags(),
		URL:            "url",
		ConfPath:       flagConfPath,
		BridgeConfPath: flagBridgePath,
		AuthConfPath:   flagAuthPath,
		NumTaskQThread: "tq_thread",
		MaxTaskQThread: "max_tq_thread",
		Parallel:       "parallel",
		PropertySize:   "property_size",
		MsqLen:         "msq_len",
		QoSDuration:    "qos_duration",
		HTTPEnable:     "http",
		HTTPPort:       "port",
	})
}

// Execute runs the broker CLI; main.go's only job is to call this and set
// the process exit code (spec.md section 6: "0 on clean stop, non-zero on
// initialization failure or instance-already-running").
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
