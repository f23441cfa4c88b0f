package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/distlake/replica/coordination"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func init() {
	pflag.String("server-name", "", "Unique name for this replica (required)")
	pflag.String("broker-address", "ws://0.0.0.0:7000/ingress", "Listen address for the client-facing broker")
	pflag.String("proxy-address", "ws://127.0.0.1:7001/pub", "Pub/sub fan-out proxy publish address")
	pflag.String("proxy-sub-address", "ws://127.0.0.1:7001/sub", "Pub/sub fan-out proxy subscribe address")
	pflag.String("reference-address", "ws://127.0.0.1:7002/reference", "Reference service address")
	pflag.String("peer-listen-address", "0.0.0.0:7100", "Listen address for peer-to-peer RPC")
	pflag.String("data-dir", "./data", "Directory for durable slot files")
	pflag.String("config", "", "Path to the configuration file")

	f := pflag.CommandLine
	normalizeFunc := f.GetNormalizeFunc()
	f.SetNormalizeFunc(func(fs *pflag.FlagSet, name string) pflag.NormalizedName {
		result := normalizeFunc(fs, name)
		name = strings.ReplaceAll(string(result), "-", "_")
		return pflag.NormalizedName(name)
	})
}

// loadConfig layers defaults, an optional YAML config file, environment
// variables, and command-line flags (in ascending priority) into a
// coordination.Config.
func loadConfig() (coordination.Config, error) {
	viper.SetDefault("broker_address", "ws://0.0.0.0:7000/ingress")
	viper.SetDefault("proxy_address", "ws://127.0.0.1:7001/pub")
	viper.SetDefault("proxy_sub_address", "ws://127.0.0.1:7001/sub")
	viper.SetDefault("reference_address", "ws://127.0.0.1:7002/reference")
	viper.SetDefault("peer_listen_address", "0.0.0.0:7100")
	viper.SetDefault("data_dir", "./data")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	pflag.Parse()
	if err := viper.BindPFlags(pflag.CommandLine); err != nil {
		return coordination.Config{}, err
	}
	viper.AutomaticEnv()

	if configFile := viper.GetString("config"); configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("replica")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/replica")
	}

	if err := viper.ReadInConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "using defaults and command line/environment options\n     (%v)\n", err)
	}

	var cfg coordination.Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return coordination.Config{}, fmt.Errorf("unable to decode configuration: %w", err)
	}

	if cfg.ServerName == "" {
		return coordination.Config{}, fmt.Errorf("server_name is required")
	}

	// Every replica gets its own subdirectory under data_dir so a
	// deployment can point every replica at the same mounted volume.
	cfg.DataDir = filepath.Join(cfg.DataDir, cfg.ServerName)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return coordination.Config{}, fmt.Errorf("failed to create data dir: %w", err)
	}

	return cfg, nil
}
