package server

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the daemon's static configuration, sourced from a YAML file
// merged with CLI flags (spec §6), grounded on
// doismellburning-samoyed/src/deviceid.go's yaml.v3 unmarshal style.
type Config struct {
	SocketDir             string `yaml:"socket_dir"`
	MaxGainCentiDB        int    `yaml:"max_gain_centi_db"`
	DefaultCBThreshold    int    `yaml:"default_cb_threshold"`
	HotwordPauseAtSuspend bool   `yaml:"hotword_pause_at_suspend"`
	PrometheusAddr        string `yaml:"prometheus_addr"`
}

// DefaultConfig returns the built-in defaults (spec §6's numeric
// constants), overridden by any YAML file and then by explicit flags.
func DefaultConfig() Config {
	return Config{
		SocketDir:          "/run/audiosrv",
		MaxGainCentiDB:     2000,
		DefaultCBThreshold: 480,
		PrometheusAddr:     "",
	}
}

// LoadConfig reads path as YAML over the defaults. A missing file is not
// an error: the defaults stand alone.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
