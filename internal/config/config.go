// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package config loads the bring-up configuration: the parameters the
// gateway needs before it can even open the NVS store that holds the
// persisted link config and register catalog (§4.4 of the spec). This
// is intentionally a small, separate concern from linkconfig.Config:
// viper/pflag supply the physical device path, the MQTT broker, and
// the NVS location; the NVS layer owns everything that is meant to
// survive a restart.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the full bring-up configuration, loaded once at process
// start and never mutated afterward.
type Config struct {
	Serial SerialConfig `mapstructure:"serial"`
	MQTT   MQTTConfig   `mapstructure:"mqtt"`
	NVS    NVSConfig    `mapstructure:"nvs"`
	Log    LogConfig    `mapstructure:"log"`
}

// SerialConfig describes the physical RS-232/RS-485 line the Serial
// Arbiter and bus Executor drive. Baud rate, data bits, parity and
// stop bits here are the values the serial line is opened with. The
// persisted link config (§3) loaded from NVS becomes "actual" and
// supplies the pacing delay, read period and word order; its baud
// rate, data bits, parity and stop bits are not applied to the line.
type SerialConfig struct {
	Device   string        `mapstructure:"device"`
	BaudRate int           `mapstructure:"baud_rate"`
	DataBits int           `mapstructure:"data_bits"`
	Parity   string        `mapstructure:"parity"` // N, E, O
	StopBits int           `mapstructure:"stop_bits"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// MQTTConfig describes the cloud control-plane broker (§6).
type MQTTConfig struct {
	Broker   string `mapstructure:"broker"`
	ClientID string `mapstructure:"client_id"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// NVSConfig selects and locates the Persistent Configuration backend
// (§4.4): "file" for one blob per key, "mmap" for a single fixed-layout
// memory-mapped file.
type NVSConfig struct {
	Backend string `mapstructure:"backend"` // "file" or "mmap"
	Path    string `mapstructure:"path"`
}

// LogConfig configures the process-wide slog handler.
type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
	File  string `mapstructure:"file"`  // "" or "-" means stdout
}

// LoadConfig loads configuration from CLI flags, then a config file,
// following the teacher's SetDefault/BindPFlags/AddConfigPath pattern.
func LoadConfig() (*Config, error) {
	viper.SetDefault("serial.device", "/tmp/pts1")
	viper.SetDefault("serial.baud_rate", 9600)
	viper.SetDefault("serial.data_bits", 8)
	viper.SetDefault("serial.parity", "N")
	viper.SetDefault("serial.stop_bits", 1)
	viper.SetDefault("serial.timeout", 500*time.Millisecond)
	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.client_id", "modbus-gateway")
	viper.SetDefault("nvs.backend", "file")
	viper.SetDefault("nvs.path", "/var/lib/modbus-gateway/nvs")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.file", "")

	pflag.StringP("config", "c", "", "Configuration file path.")
	pflag.StringP("device", "p", viper.GetString("serial.device"), "Serial port device name.")
	pflag.IntP("baud_rate", "s", viper.GetInt("serial.baud_rate"), "Serial port speed.")
	pflag.DurationP("timeout", "W", viper.GetDuration("serial.timeout"), "Response wait time.")
	pflag.StringP("broker", "b", viper.GetString("mqtt.broker"), "MQTT broker URL.")
	pflag.StringP("nvs_path", "n", viper.GetString("nvs.path"), "Persistent configuration path.")
	pflag.StringP("log_level", "v", viper.GetString("log.level"), "Log verbosity level (debug, info, warn, error).")
	pflag.StringP("log_file", "L", viper.GetString("log.file"), "Log file name ('-' for stdout).")
	pflag.Parse()

	if err := viper.BindPFlag("serial.device", pflag.Lookup("device")); err != nil {
		return nil, fmt.Errorf("config: bind device flag: %w", err)
	}
	if err := viper.BindPFlag("serial.baud_rate", pflag.Lookup("baud_rate")); err != nil {
		return nil, fmt.Errorf("config: bind baud_rate flag: %w", err)
	}
	if err := viper.BindPFlag("serial.timeout", pflag.Lookup("timeout")); err != nil {
		return nil, fmt.Errorf("config: bind timeout flag: %w", err)
	}
	if err := viper.BindPFlag("mqtt.broker", pflag.Lookup("broker")); err != nil {
		return nil, fmt.Errorf("config: bind broker flag: %w", err)
	}
	if err := viper.BindPFlag("nvs.path", pflag.Lookup("nvs_path")); err != nil {
		return nil, fmt.Errorf("config: bind nvs_path flag: %w", err)
	}
	if err := viper.BindPFlag("log.level", pflag.Lookup("log_level")); err != nil {
		return nil, fmt.Errorf("config: bind log_level flag: %w", err)
	}
	if err := viper.BindPFlag("log.file", pflag.Lookup("log_file")); err != nil {
		return nil, fmt.Errorf("config: bind log_file flag: %w", err)
	}

	if configFile, _ := pflag.CommandLine.GetString("config"); configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("/etc/modbusgw/")
		viper.AddConfigPath("$HOME/.modbusgw")
		viper.AddConfigPath(".")
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.Serial.Parity = strings.ToUpper(cfg.Serial.Parity)
	return &cfg, nil
}
