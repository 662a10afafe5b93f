// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/trackle-iot/modbus-gateway/internal/bus"
	"github.com/trackle-iot/modbus-gateway/internal/cloud"
	"github.com/trackle-iot/modbus-gateway/internal/config"
	"github.com/trackle-iot/modbus-gateway/internal/gateway"
	"github.com/trackle-iot/modbus-gateway/internal/nvs"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)
	slog.Info("starting modbus gateway", "device", cfg.Serial.Device, "nvs", cfg.NVS.Path)

	store, err := openStore(cfg.NVS)
	if err != nil {
		slog.Error("failed to open persistent configuration", "error", err)
		os.Exit(1)
	}

	executor := bus.NewSerialExecutor(bus.SerialConfig{
		Device:   cfg.Serial.Device,
		BaudRate: cfg.Serial.BaudRate,
		DataBits: cfg.Serial.DataBits,
		Parity:   parseParity(cfg.Serial.Parity),
		StopBits: parseStopBits(cfg.Serial.StopBits),
		Timeout:  cfg.Serial.Timeout,
	})

	cloudClient := cloud.New(cloud.Config{
		Broker:              cfg.MQTT.Broker,
		ClientID:            cfg.MQTT.ClientID,
		Username:            cfg.MQTT.Username,
		Password:            cfg.MQTT.Password,
		AutoReconnect:       true,
		CommandTopicPrefix:  "cmd/",
		GetterTopicPrefix:   "get/",
		ResponseTopicPrefix: "resp/",
	}, slog.Default())

	gw, err := gateway.New(store, executor, cloudClient, slog.Default())
	if err != nil {
		slog.Error("failed to initialize gateway", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- gw.Start(ctx) }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		slog.Info("shutting down...")
		cancel()
		<-done
	case err := <-done:
		if err != nil {
			slog.Error("gateway stopped with error", "error", err)
			os.Exit(1)
		}
	}
	slog.Info("goodbye.")
}

func openStore(cfg config.NVSConfig) (nvs.Store, error) {
	switch cfg.Backend {
	case "mmap":
		return nvs.OpenMmapStore(cfg.Path)
	default:
		return nvs.OpenFileStore(cfg.Path)
	}
}

func parseParity(s string) bus.Parity {
	switch s {
	case "E":
		return bus.ParityEven
	case "O":
		return bus.ParityOdd
	default:
		return bus.ParityNone
	}
}

func parseStopBits(n int) bus.StopBits {
	switch n {
	case 2:
		return bus.StopBits2
	default:
		return bus.StopBits1
	}
}

func setupLogger(cfg config.LogConfig) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.File != "" && cfg.File != "-" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Printf("failed to open log file, falling back to stdout: %v\n", err)
			handler = slog.NewTextHandler(os.Stdout, opts)
		} else {
			handler = slog.NewTextHandler(f, opts)
		}
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
