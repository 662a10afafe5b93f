// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package gateway wires the Serial Arbiter, Typed Codec, Register
// Catalog, Persistent Configuration, Polling Engine and Control
// Surface into one running instance, replacing the module-level
// globals the original firmware kept (§9 of the spec).
package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/trackle-iot/modbus-gateway/internal/arbiter"
	"github.com/trackle-iot/modbus-gateway/internal/bus"
	"github.com/trackle-iot/modbus-gateway/internal/catalog"
	"github.com/trackle-iot/modbus-gateway/internal/cloud"
	"github.com/trackle-iot/modbus-gateway/internal/control"
	"github.com/trackle-iot/modbus-gateway/internal/linkconfig"
	"github.com/trackle-iot/modbus-gateway/internal/nvs"
	"github.com/trackle-iot/modbus-gateway/internal/polling"
)

// Gateway is a single running instance of the Modbus RTU master
// gateway: it owns the catalog, the serial line, the persistence
// store, and the cloud transport, and drives the polling loop.
type Gateway struct {
	Catalog *catalog.Catalog
	Links   *linkconfig.Pair
	Arbiter *arbiter.Arbiter
	Bus     bus.Executor
	Store   nvs.Store
	Cloud   *cloud.Client
	Control *control.Surface
	Polling *polling.Engine

	log *slog.Logger
}

// New loads the persisted catalog and link config from store (falling
// back to linkconfig.Default()/empty per §4.4), then wires every
// component around it. executor must already be configured to drive
// the physical line named by the bring-up configuration; New only
// consumes it through the Executor interface. It does not start the
// polling loop or connect to the broker; call Start for that.
func New(store nvs.Store, executor bus.Executor, cloudClient *cloud.Client, log *slog.Logger) (*Gateway, error) {
	if log == nil {
		log = slog.Default()
	}

	actual, descs, err := nvs.Load(store)
	if err != nil {
		return nil, fmt.Errorf("gateway: load persisted config: %w", err)
	}

	cat := catalog.New()
	for _, d := range descs {
		if addErr := cat.Add(d); addErr != nil {
			log.Warn("gateway: dropping persisted register on reload", "name", d.Name, "error", addErr)
		}
	}

	links := linkconfig.NewPair(actual)
	ab := arbiter.New(actual.InterCmdDelay())

	g := &Gateway{
		Catalog: cat,
		Links:   links,
		Arbiter: ab,
		Bus:     executor,
		Store:   store,
		Cloud:   cloudClient,
		log:     log,
	}

	g.Control = &control.Surface{
		Catalog:  cat,
		Links:    links,
		Arbiter:  ab,
		Executor: executor,
		Save: func(cfg linkconfig.Config, d []catalog.Descriptor) error {
			return nvs.Save(store, cfg, d)
		},
	}

	g.Polling = &polling.Engine{
		Catalog:  cat,
		Arbiter:  ab,
		Executor: executor,
		Order:    actual.WordOrder,
		Period:   actual.ReadPeriod(),
		Publish:  cloudClient,
		OnFail:   nil,
		Log:      log,
	}

	return g, nil
}

// RegisterCommands binds every named command/getter of the Control
// Surface (§4.6) to the cloud transport's registration surface.
func (g *Gateway) RegisterCommands() {
	c := g.Cloud
	s := g.Control

	c.RegisterCommand("AddRegister", s.AddRegister)
	c.RegisterCommand("DeleteRegister", s.DeleteRegister)
	c.RegisterCommand("MonitorRegister", s.MonitorRegister)
	c.RegisterCommand("EnableMonitorOnChange", s.EnableMonitorOnChange)
	c.RegisterCommand("SetRegisterChangeCheckInterval", s.SetRegisterChangeCheckInterval)
	c.RegisterCommand("SetRegisterMaxPublishDelay", s.SetRegisterMaxPublishDelay)
	c.RegisterCommand("MakeRegisterWritable", s.MakeRegisterWritable)
	c.RegisterCommand("MakeRegisterSigned", s.MakeRegisterSigned)
	c.RegisterCommand("SetRegisterCoefficients", s.SetRegisterCoefficients)
	c.RegisterCommand("SetRegisterDecimals", s.SetRegisterDecimals)
	c.RegisterCommand("SetMbConfig", s.SetMbConfig)
	c.RegisterCommand("SetMbInterCmdsDelayMs", s.SetMbInterCmdsDelayMs)
	c.RegisterCommand("SetMbReadPeriod", s.SetMbReadPeriod)
	c.RegisterCommand("SaveConfigToFlash", func(string) int { return s.SaveConfigToFlash() })
	c.RegisterCommand("WriteRegisterValue", s.WriteRegisterValue)
	c.RegisterCommand("WriteRawRegisterValue", s.WriteRawRegisterValue)

	c.RegisterGetter("GetRegistersList", func(string) string { return s.GetRegistersList() })
	c.RegisterGetter("GetRegisterDetails", s.GetRegisterDetails)
	c.RegisterGetter("GetRegisterNameByMbDetails", s.GetRegisterNameByMbDetails)
	c.RegisterGetter("GetActualModbusConfig", func(string) string { return s.GetActualModbusConfig() })
	c.RegisterGetter("GetNextModbusConfig", func(string) string { return s.GetNextModbusConfig() })
	c.RegisterGetter("ReadRegisterValue", s.ReadRegisterValue)
	c.RegisterGetter("ReadRawRegisterValue", s.ReadRawRegisterValue)
	c.RegisterGetter("ForwardRequestToSlaves", s.ForwardRequestToSlaves)
	c.RegisterGetter("ReadAllRegistersValues", func(string) string { return s.ReadAllRegistersValues() })
	c.RegisterGetter("GetAllMonitoredRegistersLatestValues", func(string) string { return s.GetAllMonitoredRegistersLatestValues() })
}

// Start connects the cloud transport, registers every command/getter,
// and runs the Polling Engine until ctx is cancelled.
func (g *Gateway) Start(ctx context.Context) error {
	g.RegisterCommands()

	if err := g.Cloud.Connect(); err != nil {
		return fmt.Errorf("gateway: connect cloud transport: %w", err)
	}

	g.log.Info("gateway started", "registers", g.Catalog.Count(), "read_period", g.Links.Actual().ReadPeriod())
	g.Polling.Run(ctx)

	g.log.Info("gateway shutting down")
	g.Arbiter.Stop()
	g.Cloud.Close()
	return g.Store.Close()
}
