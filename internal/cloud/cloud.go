// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package cloud realizes the cloud control-plane transport the core
// treats as an external collaborator: publish-by-topic and
// named-command/getter registration, implemented over MQTT.
package cloud

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Config describes the broker connection the Client maintains.
type Config struct {
	Broker        string
	ClientID      string
	Username      string
	Password      string
	CleanSession  bool
	AutoReconnect bool
	KeepAlive     time.Duration
	ConnectTimeout time.Duration

	// CommandTopicPrefix/GetterTopicPrefix are prepended to a
	// registered command/getter name to form its subscribed topic,
	// e.g. "cmd/AddRegister".
	CommandTopicPrefix string
	GetterTopicPrefix  string
	// ResponseTopicPrefix is prepended to a command/getter name to
	// form the topic its result/envelope is published on.
	ResponseTopicPrefix string
}

// CommandHandler executes a named mutation command and returns its
// status code.
type CommandHandler func(args string) int

// GetterHandler executes a named getter and returns its JSON payload.
type GetterHandler func(args string) string

// Client is the MQTT-backed realization of publish/register_command/
// register_getter.
type Client struct {
	cfg Config
	log *slog.Logger

	mu        sync.RWMutex
	client    mqtt.Client
	connected bool

	commands map[string]CommandHandler
	getters  map[string]GetterHandler
}

// New returns a Client that connects lazily on the first Connect call.
func New(cfg Config, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		cfg:      cfg,
		log:      log,
		commands: make(map[string]CommandHandler),
		getters:  make(map[string]GetterHandler),
	}
}

// RegisterCommand binds name to handler; every call before Connect is
// subscribed to once the broker connection comes up.
func (c *Client) RegisterCommand(name string, handler CommandHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commands[name] = handler
}

// RegisterGetter binds name to handler the same way RegisterCommand
// does for mutation commands.
func (c *Client) RegisterGetter(name string, handler GetterHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.getters[name] = handler
}

// Connect dials the broker and subscribes every registered command and
// getter topic.
func (c *Client) Connect() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.cfg.Broker)
	opts.SetClientID(c.cfg.ClientID)
	opts.SetCleanSession(c.cfg.CleanSession)
	opts.SetAutoReconnect(c.cfg.AutoReconnect)

	if c.cfg.KeepAlive > 0 {
		opts.SetKeepAlive(c.cfg.KeepAlive)
	} else {
		opts.SetKeepAlive(60 * time.Second)
	}
	if c.cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(c.cfg.ConnectTimeout)
	} else {
		opts.SetConnectTimeout(30 * time.Second)
	}
	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
		opts.SetPassword(c.cfg.Password)
	}

	opts.SetOnConnectHandler(func(mqtt.Client) {
		c.mu.Lock()
		c.connected = true
		c.mu.Unlock()
		c.subscribeAll()
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		c.log.Warn("cloud: connection lost", "error", err)
	})

	c.client = mqtt.NewClient(opts)
	token := c.client.Connect()
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("cloud: connect: %w", token.Error())
	}
	return nil
}

func (c *Client) subscribeAll() {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for name := range c.commands {
		topic := c.cfg.CommandTopicPrefix + name
		c.client.Subscribe(topic, 1, c.dispatchCommand(name))
	}
	for name := range c.getters {
		topic := c.cfg.GetterTopicPrefix + name
		c.client.Subscribe(topic, 1, c.dispatchGetter(name))
	}
}

func (c *Client) dispatchCommand(name string) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		c.mu.RLock()
		handler, ok := c.commands[name]
		c.mu.RUnlock()
		if !ok {
			return
		}
		code := handler(strings.TrimSpace(string(msg.Payload())))
		c.publishResult(name, code)
	}
}

func (c *Client) dispatchGetter(name string) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		c.mu.RLock()
		handler, ok := c.getters[name]
		c.mu.RUnlock()
		if !ok {
			return
		}
		result := handler(strings.TrimSpace(string(msg.Payload())))
		c.Publish(c.cfg.ResponseTopicPrefix+name, result)
	}
}

func (c *Client) publishResult(name string, code int) {
	c.Publish(c.cfg.ResponseTopicPrefix+name, statusJSON(code))
}

func statusJSON(code int) string {
	b, _ := json.Marshal(map[string]int{"status": code})
	return string(b)
}

// Publish implements the publish(topic, payload) -> bool primitive the
// core's polling engine and control surface hand batches and responses
// to.
func (c *Client) Publish(topic, payload string) bool {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()
	if client == nil || !client.IsConnected() {
		return false
	}
	token := client.Publish(topic, 1, false, payload)
	token.Wait()
	return token.Error() == nil
}

// Close disconnects from the broker.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(250)
	}
	c.connected = false
}
