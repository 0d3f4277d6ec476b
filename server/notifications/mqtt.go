package notifications

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cyclopcam/logs"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type MQTTConfig struct {
	Host     string `json:"host"`     // Broker hostname. If empty, then MQTT is disabled.
	Port     int    `json:"port"`     // Default 1883
	Username string `json:"username"` // Optional
	Password string `json:"password"` // Optional
	ClientID string `json:"clientID"` // Optional
	QoS      byte   `json:"qos"`      // 0, 1, or 2
	Retained bool   `json:"retained"`
}

func (c *MQTTConfig) Enabled() bool {
	return c.Host != ""
}

func (c *MQTTConfig) BrokerURL() string {
	port := c.Port
	if port == 0 {
		port = 1883
	}
	return fmt.Sprintf("tcp://%s:%d", c.Host, port)
}

// MQTTPublisher publishes to an MQTT broker.
// The connection is established on the first Publish, and re-established on any later
// Publish after the connection is lost.
type MQTTPublisher struct {
	log     logs.Log
	cfg     MQTTConfig
	timeout time.Duration

	lock   sync.Mutex
	client mqtt.Client
}

func NewMQTTPublisher(log logs.Log, cfg MQTTConfig) *MQTTPublisher {
	opts := clientOptions(cfg)
	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		log.Warnf("MQTT connection lost: %v", err)
	})
	return &MQTTPublisher{
		log:     log,
		cfg:     cfg,
		timeout: 10 * time.Second,
		client:  mqtt.NewClient(opts),
	}
}

// Some brokers authenticate with a username alone, so the username and password are independent
func clientOptions(cfg MQTTConfig) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().AddBroker(cfg.BrokerURL())
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	}
	opts.SetConnectTimeout(10 * time.Second)
	return opts
}

func (m *MQTTPublisher) connect() error {
	if m.client.IsConnected() {
		return nil
	}
	token := m.client.Connect()
	if !token.WaitTimeout(m.timeout) {
		return fmt.Errorf("Timeout connecting to MQTT broker %v", m.cfg.BrokerURL())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("Failed to connect to MQTT broker %v: %w", m.cfg.BrokerURL(), err)
	}
	m.log.Infof("Connected to MQTT broker %v", m.cfg.BrokerURL())
	return nil
}

func (m *MQTTPublisher) Publish(topic string, payload []byte) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if err := m.connect(); err != nil {
		return err
	}
	token := m.client.Publish(topic, m.cfg.QoS, m.cfg.Retained, payload)
	if !token.WaitTimeout(m.timeout) {
		return errors.New("Timeout publishing to MQTT")
	}
	return token.Error()
}

func (m *MQTTPublisher) Close() {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.client.IsConnected() {
		m.client.Disconnect(250)
	}
}
