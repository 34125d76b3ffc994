// Package mqtt provides the broker link: a paho client wrapper, the bridge
// that maps topics to commands and state, and Home Assistant discovery.
package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/dzungpv/mitsubishi2MQTT/internal/logger"
)

// Availability payloads
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// TLSPort is the broker port that switches the link to TLS
const TLSPort = 8883

var (
	// ErrNotConnected is returned when publishing without a broker connection
	ErrNotConnected = errors.New("mqtt: not connected")

	// ErrNoBroker is returned when no broker host is configured
	ErrNoBroker = errors.New("mqtt: broker host is required")
)

// Config holds MQTT client configuration
type Config struct {
	Host     string
	Port     int
	Username string // optional
	Password string // optional
	ClientID string // generated when empty
	CACert   string // PEM, used when Port is TLSPort; system roots when empty

	WillTopic      string // availability topic; receives "offline" as Last-Will
	ConnectTimeout time.Duration
}

// Message is an inbound publish
type Message struct {
	Topic   string
	Payload []byte
}

// Client wraps the paho client. Reconnects are driven by the bridge on a
// fixed schedule, so paho's own auto-reconnect is off.
type Client struct {
	client paho.Client
	config Config
	log    *logger.Logger

	messages chan Message
	lost     chan error

	mu       sync.RWMutex
	isActive bool
}

// NewClient creates a new MQTT client
func NewClient(cfg Config, log *logger.Logger) (*Client, error) {
	if cfg.Host == "" {
		return nil, ErrNoBroker
	}
	if cfg.Port == 0 {
		cfg.Port = 1883
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "mitsubishi2mqtt-" + uuid.NewString()[:8]
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}

	c := &Client{
		config:   cfg,
		log:      log.Named("mqtt"),
		messages: make(chan Message, 64),
		lost:     make(chan error, 4),
	}

	opts := paho.NewClientOptions()
	if cfg.Port == TLSPort {
		tlsConfig, err := newTLSConfig(cfg.CACert)
		if err != nil {
			return nil, err
		}
		opts.AddBroker(fmt.Sprintf("ssl://%s:%d", cfg.Host, cfg.Port))
		opts.SetTLSConfig(tlsConfig)
	} else {
		opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port))
	}
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	if cfg.WillTopic != "" {
		opts.SetWill(cfg.WillTopic, PayloadOffline, 1, true)
	}

	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		c.setActive(false)
		c.log.Warnw("connection lost", "error", err)
		select {
		case c.lost <- err:
		default:
		}
	})

	opts.SetDefaultPublishHandler(c.onMessage)

	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(cfg.ConnectTimeout)

	// Keep alive settings
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetCleanSession(true)

	c.client = paho.NewClient(opts)
	return c, nil
}

// newTLSConfig trusts caPEM when given, otherwise the system roots
func newTLSConfig(caPEM string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if caPEM == "" {
		return cfg, nil
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM([]byte(caPEM)) {
		return nil, fmt.Errorf("mqtt: invalid CA certificate")
	}
	cfg.RootCAs = pool
	return cfg, nil
}

// Connect establishes the connection, blocking up to ConnectTimeout
func (c *Client) Connect() error {
	c.log.Infow("connecting", "host", c.config.Host, "port", c.config.Port)

	token := c.client.Connect()
	if !token.WaitTimeout(c.config.ConnectTimeout) {
		return fmt.Errorf("failed to connect to MQTT broker: timeout after %s", c.config.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	c.setActive(true)
	c.log.Infow("connected", "host", c.config.Host)
	return nil
}

// Disconnect closes connection to MQTT broker
func (c *Client) Disconnect() {
	if !c.IsConnected() {
		return
	}
	c.client.Disconnect(250) // Wait up to 250ms for graceful disconnect
	c.setActive(false)
	c.log.Infow("disconnected")
}

// Subscribe subscribes to topics at QoS 1; messages arrive on Messages
func (c *Client) Subscribe(topics []string) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	filters := make(map[string]byte, len(topics))
	for _, t := range topics {
		filters[t] = 1
	}
	token := c.client.SubscribeMultiple(filters, c.onMessage)
	if !token.WaitTimeout(c.config.ConnectTimeout) {
		return fmt.Errorf("failed to subscribe: timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	return nil
}

// Publish queues a QoS 1 publish without waiting for the broker to acknowledge it
func (c *Client) Publish(topic string, payload []byte, retain bool) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, 1, retain, payload)
	go func() {
		if token.WaitTimeout(c.config.ConnectTimeout) && token.Error() != nil {
			c.log.Warnw("publish failed", "topic", topic, "error", token.Error())
		}
	}()
	c.log.Debugw("published", "topic", topic, "retain", retain, "bytes", len(payload))
	return nil
}

// Messages returns inbound publishes
func (c *Client) Messages() <-chan Message {
	return c.messages
}

// Lost returns connection loss notifications
func (c *Client) Lost() <-chan error {
	return c.lost
}

// IsConnected returns true if client is connected to broker
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isActive && c.client.IsConnected()
}

// GetConfig returns the current MQTT configuration
func (c *Client) GetConfig() Config {
	return c.config
}

func (c *Client) setActive(v bool) {
	c.mu.Lock()
	c.isActive = v
	c.mu.Unlock()
}

func (c *Client) onMessage(_ paho.Client, msg paho.Message) {
	m := Message{Topic: msg.Topic(), Payload: append([]byte(nil), msg.Payload()...)}
	select {
	case c.messages <- m:
	default:
		c.log.Warnw("inbound queue full, message dropped", "topic", m.Topic)
	}
}
