// Package mesh bridges the radio gateway over MQTT. Each unit listens on its
// own command topic; everything the units send arrives on a shared uplink
// topic. The broker stands in for the physical mesh: frames can still be
// dropped, delayed or reordered end to end.
package mesh

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/transport"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/infra/logger"
)

// Config defines the connection parameters for the MQTT mesh gateway.
type Config struct {
	Broker           string `json:"broker"`
	ClientID         string `json:"client_id"`
	Username         string `json:"username"`
	Password         string `json:"password"`
	TopicPrefix      string `json:"topic_prefix"`
	QoS              byte   `json:"qos"`
	UseTLS           bool   `json:"use_tls"`
	ClientCert       string `json:"client_cert"`
	ClientKey        string `json:"client_key"`
	CABundle         string `json:"ca_bundle"`
	LWTPayload       string `json:"lwt_payload"`
	PublishTimeoutMS int    `json:"publish_timeout_ms"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.ClientID == "" {
		c.ClientID = "dispatch-server"
	}
	if c.TopicPrefix == "" {
		c.TopicPrefix = "mesh"
	}
	if c.PublishTimeoutMS <= 0 {
		c.PublishTimeoutMS = 2000
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if c.Broker == "" {
		return fmt.Errorf("mesh: broker is required")
	}
	return nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

// UplinkTopic returns the shared unit-to-server topic for the prefix.
func (c Config) UplinkTopic() string { return c.TopicPrefix + "/uplink" }

// CommandTopic returns the server-to-unit topic for a unit.
func (c Config) CommandTopic(unitID string) string {
	return fmt.Sprintf("%s/unit/%s/cmd", c.TopicPrefix, unitID)
}

// MQTTTransport implements transport.Transport using Eclipse Paho.
type MQTTTransport struct {
	cli     paho.Client
	cfg     Config
	log     logger.Logger
	mu      sync.RWMutex
	handler transport.Handler
	pubWait time.Duration
}

// NewMQTTTransport connects to the broker and subscribes to the uplink topic.
// The subscription is re-established on every reconnect so frames still in
// flight on the broker are not lost across connection drops.
func NewMQTTTransport(cfg Config) (*MQTTTransport, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := logger.New("mesh")
	t := &MQTTTransport{
		cfg:     cfg,
		log:     log,
		pubWait: time.Duration(cfg.PublishTimeoutMS) * time.Millisecond,
	}

	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	opts.SetOrderMatters(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if cfg.LWTPayload != "" {
		opts.SetWill(cfg.TopicPrefix+"/server/lwt", cfg.LWTPayload, cfg.QoS, false)
	}
	opts.OnConnect = func(c paho.Client) {
		log.Infof("mesh gateway connected")
		if token := c.Subscribe(cfg.UplinkTopic(), cfg.QoS, t.onUplink); token.Wait() && token.Error() != nil {
			log.Errorf("uplink subscribe error: %v", token.Error())
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("mesh connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to mesh gateway")
	}

	cli := paho.NewClient(opts)
	if token := cli.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	t.cli = cli
	return t, nil
}

func (t *MQTTTransport) onUplink(_ paho.Client, msg paho.Message) {
	t.mu.RLock()
	h := t.handler
	t.mu.RUnlock()
	if h == nil {
		t.log.Warnf("uplink frame dropped: no handler registered")
		return
	}
	h(msg.Payload())
}

// SetHandler registers the receive callback.
func (t *MQTTTransport) SetHandler(h transport.Handler) {
	t.mu.Lock()
	t.handler = h
	t.mu.Unlock()
}

// Send publishes the payload to the unit command topic. A link outage is
// reported as transport.ErrNotConnected; the reliable outbound manager owns
// all retrying.
func (t *MQTTTransport) Send(unitID string, payload []byte) error {
	if !t.cli.IsConnectionOpen() {
		return transport.ErrNotConnected
	}
	token := t.cli.Publish(t.cfg.CommandTopic(unitID), t.cfg.QoS, false, payload)
	if !token.WaitTimeout(t.pubWait) {
		return fmt.Errorf("publish to %s: %w", unitID, transport.ErrNotConnected)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", unitID, err)
	}
	return nil
}

// Close disconnects from the broker.
func (t *MQTTTransport) Close() error {
	if t.cli != nil && t.cli.IsConnected() {
		t.cli.Disconnect(250)
	}
	return nil
}
