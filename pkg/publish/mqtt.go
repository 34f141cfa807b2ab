// Package publish pushes flattened contract values to an MQTT broker so home
// automation systems can consume them without polling the HTTP surface.
package publish

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/lejer/eon-client/pkg/values"
)

var publishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "eon_mqtt_publish_total",
	Help: "Total MQTT publishes by result",
}, []string{"result"})

// PublishTimeout bounds how long a single publish waits for the broker.
const PublishTimeout = 10 * time.Second

// Config holds broker settings.
type Config struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
	Retain      bool
}

// broker is the part of mqtt.Client the publisher uses.
type broker interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTT publishes per-contract values as retained JSON messages.
type MQTT struct {
	client broker
	prefix string
	retain bool
	logger zerolog.Logger

	mu        sync.Mutex
	published map[string]time.Time
}

// Connect dials the broker. Reconnects after a lost connection are handled
// by the paho client.
func Connect(cfg Config, logger zerolog.Logger) (*MQTT, error) {
	clientID := fmt.Sprintf("eon-poller-%d", time.Now().Unix())

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetWriteTimeout(10 * time.Second)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn().Err(err).Str("broker", cfg.Broker).Msg("MQTT connection lost, reconnecting")
	})
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info().Str("broker", cfg.Broker).Msg("Connected to MQTT broker")
	})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Broker, token.Error())
	}

	return newMQTT(client, cfg, logger), nil
}

func newMQTT(client broker, cfg Config, logger zerolog.Logger) *MQTT {
	prefix := strings.Trim(cfg.TopicPrefix, "/")
	if prefix == "" {
		prefix = "eon"
	}
	return &MQTT{
		client:    client,
		prefix:    prefix,
		retain:    cfg.Retain,
		logger:    logger,
		published: make(map[string]time.Time),
	}
}

// Topic returns the topic a contract's values are published on.
func (m *MQTT) Topic(accountContract string) string {
	return m.prefix + "/" + accountContract + "/values"
}

// Publish sends the values of one contract. A disconnected broker is an
// error; the caller logs it and carries on with the cycle.
func (m *MQTT) Publish(v values.Values) error {
	if !m.client.IsConnected() {
		publishTotal.WithLabelValues("disconnected").Inc()
		return fmt.Errorf("mqtt broker not connected")
	}

	payload, err := json.Marshal(v)
	if err != nil {
		publishTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("marshal values: %w", err)
	}

	topic := m.Topic(v.AccountContract)
	token := m.client.Publish(topic, 1, m.retain, payload)
	if !token.WaitTimeout(PublishTimeout) {
		publishTotal.WithLabelValues("timeout").Inc()
		return fmt.Errorf("publish to %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		publishTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("publish to %s: %w", topic, err)
	}

	m.mu.Lock()
	m.published[v.AccountContract] = time.Now()
	m.mu.Unlock()

	publishTotal.WithLabelValues("success").Inc()
	m.logger.Debug().Str("topic", topic).Int("bytes", len(payload)).Msg("Published contract values")
	return nil
}

// LastPublished returns when a contract's values were last published.
func (m *MQTT) LastPublished(accountContract string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.published[accountContract]
	return t, ok
}

// Close disconnects from the broker.
func (m *MQTT) Close() {
	m.client.Disconnect(250)
}
