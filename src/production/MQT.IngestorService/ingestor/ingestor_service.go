package mqtingestor

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	config "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Config"
	logger "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Logger"
	metrics "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Metrics"
)

// ErrorTopicPrefix is where dropped messages are reported
const ErrorTopicPrefix = "ingestor/errors/"

// ConnectionState tracks the broker session
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateSubscribed
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateSubscribed:
		return "subscribed"
	default:
		return "disconnected"
	}
}

type inboundMessage struct {
	topic   string
	payload []byte
}

// Ingestor subscribes to sensor topics and runs every message through
// classify, normalize and persist. Messages are sharded by topic so each
// topic is processed in delivery order.
type Ingestor struct {
	cfg        *config.IngestorConfig
	classifier *Classifier
	normalizer *Normalizer
	gateway    ReadingAppender
	logger     *logger.Logger
	metrics    *metrics.Metrics

	clientMu   sync.RWMutex
	mqttClient mqtt.Client

	// mu guards closing the shards against concurrent sends
	mu     sync.RWMutex
	shards []chan inboundMessage
	closed bool

	wg       sync.WaitGroup
	state    atomic.Int32
	stopOnce sync.Once
}

func New(cfg *config.IngestorConfig, classifier *Classifier, gateway ReadingAppender, log *logger.Logger, m *metrics.Metrics) *Ingestor {
	workers := cfg.Ingest.Workers
	if workers <= 0 {
		workers = 1
	}
	perShard := cfg.Ingest.QueueSize / workers
	if perShard < 1 {
		perShard = 1
	}

	shards := make([]chan inboundMessage, workers)
	for n := range shards {
		shards[n] = make(chan inboundMessage, perShard)
	}

	return &Ingestor{
		cfg:        cfg,
		classifier: classifier,
		normalizer: NewNormalizer(log),
		gateway:    gateway,
		logger:     log.WithComponent("ingestor"),
		metrics:    m,
		shards:     shards,
	}
}

// Publisher returns a Publisher backed by the ingestor's broker connection
func (i *Ingestor) Publisher() Publisher {
	return mqttPublisher{ingestor: i, timeout: 5 * time.Second}
}

// Start launches the workers and connects to the broker. It fails if the
// first connection is not up within MQTT.ConnectTimeout.
func (i *Ingestor) Start(ctx context.Context) error {
	i.startWorkers(ctx)

	opts, err := i.clientOptions()
	if err != nil {
		return err
	}

	c := mqtt.NewClient(opts)
	i.clientMu.Lock()
	i.mqttClient = c
	i.clientMu.Unlock()

	i.setState(StateConnecting)
	tk := c.Connect()
	if !tk.WaitTimeout(i.cfg.MQTT.ConnectTimeout) {
		c.Disconnect(0)
		i.setState(StateDisconnected)
		return fmt.Errorf("timed out connecting to %s", i.cfg.MQTT.BrokerURL())
	}
	if err := tk.Error(); err != nil {
		i.setState(StateDisconnected)
		return fmt.Errorf("failed to connect to %s: %w", i.cfg.MQTT.BrokerURL(), err)
	}
	return nil
}

// startWorkers runs one worker per shard. Workers outlive ctx and exit
// when Stop closes the shards.
func (i *Ingestor) startWorkers(ctx context.Context) {
	workCtx := context.WithoutCancel(ctx)
	for n, ch := range i.shards {
		i.wg.Add(1)
		go func(n int, ch <-chan inboundMessage) {
			defer i.wg.Done()
			i.worker(workCtx, n, ch)
		}(n, ch)
	}
}

func (i *Ingestor) clientOptions() (*mqtt.ClientOptions, error) {
	m := i.cfg.MQTT
	clientID := m.ClientID
	if clientID == "" {
		clientID = "sensors-ingestor-" + uuid.NewString()[:8]
	}

	opts := mqtt.NewClientOptions().
		AddBroker(m.BrokerURL()).
		SetClientID(clientID).
		SetOrderMatters(true).
		SetKeepAlive(m.KeepAlive).
		SetPingTimeout(m.PingTimeout).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(m.ConnectRetryInterval).
		SetCleanSession(false)

	if m.BrokerUser != "" {
		opts.SetUsername(m.BrokerUser)
		opts.SetPassword(m.BrokerPass)
	}

	if m.SecureScheme() {
		tlsCfg, err := tlsConfig(m.CACertPath)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		i.setState(StateDisconnected)
		i.logger.Error().Err(err).Msg("MQTT connection lost")
	})
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		i.setState(StateConnecting)
	})
	opts.SetOnConnectHandler(i.onConnect)
	return opts, nil
}

// onConnect (re)subscribes the whole filter set. Subscribing again to the
// same filters replaces the broker-side subscription.
func (i *Ingestor) onConnect(c mqtt.Client) {
	i.setState(StateConnected)

	filters := i.subscriptionFilters()
	i.logger.Logger.Info().Interface("filters", filters).Msg("MQTT connected, subscribing")

	token := c.SubscribeMultiple(filters, i.onMessage)
	if !token.WaitTimeout(i.cfg.MQTT.ConnectTimeout) {
		i.logger.Error().Msg("Timed out subscribing to MQTT topics")
		return
	}
	if err := token.Error(); err != nil {
		i.logger.Error().Err(err).Msg("Failed to subscribe to MQTT topics")
		return
	}
	i.setState(StateSubscribed)
}

func (i *Ingestor) subscriptionFilters() map[string]byte {
	filters := make(map[string]byte, len(i.cfg.MQTT.Topics))
	for _, t := range i.cfg.MQTT.Topics {
		filters[sharedFilter(i.cfg.MQTT.SharedGroup, t)] = i.cfg.MQTT.QoS
	}
	return filters
}

func sharedFilter(group, topic string) string {
	if group == "" {
		return topic
	}
	return fmt.Sprintf("$share/%s/%s", group, topic)
}

// onMessage only enqueues; it blocks when the shard is full
func (i *Ingestor) onMessage(_ mqtt.Client, m mqtt.Message) {
	i.Enqueue(m.Topic(), m.Payload())
}

// Enqueue hands a message to the worker owning its topic
func (i *Ingestor) Enqueue(topic string, payload []byte) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if i.closed {
		i.metrics.MessagesDropped.WithLabelValues(metrics.ReasonQueueClosed).Inc()
		i.logger.Warn().Str("topic", topic).Msg("Dropping message received during shutdown")
		return
	}

	msg := inboundMessage{topic: topic, payload: append([]byte(nil), payload...)}
	i.metrics.QueueDepth.Inc()
	i.shards[shardFor(topic, len(i.shards))] <- msg
}

func shardFor(topic string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(topic))
	return int(h.Sum32() % uint32(n))
}

func (i *Ingestor) worker(ctx context.Context, n int, ch <-chan inboundMessage) {
	for msg := range ch {
		i.metrics.QueueDepth.Dec()
		if err := i.handle(ctx, msg.topic, msg.payload); err != nil {
			i.logger.Debug().Err(err).Int("worker", n).Str("topic", msg.topic).Msg("Message dropped")
		}
	}
}

// handle runs one message through the pipeline. Every failure, panics
// included, ends here and is reported, never propagated to the loop.
func (i *Ingestor) handle(ctx context.Context, topic string, payload []byte) (err error) {
	if i.isOwnTopic(topic) {
		i.logger.Debug().Str("topic", topic).Msg("Ignoring message on an ingestor output topic")
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while handling message: %v", r)
			i.metrics.MessagesDropped.WithLabelValues(metrics.ReasonPanic).Inc()
			i.logger.Error().Str("topic", topic).Interface("panic", r).Msg("Recovered from panic in message handler")
		}
	}()

	class, err := i.classifier.Classify(topic)
	if err != nil {
		i.metrics.MessagesReceived.WithLabelValues("unclassified").Inc()
		i.metrics.MessagesDropped.WithLabelValues(metrics.ReasonClassification).Inc()
		i.logger.Warn().Err(err).Str("topic", topic).Msg("Dropping unclassifiable message")
		i.publishError(class.BikeIdentifier, class.Fragment, "classification", err.Error())
		return err
	}

	i.metrics.MessagesReceived.WithLabelValues(string(class.DeviceType)).Inc()

	reading, err := i.normalizer.Normalize(topic, class, payload)
	if err != nil {
		i.metrics.MessagesDropped.WithLabelValues(metrics.ReasonMalformed).Inc()
		i.logger.Warn().Err(err).Str("topic", topic).Str("payload", truncate(string(payload), 128)).Msg("Dropping malformed payload")
		i.publishError(class.BikeIdentifier, class.Fragment, "malformed_payload", err.Error())
		return err
	}

	if _, err := i.gateway.Append(ctx, reading); err != nil {
		i.metrics.MessagesDropped.WithLabelValues(metrics.ReasonPersist).Inc()
		i.publishError(class.BikeIdentifier, class.Fragment, "persist", err.Error())
		return err
	}
	return nil
}

// Stop unsubscribes, disconnects and drains the queues. Safe to call twice.
func (i *Ingestor) Stop(ctx context.Context) {
	i.stopOnce.Do(func() {
		if c := i.client(); c != nil {
			if c.IsConnectionOpen() {
				filters := make([]string, 0, len(i.cfg.MQTT.Topics))
				for f := range i.subscriptionFilters() {
					filters = append(filters, f)
				}
				if tk := c.Unsubscribe(filters...); !tk.WaitTimeout(2*time.Second) || tk.Error() != nil {
					i.logger.Warn().Err(tk.Error()).Msg("Unsubscribe did not complete cleanly")
				}
			}
			c.Disconnect(500)
		}
		i.setState(StateDisconnected)

		i.mu.Lock()
		i.closed = true
		for _, ch := range i.shards {
			close(ch)
		}
		i.mu.Unlock()

		done := make(chan struct{})
		go func() {
			i.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			i.logger.Info("Ingestor queues drained")
		case <-ctx.Done():
			i.logger.Warn().Err(ctx.Err()).Msg("Ingestor stopped before queues drained")
		}
	})
}

// IsConnected reports whether the broker connection is up
func (i *Ingestor) IsConnected() bool {
	c := i.client()
	return c != nil && c.IsConnectionOpen()
}

// State returns the current connection state
func (i *Ingestor) State() ConnectionState {
	return ConnectionState(i.state.Load())
}

func (i *Ingestor) setState(s ConnectionState) {
	prev := ConnectionState(i.state.Swap(int32(s)))
	i.metrics.ConnectionState.Set(float64(s))
	if prev != s {
		i.logger.Logger.Info().Str("from", prev.String()).Str("to", s.String()).Msg("MQTT connection state changed")
	}
}

func (i *Ingestor) client() mqtt.Client {
	i.clientMu.RLock()
	defer i.clientMu.RUnlock()
	return i.mqttClient
}

func tlsConfig(caFile string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if caFile == "" {
		return cfg, nil
	}
	ca, err := os.ReadFile(caFile)
	if err != nil {
		return nil, err
	}
	cp := x509.NewCertPool()
	if !cp.AppendCertsFromPEM(ca) {
		return nil, fmt.Errorf("bad CA file")
	}
	cfg.RootCAs = cp
	return cfg, nil
}

// isOwnTopic reports whether topic is one the ingestor publishes to. Broad
// filters such as "#" also match these.
func (i *Ingestor) isOwnTopic(topic string) bool {
	if strings.HasPrefix(topic, ErrorTopicPrefix) {
		return true
	}
	return i.cfg.Notifier.Topic != "" && topic == i.cfg.Notifier.Topic
}

// publishError reports a dropped message on ingestor/errors/<bike>/<fragment>
func (i *Ingestor) publishError(bike, fragment, errorType, message string) {
	if !i.cfg.MQTT.ErrorTopicEnabled {
		return
	}
	c := i.client()
	if c == nil || !c.IsConnectionOpen() {
		return
	}
	if bike == "" {
		bike = "unknown"
	}
	if fragment == "" {
		fragment = "unknown"
	}

	payloadJSON, err := json.Marshal(map[string]interface{}{
		"error_type": errorType,
		"message":    message,
		"bike":       bike,
		"fragment":   fragment,
		"timestamp":  time.Now().UTC(),
	})
	if err != nil {
		i.logger.Error().Err(err).Msg("Failed to marshal error payload")
		return
	}

	errorTopic := ErrorTopicPrefix + bike + "/" + fragment
	token := c.Publish(errorTopic, 0, false, payloadJSON)
	// workers must not wait on the broker for long
	if !token.WaitTimeout(time.Second) {
		i.logger.Warn().Str("topic", errorTopic).Msg("Timed out publishing error")
		return
	}
	if err := token.Error(); err != nil && !errors.Is(err, mqtt.ErrNotConnected) {
		i.logger.Error().Err(err).Str("topic", errorTopic).Msg("Failed to publish error")
	}
}
