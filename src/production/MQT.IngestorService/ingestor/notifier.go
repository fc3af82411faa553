package mqtingestor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	logger "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Logger"
	metrics "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Metrics"
)

// Publisher sends a payload on a topic
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// refreshSignal is the payload dashboards listen for
type refreshSignal struct {
	Value      int64  `json:"value"`
	Timestamp  int64  `json:"timestamp"`
	ReportedAt string `json:"reportedAt"`
}

// Notifier publishes a refresh signal after every N successful writes, at
// most once per MinInterval. Record only bumps a counter; publishing happens
// in Run.
type Notifier struct {
	topic       string
	every       int64
	minInterval time.Duration
	publisher   Publisher
	logger      *logger.Logger
	metrics     *metrics.Metrics
	now         func() time.Time

	pending  atomic.Int64
	signal   chan struct{}
	lastSent time.Time
}

func NewNotifier(topic string, every int, minInterval time.Duration, pub Publisher, log *logger.Logger, m *metrics.Metrics) *Notifier {
	if every <= 0 {
		every = 1
	}
	return &Notifier{
		topic:       topic,
		every:       int64(every),
		minInterval: minInterval,
		publisher:   pub,
		logger:      log.WithComponent("notifier"),
		metrics:     m,
		now:         time.Now,
		signal:      make(chan struct{}, 1),
	}
}

// Enabled reports whether a refresh topic is configured
func (n *Notifier) Enabled() bool {
	return n != nil && n.topic != ""
}

// Record counts one successful write
func (n *Notifier) Record() {
	if !n.Enabled() {
		return
	}
	if n.pending.Add(1) >= n.every {
		select {
		case n.signal <- struct{}{}:
		default:
		}
	}
}

// Run publishes until ctx is done. A threshold reached inside the rate
// limit window is published when the window closes.
func (n *Notifier) Run(ctx context.Context) {
	if !n.Enabled() {
		return
	}
	tick := n.minInterval
	if tick <= 0 {
		tick = time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-n.signal:
			n.flush()
		case <-ticker.C:
			n.flush()
		}
	}
}

func (n *Notifier) flush() {
	if n.pending.Load() < n.every {
		return
	}
	now := n.now()
	if !n.lastSent.IsZero() && now.Sub(n.lastSent) < n.minInterval {
		return
	}

	count := n.pending.Swap(0)
	payload, err := json.Marshal(refreshSignal{
		Value:      count,
		Timestamp:  now.Unix(),
		ReportedAt: now.UTC().Format(time.RFC3339),
	})
	if err != nil {
		n.logger.Error().Err(err).Msg("Failed to marshal refresh signal")
		return
	}

	n.lastSent = now
	if err := n.publisher.Publish(n.topic, payload); err != nil {
		n.metrics.NotifyErrors.Inc()
		n.logger.Warn().Err(err).Str("topic", n.topic).Msg("Failed to publish refresh signal")
		return
	}
	n.metrics.NotificationsSent.Inc()
	n.logger.Debug().Str("topic", n.topic).Int64("writes", count).Msg("Published refresh signal")
}

// mqttPublisher adapts the ingestor's client to Publisher
type mqttPublisher struct {
	ingestor *Ingestor
	timeout  time.Duration
}

func (p mqttPublisher) Publish(topic string, payload []byte) error {
	c := p.ingestor.client()
	if c == nil || !c.IsConnectionOpen() {
		return fmt.Errorf("mqtt client not connected")
	}
	token := c.Publish(topic, p.ingestor.cfg.MQTT.QoS, false, payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	return token.Error()
}
