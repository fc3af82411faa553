package broker

import (
	"bytes"
	"fmt"
	"log/slog"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"
	logger "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Logger"
)

// Options configures the embedded broker
type Options struct {
	// Address is the TCP listen address, e.g. ":1883"
	Address string
	// Username and Password restrict access when set; otherwise all clients are allowed
	Username string
	Password string
}

// Broker is an in-process MQTT broker for single-node deployments and tests
type Broker struct {
	server *mochi.Server
	opts   Options
	logger *logger.Logger
}

func New(opts Options, log *logger.Logger) (*Broker, error) {
	if opts.Address == "" {
		return nil, fmt.Errorf("broker address is required")
	}
	log = log.WithComponent("broker")

	server := mochi.New(&mochi.Options{
		InlineClient: true,
		Logger:       slog.New(slog.NewTextHandler(*log.Logger, &slog.HandlerOptions{Level: slog.LevelWarn})),
	})

	if opts.Username != "" {
		err := server.AddHook(new(auth.Hook), &auth.Options{
			Ledger: &auth.Ledger{
				Auth: auth.AuthRules{
					{Username: auth.RString(opts.Username), Password: auth.RString(opts.Password), Allow: true},
				},
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to add auth hook: %w", err)
		}
	} else if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		return nil, fmt.Errorf("failed to add auth hook: %w", err)
	}

	if err := server.AddHook(&activityHook{logger: log}, nil); err != nil {
		return nil, fmt.Errorf("failed to add activity hook: %w", err)
	}

	tcp := listeners.NewTCP(listeners.Config{ID: "tcp", Type: "tcp", Address: opts.Address})
	if err := server.AddListener(tcp); err != nil {
		return nil, fmt.Errorf("failed to add TCP listener on %s: %w", opts.Address, err)
	}

	return &Broker{server: server, opts: opts, logger: log}, nil
}

// Start begins accepting connections; it does not block
func (b *Broker) Start() error {
	if err := b.server.Serve(); err != nil {
		return fmt.Errorf("failed to start broker: %w", err)
	}
	b.logger.Logger.Info().Str("address", b.opts.Address).Msg("Embedded MQTT broker listening")
	return nil
}

// Publish injects a message through the inline client
func (b *Broker) Publish(topic string, payload []byte, retain bool, qos byte) error {
	return b.server.Publish(topic, payload, retain, qos)
}

func (b *Broker) Close() error {
	return b.server.Close()
}

// activityHook logs client sessions
type activityHook struct {
	mochi.HookBase
	logger *logger.Logger
}

func (h *activityHook) ID() string {
	return "activity-log"
}

func (h *activityHook) Provides(b byte) bool {
	return bytes.Contains([]byte{
		mochi.OnConnect,
		mochi.OnDisconnect,
	}, []byte{b})
}

func (h *activityHook) OnConnect(cl *mochi.Client, pk packets.Packet) error {
	h.logger.Debug().Str("client_id", cl.ID).Str("remote", cl.Net.Remote).Msg("Client connected")
	return nil
}

func (h *activityHook) OnDisconnect(cl *mochi.Client, err error, expire bool) {
	ev := h.logger.Debug()
	if err != nil {
		ev = h.logger.Warn().Err(err)
	}
	ev.Str("client_id", cl.ID).Bool("expire", expire).Msg("Client disconnected")
}
