package broker

import (
	"fmt"
	"net"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	logger "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Logger"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func startBroker(t *testing.T, opts Options) *Broker {
	t.Helper()
	b, err := New(opts, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, b.Start())
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func connect(t *testing.T, addr, user, pass string) (mqtt.Client, error) {
	t.Helper()
	opts := mqtt.NewClientOptions().
		AddBroker("tcp://" + addr).
		SetClientID(fmt.Sprintf("test-%d", time.Now().UnixNano())).
		SetUsername(user).
		SetPassword(pass).
		SetConnectTimeout(2 * time.Second)
	c := mqtt.NewClient(opts)
	tk := c.Connect()
	if !tk.WaitTimeout(3 * time.Second) {
		return nil, fmt.Errorf("connect timed out")
	}
	if err := tk.Error(); err != nil {
		return nil, err
	}
	t.Cleanup(func() { c.Disconnect(100) })
	return c, nil
}

func TestBrokerDeliversInlinePublish(t *testing.T) {
	addr := freeAddr(t)
	b := startBroker(t, Options{Address: addr})

	c, err := connect(t, addr, "", "")
	require.NoError(t, err)

	got := make(chan string, 1)
	tk := c.Subscribe("dashboard/refresh", 1, func(_ mqtt.Client, m mqtt.Message) {
		got <- string(m.Payload())
	})
	require.True(t, tk.WaitTimeout(2*time.Second))
	require.NoError(t, tk.Error())

	require.NoError(t, b.Publish("dashboard/refresh", []byte(`{"value":1}`), false, 1))

	select {
	case msg := <-got:
		assert.Equal(t, `{"value":1}`, msg)
	case <-time.After(3 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestBrokerRequiresCredentialsWhenConfigured(t *testing.T) {
	addr := freeAddr(t)
	startBroker(t, Options{Address: addr, Username: "ingestor", Password: "secret"})

	_, err := connect(t, addr, "ingestor", "wrong")
	assert.Error(t, err)

	_, err = connect(t, addr, "ingestor", "secret")
	assert.NoError(t, err)
}

func TestNewRequiresAddress(t *testing.T) {
	_, err := New(Options{}, logger.Nop())
	assert.Error(t, err)
}
