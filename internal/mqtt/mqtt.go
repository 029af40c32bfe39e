// Package mqtt wraps the paho client with reconnect-safe subscriptions.
package mqtt

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const connectTimeout = 15 * time.Second

type Options struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
}

type Client struct {
	client mqtt.Client

	mu   sync.Mutex
	subs map[string]func(Message)
}

// Message is a received MQTT message.
type Message struct {
	Topic   string
	Payload []byte
}

// Connect dials the broker. mqtt:// URLs are rewritten to tcp://. Active
// subscriptions are restored after a reconnect.
func Connect(o Options) (*Client, error) {
	c := &Client{subs: map[string]func(Message){}}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(o.BrokerURL))
	clientID := strings.TrimSpace(o.ClientID)
	if clientID == "" {
		clientID = "lorawatch-" + time.Now().Format("150405.000")
	}
	opts.SetClientID(clientID)
	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(true)

	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		slog.Warn("mqtt connection lost", "error", err)
	}
	opts.OnConnect = func(pc mqtt.Client) {
		slog.Info("mqtt connected", "client_id", clientID)
		c.resubscribe(pc)
	}

	pc := mqtt.NewClient(opts)
	c.client = pc
	tok := pc.Connect()
	if ok := tok.WaitTimeout(connectTimeout); !ok {
		return nil, errors.New("mqtt connect timed out")
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return c, nil
}

func brokerURL(raw string) string {
	url := strings.TrimSpace(raw)
	if url == "" {
		url = "mqtt://localhost:1883"
	}
	if strings.HasPrefix(url, "mqtt://") {
		url = "tcp://" + strings.TrimPrefix(url, "mqtt://")
	}
	if strings.HasPrefix(url, "mqtts://") {
		url = "ssl://" + strings.TrimPrefix(url, "mqtts://")
	}
	return url
}

func (c *Client) Subscribe(topic string, handler func(Message)) error {
	c.mu.Lock()
	c.subs[topic] = handler
	c.mu.Unlock()
	return c.subscribe(c.client, topic, handler)
}

func (c *Client) subscribe(pc mqtt.Client, topic string, handler func(Message)) error {
	tok := pc.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		handler(Message{Topic: msg.Topic(), Payload: msg.Payload()})
	})
	tok.Wait()
	return tok.Error()
}

func (c *Client) resubscribe(pc mqtt.Client) {
	c.mu.Lock()
	subs := make(map[string]func(Message), len(c.subs))
	for t, h := range c.subs {
		subs[t] = h
	}
	c.mu.Unlock()
	for topic, h := range subs {
		if err := c.subscribe(pc, topic, h); err != nil {
			slog.Error("mqtt resubscribe failed", "topic", topic, "error", err)
		}
	}
}

// Publish sends payload at QoS 1 and waits for the broker to accept it.
func (c *Client) Publish(topic string, payload []byte, retained bool) error {
	tok := c.client.Publish(topic, 1, retained, payload)
	if ok := tok.WaitTimeout(connectTimeout); !ok {
		return fmt.Errorf("publish %s: timed out", topic)
	}
	return tok.Error()
}

func (c *Client) Close() {
	if c == nil || c.client == nil {
		return
	}
	c.client.Disconnect(1000)
}
