package alerts

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/jordan-wright/email"
)

// Alert is one fire-risk notification.
type Alert struct {
	Type         string    `json:"type"`
	DeviceID     string    `json:"device_eui"`
	FriendlyID   string    `json:"node_id,omitempty"`
	TemperatureC float64   `json:"temperature_c"`
	Smoke        bool      `json:"smoke_detected"`
	At           time.Time `json:"at"`
}

func (a Alert) Text() string {
	var b strings.Builder
	b.WriteString("FIRE RISK DETECTED\n")
	fmt.Fprintf(&b, "Device EUI: %s\n", a.DeviceID)
	if a.FriendlyID != "" {
		fmt.Fprintf(&b, "Node: %s\n", a.FriendlyID)
	}
	fmt.Fprintf(&b, "Temp(C): %.1f\n", a.TemperatureC)
	fmt.Fprintf(&b, "Smoke: %t\n", a.Smoke)
	fmt.Fprintf(&b, "At: %s\n", a.At.Format(time.RFC3339))
	return b.String()
}

type Notifier interface {
	Name() string
	Notify(ctx context.Context, a Alert) error
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// EmailNotifier sends plain-text alerts over implicit TLS.
type EmailNotifier struct {
	cfg  SMTPConfig
	send func(e *email.Email, addr string, auth smtp.Auth, tlsCfg *tls.Config) error
}

func NewEmailNotifier(cfg SMTPConfig) *EmailNotifier {
	if cfg.Port == 0 {
		cfg.Port = 465
	}
	return &EmailNotifier{cfg: cfg, send: func(e *email.Email, addr string, auth smtp.Auth, tlsCfg *tls.Config) error {
		return e.SendWithTLS(addr, auth, tlsCfg)
	}}
}

func (n *EmailNotifier) Name() string { return "email" }

func (n *EmailNotifier) Notify(_ context.Context, a Alert) error {
	e := email.NewEmail()
	e.From = n.cfg.From
	e.To = n.cfg.To
	e.Subject = "Fire risk alert: " + a.DeviceID
	e.Text = []byte(a.Text())

	auth := smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	return n.send(e, fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port), auth, &tls.Config{ServerName: n.cfg.Host})
}

// Publisher is satisfied by the MQTT client.
type Publisher interface {
	Publish(topic string, payload []byte, retained bool) error
}

// MQTTNotifier publishes alerts as JSON on <prefix>/<device_eui>.
type MQTTNotifier struct {
	pub    Publisher
	prefix string
}

func NewMQTTNotifier(pub Publisher, prefix string) *MQTTNotifier {
	return &MQTTNotifier{pub: pub, prefix: strings.TrimRight(prefix, "/")}
}

func (n *MQTTNotifier) Name() string { return "mqtt" }

func (n *MQTTNotifier) Notify(_ context.Context, a Alert) error {
	b, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return n.pub.Publish(n.prefix+"/"+a.DeviceID, b, false)
}
