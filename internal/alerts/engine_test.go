package alerts

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/jordan-wright/email"

	"github.com/PetoAdam/lorawatch/internal/model"
)

type recordingNotifier struct {
	alerts []Alert
	err    error
}

func (r *recordingNotifier) Name() string { return "recording" }

func (r *recordingNotifier) Notify(_ context.Context, a Alert) error {
	r.alerts = append(r.alerts, a)
	return r.err
}

func TestEvaluateFireRiskWithCooldown(t *testing.T) {
	cd := NewMemoryCooldown(5 * time.Minute)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cd.now = func() time.Time { return now }
	rec := &recordingNotifier{}
	e := NewEngine(50, cd, nil, rec)

	nodes := []model.NodeSnapshot{
		{DeviceID: "smoky", SmokeDetected: true},
		{DeviceID: "hot", TemperatureC: 51},
		{DeviceID: "edge", TemperatureC: 50},
	}
	if got := e.Evaluate(context.Background(), nodes); len(got) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(got))
	}
	now = now.Add(time.Minute)
	if got := e.Evaluate(context.Background(), nodes); len(got) != 0 {
		t.Fatalf("expected cooldown to suppress repeats, got %d", len(got))
	}
	now = now.Add(5 * time.Minute)
	if got := e.Evaluate(context.Background(), nodes); len(got) != 2 {
		t.Fatalf("expected alerts after cooldown, got %d", len(got))
	}
	if len(rec.alerts) != 4 || rec.alerts[0].Type != TypeFireRisk {
		t.Fatalf("unexpected notifications %+v", rec.alerts)
	}
}

func TestNotifierFailureIsReported(t *testing.T) {
	var reported []string
	sink := sinkFunc(func(err error) { reported = append(reported, err.Error()) })
	e := NewEngine(50, nil, sink, &recordingNotifier{err: errors.New("smtp down")})
	if got := e.Evaluate(context.Background(), []model.NodeSnapshot{{DeviceID: "A", SmokeDetected: true}}); len(got) != 1 {
		t.Fatalf("expected alert raised despite notifier failure")
	}
	if len(reported) != 1 || !strings.Contains(reported[0], "smtp down") {
		t.Fatalf("unexpected reports %v", reported)
	}
}

type publisher struct {
	topic   string
	payload []byte
}

func (p *publisher) Publish(topic string, payload []byte, _ bool) error {
	p.topic, p.payload = topic, payload
	return nil
}

func TestMQTTNotifierTopic(t *testing.T) {
	p := &publisher{}
	n := NewMQTTNotifier(p, "lorawatch/alerts/")
	if err := n.Notify(context.Background(), Alert{Type: TypeFireRisk, DeviceID: "A1"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	var a Alert
	if p.topic != "lorawatch/alerts/A1" || json.Unmarshal(p.payload, &a) != nil || a.DeviceID != "A1" {
		t.Fatalf("unexpected publish %s %s", p.topic, p.payload)
	}
}

func TestEmailNotifierBuildsMessage(t *testing.T) {
	n := NewEmailNotifier(SMTPConfig{Host: "smtp.example.com", From: "alerts@example.com", To: []string{"ops@example.com"}})
	var addr string
	var sent *email.Email
	n.send = func(e *email.Email, a string, _ smtp.Auth, _ *tls.Config) error {
		sent, addr = e, a
		return nil
	}
	if err := n.Notify(context.Background(), Alert{DeviceID: "A1", TemperatureC: 72, Smoke: true}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if addr != "smtp.example.com:465" || sent.Subject != "Fire risk alert: A1" {
		t.Fatalf("unexpected send addr=%s subject=%s", addr, sent.Subject)
	}
	if !strings.Contains(string(sent.Text), "Smoke: true") {
		t.Fatalf("unexpected body %s", sent.Text)
	}
}

type sinkFunc func(error)

func (f sinkFunc) Report(_ context.Context, _ string, err error) { f(err) }
