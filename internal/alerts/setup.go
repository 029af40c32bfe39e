package alerts

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/PetoAdam/lorawatch/internal/config"
	"github.com/PetoAdam/lorawatch/internal/observability"
)

// FromConfig builds an engine from the alerts section. The cooldown is
// shared through Redis when a URL is configured. pub may be nil, in which
// case no MQTT notifier is added. The returned close func releases Redis.
func FromConfig(cfg config.AlertsConfig, pub Publisher, sink observability.Sink) (*Engine, func(), error) {
	closeFn := func() {}
	var cooldown Cooldown = NewMemoryCooldown(cfg.Cooldown)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		cooldown = NewRedisCooldown(rdb, "", cfg.Cooldown)
		closeFn = func() { _ = rdb.Close() }
	}

	var notifiers []Notifier
	if cfg.SMTP.Host != "" && len(cfg.SMTP.To) > 0 {
		notifiers = append(notifiers, NewEmailNotifier(SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			To:       cfg.SMTP.To,
		}))
	}
	if pub != nil {
		notifiers = append(notifiers, NewMQTTNotifier(pub, cfg.MQTTPrefix))
	}
	return NewEngine(cfg.TempThresholdC, cooldown, sink, notifiers...), closeFn, nil
}
