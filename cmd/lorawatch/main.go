package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/PetoAdam/lorawatch/internal/alerts"
	"github.com/PetoAdam/lorawatch/internal/backend"
	"github.com/PetoAdam/lorawatch/internal/config"
	"github.com/PetoAdam/lorawatch/internal/dashboard"
	"github.com/PetoAdam/lorawatch/internal/detail"
	"github.com/PetoAdam/lorawatch/internal/httpapi"
	"github.com/PetoAdam/lorawatch/internal/model"
	"github.com/PetoAdam/lorawatch/internal/mqtt"
	"github.com/PetoAdam/lorawatch/internal/observability"
	"github.com/PetoAdam/lorawatch/internal/poller"
	"github.com/PetoAdam/lorawatch/internal/realtime"
	"github.com/PetoAdam/lorawatch/internal/selection"
	"github.com/PetoAdam/lorawatch/internal/subscription"
	"github.com/PetoAdam/lorawatch/internal/viewport"
)

const serviceName = "lorawatch"

func main() {
	configPath := pflag.StringP("config", "c", "", "path to a YAML config file")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	observability.SetupLogging(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, promHandler, tracer, err := observability.Setup(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		slog.Error("observability setup failed", "error", err)
		os.Exit(1)
	}
	defer shutdownTelemetry()

	tokens, err := tokenSource(cfg.Backend)
	if err != nil {
		slog.Error("backend credentials", "error", err)
		os.Exit(1)
	}
	client := backend.New(cfg.Backend.URL, tokens,
		backend.WithLatestPath(cfg.Backend.LatestPath),
		backend.WithHTTPClient(&http.Client{Timeout: cfg.Backend.Timeout}),
	)
	sink := observability.NewLogSink(slog.Default())

	p := poller.New(client.Latest, sink)
	subs := subscription.NewStore(client, sink)
	if _, err := subs.Load(ctx); err != nil {
		slog.Warn("initial subscription load failed", "error", err)
	}
	fetcher := detail.NewFetcher(client, sink, cfg.Poll.Interval)
	defer fetcher.Close()

	dash := dashboard.New(dashboard.Deps{
		Poller:    p,
		Subs:      subs,
		Selection: selection.NewCoordinator(),
		Detail:    fetcher,
		Culler:    viewport.NewCuller(),
		Fallback:  &model.LatLng{Lat: cfg.Map.FallbackLat, Lon: cfg.Map.FallbackLon},
	})

	if cfg.Alerts.Enabled {
		var pub alerts.Publisher
		if cfg.MQTT.BrokerURL != "" {
			mq, err := mqtt.Connect(mqtt.Options{
				BrokerURL: cfg.MQTT.BrokerURL,
				ClientID:  cfg.MQTT.ClientID,
				Username:  cfg.MQTT.Username,
				Password:  cfg.MQTT.Password,
			})
			if err != nil {
				slog.Error("mqtt connect failed", "error", err)
				os.Exit(1)
			}
			defer mq.Close()
			pub = mq
		}
		engine, closeAlerts, err := alerts.FromConfig(cfg.Alerts, pub, sink)
		if err != nil {
			slog.Error("alerts setup failed", "error", err)
			os.Exit(1)
		}
		defer closeAlerts()
		p.OnPublish(func(c *poller.Collection) {
			if c.Err != nil {
				return
			}
			go engine.Evaluate(ctx, c.Nodes)
		})
	}

	hub := realtime.NewHub(cfg.Server.AllowedOrigins)
	defer hub.Close()
	api := httpapi.NewServer(dash, client, hub)

	polling := p.Start(ctx, cfg.Poll.Interval)
	defer polling.Stop()

	httpSrv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: api.Router(httpapi.RouterOptions{
			ServiceName:    serviceName,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			Metrics:        promHandler,
			Tracer:         tracer,
			Backend:        client.Health,
		}),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		slog.Info("lorawatch started", "addr", cfg.Server.Addr, "backend", cfg.Backend.URL, "poll_interval", cfg.Poll.Interval)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down")
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}

func tokenSource(cfg config.BackendConfig) (backend.TokenSource, error) {
	if cfg.PrivateKeyPath == "" {
		return backend.StaticToken(cfg.Token), nil
	}
	key, err := backend.LoadRSAPrivateKey(cfg.PrivateKeyPath)
	if err != nil {
		return nil, err
	}
	return backend.NewSignedTokenSource(key, cfg.Subject, cfg.TokenTTL), nil
}
