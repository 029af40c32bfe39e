package main

import (
	"context"
	"crypto/rsa"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/pflag"

	"github.com/PetoAdam/lorawatch/internal/alerts"
	"github.com/PetoAdam/lorawatch/internal/config"
	"github.com/PetoAdam/lorawatch/internal/ingest"
	authmw "github.com/PetoAdam/lorawatch/internal/middleware"
	"github.com/PetoAdam/lorawatch/internal/model"
	"github.com/PetoAdam/lorawatch/internal/mqtt"
	"github.com/PetoAdam/lorawatch/internal/nodeapi"
	"github.com/PetoAdam/lorawatch/internal/observability"
	"github.com/PetoAdam/lorawatch/internal/store"
)

const serviceName = "nodeapi"

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

	db, err := store.Open(cfg.NodeAPI.DBDriver, cfg.NodeAPI.DSN)
	if err != nil {
		slog.Error("database open failed", "driver", cfg.NodeAPI.DBDriver, "error", err)
		os.Exit(1)
	}
	repo, err := store.New(db)
	if err != nil {
		slog.Error("database migration failed", "error", err)
		os.Exit(1)
	}

	var pubKey *rsa.PublicKey
	if cfg.NodeAPI.PublicKeyPath != "" {
		if pubKey, err = authmw.LoadRSAPublicKey(cfg.NodeAPI.PublicKeyPath); err != nil {
			slog.Error("public key", "error", err)
			os.Exit(1)
		}
	} else {
		slog.Warn("nodeapi.public_key_path not set, subscription endpoints will reject every request")
	}

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

		ing, err := ingest.New(repo, cfg.NodeAPI.IngestPrefix)
		if err != nil {
			slog.Error("ingest setup failed", "error", err)
			os.Exit(1)
		}
		if cfg.Alerts.Enabled {
			engine, closeAlerts, err := alerts.FromConfig(cfg.Alerts, mq, observability.NewLogSink(slog.Default()))
			if err != nil {
				slog.Error("alerts setup failed", "error", err)
				os.Exit(1)
			}
			defer closeAlerts()
			ing.OnReading = func(ctx context.Context, n model.NodeSnapshot) {
				engine.Evaluate(ctx, []model.NodeSnapshot{n})
			}
		}
		if err := mq.Subscribe(ing.Topic(), func(m mqtt.Message) {
			_ = ing.HandleMessage(ctx, m.Topic, m.Payload, time.Now().UTC())
		}); err != nil {
			slog.Error("mqtt subscribe failed", "topic", ing.Topic(), "error", err)
			os.Exit(1)
		}
		slog.Info("ingesting uplinks", "topic", ing.Topic())
	}

	pruner := &nodeapi.Pruner{Repo: repo, Retention: cfg.NodeAPI.Retention}
	if cfg.NodeAPI.Retention > 0 {
		c, err := pruner.Schedule(ctx, cfg.NodeAPI.PruneSchedule)
		if err != nil {
			slog.Error("prune schedule", "spec", cfg.NodeAPI.PruneSchedule, "error", err)
			os.Exit(1)
		}
		defer c.Stop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(observability.MetricsAndTracingMiddleware(tracer, serviceName))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Handle("/metrics", promHandler)
	nodeapi.NewServer(repo, pubKey, "").RegisterRoutes(r)

	httpSrv := &http.Server{
		Addr:         cfg.NodeAPI.Addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("nodeapi started", "addr", cfg.NodeAPI.Addr, "driver", cfg.NodeAPI.DBDriver)
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
