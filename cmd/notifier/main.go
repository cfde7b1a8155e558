package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"citizenportal/internal/config"
	"citizenportal/internal/httpx"
	"citizenportal/internal/logging"
	"citizenportal/internal/mq"
	"citizenportal/internal/notify"
)

func main() {
	config.LoadDotEnv()
	cfg := config.LoadNotifier()
	log := logging.New("notifier", cfg.LogLevel)

	ring := notify.NewRing(cfg.EventBufferSize)
	onMessage := notify.Handler(ring, log, time.Now)

	client, err := mq.Connect(mq.Config{
		BrokerURL: cfg.MQTTBroker,
		ClientID:  cfg.MQTTClientID,
		Log:       log.WithField("component", "mqtt"),
		OnConnect: func(c mqtt.Client) {
			if err := mq.Subscribe(c, mq.TopicAll, onMessage, log); err != nil {
				log.WithError(err).Error("mqtt subscribe")
			}
		},
	})
	if err != nil {
		log.WithError(err).Fatal("mqtt connect")
	}
	defer client.Disconnect(250)

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/health", httpx.Health("notifier"))
	r.Get("/events", func(w http.ResponseWriter, _ *http.Request) {
		events := ring.Snapshot()
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"count":  len(events),
			"total":  ring.Total(),
			"events": events,
		})
	})

	srv := &http.Server{Addr: cfg.Addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.WithFields(logrus.Fields{"addr": cfg.Addr, "mqtt": cfg.MQTTBroker}).Info("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("listen")
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info("stopped")
}
