package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"citizenportal/internal/accounts"
	"citizenportal/internal/config"
	"citizenportal/internal/db"
	"citizenportal/internal/httpx"
	"citizenportal/internal/logging"
	"citizenportal/internal/metrics"
	"citizenportal/internal/token"
)

func main() {
	config.LoadDotEnv()
	cfg := config.LoadAuth()
	log := logging.New("auth", cfg.LogLevel)

	conn, err := db.Open(cfg.DBPath)
	if err != nil {
		log.WithError(err).Fatal("open db")
	}
	defer conn.Close()
	if err := accounts.InitSchema(conn); err != nil {
		log.WithError(err).Fatal("init schema")
	}

	tokens, err := token.NewManagerChecked(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		log.WithError(err).Fatal("token issuer")
	}

	store := accounts.NewStore(conn)
	if cfg.BootstrapAdmin {
		created, err := store.EnsureAdmin(context.Background(), cfg.BootstrapUser, cfg.BootstrapPass)
		if err != nil {
			log.WithError(err).Error("bootstrap admin")
		} else if created {
			log.WithField("username", cfg.BootstrapUser).Warn("bootstrap admin created; change its password")
		}
	}

	m := metrics.New("auth")

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: log, NoColor: true}))
	r.Use(m.Middleware)

	r.Get("/health", httpx.Health("auth"))
	r.Handle("/metrics", m.Handler())
	accounts.NewServer(store, tokens, cfg.InternalKey, log).Routes(r)

	srv := &http.Server{Addr: cfg.Addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.WithFields(logrus.Fields{"addr": cfg.Addr, "db": cfg.DBPath}).Info("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("listen")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
