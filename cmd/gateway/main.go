package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"citizenportal/internal/assets"
	"citizenportal/internal/authclient"
	"citizenportal/internal/authz"
	"citizenportal/internal/cache"
	"citizenportal/internal/catalog"
	"citizenportal/internal/config"
	"citizenportal/internal/db"
	"citizenportal/internal/httpx"
	"citizenportal/internal/idgen"
	"citizenportal/internal/logging"
	"citizenportal/internal/metrics"
	"citizenportal/internal/mq"
	"citizenportal/internal/reports"
	"citizenportal/internal/sse"
	"citizenportal/internal/token"
	"citizenportal/internal/upload"
)

func main() {
	config.LoadDotEnv()
	cfg := config.LoadGateway()
	log := logging.New("gateway", cfg.LogLevel)

	conn, err := db.Open(cfg.DBPath)
	if err != nil {
		log.WithError(err).Fatal("open db")
	}
	defer conn.Close()
	if err := db.InitSchema(conn); err != nil {
		log.WithError(err).Fatal("init schema")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New("gateway")
	loc := cfg.Location()

	// SSE hub fed by the broker, so every gateway instance sees every event.
	hub := sse.NewHub(log.WithField("component", "sse"))
	go hub.Run(ctx)

	mqttClient, err := mq.Connect(mq.Config{
		BrokerURL: cfg.MQTTBroker,
		ClientID:  cfg.MQTTClientID,
		Log:       log.WithField("component", "mqtt"),
		OnConnect: func(c mqtt.Client) {
			bridge := func(_ string, payload []byte) { hub.Broadcast(payload) }
			if err := mq.Subscribe(c, mq.TopicAll, bridge, log); err != nil {
				log.WithError(err).Error("mqtt subscribe")
			}
		},
	})
	if err != nil {
		log.WithError(err).Fatal("mqtt connect")
	}
	defer mqttClient.Disconnect(250)

	var viewCache reports.ViewCache
	if cfg.RedisAddr != "" {
		rc, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			log.WithError(err).Warn("tracking cache disabled")
		} else {
			defer rc.Close()
			viewCache = cache.NewRedis(rc, cfg.TrackCacheTTL)
		}
	}

	tokens, err := token.NewManagerChecked(cfg.JWTSecret, 0)
	if err != nil {
		log.WithError(err).Fatal("token verifier")
	}
	authC := authclient.New(cfg.AuthServiceURL, cfg.AuthInternalKey)

	uploader, err := upload.New(cfg.Upload)
	if err != nil {
		log.WithError(err).Fatal("upload backend")
	}

	repo := reports.NewRepository(conn)
	svc := reports.NewService(repo, idgen.NewTicketCodes(loc), reports.Options{
		Publisher: mq.NewPublisher(mqttClient),
		Cache:     viewCache,
		Directory: authC,
		Metrics:   m,
		Logger:    log.WithField("component", "reports"),
		Location:  loc,
	})
	tracker := reports.NewTracker(repo, viewCache, m, log.WithField("component", "tracking"))
	assetSvc := assets.NewService(conn, idgen.NewAssetSequencer(conn, loc), m, log.WithField("component", "assets"))

	limiter := httpx.NewRateLimiter(cfg.SubmitRateLimit, cfg.SubmitRateWindow)
	go limiter.RunCleanup(time.Minute, ctx.Done())

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: log, NoColor: true}))
	r.Use(m.Middleware)
	r.Use(authz.Authenticate(tokens))

	r.Get("/health", httpx.Health("gateway"))
	r.Handle("/metrics", m.Handler())

	// The stream outlives the request timeout below.
	r.With(authz.Require(authz.OpWatchEvents)).Get("/api/stream", hub.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(20 * time.Second))

		reports.NewAPI(svc, tracker, log.WithField("component", "reports")).Routes(r, limiter.Middleware)
		catalog.NewAPI(catalog.NewStore(conn), log.WithField("component", "catalog")).Routes(r)
		assets.NewAPI(assetSvc).Routes(r)
		upload.NewHandler(uploader, cfg.Upload.MaxBytes, log.WithField("component", "upload")).Routes(r, limiter.Middleware)
		authclient.NewAPI(authC, log.WithField("component", "auth")).Routes(r, limiter.Middleware)

		mountFiles(r, uploader, cfg.Upload.BaseURL)
	})

	srv := &http.Server{Addr: cfg.Addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		log.WithFields(logrus.Fields{
			"addr": cfg.Addr, "db": cfg.DBPath, "mqtt": cfg.MQTTBroker,
			"auth": cfg.AuthServiceURL, "upload": cfg.Upload.Backend,
		}).Info("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("listen")
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// mountFiles serves locally stored uploads when the public URL is a path on
// this gateway.
func mountFiles(r chi.Router, u upload.Uploader, baseURL string) {
	local, ok := u.(*upload.Local)
	if !ok || !strings.HasPrefix(baseURL, "/") {
		return
	}
	prefix := strings.TrimRight(baseURL, "/")
	r.Handle(prefix+"/*", http.StripPrefix(prefix+"/", http.FileServer(http.Dir(local.Dir()))))
}
