package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	alarmapp "battmon-cloud/internal/alarms/application"
	alarms "battmon-cloud/internal/alarms/domain"
	alarmrepo "battmon-cloud/internal/alarms/infrastructure/postgres"
	alarmhttp "battmon-cloud/internal/alarms/interfaces/http"
	alarmnotify "battmon-cloud/internal/alarms/notify"
	"battmon-cloud/internal/config"
	"battmon-cloud/internal/observability/metrics"
	"battmon-cloud/internal/realtime"
	"battmon-cloud/internal/telemetry/application"
	telemetrypostgres "battmon-cloud/internal/telemetry/infrastructure/postgres"
	telemetryhttp "battmon-cloud/internal/telemetry/interfaces/http"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := log.New(os.Stdout, "", log.LstdFlags)

	if cfg.DatabaseURL == "" {
		logger.Fatal("DATABASE_URL or PG_DSN is required")
	}
	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	metrics.Init()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	hub := realtime.NewHub(logger)
	dispatcher := realtime.NewDispatcher(hub, cfg.DispatcherBuffer, logger)
	go dispatcher.Start(ctx)

	queue := application.NewBatchQueue(cfg.QueueCapacity)
	service := application.NewService(application.ServiceConfig{
		OfflineThreshold: cfg.OfflineThreshold,
		CleanupThreshold: cfg.CleanupThreshold,
		BatchMaxItems:    cfg.BatchMaxItems,
	}, queue, dispatcher, logger)
	defer service.Close()
	go service.StartSweep(ctx, cfg.SweepInterval)
	go service.StartMonitor(ctx, cfg.MonitorInterval)

	channelRepo := telemetrypostgres.NewChannelRepository(db)
	signalRepo := telemetrypostgres.NewSignalRepository(db)
	sensorRepo := telemetrypostgres.NewSensorRepository(db)
	flusher := application.NewFlusher(queue, service, channelRepo, signalRepo, sensorRepo, cfg.DrainBatchCap, logger)
	go flusher.Start(ctx, cfg.FlushInterval)

	alarmRepo, err := alarmrepo.NewAlarmRepository(db)
	if err != nil {
		logger.Fatalf("alarm repository error: %v", err)
	}
	alarmSinks := []alarmnotify.AlarmSink{dispatcher}
	if cfg.AlarmWebhookURL != "" {
		channel, err := alarmnotify.NewWebhookChannel(cfg.AlarmWebhookURL)
		if err != nil {
			logger.Fatalf("alarm webhook error: %v", err)
		}
		tpl, err := alarmnotify.NewTemplate(cfg.AlarmNotifyTemplate)
		if err != nil {
			logger.Fatalf("alarm template error: %v", err)
		}
		webhookNotifier, err := alarmnotify.NewNotifier(channel, tpl,
			alarmnotify.WithMinLevel(alarms.Level(cfg.AlarmNotifyMinLevel)),
			alarmnotify.WithCooldown(cfg.AlarmNotifyCooldown),
			alarmnotify.WithDedupeWindow(cfg.AlarmNotifyDedupeWindow),
			alarmnotify.WithRequestTimeout(cfg.AlarmNotifyTimeout),
		)
		if err != nil {
			logger.Fatalf("alarm notifier error: %v", err)
		}
		alarmSinks = append(alarmSinks, webhookNotifier)
	}
	alarmService, err := alarmapp.NewService(alarmRepo, alarmnotify.NewMultiNotifier(alarmSinks...), logger)
	if err != nil {
		logger.Fatalf("alarm service error: %v", err)
	}
	alarmHandler, err := alarmhttp.NewHandler(alarmService, logger)
	if err != nil {
		logger.Fatalf("alarm handler error: %v", err)
	}

	telemetryHandler, err := telemetryhttp.NewHandler(service, alarmService, cfg.Version, logger)
	if err != nil {
		logger.Fatalf("telemetry handler error: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/api/v1/telemetry/", telemetryHandler)
	mux.Handle("/api/v1/equipment/online", telemetryHandler)
	mux.Handle("/api/v1/alarms", alarmHandler)
	mux.Handle("/api/v1/alarms/", alarmHandler)
	mux.HandleFunc("/ws/dashboard", func(w http.ResponseWriter, r *http.Request) {
		realtime.ServeWS(hub, w, r)
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(mux, logger)}
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Printf("http shutdown error: %v", err)
		}
	}()

	logger.Printf("http listening on %s (version %s)", cfg.HTTPAddr, cfg.Version)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("http server error: %v", err)
	}
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrade take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}
