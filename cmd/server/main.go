package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/iliyamo/ration-booking/internal/config"
	"github.com/iliyamo/ration-booking/internal/database"
	"github.com/iliyamo/ration-booking/internal/handler"
	"github.com/iliyamo/ration-booking/internal/logger"
	"github.com/iliyamo/ration-booking/internal/middleware"
	"github.com/iliyamo/ration-booking/internal/obs"
	"github.com/iliyamo/ration-booking/internal/queue"
	"github.com/iliyamo/ration-booking/internal/repository"
	"github.com/iliyamo/ration-booking/internal/router"
	"github.com/iliyamo/ration-booking/internal/service"
)

const serviceName = "ration-booking"

func main() {
	_ = godotenv.Load() // .env is optional

	cfg, err := config.Load()
	if err != nil {
		logger.New(logger.Config{Service: serviceName}).Fatal("invalid configuration", "err", err)
	}
	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Service: serviceName})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := obs.InitTracer(ctx, serviceName, cfg.Env, cfg.OTelEndpoint)
	if err != nil {
		log.Fatal("init tracer", "err", err)
	}

	db, err := database.Open(ctx, cfg.Database())
	if err != nil {
		log.Fatal("open database", "err", err)
	}
	defer db.Close()
	if cfg.DBMigrate {
		if err := database.Migrate(ctx, db, "mysql", log); err != nil {
			log.Fatal("migrate database", "err", err)
		}
	}

	rdb := config.NewRedisClient(cfg.Redis)
	if rdb == nil {
		log.Warn("redis unreachable, running without response cache, rate limit and citizen cache", "addr", cfg.Redis.Addr)
	} else {
		defer rdb.Close()
	}

	citizenRepo := repository.NewCitizenRepo(db)
	opts := service.Options{
		BaseURL:      cfg.BaseURL,
		SlotCapacity: cfg.SlotCapacity,
		MaxAttempts:  cfg.BookingMaxAttempts,
		RetryBase:    cfg.BookingRetryBase,
		Location:     cfg.Location(),
		Profiles:     citizenRepo,
		Logger:       log,
	}
	if cfg.EventsEnabled {
		pub := queue.NewPublisher(cfg.RabbitURL)
		defer pub.Close()
		opts.Events = pub
	}
	svc := service.NewBookingService(
		repository.NewSlotRepo(db),
		repository.NewBookingRepo(db),
		service.NewCachedDirectory(citizenRepo, rdb, cfg.CitizenCacheTTL, log),
		opts,
	)

	if cfg.EventsEnabled && cfg.ConsumerEnabled {
		consumer := &queue.Consumer{URL: cfg.RabbitURL, LogDir: cfg.BookingLogDir, Log: log.With("component", "booking-consumer")}
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("booking consumer stopped", "err", err)
			}
		}()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewRequestValidator()
	e.Use(echomw.Recover())
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			level := slog.LevelInfo
			if v.Error != nil || v.Status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			log.LogAttrs(c.Request().Context(), level, "request",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.Any("err", v.Error),
			)
			return nil
		},
	}))

	router.RegisterRoutes(e, db)
	router.RegisterPublic(e, handler.NewPublicHandler(svc, log), middleware.NewRedisCache(cfg.Cache, rdb, log))
	router.RegisterCitizen(e, handler.NewCitizenHandler(svc, log), cfg.JWTSecret, middleware.NewTokenBucket(cfg.RateLimit, rdb, log))

	go func() {
		log.Info("listening", "addr", ":"+cfg.Port, "env", cfg.Env)
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server", "err", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", "err", err)
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		log.Error("tracer shutdown", "err", err)
	}
}
