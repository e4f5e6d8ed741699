// Command controller runs the delivery-robot fleet control plane described
// by spec.md: it wires the world-model client, route/move/token machinery,
// the notification pipeline and the HTTP surface together, then serves
// until an interrupt or terminate signal requests a graceful shutdown
// (teacher's core/agent.go ListenAndServe/Shutdown pattern).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/RoboticBase/uoa-poc2-controller/internal/config"
	"github.com/RoboticBase/uoa-poc2-controller/internal/feed"
	"github.com/RoboticBase/uoa-poc2-controller/internal/httpapi"
	"github.com/RoboticBase/uoa-poc2-controller/internal/move"
	"github.com/RoboticBase/uoa-poc2-controller/internal/notification"
	"github.com/RoboticBase/uoa-poc2-controller/internal/orchestrator"
	"github.com/RoboticBase/uoa-poc2-controller/internal/payload"
	"github.com/RoboticBase/uoa-poc2-controller/internal/roboticslock"
	"github.com/RoboticBase/uoa-poc2-controller/internal/telemetry"
	"github.com/RoboticBase/uoa-poc2-controller/internal/token"
	"github.com/RoboticBase/uoa-poc2-controller/internal/waypoint"
	"github.com/RoboticBase/uoa-poc2-controller/internal/worldmodel"
	"github.com/RoboticBase/uoa-poc2-controller/pkg/logger"

	"github.com/go-redis/redis/v8"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.NewDefaultLogger()
	log.SetLevel(cfg.LogLevel)

	client := worldmodel.New(worldmodel.Config{
		Endpoint:    cfg.WorldModelEndpoint,
		BearerToken: cfg.WorldModelToken,
		Timeout:     cfg.WorldModelTimeout,
	}, log)

	builder := payload.New(cfg.Location())

	resolver := waypoint.New(client, cfg.Service, cfg.ServicePath, waypoint.EntityTypes{
		Place:     cfg.PlaceType,
		RoutePlan: cfg.RoutePlanType,
	})

	mover := move.New(client, builder, cfg.Service, cfg.ServicePath, move.EntityTypes{
		DeliveryRobot: cfg.DeliveryRobotType,
	}, move.PollConfig{
		Interval:    cfg.PollInterval,
		MaxAttempts: cfg.MaxPollAttempts,
	}, log)

	dist, err := buildDistributedLock(cfg)
	if err != nil {
		return fmt.Errorf("failed to configure token distributed lock: %w", err)
	}

	meter := otel.Meter("fleet-controller")
	metrics, err := telemetry.New(meter)
	if err != nil {
		return fmt.Errorf("failed to build telemetry instruments: %w", err)
	}

	coordinator := token.New(client, builder, cfg.Service, cfg.ServicePath, token.EntityTypes{
		Token: cfg.TokenType,
	}, dist, log, metrics)

	throttle := notification.NewMemoryThrottleStore(cfg.Fleet)
	locks := roboticslock.New()
	recorder := feed.NewMemoryRecorder(500)

	pipeline := notification.New(client, builder, mover, coordinator, throttle, locks, recorder, notification.Config{
		Service:     cfg.Service,
		ServicePath: cfg.ServicePath,
		Types: notification.EntityTypes{
			DeliveryRobot: cfg.DeliveryRobotType,
			Place:         cfg.PlaceType,
			RobotUI:       cfg.RobotUIType,
		},
		UIIDTable:     cfg.UIIDTable,
		Interval:      cfg.ThrottleInterval,
		OrderingCalls: cfg.OrderingCalls,
	}, log)

	orch := orchestrator.New(
		client,
		builder,
		resolver,
		mover,
		pipeline,
		locks,
		recorder,
		metrics,
		cfg.Service,
		cfg.ServicePath,
		orchestrator.EntityTypes{
			DeliveryRobot: cfg.DeliveryRobotType,
			Place:         cfg.PlaceType,
			RoutePlan:     cfg.RoutePlanType,
			RobotUI:       cfg.RobotUIType,
		},
		cfg.Fleet,
		cfg.OrderingCalls,
		log,
	)

	handler := httpapi.New(orch, log)
	mux := http.NewServeMux()
	handler.Routes(mux)

	var wrapped http.Handler = mux
	wrapped = httpapi.LoggingMiddleware(log)(wrapped)
	wrapped = httpapi.CORSMiddleware(httpapi.DefaultCORSConfig(cfg.CORSOrigins))(wrapped)
	wrapped = httpapi.RequestIDMiddleware(wrapped)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: wrapped,
	}

	return serve(server, log)
}

func buildDistributedLock(cfg *config.Config) (token.DistributedLock, error) {
	if cfg.RedisURL == "" {
		return token.NoopLock{}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	return token.NewRedisLock(client, 10*time.Second, 20*time.Millisecond), nil
}

// serve starts server and blocks until an interrupt/terminate signal
// triggers a graceful shutdown (teacher's core/agent.go: ListenAndServe in
// the foreground, Shutdown on signal with a bounded context).
func serve(server *http.Server, log logger.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("starting HTTP server", map[string]interface{}{"address": server.Addr})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info("shutdown signal received", map[string]interface{}{"signal": sig.String()})
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return <-errCh
}
