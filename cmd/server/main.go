package main // Entry point package

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ryokun6/chatsync/internal/auth"
	"github.com/ryokun6/chatsync/internal/config"
	"github.com/ryokun6/chatsync/internal/handler"
	"github.com/ryokun6/chatsync/internal/ratelimit"
	"github.com/ryokun6/chatsync/internal/realtime"
	"github.com/ryokun6/chatsync/internal/repository"
	"github.com/ryokun6/chatsync/internal/router"
	"github.com/ryokun6/chatsync/internal/service"
)

func main() {
	cfg := config.Load()

	// Redis backs sessions, rooms and rate limiting. Without it the
	// process still serves traffic out of an in-memory store, which is
	// enough for local development but loses state across restarts.
	var kv repository.KV
	if client := config.NewRedisClient(); client != nil {
		kv = repository.NewRedisKV(client)
		log.Println("store: redis")
	} else {
		kv = repository.NewMemoryKV()
		log.Println("store: in-memory (redis unreachable)")
	}
	keys := repository.Keyspace(cfg.ScopePrefix)

	users := repository.NewUserRepo(kv, keys)
	tokens := repository.NewTokenRepo(kv, keys, cfg.SessionTTL, cfg.GracePeriod)
	rooms := repository.NewRoomRepo(kv, keys)

	// The broker fans events out across instances. A single instance
	// works fine on the in-process transport.
	var transport realtime.Transport
	if cfg.AMQPURL != "" {
		t, err := realtime.DialAMQP(cfg.AMQPURL)
		if err != nil {
			log.Fatalf("amqp: %v", err)
		}
		transport = t
		log.Println("transport: amqp")
	} else {
		transport = realtime.NewInProcTransport()
		log.Println("transport: in-process")
	}
	defer transport.Close()

	validator := auth.NewValidator(tokens, cfg.AdminUsername, cfg.GracePeriod)
	limiter := ratelimit.NewLimiter(kv, keys)
	publisher := realtime.NewPublisher(transport, users)
	gateway := realtime.NewGateway(transport, rooms, validator, cfg.JWTSecret)
	moderation := service.NewModeration(users, tokens, rooms, cfg.AdminUsername)

	e := echo.New()
	e.HideBanner = true
	router.Register(e, router.Handlers{
		Auth:            handler.NewAuthHandler(cfg, users, tokens, validator),
		Rooms:           handler.NewRoomHandler(rooms, publisher, cfg.AdminUsername),
		Admin:           handler.NewAdminHandler(moderation),
		Realtime:        handler.NewRealtimeHandler(rooms, gateway, cfg.JWTSecret),
		Validator:       validator,
		Limiter:         limiter,
		AdminRateLimit:  cfg.AdminRateLimit,
		AdminRateWindow: cfg.AdminRateWindow,
	})

	addr := ":" + cfg.Port
	go func() {
		log.Printf("listening on %s (env=%s)", addr, cfg.Env)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
