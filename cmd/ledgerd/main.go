package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/terminal-bench/paysplit/internal/auth"
	"github.com/terminal-bench/paysplit/internal/gateway"
	"github.com/terminal-bench/paysplit/internal/observer"
	"github.com/terminal-bench/paysplit/internal/payout"
	"github.com/terminal-bench/paysplit/internal/registry"
	"github.com/terminal-bench/paysplit/internal/stake"
	"github.com/terminal-bench/paysplit/pkg/messaging"
)

type Config struct {
	Port          string
	NATSUrl       string
	RedisURL      string
	EtcdEndpoints string

	LedgerAddress string
	Creator       string
	FixedSupply   uint64
	GracePeriod   time.Duration
	JWTSecret     string
	PublicURL     string
}

func loadConfig() *Config {
	supply, err := strconv.ParseUint(getEnv("FIXED_SUPPLY", "1000000"), 10, 64)
	if err != nil {
		log.Fatalf("Invalid FIXED_SUPPLY: %v", err)
	}

	grace, err := time.ParseDuration(getEnv("GRACE_PERIOD", "720h"))
	if err != nil {
		log.Fatalf("Invalid GRACE_PERIOD: %v", err)
	}

	return &Config{
		Port:          getEnv("PORT", "8080"),
		NATSUrl:       getEnv("NATS_URL", "nats://localhost:4222"),
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		EtcdEndpoints: getEnv("ETCD_ENDPOINTS", ""),
		LedgerAddress: getEnv("LEDGER_ADDRESS", "ledger-1"),
		Creator:       getEnv("CREATOR", ""),
		FixedSupply:   supply,
		GracePeriod:   grace,
		JWTSecret:     getEnv("JWT_SECRET", ""),
		PublicURL:     getEnv("PUBLIC_URL", "http://localhost:8080"),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func main() {
	cfg := loadConfig()
	if cfg.Creator == "" {
		log.Fatalf("CREATOR is required")
	}
	if cfg.JWTSecret == "" {
		log.Fatalf("JWT_SECRET is required")
	}

	// Connect to NATS
	msgClient, err := messaging.NewClient(messaging.Config{
		URL:            cfg.NATSUrl,
		Name:           "ledgerd-" + cfg.LedgerAddress,
		ReconnectWait:  time.Second,
		MaxReconnects:  60,
		ConnectTimeout: 10 * time.Second,
	})
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer msgClient.Close()

	payouts := payout.NewClient(payout.Config{})

	ledger, err := stake.New(stake.Config{
		Address:           cfg.LedgerAddress,
		Creator:           cfg.Creator,
		FixedSupply:       cfg.FixedSupply,
		GracePeriod:       cfg.GracePeriod,
		AcceptingDeposits: true,
		Payer:             payouts,
		Forwarder:         payouts,
		Assets:            payouts,
		Bus:               msgClient,
	})
	if err != nil {
		log.Fatalf("Failed to create ledger: %v", err)
	}

	// Remote-instance discovery is optional; without it PullFrom is off.
	var resolver payout.Resolver
	if cfg.EtcdEndpoints != "" {
		discovery, err := registry.NewDiscovery([]string{cfg.EtcdEndpoints}, 5*time.Second)
		if err != nil {
			log.Fatalf("Failed to connect to etcd: %v", err)
		}
		defer discovery.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := discovery.Announce(ctx, cfg.LedgerAddress, cfg.PublicURL); err != nil {
			cancel()
			log.Fatalf("Failed to announce instance: %v", err)
		}
		cancel()
		resolver = discovery
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
	defer rdb.Close()

	// Feed this instance's own events to websocket subscribers.
	hub := observer.NewHub()
	err = msgClient.Subscribe("ledger.>", func(msg *nats.Msg) {
		framed, err := json.Marshal(map[string]interface{}{
			"subject": msg.Subject,
			"data":    json.RawMessage(msg.Data),
		})
		if err != nil {
			log.Printf("Failed to frame event: %v", err)
			return
		}
		hub.Broadcast(framed)
	})
	if err != nil {
		log.Fatalf("Failed to subscribe to ledger events: %v", err)
	}

	gw := gateway.NewGateway(gateway.Config{
		RateLimitMax:    100,
		RateLimitWindow: time.Minute,
	}, gateway.Deps{
		Ledger:   ledger,
		Auth:     auth.NewService(nil, cfg.JWTSecret, 24*time.Hour),
		Cache:    gateway.NewCache(rdb, cfg.LedgerAddress, 5*time.Second),
		Hub:      hub,
		Payouts:  payouts,
		Resolver: resolver,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      gw.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		log.Printf("Ledger %s serving on port %s", cfg.LedgerAddress, cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down ledger...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Ledger stopped")
}
