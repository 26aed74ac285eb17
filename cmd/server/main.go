// Server entrypoint. Wires configuration, storage, the ledger client, and the
// HTTP surface together; business logic lives in the internal packages.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"wxpass/internal/admin"
	"wxpass/internal/events"
	gatewayhandler "wxpass/internal/gateway/handler"
	gatewayservice "wxpass/internal/gateway/service"
	jwttoken "wxpass/internal/jwt_token"
	"wxpass/internal/ledger"
	"wxpass/internal/platform/config"
	"wxpass/internal/platform/database"
	"wxpass/internal/platform/health"
	"wxpass/internal/platform/httpserver"
	"wxpass/internal/platform/kafka/producer"
	"wxpass/internal/platform/logger"
	"wxpass/internal/platform/metrics"
	platformredis "wxpass/internal/platform/redis"
	"wxpass/internal/provider"
	registryhandler "wxpass/internal/registry/handler"
	registryservice "wxpass/internal/registry/service"
	"wxpass/internal/registry/store/memory"
	"wxpass/internal/registry/store/postgres"
	"wxpass/internal/validator"
	"wxpass/migrations"
	"wxpass/pkg/domain"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()
	m := metrics.New()

	holdingAddr, err := parseAddress(cfg.HoldingAddress)
	if err != nil {
		log.Error("invalid HOLDING_ADDRESS", "error", err)
		os.Exit(1)
	}
	adminAddr, err := parseAddress(cfg.AdminAddress)
	if err != nil {
		log.Error("invalid ADMIN_ADDRESS", "error", err)
		os.Exit(1)
	}

	// Credential store: PostgreSQL when configured, in-memory otherwise.
	var store registryservice.Store
	dbCfg := database.DefaultConfig()
	dbCfg.URL = cfg.DatabaseURL
	pool, err := database.New(dbCfg)
	if err != nil {
		log.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	if pool != nil {
		defer pool.Close()
		if err := applyMigrations(pool.DB()); err != nil {
			log.Error("migrations failed", "error", err)
			os.Exit(1)
		}
		store = postgres.New(pool.DB())
		log.Info("using postgres credential store")
	} else {
		store = memory.New()
		log.Info("using in-memory credential store")
	}

	// Validator cache: Redis when configured, in-memory otherwise.
	var cache validator.Cache
	redisClient, err := platformredis.New(config.RedisFromEnv())
	if err != nil {
		log.Error("redis connection failed", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		cache = validator.NewRedisCache(redisClient)
		log.Info("using redis grant cache")
	} else {
		cache = validator.NewMemoryCache()
	}

	// Event stream: Kafka when configured, no-op otherwise.
	var publisher events.Publisher = events.Noop{}
	var kafkaProducer *producer.Producer
	if cfg.KafkaBrokers != "" {
		kafkaProducer, err = producer.New(producer.Config{
			Brokers:         cfg.KafkaBrokers,
			Retries:         3,
			DeliveryTimeout: 10 * time.Second,
		}, log)
		if err != nil {
			log.Error("kafka producer failed", "error", err)
			os.Exit(1)
		}
		defer kafkaProducer.Close()
		publisher = events.NewKafkaPublisher(kafkaProducer, cfg.EventTopic, log)
		log.Info("publishing events to kafka", "topic", cfg.EventTopic)
	}

	// Ledger collaborator. "memory" runs the simulated node for local dev.
	var node ledger.Node
	if cfg.LedgerURL == "memory" {
		node = ledger.NewMemoryNode(ledger.WithSettleDelay(2 * time.Second))
		log.Warn("using in-memory simulated ledger")
	} else {
		node = ledger.NewHTTPNode(cfg.LedgerURL, cfg.LedgerToken, cfg.LedgerRequestTimeout)
	}
	ledgerClient := ledger.NewClient(node, log, ledger.WithLatencyObserver(m.LedgerLatency))

	weatherProvider, err := provider.FromConfig(&cfg)
	if err != nil {
		log.Error("provider configuration invalid", "error", err)
		os.Exit(1)
	}
	log.Info("weather provider selected", "provider", weatherProvider.Name())

	registry := registryservice.New(store, ledgerClient, registryservice.Config{
		Price:          cfg.Price,
		Validity:       cfg.Validity,
		HoldingAddress: holdingAddr,
		AdminAddress:   adminAddr,
	}, publisher, m, log)

	checker := validator.New(
		validator.NewCredentialPolicy(registry),
		registry,
		cache,
		cfg.CacheTTL,
		m,
		log,
	)

	gateway := gatewayservice.New(checker, weatherProvider, publisher, m, log)

	tokens := jwttoken.NewJWTService(cfg.JWTSigningKey, "wxpass", cfg.AdminTokenTTL)
	adminService := admin.New(cfg.AdminKeyHash, adminAddr, tokens, log)

	healthHandler := health.New(cfg.Environment)
	healthHandler.RegisterCheck("ledger", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return ledgerClient.Health(ctx)
	})
	if pool != nil {
		healthHandler.RegisterCheck("database", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			return pool.Health(ctx)
		})
	}
	if redisClient != nil {
		healthHandler.RegisterCheck("redis", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			return redisClient.Health(ctx)
		})
	}
	if kafkaProducer != nil {
		healthHandler.RegisterCheck("kafka", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if !kafkaProducer.Healthy(ctx) {
				return fmt.Errorf("kafka broker unreachable")
			}
			return nil
		})
	}

	router := chi.NewRouter()
	healthHandler.Register(router)
	router.Handle("/metrics", promhttp.Handler())
	registryhandler.New(registry, log, m, jwttoken.NewJWTServiceAdapter(tokens)).Register(router)
	gatewayhandler.New(gateway, registry, log, m).Register(router)
	admin.NewHandler(adminService, log, m).Register(router)

	srv := httpserver.New(cfg.Addr, router)

	go func() {
		log.Info("server starting", "addr", cfg.Addr, "env", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
}

// parseAddress validates a configured address; empty stays empty so optional
// roles can be left unconfigured.
func parseAddress(s string) (domain.Address, error) {
	if s == "" {
		return "", nil
	}
	return domain.ParseAddress(s)
}

// applyMigrations runs the embedded schema files in lexical order.
func applyMigrations(db *sql.DB) error {
	names, err := fs.Glob(migrations.FS, "*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)

	for _, name := range names {
		raw, err := migrations.FS.ReadFile(name)
		if err != nil {
			return err
		}
		if _, err := db.Exec(string(raw)); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
	}
	return nil
}
