package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/autosave/internal/api"
	"example.com/autosave/internal/auth"
	"example.com/autosave/internal/config"
	"example.com/autosave/internal/domain"
	"example.com/autosave/internal/outbox"
	persistence "example.com/autosave/internal/persistence/postgres"
	httptransport "example.com/autosave/internal/transport/http"
)

const dlqBatchSize = 50

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	repo := persistence.NewRepository(pool)

	var background sync.WaitGroup
	if len(cfg.KafkaBrokers) > 0 {
		producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
		defer producer.Close()

		registry := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
		dispatcher := outbox.NewDispatcher(pool, producer, registry, cfg.OutboxPollInterval, cfg.OutboxBatchSize)
		dlq := outbox.NewDLQManager(pool, cfg.DLQMaxRetries, cfg.DLQBaseDelay)

		background.Add(2)
		go func() {
			defer background.Done()
			dispatcher.Start(ctx)
		}()
		go func() {
			defer background.Done()
			dlq.Run(ctx, cfg.DLQPollInterval, dlqBatchSize)
		}()
	} else {
		log.Printf("KAFKA_BROKERS not set; outbox rows accumulate until a dispatcher runs")
	}

	handler := api.NewHandler(domain.NewService(repo))
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	requestLog := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("%s %s", r.Method, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer})

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, requestLog(authMiddleware.Wrap(mux)))

	signalCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("activity persistence service listening on %s", cfg.HTTPAddress)
	if err := server.Run(signalCtx); err != nil {
		log.Printf("server error: %v", err)
	}
	cancel()
	background.Wait()
}
