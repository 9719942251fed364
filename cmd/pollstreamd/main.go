package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pollstream/internal/api"
	"pollstream/internal/config"
	"pollstream/internal/ingest/kafka"
	"pollstream/internal/live"
	"pollstream/internal/storage/sqlite"
)

func main() {
	cfgPath := flag.String("config", "pollstream.yaml", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("pollstreamd exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	store, err := sqlite.NewStore(cfg.Storage.Dir)
	if err != nil {
		return err
	}
	defer store.Close()

	// Topic provisioning is the only fatal log interaction: if the broker
	// is unreachable at startup the process must not come up half-wired.
	if err := kafka.EnsureTopics(ctx, cfg.Kafka.Brokers, cfg.Kafka.ClientID,
		kafka.TopicSpec{Name: cfg.Kafka.VotesTopic, Partitions: cfg.Kafka.VotesPartitions},
		kafka.TopicSpec{Name: cfg.Kafka.ResultsTopic, Partitions: cfg.Kafka.ResultsPartitions},
	); err != nil {
		return err
	}

	producer, err := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:  cfg.Kafka.Brokers,
		ClientID: cfg.Kafka.ClientID,
		Topic:    cfg.Kafka.VotesTopic,
	})
	if err != nil {
		return err
	}
	defer producer.Close()

	registry := live.NewRegistry()
	hub := live.NewHub(registry, store, cfg.Leaderboard.Size, logger)

	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:    cfg.Kafka.Brokers,
		Topic:      cfg.Kafka.VotesTopic,
		GroupID:    cfg.Kafka.GroupID,
		ClientID:   cfg.Kafka.ClientID,
		Partitions: int(cfg.Kafka.VotesPartitions),
	}, store, hub, logger)
	if err != nil {
		return err
	}

	consumerErr := make(chan error, 1)
	go func() { consumerErr <- consumer.Start(ctx) }()

	mux := http.NewServeMux()
	mux.Handle("/ws", live.Handler(registry, logger))
	mux.Handle("/", api.NewServer(store, producer, cfg.Leaderboard.Size, logger).Routes())

	srv := &http.Server{Addr: cfg.Server.ListenAddr, Handler: mux}
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.ListenAndServe() }()
	logger.Info("pollstreamd listening", "addr", cfg.Server.ListenAddr, "votes_topic", cfg.Kafka.VotesTopic)

	select {
	case <-ctx.Done():
	case err := <-consumerErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	case err := <-serveErr:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	// The consumer drains in-flight applies before closing its client.
	if err := <-consumerErr; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
