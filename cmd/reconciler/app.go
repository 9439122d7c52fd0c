package main

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"transaction-reconciler/internal/auth"
	"transaction-reconciler/internal/config"
	"transaction-reconciler/internal/database"
	"transaction-reconciler/internal/infrastructure/notify"
	"transaction-reconciler/internal/logger"
	"transaction-reconciler/internal/repo"
	"transaction-reconciler/internal/service"
)

// app holds everything the subcommands share.
type app struct {
	cfg          *config.Config
	log          *zap.Logger
	db           database.Service
	repos        repo.Repos
	producer     sarama.SyncProducer
	transactions service.TransactionService
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	db, err := database.Open(ctx, cfg.Database, log)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log, db: db, repos: repo.NewRepos(db.DB())}

	dispatchers := notify.Multi{notify.NewLog(log)}
	if cfg.Kafka.Enabled {
		a.producer, err = notify.NewSyncProducer(cfg.Kafka)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("kafka producer: %w", err)
		}
		dispatchers = append(dispatchers, notify.NewKafka(a.producer, cfg.Kafka.Topic, log))
	}

	completer := service.NewCheckoutCompleter(db.DB(), a.repos, log)
	a.transactions = service.NewTransactionService(db.DB(), a.repos, auth.GrantedChecker{}, dispatchers, completer, log)
	return a, nil
}

func (a *app) Close() {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.log.Warn("close kafka producer", zap.Error(err))
		}
	}
	if err := a.db.Close(); err != nil {
		a.log.Warn("close database", zap.Error(err))
	}
	_ = a.log.Sync()
}
