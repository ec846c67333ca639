package main

import (
	"context"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/radieske/lottery-watcher/internal/lottery-watcher/broadcast"
	"github.com/radieske/lottery-watcher/internal/lottery-watcher/chain"
	"github.com/radieske/lottery-watcher/internal/lottery-watcher/model"
	"github.com/radieske/lottery-watcher/internal/lottery-watcher/producer"
	"github.com/radieske/lottery-watcher/internal/lottery-watcher/settler"
	"github.com/radieske/lottery-watcher/internal/lottery-watcher/state"
	"github.com/radieske/lottery-watcher/internal/lottery-watcher/syncer"
	sharedcache "github.com/radieske/lottery-watcher/internal/shared/cache"
	"github.com/radieske/lottery-watcher/internal/shared/config"
	sharedkafka "github.com/radieske/lottery-watcher/internal/shared/kafka"
	"github.com/radieske/lottery-watcher/internal/shared/logger"
	"github.com/radieske/lottery-watcher/internal/shared/metrics"
)

func main() {
	cfg := config.Load()
	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Client do contrato da loteria (leituras + settlement)
	dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
	ledger, err := chain.Dial(dialCtx, cfg.RPCURL, cfg.ContractAddress, cfg.OperatorKey, cfg.GasLimit, log)
	dialCancel()
	if err != nil {
		log.Fatal("ledger dial", zap.Error(err))
	}
	defer ledger.Close()

	store := state.New(log, cfg.HistoryCap, cfg.ActivityCap)

	// Métricas Prometheus pra acompanhar poll, eventos e settlement
	cycles := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "watcher_sync_cycles_total", Help: "ciclos de poll concluídos por loop"}, []string{"loop"})
	errorsBy := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "watcher_sync_errors_total", Help: "erros por estágio"}, []string{"stage"})
	activityEvents := prometheus.NewCounter(prometheus.CounterOpts{Name: "watcher_activity_events_total", Help: "eventos inéditos do contrato"})
	settleAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "watcher_settle_attempts_total", Help: "submissões de settlement por ação"}, []string{"action"})
	settleResults := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "watcher_settle_results_total", Help: "resultado das submissões"}, []string{"action", "outcome"})
	prometheus.MustRegister(cycles, errorsBy, activityEvents, settleAttempts, settleResults)

	// Broadcast Redis opcional: cada publish do store vira PUBLISH num canal
	if cfg.RedisAddr != "" {
		redisClient, err := sharedcache.ConnectRedis(cfg.RedisAddr)
		if err != nil {
			log.Fatal("redis connect", zap.Error(err))
		}
		defer redisClient.Close()

		detach := broadcast.NewRedisBroadcaster(redisClient, log).Attach(store)
		defer detach()
		log.Info("redis broadcast enabled", zap.String("addr", cfg.RedisAddr))
	}

	// Producer Kafka opcional pro feed de atividade
	var activitySink func(model.ActivityEntry)
	if cfg.KafkaBrokers != "" {
		writer := sharedkafka.NewWriter(cfg.KafkaBrokers, cfg.TopicActivity)
		defer writer.Close()
		prod := producer.NewActivityProducer(writer)

		activitySink = func(entry model.ActivityEntry) {
			pubCtx, pubCancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
			defer pubCancel()
			if err := prod.PublishActivity(pubCtx, entry); err != nil {
				log.Warn("activity publish failed", zap.Error(err))
			}
		}
		log.Info("kafka activity producer enabled", zap.String("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.TopicActivity))
	}

	engine := &syncer.Engine{
		Log:            log,
		Ledger:         ledger,
		Store:          store,
		RoundInterval:  cfg.RoundPollInterval,
		ConfigInterval: cfg.ConfigPollInterval,
		LogInterval:    cfg.LogPollInterval,
		CallTimeout:    cfg.CallTimeout,
		Lookback:       cfg.LookbackBlocks,
		DedupCap:       cfg.DedupCap,
		OnCycle:        func(loop string) { cycles.WithLabelValues(loop).Inc() },
		OnError:        func(stage string) { errorsBy.WithLabelValues(stage).Inc() },
		OnActivity: func(entry model.ActivityEntry) {
			activityEvents.Inc()
			if activitySink != nil {
				activitySink(entry)
			}
		},
	}

	settle := &settler.Settler{
		Log:           log,
		Ledger:        ledger,
		Store:         store,
		WakeInterval:  cfg.SettleWakeInterval,
		SubmitTimeout: cfg.SubmitTimeout,
		AwaitTimeout:  cfg.AwaitTimeout,
		OnAttempt:     func(action string) { settleAttempts.WithLabelValues(action).Inc() },
		OnResult:      func(action, outcome string) { settleResults.WithLabelValues(action, outcome).Inc() },
	}

	// Saúde = RPC alcançável
	metricsSrv := metrics.StartMetricsServer(cfg.MetricsPort, func(ctx context.Context) error {
		_, err := ledger.LatestBlock(ctx)
		return err
	})
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer shutdownCancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()
	log.Info("metrics/health listening", zap.String("port", cfg.MetricsPort))

	// Primeiro ciclo síncrono deixa o store quente antes dos loops
	engine.Bootstrap(ctx)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		engine.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		settle.Run(ctx)
	}()

	log.Info("lottery-watcher started",
		zap.String("contract", cfg.ContractAddress),
		zap.Duration("round_poll", cfg.RoundPollInterval))
	wg.Wait()
	log.Info("lottery-watcher stopped")
}
