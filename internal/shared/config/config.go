package config

import (
	"os"
	"strconv"
	"time"

	ctopics "github.com/radieske/lottery-watcher/pkg/contracts/topics"
)

// Config centraliza variáveis de ambiente e parâmetros de execução do watcher:
// endpoint RPC, contrato, cadências de poll e integrações opcionais.
type Config struct {
	Env         string // "local", "dev", "prod"
	ServiceName string

	// Ledger
	RPCURL          string
	ContractAddress string
	OperatorKey     string // chave hex do operador; vazia = sem settlement
	GasLimit        uint64

	// Cadências / limites do syncer
	RoundPollInterval  time.Duration
	ConfigPollInterval time.Duration
	LogPollInterval    time.Duration
	CallTimeout        time.Duration
	LookbackBlocks     uint64
	DedupCap           int

	// Settler
	SettleWakeInterval time.Duration
	SubmitTimeout      time.Duration
	AwaitTimeout       time.Duration

	// Capacidades do store
	HistoryCap  int
	ActivityCap int

	// Integrações opcionais (vazio = desligado)
	RedisAddr     string
	KafkaBrokers  string // "a:9092,b:9092"
	TopicActivity string

	MetricsPort string // porta exclusiva pra /metrics e /healthz
}

// Load carrega variáveis de ambiente e aplica defaults.
func Load() Config {
	return Config{
		Env:         getEnv("ENV", "local"),
		ServiceName: getEnv("SERVICE_NAME", "lottery-watcher"),

		RPCURL:          getEnv("RPC_URL", "http://localhost:8545"),
		ContractAddress: getEnv("LOTTERY_CONTRACT_ADDRESS", ""),
		OperatorKey:     getEnv("OPERATOR_PRIVATE_KEY", ""),
		GasLimit:        getUint("GAS_LIMIT", 300_000),

		RoundPollInterval:  getDuration("ROUND_POLL_INTERVAL", 2*time.Second),
		ConfigPollInterval: getDuration("CONFIG_POLL_INTERVAL", 15*time.Second),
		LogPollInterval:    getDuration("LOG_POLL_INTERVAL", 2*time.Second),
		CallTimeout:        getDuration("RPC_CALL_TIMEOUT", 5*time.Second),
		LookbackBlocks:     getUint("LOG_LOOKBACK_BLOCKS", 1000),
		DedupCap:           getInt("LOG_DEDUP_CAP", 4096),

		SettleWakeInterval: getDuration("SETTLE_WAKE_INTERVAL", 10*time.Second),
		SubmitTimeout:      getDuration("SETTLE_SUBMIT_TIMEOUT", 15*time.Second),
		AwaitTimeout:       getDuration("SETTLE_AWAIT_TIMEOUT", 90*time.Second),

		HistoryCap:  getInt("HISTORY_CAP", 10),
		ActivityCap: getInt("ACTIVITY_CAP", 50),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		KafkaBrokers:  getEnv("KAFKA_BROKERS", ""),
		TopicActivity: getEnv("KAFKA_TOPIC_ACTIVITY", ctopics.LotteryActivity),

		MetricsPort: getEnv("METRICS_PORT", "9095"),
	}
}

// getEnv retorna o valor da variável de ambiente ou o default
func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getUint(key string, def uint64) uint64 {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}
