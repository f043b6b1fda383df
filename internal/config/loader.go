package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load builds the configuration. path names a TOML file; when empty,
// PRED_CONFIG is consulted, and without either only defaults and environment
// apply. A .env file in the working directory is loaded first if present and
// never overrides variables already set. The result is not validated.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()

	if path == "" {
		path = os.Getenv("PRED_CONFIG")
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides overwrites fields whose PRED_* variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Store ──
	setStr(&cfg.Store.Backend, "PRED_STORE_BACKEND")
	setStr(&cfg.Store.PostgresDSN, "PRED_POSTGRES_DSN")
	setStr(&cfg.Store.MigrationsDir, "PRED_MIGRATIONS_DIR")

	// ── NATS ──
	setBool(&cfg.NATS.Enabled, "PRED_NATS_ENABLED")
	setStr(&cfg.NATS.URL, "PRED_NATS_URL")
	setDuration(&cfg.NATS.OutboxPoll, "PRED_NATS_OUTBOX_POLL")
	setInt(&cfg.NATS.OutboxBatch, "PRED_NATS_OUTBOX_BATCH")

	// ── Server ──
	setStr(&cfg.Server.GRPCAddr, "PRED_GRPC_ADDR")
	setStr(&cfg.Server.HTTPAddr, "PRED_HTTP_ADDR")
	setStr(&cfg.Server.MetricsAddr, "PRED_METRICS_ADDR")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "PRED_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PRED_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PRED_REDIS_DB")

	// ── Scheduler ──
	setBool(&cfg.Scheduler.Enabled, "PRED_SCHEDULER_ENABLED")
	setStr(&cfg.Scheduler.Spec, "PRED_SCHEDULER_SPEC")
	setStr(&cfg.Scheduler.Operator, "PRED_OPERATOR")
	setStr(&cfg.Scheduler.LockKey, "PRED_SCHEDULER_LOCK_KEY")
	setDuration(&cfg.Scheduler.LockTTL, "PRED_SCHEDULER_LOCK_TTL")
	setDuration(&cfg.Scheduler.Timeout, "PRED_SCHEDULER_TIMEOUT")

	// ── Oracle ──
	setStr(&cfg.Oracle.Backend, "PRED_ORACLE_BACKEND")
	setStr(&cfg.Oracle.HermesURL, "PRED_HERMES_URL")
	setInt64(&cfg.Oracle.StaticPrice, "PRED_STATIC_PRICE")

	// ── Executor / persistence ──
	setInt(&cfg.Executor.LRUCapacity, "PRED_IDEMPOTENCY_LRU_CAPACITY")
	setInt(&cfg.Executor.QueueSize, "PRED_COMMAND_QUEUE_SIZE")
	setInt(&cfg.Persist.BatchSize, "PRED_PERSIST_BATCH_SIZE")
	setDuration(&cfg.Persist.FlushTimeout, "PRED_PERSIST_FLUSH_TIMEOUT")

	// ── Bootstrap ──
	setBool(&cfg.Bootstrap.Enabled, "PRED_BOOTSTRAP")
	setStr(&cfg.Bootstrap.Token, "PRED_BOOTSTRAP_TOKEN")
	setStr(&cfg.Bootstrap.AdminAddress, "PRED_BOOTSTRAP_ADMIN")
	setStr(&cfg.Bootstrap.OperatorAddress, "PRED_BOOTSTRAP_OPERATOR")
	setUint64(&cfg.Bootstrap.IntervalSeconds, "PRED_BOOTSTRAP_INTERVAL_SECONDS")
	setUint64(&cfg.Bootstrap.BufferSeconds, "PRED_BOOTSTRAP_BUFFER_SECONDS")
	setUint64(&cfg.Bootstrap.MinBetAmount, "PRED_BOOTSTRAP_MIN_BET_AMOUNT")
	setUint64(&cfg.Bootstrap.TreasuryFee, "PRED_BOOTSTRAP_TREASURY_FEE")
	setStr(&cfg.Bootstrap.OracleAddress, "PRED_BOOTSTRAP_ORACLE_ADDRESS")
	setStr(&cfg.Bootstrap.PriceFeedID, "PRED_BOOTSTRAP_PRICE_FEED_ID")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "PRED_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the variable is
// present, non-empty and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
