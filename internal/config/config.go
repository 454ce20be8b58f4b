// Package config loads the server settings from flags, with environment
// variables (optionally read from a .env file) taking precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type Config struct {
	ListenAddr string
	Verbose    bool

	Store            string
	PostgresDSN      string
	RunMigrations    bool
	LockTimeout      time.Duration
	RetryMaxAttempts int

	KafkaBrokers     []string
	KafkaTopicPrefix string
	PublishTimeout   time.Duration

	ShutdownTimeout time.Duration
}

// Load parses args (without the program name). When envFile exists its
// variables are added to the process environment without overriding ones
// already set; a missing file is not an error.
func Load(args []string, envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	return parse(args, os.Getenv)
}

func parse(args []string, getenv func(string) string) (Config, error) {
	flags := flag.NewFlagSet("referral-ledger", flag.ContinueOnError)

	listenAddrFlag := flags.String("listen-addr", ":8080", "HTTP listen address (or set LISTEN_ADDR env var)")
	verboseFlag := flags.Bool("verbose", false, "enable verbose (debug) logging (or set VERBOSE=true env var)")

	// Storage configuration
	storeFlag := flags.String("store", StoreMemory, "storage backend: memory or postgres (or set STORE env var)")
	postgresDSNFlag := flags.String("postgres-dsn", "", "Postgres connection string (or set POSTGRES_DSN env var)")
	migrateFlag := flags.Bool("postgres-migrate", true, "run goose migrations on startup (or set POSTGRES_RUN_MIGRATIONS env var)")
	lockTimeoutFlag := flags.Duration("lock-timeout", 5*time.Second, "maximum wait for row locks (or set LOCK_TIMEOUT env var)")
	retryFlag := flags.Int("retry-max-attempts", 3, "attempts for distributions hitting lock conflicts (or set RETRY_MAX_ATTEMPTS env var)")

	// Kafka configuration
	kafkaBrokersFlag := flags.StringSlice("kafka-brokers", nil, "Kafka brokers, comma separated; empty disables events (or set KAFKA_BROKERS env var)")
	kafkaTopicPrefixFlag := flags.String("kafka-topic-prefix", "referral-ledger.", "prefix of the event topics (or set KAFKA_TOPIC_PREFIX env var)")
	publishTimeoutFlag := flags.Duration("publish-timeout", 2*time.Second, "maximum wait for an event publish after commit (or set PUBLISH_TIMEOUT env var)")

	shutdownFlag := flags.Duration("shutdown-timeout", 10*time.Second, "grace period for in-flight requests on shutdown")

	if err := flags.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr:       *listenAddrFlag,
		Verbose:          *verboseFlag,
		Store:            *storeFlag,
		PostgresDSN:      *postgresDSNFlag,
		RunMigrations:    *migrateFlag,
		LockTimeout:      *lockTimeoutFlag,
		RetryMaxAttempts: *retryFlag,
		KafkaBrokers:     *kafkaBrokersFlag,
		KafkaTopicPrefix: *kafkaTopicPrefixFlag,
		PublishTimeout:   *publishTimeoutFlag,
		ShutdownTimeout:  *shutdownFlag,
	}

	// Override flags with environment variables if set
	if v := getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := getenv("VERBOSE"); v != "" {
		cfg.Verbose = v == "true" || v == "1"
	}
	if v := getenv("STORE"); v != "" {
		cfg.Store = v
	}
	if v := getenv("POSTGRES_DSN"); v != "" {
		cfg.PostgresDSN = v
	}
	if v := getenv("POSTGRES_RUN_MIGRATIONS"); v != "" {
		cfg.RunMigrations = v == "true" || v == "1"
	}
	if v := getenv("LOCK_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("LOCK_TIMEOUT: %w", err)
		}
		cfg.LockTimeout = d
	}
	if v := getenv("RETRY_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("RETRY_MAX_ATTEMPTS: %w", err)
		}
		cfg.RetryMaxAttempts = n
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = splitList(v)
	}
	if v := getenv("KAFKA_TOPIC_PREFIX"); v != "" {
		cfg.KafkaTopicPrefix = v
	}
	if v := getenv("PUBLISH_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("PUBLISH_TIMEOUT: %w", err)
		}
		cfg.PublishTimeout = d
	}

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("--postgres-dsn is required for --store=postgres")
		}
	default:
		return fmt.Errorf("unknown store %q, want %s or %s", c.Store, StoreMemory, StorePostgres)
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("lock timeout must be positive, got %s", c.LockTimeout)
	}
	if c.PublishTimeout <= 0 {
		return fmt.Errorf("publish timeout must be positive, got %s", c.PublishTimeout)
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be at least 1, got %d", c.RetryMaxAttempts)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
