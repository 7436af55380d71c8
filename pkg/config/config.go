package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App     AppConfig
	Service ServiceConfig
	DB      DBConfig
	Redis   RedisConfig
	Bitcoin BitcoinConfig
	Signer  SignerConfig
	Feerate FeerateConfig
	Jobs    JobsConfig
	GCP     GCPConfig
	PubSub  PubSubConfig
	Outbox  OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"BRIA_APP_ENV" required:"true"`
	Port         string `envconfig:"BRIA_APP_PORT" default:"2743"`
	LogLevel     string `envconfig:"BRIA_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"BRIA_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"BRIA_SERVICE_KIND" default:"job-worker"`
}

type DBConfig struct {
	DSN    string `envconfig:"BRIA_PG_DSN"`
	Driver string `envconfig:"BRIA_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"BRIA_DB_HOST"`
	Port     int    `envconfig:"BRIA_DB_PORT" default:"5432"`
	User     string `envconfig:"BRIA_DB_USER"`
	Password string `envconfig:"BRIA_DB_PASSWORD"`
	Name     string `envconfig:"BRIA_DB_NAME"`
	SSLMode  string `envconfig:"BRIA_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"BRIA_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"BRIA_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"BRIA_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"BRIA_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"BRIA_REDIS_URL" required:"true"`
	Address      string        `envconfig:"BRIA_REDIS_ADDR"`
	Password     string        `envconfig:"BRIA_REDIS_PASSWORD"`
	DB           int           `envconfig:"BRIA_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"BRIA_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"BRIA_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"BRIA_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"BRIA_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"BRIA_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// BitcoinConfig points at the bitcoind node used for broadcasting.
type BitcoinConfig struct {
	Network     string        `envconfig:"BRIA_BITCOIN_NETWORK" default:"regtest"`
	RPCHost     string        `envconfig:"BRIA_BITCOIND_RPC_HOST" default:"localhost:18443"`
	RPCUser     string        `envconfig:"BRIA_BITCOIND_RPC_USER"`
	RPCPassword string        `envconfig:"BRIA_BITCOIND_RPC_PASSWORD"`
	RPCTimeout  time.Duration `envconfig:"BRIA_BITCOIND_RPC_TIMEOUT" default:"30s"`
}

// SignerConfig selects the signing backend per deployment.
type SignerConfig struct {
	Backend      string        `envconfig:"BRIA_SIGNER_BACKEND" default:"remote"`
	Endpoint     string        `envconfig:"BRIA_SIGNER_ENDPOINT"`
	SharedSecret string        `envconfig:"BRIA_SIGNER_SHARED_SECRET"`
	CallTimeout  time.Duration `envconfig:"BRIA_SIGNER_CALL_TIMEOUT" default:"45s"`
	KeyHex       string        `envconfig:"BRIA_SIGNER_KEY_HEX"`

	// Fingerprint keys the signing session for backends that do not report
	// their own master key fingerprint.
	Fingerprint string `envconfig:"BRIA_SIGNER_FINGERPRINT"`
}

type FeerateConfig struct {
	MempoolURL           string        `envconfig:"BRIA_MEMPOOL_URL" default:"https://mempool.space/api/v1/fees/recommended"`
	Timeout              time.Duration `envconfig:"BRIA_MEMPOOL_TIMEOUT" default:"10s"`
	FallbackSatsPerVByte uint64        `envconfig:"BRIA_FEERATE_FALLBACK" default:"10"`
}

type JobsConfig struct {
	PollInterval time.Duration `envconfig:"BRIA_JOBS_POLL_INTERVAL" default:"5s"`
	RetryBackoff time.Duration `envconfig:"BRIA_JOBS_RETRY_BACKOFF" default:"20s"`
	MaxAttempts  int           `envconfig:"BRIA_JOBS_MAX_ATTEMPTS" default:"20"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"BRIA_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	TreasuryTopic        string `envconfig:"BRIA_PUBSUB_TREASURY_TOPIC" default:"bria-treasury-events"`
	TreasurySubscription string `envconfig:"BRIA_PUBSUB_TREASURY_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"BRIA_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"BRIA_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"BRIA_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range requiredDBEnvVars {
		if values[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
